// Package obis implements the OBIS code model used to key COSEM objects:
// a 6-field identifier parsed from the ASCII "A-B:C.D.E" form or from 6
// raw bytes, with wildcard-aware equality for dispatch.
package obis

import (
	"fmt"
	"strconv"
	"strings"
)

// Wildcard marks a field that matches anything during Equal.
const Wildcard = -1

// Code is a 6-field OBIS identifier: media, channel, physical, type,
// processing, history. Fields hold -1 (Wildcard) only when parsed from a
// wildcard string; values parsed from bytes or non-wildcard strings are
// always 0-255.
type Code struct {
	Media      int
	Channel    int
	Physical   int
	Type       int
	Processing int
	History    int
}

// New builds a non-wildcard code, setting History to 0xFF (don't-care)
// as ASCII-parsed codes do.
func New(media, channel, physical, typ, processing int) Code {
	return Code{Media: media, Channel: channel, Physical: physical, Type: typ, Processing: processing, History: 0xFF}
}

// Parse parses the ASCII form "A-B:C.D.E", e.g. "1-0:1.8.1". Each of the
// five fields must be an integer 0-255, or "*" for a wildcard. The
// resulting code's History is always 0xFF (don't-care): the ASCII form
// never carries a history byte.
func Parse(s string) (Code, error) {
	dash := strings.IndexByte(s, '-')
	colon := strings.IndexByte(s, ':')
	if dash < 0 || colon < 0 || colon < dash {
		return Code{}, fmt.Errorf("obis: malformed code %q", s)
	}
	media, err := parseField(s[:dash])
	if err != nil {
		return Code{}, fmt.Errorf("obis: media field in %q: %w", s, err)
	}
	channel, err := parseField(s[dash+1 : colon])
	if err != nil {
		return Code{}, fmt.Errorf("obis: channel field in %q: %w", s, err)
	}
	rest := strings.Split(s[colon+1:], ".")
	if len(rest) != 3 {
		return Code{}, fmt.Errorf("obis: malformed code %q", s)
	}
	physical, err := parseField(rest[0])
	if err != nil {
		return Code{}, fmt.Errorf("obis: physical field in %q: %w", s, err)
	}
	typ, err := parseField(rest[1])
	if err != nil {
		return Code{}, fmt.Errorf("obis: type field in %q: %w", s, err)
	}
	processing, err := parseField(rest[2])
	if err != nil {
		return Code{}, fmt.Errorf("obis: processing field in %q: %w", s, err)
	}
	return Code{
		Media:      media,
		Channel:    channel,
		Physical:   physical,
		Type:       typ,
		Processing: processing,
		History:    0xFF,
	}, nil
}

func parseField(s string) (int, error) {
	if s == "*" {
		return Wildcard, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("out of range 0-255: %q", s)
	}
	return n, nil
}

// ParseFromBuffer requires exactly 6 raw bytes and returns all six fields
// as-is, including the history byte.
func ParseFromBuffer(b []byte) (Code, error) {
	if len(b) != 6 {
		return Code{}, fmt.Errorf("obis: ParseFromBuffer needs exactly 6 bytes, got %d", len(b))
	}
	return Code{
		Media:      int(b[0]),
		Channel:    int(b[1]),
		Physical:   int(b[2]),
		Type:       int(b[3]),
		Processing: int(b[4]),
		History:    int(b[5]),
	}, nil
}

// Equal compares two codes field-wise, treating Wildcard (on either side)
// as matching anything. This is only meaningful for the COSEM dispatcher
// matching a registered pattern against a parsed code. Media, Channel,
// Physical, Type and Processing are genuine 0-255 identifiers (255 is a
// real, non-wildcard value for them); only History also treats 0xFF as
// don't-care, since that's the byte DLMS itself uses to mean "any
// history" and the ASCII form implicitly carries.
func (c Code) Equal(other Code) bool {
	return fieldEqual(c.Media, other.Media) &&
		fieldEqual(c.Channel, other.Channel) &&
		fieldEqual(c.Physical, other.Physical) &&
		fieldEqual(c.Type, other.Type) &&
		fieldEqual(c.Processing, other.Processing) &&
		historyEqual(c.History, other.History)
}

// dontCare is the 0xFF history byte DLMS uses to mean "any history" and
// the ASCII form implicitly carries. Spec §3 treats it the same as an
// explicit "*" for equality purposes, but only for History - the other
// five fields are legitimate identifiers that may genuinely be 255.
const dontCare = 0xFF

func fieldEqual(a, b int) bool {
	return a == Wildcard || b == Wildcard || a == b
}

func historyEqual(a, b int) bool {
	return a == Wildcard || b == Wildcard || a == dontCare || b == dontCare || a == b
}

// String renders the code in its ASCII form, using "*" for wildcard
// fields and omitting the history field when it is 0xFF (don't-care).
func (c Code) String() string {
	var sb strings.Builder
	writeField(&sb, c.Media)
	sb.WriteByte('-')
	writeField(&sb, c.Channel)
	sb.WriteByte(':')
	writeField(&sb, c.Physical)
	sb.WriteByte('.')
	writeField(&sb, c.Type)
	sb.WriteByte('.')
	writeField(&sb, c.Processing)
	if c.History != 0xFF {
		sb.WriteByte('.')
		writeField(&sb, c.History)
	}
	return sb.String()
}

func writeField(sb *strings.Builder, v int) {
	if v == Wildcard {
		sb.WriteByte('*')
		return
	}
	sb.WriteString(strconv.Itoa(v))
}
