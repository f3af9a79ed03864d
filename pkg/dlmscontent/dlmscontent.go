// Package dlmscontent decodes a DLMS data-notification payload (after
// HDLC reassembly and optional GCM decryption) into (OBIS, value, unit)
// triples, using a chain of vendor payload-shape recognizers.
package dlmscontent

import (
	"encoding/binary"
	"fmt"

	"github.com/p1decoder/p1core/pkg/cosem"
	"github.com/p1decoder/p1core/pkg/dlmsdata"
	"github.com/p1decoder/p1core/pkg/obis"
	"github.com/p1decoder/p1core/pkg/record"
)

// MessageTypeDataNotification is the only DLMS message type this module
// understands.
const MessageTypeDataNotification = 0x0F

// UnknownMessageTypeError is returned when the first payload byte isn't
// MessageTypeDataNotification.
type UnknownMessageTypeError struct {
	Got byte
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("dlmscontent: unknown message type 0x%02X", e.Got)
}

// Triple is one decoded (OBIS, value, unit) data point, normalized from
// whichever payload-shape recognizer produced it.
type Triple struct {
	Code             obis.Code
	HasNumber        bool
	Number           float64
	Str              string
	Unit             string
	UseDefaultScalar bool
}

// Result is the fully decoded data-notification payload.
type Result struct {
	InvokeID    uint32
	Timestamp   []byte
	Triples     []Triple
	PayloadType string // the name of the recognizer that matched, or "".
}

// Decode parses one data-notification payload: message type, invoke id,
// timestamp, then one DLMS TLV tree, which it hands to the recognizer
// chain.
func Decode(buf []byte) (Result, error) {
	if len(buf) < 1 {
		return Result{}, fmt.Errorf("dlmscontent: empty payload")
	}
	if buf[0] != MessageTypeDataNotification {
		return Result{}, &UnknownMessageTypeError{Got: buf[0]}
	}
	if len(buf) < 6 {
		return Result{}, fmt.Errorf("dlmscontent: truncated header")
	}
	invokeID := binary.BigEndian.Uint32(buf[1:5])
	tsLen := int(buf[5])
	if len(buf) < 6+tsLen {
		return Result{}, fmt.Errorf("dlmscontent: truncated timestamp")
	}
	var timestamp []byte
	if tsLen > 0 {
		timestamp = buf[6 : 6+tsLen]
	}

	tree, _, err := dlmsdata.Decode(buf[6+tsLen:])
	if err != nil {
		return Result{}, fmt.Errorf("dlmscontent: decoding data tree: %w", err)
	}

	triples, payloadType := Recognize(tree)
	return Result{InvokeID: invokeID, Timestamp: timestamp, Triples: triples, PayloadType: payloadType}, nil
}

// Apply decodes buf and dispatches every triple through reg, filling
// reading.DLMS with provenance and diagnostics. It never fails on a
// body-decode problem: unmatched triples are recorded in
// reading.DLMS.UnknownObjects, per spec.md §7.
func Apply(reg *cosem.Registry, reading *record.Reading, buf []byte) error {
	res, err := Decode(buf)
	if err != nil {
		return err
	}
	reading.DLMS = &record.DLMSProvenance{
		InvokeID:    res.InvokeID,
		Timestamp:   res.Timestamp,
		PayloadType: res.PayloadType,
	}
	for _, tr := range res.Triples {
		var matched bool
		if tr.HasNumber {
			matched = reg.DispatchDLMSValue(reading, tr.Code, tr.Number, tr.Unit, tr.UseDefaultScalar)
		} else {
			matched = reg.DispatchDLMSString(reading, tr.Code, []byte(tr.Str))
		}
		if !matched {
			reading.DLMS.UnknownObjects = append(reading.DLMS.UnknownObjects, prettyTriple(tr))
		}
	}
	return nil
}

func prettyTriple(tr Triple) string {
	if tr.HasNumber {
		return fmt.Sprintf("%s = %v %s", tr.Code.String(), tr.Number, tr.Unit)
	}
	return fmt.Sprintf("%s = %q", tr.Code.String(), tr.Str)
}

// valueOf converts a decoded dlmsdata.Value into a Triple's generic
// value fields: integer-tagged values become a number, octet_string/
// string values become Str.
func valueOf(v dlmsdata.Value) (number float64, hasNumber bool, str string) {
	switch v.Tag {
	case dlmsdata.TagOctetString, dlmsdata.TagString:
		return 0, false, v.AsString()
	case dlmsdata.TagU8, dlmsdata.TagU16, dlmsdata.TagU32,
		dlmsdata.TagI8, dlmsdata.TagI16, dlmsdata.TagI32, dlmsdata.TagEnum:
		return float64(v.Int), true, ""
	default:
		return 0, false, ""
	}
}

func obisFromItem(v dlmsdata.Value) (obis.Code, bool) {
	if v.Tag != dlmsdata.TagOctetString || len(v.Bytes) != 6 {
		return obis.Code{}, false
	}
	code, err := obis.ParseFromBuffer(v.Bytes)
	if err != nil {
		return obis.Code{}, false
	}
	return code, true
}
