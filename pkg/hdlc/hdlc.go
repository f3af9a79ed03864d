// Package hdlc decodes the 0x7E-delimited HDLC frame-type-3 framing DLMS
// payloads travel over on Nordic P1 ports: variable-length addressing,
// header/footer CRC-16/IBM-SDLC validation and segmentation across
// multiple HDLC frames.
package hdlc

import (
	"encoding/binary"
	"fmt"

	"github.com/p1decoder/p1core/pkg/crc"
)

// SOF and EOF are both the HDLC flag byte 0x7E.
const FlagByte = 0x7E

const (
	formatTypeMask  = 0xF0
	formatType3     = 0xA0
	segmentationBit = 0x08
	lengthHighMask  = 0x07
)

// DecodeError reports a malformed HDLC header, address or length field.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "hdlc: decode error: " + e.Reason }

// Frame is one decoded HDLC frame (between SOF and EOF).
type Frame struct {
	Segmented   bool
	DestAddr    []byte
	SrcAddr     []byte
	Control     byte
	HeaderCRC   uint16
	HeaderValid bool
	Payload     []byte
	FooterCRC   uint16
	FooterValid bool
	// TotalLen is the number of bytes this frame occupied in the input,
	// including both flag bytes, so the caller can advance its cursor.
	TotalLen int
}

// Decode decodes one HDLC frame starting at buf[0], which must be
// FlagByte. It returns the decoded frame, whose TotalLen is the number
// of input bytes it consumed. If buf does not yet contain a complete
// frame, it returns ErrIncomplete (itself a *DecodeError); callers
// distinguish "need more data" from "malformed" by checking for
// ErrIncomplete.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 2 || buf[0] != FlagByte {
		return Frame{}, &DecodeError{Reason: "missing start-of-frame 0x7E"}
	}
	if len(buf) < 14 {
		return Frame{}, ErrIncomplete
	}

	formatHi := buf[1]
	formatLo := buf[2]
	if formatHi&formatTypeMask != formatType3 {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("unexpected format type nibble 0x%X", formatHi&formatTypeMask)}
	}
	segmented := formatHi&segmentationBit != 0
	frameLength := (int(formatHi&lengthHighMask) << 8) | int(formatLo)
	// frameLength excludes the two flag bytes.
	total := frameLength + 2
	if len(buf) < total {
		return Frame{}, ErrIncomplete
	}

	pos := 3
	destAddr, n, err := decodeAddress(buf[pos:])
	if err != nil {
		return Frame{}, err
	}
	pos += n

	srcAddr, n, err := decodeAddress(buf[pos:])
	if err != nil {
		return Frame{}, err
	}
	pos += n

	if pos >= len(buf) {
		return Frame{}, ErrIncomplete
	}
	control := buf[pos]
	pos++

	if pos+2 > len(buf) {
		return Frame{}, ErrIncomplete
	}
	headerCRC := binary.LittleEndian.Uint16(buf[pos : pos+2])
	// Header CRC covers header bytes from byte 1 (the format byte,
	// following the opening flag) through the byte before the CRC.
	headerCRCComputed := crc.IBMSDLC.Checksum(buf[1:pos])
	headerCRCValid := headerCRCComputed == headerCRC
	pos += 2

	footerStart := total - 3 // 2 footer CRC bytes + 1 closing flag
	if footerStart < pos {
		return Frame{}, &DecodeError{Reason: "frame too short for header + footer"}
	}
	payload := buf[pos:footerStart]

	if footerStart+2 > len(buf) {
		return Frame{}, ErrIncomplete
	}
	footerCRC := binary.LittleEndian.Uint16(buf[footerStart : footerStart+2])
	footerCRCComputed := crc.IBMSDLC.Checksum(buf[1:footerStart])
	footerCRCValid := footerCRCComputed == footerCRC

	if buf[total-1] != FlagByte {
		return Frame{}, &DecodeError{Reason: "missing end-of-frame 0x7E"}
	}

	return Frame{
		Segmented:   segmented,
		DestAddr:    destAddr,
		SrcAddr:     srcAddr,
		Control:     control,
		HeaderCRC:   headerCRC,
		HeaderValid: headerCRCValid,
		Payload:     payload,
		FooterCRC:   footerCRC,
		FooterValid: footerCRCValid,
		TotalLen:    total,
	}, nil
}

// ErrIncomplete indicates the buffer doesn't yet hold a complete frame.
var ErrIncomplete = &DecodeError{Reason: "incomplete frame, need more data"}

// decodeAddress decodes one HDLC variable-length address: each byte
// contributes its upper 7 bits, with the LSB set marking the last byte.
// Capped at 4 bytes.
func decodeAddress(buf []byte) (addr []byte, consumed int, err error) {
	for i := 0; i < 4; i++ {
		if i >= len(buf) {
			return nil, 0, ErrIncomplete
		}
		b := buf[i]
		addr = append(addr, b)
		consumed++
		if b&0x01 == 1 {
			return addr, consumed, nil
		}
	}
	return nil, 0, &DecodeError{Reason: "address field exceeds 4 bytes"}
}

// LLCHeader is the fixed 3-byte LLC prefix expected at the start of the
// reassembled HDLC payload (first fragment only).
var LLCHeader = [3]byte{0xE6, 0xE7, 0x00}

// StripLLC validates and removes the fixed LLC header from payload.
func StripLLC(payload []byte) ([]byte, error) {
	if len(payload) < 3 || payload[0] != LLCHeader[0] || payload[1] != LLCHeader[1] || payload[2] != LLCHeader[2] {
		return nil, fmt.Errorf("hdlc: missing or malformed LLC header")
	}
	return payload[3:], nil
}
