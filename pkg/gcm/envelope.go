// Package gcm decodes and decrypts the AES-128-GCM envelope the P1 port
// uses to wrap DSMR and DLMS payloads: a fixed-shape header (system
// title, frame counter, length, security byte), ciphertext and a
// trailing GCM tag.
package gcm

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed 18-byte envelope header.
	HeaderSize = 18
	// TagSize is the trailing GCM authentication tag length.
	TagSize = 12

	tagByte          = 0xDB
	systemTitleLen   = 8
	lengthPrefixByte = 0x82

	// SecurityAuthEnc is the security byte for authenticated+encrypted
	// content; SecurityEncOnly is encrypted-only (no AAD check expected).
	SecurityAuthEnc byte = 0x30
	SecurityEncOnly byte = 0x20
)

// DecodeError is returned for malformed envelope headers/footers.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "gcm: decode error: " + e.Reason }

// DecryptionError is returned when the GCM tag fails to verify or cipher
// setup fails. Per spec.md §4.4, the plaintext from the update phase is
// still produced even when this error is returned, so callers can try
// downstream parsing as a practical mitigation for meters that send AAD
// off-spec.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string { return "gcm: decryption error: " + e.Reason }

// Header is the decoded fixed-shape envelope header.
type Header struct {
	SystemTitle        [8]byte
	FrameCounter       [4]byte
	SecurityByte       byte
	PlaintextContentLen int
	// HeaderLen is the number of bytes the header occupied (always
	// HeaderSize for this envelope shape).
	HeaderLen int
}

// DecodeHeader decodes the 18-byte envelope header from the start of
// buf. buf must be at least HeaderSize bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("need %d header bytes, have %d", HeaderSize, len(buf))}
	}
	if buf[0] != tagByte {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("expected tag byte 0x%02X, got 0x%02X", tagByte, buf[0])}
	}
	if buf[1] != systemTitleLen {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("expected system title length 0x%02X, got 0x%02X", systemTitleLen, buf[1])}
	}
	var h Header
	copy(h.SystemTitle[:], buf[2:10])
	if buf[10] != lengthPrefixByte {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("expected length prefix 0x%02X, got 0x%02X", lengthPrefixByte, buf[10])}
	}
	length := binary.BigEndian.Uint16(buf[11:13])
	// content_length = length + 1 - 18, the off-by-one the Luxembourg
	// field encoding carries (spec.md §9 Open Questions).
	h.PlaintextContentLen = int(length) + 1 - HeaderSize
	if h.PlaintextContentLen < 0 {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("negative content length derived from length field %d", length)}
	}
	h.SecurityByte = buf[13]
	if h.SecurityByte != SecurityAuthEnc && h.SecurityByte != SecurityEncOnly {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("unexpected security byte 0x%02X", h.SecurityByte)}
	}
	copy(h.FrameCounter[:], buf[14:18])
	h.HeaderLen = HeaderSize
	return h, nil
}

// IV returns the GCM nonce: system title || frame counter.
func (h Header) IV() []byte {
	iv := make([]byte, 0, 12)
	iv = append(iv, h.SystemTitle[:]...)
	iv = append(iv, h.FrameCounter[:]...)
	return iv
}

// Decrypt decrypts ciphertext (of length header.PlaintextContentLen - the
// DSMR/DLMS content length, not counting the security byte already
// stripped by the caller) using key and the given header, verifying
// against the trailing tag. If aad is non-nil and exactly 16 bytes, it is
// prefixed with 0x30 before being fed to GCM, per the field convention.
//
// Per spec.md §4.4, decryption is split into an update phase (always
// produces plaintext, an AES-CTR stream property) and a finalize phase
// (tag check). Both phases can fail with *DecryptionError, but whenever
// the update phase succeeded the plaintext it produced is still returned
// alongside the error so the caller can attempt DSMR/DLMS parsing on it
// anyway.
func Decrypt(key, ciphertext, tag, iv, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &DecryptionError{Reason: fmt.Sprintf("cipher setup: %v", err)}
	}
	gcmCipher, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, &DecryptionError{Reason: fmt.Sprintf("gcm setup: %v", err)}
	}

	var effectiveAAD []byte
	if len(aad) == 16 {
		effectiveAAD = make([]byte, 0, 17)
		effectiveAAD = append(effectiveAAD, 0x30)
		effectiveAAD = append(effectiveAAD, aad...)
	}

	plaintext, err := updateCTR(block, iv, ciphertext)
	if err != nil {
		return nil, &DecryptionError{Reason: err.Error()}
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	_, gcmErr := gcmCipher.Open(nil, iv, sealed, effectiveAAD)
	if gcmErr != nil {
		return plaintext, &DecryptionError{Reason: gcmErr.Error()}
	}
	return plaintext, nil
}

// updateCTR performs the AES-CTR keystream XOR GCM uses internally for
// its confidentiality transform, independent of tag verification. GCM's
// counter starts at 2 relative to J0 (the first block, counter 1, is
// reserved for the authentication tag), so we derive J0 the same way
// crypto/cipher's GCM does: for a 96-bit IV, J0 = IV || 0x00000001.
func updateCTR(block cipher.Block, iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != 12 {
		return nil, fmt.Errorf("gcm: expected 96-bit IV, got %d bytes", len(iv))
	}
	j0 := make([]byte, 16)
	copy(j0, iv)
	j0[15] = 1

	counter := make([]byte, 16)
	copy(counter, j0)
	incrementCounter(counter)

	stream := cipher.NewCTR(block, counter)
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return out, nil
}

func incrementCounter(b []byte) {
	for i := len(b) - 1; i >= len(b)-4; i-- {
		b[i]++
		if b[i] != 0 {
			break
		}
	}
}
