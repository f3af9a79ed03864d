package stream

import (
	"bytes"
	"sync"

	"github.com/p1decoder/p1core/pkg/gcm"
	"github.com/p1decoder/p1core/pkg/hdlc"
)

// DetectionResult reports which protocol mode and encryption state a
// buffer committed to, per spec.md §4.9's type-detector.
type DetectionResult struct {
	Mode         string // "dsmr" or "dlms"
	Encrypted    bool
	BufferedData []byte
}

// DetectCallback receives one DetectionResult per committed buffer.
type DetectCallback func(result *DetectionResult)

// TypeDetector is the gate state machine used when the protocol on a
// stream isn't known yet: it runs the DSMR, DLMS(HDLC) and encrypted-DSMR
// probes in order after every append, emitting as soon as one commits
// and dropping the buffer once none of the three can still succeed.
type TypeDetector struct {
	mu        sync.Mutex
	buf       []byte
	cb        DetectCallback
	destroyed bool
}

// NewTypeDetector builds a TypeDetector, priming it with
// opts.InitialData if present.
func NewTypeDetector(cb DetectCallback, opts Options) *TypeDetector {
	d := &TypeDetector{cb: cb}
	if len(opts.InitialData) > 0 {
		d.OnData(opts.InitialData)
	}
	return d
}

func (d *TypeDetector) OnData(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.buf = append(d.buf, b...)
	d.process()
}

func (d *TypeDetector) process() {
	if found, _ := probeDSMR(d.buf); found {
		d.emit("dsmr", false)
		return
	}
	if found, encrypted, _ := probeDLMS(d.buf); found {
		d.emit("dlms", encrypted)
		return
	}
	if found, _ := probeEncryptedDSMR(d.buf); found {
		d.emit("dsmr", true)
		return
	}

	_, dsmrClear := probeDSMR(d.buf)
	_, _, dlmsClear := probeDLMS(d.buf)
	_, encClear := probeEncryptedDSMR(d.buf)
	if dsmrClear && dlmsClear && encClear {
		d.buf = nil
	}
}

func (d *TypeDetector) emit(mode string, encrypted bool) {
	data := d.buf
	d.buf = nil
	if d.cb != nil {
		d.cb(&DetectionResult{Mode: mode, Encrypted: encrypted, BufferedData: data})
	}
}

func (d *TypeDetector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.buf = nil
}

func (d *TypeDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
}

func (d *TypeDetector) CurrentBufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

// probeDSMR looks for '/' followed later by CRLF, committing only once
// both are seen; a non-ASCII byte anywhere rules the probe out for good.
func probeDSMR(buf []byte) (found, canClear bool) {
	idx := bytes.IndexByte(buf, '/')
	if idx < 0 {
		return false, true
	}
	for _, b := range buf {
		if b >= 0x80 {
			return false, true
		}
	}
	if bytes.Contains(buf[idx:], []byte("\r\n")) {
		return true, false
	}
	return false, false
}

// probeDLMS looks for 0x7E, then attempts a full HDLC frame decode and
// LLC header strip, peeking the byte right after the LLC header to tell
// encrypted DLMS from plaintext.
func probeDLMS(buf []byte) (found, encrypted, canClear bool) {
	idx := bytes.IndexByte(buf, hdlc.FlagByte)
	if idx < 0 {
		return false, false, true
	}
	sub := buf[idx:]
	if len(sub) < 14 {
		return false, false, false
	}
	frame, err := hdlc.Decode(sub)
	if err == hdlc.ErrIncomplete {
		return false, false, false
	}
	if err != nil {
		return false, false, true
	}
	stripped, err := hdlc.StripLLC(frame.Payload)
	if err != nil {
		return false, false, true
	}
	encrypted = len(stripped) > 0 && stripped[0] == 0xDB
	return true, encrypted, false
}

// probeEncryptedDSMR looks for 0xDB, then attempts a GCM header decode
// once enough bytes are present.
func probeEncryptedDSMR(buf []byte) (found, canClear bool) {
	idx := bytes.IndexByte(buf, 0xDB)
	if idx < 0 {
		return false, true
	}
	sub := buf[idx:]
	if len(sub) < gcm.HeaderSize {
		return false, false
	}
	if _, err := gcm.DecodeHeader(sub); err != nil {
		return false, true
	}
	return true, false
}
