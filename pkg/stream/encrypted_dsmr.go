package stream

import (
	"bytes"
	"sync"

	"github.com/p1decoder/p1core/pkg/cosem"
	"github.com/p1decoder/p1core/pkg/dsmrline"
	"github.com/p1decoder/p1core/pkg/gcm"
	"github.com/p1decoder/p1core/pkg/record"
)

// EncryptedDSMRParser is the GCM-wrapped-DSMR flavor: it locates the
// 0xDB envelope tag, waits for the full ciphertext+tag to arrive,
// decrypts and parses it as DSMR.
type EncryptedDSMRParser struct {
	mu        sync.Mutex
	opts      Options
	registry  *cosem.Registry
	buf       []byte
	cb        Callback
	wd        *watchdog
	armed     bool
	destroyed bool
}

// NewEncryptedDSMRParser builds an EncryptedDSMRParser. opts.DecryptionKey
// is required.
func NewEncryptedDSMRParser(cb Callback, opts Options) *EncryptedDSMRParser {
	p := &EncryptedDSMRParser{opts: opts, registry: opts.registry(), cb: cb}
	p.wd = newWatchdog(p.onTimeout)
	if len(opts.InitialData) > 0 {
		p.OnData(opts.InitialData)
	}
	return p
}

func (p *EncryptedDSMRParser) OnData(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.buf = append(p.buf, b...)
	p.process()
}

func (p *EncryptedDSMRParser) process() {
	idx := bytes.IndexByte(p.buf, 0xDB)
	if idx < 0 {
		raw := p.buf
		p.buf = nil
		p.emitLocked(record.New(record.KindStartOfFrameNotFound, raw, "no 0xDB tag byte in buffer"), nil, raw)
		return
	}
	if idx > 0 {
		p.buf = p.buf[idx:]
	}
	if !p.armed {
		p.wd.Start(p.opts.watchdogDuration())
		p.armed = true
	}
	if len(p.buf) < gcm.HeaderSize {
		return
	}

	hdr, err := gcm.DecodeHeader(p.buf)
	if err != nil {
		raw := p.buf
		p.wd.Cancel()
		p.armed = false
		p.buf = nil
		p.emitLocked(record.Wrap(record.KindDecodeError, raw, err), nil, raw)
		return
	}

	need := gcm.HeaderSize + hdr.PlaintextContentLen + gcm.TagSize
	if len(p.buf) < need {
		return
	}

	frame := p.buf[:need]
	rest := p.buf[need:]
	p.finishFrame(hdr, frame)
	p.buf = rest
	if len(p.buf) > 0 {
		p.process()
	}
}

// finishFrame decrypts and parses frame. Per spec.md §7's propagation
// policy, a decryption (AAD) failure is held: if DSMR parsing still
// succeeds on the recovered plaintext the reading is emitted with
// additional_authenticated_data_valid=false; only if parsing also fails
// does the decryption error surface.
func (p *EncryptedDSMRParser) finishFrame(hdr gcm.Header, frame []byte) {
	p.wd.Cancel()
	p.armed = false

	ciphertext := frame[gcm.HeaderSize : gcm.HeaderSize+hdr.PlaintextContentLen]
	tag := frame[gcm.HeaderSize+hdr.PlaintextContentLen:]
	plaintext, decErr := gcm.Decrypt(p.opts.DecryptionKey, ciphertext, tag, hdr.IV(), p.opts.AAD)
	if plaintext == nil {
		p.emitLocked(record.Wrap(record.KindDecryptionError, frame, decErr), nil, frame)
		return
	}

	tel, err := dsmrline.Parse(plaintext, dsmrline.Options{NewLine: p.opts.newLine()})
	if err != nil {
		if decErr != nil {
			p.emitLocked(record.Wrap(record.KindDecryptionError, frame, decErr), nil, frame)
			return
		}
		p.emitLocked(record.Wrap(record.KindParserError, frame, err), nil, frame)
		return
	}

	reading := record.New()
	reading.DSMR = &record.DSMRProvenance{
		Header:   tel.Header.Identifier,
		CRCValid: !tel.HasTrailerCRC || tel.CRCValid,
	}
	reading.SetAADValid(decErr == nil)
	p.registry.DispatchDSMRLines(reading, tel.Lines)
	p.emitLocked(nil, reading, frame)
}

func (p *EncryptedDSMRParser) onTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || !p.armed {
		return
	}
	buf := p.buf
	p.armed = false
	p.buf = nil
	p.emitLocked(record.New(record.KindTimeout, buf, "frame-complete watchdog expired"), nil, buf)
}

func (p *EncryptedDSMRParser) emitLocked(err error, reading *record.Reading, raw []byte) {
	if p.cb != nil {
		p.cb(err, reading, raw)
	}
}

func (p *EncryptedDSMRParser) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	p.wd.Cancel()
	p.buf = nil
}

func (p *EncryptedDSMRParser) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wd.Cancel()
	p.armed = false
	p.buf = nil
}

func (p *EncryptedDSMRParser) CurrentBufferSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
