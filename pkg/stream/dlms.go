package stream

import (
	"bytes"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/p1decoder/p1core/pkg/cosem"
	"github.com/p1decoder/p1core/pkg/dlmscontent"
	"github.com/p1decoder/p1core/pkg/gcm"
	"github.com/p1decoder/p1core/pkg/hdlc"
	"github.com/p1decoder/p1core/pkg/record"
)

const hdlcFooterLen = 3 // 2 footer CRC bytes + closing flag

// DLMSParser is the HDLC-framed-DLMS flavor: it reassembles one or more
// segmented HDLC frames into a single LLC-stripped payload, then
// decodes it as DLMS, decrypting first if it carries a GCM envelope.
type DLMSParser struct {
	mu        sync.Mutex
	opts      Options
	registry  *cosem.Registry
	buf       []byte
	cb        Callback
	wd        *watchdog
	armed     bool
	destroyed bool

	reassembled   []byte
	firstFragment bool
	headers       []string
	footers       []string
	frameCRCs     []record.HDLCFrameCRC
}

// NewDLMSParser builds a DLMSParser. opts.DecryptionKey is required only
// if the stream carries encrypted DLMS payloads.
func NewDLMSParser(cb Callback, opts Options) *DLMSParser {
	p := &DLMSParser{opts: opts, registry: opts.registry(), cb: cb, firstFragment: true}
	p.wd = newWatchdog(p.onTimeout)
	if len(opts.InitialData) > 0 {
		p.OnData(opts.InitialData)
	}
	return p
}

func (p *DLMSParser) OnData(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.buf = append(p.buf, b...)
	p.process()
}

func (p *DLMSParser) process() {
	idx := bytes.IndexByte(p.buf, hdlc.FlagByte)
	if idx < 0 {
		raw := p.buf
		p.buf = nil
		p.emitLocked(record.New(record.KindStartOfFrameNotFound, raw, "no 0x7E flag byte in buffer"), nil, raw)
		return
	}
	if idx > 0 {
		p.buf = p.buf[idx:]
	}
	if !p.armed {
		p.wd.Start(p.opts.watchdogDuration())
		p.armed = true
	}
	if len(p.buf) < 14 {
		return
	}

	frame, err := hdlc.Decode(p.buf)
	if err == hdlc.ErrIncomplete {
		return
	}
	if err != nil {
		raw := p.buf
		p.resetFrame()
		p.buf = nil
		p.emitLocked(record.Wrap(record.KindDecodeError, raw, err), nil, raw)
		return
	}

	p.recordFrameProvenance(frame)

	payload := frame.Payload
	if p.firstFragment {
		stripped, llcErr := hdlc.StripLLC(payload)
		if llcErr != nil {
			raw := p.buf[:frame.TotalLen]
			p.resetFrame()
			p.buf = nil
			p.emitLocked(record.Wrap(record.KindUnknownMessageType, raw, llcErr), nil, raw)
			return
		}
		p.reassembled = append(p.reassembled, stripped...)
		p.firstFragment = false
	} else {
		p.reassembled = append(p.reassembled, payload...)
	}

	consumed := frame.TotalLen
	rest := p.buf[consumed:]

	if frame.Segmented {
		// Continue accumulating under the next HDLC frame without
		// resetting the watchdog, per spec.md §4.9.
		p.buf = rest
		if len(p.buf) > 0 {
			p.process()
		}
		return
	}

	reassembled := p.reassembled
	headers := p.headers
	footers := p.footers
	frameCRCs := p.frameCRCs
	p.resetFrame()
	p.buf = rest

	p.finishPayload(reassembled, headers, footers, frameCRCs)
	if len(p.buf) > 0 {
		p.process()
	}
}

// recordFrameProvenance stores this HDLC frame's header/footer bytes and
// CRC validity for the reading's HDLC provenance block.
func (p *DLMSParser) recordFrameProvenance(frame hdlc.Frame) {
	headerLen := frame.TotalLen - len(frame.Payload) - hdlcFooterLen
	if headerLen < 0 || headerLen > len(p.buf) {
		return
	}
	footerStart := headerLen + len(frame.Payload)
	headerBytes := p.buf[:headerLen]
	var footerBytes []byte
	if footerStart <= frame.TotalLen && frame.TotalLen <= len(p.buf) {
		footerBytes = p.buf[footerStart:frame.TotalLen]
	}
	p.headers = append(p.headers, hex.EncodeToString(headerBytes))
	p.footers = append(p.footers, hex.EncodeToString(footerBytes))
	p.frameCRCs = append(p.frameCRCs, record.HDLCFrameCRC{HeaderValid: frame.HeaderValid, FooterValid: frame.FooterValid})
}

// resetFrame cancels the watchdog and clears all in-progress
// reassembly state, ready for the next frame.
func (p *DLMSParser) resetFrame() {
	p.wd.Cancel()
	p.armed = false
	p.reassembled = nil
	p.firstFragment = true
	p.headers = nil
	p.footers = nil
	p.frameCRCs = nil
}

// finishPayload decrypts (if a 0xDB GCM envelope prefixes the
// reassembled payload) and decodes the final DLMS data-notification.
func (p *DLMSParser) finishPayload(payload []byte, headers, footers []string, frameCRCs []record.HDLCFrameCRC) {
	var aadValid *bool
	var decErr error

	if len(payload) > 0 && payload[0] == 0xDB {
		hdr, err := gcm.DecodeHeader(payload)
		if err != nil {
			p.emitLocked(record.Wrap(record.KindDecryptionError, payload, err), nil, payload)
			return
		}
		need := gcm.HeaderSize + hdr.PlaintextContentLen + gcm.TagSize
		if len(payload) < need {
			p.emitLocked(record.New(record.KindDecodeError, payload, "truncated encrypted DLMS payload"), nil, payload)
			return
		}
		ciphertext := payload[gcm.HeaderSize : gcm.HeaderSize+hdr.PlaintextContentLen]
		tag := payload[gcm.HeaderSize+hdr.PlaintextContentLen : need]
		var plaintext []byte
		plaintext, decErr = gcm.Decrypt(p.opts.DecryptionKey, ciphertext, tag, hdr.IV(), p.opts.AAD)
		if plaintext == nil {
			p.emitLocked(record.Wrap(record.KindDecryptionError, payload, decErr), nil, payload)
			return
		}
		valid := decErr == nil
		aadValid = &valid
		payload = plaintext
	}

	reading := record.New()
	reading.HDLC = &record.HDLCProvenance{Headers: headers, Footers: footers, Frames: frameCRCs}
	allValid := true
	for _, f := range frameCRCs {
		if !f.HeaderValid || !f.FooterValid {
			allValid = false
			break
		}
	}
	reading.HDLC.CRC.Valid = allValid

	if err := dlmscontent.Apply(p.registry, reading, payload); err != nil {
		if decErr != nil {
			p.emitLocked(record.Wrap(record.KindDecryptionError, payload, decErr), nil, payload)
			return
		}
		kind := record.KindDecodeError
		var umt *dlmscontent.UnknownMessageTypeError
		if errors.As(err, &umt) {
			kind = record.KindUnknownMessageType
		}
		p.emitLocked(record.Wrap(kind, payload, err), nil, payload)
		return
	}
	if aadValid != nil {
		reading.AdditionalAuthenticatedDataValid = aadValid
	}
	p.emitLocked(nil, reading, payload)
}

func (p *DLMSParser) onTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || !p.armed {
		return
	}
	buf := p.buf
	p.buf = nil
	p.resetFrame()
	p.emitLocked(record.New(record.KindTimeout, buf, "frame-complete watchdog expired"), nil, buf)
}

func (p *DLMSParser) emitLocked(err error, reading *record.Reading, raw []byte) {
	if p.cb != nil {
		p.cb(err, reading, raw)
	}
}

func (p *DLMSParser) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	p.wd.Cancel()
	p.buf = nil
	p.reassembled = nil
}

func (p *DLMSParser) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetFrame()
	p.buf = nil
}

func (p *DLMSParser) CurrentBufferSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
