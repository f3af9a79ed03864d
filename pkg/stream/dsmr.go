package stream

import (
	"bytes"
	"sync"

	"github.com/p1decoder/p1core/pkg/cosem"
	"github.com/p1decoder/p1core/pkg/dsmrline"
	"github.com/p1decoder/p1core/pkg/record"
)

// DSMRParser is the unencrypted-DSMR flavor of the stream parser
// interface: it locates the '/' start-of-frame, waits for the trailer
// (or a second SOF, for meters that omit it), and parses+dispatches the
// frame on completion.
type DSMRParser struct {
	mu        sync.Mutex
	opts      Options
	registry  *cosem.Registry
	buf       []byte
	cb        Callback
	wd        *watchdog
	armed     bool
	destroyed bool
}

// NewDSMRParser builds a DSMRParser.
func NewDSMRParser(cb Callback, opts Options) *DSMRParser {
	p := &DSMRParser{opts: opts, registry: opts.registry(), cb: cb}
	p.wd = newWatchdog(p.onTimeout)
	if len(opts.InitialData) > 0 {
		p.OnData(opts.InitialData)
	}
	return p
}

func (p *DSMRParser) OnData(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.buf = append(p.buf, b...)
	p.process()
}

func (p *DSMRParser) process() {
	idx := bytes.IndexByte(p.buf, '/')
	if idx < 0 {
		raw := p.buf
		p.buf = nil
		p.emitLocked(record.New(record.KindStartOfFrameNotFound, raw, "no '/' in buffer"), nil, raw)
		return
	}
	if idx > 0 {
		p.buf = p.buf[idx:]
	}
	if !p.armed {
		p.wd.Start(p.opts.watchdogDuration())
		p.armed = true
	}

	nl := p.opts.newLine()
	end := findTrailerEnd(p.buf, nl)
	if end < 0 {
		end = findSecondSOF(p.buf, nl)
	}
	if end < 0 {
		return
	}

	frame := p.buf[:end]
	rest := p.buf[end:]
	p.finishFrame(frame)
	p.buf = rest
	if len(p.buf) > 0 {
		p.process()
	}
}

// finishFrame cancels the watchdog, parses and dispatches frame, and
// emits the result.
func (p *DSMRParser) finishFrame(frame []byte) {
	p.wd.Cancel()
	p.armed = false
	tel, err := dsmrline.Parse(frame, dsmrline.Options{NewLine: p.opts.newLine()})
	if err != nil {
		p.emitLocked(record.Wrap(record.KindParserError, frame, err), nil, frame)
		return
	}
	p.emitLocked(nil, p.buildReading(tel), frame)
}

func (p *DSMRParser) buildReading(tel dsmrline.Telegram) *record.Reading {
	reading := record.New()
	reading.DSMR = &record.DSMRProvenance{
		Header:   tel.Header.Identifier,
		CRCValid: !tel.HasTrailerCRC || tel.CRCValid,
	}
	p.registry.DispatchDSMRLines(reading, tel.Lines)
	return reading
}

// onTimeout fires when the frame-complete watchdog expires: per
// spec.md §4.9, it tries to parse whatever has accumulated (the
// trailer-less-meter case), falling back to a Timeout error only if
// that also fails (e.g. a lone SOF byte and nothing else).
func (p *DSMRParser) onTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || !p.armed {
		return
	}
	buf := p.buf
	p.armed = false
	p.buf = nil

	tel, err := dsmrline.Parse(buf, dsmrline.Options{NewLine: p.opts.newLine()})
	if err != nil {
		p.emitLocked(record.New(record.KindTimeout, buf, "frame-complete watchdog expired"), nil, buf)
		return
	}
	p.emitLocked(nil, p.buildReading(tel), buf)
}

func (p *DSMRParser) emitLocked(err error, reading *record.Reading, raw []byte) {
	if p.cb != nil {
		p.cb(err, reading, raw)
	}
}

func (p *DSMRParser) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	p.wd.Cancel()
	p.buf = nil
}

func (p *DSMRParser) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wd.Cancel()
	p.armed = false
	p.buf = nil
}

func (p *DSMRParser) CurrentBufferSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// findTrailerEnd locates the "<nl>!<=4 hex><nl><NUL>?" trailer and
// returns the index just past it, or -1 if not yet present.
func findTrailerEnd(buf []byte, nl string) int {
	marker := []byte(nl + "!")
	idx := bytes.Index(buf, marker)
	if idx < 0 {
		return -1
	}
	rest := buf[idx+len(marker):]
	hexLen := 0
	for hexLen < 4 && hexLen < len(rest) && isHexDigit(rest[hexLen]) {
		hexLen++
	}
	after := rest[hexLen:]
	nlBytes := []byte(nl)
	if !bytes.HasPrefix(after, nlBytes) {
		return -1
	}
	end := idx + len(marker) + hexLen + len(nlBytes)
	if end < len(buf) && buf[end] == 0 {
		end++
	}
	return end
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// findSecondSOF locates a second "<nl>/" after the frame's own leading
// '/', for meters (MT-382) that never send a trailer. It returns the
// index of the second '/' itself, so the caller treats everything
// before it as the complete frame and everything from it on as the
// start of the next one.
func findSecondSOF(buf []byte, nl string) int {
	if len(buf) < 2 {
		return -1
	}
	marker := []byte(nl + "/")
	relIdx := bytes.Index(buf[1:], marker)
	if relIdx < 0 {
		return -1
	}
	return 1 + relIdx + len(nl)
}
