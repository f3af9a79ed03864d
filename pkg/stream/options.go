// Package stream implements the incremental, push-style frame parsers
// spec.md §5/§6 describe: a transport-agnostic OnData([]byte) sink per
// protocol flavor, each owning its own accumulation buffer and
// frame-complete watchdog, with no internal goroutine of its own. The
// host (cmd/) owns the transport read loop and feeds bytes in as they
// arrive.
package stream

import (
	"time"

	"github.com/p1decoder/p1core/pkg/cosem"
	"github.com/p1decoder/p1core/pkg/record"
)

// defaultWatchdogMS is the frame-complete deadline spec.md §5 mandates
// when Options.FullFrameRequiredWithinMS is left at zero.
const defaultWatchdogMS = 5000

// Callback receives each decoded Reading or terminal error. raw is the
// buffer segment that produced it, for diagnostics. Exactly one of err
// and reading is non-nil.
type Callback func(err error, reading *record.Reading, raw []byte)

// Options configures every parser flavor in this package. Fields not
// relevant to a given flavor (e.g. DecryptionKey for the unencrypted
// DSMRParser) are ignored.
type Options struct {
	// DecryptionKey is the 16-byte AES-128 key used by EncryptedDSMRParser
	// and, when the payload is encrypted, DLMSParser.
	DecryptionKey []byte
	// AAD is the 16-byte additional authenticated data checked during
	// decryption, per spec.md §4.4.
	AAD []byte
	// NewLineChars overrides the DSMR line terminator ("\r\n" default).
	NewLineChars string
	// DetectEncryption is not read by any parser in this package:
	// TypeDetector runs its encrypted-DSMR envelope probe whether or not
	// it is set, and DSMRParser does not scan for 0xDB envelopes.
	DetectEncryption bool
	// FullFrameRequiredWithinMS is the watchdog deadline in milliseconds;
	// zero means defaultWatchdogMS.
	FullFrameRequiredWithinMS int
	// InitialData, if non-nil, is fed through OnData once at construction
	// time, before the caller's own first OnData call.
	InitialData []byte
	// Registry dispatches decoded values into a record.Reading; nil
	// means cosem.NewDefaultRegistry().
	Registry *cosem.Registry
}

func (o Options) newLine() string {
	if o.NewLineChars == "" {
		return "\r\n"
	}
	return o.NewLineChars
}

func (o Options) watchdogDuration() time.Duration {
	ms := o.FullFrameRequiredWithinMS
	if ms <= 0 {
		ms = defaultWatchdogMS
	}
	return time.Duration(ms) * time.Millisecond
}

func (o Options) registry() *cosem.Registry {
	if o.Registry != nil {
		return o.Registry
	}
	return cosem.NewDefaultRegistry()
}

// Parser is implemented by every flavor in this package.
type Parser interface {
	// OnData feeds newly arrived bytes in.
	OnData(b []byte)
	// Destroy cancels the watchdog and releases resources; the parser
	// must not be used afterward.
	Destroy()
	// Clear discards any partially accumulated frame, as if nothing had
	// been received yet.
	Clear()
	// CurrentBufferSize reports how many bytes are currently buffered
	// awaiting a complete frame.
	CurrentBufferSize() int
}
