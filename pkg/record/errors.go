package record

import "fmt"

// Kind enumerates the closed error taxonomy spec.md §7 describes. These
// are carried on Error, not expressed as distinct Go types, so callers
// switch on Kind after an errors.As.
type Kind int

const (
	// KindStartOfFrameNotFound: buffer has no candidate start-of-frame.
	// Raised per chunk so callers can see progress.
	KindStartOfFrameNotFound Kind = iota
	// KindDecodeError: malformed header/footer/TLV/address/length.
	KindDecodeError
	// KindUnknownMessageType: DLMS message type other than 0x0F, or LLC
	// mismatch.
	KindUnknownMessageType
	// KindDecryptionRequired: encrypted envelope seen in a
	// plaintext-only stream.
	KindDecryptionRequired
	// KindDecryptionError: GCM tag mismatch or cipher setup failure.
	KindDecryptionError
	// KindTimeout: the frame-complete watchdog fired.
	KindTimeout
	// KindParserError: no COSEM objects found, missing DSMR header, etc.
	KindParserError
)

func (k Kind) String() string {
	switch k {
	case KindStartOfFrameNotFound:
		return "StartOfFrameNotFound"
	case KindDecodeError:
		return "DecodeError"
	case KindUnknownMessageType:
		return "UnknownMessageType"
	case KindDecryptionRequired:
		return "DecryptionRequired"
	case KindDecryptionError:
		return "DecryptionError"
	case KindTimeout:
		return "Timeout"
	case KindParserError:
		return "ParserError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the shared error carrier for the failures the stream parsers
// report: a Kind from the closed taxonomy, a human-readable Reason and
// the Raw frame bytes that produced it, for diagnostics. Every error a
// stream parser passes to its callback is an *Error; the lower-level
// packages (gcm, hdlc, dsmrline, dlmscontent, dlmsdata) return their own
// error types, which an Error carries as Cause.
type Error struct {
	Kind   Kind
	Reason string
	Raw    []byte
	// Cause is the underlying error, if any (e.g. the *gcm.DecryptionError
	// or *hdlc.DecodeError that triggered this Error).
	Cause error
}

func (e *Error) Error() string {
	if e.Reason == "" && e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target has the same Kind, so callers can write
// errors.Is(err, record.KindTimeout) style checks via a sentinel built
// with NewKind, or compare via errors.As and Kind equality directly.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// NewKind builds a bare sentinel *Error of the given kind, suitable for
// errors.Is(err, record.NewKind(record.KindTimeout)) comparisons.
func NewKind(k Kind) *Error { return &Error{Kind: k} }

// New builds an *Error with a reason and the raw bytes that produced it.
func New(k Kind, raw []byte, reason string) *Error {
	return &Error{Kind: k, Reason: reason, Raw: raw}
}

// Wrap builds an *Error wrapping cause, with the raw bytes that produced
// it.
func Wrap(k Kind, raw []byte, cause error) *Error {
	return &Error{Kind: k, Raw: raw, Cause: cause}
}
