// Package cosem dispatches parsed (OBIS, value, unit) data points into a
// uniform record.Reading via a registry of wildcard-OBIS-pattern
// handlers, normalizing kWh/kW units to Wh/W along the way.
package cosem

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/p1decoder/p1core/pkg/dsmrline"
	"github.com/p1decoder/p1core/pkg/obis"
	"github.com/p1decoder/p1core/pkg/record"
)

// ParamType is the shape of value a Handler expects on Input.
type ParamType int

const (
	ParamNumber ParamType = iota
	ParamString
	ParamRaw
	ParamOctetString
)

// Input is the single value shape every Handler receives, populated
// according to its registered ParamType.
type Input struct {
	// Number and Unit are populated for ParamNumber, after kWh/kW
	// normalization.
	Number float64
	Unit   string

	// Str is populated for ParamString (literal value text) and for
	// ParamOctetString (the hex-decoded bytes as text, or the literal
	// value text when hex-decoding fails).
	Str string

	// OctetString is populated for ParamOctetString on successful
	// hex-decode.
	OctetString []byte

	// Values holds every parenthesized group on the line, for ParamRaw
	// handlers that need to parse more than one group themselves (the
	// M-Bus gas/water "(timestamp)(value*unit)" shape).
	Values []string
	// Raw is the whole source line, unparsed, for diagnostics and for
	// handlers matching on text shape.
	Raw string

	// PeekValues/PeekRaw are the next line's Values/Raw, populated only
	// for entries registered with ConsumesNextLine (the DSMR-3 two-line
	// gas record).
	PeekValues []string
	PeekRaw    string

	// UseDefaultScalar is set by the DLMS content decoder when a
	// payload carried no explicit scalar, signaling that voltage/current
	// handlers should apply the documented default scaling (÷10, ÷100).
	UseDefaultScalar bool
}

// Handler writes one dispatched value into r. Handlers are plain
// functions; some are closures over fixed settings (energy direction and
// kind, phase and field) that do not change after registration.
type Handler func(r *record.Reading, code obis.Code, in Input) error

type entry struct {
	pattern          obis.Code
	param            ParamType
	handler          Handler
	consumesNextLine bool
}

// Registry is a linear, insertion-ordered list of (pattern, param,
// handler) entries; the first matching pattern wins. Built once and
// read-only thereafter, so it may be shared across parser instances.
type Registry struct {
	entries []entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds an entry. Patterns are matched in registration order.
func (r *Registry) Register(pattern string, param ParamType, h Handler) {
	r.registerRaw(pattern, param, h, false)
}

// RegisterConsumingNextLine is like Register, but marks the entry as
// one whose ParamRaw handler also consumes the following DSMR line (the
// two-line gas record): the dispatcher skips that line afterward instead
// of reporting it separately.
func (r *Registry) RegisterConsumingNextLine(pattern string, h Handler) {
	r.registerRaw(pattern, ParamRaw, h, true)
}

func (r *Registry) registerRaw(pattern string, param ParamType, h Handler, consumesNext bool) {
	code, err := obis.Parse(pattern)
	if err != nil {
		panic("cosem: invalid registration pattern " + pattern + ": " + err.Error())
	}
	r.entries = append(r.entries, entry{pattern: code, param: param, handler: h, consumesNextLine: consumesNext})
}

func (r *Registry) match(code obis.Code) (entry, bool) {
	for _, e := range r.entries {
		if e.pattern.Equal(code) {
			return e, true
		}
	}
	return entry{}, false
}

// normalizeUnit multiplies by 1000 and strips the kilo prefix for kWh and
// kW (case-insensitive), per spec.md §4.8.
func normalizeUnit(n float64, unit string) (float64, string) {
	switch strings.ToLower(unit) {
	case "kwh":
		return n * 1000, "Wh"
	case "kw":
		return n * 1000, "W"
	default:
		return n, unit
	}
}

// DispatchDSMRLines walks parsed DSMR lines in order, dispatching each
// to its matching handler and filing the rest into r.Cosem's known/
// unknown object lists. It never returns an error: body-decode failures
// are diagnostic-only per spec.md §7.
func (r *Registry) DispatchDSMRLines(reading *record.Reading, lines []dsmrline.Line) {
	skipNext := false
	for i, line := range lines {
		if skipNext {
			skipNext = false
			continue
		}
		if line.Code == "" {
			// A bare continuation line ("(value)") not claimed by the
			// previous line's consuming handler; nothing to dispatch.
			reading.Cosem.UnknownObjects = append(reading.Cosem.UnknownObjects, line.Raw)
			continue
		}
		code, err := obis.Parse(line.Code)
		if err != nil {
			reading.Cosem.UnknownObjects = append(reading.Cosem.UnknownObjects, line.Raw)
			continue
		}
		e, ok := r.match(code)
		if !ok {
			reading.Cosem.UnknownObjects = append(reading.Cosem.UnknownObjects, line.Raw)
			continue
		}

		in, ok := buildInput(e, line)
		if ok && e.consumesNextLine && i+1 < len(lines) {
			in.PeekValues = lines[i+1].Values
			in.PeekRaw = lines[i+1].Raw
		}
		if !ok {
			reading.Cosem.UnknownObjects = append(reading.Cosem.UnknownObjects, line.Raw)
			continue
		}

		if err := e.handler(reading, code, in); err != nil {
			reading.Cosem.UnknownObjects = append(reading.Cosem.UnknownObjects, line.Raw)
			continue
		}
		reading.Cosem.KnownObjects = append(reading.Cosem.KnownObjects, line.Raw)
		if e.consumesNextLine {
			skipNext = true
		}
	}
}

func buildInput(e entry, line dsmrline.Line) (Input, bool) {
	switch e.param {
	case ParamNumber:
		if len(line.Values) == 0 {
			return Input{}, false
		}
		numStr, unit := dsmrline.SplitUnitValue(line.Values[0])
		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return Input{}, false
		}
		n, unit = normalizeUnit(n, unit)
		return Input{Number: n, Unit: unit}, true
	case ParamString:
		var s string
		if len(line.Values) > 0 {
			s = line.Values[0]
		}
		return Input{Str: s}, true
	case ParamOctetString:
		if len(line.Values) == 0 {
			return Input{Str: ""}, true
		}
		b, err := hex.DecodeString(line.Values[0])
		if err != nil {
			return Input{Str: line.Values[0]}, true
		}
		return Input{OctetString: b, Str: string(b)}, true
	case ParamRaw:
		return Input{Values: line.Values, Raw: line.Raw}, true
	default:
		return Input{}, false
	}
}

// DispatchDLMSValue dispatches one DLMS (OBIS, number, unit) triple, as
// produced by a pkg/dlmscontent payload-shape recognizer. useDefaultScalar
// signals that the payload carried no explicit scalar/unit pair, so
// voltage/current handlers must apply the documented default scaling.
// It reports whether code matched a registered handler; callers file the
// value into DLMS unknown-object diagnostics themselves when it did not,
// since they hold the richer dlmsdata.Value needed to pretty-print it.
func (r *Registry) DispatchDLMSValue(reading *record.Reading, code obis.Code, number float64, unit string, useDefaultScalar bool) bool {
	e, ok := r.match(code)
	if !ok || e.param != ParamNumber {
		return false
	}
	n, u := normalizeUnit(number, unit)
	in := Input{Number: n, Unit: u, UseDefaultScalar: useDefaultScalar}
	if err := e.handler(reading, code, in); err != nil {
		return false
	}
	return true
}

// DispatchDLMSString dispatches one DLMS (OBIS, octet_string) pair for
// handlers registered as ParamString/ParamOctetString (e.g. equipment
// id, serial number).
func (r *Registry) DispatchDLMSString(reading *record.Reading, code obis.Code, raw []byte) bool {
	e, ok := r.match(code)
	if !ok || (e.param != ParamString && e.param != ParamOctetString) {
		return false
	}
	in := Input{Str: string(raw), OctetString: raw}
	if err := e.handler(reading, code, in); err != nil {
		return false
	}
	return true
}
