// Package record defines the uniform Reading emitted by every protocol
// decoder in this module, and the shared error taxonomy attaching raw
// frame context to failures.
package record

import "time"

// PhaseValues holds a per-phase (L1/L2/L3) triple.
type PhaseValues struct {
	L1 float64
	L2 float64
	L3 float64
}

// EventCounters holds the power-quality event counters.
type EventCounters struct {
	PowerFailures     int64
	LongPowerFailures int64
	VoltageSags       PhaseValues
	VoltageSwells     PhaseValues
}

// Metadata is the meter-identity and housekeeping portion of a Reading.
type Metadata struct {
	DSMRVersion    float64
	Timestamp      string // raw "YYMMDDhhmmss[W|S]"; see TimestampUTC
	EquipmentID    string
	SerialNumber   string
	TextMessage    string
	NumericMessage string
	Events         EventCounters
}

// TimestampUTC converts Timestamp to UTC per spec.md §9: a 12-digit local
// clock with a trailing W (winter, UTC+1) or S (summer, UTC+2) DST
// marker. Returns the zero time and false if Timestamp is empty or
// malformed.
func (m Metadata) TimestampUTC() (time.Time, bool) {
	return ParseDSMRTimestamp(m.Timestamp)
}

// ParseDSMRTimestamp parses a DSMR "YYMMDDhhmmss[W|S]" timestamp,
// interpreting W as UTC+1 and S as UTC+2 (the Dutch/Belgian CET/CEST
// offsets, the documented assumption this module makes instead of
// resolving a full IANA timezone).
func ParseDSMRTimestamp(s string) (time.Time, bool) {
	if len(s) != 13 {
		return time.Time{}, false
	}
	var offsetHours int
	switch s[12] {
	case 'W':
		offsetHours = 1
	case 'S':
		offsetHours = 2
	default:
		return time.Time{}, false
	}
	loc := time.FixedZone("", offsetHours*3600)
	t, err := time.ParseInLocation("060102150405", s[:12], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Tariff holds one tariff-indexed energy counter group.
type Tariff struct {
	Received         float64
	Returned         float64
	ReactiveReceived float64
	ReactiveReturned float64
}

// Electricity is the electricity portion of a Reading.
type Electricity struct {
	Total                      Tariff
	Tariffs                    map[int]*Tariff
	CurrentTariff              int64
	Voltage                    PhaseValues
	Current                    PhaseValues
	PowerReceivedTotal         float64
	PowerReturnedTotal         float64
	PowerReceived              PhaseValues
	PowerReturned              PhaseValues
	ReactivePowerReceivedTotal float64
	ReactivePowerReturnedTotal float64
	ReactivePowerReceived      PhaseValues
	ReactivePowerReturned      PhaseValues
}

// MBusChannel is one M-Bus sub-meter channel's last reading.
type MBusChannel struct {
	DeviceType             int64
	EquipmentID            string
	Timestamp              string
	Value                  float64
	Unit                   string
	RecordingPeriodMinutes int64
}

// CosemDiagnostics carries string forms of parsed/unparsed COSEM objects
// for troubleshooting; it is not meant to be parsed by applications.
type CosemDiagnostics struct {
	// ID is the COSEM logical device name (0-0:42.0.0), utf-8 decoded.
	ID             string
	KnownObjects   []string
	UnknownObjects []string
}

// DSMRProvenance is populated when the telegram arrived as DSMR ASCII.
type DSMRProvenance struct {
	Header   string
	CRCValid bool
}

// HDLCFrameCRC reports the validity of one HDLC frame's header/footer
// CRCs (a reading may aggregate several when segmentation was used).
type HDLCFrameCRC struct {
	HeaderValid bool
	FooterValid bool
}

// HDLCProvenance is populated when the telegram arrived as HDLC-framed
// DLMS.
type HDLCProvenance struct {
	Headers []string
	Footers []string
	CRC     struct {
		Valid bool
	}
	Frames []HDLCFrameCRC
}

// DLMSProvenance is populated alongside HDLCProvenance.
type DLMSProvenance struct {
	InvokeID       uint32
	Timestamp      []byte
	UnknownObjects []string
	PayloadType    string
}

// Reading is the uniform structured output of every decoder in this
// module, per spec.md §3.
type Reading struct {
	Metadata    Metadata
	Electricity Electricity
	MBus        map[int]*MBusChannel
	Cosem       CosemDiagnostics

	DSMR *DSMRProvenance
	HDLC *HDLCProvenance
	DLMS *DLMSProvenance

	// AdditionalAuthenticatedDataValid is a pointer so its absence (no
	// decryption occurred) is distinguishable from false.
	AdditionalAuthenticatedDataValid *bool
}

// New returns an empty Reading ready for a decoder to populate.
func New() *Reading {
	return &Reading{
		Electricity: Electricity{Tariffs: make(map[int]*Tariff)},
		MBus:        make(map[int]*MBusChannel),
	}
}

// TariffFor returns the Tariff bucket for index n, creating it (and its
// map) on first use. Index 0 is Total per spec.md §3's invariant.
func (r *Reading) TariffFor(n int) *Tariff {
	if n == 0 {
		return &r.Electricity.Total
	}
	if r.Electricity.Tariffs == nil {
		r.Electricity.Tariffs = make(map[int]*Tariff)
	}
	t, ok := r.Electricity.Tariffs[n]
	if !ok {
		t = &Tariff{}
		r.Electricity.Tariffs[n] = t
	}
	return t
}

// MBusFor returns the MBusChannel for the given channel number, creating
// it on first use.
func (r *Reading) MBusFor(channel int) *MBusChannel {
	if r.MBus == nil {
		r.MBus = make(map[int]*MBusChannel)
	}
	m, ok := r.MBus[channel]
	if !ok {
		m = &MBusChannel{}
		r.MBus[channel] = m
	}
	return m
}

// SetAADValid records whether decryption's AAD check passed.
func (r *Reading) SetAADValid(valid bool) {
	v := valid
	r.AdditionalAuthenticatedDataValid = &v
}

// CRCValid reports whether every frame-level CRC known about this
// reading validated: the DSMR trailer CRC if present, and every HDLC
// header/footer CRC if present. A Reading with neither provenance set
// is considered valid (nothing to check yet).
func (r *Reading) CRCValid() bool {
	if r.DSMR != nil && !r.DSMR.CRCValid {
		return false
	}
	if r.HDLC != nil {
		for _, f := range r.HDLC.Frames {
			if !f.HeaderValid || !f.FooterValid {
				return false
			}
		}
	}
	return true
}
