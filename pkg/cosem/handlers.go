package cosem

import (
	"strconv"

	"github.com/p1decoder/p1core/pkg/dsmrline"
	"github.com/p1decoder/p1core/pkg/obis"
	"github.com/p1decoder/p1core/pkg/record"
)

// NewDefaultRegistry builds the registry of mandatory handlers spec.md
// §4.8's table lists, plus the reactive-energy totals/tariffs the data
// model (§3) declares but the table doesn't separately enumerate,
// registered under the same 1-*:3.8.*/4.8.* convention as active energy.
func NewDefaultRegistry() *Registry {
	reg := NewRegistry()

	reg.Register("1-3:0.2.8", ParamNumber, handleDSMRVersion)
	reg.Register("0-0:1.0.0", ParamString, handleTimestamp)
	reg.Register("0-0:42.0.0", ParamOctetString, handleCosemID)
	reg.Register("0-0:96.1.1", ParamString, handleEquipmentID)
	reg.Register("0-0:96.1.2", ParamOctetString, handleSerialNumber)

	reg.Register("1-*:1.8.*", ParamNumber, handleEnergy(true, false))
	reg.Register("1-*:2.8.*", ParamNumber, handleEnergy(false, false))
	reg.Register("1-*:3.8.*", ParamNumber, handleEnergy(true, true))
	reg.Register("1-*:4.8.*", ParamNumber, handleEnergy(false, true))

	reg.Register("0-0:96.14.0", ParamNumber, handleCurrentTariff)

	reg.Register("1-*:1.7.0", ParamNumber, handlePowerTotal(true))
	reg.Register("1-*:2.7.0", ParamNumber, handlePowerTotal(false))

	reg.Register("0-0:96.7.21", ParamNumber, handlePowerFailures)
	reg.Register("0-0:96.7.9", ParamNumber, handleLongPowerFailures)

	reg.Register("1-*:32.32.0", ParamNumber, handlePhase(phaseL1, phaseVoltageSags))
	reg.Register("1-*:52.32.0", ParamNumber, handlePhase(phaseL2, phaseVoltageSags))
	reg.Register("1-*:72.32.0", ParamNumber, handlePhase(phaseL3, phaseVoltageSags))
	reg.Register("1-*:32.36.0", ParamNumber, handlePhase(phaseL1, phaseVoltageSwells))
	reg.Register("1-*:52.36.0", ParamNumber, handlePhase(phaseL2, phaseVoltageSwells))
	reg.Register("1-*:72.36.0", ParamNumber, handlePhase(phaseL3, phaseVoltageSwells))

	reg.Register("0-0:96.13.0", ParamString, handleTextMessage)
	reg.Register("0-0:96.13.1", ParamString, handleNumericMessage)

	reg.Register("1-*:32.7.0", ParamNumber, handlePhase(phaseL1, phaseVoltage))
	reg.Register("1-*:52.7.0", ParamNumber, handlePhase(phaseL2, phaseVoltage))
	reg.Register("1-*:72.7.0", ParamNumber, handlePhase(phaseL3, phaseVoltage))

	reg.Register("1-*:31.7.0", ParamNumber, handlePhase(phaseL1, phaseCurrent))
	reg.Register("1-*:51.7.0", ParamNumber, handlePhase(phaseL2, phaseCurrent))
	reg.Register("1-*:71.7.0", ParamNumber, handlePhase(phaseL3, phaseCurrent))

	reg.Register("1-*:21.7.0", ParamNumber, handlePhase(phaseL1, phasePowerReceived))
	reg.Register("1-*:41.7.0", ParamNumber, handlePhase(phaseL2, phasePowerReceived))
	reg.Register("1-*:61.7.0", ParamNumber, handlePhase(phaseL3, phasePowerReceived))

	reg.Register("1-*:22.7.0", ParamNumber, handlePhase(phaseL1, phasePowerReturned))
	reg.Register("1-*:42.7.0", ParamNumber, handlePhase(phaseL2, phasePowerReturned))
	reg.Register("1-*:62.7.0", ParamNumber, handlePhase(phaseL3, phasePowerReturned))

	reg.Register("0-*:24.1.0", ParamNumber, handleMBusDeviceType)
	reg.Register("0-*:96.1.0", ParamString, handleMBusEquipmentID)
	reg.Register("0-*:24.2.*", ParamRaw, handleMBusReading)
	reg.RegisterConsumingNextLine("0-*:24.3.0", handleMBusTwoLineGas)

	return reg
}

func handleDSMRVersion(r *record.Reading, code obis.Code, in Input) error {
	r.Metadata.DSMRVersion = in.Number / 10
	return nil
}

func handleTimestamp(r *record.Reading, code obis.Code, in Input) error {
	r.Metadata.Timestamp = in.Str
	return nil
}

func handleCosemID(r *record.Reading, code obis.Code, in Input) error {
	r.Cosem.ID = in.Str
	return nil
}

func handleEquipmentID(r *record.Reading, code obis.Code, in Input) error {
	r.Metadata.EquipmentID = in.Str
	return nil
}

func handleSerialNumber(r *record.Reading, code obis.Code, in Input) error {
	r.Metadata.SerialNumber = in.Str
	return nil
}

// handleEnergy dispatches 1-*:1.8.*/2.8.* (active) and 1-*:3.8.*/4.8.*
// (reactive): tariff n comes from the fifth OBIS field, 0 meaning total.
func handleEnergy(received, reactive bool) Handler {
	return func(r *record.Reading, code obis.Code, in Input) error {
		t := r.TariffFor(code.Processing)
		switch {
		case received && !reactive:
			t.Received = in.Number
		case !received && !reactive:
			t.Returned = in.Number
		case received && reactive:
			t.ReactiveReceived = in.Number
		default:
			t.ReactiveReturned = in.Number
		}
		return nil
	}
}

func handleCurrentTariff(r *record.Reading, code obis.Code, in Input) error {
	r.Electricity.CurrentTariff = int64(in.Number)
	return nil
}

func handlePowerTotal(received bool) Handler {
	return func(r *record.Reading, code obis.Code, in Input) error {
		if received {
			r.Electricity.PowerReceivedTotal = in.Number
		} else {
			r.Electricity.PowerReturnedTotal = in.Number
		}
		return nil
	}
}

func handlePowerFailures(r *record.Reading, code obis.Code, in Input) error {
	r.Metadata.Events.PowerFailures = int64(in.Number)
	return nil
}

func handleLongPowerFailures(r *record.Reading, code obis.Code, in Input) error {
	r.Metadata.Events.LongPowerFailures = int64(in.Number)
	return nil
}

func handleTextMessage(r *record.Reading, code obis.Code, in Input) error {
	r.Metadata.TextMessage = in.Str
	return nil
}

func handleNumericMessage(r *record.Reading, code obis.Code, in Input) error {
	r.Metadata.NumericMessage = in.Str
	return nil
}

type phase int

const (
	phaseL1 phase = iota
	phaseL2
	phaseL3
)

type phaseField int

const (
	phaseVoltage phaseField = iota
	phaseCurrent
	phasePowerReceived
	phasePowerReturned
	phaseVoltageSags
	phaseVoltageSwells
)

// handlePhase dispatches one per-phase field. Voltage and current apply
// the documented default scalar (÷10, ÷100) only when the value arrived
// without its own unit/scalar (in.UseDefaultScalar, DLMS-only: DSMR
// ASCII values always carry an explicit unit).
func handlePhase(ph phase, field phaseField) Handler {
	return func(r *record.Reading, code obis.Code, in Input) error {
		n := in.Number
		var target *record.PhaseValues
		switch field {
		case phaseVoltage:
			if in.UseDefaultScalar {
				n /= 10
			}
			target = &r.Electricity.Voltage
		case phaseCurrent:
			if in.UseDefaultScalar {
				n /= 100
			}
			target = &r.Electricity.Current
		case phasePowerReceived:
			target = &r.Electricity.PowerReceived
		case phasePowerReturned:
			target = &r.Electricity.PowerReturned
		case phaseVoltageSags:
			target = &r.Metadata.Events.VoltageSags
		case phaseVoltageSwells:
			target = &r.Metadata.Events.VoltageSwells
		}
		switch ph {
		case phaseL1:
			target.L1 = n
		case phaseL2:
			target.L2 = n
		case phaseL3:
			target.L3 = n
		}
		return nil
	}
}

func handleMBusDeviceType(r *record.Reading, code obis.Code, in Input) error {
	r.MBusFor(code.Channel).DeviceType = int64(in.Number)
	return nil
}

func handleMBusEquipmentID(r *record.Reading, code obis.Code, in Input) error {
	r.MBusFor(code.Channel).EquipmentID = in.Str
	return nil
}

// handleMBusReading parses the single-line "(timestamp)(value*unit)"
// M-Bus gas/water shape.
func handleMBusReading(r *record.Reading, code obis.Code, in Input) error {
	if len(in.Values) < 2 {
		return &record.Error{Kind: record.KindParserError, Reason: "mbus reading: expected 2 value groups"}
	}
	m := r.MBusFor(code.Channel)
	m.Timestamp = in.Values[0]
	numStr, unit := dsmrline.SplitUnitValue(in.Values[1])
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return err
	}
	m.Value = n
	m.Unit = unit
	return nil
}

// handleMBusTwoLineGas parses the DSMR-3 two-line gas record: the
// current line carries (timestamp)(status)(recording_period)(...)(unit),
// the next line carries the bare value.
func handleMBusTwoLineGas(r *record.Reading, code obis.Code, in Input) error {
	m := r.MBusFor(code.Channel)
	if len(in.Values) >= 6 {
		m.Timestamp = in.Values[0]
		if period, err := strconv.ParseInt(in.Values[2], 10, 64); err == nil {
			m.RecordingPeriodMinutes = period
		}
		m.Unit = in.Values[5]
	}
	if len(in.PeekValues) >= 1 {
		if v, err := strconv.ParseFloat(in.PeekValues[0], 64); err == nil {
			m.Value = v
		}
	}
	return nil
}
