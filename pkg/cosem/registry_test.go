package cosem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p1decoder/p1core/pkg/cosem"
	"github.com/p1decoder/p1core/pkg/dsmrline"
	"github.com/p1decoder/p1core/pkg/obis"
	"github.com/p1decoder/p1core/pkg/record"
)

func parseTelegram(t *testing.T, raw string) dsmrline.Telegram {
	t.Helper()
	tel, err := dsmrline.Parse([]byte(raw), dsmrline.Options{})
	require.NoError(t, err)
	return tel
}

func TestDispatchEnergyTariffsAndTotals(t *testing.T) {
	t.Parallel()

	raw := "/ISK5\\2M550T-1003\r\n" +
		"\r\n" +
		"1-3:0.2.8(50)\r\n" +
		"0-0:1.0.0(210101120000W)\r\n" +
		"0-0:96.14.0(0002)\r\n" +
		"1-0:1.8.0(000123.456*kWh)\r\n" +
		"1-0:1.8.1(000100.000*kWh)\r\n" +
		"1-0:2.8.1(000010.000*kWh)\r\n" +
		"!0000\r\n"
	tel := parseTelegram(t, raw)

	r := record.New()
	reg := cosem.NewDefaultRegistry()
	reg.DispatchDSMRLines(r, tel.Lines)

	assert.Equal(t, float64(5), r.Metadata.DSMRVersion)
	assert.Equal(t, "210101120000W", r.Metadata.Timestamp)
	assert.Equal(t, int64(2), r.Electricity.CurrentTariff)
	assert.Equal(t, float64(123456), r.Electricity.Total.Received)
	assert.Equal(t, float64(100000), r.Electricity.Tariffs[1].Received)
	assert.Equal(t, float64(10000), r.Electricity.Tariffs[1].Returned)
	assert.Empty(t, r.Cosem.UnknownObjects)
}

func TestDispatchPerPhaseAndVoltageSags(t *testing.T) {
	t.Parallel()

	raw := "/ISK5\\2M550T-1003\r\n" +
		"\r\n" +
		"1-0:32.7.0(230.0*V)\r\n" +
		"1-0:52.7.0(231.0*V)\r\n" +
		"1-0:31.7.0(001.2*A)\r\n" +
		"1-0:21.7.0(00.300*kW)\r\n" +
		"1-0:32.32.0(00001)\r\n" +
		"1-0:32.36.0(00002)\r\n" +
		"!0000\r\n"
	tel := parseTelegram(t, raw)

	r := record.New()
	reg := cosem.NewDefaultRegistry()
	reg.DispatchDSMRLines(r, tel.Lines)

	assert.Equal(t, 230.0, r.Electricity.Voltage.L1)
	assert.Equal(t, 231.0, r.Electricity.Voltage.L2)
	assert.Equal(t, 1.2, r.Electricity.Current.L1)
	assert.Equal(t, 300.0, r.Electricity.PowerReceived.L1)
	assert.Equal(t, float64(1), r.Metadata.Events.VoltageSags.L1)
	assert.Equal(t, float64(2), r.Metadata.Events.VoltageSwells.L1)
}

func TestDispatchUnknownObjectIsRecorded(t *testing.T) {
	t.Parallel()

	raw := "/ISK5\\2M550T-1003\r\n" +
		"\r\n" +
		"0-0:99.99.99(unmapped)\r\n" +
		"!0000\r\n"
	tel := parseTelegram(t, raw)

	r := record.New()
	reg := cosem.NewDefaultRegistry()
	reg.DispatchDSMRLines(r, tel.Lines)

	require.Len(t, r.Cosem.UnknownObjects, 1)
	assert.Contains(t, r.Cosem.UnknownObjects[0], "99.99.99")
}

func TestDispatchDSMR3TwoLineGas(t *testing.T) {
	t.Parallel()

	raw := "/XMX5\r\n" +
		"\r\n" +
		"0-1:24.3.0(210101120000)(00)(60)(1)(0-1:24.2.1)(m3)\r\n" +
		"(00123.456)\r\n" +
		"!0000\r\n"
	tel := parseTelegram(t, raw)

	r := record.New()
	reg := cosem.NewDefaultRegistry()
	reg.DispatchDSMRLines(r, tel.Lines)

	require.NotNil(t, r.MBus[1])
	assert.Equal(t, "210101120000", r.MBus[1].Timestamp)
	assert.Equal(t, int64(60), r.MBus[1].RecordingPeriodMinutes)
	assert.Equal(t, "m3", r.MBus[1].Unit)
	assert.Equal(t, 123.456, r.MBus[1].Value)
	assert.Empty(t, r.Cosem.UnknownObjects)
}

func TestDispatchMBusSingleLineReading(t *testing.T) {
	t.Parallel()

	raw := "/XMX5\r\n" +
		"\r\n" +
		"0-2:24.1.0(003)\r\n" +
		"0-2:96.1.0(4730303139303930383033303436393137)\r\n" +
		"0-2:24.2.1(210101120000W)(00102.030*m3)\r\n" +
		"!0000\r\n"
	tel := parseTelegram(t, raw)

	r := record.New()
	reg := cosem.NewDefaultRegistry()
	reg.DispatchDSMRLines(r, tel.Lines)

	require.NotNil(t, r.MBus[2])
	assert.Equal(t, int64(3), r.MBus[2].DeviceType)
	assert.Equal(t, 102.030, r.MBus[2].Value)
	assert.Equal(t, "m3", r.MBus[2].Unit)
}

func TestDispatchDLMSValueAppliesDefaultScalar(t *testing.T) {
	t.Parallel()

	r := record.New()
	reg := cosem.NewDefaultRegistry()

	code, err := obis.Parse("1-0:32.7.0")
	require.NoError(t, err)
	ok := reg.DispatchDLMSValue(r, code, 2300, "", true)
	require.True(t, ok)
	assert.Equal(t, 230.0, r.Electricity.Voltage.L1)
}
