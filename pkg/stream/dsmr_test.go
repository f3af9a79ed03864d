package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p1decoder/p1core/pkg/record"
	"github.com/p1decoder/p1core/pkg/stream"
)

const dsmr5Fixture = "/ISK5\\2M550T-1003\r\n" +
	"\r\n" +
	"1-3:0.2.8(50)\r\n" +
	"0-0:1.0.0(210101120000W)\r\n" +
	"0-0:96.1.1(4730303139303930383033303436393137)\r\n" +
	"1-0:1.8.0(000123.456*kWh)\r\n" +
	"0-1:24.2.1(210101120000W)(00102.030*m3)\r\n" +
	"!2D5D\r\n"

// collector accumulates (err, reading, raw) emissions in arrival order.
type collector struct {
	errs     []error
	readings []*record.Reading
}

func (c *collector) onResult(err error, r *record.Reading, raw []byte) {
	c.errs = append(c.errs, err)
	c.readings = append(c.readings, r)
}

func TestDSMRParserSingleFrame(t *testing.T) {
	t.Parallel()

	var c collector
	p := stream.NewDSMRParser(c.onResult, stream.Options{})
	defer p.Destroy()

	p.OnData([]byte(dsmr5Fixture))

	require.Len(t, c.readings, 1)
	require.NoError(t, c.errs[0])
	r := c.readings[0]
	assert.Equal(t, float64(5), r.Metadata.DSMRVersion)
	assert.Equal(t, float64(123456), r.Electricity.Total.Received)
	require.NotNil(t, r.MBus[1])
	assert.Equal(t, 102.030, r.MBus[1].Value)
	assert.Equal(t, 0, p.CurrentBufferSize())
}

func TestDSMRParserChunkingIsEquivalent(t *testing.T) {
	t.Parallel()

	for _, chunkSize := range []int{1, 3, 7, 16, 32} {
		chunkSize := chunkSize
		t.Run("", func(t *testing.T) {
			t.Parallel()

			var c collector
			p := stream.NewDSMRParser(c.onResult, stream.Options{})
			defer p.Destroy()

			data := []byte(dsmr5Fixture)
			for i := 0; i < len(data); i += chunkSize {
				end := i + chunkSize
				if end > len(data) {
					end = len(data)
				}
				p.OnData(data[i:end])
			}

			require.Len(t, c.readings, 1)
			require.NoError(t, c.errs[0])
			assert.Equal(t, float64(123456), c.readings[0].Electricity.Total.Received)
		})
	}
}

func TestDSMRParserConcatenatedFixturesEmitInOrder(t *testing.T) {
	t.Parallel()

	second := "/XMX5\r\n\r\n1-0:1.8.0(000999.000*kWh)\r\n!60BC\r\n"
	data := []byte(dsmr5Fixture + second)

	var c collector
	p := stream.NewDSMRParser(c.onResult, stream.Options{})
	defer p.Destroy()

	for i := 0; i < len(data); i += 5 {
		end := i + 5
		if end > len(data) {
			end = len(data)
		}
		p.OnData(data[i:end])
	}

	require.Len(t, c.readings, 2)
	assert.Equal(t, float64(123456), c.readings[0].Electricity.Total.Received)
	assert.Equal(t, float64(999000), c.readings[1].Electricity.Total.Received)
}

func TestDSMRParserNoSlashReportsStartOfFrameNotFound(t *testing.T) {
	t.Parallel()

	var c collector
	p := stream.NewDSMRParser(c.onResult, stream.Options{})
	defer p.Destroy()

	p.OnData([]byte("garbage with no telegram marker"))

	require.Len(t, c.errs, 1)
	require.Error(t, c.errs[0])
	var rerr *record.Error
	require.ErrorAs(t, c.errs[0], &rerr)
	assert.Equal(t, record.KindStartOfFrameNotFound, rerr.Kind)
}
