package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p1decoder/p1core/pkg/obis"
	"github.com/p1decoder/p1core/pkg/record"
	"github.com/p1decoder/p1core/pkg/stream"
)

func obisBytes(t *testing.T, s string) []byte {
	t.Helper()
	code, err := obis.Parse(s)
	require.NoError(t, err)
	return []byte{byte(code.Media), byte(code.Channel), byte(code.Physical), byte(code.Type), byte(code.Processing), 0xFF}
}

// basicListNotification builds a data-notification payload (message
// type + invoke id + empty timestamp + BasicList tree) carrying one
// energy-total reading.
func basicListNotification(t *testing.T) []byte {
	t.Helper()
	var tree []byte
	tree = append(tree, 0x02, 0x03) // structure, 3 items
	tree = append(tree, 0x0A, 0x03, 'N', 'T', 'E')
	tree = append(tree, 0x09, 0x06)
	tree = append(tree, obisBytes(t, "1-0:1.8.0")...)
	tree = append(tree, 0x06, 0x00, 0x00, 0x30, 0x39) // u32 12345

	header := []byte{0x0F, 0, 0, 0, 1, 0} // msg type, invoke id=1, tsLen=0
	return append(header, tree...)
}

func TestDLMSParserSingleFrame(t *testing.T) {
	t.Parallel()

	payload := append([]byte{0xE6, 0xE7, 0x00}, basicListNotification(t)...)
	frame := buildHDLCFrame(t, payload)

	var c collector
	p := stream.NewDLMSParser(c.onResult, stream.Options{})
	defer p.Destroy()

	p.OnData(frame)

	require.Len(t, c.readings, 1)
	require.NoError(t, c.errs[0])
	r := c.readings[0]
	assert.Equal(t, float64(12345), r.Electricity.Total.Received)
	require.NotNil(t, r.HDLC)
	assert.True(t, r.HDLC.CRC.Valid)
	require.NotNil(t, r.DLMS)
	assert.Equal(t, "BasicList", r.DLMS.PayloadType)
}

func TestDLMSParserSegmentationReassembly(t *testing.T) {
	t.Parallel()

	full := append([]byte{0xE6, 0xE7, 0x00}, basicListNotification(t)...)
	split := len(full) / 2
	frame1 := buildSegmentedHDLCFrame(t, full[:split], true)
	frame2 := buildSegmentedHDLCFrame(t, full[split:], false)

	var c collector
	p := stream.NewDLMSParser(c.onResult, stream.Options{})
	defer p.Destroy()

	p.OnData(frame1)
	require.Empty(t, c.readings, "segmented first fragment must not emit yet")
	p.OnData(frame2)

	require.Len(t, c.readings, 1)
	require.NoError(t, c.errs[0])
	assert.Equal(t, float64(12345), c.readings[0].Electricity.Total.Received)
	require.Len(t, c.readings[0].HDLC.Frames, 2)
}

func TestDLMSParserChunkedOneByteAtATime(t *testing.T) {
	t.Parallel()

	payload := append([]byte{0xE6, 0xE7, 0x00}, basicListNotification(t)...)
	frame := buildHDLCFrame(t, payload)

	var c collector
	p := stream.NewDLMSParser(c.onResult, stream.Options{})
	defer p.Destroy()

	for _, b := range frame {
		p.OnData([]byte{b})
	}

	require.Len(t, c.readings, 1)
	assert.Equal(t, float64(12345), c.readings[0].Electricity.Total.Received)
}

func TestDLMSParserEncryptedPayload(t *testing.T) {
	t.Parallel()

	plaintext := basicListNotification(t)
	envelope := buildEnvelope(t, plaintext, testAAD)
	payload := append([]byte{0xE6, 0xE7, 0x00}, envelope...)
	frame := buildHDLCFrame(t, payload)

	var c collector
	p := stream.NewDLMSParser(c.onResult, stream.Options{DecryptionKey: testKey, AAD: testAAD})
	defer p.Destroy()

	p.OnData(frame)

	require.Len(t, c.readings, 1)
	require.NoError(t, c.errs[0])
	r := c.readings[0]
	require.NotNil(t, r.AdditionalAuthenticatedDataValid)
	assert.True(t, *r.AdditionalAuthenticatedDataValid)
	assert.Equal(t, float64(12345), r.Electricity.Total.Received)
}

func TestDLMSParserEncryptedPayloadWrongAADStillParses(t *testing.T) {
	t.Parallel()

	plaintext := basicListNotification(t)
	envelope := buildEnvelope(t, plaintext, testAAD)
	payload := append([]byte{0xE6, 0xE7, 0x00}, envelope...)
	frame := buildHDLCFrame(t, payload)

	wrongAAD := make([]byte, 16)
	var c collector
	p := stream.NewDLMSParser(c.onResult, stream.Options{DecryptionKey: testKey, AAD: wrongAAD})
	defer p.Destroy()

	p.OnData(frame)

	require.Len(t, c.readings, 1)
	require.NoError(t, c.errs[0])
	r := c.readings[0]
	require.NotNil(t, r.AdditionalAuthenticatedDataValid)
	assert.False(t, *r.AdditionalAuthenticatedDataValid)
	assert.Equal(t, float64(12345), r.Electricity.Total.Received)
}

func TestDLMSParserEncryptedPayloadWrongKeyFails(t *testing.T) {
	t.Parallel()

	plaintext := basicListNotification(t)
	envelope := buildEnvelope(t, plaintext, nil)
	payload := append([]byte{0xE6, 0xE7, 0x00}, envelope...)
	frame := buildHDLCFrame(t, payload)

	wrongKey := []byte("FEDCBA9876543210")
	var c collector
	p := stream.NewDLMSParser(c.onResult, stream.Options{DecryptionKey: wrongKey})
	defer p.Destroy()

	p.OnData(frame)

	require.Len(t, c.errs, 1)
	require.Error(t, c.errs[0])
	var rerr *record.Error
	require.ErrorAs(t, c.errs[0], &rerr)
	assert.Equal(t, record.KindDecryptionError, rerr.Kind)
}

func TestDLMSParserUnknownMessageTypeFromLLCMismatch(t *testing.T) {
	t.Parallel()

	payload := []byte("not an LLC header at all, just junk")
	frame := buildHDLCFrame(t, payload)

	var c collector
	p := stream.NewDLMSParser(c.onResult, stream.Options{})
	defer p.Destroy()

	p.OnData(frame)

	require.Len(t, c.errs, 1)
	require.Error(t, c.errs[0])
	var rerr *record.Error
	require.ErrorAs(t, c.errs[0], &rerr)
	assert.Equal(t, record.KindUnknownMessageType, rerr.Kind)
}
