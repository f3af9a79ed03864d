package stream_test

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p1decoder/p1core/pkg/gcm"
	"github.com/p1decoder/p1core/pkg/record"
	"github.com/p1decoder/p1core/pkg/stream"
)

var (
	testKey          = []byte("0123456789ABCDEF")
	testSystemTitle  = []byte("systitle")
	testFrameCounter = []byte{0x11, 0x22, 0x33, 0x44}
	testAAD          = []byte{
		0xff, 0xee, 0xdd, 0xcc, 0xbb, 0xaa, 0x99, 0x88,
		0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0x00,
	}
)

// buildEnvelope mirrors pkg/gcm's own test helper: a valid AES-128-GCM
// envelope around plaintext, sealed under testKey/testSystemTitle/
// testFrameCounter with the given AAD (nil for none).
func buildEnvelope(t *testing.T, plaintext []byte, aad []byte) []byte {
	t.Helper()

	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)
	iv := append(append([]byte{}, testSystemTitle...), testFrameCounter...)
	gcmCipher, err := cipher.NewGCMWithTagSize(block, gcm.TagSize)
	require.NoError(t, err)

	var effectiveAAD []byte
	if aad != nil {
		effectiveAAD = append([]byte{0x30}, aad...)
	}
	sealed := gcmCipher.Seal(nil, iv, plaintext, effectiveAAD)
	ciphertext := sealed[:len(sealed)-gcm.TagSize]
	tag := sealed[len(sealed)-gcm.TagSize:]

	length := len(ciphertext) + gcm.HeaderSize - 1
	header := make([]byte, gcm.HeaderSize)
	header[0] = 0xDB
	header[1] = 0x08
	copy(header[2:10], testSystemTitle)
	header[10] = 0x82
	binary.BigEndian.PutUint16(header[11:13], uint16(length))
	header[13] = gcm.SecurityAuthEnc
	copy(header[14:18], testFrameCounter)

	envelope := append(header, ciphertext...)
	envelope = append(envelope, tag...)
	return envelope
}

func TestEncryptedDSMRParserValidAAD(t *testing.T) {
	t.Parallel()

	plaintext := []byte(dsmr5Fixture)
	envelope := buildEnvelope(t, plaintext, testAAD)

	var c collector
	p := stream.NewEncryptedDSMRParser(c.onResult, stream.Options{DecryptionKey: testKey, AAD: testAAD})
	defer p.Destroy()

	p.OnData(envelope)

	require.Len(t, c.readings, 1)
	require.NoError(t, c.errs[0])
	r := c.readings[0]
	require.NotNil(t, r.AdditionalAuthenticatedDataValid)
	assert.True(t, *r.AdditionalAuthenticatedDataValid)
	assert.Equal(t, float64(123456), r.Electricity.Total.Received)
}

func TestEncryptedDSMRParserWrongAADStillParses(t *testing.T) {
	t.Parallel()

	plaintext := []byte(dsmr5Fixture)
	envelope := buildEnvelope(t, plaintext, testAAD)

	wrongAAD := make([]byte, 16)
	var c collector
	p := stream.NewEncryptedDSMRParser(c.onResult, stream.Options{DecryptionKey: testKey, AAD: wrongAAD})
	defer p.Destroy()

	p.OnData(envelope)

	require.Len(t, c.readings, 1)
	require.NoError(t, c.errs[0])
	r := c.readings[0]
	require.NotNil(t, r.AdditionalAuthenticatedDataValid)
	assert.False(t, *r.AdditionalAuthenticatedDataValid)
	assert.Equal(t, float64(123456), r.Electricity.Total.Received)
}

func TestEncryptedDSMRParserWrongKeyFails(t *testing.T) {
	t.Parallel()

	plaintext := []byte(dsmr5Fixture)
	envelope := buildEnvelope(t, plaintext, nil)

	wrongKey := []byte("FEDCBA9876543210")
	var c collector
	p := stream.NewEncryptedDSMRParser(c.onResult, stream.Options{DecryptionKey: wrongKey})
	defer p.Destroy()

	p.OnData(envelope)

	require.Len(t, c.errs, 1)
	require.Error(t, c.errs[0])
	var rerr *record.Error
	require.ErrorAs(t, c.errs[0], &rerr)
	assert.Equal(t, record.KindDecryptionError, rerr.Kind)
}

func TestEncryptedDSMRParserChunkedOneByteAtATime(t *testing.T) {
	t.Parallel()

	plaintext := []byte(dsmr5Fixture)
	envelope := buildEnvelope(t, plaintext, testAAD)

	var c collector
	p := stream.NewEncryptedDSMRParser(c.onResult, stream.Options{DecryptionKey: testKey, AAD: testAAD})
	defer p.Destroy()

	for _, b := range envelope {
		p.OnData([]byte{b})
	}

	require.Len(t, c.readings, 1)
	assert.Equal(t, float64(123456), c.readings[0].Electricity.Total.Received)
}
