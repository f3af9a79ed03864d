package crc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/p1decoder/p1core/pkg/crc"
)

func TestARC(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want uint16
	}{
		{"check value", "123456789", 0xBB3D},
		{"empty", "", 0x0000},
		{"hello world", "Hello, world!", 0x9A4A},
		{"pangram", "The quick brown fox jumps over the lazy dog", 0xFCDF},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, crc.ARC.Checksum([]byte(tc.in)))
		})
	}
}

func TestIBMSDLC(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want uint16
	}{
		{"check value", "123456789", 0x906E},
		{"hello world", "Hello, world!", 0x1EB5},
		{"empty", "", 0x0000},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, crc.IBMSDLC.Checksum([]byte(tc.in)))
		})
	}
}

func TestDSMRTelegramCRC(t *testing.T) {
	t.Parallel()

	telegram := "/TST512345\r\n\r\nHello, world!\r\n!25b5\r\n"
	body := telegram[:len(telegram)-6] // up through and including "!"
	got := crc.ARC.Checksum([]byte(body))
	assert.Equal(t, uint16(0x25b5), got)
	assert.NotEqual(t, uint16(0x25b6), got)
}
