// Package crc implements the two reflected CRC-16 variants the P1 port
// uses: CRC-16/ARC for DSMR telegrams and CRC-16/IBM-SDLC for HDLC frames.
package crc

import "github.com/howeyc/crc16"

// Codec is a reflected CRC-16 parameterized by polynomial (via a
// howeyc/crc16 table), initial value and final xor-out. Both DSMR and
// HDLC checksums share the same reflected, LSB-first update; they only
// differ in polynomial, init and xorout.
type Codec struct {
	table  *crc16.Table
	init   uint16
	xorOut uint16
}

// Checksum computes the CRC-16 of data under this codec. howeyc/crc16's
// Update complements the running value on entry and on return; both
// complements are undone here so init and xorOut apply exactly as given.
func (c Codec) Checksum(data []byte) uint16 {
	return ^crc16.Update(^c.init, c.table, data) ^ c.xorOut
}

// ARC is CRC-16/ARC: poly 0x8005 (reflected 0xA001), init 0x0000, xorout
// 0x0000. Used to validate the DSMR telegram trailer.
var ARC = Codec{
	table:  crc16.MakeTable(crc16.IBM),
	init:   0x0000,
	xorOut: 0x0000,
}

// IBMSDLC is CRC-16/IBM-SDLC (a.k.a. X.25): poly 0x1021 (reflected
// 0x8408), init 0xFFFF, xorout 0xFFFF. Used for HDLC header/footer CRCs.
var IBMSDLC = Codec{
	table:  crc16.MakeTable(crc16.CCITT),
	init:   0xFFFF,
	xorOut: 0xFFFF,
}
