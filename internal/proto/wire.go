// Package proto defines skytun's on-wire formats: the ESP-shaped
// encapsulation header and trailer, the keying control-plane request, and
// the operator status response.
package proto

import "encoding/binary"

// NextIPv4 is the fixed inner next-protocol value; IPv6 inner payloads are
// not supported.
const NextIPv4 = 4

// Header is the 16-byte ESP-shaped encapsulation header.
type Header struct {
	SPI uint32
	Seq uint32 // low 32 bits of PN, truncated sequence
	PN  uint64
}

// HeaderLen is the on-wire size of Header.
const HeaderLen = 16

// PutHeader writes h to buf[0:HeaderLen] in big-endian.
func PutHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.SPI)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint64(buf[8:16], h.PN)
}

// ParseHeader reads a Header from buf[0:HeaderLen].
func ParseHeader(buf []byte) Header {
	return Header{
		SPI: binary.BigEndian.Uint32(buf[0:4]),
		Seq: binary.BigEndian.Uint32(buf[4:8]),
		PN:  binary.BigEndian.Uint64(buf[8:16]),
	}
}

// Trailer is the 2-byte ESP-shaped trailer.
type Trailer struct {
	Pad  uint8
	Next uint8
}

// TrailerLen is the on-wire size of Trailer.
const TrailerLen = 2

// PutTrailer writes t to buf[0:TrailerLen].
func PutTrailer(buf []byte, t Trailer) {
	buf[0] = t.Pad
	buf[1] = t.Next
}

// ParseTrailer reads a Trailer from buf[0:TrailerLen].
func ParseTrailer(buf []byte) Trailer {
	return Trailer{Pad: buf[0], Next: buf[1]}
}

// Valid reports whether t matches the fixed expectations for an inbound
// packet: no ESP padding, inner next-proto is always IPv4.
func (t Trailer) Valid() bool {
	return t.Pad == 0 && t.Next == NextIPv4
}
