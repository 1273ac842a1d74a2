// Package packet defines the fixed-size packet buffer and the shared pool
// that hands buffers to workers without allocator calls on the hot path.
//
// Buffers live in one big arena segment as a fixed [PoolSize]Buffer array;
// workers address a buffer by its index into that array (see internal/ring's
// doc comment for why an index, not a pointer, is required once workers are
// independent re-exec'd processes rather than fork(2) children). A Buffer
// itself has no atomics: ownership of a given slot is always held by exactly
// one worker at a time, handed off by enqueueing/dequeueing its index on a
// ring, so plain fields are safe — the ring's acquire/release ordering on
// the index is what makes the handoff visible.
package packet

import "unsafe"

// Worker targets a packet buffer can be destined for, mirroring the four
// data-plane hops between workers.
const (
	TargetNone = iota
	TargetEncrypt
	TargetCrypto
	TargetDecrypt
	TargetClear
)

const (
	// HeaderLen is the ESP-shaped encapsulation header: 32-bit SPI,
	// 32-bit truncated sequence, 64-bit packet number.
	HeaderLen = 16

	// MaxInnerLen is the largest inner IPv4 datagram skytun carries.
	// Jumbo frames are out of scope; this is an MTU-class-1500 design.
	MaxInnerLen = 1500

	// TrailerLen is the ESP-shaped trailer: pad length + next-proto.
	TrailerLen = 2

	// TagLen is the AES-256-GCM authentication tag length.
	TagLen = 16

	// MinReadLen is the minimum size accepted from the tunnel device or
	// the wire; shorter reads are treated as garbage and dropped.
	MinReadLen = 12

	// capacityLen is the buffer's total usable byte capacity, rounded up
	// to a convenient page-friendly size.
	capacityLen = 2048

	// PoolSize is the fixed number of buffers in the pool.
	PoolSize = 1024
)

// Buffer is a fixed-capacity packet buffer. Head, data and tail are semantic
// views into the same underlying array rather than separate storage.
type Buffer struct {
	// Length is the current payload size in bytes, interpreted relative
	// to whichever stage is holding the buffer (plaintext length before
	// encrypt, full wire length after).
	Length uint32

	// Target identifies which worker this buffer is destined for next.
	Target uint32

	// SrcAddr is the source address observed on receive, used for peer
	// roaming detection.
	SrcIP   [4]byte
	SrcPort uint16

	_ [2]byte // alignment padding

	Data [capacityLen]byte
}

// Size is the fixed byte size of a Buffer, for sizing the pool arena.
var Size = int(unsafe.Sizeof(Buffer{}))

// Reset clears a buffer to its just-allocated state (length=0, target=0).
// Pool.Get calls this before handing a buffer out.
func (b *Buffer) Reset() {
	b.Length = 0
	b.Target = TargetNone
	b.SrcIP = [4]byte{}
	b.SrcPort = 0
}

// Bytes returns the full capacity of the buffer as a slice, for callers that
// need to read/write raw bytes (header, ciphertext, trailer) at explicit
// offsets.
func (b *Buffer) Bytes() []byte {
	return b.Data[:]
}
