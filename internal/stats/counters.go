// Package stats holds the per-direction observability counters: a
// single-writer, multi-reader cell updated with plain atomic store/load and
// no fencing beyond release ordering.
package stats

import (
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// Counters is a fixed-layout shared cell for one direction (TX or RX).
type Counters struct {
	SPI   atomix.Uint32
	Pkt   atomix.Uint64
	Bytes atomix.Uint64
	Last  atomix.Uint64 // wall-clock Unix seconds of last packet (not a monotonic clock)
}

// Size is the fixed byte size of Counters, for sizing its segment.
var Size = int(unsafe.Sizeof(Counters{}))

// Record updates the counters after a successful packet on this direction.
// Called by exactly one worker (encrypt for TX, decrypt for RX).
func (c *Counters) Record(spi uint32, n int) {
	c.SPI.StoreRelease(spi)
	c.Pkt.AddAcqRel(1)
	c.Bytes.AddAcqRel(uint64(n))
	c.Last.StoreRelease(uint64(time.Now().Unix()))
}

// Snapshot is a point-in-time read of Counters, safe to copy and send over
// the status control plane.
type Snapshot struct {
	SPI   uint32
	Pkt   uint64
	Bytes uint64
	Last  uint64
}

// Load takes a consistent-enough snapshot for reporting purposes. Fields
// are read independently; there is no transactional guarantee across them.
func (c *Counters) Load() Snapshot {
	return Snapshot{
		SPI:   c.SPI.LoadAcquire(),
		Pkt:   c.Pkt.LoadAcquire(),
		Bytes: c.Bytes.LoadAcquire(),
		Last:  c.Last.LoadAcquire(),
	}
}
