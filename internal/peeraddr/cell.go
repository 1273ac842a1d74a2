// Package peeraddr holds the shared peer-address cell: two atomics,
// updated by the decrypt worker on peer roaming and read by the crypto
// worker when sending.
package peeraddr

import (
	"encoding/binary"
	"net"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// Cell is a fixed-layout shared cell holding the current peer endpoint in
// network byte order.
type Cell struct {
	ip   atomix.Uint32
	port atomix.Uint32
}

// Size is the fixed byte size of Cell, for sizing its segment.
var Size = int(unsafe.Sizeof(Cell{}))

// Store atomically sets the peer endpoint.
func (c *Cell) Store(ip net.IP, port uint16) {
	v4 := ip.To4()
	c.ip.StoreRelease(binary.BigEndian.Uint32(v4))
	c.port.StoreRelease(uint32(port))
}

// Load atomically reads the peer endpoint. Returns ok=false if no peer has
// ever been stored (the zero IP); callers should drop rather than send.
func (c *Cell) Load() (ip net.IP, port uint16, ok bool) {
	ipv := c.ip.LoadAcquire()
	if ipv == 0 {
		return nil, 0, false
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ipv)
	return net.IP(b[:]), uint16(c.port.LoadAcquire()), true
}

// Differs reports whether ip/port differ from the currently stored peer,
// for the roaming check on a successful decrypt.
func (c *Cell) Differs(ip net.IP, port uint16) bool {
	cur, curPort, ok := c.Load()
	if !ok {
		return true
	}
	return !cur.Equal(ip) || curPort != port
}
