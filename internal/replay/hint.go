package replay

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// Hint is a shared, single-field cell publishing the decrypt worker's
// highest accepted packet number, so the crypto worker can cheaply discard
// obviously-stale datagrams before handing them off, without holding (or
// needing) the full Window itself.
type Hint struct {
	last atomix.Uint64
}

// Size is the fixed byte size of Hint, for sizing its segment.
var Size = int(unsafe.Sizeof(Hint{}))

// Publish is called by the decrypt worker after Window.Update succeeds.
func (h *Hint) Publish(pn uint64) {
	h.last.StoreRelease(pn)
}

// StaleBefore reports whether pn is certainly too old to ever be accepted,
// i.e. farther behind the published high-water mark than the window width.
// A false result is not a guarantee of acceptance — only Window.Check in
// the decrypt worker is authoritative — but it lets the crypto worker drop
// without ever forwarding across the ring.
func (h *Hint) StaleBefore(pn uint64) bool {
	last := h.last.LoadAcquire()
	if pn == 0 {
		return true
	}
	if pn > last {
		return false
	}
	return last-pn >= 64
}
