package sa

import (
	"github.com/chiselcore/skytun/internal/keyslot"
	"github.com/chiselcore/skytun/internal/replay"
)

// RX holds the decrypt worker's double SA slot: Primary is the currently
// trusted SA, Pending is the SA installed most recently while Primary
// still had in-flight traffic under the previous key. Window is the
// anti-replay state, authoritative over any per-SA packet-number field.
type RX struct {
	Primary SA
	Pending SA
	Window  replay.Window
}

// Install applies the double-slot rule: if Primary already has a cipher
// context, the new key goes into Pending; otherwise it becomes Primary
// directly (first key ever installed).
func (r *RX) Install(key [keyslot.KeyLen]byte, spi uint32) error {
	if r.Primary.Ready() {
		return r.Pending.InstallRX(key, spi)
	}
	return r.Primary.InstallRX(key, spi)
}

// PromotePending is called on first successful decrypt under Pending:
// Pending becomes Primary, the old Primary's cipher context is discarded,
// Pending is zeroed.
func (r *RX) PromotePending() {
	r.Primary = r.Pending
	r.Pending = SA{}
}
