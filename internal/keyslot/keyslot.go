// Package keyslot implements the shared-memory key hand-off protocol between
// the keying worker and a data-plane worker.
//
// Transitions form a ring EMPTY -> GENERATING -> PENDING -> INSTALLING ->
// EMPTY, each performed by exactly one side via CAS. Any CAS that observes a
// state outside the expected one is a single-writer invariant violation and
// is fatal to the whole system — callers get that back as an error and are
// expected to abort rather than retry.
package keyslot

import (
	"errors"
	"fmt"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// State values for the slot's 4-state tag.
const (
	Empty = iota
	Generating
	Pending
	Installing
)

// KeyLen is the raw symmetric key size (AES-256).
const KeyLen = 32

// ErrCorrupt indicates a CAS observed a state outside the expected one —
// the single-writer invariant was violated. Fatal; see package doc.
var ErrCorrupt = errors.New("keyslot: unexpected state transition, single-writer invariant violated")

// Slot is the fixed-layout shared cell. No slices or pointers, so the same
// bytes are valid mapped at independent addresses in different processes.
type Slot struct {
	state atomix.Uint32
	spi   atomix.Uint32
	key   [KeyLen]byte
}

// Size is the fixed byte size of a Slot, for sizing its segment.
var Size = int(unsafe.Sizeof(Slot{}))

// Init zeroes a freshly mapped slot to the Empty state.
func Init(s *Slot) {
	s.state.StoreRelaxed(Empty)
	s.spi.StoreRelaxed(0)
	s.key = [KeyLen]byte{}
}

// Publish is called by the keying worker to hand a fresh key to a
// data-plane worker. It spins until the slot is Empty, then walks it
// through Generating to Pending.
func Publish(s *Slot, spi uint32, key [KeyLen]byte) error {
	sw := spin.Wait{}
	for !s.state.CompareAndSwapAcqRel(Empty, Generating) {
		sw.Once()
	}

	s.spi.StoreRelease(spi)
	s.key = key

	if !s.state.CompareAndSwapAcqRel(Generating, Pending) {
		return fmt.Errorf("%w: expected Generating, state=%d", ErrCorrupt, s.state.LoadAcquire())
	}
	return nil
}

// Install is called by a data-plane worker (encrypt or decrypt) to pick up
// a pending key. If no key is pending it returns (zero, 0, false, nil):
// "no work", not an error.
func Install(s *Slot) (key [KeyLen]byte, spi uint32, ok bool, err error) {
	if s.state.LoadAcquire() != Pending {
		return key, 0, false, nil
	}

	if !s.state.CompareAndSwapAcqRel(Pending, Installing) {
		// Only one data-plane worker ever installs from this slot and the
		// keying side never leaves Pending, so a failed CAS here means the
		// single-writer invariant was violated.
		return key, 0, false, fmt.Errorf("%w: expected Pending, state=%d", ErrCorrupt, s.state.LoadAcquire())
	}

	spi = s.spi.LoadAcquire()
	key = s.key

	// Wipe the key bytes in the shared slot once ownership transfers.
	s.key = [KeyLen]byte{}

	if !s.state.CompareAndSwapAcqRel(Installing, Empty) {
		return key, spi, false, fmt.Errorf("%w: expected Installing, state=%d", ErrCorrupt, s.state.LoadAcquire())
	}

	return key, spi, true, nil
}
