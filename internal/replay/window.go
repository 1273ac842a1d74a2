// Package replay implements the 64-bit sliding-window anti-replay bitmap.
//
// Window is owned exclusively by the decrypt worker; it is not an atomic
// shared cell like the key slot or ring cursors — there is exactly one
// writer and no concurrent reader other than the eager pre-check the crypto
// worker runs against a separately published "last" hint, so plain fields
// suffice here.
package replay

import "errors"

// ErrCorrupt is returned by Update when the pre-check and the update
// disagree about whether pn advances last — an internal invariant failure,
// treated as fatal rather than silently ignored.
var ErrCorrupt = errors.New("replay: window corrupt")

// Window is a 64-bit bitmap paired with the highest accepted packet number.
// Bit 63 represents Last; bit i (0 <= i < 64) represents Last-(63-i).
type Window struct {
	Bitmap uint64
	Last   uint64
}

// Check runs the acceptance test without mutating state. Returns true if
// pn would be accepted.
func (w *Window) Check(pn uint64) bool {
	if pn == 0 {
		return false
	}
	if pn > w.Last {
		return true
	}
	delta := w.Last - pn
	if delta < 64 {
		bit := uint64(1) << (63 - delta)
		return w.Bitmap&bit == 0
	}
	return false
}

// Update advances the window after pn has been authoritatively accepted
// (i.e. after AEAD verification succeeded). The caller must have just
// called Check(pn) and seen true; a mismatch here is an internal error.
func (w *Window) Update(pn uint64) error {
	if pn > w.Last {
		delta := pn - w.Last
		if delta >= 64 {
			w.Bitmap = 1 << 63
		} else {
			w.Bitmap >>= delta
			w.Bitmap |= 1 << 63
		}
		w.Last = pn
		return nil
	}

	delta := w.Last - pn
	if delta >= 64 {
		return ErrCorrupt
	}
	bit := uint64(1) << (63 - delta)
	if w.Bitmap&bit != 0 {
		return ErrCorrupt
	}
	w.Bitmap |= bit
	return nil
}
