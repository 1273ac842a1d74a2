// Package sa implements the per-direction Security Association state held
// privately by the encrypt and decrypt workers, and the RX double-slot
// rekey-handoff scheme.
package sa

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/chiselcore/skytun/internal/keyslot"
)

// SaltLen is the size of the SA-scoped salt, the first 4 bytes of the
// 12-byte AEAD nonce.
const SaltLen = 4

// NonceLen and TagLen mirror the on-wire AEAD constants.
const (
	NonceLen = 12
	TagLen   = 16
)

// SA is one direction's installed Security Association. It is process-local
// (not shared memory): only the owning worker ever reads or writes it.
type SA struct {
	SPI    uint32
	Salt   uint32
	PN     uint64 // TX: next packet number to assign. RX: unused, see replay.Window.
	cipher cipher.AEAD
}

// Ready reports whether a cipher context has been installed.
func (s *SA) Ready() bool {
	return s.cipher != nil
}

// deriveSalt derives the nonce salt from the SPI directly: both ends arrive
// at the same salt independently from the SPI they were each told to use,
// so no separate exchange is needed.
func deriveSalt(spi uint32) uint32 {
	return spi
}

// InstallTX replaces the current TX SA. The caller destroys the previous
// cipher context unconditionally: TX has no hand-off window, unlike RX.
// There is nothing to destroy at the Go GC level, but the sequence point
// still matters for when encryption under the new key may resume.
func (s *SA) InstallTX(key [keyslot.KeyLen]byte, spi uint32) error {
	blk, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("sa: aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(blk)
	if err != nil {
		return fmt.Errorf("sa: cipher.NewGCM: %w", err)
	}

	s.SPI = spi
	s.Salt = deriveSalt(spi)
	s.PN = 1 // TX packet numbers start at 1.
	s.cipher = gcm
	return nil
}

// InstallRX configures s as a fresh RX SA. PN/last are tracked separately
// by the anti-replay window, not here.
func (s *SA) InstallRX(key [keyslot.KeyLen]byte, spi uint32) error {
	blk, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("sa: aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(blk)
	if err != nil {
		return fmt.Errorf("sa: cipher.NewGCM: %w", err)
	}

	s.SPI = spi
	s.Salt = deriveSalt(spi)
	s.PN = 0 // unused for RX; replay.Window is authoritative.
	s.cipher = gcm
	return nil
}

// Nonce builds the 12-byte AEAD nonce: 4-byte salt || 8-byte big-endian
// packet number.
func (s *SA) Nonce(pn uint64) [NonceLen]byte {
	var n [NonceLen]byte
	binary.BigEndian.PutUint32(n[0:4], s.Salt)
	binary.BigEndian.PutUint64(n[4:12], pn)
	return n
}

// AAD builds the 4-byte SPI || 8-byte big-endian packet number associated
// data.
func AAD(spi uint32, pn uint64) [12]byte {
	var a [12]byte
	binary.BigEndian.PutUint32(a[0:4], spi)
	binary.BigEndian.PutUint64(a[4:12], pn)
	return a
}

// Seal encrypts plaintext in place (dst may alias plaintext's backing
// array with room for the tag) under packet number pn, returning the
// ciphertext+tag.
func (s *SA) Seal(dst, plaintext []byte, pn uint64) []byte {
	nonce := s.Nonce(pn)
	aad := AAD(s.SPI, pn)
	return s.cipher.Seal(dst[:0], nonce[:], plaintext, aad[:])
}

// Open authenticates and decrypts ciphertext (which includes the trailing
// tag) in place under packet number pn.
func (s *SA) Open(dst, ciphertext []byte, pn uint64) ([]byte, error) {
	nonce := s.Nonce(pn)
	aad := AAD(s.SPI, pn)
	return s.cipher.Open(dst[:0], nonce[:], ciphertext, aad[:])
}

// TakePN returns the next TX packet number and advances the counter.
// Overflow past 2^64-1 is a fatal invariant violation; a warning threshold
// at 2^48 is the caller's responsibility since forcing a rekey is a
// control-plane decision this package has no part in.
const (
	// RekeyWarnThreshold is the recommended mandatory-rekey point.
	RekeyWarnThreshold = 1 << 48
	// AbortThreshold is the recommended hard abort point.
	AbortThreshold = 1 << 63
)

// ErrExhausted is returned by TakePN once PN has reached AbortThreshold.
var ErrExhausted = fmt.Errorf("sa: tx packet number exhausted, rekey required")

func (s *SA) TakePN() (uint64, error) {
	if s.PN >= AbortThreshold {
		return 0, ErrExhausted
	}
	pn := s.PN
	s.PN++
	return pn, nil
}
