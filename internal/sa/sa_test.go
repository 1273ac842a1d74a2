package sa_test

import (
	"testing"

	"github.com/chiselcore/skytun/internal/keyslot"
	"github.com/chiselcore/skytun/internal/sa"
)

func testKey(b byte) [keyslot.KeyLen]byte {
	var k [keyslot.KeyLen]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	var tx, rx sa.SA
	key := testKey(0x11)

	if err := tx.InstallTX(key, 42); err != nil {
		t.Fatalf("InstallTX: %v", err)
	}
	if err := rx.InstallRX(key, 42); err != nil {
		t.Fatalf("InstallRX: %v", err)
	}

	plaintext := []byte("hello skytun, this is an inner ip packet")
	pn, err := tx.TakePN()
	if err != nil {
		t.Fatalf("TakePN: %v", err)
	}

	buf := make([]byte, 0, len(plaintext)+sa.TagLen)
	buf = append(buf, plaintext...)
	sealed := tx.Seal(buf[:0], buf, pn)

	opened, err := rx.Open(sealed[:0], sealed, pn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if string(opened) != string(plaintext) {
		t.Fatalf("Open: got %q, want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var tx, rx sa.SA
	key := testKey(0x22)

	if err := tx.InstallTX(key, 1); err != nil {
		t.Fatalf("InstallTX: %v", err)
	}
	if err := rx.InstallRX(key, 1); err != nil {
		t.Fatalf("InstallRX: %v", err)
	}

	pn, err := tx.TakePN()
	if err != nil {
		t.Fatalf("TakePN: %v", err)
	}

	plaintext := []byte("authenticate me")
	sealed := tx.Seal(nil, plaintext, pn)
	sealed[0] ^= 0xff

	if _, err := rx.Open(nil, sealed, pn); err == nil {
		t.Fatalf("Open of tampered ciphertext: got nil error, want auth failure")
	}
}

func TestOpenRejectsWrongPacketNumber(t *testing.T) {
	var tx, rx sa.SA
	key := testKey(0x33)

	if err := tx.InstallTX(key, 9); err != nil {
		t.Fatalf("InstallTX: %v", err)
	}
	if err := rx.InstallRX(key, 9); err != nil {
		t.Fatalf("InstallRX: %v", err)
	}

	pn, err := tx.TakePN()
	if err != nil {
		t.Fatalf("TakePN: %v", err)
	}
	sealed := tx.Seal(nil, []byte("payload"), pn)

	if _, err := rx.Open(nil, sealed, pn+1); err == nil {
		t.Fatalf("Open with wrong pn: got nil error, want auth failure")
	}
}

func TestOpenRejectsWrongSPIDerivedSalt(t *testing.T) {
	var tx, rx sa.SA
	key := testKey(0x44)

	if err := tx.InstallTX(key, 5); err != nil {
		t.Fatalf("InstallTX: %v", err)
	}
	if err := rx.InstallRX(key, 6); err != nil {
		t.Fatalf("InstallRX with different SPI: %v", err)
	}

	pn, err := tx.TakePN()
	if err != nil {
		t.Fatalf("TakePN: %v", err)
	}
	sealed := tx.Seal(nil, []byte("payload"), pn)

	if _, err := rx.Open(nil, sealed, pn); err == nil {
		t.Fatalf("Open with mismatched SPI: got nil error, want auth failure")
	}
}

func TestTakePNAdvancesAndAborts(t *testing.T) {
	var tx sa.SA
	if err := tx.InstallTX(testKey(1), 1); err != nil {
		t.Fatalf("InstallTX: %v", err)
	}

	first, err := tx.TakePN()
	if err != nil {
		t.Fatalf("TakePN: %v", err)
	}
	if first != 1 {
		t.Fatalf("first TakePN: got %d, want 1 (TX starts at 1)", first)
	}

	second, err := tx.TakePN()
	if err != nil {
		t.Fatalf("TakePN: %v", err)
	}
	if second != first+1 {
		t.Fatalf("second TakePN: got %d, want %d", second, first+1)
	}

	tx.PN = sa.AbortThreshold
	if _, err := tx.TakePN(); err != sa.ErrExhausted {
		t.Fatalf("TakePN at abort threshold: got %v, want ErrExhausted", err)
	}
}

func TestRXDoubleSlotHandoff(t *testing.T) {
	var rx sa.RX

	keyA := testKey(0xaa)
	if err := rx.Install(keyA, 1); err != nil {
		t.Fatalf("Install first key: %v", err)
	}
	if !rx.Primary.Ready() {
		t.Fatalf("first key did not become Primary")
	}
	if rx.Pending.Ready() {
		t.Fatalf("Pending should be empty after first install")
	}

	keyB := testKey(0xbb)
	if err := rx.Install(keyB, 2); err != nil {
		t.Fatalf("Install second key: %v", err)
	}
	if !rx.Pending.Ready() {
		t.Fatalf("second key did not land in Pending")
	}
	if rx.Primary.SPI != 1 {
		t.Fatalf("Primary SPI changed: got %d, want 1", rx.Primary.SPI)
	}

	rx.PromotePending()
	if rx.Primary.SPI != 2 {
		t.Fatalf("PromotePending: Primary SPI got %d, want 2", rx.Primary.SPI)
	}
	if rx.Pending.Ready() {
		t.Fatalf("PromotePending: Pending still ready after promotion")
	}
}
