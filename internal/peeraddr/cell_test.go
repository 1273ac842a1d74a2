package peeraddr_test

import (
	"net"
	"testing"

	"github.com/chiselcore/skytun/internal/peeraddr"
)

func TestLoadBeforeStoreIsNotOK(t *testing.T) {
	var c peeraddr.Cell
	if _, _, ok := c.Load(); ok {
		t.Fatalf("Load before any Store: got ok=true, want false")
	}
}

func TestStoreThenLoadRoundTrip(t *testing.T) {
	var c peeraddr.Cell
	ip := net.ParseIP("203.0.113.7")
	c.Store(ip, 51820)

	got, port, ok := c.Load()
	if !ok {
		t.Fatalf("Load after Store: got ok=false, want true")
	}
	if !got.Equal(ip) {
		t.Fatalf("Load: got ip %v, want %v", got, ip)
	}
	if port != 51820 {
		t.Fatalf("Load: got port %d, want 51820", port)
	}
}

func TestDiffersBeforeAnyStore(t *testing.T) {
	var c peeraddr.Cell
	if !c.Differs(net.ParseIP("10.0.0.1"), 4500) {
		t.Fatalf("Differs with no stored peer: got false, want true")
	}
}

func TestDiffersDetectsIPAndPortChange(t *testing.T) {
	var c peeraddr.Cell
	c.Store(net.ParseIP("198.51.100.1"), 4500)

	if c.Differs(net.ParseIP("198.51.100.1"), 4500) {
		t.Fatalf("Differs with identical ip/port: got true, want false")
	}
	if !c.Differs(net.ParseIP("198.51.100.2"), 4500) {
		t.Fatalf("Differs with changed ip: got false, want true")
	}
	if !c.Differs(net.ParseIP("198.51.100.1"), 4501) {
		t.Fatalf("Differs with changed port: got false, want true")
	}
}

func TestStoreOverwritesPreviousPeer(t *testing.T) {
	var c peeraddr.Cell
	c.Store(net.ParseIP("192.0.2.1"), 1000)
	c.Store(net.ParseIP("192.0.2.2"), 2000)

	got, port, ok := c.Load()
	if !ok {
		t.Fatalf("Load: got ok=false, want true")
	}
	if !got.Equal(net.ParseIP("192.0.2.2")) || port != 2000 {
		t.Fatalf("Load after second Store: got %v:%d, want 192.0.2.2:2000", got, port)
	}
}
