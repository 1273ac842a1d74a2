package packet_test

import (
	"testing"

	"github.com/chiselcore/skytun/internal/packet"
	"github.com/chiselcore/skytun/internal/ring"
)

func newPool(t *testing.T) *packet.Pool {
	t.Helper()
	arena := &packet.Arena{}
	free := &ring.Ring{}
	if err := packet.InitArena(arena, free); err != nil {
		t.Fatalf("InitArena: %v", err)
	}
	return packet.NewPool(arena, free)
}

func TestGetReturnsResetBuffer(t *testing.T) {
	p := newPool(t)

	buf, err := p.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if buf.Length != 0 || buf.Target != packet.TargetNone {
		t.Fatalf("Get: buffer not reset, got Length=%d Target=%d", buf.Length, buf.Target)
	}
}

func TestIndexAtRoundTrip(t *testing.T) {
	p := newPool(t)

	buf, err := p.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	buf.Length = 42

	idx := p.Index(buf)
	got := p.At(idx)
	if got != buf {
		t.Fatalf("At(Index(buf)): got different pointer")
	}
	if got.Length != 42 {
		t.Fatalf("At(Index(buf)).Length: got %d, want 42", got.Length)
	}
}

func TestPutReturnsBufferToPool(t *testing.T) {
	p := newPool(t)

	buf, err := p.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	idx := p.Index(buf)
	buf.Length = 99

	if err := p.Put(idx); err != nil {
		t.Fatalf("Put: %v", err)
	}

	buf2, err := p.Get()
	if err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
	if buf2.Length != 0 {
		t.Fatalf("Get after Put: got Length=%d, want 0 (reset)", buf2.Length)
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := newPool(t)

	for i := 0; i < packet.PoolSize; i++ {
		if _, err := p.Get(); err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
	}

	if _, err := p.Get(); err == nil {
		t.Fatalf("Get beyond PoolSize: got nil error, want non-nil")
	}
}
