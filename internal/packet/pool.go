package packet

import (
	"fmt"
	"unsafe"

	"github.com/chiselcore/skytun/internal/ring"
)

// Arena is the fixed backing array for the packet pool, meant to occupy one
// shared segment on its own (it is by far the largest: PoolSize * Size
// bytes, roughly 2MB at the defaults).
type Arena struct {
	Buffers [PoolSize]Buffer
}

// ArenaSize is the fixed byte size of an Arena, for sizing its segment.
var ArenaSize = int(unsafe.Sizeof(Arena{}))

// Pool hands out Buffer pointers backed by a fixed arena and a free-index
// ring, with no allocator calls on the hot path.
type Pool struct {
	arena *Arena
	free  *ring.Ring
}

// NewPool wraps an already-mapped arena and free-list ring. Callers (the
// supervisor, or a worker that received both segments) are responsible for
// the underlying shm.Segment lifetimes.
func NewPool(arena *Arena, free *ring.Ring) *Pool {
	return &Pool{arena: arena, free: free}
}

// InitArena populates the free ring with every slot index in the arena.
// Called once, by the supervisor, before any worker starts.
func InitArena(arena *Arena, free *ring.Ring) error {
	if err := ring.Init(free, PoolSize); err != nil {
		return fmt.Errorf("packet: init pool free ring: %w", err)
	}
	for i := uint32(0); i < PoolSize; i++ {
		if err := free.Enqueue(i); err != nil {
			return fmt.Errorf("packet: seed pool index %d: %w", i, err)
		}
	}
	_ = arena
	return nil
}

// Get returns a reinitialized buffer, or ErrWouldBlock ("pool empty") if
// none are available.
func (p *Pool) Get() (*Buffer, error) {
	idx, err := p.free.Dequeue()
	if err != nil {
		return nil, err
	}
	buf := &p.arena.Buffers[idx]
	buf.Reset()
	return buf, nil
}

// Put returns a buffer to the pool by its arena index.
func (p *Pool) Put(idx uint32) error {
	return p.free.Enqueue(idx)
}

// Index returns buf's offset into this pool's arena, for enqueueing onto a
// work ring.
func (p *Pool) Index(buf *Buffer) uint32 {
	off := uintptr(unsafe.Pointer(buf)) - uintptr(unsafe.Pointer(&p.arena.Buffers[0]))
	return uint32(off / uintptr(Size))
}

// At resolves an arena index back to a local buffer pointer.
func (p *Pool) At(idx uint32) *Buffer {
	return &p.arena.Buffers[idx]
}
