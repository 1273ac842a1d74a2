package state

import (
	"fmt"
	"os"

	"github.com/chiselcore/skytun/internal/keyslot"
	"github.com/chiselcore/skytun/internal/packet"
	"github.com/chiselcore/skytun/internal/peeraddr"
	"github.com/chiselcore/skytun/internal/replay"
	"github.com/chiselcore/skytun/internal/ring"
	"github.com/chiselcore/skytun/internal/shm"
	"github.com/chiselcore/skytun/internal/stats"
)

// extraFilesFD is the first inherited file descriptor number in a child
// started with exec.Cmd.ExtraFiles (0, 1, 2 are stdin/stdout/stderr).
const extraFilesFD = 3

// WorkerSegments is a worker process's view of its inherited segments,
// keyed by the same segment index constants the supervisor used to build
// its Handles.
type WorkerSegments struct {
	byIndex map[int]*shm.Segment
}

// OpenWorker maps every segment a worker inherited via ExtraFiles,
// matching each inherited descriptor (fd 3, 4, ...) to the segment index
// recorded in h, in order.
func OpenWorker(h Handles) (*WorkerSegments, error) {
	ws := &WorkerSegments{byIndex: make(map[int]*shm.Segment, len(h.indices))}
	for i, idx := range h.indices {
		fd := uintptr(extraFilesFD + i)
		seg, err := shm.Open(fd, SegmentSize(idx))
		if err != nil {
			return nil, fmt.Errorf("state: open inherited segment fd %d: %w", fd, err)
		}
		ws.byIndex[idx] = seg
	}
	return ws, nil
}

func (ws *WorkerSegments) segment(idx int) (*shm.Segment, error) {
	seg, ok := ws.byIndex[idx]
	if !ok {
		return nil, fmt.Errorf("state: segment index %d not inherited by this worker", idx)
	}
	return seg, nil
}

// Ring resolves an inherited ring segment.
func (ws *WorkerSegments) Ring(idx int) (*ring.Ring, error) {
	seg, err := ws.segment(idx)
	if err != nil {
		return nil, err
	}
	return (*ring.Ring)(seg.Ptr()), nil
}

// Arena resolves the inherited packet pool arena.
func (ws *WorkerSegments) Arena(idx int) (*packet.Arena, error) {
	seg, err := ws.segment(idx)
	if err != nil {
		return nil, err
	}
	return (*packet.Arena)(seg.Ptr()), nil
}

// KeySlot resolves an inherited key slot.
func (ws *WorkerSegments) KeySlot(idx int) (*keyslot.Slot, error) {
	seg, err := ws.segment(idx)
	if err != nil {
		return nil, err
	}
	return (*keyslot.Slot)(seg.Ptr()), nil
}

// Peer resolves the inherited peer-address cell.
func (ws *WorkerSegments) Peer(idx int) (*peeraddr.Cell, error) {
	seg, err := ws.segment(idx)
	if err != nil {
		return nil, err
	}
	return (*peeraddr.Cell)(seg.Ptr()), nil
}

// Stats resolves an inherited observability counters cell.
func (ws *WorkerSegments) Stats(idx int) (*stats.Counters, error) {
	seg, err := ws.segment(idx)
	if err != nil {
		return nil, err
	}
	return (*stats.Counters)(seg.Ptr()), nil
}

// Hint resolves the inherited anti-replay hint cell.
func (ws *WorkerSegments) Hint(idx int) (*replay.Hint, error) {
	seg, err := ws.segment(idx)
	if err != nil {
		return nil, err
	}
	return (*replay.Hint)(seg.Ptr()), nil
}

// File exposes the raw inherited file, for workers that need the
// descriptor directly rather than through a typed accessor.
func (ws *WorkerSegments) File(idx int) (*os.File, error) {
	seg, err := ws.segment(idx)
	if err != nil {
		return nil, err
	}
	return seg.File(), nil
}
