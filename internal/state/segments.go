// Package state owns the full set of shared-memory segments skytun's
// worker processes communicate through, and decides which segments each
// worker receives across exec(2).
//
// The supervisor creates every segment before spawning any worker. Each
// worker is re-exec'd with exactly the segment file descriptors it needs
// passed via exec.Cmd.ExtraFiles, in a fixed order recorded in its Handles.
// A worker that never receives a segment's descriptor has no way to reach
// it — this is the whole of skytun's privilege separation at the memory
// level.
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

// Ring capacities. All four inter-worker queues share one capacity; it must
// be a power of two and no larger than ring.MaxCapacity.
const QueueCapacity = 2048

// segmentSpec names one shared-memory segment: its label (used as the
// memfd name, useful in /proc/<pid>/fd listings) and its fixed byte size.
type segmentSpec struct {
	label string
	size  int
}

// Segment names, in the fixed order they are created and handed out.
const (
	segClearQueue = iota
	segCryptoQueue
	segEncryptQueue
	segDecryptQueue
	segPoolFree
	segPoolArena
	segTXKey
	segRXKey
	segPeer
	segTXStats
	segRXStats
	segRXHint
	segCount
)

func specs() [segCount]segmentSpec {
	return [segCount]segmentSpec{
		segClearQueue:   {"skytun-clear-queue", ring.Size},
		segCryptoQueue:  {"skytun-crypto-queue", ring.Size},
		segEncryptQueue: {"skytun-encrypt-queue", ring.Size},
		segDecryptQueue: {"skytun-decrypt-queue", ring.Size},
		segPoolFree:     {"skytun-pool-free", ring.Size},
		segPoolArena:    {"skytun-pool-arena", packet.ArenaSize},
		segTXKey:        {"skytun-tx-key", keyslot.Size},
		segRXKey:        {"skytun-rx-key", keyslot.Size},
		segPeer:         {"skytun-peer", peeraddr.Size},
		segTXStats:      {"skytun-tx-stats", stats.Size},
		segRXStats:      {"skytun-rx-stats", stats.Size},
		segRXHint:       {"skytun-rx-hint", replay.Size},
	}
}

// Bundle is the supervisor-side view: every segment, mapped locally so the
// supervisor can initialize rings, slots, and the packet pool before any
// worker starts.
type Bundle struct {
	segs [segCount]*shm.Segment

	ClearQueue   *ring.Ring
	CryptoQueue  *ring.Ring
	EncryptQueue *ring.Ring
	DecryptQueue *ring.Ring
	PoolFree     *ring.Ring
	PoolArena    *packet.Arena
	TXKey        *keyslot.Slot
	RXKey        *keyslot.Slot
	Peer         *peeraddr.Cell
	TXStats      *stats.Counters
	RXStats      *stats.Counters
	RXHint       *replay.Hint
}

// Create allocates and maps every segment, initializes the rings and key
// slots to their empty states, and seeds the packet pool.
func Create() (*Bundle, error) {
	sp := specs()
	b := &Bundle{}

	for i, s := range sp {
		seg, err := shm.Create(s.label, s.size)
		if err != nil {
			return nil, fmt.Errorf("state: create segment %q: %w", s.label, err)
		}
		b.segs[i] = seg
	}

	b.ClearQueue = (*ring.Ring)(b.segs[segClearQueue].Ptr())
	b.CryptoQueue = (*ring.Ring)(b.segs[segCryptoQueue].Ptr())
	b.EncryptQueue = (*ring.Ring)(b.segs[segEncryptQueue].Ptr())
	b.DecryptQueue = (*ring.Ring)(b.segs[segDecryptQueue].Ptr())
	b.PoolFree = (*ring.Ring)(b.segs[segPoolFree].Ptr())
	b.PoolArena = (*packet.Arena)(b.segs[segPoolArena].Ptr())
	b.TXKey = (*keyslot.Slot)(b.segs[segTXKey].Ptr())
	b.RXKey = (*keyslot.Slot)(b.segs[segRXKey].Ptr())
	b.Peer = (*peeraddr.Cell)(b.segs[segPeer].Ptr())
	b.TXStats = (*stats.Counters)(b.segs[segTXStats].Ptr())
	b.RXStats = (*stats.Counters)(b.segs[segRXStats].Ptr())
	b.RXHint = (*replay.Hint)(b.segs[segRXHint].Ptr())

	for _, r := range []*ring.Ring{b.ClearQueue, b.CryptoQueue, b.EncryptQueue, b.DecryptQueue} {
		if err := ring.Init(r, QueueCapacity); err != nil {
			return nil, fmt.Errorf("state: init queue: %w", err)
		}
	}
	if err := packet.InitArena(b.PoolArena, b.PoolFree); err != nil {
		return nil, fmt.Errorf("state: init pool: %w", err)
	}
	keyslot.Init(b.TXKey)
	keyslot.Init(b.RXKey)

	return b, nil
}

// Handles describes, for one worker, the ordered list of segment indices it
// must receive across exec(2). Index order here becomes ExtraFiles order;
// fd 3 in the child is the segment named by indices[0], and so on.
type Handles struct {
	indices []int
}

func newHandles(indices ...int) Handles {
	return Handles{indices: indices}
}

// HandlesFor returns the fixed segment set for a named worker process.
func HandlesFor(proc string) (Handles, error) {
	switch proc {
	case "clear":
		return newHandles(segEncryptQueue, segClearQueue, segPoolFree, segPoolArena), nil
	case "crypto":
		return newHandles(segDecryptQueue, segCryptoQueue, segPoolFree, segPoolArena, segPeer, segRXHint), nil
	case "encrypt":
		return newHandles(segEncryptQueue, segCryptoQueue, segPoolFree, segPoolArena, segTXKey, segTXStats), nil
	case "decrypt":
		return newHandles(segDecryptQueue, segClearQueue, segPoolFree, segPoolArena, segRXKey, segPeer, segRXStats, segRXHint), nil
	case "keying":
		return newHandles(segTXKey, segRXKey), nil
	default:
		return Handles{}, fmt.Errorf("state: unknown worker process %q", proc)
	}
}

// ExtraFiles returns the *os.File list to pass as a spawned worker's
// exec.Cmd.ExtraFiles, in Handles order.
func (b *Bundle) ExtraFiles(h Handles) []*os.File {
	files := make([]*os.File, len(h.indices))
	for i, idx := range h.indices {
		files[i] = b.segs[idx].File()
	}
	return files
}

// SegmentSize returns the byte size of the segment with index idx, for a
// worker to map the inherited descriptor that carries it.
func SegmentSize(idx int) int {
	return specs()[idx].size
}

// Indices exposes which segment each position in a worker's ExtraFiles
// corresponds to, so the worker's main can dispatch to the right typed
// pointer after mapping.
func (h Handles) Indices() []int {
	return h.indices
}

// Names for the segment index constants, for worker-side switch statements
// without re-deriving the iota block.
const (
	SegClearQueue   = segClearQueue
	SegCryptoQueue  = segCryptoQueue
	SegEncryptQueue = segEncryptQueue
	SegDecryptQueue = segDecryptQueue
	SegPoolFree     = segPoolFree
	SegPoolArena    = segPoolArena
	SegTXKey        = segTXKey
	SegRXKey        = segRXKey
	SegPeer         = segPeer
	SegTXStats      = segTXStats
	SegRXStats      = segRXStats
	SegRXHint       = segRXHint
)
