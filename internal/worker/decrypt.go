package worker

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"code.hybscloud.com/iox"

	"github.com/chiselcore/skytun/internal/keyslot"
	"github.com/chiselcore/skytun/internal/packet"
	"github.com/chiselcore/skytun/internal/peeraddr"
	"github.com/chiselcore/skytun/internal/proto"
	"github.com/chiselcore/skytun/internal/replay"
	"github.com/chiselcore/skytun/internal/ring"
	"github.com/chiselcore/skytun/internal/sa"
	"github.com/chiselcore/skytun/internal/state"
	"github.com/chiselcore/skytun/internal/stats"
)

// Decrypt runs the decrypt worker: it holds the RX double-slot SA, verifies
// and opens every ESP-shaped datagram crypto hands it, and is the only
// worker that ever promotes a rekeyed SA or moves the peer address.
//
// A buffer destined for decrypt holds the full wire frame (header, then
// ciphertext+tag) at offset 0, with Length the total wire size, exactly as
// crypto received it off the socket. On acceptance it becomes bare
// plaintext at offset packet.HeaderLen, Length the plaintext size, and
// moves on to the clear worker.
func Decrypt(ctx context.Context, log *zap.SugaredLogger, ws *state.WorkerSegments) error {
	decryptQueue, err := ws.Ring(state.SegDecryptQueue)
	if err != nil {
		return err
	}
	clearQueue, err := ws.Ring(state.SegClearQueue)
	if err != nil {
		return err
	}
	free, err := ws.Ring(state.SegPoolFree)
	if err != nil {
		return err
	}
	arena, err := ws.Arena(state.SegPoolArena)
	if err != nil {
		return err
	}
	pool := packet.NewPool(arena, free)

	rxKeySlot, err := ws.KeySlot(state.SegRXKey)
	if err != nil {
		return err
	}
	peer, err := ws.Peer(state.SegPeer)
	if err != nil {
		return err
	}
	rxStats, err := ws.Stats(state.SegRXStats)
	if err != nil {
		return err
	}
	hint, err := ws.Hint(state.SegRXHint)
	if err != nil {
		return err
	}

	var rx sa.RX

	log.Infow("decrypt worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := installRXKey(rxKeySlot, &rx); err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}

		did := false
		for {
			idx, err := decryptQueue.Dequeue()
			if err != nil {
				if iox.IsWouldBlock(err) {
					break
				}
				return fmt.Errorf("decrypt: dequeue decrypt queue: %w", err)
			}
			did = true
			decryptPacket(log, pool, clearQueue, &rx, peer, rxStats, hint, idx)
		}

		if !did {
			time.Sleep(idlePause)
		}
	}
}

func installRXKey(slot *keyslot.Slot, rx *sa.RX) error {
	key, spi, ok, err := keyslot.Install(slot)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return rx.Install(key, spi)
}

func decryptPacket(log *zap.SugaredLogger, pool *packet.Pool, clearQueue *ring.Ring, rx *sa.RX, peer *peeraddr.Cell, rxStats *stats.Counters, hint *replay.Hint, idx uint32) {
	buf := pool.At(idx)

	if buf.Target != packet.TargetDecrypt {
		log.Errorw("packet on decrypt queue with unexpected target", "target", buf.Target)
		pool.Put(idx)
		return
	}

	const minWireLen = proto.HeaderLen + proto.TrailerLen + sa.TagLen
	if int(buf.Length) < minWireLen {
		pool.Put(idx)
		return
	}

	data := buf.Bytes()
	hdr := proto.ParseHeader(data[:proto.HeaderLen])

	// Seq is not part of the AEAD AAD (only SPI and PN are, see sa.AAD), so
	// an attacker can flip it independently of the authenticated PN without
	// breaking the GCM tag. Enforce that it still matches the low 32 bits of
	// PN before doing anything else with this datagram.
	if hdr.Seq != uint32(hdr.PN) {
		pool.Put(idx)
		return
	}

	ciphertext := data[proto.HeaderLen:buf.Length]

	plain, usedPending, ok := tryOpen(rx, hdr, ciphertext)
	if !ok {
		pool.Put(idx)
		return
	}

	if err := rx.Window.Update(hdr.PN); err != nil {
		log.Errorw("anti-replay window corrupt, dropping", "error", err)
		pool.Put(idx)
		return
	}
	if usedPending {
		rx.PromotePending()
	}
	hint.Publish(hdr.PN)

	if len(plain) < proto.TrailerLen {
		pool.Put(idx)
		return
	}
	innerEnd := len(plain) - proto.TrailerLen
	trailer := proto.ParseTrailer(plain[innerEnd:])
	if !trailer.Valid() {
		log.Warnw("invalid trailer, dropping", "pad", trailer.Pad, "next", trailer.Next)
		pool.Put(idx)
		return
	}

	if innerEnd < 1 || plain[0]>>4 != ipv4.Version {
		pool.Put(idx)
		return
	}

	rxStats.Record(hdr.SPI, int(buf.Length))

	if v4 := net.IP(buf.SrcIP[:]).To4(); v4 != nil && peer.Differs(v4, buf.SrcPort) {
		log.Infow("peer endpoint changed", "ip", v4.String(), "port", buf.SrcPort)
		peer.Store(v4, buf.SrcPort)
	}

	// plain already sits at data[proto.HeaderLen:...] since Open's dst and
	// src shared that same start offset; only Length/Target need updating.
	buf.Length = uint32(innerEnd)
	buf.Target = packet.TargetClear

	if err := clearQueue.Enqueue(idx); err != nil {
		pool.Put(idx)
	}
}

// tryOpen attempts authentication/decryption first under the Primary SA,
// then Pending, matching on SPI before spending a cipher call. usedPending
// reports whether acceptance came from the Pending slot, so the caller
// knows to promote it.
func tryOpen(rx *sa.RX, hdr proto.Header, ciphertext []byte) (plain []byte, usedPending bool, ok bool) {
	// ciphertext doubles as dst: Open takes dst[:0], so the decrypted
	// plaintext lands back at ciphertext's own start address.
	if rx.Primary.Ready() && hdr.SPI == rx.Primary.SPI && rx.Window.Check(hdr.PN) {
		if p, err := rx.Primary.Open(ciphertext, ciphertext, hdr.PN); err == nil {
			return p, false, true
		}
	}

	if rx.Pending.Ready() && hdr.SPI == rx.Pending.SPI && rx.Window.Check(hdr.PN) {
		if p, err := rx.Pending.Open(ciphertext, ciphertext, hdr.PN); err == nil {
			return p, true, true
		}
	}

	return nil, false, false
}
