package worker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"code.hybscloud.com/iox"

	"github.com/chiselcore/skytun/internal/packet"
	"github.com/chiselcore/skytun/internal/peeraddr"
	"github.com/chiselcore/skytun/internal/proto"
	"github.com/chiselcore/skytun/internal/replay"
	"github.com/chiselcore/skytun/internal/ring"
	"github.com/chiselcore/skytun/internal/sa"
	"github.com/chiselcore/skytun/internal/state"
)

// Crypto runs the crypto worker: it moves ESP-shaped UDP datagrams between
// the wire and the decrypt worker. It never sees plaintext, key material,
// or the clear-side queues.
func Crypto(ctx context.Context, log *zap.SugaredLogger, ws *state.WorkerSegments, local *net.UDPAddr, initialPeer *net.UDPAddr) error {
	decryptQueue, err := ws.Ring(state.SegDecryptQueue)
	if err != nil {
		return err
	}
	cryptoQueue, err := ws.Ring(state.SegCryptoQueue)
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

	peer, err := ws.Peer(state.SegPeer)
	if err != nil {
		return err
	}
	hint, err := ws.Hint(state.SegRXHint)
	if err != nil {
		return err
	}

	if initialPeer != nil {
		peer.Store(initialPeer.IP, uint16(initialPeer.Port))
	}

	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return fmt.Errorf("crypto: listen %v: %w", local, err)
	}
	defer conn.Close()

	log.Infow("crypto worker started", "local", local)

	// scratch is a read-into-and-discard buffer for when the pool is
	// exhausted: the socket read still has to happen, or an unread datagram
	// sits in the kernel's UDP receive buffer and backs up everything
	// behind it, exactly the head-of-line blocking a fixed pool is meant
	// to avoid.
	const maxWireLen = proto.HeaderLen + packet.MaxInnerLen + proto.TrailerLen + sa.TagLen
	scratch := make([]byte, maxWireLen)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cryptoRecvPackets(log, conn, pool, decryptQueue, hint, scratch)

		for {
			idx, err := cryptoQueue.Dequeue()
			if err != nil {
				if iox.IsWouldBlock(err) {
					break
				}
				return fmt.Errorf("crypto: dequeue crypto queue: %w", err)
			}
			cryptoSendPacket(log, conn, pool, peer, idx)
		}
	}
}

func cryptoRecvPackets(log *zap.SugaredLogger, conn *net.UDPConn, pool *packet.Pool, decryptQueue *ring.Ring, hint *replay.Hint, scratch []byte) {
	for i := 0; i < packetsPerEvent; i++ {
		buf, err := pool.Get()
		if err != nil {
			// Pool exhausted. Still drain the pending read into the
			// scratch buffer and drop it, so a full pool degrades to lost
			// packets rather than a stalled socket fd.
			if _, _, err := conn.ReadFromUDP(scratch); err != nil {
				if isAgain(err) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					return
				}
			}
			continue
		}

		n, from, err := conn.ReadFromUDP(buf.Bytes()[:len(scratch)])
		if err != nil {
			pool.Put(pool.Index(buf))
			if isAgain(err) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			log.Warnw("crypto read failed", "error", err)
			continue
		}

		if n < packet.MinReadLen {
			pool.Put(pool.Index(buf))
			continue
		}

		// Eager anti-replay pre-check: reject datagrams that are
		// certainly stale before spending a ring slot and a hop to
		// the decrypt worker. This is advisory only; decrypt's
		// window is authoritative.
		if n >= proto.HeaderLen {
			hdr := proto.ParseHeader(buf.Bytes()[:proto.HeaderLen])
			if hint.StaleBefore(hdr.PN) {
				pool.Put(pool.Index(buf))
				continue
			}
		}

		buf.Length = uint32(n)
		buf.Target = packet.TargetDecrypt
		if v4 := from.IP.To4(); v4 != nil {
			copy(buf.SrcIP[:], v4)
		}
		buf.SrcPort = uint16(from.Port)

		if err := decryptQueue.Enqueue(pool.Index(buf)); err != nil {
			pool.Put(pool.Index(buf))
		}
	}
}

func cryptoSendPacket(log *zap.SugaredLogger, conn *net.UDPConn, pool *packet.Pool, peer *peeraddr.Cell, idx uint32) {
	buf := pool.At(idx)
	defer pool.Put(idx)

	if buf.Target != packet.TargetCrypto {
		log.Errorw("packet on crypto queue with unexpected target", "target", buf.Target)
		return
	}

	ip, port, ok := peer.Load()
	if !ok {
		return
	}

	_, err := conn.WriteToUDP(buf.Bytes()[:buf.Length], &net.UDPAddr{IP: ip, Port: int(port)})
	if err != nil {
		if isAgain(err) {
			return
		}
		log.Warnw("crypto send failed, dropping", "error", err)
	}
}
