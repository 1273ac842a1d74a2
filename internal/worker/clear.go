// Package worker implements the five data-plane and control-plane worker
// loops: clear, crypto, encrypt, decrypt, keying. Each is meant to run as
// its own re-exec'd process, talking to its siblings only through the
// shared-memory segments its state.Handles grants it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"code.hybscloud.com/iox"

	"github.com/chiselcore/skytun/internal/packet"
	"github.com/chiselcore/skytun/internal/ring"
	"github.com/chiselcore/skytun/internal/state"
	"github.com/chiselcore/skytun/internal/tundev"
)

// isAgain reports whether err is the non-blocking-I/O "try again" signal
// from a character device or socket syscall.
func isAgain(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// packetsPerEvent bounds how many packets clear reads from the tunnel
// device (or crypto from the UDP socket) in one pass before draining its
// outbound ring, so one side can never starve the other.
const packetsPerEvent = 64

// Clear runs the clear worker: it moves plaintext IP datagrams between the
// tunnel device and the encrypt worker. It never sees key material, the
// peer address, or any ciphertext-side queue.
func Clear(ctx context.Context, log *zap.SugaredLogger, ws *state.WorkerSegments) error {
	encryptQueue, err := ws.Ring(state.SegEncryptQueue)
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

	dev, err := tundev.Open()
	if err != nil {
		return fmt.Errorf("clear: open tunnel device: %w", err)
	}
	defer dev.Close()

	log.Infow("clear worker started", "device", dev.Name())

	// scratch is a read-into-and-discard buffer for when the pool is
	// exhausted: the device read still has to happen, or an unread packet
	// sits in the kernel buffer and backs up everything behind it, exactly
	// the head-of-line blocking a fixed pool is meant to avoid.
	scratch := make([]byte, packet.MaxInnerLen)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		recvPackets(log, dev, pool, encryptQueue, scratch)

		for {
			idx, err := clearQueue.Dequeue()
			if err != nil {
				if iox.IsWouldBlock(err) {
					break
				}
				return fmt.Errorf("clear: dequeue clear queue: %w", err)
			}
			sendPacket(log, dev, pool, idx)
		}
	}
}

func recvPackets(log *zap.SugaredLogger, dev tundev.Device, pool *packet.Pool, encryptQueue *ring.Ring, scratch []byte) {
	for i := 0; i < packetsPerEvent; i++ {
		buf, err := pool.Get()
		if err != nil {
			// Pool exhausted. Still drain the pending read into the
			// scratch buffer and drop it, so a full pool degrades to lost
			// packets rather than a stalled device fd.
			if _, err := dev.Read(scratch[:packet.MaxInnerLen]); err != nil {
				if errors.Is(err, io.EOF) {
					log.Fatalw("eof on tunnel interface")
				}
				if isAgain(err) {
					return
				}
			}
			continue
		}

		n, err := dev.Read(buf.Bytes()[packet.HeaderLen : packet.HeaderLen+packet.MaxInnerLen])
		if err != nil {
			pool.Put(pool.Index(buf))
			if errors.Is(err, io.EOF) {
				log.Fatalw("eof on tunnel interface")
			}
			if isAgain(err) {
				return
			}
			continue
		}

		if n < packet.MinReadLen {
			pool.Put(pool.Index(buf))
			continue
		}

		plain := buf.Bytes()[packet.HeaderLen : packet.HeaderLen+n]
		if plain[0]>>4 != ipv4.Version {
			pool.Put(pool.Index(buf))
			continue
		}

		buf.Length = uint32(n)
		buf.Target = packet.TargetEncrypt

		if err := encryptQueue.Enqueue(pool.Index(buf)); err != nil {
			pool.Put(pool.Index(buf))
		}
	}
}

func sendPacket(log *zap.SugaredLogger, dev tundev.Device, pool *packet.Pool, idx uint32) {
	buf := pool.At(idx)
	defer pool.Put(idx)

	if buf.Target != packet.TargetClear {
		log.Errorw("packet on clear queue with unexpected target", "target", buf.Target)
		return
	}

	if _, err := dev.Write(buf.Bytes()[packet.HeaderLen : packet.HeaderLen+buf.Length]); err != nil {
		if isAgain(err) {
			return
		}
		log.Warnw("tunnel write failed", "error", err)
	}
}
