package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"code.hybscloud.com/iox"

	"github.com/chiselcore/skytun/internal/keyslot"
	"github.com/chiselcore/skytun/internal/packet"
	"github.com/chiselcore/skytun/internal/proto"
	"github.com/chiselcore/skytun/internal/ring"
	"github.com/chiselcore/skytun/internal/sa"
	"github.com/chiselcore/skytun/internal/state"
	"github.com/chiselcore/skytun/internal/stats"
)

// idlePause caps how long encrypt/decrypt sleep between ring passes
// when there is no work, matching the low-latency busy-poll texture of the
// data-plane workers without pegging a core at 100% in a plain test VM.
const idlePause = 10 * time.Microsecond

// Encrypt runs the encrypt worker: it installs TX keys handed off by
// keying, and applies AES-256-GCM under the ESP-shaped wire format to
// every packet handed off by clear.
//
// A buffer destined for encrypt holds bare plaintext at offset
// packet.HeaderLen, with Length the plaintext size. On success it becomes a
// full wire packet at offset 0 (header, then ciphertext+tag), with Length
// the total wire size, and moves on to the crypto worker.
func Encrypt(ctx context.Context, log *zap.SugaredLogger, ws *state.WorkerSegments) error {
	encryptQueue, err := ws.Ring(state.SegEncryptQueue)
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

	txKeySlot, err := ws.KeySlot(state.SegTXKey)
	if err != nil {
		return err
	}
	txStats, err := ws.Stats(state.SegTXStats)
	if err != nil {
		return err
	}

	var txSA sa.SA

	log.Infow("encrypt worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := installTXKey(txKeySlot, &txSA); err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}

		did := false
		for {
			idx, err := encryptQueue.Dequeue()
			if err != nil {
				if iox.IsWouldBlock(err) {
					break
				}
				return fmt.Errorf("encrypt: dequeue encrypt queue: %w", err)
			}
			did = true
			encryptPacket(log, pool, cryptoQueue, &txSA, txStats, idx)
		}

		if !did {
			time.Sleep(idlePause)
		}
	}
}

func installTXKey(slot *keyslot.Slot, txSA *sa.SA) error {
	key, spi, ok, err := keyslot.Install(slot)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return txSA.InstallTX(key, spi)
}

func encryptPacket(log *zap.SugaredLogger, pool *packet.Pool, cryptoQueue *ring.Ring, txSA *sa.SA, txStats *stats.Counters, idx uint32) {
	buf := pool.At(idx)

	if buf.Target != packet.TargetEncrypt {
		log.Errorw("packet on encrypt queue with unexpected target", "target", buf.Target)
		pool.Put(idx)
		return
	}

	if !txSA.Ready() {
		pool.Put(idx)
		return
	}

	const overhead = proto.HeaderLen + proto.TrailerLen + sa.TagLen
	if int(buf.Length)+overhead > len(buf.Bytes()) {
		log.Warnw("packet too large for overhead, dropping", "length", buf.Length)
		pool.Put(idx)
		return
	}

	pn, err := txSA.TakePN()
	if err != nil {
		log.Fatalw("tx packet number exhausted", "error", err)
	}
	if pn >= sa.RekeyWarnThreshold {
		log.Warnw("tx packet number approaching exhaustion, rekey recommended", "pn", pn)
	}

	data := buf.Bytes()
	plainStart := proto.HeaderLen
	plainEnd := plainStart + int(buf.Length)

	proto.PutTrailer(data[plainEnd:plainEnd+proto.TrailerLen], proto.Trailer{Pad: 0, Next: proto.NextIPv4})
	plaintext := data[plainStart : plainEnd+proto.TrailerLen]

	// Seal in place: dst and plaintext share the same start, the only
	// overlap crypto/cipher.AEAD guarantees to handle correctly.
	sealed := txSA.Seal(data[plainStart:plainStart], plaintext, pn)

	hdr := proto.Header{SPI: txSA.SPI, Seq: uint32(pn), PN: pn}
	proto.PutHeader(data[:proto.HeaderLen], hdr)

	buf.Length = uint32(proto.HeaderLen + len(sealed))
	buf.Target = packet.TargetCrypto

	txStats.Record(txSA.SPI, int(buf.Length))

	if err := cryptoQueue.Enqueue(idx); err != nil {
		pool.Put(idx)
	}
}
