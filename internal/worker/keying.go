package worker

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/chiselcore/skytun/internal/keyslot"
	"github.com/chiselcore/skytun/internal/proto"
	"github.com/chiselcore/skytun/internal/state"
)

// keyingSocketMode restricts the keying control socket to its owner: only
// the operator (or whoever runs skytund) may ever push new key material.
const keyingSocketMode = 0o700

// txLabel and rxLabel separate the two HKDF expansions of the same shared
// secret so the TX and RX session keys are never equal, even when TXSPI
// and RXSPI happen to collide.
const (
	txLabel = "skytun tx"
	rxLabel = "skytun rx"
)

// Keying runs the keying worker: it owns a local AF_UNIX control socket,
// receives shared-secret requests from an operator tool, derives the TX and
// RX session keys, and publishes them into the encrypt and decrypt
// workers' key slots. It never touches the tunnel device or the wire.
func Keying(ctx context.Context, log *zap.SugaredLogger, ws *state.WorkerSegments, socketPath string) error {
	txKeySlot, err := ws.KeySlot(state.SegTXKey)
	if err != nil {
		return err
	}
	rxKeySlot, err := ws.KeySlot(state.SegRXKey)
	if err != nil {
		return err
	}

	conn, err := bindKeyingSocket(socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer os.Remove(socketPath)

	log.Infow("keying worker started", "socket", socketPath)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, proto.KeyingRequestLen+1)
	for {
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isAgain(err) {
				continue
			}
			return fmt.Errorf("keying: read: %w", err)
		}

		req, err := proto.ParseKeyingRequest(buf[:n])
		if err != nil {
			log.Warnw("malformed keying request, ignoring", "error", err)
			continue
		}

		if err := installKeys(txKeySlot, rxKeySlot, req); err != nil {
			log.Errorw("key installation failed", "error", err)
			return fmt.Errorf("keying: %w", err)
		}
		log.Infow("installed new session keys", "tx_spi", req.TXSPI, "rx_spi", req.RXSPI)
	}
}

func bindKeyingSocket(path string) (*net.UnixConn, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("keying: unlink stale socket %q: %w", path, err)
	}

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("keying: bind %q: %w", path, err)
	}

	if err := os.Chmod(path, keyingSocketMode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("keying: chmod %q: %w", path, err)
	}

	return conn, nil
}

// installKeys derives session keys for both directions from the shared
// secret and publishes them to the encrypt and decrypt workers' slots.
func installKeys(txSlot, rxSlot *keyslot.Slot, req proto.KeyingRequest) error {
	txKey, err := deriveKey(req.Secret[:], txLabel, req.TXSPI)
	if err != nil {
		return err
	}
	rxKey, err := deriveKey(req.Secret[:], rxLabel, req.RXSPI)
	if err != nil {
		return err
	}

	if err := keyslot.Publish(txSlot, req.TXSPI, txKey); err != nil {
		return fmt.Errorf("publish tx key: %w", err)
	}
	if err := keyslot.Publish(rxSlot, req.RXSPI, rxKey); err != nil {
		return fmt.Errorf("publish rx key: %w", err)
	}
	return nil
}

// deriveKey expands the raw shared secret into a direction-scoped
// AES-256 key via HKDF-SHA256, keyed on a fixed label plus the SPI so a
// rekey with a fresh SPI always yields an independent key even when the
// underlying secret is reused.
func deriveKey(secret []byte, label string, spi uint32) ([keyslot.KeyLen]byte, error) {
	var key [keyslot.KeyLen]byte

	info := fmt.Sprintf("%s/%08x", label, spi)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}
