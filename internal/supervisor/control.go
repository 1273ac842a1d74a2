package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/chiselcore/skytun/internal/proto"
)

// controlSocketMode matches the keying socket's restriction: only the
// operator running on this host may ever ask for status.
const controlSocketMode = 0o700

// serveControl binds the operator control socket and answers status
// requests until ctx is canceled.
func (s *Supervisor) serveControl(ctx context.Context) error {
	path := s.cfg.ControlSocket

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("supervisor: unlink stale control socket %q: %w", path, err)
	}

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("supervisor: bind control socket %q: %w", path, err)
	}
	defer conn.Close()
	defer os.Remove(path)

	if err := os.Chmod(path, controlSocketMode); err != nil {
		return fmt.Errorf("supervisor: chmod control socket %q: %w", path, err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.log.Infow("control socket listening", "path", path)

	buf := make([]byte, 1)
	resp := make([]byte, proto.StatusResponseLen)

	for {
		n, from, err := conn.ReadFromUnix(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if n != 1 || buf[0] != proto.CmdStatus {
			continue
		}
		if from == nil || from.Name == "" {
			continue
		}

		tx := s.bundle.TXStats.Load()
		rx := s.bundle.RXStats.Load()

		proto.PutStatusRecord(resp[:proto.StatusRecordLen], proto.StatusRecord{
			SPI:       tx.SPI,
			PktCount:  tx.Pkt,
			LastSeen:  tx.Last,
			ByteCount: tx.Bytes,
		})
		proto.PutStatusRecord(resp[proto.StatusRecordLen:], proto.StatusRecord{
			SPI:       rx.SPI,
			PktCount:  rx.Pkt,
			LastSeen:  rx.Last,
			ByteCount: rx.Bytes,
		})

		if _, err := conn.WriteToUnix(resp, from); err != nil {
			s.log.Warnw("control socket write failed", "error", err)
		}
	}
}
