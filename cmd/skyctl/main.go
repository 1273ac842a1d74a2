// Command skyctl is the operator tool for a running skytun tunnel: it
// talks to the supervisor's control socket.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chiselcore/skytun/internal/config"
	"github.com/chiselcore/skytun/internal/proto"
)

var controlSocket string

const requestTimeout = 2 * time.Second

var rootCmd = &cobra.Command{
	Use:   "skyctl",
	Short: "operator tool for a running skytun tunnel",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print tunnel TX/RX counters",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runStatus(controlSocket)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&controlSocket, "socket", config.DefaultControlSocket, "path to the supervisor's control socket")
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "skyctl: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(socketPath string) error {
	// A unixgram client must bind its own address to receive a reply
	// datagram back; an unnamed socket has nothing for the server to
	// address.
	localAddr := &net.UnixAddr{Name: fmt.Sprintf("@skyctl-%d", os.Getpid()), Net: "unixgram"}
	remoteAddr := &net.UnixAddr{Name: socketPath, Net: "unixgram"}

	conn, err := net.DialUnix("unixgram", localAddr, remoteAddr)
	if err != nil {
		return fmt.Errorf("connect to %q: %w", socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(requestTimeout)); err != nil {
		return err
	}

	if _, err := conn.Write([]byte{proto.CmdStatus}); err != nil {
		return fmt.Errorf("send status request: %w", err)
	}

	resp := make([]byte, proto.StatusResponseLen)
	n, err := conn.Read(resp)
	if err != nil {
		return fmt.Errorf("read status response: %w", err)
	}
	if n != proto.StatusResponseLen {
		return fmt.Errorf("short status response: got %d bytes, want %d", n, proto.StatusResponseLen)
	}

	tx := proto.ParseStatusRecord(resp[:proto.StatusRecordLen])
	rx := proto.ParseStatusRecord(resp[proto.StatusRecordLen:])

	printDirection("tx", tx)
	printDirection("rx", rx)
	return nil
}

func printDirection(label string, r proto.StatusRecord) {
	var last string
	if r.LastSeen == 0 {
		last = "never"
	} else {
		last = time.Unix(int64(r.LastSeen), 0).Format(time.RFC3339)
	}
	fmt.Printf("%s: spi=%d packets=%d bytes=%d last=%s\n", label, r.SPI, r.PktCount, r.ByteCount, last)
}
