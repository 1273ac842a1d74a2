// Command skytund is skytun's tunnel daemon. Invoked plainly, it reads a
// config file and supervises the five worker processes. Invoked with
// --worker (done only by the supervisor itself, re-exec'ing this same
// binary), it instead runs a single worker's loop against the
// shared-memory segments it inherited over exec.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/chiselcore/skytun/internal/config"
	"github.com/chiselcore/skytun/internal/logging"
	"github.com/chiselcore/skytun/internal/state"
	"github.com/chiselcore/skytun/internal/supervisor"
	"github.com/chiselcore/skytun/internal/worker"
)

var (
	configPath string
	workerRole string
)

var rootCmd = &cobra.Command{
	Use:   "skytund",
	Short: "skytun tunnel daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		if workerRole != "" {
			return runWorker(workerRole, configPath)
		}
		return runSupervisor(configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file (required)")
	rootCmd.Flags().StringVar(&workerRole, supervisor.WorkerFlag, "", "internal: run as a single worker process")
	rootCmd.MarkFlagRequired("config")
	rootCmd.Flags().MarkHidden(supervisor.WorkerFlag)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "skytund: %v\n", err)
		os.Exit(1)
	}
}

func runSupervisor(path string) error {
	log, _, err := logging.Init("supervisor", logging.Config{Level: zapcore.InfoLevel})
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sup, err := supervisor.New(log, cfg, path)
	if err != nil {
		return err
	}

	return sup.Run(context.Background())
}

func runWorker(role string, path string) error {
	log, _, err := logging.Init(role, logging.Config{Level: zapcore.InfoLevel})
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	handles, err := state.HandlesFor(role)
	if err != nil {
		return err
	}
	ws, err := state.OpenWorker(handles)
	if err != nil {
		return fmt.Errorf("open inherited segments: %w", err)
	}

	// The supervisor tears a worker down with SIGQUIT (see
	// supervisor.killAll); turn that into context cancellation so the
	// worker's own loop drains and returns rather than leaving SIGQUIT to
	// the runtime's default disposition, which would skip every deferred
	// device/socket Close.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGQUIT)
	defer stop()

	switch role {
	case "clear":
		return worker.Clear(ctx, log, ws)
	case "crypto":
		var initialPeer *net.UDPAddr
		if cfg.Peer != nil {
			initialPeer = cfg.Peer
		}
		return worker.Crypto(ctx, log, ws, cfg.Local, initialPeer)
	case "encrypt":
		return worker.Encrypt(ctx, log, ws)
	case "decrypt":
		return worker.Decrypt(ctx, log, ws)
	case "keying":
		return worker.Keying(ctx, log, ws, cfg.KeyingSocket)
	default:
		return errors.New("skytund: unknown worker role " + role)
	}
}
