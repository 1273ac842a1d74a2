// Package supervisor owns the lifecycle of skytun's five worker processes:
// it creates every shared-memory segment, re-execs one child per worker
// with exactly the segment descriptors that worker's role grants it, and
// tears the whole tunnel down cleanly on shutdown.
//
// There is no fork(2) here: each worker is a freshly exec'd copy of the
// same binary, dispatched into worker mode by a command-line flag, so a
// privilege-dropped worker never carries over any memory the parent had
// mapped beyond the descriptors it was explicitly handed.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chiselcore/skytun/internal/config"
	"github.com/chiselcore/skytun/internal/state"
)

// WorkerFlag is the flag name cmd/skytund recognizes to dispatch into
// worker mode instead of starting the supervisor.
const WorkerFlag = "worker"

// procs is the fixed set of worker roles the supervisor starts, in a
// stable order for logging and status reporting.
var procs = []string{"clear", "crypto", "encrypt", "decrypt", "keying"}

// Supervisor owns the shared-memory bundle, the running worker processes,
// and the operator control socket.
type Supervisor struct {
	log        *zap.SugaredLogger
	cfg        *config.Config
	configPath string
	exePath    string

	bundle *state.Bundle

	mu      sync.Mutex
	running map[string]*exec.Cmd
	started time.Time
}

// New creates a supervisor and its shared-memory bundle. No worker is
// started until Run is called.
func New(log *zap.SugaredLogger, cfg *config.Config, configPath string) (*Supervisor, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve own executable: %w", err)
	}

	bundle, err := state.Create()
	if err != nil {
		return nil, fmt.Errorf("supervisor: create shared state: %w", err)
	}

	return &Supervisor{
		log:        log,
		cfg:        cfg,
		configPath: configPath,
		exePath:    exePath,
		bundle:     bundle,
		running:    make(map[string]*exec.Cmd),
	}, nil
}

// Run spawns every worker, then blocks until the context is canceled or a
// worker exits unexpectedly, at which point it signals every remaining
// worker to quit and waits for them to exit.
func (s *Supervisor) Run(ctx context.Context) error {
	s.started = time.Now()

	wg, ctx := errgroup.WithContext(ctx)

	for _, proc := range procs {
		if err := s.spawn(proc); err != nil {
			s.killAll()
			return fmt.Errorf("supervisor: spawn %s: %w", proc, err)
		}
	}

	for _, proc := range procs {
		proc := proc
		wg.Go(func() error {
			return s.wait(proc)
		})
	}

	wg.Go(func() error {
		return s.waitSignal(ctx)
	})

	if s.cfg.ControlSocket != "" {
		wg.Go(func() error {
			return s.serveControl(ctx)
		})
	}

	err := wg.Wait()
	s.shutdown()
	return err
}

// spawn starts one worker process, handing it the shared-memory segments
// state.HandlesFor grants its role and, if configured, dropping it to the
// configured unix user's credentials at exec time.
func (s *Supervisor) spawn(proc string) error {
	handles, err := state.HandlesFor(proc)
	if err != nil {
		return err
	}

	cmd := exec.Command(s.exePath, "--"+WorkerFlag, proc, "--config", s.configPath)
	cmd.ExtraFiles = s.bundle.ExtraFiles(handles)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if username, ok := s.cfg.RunAs[proc]; ok {
		cred, err := credentialFor(username)
		if err != nil {
			return fmt.Errorf("resolve run-as user %q: %w", username, err)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	s.mu.Lock()
	s.running[proc] = cmd
	s.mu.Unlock()

	s.log.Infow("worker started", "proc", proc, "pid", cmd.Process.Pid)
	return nil
}

// credentialFor resolves a configured "run as" username into the uid/gid
// and supplementary groups exec.Cmd needs to drop privileges at exec time.
// This is inherently an os/user + syscall concern; no third-party library
// in the corpus does privilege dropping, so the standard library is used
// directly here.
func credentialFor(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("lookup groups: %w", err)
	}
	groups := make([]uint32, 0, len(groupIDs))
	for _, g := range groupIDs {
		gv, err := strconv.ParseUint(g, 10, 32)
		if err != nil {
			continue
		}
		groups = append(groups, uint32(gv))
	}

	return &syscall.Credential{
		Uid:    uint32(uid),
		Gid:    uint32(gid),
		Groups: groups,
	}, nil
}

// wait blocks until proc's worker process exits, dropping it from the
// running set. Any exit while the supervisor is otherwise healthy is
// treated as fatal to the whole tunnel: skytun has no single-worker
// restart policy, only all-or-nothing teardown.
func (s *Supervisor) wait(proc string) error {
	s.mu.Lock()
	cmd := s.running[proc]
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}

	err := cmd.Wait()

	s.mu.Lock()
	delete(s.running, proc)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("worker %s exited: %w", proc, err)
	}
	return fmt.Errorf("worker %s exited unexpectedly", proc)
}

// waitSignal blocks for SIGINT, SIGTERM, or SIGQUIT, or the context being
// canceled by a worker's own failure. Either way it then sends SIGQUIT to
// every running worker, so the per-worker waits in Run can return.
func (s *Supervisor) waitSignal(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(ch)

	for {
		select {
		case sig := <-ch:
			if sig == syscall.SIGHUP {
				s.log.Infow("caught SIGHUP, config reload is not supported, ignoring", "uptime", s.Uptime())
				continue
			}
			s.log.Infow("caught signal, shutting down", "signal", sig)
			s.killAll()
			return nil
		case <-ctx.Done():
			s.killAll()
			return ctx.Err()
		}
	}
}

// killAll sends SIGQUIT to every still-running worker without waiting.
func (s *Supervisor) killAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for proc, cmd := range s.running {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Signal(syscall.SIGQUIT); err != nil {
			s.log.Warnw("failed to signal worker", "proc", proc, "error", err)
		}
	}
}

// shutdown signals every worker and blocks until they have all exited,
// mirroring a kill-then-reap teardown.
func (s *Supervisor) shutdown() {
	s.killAll()

	s.mu.Lock()
	remaining := make([]*exec.Cmd, 0, len(s.running))
	for _, cmd := range s.running {
		remaining = append(remaining, cmd)
	}
	s.mu.Unlock()

	for _, cmd := range remaining {
		_ = cmd.Wait()
	}
}

// Uptime reports how long the tunnel has been running. It is logged when
// SIGHUP is caught; the status control-plane response does not carry it.
func (s *Supervisor) Uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}
