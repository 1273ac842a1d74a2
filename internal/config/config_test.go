package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chiselcore/skytun/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "skytun.conf")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadBasicConfig(t *testing.T) {
	path := writeConfig(t, `
# comment line
peer 203.0.113.10:4500
local 0.0.0.0:4500
run crypto as skytun-crypto
run encrypt as skytun-crypto
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Peer == nil || cfg.Peer.IP.String() != "203.0.113.10" || cfg.Peer.Port != 4500 {
		t.Fatalf("Peer: got %+v, want 203.0.113.10:4500", cfg.Peer)
	}
	if cfg.Local == nil || cfg.Local.Port != 4500 {
		t.Fatalf("Local: got %+v, want port 4500", cfg.Local)
	}
	if cfg.RunAs[config.ProcCrypto] != "skytun-crypto" {
		t.Fatalf("RunAs[crypto]: got %q, want skytun-crypto", cfg.RunAs[config.ProcCrypto])
	}
	if cfg.KeyingSocket != config.DefaultKeyingSocket {
		t.Fatalf("KeyingSocket: got %q, want default %q", cfg.KeyingSocket, config.DefaultKeyingSocket)
	}
	if cfg.ControlSocket != config.DefaultControlSocket {
		t.Fatalf("ControlSocket: got %q, want default %q", cfg.ControlSocket, config.DefaultControlSocket)
	}
}

func TestLoadOverridesSocketPaths(t *testing.T) {
	path := writeConfig(t, `
keying /run/skytun/custom.key
control /run/skytun/custom.ctl
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KeyingSocket != "/run/skytun/custom.key" {
		t.Fatalf("KeyingSocket: got %q", cfg.KeyingSocket)
	}
	if cfg.ControlSocket != "/run/skytun/custom.ctl" {
		t.Fatalf("ControlSocket: got %q", cfg.ControlSocket)
	}
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	path := writeConfig(t, "bogus value\n")
	if _, err := config.Load(path); err == nil {
		t.Fatalf("Load with unknown option: got nil error, want non-nil")
	}
}

func TestLoadRejectsMalformedHost(t *testing.T) {
	path := writeConfig(t, "peer not-a-host\n")
	if _, err := config.Load(path); err == nil {
		t.Fatalf("Load with malformed host: got nil error, want non-nil")
	}
}

func TestLoadRejectsNonIPv4Host(t *testing.T) {
	path := writeConfig(t, "peer [::1]:4500\n")
	if _, err := config.Load(path); err == nil {
		t.Fatalf("Load with IPv6 host: got nil error, want non-nil")
	}
}

func TestLoadRejectsDuplicateRun(t *testing.T) {
	path := writeConfig(t, "run crypto as alice\nrun crypto as bob\n")
	if _, err := config.Load(path); err == nil {
		t.Fatalf("Load with duplicate run directive: got nil error, want non-nil")
	}
}

func TestLoadRejectsUnknownProcessInRun(t *testing.T) {
	path := writeConfig(t, "run supervisor as alice\n")
	if _, err := config.Load(path); err == nil {
		t.Fatalf("Load with unknown process in run: got nil error, want non-nil")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatalf("Load of missing file: got nil error, want non-nil")
	}
}
