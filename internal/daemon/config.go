// Package daemon runs the host API as a background process. The daemon
// owns one index root and its job registry, so jobs started from one CLI
// invocation can be watched or cancelled from another. Clients reach it
// with JSON-RPC 2.0 over a Unix socket.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.atrium/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.atrium/daemon.pid
	PIDPath string

	// Timeout is the maximum duration of a unary client call.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod is how long running jobs get to reach a
	// checkpoint on shutdown.
	// Default: 10s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dir := filepath.Join(home, ".atrium")

	return Config{
		SocketPath:          filepath.Join(dir, "daemon.sock"),
		PIDPath:             filepath.Join(dir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// WithSocket overrides the socket path when path is set. The PID file moves
// next to it.
func (c Config) WithSocket(path string) Config {
	if path == "" {
		return c
	}
	c.SocketPath = path
	c.PIDPath = filepath.Join(filepath.Dir(path), "daemon.pid")
	return c
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directories for the socket and PID files.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if pidDir := filepath.Dir(c.PIDPath); pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0o755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}
	return nil
}
