// Package daemon lets CLI commands reach a running "wikisearch serve"
// process. The serving process owns the index writer; other invocations send
// it search, status and indexing requests as JSON-RPC 2.0 over a Unix socket.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds one client request.
const DefaultTimeout = 30 * time.Second

// Config holds the socket settings shared by Server and Client.
type Config struct {
	// SocketPath is the Unix domain socket path.
	SocketPath string

	// Timeout is the maximum duration of one client request.
	Timeout time.Duration
}

// DefaultConfig returns a Config whose socket lives in dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		SocketPath: filepath.Join(dataDir, "serve.sock"),
		Timeout:    DefaultTimeout,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// EnsureDir creates the directory holding the socket.
func (c Config) EnsureDir() error {
	if err := os.MkdirAll(filepath.Dir(c.SocketPath), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	return nil
}
