// Package internalkey reads the shared secret that authenticates internal
// HTTP traffic between agents, tools, and the API gateway.
//
// The gateway generates and persists the key at a well-known path on first
// boot; agent processes may start before that happens, so reads retry with
// exponential backoff.
package internalkey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxAttempts = 10
	baseDelay   = 500 * time.Millisecond
	maxDelay    = 30 * time.Second
)

// Source loads the internal key from a file and caches it. Reload discards
// the cache, which callers use after a 401 response.
type Source struct {
	path string

	mu  sync.RWMutex
	key string
}

// NewSource creates a key source for the given path. No I/O happens until
// Key or Wait is called.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Key returns the cached key, reading the file on first use.
func (s *Source) Key() (string, error) {
	s.mu.RLock()
	if s.key != "" {
		k := s.key
		s.mu.RUnlock()
		return k, nil
	}
	s.mu.RUnlock()
	return s.Reload()
}

// Reload re-reads the key file, replacing the cache. Used after the gateway
// rotates the key (observed as a 401).
func (s *Source) Reload() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("reading internal key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", fmt.Errorf("internal key file %s is empty", s.path)
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return key, nil
}

// Wait blocks until the key file becomes readable, with bounded exponential
// backoff (10 attempts, base 0.5s, cap 30s).
func (s *Source) Wait() (string, error) {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		key, err := s.Reload()
		if err == nil {
			return key, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			slog.Debug("Internal key not available yet, retrying",
				"path", s.path, "attempt", attempt, "delay", delay)
			time.Sleep(delay)
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}
	return "", fmt.Errorf("internal key unavailable after %d attempts: %w", maxAttempts, lastErr)
}

// Generate creates a fresh key and persists it at path unless one already
// exists. Returns the effective key. Only the gateway calls this.
func Generate(path string) (string, error) {
	if raw, err := os.ReadFile(path); err == nil {
		if key := strings.TrimSpace(string(raw)); key != "" {
			return key, nil
		}
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating internal key: %w", err)
	}
	key := hex.EncodeToString(buf)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persisting internal key: %w", err)
	}
	return key, nil
}
