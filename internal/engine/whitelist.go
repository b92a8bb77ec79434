package engine

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Whitelist is the persisted set of fingerprints known to be clean. The file
// holds one fingerprint per line and is only ever appended to.
type Whitelist struct {
	path   string
	logger *logrus.Logger

	mu  sync.RWMutex
	set map[string]struct{}
}

// LoadWhitelist reads the whitelist file at path. A missing file is an empty
// whitelist.
func LoadWhitelist(path string, logger *logrus.Logger) (*Whitelist, error) {
	w := &Whitelist{
		path:   path,
		logger: logger,
		set:    make(map[string]struct{}),
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return w, nil
		}
		return nil, fmt.Errorf("failed to open whitelist: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}
		w.set[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read whitelist: %w", err)
	}

	logger.WithField("count", len(w.set)).Debug("Loaded whitelist")
	return w, nil
}

// Contains reports whether fingerprint is whitelisted.
func (w *Whitelist) Contains(fingerprint string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.set[fingerprint]
	return ok
}

// Add appends fingerprint to the whitelist. Adding a fingerprint that is
// already present does nothing.
func (w *Whitelist) Add(fingerprint string) error {
	fingerprint = strings.ToLower(strings.TrimSpace(fingerprint))
	if fingerprint == "" {
		return fmt.Errorf("empty fingerprint")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.set[fingerprint]; ok {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		return fmt.Errorf("failed to create whitelist directory: %w", err)
	}
	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open whitelist: %w", err)
	}
	if _, err := file.WriteString(fingerprint + "\n"); err != nil {
		file.Close()
		return fmt.Errorf("failed to append to whitelist: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close whitelist: %w", err)
	}

	w.set[fingerprint] = struct{}{}
	return nil
}

// Len returns the number of whitelisted fingerprints.
func (w *Whitelist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.set)
}
