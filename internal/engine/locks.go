package engine

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LockPolicy decides what a session does when its root is already being
// scanned.
type LockPolicy int

const (
	// QueuePolicy waits for the root to become free.
	QueuePolicy LockPolicy = iota
	// DropPolicy gives up with ErrRootBusy.
	DropPolicy
)

// RootLocks hands out one advisory lock per scan root.
type RootLocks struct {
	mu    sync.Mutex
	roots map[string]*semaphore.Weighted
}

// NewRootLocks returns an empty lock table.
func NewRootLocks() *RootLocks {
	return &RootLocks{roots: make(map[string]*semaphore.Weighted)}
}

func (l *RootLocks) get(root string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.roots[root]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.roots[root] = sem
	}
	return sem
}

// Acquire locks root according to policy. The returned function releases it.
func (l *RootLocks) Acquire(ctx context.Context, root string, policy LockPolicy) (func(), error) {
	sem := l.get(filepath.Clean(root))
	switch policy {
	case DropPolicy:
		if !sem.TryAcquire(1) {
			return nil, ErrRootBusy
		}
	default:
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// LockKey returns the root a path is locked under: the outermost of roots
// that contains it, or fallback when none does. Nested roots share the lock of
// the root enclosing them.
func LockKey(path string, roots []string, fallback string) string {
	best := ""
	for _, root := range roots {
		if root == "" || !Within(path, root) {
			continue
		}
		if c := filepath.Clean(root); best == "" || len(c) < len(best) {
			best = c
		}
	}
	if best != "" {
		return best
	}
	return filepath.Clean(fallback)
}
