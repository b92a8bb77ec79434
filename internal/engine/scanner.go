package engine

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
	"golang.org/x/sync/semaphore"
)

// ScanLog records finished sessions.
type ScanLog interface {
	Append(entry models.ScanLogEntry) error
}

// ScannerConfig holds what sessions share.
type ScannerConfig struct {
	Pipeline *Pipeline
	Locks    *RootLocks
	// MaxConcurrent bounds the number of sessions running at once.
	MaxConcurrent int64
	// Exclude lists directories never enumerated, such as the quarantine area.
	Exclude []string
	// Roots returns the configured locations, used to pick lock keys.
	Roots  func() []string
	Log    ScanLog
	Events events.Publisher
}

// Scanner creates scan sessions and tracks the running ones.
type Scanner struct {
	cfg    ScannerConfig
	sem    *semaphore.Weighted
	logger *logrus.Logger

	mu     sync.Mutex
	active map[string]*Session
	last   *models.ScanStatus
}

// NewScanner returns a scanner over cfg.
func NewScanner(cfg ScannerConfig, logger *logrus.Logger) *Scanner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Locks == nil {
		cfg.Locks = NewRootLocks()
	}
	return &Scanner{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: logger,
		active: make(map[string]*Session),
	}
}

// SessionOption customizes a session.
type SessionOption func(*Session)

// WithLockPolicy sets what happens when the root is busy. The default is
// QueuePolicy.
func WithLockPolicy(p LockPolicy) SessionOption {
	return func(s *Session) { s.policy = p }
}

// WithPatternMatcher overrides the pipeline's pattern matcher for one session.
func WithPatternMatcher(m PatternMatcher) SessionOption {
	return func(s *Session) { s.patterns = m }
}

// NewSession returns an idle session. A session runs one scan.
func (sc *Scanner) NewSession(scanType models.ScanType, opts ...SessionOption) *Session {
	s := &Session{
		id:       uuid.NewString(),
		scanType: scanType,
		scanner:  sc,
		policy:   QueuePolicy,
		patterns: sc.cfg.Pipeline.cfg.Patterns,
	}
	s.status = models.ScanStatus{
		SessionID:    s.id,
		State:        models.StateIdle,
		ScanType:     scanType,
		ThreatsFound: []string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session returns a running session by id.
func (sc *Scanner) Session(id string) (*Session, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	s, ok := sc.active[id]
	return s, ok
}

// Active returns snapshots of all running sessions, oldest first.
func (sc *Scanner) Active() []models.ScanStatus {
	sc.mu.Lock()
	sessions := make([]*Session, 0, len(sc.active))
	for _, s := range sc.active {
		sessions = append(sessions, s)
	}
	sc.mu.Unlock()

	statuses := make([]models.ScanStatus, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].SessionID < statuses[j].SessionID
	})
	return statuses
}

// ActiveCount returns the number of running sessions.
func (sc *Scanner) ActiveCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.active)
}

// Last returns the final status of the most recently finished session.
func (sc *Scanner) Last() (models.ScanStatus, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.last == nil {
		return models.ScanStatus{}, false
	}
	return *sc.last, true
}

func (sc *Scanner) register(s *Session) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.active[s.id] = s
}

func (sc *Scanner) unregister(s *Session) {
	status := s.Status()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.active, s.id)
	sc.last = &status
}

func (sc *Scanner) roots() []string {
	if sc.cfg.Roots == nil {
		return nil
	}
	return sc.cfg.Roots()
}

func (sc *Scanner) publish(t events.Type, data interface{}) {
	if sc.cfg.Events != nil {
		sc.cfg.Events.Publish(t, data)
	}
}
