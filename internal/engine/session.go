package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
)

// Session is one scan, owned by whoever created it. Status and Cancel may be
// called from any goroutine.
type Session struct {
	id       string
	scanType models.ScanType
	scanner  *Scanner
	policy   LockPolicy
	patterns PatternMatcher

	mu        sync.Mutex
	status    models.ScanStatus
	started   bool
	cancelled bool
	cancel    context.CancelFunc
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Status returns a snapshot of the session state.
func (s *Session) Status() models.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.ThreatsFound = append([]string{}, s.status.ThreatsFound...)
	return st
}

// Cancel asks the session to stop after the file in progress.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	}
}

// begin marks the session started and returns its context.
func (s *Session) begin(parent context.Context, root string) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, nil, ErrSessionUsed
	}
	s.started = true
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	if s.cancelled {
		cancel()
	}
	s.status.Root = root
	return ctx, cancel, nil
}

func (s *Session) update(fn func(st *models.ScanStatus)) models.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	st := s.status
	st.ThreatsFound = append([]string{}, s.status.ThreatsFound...)
	return st
}

func (s *Session) stopped(ctx context.Context) bool {
	return ctx.Err() != nil
}

func (s *Session) logger() *logrus.Entry {
	return s.scanner.logger.WithFields(logrus.Fields{
		"session":   s.id,
		"scan_type": s.scanType,
	})
}

// acquire takes a global slot and the root lock. The returned function
// releases both.
func (s *Session) acquire(ctx context.Context, key string) (func(), error) {
	sc := s.scanner
	if err := sc.sem.Acquire(ctx, 1); err != nil {
		return nil, ErrCancelled
	}
	unlock, err := sc.cfg.Locks.Acquire(ctx, key, s.policy)
	if err != nil {
		sc.sem.Release(1)
		if errors.Is(err, ErrRootBusy) {
			s.logger().WithField("root", key).Info("Skipping scan, root is already being scanned")
			return nil, ErrRootBusy
		}
		return nil, ErrCancelled
	}
	return func() {
		unlock()
		sc.sem.Release(1)
	}, nil
}

// ScanFile classifies a single file.
func (s *Session) ScanFile(ctx context.Context, path string) (models.Result, error) {
	path = filepath.Clean(path)
	ctx, cancel, err := s.begin(ctx, path)
	if err != nil {
		return models.Result{}, err
	}
	defer cancel()

	release, err := s.acquire(ctx, LockKey(path, s.scanner.roots(), filepath.Dir(path)))
	if err != nil {
		return models.Result{}, err
	}
	defer release()

	sc := s.scanner
	sc.register(s)
	defer sc.unregister(s)

	st := s.update(func(st *models.ScanStatus) {
		st.State = models.StateScanning
		st.TotalFiles = 1
		st.Progress = 0
		st.CurrentFile = path
	})
	sc.publish(events.ScanStarted, st)

	result, err := sc.cfg.Pipeline.ClassifyWith(ctx, path, s.patterns)
	if err != nil {
		s.update(func(st *models.ScanStatus) { st.State = models.StateIdle })
		s.logger().WithError(err).Error("Scan aborted")
		return result, err
	}

	st = s.update(func(st *models.ScanStatus) {
		st.Progress = 1
		if result.Kind.Malicious() {
			st.ThreatsFound = append(st.ThreatsFound, path)
		}
		st.State = models.StateCompleted
	})
	sc.publish(events.ScanProgress, st)
	if result.Kind.Malicious() {
		sc.publish(events.ThreatFound, result)
	}

	threats := 0
	if result.Kind.Malicious() {
		threats = 1
	}
	s.appendLog(models.ScanLogEntry{
		ScanType:     s.scanType,
		FilesScanned: 1,
		Threats:      threats,
		Timestamp:    time.Now().UTC(),
		Root:         path,
	})

	report := models.ScanReport{
		SessionID: s.id,
		ScanType:  s.scanType,
		Root:      path,
	}
	report.Summary.TotalFiles = 1
	report.Summary.Add(result)
	report.Summary.Finalize()
	if result.Kind.Malicious() {
		report.MatchedFiles = []models.Result{result}
	}
	sc.publish(events.ScanCompleted, report)

	return result, nil
}

// ScanFolder classifies every regular file under root.
func (s *Session) ScanFolder(ctx context.Context, root string) (models.ScanReport, error) {
	root = filepath.Clean(root)
	report := models.ScanReport{
		SessionID:    s.id,
		ScanType:     s.scanType,
		Root:         root,
		StartedAt:    time.Now().UTC(),
		MatchedFiles: []models.Result{},
	}

	ctx, cancel, err := s.begin(ctx, root)
	if err != nil {
		return report, err
	}
	defer cancel()

	release, err := s.acquire(ctx, LockKey(root, s.scanner.roots(), root))
	if err != nil {
		return report, err
	}
	defer release()

	sc := s.scanner
	sc.register(s)
	defer sc.unregister(s)

	logger := s.logger().WithField("root", root)
	st := s.update(func(st *models.ScanStatus) {
		st.State = models.StateScanning
		st.Progress = 0
	})
	sc.publish(events.ScanStarted, st)
	logger.Info("Scan started")

	files, err := Enumerate(ctx, root, sc.cfg.Exclude, sc.logger)
	if err != nil || s.stopped(ctx) {
		return s.abort(report, logger)
	}

	if len(files) == 0 {
		s.update(func(st *models.ScanStatus) {
			st.State = models.StateCompleted
			st.TotalFiles = 0
		})
		report.FinishedAt = time.Now().UTC()
		report.Summary.Finalize()
		sc.publish(events.ScanCompleted, report)
		logger.Info("Scan finished, no files found")
		return report, nil
	}

	s.update(func(st *models.ScanStatus) { st.TotalFiles = len(files) })

	for _, path := range files {
		if s.stopped(ctx) {
			return s.abort(report, logger)
		}

		s.update(func(st *models.ScanStatus) { st.CurrentFile = path })

		result, err := sc.cfg.Pipeline.ClassifyWith(ctx, path, s.patterns)
		if err != nil {
			s.update(func(st *models.ScanStatus) { st.State = models.StateIdle })
			logger.WithError(err).Error("Scan aborted")
			report.FinishedAt = time.Now().UTC()
			report.Partial = true
			report.Summary.Finalize()
			return report, err
		}

		report.Summary.TotalFiles++
		report.Summary.Add(result)
		switch {
		case result.Kind.Malicious():
			report.MatchedFiles = append(report.MatchedFiles, result)
		case result.Kind == models.KindWhitelisted:
			report.WhitelistedFiles = append(report.WhitelistedFiles, path)
		case result.Kind == models.KindCleanNew:
			report.NewWhitelistedFiles = append(report.NewWhitelistedFiles, path)
		}

		st := s.update(func(st *models.ScanStatus) {
			st.Progress++
			if result.Kind.Malicious() {
				st.ThreatsFound = append(st.ThreatsFound, path)
			}
		})
		sc.publish(events.ScanProgress, st)
		if result.Kind.Malicious() {
			sc.publish(events.ThreatFound, result)
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.Summary.Finalize()
	s.update(func(st *models.ScanStatus) {
		st.State = models.StateCompleted
		st.CurrentFile = ""
	})

	s.appendLog(models.ScanLogEntry{
		ScanType:     s.scanType,
		FilesScanned: report.Summary.TotalFiles,
		Threats:      report.Summary.TotalMatches,
		Timestamp:    report.FinishedAt,
		Root:         root,
	})
	sc.publish(events.ScanCompleted, report)

	logger.WithFields(logrus.Fields{
		"files":   report.Summary.TotalFiles,
		"threats": report.Summary.TotalMatches,
	}).Info("Scan completed")
	return report, nil
}

// abort leaves progress as it is and returns the partial report. Nothing is
// written to the scan log.
func (s *Session) abort(report models.ScanReport, logger *logrus.Entry) (models.ScanReport, error) {
	st := s.update(func(st *models.ScanStatus) { st.State = models.StateIdle })
	report.FinishedAt = time.Now().UTC()
	report.Partial = true
	report.Summary.Finalize()
	logger.WithField("progress", st.Progress).Info("Scan cancelled")
	return report, ErrCancelled
}

func (s *Session) appendLog(entry models.ScanLogEntry) {
	if s.scanner.cfg.Log == nil {
		return
	}
	if err := s.scanner.cfg.Log.Append(entry); err != nil {
		s.logger().WithError(err).Error("Failed to append scan log entry")
	}
}
