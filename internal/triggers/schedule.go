package triggers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/engine"
	"github.com/y0ug/depwner/internal/models"
)

// CronSpecs turns a schedule into standard five-field cron expressions. An
// inactive schedule, or a weekly one without days, yields none.
func CronSpecs(s models.Schedule) ([]string, error) {
	if !s.Active {
		return nil, nil
	}

	hour, minute, err := parseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return nil, err
	}

	switch s.Frequency {
	case models.FrequencyHourly:
		return []string{"0 * * * *"}, nil
	case models.FrequencyDaily:
		return []string{fmt.Sprintf("%d %d * * *", minute, hour)}, nil
	case models.FrequencyWeekly:
		days := s.WeekdayMask.Days()
		if len(days) == 0 {
			return nil, nil
		}
		parts := make([]string, len(days))
		for i, d := range days {
			parts[i] = strconv.Itoa(d)
		}
		return []string{fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(parts, ","))}, nil
	default:
		return nil, fmt.Errorf("unknown frequency %q", s.Frequency)
	}
}

func parseTimeOfDay(v string) (int, int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", v, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Scheduler scans every configured location on the configured recurrence.
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	locations func() []string
	logger    *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries []cron.EntryID
	specs   []string
}

// NewScheduler returns a stopped scheduler. locations is read on every run.
func NewScheduler(runner Runner, locations func() []string, logger *logrus.Logger, opts ...cron.Option) *Scheduler {
	opts = append([]cron.Option{cron.WithLogger(cron.VerbosePrintfLogger(logger))}, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(opts...),
		runner:    runner,
		locations: locations,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the loop, cancels running scans and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Configure drops every recurrence and installs the ones derived from
// schedule.
func (s *Scheduler) Configure(schedule models.Schedule) error {
	specs, err := CronSpecs(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = nil
	s.specs = nil

	for _, spec := range specs {
		id, err := s.cron.AddFunc(spec, s.Run)
		if err != nil {
			return fmt.Errorf("failed to schedule %q: %w", spec, err)
		}
		s.entries = append(s.entries, id)
		s.specs = append(s.specs, spec)
	}

	s.logger.WithField("specs", specs).Info("Scan schedule configured")
	return nil
}

// Specs returns the installed cron expressions.
func (s *Scheduler) Specs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.specs...)
}

// Next returns the next time a scheduled scan will run.
func (s *Scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for _, id := range s.entries {
		e := s.cron.Entry(id)
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next, !next.IsZero()
}

// Run scans every configured location once.
func (s *Scheduler) Run() {
	locations := s.locations()
	if len(locations) == 0 {
		s.logger.Warn("Scheduled scan skipped, no locations configured")
		return
	}

	for _, loc := range locations {
		if s.ctx.Err() != nil {
			return
		}
		err := s.runner.ScanFolder(s.ctx, loc, models.ScanTypeCustom, engine.DropPolicy)
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrRootBusy), errors.Is(err, engine.ErrCancelled):
			s.logger.WithError(err).WithField("root", loc).Info("Scheduled scan skipped")
		default:
			s.logger.WithError(err).WithField("root", loc).Error("Scheduled scan failed")
		}
	}
}
