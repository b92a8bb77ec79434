// Package definitions keeps the signature store current from a hash feed.
package definitions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/database"
	"github.com/y0ug/depwner/internal/models"
	"golang.org/x/time/rate"
)

// UpdateError reports a failed definitions update. Nothing was written.
type UpdateError struct {
	Op  string
	Err error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("definitions update %s: %v", e.Op, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Marker records the time of the last successful update.
type Marker interface {
	MarkUpdated(t time.Time) (string, error)
}

// Config holds the updater settings.
type Config struct {
	FeedURL string
	// Rate and Burst limit feed requests.
	Rate  rate.Limit
	Burst int
	// Client defaults to an http.Client with a one minute timeout.
	Client *http.Client
}

// Updater downloads feeds and upserts them into the signature store.
type Updater struct {
	cfg     Config
	store   database.SignatureStore
	marker  Marker
	limiter *rate.Limiter
	logger  *logrus.Logger
	now     func() time.Time
}

// NewUpdater returns an updater writing to store. marker may be nil.
func NewUpdater(cfg Config, store database.SignatureStore, marker Marker, logger *logrus.Logger) *Updater {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: time.Minute}
	}
	if cfg.Rate <= 0 {
		cfg.Rate = rate.Every(time.Minute)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Updater{
		cfg:     cfg,
		store:   store,
		marker:  marker,
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		logger:  logger,
		now:     time.Now,
	}
}

// Update fetches the configured feed and applies it.
func (u *Updater) Update(ctx context.Context) (models.UpdateSummary, error) {
	if u.cfg.FeedURL == "" {
		return models.UpdateSummary{}, &UpdateError{Op: "fetch", Err: fmt.Errorf("no feed URL configured")}
	}
	if err := u.limiter.Wait(ctx); err != nil {
		return models.UpdateSummary{}, &UpdateError{Op: "fetch", Err: fmt.Errorf("rate limiter error: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.FeedURL, nil)
	if err != nil {
		return models.UpdateSummary{}, &UpdateError{Op: "fetch", Err: err}
	}
	resp, err := u.cfg.Client.Do(req)
	if err != nil {
		return models.UpdateSummary{}, &UpdateError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	u.logger.WithFields(logrus.Fields{
		"url":    u.cfg.FeedURL,
		"status": resp.StatusCode,
	}).Info("Definitions feed response")
	if resp.StatusCode != http.StatusOK {
		return models.UpdateSummary{}, &UpdateError{Op: "fetch", Err: fmt.Errorf("feed returned status: %d", resp.StatusCode)}
	}

	return u.apply(ctx, resp.Body, true)
}

// UpdateFromFile applies a feed stored on disk.
func (u *Updater) UpdateFromFile(ctx context.Context, path string) (models.UpdateSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.UpdateSummary{}, &UpdateError{Op: "open", Err: err}
	}
	defer file.Close()
	return u.apply(ctx, file, true)
}

// ImportFile bulk-loads a feed file without touching the last update time.
func (u *Updater) ImportFile(ctx context.Context, path string) (models.UpdateSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.UpdateSummary{}, &UpdateError{Op: "open", Err: err}
	}
	defer file.Close()
	return u.apply(ctx, file, false)
}

func (u *Updater) apply(ctx context.Context, r io.Reader, mark bool) (models.UpdateSummary, error) {
	now := u.now()
	feed, err := Parse(r, now)
	if err != nil {
		u.logger.WithError(err).Error("Failed to parse definitions feed")
		return models.UpdateSummary{}, &UpdateError{Op: "parse", Err: err}
	}

	inserted, err := u.store.AddSignatures(ctx, feed.Entries)
	if err != nil {
		u.logger.WithError(err).Error("Failed to store definitions")
		return models.UpdateSummary{}, &UpdateError{Op: "store", Err: err}
	}

	summary := models.UpdateSummary{
		Rows:     feed.Rows,
		Inserted: inserted,
		Skipped:  feed.Skipped,
	}
	if mark && u.marker != nil {
		stamp, err := u.marker.MarkUpdated(now)
		if err != nil {
			u.logger.WithError(err).Error("Failed to record update time")
		}
		summary.LastUpdated = stamp
	}

	u.logger.WithFields(logrus.Fields{
		"rows":     summary.Rows,
		"inserted": summary.Inserted,
		"skipped":  summary.Skipped,
	}).Info("Definitions updated")
	return summary, nil
}
