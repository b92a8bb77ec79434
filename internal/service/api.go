package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/engine"
	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
)

// ErrInvalidOptions is returned for a scan request that names no target,
// both targets, or a signature database other than the configured one.
var ErrInvalidOptions = errors.New("invalid scan options")

// Options is a scan request.
type Options struct {
	FilePath   string `json:"file_path,omitempty"`
	FolderPath string `json:"folder_path,omitempty"`
	// SignatureDBPath names the signature database. A .csv file is imported
	// into an empty store; any other path must be the configured database.
	SignatureDBPath string `json:"db_path,omitempty"`
	// PatternRulesPath replaces the pattern rules for this scan only.
	PatternRulesPath string         `json:"rules_path,omitempty"`
	ScanType         models.ScanType `json:"scan_type,omitempty"`
	// Background returns as soon as the session starts. Results are
	// published on the event broker.
	Background bool `json:"background,omitempty"`
}

func (o *Options) validate() error {
	o.FilePath = strings.TrimSpace(o.FilePath)
	o.FolderPath = strings.TrimSpace(o.FolderPath)
	switch {
	case o.FilePath == "" && o.FolderPath == "":
		return fmt.Errorf("%w: a file or folder path is required", ErrInvalidOptions)
	case o.FilePath != "" && o.FolderPath != "":
		return fmt.Errorf("%w: file and folder paths are mutually exclusive", ErrInvalidOptions)
	}
	switch o.ScanType {
	case "":
		o.ScanType = models.ScanTypeManual
	case models.ScanTypeManual, models.ScanTypeCustom, models.ScanTypeAutoscan:
	default:
		return fmt.Errorf("%w: unknown scan type %q", ErrInvalidOptions, o.ScanType)
	}
	return nil
}

// EngineStatus is the payload of Status.
type EngineStatus struct {
	Active        []models.ScanStatus `json:"active"`
	Last          *models.ScanStatus  `json:"last,omitempty"`
	Watching      []string            `json:"watching"`
	NextScheduled *time.Time          `json:"next_scheduled_scan,omitempty"`
}

// Status reports running sessions, the last finished one and trigger state.
func (s *Service) Status() models.Response {
	status := EngineStatus{
		Active:   s.scanner.Active(),
		Watching: s.watcher.Locations(),
	}
	if status.Watching == nil {
		status.Watching = []string{}
	}
	if last, ok := s.scanner.Last(); ok {
		status.Last = &last
	}
	if next, ok := s.scheduler.Next(); ok {
		status.NextScheduled = &next
	}
	return models.Ok("Status retrieved successfully", status)
}

// Ledger returns the quarantine ledger.
func (s *Service) Ledger() models.Response {
	records, err := s.quarantine.List()
	if err != nil {
		s.logger.WithError(err).Error("Failed to read quarantine ledger")
		return models.Fail(err)
	}
	return models.Ok("Quarantine retrieved successfully", records)
}

// ScanLog returns the finished scans.
func (s *Service) ScanLog() models.Response {
	entries, err := s.scanLog.Entries()
	if err != nil {
		s.logger.WithError(err).Error("Failed to read scan log")
		return models.Fail(err)
	}
	return models.Ok("Scan log retrieved successfully", entries)
}

// Settings returns the current settings.
func (s *Service) Settings() models.Response {
	return models.Ok("Settings retrieved successfully", s.settings.Get())
}

// UpdateSettings validates and saves next. The triggers pick up the change.
func (s *Service) UpdateSettings(next models.Settings) models.Response {
	saved, err := s.settings.Update(next)
	if err != nil {
		s.logger.WithError(err).Warn("Settings update rejected")
		return models.Fail(err)
	}
	s.broker.Publish(events.SettingsSaved, saved)
	return models.Ok("Settings saved successfully", saved)
}

// Scan runs one scan session. A file scan returns the models.Result, a
// folder scan the models.ScanReport. A cancelled folder scan fails with the
// partial report attached.
func (s *Service) Scan(ctx context.Context, opts Options) models.Response {
	if err := opts.validate(); err != nil {
		return models.Fail(err)
	}
	if err := s.prepareSignatures(ctx, opts.SignatureDBPath); err != nil {
		s.logger.WithError(err).Error("Signature database not usable for scan")
		return models.Fail(err)
	}

	var sessionOpts []engine.SessionOption
	if opts.PatternRulesPath != "" {
		sessionOpts = append(sessionOpts, engine.WithPatternMatcher(s.patterns.WithRules(opts.PatternRulesPath)))
	}
	session := s.scanner.NewSession(opts.ScanType, sessionOpts...)

	if opts.Background {
		s.tasks.Add(1)
		go func() {
			defer s.tasks.Done()
			s.runScan(s.ctx, session, opts)
		}()
		return models.Ok("Scan started", map[string]string{"session_id": session.ID()})
	}
	return s.runScan(ctx, session, opts)
}

// ScanPath scans a file or a folder, whichever path is.
func (s *Service) ScanPath(ctx context.Context, path string, scanType models.ScanType) models.Response {
	opts := Options{ScanType: scanType}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		opts.FolderPath = path
	} else {
		opts.FilePath = path
	}
	return s.Scan(ctx, opts)
}

func (s *Service) runScan(ctx context.Context, session *engine.Session, opts Options) models.Response {
	if opts.FilePath != "" {
		result, err := session.ScanFile(ctx, opts.FilePath)
		if err != nil {
			s.logger.WithError(err).WithField("path", opts.FilePath).Error("File scan failed")
			return models.Fail(err)
		}
		return models.Ok("Scan completed", result)
	}

	report, err := session.ScanFolder(ctx, opts.FolderPath)
	if err != nil {
		s.logger.WithError(err).WithField("root", opts.FolderPath).Warn("Folder scan did not complete")
		resp := models.Fail(err)
		if errors.Is(err, engine.ErrCancelled) {
			resp.Data = report
		}
		return resp
	}
	return models.Ok("Scan completed", report)
}

// prepareSignatures checks a per-scan database path against the configured
// store and bulk-loads a CSV feed into an empty store.
func (s *Service) prepareSignatures(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		total, err := s.store.GetTotalSignatures(ctx)
		if err != nil {
			return err
		}
		if total > 0 {
			s.logger.WithField("rows", total).Debug("Signature store already populated, skipping CSV import")
			return nil
		}
		summary, err := s.updater.ImportFile(ctx, path)
		if err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"path":     path,
			"inserted": summary.Inserted,
		}).Info("Imported signatures into empty store")
		return nil
	}

	if s.dbCfg.Type == "redis" || !samePath(path, s.dbCfg.Path) {
		return fmt.Errorf("%w: signature database %s is not the configured store", ErrInvalidOptions, path)
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// CancelScan asks a running session to stop.
func (s *Service) CancelScan(id string) models.Response {
	session, ok := s.scanner.Session(id)
	if !ok {
		return models.Response{Success: false, Message: fmt.Sprintf("no running scan with id %s", id)}
	}
	session.Cancel()
	return models.Ok("Scan cancellation requested", map[string]string{"session_id": id})
}

// Restore moves the most recent quarantined copy of originalPath back and
// whitelists its fingerprint so the next scan leaves it alone.
func (s *Service) Restore(originalPath string) models.Response {
	record, err := s.quarantine.FindByOriginalPath(originalPath)
	if err != nil {
		return models.Fail(err)
	}
	if err := s.quarantine.Restore(record); err != nil {
		s.logger.WithError(err).WithField("path", originalPath).Error("Restore failed")
		return models.Fail(err)
	}
	if err := s.whitelist.Add(record.Fingerprint); err != nil {
		s.logger.WithError(err).WithField("md5", record.Fingerprint).Warn("Restored file not whitelisted")
	}
	return models.Ok("File restored successfully", record)
}

// Purge deletes the most recent quarantined copy of originalPath.
func (s *Service) Purge(originalPath string) models.Response {
	record, err := s.quarantine.FindByOriginalPath(originalPath)
	if err != nil {
		return models.Fail(err)
	}
	if err := s.quarantine.Purge(record); err != nil {
		s.logger.WithError(err).WithField("path", originalPath).Error("Purge failed")
		return models.Fail(err)
	}
	return models.Ok("File deleted successfully", record)
}

// UpdateDefinitions fetches the configured feed.
func (s *Service) UpdateDefinitions(ctx context.Context) models.Response {
	summary, err := s.updater.Update(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Definitions update failed")
		return models.Fail(err)
	}
	return models.Ok("Definitions updated successfully", summary)
}

// UpdateDefinitionsFromFile applies a feed stored on disk.
func (s *Service) UpdateDefinitionsFromFile(ctx context.Context, path string) models.Response {
	summary, err := s.updater.UpdateFromFile(ctx, path)
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Error("Definitions update failed")
		return models.Fail(err)
	}
	return models.Ok("Definitions updated successfully", summary)
}

// Subscribe registers a push subscriber on the event broker.
func (s *Service) Subscribe(buffer int) (<-chan events.Event, func()) {
	return s.broker.Subscribe(buffer)
}

// Stats returns store and quarantine counters.
func (s *Service) Stats(ctx context.Context) models.Response {
	total, err := s.store.GetTotalSignatures(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count signatures")
		return models.Fail(err)
	}
	records, err := s.quarantine.List()
	if err != nil {
		return models.Fail(err)
	}
	return models.Ok("Statistics retrieved successfully", models.StatsResponse{
		TotalSignatures: total,
		Whitelisted:     s.whitelist.Len(),
		Quarantined:     len(records),
		ActiveScans:     s.scanner.ActiveCount(),
		LastUpdated:     s.settings.Get().LastUpdated,
	})
}

// Reconcile compares the quarantine directory with its ledger.
func (s *Service) Reconcile() models.Response {
	report, err := s.quarantine.Reconcile()
	if err != nil {
		return models.Fail(err)
	}
	return models.Ok("Quarantine reconciled", report)
}
