// Package service wires the engine components together and exposes the
// operations used by the control API and the CLI.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/config"
	"github.com/y0ug/depwner/internal/database"
	"github.com/y0ug/depwner/internal/definitions"
	"github.com/y0ug/depwner/internal/engine"
	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/notifications"
	"github.com/y0ug/depwner/internal/quarantine"
	"github.com/y0ug/depwner/internal/scanlog"
	"github.com/y0ug/depwner/internal/settings"
	"github.com/y0ug/depwner/internal/triggers"
	"golang.org/x/time/rate"
)

// Service owns every long-lived component of the engine.
type Service struct {
	cfg    *config.Config
	dbCfg  *database.DatabaseConfig
	logger *logrus.Logger

	store      database.SignatureStore
	whitelist  *engine.Whitelist
	families   *engine.FamilyIndex
	patterns   *engine.YaraMatcher
	quarantine *quarantine.Manager
	settings   *settings.Manager
	scanLog    *scanlog.Log
	broker     *events.Broker
	scanner    *engine.Scanner
	updater    *definitions.Updater
	watcher    *triggers.Watcher
	scheduler  *triggers.Scheduler
	notifier   *notifications.Notifier

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// New opens the stores under cfg and builds the engine. Triggers are not
// running until Start is called.
func New(ctx context.Context, cfg *config.Config, dbCfg *database.DatabaseConfig, notifyCfg *notifications.NotificationConfig, logger *logrus.Logger) (*Service, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	quarantineDir, err := filepath.Abs(cfg.QuarantineDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve quarantine directory: %w", err)
	}

	if dbCfg.Type != "redis" {
		if err := os.MkdirAll(filepath.Dir(dbCfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := database.Open(ctx, dbCfg, logger)
	if err != nil {
		return nil, err
	}
	logger.WithField("type", dbCfg.Type).Info("Signature store opened")

	s := &Service{
		cfg:    cfg,
		dbCfg:  dbCfg,
		logger: logger,
		store:  store,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.build(quarantineDir, notifyCfg); err != nil {
		s.cancel()
		store.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Service) build(quarantineDir string, notifyCfg *notifications.NotificationConfig) error {
	var err error
	cfg, logger := s.cfg, s.logger

	s.whitelist, err = engine.LoadWhitelist(cfg.WhitelistPath, logger)
	if err != nil {
		return err
	}
	s.families, err = engine.LoadFamilyIndex(cfg.FamilyHashPath, cfg.FamilyInfoPath, logger)
	if err != nil {
		return err
	}
	s.quarantine, err = quarantine.NewManager(quarantineDir, cfg.LedgerPath, logger)
	if err != nil {
		return err
	}
	s.settings, err = settings.Load(cfg.SettingsPath, logger)
	if err != nil {
		return err
	}
	s.scanLog = scanlog.Open(cfg.ScanLogPath)
	s.broker = events.NewBroker(logger)
	s.patterns = engine.NewYaraMatcher(cfg.PatternBinary, cfg.PatternRules, cfg.PatternTimeout)

	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Whitelist:      s.whitelist,
		Families:       s.families,
		Store:          s.store,
		Patterns:       s.patterns,
		Quarantine:     s.quarantine,
		PatternEnabled: s.settings.PatternEngineEnabled,
	}, logger)

	s.scanner = engine.NewScanner(engine.ScannerConfig{
		Pipeline:      pipeline,
		MaxConcurrent: cfg.MaxConcurrentScans,
		Exclude:       []string{quarantineDir},
		Roots:         s.settings.Locations,
		Log:           s.scanLog,
		Events:        s.broker,
	}, logger)

	feedRate, feedBurst := cfg.Limit("feed", rate.Every(time.Minute), 1)
	s.updater = definitions.NewUpdater(definitions.Config{
		FeedURL: cfg.FeedURL,
		Rate:    feedRate,
		Burst:   feedBurst,
	}, s.store, s.settings, logger)

	runner := triggers.ScannerRunner{Scanner: s.scanner}
	watchRate, watchBurst := cfg.Limit("watch", 20, 50)
	s.watcher = triggers.NewWatcher(runner, s.broker, triggers.WatchConfig{
		Debounce:   cfg.WatchDebounce,
		Exclude:    []string{quarantineDir},
		EventRate:  watchRate,
		EventBurst: watchBurst,
	}, logger)
	s.scheduler = triggers.NewScheduler(runner, s.settings.Locations, logger)

	if notifyCfg.Enabled() {
		s.notifier, err = notifications.NewNotifier(notifyCfg.ShoutrrrURLs, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize notifier: %w", err)
		}
		logger.Info("Notifier initialized successfully")
	} else {
		logger.Warn("SHOUTRRR_URLS not set. Notifications are disabled.")
	}

	return nil
}

// Start reconciles the quarantine area and starts the file watcher, the
// scheduler and the notifier. Settings changes reconfigure the triggers from
// then on.
func (s *Service) Start() error {
	var err error
	s.startOnce.Do(func() {
		if _, rerr := s.quarantine.Reconcile(); rerr != nil {
			s.logger.WithError(rerr).Warn("Quarantine reconciliation failed")
		}

		if s.notifier != nil {
			s.tasks.Add(1)
			go func() {
				defer s.tasks.Done()
				s.notifier.Listen(s.ctx, s.broker)
			}()
		}

		s.settings.Subscribe(s.applySettings)

		current := s.settings.Get()
		if werr := s.watcher.Configure(current.Locations); werr != nil {
			s.logger.WithError(werr).Error("File watcher not started")
		}
		if err = s.scheduler.Configure(current.Schedule); err != nil {
			return
		}
		s.scheduler.Start()
		s.logger.Info("Engine started")
	})
	return err
}

func (s *Service) applySettings(next models.Settings) {
	if err := s.watcher.Configure(next.Locations); err != nil {
		s.logger.WithError(err).Error("Failed to reconfigure file watcher")
	}
	if err := s.scheduler.Configure(next.Schedule); err != nil {
		s.logger.WithError(err).Error("Failed to reconfigure scan schedule")
	}
}

// Close stops the triggers, cancels background scans and closes the stores.
func (s *Service) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.watcher.Close()
		s.scheduler.Stop()
		for _, st := range s.scanner.Active() {
			if session, ok := s.scanner.Session(st.SessionID); ok {
				session.Cancel()
			}
		}
		s.cancel()
		s.tasks.Wait()
		s.broker.Close()
		err = s.store.Close(ctx)
		s.logger.Info("Engine stopped")
	})
	return err
}

// Broker returns the event broker for push subscribers.
func (s *Service) Broker() *events.Broker {
	return s.broker
}

// Store returns the signature store.
func (s *Service) Store() database.SignatureStore {
	return s.store
}

// Quarantine returns the quarantine manager.
func (s *Service) Quarantine() *quarantine.Manager {
	return s.quarantine
}
