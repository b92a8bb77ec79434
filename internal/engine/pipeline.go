package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/database"
	"github.com/y0ug/depwner/internal/models"
)

// Quarantiner isolates a detected file.
type Quarantiner interface {
	Quarantine(path string, detection models.Detection) (models.QuarantineRecord, error)
}

// PipelineConfig wires the detection tiers.
type PipelineConfig struct {
	Whitelist  *Whitelist
	Families   *FamilyIndex
	Store      database.SignatureStore
	Patterns   PatternMatcher
	Quarantine Quarantiner
	// PatternEnabled is consulted for every file so settings changes apply
	// to running sessions.
	PatternEnabled func() bool
}

// Pipeline classifies single files.
type Pipeline struct {
	cfg    PipelineConfig
	logger *logrus.Logger
}

// NewPipeline returns a pipeline over cfg.
func NewPipeline(cfg PipelineConfig, logger *logrus.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger}
}

// Classify runs path through the tiers with the default pattern matcher.
func (p *Pipeline) Classify(ctx context.Context, path string) (models.Result, error) {
	return p.ClassifyWith(ctx, path, p.cfg.Patterns)
}

// ClassifyWith runs path through the tiers, in order: whitelist, family
// index, signature store, pattern engine. The first hit wins. A non-nil
// error is always a *database.StoreError.
func (p *Pipeline) ClassifyWith(ctx context.Context, path string, patterns PatternMatcher) (models.Result, error) {
	logger := p.logger.WithField("path", path)
	result := models.Result{Path: path}

	fingerprint, _, err := Fingerprint(path)
	if err != nil {
		logger.WithError(err).Warn("Skipping file that cannot be read")
		result.Kind = models.KindHashError
		result.Error = err.Error()
		return result, nil
	}
	result.Fingerprint = fingerprint
	logger = logger.WithField("md5", fingerprint)

	if p.cfg.Whitelist != nil && p.cfg.Whitelist.Contains(fingerprint) {
		result.Kind = models.KindWhitelisted
		return result, nil
	}

	if family, ok := p.cfg.Families.Lookup(fingerprint); ok {
		result.Kind = models.KindMaliciousFamily
		result.Family = family
		p.quarantine(&result, family.FamilyName, logger)
		return result, nil
	}

	if p.cfg.Store != nil {
		entry, err := p.cfg.Store.GetSignature(ctx, fingerprint)
		switch {
		case err == nil:
			result.Kind = models.KindMaliciousSignature
			result.Signature = entry.Signature
			result.FirstSeen = entry.FirstSeen
			p.quarantine(&result, entry.Signature, logger)
			return result, nil
		case errors.Is(err, database.ErrSignatureNotFound):
		default:
			var storeErr *database.StoreError
			if !errors.As(err, &storeErr) {
				err = &database.StoreError{Op: "lookup", Err: err}
			}
			return result, err
		}
	}

	if p.patternEnabled() && patterns != nil && patterns.Configured() {
		rules, err := patterns.Match(ctx, path)
		if err != nil {
			logger.WithError(err).Warn("Pattern engine failed, treating as no match")
		} else if len(rules) > 0 {
			result.Kind = models.KindMaliciousPattern
			result.Rule = strings.Join(rules, ",")
			p.quarantine(&result, result.Rule, logger)
			return result, nil
		}
	}

	result.Kind = models.KindCleanNew
	if p.cfg.Whitelist != nil {
		if err := p.cfg.Whitelist.Add(fingerprint); err != nil {
			logger.WithError(err).Error("Failed to add fingerprint to whitelist")
		}
	}
	return result, nil
}

func (p *Pipeline) patternEnabled() bool {
	return p.cfg.PatternEnabled != nil && p.cfg.PatternEnabled()
}

func (p *Pipeline) quarantine(result *models.Result, detail string, logger *logrus.Entry) {
	logger = logger.WithFields(logrus.Fields{
		"kind":   result.Kind,
		"detail": detail,
	})
	if p.cfg.Quarantine == nil {
		logger.Warn("Threat detected but no quarantine is configured")
		return
	}

	record, err := p.cfg.Quarantine.Quarantine(result.Path, models.Detection{
		Kind:        result.Kind,
		Fingerprint: result.Fingerprint,
		Detail:      detail,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to quarantine file")
		result.Quarantined = false
		result.Error = err.Error()
		return
	}

	logger.WithField("quarantine_name", record.Name).Info("Threat quarantined")
	result.Quarantined = true
	result.QuarantineName = record.Name
}
