package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr/pkg/router"
	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/triggers"
)

type sender interface {
	Send(message string, params *types.Params) []error
}

// Notifier handles sending notifications via Shoutrrr.
type Notifier struct {
	sr     sender
	logger *logrus.Logger
}

// NewNotifier initializes a new Notifier with the provided Shoutrrr URLs.
func NewNotifier(urls []string, logger *logrus.Logger) (*Notifier, error) {
	sr, err := router.New(nil, urls...)
	if err != nil {
		return nil, err
	}
	return &Notifier{sr: sr, logger: logger}, nil
}

// Send sends a notification message to all configured services.
func (n *Notifier) Send(title, message string) {
	params := types.Params{
		"title": title,
	}
	failed := false
	for _, err := range n.sr.Send(message, &params) {
		if err != nil {
			failed = true
			n.logger.WithError(err).Error("Failed to send notification")
		}
	}
	if !failed {
		n.logger.WithField("title", title).Debug("Notification sent")
	}
}

// Listen forwards broker events as notifications until ctx is done or the
// broker closes.
func (n *Notifier) Listen(ctx context.Context, broker *events.Broker) {
	ch, unsubscribe := broker.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if title, msg, ok := Format(ev); ok {
				n.Send(title, msg)
			}
		}
	}
}

// Format renders an event as a notification. Per-file progress and scans
// started by the file watcher are not notified.
func Format(ev events.Event) (string, string, bool) {
	switch ev.Type {
	case events.ThreatFound:
		r, ok := ev.Data.(models.Result)
		if !ok {
			return "", "", false
		}
		detail := r.Signature
		switch r.Kind {
		case models.KindMaliciousFamily:
			if r.Family != nil {
				detail = r.Family.FamilyName
			}
		case models.KindMaliciousPattern:
			detail = r.Rule
		}
		if r.Quarantined {
			return "Threat quarantined",
				fmt.Sprintf("**%s** (%s) was detected and moved to quarantine.\nFile: %s", detail, r.Kind, r.Path), true
		}
		return "Threat detected",
			fmt.Sprintf("**%s** (%s) was detected but could not be quarantined: %s\nFile: %s", detail, r.Kind, r.Error, r.Path), true

	case events.ScanStarted:
		st, ok := ev.Data.(models.ScanStatus)
		if !ok || st.ScanType == models.ScanTypeCustom {
			return "", "", false
		}
		return "Scan started", fmt.Sprintf("%s scan of %s started.", strings.ToLower(string(st.ScanType)), st.Root), true

	case events.ScanCompleted:
		rep, ok := ev.Data.(models.ScanReport)
		if !ok || (rep.ScanType == models.ScanTypeCustom && rep.Summary.TotalMatches == 0) {
			return "", "", false
		}
		return "Scan complete", fmt.Sprintf("%s scan of %s finished: %d files, %d threats.",
			strings.ToLower(string(rep.ScanType)), rep.Root, rep.Summary.TotalFiles, rep.Summary.TotalMatches), true

	case events.WatchStatus:
		st, ok := ev.Data.(triggers.WatchState)
		if !ok {
			return "", "", false
		}
		switch {
		case st.Error != "":
			return "Live protection failed", st.Error, true
		case st.Active:
			return "Live protection active", fmt.Sprintf("Watching %s", strings.Join(st.Locations, ", ")), true
		default:
			return "Live protection stopped", "No locations are being watched.", true
		}
	}
	return "", "", false
}
