// Package events fans scan and watch notifications out to subscribers.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Type identifies an event.
type Type string

const (
	ScanStarted   Type = "scan.started"
	ScanProgress  Type = "scan.progress"
	ThreatFound   Type = "scan.threat"
	ScanCompleted Type = "scan.completed"
	FileChanged   Type = "watch.file"
	WatchStatus   Type = "watch.status"
	SettingsSaved Type = "settings.saved"
)

// Event is one published notification.
type Event struct {
	Type Type        `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(t Type, data interface{})
}

// Broker delivers every published event to every subscriber. Publishing never
// blocks; a subscriber that falls behind loses events.
type Broker struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker returns an empty broker.
func NewBroker(logger *logrus.Logger) *Broker {
	return &Broker{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a subscriber with the given channel buffer. The returned
// function unsubscribes and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish sends an event of type t to all subscribers.
func (b *Broker) Publish(t Type, data interface{}) {
	if b == nil {
		return
	}
	ev := Event{Type: t, Time: time.Now().UTC(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"event":      t,
			}).Debug("Dropping event for slow subscriber")
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel and later publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
