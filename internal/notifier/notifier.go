package notifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event types for notifications
type EventType string

const (
	EventMovieRemoved  EventType = "movie_removed"
	EventMovieUnwanted EventType = "movie_unwanted"
	EventMovieWarning  EventType = "movie_warning"
	EventRunCompleted  EventType = "run_completed"
	EventRunFailed     EventType = "run_failed"
)

// RunSummary contains statistics from a prune run
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Mode        string    `json:"mode"`
	Evaluated   int       `json:"evaluated"`
	Removed     int       `json:"removed"`
	Planned     int       `json:"planned"`
	WarnDays    int       `json:"warn_days"`
	Errors      int       `json:"errors"`
	DiskPercent float64   `json:"disk_percent"`
	StorageFull bool      `json:"storage_full"`
	Duration    string    `json:"duration"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Message is the payload handed to every notifier. Webhooks send it as JSON.
type Message struct {
	Event     EventType   `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Hostname  string      `json:"hostname,omitempty"`
	MovieID   int         `json:"movie_id,omitempty"`
	Title     string      `json:"title,omitempty"`
	Message   string      `json:"message,omitempty"`
	Summary   *RunSummary `json:"summary,omitempty"`
}

// NewMessage fills in timestamp and hostname.
func NewMessage(event EventType, text string) Message {
	host, _ := os.Hostname()
	return Message{
		Event:     event,
		Timestamp: time.Now(),
		Hostname:  host,
		Message:   text,
	}
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Named is implemented by notifiers that report a channel name for metrics.
type Named interface {
	Name() string
}

// MultiNotifier sends notifications to multiple endpoints
type MultiNotifier struct {
	mu        sync.RWMutex
	notifiers []Notifier
	onError   func(channel string, err error)
}

// NewMultiNotifier creates a notifier that sends to multiple endpoints
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// OnError registers a callback invoked once per failing channel.
func (m *MultiNotifier) OnError(fn func(channel string, err error)) *MultiNotifier {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
	return m
}

// Notify sends to all configured notifiers, collecting errors
func (m *MultiNotifier) Notify(ctx context.Context, msg Message) error {
	m.mu.RLock()
	notifiers := make([]Notifier, len(m.notifiers))
	copy(notifiers, m.notifiers)
	onError := m.onError
	m.mu.RUnlock()

	var errs []error
	for _, n := range notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			channel := ChannelName(n)
			if onError != nil {
				onError(channel, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		}
	}

	return errors.Join(errs...)
}

// Add adds a notifier to the multi-notifier
func (m *MultiNotifier) Add(n Notifier) {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}

// Len reports how many notifiers are attached.
func (m *MultiNotifier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifiers)
}

// ChannelName returns n's name, or its type when it has none.
func ChannelName(n Notifier) string {
	if nn, ok := n.(Named); ok {
		return nn.Name()
	}
	return fmt.Sprintf("%T", n)
}

// NoopNotifier does nothing (for when notifications are disabled)
type NoopNotifier struct{}

func (n *NoopNotifier) Notify(ctx context.Context, msg Message) error {
	return nil
}
