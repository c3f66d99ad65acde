// Package notify delivers sync events to downstream systems: Redis pub/sub,
// an HTTP webhook and in-process subscribers such as the websocket feed.
// Notifier failures are reported to the caller and never stop a sync.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// EventType identifies what happened
type EventType string

const (
	EventMissionPublished  EventType = "mission_published"
	EventMissionFailed     EventType = "mission_failed"
	EventInconsistentState EventType = "inconsistent_state"
	EventTickCompleted     EventType = "tick_completed"
)

// Event is the payload sent to every notifier
type Event struct {
	Type      EventType    `json:"event_type"`
	TickID    string       `json:"tick_id,omitempty"`
	MissionID string       `json:"mission_id,omitempty"`
	Title     string       `json:"title,omitempty"`
	Ref       string       `json:"ref,omitempty"`
	Error     string       `json:"error,omitempty"`
	Summary   *TickSummary `json:"summary,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// TickSummary carries the counters of a completed tick
type TickSummary struct {
	Fetched      int    `json:"fetched"`
	Published    int    `json:"published"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
	Inconsistent int    `json:"inconsistent"`
	FetchError   string `json:"fetch_error,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// Notifier sends events to a downstream system.
// Notify must respect context cancellation and deadlines.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

// HealthChecker is implemented by notifiers backed by a remote service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }

// Registry fans events out to named notifiers
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewRegistry creates an empty notifier registry
func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
	}
}

// Register adds a notifier under name, replacing any previous one
func (r *Registry) Register(name string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[name] = n
}

// Unregister removes a notifier
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notifiers, name)
}

// List returns the registered notifier names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Notify delivers the event to every notifier and joins their errors
func (r *Registry) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, n := range r.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			slog.Warn("notifier failed", "notifier", name, "event_type", event.Type, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheckAll checks every notifier that supports it
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make(map[string]error)
	for name, n := range r.notifiers {
		if hc, ok := n.(HealthChecker); ok {
			results[name] = hc.HealthCheck(ctx)
		}
	}
	return results
}

// Close closes every notifier
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, n := range r.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// withRetry runs fn up to 1+retries times with exponential backoff between
// attempts. It stops early when fn reports a permanent failure.
func withRetry(ctx context.Context, retries int, fn func(ctx context.Context) (permanent bool, err error)) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		permanent, err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if permanent {
			return fmt.Errorf("non-retriable error: %w", err)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
