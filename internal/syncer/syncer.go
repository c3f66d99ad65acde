package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/mission-bot/internal/models"
	"github.com/terra-clan/mission-bot/internal/notify"
	"github.com/terra-clan/mission-bot/internal/storage"
	"github.com/terra-clan/mission-bot/internal/validation"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultIOTimeout = 30 * time.Second
)

// ErrTickInProgress is returned when a tick is requested while one runs
var ErrTickInProgress = errors.New("sync tick already in progress")

// Publisher posts a mission to the messaging channel and returns the message id
type Publisher interface {
	Publish(ctx context.Context, m *models.Mission) (string, error)
}

// InconsistentStateError reports a mission that was posted but could not be
// flagged as published in its store. It needs manual reconciliation.
type InconsistentStateError struct {
	MissionID string
	Ref       string
	Err       error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("mission %s was published as %s but not marked published: %v", e.MissionID, e.Ref, e.Err)
}

func (e *InconsistentStateError) Unwrap() error {
	return e.Err
}

// Config holds the loop settings
type Config struct {
	Interval  time.Duration
	IOTimeout time.Duration
}

// Deps are the collaborators of the sync loop
type Deps struct {
	Source    storage.MissionSource
	Sink      storage.MissionSink
	Publisher Publisher
	Validator *validation.Validator
	Notifier  notify.Notifier
}

// Syncer runs the fetch, validate, publish, mark-published pipeline.
// Ticks never overlap and missions are processed one at a time, oldest first.
type Syncer struct {
	source    storage.MissionSource
	sink      storage.MissionSink
	publisher Publisher
	validator *validation.Validator
	notifier  notify.Notifier

	interval  time.Duration
	ioTimeout time.Duration

	trigger chan struct{}
	running atomic.Bool

	mu   sync.RWMutex
	last *Report
}

// NewSyncer creates a sync loop; call Start to run it periodically
func NewSyncer(deps Deps, cfg Config) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewValidator(validation.DefaultRules())
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}

	return &Syncer{
		source:    deps.Source,
		sink:      deps.Sink,
		publisher: deps.Publisher,
		validator: deps.Validator,
		notifier:  deps.Notifier,
		interval:  cfg.Interval,
		ioTimeout: cfg.IOTimeout,
		trigger:   make(chan struct{}, 1),
	}
}

// Start runs the loop in a goroutine until ctx is done
func (s *Syncer) Start(ctx context.Context) {
	go s.run(ctx)
}

// Trigger asks the loop for an early tick. Requests made while one is
// already pending collapse into it.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Interval returns the tick period
func (s *Syncer) Interval() time.Duration {
	return s.interval
}

// Running reports whether a tick is executing
func (s *Syncer) Running() bool {
	return s.running.Load()
}

// LastReport returns the report of the most recent tick, or nil
func (s *Syncer) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	return s.last.Clone()
}

func (s *Syncer) run(ctx context.Context) {
	slog.Info("sync loop started", "interval", s.interval, "io_timeout", s.ioTimeout)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.trigger:
			slog.Debug("sync triggered")
			s.tick(ctx)
		}
	}
}

func (s *Syncer) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		slog.Error("sync tick failed", "error", err)
	}
}

// RunOnce executes a single tick and returns its report. It fails with
// ErrTickInProgress when another tick is running, and with the source error
// when the fetch failed; the report is returned in that case too.
func (s *Syncer) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer s.running.Store(false)

	report := &Report{
		TickID:    uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   []Result{},
	}

	err := s.runTick(ctx, report)

	report.Duration = time.Since(report.StartedAt)
	report.tally()

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	slog.Info("sync tick completed",
		"tick_id", report.TickID,
		"fetched", report.Fetched,
		"published", report.Published,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"inconsistent", report.Inconsistent,
		"duration_ms", report.Duration.Milliseconds(),
	)

	s.notify(ctx, notify.Event{
		Type:    notify.EventTickCompleted,
		TickID:  report.TickID,
		Summary: report.Summary(),
	})

	return report.Clone(), err
}

// runTick fetches and processes missions. A panic anywhere in the tick is
// logged and recorded instead of crashing the process.
func (s *Syncer) runTick(ctx context.Context, report *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync tick panicked", "tick_id", report.TickID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("tick panicked: %v", r)
			report.FetchError = err.Error()
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, s.ioTimeout)
	missions, err := s.source.FetchUnpublished(fetchCtx)
	cancel()
	if err != nil {
		report.FetchError = err.Error()
		slog.Error("failed to fetch unpublished missions", "tick_id", report.TickID, "error", err)
		return fmt.Errorf("failed to fetch missions: %w", err)
	}

	report.Fetched = len(missions)
	if len(missions) == 0 {
		slog.Debug("no unpublished missions", "tick_id", report.TickID)
		return nil
	}

	sort.SliceStable(missions, func(i, j int) bool {
		if missions[i] == nil || missions[j] == nil {
			return missions[j] == nil && missions[i] != nil
		}
		return missions[i].CreatedAt.Before(missions[j].CreatedAt)
	})

	for _, m := range missions {
		if ctx.Err() != nil {
			slog.Warn("sync tick interrupted", "tick_id", report.TickID, "error", ctx.Err())
			break
		}
		if m == nil {
			continue
		}
		report.Results = append(report.Results, s.process(ctx, report.TickID, m))
	}

	return nil
}

// process moves one mission through validate, publish and mark-published
func (s *Syncer) process(ctx context.Context, tickID string, m *models.Mission) (res Result) {
	res = Result{MissionID: m.ID, Title: m.Title}
	log := slog.With("tick_id", tickID, "mission_id", m.ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("mission processing panicked", "panic", r, "stack", string(debug.Stack()))
			res.Outcome = OutcomeFailed
			res.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if m.IsPublished {
		log.Debug("mission already published, skipping", "ref", m.PublicationRef)
		res.Outcome = OutcomeSkipped
		res.Error = "already published"
		return res
	}

	check := s.validator.Validate(m)
	res.Warnings = check.Warnings
	if !check.IsValid {
		log.Warn("mission failed validation, skipping",
			"errors", check.Errors,
			"warnings", check.Warnings,
		)
		res.Outcome = OutcomeSkipped
		res.Error = check.Err().Error()
		return res
	}
	if len(check.Warnings) > 0 {
		log.Info("mission validation warnings", "warnings", check.Warnings)
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.ioTimeout)
	ref, err := s.publisher.Publish(pubCtx, m)
	cancel()
	if err == nil && ref == "" {
		err = errors.New("publisher returned an empty message id")
	}
	if err != nil {
		log.Error("failed to publish mission", "error", err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		s.notify(ctx, notify.Event{
			Type:      notify.EventMissionFailed,
			TickID:    tickID,
			MissionID: m.ID,
			Title:     m.Title,
			Error:     err.Error(),
		})
		return res
	}
	res.Ref = ref

	markCtx, cancel := context.WithTimeout(ctx, s.ioTimeout)
	err = s.sink.MarkPublished(markCtx, m.ID, ref)
	cancel()
	if err != nil {
		inconsistent := &InconsistentStateError{MissionID: m.ID, Ref: ref, Err: err}
		log.Error("mission posted but not marked published",
			"alert", "inconsistent_state",
			"ref", ref,
			"error", err,
		)
		res.Outcome = OutcomeInconsistent
		res.Error = inconsistent.Error()
		s.notify(ctx, notify.Event{
			Type:      notify.EventInconsistentState,
			TickID:    tickID,
			MissionID: m.ID,
			Title:     m.Title,
			Ref:       ref,
			Error:     err.Error(),
		})
		return res
	}

	// the store is updated, mirror it on the in-memory entity
	_ = m.MarkPublished(ref)

	log.Info("mission published", "ref", ref)
	res.Outcome = OutcomePublished
	s.notify(ctx, notify.Event{
		Type:      notify.EventMissionPublished,
		TickID:    tickID,
		MissionID: m.ID,
		Title:     m.Title,
		Ref:       ref,
	})

	return res
}

// notify sends an event with its own timeout; failures are only logged
func (s *Syncer) notify(ctx context.Context, event notify.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ioTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, event); err != nil {
		slog.Warn("failed to deliver event", "event_type", event.Type, "mission_id", event.MissionID, "error", err)
	}
}
