package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/terra-clan/mission-bot/internal/models"
)

// PrepareFunc brings a store into a usable state, e.g. connect and migrate
type PrepareFunc func(ctx context.Context) error

// PreparedStore wraps a store whose backend may be down when the bot starts.
// Every call first runs prepare until it has succeeded once, so an outage at
// startup surfaces as a failed tick instead of a failed process.
type PreparedStore struct {
	MissionStore

	prepare PrepareFunc

	mu    sync.Mutex
	ready bool
}

// NewPreparedStore wraps store with a prepare step
func NewPreparedStore(store MissionStore, prepare PrepareFunc) *PreparedStore {
	return &PreparedStore{
		MissionStore: store,
		prepare:      prepare,
	}
}

// Ready reports whether prepare has succeeded
func (s *PreparedStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *PreparedStore) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if err := s.prepare(ctx); err != nil {
		return err
	}
	s.ready = true
	slog.Info("mission store ready")
	return nil
}

// FetchUnpublished prepares the store, then reads unpublished missions
func (s *PreparedStore) FetchUnpublished(ctx context.Context) ([]*models.Mission, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return s.MissionStore.FetchUnpublished(ctx)
}

// MarkPublished prepares the store, then records the ref
func (s *PreparedStore) MarkPublished(ctx context.Context, missionID, ref string) error {
	if err := s.ensure(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return s.MissionStore.MarkPublished(ctx, missionID, ref)
}

func (s *PreparedStore) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return s.MissionStore.GetMission(ctx, id)
}

func (s *PreparedStore) Ping(ctx context.Context) error {
	if err := s.ensure(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return s.MissionStore.Ping(ctx)
}

// CreateMission forwards to the wrapped store when it accepts writes
func (s *PreparedStore) CreateMission(ctx context.Context, m *models.Mission) error {
	writer, ok := s.MissionStore.(MissionWriter)
	if !ok {
		return ErrNotSupported
	}
	if err := s.ensure(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return writer.CreateMission(ctx, m)
}
