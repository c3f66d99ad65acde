package storage

import (
	"context"
	"errors"

	"github.com/terra-clan/mission-bot/internal/models"
)

// Common errors
var (
	ErrSourceUnavailable = errors.New("mission source unavailable")
	ErrSinkUnavailable   = errors.New("mission sink unavailable")
	ErrNotFound          = errors.New("mission not found")
	ErrAlreadyPublished  = errors.New("mission already published with a different ref")
	ErrNotSupported      = errors.New("operation not supported by this backend")
)

// MissionSource reads missions that still need to be announced
type MissionSource interface {
	// FetchUnpublished returns every unpublished mission, oldest first.
	// Records that cannot be translated are logged and left out.
	FetchUnpublished(ctx context.Context) ([]*models.Mission, error)
}

// MissionSink records the result of a publication
type MissionSink interface {
	// MarkPublished atomically stores the ref and flips the published flag
	MarkPublished(ctx context.Context, missionID, ref string) error
}

// MissionStore is a backing store that is both source and sink
type MissionStore interface {
	MissionSource
	MissionSink

	// GetMission returns a single mission by ID, or ErrNotFound
	GetMission(ctx context.Context, id string) (*models.Mission, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// MissionWriter is implemented by stores that accept new missions
type MissionWriter interface {
	CreateMission(ctx context.Context, m *models.Mission) error
}
