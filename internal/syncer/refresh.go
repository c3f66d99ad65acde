package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/terra-clan/mission-bot/internal/models"
)

// ErrNotPublished is returned when refreshing a mission that has no message yet
var ErrNotPublished = errors.New("mission is not published")

// MissionGetter loads a single mission
type MissionGetter interface {
	GetMission(ctx context.Context, id string) (*models.Mission, error)
}

// MessageUpdater re-renders an existing message
type MessageUpdater interface {
	Update(ctx context.Context, ref string, m *models.Mission) error
}

// Refresh reloads a published mission from its store and rewrites its
// Discord message so edits made in the store become visible
func Refresh(ctx context.Context, getter MissionGetter, updater MessageUpdater, missionID string) (*models.Mission, error) {
	m, err := getter.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}

	if !m.IsPublished || m.PublicationRef == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotPublished, missionID)
	}

	if err := updater.Update(ctx, m.PublicationRef, m); err != nil {
		return nil, fmt.Errorf("failed to update message %s: %w", m.PublicationRef, err)
	}

	slog.Info("mission message refreshed", "mission_id", m.ID, "ref", m.PublicationRef)

	return m, nil
}
