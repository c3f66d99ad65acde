package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/terra-clan/mission-bot/internal/syncer"
)

// SyncStatus is the body of GET /sync/status
type SyncStatus struct {
	Running         bool           `json:"running"`
	IntervalSeconds float64        `json:"interval_seconds"`
	LastReport      *syncer.Report `json:"last_report,omitempty"`
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "sync loop not running")
		return
	}

	// A client disconnect must not abort a tick halfway through publishing
	report, err := s.syncer.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, syncer.ErrTickInProgress) {
			respondError(w, http.StatusConflict, "tick_in_progress", "a sync tick is already running")
			return
		}
		slog.Warn("manual sync tick failed", "error", err, "client", clientName(r.Context()))
		respondError(w, http.StatusBadGateway, "fetch_failed", err.Error())
		return
	}

	slog.Info("manual sync tick completed",
		"tick_id", report.TickID,
		"published", report.Published,
		"client", clientName(r.Context()),
	)

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "sync loop not running")
		return
	}

	respondJSON(w, http.StatusOK, SyncStatus{
		Running:         s.syncer.Running(),
		IntervalSeconds: s.syncer.Interval().Seconds(),
		LastReport:      s.syncer.LastReport(),
	})
}
