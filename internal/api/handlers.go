package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terra-clan/mission-bot/internal/discord"
	"github.com/terra-clan/mission-bot/internal/models"
	"github.com/terra-clan/mission-bot/internal/storage"
	"github.com/terra-clan/mission-bot/internal/syncer"
	"github.com/terra-clan/mission-bot/internal/validation"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("readiness: store unreachable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "mission store not reachable")
		return
	}

	if s.publisher != nil && !s.publisher.Ready() {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "discord session not ready")
		return
	}

	// Optional notifiers degrade the status without failing readiness
	notifiers := map[string]string{}
	if s.health != nil {
		for name, err := range s.health.HealthCheckAll(ctx) {
			if err != nil {
				notifiers[name] = err.Error()
			} else {
				notifiers[name] = "ok"
			}
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"notifiers": notifiers,
	})
}

// Mission handlers

// MissionView is a mission with the outcome of validating it
type MissionView struct {
	*models.Mission
	Validation validation.Result `json:"validation"`
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseCriteria(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	missions, err := s.store.FetchUnpublished(r.Context())
	if err != nil {
		slog.Error("failed to list missions", "error", err)
		respondError(w, http.StatusBadGateway, "source_unavailable", "failed to fetch missions")
		return
	}

	matched := criteria.Filter(missions)
	views := make([]MissionView, 0, len(matched))
	for _, m := range matched {
		views = append(views, MissionView{Mission: m, Validation: s.validator.Validate(m)})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"missions": views,
		"total":    len(views),
	})
}

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		respondError(w, http.StatusNotImplemented, "not_supported", "the configured backend does not accept new missions")
		return
	}

	var req models.CreateMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	mission := req.ToMission(uuid.NewString(), time.Now().UTC())

	result := s.validator.Validate(mission)
	if !result.IsValid {
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", "mission is not valid", result.Errors...)
		return
	}

	if err := s.writer.CreateMission(r.Context(), mission); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotSupported):
			respondError(w, http.StatusNotImplemented, "not_supported", "the configured backend does not accept new missions")
		case errors.Is(err, storage.ErrSinkUnavailable):
			slog.Error("mission store unavailable", "error", err)
			respondError(w, http.StatusBadGateway, "sink_unavailable", "mission store is unavailable")
		default:
			slog.Error("failed to create mission", "error", err)
			respondError(w, http.StatusInternalServerError, "create_failed", "failed to create mission")
		}
		return
	}

	slog.Info("mission created via API",
		"mission_id", mission.ID,
		"title", mission.Title,
		"client", clientName(r.Context()),
	)

	if s.syncer != nil {
		s.syncer.Trigger()
	}

	respondJSON(w, http.StatusCreated, MissionView{Mission: mission, Validation: result})
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	mission, err := s.store.GetMission(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "mission not found")
			return
		}
		slog.Error("failed to get mission", "mission_id", id, "error", err)
		respondError(w, http.StatusBadGateway, "source_unavailable", "failed to load mission")
		return
	}

	respondJSON(w, http.StatusOK, MissionView{Mission: mission, Validation: s.validator.Validate(mission)})
}

func (s *Server) handleRefreshMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.publisher == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "discord publisher not configured")
		return
	}

	mission, err := syncer.Refresh(r.Context(), s.store, s.publisher, id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "not_found", "mission not found")
		case errors.Is(err, syncer.ErrNotPublished):
			respondError(w, http.StatusConflict, "not_published", "mission has no discord message yet")
		case errors.Is(err, discord.ErrMessageNotFound):
			respondError(w, http.StatusGone, "message_not_found", "discord message no longer exists")
		case errors.Is(err, discord.ErrTargetUnavailable):
			respondError(w, http.StatusServiceUnavailable, "target_unavailable", err.Error())
		default:
			slog.Error("failed to refresh mission", "mission_id", id, "error", err)
			respondError(w, http.StatusInternalServerError, "refresh_failed", "failed to refresh mission")
		}
		return
	}

	respondJSON(w, http.StatusOK, mission)
}

// parseCriteria reads search filters from the query string
func parseCriteria(r *http.Request) (models.SearchCriteria, error) {
	q := r.URL.Query()
	criteria := models.SearchCriteria{
		Location: strings.TrimSpace(q.Get("location")),
	}

	for _, raw := range q["skill"] {
		for _, skill := range strings.Split(raw, ",") {
			if skill = strings.TrimSpace(skill); skill != "" {
				criteria.Skills = append(criteria.Skills, skill)
			}
		}
	}

	var err error
	if criteria.MinPrice, err = parsePrice(q.Get("min_price"), "min_price"); err != nil {
		return criteria, err
	}
	if criteria.MaxPrice, err = parsePrice(q.Get("max_price"), "max_price"); err != nil {
		return criteria, err
	}
	return criteria, nil
}

func parsePrice(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.New(name + " must be a number")
	}
	return &v, nil
}
