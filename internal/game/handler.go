package game

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/bissquit/pagewatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrGameDisabled, Status: http.StatusNotFound, Message: "game mode is disabled"},
	{Error: ErrSessionActive, Status: http.StatusConflict, Message: "a game session is already active"},
	{Error: ErrNoActiveSession, Status: http.StatusConflict, Message: "no active game session"},
	{Error: ErrNotGameIncident, Status: http.StatusBadRequest, Message: "incident is not part of the game"},
	{Error: incident.ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
}

// Handler handles HTTP requests for game mode.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new game handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers game routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/game", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/status", h.GetStatus)
		r.Post("/start", h.Start)
		r.Post("/end", h.End)
		r.Post("/trigger", h.Trigger)
		r.Post("/ack/{id}", h.Ack)
		r.Get("/incidents", h.ActiveIncidents)
		r.Get("/leaderboard", h.Leaderboard)
	})
}

// GetConfig handles GET /game/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]bool{"enabled": h.service.Enabled()})
}

// GetStatus handles GET /game/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Status(r.Context())
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			httputil.Success(w, http.StatusOK, map[string]bool{"active": false})
			return
		}
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"active":  true,
		"session": session,
	})
}

// Start handles POST /game/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	session, err := h.service.Start(r.Context(), caller)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, session)
}

// End handles POST /game/end.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	if err := h.service.End(r.Context(), caller); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TriggerRequest represents request body for triggering a game incident.
type TriggerRequest struct {
	Title    string `json:"title" validate:"required,max=256"`
	Severity string `json:"severity" validate:"required,oneof=critical warning info"`
}

// Trigger handles POST /game/trigger.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.Trigger(r.Context(), caller, TriggerInput{
		Title:    req.Title,
		Severity: domain.Severity(req.Severity),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, inc)
}

// Ack handles POST /game/ack/{id}.
func (h *Handler) Ack(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	result, err := h.service.Ack(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// ActiveIncidents handles GET /game/incidents.
func (h *Handler) ActiveIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.service.ActiveIncidents(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// Leaderboard handles GET /game/leaderboard.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	n := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			n = parsed
		}
	}

	view, err := h.service.Leaderboard(r.Context(), caller, n)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, view)
}
