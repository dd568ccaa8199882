package incident

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: ErrStateConflict, Status: http.StatusConflict, Message: "someone else already acted on this incident"},
	{Error: ErrInvalidSeverity, Status: http.StatusBadRequest, Message: "invalid severity"},
	{Error: ErrInvalidState, Status: http.StatusBadRequest, Message: "invalid incident state"},
}

// Handler handles HTTP requests for the incident module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incident handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Get("/{id}", h.GetIncident)
		r.Get("/{id}/timeline", h.GetTimeline)
		r.Post("/{id}/ack", h.AckIncident)
		r.Post("/{id}/unack", h.UnackIncident)
		r.Post("/{id}/resolve", h.ResolveIncident)
		r.Post("/{id}/reassign", h.ReassignIncident)
	})
}

// ResolveRequest represents request body for resolving an incident.
type ResolveRequest struct {
	Note string `json:"note" validate:"max=1024"`
}

// ReassignRequest represents request body for reassigning an incident.
type ReassignRequest struct {
	Responder string `json:"responder" validate:"required,max=128"`
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filters := Filters{
		TeamID: r.URL.Query().Get("team_id"),
	}

	switch r.URL.Query().Get("view") {
	case "active":
		filters.ActiveOnly = true
	case "history":
		filters.History = true
	}

	if state := r.URL.Query().Get("state"); state != "" {
		s := domain.IncidentState(state)
		if !s.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid state filter")
			return
		}
		filters.State = &s
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filters.Limit = n
	}

	incidents, err := h.service.List(r.Context(), filters)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// GetTimeline handles GET /incidents/{id}/timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// AckIncident handles POST /incidents/{id}/ack.
func (h *Handler) AckIncident(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	inc, err := h.service.Ack(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// UnackIncident handles POST /incidents/{id}/unack.
func (h *Handler) UnackIncident(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	inc, err := h.service.Unack(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// ResolveIncident handles POST /incidents/{id}/resolve.
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	var req ResolveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httputil.ValidationError(w, err)
			return
		}
	}

	inc, err := h.service.Resolve(r.Context(), chi.URLParam(r, "id"), caller, req.Note)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// ReassignIncident handles POST /incidents/{id}/reassign.
func (h *Handler) ReassignIncident(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	var req ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.Reassign(r.Context(), chi.URLParam(r, "id"), caller, req.Responder)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}
