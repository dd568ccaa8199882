package schedule

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bissquit/pagewatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrTeamNotFound, Status: http.StatusNotFound, Message: "team not found"},
	{Error: ErrSlotNotFound, Status: http.StatusNotFound, Message: "schedule slot not found"},
	{Error: ErrSlugTaken, Status: http.StatusConflict, Message: "team with this name already exists"},
	{Error: ErrNoOnCall, Status: http.StatusNotFound, Message: "no responder currently on call"},
	{Error: ErrInvalidWindow, Status: http.StatusBadRequest, Message: "slot start must be before end"},
	{Error: ErrNotTeamMember, Status: http.StatusForbidden, Message: "caller is not a member of this team"},
}

// Handler handles HTTP requests for the schedule module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new schedule handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers team and schedule routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/teams", func(r chi.Router) {
		r.Get("/", h.ListTeams)
		r.Post("/", h.CreateTeam)
		r.Get("/{id}", h.GetTeam)
		r.Get("/{id}/oncall", h.GetOnCall)
		r.Get("/{id}/schedule", h.ListSlots)
		r.Post("/{id}/schedule", h.CreateSlot)
		r.Delete("/{id}/schedule/{slotID}", h.DeleteSlot)
	})
}

// CreateTeamRequest represents request body for creating a team.
type CreateTeamRequest struct {
	Name       string                   `json:"name" validate:"required,min=1,max=128"`
	AccountIDs []string                 `json:"account_ids" validate:"dive,required"`
	Escalation []EscalationLevelRequest `json:"escalation" validate:"dive"`
}

// EscalationLevelRequest is one declared escalation step.
type EscalationLevelRequest struct {
	DelaySeconds int    `json:"delay_seconds" validate:"min=0"`
	Target       string `json:"target" validate:"required"`
}

// CreateSlotRequest represents request body for creating a schedule slot.
type CreateSlotRequest struct {
	Responder string    `json:"responder" validate:"required,max=128"`
	StartsAt  time.Time `json:"starts_at" validate:"required"`
	EndsAt    time.Time `json:"ends_at" validate:"required"`
}

// ListTeams handles GET /teams.
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.service.ListTeams(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, teams)
}

// CreateTeam handles POST /teams.
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	var req CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := CreateTeamInput{
		Name:       req.Name,
		AccountIDs: req.AccountIDs,
	}
	for _, l := range req.Escalation {
		input.Escalation = append(input.Escalation, EscalationLevelInput{
			Delay:  time.Duration(l.DelaySeconds) * time.Second,
			Target: l.Target,
		})
	}

	team, err := h.service.CreateTeam(r.Context(), input, caller)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, team)
}

// GetTeam handles GET /teams/{id}.
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.service.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, team)
}

// GetOnCall handles GET /teams/{id}/oncall.
func (h *Handler) GetOnCall(w http.ResponseWriter, r *http.Request) {
	responder, err := h.service.OnCall(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"responder": responder})
}

// ListSlots handles GET /teams/{id}/schedule.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.service.ListSlots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, slots)
}

// CreateSlot handles POST /teams/{id}/schedule.
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	slot, err := h.service.CreateSlot(r.Context(), CreateSlotInput{
		TeamID:    chi.URLParam(r, "id"),
		Responder: req.Responder,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
	}, caller)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, slot)
}

// DeleteSlot handles DELETE /teams/{id}/schedule/{slotID}.
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	err := h.service.DeleteSlot(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "slotID"), caller)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
