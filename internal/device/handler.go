package device

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrDeviceNotFound, Status: http.StatusNotFound, Message: "device registration not found"},
	{Error: ErrInvalidPlatform, Status: http.StatusBadRequest, Message: "platform must be ios, android or web"},
	{Error: ErrNotOwner, Status: http.StatusForbidden, Message: "device token belongs to another responder"},
}

// Handler handles HTTP requests for the device registry.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new device handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers device routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", h.List)
		r.Put("/", h.Register)
		r.Delete("/{token}", h.Unregister)
	})
}

// RegisterRequest represents request body for registering a device.
type RegisterRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"required"`
}

// Register handles PUT /devices.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	reg, err := h.service.Register(r.Context(), caller, req.Token, domain.Platform(req.Platform))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, reg)
}

// Unregister handles DELETE /devices/{token}.
func (h *Handler) Unregister(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	err := h.service.Unregister(r.Context(), caller, chi.URLParam(r, "token"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /devices.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetCaller(r.Context())

	regs, err := h.service.List(r.Context(), caller)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, regs)
}
