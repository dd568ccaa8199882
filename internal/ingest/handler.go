package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// WebhookSecretHeader carries the shared secret of the alarm source.
const WebhookSecretHeader = "X-Webhook-Secret"

// Handler exposes the alarm webhook. The webhook authenticates with a
// shared secret instead of a bearer token: monitoring sources cannot
// hold user credentials.
type Handler struct {
	adapter   *Adapter
	secret    string
	validator *validator.Validate
}

// NewHandler creates a new ingestion handler.
func NewHandler(adapter *Adapter, secret string) *Handler {
	return &Handler{
		adapter:   adapter,
		secret:    secret,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the webhook route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ingest/alarm", h.IngestAlarm)
}

// AlarmRequest represents an incoming alarm webhook payload.
type AlarmRequest struct {
	AlarmName   string `json:"alarm_name" validate:"required,max=256"`
	ExternalRef string `json:"external_ref" validate:"max=512"`
	NewState    string `json:"new_state" validate:"required,oneof=ALARM OK INSUFFICIENT_DATA"`
	Reason      string `json:"reason" validate:"max=2048"`
	AccountID   string `json:"account_id" validate:"required,max=128"`
	Severity    string `json:"severity" validate:"omitempty,oneof=critical warning info"`
}

// IngestAlarm handles POST /ingest/alarm.
func (h *Handler) IngestAlarm(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(WebhookSecretHeader)), []byte(h.secret)) != 1 {
		httputil.Error(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var req AlarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.adapter.Ingest(r.Context(), domain.AlarmEvent{
		AlarmName:   req.AlarmName,
		ExternalRef: req.ExternalRef,
		NewState:    domain.AlarmState(req.NewState),
		Reason:      req.Reason,
		AccountID:   req.AccountID,
		Severity:    domain.Severity(req.Severity),
	})
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "failed to ingest alarm")
		return
	}

	// A dropped alarm is still an accepted webhook call.
	if inc == nil {
		httputil.Success(w, http.StatusAccepted, map[string]string{"status": "dropped"})
		return
	}

	httputil.Success(w, http.StatusCreated, inc)
}
