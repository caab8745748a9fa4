// Package httptransport is the thin HTTP layer over the login flow. It
// delegates to the state machine without embedding business logic.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ravegate/internal/login"
	"ravegate/internal/otp"
	"ravegate/internal/profile"
	dErrors "ravegate/pkg/domain-errors"
)

// HealthChecker reports backend liveness for /healthz.
type HealthChecker interface {
	Health(r *http.Request) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(r *http.Request) error

func (f HealthFunc) Health(r *http.Request) error { return f(r) }

type Handler struct {
	flow   *login.Flow
	logger *slog.Logger
	health HealthChecker
}

type Option func(*Handler)

func WithHealth(h HealthChecker) Option {
	return func(hd *Handler) {
		hd.health = h
	}
}

func New(flow *login.Flow, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{flow: flow, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router wires all endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/phone", h.handleSubmitPhone)
		r.Post("/code", h.handleSubmitCode)
		r.Post("/cancel", h.handleCancel)
		r.Get("/state", h.handleState)
	})

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type submitPhoneRequest struct {
	CallingCode string `json:"calling_code"`
	Phone       string `json:"phone"`
}

func (h *Handler) handleSubmitPhone(w http.ResponseWriter, r *http.Request) {
	var req submitPhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	phone, err := otp.NewPhoneNumber(req.CallingCode, req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.flow.SubmitPhone(r.Context(), phone); err != nil {
		h.logger.WarnContext(r.Context(), "submit phone failed", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"state": h.flow.Snapshot().State.String(),
	})
}

type submitCodeRequest struct {
	Code string `json:"code"`
}

type destinationResponse struct {
	Kind  string `json:"kind"`
	Route string `json:"route"`
}

func (h *Handler) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	var req submitCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	dest, err := h.flow.SubmitCode(r.Context(), req.Code)
	if err != nil {
		h.logger.WarnContext(r.Context(), "submit code failed", "error", err)
		writeError(w, err)
		return
	}

	kind := "main_app"
	if dest.Kind == profile.DestRegistration {
		kind = "registration"
	}
	writeJSON(w, http.StatusOK, destinationResponse{Kind: kind, Route: dest.Route()})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.Cancel(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := h.flow.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":         snap.State.String(),
		"error_kind":    snap.ErrorKind.String(),
		"error_message": snap.ErrorMessage,
		"awaiting_code": snap.AwaitingCode,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors into consistent JSON envelopes.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	var de *dErrors.Error
	if errors.As(err, &de) {
		code = de.Code
	}

	status := http.StatusInternalServerError
	switch code {
	case dErrors.CodeBadRequest:
		status = http.StatusBadRequest
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
	case dErrors.CodeConflict:
		status = http.StatusConflict
	case dErrors.CodeExpired:
		status = http.StatusGone
	case dErrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	case dErrors.CodeTooMany:
		status = http.StatusTooManyRequests
	}

	message := ""
	if de != nil {
		message = de.Message
	}
	writeJSON(w, status, map[string]string{
		"error":   string(code),
		"message": message,
	})
}
