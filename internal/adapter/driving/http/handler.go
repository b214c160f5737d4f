// Package httphandler is the HTTP driving adapter serving the login and
// health endpoints.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/invoicedesk/internal/application"
	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// rejectedEmail is the sentinel returned in the email field on a password
// mismatch. Existing clients compare against it.
const rejectedEmail = "incorrect"

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	authSvc   *application.AuthService
	healthSvc *application.HealthService
	metrics   *Metrics
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. metrics may be
// nil, in which case nothing is recorded and /metrics is not served.
func NewHandler(
	authSvc *application.AuthService,
	healthSvc *application.HealthService,
	metrics *Metrics,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		authSvc:   authSvc,
		healthSvc: healthSvc,
		metrics:   metrics,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging, metrics and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Both paths are served: /login by the standalone server and /api/login
	// by the serverless route handlers the frontend calls.
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /api/login", h.Login)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	// Recovery innermost so panics are caught before logging.
	var wrapped http.Handler = recoveryMiddleware(logger, mux)
	if h.metrics != nil {
		wrapped = h.metrics.middleware(wrapped)
	}
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Login authenticates an existing user or registers a new one.
// The response keeps the two-shape contract existing clients rely on:
// {"email": "<email>"} on success and {"email": "incorrect"} on mismatch.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.authSvc.AuthenticateOrRegister(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, application.ErrInvalidInput):
		h.metrics.observeLogin("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, driven.ErrStoreUnavailable):
		h.metrics.observeLogin("unavailable")
		h.logger.Error("credential store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "credential store unavailable")
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.metrics.observeLogin("timeout")
		h.logger.Warn("login timed out", "error", err)
		writeError(w, http.StatusServiceUnavailable, "login timed out")
		return
	case err != nil:
		h.metrics.observeLogin("error")
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if result.Outcome == model.AuthOutcomeRejected {
		h.metrics.observeLogin(string(model.AuthOutcomeRejected))
		writeJSON(w, http.StatusOK, LoginResponse{Email: rejectedEmail})
		return
	}

	h.metrics.observeLogin(string(model.AuthOutcomeAuthenticated))
	writeJSON(w, http.StatusOK, LoginResponse{Email: result.Email})
}

// Health reports whether the credential backend is reachable. The backend
// error is logged only; it names paths, hosts and URLs.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.healthSvc.Check(r.Context())

	resp := HealthResponse{
		Status:  string(report.Status),
		Backend: string(report.Backend),
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if report.Status != model.HealthStatusOK {
		status = http.StatusServiceUnavailable
		resp.Error = "credential store unreachable"
		h.logger.Warn("health check degraded", "backend", report.Backend, "error", report.Error)
	}

	writeJSON(w, status, resp)
}
