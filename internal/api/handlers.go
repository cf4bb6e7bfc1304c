/**
 * @description
 * HTTP handlers for the signup service. Handlers decode the request, call the
 * application service and map its errors onto status codes; no business rule
 * lives here.
 *
 * @dependencies
 * - internal/app: service logic, principals and app-level errors.
 * - internal/store: sentinel persistence errors for status mapping.
 */
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/signup-service/internal/app"
	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service       *app.Service
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service, webhookSecret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, webhookSecret: webhookSecret, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeError maps service and store errors onto HTTP responses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *app.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		writeErrorMessage(w, http.StatusTooManyRequests, "Too many requests")
	case errors.Is(err, app.ErrValidation):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeErrorMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeErrorMessage(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, store.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "Not found")
	case errors.Is(err, app.ErrAlreadyRegistered):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalidTransition):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func writeErrorMessage(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// pathParam returns a decoded URL parameter; emails arrive percent-encoded.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func mustPrincipal(w http.ResponseWriter, r *http.Request) (app.Principal, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "Unauthorized")
	}
	return principal, ok
}

func (h *Handler) handleIntake(w http.ResponseWriter, r *http.Request) {
	var req app.SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ClientKey = clientKey(r)

	rec, err := h.service.Intake(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, rec)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Cannot read request body")
		return
	}
	if !validWebhookSignature(h.webhookSecret, r.Header.Get("X-Signature"), body) {
		h.logger.Warn("payment webhook rejected: invalid signature", "remote", clientKey(r))
		writeErrorMessage(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var confirmation app.PaymentConfirmation
	if err := json.Unmarshal(body, &confirmation); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	result, err := h.service.ConfirmPayment(r.Context(), confirmation)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListSignups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := app.SignupFilter{
		Status:       domain.Status(strings.TrimSpace(q.Get("status"))),
		PlanType:     domain.PlanType(strings.TrimSpace(q.Get("planType"))),
		Referrer:     strings.TrimSpace(q.Get("referrer")),
		ControllerID: strings.TrimSpace(q.Get("controller")),
		AmbassadorID: strings.TrimSpace(q.Get("ambassador")),
		Search:       q.Get("q"),
	}

	views, err := h.service.ListSignups(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, views)
}

type bulkAssignRequest struct {
	Emails       []string `json:"emails"`
	AssigneeID   string   `json:"assigneeId"`
	AssigneeKind string   `json:"assigneeKind"`
}

type bulkAssignResponse struct {
	Matched int `json:"matched"`
}

func (h *Handler) handleBulkAssign(w http.ResponseWriter, r *http.Request) {
	var req bulkAssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	kind := domain.AssigneeKind(strings.ToLower(strings.TrimSpace(req.AssigneeKind)))
	matched, err := h.service.BulkAssign(r.Context(), req.Emails, req.AssigneeID, kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bulkAssignResponse{Matched: matched})
}

func (h *Handler) handleDeleteSignup(w http.ResponseWriter, r *http.Request) {
	principal, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteSignup(r.Context(), principal, pathParam(r, "email")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListStaff(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListStaff(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req app.StaffRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := h.service.CreateStaff(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, acct)
}

func (h *Handler) handleUpdateStaff(w http.ResponseWriter, r *http.Request) {
	var req app.StaffRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := h.service.UpdateStaff(r.Context(), pathParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acct)
}

func (h *Handler) handleDeleteStaff(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteStaff(r.Context(), pathParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

type refreshStatsResponse struct {
	Updated int `json:"updated"`
}

func (h *Handler) handleRefreshStats(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.RefreshStaffStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, refreshStatsResponse{Updated: updated})
}

func (h *Handler) handleControllerSignups(w http.ResponseWriter, r *http.Request) {
	principal, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	views, err := h.service.ControllerSignups(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, views)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, app.DecisionApprove, "")
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	// The reason is optional; an empty body is allowed.
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	h.decide(w, r, app.DecisionReject, req.Reason)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision app.Decision, reason string) {
	principal, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Decide(r.Context(), principal, pathParam(r, "email"), decision, reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleControllerStats(w http.ResponseWriter, r *http.Request) {
	principal, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	if principal.IsAdmin() {
		h.handleStats(w, r)
		return
	}
	s, err := h.service.ControllerStats(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, s)
}

func (h *Handler) handleAmbassadorSignups(w http.ResponseWriter, r *http.Request) {
	principal, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	views, err := h.service.AmbassadorSignups(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, views)
}

func (h *Handler) handleAmbassadorStats(w http.ResponseWriter, r *http.Request) {
	principal, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	s, err := h.service.AmbassadorStats(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, s)
}
