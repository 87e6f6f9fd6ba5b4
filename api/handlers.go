/*
handlers.go - HTTP request handlers for the mess subscription API

PURPOSE:
  Implements HTTP handlers for all API endpoints. Each handler:
  1. Parses request (path params, query params, JSON body)
  2. Takes the caller's session from the request context
  3. Calls the ledger or roster service
  4. Returns a JSON response or an error

HANDLER ORGANIZATION:
  Sessions:   Register, Login, Logout, Me
  Users:      ListUsers, PendingCount, ApproveUser, UpdateUser, DeleteUser
  Members:    ListMembers, CreateMember, GetMember, ExportArrears
  Payments:   RecordPayment, DeletePayment, ToggleOverseas
  Reference:  ListRanks, Health
  Scenarios:  ListScenarios, GetCurrentScenario, LoadScenario (scenarios.go)

ERROR HANDLING:
  Service errors are mapped by category:
    - session/credential errors   -> 401
    - subs.ErrValidation          -> 400
    - subs.ErrUnauthorized        -> 403
    - subs.ErrNotFound            -> 404
    - anything else               -> 500, details logged, not returned
  All errors are returned as JSON: {"error": "message", "details": "..."}

AUTHORIZATION:
  Handlers never check roles themselves. The session travels into every
  service call and the services decide.

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request/response types
*/
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/ledger"
	"github.com/messmate/subs-engine/report"
	"github.com/messmate/subs-engine/roster"
	"github.com/messmate/subs-engine/store/sqlite"
	"github.com/messmate/subs-engine/subs"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Ledger  *ledger.Ledger
	Roster  *roster.Service
	Log     *zap.Logger
	Metrics *Metrics

	scenariosEnabled bool

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.Log = l
		}
	}
}

func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.Metrics = m
		}
	}
}

// WithScenarios exposes the demo scenario endpoints. Loading a scenario
// wipes the database, so only development turns this on.
func WithScenarios(enabled bool) HandlerOption {
	return func(h *Handler) { h.scenariosEnabled = enabled }
}

// NewHandler creates a new Handler.
func NewHandler(store *sqlite.Store, l *ledger.Ledger, r *roster.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		Store:  store,
		Ledger: l,
		Roster: r,
		Log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.Metrics == nil {
		h.Metrics = NewMetrics()
	}
	return h
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// Register creates a pending (Temp) user.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req roster.Registration
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := h.Roster.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Registration failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(id))
}

// Login exchanges credentials for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, sess, err := h.Roster.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "Login failed", err)
		return
	}
	id, err := h.Roster.Me(r.Context(), sess)
	if err != nil {
		h.fail(w, r, "Login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionDTO{
		Token:     token,
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
		User:      toUserDTO(id),
	})
}

// Logout revokes the caller's token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Roster.Logout(r.Context(), sessionFrom(r)); err != nil {
		h.fail(w, r, "Logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's own identity.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := h.Roster.Me(r.Context(), sessionFrom(r))
	if err != nil {
		h.fail(w, r, "Failed to load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(id))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns visible users. ?tab=new lists pending registrations.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	tab, err := roster.ParseTab(r.URL.Query().Get("tab"))
	if err != nil {
		h.fail(w, r, "Invalid tab", err)
		return
	}
	users, err := h.Roster.ListUsers(r.Context(), sessionFrom(r), tab)
	if err != nil {
		h.fail(w, r, "Failed to list users", err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) PendingCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Roster.PendingCount(r.Context(), sessionFrom(r))
	if err != nil {
		h.fail(w, r, "Failed to count pending users", err)
		return
	}
	writeJSON(w, http.StatusOK, PendingCountDTO{Count: n})
}

func (h *Handler) ApproveUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.Roster.Approve(r.Context(), sessionFrom(r), chi.URLParam(r, "uid"))
	if err != nil {
		h.fail(w, r, "Failed to approve user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(id))
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch roster.UserPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	id, err := h.Roster.UpdateUser(r.Context(), sessionFrom(r), chi.URLParam(r, "uid"), patch)
	if err != nil {
		h.fail(w, r, "Failed to update user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(id))
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Roster.DeleteUser(r.Context(), sessionFrom(r), chi.URLParam(r, "uid")); err != nil {
		h.fail(w, r, "Failed to delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns the visible roster with totals owed. ?q= filters by
// army number or surname.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.Roster(r.Context(), sessionFrom(r), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, "Failed to list members", err)
		return
	}
	writeJSON(w, http.StatusOK, toRosterDTOs(entries))
}

// ExportArrears downloads the visible roster as an xlsx workbook.
func (h *Handler) ExportArrears(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.Roster(r.Context(), sessionFrom(r), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, "Failed to list members", err)
		return
	}
	// Render fully before writing headers so a failure can still be a JSON 500.
	var buf bytes.Buffer
	if err := report.WriteArrears(&buf, entries); err != nil {
		h.fail(w, r, "Failed to render export", err)
		return
	}
	filename := fmt.Sprintf("arrears-%d.xlsx", h.Ledger.CurrentYear())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// CreateMember adds a member document with an empty fee history.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req ledger.NewMember
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.Ledger.AddMember(r.Context(), sessionFrom(r), req)
	h.Metrics.observeMutation("add_member", err)
	if err != nil {
		h.fail(w, r, "Failed to create member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// GetMember returns the member's statement.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	st, err := h.Ledger.Statement(r.Context(), sessionFrom(r), subs.MemberID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get member", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment appends a payment to a fee year.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, year, ok := h.feeYearParams(w, r)
	if !ok {
		return
	}
	var req RecordPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	method, err := subs.ParseMethod(req.Method)
	if err != nil {
		h.fail(w, r, "Invalid payment method", err)
		return
	}

	rec, err := h.Ledger.RecordPayment(r.Context(), sessionFrom(r), ledger.PaymentRequest{
		MemberID: id,
		Year:     year,
		Amount:   req.Amount,
		Method:   method,
		Overseas: req.Overseas,
	})
	h.Metrics.observeMutation("record_payment", err)
	if err != nil {
		h.fail(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toYearRecordDTO(id, year, rec))
}

// DeletePayment removes one payment by its index in the year's list.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, year, ok := h.feeYearParams(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.fail(w, r, "Invalid payment index", &subs.ValidationError{Field: "index", Reason: "must be an integer"})
		return
	}

	rec, err := h.Ledger.DeletePayment(r.Context(), sessionFrom(r), id, year, index)
	h.Metrics.observeMutation("delete_payment", err)
	if err != nil {
		h.fail(w, r, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toYearRecordDTO(id, year, rec))
}

// ToggleOverseas flips the half-rate flag on a fee year.
func (h *Handler) ToggleOverseas(w http.ResponseWriter, r *http.Request) {
	id, year, ok := h.feeYearParams(w, r)
	if !ok {
		return
	}
	fees, err := h.Ledger.ToggleOverseas(r.Context(), sessionFrom(r), id, year)
	h.Metrics.observeMutation("toggle_overseas", err)
	if err != nil {
		h.fail(w, r, "Failed to toggle overseas", err)
		return
	}
	writeJSON(w, http.StatusOK, toYearRecordDTO(id, year, fees[year]))
}

func (h *Handler) feeYearParams(w http.ResponseWriter, r *http.Request) (subs.MemberID, int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		h.fail(w, r, "Invalid year", &subs.ValidationError{Field: "year", Reason: "must be an integer"})
		return "", 0, false
	}
	return subs.MemberID(chi.URLParam(r, "id")), year, true
}

// =============================================================================
// REFERENCE HANDLERS
// =============================================================================

// ListRanks returns every known rank with its category and mess.
func (h *Handler) ListRanks(w http.ResponseWriter, r *http.Request) {
	ranks := subs.Ranks()
	dtos := make([]RankDTO, len(ranks))
	for i, rank := range ranks {
		c := subs.Classify(rank)
		dtos[i] = RankDTO{Rank: rank, Category: string(c), Mess: string(c.Mess())}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.fail(w, r, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func sessionFrom(r *http.Request) access.Session {
	s, _ := access.SessionFrom(r.Context())
	return s
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeBody reads a JSON request body into v. On failure it writes a 400
// and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case roster.IsSessionError(err):
		return http.StatusUnauthorized
	case subs.IsClientError(err):
		return http.StatusBadRequest
	case subs.IsUnauthorized(err):
		return http.StatusForbidden
	case subs.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error response for err. Server-side failures are logged
// and their details withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}
