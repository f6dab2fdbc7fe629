/*
handlers.go - HTTP API handlers for the spare-parts bonus system

PURPOSE:
  Exposes the bonus engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the bonus service and parts catalog.

ENDPOINTS:
  Users:
    GET    /api/users                     List all users
    POST   /api/users                     Create or update a user
    GET    /api/users/{id}/dashboard      Per-user bonus overview (?locale=)
    GET    /api/users/{id}/entries        Entry history, newest first
    POST   /api/users/{id}/entries        Enter a part by serial number

  Parts:
    GET    /api/parts                     Catalog (status synced first)
    POST   /api/parts/import              Bulk import
    GET    /api/parts/remaining           Count of parts not yet entered

  Bonus:
    GET    /api/bonus/report              Quarterly report (?quarter=&status=)
    GET    /api/bonus/trends              Per-quarter totals, oldest first
    GET    /api/bonus/export              Report download (?format=xlsx|csv)
    POST   /api/bonus/payments            Mark a user's quarter paid/pending

  Admin:
    POST   /api/admin/parts/sync          Reconcile part status now
    GET    /api/admin/parts/verify        Audit part status, no writes
    GET    /api/admin/sync-runs           Recent reconciliation runs
    GET    /api/dashboard/stats           Catalog counters

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call the service (fetch, compute, write back)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (payment update already running)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/bonus-engine/bonus"
	"github.com/warp/bonus-engine/export"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/parts"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   generic.Store
	Bonus   *bonus.Service
	Catalog *parts.Catalog
	Clock   generic.Clock
	Logger  *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. clock and logger may be nil.
func NewHandler(store generic.Store, svc *bonus.Service, catalog *parts.Catalog, clock generic.Clock, logger *zap.Logger) *Handler {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:   store,
		Bonus:   svc,
		Catalog: catalog,
		Clock:   clock,
		Logger:  logger.With(zap.String("component", "api")),
	}
}

func (h *Handler) location() *time.Location {
	return h.Bonus.Aggregator().Classifier().Location()
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates or updates a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	role := generic.Role(req.Role)
	switch role {
	case "":
		role = generic.RoleUser
	case generic.RoleUser, generic.RoleAdmin:
	default:
		writeError(w, http.StatusBadRequest, "Invalid role (use user or admin)", nil)
		return
	}

	user := generic.UserProfile{
		ID:        generic.UserID(strings.TrimSpace(req.ID)),
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Role:      role,
		CreatedAt: h.Clock.Now(),
	}
	if err := h.Store.SaveUser(r.Context(), user); err != nil {
		h.fail(w, "Failed to create user", err)
		return
	}
	h.Bonus.InvalidateUser(user.ID)

	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// GetDashboard returns the user's bonus overview, dates in ?locale=.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID := generic.UserID(chi.URLParam(r, "id"))
	if err := h.requireUser(r, userID); err != nil {
		h.fail(w, "Failed to load dashboard", err)
		return
	}

	d, err := h.Bonus.Dashboard(r.Context(), userID, r.URL.Query().Get("locale"))
	if err != nil {
		h.fail(w, "Failed to load dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

// GetEntries returns the user's entry history.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	userID := generic.UserID(chi.URLParam(r, "id"))

	events, err := h.Catalog.Entries(r.Context(), userID)
	if err != nil {
		h.fail(w, "Failed to get entries", err)
		return
	}

	classifier := h.Bonus.Aggregator().Classifier()
	dtos := make([]EntryDTO, len(events))
	for i, e := range events {
		dtos[i] = toEntryDTO(e, classifier)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitEntry enters a part for the user.
func (h *Handler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	userID := generic.UserID(chi.URLParam(r, "id"))

	var req SubmitEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.requireUser(r, userID); err != nil {
		h.fail(w, "Failed to submit entry", err)
		return
	}

	result, err := h.Catalog.Enter(r.Context(), userID, req.SerialNumber)
	if err != nil {
		h.fail(w, "Failed to submit entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(result.Event, h.Bonus.Aggregator().Classifier()))
}

func (h *Handler) requireUser(r *http.Request, userID generic.UserID) error {
	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		return &generic.OperationError{Op: "lookup user", Err: err}
	}
	if user == nil {
		return &generic.NotFoundError{Resource: "user", Key: string(userID)}
	}
	return nil
}

// =============================================================================
// PART HANDLERS
// =============================================================================

// ListParts returns the catalog after reconciling part status.
func (h *Handler) ListParts(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.Catalog.List(r.Context())
	if err != nil {
		h.fail(w, "Failed to list parts", err)
		return
	}

	dtos := make([]PartDTO, len(catalog))
	for i, p := range catalog {
		dtos[i] = toPartDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ImportParts bulk-inserts parts, skipping known serials.
func (h *Handler) ImportParts(w http.ResponseWriter, r *http.Request) {
	var req ImportPartsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Parts) == 0 {
		writeError(w, http.StatusBadRequest, "parts is required", nil)
		return
	}

	inputs := make([]parts.PartInput, len(req.Parts))
	for i, p := range req.Parts {
		inputs[i] = parts.PartInput{Name: p.Name, SerialNumber: p.SerialNumber}
	}

	result, err := h.Catalog.Import(r.Context(), inputs)
	if err != nil {
		h.fail(w, "Failed to import parts", err)
		return
	}

	resp := ImportResultDTO{
		Added:          result.Added,
		Skipped:        result.Skipped,
		SkippedSerials: result.SkippedSerials,
	}
	if result.Sync != nil {
		run := toSyncRunDTO(*result.Sync)
		resp.Sync = &run
	}
	writeJSON(w, http.StatusCreated, resp)
}

// RemainingParts counts parts nobody has entered.
func (h *Handler) RemainingParts(w http.ResponseWriter, r *http.Request) {
	n, err := h.Catalog.Remaining(r.Context())
	if err != nil {
		h.fail(w, "Failed to count remaining parts", err)
		return
	}
	writeJSON(w, http.StatusOK, RemainingDTO{Remaining: n})
}

// =============================================================================
// BONUS REPORT HANDLERS
// =============================================================================

// GetBonusReport returns the quarterly bonus report. A read failure still
// renders an empty report so the admin page can show the error inline.
func (h *Handler) GetBonusReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report filter", err)
		return
	}

	view, err := h.Bonus.Report(r.Context(), filter)
	if err != nil {
		h.Logger.Error("bonus report failed", zap.Error(err))
		resp := emptyReport()
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	resp := BonusReportResponse{
		Buckets:  make([]BucketDTO, len(view.Buckets)),
		Totals:   view.Totals,
		Quarters: make([]string, len(view.Quarters)),
	}
	for i, b := range view.Buckets {
		resp.Buckets[i] = toBucketDTO(b, view.NewUnpaid[b.Key()])
	}
	for i, q := range view.Quarters {
		resp.Quarters[i] = q.Label()
	}
	for _, a := range view.Anomalies {
		resp.Anomalies = append(resp.Anomalies, a.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTrends returns per-quarter totals.
func (h *Handler) GetTrends(w http.ResponseWriter, r *http.Request) {
	view, err := h.Bonus.Report(r.Context(), bonus.Filter{Status: bonus.FilterAll})
	if err != nil {
		h.fail(w, "Failed to compute trends", err)
		return
	}

	dtos := make([]TrendDTO, len(view.Trends))
	for i, t := range view.Trends {
		dtos[i] = toTrendDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExportBonusReport streams the filtered report as xlsx (default) or csv.
func (h *Handler) ExportBonusReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report filter", err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "csv" {
		writeError(w, http.StatusBadRequest, "Invalid format (use xlsx or csv)", nil)
		return
	}

	view, err := h.Bonus.Report(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to build report", err)
		return
	}
	rows := export.RowsFromBuckets(view.Buckets, view.NewUnpaid, r.URL.Query().Get("locale"), h.location())

	filename := fmt.Sprintf("bonus-report-%s.%s", h.Clock.Now().In(h.location()).Format("2006-01-02"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = export.WriteCSV(w, rows)
	} else {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		err = export.WriteXLSX(w, rows)
	}
	if err != nil {
		// Headers are already out; all we can do is log
		h.Logger.Error("export failed", zap.String("format", format), zap.Error(err))
	}
}

func parseFilter(r *http.Request) (bonus.Filter, error) {
	status, err := bonus.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		return bonus.Filter{}, err
	}
	f := bonus.Filter{Status: status}

	if label := strings.TrimSpace(r.URL.Query().Get("quarter")); label != "" && !strings.EqualFold(label, "all") {
		q, err := bonus.ParseQuarterLabel(label)
		if err != nil {
			return bonus.Filter{}, err
		}
		f.Quarter = &q
	}
	return f, nil
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// UpdatePayment marks every part a user entered in a quarter paid or pending.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	q := bonus.Quarter{Number: req.Quarter, Year: req.Year}
	userID := generic.UserID(req.UserID)

	var (
		result bonus.PaymentResult
		err    error
	)
	switch bonus.PaymentStatus(strings.ToLower(req.Status)) {
	case bonus.StatusPaid:
		paymentDate, perr := h.parsePaymentDate(req.PaymentDate)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date (use YYYY-MM-DD)", perr)
			return
		}
		result, err = h.Bonus.MarkPaid(r.Context(), userID, q, paymentDate)
	case bonus.StatusPending:
		result, err = h.Bonus.MarkPending(r.Context(), userID, q)
	default:
		writeError(w, http.StatusBadRequest, "Invalid status (use paid or pending)", nil)
		return
	}
	if err != nil {
		h.fail(w, "Failed to update payment status", err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResultDTO(result))
}

// parsePaymentDate accepts a calendar date in the bonus location or a full
// RFC3339 timestamp. Empty yields the zero time, which the service rejects.
func (h *Handler) parsePaymentDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, h.location()); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SyncPartStatus reconciles part status on demand.
func (h *Handler) SyncPartStatus(w http.ResponseWriter, r *http.Request) {
	run, err := h.Bonus.SyncPartStatus(r.Context(), generic.TriggerManual)
	if err != nil {
		h.fail(w, "Failed to sync part status", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncRunDTO(run))
}

// VerifyPartStatus audits part status without writing.
func (h *Handler) VerifyPartStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Bonus.VerifyPartStatus(r.Context())
	if err != nil {
		h.fail(w, "Failed to verify part status", err)
		return
	}
	writeJSON(w, http.StatusOK, toVerificationDTO(v))
}

// ListSyncRuns returns recent reconciliation runs (?limit=, default 20).
func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Bonus.SyncRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, "Failed to list sync runs", err)
		return
	}

	dtos := make([]SyncRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSyncRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStats returns the admin dashboard counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Catalog.Stats(r.Context(), h.location(), bonus.RatePerPart)
	if err != nil {
		h.fail(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// =============================================================================
// HELPERS
// =============================================================================

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

// fail maps a domain error to its HTTP status.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		var opErr *generic.OperationError
		if errors.As(err, &opErr) {
			h.Logger.Error(message, zap.String("op", opErr.Op), zap.Error(opErr.Err))
		} else {
			h.Logger.Error(message, zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
