/*
handlers.go - HTTP API handlers for labor cost resolution and the audit trail

PURPOSE:
  Exposes the labor core via REST API. Handles HTTP request/response and
  JSON serialization, and delegates everything else to labor.EntryService,
  labor.BulkController and labor.RateBook.

ENDPOINTS:
  Directory:
    POST   /api/workers                 Create or update a worker
    GET    /api/workers/{id}            Worker with derived skill tier
    POST   /api/jobs                    Create or update a job

  Rates:
    POST   /api/rates                   Create a rate record (overlaps rejected)
    POST   /api/rates/{id}/deactivate   Retire a rate record
    GET    /api/rates/resolve           Resolve worker/job/date (degraded=true for preview)

  Entries:
    POST   /api/entries                 Log a time entry
    POST   /api/entries/evaluate        Advisory preview, nothing is written
    GET    /api/entries/{id}            Get entry
    PUT    /api/entries/{id}            Edit and reprice
    POST   /api/entries/{id}/submit|approve|reject|void
    GET    /api/entries/{id}/audit      Entry audit trail

  Bulk:
    POST   /api/bulk/approve|reject|reprice
    GET    /api/payroll/export          CSV of approved entries

  Audit:
    GET    /api/audit                   Filtered, paginated audit query
    GET    /api/audit/correlation/{id}  One bulk batch

ERROR HANDLING:
  - 400: malformed input
  - 403: missing permission
  - 404: unknown entry, worker, job or rate
  - 409: invalid status transition, overlapping rate, concurrent edit
  - 422: hours rejected by the weekly validator (warnings included)
  - 500: rate resolution, audit write or timeout; body carries a reference
         id and never a computed pay figure

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/laborcost/labor"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   labor.Store
	Entries *labor.EntryService
	Bulk    *labor.BulkController
	Rates   *labor.RateBook
	Logger  *zap.Logger
}

// NewHandler builds a handler around an entry service. The bulk controller
// and rate book share the service's store and authorizer.
func NewHandler(store labor.Store, entries *labor.EntryService, bulk *labor.BulkController, rates *labor.RateBook, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Entries: entries, Bulk: bulk, Rates: rates, Logger: logger}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

func (h *Handler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	worker := labor.Worker{
		ID:         labor.WorkerID(req.ID),
		Name:       req.Name,
		Role:       strings.ToLower(strings.TrimSpace(req.Role)),
		SkillLevel: labor.SkillLevel(strings.ToLower(strings.TrimSpace(req.SkillLevel))),
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SaveWorker(r.Context(), worker); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkerDTO(worker, h.Entries.Policy().TierFor(worker)))
}

func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := h.Store.GetWorker(r.Context(), labor.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerDTO(worker, h.Entries.Policy().TierFor(worker)))
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	job := labor.JobInfo{
		ID:           labor.JobID(req.ID),
		Number:       req.Number,
		Name:         req.Name,
		CustomerName: req.CustomerName,
	}
	if err := h.Store.SaveJob(r.Context(), job); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobDTO(job))
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	var req CreateRateRequest
	if !decode(w, r, &req) {
		return
	}
	effective, err := labor.ParseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date format (use YYYY-MM-DD)", err)
		return
	}
	var expiry *time.Time
	if req.ExpiryDate != "" {
		exp, err := labor.ParseDate(req.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expiry_date format (use YYYY-MM-DD)", err)
			return
		}
		expiry = &exp
	}

	rec, err := h.Rates.Create(r.Context(), labor.CreateRateInput{
		Key: labor.RateKey{
			Scope:      labor.RateSource(req.Scope),
			JobID:      labor.JobID(req.JobID),
			WorkerID:   labor.WorkerID(req.WorkerID),
			SkillLevel: labor.SkillLevel(strings.ToLower(req.SkillLevel)),
		},
		RegularRate:   req.RegularRate,
		OvertimeRate:  req.OvertimeRate,
		EffectiveDate: effective,
		ExpiryDate:    expiry,
		CreatedBy:     actor(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRateRecordDTO(rec))
}

func (h *Handler) DeactivateRate(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Rates.Deactivate(r.Context(), labor.RateID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRateRecordDTO(rec))
}

// ResolveRate answers which rate applies. degraded=true uses the preview
// path, which falls back to the baseline rate instead of failing.
func (h *Handler) ResolveRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asOf, err := labor.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	query := labor.RateQuery{
		WorkerID: labor.WorkerID(q.Get("worker_id")),
		JobID:    labor.JobID(q.Get("job_id")),
		AsOf:     asOf,
	}
	if query.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required", nil)
		return
	}

	if q.Get("degraded") == "true" {
		writeJSON(w, http.StatusOK, toResolvedRateDTO(h.Entries.Resolver().ResolveDegraded(r.Context(), query)))
		return
	}
	rate, err := h.Entries.Resolver().Resolve(r.Context(), query)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResolvedRateDTO(rate))
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	in, ok := h.createInput(w, r)
	if !ok {
		return
	}
	res, err := h.Entries.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryResponse(res))
}

// EvaluateEntry prices a prospective entry without writing it. Invalid hours
// are reported in the evaluation rather than as an error.
func (h *Handler) EvaluateEntry(w http.ResponseWriter, r *http.Request) {
	in, ok := h.createInput(w, r)
	if !ok {
		return
	}
	res, err := h.Entries.Preview(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := toEntryResponse(res)
	eval := toEvaluationDTO(res.Evaluation)
	out.Evaluation = &eval
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Entries.Get(r.Context(), labor.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntryRequest
	if !decode(w, r, &req) {
		return
	}
	in := labor.UpdateEntryInput{
		EntryID:      labor.EntryID(chi.URLParam(r, "id")),
		Hours:        req.Hours,
		Description:  req.Description,
		HasBreaks:    req.HasBreaks,
		ChangedBy:    actor(r),
		ChangeReason: req.ChangeReason,
		Notes:        req.Notes,
	}
	if req.JobID != nil {
		job := labor.JobID(*req.JobID)
		in.JobID = &job
	}
	if req.WorkDate != nil {
		d, err := labor.ParseDate(*req.WorkDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid work_date format (use YYYY-MM-DD)", err)
			return
		}
		in.WorkDate = &d
	}

	res, err := h.Entries.Update(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(res))
}

func (h *Handler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	h.statusAction(w, r, h.Entries.Submit)
}

func (h *Handler) ApproveEntry(w http.ResponseWriter, r *http.Request) {
	h.statusAction(w, r, h.Entries.Approve)
}

func (h *Handler) RejectEntry(w http.ResponseWriter, r *http.Request) {
	h.statusAction(w, r, h.Entries.Reject)
}

func (h *Handler) VoidEntry(w http.ResponseWriter, r *http.Request) {
	h.statusAction(w, r, h.Entries.Void)
}

func (h *Handler) GetEntryAudit(w http.ResponseWriter, r *http.Request) {
	f, ok := auditFilter(w, r)
	if !ok {
		return
	}
	records, err := h.Entries.AuditTrail(r.Context(), labor.EntryID(chi.URLParam(r, "id")), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.enrichAudit(r, records))
}

// =============================================================================
// BULK HANDLERS
// =============================================================================

func (h *Handler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	h.bulkAction(w, r, h.Bulk.ApproveAll)
}

func (h *Handler) BulkReject(w http.ResponseWriter, r *http.Request) {
	h.bulkAction(w, r, h.Bulk.RejectAll)
}

func (h *Handler) BulkReprice(w http.ResponseWriter, r *http.Request) {
	h.bulkAction(w, r, h.Bulk.RepriceAll)
}

// ExportPayroll streams approved entries in [from, to) as CSV. The batch
// correlation id is returned in X-Correlation-ID.
func (h *Handler) ExportPayroll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := labor.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := labor.ParseDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}

	export, err := h.Bulk.ExportPayroll(r.Context(), labor.PayrollQuery{
		From:     from,
		To:       to,
		WorkerID: labor.WorkerID(q.Get("worker_id")),
		Actor:    actor(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="payroll_%s_%s.csv"`,
		from.Format(labor.DateLayout), to.Format(labor.DateLayout)))
	w.Header().Set("X-Correlation-ID", string(export.CorrelationID))
	w.Header().Set("X-Export-Failed", strconv.Itoa(len(export.Failed)))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"entry_id", "worker_id", "job_id", "work_date", "week_start",
		"hours", "regular_hours", "overtime_hours", "doubletime_hours",
		"regular_rate", "overtime_rate", "rate_source", "total_pay",
	})
	for _, row := range export.Rows {
		_ = cw.Write([]string{
			string(row.EntryID),
			string(row.WorkerID),
			string(row.JobID),
			row.WorkDate.Format(labor.DateLayout),
			row.WeekStart.Format(labor.DateLayout),
			row.Hours.String(),
			row.RegularHours.String(),
			row.OvertimeHours.String(),
			row.DoubletimeHours.String(),
			row.RegularRate.StringFixed(2),
			row.OvertimeRate.StringFixed(2),
			string(row.RateSource),
			row.TotalPay.StringFixed(2),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.Logger.Error("payroll csv write failed", zap.String("correlation_id", string(export.CorrelationID)), zap.Error(err))
	}
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	f, ok := auditFilter(w, r)
	if !ok {
		return
	}
	records, err := h.Store.QueryAudit(r.Context(), f.Normalize())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.enrichAudit(r, records))
}

func (h *Handler) AuditByCorrelation(w http.ResponseWriter, r *http.Request) {
	records, err := h.Bulk.ByCorrelation(r.Context(), labor.CorrelationID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.enrichAudit(r, records))
}

// enrichAudit adds job number and customer name. Lookup failures leave the
// fields empty; the audit records themselves are authoritative.
func (h *Handler) enrichAudit(r *http.Request, records []labor.AuditRecord) []AuditRecordDTO {
	jobs := make(map[labor.JobID]labor.JobInfo)
	out := make([]AuditRecordDTO, 0, len(records))
	for _, rec := range records {
		dto := toAuditRecordDTO(rec)
		job, seen := jobs[rec.JobID]
		if !seen && rec.JobID != "" {
			if info, err := h.Store.LookupJob(r.Context(), rec.JobID); err == nil {
				job = info
			}
			jobs[rec.JobID] = job
		}
		dto.JobNumber = job.Number
		dto.CustomerName = job.CustomerName
		out = append(out, dto)
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createInput(w http.ResponseWriter, r *http.Request) (labor.CreateEntryInput, bool) {
	var req CreateEntryRequest
	if !decode(w, r, &req) {
		return labor.CreateEntryInput{}, false
	}
	date, err := labor.ParseDate(req.WorkDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid work_date format (use YYYY-MM-DD)", err)
		return labor.CreateEntryInput{}, false
	}
	return labor.CreateEntryInput{
		WorkerID:     labor.WorkerID(req.WorkerID),
		JobID:        labor.JobID(req.JobID),
		WorkDate:     date,
		Hours:        req.Hours,
		Description:  req.Description,
		HasBreaks:    req.HasBreaks,
		ChangedBy:    actor(r),
		ChangeReason: req.ChangeReason,
		Notes:        req.Notes,
	}, true
}

func (h *Handler) statusAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, in labor.StatusInput) (labor.EntryResult, error)) {
	var req StatusRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := fn(r.Context(), labor.StatusInput{
		EntryID: labor.EntryID(chi.URLParam(r, "id")),
		Actor:   actor(r),
		Reason:  req.Reason,
		Notes:   req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(res))
}

func (h *Handler) bulkAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, req labor.BulkRequest) (labor.BulkResult, error)) {
	var req BulkRequestDTO
	if !decode(w, r, &req) {
		return
	}
	ids := make([]labor.EntryID, 0, len(req.EntryIDs))
	for _, id := range req.EntryIDs {
		ids = append(ids, labor.EntryID(id))
	}
	res, err := fn(r.Context(), labor.BulkRequest{EntryIDs: ids, Actor: actor(r), Reason: req.Reason, Notes: req.Notes})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("X-Correlation-ID", string(res.CorrelationID))
	writeJSON(w, http.StatusOK, toBulkResultDTO(res))
}

func auditFilter(w http.ResponseWriter, r *http.Request) (labor.AuditFilter, bool) {
	q := r.URL.Query()
	f := labor.AuditFilter{
		EntryID:       labor.EntryID(q.Get("entry_id")),
		WorkerID:      labor.WorkerID(q.Get("worker_id")),
		JobID:         labor.JobID(q.Get("job_id")),
		Action:        labor.AuditAction(strings.ToUpper(q.Get("action"))),
		CorrelationID: labor.CorrelationID(q.Get("correlation_id")),
		Ascending:     q.Get("order") == "asc",
	}
	if f.Action != "" && !f.Action.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown audit action", nil)
		return f, false
	}
	var err error
	if f.From, err = parseInstant(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from (use RFC3339 or YYYY-MM-DD)", err)
		return f, false
	}
	if f.To, err = parseInstant(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to (use RFC3339 or YYYY-MM-DD)", err)
		return f, false
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return f, false
	}
	if f.Offset, err = parseInt(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return f, false
	}
	return f, true
}

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return labor.ParseDate(s)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
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

// writeServiceError maps core errors to HTTP. Server-side failures are logged
// with a reference the client can quote; the cause is not echoed back.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *labor.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    verr.Error(),
			Code:     "hours_rejected",
			Warnings: toWarningDTOs(verr.Warnings),
		})
	case labor.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, labor.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, labor.ErrInvalidTransition),
		errors.Is(err, labor.ErrRateConflict),
		errors.Is(err, labor.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "Conflict", err)
	case labor.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		ref := labor.RequestIDFrom(r.Context())
		if ref == "" {
			ref = string(labor.NewCorrelationID())
		}
		h.Logger.Error("request failed",
			zap.String("reference", ref),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Bool("retryable", labor.IsRetryable(err)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:     "could not process time entry",
			Reference: ref,
		})
	}
}
