/*
bulk.go - Batch operations grouped under one correlation id

PURPOSE:
  Runs one operation over many entries. Each entry is its own atomic unit
  (mutation + audit record in one transaction); a failure on one entry is
  collected and the batch continues. Every audit record written by one
  invocation carries the same correlation id, so the batch can be pulled
  back with ByCorrelation and reviewed as a unit.

OPERATIONS:
  ApproveAll / RejectAll  status changes
  RepriceAll              bulk labor-cost generation; also stamps a cost-run id
  ExportPayroll           approved entries in a date range, one EXPORT record each
*/
package labor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BulkOp string

const (
	BulkApprove BulkOp = "approve"
	BulkReject  BulkOp = "reject"
	BulkReprice BulkOp = "reprice"
	BulkExport  BulkOp = "export"
)

// BulkFailure is one entry that did not make it through a batch.
type BulkFailure struct {
	EntryID EntryID
	Err     error
}

func (f BulkFailure) Error() string { return fmt.Sprintf("entry %s: %v", f.EntryID, f.Err) }

func (f BulkFailure) Unwrap() error { return f.Err }

type BulkResult struct {
	Op            BulkOp
	CorrelationID CorrelationID
	CostRunID     CostRunID // set by RepriceAll
	Succeeded     []EntryResult
	Failed        []BulkFailure
}

// BulkRequest names the entries to act on and who is acting.
type BulkRequest struct {
	EntryIDs []EntryID
	Actor    string
	Reason   string
	Notes    string
}

type BulkController struct {
	entries          *EntryService
	store            Store
	authz            Authorizer
	logger           *zap.Logger
	metrics          Metrics
	newCorrelationID func() CorrelationID
	newCostRunID     func() CostRunID
}

type BulkOption func(*BulkController)

func WithBulkLogger(l *zap.Logger) BulkOption { return func(b *BulkController) { b.logger = l } }

func WithBulkMetrics(m Metrics) BulkOption { return func(b *BulkController) { b.metrics = m } }

func WithBulkAuthorizer(a Authorizer) BulkOption { return func(b *BulkController) { b.authz = a } }

func NewBulkController(entries *EntryService, opts ...BulkOption) *BulkController {
	b := &BulkController{
		entries:          entries,
		store:            entries.store,
		authz:            entries.authz,
		logger:           entries.logger,
		metrics:          entries.metrics,
		newCorrelationID: NewCorrelationID,
		newCostRunID:     NewCostRunID,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ApproveAll approves each entry under one correlation id.
func (b *BulkController) ApproveAll(ctx context.Context, req BulkRequest) (BulkResult, error) {
	if err := b.precheck(ctx, req, PermEntriesApprove); err != nil {
		return BulkResult{}, err
	}
	return b.run(ctx, BulkApprove, req, "", func(ctx context.Context, in StatusInput) (EntryResult, error) {
		return b.entries.Approve(ctx, in)
	}), nil
}

// RejectAll rejects each entry under one correlation id.
func (b *BulkController) RejectAll(ctx context.Context, req BulkRequest) (BulkResult, error) {
	if err := b.precheck(ctx, req, PermEntriesReject); err != nil {
		return BulkResult{}, err
	}
	return b.run(ctx, BulkReject, req, "", func(ctx context.Context, in StatusInput) (EntryResult, error) {
		return b.entries.Reject(ctx, in)
	}), nil
}

// RepriceAll reprices each entry against current rates. Every audit record
// shares the correlation id and carries the same cost-run id.
func (b *BulkController) RepriceAll(ctx context.Context, req BulkRequest) (BulkResult, error) {
	if err := b.precheck(ctx, req, PermRatesEdit); err != nil {
		return BulkResult{}, err
	}
	run := b.newCostRunID()
	return b.run(ctx, BulkReprice, req, run, func(ctx context.Context, in StatusInput) (EntryResult, error) {
		return b.entries.Reprice(ctx, in, run)
	}), nil
}

// ByCorrelation returns every audit record of one batch, oldest first.
func (b *BulkController) ByCorrelation(ctx context.Context, id CorrelationID) ([]AuditRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: correlation id is required", ErrInvalidInput)
	}
	return b.store.AuditByCorrelation(ctx, id)
}

func (b *BulkController) precheck(ctx context.Context, req BulkRequest, perm Permission) error {
	if len(req.EntryIDs) == 0 {
		return fmt.Errorf("%w: no entries given", ErrInvalidInput)
	}
	return authorize(ctx, b.authz, req.Actor, perm)
}

func (b *BulkController) run(ctx context.Context, op BulkOp, req BulkRequest, costRun CostRunID,
	fn func(context.Context, StatusInput) (EntryResult, error)) BulkResult {

	res := BulkResult{Op: op, CorrelationID: b.newCorrelationID(), CostRunID: costRun}
	ctx = WithCorrelationID(ctx, res.CorrelationID)

	seen := make(map[EntryID]bool, len(req.EntryIDs))
	for _, id := range req.EntryIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		out, err := fn(ctx, StatusInput{EntryID: id, Actor: req.Actor, Reason: req.Reason, Notes: req.Notes})
		b.metrics.BulkEntry(op, err == nil)
		if err != nil {
			res.Failed = append(res.Failed, BulkFailure{EntryID: id, Err: err})
			continue
		}
		res.Succeeded = append(res.Succeeded, out)
	}

	b.logger.Info("bulk operation finished", logFields(ctx,
		zap.String("op", string(op)),
		zap.String("actor", req.Actor),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
	)...)
	return res
}

// =============================================================================
// PAYROLL EXPORT
// =============================================================================

type PayrollQuery struct {
	From     time.Time // inclusive work date
	To       time.Time // exclusive work date
	WorkerID WorkerID  // optional
	Actor    string
}

// PayrollRow is one exported entry. Overtime is the pay-policy figure stored
// on the entry.
type PayrollRow struct {
	EntryID         EntryID
	WorkerID        WorkerID
	JobID           JobID
	WorkDate        time.Time
	WeekStart       time.Time
	Hours           decimal.Decimal
	RegularHours    decimal.Decimal
	OvertimeHours   decimal.Decimal
	DoubletimeHours decimal.Decimal
	RegularRate     decimal.Decimal
	OvertimeRate    decimal.Decimal
	RateSource      RateSource
	TotalPay        decimal.Decimal
}

type PayrollExport struct {
	CorrelationID CorrelationID
	From, To      time.Time
	Rows          []PayrollRow
	Failed        []BulkFailure
}

// TotalPay sums the exported rows.
func (p PayrollExport) TotalPay() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range p.Rows {
		sum = sum.Add(r.TotalPay)
	}
	return sum
}

// ExportPayroll exports approved entries in [From, To). An entry whose EXPORT
// audit record cannot be written is left out of the rows and reported in Failed.
func (b *BulkController) ExportPayroll(ctx context.Context, q PayrollQuery) (PayrollExport, error) {
	from, to := NormalizeDate(q.From), NormalizeDate(q.To)
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return PayrollExport{}, ErrInvalidWindow
	}
	if err := authorize(ctx, b.authz, q.Actor, PermEntriesExport); err != nil {
		return PayrollExport{}, err
	}
	entries, err := b.store.ListEntries(ctx, EntryFilter{
		WorkerID: q.WorkerID,
		From:     from,
		To:       to,
		Statuses: []EntryStatus{StatusApproved},
	})
	if err != nil {
		return PayrollExport{}, err
	}

	out := PayrollExport{CorrelationID: b.newCorrelationID(), From: from, To: to}
	ctx = WithCorrelationID(ctx, out.CorrelationID)
	for _, e := range entries {
		snap := SnapshotOf(e)
		_, err := b.entries.audit.RecordEvent(ctx, RecordInput{
			EntryID:   e.ID,
			WorkerID:  e.WorkerID,
			JobID:     e.JobID,
			Action:    ActionExport,
			Old:       &snap,
			New:       snap,
			ChangedBy: q.Actor,
			Notes:     fmt.Sprintf("payroll %s to %s", from.Format(DateLayout), to.Format(DateLayout)),
		})
		b.metrics.BulkEntry(BulkExport, err == nil)
		if err != nil {
			out.Failed = append(out.Failed, BulkFailure{EntryID: e.ID, Err: err})
			continue
		}
		out.Rows = append(out.Rows, PayrollRow{
			EntryID:         e.ID,
			WorkerID:        e.WorkerID,
			JobID:           e.JobID,
			WorkDate:        e.WorkDate,
			WeekStart:       WeekStart(e.WorkDate),
			Hours:           e.Hours,
			RegularHours:    e.RegularHours,
			OvertimeHours:   e.OvertimeHours,
			DoubletimeHours: e.DoubletimeHours,
			RegularRate:     e.AppliedRegularRate,
			OvertimeRate:    e.AppliedOvertimeRate,
			RateSource:      e.RateSource,
			TotalPay:        e.TotalPay,
		})
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		if out.Rows[i].WorkerID != out.Rows[j].WorkerID {
			return out.Rows[i].WorkerID < out.Rows[j].WorkerID
		}
		return out.Rows[i].WorkDate.Before(out.Rows[j].WorkDate)
	})

	b.logger.Info("payroll exported", logFields(ctx,
		zap.String("from", from.Format(DateLayout)),
		zap.String("to", to.Format(DateLayout)),
		zap.Int("rows", len(out.Rows)),
		zap.Int("failed", len(out.Failed)),
	)...)
	return out, nil
}
