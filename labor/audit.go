/*
audit.go - Snapshot diffing and the transactional audit writer

PURPOSE:
  Every state-changing mutation of a TimeEntry produces exactly one
  AuditRecord, written in the same transaction as the mutation. If the
  audit append fails the mutation rolls back; if the mutation fails no
  audit record is written.

DIFF CAPTURE:
  Snapshot is the fixed set of trackable fields. Diff compares two
  snapshots and keeps only fields that changed and are defined on both
  sides. A nil old snapshot (creation) yields an empty diff.

TIMEOUTS:
  RecordWithMutation bounds its transaction with the writer's timeout.
  Hitting the deadline rolls back and surfaces as ErrTxTimeout.

SEE ALSO:
  - store.go: AuditAppender / AuditReader
  - bulk.go: correlation ids threaded through ctx
*/
package labor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ACTIONS
// =============================================================================

type AuditAction string

const (
	ActionCreate  AuditAction = "CREATE"
	ActionUpdate  AuditAction = "UPDATE"
	ActionSubmit  AuditAction = "SUBMIT"
	ActionApprove AuditAction = "APPROVE"
	ActionReject  AuditAction = "REJECT"
	ActionVoid    AuditAction = "VOID"
	ActionReprice AuditAction = "REPRICE"
	ActionExport  AuditAction = "EXPORT"
)

func (a AuditAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionSubmit, ActionApprove, ActionReject, ActionVoid, ActionReprice, ActionExport:
		return true
	}
	return false
}

// =============================================================================
// SNAPSHOTS AND DIFFS
// =============================================================================

// Snapshot holds the trackable fields of a TimeEntry.
type Snapshot struct {
	Hours           decimal.Decimal
	RegularHours    decimal.Decimal
	OvertimeHours   decimal.Decimal
	DoubletimeHours decimal.Decimal
	TotalPay        decimal.Decimal
	JobID           JobID
	WorkDate        time.Time
	Description     string
	Status          EntryStatus
}

func SnapshotOf(e TimeEntry) Snapshot {
	return Snapshot{
		Hours:           e.Hours,
		RegularHours:    e.RegularHours,
		OvertimeHours:   e.OvertimeHours,
		DoubletimeHours: e.DoubletimeHours,
		TotalPay:        e.TotalPay,
		JobID:           e.JobID,
		WorkDate:        e.WorkDate,
		Description:     e.Description,
		Status:          e.Status,
	}
}

// FieldChange is one field's before and after value, rendered as text.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FieldDiffs maps a trackable field name to its change.
type FieldDiffs map[string]FieldChange

// Trackable field names, as they appear in FieldDiffs.
const (
	FieldHours           = "hours"
	FieldRegularHours    = "regularHours"
	FieldOvertimeHours   = "overtimeHours"
	FieldDoubletimeHours = "doubletimeHours"
	FieldTotalPay        = "totalPay"
	FieldJobID           = "jobId"
	FieldWorkDate        = "workDate"
	FieldDescription     = "description"
	FieldStatus          = "status"
)

// Diff returns the fields that differ between old and new.
func Diff(old *Snapshot, new Snapshot) FieldDiffs {
	diffs := FieldDiffs{}
	if old == nil {
		return diffs
	}

	decimals := []struct {
		name     string
		from, to decimal.Decimal
		money    bool
	}{
		{FieldHours, old.Hours, new.Hours, false},
		{FieldRegularHours, old.RegularHours, new.RegularHours, false},
		{FieldOvertimeHours, old.OvertimeHours, new.OvertimeHours, false},
		{FieldDoubletimeHours, old.DoubletimeHours, new.DoubletimeHours, false},
		{FieldTotalPay, old.TotalPay, new.TotalPay, true},
	}
	for _, d := range decimals {
		if d.from.Equal(d.to) {
			continue
		}
		if d.money {
			diffs[d.name] = FieldChange{From: d.from.StringFixed(2), To: d.to.StringFixed(2)}
		} else {
			diffs[d.name] = FieldChange{From: d.from.String(), To: d.to.String()}
		}
	}

	texts := []struct{ name, from, to string }{
		{FieldJobID, string(old.JobID), string(new.JobID)},
		{FieldDescription, old.Description, new.Description},
		{FieldStatus, string(old.Status), string(new.Status)},
	}
	for _, t := range texts {
		if t.from == "" || t.to == "" || t.from == t.to {
			continue
		}
		diffs[t.name] = FieldChange{From: t.from, To: t.to}
	}

	if !old.WorkDate.IsZero() && !new.WorkDate.IsZero() && !SameDay(old.WorkDate, new.WorkDate) {
		diffs[FieldWorkDate] = FieldChange{From: old.WorkDate.Format(DateLayout), To: new.WorkDate.Format(DateLayout)}
	}
	return diffs
}

// =============================================================================
// RECORDS
// =============================================================================

// AuditRecord is one mutation event. Immutable once written.
type AuditRecord struct {
	ID               AuditID
	EntryID          EntryID
	WorkerID         WorkerID
	JobID            JobID
	Action           AuditAction
	FieldDiffs       FieldDiffs
	ChangedBy        string
	ChangedAt        time.Time
	Notes            string
	ChangeReason     string
	CorrelationID    CorrelationID
	RelatedCostRunID CostRunID
}

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

// AuditFilter selects audit records. Zero-valued fields do not filter.
type AuditFilter struct {
	EntryID       EntryID
	WorkerID      WorkerID
	JobID         JobID
	Action        AuditAction
	From          time.Time // inclusive ChangedAt
	To            time.Time // exclusive ChangedAt
	CorrelationID CorrelationID
	Limit         int
	Offset        int
	Ascending     bool // default newest first
}

// Normalize clamps paging to the allowed range.
func (f AuditFilter) Normalize() AuditFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultAuditLimit
	}
	if f.Limit > MaxAuditLimit {
		f.Limit = MaxAuditLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f AuditFilter) Matches(r AuditRecord) bool {
	switch {
	case f.EntryID != "" && r.EntryID != f.EntryID:
		return false
	case f.WorkerID != "" && r.WorkerID != f.WorkerID:
		return false
	case f.JobID != "" && r.JobID != f.JobID:
		return false
	case f.Action != "" && r.Action != f.Action:
		return false
	case f.CorrelationID != "" && r.CorrelationID != f.CorrelationID:
		return false
	case !f.From.IsZero() && r.ChangedAt.Before(f.From):
		return false
	case !f.To.IsZero() && !r.ChangedAt.Before(f.To):
		return false
	}
	return true
}

// =============================================================================
// WRITER
// =============================================================================

// RecordInput describes one audit event. CorrelationID defaults to the one
// carried by ctx.
type RecordInput struct {
	EntryID          EntryID
	WorkerID         WorkerID
	JobID            JobID
	Action           AuditAction
	Old              *Snapshot
	New              Snapshot
	ChangedBy        string
	Notes            string
	ChangeReason     string
	CorrelationID    CorrelationID
	RelatedCostRunID CostRunID
}

// Mutation performs a business change inside the audit transaction and
// returns the entry before (nil on creation) and after the change.
type Mutation func(ctx context.Context, tx Tx) (before *TimeEntry, after TimeEntry, err error)

const DefaultTxTimeout = 5 * time.Second

type AuditWriter struct {
	store     Store
	logger    *zap.Logger
	metrics   Metrics
	clock     func() time.Time
	newID     func() AuditID
	txTimeout time.Duration
}

type AuditOption func(*AuditWriter)

func WithAuditLogger(l *zap.Logger) AuditOption {
	return func(w *AuditWriter) { w.logger = l }
}

func WithAuditMetrics(m Metrics) AuditOption {
	return func(w *AuditWriter) { w.metrics = m }
}

func WithAuditClock(c func() time.Time) AuditOption {
	return func(w *AuditWriter) { w.clock = c }
}

// WithTxTimeout bounds every transaction the writer opens.
func WithTxTimeout(d time.Duration) AuditOption {
	return func(w *AuditWriter) {
		if d > 0 {
			w.txTimeout = d
		}
	}
}

func NewAuditWriter(store Store, opts ...AuditOption) *AuditWriter {
	w := &AuditWriter{
		store:     store,
		logger:    zap.NewNop(),
		metrics:   NopMetrics{},
		clock:     func() time.Time { return time.Now().UTC() },
		newID:     func() AuditID { return AuditID(NewRecordID()) },
		txTimeout: DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Build assembles the record for in without writing it.
func (w *AuditWriter) Build(ctx context.Context, in RecordInput) AuditRecord {
	corr := in.CorrelationID
	if corr == "" {
		corr = CorrelationIDFrom(ctx)
	}
	return AuditRecord{
		ID:               w.newID(),
		EntryID:          in.EntryID,
		WorkerID:         in.WorkerID,
		JobID:            in.JobID,
		Action:           in.Action,
		FieldDiffs:       Diff(in.Old, in.New),
		ChangedBy:        in.ChangedBy,
		ChangedAt:        w.clock(),
		Notes:            in.Notes,
		ChangeReason:     in.ChangeReason,
		CorrelationID:    corr,
		RelatedCostRunID: in.RelatedCostRunID,
	}
}

// Record appends an audit record through a transaction the caller holds.
func (w *AuditWriter) Record(ctx context.Context, tx AuditAppender, in RecordInput) (AuditRecord, error) {
	rec := w.Build(ctx, in)
	if err := tx.AppendAudit(ctx, rec); err != nil {
		w.metrics.AuditWriteFailed(rec.Action)
		w.logger.Error("audit write failed", logFields(ctx,
			zap.String("entry_id", string(rec.EntryID)),
			zap.String("action", string(rec.Action)),
			zap.String("changed_by", rec.ChangedBy),
			zap.Error(err),
		)...)
		return AuditRecord{}, &AuditWriteError{
			EntryID:       rec.EntryID,
			Action:        rec.Action,
			CorrelationID: rec.CorrelationID,
			Err:           err,
		}
	}
	w.metrics.AuditWritten(rec.Action)
	return rec, nil
}

// RecordWithMutation runs fn and the audit append in one bounded transaction.
// Entry, worker and job ids on in are taken from the mutated entry.
func (w *AuditWriter) RecordWithMutation(ctx context.Context, in RecordInput, fn Mutation) (TimeEntry, AuditRecord, error) {
	var (
		entry TimeEntry
		rec   AuditRecord
	)
	err := w.inTx(ctx, in, func(ctx context.Context, tx Tx) error {
		before, after, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		in.EntryID, in.WorkerID, in.JobID = after.ID, after.WorkerID, after.JobID
		if before != nil {
			old := SnapshotOf(*before)
			in.Old = &old
		}
		in.New = SnapshotOf(after)
		rec, err = w.Record(ctx, tx, in)
		if err != nil {
			return err
		}
		entry = after
		return nil
	})
	if err != nil {
		return TimeEntry{}, AuditRecord{}, err
	}
	return entry, rec, nil
}

// RecordEvent writes a record that accompanies no entry change, such as a
// payroll export.
func (w *AuditWriter) RecordEvent(ctx context.Context, in RecordInput) (AuditRecord, error) {
	var rec AuditRecord
	err := w.inTx(ctx, in, func(ctx context.Context, tx Tx) error {
		var err error
		rec, err = w.Record(ctx, tx, in)
		return err
	})
	return rec, err
}

func (w *AuditWriter) inTx(ctx context.Context, in RecordInput, fn func(context.Context, Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, w.txTimeout)
	defer cancel()

	err := w.store.WithTx(ctx, func(tx Tx) error { return fn(ctx, tx) })
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTxTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		w.logger.Error("transaction timed out", logFields(ctx,
			zap.String("entry_id", string(in.EntryID)),
			zap.String("action", string(in.Action)),
			zap.Duration("timeout", w.txTimeout),
			zap.Error(err),
		)...)
		return fmt.Errorf("%w: entry %s action %s: %w", ErrTxTimeout, in.EntryID, in.Action, err)
	}
	return err
}
