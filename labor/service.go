/*
service.go - Time entry lifecycle orchestration

PURPOSE:
  Wires the components together for each mutation:

    pre-read (entry, week-to-date, rates)
      -> weekly evaluation   (error severity rejects the mutation)
      -> rate resolution     (production path, failures surface)
      -> cost split          (pay policy thresholds)
      -> RecordWithMutation  (entry write + audit append, one transaction)
      -> notification        (after commit, failures only logged)

  All reads needed for pricing happen before the transaction opens. Inside
  the transaction the entry is re-read; if it changed since the pre-read
  the mutation fails with ErrConcurrentModification instead of writing pay
  computed from stale inputs.

SEE ALSO:
  - audit.go: RecordWithMutation
  - bulk.go: batch operations built on these methods
*/
package labor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ServiceConfig wires an EntryService. Only Store is required.
type ServiceConfig struct {
	Store      Store
	Policy     PayPolicy
	Resolver   *Resolver
	Audit      *AuditWriter
	Authorizer Authorizer
	Notifier   Notifier
	Logger     *zap.Logger
	Metrics    Metrics
	Clock      func() time.Time
	TxTimeout  time.Duration
}

type EntryService struct {
	store      Store
	policy     PayPolicy
	resolver   *Resolver
	aggregator *WeeklyAggregator
	audit      *AuditWriter
	authz      Authorizer
	notifier   Notifier
	logger     *zap.Logger
	metrics    Metrics
	clock      func() time.Time
	newID      func() EntryID
}

func NewEntryService(cfg ServiceConfig) *EntryService {
	policy := cfg.Policy.WithDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	s := &EntryService{
		store:      cfg.Store,
		policy:     policy,
		resolver:   cfg.Resolver,
		aggregator: NewWeeklyAggregator(cfg.Store, policy),
		audit:      cfg.Audit,
		authz:      cfg.Authorizer,
		notifier:   cfg.Notifier,
		logger:     logger,
		metrics:    metrics,
		clock:      clock,
		newID:      func() EntryID { return EntryID(NewRecordID()) },
	}
	if s.resolver == nil {
		s.resolver = NewResolver(cfg.Store, policy, WithResolverLogger(logger), WithResolverMetrics(metrics))
	}
	if s.audit == nil {
		s.audit = NewAuditWriter(cfg.Store,
			WithAuditLogger(logger),
			WithAuditMetrics(metrics),
			WithAuditClock(clock),
			WithTxTimeout(cfg.TxTimeout))
	}
	if s.authz == nil {
		s.authz = AllowAll{}
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: logger}
	}
	return s
}

func (s *EntryService) Resolver() *Resolver { return s.resolver }

func (s *EntryService) Aggregator() *WeeklyAggregator { return s.aggregator }

func (s *EntryService) AuditWriter() *AuditWriter { return s.audit }

func (s *EntryService) Policy() PayPolicy { return s.policy }

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

type CreateEntryInput struct {
	WorkerID     WorkerID
	JobID        JobID
	WorkDate     time.Time
	Hours        decimal.Decimal
	Description  string
	HasBreaks    bool
	ChangedBy    string
	ChangeReason string
	Notes        string
}

// UpdateEntryInput changes the non-nil fields of an editable entry.
type UpdateEntryInput struct {
	EntryID      EntryID
	JobID        *JobID
	WorkDate     *time.Time
	Hours        *decimal.Decimal
	Description  *string
	HasBreaks    *bool
	ChangedBy    string
	ChangeReason string
	Notes        string
}

// StatusInput drives a status action (submit, approve, reject, void).
type StatusInput struct {
	EntryID EntryID
	Actor   string
	Reason  string
	Notes   string
}

// EntryResult is what every mutation returns. Warnings below error severity
// are carried here, never as an error.
type EntryResult struct {
	Entry      TimeEntry
	Rate       ResolvedRate
	Split      CostSplit
	Evaluation Evaluation
	Audit      AuditRecord
}

func (r EntryResult) Warnings() []Warning { return r.Evaluation.Warnings }

// =============================================================================
// MUTATIONS
// =============================================================================

// Create logs a new draft entry.
func (s *EntryService) Create(ctx context.Context, in CreateEntryInput) (EntryResult, error) {
	now := s.clock()
	entry := TimeEntry{
		ID:          s.newID(),
		WorkerID:    in.WorkerID,
		JobID:       in.JobID,
		WorkDate:    NormalizeDate(in.WorkDate),
		Description: strings.TrimSpace(in.Description),
		HasBreaks:   in.HasBreaks,
		Hours:       in.Hours,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateEntry(entry); err != nil {
		return EntryResult{}, err
	}
	res, err := s.price(ctx, &entry)
	if err != nil {
		return EntryResult{}, err
	}

	rin := RecordInput{Action: ActionCreate, ChangedBy: in.ChangedBy, ChangeReason: in.ChangeReason, Notes: in.Notes}
	saved, rec, err := s.audit.RecordWithMutation(ctx, rin, func(ctx context.Context, tx Tx) (*TimeEntry, TimeEntry, error) {
		split, err := s.reflowWeek(ctx, tx, entry, &entry, rin)
		if err != nil {
			return nil, TimeEntry{}, err
		}
		if split != nil {
			res.Split = *split
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return nil, TimeEntry{}, err
		}
		return nil, entry, nil
	})
	if err != nil {
		return EntryResult{}, err
	}
	return s.committed(res, saved, rec), nil
}

// Update edits an entry that is still editable and reprices it.
func (s *EntryService) Update(ctx context.Context, in UpdateEntryInput) (EntryResult, error) {
	current, err := s.store.GetEntry(ctx, in.EntryID)
	if err != nil {
		return EntryResult{}, err
	}
	if !current.Editable() {
		return EntryResult{}, fmt.Errorf("%w: entry %s is %s and cannot be edited", ErrInvalidTransition, current.ID, current.Status)
	}

	next := current
	if in.JobID != nil {
		next.JobID = *in.JobID
	}
	if in.WorkDate != nil {
		next.WorkDate = NormalizeDate(*in.WorkDate)
	}
	if in.Hours != nil {
		next.Hours = *in.Hours
	}
	if in.Description != nil {
		next.Description = strings.TrimSpace(*in.Description)
	}
	if in.HasBreaks != nil {
		next.HasBreaks = *in.HasBreaks
	}
	if next.Status == StatusRejected {
		// editing a rejected entry reopens it
		next.Status = StatusDraft
	}
	next.UpdatedAt = s.clock()
	if err := validateEntry(next); err != nil {
		return EntryResult{}, err
	}
	res, err := s.price(ctx, &next)
	if err != nil {
		return EntryResult{}, err
	}

	rin := RecordInput{Action: ActionUpdate, ChangedBy: in.ChangedBy, ChangeReason: in.ChangeReason, Notes: in.Notes}
	saved, rec, err := s.audit.RecordWithMutation(ctx, rin, func(ctx context.Context, tx Tx) (*TimeEntry, TimeEntry, error) {
		before, err := s.lockUnchanged(ctx, tx, current)
		if err != nil {
			return nil, TimeEntry{}, err
		}
		if !before.Editable() {
			return nil, TimeEntry{}, fmt.Errorf("%w: entry %s is %s and cannot be edited", ErrInvalidTransition, before.ID, before.Status)
		}
		if !SameDay(WeekStart(before.WorkDate), WeekStart(next.WorkDate)) {
			// the entry leaves its old week
			if _, err := s.reflowWeek(ctx, tx, before, nil, rin); err != nil {
				return nil, TimeEntry{}, err
			}
		}
		split, err := s.reflowWeek(ctx, tx, next, &next, rin)
		if err != nil {
			return nil, TimeEntry{}, err
		}
		if split != nil {
			res.Split = *split
		}
		if err := tx.UpdateEntry(ctx, next); err != nil {
			return nil, TimeEntry{}, err
		}
		return &before, next, nil
	})
	if err != nil {
		return EntryResult{}, err
	}
	return s.committed(res, saved, rec), nil
}

// Submit moves a draft or rejected entry to submitted. The weekly evaluation
// runs again; an error-severity warning blocks submission.
func (s *EntryService) Submit(ctx context.Context, in StatusInput) (EntryResult, error) {
	current, err := s.store.GetEntry(ctx, in.EntryID)
	if err != nil {
		return EntryResult{}, err
	}
	eval, err := s.evaluate(ctx, current)
	if err != nil {
		return EntryResult{}, err
	}
	res, err := s.transition(ctx, in, current, StatusSubmitted, ActionSubmit)
	if err != nil {
		return EntryResult{}, err
	}
	res.Evaluation = eval
	return res, nil
}

// Approve requires entries.approve. The worker is notified after commit.
func (s *EntryService) Approve(ctx context.Context, in StatusInput) (EntryResult, error) {
	if err := authorize(ctx, s.authz, in.Actor, PermEntriesApprove); err != nil {
		return EntryResult{}, err
	}
	current, err := s.store.GetEntry(ctx, in.EntryID)
	if err != nil {
		return EntryResult{}, err
	}
	res, err := s.transition(ctx, in, current, StatusApproved, ActionApprove)
	if err != nil {
		return EntryResult{}, err
	}
	s.notify(ctx, NotifyEntryApproved, res.Entry, in)
	return res, nil
}

// Reject requires entries.reject. The worker is notified after commit.
func (s *EntryService) Reject(ctx context.Context, in StatusInput) (EntryResult, error) {
	if err := authorize(ctx, s.authz, in.Actor, PermEntriesReject); err != nil {
		return EntryResult{}, err
	}
	current, err := s.store.GetEntry(ctx, in.EntryID)
	if err != nil {
		return EntryResult{}, err
	}
	res, err := s.transition(ctx, in, current, StatusRejected, ActionReject)
	if err != nil {
		return EntryResult{}, err
	}
	s.notify(ctx, NotifyEntryRejected, res.Entry, in)
	return res, nil
}

// Void retires an entry. Voiding an approved entry requires entries.void.
func (s *EntryService) Void(ctx context.Context, in StatusInput) (EntryResult, error) {
	current, err := s.store.GetEntry(ctx, in.EntryID)
	if err != nil {
		return EntryResult{}, err
	}
	if current.Status == StatusApproved {
		if err := authorize(ctx, s.authz, in.Actor, PermEntriesVoid); err != nil {
			return EntryResult{}, err
		}
	}
	return s.transition(ctx, in, current, StatusVoided, ActionVoid)
}

// Reprice resolves and splits the entry again against current rates. Used by
// bulk labor-cost generation; costRun is recorded on the audit record.
func (s *EntryService) Reprice(ctx context.Context, in StatusInput, costRun CostRunID) (EntryResult, error) {
	current, err := s.store.GetEntry(ctx, in.EntryID)
	if err != nil {
		return EntryResult{}, err
	}
	if current.Status == StatusVoided {
		return EntryResult{}, fmt.Errorf("%w: entry %s is voided", ErrInvalidTransition, current.ID)
	}
	next := current
	next.UpdatedAt = s.clock()
	res, err := s.price(ctx, &next)
	if err != nil {
		return EntryResult{}, err
	}

	rin := RecordInput{
		Action:           ActionReprice,
		ChangedBy:        in.Actor,
		ChangeReason:     in.Reason,
		Notes:            in.Notes,
		RelatedCostRunID: costRun,
	}
	saved, rec, err := s.audit.RecordWithMutation(ctx, rin, func(ctx context.Context, tx Tx) (*TimeEntry, TimeEntry, error) {
		before, err := s.lockUnchanged(ctx, tx, current)
		if err != nil {
			return nil, TimeEntry{}, err
		}
		split, err := s.reflowWeek(ctx, tx, next, &next, rin)
		if err != nil {
			return nil, TimeEntry{}, err
		}
		if split != nil {
			res.Split = *split
		}
		if err := tx.UpdateEntry(ctx, next); err != nil {
			return nil, TimeEntry{}, err
		}
		return &before, next, nil
	})
	if err != nil {
		return EntryResult{}, err
	}
	return s.committed(res, saved, rec), nil
}

// =============================================================================
// READS
// =============================================================================

func (s *EntryService) Get(ctx context.Context, id EntryID) (TimeEntry, error) {
	return s.store.GetEntry(ctx, id)
}

// AuditTrail returns the entry's audit records, newest first unless f says otherwise.
func (s *EntryService) AuditTrail(ctx context.Context, id EntryID, f AuditFilter) ([]AuditRecord, error) {
	if _, err := s.store.GetEntry(ctx, id); err != nil {
		return nil, err
	}
	f.EntryID = id
	return s.store.QueryAudit(ctx, f.Normalize())
}

// Preview prices a prospective entry without writing anything. Rate lookup
// failures degrade to the baseline default rate and are flagged on the result.
func (s *EntryService) Preview(ctx context.Context, in CreateEntryInput) (EntryResult, error) {
	entry := TimeEntry{
		WorkerID:  in.WorkerID,
		JobID:     in.JobID,
		WorkDate:  NormalizeDate(in.WorkDate),
		Hours:     in.Hours,
		HasBreaks: in.HasBreaks,
		Status:    StatusDraft,
	}
	if err := validateEntry(entry); err != nil {
		return EntryResult{}, err
	}
	eval, err := s.evaluate(ctx, entry)
	if err != nil && !isValidation(err) {
		return EntryResult{}, err
	}
	rate := s.resolver.ResolveDegraded(ctx, RateQuery{WorkerID: entry.WorkerID, JobID: entry.JobID, AsOf: entry.WorkDate})
	split, err := SplitWithPolicy(entry.Hours, rate, s.policy, eval.WeekToDateHours)
	if err != nil {
		return EntryResult{}, err
	}
	entry.ApplyPricing(rate, split)
	return EntryResult{Entry: entry, Rate: rate, Split: split, Evaluation: eval}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// evaluate runs the weekly checks for e. An invalid evaluation is returned
// together with a *ValidationError.
func (s *EntryService) evaluate(ctx context.Context, e TimeEntry) (Evaluation, error) {
	eval, err := s.aggregator.EvaluateEntry(ctx, EvaluationInput{
		WorkerID:       e.WorkerID,
		WorkDate:       e.WorkDate,
		Hours:          e.Hours,
		HasBreaks:      e.HasBreaks,
		ExcludeEntryID: e.ID,
		CreatedAt:      e.CreatedAt,
	})
	if err != nil {
		return Evaluation{}, err
	}
	if !eval.IsValid {
		return eval, &ValidationError{WorkerID: e.WorkerID, WorkDate: e.WorkDate, Warnings: eval.Warnings}
	}
	return eval, nil
}

// price evaluates, resolves and splits e, writing the pricing onto it.
func (s *EntryService) price(ctx context.Context, e *TimeEntry) (EntryResult, error) {
	eval, err := s.evaluate(ctx, *e)
	if err != nil {
		return EntryResult{}, err
	}
	rate, err := s.resolver.Resolve(ctx, RateQuery{WorkerID: e.WorkerID, JobID: e.JobID, AsOf: e.WorkDate})
	if err != nil {
		return EntryResult{}, err
	}
	split, err := SplitWithPolicy(e.Hours, rate, s.policy, eval.WeekToDateHours)
	if err != nil {
		return EntryResult{}, err
	}
	e.ApplyPricing(rate, split)
	return EntryResult{Rate: rate, Split: split, Evaluation: eval}, nil
}

// transition applies a status change inside the audit transaction.
func (s *EntryService) transition(ctx context.Context, in StatusInput, current TimeEntry, to EntryStatus, action AuditAction) (EntryResult, error) {
	if !CanTransition(current.Status, to) {
		return EntryResult{}, &TransitionError{EntryID: current.ID, From: current.Status, To: to}
	}
	rin := RecordInput{Action: action, ChangedBy: in.Actor, ChangeReason: in.Reason, Notes: in.Notes}
	saved, rec, err := s.audit.RecordWithMutation(ctx, rin, func(ctx context.Context, tx Tx) (*TimeEntry, TimeEntry, error) {
		before, err := tx.GetEntry(ctx, current.ID)
		if err != nil {
			return nil, TimeEntry{}, err
		}
		if !CanTransition(before.Status, to) {
			return nil, TimeEntry{}, &TransitionError{EntryID: before.ID, From: before.Status, To: to}
		}
		after := before
		after.Status = to
		after.UpdatedAt = s.clock()
		if err := tx.UpdateEntry(ctx, after); err != nil {
			return nil, TimeEntry{}, err
		}
		if to == StatusVoided {
			if _, err := s.reflowWeek(ctx, tx, after, nil, rin); err != nil {
				return nil, TimeEntry{}, err
			}
		}
		return &before, after, nil
	})
	if err != nil {
		return EntryResult{}, err
	}
	s.metrics.EntryMutated(action)
	return EntryResult{Entry: saved, Rate: saved.AppliedRate(), Audit: rec}, nil
}

// reflowWeek re-prices the worker's week in pay order under the weekly
// overtime mode, inside tx. anchor names the week. target, when set, is the
// entry being written by the caller: it is priced in place and its split
// returned, replacing any stored version. Every other entry whose pricing
// moves is updated with a REPRICE record attributed to cause. In daily mode
// entries price independently and nothing is done.
func (s *EntryService) reflowWeek(ctx context.Context, tx Tx, anchor TimeEntry, target *TimeEntry, cause RecordInput) (*CostSplit, error) {
	if s.policy.OvertimeMode != OvertimeWeekly {
		return nil, nil
	}
	from, to := WeekRange(anchor.WorkDate)
	stored, err := tx.ListEntries(ctx, EntryFilter{WorkerID: anchor.WorkerID, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("load week entries: %w", err)
	}
	week := make([]TimeEntry, 0, len(stored)+1)
	for _, e := range stored {
		if e.Status == StatusVoided || e.ID == anchor.ID {
			continue
		}
		week = append(week, e)
	}
	targetAt := -1
	if target != nil && target.Status != StatusVoided {
		week = append(week, *target)
		targetAt = len(week) - 1
	}
	order := make([]int, len(week))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return payOrderLess(week[order[i]], week[order[j]]) })

	var targetSplit *CostSplit
	prior := decimal.Zero
	for _, i := range order {
		e := week[i]
		split, err := SplitWithPolicy(e.Hours, e.AppliedRate(), s.policy, prior)
		if err != nil {
			return nil, err
		}
		prior = prior.Add(e.Hours)

		if i == targetAt {
			target.ApplyPricing(target.AppliedRate(), split)
			targetSplit = &split
			continue
		}
		if e.PricedAs(split) {
			continue
		}
		if _, err := s.lockUnchanged(ctx, tx, e); err != nil {
			return nil, err
		}
		old := SnapshotOf(e)
		e.ApplyPricing(e.AppliedRate(), split)
		e.UpdatedAt = s.clock()
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return nil, err
		}
		if _, err := s.audit.Record(ctx, tx, RecordInput{
			EntryID:      e.ID,
			WorkerID:     e.WorkerID,
			JobID:        e.JobID,
			Action:       ActionReprice,
			Old:          &old,
			New:          SnapshotOf(e),
			ChangedBy:    cause.ChangedBy,
			ChangeReason: "weekly overtime reflow",
			Notes:        fmt.Sprintf("%s of entry %s", cause.Action, anchor.ID),
		}); err != nil {
			return nil, err
		}
	}
	return targetSplit, nil
}

// lockUnchanged re-reads the entry inside tx and fails if it moved on since
// the pre-read that priced it.
func (s *EntryService) lockUnchanged(ctx context.Context, tx Tx, pre TimeEntry) (TimeEntry, error) {
	before, err := tx.GetEntry(ctx, pre.ID)
	if err != nil {
		return TimeEntry{}, err
	}
	if !before.UpdatedAt.Equal(pre.UpdatedAt) || before.Status != pre.Status {
		return TimeEntry{}, fmt.Errorf("%w: entry %s", ErrConcurrentModification, pre.ID)
	}
	return before, nil
}

func (s *EntryService) committed(res EntryResult, saved TimeEntry, rec AuditRecord) EntryResult {
	s.metrics.EntryMutated(rec.Action)
	res.Entry = saved
	res.Audit = rec
	return res
}

func (s *EntryService) notify(ctx context.Context, typ NotificationType, e TimeEntry, in StatusInput) {
	n := Notification{
		Type:          typ,
		EntryID:       e.ID,
		WorkerID:      e.WorkerID,
		Actor:         in.Actor,
		Reason:        in.Reason,
		CorrelationID: CorrelationIDFrom(ctx),
		At:            s.clock(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification failed", logFields(ctx,
			zap.String("entry_id", string(e.ID)),
			zap.String("type", string(typ)),
			zap.Error(err),
		)...)
	}
}

func validateEntry(e TimeEntry) error {
	switch {
	case e.WorkerID == "":
		return fmt.Errorf("%w: worker_id is required", ErrInvalidInput)
	case e.JobID == "":
		return fmt.Errorf("%w: job_id is required", ErrInvalidInput)
	case e.WorkDate.IsZero():
		return fmt.Errorf("%w: work_date is required", ErrInvalidInput)
	case e.Hours.IsNegative():
		return ErrInvalidHours
	case !e.Hours.Equal(e.Hours.Round(2)):
		// hours are stored as numeric(6,2); anything finer would be rounded away.
		return fmt.Errorf("%w: hours allow at most two decimal places", ErrInvalidInput)
	}
	return nil
}

func isValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
