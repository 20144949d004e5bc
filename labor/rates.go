package labor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE SOURCES
// =============================================================================

// RateSource tags where a resolved rate came from. The persisted scopes are
// job, worker and skill; default is the static table.
type RateSource string

const (
	SourceJob     RateSource = "job"
	SourceWorker  RateSource = "worker"
	SourceSkill   RateSource = "skill"
	SourceDefault RateSource = "default"
)

// RateKey identifies the precedence key a rate record is stored under:
// (job, worker) for job overrides, worker for worker rates, tier for skill rates.
type RateKey struct {
	Scope      RateSource
	JobID      JobID
	WorkerID   WorkerID
	SkillLevel SkillLevel
}

func JobRateKey(jobID JobID, workerID WorkerID) RateKey {
	return RateKey{Scope: SourceJob, JobID: jobID, WorkerID: workerID}
}

func WorkerRateKey(workerID WorkerID) RateKey {
	return RateKey{Scope: SourceWorker, WorkerID: workerID}
}

func SkillRateKey(level SkillLevel) RateKey {
	return RateKey{Scope: SourceSkill, SkillLevel: level}
}

func (k RateKey) String() string {
	switch k.Scope {
	case SourceJob:
		return fmt.Sprintf("job=%s worker=%s", k.JobID, k.WorkerID)
	case SourceWorker:
		return fmt.Sprintf("worker=%s", k.WorkerID)
	case SourceSkill:
		return fmt.Sprintf("skill=%s", k.SkillLevel)
	}
	return string(k.Scope)
}

// Validate checks that the key carries exactly the fields its scope needs.
func (k RateKey) Validate() error {
	switch k.Scope {
	case SourceJob:
		if k.JobID == "" || k.WorkerID == "" {
			return fmt.Errorf("%w: job rate needs job_id and worker_id", ErrInvalidInput)
		}
	case SourceWorker:
		if k.WorkerID == "" {
			return fmt.Errorf("%w: worker rate needs worker_id", ErrInvalidInput)
		}
	case SourceSkill:
		if strings.TrimSpace(string(k.SkillLevel)) == "" {
			return fmt.Errorf("%w: skill rate needs skill_level", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown rate scope %q", ErrInvalidInput, k.Scope)
	}
	return nil
}

// RateRecord is a persisted, time-bounded rate at one of the three
// granularities. OvertimeRate is optional; a nil value derives from the
// pay policy multiplier at resolution time.
type RateRecord struct {
	ID            RateID
	Key           RateKey
	RegularRate   decimal.Decimal
	OvertimeRate  *decimal.Decimal
	EffectiveDate time.Time
	ExpiryDate    *time.Time
	Active        bool
	CreatedBy     string
	CreatedAt     time.Time
}

func (r RateRecord) Window() Window {
	return Window{From: r.EffectiveDate, To: r.ExpiryDate}
}

// EffectiveAt reports whether the record is active and its window contains t.
func (r RateRecord) EffectiveAt(t time.Time) bool {
	return r.Active && r.Window().Contains(NormalizeDate(t))
}

// Validate checks the record in isolation. Overlap checks need the store.
func (r RateRecord) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if !r.RegularRate.IsPositive() {
		return ErrInvalidRate
	}
	if r.OvertimeRate != nil && !r.OvertimeRate.IsPositive() {
		return ErrInvalidRate
	}
	if r.EffectiveDate.IsZero() || !r.Window().Valid() {
		return ErrInvalidWindow
	}
	return nil
}

// latestEffective picks the active record with the latest effective date whose
// window contains asOf. Two such records sharing that date is ambiguous.
func latestEffective(records []RateRecord, asOf time.Time) (RateRecord, bool, error) {
	var (
		best  RateRecord
		found bool
		tie   bool
	)
	for _, r := range records {
		if !r.EffectiveAt(asOf) {
			continue
		}
		switch {
		case !found || r.EffectiveDate.After(best.EffectiveDate):
			best, found, tie = r, true, false
		case r.EffectiveDate.Equal(best.EffectiveDate):
			tie = true
		}
	}
	if tie {
		return RateRecord{}, false, fmt.Errorf("%w: %s has multiple records effective %s",
			ErrAmbiguousRate, best.Key, best.EffectiveDate.Format(DateLayout))
	}
	return best, found, nil
}

// =============================================================================
// RATE BOOK - administration of rate sources
// =============================================================================

// RateBook creates and retires rate records. Overlapping windows for the same
// key are rejected here, at creation time, inside the write transaction.
type RateBook struct {
	store Store
	authz Authorizer
	clock func() time.Time
	newID func() RateID
}

func NewRateBook(store Store, authz Authorizer, opts ...RateBookOption) *RateBook {
	b := &RateBook{
		store: store,
		authz: authz,
		clock: func() time.Time { return time.Now().UTC() },
		newID: func() RateID { return RateID(NewRecordID()) },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type RateBookOption func(*RateBook)

func WithRateBookClock(clock func() time.Time) RateBookOption {
	return func(b *RateBook) { b.clock = clock }
}

// CreateRateInput describes a new rate record.
type CreateRateInput struct {
	Key           RateKey
	RegularRate   decimal.Decimal
	OvertimeRate  *decimal.Decimal
	EffectiveDate time.Time
	ExpiryDate    *time.Time
	CreatedBy     string
}

// Create validates and inserts a rate record.
func (b *RateBook) Create(ctx context.Context, in CreateRateInput) (RateRecord, error) {
	if err := authorize(ctx, b.authz, in.CreatedBy, PermRatesEdit); err != nil {
		return RateRecord{}, err
	}
	rec := RateRecord{
		ID:            b.newID(),
		Key:           in.Key,
		RegularRate:   in.RegularRate,
		OvertimeRate:  in.OvertimeRate,
		EffectiveDate: NormalizeDate(in.EffectiveDate),
		Active:        true,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     b.clock(),
	}
	if in.ExpiryDate != nil {
		exp := NormalizeDate(*in.ExpiryDate)
		rec.ExpiryDate = &exp
	}
	if err := rec.Validate(); err != nil {
		return RateRecord{}, err
	}

	err := b.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.RatesForKey(ctx, rec.Key)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.Active && other.Window().Overlaps(rec.Window()) {
				return &ConflictError{Key: rec.Key, ExistingID: other.ID}
			}
		}
		return tx.InsertRate(ctx, rec)
	})
	if err != nil {
		return RateRecord{}, err
	}
	return rec, nil
}

// Deactivate retires a rate record. Records are never deleted.
func (b *RateBook) Deactivate(ctx context.Context, id RateID, actor string) (RateRecord, error) {
	if err := authorize(ctx, b.authz, actor, PermRatesEdit); err != nil {
		return RateRecord{}, err
	}
	var out RateRecord
	err := b.store.WithTx(ctx, func(tx Tx) error {
		rec, err := tx.GetRate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.SetRateActive(ctx, id, false); err != nil {
			return err
		}
		rec.Active = false
		out = rec
		return nil
	})
	return out, err
}
