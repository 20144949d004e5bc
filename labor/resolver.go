/*
resolver.go - Rate resolution cascade

PURPOSE:
  Decides which (regular, overtime) rate pair applies to a worker on a job
  at a date. Sources are tried in precedence order and the first one that
  produces a rate wins:

    job override (job + worker)  ->  worker rate  ->  skill rate  ->  default table

  Within one source the active record with the latest effective date on or
  before the evaluation date wins. Two records sharing that date is an
  ambiguity and fails resolution instead of picking one silently.

TWO ENTRY POINTS:
  Resolve:         production path. Any lookup failure is a *ResolutionError.
  ResolveDegraded: explicit opt-in for read-only previews. A lookup failure
                   falls back to the baseline default rate, is flagged with
                   Degraded=true, logged and counted.

SEE ALSO:
  - rates.go: RateRecord, latestEffective
  - policy.go: tier derivation and the default table
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

// RateQuery is one resolution request.
type RateQuery struct {
	WorkerID WorkerID
	JobID    JobID
	AsOf     time.Time
}

// ResolvedRate is the outcome of resolution.
type ResolvedRate struct {
	RegularRate  decimal.Decimal
	OvertimeRate decimal.Decimal
	Source       RateSource
	RecordID     RateID     // empty for the default table
	SkillLevel   SkillLevel // tier used by the skill or default source
	Degraded     bool
}

// RateStrategy is one link of the resolution chain. TryResolve returns
// ok=false when the source has nothing for the query; an error means the
// source could not be consulted or was ambiguous.
type RateStrategy interface {
	Source() RateSource
	TryResolve(ctx context.Context, q RateQuery) (ResolvedRate, bool, error)
}

// =============================================================================
// STRATEGIES
// =============================================================================

// recordStrategy resolves from persisted records under a single key.
type recordStrategy struct {
	source RateSource
	rates  RateReader
	policy PayPolicy
	key    func(ctx context.Context, q RateQuery) (RateKey, SkillLevel, error)
}

func (s *recordStrategy) Source() RateSource { return s.source }

func (s *recordStrategy) TryResolve(ctx context.Context, q RateQuery) (ResolvedRate, bool, error) {
	key, tier, err := s.key(ctx, q)
	if err != nil {
		return ResolvedRate{}, false, err
	}
	records, err := s.rates.ActiveRates(ctx, key, q.AsOf)
	if err != nil {
		return ResolvedRate{}, false, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	rec, ok, err := latestEffective(records, q.AsOf)
	if err != nil || !ok {
		return ResolvedRate{}, false, err
	}
	return ResolvedRate{
		RegularRate:  rec.RegularRate,
		OvertimeRate: s.policy.OvertimeRateFor(rec.RegularRate, rec.OvertimeRate),
		Source:       s.source,
		RecordID:     rec.ID,
		SkillLevel:   tier,
	}, true, nil
}

// NewJobRateStrategy resolves job-scoped overrides for (job, worker).
func NewJobRateStrategy(rates RateReader, policy PayPolicy) RateStrategy {
	return &recordStrategy{
		source: SourceJob,
		rates:  rates,
		policy: policy,
		key: func(_ context.Context, q RateQuery) (RateKey, SkillLevel, error) {
			return JobRateKey(q.JobID, q.WorkerID), "", nil
		},
	}
}

// NewWorkerRateStrategy resolves per-worker rates.
func NewWorkerRateStrategy(rates RateReader, policy PayPolicy) RateStrategy {
	return &recordStrategy{
		source: SourceWorker,
		rates:  rates,
		policy: policy,
		key: func(_ context.Context, q RateQuery) (RateKey, SkillLevel, error) {
			return WorkerRateKey(q.WorkerID), "", nil
		},
	}
}

// NewSkillRateStrategy resolves the rate for the worker's skill tier.
func NewSkillRateStrategy(rates RateReader, tiers *TierLookup, policy PayPolicy) RateStrategy {
	return &recordStrategy{
		source: SourceSkill,
		rates:  rates,
		policy: policy,
		key: func(ctx context.Context, q RateQuery) (RateKey, SkillLevel, error) {
			tier, err := tiers.TierFor(ctx, q.WorkerID)
			if err != nil {
				return RateKey{}, "", err
			}
			return SkillRateKey(tier), tier, nil
		},
	}
}

// DefaultRateStrategy reads the static default table. It never reports ok=false.
type DefaultRateStrategy struct {
	Tiers  *TierLookup
	Policy PayPolicy
}

func (s *DefaultRateStrategy) Source() RateSource { return SourceDefault }

func (s *DefaultRateStrategy) TryResolve(ctx context.Context, q RateQuery) (ResolvedRate, bool, error) {
	tier, err := s.Tiers.TierFor(ctx, q.WorkerID)
	if err != nil {
		return ResolvedRate{}, false, err
	}
	return s.forTier(tier), true, nil
}

func (s *DefaultRateStrategy) forTier(tier SkillLevel) ResolvedRate {
	regular, used := s.Policy.DefaultRateFor(tier)
	return ResolvedRate{
		RegularRate:  regular,
		OvertimeRate: s.Policy.OvertimeRateFor(regular, nil),
		Source:       SourceDefault,
		SkillLevel:   used,
	}
}

// Baseline returns the baseline tier's default rate without consulting storage.
func (s *DefaultRateStrategy) Baseline() ResolvedRate {
	return s.forTier(s.Policy.BaselineTier)
}

// TierLookup derives a worker's skill tier from the worker directory.
type TierLookup struct {
	Workers WorkerDirectory
	Policy  PayPolicy
}

// TierFor returns the worker's tier. An unknown worker gets the baseline tier;
// a directory failure is an error.
func (t *TierLookup) TierFor(ctx context.Context, id WorkerID) (SkillLevel, error) {
	w, err := t.Workers.GetWorker(ctx, id)
	if errors.Is(err, ErrWorkerNotFound) {
		return t.Policy.BaselineTier, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: worker directory: %v", ErrRateUnavailable, err)
	}
	return t.Policy.TierFor(w), nil
}

// =============================================================================
// RESOLVER
// =============================================================================

// RateSourceReader is what the default chain reads from.
type RateSourceReader interface {
	RateReader
	WorkerDirectory
}

// Resolver runs the strategy chain.
type Resolver struct {
	chain    []RateStrategy
	fallback *DefaultRateStrategy
	logger   *zap.Logger
	metrics  Metrics
}

type ResolverOption func(*Resolver)

func WithResolverLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

func WithResolverMetrics(m Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithStrategies replaces the persisted part of the chain. The default table
// is always appended last.
func WithStrategies(strategies ...RateStrategy) ResolverOption {
	return func(r *Resolver) { r.chain = strategies }
}

// NewResolver builds the standard job -> worker -> skill -> default chain.
func NewResolver(src RateSourceReader, policy PayPolicy, opts ...ResolverOption) *Resolver {
	policy = policy.WithDefaults()
	tiers := &TierLookup{Workers: src, Policy: policy}
	r := &Resolver{
		chain: []RateStrategy{
			NewJobRateStrategy(src, policy),
			NewWorkerRateStrategy(src, policy),
			NewSkillRateStrategy(src, tiers, policy),
		},
		fallback: &DefaultRateStrategy{Tiers: tiers, Policy: policy},
		logger:   zap.NewNop(),
		metrics:  NopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategies returns the full chain in precedence order.
func (r *Resolver) Strategies() []RateStrategy {
	out := make([]RateStrategy, 0, len(r.chain)+1)
	out = append(out, r.chain...)
	return append(out, r.fallback)
}

// Resolve is the production path: every failure surfaces as *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, q RateQuery) (ResolvedRate, error) {
	q.AsOf = NormalizeDate(q.AsOf)
	for _, s := range r.Strategies() {
		rate, ok, err := s.TryResolve(ctx, q)
		if err != nil {
			return ResolvedRate{}, &ResolutionError{
				WorkerID: q.WorkerID,
				JobID:    q.JobID,
				AsOf:     q.AsOf,
				Source:   s.Source(),
				Err:      err,
			}
		}
		if ok {
			r.metrics.RateResolved(rate.Source, false)
			r.logger.Debug("rate resolved", logFields(ctx,
				zap.String("worker_id", string(q.WorkerID)),
				zap.String("job_id", string(q.JobID)),
				zap.String("source", string(rate.Source)),
				zap.String("regular_rate", rate.RegularRate.String()),
			)...)
			return rate, nil
		}
	}
	// unreachable: the default strategy always resolves
	return ResolvedRate{}, &ResolutionError{WorkerID: q.WorkerID, JobID: q.JobID, AsOf: q.AsOf, Source: SourceDefault, Err: ErrRateNotFound}
}

// ResolveDegraded never fails. On a lookup error it returns the baseline
// default rate with Degraded set. Only use where an approximate figure is
// acceptable; never for persisted pay.
func (r *Resolver) ResolveDegraded(ctx context.Context, q RateQuery) ResolvedRate {
	rate, err := r.Resolve(ctx, q)
	if err == nil {
		return rate
	}
	rate = r.fallback.Baseline()
	rate.Degraded = true
	r.metrics.RateResolved(rate.Source, true)
	r.logger.Warn("rate resolution degraded to baseline default", logFields(ctx,
		zap.String("worker_id", string(q.WorkerID)),
		zap.String("job_id", string(q.JobID)),
		zap.String("as_of", NormalizeDate(q.AsOf).Format(DateLayout)),
		zap.String("baseline_rate", rate.RegularRate.String()),
		zap.Error(err),
	)...)
	return rate
}
