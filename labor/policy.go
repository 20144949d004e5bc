package labor

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OvertimeMode selects how the overtime threshold for a single entry is
// computed before it is handed to the cost splitter.
type OvertimeMode string

const (
	// OvertimeDaily uses DailyOvertimeThreshold for every entry.
	OvertimeDaily OvertimeMode = "daily"
	// OvertimeWeekly uses the remaining weekly regular capacity.
	OvertimeWeekly OvertimeMode = "weekly"
)

// PayPolicy collects the thresholds, multipliers and fallback tables the core
// prices against. It is loaded once (see factory) and injected.
type PayPolicy struct {
	Name         string
	OvertimeMode OvertimeMode

	DailyOvertimeThreshold  decimal.Decimal
	WeeklyOvertimeThreshold decimal.Decimal
	DoubletimeThreshold     decimal.Decimal // zero disables the doubletime band

	OvertimeMultiplier   decimal.Decimal
	DoubletimeMultiplier decimal.Decimal

	LongDayHours       decimal.Decimal
	MaxDailyHours      decimal.Decimal
	BreakRequiredAfter decimal.Decimal

	DefaultRates map[SkillLevel]decimal.Decimal
	RoleTiers    map[string]SkillLevel
	BaselineTier SkillLevel
}

// BaselineRate is the last-resort regular rate when neither the tier nor the
// baseline tier appears in the default table.
var BaselineRate = decimal.NewFromInt(25)

// DefaultOvertimeMultiplier is applied uniformly to every rate source that
// does not carry an explicit overtime rate.
var DefaultOvertimeMultiplier = decimal.RequireFromString("1.5")

// DefaultPayPolicy returns daily overtime after 8h, 1.5x, no doubletime.
func DefaultPayPolicy() PayPolicy {
	return PayPolicy{
		Name:                    "standard",
		OvertimeMode:            OvertimeDaily,
		DailyOvertimeThreshold:  decimal.NewFromInt(8),
		WeeklyOvertimeThreshold: decimal.NewFromInt(40),
		OvertimeMultiplier:      DefaultOvertimeMultiplier,
		DoubletimeMultiplier:    decimal.NewFromInt(2),
		LongDayHours:            decimal.NewFromInt(12),
		MaxDailyHours:           decimal.NewFromInt(16),
		BreakRequiredAfter:      decimal.NewFromInt(6),
		DefaultRates: map[SkillLevel]decimal.Decimal{
			SkillApprentice: decimal.NewFromInt(25),
			SkillJourneyman: decimal.NewFromInt(45),
			SkillMaster:     decimal.NewFromInt(65),
		},
		RoleTiers: map[string]SkillLevel{
			"apprentice":  SkillApprentice,
			"helper":      SkillApprentice,
			"technician":  SkillJourneyman,
			"journeyman":  SkillJourneyman,
			"foreman":     SkillMaster,
			"master":      SkillMaster,
			"supervisor":  SkillMaster,
			"crew_lead":   SkillMaster,
			"field_admin": SkillJourneyman,
		},
		BaselineTier: SkillApprentice,
	}
}

// WithDefaults fills zero-valued fields from DefaultPayPolicy.
func (p PayPolicy) WithDefaults() PayPolicy {
	d := DefaultPayPolicy()
	if p.Name == "" {
		p.Name = d.Name
	}
	if p.OvertimeMode == "" {
		p.OvertimeMode = d.OvertimeMode
	}
	if p.DailyOvertimeThreshold.IsZero() {
		p.DailyOvertimeThreshold = d.DailyOvertimeThreshold
	}
	if p.WeeklyOvertimeThreshold.IsZero() {
		p.WeeklyOvertimeThreshold = d.WeeklyOvertimeThreshold
	}
	if p.OvertimeMultiplier.IsZero() {
		p.OvertimeMultiplier = d.OvertimeMultiplier
	}
	if p.DoubletimeMultiplier.IsZero() {
		p.DoubletimeMultiplier = d.DoubletimeMultiplier
	}
	if p.LongDayHours.IsZero() {
		p.LongDayHours = d.LongDayHours
	}
	if p.MaxDailyHours.IsZero() {
		p.MaxDailyHours = d.MaxDailyHours
	}
	if p.BreakRequiredAfter.IsZero() {
		p.BreakRequiredAfter = d.BreakRequiredAfter
	}
	if len(p.DefaultRates) == 0 {
		p.DefaultRates = d.DefaultRates
	}
	if len(p.RoleTiers) == 0 {
		p.RoleTiers = d.RoleTiers
	}
	if p.BaselineTier == "" {
		p.BaselineTier = d.BaselineTier
	}
	return p
}

func (p PayPolicy) Validate() error {
	if p.OvertimeMode != OvertimeDaily && p.OvertimeMode != OvertimeWeekly {
		return fmt.Errorf("%w: unknown overtime mode %q", ErrInvalidInput, p.OvertimeMode)
	}
	if p.DailyOvertimeThreshold.IsNegative() || p.WeeklyOvertimeThreshold.IsNegative() || p.DoubletimeThreshold.IsNegative() {
		return fmt.Errorf("%w: thresholds must be non-negative", ErrInvalidInput)
	}
	if !p.DoubletimeThreshold.IsZero() && p.DoubletimeThreshold.LessThan(p.DailyOvertimeThreshold) {
		return fmt.Errorf("%w: doubletime threshold below daily overtime threshold", ErrInvalidInput)
	}
	if p.OvertimeMultiplier.LessThan(decimal.NewFromInt(1)) || p.DoubletimeMultiplier.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: multipliers must be at least 1", ErrInvalidInput)
	}
	if !p.MaxDailyHours.GreaterThan(p.LongDayHours) {
		return fmt.Errorf("%w: max daily hours must exceed long day hours", ErrInvalidInput)
	}
	for tier, rate := range p.DefaultRates {
		if !rate.IsPositive() {
			return fmt.Errorf("%w: default rate for %s", ErrInvalidRate, tier)
		}
	}
	return nil
}

// TierFor maps a worker to a skill tier: explicit tier, then role, then baseline.
func (p PayPolicy) TierFor(w Worker) SkillLevel {
	if w.SkillLevel != "" {
		return w.SkillLevel
	}
	if tier, ok := p.RoleTiers[w.Role]; ok {
		return tier
	}
	return p.BaselineTier
}

// DefaultRateFor looks up the static table, falling back to the baseline tier
// and finally to BaselineRate.
func (p PayPolicy) DefaultRateFor(tier SkillLevel) (decimal.Decimal, SkillLevel) {
	if rate, ok := p.DefaultRates[tier]; ok {
		return rate, tier
	}
	if rate, ok := p.DefaultRates[p.BaselineTier]; ok {
		return rate, p.BaselineTier
	}
	return BaselineRate, p.BaselineTier
}

// OvertimeRateFor derives an overtime rate when a source does not carry one.
func (p PayPolicy) OvertimeRateFor(regular decimal.Decimal, explicit *decimal.Decimal) decimal.Decimal {
	if explicit != nil && explicit.IsPositive() {
		return *explicit
	}
	m := p.OvertimeMultiplier
	if m.IsZero() {
		m = DefaultOvertimeMultiplier
	}
	return regular.Mul(m)
}
