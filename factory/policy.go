/*
Package factory provides JSON to Go pay policy conversion.

PURPOSE:
  Converts JSON pay policy definitions into labor.PayPolicy values. Payroll
  admins can change thresholds, multipliers and the default rate table
  without a code change; the server loads the file once at startup.

JSON SCHEMA:
  {
    "name": "california",
    "overtime_mode": "daily",
    "daily_overtime_threshold": "8",
    "weekly_overtime_threshold": "40",
    "doubletime_threshold": "12",
    "overtime_multiplier": "1.5",
    "doubletime_multiplier": "2",
    "long_day_hours": "12",
    "max_daily_hours": "16",
    "break_required_after": "6",
    "default_rates": {"apprentice": "25", "journeyman": "45", "master": "65"},
    "role_tiers": {"foreman": "master"},
    "baseline_tier": "apprentice"
  }

  Numbers may be given as JSON strings or numbers. Omitted fields take the
  standard policy's value.

USAGE:
  f := NewPayPolicyFactory()
  policy, err := f.ParsePolicy(jsonBytes)

SEE ALSO:
  - labor/policy.go: PayPolicy definition and defaults
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/laborcost/labor"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PayPolicyJSON is the JSON representation of a pay policy.
type PayPolicyJSON struct {
	Name                    string            `json:"name"`
	OvertimeMode            string            `json:"overtime_mode,omitempty"`
	DailyOvertimeThreshold  *decimal.Decimal  `json:"daily_overtime_threshold,omitempty"`
	WeeklyOvertimeThreshold *decimal.Decimal  `json:"weekly_overtime_threshold,omitempty"`
	DoubletimeThreshold     *decimal.Decimal  `json:"doubletime_threshold,omitempty"`
	OvertimeMultiplier      *decimal.Decimal  `json:"overtime_multiplier,omitempty"`
	DoubletimeMultiplier    *decimal.Decimal  `json:"doubletime_multiplier,omitempty"`
	LongDayHours            *decimal.Decimal  `json:"long_day_hours,omitempty"`
	MaxDailyHours           *decimal.Decimal  `json:"max_daily_hours,omitempty"`
	BreakRequiredAfter      *decimal.Decimal  `json:"break_required_after,omitempty"`
	DefaultRates            map[string]string `json:"default_rates,omitempty"`
	RoleTiers               map[string]string `json:"role_tiers,omitempty"`
	BaselineTier            string            `json:"baseline_tier,omitempty"`
}

// =============================================================================
// PAY POLICY FACTORY
// =============================================================================

// PayPolicyFactory converts JSON pay policies to labor.PayPolicy.
type PayPolicyFactory struct{}

// NewPayPolicyFactory creates a new pay policy factory.
func NewPayPolicyFactory() *PayPolicyFactory {
	return &PayPolicyFactory{}
}

// LoadFile reads and parses a policy file. An empty path returns the standard policy.
func (f *PayPolicyFactory) LoadFile(path string) (labor.PayPolicy, error) {
	if path == "" {
		return labor.DefaultPayPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return labor.PayPolicy{}, fmt.Errorf("failed to read pay policy: %w", err)
	}
	return f.ParsePolicy(data)
}

// ParsePolicy parses JSON into a validated PayPolicy.
func (f *PayPolicyFactory) ParsePolicy(data []byte) (labor.PayPolicy, error) {
	var pj PayPolicyJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return labor.PayPolicy{}, fmt.Errorf("failed to parse pay policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts PayPolicyJSON to a PayPolicy, filling omitted fields from
// the standard policy, and validates the result.
func (f *PayPolicyFactory) FromJSON(pj PayPolicyJSON) (labor.PayPolicy, error) {
	p := labor.DefaultPayPolicy()

	if pj.Name != "" {
		p.Name = pj.Name
	}
	if pj.OvertimeMode != "" {
		mode, err := parseOvertimeMode(pj.OvertimeMode)
		if err != nil {
			return labor.PayPolicy{}, err
		}
		p.OvertimeMode = mode
	}

	setIf(&p.DailyOvertimeThreshold, pj.DailyOvertimeThreshold)
	setIf(&p.WeeklyOvertimeThreshold, pj.WeeklyOvertimeThreshold)
	setIf(&p.DoubletimeThreshold, pj.DoubletimeThreshold)
	setIf(&p.OvertimeMultiplier, pj.OvertimeMultiplier)
	setIf(&p.DoubletimeMultiplier, pj.DoubletimeMultiplier)
	setIf(&p.LongDayHours, pj.LongDayHours)
	setIf(&p.MaxDailyHours, pj.MaxDailyHours)
	setIf(&p.BreakRequiredAfter, pj.BreakRequiredAfter)

	if len(pj.DefaultRates) > 0 {
		rates := make(map[labor.SkillLevel]decimal.Decimal, len(pj.DefaultRates))
		for tier, raw := range pj.DefaultRates {
			rate, err := decimal.NewFromString(raw)
			if err != nil {
				return labor.PayPolicy{}, fmt.Errorf("default rate for %s: %w", tier, err)
			}
			rates[parseSkillLevel(tier)] = rate
		}
		p.DefaultRates = rates
	}

	if len(pj.RoleTiers) > 0 {
		// Role mappings extend the standard table rather than replace it.
		tiers := make(map[string]labor.SkillLevel, len(p.RoleTiers)+len(pj.RoleTiers))
		for role, tier := range p.RoleTiers {
			tiers[role] = tier
		}
		for role, tier := range pj.RoleTiers {
			tiers[strings.ToLower(role)] = parseSkillLevel(tier)
		}
		p.RoleTiers = tiers
	}

	if pj.BaselineTier != "" {
		p.BaselineTier = parseSkillLevel(pj.BaselineTier)
	}

	if err := p.Validate(); err != nil {
		return labor.PayPolicy{}, fmt.Errorf("invalid pay policy %q: %w", p.Name, err)
	}
	return p, nil
}

// ToJSON converts a PayPolicy to PayPolicyJSON.
func (f *PayPolicyFactory) ToJSON(p labor.PayPolicy) PayPolicyJSON {
	pj := PayPolicyJSON{
		Name:                    p.Name,
		OvertimeMode:            string(p.OvertimeMode),
		DailyOvertimeThreshold:  ptr(p.DailyOvertimeThreshold),
		WeeklyOvertimeThreshold: ptr(p.WeeklyOvertimeThreshold),
		OvertimeMultiplier:      ptr(p.OvertimeMultiplier),
		DoubletimeMultiplier:    ptr(p.DoubletimeMultiplier),
		LongDayHours:            ptr(p.LongDayHours),
		MaxDailyHours:           ptr(p.MaxDailyHours),
		BreakRequiredAfter:      ptr(p.BreakRequiredAfter),
		DefaultRates:            make(map[string]string, len(p.DefaultRates)),
		RoleTiers:               make(map[string]string, len(p.RoleTiers)),
		BaselineTier:            string(p.BaselineTier),
	}
	if !p.DoubletimeThreshold.IsZero() {
		pj.DoubletimeThreshold = ptr(p.DoubletimeThreshold)
	}
	for tier, rate := range p.DefaultRates {
		pj.DefaultRates[string(tier)] = rate.String()
	}
	for role, tier := range p.RoleTiers {
		pj.RoleTiers[role] = string(tier)
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseOvertimeMode(s string) (labor.OvertimeMode, error) {
	switch strings.ToLower(s) {
	case "daily":
		return labor.OvertimeDaily, nil
	case "weekly":
		return labor.OvertimeWeekly, nil
	default:
		return "", fmt.Errorf("%w: unknown overtime_mode %q", labor.ErrInvalidInput, s)
	}
}

func parseSkillLevel(s string) labor.SkillLevel {
	return labor.SkillLevel(strings.ToLower(strings.TrimSpace(s)))
}

func setIf(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
