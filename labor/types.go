/*
Package labor provides the labor cost resolution and audit trail core.

PURPOSE:
  Decides what hourly rate applies to a worked hour, splits hours into
  regular/overtime/doubletime bands, and keeps an append-only history of
  every financial mutation to a time entry. The HTTP layer and the concrete
  stores are thin wrappers around this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Hours / money: decimal.Decimal, never float
  - TimeEntry: the priced record a worker logs against a job
  - EntryStatus: draft -> submitted -> approved | rejected, voided is terminal
  - Worker: read-only directory input used to derive a skill tier

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for hours, rates and pay
  2. Type Safety: distinct ID types so worker/job/entry IDs cannot be mixed
  3. Auditability: every mutation of a TimeEntry produces one AuditRecord
  4. No physical deletes: entries are voided, audit records are immutable

SEE ALSO:
  - rates.go / resolver.go: rate sources and the resolution cascade
  - split.go: cost splitter
  - weekly.go: week-to-date aggregation and warnings
  - audit.go: snapshot diffing and the audit writer
  - service.go / bulk.go: orchestration
*/
package labor

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkerID string
type JobID string
type EntryID string
type AuditID string
type RateID string
type CorrelationID string
type CostRunID string

// =============================================================================
// QUANTITIES
// =============================================================================

// MustParseDecimal parses s or panics. Intended for literals in code and tests.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Hours is a convenience constructor for whole or fractional hour literals.
func Hours(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// RoundMoney rounds to cents, half away from zero. Every monetary figure the
// core produces passes through here exactly once per bucket.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// =============================================================================
// TIME ENTRY
// =============================================================================

type EntryStatus string

const (
	StatusDraft     EntryStatus = "draft"
	StatusSubmitted EntryStatus = "submitted"
	StatusApproved  EntryStatus = "approved"
	StatusRejected  EntryStatus = "rejected"
	StatusVoided    EntryStatus = "voided"
)

func (s EntryStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusVoided:
		return true
	}
	return false
}

// TimeEntry is one worker's hours against one job on one day.
type TimeEntry struct {
	ID          EntryID
	WorkerID    WorkerID
	JobID       JobID
	WorkDate    time.Time // date only, UTC midnight
	Description string
	HasBreaks   bool

	Hours           decimal.Decimal
	RegularHours    decimal.Decimal
	OvertimeHours   decimal.Decimal
	DoubletimeHours decimal.Decimal

	AppliedRegularRate  decimal.Decimal
	AppliedOvertimeRate decimal.Decimal
	RateSource          RateSource
	TotalPay            decimal.Decimal

	Status    EntryStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Editable reports whether hours/job/date/description may still change.
func (e TimeEntry) Editable() bool {
	return e.Status == StatusDraft || e.Status == StatusSubmitted || e.Status == StatusRejected
}

// ApplyPricing copies a resolved rate and a cost split onto the entry.
func (e *TimeEntry) ApplyPricing(rate ResolvedRate, split CostSplit) {
	e.RegularHours = split.RegularHours
	e.OvertimeHours = split.OvertimeHours
	e.DoubletimeHours = split.DoubletimeHours
	e.AppliedRegularRate = rate.RegularRate
	e.AppliedOvertimeRate = rate.OvertimeRate
	e.RateSource = rate.Source
	e.TotalPay = split.TotalCost
}

// AppliedRate is the rate the entry was last priced at.
func (e TimeEntry) AppliedRate() ResolvedRate {
	return ResolvedRate{
		RegularRate:  e.AppliedRegularRate,
		OvertimeRate: e.AppliedOvertimeRate,
		Source:       e.RateSource,
	}
}

// PricedAs reports whether the entry's stored pricing already matches split.
func (e TimeEntry) PricedAs(split CostSplit) bool {
	return e.RegularHours.Equal(split.RegularHours) &&
		e.OvertimeHours.Equal(split.OvertimeHours) &&
		e.DoubletimeHours.Equal(split.DoubletimeHours) &&
		e.TotalPay.Equal(split.TotalCost)
}

// transitions lists the statuses each status may move to through a status action.
var transitions = map[EntryStatus][]EntryStatus{
	StatusDraft:     {StatusSubmitted, StatusVoided},
	StatusSubmitted: {StatusApproved, StatusRejected, StatusVoided},
	StatusRejected:  {StatusSubmitted, StatusVoided},
	StatusApproved:  {StatusVoided},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to EntryStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NormalizeDate truncates t to a UTC calendar date.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// WORKERS
// =============================================================================

type SkillLevel string

const (
	SkillApprentice SkillLevel = "apprentice"
	SkillJourneyman SkillLevel = "journeyman"
	SkillMaster     SkillLevel = "master"
)

// Worker is the directory view of a person who logs time.
type Worker struct {
	ID         WorkerID
	Name       string
	Role       string
	SkillLevel SkillLevel // explicit tier; empty means derive from Role
	CreatedAt  time.Time
}

// JobInfo is the read-only job/customer view used to enrich audit output.
type JobInfo struct {
	ID           JobID
	Number       string
	Name         string
	CustomerName string
}
