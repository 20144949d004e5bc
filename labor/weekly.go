/*
weekly.go - Week-to-date aggregation and daily/weekly hour warnings

PURPOSE:
  Evaluates a prospective entry against the worker's other entries in the
  same payroll week. The result is advisory except for EXCESSIVE_HOURS,
  which is error-severity and blocks the mutation.

RULES (thresholds from PayPolicy, defaults shown):
  LONG_DAY         warning  daily hours > 12
  EXCESSIVE_HOURS  error    daily hours > 16
  OVERTIME         info     week total > 40 (details: total and incremental)
  MISSING_BREAK    warning  daily hours > 6 without a recorded break

WEEK AROUND AN ENTRY:
  The worker's live (non-voided) entries in [WeekStart(date), +7d), minus
  the entry being evaluated (ExcludeEntryID), so an edit never double counts
  itself. Other entries on the same date, on any job, count toward the
  daily figure and the week total.

PAY ORDER:
  Week-to-date is the hours ahead of the entry in pay order: work date,
  then creation time, then id. An entry not yet created sorts last on its
  day. Weekly overtime is attributed to the entries that cross the
  threshold in that order, and the service reprices later entries of the
  week when an earlier one changes.

SEE ALSO:
  - time.go: WeekStart (shared with payroll export)
  - split.go: the weekly pay mode feeds WeekToDateHours into the splitter
*/
package labor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type WarningType string

const (
	WarnLongDay        WarningType = "LONG_DAY"
	WarnExcessiveHours WarningType = "EXCESSIVE_HOURS"
	WarnOvertime       WarningType = "OVERTIME"
	WarnMissingBreak   WarningType = "MISSING_BREAK"
)

type Warning struct {
	Type     WarningType
	Severity Severity
	Message  string
	Details  map[string]string
}

// Evaluation is the aggregator's verdict on one prospective entry.
type Evaluation struct {
	IsValid  bool
	Warnings []Warning

	WeekStart           time.Time
	DailyHours          decimal.Decimal // the entry plus other entries that day
	WeekToDateHours     decimal.Decimal // ahead of the entry in pay order
	WeeklyHours         decimal.Decimal // including the evaluated entry
	WeeklyOvertime      decimal.Decimal // advisory; see PayPolicy for pay
	IncrementalOvertime decimal.Decimal // overtime this entry adds to the week
}

// HasWarning reports whether a warning of type t was raised.
func (e Evaluation) HasWarning(t WarningType) bool {
	for _, w := range e.Warnings {
		if w.Type == t {
			return true
		}
	}
	return false
}

// EvaluationInput describes the entry under evaluation. ExcludeEntryID drops
// the stored version of an entry being edited even if its date changes;
// together with CreatedAt it places the entry in pay order.
type EvaluationInput struct {
	WorkerID       WorkerID
	WorkDate       time.Time
	Hours          decimal.Decimal
	HasBreaks      bool
	ExcludeEntryID EntryID
	CreatedAt      time.Time
}

// WeekHours places one entry within its worker's payroll week.
type WeekHours struct {
	SameDay decimal.Decimal // other live entries on the entry's date
	Rest    decimal.Decimal // live entries on the other days of the week
	Prior   decimal.Decimal // hours ahead of the entry in pay order
}

// Total is the week's hours without the entry itself.
func (w WeekHours) Total() decimal.Decimal {
	return w.SameDay.Add(w.Rest)
}

// WeeklyAggregator reads week-to-date hours from the entry store.
type WeeklyAggregator struct {
	entries EntryReader
	policy  PayPolicy
}

func NewWeeklyAggregator(entries EntryReader, policy PayPolicy) *WeeklyAggregator {
	return &WeeklyAggregator{entries: entries, policy: policy.WithDefaults()}
}

// Evaluate checks a prospective entry of hours on entryDate.
func (a *WeeklyAggregator) Evaluate(ctx context.Context, workerID WorkerID, entryDate time.Time, hours decimal.Decimal, hasBreaks bool) (Evaluation, error) {
	return a.EvaluateEntry(ctx, EvaluationInput{
		WorkerID:  workerID,
		WorkDate:  entryDate,
		Hours:     hours,
		HasBreaks: hasBreaks,
	})
}

func (a *WeeklyAggregator) EvaluateEntry(ctx context.Context, in EvaluationInput) (Evaluation, error) {
	if in.Hours.IsNegative() {
		return Evaluation{}, ErrInvalidHours
	}
	week, err := a.WeekAround(ctx, in)
	if err != nil {
		return Evaluation{}, err
	}
	eval := Classify(a.policy, in.Hours, week, in.HasBreaks)
	eval.WeekStart = WeekStart(in.WorkDate)
	return eval, nil
}

// WeekAround sums the worker's live hours in the payroll week containing
// in.WorkDate, leaving out only the entry in.ExcludeEntryID.
func (a *WeeklyAggregator) WeekAround(ctx context.Context, in EvaluationInput) (WeekHours, error) {
	from, to := WeekRange(in.WorkDate)
	entries, err := a.entries.ListEntries(ctx, EntryFilter{WorkerID: in.WorkerID, From: from, To: to})
	if err != nil {
		return WeekHours{}, fmt.Errorf("load week entries: %w", err)
	}
	self := TimeEntry{ID: in.ExcludeEntryID, WorkDate: in.WorkDate, CreatedAt: in.CreatedAt}
	week := WeekHours{SameDay: decimal.Zero, Rest: decimal.Zero, Prior: decimal.Zero}
	for _, e := range entries {
		if e.Status == StatusVoided || (in.ExcludeEntryID != "" && e.ID == in.ExcludeEntryID) {
			continue
		}
		if SameDay(e.WorkDate, in.WorkDate) {
			week.SameDay = week.SameDay.Add(e.Hours)
		} else {
			week.Rest = week.Rest.Add(e.Hours)
		}
		if payOrderLess(e, self) {
			week.Prior = week.Prior.Add(e.Hours)
		}
	}
	return week, nil
}

// payOrderLess orders a worker's entries for weekly overtime attribution.
// A zero CreatedAt means not yet stored and sorts after stored entries.
func payOrderLess(a, b TimeEntry) bool {
	if !SameDay(a.WorkDate, b.WorkDate) {
		return NormalizeDate(a.WorkDate).Before(NormalizeDate(b.WorkDate))
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		switch {
		case a.CreatedAt.IsZero():
			return false
		case b.CreatedAt.IsZero():
			return true
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Classify applies the warning rules to an entry of hours placed in week.
// The daily limits see the whole day across jobs. It does no I/O.
func Classify(p PayPolicy, hours decimal.Decimal, week WeekHours, hasBreaks bool) Evaluation {
	p = p.WithDefaults()
	daily := hours.Add(week.SameDay)
	eval := Evaluation{
		IsValid:             true,
		DailyHours:          daily,
		WeekToDateHours:     week.Prior,
		WeeklyHours:         week.Total().Add(hours),
		WeeklyOvertime:      decimal.Zero,
		IncrementalOvertime: decimal.Zero,
	}

	if daily.GreaterThan(p.MaxDailyHours) {
		eval.IsValid = false
		eval.Warnings = append(eval.Warnings, Warning{
			Type:     WarnExcessiveHours,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s hours exceeds the %s hour daily maximum", daily, p.MaxDailyHours),
			Details:  map[string]string{"daily_hours": daily.String(), "limit": p.MaxDailyHours.String()},
		})
	}
	if daily.GreaterThan(p.LongDayHours) {
		eval.Warnings = append(eval.Warnings, Warning{
			Type:     WarnLongDay,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s hours is a long day (over %s)", daily, p.LongDayHours),
			Details:  map[string]string{"daily_hours": daily.String(), "limit": p.LongDayHours.String()},
		})
	}

	if eval.WeeklyHours.GreaterThan(p.WeeklyOvertimeThreshold) {
		eval.WeeklyOvertime = eval.WeeklyHours.Sub(p.WeeklyOvertimeThreshold)
		crossed := week.Prior.Add(hours).Sub(p.WeeklyOvertimeThreshold)
		eval.IncrementalOvertime = decimal.Max(decimal.Zero, decimal.Min(hours, crossed))
		eval.Warnings = append(eval.Warnings, Warning{
			Type:     WarnOvertime,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("week total %s hours exceeds %s", eval.WeeklyHours, p.WeeklyOvertimeThreshold),
			Details: map[string]string{
				"weekly_hours":         eval.WeeklyHours.String(),
				"overtime_hours":       eval.WeeklyOvertime.String(),
				"incremental_overtime": eval.IncrementalOvertime.String(),
			},
		})
	}

	if daily.GreaterThan(p.BreakRequiredAfter) && !hasBreaks {
		eval.Warnings = append(eval.Warnings, Warning{
			Type:     WarnMissingBreak,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("no break recorded for a %s hour day", daily),
			Details:  map[string]string{"daily_hours": daily.String(), "limit": p.BreakRequiredAfter.String()},
		})
	}
	return eval
}
