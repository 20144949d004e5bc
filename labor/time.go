package labor

import "time"

// DateLayout is the wire and storage format for work dates.
const DateLayout = "2006-01-02"

// WeekStartDay is the first day of the payroll week. The weekly aggregator and
// payroll export both derive week boundaries from WeekStart, so changing this
// moves both at once.
const WeekStartDay = time.Sunday

// WeekStart returns the first day of the payroll week containing d.
func WeekStart(d time.Time) time.Time {
	d = NormalizeDate(d)
	offset := (int(d.Weekday()) - int(WeekStartDay) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// WeekRange returns [start, end) for the payroll week containing d.
func WeekRange(d time.Time) (time.Time, time.Time) {
	start := WeekStart(d)
	return start, start.AddDate(0, 0, 7)
}

// ParseDate parses a YYYY-MM-DD date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeDate(t), nil
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return NormalizeDate(a).Equal(NormalizeDate(b))
}

// Window is a half-open effective window [From, To). A nil To is open-ended.
type Window struct {
	From time.Time
	To   *time.Time
}

// Contains reports whether t lies in [From, To).
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.From) {
		return false
	}
	return w.To == nil || t.Before(*w.To)
}

// Overlaps reports whether two half-open windows share at least one instant.
func (w Window) Overlaps(o Window) bool {
	// w.From < o.To && o.From < w.To, with nil meaning +infinity
	if o.To != nil && !w.From.Before(*o.To) {
		return false
	}
	if w.To != nil && !o.From.Before(*w.To) {
		return false
	}
	return true
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return w.To == nil || w.To.After(w.From)
}
