package labor

import (
	"github.com/shopspring/decimal"
)

// CostSplit is the priced breakdown of one entry's hours. Bucket costs are
// rounded to cents; TotalCost is the sum of the rounded buckets.
type CostSplit struct {
	RegularHours    decimal.Decimal
	OvertimeHours   decimal.Decimal
	DoubletimeHours decimal.Decimal

	RegularCost    decimal.Decimal
	OvertimeCost   decimal.Decimal
	DoubletimeCost decimal.Decimal
	TotalCost      decimal.Decimal
}

// Split divides hours at threshold and prices each side. A zero overtime rate
// means regular x 1.5.
//
//	Split(10, 70, 105, 8) = {reg 8h $560, ot 2h $210, total $770}
func Split(hours, regularRate, overtimeRate, threshold decimal.Decimal) (CostSplit, error) {
	if hours.IsNegative() || threshold.IsNegative() {
		return CostSplit{}, ErrInvalidHours
	}
	if regularRate.IsNegative() || overtimeRate.IsNegative() {
		return CostSplit{}, ErrInvalidRate
	}
	if overtimeRate.IsZero() {
		overtimeRate = regularRate.Mul(DefaultOvertimeMultiplier)
	}
	regular := decimal.Min(hours, threshold)
	overtime := hours.Sub(regular)
	return price(regular, overtime, decimal.Zero, regularRate, overtimeRate, decimal.Zero), nil
}

// SplitWithPolicy applies the pay policy: the overtime threshold follows the
// policy's mode and hours beyond DoubletimeThreshold (when set) are priced at
// regular x DoubletimeMultiplier. weekToDate is the worker's hours ahead of
// the entry in pay order within the same payroll week.
func SplitWithPolicy(hours decimal.Decimal, rate ResolvedRate, p PayPolicy, weekToDate decimal.Decimal) (CostSplit, error) {
	if hours.IsNegative() || weekToDate.IsNegative() {
		return CostSplit{}, ErrInvalidHours
	}
	p = p.WithDefaults()

	overtimeRate := rate.OvertimeRate
	if overtimeRate.IsZero() {
		overtimeRate = rate.RegularRate.Mul(p.OvertimeMultiplier)
	}

	doubletime := decimal.Zero
	banded := hours
	if p.DoubletimeThreshold.IsPositive() && hours.GreaterThan(p.DoubletimeThreshold) {
		doubletime = hours.Sub(p.DoubletimeThreshold)
		banded = p.DoubletimeThreshold
	}

	threshold := OvertimeThreshold(p, weekToDate)
	regular := decimal.Min(banded, threshold)
	overtime := banded.Sub(regular)

	dtRate := rate.RegularRate.Mul(p.DoubletimeMultiplier)
	return price(regular, overtime, doubletime, rate.RegularRate, overtimeRate, dtRate), nil
}

// OvertimeThreshold is the number of hours in the next entry that are still
// regular under p, given weekToDate hours already worked this week.
func OvertimeThreshold(p PayPolicy, weekToDate decimal.Decimal) decimal.Decimal {
	if p.OvertimeMode == OvertimeWeekly {
		remaining := p.WeeklyOvertimeThreshold.Sub(weekToDate)
		if remaining.IsNegative() {
			return decimal.Zero
		}
		return remaining
	}
	return p.DailyOvertimeThreshold
}

func price(regular, overtime, doubletime, regRate, otRate, dtRate decimal.Decimal) CostSplit {
	s := CostSplit{
		RegularHours:    regular,
		OvertimeHours:   overtime,
		DoubletimeHours: doubletime,
		RegularCost:     RoundMoney(regular.Mul(regRate)),
		OvertimeCost:    RoundMoney(overtime.Mul(otRate)),
		DoubletimeCost:  RoundMoney(doubletime.Mul(dtRate)),
	}
	s.TotalCost = s.RegularCost.Add(s.OvertimeCost).Add(s.DoubletimeCost)
	return s
}
