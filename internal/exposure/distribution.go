package exposure

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/period"
)

// CalculateMonthlyDistribution splits a leg's pricing exposure by month.
//
//   - Agreed EFP legs have none.
//   - Unagreed EFP legs book everything in the EFP designated month.
//   - A formula carrying its own MonthlyDistribution is returned as is.
//   - Otherwise each instrument's total is spread over the months of the
//     pricing period in proportion to their business days.
func CalculateMonthlyDistribution(leg model.TradeLeg) (map[string]map[model.MonthCode]decimal.Decimal, diag.Diagnostics) {
	res, ds := Calculate(leg)
	out := make(map[string]map[model.MonthCode]decimal.Decimal)

	if leg.IsEFP() {
		total, ok := res.Pricing[model.EFPInstrument]
		if !ok {
			return out, ds
		}
		if _, err := period.ParseMonthCode(leg.EFPDesignatedMonth); err != nil {
			ds.Warn(diag.CodePeriodUnparseable, err.Error(), "leg", leg.ID)
			return out, ds
		}
		out[model.EFPInstrument] = map[model.MonthCode]decimal.Decimal{leg.EFPDesignatedMonth: total}
		return out, ds
	}

	if len(leg.Formula.MonthlyDistribution) > 0 {
		for instrument, months := range leg.Formula.MonthlyDistribution {
			row := make(map[model.MonthCode]decimal.Decimal, len(months))
			for m, v := range months {
				row[m] = v
			}
			out[instrument] = row
		}
		return out, ds
	}

	if leg.PricingPeriodStart.IsZero() || leg.PricingPeriodEnd.IsZero() {
		if len(res.Pricing) > 0 {
			ds.Warn(diag.CodePeriodUnparseable, "leg has no pricing period", "leg", leg.ID)
		}
		return out, ds
	}

	days := period.BusinessDaysBetween(leg.PricingPeriodStart, leg.PricingPeriodEnd)
	if len(days) == 0 {
		return out, ds
	}
	weights, order := daysPerMonth(days)
	totalDays := decimal.NewFromInt(int64(len(days)))

	for instrument, total := range res.Pricing {
		row := make(map[model.MonthCode]decimal.Decimal, len(order))
		assigned := decimal.Zero
		for i, m := range order {
			share := total.Sub(assigned)
			if i < len(order)-1 {
				share = total.Mul(decimal.NewFromInt(int64(weights[m]))).Div(totalDays)
			}
			row[m] = share
			assigned = assigned.Add(share)
		}
		out[instrument] = row
	}
	return out, ds
}

// CalculateMonthlyExposures returns the leg's exposure per month and
// instrument. Physical exposure is attributed to the loading period's first
// month (or the pricing period's when no loading period is set).
func CalculateMonthlyExposures(leg model.TradeLeg) (model.MonthlyExposure, diag.Diagnostics) {
	out := model.MonthlyExposure{}
	res, ds := Calculate(leg)

	physicalStart := leg.LoadingPeriodStart
	if physicalStart.IsZero() {
		physicalStart = leg.PricingPeriodStart
	}
	if physicalStart.IsZero() {
		if len(res.Physical) > 0 {
			ds.Warn(diag.CodePeriodUnparseable, "leg has no loading or pricing period", "leg", leg.ID)
		}
	} else {
		month := period.FormatMonthCode(physicalStart)
		for product, v := range res.Physical {
			out.Add(month, product, model.Bucket{Physical: v})
		}
	}

	dist, dds := CalculateMonthlyDistribution(leg)
	ds.MergeUnique(dds)
	for instrument, months := range dist {
		for m, v := range months {
			out.Add(m, instrument, model.Bucket{Pricing: v})
		}
	}
	return out, ds
}

// CalculatePaperMonthlyExposures books a paper trade in its period month.
func CalculatePaperMonthlyExposures(p model.PaperTrade) (model.MonthlyExposure, diag.Diagnostics) {
	var ds diag.Diagnostics
	out := model.MonthlyExposure{}

	if _, err := period.ParseMonthCode(p.Left.Period); err != nil {
		ds.Warn(diag.CodePeriodUnparseable, err.Error(), "trade", p.ID)
		return out, ds
	}
	res := CalculatePaperExposures(p)
	for product, v := range res.Paper {
		out.Add(p.Left.Period, product, model.Bucket{Paper: v, Pricing: res.Pricing[product]})
	}
	return out, ds
}

// CalculateDailyDistribution spreads the leg's monthly pricing exposure
// evenly over business days, keyed by ISO date. Months derived from the
// pricing period only use the period's own business days; months given
// explicitly (EFP designated month, formula distribution) use the whole
// month. A month that does not parse is skipped.
func CalculateDailyDistribution(leg model.TradeLeg) (model.DistributionMap, diag.Diagnostics) {
	out := model.DistributionMap{}
	dist, ds := CalculateMonthlyDistribution(leg)

	clip := !leg.IsEFP() && len(leg.Formula.MonthlyDistribution) == 0
	for instrument, months := range dist {
		for m, amount := range months {
			days, err := period.BusinessDaysInMonth(m)
			if err != nil {
				ds.Warn(diag.CodePeriodUnparseable, err.Error(), "leg", leg.ID, "instrument", instrument)
				continue
			}
			if clip {
				days = within(days, leg.PricingPeriodStart, leg.PricingPeriodEnd)
			}
			spread(out, instrument, amount, days)
		}
	}
	return out, ds
}

// CalculatePaperDailyDistribution spreads a paper trade's exposure over the
// business days of its period month.
func CalculatePaperDailyDistribution(p model.PaperTrade) (model.DistributionMap, diag.Diagnostics) {
	var ds diag.Diagnostics
	out := model.DistributionMap{}

	days, err := period.BusinessDaysInMonth(p.Left.Period)
	if err != nil {
		ds.Warn(diag.CodePeriodUnparseable, err.Error(), "trade", p.ID)
		return out, ds
	}
	for product, v := range CalculatePaperExposures(p).Paper {
		spread(out, product, v, days)
	}
	return out, ds
}

// spread divides amount evenly across days. The last day takes the rounding
// remainder so the days sum exactly to amount. No days, no entries.
func spread(out model.DistributionMap, instrument string, amount decimal.Decimal, days []time.Time) {
	n := len(days)
	if n == 0 {
		return
	}
	per := amount.Div(decimal.NewFromInt(int64(n)))
	assigned := decimal.Zero
	for i, day := range days {
		v := per
		if i == n-1 {
			v = amount.Sub(assigned)
		}
		out.Add(instrument, period.ISODate(day), v)
		assigned = assigned.Add(v)
	}
}

func daysPerMonth(days []time.Time) (map[model.MonthCode]int, []model.MonthCode) {
	counts := make(map[model.MonthCode]int)
	var order []model.MonthCode
	for _, day := range days {
		m := period.FormatMonthCode(day)
		if _, ok := counts[m]; !ok {
			order = append(order, m)
		}
		counts[m]++
	}
	return counts, order
}

func within(days []time.Time, start, end time.Time) []time.Time {
	if start.IsZero() || end.IsZero() {
		return days
	}
	lo, hi := period.Midnight(start), period.Midnight(end)
	var out []time.Time
	for _, day := range days {
		if !day.Before(lo) && !day.After(hi) {
			out = append(out, day)
		}
	}
	return out
}
