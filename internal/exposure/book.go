package exposure

import (
	"sort"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/period"
)

// Book aggregates monthly exposures across many legs and paper trades into a
// month × instrument table. A leg that cannot be attributed to a month is
// skipped with a diagnostic; the rest of the book is unaffected.
type Book struct {
	monthly model.MonthlyExposure
	diags   diag.Diagnostics
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{monthly: model.MonthlyExposure{}}
}

// AddLeg books a physical leg.
func (b *Book) AddLeg(leg model.TradeLeg) {
	m, ds := CalculateMonthlyExposures(leg)
	b.merge(m)
	b.diags.Merge(ds)
}

// AddPaper books a paper trade.
func (b *Book) AddPaper(p model.PaperTrade) {
	m, ds := CalculatePaperMonthlyExposures(p)
	b.merge(m)
	b.diags.Merge(ds)
}

func (b *Book) merge(m model.MonthlyExposure) {
	for month, row := range m {
		for instrument, bucket := range row {
			b.monthly.Add(month, instrument, bucket)
		}
	}
}

// Monthly returns the aggregated table.
func (b *Book) Monthly() model.MonthlyExposure {
	return b.monthly
}

// Months returns the booked months in chronological order.
func (b *Book) Months() []model.MonthCode {
	months := make([]model.MonthCode, 0, len(b.monthly))
	for m := range b.monthly {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool {
		ri, _ := period.ParseMonthCode(months[i])
		rj, _ := period.ParseMonthCode(months[j])
		return ri.Start.Before(rj.Start)
	})
	return months
}

// Totals sums every month per instrument.
func (b *Book) Totals() map[string]model.Bucket {
	out := make(map[string]model.Bucket)
	for _, row := range b.monthly {
		for instrument, bucket := range row {
			cur := out[instrument]
			out[instrument] = model.Bucket{
				Physical: cur.Physical.Add(bucket.Physical),
				Pricing:  cur.Pricing.Add(bucket.Pricing),
				Paper:    cur.Paper.Add(bucket.Paper),
			}
		}
	}
	return out
}

// Diagnostics returns everything recovered while booking.
func (b *Book) Diagnostics() diag.Diagnostics {
	return b.diags
}
