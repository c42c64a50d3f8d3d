// Package exposure derives signed physical, pricing and paper exposure per
// instrument from trade legs, and distributes it over months and business
// days.
//
// Sign convention: physical exposure carries the trade's own direction
// (buy = positive). Pricing exposure is the offsetting side, so a positive
// formula term on a buy leg books negative pricing exposure and a sell leg
// books positive pricing exposure.
package exposure

import (
	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/formula"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

var minusOne = decimal.NewFromInt(-1)

// CalculateExposures returns the exposure breakdown of a physical leg.
func CalculateExposures(leg model.TradeLeg) model.ExposureResult {
	res, _ := Calculate(leg)
	return res
}

// Calculate is CalculateExposures with diagnostics. A formula that does not
// parse still books every instrument it names with a positive sign.
func Calculate(leg model.TradeLeg) (model.ExposureResult, diag.Diagnostics) {
	var ds diag.Diagnostics
	res := model.NewExposureResult()

	dir := leg.BuySell.Direction()
	qty := leg.AdjustedQuantity()

	// The product key is always present, even for a zero quantity.
	if leg.Product != "" {
		res.Physical[leg.Product] = res.Physical[leg.Product].Add(qty.Mul(dir))
	}

	if leg.IsEFP() {
		if !leg.EFPAgreedStatus {
			res.Pricing[model.EFPInstrument] = qty.Mul(dir).Mul(minusOne)
		}
		return res, ds
	}

	if len(leg.Formula.MonthlyDistribution) > 0 {
		for instrument, months := range leg.Formula.MonthlyDistribution {
			total := res.Pricing[instrument]
			for _, v := range months {
				total = total.Add(v)
			}
			res.Pricing[instrument] = total
		}
		return res, ds
	}

	signs, sds := instrumentSigns(leg.Formula.Tokens)
	ds.Merge(sds)
	base := qty.Mul(dir).Mul(minusOne)
	for instrument, sign := range signs {
		res.Pricing[instrument] = res.Pricing[instrument].Add(base.Mul(decimal.NewFromInt(int64(sign))))
	}
	return res, ds
}

// CalculatePaperExposures returns the exposure breakdown of a paper trade.
// Paper trades never populate the physical book. For DIFF and SPREAD the
// right product is booked with the mirrored (negated) left quantity.
func CalculatePaperExposures(p model.PaperTrade) model.ExposureResult {
	res := model.NewExposureResult()
	dir := p.BuySell.Direction()

	book := func(product string, qty decimal.Decimal) {
		if product == "" {
			return
		}
		v := qty.Mul(dir)
		res.Paper[product] = res.Paper[product].Add(v)
		res.Pricing[product] = res.Pricing[product].Add(v)
	}

	book(p.Left.Product, p.Left.Quantity)
	if p.HasRight() {
		book(p.Right.Product, p.RightQuantity())
	}
	return res
}

// RefreshFormula recomputes the leg's cached formula exposures.
func RefreshFormula(leg model.TradeLeg) model.TradeLeg {
	leg.Formula.Exposures = CalculateExposures(leg)
	return leg
}

// instrumentSigns returns the net sign of every instrument in tokens.
func instrumentSigns(tokens []model.FormulaToken) (map[string]int, diag.Diagnostics) {
	var ds diag.Diagnostics
	tree, err := formula.Parse(tokens)
	if err == nil {
		return formula.NetSigns(tree), ds
	}

	ds.Warn(diag.CodeFormulaParse, err.Error())
	signs := make(map[string]int)
	for _, instrument := range formula.ExtractInstruments(tokens) {
		signs[instrument] = 1
	}
	return signs, ds
}
