package formula

import (
	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

// Evaluate computes the tree's value. It never fails: a nil tree is 0, an
// instrument missing from prices counts as 0, and division by zero yields 0.
func Evaluate(n *Node, prices map[string]decimal.Decimal) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	switch n.Kind {
	case NodeInstrument:
		return prices[n.Instrument]
	case NodeValue:
		return n.Value
	case NodeUnary:
		return Evaluate(n.Left, prices).Neg()
	case NodeBinary:
		l := Evaluate(n.Left, prices)
		r := Evaluate(n.Right, prices)
		switch n.Op {
		case "+":
			return l.Add(r)
		case "-":
			return l.Sub(r)
		case "*":
			return l.Mul(r)
		case "/":
			if r.IsZero() {
				return decimal.Zero
			}
			return l.Div(r)
		}
	}
	return decimal.Zero
}

// EvaluateTokens parses and evaluates tokens. A formula that does not parse
// evaluates to 0 with a formula_parse_error diagnostic; each instrument
// without a price adds a price_unavailable diagnostic.
func EvaluateTokens(tokens []model.FormulaToken, prices map[string]decimal.Decimal) (decimal.Decimal, diag.Diagnostics) {
	var ds diag.Diagnostics

	tree, err := Parse(tokens)
	if err != nil {
		ds.Warn(diag.CodeFormulaParse, err.Error())
		return decimal.Zero, ds
	}
	for _, code := range MissingPrices(tokens, prices) {
		ds.Warn(diag.CodePriceUnavailable, "no price for instrument, using 0", "instrument", code)
	}
	return Evaluate(tree, prices), ds
}

// MissingPrices lists the formula's instruments that have no entry in prices.
func MissingPrices(tokens []model.FormulaToken, prices map[string]decimal.Decimal) []string {
	var missing []string
	for _, code := range ExtractInstruments(tokens) {
		if _, ok := prices[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing
}
