// Package formula implements the pricing-formula language: token
// construction and placement rules, parsing into an expression tree,
// lenient evaluation against a price map, display, and defensive decoding of
// persisted formulas.
package formula

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

var (
	// ErrInvalidTokenPlacement is returned when adding a token would make the
	// sequence impossible to complete into a valid expression.
	ErrInvalidTokenPlacement = errors.New("formula: invalid token placement")

	// ErrTokenIndex is returned by RemoveToken for an out-of-range index.
	ErrTokenIndex = errors.New("formula: token index out of range")
)

var operators = []string{"+", "-", "*", "/"}

// Instrument returns an instrument token.
func Instrument(code string) model.FormulaToken {
	return newToken(model.TokenInstrument, code)
}

// FixedValue returns a numeric literal token.
func FixedValue(v string) model.FormulaToken {
	return newToken(model.TokenFixedValue, v)
}

// Percentage returns a percentage token. The value is the bare number ("50").
func Percentage(v string) model.FormulaToken {
	return newToken(model.TokenPercentage, strings.TrimSuffix(strings.TrimSpace(v), "%"))
}

// Operator returns an operator token (+ - * /).
func Operator(op string) model.FormulaToken {
	return newToken(model.TokenOperator, op)
}

// OpenBracket returns "(".
func OpenBracket() model.FormulaToken {
	return newToken(model.TokenOpenBracket, "(")
}

// CloseBracket returns ")".
func CloseBracket() model.FormulaToken {
	return newToken(model.TokenCloseBracket, ")")
}

func newToken(kind model.TokenKind, value string) model.FormulaToken {
	return model.FormulaToken{ID: uuid.New().String(), Type: kind, Value: value}
}

// BuildFormula builds a formula by adding tokens one at a time, so the same
// placement rules apply as for interactive editing.
func BuildFormula(tokens ...model.FormulaToken) (model.PricingFormula, error) {
	f := model.PricingFormula{}
	for _, tok := range tokens {
		next, err := AddToken(f, tok)
		if err != nil {
			return f, err
		}
		f = next
	}
	return f, nil
}

// AddToken appends tok to the formula. On rejection the input formula is
// returned unchanged along with an ErrInvalidTokenPlacement error. Any change
// drops the cached exposures.
func AddToken(f model.PricingFormula, tok model.FormulaToken) (model.PricingFormula, error) {
	if err := checkPlacement(f.Tokens, tok); err != nil {
		return f, err
	}
	if tok.ID == "" {
		tok.ID = uuid.New().String()
	}

	out := f
	out.Tokens = append(slices.Clone(f.Tokens), tok)
	out.Exposures = model.ExposureResult{}
	return out, nil
}

// RemoveToken deletes the token at index. The remaining sequence is kept as
// is, even if it no longer parses.
func RemoveToken(f model.PricingFormula, index int) (model.PricingFormula, error) {
	if index < 0 || index >= len(f.Tokens) {
		return f, fmt.Errorf("%w: %d (len %d)", ErrTokenIndex, index, len(f.Tokens))
	}
	out := f
	out.Tokens = slices.Delete(slices.Clone(f.Tokens), index, index+1)
	out.Exposures = model.ExposureResult{}
	return out, nil
}

// Clear empties both the tokens and the cached exposures.
func Clear(f model.PricingFormula) model.PricingFormula {
	return model.PricingFormula{}
}

// Validate reports whether the complete token sequence forms an expression.
// An empty sequence is valid.
func Validate(tokens []model.FormulaToken) error {
	_, err := Parse(tokens)
	return err
}

// checkPlacement enforces the prefix rules: the sequence after adding tok
// must still be completable into a well-bracketed expression.
func checkPlacement(tokens []model.FormulaToken, tok model.FormulaToken) error {
	if err := checkValue(tok); err != nil {
		return err
	}

	var prev model.TokenKind
	if len(tokens) > 0 {
		prev = tokens[len(tokens)-1].Type
	}
	afterOperand := prev.IsOperand() || prev == model.TokenCloseBracket

	switch {
	case tok.Type.IsOperand():
		if afterOperand {
			return fmt.Errorf("%w: %s cannot follow an operand", ErrInvalidTokenPlacement, tok.Type)
		}
	case tok.Type == model.TokenOperator:
		if !afterOperand {
			return fmt.Errorf("%w: operator %q needs a left operand", ErrInvalidTokenPlacement, tok.Value)
		}
	case tok.Type == model.TokenOpenBracket:
		if afterOperand {
			return fmt.Errorf("%w: \"(\" cannot follow an operand", ErrInvalidTokenPlacement)
		}
	case tok.Type == model.TokenCloseBracket:
		if openBrackets(tokens) == 0 {
			return fmt.Errorf("%w: unmatched \")\"", ErrInvalidTokenPlacement)
		}
		if !afterOperand {
			return fmt.Errorf("%w: \")\" must close an expression", ErrInvalidTokenPlacement)
		}
	default:
		return fmt.Errorf("%w: unknown token type %q", ErrInvalidTokenPlacement, tok.Type)
	}
	return nil
}

func checkValue(tok model.FormulaToken) error {
	switch tok.Type {
	case model.TokenInstrument:
		if strings.TrimSpace(tok.Value) == "" {
			return fmt.Errorf("%w: empty instrument", ErrInvalidTokenPlacement)
		}
	case model.TokenFixedValue, model.TokenPercentage:
		if _, err := parseNumber(tok.Value); err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrInvalidTokenPlacement, tok.Value)
		}
	case model.TokenOperator:
		if !slices.Contains(operators, tok.Value) {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidTokenPlacement, tok.Value)
		}
	}
	return nil
}

func openBrackets(tokens []model.FormulaToken) int {
	depth := 0
	for _, t := range tokens {
		switch t.Type {
		case model.TokenOpenBracket:
			depth++
		case model.TokenCloseBracket:
			depth--
		}
	}
	return depth
}

// parseNumber reads a literal, tolerating surrounding spaces, a trailing "%"
// and thousands separators.
func parseNumber(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	return decimal.NewFromString(s)
}
