package formula

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

// ErrInvalidFormula is wrapped by every ValidationError.
var ErrInvalidFormula = errors.New("formula: invalid persisted formula")

// ValidationError describes why a persisted formula was rejected.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s at %s: %s", ErrInvalidFormula, e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidFormula }

var tokenKinds = map[string]model.TokenKind{
	string(model.TokenInstrument):   model.TokenInstrument,
	string(model.TokenFixedValue):   model.TokenFixedValue,
	string(model.TokenPercentage):   model.TokenPercentage,
	string(model.TokenOperator):     model.TokenOperator,
	string(model.TokenOpenBracket):  model.TokenOpenBracket,
	string(model.TokenCloseBracket): model.TokenCloseBracket,
}

// Decode reads a persisted formula without trusting its shape. It accepts
// null (empty formula), an object with a "tokens" array, or the same object
// double-encoded as a JSON string. Token ids are generated when missing and
// numeric token values are converted to strings. Malformed exposures or
// distributions are dropped, since they are derived data.
func Decode(data []byte) (model.PricingFormula, error) {
	raw, err := decodeAny(data)
	if err != nil {
		return model.PricingFormula{}, &ValidationError{Path: "$", Reason: err.Error()}
	}
	if s, ok := raw.(string); ok {
		if raw, err = decodeAny([]byte(s)); err != nil {
			return model.PricingFormula{}, &ValidationError{Path: "$", Reason: "string is not JSON"}
		}
	}
	if raw == nil {
		return model.PricingFormula{}, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return model.PricingFormula{}, &ValidationError{Path: "$", Reason: "expected an object"}
	}
	rawTokens, ok := obj["tokens"]
	if !ok {
		return model.PricingFormula{}, &ValidationError{Path: "$.tokens", Reason: "missing"}
	}

	tokens, err := decodeTokens(rawTokens)
	if err != nil {
		return model.PricingFormula{}, err
	}

	f := model.PricingFormula{Tokens: tokens}
	if exp, ok := obj["exposures"].(map[string]any); ok {
		f.Exposures = model.ExposureResult{
			Physical: decimalMap(exp["physical"]),
			Pricing:  decimalMap(exp["pricing"]),
			Paper:    decimalMap(exp["paper"]),
		}
	}
	if dist, ok := obj["monthlyDistribution"].(map[string]any); ok {
		f.MonthlyDistribution = distributionMap(dist)
	}
	return f, nil
}

// DecodeOrEmpty is Decode with failures collapsed to an empty formula and an
// invalid_formula diagnostic.
func DecodeOrEmpty(data []byte) (model.PricingFormula, diag.Diagnostics) {
	var ds diag.Diagnostics
	f, err := Decode(data)
	if err != nil {
		ds.Warn(diag.CodeInvalidFormula, err.Error())
		return model.PricingFormula{}, ds
	}
	return f, ds
}

func decodeAny(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeTokens(raw any) ([]model.FormulaToken, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, &ValidationError{Path: "$.tokens", Reason: "expected an array"}
	}

	tokens := make([]model.FormulaToken, 0, len(list))
	for i, item := range list {
		path := fmt.Sprintf("$.tokens[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &ValidationError{Path: path, Reason: "expected an object"}
		}

		typ, _ := obj["type"].(string)
		kind, ok := tokenKinds[typ]
		if !ok {
			return nil, &ValidationError{Path: path + ".type", Reason: fmt.Sprintf("unknown token type %q", typ)}
		}

		var value string
		switch v := obj["value"].(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		default:
			return nil, &ValidationError{Path: path + ".value", Reason: "expected a string or number"}
		}

		id, _ := obj["id"].(string)
		if id == "" {
			if n, ok := obj["id"].(json.Number); ok {
				id = n.String()
			} else {
				id = uuid.New().String()
			}
		}
		tokens = append(tokens, model.FormulaToken{ID: id, Type: kind, Value: value})
	}
	return tokens, nil
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}

func decimalMap(v any) map[string]decimal.Decimal {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(obj))
	for k, raw := range obj {
		if d, ok := toDecimal(raw); ok {
			out[k] = d
		}
	}
	return out
}

func distributionMap(obj map[string]any) map[string]map[model.MonthCode]decimal.Decimal {
	out := make(map[string]map[model.MonthCode]decimal.Decimal, len(obj))
	for instrument, raw := range obj {
		months := decimalMap(raw)
		if len(months) == 0 {
			continue
		}
		row := make(map[model.MonthCode]decimal.Decimal, len(months))
		for m, v := range months {
			row[model.MonthCode(m)] = v
		}
		out[instrument] = row
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
