package formula

import (
	"strings"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

// Display renders tokens for humans: operators space padded, percentages
// suffixed with "%", fixed values with thousands separators and at most two
// decimals, brackets tight. The output depends only on the token values.
func Display(tokens []model.FormulaToken) string {
	var b strings.Builder
	for _, t := range tokens {
		switch t.Type {
		case model.TokenOperator:
			b.WriteString(" " + t.Value + " ")
		case model.TokenPercentage:
			b.WriteString(formatNumber(t.Value) + "%")
		case model.TokenFixedValue:
			b.WriteString(formatNumber(t.Value))
		case model.TokenOpenBracket:
			b.WriteString("(")
		case model.TokenCloseBracket:
			b.WriteString(")")
		default:
			b.WriteString(t.Value)
		}
	}
	return b.String()
}

func formatNumber(raw string) string {
	v, err := parseNumber(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	s := v.Round(2).String()

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	out := grouped.String()
	if hasFrac {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
