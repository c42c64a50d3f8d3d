// Package diag carries non-fatal diagnostics produced by the pricing engine.
//
// Pure calculations never log. They return a best-effort value together with
// Diagnostics, and the caller decides whether to log them or surface them as
// warnings.
package diag

import (
	"context"
	"log/slog"
)

// Stable diagnostic codes.
const (
	CodeInvalidTokenPlacement = "invalid_token_placement"
	CodeFormulaParse          = "formula_parse_error"
	CodeInvalidFormula        = "invalid_formula"
	CodePriceUnavailable      = "price_unavailable"
	CodePeriodUnparseable     = "period_unparseable"
	CodeStaleForwardPrice     = "stale_forward_price"
)

// Field is one key/value attribute of a diagnostic.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Diagnostic is one recovered problem. Fields keep the order they were
// given in.
type Diagnostic struct {
	Level   slog.Level `json:"level"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Fields  []Field    `json:"fields,omitempty"`
}

// Field returns the value of the first field named key, or "".
func (d Diagnostic) Field(key string) string {
	for _, f := range d.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// Diagnostics is an ordered list of diagnostics.
type Diagnostics []Diagnostic

// Warn appends a warning-level diagnostic. kv is a flat key/value list.
func (ds *Diagnostics) Warn(code, msg string, kv ...string) {
	*ds = append(*ds, newDiagnostic(slog.LevelWarn, code, msg, kv))
}

// Info appends an info-level diagnostic.
func (ds *Diagnostics) Info(code, msg string, kv ...string) {
	*ds = append(*ds, newDiagnostic(slog.LevelInfo, code, msg, kv))
}

// Merge appends all of other.
func (ds *Diagnostics) Merge(other Diagnostics) {
	*ds = append(*ds, other...)
}

// MergeUnique appends the diagnostics of other that ds does not already
// carry. Two diagnostics are the same when code and message match.
func (ds *Diagnostics) MergeUnique(other Diagnostics) {
	for _, d := range other {
		if !ds.contains(d) {
			*ds = append(*ds, d)
		}
	}
}

func (ds Diagnostics) contains(d Diagnostic) bool {
	for _, e := range ds {
		if e.Code == d.Code && e.Message == d.Message {
			return true
		}
	}
	return false
}

// Has reports whether any diagnostic carries code.
func (ds Diagnostics) Has(code string) bool {
	for _, d := range ds {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Log writes every diagnostic to logger at its own level.
func (ds Diagnostics) Log(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, d := range ds {
		args := make([]any, 0, 2+2*len(d.Fields))
		args = append(args, "code", d.Code)
		for _, f := range d.Fields {
			args = append(args, f.Key, f.Value)
		}
		logger.Log(ctx, d.Level, d.Message, args...)
	}
}

func newDiagnostic(level slog.Level, code, msg string, kv []string) Diagnostic {
	d := Diagnostic{Level: level, Code: code, Message: msg}
	if len(kv) > 1 {
		d.Fields = make([]Field, 0, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			d.Fields = append(d.Fields, Field{Key: kv[i], Value: kv[i+1]})
		}
	}
	return d
}
