package exposure

import (
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

var (
	// ErrInstrumentLimitExceeded is returned when the net price exposure of a
	// single instrument exceeds the per-instrument maximum.
	ErrInstrumentLimitExceeded = errors.New("exposure: per-instrument limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when the aggregate absolute
	// exposure across a correlated instrument group exceeds its maximum.
	ErrCorrelatedLimitExceeded = errors.New("exposure: correlated exposure limit exceeded")
)

// Limiter enforces net price-exposure limits per month.
//
// Instruments are correlated when they share a base name, i.e. the name with
// any trailing parenthesised qualifier removed: "ICE GASOIL FUTURES" and
// "ICE GASOIL FUTURES (EFP)" are the same risk. A zero limit disables the
// corresponding check.
type Limiter struct {
	// MaxPerInstrument is the maximum absolute net exposure of one instrument.
	MaxPerInstrument decimal.Decimal

	// MaxCorrelated is the maximum aggregate absolute exposure across all
	// instruments of one group.
	MaxCorrelated decimal.Decimal
}

// NewLimiter creates a limiter.
func NewLimiter(maxPerInstrument, maxCorrelated decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerInstrument: maxPerInstrument,
		MaxCorrelated:    maxCorrelated,
	}
}

// Breach describes one violated limit.
type Breach struct {
	Month      model.MonthCode `json:"month"`
	Instrument string          `json:"instrument"` // instrument or group base name
	Exposure   decimal.Decimal `json:"exposure"`
	Limit      decimal.Decimal `json:"limit"`
	Err        error           `json:"-"`
	Reason     string          `json:"reason"`
}

// Check scans a book and returns every breach, ordered by month then name.
//
// Net price exposure is the pricing book alone: paper trades are booked into
// both the pricing and paper books, so the paper book is a subset view and
// adding it would count every paper position twice.
func (l *Limiter) Check(b *Book) []Breach {
	var breaches []Breach
	monthly := b.Monthly()
	for _, month := range b.Months() {
		net := make(map[string]decimal.Decimal)
		groups := make(map[string]decimal.Decimal)
		for instrument, bucket := range monthly[month] {
			if bucket.Pricing.IsZero() {
				continue
			}
			net[instrument] = bucket.Pricing
			g := InstrumentGroup(instrument)
			groups[g] = groups[g].Add(bucket.Pricing.Abs())
		}

		if l.MaxPerInstrument.IsPositive() {
			for _, instrument := range sortedKeys(net) {
				if v := net[instrument]; v.Abs().GreaterThan(l.MaxPerInstrument) {
					breaches = append(breaches, newBreach(month, instrument, v, l.MaxPerInstrument, ErrInstrumentLimitExceeded))
				}
			}
		}
		if l.MaxCorrelated.IsPositive() {
			for _, g := range sortedKeys(groups) {
				if v := groups[g]; v.GreaterThan(l.MaxCorrelated) {
					breaches = append(breaches, newBreach(month, g, v, l.MaxCorrelated, ErrCorrelatedLimitExceeded))
				}
			}
		}
	}
	return breaches
}

// InstrumentGroup returns the correlation group of an instrument.
func InstrumentGroup(instrument string) string {
	name := strings.TrimSpace(instrument)
	if i := strings.LastIndex(name, "("); i > 0 && strings.HasSuffix(name, ")") {
		name = strings.TrimSpace(name[:i])
	}
	return strings.ToUpper(name)
}

func newBreach(month model.MonthCode, name string, v, limit decimal.Decimal, err error) Breach {
	return Breach{Month: month, Instrument: name, Exposure: v, Limit: limit, Err: err, Reason: err.Error()}
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
