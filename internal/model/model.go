// Package model defines the core domain types shared across the pricing engine.
// All prices, quantities and exposures use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenKind identifies the role of a token inside a pricing formula.
// The string values match the persisted formula shape.
type TokenKind string

const (
	TokenInstrument   TokenKind = "instrument"
	TokenFixedValue   TokenKind = "fixedValue"
	TokenPercentage   TokenKind = "percentage"
	TokenOperator     TokenKind = "operator"
	TokenOpenBracket  TokenKind = "openBracket"
	TokenCloseBracket TokenKind = "closeBracket"
)

// IsOperand reports whether tokens of this kind produce a value on their own.
func (k TokenKind) IsOperand() bool {
	return k == TokenInstrument || k == TokenFixedValue || k == TokenPercentage
}

// FormulaToken is one element of a pricing formula. ID only exists so that
// editors can diff token lists; evaluation never looks at it.
type FormulaToken struct {
	ID    string    `json:"id"`
	Type  TokenKind `json:"type"`
	Value string    `json:"value"`
}

// ExposureResult holds signed net quantities per instrument (or product).
type ExposureResult struct {
	Physical map[string]decimal.Decimal `json:"physical"`
	Pricing  map[string]decimal.Decimal `json:"pricing"`
	Paper    map[string]decimal.Decimal `json:"paper,omitempty"`
}

// NewExposureResult returns a result with all maps allocated.
func NewExposureResult() ExposureResult {
	return ExposureResult{
		Physical: make(map[string]decimal.Decimal),
		Pricing:  make(map[string]decimal.Decimal),
		Paper:    make(map[string]decimal.Decimal),
	}
}

// PricingFormula is the persisted formula of a trade leg. Exposures is a cache
// of the last computed breakdown and is never authoritative.
type PricingFormula struct {
	Tokens              []FormulaToken                           `json:"tokens"`
	Exposures           ExposureResult                           `json:"exposures"`
	MonthlyDistribution map[string]map[MonthCode]decimal.Decimal `json:"monthlyDistribution,omitempty"`
}

// IsEmpty reports whether the formula has no tokens ("no formula").
func (f PricingFormula) IsEmpty() bool {
	return len(f.Tokens) == 0
}

// BuySell is the direction of a trade leg.
type BuySell string

const (
	Buy  BuySell = "buy"
	Sell BuySell = "sell"
)

// Direction returns +1 for buy and -1 for anything else.
func (b BuySell) Direction() decimal.Decimal {
	if b == Buy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// PricingType selects how a physical leg is priced.
type PricingType string

const (
	PricingStandard PricingType = "standard"
	PricingEFP      PricingType = "efp"
)

// EFPInstrument is the fixed exposure key for unagreed EFP legs.
const EFPInstrument = "ICE GASOIL FUTURES (EFP)"

// GasoilInstrument is the futures contract EFP legs settle against.
const GasoilInstrument = "ICE GASOIL FUTURES"

// TradeLeg is one leg of a physical trade.
type TradeLeg struct {
	ID                 string          `json:"id"`
	Product            string          `json:"product"`
	BuySell            BuySell         `json:"buy_sell"`
	Quantity           decimal.Decimal `json:"quantity"`
	Tolerance          decimal.Decimal `json:"tolerance"` // percent
	LoadingPeriodStart time.Time       `json:"loading_period_start"`
	LoadingPeriodEnd   time.Time       `json:"loading_period_end"`
	PricingPeriodStart time.Time       `json:"pricing_period_start"`
	PricingPeriodEnd   time.Time       `json:"pricing_period_end"`
	PricingType        PricingType     `json:"pricing_type"`
	Formula            PricingFormula  `json:"formula"`
	MTMFormula         PricingFormula  `json:"mtm_formula"`
	MTMFutureMonth     MonthCode       `json:"mtm_future_month,omitempty"`

	EFPPremium         decimal.Decimal `json:"efp_premium"`
	EFPAgreedStatus    bool            `json:"efp_agreed_status"`
	EFPFixedValue      decimal.Decimal `json:"efp_fixed_value"`
	EFPDesignatedMonth MonthCode       `json:"efp_designated_month,omitempty"`
}

// IsEFP reports whether the leg is priced as an Exchange for Physical.
func (l TradeLeg) IsEFP() bool {
	return l.PricingType == PricingEFP
}

// AdjustedQuantity returns quantity × (1 + tolerance/100).
func (l TradeLeg) AdjustedQuantity() decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return l.Quantity.Mul(decimal.NewFromInt(1).Add(l.Tolerance.Div(hundred)))
}

// MonthCode is a month identifier in MMM-YY form, e.g. "Jan-25".
type MonthCode string

// PeriodClassification places a date range relative to today.
type PeriodClassification string

const (
	Historical PeriodClassification = "historical"
	Current    PeriodClassification = "current"
	Future     PeriodClassification = "future"
)

// Instrument is a priceable reference known to the price store.
type Instrument struct {
	ID   string `json:"id" db:"id"`
	Code string `json:"code" db:"code"`
}

// PricePoint is a single dated price row.
type PricePoint struct {
	Date  time.Time       `json:"date" db:"date"`
	Price decimal.Decimal `json:"price" db:"price"`
}

// Bucket holds the three exposure books for one instrument in one month.
type Bucket struct {
	Physical decimal.Decimal `json:"physical"`
	Pricing  decimal.Decimal `json:"pricing"`
	Paper    decimal.Decimal `json:"paper"`
}

// MonthlyExposure maps month → instrument → exposure bucket.
type MonthlyExposure map[MonthCode]map[string]Bucket

// Add merges a bucket into the month/instrument cell, creating it if needed.
func (m MonthlyExposure) Add(month MonthCode, instrument string, b Bucket) {
	row, ok := m[month]
	if !ok {
		row = make(map[string]Bucket)
		m[month] = row
	}
	cur := row[instrument]
	row[instrument] = Bucket{
		Physical: cur.Physical.Add(b.Physical),
		Pricing:  cur.Pricing.Add(b.Pricing),
		Paper:    cur.Paper.Add(b.Paper),
	}
}

// DistributionMap maps instrument → ISO date (YYYY-MM-DD) → exposure.
type DistributionMap map[string]map[string]decimal.Decimal

// Add accumulates a value into the instrument/date cell.
func (m DistributionMap) Add(instrument, date string, v decimal.Decimal) {
	row, ok := m[instrument]
	if !ok {
		row = make(map[string]decimal.Decimal)
		m[instrument] = row
	}
	row[date] = row[date].Add(v)
}
