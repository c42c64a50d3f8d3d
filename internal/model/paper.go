package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// RelationshipType describes how a paper trade's price is built.
type RelationshipType string

const (
	RelationshipFP     RelationshipType = "FP"     // flat price against one instrument
	RelationshipDiff   RelationshipType = "DIFF"   // differential vs a reference instrument
	RelationshipSpread RelationshipType = "SPREAD" // difference between two instruments
)

// IsPaired reports whether the relationship carries a mirrored right side.
func (r RelationshipType) IsPaired() bool {
	return r == RelationshipDiff || r == RelationshipSpread
}

// PaperSide is one side of a paper (derivative) trade.
type PaperSide struct {
	Product  string          `json:"product"`
	Quantity decimal.Decimal `json:"quantity"`
	Period   MonthCode       `json:"period"`
	Price    decimal.Decimal `json:"price"`
}

// RightSide holds the independent fields of a DIFF/SPREAD right side.
// Quantity and period are never stored: they mirror the left side.
type RightSide struct {
	Product string          `json:"product"`
	Price   decimal.Decimal `json:"price"`
}

// PaperTrade is a paper trade with an optional mirrored right side. The right
// side's quantity is always -Left.Quantity and its period is Left.Period, so
// editing the left side can never leave the mirror stale.
type PaperTrade struct {
	ID               string           `json:"id"`
	BuySell          BuySell          `json:"buy_sell"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Left             PaperSide        `json:"left"`
	Right            *RightSide       `json:"-"`
}

// NewPaperTrade creates a paper trade. rightProduct is ignored for FP.
func NewPaperTrade(id string, bs BuySell, rel RelationshipType, left PaperSide, rightProduct string) PaperTrade {
	p := PaperTrade{ID: id, BuySell: bs, Left: left}
	return p.WithRelationship(rel, rightProduct)
}

// HasRight reports whether the trade carries a right side.
func (p PaperTrade) HasRight() bool {
	return p.RelationshipType.IsPaired() && p.Right != nil
}

// RightQuantity returns the mirrored right-side quantity, or zero without one.
func (p PaperTrade) RightQuantity() decimal.Decimal {
	if !p.HasRight() {
		return decimal.Zero
	}
	return p.Left.Quantity.Neg()
}

// RightPeriod returns the right-side period, which always follows the left.
func (p PaperTrade) RightPeriod() MonthCode {
	if !p.HasRight() {
		return ""
	}
	return p.Left.Period
}

// WithLeftQuantity returns a copy with the left quantity updated.
func (p PaperTrade) WithLeftQuantity(q decimal.Decimal) PaperTrade {
	p.Left.Quantity = q
	return p
}

// WithLeftPeriod returns a copy with the left period updated.
func (p PaperTrade) WithLeftPeriod(period MonthCode) PaperTrade {
	p.Left.Period = period
	return p
}

// WithRelationship switches the relationship type. Switching to FP drops the
// right side; switching to DIFF/SPREAD keeps an existing right price.
func (p PaperTrade) WithRelationship(rel RelationshipType, rightProduct string) PaperTrade {
	p.RelationshipType = rel
	if !rel.IsPaired() {
		p.Right = nil
		return p
	}
	right := RightSide{Product: rightProduct}
	if p.Right != nil {
		right.Price = p.Right.Price
		if rightProduct == "" {
			right.Product = p.Right.Product
		}
	}
	p.Right = &right
	return p
}

type rightSideJSON struct {
	Product  string          `json:"product"`
	Quantity decimal.Decimal `json:"quantity"`
	Period   MonthCode       `json:"period"`
	Price    decimal.Decimal `json:"price"`
}

type paperTradeAlias PaperTrade

// MarshalJSON emits the derived right-side quantity and period.
func (p PaperTrade) MarshalJSON() ([]byte, error) {
	out := struct {
		paperTradeAlias
		Right *rightSideJSON `json:"right,omitempty"`
	}{paperTradeAlias: paperTradeAlias(p)}
	if p.HasRight() {
		out.Right = &rightSideJSON{
			Product:  p.Right.Product,
			Quantity: p.RightQuantity(),
			Period:   p.RightPeriod(),
			Price:    p.Right.Price,
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a paper trade; any stored right quantity or period is
// ignored in favour of the left side.
func (p *PaperTrade) UnmarshalJSON(data []byte) error {
	var in struct {
		paperTradeAlias
		Right *rightSideJSON `json:"right"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = PaperTrade(in.paperTradeAlias)
	p.Right = nil
	if in.Right != nil && p.RelationshipType.IsPaired() {
		p.Right = &RightSide{Product: in.Right.Product, Price: in.Right.Price}
	}
	return nil
}
