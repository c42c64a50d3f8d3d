// Package store defines the price-data interface consumed by the pricing
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

var (
	// ErrInstrumentNotFound is returned when no instrument matches a code,
	// neither exactly nor by case-insensitive substring.
	ErrInstrumentNotFound = errors.New("store: instrument not found")

	// ErrNoPrice is returned when a price lookup has no matching row.
	ErrNoPrice = errors.New("store: no price")
)

// IsNotFound reports whether err is a soft miss rather than an I/O failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInstrumentNotFound) || errors.Is(err, ErrNoPrice)
}

// PriceStore is the read-only price interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer.
type PriceStore interface {
	// LookupInstrument resolves an instrument code, trying an exact match
	// first and a case-insensitive substring match as a last resort.
	LookupInstrument(ctx context.Context, code string) (model.Instrument, error)

	// FetchHistoricalPrices returns the daily rows in [from, to], oldest first.
	FetchHistoricalPrices(ctx context.Context, instrumentID string, from, to time.Time) ([]model.PricePoint, error)

	// FetchForwardPrice returns the forward-curve price for the month
	// starting at monthStart.
	FetchForwardPrice(ctx context.Context, instrumentID string, monthStart time.Time) (decimal.Decimal, error)

	// FetchLatestForwardPrice returns the most recent forward month's price.
	FetchLatestForwardPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error)

	// FetchLatestHistoricalPrice returns the most recent daily row.
	FetchLatestHistoricalPrice(ctx context.Context, instrumentID string) (model.PricePoint, error)
}
