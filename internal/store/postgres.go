package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

// PostgresStore implements PriceStore using PostgreSQL as the source of truth.
// All prices are stored as NUMERIC and read back as TEXT for exact decimal
// precision.
//
// Expected tables:
//
//	pricing_instruments (id, instrument_code)
//	historical_prices   (instrument_id, price_date DATE, price NUMERIC)
//	forward_prices      (instrument_id, forward_month DATE, price NUMERIC)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LookupInstrument(ctx context.Context, code string) (model.Instrument, error) {
	var inst model.Instrument
	err := s.pool.QueryRow(ctx,
		`SELECT id::TEXT, instrument_code FROM pricing_instruments
		 WHERE instrument_code = $1 LIMIT 1`, code).
		Scan(&inst.ID, &inst.Code)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Instrument{}, fmt.Errorf("lookup instrument %q: %w", code, err)
	}

	// Fuzzy fallback: upstream product names are not perfectly canonical.
	err = s.pool.QueryRow(ctx,
		`SELECT id::TEXT, instrument_code FROM pricing_instruments
		 WHERE instrument_code ILIKE '%' || $1 || '%'
		 ORDER BY length(instrument_code) LIMIT 1`, code).
		Scan(&inst.ID, &inst.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Instrument{}, fmt.Errorf("%w: %q", ErrInstrumentNotFound, code)
	}
	if err != nil {
		return model.Instrument{}, fmt.Errorf("lookup instrument %q: %w", code, err)
	}
	return inst, nil
}

func (s *PostgresStore) FetchHistoricalPrices(ctx context.Context, instrumentID string, from, to time.Time) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT price_date, price::TEXT
		 FROM historical_prices
		 WHERE instrument_id = $1 AND price_date BETWEEN $2 AND $3
		 ORDER BY price_date`, instrumentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch historical prices %s: %w", instrumentID, err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

func (s *PostgresStore) FetchForwardPrice(ctx context.Context, instrumentID string, monthStart time.Time) (decimal.Decimal, error) {
	var priceS string
	err := s.pool.QueryRow(ctx,
		`SELECT price::TEXT FROM forward_prices
		 WHERE instrument_id = $1 AND forward_month = $2`, instrumentID, monthStart).
		Scan(&priceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: forward %s for %s", ErrNoPrice, monthStart.Format(time.DateOnly), instrumentID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch forward price %s: %w", instrumentID, err)
	}
	return decimal.NewFromString(priceS)
}

func (s *PostgresStore) FetchLatestForwardPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	var priceS string
	err := s.pool.QueryRow(ctx,
		`SELECT price::TEXT FROM forward_prices
		 WHERE instrument_id = $1
		 ORDER BY forward_month DESC LIMIT 1`, instrumentID).
		Scan(&priceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: no forward curve for %s", ErrNoPrice, instrumentID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch latest forward price %s: %w", instrumentID, err)
	}
	return decimal.NewFromString(priceS)
}

func (s *PostgresStore) FetchLatestHistoricalPrice(ctx context.Context, instrumentID string) (model.PricePoint, error) {
	var p model.PricePoint
	var priceS string
	err := s.pool.QueryRow(ctx,
		`SELECT price_date, price::TEXT FROM historical_prices
		 WHERE instrument_id = $1
		 ORDER BY price_date DESC LIMIT 1`, instrumentID).
		Scan(&p.Date, &priceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PricePoint{}, fmt.Errorf("%w: no history for %s", ErrNoPrice, instrumentID)
	}
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("fetch latest historical price %s: %w", instrumentID, err)
	}
	p.Price, err = decimal.NewFromString(priceS)
	return p, err
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPricePoints(rows pgxRows) ([]model.PricePoint, error) {
	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var priceS string
		if err := rows.Scan(&p.Date, &priceS); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(priceS)
		points = append(points, p)
	}
	return points, rows.Err()
}
