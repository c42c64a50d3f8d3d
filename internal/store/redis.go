package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

// CachedStore wraps a primary PriceStore (PostgreSQL) with a Redis
// read-through cache. Instrument lookups and forward prices are cached for
// ttl; historical series and "latest" queries always hit the primary since
// they move with every price load.
type CachedStore struct {
	primary PriceStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary PriceStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LookupInstrument(ctx context.Context, code string) (model.Instrument, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, instrumentKey(code)).Bytes()
	if err == nil {
		var inst model.Instrument
		if json.Unmarshal(data, &inst) == nil {
			return inst, nil
		}
	}

	// Cache miss: read from primary. Misses are not cached so a newly loaded
	// instrument is visible immediately.
	inst, err := s.primary.LookupInstrument(ctx, code)
	if err != nil {
		return model.Instrument{}, err
	}

	if data, err := json.Marshal(inst); err == nil {
		s.rdb.Set(ctx, instrumentKey(code), data, s.ttl)
	}
	return inst, nil
}

func (s *CachedStore) FetchForwardPrice(ctx context.Context, instrumentID string, monthStart time.Time) (decimal.Decimal, error) {
	key := forwardKey(instrumentID, monthStart)

	// Try cache.
	if v, err := s.rdb.Get(ctx, key).Result(); err == nil {
		if price, err := decimal.NewFromString(v); err == nil {
			return price, nil
		}
	}

	// Cache miss.
	price, err := s.primary.FetchForwardPrice(ctx, instrumentID, monthStart)
	if err != nil {
		return decimal.Zero, err
	}

	s.rdb.Set(ctx, key, price.String(), s.ttl)
	return price, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) FetchHistoricalPrices(ctx context.Context, instrumentID string, from, to time.Time) ([]model.PricePoint, error) {
	return s.primary.FetchHistoricalPrices(ctx, instrumentID, from, to)
}

func (s *CachedStore) FetchLatestForwardPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	return s.primary.FetchLatestForwardPrice(ctx, instrumentID)
}

func (s *CachedStore) FetchLatestHistoricalPrice(ctx context.Context, instrumentID string) (model.PricePoint, error) {
	return s.primary.FetchLatestHistoricalPrice(ctx, instrumentID)
}

// --- Cache helpers ---

func instrumentKey(code string) string { return fmt.Sprintf("instrument:%s", code) }
func forwardKey(id string, month time.Time) string {
	return fmt.Sprintf("forward:%s:%s", id, monthStartKey(month))
}
