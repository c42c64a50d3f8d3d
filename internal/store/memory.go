package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/period"
)

// MemoryStore implements PriceStore with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	instruments []model.Instrument
	historical  map[string][]model.PricePoint          // instrument ID → rows sorted by date
	forward     map[string]map[string]decimal.Decimal // instrument ID → ISO month start → price
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		historical: make(map[string][]model.PricePoint),
		forward:    make(map[string]map[string]decimal.Decimal),
	}
}

// --- Seeding ---

// AddInstrument registers an instrument. Duplicate IDs are rejected.
func (s *MemoryStore) AddInstrument(inst model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instruments {
		if existing.ID == inst.ID {
			return fmt.Errorf("instrument %s already exists", inst.ID)
		}
	}
	s.instruments = append(s.instruments, inst)
	return nil
}

// AddHistoricalPrice records a daily price, replacing any row for the same day.
func (s *MemoryStore) AddHistoricalPrice(instrumentID string, date time.Time, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date = period.Midnight(date)
	rows := s.historical[instrumentID]
	for i := range rows {
		if rows[i].Date.Equal(date) {
			rows[i].Price = price
			return
		}
	}
	rows = append(rows, model.PricePoint{Date: date, Price: price})
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	s.historical[instrumentID] = rows
}

// SetForwardPrice sets the forward-curve price of the month containing month.
func (s *MemoryStore) SetForwardPrice(instrumentID string, month time.Time, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	curve, ok := s.forward[instrumentID]
	if !ok {
		curve = make(map[string]decimal.Decimal)
		s.forward[instrumentID] = curve
	}
	curve[monthStartKey(month)] = price
}

// --- PriceStore ---

func (s *MemoryStore) LookupInstrument(_ context.Context, code string) (model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inst := range s.instruments {
		if inst.Code == code {
			return inst, nil
		}
	}
	needle := strings.ToLower(strings.TrimSpace(code))
	if needle != "" {
		for _, inst := range s.instruments {
			if strings.Contains(strings.ToLower(inst.Code), needle) {
				return inst, nil
			}
		}
	}
	return model.Instrument{}, fmt.Errorf("%w: %q", ErrInstrumentNotFound, code)
}

func (s *MemoryStore) FetchHistoricalPrices(_ context.Context, instrumentID string, from, to time.Time) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := period.Midnight(from), period.Midnight(to)
	var result []model.PricePoint
	for _, row := range s.historical[instrumentID] {
		if !row.Date.Before(lo) && !row.Date.After(hi) {
			result = append(result, row)
		}
	}
	return result, nil
}

func (s *MemoryStore) FetchForwardPrice(_ context.Context, instrumentID string, monthStart time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.forward[instrumentID][monthStartKey(monthStart)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: forward %s for %s", ErrNoPrice, monthStartKey(monthStart), instrumentID)
	}
	return price, nil
}

func (s *MemoryStore) FetchLatestForwardPrice(_ context.Context, instrumentID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := ""
	for month := range s.forward[instrumentID] {
		if month > latest {
			latest = month
		}
	}
	if latest == "" {
		return decimal.Zero, fmt.Errorf("%w: no forward curve for %s", ErrNoPrice, instrumentID)
	}
	return s.forward[instrumentID][latest], nil
}

func (s *MemoryStore) FetchLatestHistoricalPrice(_ context.Context, instrumentID string) (model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.historical[instrumentID]
	if len(rows) == 0 {
		return model.PricePoint{}, fmt.Errorf("%w: no history for %s", ErrNoPrice, instrumentID)
	}
	return rows[len(rows)-1], nil
}

// monthStartKey formats the first day of t's month; ISO dates sort
// chronologically as strings.
func monthStartKey(t time.Time) string {
	return period.ISODate(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC))
}
