// Package pricing resolves instrument prices for a month from the price
// store and combines them into formula, trade-leg, MTM and EFP settlement
// prices.
//
// Resolution policy for one instrument and month:
//
//	historical month        → mean of the month's daily rows
//	current or future month → forward price for the first of the month,
//	                          else the latest forward price (stale fallback)
//
// An instrument without a usable price resolves to ModeUnavailable; formula
// evaluation then counts it as 0. Only store I/O errors are returned.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/metrics"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/period"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/store"
)

// Mode says where a resolved price came from.
type Mode string

const (
	ModeHistorical      Mode = "historical"
	ModeForward         Mode = "forward"
	ModeForwardFallback Mode = "forward_fallback"
	ModeUnavailable     Mode = "unavailable"
)

// maxConcurrentLookups bounds the per-calculation fan-out to the store.
const maxConcurrentLookups = 8

// Quote is the resolved price of one instrument.
type Quote struct {
	Instrument     string                     `json:"instrument"`
	Month          model.MonthCode            `json:"month,omitempty"`
	Classification model.PeriodClassification `json:"classification,omitempty"`
	Mode           Mode                       `json:"mode"`
	Price          decimal.Decimal            `json:"price"`
	Diagnostics    diag.Diagnostics           `json:"diagnostics,omitempty"`
}

// Available reports whether the quote carries a usable price.
func (q Quote) Available() bool {
	return q.Mode != ModeUnavailable
}

// Resolver resolves prices through a PriceStore.
type Resolver struct {
	store store.PriceStore

	// Now is the clock used to classify periods. Defaults to time.Now.
	Now func() time.Time

	// Timeout bounds every individual store call. Zero disables it.
	Timeout time.Duration

	logger *slog.Logger
}

// NewResolver creates a resolver. A nil logger uses slog.Default().
func NewResolver(st store.PriceStore, timeout time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:   st,
		Now:     time.Now,
		Timeout: timeout,
		logger:  logger,
	}
}

func (r *Resolver) today() time.Time {
	if r.Now == nil {
		return period.Midnight(time.Now())
	}
	return period.Midnight(r.Now())
}

// ResolvePrice resolves instrument's price for the month named by code.
func (r *Resolver) ResolvePrice(ctx context.Context, instrument string, code model.MonthCode) (Quote, error) {
	q := Quote{Instrument: instrument, Month: code, Mode: ModeUnavailable}

	rng, err := period.ParseMonthCode(code)
	if err != nil {
		q.Diagnostics.Warn(diag.CodePeriodUnparseable, err.Error(), "instrument", instrument)
		metrics.PriceResolutions.WithLabelValues(string(q.Mode)).Inc()
		return q, nil
	}
	q.Classification = period.Classify(rng.Start, rng.End, r.today())

	inst, ok, err := r.lookupInstrument(ctx, instrument)
	if err != nil {
		return q, err
	}
	if ok {
		if q.Classification == model.Historical {
			err = r.fillHistorical(ctx, &q, inst.ID, rng.Start, rng.End)
		} else {
			err = r.fillForward(ctx, &q, inst.ID, rng.Start)
		}
		if err != nil {
			return q, err
		}
	}

	metrics.PriceResolutions.WithLabelValues(string(q.Mode)).Inc()
	return q, nil
}

// resolveAll runs resolve for every instrument concurrently. The result is
// ordered like instruments regardless of completion order.
func resolveAll(ctx context.Context, instruments []string, resolve func(context.Context, string) (Quote, error)) ([]Quote, error) {
	quotes := make([]Quote, len(instruments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, instrument := range instruments {
		i, instrument := i, instrument
		g.Go(func() error {
			q, err := resolve(gctx, instrument)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", instrument, err)
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

// pricesOf collects the available quotes into an evaluation price map.
func pricesOf(quotes []Quote) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(quotes))
	for _, q := range quotes {
		if q.Available() {
			prices[q.Instrument] = q.Price
		}
	}
	return prices
}

// --- Store access ---

func (r *Resolver) lookupInstrument(ctx context.Context, code string) (model.Instrument, bool, error) {
	inst, err := call(ctx, r, "lookup_instrument", func(ctx context.Context) (model.Instrument, error) {
		return r.store.LookupInstrument(ctx, code)
	})
	if store.IsNotFound(err) {
		return inst, false, nil
	}
	return inst, err == nil, err
}

// fillHistorical sets q to the mean of the daily rows in [from, to]. No rows
// leaves q unavailable.
func (r *Resolver) fillHistorical(ctx context.Context, q *Quote, instrumentID string, from, to time.Time) error {
	rows, err := call(ctx, r, "historical_prices", func(ctx context.Context) ([]model.PricePoint, error) {
		return r.store.FetchHistoricalPrices(ctx, instrumentID, from, to)
	})
	if store.IsNotFound(err) || (err == nil && len(rows) == 0) {
		return nil
	}
	if err != nil {
		return err
	}
	q.Price = mean(rows)
	q.Mode = ModeHistorical
	return nil
}

// fillForward sets q to the forward price of the month starting at
// monthStart, falling back to the latest forward price.
func (r *Resolver) fillForward(ctx context.Context, q *Quote, instrumentID string, monthStart time.Time) error {
	price, err := call(ctx, r, "forward_price", func(ctx context.Context) (decimal.Decimal, error) {
		return r.store.FetchForwardPrice(ctx, instrumentID, monthStart)
	})
	if err == nil {
		q.Price = price
		q.Mode = ModeForward
		return nil
	}
	if !store.IsNotFound(err) {
		return err
	}

	price, err = call(ctx, r, "latest_forward_price", func(ctx context.Context) (decimal.Decimal, error) {
		return r.store.FetchLatestForwardPrice(ctx, instrumentID)
	})
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	month := period.FormatMonthCode(monthStart)
	r.logger.WarnContext(ctx, "using latest forward price",
		"instrument", q.Instrument,
		"month", month,
		"price", price.String(),
	)
	q.Diagnostics.Warn(diag.CodeStaleForwardPrice, "no forward price for month, using latest available",
		"instrument", q.Instrument, "month", string(month))
	q.Price = price
	q.Mode = ModeForwardFallback
	return nil
}

// call runs one store operation under the resolver's timeout and records its
// latency.
func call[T any](ctx context.Context, r *Resolver, op string, fn func(context.Context) (T, error)) (T, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	defer metrics.ObserveLookup(op, time.Now())
	return fn(ctx)
}

func mean(rows []model.PricePoint) decimal.Decimal {
	if len(rows) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(rows))))
}
