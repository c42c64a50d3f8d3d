package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/formula"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/metrics"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/period"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/store"
)

// MTMOptions tunes CalculateMTMPrice.
type MTMOptions struct {
	// FutureMonth, when set, replaces the requested month for every lookup.
	FutureMonth model.MonthCode
}

// MTMResult is a formula evaluated against resolved prices.
type MTMResult struct {
	Price       decimal.Decimal  `json:"price"`
	Month       model.MonthCode  `json:"month"`
	Quotes      []Quote          `json:"quotes"`
	Missing     []string         `json:"missing,omitempty"`
	Diagnostics diag.Diagnostics `json:"diagnostics,omitempty"`
}

// CalculateMTMPrice resolves every instrument of tokens for the month and
// evaluates the formula. Instruments without a price count as 0 and are
// listed in Missing.
func (r *Resolver) CalculateMTMPrice(ctx context.Context, tokens []model.FormulaToken, code model.MonthCode, opts MTMOptions) (MTMResult, error) {
	month := code
	if opts.FutureMonth != "" {
		month = opts.FutureMonth
	}
	res := MTMResult{Month: month}

	quotes, err := resolveAll(ctx, formula.ExtractInstruments(tokens), func(ctx context.Context, instrument string) (Quote, error) {
		return r.ResolvePrice(ctx, instrument, month)
	})
	if err != nil {
		return res, err
	}
	res.Quotes = quotes
	r.evaluate(&res.Price, &res.Missing, &res.Diagnostics, tokens, quotes)
	return res, nil
}

// LegPrice is the trade price of a physical leg.
type LegPrice struct {
	Price          decimal.Decimal            `json:"price"`
	Classification model.PeriodClassification `json:"classification,omitempty"`
	Quotes         []Quote                    `json:"quotes,omitempty"`
	Missing        []string                   `json:"missing,omitempty"`
	Diagnostics    diag.Diagnostics           `json:"diagnostics,omitempty"`
}

// CalculateTradeLegPrice prices a leg over its pricing period. EFP legs use
// the EFP settlement price. Standard legs resolve each instrument by the
// period's classification:
//
//	historical → mean of the daily rows over the whole period
//	current    → mean of the rows up to today, else the start month's forward
//	future     → forward price of the start month
func (r *Resolver) CalculateTradeLegPrice(ctx context.Context, leg model.TradeLeg) (LegPrice, error) {
	if leg.IsEFP() {
		return r.EFPSettlementPrice(ctx, leg)
	}

	var lp LegPrice
	if leg.Formula.IsEmpty() {
		return lp, nil
	}
	if leg.PricingPeriodStart.IsZero() || leg.PricingPeriodEnd.IsZero() {
		lp.Diagnostics.Warn(diag.CodePeriodUnparseable, "leg has no pricing period", "leg", leg.ID)
		return lp, nil
	}

	start, end := period.Midnight(leg.PricingPeriodStart), period.Midnight(leg.PricingPeriodEnd)
	today := r.today()
	lp.Classification = period.Classify(start, end, today)

	quotes, err := resolveAll(ctx, formula.ExtractInstruments(leg.Formula.Tokens), func(ctx context.Context, instrument string) (Quote, error) {
		return r.legQuote(ctx, instrument, lp.Classification, start, end, today)
	})
	if err != nil {
		return lp, err
	}
	lp.Quotes = quotes
	r.evaluate(&lp.Price, &lp.Missing, &lp.Diagnostics, leg.Formula.Tokens, quotes)
	return lp, nil
}

func (r *Resolver) legQuote(ctx context.Context, instrument string, class model.PeriodClassification, start, end, today time.Time) (Quote, error) {
	q := Quote{
		Instrument:     instrument,
		Month:          period.FormatMonthCode(start),
		Classification: class,
		Mode:           ModeUnavailable,
	}
	inst, ok, err := r.lookupInstrument(ctx, instrument)
	if err != nil || !ok {
		metrics.PriceResolutions.WithLabelValues(string(q.Mode)).Inc()
		return q, err
	}

	switch class {
	case model.Historical:
		err = r.fillHistorical(ctx, &q, inst.ID, start, end)
	case model.Current:
		err = r.fillHistorical(ctx, &q, inst.ID, start, today)
		if err == nil && !q.Available() {
			err = r.fillForward(ctx, &q, inst.ID, monthStart(start))
		}
	default:
		err = r.fillForward(ctx, &q, inst.ID, monthStart(start))
	}
	if err != nil {
		return q, err
	}
	metrics.PriceResolutions.WithLabelValues(string(q.Mode)).Inc()
	return q, nil
}

// EFPSettlementPrice returns the settlement price of an EFP leg: the fixed
// futures value plus premium once agreed, otherwise the latest gasoil
// futures price plus premium. Without a gasoil price the premium alone is
// used.
func (r *Resolver) EFPSettlementPrice(ctx context.Context, leg model.TradeLeg) (LegPrice, error) {
	var lp LegPrice
	if leg.EFPAgreedStatus {
		lp.Price = leg.EFPFixedValue.Add(leg.EFPPremium)
		return lp, nil
	}

	q := Quote{Instrument: model.GasoilInstrument, Month: leg.EFPDesignatedMonth, Mode: ModeUnavailable}
	inst, ok, err := r.lookupInstrument(ctx, model.GasoilInstrument)
	if err != nil {
		return lp, err
	}
	if ok {
		latest, err := call(ctx, r, "latest_historical_price", func(ctx context.Context) (model.PricePoint, error) {
			return r.store.FetchLatestHistoricalPrice(ctx, inst.ID)
		})
		switch {
		case err == nil:
			q.Price = latest.Price
			q.Mode = ModeHistorical
		case !store.IsNotFound(err):
			return lp, err
		}
	}
	metrics.PriceResolutions.WithLabelValues(string(q.Mode)).Inc()

	lp.Quotes = []Quote{q}
	lp.Price = leg.EFPPremium
	if q.Available() {
		lp.Price = q.Price.Add(leg.EFPPremium)
	} else {
		lp.Missing = []string{model.GasoilInstrument}
		lp.Diagnostics.Warn(diag.CodePriceUnavailable, "no gasoil futures price, settling at premium only", "leg", leg.ID)
	}
	return lp, nil
}

// MTMValue is the mark-to-market value of a position:
// (tradePrice − mtmPrice) × quantity, negated for buys.
func MTMValue(tradePrice, mtmPrice, quantity decimal.Decimal, bs model.BuySell) decimal.Decimal {
	v := tradePrice.Sub(mtmPrice).Mul(quantity)
	if bs == model.Buy {
		return v.Neg()
	}
	return v
}

// LegMTM is the mark-to-market of one physical leg.
type LegMTM struct {
	LegID       string           `json:"leg_id"`
	Month       model.MonthCode  `json:"month"`
	TradePrice  decimal.Decimal  `json:"trade_price"`
	MTMPrice    decimal.Decimal  `json:"mtm_price"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Value       decimal.Decimal  `json:"value"`
	Trade       LegPrice         `json:"trade"`
	MTM         MTMResult        `json:"mtm"`
	Diagnostics diag.Diagnostics `json:"diagnostics,omitempty"`
}

// CalculateLegMTM marks a leg to market in the current month (or the leg's
// MTM future month). The MTM formula is used when set, else the pricing
// formula. EFP legs are marked against gasoil futures, see efpMarkPrice.
func (r *Resolver) CalculateLegMTM(ctx context.Context, leg model.TradeLeg) (LegMTM, error) {
	out := LegMTM{LegID: leg.ID, Quantity: leg.Quantity}

	trade, err := r.CalculateTradeLegPrice(ctx, leg)
	if err != nil {
		return out, err
	}
	out.Trade = trade
	out.TradePrice = trade.Price
	out.Diagnostics.Merge(trade.Diagnostics)

	month := period.FormatMonthCode(r.today())
	if leg.IsEFP() {
		mtm, err := r.efpMarkPrice(ctx, leg, trade, month)
		if err != nil {
			return out, err
		}
		out.Month = mtm.Month
		out.MTM = mtm
		out.Diagnostics.Merge(mtm.Diagnostics)
	} else {
		tokens := leg.MTMFormula.Tokens
		if len(tokens) == 0 {
			tokens = leg.Formula.Tokens
		}
		mtm, err := r.CalculateMTMPrice(ctx, tokens, month, MTMOptions{FutureMonth: leg.MTMFutureMonth})
		if err != nil {
			return out, err
		}
		out.Month = mtm.Month
		out.MTM = mtm
		out.Diagnostics.Merge(mtm.Diagnostics)
	}

	out.MTMPrice = out.MTM.Price
	out.Value = MTMValue(out.TradePrice, out.MTMPrice, leg.Quantity, leg.BuySell)
	return out, nil
}

// efpMarkPrice marks an EFP leg. An agreed leg has a fixed futures value and
// is marked at its own settlement price. An unagreed leg is marked at the
// gasoil futures price for its designated month plus premium; without that
// price it keeps the settlement price.
func (r *Resolver) efpMarkPrice(ctx context.Context, leg model.TradeLeg, trade LegPrice, month model.MonthCode) (MTMResult, error) {
	res := MTMResult{Price: trade.Price, Month: month, Quotes: trade.Quotes, Missing: trade.Missing}
	if leg.EFPAgreedStatus || leg.EFPDesignatedMonth == "" {
		return res, nil
	}

	q, err := r.ResolvePrice(ctx, model.GasoilInstrument, leg.EFPDesignatedMonth)
	if err != nil {
		return res, err
	}
	res.Month = leg.EFPDesignatedMonth
	res.Quotes = []Quote{q}
	res.Missing = nil
	res.Diagnostics.Merge(q.Diagnostics)
	if !q.Available() {
		res.Missing = []string{model.GasoilInstrument}
		res.Diagnostics.Warn(diag.CodePriceUnavailable, "no gasoil futures price for designated month, marking at settlement price",
			"leg", leg.ID, "month", string(leg.EFPDesignatedMonth))
		return res, nil
	}
	res.Price = q.Price.Add(leg.EFPPremium)
	return res, nil
}

// evaluate runs the formula against the quotes and records the outcome.
func (r *Resolver) evaluate(price *decimal.Decimal, missing *[]string, ds *diag.Diagnostics, tokens []model.FormulaToken, quotes []Quote) {
	for _, q := range quotes {
		ds.Merge(q.Diagnostics)
	}
	prices := pricesOf(quotes)
	v, eds := formula.EvaluateTokens(tokens, prices)
	ds.Merge(eds)
	*price = v
	*missing = formula.MissingPrices(tokens, prices)

	outcome := "ok"
	switch {
	case eds.Has(diag.CodeFormulaParse):
		outcome = "parse_error"
	case len(*missing) > 0:
		outcome = "missing_price"
	}
	metrics.FormulaEvaluations.WithLabelValues(outcome).Inc()
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
