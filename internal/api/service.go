// Package api provides the HTTP handlers over the pricing engine: formula
// editing and evaluation, exposure calculation, paper-trade editing, price
// resolution and mark-to-market.
//
// Handlers never fail because of a bad formula or a missing price. Those are
// returned as "warnings" next to a best-effort result; only malformed
// requests (400/422) and price store failures (502) are errors.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/exposure"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/formula"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/metrics"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/period"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/pricing"
)

// Service serves the pricing engine over HTTP. It holds no per-request
// state; every calculation works on its own snapshot of the request.
type Service struct {
	resolver *pricing.Resolver
	limiter  *exposure.Limiter
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new service.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for
// limiter to skip limit checks on exposure books.
func NewService(resolver *pricing.Resolver, limiter *exposure.Limiter, hub *WSHub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if resolver != nil && resolver.Now != nil {
		now = resolver.Now
	}
	return &Service{
		resolver: resolver,
		limiter:  limiter,
		wsHub:    hub,
		logger:   logger,
		now:      now,
	}
}

// Routes mounts the handlers on r (normally under /api/v1).
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
	r.Get("/periods", s.ListPeriods)
	r.Get("/periods/{code}", s.GetPeriod)

	r.Post("/formulas/tokens", s.AddToken)
	r.Post("/formulas/remove", s.RemoveToken)
	r.Post("/formulas/evaluate", s.EvaluateFormula)

	r.Post("/exposures", s.CalculateExposures)
	r.Post("/exposures/daily", s.DailyDistribution)
	r.Post("/exposures/book", s.ExposureBook)

	r.Post("/paper/left", s.UpdatePaperLeft)

	r.Post("/prices/resolve", s.ResolvePrices)
	r.Post("/mtm", s.CalculateMTM)
}

// --- Response types ---

// PeriodResponse describes a month code.
type PeriodResponse struct {
	Code           model.MonthCode            `json:"code"`
	Start          string                     `json:"start"`
	End            string                     `json:"end"`
	Classification model.PeriodClassification `json:"classification"`
	BusinessDays   int                        `json:"business_days"`
}

// FormulaResponse is returned by the formula editing endpoints.
type FormulaResponse struct {
	Formula  model.PricingFormula `json:"formula"`
	Display  string               `json:"display"`
	Error    string               `json:"error,omitempty"`
	Warnings diag.Diagnostics     `json:"warnings,omitempty"`
}

// EvaluateResponse is returned by POST /formulas/evaluate.
type EvaluateResponse struct {
	Price       decimal.Decimal  `json:"price"`
	Display     string           `json:"display"`
	Instruments []string         `json:"instruments"`
	Missing     []string         `json:"missing,omitempty"`
	Warnings    diag.Diagnostics `json:"warnings,omitempty"`
}

// ExposureResponse is returned by POST /exposures.
type ExposureResponse struct {
	Exposures model.ExposureResult  `json:"exposures"`
	Monthly   model.MonthlyExposure `json:"monthly"`
	Warnings  diag.Diagnostics      `json:"warnings,omitempty"`
}

// DailyResponse is returned by POST /exposures/daily.
type DailyResponse struct {
	Daily    model.DistributionMap `json:"daily"`
	Warnings diag.Diagnostics      `json:"warnings,omitempty"`
}

// BookResponse is returned by POST /exposures/book.
type BookResponse struct {
	Months   []model.MonthCode       `json:"months"`
	Monthly  model.MonthlyExposure   `json:"monthly"`
	Totals   map[string]model.Bucket `json:"totals"`
	Breaches []exposure.Breach       `json:"breaches,omitempty"`
	Warnings diag.Diagnostics        `json:"warnings,omitempty"`
}

// ResolveResponse is returned by POST /prices/resolve.
type ResolveResponse struct {
	Month    model.MonthCode  `json:"month"`
	Quotes   []pricing.Quote  `json:"quotes"`
	Warnings diag.Diagnostics `json:"warnings,omitempty"`
}

// MTMResponse is returned by POST /mtm.
type MTMResponse struct {
	pricing.LegMTM
	Warnings diag.Diagnostics `json:"warnings,omitempty"`
}

// --- HTTP Handlers ---

// GetPeriod handles GET /api/v1/periods/{code}
func (s *Service) GetPeriod(w http.ResponseWriter, r *http.Request) {
	code := model.MonthCode(chi.URLParam(r, "code"))
	rng, err := period.ParseMonthCode(code)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, periodResponse(rng, s.now()))
}

// maxPeriodRange caps the months listed by GET /periods.
const maxPeriodRange = 120

// ListPeriods handles GET /api/v1/periods?from=Jan-24&to=Jun-24
func (s *Service) ListPeriods(w http.ResponseWriter, r *http.Request) {
	from, err := period.ParseMonthCode(model.MonthCode(r.URL.Query().Get("from")))
	if err != nil {
		writeError(w, "from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := period.ParseMonthCode(model.MonthCode(r.URL.Query().Get("to")))
	if err != nil {
		writeError(w, "to: "+err.Error(), http.StatusBadRequest)
		return
	}

	codes := period.MonthsBetween(from.Start, to.Start)
	if len(codes) == 0 {
		writeError(w, "to must not precede from", http.StatusBadRequest)
		return
	}
	if len(codes) > maxPeriodRange {
		writeError(w, fmt.Sprintf("range exceeds %d months", maxPeriodRange), http.StatusBadRequest)
		return
	}

	today := s.now()
	out := make([]PeriodResponse, 0, len(codes))
	for _, code := range codes {
		rng, err := period.ParseMonthCode(code)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, periodResponse(rng, today))
	}
	writeJSON(w, http.StatusOK, out)
}

func periodResponse(rng period.Range, today time.Time) PeriodResponse {
	return PeriodResponse{
		Code:           period.FormatMonthCode(rng.Start),
		Start:          period.ISODate(rng.Start),
		End:            period.ISODate(rng.End),
		Classification: period.Classify(rng.Start, rng.End, today),
		BusinessDays:   len(period.BusinessDaysBetween(rng.Start, rng.End)),
	}
}

// AddToken handles POST /api/v1/formulas/tokens. A rejected token returns
// 422 with the formula unchanged.
func (s *Service) AddToken(w http.ResponseWriter, r *http.Request) {
	var req AddTokenRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	f, ds := formula.DecodeOrEmpty(req.Formula)
	next, err := formula.AddToken(f, req.Token)
	if err != nil {
		if !errors.Is(err, formula.ErrInvalidTokenPlacement) {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ds.Info(diag.CodeInvalidTokenPlacement, err.Error())
		s.logDiagnostics(r.Context(), ds)
		writeJSON(w, http.StatusUnprocessableEntity, FormulaResponse{
			Formula:  f,
			Display:  formula.Display(f.Tokens),
			Error:    err.Error(),
			Warnings: ds,
		})
		return
	}

	next = refreshExposures(next, req.Leg)
	s.logDiagnostics(r.Context(), ds)
	writeJSON(w, http.StatusOK, FormulaResponse{
		Formula:  next,
		Display:  formula.Display(next.Tokens),
		Warnings: ds,
	})
}

// RemoveToken handles POST /api/v1/formulas/remove
func (s *Service) RemoveToken(w http.ResponseWriter, r *http.Request) {
	var req RemoveTokenRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	f, ds := formula.DecodeOrEmpty(req.Formula)
	next, err := formula.RemoveToken(f, req.Index)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err := formula.Validate(next.Tokens); err != nil {
		// The edit stands; the formula just is not complete yet.
		ds.Info(diag.CodeFormulaParse, err.Error())
	}

	next = refreshExposures(next, req.Leg)
	s.logDiagnostics(r.Context(), ds)
	writeJSON(w, http.StatusOK, FormulaResponse{
		Formula:  next,
		Display:  formula.Display(next.Tokens),
		Warnings: ds,
	})
}

// refreshExposures recomputes the formula's cached exposures for the leg it
// belongs to. Without a leg the formula is returned as is.
func refreshExposures(f model.PricingFormula, lr *LegRequest) model.PricingFormula {
	if lr == nil {
		return f
	}
	// The leg's own formulas are replaced, so their decode warnings are moot.
	leg, _ := lr.ToLeg()
	leg.Formula = f
	return exposure.RefreshFormula(leg).Formula
}

// EvaluateFormula handles POST /api/v1/formulas/evaluate
func (s *Service) EvaluateFormula(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	price, ds := formula.EvaluateTokens(req.Tokens, req.Prices)
	missing := formula.MissingPrices(req.Tokens, req.Prices)

	outcome := "ok"
	switch {
	case ds.Has(diag.CodeFormulaParse):
		outcome = "parse_error"
	case len(missing) > 0:
		outcome = "missing_price"
	}
	metrics.FormulaEvaluations.WithLabelValues(outcome).Inc()

	s.logDiagnostics(r.Context(), ds)
	writeJSON(w, http.StatusOK, EvaluateResponse{
		Price:       price,
		Display:     formula.Display(req.Tokens),
		Instruments: formula.ExtractInstruments(req.Tokens),
		Missing:     missing,
		Warnings:    ds,
	})
}

// CalculateExposures handles POST /api/v1/exposures
func (s *Service) CalculateExposures(w http.ResponseWriter, r *http.Request) {
	var req ExposureRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	var resp ExposureResponse
	if req.Paper != nil {
		resp.Exposures = exposure.CalculatePaperExposures(*req.Paper)
		resp.Monthly, resp.Warnings = exposure.CalculatePaperMonthlyExposures(*req.Paper)
		metrics.ExposureCalculations.WithLabelValues("paper").Inc()
	} else {
		leg, ds := req.Leg.ToLeg()
		var eds, mds diag.Diagnostics
		resp.Exposures, eds = exposure.Calculate(leg)
		resp.Monthly, mds = exposure.CalculateMonthlyExposures(leg)
		resp.Warnings = mergeUnique(ds, eds, mds)
		metrics.ExposureCalculations.WithLabelValues(string(leg.PricingType)).Inc()
	}

	s.logDiagnostics(r.Context(), resp.Warnings)
	writeJSON(w, http.StatusOK, resp)
}

// DailyDistribution handles POST /api/v1/exposures/daily
func (s *Service) DailyDistribution(w http.ResponseWriter, r *http.Request) {
	var req ExposureRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	var resp DailyResponse
	if req.Paper != nil {
		resp.Daily, resp.Warnings = exposure.CalculatePaperDailyDistribution(*req.Paper)
	} else {
		leg, ds := req.Leg.ToLeg()
		var dds diag.Diagnostics
		resp.Daily, dds = exposure.CalculateDailyDistribution(leg)
		resp.Warnings = mergeUnique(ds, dds)
	}

	s.logDiagnostics(r.Context(), resp.Warnings)
	writeJSON(w, http.StatusOK, resp)
}

// ExposureBook handles POST /api/v1/exposures/book. Limit breaches are
// reported, never enforced.
func (s *Service) ExposureBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	book := exposure.NewBook()
	var warnings diag.Diagnostics
	for _, lr := range req.Legs {
		leg, ds := lr.ToLeg()
		warnings.Merge(ds)
		book.AddLeg(leg)
		metrics.ExposureCalculations.WithLabelValues(string(leg.PricingType)).Inc()
	}
	for _, p := range req.Papers {
		book.AddPaper(p)
		metrics.ExposureCalculations.WithLabelValues("paper").Inc()
	}
	warnings.Merge(book.Diagnostics())

	resp := BookResponse{
		Months:   book.Months(),
		Monthly:  book.Monthly(),
		Totals:   book.Totals(),
		Warnings: warnings,
	}
	if s.limiter != nil {
		resp.Breaches = s.limiter.Check(book)
		for _, b := range resp.Breaches {
			limit := "instrument"
			if errors.Is(b.Err, exposure.ErrCorrelatedLimitExceeded) {
				limit = "correlated"
			}
			metrics.ExposureLimitBreaches.WithLabelValues(limit).Inc()
		}
		if len(resp.Breaches) > 0 {
			s.logger.WarnContext(r.Context(), "exposure limits breached", "breaches", len(resp.Breaches))
		}
	}

	s.logDiagnostics(r.Context(), warnings)
	writeJSON(w, http.StatusOK, resp)
}

// UpdatePaperLeft handles POST /api/v1/paper/left. The response carries the
// right side recomputed from the updated left side.
func (s *Service) UpdatePaperLeft(w http.ResponseWriter, r *http.Request) {
	var req PaperLeftRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	p := req.Trade
	if req.Relationship != nil {
		p = p.WithRelationship(*req.Relationship, req.RightProduct)
	}
	if req.Quantity != nil {
		p = p.WithLeftQuantity(*req.Quantity)
	}
	if req.Period != nil {
		if _, err := period.ParseMonthCode(*req.Period); err != nil {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		p = p.WithLeftPeriod(*req.Period)
	}

	writeJSON(w, http.StatusOK, p)
}

// ResolvePrices handles POST /api/v1/prices/resolve
func (s *Service) ResolvePrices(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	resp := ResolveResponse{Month: req.Month, Quotes: make([]pricing.Quote, 0, len(req.Instruments))}
	for _, instrument := range req.Instruments {
		q, err := s.resolver.ResolvePrice(r.Context(), instrument, req.Month)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "price resolution failed", "instrument", instrument, "err", err)
			writeError(w, "price store unavailable", http.StatusBadGateway)
			return
		}
		resp.Warnings.Merge(q.Diagnostics)
		if !q.Available() {
			resp.Warnings.Warn(diag.CodePriceUnavailable, "no price for instrument", "instrument", instrument)
		}
		resp.Quotes = append(resp.Quotes, q)
	}

	s.logDiagnostics(r.Context(), resp.Warnings)
	writeJSON(w, http.StatusOK, resp)
}

// CalculateMTM handles POST /api/v1/mtm and broadcasts the result.
func (s *Service) CalculateMTM(w http.ResponseWriter, r *http.Request) {
	var req MTMRequest
	if errs := decodeRequest(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	leg, ds := req.Leg.ToLeg()
	m, err := s.resolver.CalculateLegMTM(r.Context(), leg)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "mtm calculation failed", "leg", leg.ID, "err", err)
		writeError(w, "price store unavailable", http.StatusBadGateway)
		return
	}
	warnings := mergeUnique(ds, m.Diagnostics)

	// Broadcast MTM update via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "mtm_calculated",
			ID:         uuid.New().String(),
			LegID:      leg.ID,
			Month:      string(m.Month),
			TradePrice: m.TradePrice.String(),
			MTMPrice:   m.MTMPrice.String(),
			Value:      m.Value.String(),
			Warnings:   len(warnings),
			Timestamp:  s.now().UTC(),
		})
	}

	s.logDiagnostics(r.Context(), warnings)
	writeJSON(w, http.StatusOK, MTMResponse{LegMTM: m, Warnings: warnings})
}

// --- Helpers ---

func (s *Service) logDiagnostics(ctx context.Context, ds diag.Diagnostics) {
	ds.Log(ctx, s.logger)
}

// mergeUnique concatenates diagnostic lists, dropping exact repeats (the
// same leg is often analysed by several calculations).
func mergeUnique(lists ...diag.Diagnostics) diag.Diagnostics {
	var out diag.Diagnostics
	for _, list := range lists {
		out.MergeUnique(list)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeValidation(w http.ResponseWriter, errs []ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "invalid request",
		"errors": errs,
	})
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
