package exposure

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/formula"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func mustFormula(t *testing.T, tokens ...model.FormulaToken) model.PricingFormula {
	t.Helper()
	f, err := formula.BuildFormula(tokens...)
	if err != nil {
		t.Fatalf("build formula: %v", err)
	}
	return f
}

func standardLeg(t *testing.T, bs model.BuySell, qty float64, tokens ...model.FormulaToken) model.TradeLeg {
	t.Helper()
	return model.TradeLeg{
		ID:                 "leg-1",
		Product:            "UCOME",
		BuySell:            bs,
		Quantity:           d(qty),
		PricingType:        model.PricingStandard,
		LoadingPeriodStart: date(2024, time.March, 10),
		LoadingPeriodEnd:   date(2024, time.March, 20),
		PricingPeriodStart: date(2024, time.February, 1),
		PricingPeriodEnd:   date(2024, time.March, 31),
		Formula:            mustFormula(t, tokens...),
	}
}

func assertDecimal(t *testing.T, name string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s: expected %s, got %s", name, want, got)
	}
}

// --- Leg exposures ---

func TestCalculateExposures_WorkedExample(t *testing.T) {
	leg := standardLeg(t, model.Sell, 100,
		formula.Instrument("Argus UCOME"), formula.Operator("+"), formula.FixedValue("50"))

	res := CalculateExposures(leg)

	assertDecimal(t, "physical UCOME", res.Physical["UCOME"], d(-100))
	assertDecimal(t, "pricing Argus UCOME", res.Pricing["Argus UCOME"], d(100))
	if len(res.Pricing) != 1 {
		t.Errorf("expected one pricing instrument, got %v", res.Pricing)
	}
}

func TestCalculateExposures_SignFollowsDirection(t *testing.T) {
	tokens := []model.FormulaToken{
		formula.Instrument("Argus UCOME"), formula.Operator("-"), formula.Instrument("Argus FAME0"),
	}

	buy := CalculateExposures(standardLeg(t, model.Buy, 1000, tokens...))
	sell := CalculateExposures(standardLeg(t, model.Sell, 1000, tokens...))

	assertDecimal(t, "buy physical", buy.Physical["UCOME"], d(1000))
	assertDecimal(t, "buy UCOME", buy.Pricing["Argus UCOME"], d(-1000))
	assertDecimal(t, "buy FAME0", buy.Pricing["Argus FAME0"], d(1000))

	for instrument, v := range buy.Pricing {
		assertDecimal(t, "sell mirrors buy for "+instrument, sell.Pricing[instrument], v.Neg())
	}
	assertDecimal(t, "sell physical", sell.Physical["UCOME"], d(-1000))
}

func TestCalculateExposures_Tolerance(t *testing.T) {
	leg := standardLeg(t, model.Buy, 1000, formula.Instrument("Platts Diesel"))
	leg.Tolerance = d(5)

	res := CalculateExposures(leg)

	assertDecimal(t, "physical", res.Physical["UCOME"], d(1050))
	assertDecimal(t, "pricing", res.Pricing["Platts Diesel"], d(-1050))
}

func TestCalculateExposures_ZeroQuantityKeepsProductKey(t *testing.T) {
	leg := standardLeg(t, model.Buy, 0, formula.Instrument("Argus UCOME"))

	res := CalculateExposures(leg)

	v, ok := res.Physical["UCOME"]
	if !ok {
		t.Fatal("expected product key in physical exposures")
	}
	assertDecimal(t, "physical", v, decimal.Zero)
}

func TestCalculateExposures_EmptyFormula(t *testing.T) {
	leg := standardLeg(t, model.Buy, 500)

	res := CalculateExposures(leg)

	if len(res.Pricing) != 0 {
		t.Errorf("expected no pricing exposure, got %v", res.Pricing)
	}
	assertDecimal(t, "physical", res.Physical["UCOME"], d(500))
}

func TestCalculateExposures_NegativeConstantFlipsSign(t *testing.T) {
	leg := standardLeg(t, model.Buy, 100,
		formula.Instrument("Argus UCOME"), formula.Operator("*"), formula.FixedValue("-1"))

	res := CalculateExposures(leg)

	assertDecimal(t, "pricing", res.Pricing["Argus UCOME"], d(100))
}

func TestCalculateExposures_EFP(t *testing.T) {
	tests := []struct {
		name    string
		agreed  bool
		bs      model.BuySell
		want    map[string]decimal.Decimal
		wantLen int
	}{
		{"unagreed buy", false, model.Buy, map[string]decimal.Decimal{model.EFPInstrument: d(-200)}, 1},
		{"unagreed sell", false, model.Sell, map[string]decimal.Decimal{model.EFPInstrument: d(200)}, 1},
		{"agreed", true, model.Buy, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leg := standardLeg(t, tt.bs, 200, formula.Instrument("Argus UCOME"))
			leg.PricingType = model.PricingEFP
			leg.EFPAgreedStatus = tt.agreed
			leg.EFPDesignatedMonth = "Mar-24"

			res := CalculateExposures(leg)

			if len(res.Pricing) != tt.wantLen {
				t.Fatalf("expected %d pricing entries, got %v", tt.wantLen, res.Pricing)
			}
			for k, v := range tt.want {
				assertDecimal(t, k, res.Pricing[k], v)
			}
			if _, ok := res.Physical["UCOME"]; !ok {
				t.Error("expected physical exposure regardless of EFP status")
			}
		})
	}
}

func TestCalculateExposures_DistributionOverride(t *testing.T) {
	leg := standardLeg(t, model.Buy, 100, formula.Instrument("Argus UCOME"))
	leg.Formula.MonthlyDistribution = map[string]map[model.MonthCode]decimal.Decimal{
		"Argus HVO": {"Feb-24": d(-30), "Mar-24": d(-70)},
	}

	res := CalculateExposures(leg)

	if _, ok := res.Pricing["Argus UCOME"]; ok {
		t.Error("override should replace formula-derived exposure")
	}
	assertDecimal(t, "Argus HVO", res.Pricing["Argus HVO"], d(-100))
}

func TestCalculate_UnparseableFormulaFallsBack(t *testing.T) {
	leg := standardLeg(t, model.Buy, 100)
	// Bypasses the builder: an operand with no operator between them.
	leg.Formula.Tokens = []model.FormulaToken{
		{Type: model.TokenInstrument, Value: "Argus UCOME"},
		{Type: model.TokenInstrument, Value: "Argus FAME0"},
	}

	res, ds := Calculate(leg)

	if !ds.Has(diag.CodeFormulaParse) {
		t.Errorf("expected %s diagnostic, got %v", diag.CodeFormulaParse, ds)
	}
	assertDecimal(t, "UCOME", res.Pricing["Argus UCOME"], d(-100))
	assertDecimal(t, "FAME0", res.Pricing["Argus FAME0"], d(-100))
}

func TestRefreshFormula(t *testing.T) {
	leg := standardLeg(t, model.Sell, 10, formula.Instrument("Argus RME"))

	leg = RefreshFormula(leg)

	assertDecimal(t, "cached", leg.Formula.Exposures.Pricing["Argus RME"], d(10))
}

// --- Paper exposures ---

func TestCalculatePaperExposures_Diff(t *testing.T) {
	p := model.NewPaperTrade("p-1", model.Buy, model.RelationshipDiff,
		model.PaperSide{Product: "UCOME", Quantity: d(500), Period: "Mar-24"}, "LSGO")

	res := CalculatePaperExposures(p)

	if len(res.Physical) != 0 {
		t.Errorf("paper trades must not book physical exposure, got %v", res.Physical)
	}
	assertDecimal(t, "paper UCOME", res.Paper["UCOME"], d(500))
	assertDecimal(t, "paper LSGO", res.Paper["LSGO"], d(-500))
	assertDecimal(t, "pricing UCOME", res.Pricing["UCOME"], d(500))
	assertDecimal(t, "pricing LSGO", res.Pricing["LSGO"], d(-500))
}

func TestCalculatePaperExposures_FPSell(t *testing.T) {
	p := model.NewPaperTrade("p-2", model.Sell, model.RelationshipFP,
		model.PaperSide{Product: "FAME0", Quantity: d(250), Period: "Apr-24"}, "LSGO")

	res := CalculatePaperExposures(p)

	if len(res.Paper) != 1 {
		t.Fatalf("expected only the left product, got %v", res.Paper)
	}
	assertDecimal(t, "paper FAME0", res.Paper["FAME0"], d(-250))
}

// --- Distribution ---

func TestCalculateMonthlyDistribution_BusinessDayWeights(t *testing.T) {
	// Feb-24 and Mar-24 both have 21 business days.
	leg := standardLeg(t, model.Buy, 1000, formula.Instrument("Argus UCOME"))

	dist, ds := CalculateMonthlyDistribution(leg)

	if len(ds) != 0 {
		t.Errorf("unexpected diagnostics: %v", ds)
	}
	row := dist["Argus UCOME"]
	assertDecimal(t, "Feb-24", row["Feb-24"], d(-500))
	assertDecimal(t, "Mar-24", row["Mar-24"], d(-500))
}

func TestCalculateMonthlyDistribution_SumsToTotal(t *testing.T) {
	leg := standardLeg(t, model.Sell, 1234.567,
		formula.Instrument("Argus UCOME"), formula.Operator("-"), formula.Instrument("Argus RME"))
	leg.PricingPeriodStart = date(2024, time.January, 17)
	leg.PricingPeriodEnd = date(2024, time.April, 3)

	res := CalculateExposures(leg)
	dist, _ := CalculateMonthlyDistribution(leg)

	for instrument, total := range res.Pricing {
		sum := decimal.Zero
		for _, v := range dist[instrument] {
			sum = sum.Add(v)
		}
		assertDecimal(t, instrument, sum, total)
	}
	if len(dist["Argus UCOME"]) != 4 {
		t.Errorf("expected four months, got %v", dist["Argus UCOME"])
	}
}

func TestCalculateMonthlyDistribution_EFP(t *testing.T) {
	leg := standardLeg(t, model.Buy, 100)
	leg.PricingType = model.PricingEFP
	leg.EFPDesignatedMonth = "May-24"

	dist, _ := CalculateMonthlyDistribution(leg)

	assertDecimal(t, "May-24", dist[model.EFPInstrument]["May-24"], d(-100))

	leg.EFPAgreedStatus = true
	dist, _ = CalculateMonthlyDistribution(leg)
	if len(dist) != 0 {
		t.Errorf("agreed EFP should not distribute, got %v", dist)
	}
}

func TestCalculateMonthlyDistribution_UnparseableDesignatedMonth(t *testing.T) {
	leg := standardLeg(t, model.Buy, 100)
	leg.PricingType = model.PricingEFP
	leg.EFPDesignatedMonth = "2024-05"

	dist, ds := CalculateMonthlyDistribution(leg)

	if len(dist) != 0 {
		t.Errorf("expected no distribution, got %v", dist)
	}
	if !ds.Has(diag.CodePeriodUnparseable) {
		t.Errorf("expected %s diagnostic", diag.CodePeriodUnparseable)
	}
}

func TestCalculateMonthlyExposures(t *testing.T) {
	leg := standardLeg(t, model.Buy, 1000, formula.Instrument("Argus UCOME"))

	m, _ := CalculateMonthlyExposures(leg)

	assertDecimal(t, "physical in loading month", m["Mar-24"]["UCOME"].Physical, d(1000))
	assertDecimal(t, "pricing Feb-24", m["Feb-24"]["Argus UCOME"].Pricing, d(-500))
	assertDecimal(t, "pricing Mar-24", m["Mar-24"]["Argus UCOME"].Pricing, d(-500))
}

func TestCalculateDailyDistribution_ClipsToPricingPeriod(t *testing.T) {
	leg := standardLeg(t, model.Buy, 1000, formula.Instrument("Argus UCOME"))
	leg.PricingPeriodStart = date(2024, time.February, 12)
	leg.PricingPeriodEnd = date(2024, time.February, 16)

	daily, _ := CalculateDailyDistribution(leg)

	row := daily["Argus UCOME"]
	if len(row) != 5 {
		t.Fatalf("expected 5 business days, got %d: %v", len(row), row)
	}
	for day, v := range row {
		assertDecimal(t, day, v, d(-200))
	}
	if _, ok := row["2024-02-01"]; ok {
		t.Error("days outside the pricing period must not be booked")
	}
}

func TestCalculateDailyDistribution_SumsToTotal(t *testing.T) {
	leg := standardLeg(t, model.Sell, 1000, formula.Instrument("Argus UCOME"))

	daily, _ := CalculateDailyDistribution(leg)

	sum := decimal.Zero
	for _, v := range daily["Argus UCOME"] {
		sum = sum.Add(v)
	}
	assertDecimal(t, "sum", sum, d(1000))
	if len(daily["Argus UCOME"]) != 42 {
		t.Errorf("expected 42 business days, got %d", len(daily["Argus UCOME"]))
	}
	for day := range daily["Argus UCOME"] {
		parsed, _ := time.Parse("2006-01-02", day)
		if wd := parsed.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("weekend day booked: %s", day)
		}
	}
}

func TestCalculatePaperDailyDistribution(t *testing.T) {
	p := model.NewPaperTrade("p-1", model.Buy, model.RelationshipSpread,
		model.PaperSide{Product: "UCOME", Quantity: d(210), Period: "Feb-24"}, "FAME0")

	daily, ds := CalculatePaperDailyDistribution(p)

	if len(ds) != 0 {
		t.Errorf("unexpected diagnostics: %v", ds)
	}
	assertDecimal(t, "UCOME per day", daily["UCOME"]["2024-02-01"], d(10))
	assertDecimal(t, "FAME0 per day", daily["FAME0"]["2024-02-29"], d(-10))

	p = p.WithLeftPeriod("bogus")
	_, ds = CalculatePaperDailyDistribution(p)
	if !ds.Has(diag.CodePeriodUnparseable) {
		t.Error("expected unparseable period diagnostic")
	}
}

func TestCalculateMonthlyDistribution_WeekendOnlyPeriod(t *testing.T) {
	leg := standardLeg(t, model.Buy, 1000, formula.Instrument("Argus UCOME"))
	leg.PricingPeriodStart = date(2025, time.March, 15)
	leg.PricingPeriodEnd = date(2025, time.March, 16)

	dist, ds := CalculateMonthlyDistribution(leg)

	if len(dist) != 0 {
		t.Errorf("expected no monthly distribution for a weekend period, got %v", dist)
	}
	if len(ds) != 0 {
		t.Errorf("unexpected diagnostics %v", ds)
	}
}

func TestCalculateDailyDistribution_WeekendOnlyPeriod(t *testing.T) {
	leg := standardLeg(t, model.Sell, 1000, formula.Instrument("Argus UCOME"))
	leg.PricingPeriodStart = date(2025, time.March, 15)
	leg.PricingPeriodEnd = date(2025, time.March, 16)

	daily, _ := CalculateDailyDistribution(leg)

	if len(daily) != 0 {
		t.Errorf("expected an empty daily distribution, got %v", daily)
	}
}

func TestCalculateMonthlyExposures_KeepsDistinctPeriodWarnings(t *testing.T) {
	leg := model.TradeLeg{
		ID:                 "efp-1",
		Product:            "UCOME",
		BuySell:            model.Buy,
		Quantity:           d(100),
		PricingType:        model.PricingEFP,
		EFPDesignatedMonth: "Foo-24",
	}

	_, ds := CalculateMonthlyExposures(leg)

	var n int
	for _, dg := range ds {
		if dg.Code == diag.CodePeriodUnparseable {
			n++
		}
	}
	if n != 2 {
		t.Errorf("expected the missing-period and designated-month warnings, got %+v", ds)
	}
}

// --- Book ---

func TestBook_AggregatesAndSkipsBadLegs(t *testing.T) {
	b := NewBook()
	b.AddLeg(standardLeg(t, model.Buy, 1000, formula.Instrument("Argus UCOME")))
	b.AddPaper(model.NewPaperTrade("p-1", model.Sell, model.RelationshipFP,
		model.PaperSide{Product: "Argus UCOME", Quantity: d(300), Period: "Feb-24"}, ""))
	b.AddPaper(model.NewPaperTrade("p-bad", model.Buy, model.RelationshipFP,
		model.PaperSide{Product: "Argus UCOME", Quantity: d(1), Period: "nope"}, ""))

	feb := b.Monthly()["Feb-24"]["Argus UCOME"]
	assertDecimal(t, "Feb pricing", feb.Pricing, d(-800))
	assertDecimal(t, "Feb paper", feb.Paper, d(-300))

	months := b.Months()
	if len(months) != 2 || months[0] != "Feb-24" || months[1] != "Mar-24" {
		t.Errorf("expected [Feb-24 Mar-24], got %v", months)
	}

	totals := b.Totals()
	assertDecimal(t, "total pricing", totals["Argus UCOME"].Pricing, d(-1300))
	assertDecimal(t, "total physical", totals["UCOME"].Physical, d(1000))

	if !b.Diagnostics().Has(diag.CodePeriodUnparseable) {
		t.Error("expected the bad paper trade to be reported")
	}
}

// --- Limiter ---

func TestLimiter_PaperCountedOnce(t *testing.T) {
	b := NewBook()
	b.AddPaper(model.NewPaperTrade("p-1", model.Buy, model.RelationshipFP,
		model.PaperSide{Product: "LSGO", Quantity: d(600), Period: "Mar-25"}, ""))

	if breaches := NewLimiter(d(1000), d(1000)).Check(b); len(breaches) != 0 {
		t.Fatalf("a 600 position must not breach a 1000 limit, got %+v", breaches)
	}

	b.AddPaper(model.NewPaperTrade("p-2", model.Buy, model.RelationshipFP,
		model.PaperSide{Product: "LSGO", Quantity: d(500), Period: "Mar-25"}, ""))

	breaches := NewLimiter(d(1000), decimal.Zero).Check(b)
	if len(breaches) != 1 {
		t.Fatalf("expected one breach, got %+v", breaches)
	}
	assertDecimal(t, "breach exposure", breaches[0].Exposure, d(1100))
}

func TestLimiter_CorrelatedGroup(t *testing.T) {
	b := NewBook()
	b.AddPaper(model.NewPaperTrade("p-1", model.Buy, model.RelationshipFP,
		model.PaperSide{Product: "ICE GASOIL FUTURES", Quantity: d(800), Period: "Mar-24"}, ""))
	b.AddPaper(model.NewPaperTrade("p-2", model.Sell, model.RelationshipFP,
		model.PaperSide{Product: "ICE GASOIL FUTURES (EFP)", Quantity: d(600), Period: "Mar-24"}, ""))

	breaches := NewLimiter(d(1000), d(1200)).Check(b)

	if len(breaches) != 1 {
		t.Fatalf("expected only the group breach, got %+v", breaches)
	}
	if breaches[0].Instrument != "ICE GASOIL FUTURES" {
		t.Errorf("unexpected group %q", breaches[0].Instrument)
	}
	if !errors.Is(breaches[0].Err, ErrCorrelatedLimitExceeded) {
		t.Errorf("expected correlated limit error, got %v", breaches[0].Err)
	}
	assertDecimal(t, "group exposure", breaches[0].Exposure, d(1400))
}

func TestLimiter_ZeroDisables(t *testing.T) {
	b := NewBook()
	b.AddLeg(standardLeg(t, model.Buy, 1e9, formula.Instrument("Argus UCOME")))

	if breaches := NewLimiter(decimal.Zero, decimal.Zero).Check(b); len(breaches) != 0 {
		t.Errorf("expected no breaches with disabled limits, got %+v", breaches)
	}
}

func TestLimiter_Check(t *testing.T) {
	b := NewBook()
	leg := standardLeg(t, model.Buy, 3000, formula.Instrument("Argus UCOME"))
	b.AddLeg(leg)

	breaches := NewLimiter(d(1000), decimal.Zero).Check(b)

	if len(breaches) != 2 {
		t.Fatalf("expected a breach in each month, got %v", breaches)
	}
	if breaches[0].Month != "Feb-24" || breaches[0].Instrument != "Argus UCOME" {
		t.Errorf("unexpected first breach: %+v", breaches[0])
	}
	if !errors.Is(breaches[0].Err, ErrInstrumentLimitExceeded) {
		t.Errorf("expected instrument limit error, got %v", breaches[0].Err)
	}
}

func TestInstrumentGroup(t *testing.T) {
	tests := map[string]string{
		"ICE GASOIL FUTURES (EFP)": "ICE GASOIL FUTURES",
		"ice gasoil futures":       "ICE GASOIL FUTURES",
		"Argus UCOME":              "ARGUS UCOME",
		"(weird)":                  "(WEIRD)",
	}
	for in, want := range tests {
		if got := InstrumentGroup(in); got != want {
			t.Errorf("InstrumentGroup(%q) = %q, want %q", in, got, want)
		}
	}
}
