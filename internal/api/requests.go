package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/diag"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/formula"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/period"
)

var validate = validator.New()

// LegRequest is the wire form of a physical trade leg. Dates are
// YYYY-MM-DD. Formulas are decoded leniently: a malformed formula becomes
// an empty one plus a warning.
type LegRequest struct {
	ID                 string            `json:"id"`
	Product            string            `json:"product" validate:"required"`
	BuySell            model.BuySell     `json:"buy_sell" validate:"required,oneof=buy sell"`
	Quantity           decimal.Decimal   `json:"quantity"`
	Tolerance          decimal.Decimal   `json:"tolerance"`
	LoadingPeriodStart string            `json:"loading_period_start" validate:"omitempty,datetime=2006-01-02"`
	LoadingPeriodEnd   string            `json:"loading_period_end" validate:"omitempty,datetime=2006-01-02"`
	PricingPeriodStart string            `json:"pricing_period_start" validate:"omitempty,datetime=2006-01-02"`
	PricingPeriodEnd   string            `json:"pricing_period_end" validate:"omitempty,datetime=2006-01-02"`
	PricingType        model.PricingType `json:"pricing_type" default:"standard" validate:"oneof=standard efp"`
	Formula            json.RawMessage   `json:"formula"`
	MTMFormula         json.RawMessage   `json:"mtm_formula"`
	MTMFutureMonth     model.MonthCode   `json:"mtm_future_month"`

	EFPPremium         decimal.Decimal `json:"efp_premium"`
	EFPAgreedStatus    bool            `json:"efp_agreed_status"`
	EFPFixedValue      decimal.Decimal `json:"efp_fixed_value"`
	EFPDesignatedMonth model.MonthCode `json:"efp_designated_month"`
}

// ToLeg converts the request into a trade leg.
func (r LegRequest) ToLeg() (model.TradeLeg, diag.Diagnostics) {
	var ds diag.Diagnostics
	leg := model.TradeLeg{
		ID:                 r.ID,
		Product:            r.Product,
		BuySell:            r.BuySell,
		Quantity:           r.Quantity,
		Tolerance:          r.Tolerance,
		LoadingPeriodStart: parseDate(r.LoadingPeriodStart),
		LoadingPeriodEnd:   parseDate(r.LoadingPeriodEnd),
		PricingPeriodStart: parseDate(r.PricingPeriodStart),
		PricingPeriodEnd:   parseDate(r.PricingPeriodEnd),
		PricingType:        r.PricingType,
		MTMFutureMonth:     r.MTMFutureMonth,
		EFPPremium:         r.EFPPremium,
		EFPAgreedStatus:    r.EFPAgreedStatus,
		EFPFixedValue:      r.EFPFixedValue,
		EFPDesignatedMonth: r.EFPDesignatedMonth,
	}

	var fds, mds diag.Diagnostics
	leg.Formula, fds = formula.DecodeOrEmpty(r.Formula)
	leg.MTMFormula, mds = formula.DecodeOrEmpty(r.MTMFormula)
	ds.Merge(fds)
	ds.Merge(mds)
	return leg, ds
}

// parseDate reads a validated YYYY-MM-DD date; empty is the zero time.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(period.ISODateLayout, s)
	return t
}

// ExposureRequest is the body of POST /exposures and /exposures/daily.
// Exactly one of Leg and Paper is set.
type ExposureRequest struct {
	Leg   *LegRequest       `json:"leg" validate:"required_without=Paper,excluded_with=Paper"`
	Paper *model.PaperTrade `json:"paper" validate:"required_without=Leg"`
}

// BookRequest is the body of POST /exposures/book.
type BookRequest struct {
	Legs   []LegRequest       `json:"legs" validate:"dive"`
	Papers []model.PaperTrade `json:"papers"`
}

// AddTokenRequest is the body of POST /formulas/tokens. When Leg is set the
// returned formula's exposures are recomputed for that leg.
type AddTokenRequest struct {
	Formula json.RawMessage    `json:"formula"`
	Token   model.FormulaToken `json:"token"`
	Leg     *LegRequest        `json:"leg"`
}

// RemoveTokenRequest is the body of POST /formulas/remove. Leg works as in
// AddTokenRequest.
type RemoveTokenRequest struct {
	Formula json.RawMessage `json:"formula"`
	Index   int             `json:"index" validate:"gte=0"`
	Leg     *LegRequest     `json:"leg"`
}

// EvaluateRequest is the body of POST /formulas/evaluate.
type EvaluateRequest struct {
	Tokens []model.FormulaToken       `json:"tokens"`
	Prices map[string]decimal.Decimal `json:"prices"`
}

// PaperLeftRequest is the body of POST /paper/left. Unset fields keep the
// trade's current values.
type PaperLeftRequest struct {
	Trade        model.PaperTrade        `json:"trade"`
	Quantity     *decimal.Decimal        `json:"quantity"`
	Period       *model.MonthCode        `json:"period"`
	Relationship *model.RelationshipType `json:"relationship" validate:"omitempty,oneof=FP DIFF SPREAD"`
	RightProduct string                  `json:"right_product"`
}

// ResolveRequest is the body of POST /prices/resolve.
type ResolveRequest struct {
	Instruments []string        `json:"instruments" validate:"required,min=1,dive,required"`
	Month       model.MonthCode `json:"month" validate:"required"`
}

// MTMRequest is the body of POST /mtm.
type MTMRequest struct {
	Leg LegRequest `json:"leg"`
}

// ValidationError is one rejected request field.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// decodeRequest reads the JSON body into req, applies default tags and
// validates it.
func decodeRequest(r *http.Request, req interface{}) []ValidationError {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return []ValidationError{{Code: "ERR_BODY", Message: "invalid request body: " + err.Error()}}
	}
	if err := defaults.Set(req); err != nil {
		return validationErrors(err)
	}
	if err := validate.StructCtx(r.Context(), req); err != nil {
		return validationErrors(err)
	}
	return nil
}

func validationErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, ValidationError{
			Code:    "ERR_" + strings.ToUpper(e.Tag()),
			Field:   e.Namespace(),
			Message: fieldMessage(e),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", field)
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "datetime":
		return fmt.Sprintf("%s must be a YYYY-MM-DD date", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
