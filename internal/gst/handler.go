package gst

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/drukbooks/drukbooks/internal/money"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Handler manages GST return endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers GST routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/period", h.calculatePeriod)
	r.Get("/returns", h.list)
	r.Post("/returns", h.createReturn)
	r.Get("/returns/{id}", h.get)
	r.Get("/returns/{id}/summary", h.summary)
	r.Post("/returns/{id}/file", h.file)
	r.Post("/returns/{id}/amend", h.amend)
}

func (h *Handler) calculatePeriod(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse("2006-01-02", r.URL.Query().Get("start"))
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("start: %w", err))
		return
	}
	end, err := time.Parse("2006-01-02", r.URL.Query().Get("end"))
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("end: %w", err))
		return
	}
	totals, err := h.service.CalculateForPeriod(r.Context(), start, end)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"outputGst":          totals.OutputGst.StringFixed(2),
		"inputGst":           totals.InputGst.StringFixed(2),
		"netGstPayable":      totals.NetGstPayable.StringFixed(2),
		"salesBreakdown":     breakdownView(totals.SalesBreakdown, "sales"),
		"purchasesBreakdown": breakdownView(totals.PurchasesBreakdown, "purchases"),
	})
}

func breakdownView(b Breakdown, volumeKey string) map[string]any {
	bucket := func(c ClassTotals) map[string]string {
		return map[string]string{
			volumeKey: c.Net.StringFixed(2),
			"tax":     c.Tax.StringFixed(2),
		}
	}
	return map[string]any{
		"standard":  bucket(b.Standard),
		"zeroRated": bucket(b.ZeroRated),
		"exempt":    bucket(b.Exempt),
	}
}

type createReturnPayload struct {
	Granularity           string `json:"granularity" validate:"required,oneof=monthly quarterly annual"`
	PeriodStart           string `json:"periodStart" validate:"required"`
	PeriodEnd             string `json:"periodEnd" validate:"required"`
	Adjustments           string `json:"adjustments"`
	PreviousPeriodBalance string `json:"previousPeriodBalance"`
	Penalties             string `json:"penalties"`
	Interest              string `json:"interest"`
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var payload createReturnPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	start, err := time.Parse("2006-01-02", payload.PeriodStart)
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("periodStart: %w", err))
		return
	}
	end, err := time.Parse("2006-01-02", payload.PeriodEnd)
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("periodEnd: %w", err))
		return
	}
	in := CreateReturnInput{
		Granularity: Granularity(payload.Granularity),
		PeriodStart: start,
		PeriodEnd:   end,
	}
	in.Adjustments, err = optionalAmount(payload.Adjustments)
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("adjustments: %w", err))
		return
	}
	in.PreviousPeriodBalance, err = optionalAmount(payload.PreviousPeriodBalance)
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("previousPeriodBalance: %w", err))
		return
	}
	in.Penalties, err = optionalAmount(payload.Penalties)
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("penalties: %w", err))
		return
	}
	in.Interest, err = optionalAmount(payload.Interest)
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("interest: %w", err))
		return
	}

	ret, err := h.service.CreateReturn(r.Context(), in)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      ret.ID,
		"number":  ret.Number,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	returns, err := h.service.List(r.Context())
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	views := make([]map[string]any, 0, len(returns))
	for _, ret := range returns {
		views = append(views, returnView(ret))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"returns": views})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	ret, amendments, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	history := make([]map[string]any, 0, len(amendments))
	for _, a := range amendments {
		history = append(history, map[string]any{
			"date":             a.CreatedAt.Format(time.RFC3339),
			"userId":           a.UserID,
			"reason":           a.Reason,
			"beforeAdjustment": a.BeforeAdjustment.StringFixed(2),
			"afterAdjustment":  a.AfterAdjustment.StringFixed(2),
		})
	}
	view := returnView(ret)
	view["amendments"] = history
	shared.WriteJSON(w, http.StatusOK, map[string]any{"return": view})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	ret, _, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Summary(ret)))
}

func (h *Handler) file(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	ret, err := h.service.File(r.Context(), id)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"status":       ret.Status,
		"totalPayable": ret.TotalPayable.StringFixed(2),
	})
}

type amendPayload struct {
	Adjustments string `json:"adjustments" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
}

func (h *Handler) amend(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload amendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	adjustments, err := money.Parse(payload.Adjustments)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	ret, err := h.service.Amend(r.Context(), id, AmendInput{
		Adjustments: adjustments,
		Reason:      payload.Reason,
	})
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"status":       ret.Status,
		"totalPayable": ret.TotalPayable.StringFixed(2),
	})
}

func returnView(ret Return) map[string]any {
	view := map[string]any{
		"id":                    ret.ID,
		"number":                ret.Number,
		"granularity":           ret.Granularity,
		"periodStart":           ret.PeriodStart.Format("2006-01-02"),
		"periodEnd":             ret.PeriodEnd.Format("2006-01-02"),
		"outputGst":             ret.OutputGst.StringFixed(2),
		"inputGst":              ret.InputGst.StringFixed(2),
		"netGstPayable":         ret.NetGstPayable.StringFixed(2),
		"adjustments":           ret.Adjustments.StringFixed(2),
		"previousPeriodBalance": ret.PreviousPeriodBalance.StringFixed(2),
		"penalties":             ret.Penalties.StringFixed(2),
		"interest":              ret.Interest.StringFixed(2),
		"totalPayable":          ret.TotalPayable.StringFixed(2),
		"status":                ret.Status,
		"salesBreakdown":        breakdownView(ret.SalesBreakdown, "sales"),
		"purchasesBreakdown":    breakdownView(ret.PurchasesBreakdown, "purchases"),
	}
	if ret.FiledAt != nil {
		view["filedAt"] = ret.FiledAt.Format(time.RFC3339)
	}
	return view
}

func optionalAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return money.Zero, nil
	}
	return money.Parse(raw)
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}
