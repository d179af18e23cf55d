package bills

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

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/money"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Handler manages bill endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	idem     *shared.IdempotencyStore
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		idem:     idem,
	}
}

// MountRoutes registers bill routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.deleteDraft)
	r.Post("/{id}/issue", h.issue)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/payments", h.recordPayment)
	r.Delete("/payments/{id}", h.deletePayment)
}

type linePayload struct {
	Description     string `json:"description" validate:"required"`
	Quantity        string `json:"quantity" validate:"required"`
	UnitPrice       string `json:"unitPrice" validate:"required"`
	DiscountPercent string `json:"discountPercent"`
	TaxRate         string `json:"taxRate"`
	IsTaxExempt     bool   `json:"isTaxExempt"`
}

func parseLines(payloads []linePayload) ([]documents.LineInput, error) {
	lines := make([]documents.LineInput, 0, len(payloads))
	for i, p := range payloads {
		qty, err := money.Parse(p.Quantity)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		price, err := money.Parse(p.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		discount := decimal.Zero
		if p.DiscountPercent != "" {
			if discount, err = money.Parse(p.DiscountPercent); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		}
		taxRate := decimal.Zero
		if p.TaxRate != "" {
			if taxRate, err = money.Parse(p.TaxRate); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		}
		lines = append(lines, documents.LineInput{
			Description:     p.Description,
			Quantity:        qty,
			UnitPrice:       price,
			DiscountPercent: discount,
			TaxRate:         taxRate,
			IsTaxExempt:     p.IsTaxExempt,
		})
	}
	return lines, nil
}

type createBillPayload struct {
	SupplierID int64         `json:"supplierId" validate:"required,gt=0"`
	IssueDate  string        `json:"issueDate" validate:"required"`
	DueDate    string        `json:"dueDate"`
	Currency   string        `json:"currency" validate:"required,oneof=BTN INR USD"`
	Notes      string        `json:"notes"`
	Lines      []linePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createBillPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	issueDate, err := time.Parse("2006-01-02", payload.IssueDate)
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("issueDate: %w", err))
		return
	}
	var dueDate *time.Time
	if payload.DueDate != "" {
		d, err := time.Parse("2006-01-02", payload.DueDate)
		if err != nil {
			shared.WriteValidationError(w, fmt.Errorf("dueDate: %w", err))
			return
		}
		dueDate = &d
	}
	lines, err := parseLines(payload.Lines)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "bills"); err != nil {
			shared.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
	}

	doc, err := h.service.Create(r.Context(), CreateBillInput{
		SupplierID: payload.SupplierID,
		IssueDate:  issueDate,
		DueDate:    dueDate,
		Currency:   documents.Currency(payload.Currency),
		Notes:      payload.Notes,
		Lines:      lines,
	})
	if err != nil {
		if idemKey != "" {
			_ = h.idem.Delete(r.Context(), idemKey, "bills")
		}
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      doc.ID,
		"number":  doc.Number,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	doc, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"bill":  billView(doc),
		"items": itemViews(items),
	})
}

type updateBillPayload struct {
	Notes string        `json:"notes"`
	Lines []linePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload updateBillPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	lines, err := parseLines(payload.Lines)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	doc, err := h.service.UpdateDraft(r.Context(), id, lines, payload.Notes)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "id": doc.ID})
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	if err := h.service.DeleteDraft(r.Context(), id); err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	doc, err := h.service.Issue(r.Context(), id)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "status": doc.Status})
}

type cancelPayload struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload cancelPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	doc, err := h.service.Cancel(r.Context(), id, payload.Reason)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "status": doc.Status})
}

type allocationPayload struct {
	BillID int64  `json:"billId" validate:"required,gt=0"`
	Amount string `json:"amount" validate:"required"`
}

type recordPaymentPayload struct {
	SupplierID  int64               `json:"supplierId" validate:"required,gt=0"`
	Amount      string              `json:"amount" validate:"required"`
	PaidAt      string              `json:"paidAt" validate:"required"`
	Method      string              `json:"method" validate:"required"`
	Note        string              `json:"note"`
	Allocations []allocationPayload `json:"allocations" validate:"required,min=1,dive"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var payload recordPaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	amount, err := money.Parse(payload.Amount)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	paidAt, err := time.Parse("2006-01-02", payload.PaidAt)
	if err != nil {
		shared.WriteValidationError(w, fmt.Errorf("paidAt: %w", err))
		return
	}
	in := RecordPaymentInput{
		SupplierID: payload.SupplierID,
		Amount:     amount,
		PaidAt:     paidAt,
		Method:     payload.Method,
		Note:       payload.Note,
	}
	for i, alloc := range payload.Allocations {
		allocAmount, err := money.Parse(alloc.Amount)
		if err != nil {
			shared.WriteValidationError(w, fmt.Errorf("allocation %d: %w", i+1, err))
			return
		}
		in.Allocations = append(in.Allocations, PaymentAllocation{
			BillID: alloc.BillID,
			Amount: allocAmount,
		})
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "bill-payments"); err != nil {
			shared.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
	}
	payment, err := h.service.RecordPayment(r.Context(), in)
	if err != nil {
		if idemKey != "" {
			_ = h.idem.Delete(r.Context(), idemKey, "bill-payments")
		}
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      payment.ID,
		"number":  payment.Number,
	})
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "payment deleted"
	}
	if _, err := h.service.DeletePayment(r.Context(), id, reason); err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func billView(doc documents.Document) map[string]any {
	view := map[string]any{
		"id":            doc.ID,
		"number":        doc.Number,
		"supplierId":    doc.CounterpartyID,
		"issueDate":     doc.IssueDate.Format("2006-01-02"),
		"currency":      doc.Currency,
		"subtotal":      doc.Subtotal.StringFixed(2),
		"totalDiscount": doc.TotalDiscount.StringFixed(2),
		"totalTax":      doc.TotalTax.StringFixed(2),
		"totalAmount":   doc.TotalAmount.StringFixed(2),
		"amountPaid":    doc.AmountPaid.StringFixed(2),
		"amountDue":     doc.AmountDue.StringFixed(2),
		"status":        doc.Status,
		"paymentStatus": doc.PaymentStatus,
	}
	if doc.DueDate != nil {
		view["dueDate"] = doc.DueDate.Format("2006-01-02")
	}
	return view
}

func itemViews(items []documents.DocumentItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{
			"description":     it.Description,
			"quantity":        it.Quantity.String(),
			"unitPrice":       it.UnitPrice.StringFixed(2),
			"discountPercent": it.DiscountPercent.String(),
			"taxRate":         it.TaxRate.String(),
			"isTaxExempt":     it.IsTaxExempt,
			"classification":  it.Classification,
			"lineTotal":       it.LineTotal.StringFixed(2),
			"discountAmount":  it.DiscountAmount.StringFixed(2),
			"taxAmount":       it.TaxAmount.StringFixed(2),
			"itemTotal":       it.ItemTotal.StringFixed(2),
		})
	}
	return out
}
