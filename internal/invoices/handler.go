package invoices

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

// Handler manages invoice endpoints.
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

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.deleteDraft)
	r.Post("/{id}/send", h.send)
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

func (p linePayload) toLineInput() (documents.LineInput, error) {
	qty, err := money.Parse(p.Quantity)
	if err != nil {
		return documents.LineInput{}, err
	}
	price, err := money.Parse(p.UnitPrice)
	if err != nil {
		return documents.LineInput{}, err
	}
	discount := decimal.Zero
	if p.DiscountPercent != "" {
		if discount, err = money.Parse(p.DiscountPercent); err != nil {
			return documents.LineInput{}, err
		}
	}
	taxRate := decimal.Zero
	if p.TaxRate != "" {
		if taxRate, err = money.Parse(p.TaxRate); err != nil {
			return documents.LineInput{}, err
		}
	}
	return documents.LineInput{
		Description:     p.Description,
		Quantity:        qty,
		UnitPrice:       price,
		DiscountPercent: discount,
		TaxRate:         taxRate,
		IsTaxExempt:     p.IsTaxExempt,
	}, nil
}

func parseLines(payloads []linePayload) ([]documents.LineInput, error) {
	lines := make([]documents.LineInput, 0, len(payloads))
	for i, p := range payloads {
		line, err := p.toLineInput()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

type createInvoicePayload struct {
	CustomerID int64         `json:"customerId" validate:"required,gt=0"`
	IssueDate  string        `json:"issueDate" validate:"required"`
	DueDate    string        `json:"dueDate"`
	Currency   string        `json:"currency" validate:"required,oneof=BTN INR USD"`
	Notes      string        `json:"notes"`
	Lines      []linePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createInvoicePayload
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
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "invoices"); err != nil {
			shared.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
	}

	doc, err := h.service.Create(r.Context(), CreateInvoiceInput{
		CustomerID: payload.CustomerID,
		IssueDate:  issueDate,
		DueDate:    dueDate,
		Currency:   documents.Currency(payload.Currency),
		Notes:      payload.Notes,
		Lines:      lines,
	})
	if err != nil {
		if idemKey != "" {
			_ = h.idem.Delete(r.Context(), idemKey, "invoices")
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
		"invoice": documentView(doc),
		"items":   itemViews(items),
	})
}

type updateInvoicePayload struct {
	Notes string        `json:"notes"`
	Lines []linePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload updateInvoicePayload
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

type sendPayload struct {
	Recipient string `json:"recipient" validate:"omitempty,email"`
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload sendPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
			return
		}
		if err := h.validate.Struct(payload); err != nil {
			shared.WriteValidationError(w, err)
			return
		}
	}
	doc, err := h.service.Send(r.Context(), id, payload.Recipient)
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
	InvoiceID int64  `json:"invoiceId" validate:"required,gt=0"`
	Amount    string `json:"amount" validate:"required"`
}

type recordPaymentPayload struct {
	CustomerID    int64               `json:"customerId" validate:"required,gt=0"`
	Amount        string              `json:"amount" validate:"required"`
	PaidAt        string              `json:"paidAt" validate:"required"`
	Method        string              `json:"method" validate:"required"`
	Note          string              `json:"note"`
	CustomerEmail string              `json:"customerEmail" validate:"omitempty,email"`
	Allocations   []allocationPayload `json:"allocations" validate:"required,min=1,dive"`
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
		CustomerID:    payload.CustomerID,
		Amount:        amount,
		PaidAt:        paidAt,
		Method:        payload.Method,
		Note:          payload.Note,
		CustomerEmail: payload.CustomerEmail,
	}
	for i, alloc := range payload.Allocations {
		allocAmount, err := money.Parse(alloc.Amount)
		if err != nil {
			shared.WriteValidationError(w, fmt.Errorf("allocation %d: %w", i+1, err))
			return
		}
		in.Allocations = append(in.Allocations, PaymentAllocation{
			InvoiceID: alloc.InvoiceID,
			Amount:    allocAmount,
		})
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "invoice-payments"); err != nil {
			shared.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
	}
	payment, err := h.service.RecordPayment(r.Context(), in)
	if err != nil {
		if idemKey != "" {
			_ = h.idem.Delete(r.Context(), idemKey, "invoice-payments")
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

func documentView(doc documents.Document) map[string]any {
	view := map[string]any{
		"id":            doc.ID,
		"number":        doc.Number,
		"type":          doc.Type,
		"customerId":    doc.CounterpartyID,
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
		"notes":         doc.Notes,
	}
	if doc.DueDate != nil {
		view["dueDate"] = doc.DueDate.Format("2006-01-02")
	}
	if doc.CancelReason != "" {
		view["cancelReason"] = doc.CancelReason
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
