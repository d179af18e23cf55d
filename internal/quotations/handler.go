package quotations

import (
	"context"
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

// Handler manages quotation endpoints.
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

// MountRoutes registers quotation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.deleteDraft)
	r.Post("/{id}/send", h.send)
	r.Post("/{id}/accept", h.accept)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/expire", h.expire)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/convert", h.convert)
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

type createQuotationPayload struct {
	CustomerID int64         `json:"customerId" validate:"required,gt=0"`
	IssueDate  string        `json:"issueDate" validate:"required"`
	ValidUntil string        `json:"validUntil"`
	Currency   string        `json:"currency" validate:"required,oneof=BTN INR USD"`
	Notes      string        `json:"notes"`
	Lines      []linePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createQuotationPayload
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
	var validUntil *time.Time
	if payload.ValidUntil != "" {
		d, err := time.Parse("2006-01-02", payload.ValidUntil)
		if err != nil {
			shared.WriteValidationError(w, fmt.Errorf("validUntil: %w", err))
			return
		}
		validUntil = &d
	}
	lines, err := parseLines(payload.Lines)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "quotations"); err != nil {
			shared.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
	}

	doc, err := h.service.Create(r.Context(), CreateQuotationInput{
		CustomerID: payload.CustomerID,
		IssueDate:  issueDate,
		ValidUntil: validUntil,
		Currency:   documents.Currency(payload.Currency),
		Notes:      payload.Notes,
		Lines:      lines,
	})
	if err != nil {
		if idemKey != "" {
			_ = h.idem.Delete(r.Context(), idemKey, "quotations")
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
	view := map[string]any{
		"id":          doc.ID,
		"number":      doc.Number,
		"customerId":  doc.CounterpartyID,
		"issueDate":   doc.IssueDate.Format("2006-01-02"),
		"currency":    doc.Currency,
		"totalAmount": doc.TotalAmount.StringFixed(2),
		"status":      doc.Status,
		"itemCount":   len(items),
	}
	if doc.ValidUntil != nil {
		view["validUntil"] = doc.ValidUntil.Format("2006-01-02")
	}
	if doc.LinkedDocumentID != nil {
		view["invoiceId"] = *doc.LinkedDocumentID
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"quotation": view})
}

type updateQuotationPayload struct {
	Notes string        `json:"notes"`
	Lines []linePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload updateQuotationPayload
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

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.outcome(w, r, h.service.Accept)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.outcome(w, r, h.service.Reject)
}

func (h *Handler) expire(w http.ResponseWriter, r *http.Request) {
	h.outcome(w, r, h.service.MarkExpired)
}

func (h *Handler) outcome(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (documents.Document, error)) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	doc, err := fn(r.Context(), id)
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

type convertPayload struct {
	DueDate string `json:"dueDate"`
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload convertPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
			return
		}
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
	invoice, err := h.service.ConvertToInvoice(r.Context(), id, dueDate)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"invoiceId":     invoice.ID,
		"invoiceNumber": invoice.Number,
	})
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}
