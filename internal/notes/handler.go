package notes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/money"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Handler manages credit and debit note endpoints.
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

// MountRoutes registers note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Post("/{id}/issue", h.issue)
	r.Post("/{id}/apply", h.apply)
	r.Post("/{id}/unapply", h.unapply)
	r.Post("/{id}/refund", h.refund)
	r.Post("/{id}/cancel", h.cancel)
}

type noteLinePayload struct {
	Description string `json:"description" validate:"required"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitPrice   string `json:"unitPrice" validate:"required"`
	TaxRate     string `json:"taxRate"`
	IsTaxExempt bool   `json:"isTaxExempt"`
}

type createNotePayload struct {
	Type           string            `json:"type" validate:"required,oneof=credit_note debit_note"`
	CounterpartyID int64             `json:"counterpartyId" validate:"required,gt=0"`
	IssueDate      string            `json:"issueDate" validate:"required"`
	Currency       string            `json:"currency" validate:"required,oneof=BTN INR USD"`
	Reason         string            `json:"reason"`
	LinkedID       *int64            `json:"linkedDocumentId"`
	Lines          []noteLinePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createNotePayload
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
	lines := make([]documents.LineInput, 0, len(payload.Lines))
	for i, p := range payload.Lines {
		qty, err := money.Parse(p.Quantity)
		if err != nil {
			shared.WriteValidationError(w, fmt.Errorf("line %d: %w", i+1, err))
			return
		}
		price, err := money.Parse(p.UnitPrice)
		if err != nil {
			shared.WriteValidationError(w, fmt.Errorf("line %d: %w", i+1, err))
			return
		}
		taxRate := money.Zero
		if p.TaxRate != "" {
			if taxRate, err = money.Parse(p.TaxRate); err != nil {
				shared.WriteValidationError(w, fmt.Errorf("line %d: %w", i+1, err))
				return
			}
		}
		lines = append(lines, documents.LineInput{
			Description: p.Description,
			Quantity:    qty,
			UnitPrice:   price,
			TaxRate:     taxRate,
			IsTaxExempt: p.IsTaxExempt,
		})
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "notes"); err != nil {
			shared.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
	}

	note, err := h.service.Create(r.Context(), CreateNoteInput{
		Type:           documents.DocType(payload.Type),
		CounterpartyID: payload.CounterpartyID,
		IssueDate:      issueDate,
		Currency:       documents.Currency(payload.Currency),
		Reason:         payload.Reason,
		LinkedID:       payload.LinkedID,
		Lines:          lines,
	})
	if err != nil {
		if idemKey != "" {
			_ = h.idem.Delete(r.Context(), idemKey, "notes")
		}
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      note.ID,
		"number":  note.Number,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	note, items, apps, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	appViews := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		appViews = append(appViews, map[string]any{
			"id":         app.ID,
			"targetId":   app.TargetID,
			"amount":     app.Amount.StringFixed(2),
			"appliedAt":  app.CreatedAt.Format(time.RFC3339),
		})
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"note": map[string]any{
			"id":              note.ID,
			"number":          note.Number,
			"type":            note.Type,
			"counterpartyId":  note.CounterpartyID,
			"issueDate":       note.IssueDate.Format("2006-01-02"),
			"currency":        note.Currency,
			"totalAmount":     note.TotalAmount.StringFixed(2),
			"appliedAmount":   note.AppliedAmount.StringFixed(2),
			"unappliedAmount": note.UnappliedAmount.StringFixed(2),
			"status":          note.Status,
			"reason":          note.Notes,
		},
		"itemCount":    len(items),
		"applications": appViews,
	})
}

type updateNotePayload struct {
	Reason string            `json:"reason"`
	Lines  []noteLinePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload updateNotePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	lines := make([]documents.LineInput, 0, len(payload.Lines))
	for i, p := range payload.Lines {
		qty, err := money.Parse(p.Quantity)
		if err != nil {
			shared.WriteValidationError(w, fmt.Errorf("line %d: %w", i+1, err))
			return
		}
		price, err := money.Parse(p.UnitPrice)
		if err != nil {
			shared.WriteValidationError(w, fmt.Errorf("line %d: %w", i+1, err))
			return
		}
		taxRate := money.Zero
		if p.TaxRate != "" {
			if taxRate, err = money.Parse(p.TaxRate); err != nil {
				shared.WriteValidationError(w, fmt.Errorf("line %d: %w", i+1, err))
				return
			}
		}
		lines = append(lines, documents.LineInput{
			Description: p.Description,
			Quantity:    qty,
			UnitPrice:   price,
			TaxRate:     taxRate,
			IsTaxExempt: p.IsTaxExempt,
		})
	}
	note, err := h.service.UpdateDraft(r.Context(), id, lines, payload.Reason)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "id": note.ID})
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	note, err := h.service.Issue(r.Context(), id)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "status": note.Status})
}

type applyPayload struct {
	TargetID int64  `json:"targetId" validate:"required,gt=0"`
	Amount   string `json:"amount" validate:"required"`
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload applyPayload
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
	note, err := h.service.Apply(r.Context(), id, payload.TargetID, amount)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"status":          note.Status,
		"unappliedAmount": note.UnappliedAmount.StringFixed(2),
	})
}

type unapplyPayload struct {
	ApplicationID int64 `json:"applicationId" validate:"required,gt=0"`
}

func (h *Handler) unapply(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload unapplyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	note, err := h.service.Unapply(r.Context(), id, payload.ApplicationID)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"status":          note.Status,
		"unappliedAmount": note.UnappliedAmount.StringFixed(2),
	})
}

type refundPayload struct {
	Method string `json:"method" validate:"required"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	var payload refundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteValidationError(w, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		shared.WriteValidationError(w, err)
		return
	}
	note, err := h.service.Refund(r.Context(), id, payload.Method)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "status": note.Status})
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
	note, err := h.service.Cancel(r.Context(), id, payload.Reason)
	if err != nil {
		shared.WriteError(h.logger, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "status": note.Status})
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}
