// Package quotations manages quotations: pre-sale documents that never
// carry balances and convert one way into invoices once accepted.
package quotations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/money"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Notifier receives fire-and-forget events after a transaction commits.
type Notifier interface {
	DocumentIssued(ctx context.Context, teamID int64, number, recipient string)
}

// Service orchestrates quotation operations.
type Service struct {
	logger   *slog.Logger
	repo     documents.Repository
	notifier Notifier
	now      func() time.Time
}

// NewService builds a Service.
func NewService(logger *slog.Logger, repo documents.Repository, notifier Notifier) *Service {
	return &Service{logger: logger, repo: repo, notifier: notifier, now: time.Now}
}

// CreateQuotationInput carries a new draft quotation.
type CreateQuotationInput struct {
	CustomerID int64
	IssueDate  time.Time
	ValidUntil *time.Time
	Currency   documents.Currency
	Notes      string
	Lines      []documents.LineInput
}

// Create mints the quotation number and persists the draft.
func (s *Service) Create(ctx context.Context, in CreateQuotationInput) (documents.Document, error) {
	return documents.CreateDraft(ctx, s.repo, documents.CreateRequest{
		Actor:          shared.ActorFromContext(ctx),
		Type:           documents.DocTypeQuotation,
		CounterpartyID: in.CustomerID,
		IssueDate:      in.IssueDate,
		ValidUntil:     in.ValidUntil,
		Currency:       in.Currency,
		Notes:          in.Notes,
		Lines:          in.Lines,
	})
}

// UpdateDraft replaces a draft quotation's lines and recomputes totals.
func (s *Service) UpdateDraft(ctx context.Context, id int64, lines []documents.LineInput, notes string) (documents.Document, error) {
	return documents.UpdateDraft(ctx, s.repo, shared.ActorFromContext(ctx), id, lines, notes)
}

// DeleteDraft removes a draft quotation.
func (s *Service) DeleteDraft(ctx context.Context, id int64) error {
	return documents.DeleteDraft(ctx, s.repo, shared.ActorFromContext(ctx), id)
}

// Send issues the quotation to the customer.
func (s *Service) Send(ctx context.Context, id int64, recipient string) (documents.Document, error) {
	doc, err := documents.Issue(ctx, s.repo, shared.ActorFromContext(ctx), id)
	if err != nil {
		return documents.Document{}, err
	}
	if s.notifier != nil {
		s.notifier.DocumentIssued(ctx, doc.TeamID, doc.Number, recipient)
	}
	return doc, nil
}

// Accept records the customer's acceptance. Quotations past their validity
// date are marked expired instead.
func (s *Service) Accept(ctx context.Context, id int64) (documents.Document, error) {
	return s.resolve(ctx, id, documents.StatusAccepted)
}

// Reject records the customer's rejection.
func (s *Service) Reject(ctx context.Context, id int64) (documents.Document, error) {
	return s.resolve(ctx, id, documents.StatusRejected)
}

// MarkExpired expires a sent quotation whose validity date has passed.
func (s *Service) MarkExpired(ctx context.Context, id int64) (documents.Document, error) {
	actor := shared.ActorFromContext(ctx)
	var doc documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if doc.ValidUntil == nil || s.now().Before(*doc.ValidUntil) {
			return fmt.Errorf("quotation %s is still valid", doc.Number)
		}
		if err := documents.Transition(&doc, documents.StatusExpired); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("expired quotation %s", doc.Number),
			Meta:   map[string]any{"document_id": doc.ID},
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	return doc, nil
}

func (s *Service) resolve(ctx context.Context, id int64, outcome documents.Status) (documents.Document, error) {
	actor := shared.ActorFromContext(ctx)
	var doc documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if outcome == documents.StatusAccepted && doc.ValidUntil != nil && s.now().After(*doc.ValidUntil) {
			// Persist the expiry instead of the acceptance.
			if err := documents.Transition(&doc, documents.StatusExpired); err != nil {
				return err
			}
			return tx.UpdateDocument(ctx, doc)
		}
		if err := documents.Transition(&doc, outcome); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("quotation %s %s", doc.Number, outcome),
			Meta:   map[string]any{"document_id": doc.ID},
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	if outcome == documents.StatusAccepted && doc.Status == documents.StatusExpired {
		return doc, fmt.Errorf("%w: quotation %s expired on %s", shared.ErrInvalidTransition,
			doc.Number, doc.ValidUntil.Format("2006-01-02"))
	}
	return doc, nil
}

// Cancel voids a draft or sent quotation.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (documents.Document, error) {
	actor := shared.ActorFromContext(ctx)
	var doc documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if err := documents.Transition(&doc, documents.StatusCancelled); err != nil {
			return err
		}
		doc.CancelReason = reason
		doc.CancelledBy = actor.UserID
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("cancelled quotation %s: %s", doc.Number, reason),
			Meta:   map[string]any{"document_id": doc.ID},
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	return doc, nil
}

// ConvertToInvoice turns an accepted quotation into a draft invoice with
// the same lines and totals. The quotation becomes converted, a terminal
// state, and points at the invoice it produced. Conversion happens at most
// once.
func (s *Service) ConvertToInvoice(ctx context.Context, id int64, dueDate *time.Time) (documents.Document, error) {
	actor := shared.ActorFromContext(ctx)
	var invoice documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		quote, err := tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if err := documents.Transition(&quote, documents.StatusConverted); err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, actor.TeamID, quote.ID)
		if err != nil {
			return err
		}
		number, err := tx.MintNumber(ctx, actor.TeamID, documents.DocTypeInvoice, quote.IssueDate)
		if err != nil {
			return err
		}
		invoice = documents.Document{
			TeamID:          actor.TeamID,
			Type:            documents.DocTypeInvoice,
			Number:          number,
			CounterpartyID:  quote.CounterpartyID,
			IssueDate:       quote.IssueDate,
			DueDate:         dueDate,
			Currency:        quote.Currency,
			Subtotal:        quote.Subtotal,
			TotalDiscount:   quote.TotalDiscount,
			TotalTax:        quote.TotalTax,
			TotalAmount:     quote.TotalAmount,
			AmountPaid:      money.Zero,
			AmountDue:       quote.TotalAmount,
			AppliedAmount:   money.Zero,
			UnappliedAmount: quote.TotalAmount,
			Status:          documents.StatusDraft,
			PaymentStatus:   documents.PaymentStatusUnpaid,
			Notes:           quote.Notes,
			CreatedBy:       actor.UserID,
		}
		if _, err := tx.InsertDocument(ctx, &invoice); err != nil {
			return err
		}
		copied := make([]documents.DocumentItem, len(items))
		for i, it := range items {
			it.ID = 0
			it.DocumentID = invoice.ID
			copied[i] = it
		}
		if err := tx.ReplaceItems(ctx, invoice.ID, copied); err != nil {
			return err
		}
		quote.LinkedDocumentID = &invoice.ID
		if err := tx.UpdateDocument(ctx, quote); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("converted quotation %s into invoice %s", quote.Number, invoice.Number),
			Meta:   map[string]any{"quotation_id": quote.ID, "invoice_id": invoice.ID},
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	return invoice, nil
}

// Get loads a quotation with its items.
func (s *Service) Get(ctx context.Context, id int64) (documents.Document, []documents.DocumentItem, error) {
	actor := shared.ActorFromContext(ctx)
	doc, err := s.repo.GetDocument(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, nil, err
	}
	if doc.Type != documents.DocTypeQuotation {
		return documents.Document{}, nil, shared.ErrNotFound
	}
	items, err := s.repo.ListItems(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, nil, err
	}
	return doc, items, nil
}
