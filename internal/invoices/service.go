// Package invoices exposes the sales side of the document family: customer
// invoices and the payments recorded against them.
package invoices

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Notifier receives fire-and-forget events after a transaction commits.
type Notifier interface {
	DocumentIssued(ctx context.Context, teamID int64, number, recipient string)
	PaymentRecorded(ctx context.Context, teamID int64, number, recipient string)
}

// Service orchestrates invoice operations.
type Service struct {
	logger   *slog.Logger
	repo     documents.Repository
	notifier Notifier
}

// NewService builds a Service.
func NewService(logger *slog.Logger, repo documents.Repository, notifier Notifier) *Service {
	return &Service{logger: logger, repo: repo, notifier: notifier}
}

// CreateInvoiceInput carries a new draft invoice.
type CreateInvoiceInput struct {
	CustomerID int64
	IssueDate  time.Time
	DueDate    *time.Time
	Currency   documents.Currency
	Notes      string
	Lines      []documents.LineInput
}

// Create mints the invoice number and persists the draft in one transaction.
func (s *Service) Create(ctx context.Context, in CreateInvoiceInput) (documents.Document, error) {
	return documents.CreateDraft(ctx, s.repo, documents.CreateRequest{
		Actor:          shared.ActorFromContext(ctx),
		Type:           documents.DocTypeInvoice,
		CounterpartyID: in.CustomerID,
		IssueDate:      in.IssueDate,
		DueDate:        in.DueDate,
		Currency:       in.Currency,
		Notes:          in.Notes,
		Lines:          in.Lines,
	})
}

// UpdateDraft replaces a draft invoice's lines and recomputes totals.
func (s *Service) UpdateDraft(ctx context.Context, id int64, lines []documents.LineInput, notes string) (documents.Document, error) {
	return documents.UpdateDraft(ctx, s.repo, shared.ActorFromContext(ctx), id, lines, notes)
}

// DeleteDraft removes a draft invoice. Issued invoices are cancelled, never
// deleted.
func (s *Service) DeleteDraft(ctx context.Context, id int64) error {
	return documents.DeleteDraft(ctx, s.repo, shared.ActorFromContext(ctx), id)
}

// Send issues the invoice to the customer. The invoice becomes immutable
// and a receipt email is queued after commit.
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

// Cancel voids the invoice and reverses every payment and credit applied
// to it. Invoices dated inside a filed GST period cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (documents.Document, error) {
	return documents.CancelDocument(ctx, s.repo, shared.ActorFromContext(ctx), id, reason)
}

// Get loads an invoice with its items.
func (s *Service) Get(ctx context.Context, id int64) (documents.Document, []documents.DocumentItem, error) {
	actor := shared.ActorFromContext(ctx)
	doc, err := s.repo.GetDocument(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, nil, err
	}
	if doc.Type != documents.DocTypeInvoice {
		return documents.Document{}, nil, shared.ErrNotFound
	}
	items, err := s.repo.ListItems(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, nil, err
	}
	return doc, items, nil
}

// PaymentAllocation assigns part of a payment to one invoice.
type PaymentAllocation struct {
	InvoiceID int64
	Amount    decimal.Decimal
}

// RecordPaymentInput records money received from a customer.
type RecordPaymentInput struct {
	CustomerID    int64
	Amount        decimal.Decimal
	PaidAt        time.Time
	Method        string
	Note          string
	Allocations   []PaymentAllocation
	CustomerEmail string
}

// RecordPayment registers a customer payment and allocates it across the
// given invoices atomically. Any allocation failing aborts the whole
// payment.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (documents.Payment, error) {
	req := documents.PaymentRequest{
		Actor:          shared.ActorFromContext(ctx),
		CounterpartyID: in.CustomerID,
		TargetType:     documents.DocTypeInvoice,
		NumberType:     documents.DocTypePaymentIn,
		Amount:         in.Amount,
		PaidAt:         in.PaidAt,
		Method:         in.Method,
		Note:           in.Note,
	}
	for _, alloc := range in.Allocations {
		req.Allocations = append(req.Allocations, documents.AllocationRequest{
			DocumentID: alloc.InvoiceID,
			Amount:     alloc.Amount,
		})
	}
	payment, err := documents.RecordPayment(ctx, s.repo, req)
	if err != nil {
		return documents.Payment{}, err
	}
	if s.notifier != nil {
		s.notifier.PaymentRecorded(ctx, payment.TeamID, payment.Number, in.CustomerEmail)
	}
	return payment, nil
}

// DeletePayment reverses a customer payment, restoring every allocated
// invoice's balance.
func (s *Service) DeletePayment(ctx context.Context, paymentID int64, reason string) (documents.Payment, error) {
	return documents.ReversePayment(ctx, s.repo, shared.ActorFromContext(ctx), paymentID, reason)
}
