// Package bills exposes the purchase side of the document family: supplier
// bills and the payments made against them.
package bills

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Service orchestrates bill operations.
type Service struct {
	logger *slog.Logger
	repo   documents.Repository
}

// NewService builds a Service.
func NewService(logger *slog.Logger, repo documents.Repository) *Service {
	return &Service{logger: logger, repo: repo}
}

// CreateBillInput carries a new draft bill.
type CreateBillInput struct {
	SupplierID int64
	IssueDate  time.Time
	DueDate    *time.Time
	Currency   documents.Currency
	Notes      string
	Lines      []documents.LineInput
}

// Create mints the bill number and persists the draft in one transaction.
func (s *Service) Create(ctx context.Context, in CreateBillInput) (documents.Document, error) {
	return documents.CreateDraft(ctx, s.repo, documents.CreateRequest{
		Actor:          shared.ActorFromContext(ctx),
		Type:           documents.DocTypeBill,
		CounterpartyID: in.SupplierID,
		IssueDate:      in.IssueDate,
		DueDate:        in.DueDate,
		Currency:       in.Currency,
		Notes:          in.Notes,
		Lines:          in.Lines,
	})
}

// UpdateDraft replaces a draft bill's lines and recomputes totals.
func (s *Service) UpdateDraft(ctx context.Context, id int64, lines []documents.LineInput, notes string) (documents.Document, error) {
	return documents.UpdateDraft(ctx, s.repo, shared.ActorFromContext(ctx), id, lines, notes)
}

// DeleteDraft removes a draft bill.
func (s *Service) DeleteDraft(ctx context.Context, id int64) error {
	return documents.DeleteDraft(ctx, s.repo, shared.ActorFromContext(ctx), id)
}

// Issue marks the bill as received and approved for payment. Issued bills
// are immutable; corrections go through debit notes.
func (s *Service) Issue(ctx context.Context, id int64) (documents.Document, error) {
	return documents.Issue(ctx, s.repo, shared.ActorFromContext(ctx), id)
}

// Cancel voids the bill and reverses every supplier payment and debit note
// applied to it. Bills dated inside a filed GST period cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (documents.Document, error) {
	return documents.CancelDocument(ctx, s.repo, shared.ActorFromContext(ctx), id, reason)
}

// Get loads a bill with its items.
func (s *Service) Get(ctx context.Context, id int64) (documents.Document, []documents.DocumentItem, error) {
	actor := shared.ActorFromContext(ctx)
	doc, err := s.repo.GetDocument(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, nil, err
	}
	if doc.Type != documents.DocTypeBill {
		return documents.Document{}, nil, shared.ErrNotFound
	}
	items, err := s.repo.ListItems(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, nil, err
	}
	return doc, items, nil
}

// PaymentAllocation assigns part of a supplier payment to one bill.
type PaymentAllocation struct {
	BillID int64
	Amount decimal.Decimal
}

// RecordPaymentInput records money paid out to a supplier.
type RecordPaymentInput struct {
	SupplierID  int64
	Amount      decimal.Decimal
	PaidAt      time.Time
	Method      string
	Note        string
	Allocations []PaymentAllocation
}

// RecordPayment registers a supplier payment and allocates it across the
// given bills atomically.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (documents.Payment, error) {
	req := documents.PaymentRequest{
		Actor:          shared.ActorFromContext(ctx),
		CounterpartyID: in.SupplierID,
		TargetType:     documents.DocTypeBill,
		NumberType:     documents.DocTypePaymentOut,
		Amount:         in.Amount,
		PaidAt:         in.PaidAt,
		Method:         in.Method,
		Note:           in.Note,
	}
	for _, alloc := range in.Allocations {
		req.Allocations = append(req.Allocations, documents.AllocationRequest{
			DocumentID: alloc.BillID,
			Amount:     alloc.Amount,
		})
	}
	return documents.RecordPayment(ctx, s.repo, req)
}

// DeletePayment reverses a supplier payment, restoring every allocated
// bill's balance.
func (s *Service) DeletePayment(ctx context.Context, paymentID int64, reason string) (documents.Payment, error) {
	return documents.ReversePayment(ctx, s.repo, shared.ActorFromContext(ctx), paymentID, reason)
}
