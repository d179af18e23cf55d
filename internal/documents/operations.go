package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drukbooks/drukbooks/internal/money"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Payment number types ride the same sequence table as documents.
const (
	DocTypePaymentIn  DocType = "payment_in"
	DocTypePaymentOut DocType = "payment_out"
)

// AllocationRequest assigns part of a payment to one target document.
type AllocationRequest struct {
	DocumentID int64
	Amount     decimal.Decimal
}

// PaymentRequest records a customer or supplier payment fanned out over one
// or more target documents.
type PaymentRequest struct {
	Actor          shared.Actor
	CounterpartyID int64
	TargetType     DocType // DocTypeInvoice or DocTypeBill
	NumberType     DocType // DocTypePaymentIn or DocTypePaymentOut
	Amount         decimal.Decimal
	PaidAt         time.Time
	Method         string
	Note           string
	Allocations    []AllocationRequest
}

// RecordPayment inserts the payment, applies every allocation and updates
// every target balance in one transaction. Partial failure of any
// allocation aborts the whole recording; no partially-allocated payment is
// ever persisted.
func RecordPayment(ctx context.Context, repo Repository, req PaymentRequest) (Payment, error) {
	if !req.Amount.IsPositive() {
		return Payment{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrBalanceExceeded)
	}
	if len(req.Allocations) == 0 {
		return Payment{}, fmt.Errorf("at least one allocation is required")
	}
	totalAllocated := money.Zero
	for _, alloc := range req.Allocations {
		if !alloc.Amount.IsPositive() {
			return Payment{}, fmt.Errorf("%w: allocation amount must be positive", shared.ErrBalanceExceeded)
		}
		totalAllocated = totalAllocated.Add(alloc.Amount)
	}
	if totalAllocated.GreaterThan(req.Amount) {
		return Payment{}, fmt.Errorf("%w: allocations %s exceed payment amount %s", shared.ErrBalanceExceeded,
			totalAllocated.StringFixed(2), req.Amount.StringFixed(2))
	}

	var payment Payment
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.MintNumber(ctx, req.Actor.TeamID, req.NumberType, req.PaidAt)
		if err != nil {
			return err
		}
		payment = Payment{
			TeamID:            req.Actor.TeamID,
			Number:            number,
			CounterpartyID:    req.CounterpartyID,
			TargetType:        req.TargetType,
			Amount:            req.Amount,
			AllocatedAmount:   money.Zero,
			UnallocatedAmount: req.Amount,
			PaidAt:            req.PaidAt,
			Method:            req.Method,
			Note:              req.Note,
			CreatedBy:         req.Actor.UserID,
		}
		if _, err := tx.InsertPayment(ctx, &payment); err != nil {
			return err
		}
		for _, alloc := range req.Allocations {
			target, err := tx.GetDocumentForUpdate(ctx, req.Actor.TeamID, alloc.DocumentID)
			if err != nil {
				return err
			}
			if target.Type != req.TargetType {
				return shared.ErrNotFound
			}
			if target.CounterpartyID != req.CounterpartyID {
				return fmt.Errorf("%w: document %s belongs to a different counterparty", shared.ErrNotFound, target.Number)
			}
			if target.Status == StatusDraft || target.Status == StatusCancelled {
				return shared.TransitionError(string(target.Status), string(StatusPaid))
			}
			if err := AllocatePayment(&payment, alloc.Amount); err != nil {
				return err
			}
			if err := ApplyTarget(&target, alloc.Amount); err != nil {
				return fmt.Errorf("allocate %s against %s: %w", alloc.Amount.StringFixed(2), target.Number, err)
			}
			if err := tx.UpdateDocument(ctx, target); err != nil {
				return err
			}
			if _, err := tx.InsertApplication(ctx, Application{
				TeamID:   req.Actor.TeamID,
				Kind:     ApplicationKindPayment,
				SourceID: payment.ID,
				TargetID: target.ID,
				Amount:   alloc.Amount,
			}); err != nil {
				return err
			}
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: req.Actor.TeamID,
			UserID: req.Actor.UserID,
			Action: fmt.Sprintf("recorded payment %s of %s", payment.Number, payment.Amount.StringFixed(2)),
			Meta:   map[string]any{"payment_id": payment.ID, "allocations": len(req.Allocations)},
		})
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// ReversePayment deletes every allocation of a payment and restores all
// target balances, the exact inverse of RecordPayment. Fully paid targets
// fall back to their issued status as balances dictate.
func ReversePayment(ctx context.Context, repo Repository, actor shared.Actor, paymentID int64, reason string) (Payment, error) {
	var payment Payment
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPaymentForUpdate(ctx, actor.TeamID, paymentID)
		if err != nil {
			return err
		}
		if payment.ReversedAt != nil {
			return shared.TransitionError("reversed", "reversed")
		}
		apps, err := tx.ListApplicationsBySource(ctx, actor.TeamID, ApplicationKindPayment, payment.ID)
		if err != nil {
			return err
		}
		for _, app := range apps {
			target, err := tx.GetDocumentForUpdate(ctx, actor.TeamID, app.TargetID)
			if err != nil {
				return err
			}
			if err := ReverseTarget(&target, app.Amount); err != nil {
				return err
			}
			if err := tx.UpdateDocument(ctx, target); err != nil {
				return err
			}
			if err := ReleasePayment(&payment, app.Amount); err != nil {
				return err
			}
			if err := tx.DeleteApplication(ctx, actor.TeamID, app.ID); err != nil {
				return err
			}
		}
		now := time.Now()
		payment.ReversedAt = &now
		payment.ReversedReason = reason
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("reversed payment %s: %s", payment.Number, reason),
			Meta:   map[string]any{"payment_id": payment.ID},
		})
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// CancelDocument cancels an invoice or bill. The document's date must not
// fall inside a locked GST period — cancelling after filing would corrupt
// the filed figures, so callers are told to raise a credit or debit note
// instead — and every application against it is reversed in the same
// transaction: payments get their unallocated balance back and are stamped
// reversed, notes get their unapplied balance back.
func CancelDocument(ctx context.Context, repo Repository, actor shared.Actor, id int64, reason string) (Document, error) {
	var doc Document
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		locked, err := tx.PeriodLockedAt(ctx, actor.TeamID, doc.IssueDate)
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w: issue a credit or debit note instead of cancelling %s", shared.ErrPeriodLocked, doc.Number)
		}
		if err := Transition(&doc, StatusCancelled); err != nil {
			return err
		}
		apps, err := tx.ListApplicationsByTarget(ctx, actor.TeamID, doc.ID)
		if err != nil {
			return err
		}
		for _, app := range apps {
			switch app.Kind {
			case ApplicationKindPayment:
				payment, err := tx.GetPaymentForUpdate(ctx, actor.TeamID, app.SourceID)
				if err != nil {
					return err
				}
				if err := ReleasePayment(&payment, app.Amount); err != nil {
					return err
				}
				now := time.Now()
				payment.ReversedAt = &now
				payment.ReversedReason = fmt.Sprintf("document %s cancelled", doc.Number)
				if err := tx.UpdatePayment(ctx, payment); err != nil {
					return err
				}
			case ApplicationKindNote:
				note, err := tx.GetDocumentForUpdate(ctx, actor.TeamID, app.SourceID)
				if err != nil {
					return err
				}
				if err := ReverseSource(&note, app.Amount); err != nil {
					return err
				}
				if err := tx.UpdateDocument(ctx, note); err != nil {
					return err
				}
			}
			if err := tx.DeleteApplication(ctx, actor.TeamID, app.ID); err != nil {
				return err
			}
		}
		doc.AmountPaid = money.Zero
		doc.AmountDue = doc.TotalAmount
		doc.PaymentStatus = PaymentStatusUnpaid
		doc.CancelReason = reason
		doc.CancelledBy = actor.UserID
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("cancelled %s %s: %s", doc.Type, doc.Number, reason),
			Meta:   map[string]any{"document_id": doc.ID},
		})
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// CreateRequest carries the common fields for creating a draft document.
type CreateRequest struct {
	Actor          shared.Actor
	Type           DocType
	CounterpartyID int64
	IssueDate      time.Time
	DueDate        *time.Time
	ValidUntil     *time.Time
	Currency       Currency
	Notes          string
	Lines          []LineInput
	LinkedID       *int64
}

// CreateDraft mints a number, computes totals and persists the document
// with its items in one transaction. A failed insert rolls the minted
// number back with it, so retries never leave gaps.
func CreateDraft(ctx context.Context, repo Repository, req CreateRequest) (Document, error) {
	if !ValidCurrency(req.Currency) {
		return Document{}, fmt.Errorf("unsupported currency %q", req.Currency)
	}
	totals, computed, err := CalculateTotals(req.Lines)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.MintNumber(ctx, req.Actor.TeamID, req.Type, req.IssueDate)
		if err != nil {
			return err
		}
		doc = Document{
			TeamID:           req.Actor.TeamID,
			Type:             req.Type,
			Number:           number,
			CounterpartyID:   req.CounterpartyID,
			IssueDate:        req.IssueDate,
			DueDate:          req.DueDate,
			ValidUntil:       req.ValidUntil,
			Currency:         req.Currency,
			Subtotal:         totals.Subtotal,
			TotalDiscount:    totals.TotalDiscount,
			TotalTax:         totals.TotalTax,
			TotalAmount:      totals.TotalAmount,
			AmountPaid:       money.Zero,
			AmountDue:        totals.TotalAmount,
			AppliedAmount:    money.Zero,
			UnappliedAmount:  totals.TotalAmount,
			Status:           StatusDraft,
			PaymentStatus:    PaymentStatusUnpaid,
			LinkedDocumentID: req.LinkedID,
			Notes:            req.Notes,
			CreatedBy:        req.Actor.UserID,
		}
		if _, err := tx.InsertDocument(ctx, &doc); err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, doc.ID, BuildItems(req.Lines, computed)); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: req.Actor.TeamID,
			UserID: req.Actor.UserID,
			Action: fmt.Sprintf("created %s %s", doc.Type, doc.Number),
			Meta:   map[string]any{"document_id": doc.ID},
		})
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// UpdateDraft replaces a draft document's lines and recomputes its totals.
// Non-draft documents are immutable.
func UpdateDraft(ctx context.Context, repo Repository, actor shared.Actor, id int64, lines []LineInput, notes string) (Document, error) {
	totals, computed, err := CalculateTotals(lines)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if !CanEditItems(&doc) {
			return shared.TransitionError(string(doc.Status), string(StatusDraft))
		}
		doc.Subtotal = totals.Subtotal
		doc.TotalDiscount = totals.TotalDiscount
		doc.TotalTax = totals.TotalTax
		doc.TotalAmount = totals.TotalAmount
		doc.AmountDue = totals.TotalAmount
		doc.UnappliedAmount = totals.TotalAmount
		doc.Notes = notes
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, doc.ID, BuildItems(lines, computed)); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("updated %s %s", doc.Type, doc.Number),
			Meta:   map[string]any{"document_id": doc.ID},
		})
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Issue moves a draft document to its issued status and locks it.
func Issue(ctx context.Context, repo Repository, actor shared.Actor, id int64) (Document, error) {
	var doc Document
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if err := Transition(&doc, IssuedStatus(doc.Type)); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("issued %s %s", doc.Type, doc.Number),
			Meta:   map[string]any{"document_id": doc.ID},
		})
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// DeleteDraft removes a draft document and its items.
func DeleteDraft(ctx context.Context, repo Repository, actor shared.Actor, id int64) error {
	return repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return shared.TransitionError(string(doc.Status), "deleted")
		}
		if err := tx.DeleteDraftDocument(ctx, actor.TeamID, id); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("deleted draft %s %s", doc.Type, doc.Number),
			Meta:   map[string]any{"document_id": doc.ID},
		})
	})
}
