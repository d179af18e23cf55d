// Package notes manages credit and debit notes: adjustment documents that
// carry a consumable balance applied against invoices and bills.
package notes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Service orchestrates note operations.
type Service struct {
	logger *slog.Logger
	repo   documents.Repository
}

// NewService builds a Service.
func NewService(logger *slog.Logger, repo documents.Repository) *Service {
	return &Service{logger: logger, repo: repo}
}

// TargetTypeFor returns the document type a note of the given type applies
// against. Credit notes adjust sales, debit notes adjust purchases.
func TargetTypeFor(noteType documents.DocType) (documents.DocType, error) {
	switch noteType {
	case documents.DocTypeCreditNote:
		return documents.DocTypeInvoice, nil
	case documents.DocTypeDebitNote:
		return documents.DocTypeBill, nil
	}
	return "", fmt.Errorf("%w: %s is not a note type", shared.ErrNotFound, noteType)
}

// CreateNoteInput carries a new draft note. Note lines never carry
// discounts; the adjustment amount is stated directly.
type CreateNoteInput struct {
	Type           documents.DocType
	CounterpartyID int64
	IssueDate      time.Time
	Currency       documents.Currency
	Reason         string
	LinkedID       *int64
	Lines          []documents.LineInput
}

// Create mints the note number and persists the draft in one transaction.
// When the note is raised against a specific document, that document must
// exist, match the note's side, belong to the same counterparty and be at
// least as large as the note: a note can never adjust more than its linked
// document ever carried.
func (s *Service) Create(ctx context.Context, in CreateNoteInput) (documents.Document, error) {
	targetType, err := TargetTypeFor(in.Type)
	if err != nil {
		return documents.Document{}, err
	}
	for i, line := range in.Lines {
		if !line.DiscountPercent.IsZero() {
			return documents.Document{}, fmt.Errorf("line %d: notes do not carry discounts", i+1)
		}
	}
	actor := shared.ActorFromContext(ctx)
	if in.LinkedID != nil {
		linked, err := s.repo.GetDocument(ctx, actor.TeamID, *in.LinkedID)
		if err != nil {
			return documents.Document{}, fmt.Errorf("linked document: %w", err)
		}
		if linked.Type != targetType || linked.CounterpartyID != in.CounterpartyID {
			return documents.Document{}, fmt.Errorf("linked document: %w", shared.ErrNotFound)
		}
		if err := checkLinkedTotal(in.Lines, linked); err != nil {
			return documents.Document{}, err
		}
	}
	return documents.CreateDraft(ctx, s.repo, documents.CreateRequest{
		Actor:          actor,
		Type:           in.Type,
		CounterpartyID: in.CounterpartyID,
		IssueDate:      in.IssueDate,
		Currency:       in.Currency,
		Notes:          in.Reason,
		Lines:          in.Lines,
		LinkedID:       in.LinkedID,
	})
}

// UpdateDraft replaces a draft note's lines and recomputes totals. A linked
// note stays capped by its linked document's total.
func (s *Service) UpdateDraft(ctx context.Context, id int64, lines []documents.LineInput, reason string) (documents.Document, error) {
	for i, line := range lines {
		if !line.DiscountPercent.IsZero() {
			return documents.Document{}, fmt.Errorf("line %d: notes do not carry discounts", i+1)
		}
	}
	actor := shared.ActorFromContext(ctx)
	note, err := s.repo.GetDocument(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, err
	}
	if note.LinkedDocumentID != nil {
		linked, err := s.repo.GetDocument(ctx, actor.TeamID, *note.LinkedDocumentID)
		if err != nil {
			return documents.Document{}, fmt.Errorf("linked document: %w", err)
		}
		if err := checkLinkedTotal(lines, linked); err != nil {
			return documents.Document{}, err
		}
	}
	return documents.UpdateDraft(ctx, s.repo, actor, id, lines, reason)
}

// checkLinkedTotal rejects note lines whose total exceeds the linked
// document's total.
func checkLinkedTotal(lines []documents.LineInput, linked documents.Document) error {
	totals, _, err := documents.CalculateTotals(lines)
	if err != nil {
		return err
	}
	if totals.TotalAmount.GreaterThan(linked.TotalAmount) {
		return fmt.Errorf("%w: note total %s exceeds %s total %s", shared.ErrBalanceExceeded,
			totals.TotalAmount.StringFixed(2), linked.Number, linked.TotalAmount.StringFixed(2))
	}
	return nil
}

// Issue activates the note's balance. An issued note can be applied,
// refunded or cancelled, never edited.
func (s *Service) Issue(ctx context.Context, id int64) (documents.Document, error) {
	return documents.Issue(ctx, s.repo, shared.ActorFromContext(ctx), id)
}

// Apply consumes part of the note's balance against a target document. The
// note must be issued or partially applied, the amount must fit inside both
// the note's unapplied balance and the target's outstanding balance, and
// both documents must belong to the same counterparty.
func (s *Service) Apply(ctx context.Context, noteID, targetID int64, amount decimal.Decimal) (documents.Document, error) {
	if !amount.IsPositive() {
		return documents.Document{}, fmt.Errorf("%w: application amount must be positive", shared.ErrBalanceExceeded)
	}
	actor := shared.ActorFromContext(ctx)
	var note documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		var err error
		note, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, noteID)
		if err != nil {
			return err
		}
		targetType, err := TargetTypeFor(note.Type)
		if err != nil {
			return err
		}
		if err := documents.ApplySource(&note, amount); err != nil {
			return err
		}
		target, err := tx.GetDocumentForUpdate(ctx, actor.TeamID, targetID)
		if err != nil {
			return fmt.Errorf("target document: %w", err)
		}
		if target.Type != targetType || target.CounterpartyID != note.CounterpartyID {
			return fmt.Errorf("target document: %w", shared.ErrNotFound)
		}
		if target.Status == documents.StatusDraft || target.Status == documents.StatusCancelled {
			return shared.TransitionError(string(target.Status), string(documents.StatusPaid))
		}
		if err := documents.ApplyTarget(&target, amount); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, note); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, target); err != nil {
			return err
		}
		if _, err := tx.InsertApplication(ctx, documents.Application{
			TeamID:   actor.TeamID,
			Kind:     documents.ApplicationKindNote,
			SourceID: note.ID,
			TargetID: target.ID,
			Amount:   amount,
		}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("applied %s of %s against %s", amount.StringFixed(2), note.Number, target.Number),
			Meta:   map[string]any{"note_id": note.ID, "target_id": target.ID},
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	return note, nil
}

// Unapply reverses a single application, restoring both the note's and the
// target's balances.
func (s *Service) Unapply(ctx context.Context, noteID, applicationID int64) (documents.Document, error) {
	actor := shared.ActorFromContext(ctx)
	var note documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		var err error
		note, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, noteID)
		if err != nil {
			return err
		}
		apps, err := tx.ListApplicationsBySource(ctx, actor.TeamID, documents.ApplicationKindNote, note.ID)
		if err != nil {
			return err
		}
		var app *documents.Application
		for i := range apps {
			if apps[i].ID == applicationID {
				app = &apps[i]
				break
			}
		}
		if app == nil {
			return fmt.Errorf("application: %w", shared.ErrNotFound)
		}
		target, err := tx.GetDocumentForUpdate(ctx, actor.TeamID, app.TargetID)
		if err != nil {
			return err
		}
		if err := documents.ReverseSource(&note, app.Amount); err != nil {
			return err
		}
		if err := documents.ReverseTarget(&target, app.Amount); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, note); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, target); err != nil {
			return err
		}
		if err := tx.DeleteApplication(ctx, actor.TeamID, app.ID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("unapplied %s of %s from %s", app.Amount.StringFixed(2), note.Number, target.Number),
			Meta:   map[string]any{"note_id": note.ID, "target_id": target.ID},
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	return note, nil
}

// Refund settles the note's remaining unapplied balance in cash and closes
// it. Refunded is terminal; already-applied amounts stay applied.
func (s *Service) Refund(ctx context.Context, id int64, method string) (documents.Document, error) {
	actor := shared.ActorFromContext(ctx)
	var note documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		var err error
		note, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if note.UnappliedAmount.IsZero() {
			return fmt.Errorf("%w: nothing left to refund on %s", shared.ErrBalanceExceeded, note.Number)
		}
		refunded := note.UnappliedAmount
		if err := documents.Transition(&note, documents.StatusRefunded); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, note); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("refunded %s of %s via %s", refunded.StringFixed(2), note.Number, method),
			Meta:   map[string]any{"note_id": note.ID},
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	return note, nil
}

// Cancel voids a note that has no applied balance.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (documents.Document, error) {
	actor := shared.ActorFromContext(ctx)
	var note documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		var err error
		note, err = tx.GetDocumentForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if err := documents.Transition(&note, documents.StatusCancelled); err != nil {
			return err
		}
		note.CancelReason = reason
		note.CancelledBy = actor.UserID
		if err := tx.UpdateDocument(ctx, note); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("cancelled %s %s: %s", note.Type, note.Number, reason),
			Meta:   map[string]any{"note_id": note.ID},
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	return note, nil
}

// Get loads a note with its items and applications.
func (s *Service) Get(ctx context.Context, id int64) (documents.Document, []documents.DocumentItem, []documents.Application, error) {
	actor := shared.ActorFromContext(ctx)
	note, err := s.repo.GetDocument(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, nil, nil, err
	}
	if note.Type != documents.DocTypeCreditNote && note.Type != documents.DocTypeDebitNote {
		return documents.Document{}, nil, nil, shared.ErrNotFound
	}
	items, err := s.repo.ListItems(ctx, actor.TeamID, id)
	if err != nil {
		return documents.Document{}, nil, nil, err
	}
	apps, err := s.repo.ListApplicationsBySource(ctx, actor.TeamID, documents.ApplicationKindNote, id)
	if err != nil {
		return documents.Document{}, nil, nil, err
	}
	return note, items, apps, nil
}
