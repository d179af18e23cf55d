package gst

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/money"
	"github.com/drukbooks/drukbooks/internal/numbering"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Service computes period aggregates and manages return filing.
type Service struct {
	logger *slog.Logger
	repo   Repository
	docs   documents.Repository
	basis  TaxBasis
	now    func() time.Time
}

// NewService builds a Service. basis selects the output-GST recognition
// rule; the zero value falls back to cash basis.
func NewService(logger *slog.Logger, repo Repository, docs documents.Repository, basis TaxBasis) *Service {
	if basis == "" {
		basis = TaxBasisCash
	}
	return &Service{logger: logger, repo: repo, docs: docs, basis: basis, now: time.Now}
}

// CalculateForPeriod aggregates output and input GST over [start, end].
// Sales and purchase scans are independent and run concurrently.
func (s *Service) CalculateForPeriod(ctx context.Context, start, end time.Time) (PeriodTotals, error) {
	if end.Before(start) {
		return PeriodTotals{}, fmt.Errorf("period end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	actor := shared.ActorFromContext(ctx)

	var sales, purchases Breakdown
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = s.scanSide(gctx, actor.TeamID, documents.DocTypeInvoice, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		purchases, err = s.scanSide(gctx, actor.TeamID, documents.DocTypeBill, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return PeriodTotals{}, err
	}

	outputGst := sales.Standard.Tax
	inputGst := purchases.Standard.Tax
	return PeriodTotals{
		OutputGst:          outputGst,
		InputGst:           inputGst,
		NetGstPayable:      outputGst.Sub(inputGst),
		SalesBreakdown:     sales,
		PurchasesBreakdown: purchases,
	}, nil
}

// scanSide buckets one document type's lines by stored classification.
// Output GST recognises invoices per the configured basis; input GST
// accrues on bill receipt, so every non-cancelled bill counts, drafts
// included.
func (s *Service) scanSide(ctx context.Context, teamID int64, docType documents.DocType, start, end time.Time) (Breakdown, error) {
	docs, err := s.docs.ListDocumentsByType(ctx, teamID, docType, start, end)
	if err != nil {
		return Breakdown{}, err
	}
	breakdown := zeroBreakdown()
	for _, doc := range docs {
		if !s.counts(doc) {
			continue
		}
		items, err := s.docs.ListItems(ctx, teamID, doc.ID)
		if err != nil {
			return Breakdown{}, err
		}
		for _, item := range items {
			net := item.LineTotal.Sub(item.DiscountAmount)
			bucket := breakdown.bucket(item.Classification)
			bucket.Net = bucket.Net.Add(net)
			bucket.Tax = bucket.Tax.Add(item.TaxAmount)
		}
	}
	return breakdown, nil
}

func (s *Service) counts(doc documents.Document) bool {
	if doc.Status == documents.StatusCancelled {
		return false
	}
	if doc.Type == documents.DocTypeBill {
		return true
	}
	switch s.basis {
	case TaxBasisAccrual:
		return doc.Status == documents.StatusSent || doc.Status == documents.StatusPaid
	default:
		return doc.Status == documents.StatusPaid
	}
}

func zeroBreakdown() Breakdown {
	zero := ClassTotals{Net: money.Zero, Tax: money.Zero}
	return Breakdown{Standard: zero, ZeroRated: zero, Exempt: zero}
}

func (b *Breakdown) bucket(class documents.GSTClassification) *ClassTotals {
	switch class {
	case documents.GSTZeroRated:
		return &b.ZeroRated
	case documents.GSTExempt:
		return &b.Exempt
	default:
		return &b.Standard
	}
}

// CreateReturnInput carries a new draft return.
type CreateReturnInput struct {
	Granularity           Granularity
	PeriodStart           time.Time
	PeriodEnd             time.Time
	Adjustments           decimal.Decimal
	PreviousPeriodBalance decimal.Decimal
	Penalties             decimal.Decimal
	Interest              decimal.Decimal
}

// CreateReturn aggregates the period and persists a draft return. The
// period must not overlap any locked range.
func (s *Service) CreateReturn(ctx context.Context, in CreateReturnInput) (Return, error) {
	if !ValidGranularity(in.Granularity) {
		return Return{}, fmt.Errorf("unsupported granularity %q", in.Granularity)
	}
	totals, err := s.CalculateForPeriod(ctx, in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return Return{}, err
	}
	actor := shared.ActorFromContext(ctx)
	ret := Return{
		TeamID:                actor.TeamID,
		Number:                returnNumber(in.Granularity, in.PeriodStart),
		Granularity:           in.Granularity,
		PeriodStart:           in.PeriodStart,
		PeriodEnd:             in.PeriodEnd,
		OutputGst:             totals.OutputGst,
		InputGst:              totals.InputGst,
		NetGstPayable:         totals.NetGstPayable,
		SalesBreakdown:        totals.SalesBreakdown,
		PurchasesBreakdown:    totals.PurchasesBreakdown,
		Adjustments:           in.Adjustments,
		PreviousPeriodBalance: in.PreviousPeriodBalance,
		Penalties:             in.Penalties,
		Interest:              in.Interest,
		Status:                ReturnStatusDraft,
		CreatedBy:             actor.UserID,
	}
	ret.TotalPayable = TotalPayable(ret)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.AnyLockOverlapping(ctx, actor.TeamID, in.PeriodStart, in.PeriodEnd)
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w: a filed return already covers part of %s to %s", shared.ErrPeriodLocked,
				in.PeriodStart.Format("2006-01-02"), in.PeriodEnd.Format("2006-01-02"))
		}
		if _, err := tx.InsertReturn(ctx, &ret); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("created GST return %s", ret.Number),
			Meta:   map[string]any{"return_id": ret.ID},
		})
	})
	if err != nil {
		return Return{}, err
	}
	return ret, nil
}

func returnNumber(g Granularity, start time.Time) string {
	year := numbering.YearOf(start)
	switch g {
	case GranularityMonthly:
		return numbering.ReturnNumber(year, string(g), int(start.Month()))
	case GranularityQuarterly:
		return numbering.ReturnNumber(year, string(g), (int(start.Month())-1)/3+1)
	default:
		return numbering.ReturnNumber(year, string(g), 0)
	}
}

// File files a draft return. Filing is restricted to the owner role and
// creates the period lock that freezes the covered range.
func (s *Service) File(ctx context.Context, id int64) (Return, error) {
	actor := shared.ActorFromContext(ctx)
	if actor.Role != shared.RoleOwner {
		return Return{}, fmt.Errorf("%w: only the owner may file GST returns", shared.ErrForbidden)
	}
	var ret Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if ret.Status != ReturnStatusDraft {
			return shared.TransitionError(string(ret.Status), string(ReturnStatusFiled))
		}
		locked, err := tx.AnyLockOverlapping(ctx, actor.TeamID, ret.PeriodStart, ret.PeriodEnd)
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w: a filed return already covers part of this period", shared.ErrPeriodLocked)
		}
		now := s.now()
		ret.Status = ReturnStatusFiled
		ret.FiledAt = &now
		ret.FiledBy = actor.UserID
		ret.TotalPayable = TotalPayable(ret)
		if err := tx.UpdateReturn(ctx, ret); err != nil {
			return err
		}
		if _, err := tx.InsertPeriodLock(ctx, PeriodLock{
			TeamID:    actor.TeamID,
			ReturnID:  ret.ID,
			StartDate: ret.PeriodStart,
			EndDate:   ret.PeriodEnd,
		}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("filed GST return %s, total payable %s", ret.Number, ret.TotalPayable.StringFixed(2)),
			Meta:   map[string]any{"return_id": ret.ID},
		})
	})
	if err != nil {
		return Return{}, err
	}
	return ret, nil
}

// AmendInput carries an amendment to a filed return.
type AmendInput struct {
	Adjustments decimal.Decimal
	Reason      string
}

// Amend records a new adjustment against a filed return. The previous value
// is preserved as an immutable history entry and the bottom line is
// recomputed from the new adjustment.
func (s *Service) Amend(ctx context.Context, id int64, in AmendInput) (Return, error) {
	if in.Reason == "" {
		return Return{}, fmt.Errorf("amendment reason is required")
	}
	actor := shared.ActorFromContext(ctx)
	var ret Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, actor.TeamID, id)
		if err != nil {
			return err
		}
		if ret.Status != ReturnStatusFiled && ret.Status != ReturnStatusAmended {
			return shared.TransitionError(string(ret.Status), string(ReturnStatusAmended))
		}
		if _, err := tx.InsertAmendment(ctx, Amendment{
			ReturnID:         ret.ID,
			TeamID:           actor.TeamID,
			UserID:           actor.UserID,
			Reason:           in.Reason,
			BeforeAdjustment: ret.Adjustments,
			AfterAdjustment:  in.Adjustments,
		}); err != nil {
			return err
		}
		ret.Adjustments = in.Adjustments
		ret.Status = ReturnStatusAmended
		ret.TotalPayable = TotalPayable(ret)
		if err := tx.UpdateReturn(ctx, ret); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			TeamID: actor.TeamID,
			UserID: actor.UserID,
			Action: fmt.Sprintf("amended GST return %s: %s", ret.Number, in.Reason),
			Meta:   map[string]any{"return_id": ret.ID},
		})
	})
	if err != nil {
		return Return{}, err
	}
	return ret, nil
}

// Get loads a return with its amendment history.
func (s *Service) Get(ctx context.Context, id int64) (Return, []Amendment, error) {
	actor := shared.ActorFromContext(ctx)
	ret, err := s.repo.GetReturn(ctx, actor.TeamID, id)
	if err != nil {
		return Return{}, nil, err
	}
	amendments, err := s.repo.ListAmendments(ctx, actor.TeamID, id)
	if err != nil {
		return Return{}, nil, err
	}
	return ret, amendments, nil
}

// List returns all of the team's returns, newest first.
func (s *Service) List(ctx context.Context) ([]Return, error) {
	actor := shared.ActorFromContext(ctx)
	return s.repo.ListReturns(ctx, actor.TeamID)
}
