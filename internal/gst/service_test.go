package gst

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/documents/documenttest"
	"github.com/drukbooks/drukbooks/internal/money"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// memRepo is an in-memory gst.Repository with all-or-nothing WithTx.
type memRepo struct {
	returns    map[int64]Return
	amendments []Amendment
	locks      []PeriodLock
	audit      []shared.AuditEntry
	nextRetID  int64
	nextAmdID  int64
	nextLockID int64
}

func newMemRepo() *memRepo {
	return &memRepo{returns: make(map[int64]Return)}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapReturns := make(map[int64]Return, len(r.returns))
	for k, v := range r.returns {
		snapReturns[k] = v
	}
	snapAmendments := append([]Amendment(nil), r.amendments...)
	snapLocks := append([]PeriodLock(nil), r.locks...)
	snapAudit := append([]shared.AuditEntry(nil), r.audit...)
	ids := [3]int64{r.nextRetID, r.nextAmdID, r.nextLockID}
	if err := fn(ctx, (*memTx)(r)); err != nil {
		r.returns = snapReturns
		r.amendments = snapAmendments
		r.locks = snapLocks
		r.audit = snapAudit
		r.nextRetID, r.nextAmdID, r.nextLockID = ids[0], ids[1], ids[2]
		return err
	}
	return nil
}

func (r *memRepo) GetReturn(ctx context.Context, teamID, id int64) (Return, error) {
	ret, ok := r.returns[id]
	if !ok || ret.TeamID != teamID {
		return Return{}, shared.ErrNotFound
	}
	return ret, nil
}

func (r *memRepo) ListReturns(ctx context.Context, teamID int64) ([]Return, error) {
	var out []Return
	for _, ret := range r.returns {
		if ret.TeamID == teamID {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (r *memRepo) ListAmendments(ctx context.Context, teamID, returnID int64) ([]Amendment, error) {
	var out []Amendment
	for _, a := range r.amendments {
		if a.TeamID == teamID && a.ReturnID == returnID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) AnyLockOverlapping(ctx context.Context, teamID int64, start, end time.Time) (bool, error) {
	for _, lock := range r.locks {
		if lock.TeamID != teamID {
			continue
		}
		if !lock.StartDate.After(end) && !lock.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

type memTx memRepo

func (t *memTx) InsertReturn(ctx context.Context, ret *Return) (int64, error) {
	t.nextRetID++
	ret.ID = t.nextRetID
	now := time.Now()
	ret.CreatedAt = now
	ret.UpdatedAt = now
	t.returns[ret.ID] = *ret
	return ret.ID, nil
}

func (t *memTx) GetReturnForUpdate(ctx context.Context, teamID, id int64) (Return, error) {
	return (*memRepo)(t).GetReturn(ctx, teamID, id)
}

func (t *memTx) UpdateReturn(ctx context.Context, ret Return) error {
	existing, ok := t.returns[ret.ID]
	if !ok || existing.TeamID != ret.TeamID {
		return shared.ErrNotFound
	}
	ret.UpdatedAt = time.Now()
	t.returns[ret.ID] = ret
	return nil
}

func (t *memTx) InsertAmendment(ctx context.Context, a Amendment) (int64, error) {
	t.nextAmdID++
	a.ID = t.nextAmdID
	a.CreatedAt = time.Now()
	t.amendments = append(t.amendments, a)
	return a.ID, nil
}

func (t *memTx) InsertPeriodLock(ctx context.Context, lock PeriodLock) (int64, error) {
	t.nextLockID++
	lock.ID = t.nextLockID
	lock.CreatedAt = time.Now()
	t.locks = append(t.locks, lock)
	return lock.ID, nil
}

func (t *memTx) AnyLockOverlapping(ctx context.Context, teamID int64, start, end time.Time) (bool, error) {
	return (*memRepo)(t).AnyLockOverlapping(ctx, teamID, start, end)
}

func (t *memTx) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	t.audit = append(t.audit, entry)
	return nil
}

func ownerContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{TeamID: 1, UserID: 1, Role: shared.RoleOwner})
}

func accountantContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{TeamID: 1, UserID: 2, Role: shared.RoleAccountant})
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedDocumentWithItems(t *testing.T, repo *documenttest.MemoryRepo, doc documents.Document, lines []documents.LineInput) documents.Document {
	t.Helper()
	totals, computed, err := documents.CalculateTotals(lines)
	require.NoError(t, err)
	doc.Subtotal = totals.Subtotal
	doc.TotalDiscount = totals.TotalDiscount
	doc.TotalTax = totals.TotalTax
	doc.TotalAmount = totals.TotalAmount
	if doc.AmountDue.IsZero() && doc.PaymentStatus != documents.PaymentStatusPaid {
		doc.AmountDue = totals.TotalAmount
	}
	seeded := repo.SeedDocument(doc)
	err = repo.WithTx(context.Background(), func(ctx context.Context, tx documents.TxRepository) error {
		return tx.ReplaceItems(ctx, seeded.ID, documents.BuildItems(lines, computed))
	})
	require.NoError(t, err)
	return seeded
}

func seedPeriodFixtures(t *testing.T, docs *documenttest.MemoryRepo) {
	t.Helper()
	// Paid invoice: one STANDARD 5% line of 1000 and one ZERO_RATED line of 200.
	seedDocumentWithItems(t, docs, documents.Document{
		TeamID: 1, Type: documents.DocTypeInvoice, Number: "INV-2026-0001",
		CounterpartyID: 42, IssueDate: date("2026-01-10"), Currency: documents.CurrencyBTN,
		Status: documents.StatusPaid, PaymentStatus: documents.PaymentStatusPaid, IsLocked: true,
	}, []documents.LineInput{
		{Description: "Services", Quantity: money.MustParse("1"), UnitPrice: money.MustParse("1000.00"), TaxRate: money.MustParse("5")},
		{Description: "Export", Quantity: money.MustParse("1"), UnitPrice: money.MustParse("200.00")},
	})
	// Unpaid bill: STANDARD 5% line of 400. Bills accrue input GST on
	// receipt, so it counts despite being unpaid.
	seedDocumentWithItems(t, docs, documents.Document{
		TeamID: 1, Type: documents.DocTypeBill, Number: "BILL-2026-0001",
		CounterpartyID: 9, IssueDate: date("2026-01-20"), Currency: documents.CurrencyBTN,
		Status: documents.StatusIssued, PaymentStatus: documents.PaymentStatusUnpaid, IsLocked: true,
	}, []documents.LineInput{
		{Description: "Supplies", Quantity: money.MustParse("1"), UnitPrice: money.MustParse("400.00"), TaxRate: money.MustParse("5")},
	})
}

func TestCalculateForPeriodBuckets(t *testing.T) {
	docs := documenttest.NewMemoryRepo()
	seedPeriodFixtures(t, docs)
	svc := NewService(slog.New(slog.DiscardHandler), newMemRepo(), docs, TaxBasisCash)

	totals, err := svc.CalculateForPeriod(ownerContext(), date("2026-01-01"), date("2026-01-31"))
	require.NoError(t, err)
	require.Equal(t, "50.00", totals.OutputGst.StringFixed(2))
	require.Equal(t, "20.00", totals.InputGst.StringFixed(2))
	require.Equal(t, "30.00", totals.NetGstPayable.StringFixed(2))
	require.Equal(t, "1000.00", totals.SalesBreakdown.Standard.Net.StringFixed(2))
	require.Equal(t, "200.00", totals.SalesBreakdown.ZeroRated.Net.StringFixed(2))
	require.Equal(t, "400.00", totals.PurchasesBreakdown.Standard.Net.StringFixed(2))
}

func TestCalculateCashBasisSkipsUnpaidInvoices(t *testing.T) {
	docs := documenttest.NewMemoryRepo()
	seedPeriodFixtures(t, docs)
	// Sent but unpaid invoice with a STANDARD line.
	seedDocumentWithItems(t, docs, documents.Document{
		TeamID: 1, Type: documents.DocTypeInvoice, Number: "INV-2026-0002",
		CounterpartyID: 42, IssueDate: date("2026-01-15"), Currency: documents.CurrencyBTN,
		Status: documents.StatusSent, PaymentStatus: documents.PaymentStatusUnpaid, IsLocked: true,
	}, []documents.LineInput{
		{Description: "Services", Quantity: money.MustParse("1"), UnitPrice: money.MustParse("600.00"), TaxRate: money.MustParse("5")},
	})

	cash := NewService(slog.New(slog.DiscardHandler), newMemRepo(), docs, TaxBasisCash)
	totals, err := cash.CalculateForPeriod(ownerContext(), date("2026-01-01"), date("2026-01-31"))
	require.NoError(t, err)
	require.Equal(t, "50.00", totals.OutputGst.StringFixed(2))

	accrual := NewService(slog.New(slog.DiscardHandler), newMemRepo(), docs, TaxBasisAccrual)
	totals, err = accrual.CalculateForPeriod(ownerContext(), date("2026-01-01"), date("2026-01-31"))
	require.NoError(t, err)
	require.Equal(t, "80.00", totals.OutputGst.StringFixed(2))
}

func TestCreateReturnNumbering(t *testing.T) {
	docs := documenttest.NewMemoryRepo()
	svc := NewService(slog.New(slog.DiscardHandler), newMemRepo(), docs, TaxBasisCash)

	monthly, err := svc.CreateReturn(ownerContext(), CreateReturnInput{
		Granularity: GranularityMonthly,
		PeriodStart: date("2026-03-01"),
		PeriodEnd:   date("2026-03-31"),
	})
	require.NoError(t, err)
	require.Equal(t, "GST-2026-03", monthly.Number)
	require.Equal(t, ReturnStatusDraft, monthly.Status)

	quarterly, err := svc.CreateReturn(ownerContext(), CreateReturnInput{
		Granularity: GranularityQuarterly,
		PeriodStart: date("2026-04-01"),
		PeriodEnd:   date("2026-06-30"),
	})
	require.NoError(t, err)
	require.Equal(t, "GST-2026-Q2", quarterly.Number)

	annual, err := svc.CreateReturn(ownerContext(), CreateReturnInput{
		Granularity: GranularityAnnual,
		PeriodStart: date("2027-01-01"),
		PeriodEnd:   date("2027-12-31"),
	})
	require.NoError(t, err)
	require.Equal(t, "GST-2027-ANNUAL", annual.Number)
}

func TestFileCreatesLockAndBlocksOverlap(t *testing.T) {
	docs := documenttest.NewMemoryRepo()
	seedPeriodFixtures(t, docs)
	repo := newMemRepo()
	svc := NewService(slog.New(slog.DiscardHandler), repo, docs, TaxBasisCash)

	ret, err := svc.CreateReturn(ownerContext(), CreateReturnInput{
		Granularity:           GranularityMonthly,
		PeriodStart:           date("2026-01-01"),
		PeriodEnd:             date("2026-01-31"),
		PreviousPeriodBalance: money.MustParse("-10.00"),
		Penalties:             money.MustParse("5.00"),
	})
	require.NoError(t, err)

	// Filing is owner-only.
	_, err = svc.File(accountantContext(), ret.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	filed, err := svc.File(ownerContext(), ret.ID)
	require.NoError(t, err)
	require.Equal(t, ReturnStatusFiled, filed.Status)
	require.NotNil(t, filed.FiledAt)
	// 30.00 net - 10.00 carried balance + 5.00 penalties.
	require.Equal(t, "25.00", filed.TotalPayable.StringFixed(2))
	require.Len(t, repo.locks, 1)

	// Filing twice is rejected.
	_, err = svc.File(ownerContext(), ret.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	// No new return may overlap the locked range.
	_, err = svc.CreateReturn(ownerContext(), CreateReturnInput{
		Granularity: GranularityQuarterly,
		PeriodStart: date("2026-01-01"),
		PeriodEnd:   date("2026-03-31"),
	})
	require.ErrorIs(t, err, shared.ErrPeriodLocked)

	// An adjacent, non-overlapping period is fine.
	_, err = svc.CreateReturn(ownerContext(), CreateReturnInput{
		Granularity: GranularityMonthly,
		PeriodStart: date("2026-02-01"),
		PeriodEnd:   date("2026-02-28"),
	})
	require.NoError(t, err)
}

func TestAmendAppendsHistory(t *testing.T) {
	docs := documenttest.NewMemoryRepo()
	seedPeriodFixtures(t, docs)
	repo := newMemRepo()
	svc := NewService(slog.New(slog.DiscardHandler), repo, docs, TaxBasisCash)

	ret, err := svc.CreateReturn(ownerContext(), CreateReturnInput{
		Granularity: GranularityMonthly,
		PeriodStart: date("2026-01-01"),
		PeriodEnd:   date("2026-01-31"),
	})
	require.NoError(t, err)

	// Draft returns cannot be amended.
	_, err = svc.Amend(ownerContext(), ret.ID, AmendInput{Adjustments: money.MustParse("5.00"), Reason: "typo"})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.File(ownerContext(), ret.ID)
	require.NoError(t, err)

	amended, err := svc.Amend(ownerContext(), ret.ID, AmendInput{
		Adjustments: money.MustParse("-7.50"),
		Reason:      "late supplier credit",
	})
	require.NoError(t, err)
	require.Equal(t, ReturnStatusAmended, amended.Status)
	require.Equal(t, "22.50", amended.TotalPayable.StringFixed(2))

	again, err := svc.Amend(ownerContext(), ret.ID, AmendInput{
		Adjustments: money.MustParse("-5.00"),
		Reason:      "correction of correction",
	})
	require.NoError(t, err)
	require.Equal(t, "25.00", again.TotalPayable.StringFixed(2))

	_, history, err := svc.Get(ownerContext(), ret.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "0.00", history[0].BeforeAdjustment.StringFixed(2))
	require.Equal(t, "-7.50", history[0].AfterAdjustment.StringFixed(2))
	require.Equal(t, "-7.50", history[1].BeforeAdjustment.StringFixed(2))
	require.Equal(t, "-5.00", history[1].AfterAdjustment.StringFixed(2))
}

func TestNegativeNetRecordedAsIs(t *testing.T) {
	docs := documenttest.NewMemoryRepo()
	// Input exceeds output: only a bill in the period.
	seedDocumentWithItems(t, docs, documents.Document{
		TeamID: 1, Type: documents.DocTypeBill, Number: "BILL-2026-0002",
		CounterpartyID: 9, IssueDate: date("2026-02-10"), Currency: documents.CurrencyBTN,
		Status: documents.StatusIssued, PaymentStatus: documents.PaymentStatusUnpaid, IsLocked: true,
	}, []documents.LineInput{
		{Description: "Supplies", Quantity: money.MustParse("1"), UnitPrice: money.MustParse("400.00"), TaxRate: money.MustParse("5")},
	})
	svc := NewService(slog.New(slog.DiscardHandler), newMemRepo(), docs, TaxBasisCash)

	totals, err := svc.CalculateForPeriod(ownerContext(), date("2026-02-01"), date("2026-02-28"))
	require.NoError(t, err)
	require.Equal(t, "-20.00", totals.NetGstPayable.StringFixed(2))
}

func TestAmendmentTotalsUseCreateInputs(t *testing.T) {
	ret := Return{
		NetGstPayable:         money.MustParse("30.00"),
		Adjustments:           money.MustParse("2.00"),
		PreviousPeriodBalance: money.MustParse("-10.00"),
		Penalties:             money.MustParse("5.00"),
		Interest:              money.MustParse("1.25"),
	}
	require.Equal(t, "28.25", TotalPayable(ret).StringFixed(2))
}
