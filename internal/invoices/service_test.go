package invoices

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

type notifierRecorder struct {
	issued   []string
	payments []string
}

func (n *notifierRecorder) DocumentIssued(_ context.Context, _ int64, number, _ string) {
	n.issued = append(n.issued, number)
}

func (n *notifierRecorder) PaymentRecorded(_ context.Context, _ int64, number, _ string) {
	n.payments = append(n.payments, number)
}

func testContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{TeamID: 1, UserID: 7, Role: shared.RoleAccountant})
}

func newService(repo *documenttest.MemoryRepo, notifier Notifier) *Service {
	return NewService(slog.New(slog.DiscardHandler), repo, notifier)
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func standardLines() []documents.LineInput {
	return []documents.LineInput{
		{Description: "Consulting", Quantity: money.MustParse("2"), UnitPrice: money.MustParse("500.00"), TaxRate: money.MustParse("5")},
		{Description: "Hosting", Quantity: money.MustParse("1"), UnitPrice: money.MustParse("100.00"), TaxRate: money.MustParse("5")},
	}
}

func seedSentInvoice(repo *documenttest.MemoryRepo, customerID int64, total string) documents.Document {
	amount := money.MustParse(total)
	return repo.SeedDocument(documents.Document{
		TeamID:         1,
		Type:           documents.DocTypeInvoice,
		Number:         "INV-2026-0001",
		CounterpartyID: customerID,
		IssueDate:      date("2026-03-10"),
		Currency:       documents.CurrencyBTN,
		TotalAmount:    amount,
		AmountPaid:     money.Zero,
		AmountDue:      amount,
		Status:         documents.StatusSent,
		PaymentStatus:  documents.PaymentStatusUnpaid,
		IsLocked:       true,
	})
}

func TestCreateMintsNumberAndTotals(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)

	doc, err := svc.Create(testContext(), CreateInvoiceInput{
		CustomerID: 42,
		IssueDate:  date("2026-03-01"),
		Currency:   documents.CurrencyBTN,
		Lines:      standardLines(),
	})
	require.NoError(t, err)
	require.Equal(t, "INV-2026-0001", doc.Number)
	require.Equal(t, documents.StatusDraft, doc.Status)
	require.Equal(t, "1100.00", doc.Subtotal.StringFixed(2))
	require.Equal(t, "55.00", doc.TotalTax.StringFixed(2))
	require.Equal(t, "1155.00", doc.TotalAmount.StringFixed(2))
	require.Equal(t, "1155.00", doc.AmountDue.StringFixed(2))

	items, err := repo.ListItems(testContext(), 1, doc.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotEmpty(t, repo.AuditLog)

	second, err := svc.Create(testContext(), CreateInvoiceInput{
		CustomerID: 42,
		IssueDate:  date("2026-03-02"),
		Currency:   documents.CurrencyBTN,
		Lines:      standardLines(),
	})
	require.NoError(t, err)
	require.Equal(t, "INV-2026-0002", second.Number)
}

func TestCreateRejectsUnsupportedCurrency(t *testing.T) {
	svc := newService(documenttest.NewMemoryRepo(), nil)
	_, err := svc.Create(testContext(), CreateInvoiceInput{
		CustomerID: 42,
		IssueDate:  date("2026-03-01"),
		Currency:   "EUR",
		Lines:      standardLines(),
	})
	require.Error(t, err)
}

func TestUpdateDraftRecomputesTotals(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)
	doc, err := svc.Create(testContext(), CreateInvoiceInput{
		CustomerID: 42,
		IssueDate:  date("2026-03-01"),
		Currency:   documents.CurrencyBTN,
		Lines:      standardLines(),
	})
	require.NoError(t, err)

	updated, err := svc.UpdateDraft(testContext(), doc.ID, []documents.LineInput{
		{Description: "Consulting", Quantity: money.MustParse("1"), UnitPrice: money.MustParse("200.00"), TaxRate: money.MustParse("5")},
	}, "trimmed")
	require.NoError(t, err)
	require.Equal(t, "210.00", updated.TotalAmount.StringFixed(2))
	require.Equal(t, doc.Number, updated.Number)
}

func TestUpdateRejectedOnceSent(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	notifier := &notifierRecorder{}
	svc := newService(repo, notifier)
	doc, err := svc.Create(testContext(), CreateInvoiceInput{
		CustomerID: 42,
		IssueDate:  date("2026-03-01"),
		Currency:   documents.CurrencyBTN,
		Lines:      standardLines(),
	})
	require.NoError(t, err)

	sent, err := svc.Send(testContext(), doc.ID, "customer@example.bt")
	require.NoError(t, err)
	require.Equal(t, documents.StatusSent, sent.Status)
	require.True(t, sent.IsLocked)
	require.Equal(t, []string{sent.Number}, notifier.issued)

	_, err = svc.UpdateDraft(testContext(), doc.ID, standardLines(), "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.Send(testContext(), doc.ID, "customer@example.bt")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestRecordPaymentAcrossInvoices(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	notifier := &notifierRecorder{}
	svc := newService(repo, notifier)
	first := seedSentInvoice(repo, 42, "300.00")
	second := repo.SeedDocument(documents.Document{
		TeamID: 1, Type: documents.DocTypeInvoice, Number: "INV-2026-0002",
		CounterpartyID: 42, IssueDate: date("2026-03-12"), Currency: documents.CurrencyBTN,
		TotalAmount: money.MustParse("200.00"), AmountDue: money.MustParse("200.00"),
		AmountPaid: money.Zero, Status: documents.StatusSent,
		PaymentStatus: documents.PaymentStatusUnpaid, IsLocked: true,
	})

	payment, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		CustomerID: 42,
		Amount:     money.MustParse("400.00"),
		PaidAt:     date("2026-03-20"),
		Method:     "bank",
		Allocations: []PaymentAllocation{
			{InvoiceID: first.ID, Amount: money.MustParse("300.00")},
			{InvoiceID: second.ID, Amount: money.MustParse("100.00")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "PAY-2026-0001", payment.Number)
	require.Equal(t, "400.00", payment.AllocatedAmount.StringFixed(2))
	require.Equal(t, "0.00", payment.UnallocatedAmount.StringFixed(2))
	require.Len(t, notifier.payments, 1)

	paid, err := repo.GetDocument(testContext(), 1, first.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusPaid, paid.Status)
	require.Equal(t, documents.PaymentStatusPaid, paid.PaymentStatus)

	partial, err := repo.GetDocument(testContext(), 1, second.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusSent, partial.Status)
	require.Equal(t, documents.PaymentStatusPartial, partial.PaymentStatus)
	require.Equal(t, "100.00", partial.AmountDue.StringFixed(2))
}

func TestRecordPaymentAtomicAcrossAllocations(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)
	inv := seedSentInvoice(repo, 42, "300.00")

	// Second allocation overpays its invoice; the whole payment must roll
	// back, including the first allocation.
	_, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		CustomerID: 42,
		Amount:     money.MustParse("900.00"),
		PaidAt:     date("2026-03-20"),
		Method:     "bank",
		Allocations: []PaymentAllocation{
			{InvoiceID: inv.ID, Amount: money.MustParse("100.00")},
			{InvoiceID: inv.ID, Amount: money.MustParse("500.00")},
		},
	})
	require.ErrorIs(t, err, shared.ErrBalanceExceeded)

	after, err := repo.GetDocument(testContext(), 1, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "0.00", after.AmountPaid.StringFixed(2))
	require.Equal(t, "300.00", after.AmountDue.StringFixed(2))
	require.Empty(t, repo.Payments)
	require.Empty(t, repo.Applications)
}

func TestRecordPaymentRejectsOverAllocation(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)
	inv := seedSentInvoice(repo, 42, "300.00")

	_, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		CustomerID: 42,
		Amount:     money.MustParse("100.00"),
		PaidAt:     date("2026-03-20"),
		Method:     "bank",
		Allocations: []PaymentAllocation{
			{InvoiceID: inv.ID, Amount: money.MustParse("150.00")},
		},
	})
	require.ErrorIs(t, err, shared.ErrBalanceExceeded)
}

func TestRecordPaymentRejectsWrongCustomer(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)
	inv := seedSentInvoice(repo, 42, "300.00")

	_, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		CustomerID: 99,
		Amount:     money.MustParse("100.00"),
		PaidAt:     date("2026-03-20"),
		Method:     "bank",
		Allocations: []PaymentAllocation{
			{InvoiceID: inv.ID, Amount: money.MustParse("100.00")},
		},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeletePaymentRestoresBalances(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)
	inv := seedSentInvoice(repo, 42, "300.00")

	payment, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		CustomerID: 42,
		Amount:     money.MustParse("300.00"),
		PaidAt:     date("2026-03-20"),
		Method:     "bank",
		Allocations: []PaymentAllocation{
			{InvoiceID: inv.ID, Amount: money.MustParse("300.00")},
		},
	})
	require.NoError(t, err)

	reversed, err := svc.DeletePayment(testContext(), payment.ID, "duplicate entry")
	require.NoError(t, err)
	require.NotNil(t, reversed.ReversedAt)
	require.Equal(t, "300.00", reversed.UnallocatedAmount.StringFixed(2))

	after, err := repo.GetDocument(testContext(), 1, inv.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusSent, after.Status)
	require.Equal(t, documents.PaymentStatusUnpaid, after.PaymentStatus)
	require.Equal(t, "300.00", after.AmountDue.StringFixed(2))
	require.Empty(t, repo.Applications)

	_, err = svc.DeletePayment(testContext(), payment.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCancelReversesPayments(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)
	inv := seedSentInvoice(repo, 42, "300.00")

	payment, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		CustomerID: 42,
		Amount:     money.MustParse("300.00"),
		PaidAt:     date("2026-03-20"),
		Method:     "bank",
		Allocations: []PaymentAllocation{
			{InvoiceID: inv.ID, Amount: money.MustParse("300.00")},
		},
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(testContext(), inv.ID, "customer dispute")
	require.NoError(t, err)
	require.Equal(t, documents.StatusCancelled, cancelled.Status)
	require.Equal(t, "0.00", cancelled.AmountPaid.StringFixed(2))
	require.Equal(t, "300.00", cancelled.AmountDue.StringFixed(2))
	require.Equal(t, documents.PaymentStatusUnpaid, cancelled.PaymentStatus)
	require.Equal(t, "customer dispute", cancelled.CancelReason)

	after, err := repo.GetPayment(testContext(), 1, payment.ID)
	require.NoError(t, err)
	require.NotNil(t, after.ReversedAt)
	require.Equal(t, "300.00", after.UnallocatedAmount.StringFixed(2))
	require.Empty(t, repo.Applications)
}

func TestCancelBlockedInLockedPeriod(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)
	inv := seedSentInvoice(repo, 42, "300.00")
	repo.Locks = append(repo.Locks, documenttest.PeriodLock{
		TeamID:    1,
		StartDate: date("2026-03-01"),
		EndDate:   date("2026-03-31"),
	})

	_, err := svc.Cancel(testContext(), inv.ID, "late void")
	require.ErrorIs(t, err, shared.ErrPeriodLocked)

	after, err := repo.GetDocument(testContext(), 1, inv.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusSent, after.Status)
}

func TestDeleteDraftOnly(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo, nil)
	doc, err := svc.Create(testContext(), CreateInvoiceInput{
		CustomerID: 42,
		IssueDate:  date("2026-03-01"),
		Currency:   documents.CurrencyBTN,
		Lines:      standardLines(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDraft(testContext(), doc.ID))
	_, _, err = svc.Get(testContext(), doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	sent := seedSentInvoice(repo, 42, "300.00")
	require.ErrorIs(t, svc.DeleteDraft(testContext(), sent.ID), shared.ErrInvalidTransition)
}
