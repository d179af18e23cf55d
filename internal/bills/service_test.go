package bills

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

func testContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{TeamID: 1, UserID: 3, Role: shared.RoleAccountant})
}

func newService(repo *documenttest.MemoryRepo) *Service {
	return NewService(slog.New(slog.DiscardHandler), repo)
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedIssuedBill(repo *documenttest.MemoryRepo, supplierID int64, total string) documents.Document {
	amount := money.MustParse(total)
	return repo.SeedDocument(documents.Document{
		TeamID:         1,
		Type:           documents.DocTypeBill,
		Number:         "BILL-2026-0001",
		CounterpartyID: supplierID,
		IssueDate:      date("2026-04-05"),
		Currency:       documents.CurrencyBTN,
		TotalAmount:    amount,
		AmountPaid:     money.Zero,
		AmountDue:      amount,
		Status:         documents.StatusIssued,
		PaymentStatus:  documents.PaymentStatusUnpaid,
		IsLocked:       true,
	})
}

func TestCreateAndIssueBill(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)

	doc, err := svc.Create(testContext(), CreateBillInput{
		SupplierID: 9,
		IssueDate:  date("2026-04-01"),
		Currency:   documents.CurrencyINR,
		Lines: []documents.LineInput{
			{Description: "Raw material", Quantity: money.MustParse("10"), UnitPrice: money.MustParse("45.50"), TaxRate: money.MustParse("5")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "BILL-2026-0001", doc.Number)
	require.Equal(t, "455.00", doc.Subtotal.StringFixed(2))
	require.Equal(t, "477.75", doc.TotalAmount.StringFixed(2))

	issued, err := svc.Issue(testContext(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusIssued, issued.Status)
	require.True(t, issued.IsLocked)

	// Bills use "issued", never the sales-side "sent".
	_, err = svc.UpdateDraft(testContext(), doc.ID, []documents.LineInput{
		{Description: "Raw material", Quantity: money.MustParse("1"), UnitPrice: money.MustParse("45.50")},
	}, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestSupplierPaymentNumbering(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)
	bill := seedIssuedBill(repo, 9, "477.75")

	payment, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		SupplierID: 9,
		Amount:     money.MustParse("477.75"),
		PaidAt:     date("2026-04-20"),
		Method:     "bank",
		Allocations: []PaymentAllocation{
			{BillID: bill.ID, Amount: money.MustParse("477.75")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "SPAY-2026-0001", payment.Number)

	after, err := repo.GetDocument(testContext(), 1, bill.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusPaid, after.Status)
	require.Equal(t, documents.PaymentStatusPaid, after.PaymentStatus)
}

func TestSupplierPaymentCannotTargetInvoices(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)
	invoice := repo.SeedDocument(documents.Document{
		TeamID: 1, Type: documents.DocTypeInvoice, Number: "INV-2026-0001",
		CounterpartyID: 9, IssueDate: date("2026-04-05"), Currency: documents.CurrencyBTN,
		TotalAmount: money.MustParse("100.00"), AmountDue: money.MustParse("100.00"),
		AmountPaid: money.Zero, Status: documents.StatusSent,
		PaymentStatus: documents.PaymentStatusUnpaid,
	})

	_, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		SupplierID: 9,
		Amount:     money.MustParse("100.00"),
		PaidAt:     date("2026-04-20"),
		Method:     "bank",
		Allocations: []PaymentAllocation{
			{BillID: invoice.ID, Amount: money.MustParse("100.00")},
		},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCancelBillReversesSupplierPayment(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)
	bill := seedIssuedBill(repo, 9, "477.75")

	payment, err := svc.RecordPayment(testContext(), RecordPaymentInput{
		SupplierID: 9,
		Amount:     money.MustParse("200.00"),
		PaidAt:     date("2026-04-20"),
		Method:     "cash",
		Allocations: []PaymentAllocation{
			{BillID: bill.ID, Amount: money.MustParse("200.00")},
		},
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(testContext(), bill.ID, "duplicate bill")
	require.NoError(t, err)
	require.Equal(t, documents.StatusCancelled, cancelled.Status)
	require.Equal(t, "477.75", cancelled.AmountDue.StringFixed(2))

	after, err := repo.GetPayment(testContext(), 1, payment.ID)
	require.NoError(t, err)
	require.NotNil(t, after.ReversedAt)
	require.Equal(t, "200.00", after.UnallocatedAmount.StringFixed(2))
}

func TestCancelBillBlockedInLockedPeriod(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)
	bill := seedIssuedBill(repo, 9, "477.75")
	repo.Locks = append(repo.Locks, documenttest.PeriodLock{
		TeamID:    1,
		StartDate: date("2026-04-01"),
		EndDate:   date("2026-04-30"),
	})

	_, err := svc.Cancel(testContext(), bill.ID, "late void")
	require.ErrorIs(t, err, shared.ErrPeriodLocked)
}
