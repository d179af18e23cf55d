package quotations

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
	return shared.ContextWithActor(context.Background(), shared.Actor{TeamID: 1, UserID: 2, Role: shared.RoleMember})
}

func newService(repo *documenttest.MemoryRepo) *Service {
	return NewService(slog.New(slog.DiscardHandler), repo, nil)
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func sentQuotation(t *testing.T, svc *Service, validUntil *time.Time) documents.Document {
	t.Helper()
	quote, err := svc.Create(testContext(), CreateQuotationInput{
		CustomerID: 42,
		IssueDate:  date("2026-06-01"),
		ValidUntil: validUntil,
		Currency:   documents.CurrencyBTN,
		Lines: []documents.LineInput{
			{Description: "Design work", Quantity: money.MustParse("3"), UnitPrice: money.MustParse("33.335"), TaxRate: money.MustParse("5")},
		},
	})
	require.NoError(t, err)
	sent, err := svc.Send(testContext(), quote.ID, "")
	require.NoError(t, err)
	return sent
}

func TestQuotationLifecycle(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)

	quote := sentQuotation(t, svc, nil)
	require.Equal(t, "QT-2026-0001", quote.Number)
	require.Equal(t, documents.StatusSent, quote.Status)
	require.Equal(t, "105.01", quote.TotalAmount.StringFixed(2))

	accepted, err := svc.Accept(testContext(), quote.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusAccepted, accepted.Status)

	// Accepted quotations cannot be rejected after the fact.
	_, err = svc.Reject(testContext(), quote.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestConvertCopiesLinesAndLinks(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)
	quote := sentQuotation(t, svc, nil)
	_, err := svc.Accept(testContext(), quote.ID)
	require.NoError(t, err)

	due := date("2026-07-15")
	invoice, err := svc.ConvertToInvoice(testContext(), quote.ID, &due)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-0001", invoice.Number)
	require.Equal(t, documents.StatusDraft, invoice.Status)
	require.Equal(t, quote.TotalAmount.StringFixed(2), invoice.TotalAmount.StringFixed(2))
	require.Equal(t, invoice.TotalAmount.StringFixed(2), invoice.AmountDue.StringFixed(2))

	items, err := repo.ListItems(testContext(), 1, invoice.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "100.01", items[0].LineTotal.StringFixed(2))

	converted, err := repo.GetDocument(testContext(), 1, quote.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusConverted, converted.Status)
	require.NotNil(t, converted.LinkedDocumentID)
	require.Equal(t, invoice.ID, *converted.LinkedDocumentID)
}

func TestConvertIsOneWay(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)
	quote := sentQuotation(t, svc, nil)

	// Only accepted quotations convert.
	_, err := svc.ConvertToInvoice(testContext(), quote.ID, nil)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.Accept(testContext(), quote.ID)
	require.NoError(t, err)
	_, err = svc.ConvertToInvoice(testContext(), quote.ID, nil)
	require.NoError(t, err)

	// Converting twice would mint a second invoice from the same quote.
	_, err = svc.ConvertToInvoice(testContext(), quote.ID, nil)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestAcceptAfterValidityExpires(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)
	validUntil := date("2026-06-15")
	quote := sentQuotation(t, svc, &validUntil)

	svc.now = func() time.Time { return date("2026-06-20") }

	_, err := svc.Accept(testContext(), quote.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	after, err := repo.GetDocument(testContext(), 1, quote.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusExpired, after.Status)
}

func TestMarkExpired(t *testing.T) {
	repo := documenttest.NewMemoryRepo()
	svc := newService(repo)
	validUntil := date("2026-06-15")
	quote := sentQuotation(t, svc, &validUntil)

	svc.now = func() time.Time { return date("2026-06-10") }
	_, err := svc.MarkExpired(testContext(), quote.ID)
	require.Error(t, err)

	svc.now = func() time.Time { return date("2026-06-20") }
	expired, err := svc.MarkExpired(testContext(), quote.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusExpired, expired.Status)
}
