package documents

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/drukbooks/drukbooks/internal/shared"
)

func issuedNote(total string) *Document {
	return &Document{
		Type:            DocTypeCreditNote,
		Status:          StatusIssued,
		TotalAmount:     dec(total),
		AppliedAmount:   decimal.Zero,
		UnappliedAmount: dec(total),
	}
}

func sentInvoice(total string) *Document {
	return &Document{
		Type:          DocTypeInvoice,
		Status:        StatusSent,
		TotalAmount:   dec(total),
		AmountPaid:    decimal.Zero,
		AmountDue:     dec(total),
		PaymentStatus: PaymentStatusUnpaid,
	}
}

func requireSourceConserved(t *testing.T, d *Document) {
	t.Helper()
	require.True(t, d.AppliedAmount.Add(d.UnappliedAmount).Equal(d.TotalAmount),
		"applied %s + unapplied %s != total %s", d.AppliedAmount, d.UnappliedAmount, d.TotalAmount)
}

func requireTargetConserved(t *testing.T, d *Document) {
	t.Helper()
	require.True(t, d.AmountPaid.Add(d.AmountDue).Equal(d.TotalAmount),
		"paid %s + due %s != total %s", d.AmountPaid, d.AmountDue, d.TotalAmount)
}

func TestApplySourceDerivesStatus(t *testing.T) {
	note := issuedNote("100.00")

	require.NoError(t, ApplySource(note, dec("40.00")))
	require.Equal(t, StatusPartial, note.Status)
	requireSourceConserved(t, note)

	require.NoError(t, ApplySource(note, dec("60.00")))
	require.Equal(t, StatusApplied, note.Status)
	requireSourceConserved(t, note)
}

func TestApplySourceOverApplicationRejected(t *testing.T) {
	note := issuedNote("100.00")
	err := ApplySource(note, dec("150.00"))
	require.ErrorIs(t, err, shared.ErrBalanceExceeded)
	// Balances untouched on rejection.
	require.Equal(t, "0.00", note.AppliedAmount.StringFixed(2))
	require.Equal(t, "100.00", note.UnappliedAmount.StringFixed(2))
	require.Equal(t, StatusIssued, note.Status)
}

func TestApplySourceRequiresIssued(t *testing.T) {
	draft := issuedNote("100.00")
	draft.Status = StatusDraft
	require.ErrorIs(t, ApplySource(draft, dec("10.00")), shared.ErrInvalidTransition)

	applied := issuedNote("100.00")
	require.NoError(t, ApplySource(applied, dec("100.00")))
	require.ErrorIs(t, ApplySource(applied, dec("1.00")), shared.ErrBalanceExceeded)
}

func TestReverseSourceSwingsBack(t *testing.T) {
	note := issuedNote("100.00")
	require.NoError(t, ApplySource(note, dec("100.00")))
	require.Equal(t, StatusApplied, note.Status)

	require.NoError(t, ReverseSource(note, dec("30.00")))
	require.Equal(t, StatusPartial, note.Status)
	requireSourceConserved(t, note)

	require.NoError(t, ReverseSource(note, dec("70.00")))
	require.Equal(t, StatusIssued, note.Status)
	requireSourceConserved(t, note)
}

func TestApplyTargetMarksPaid(t *testing.T) {
	inv := sentInvoice("250.00")

	require.NoError(t, ApplyTarget(inv, dec("100.00")))
	require.Equal(t, PaymentStatusPartial, inv.PaymentStatus)
	require.Equal(t, StatusSent, inv.Status)
	requireTargetConserved(t, inv)

	require.NoError(t, ApplyTarget(inv, dec("150.00")))
	require.Equal(t, PaymentStatusPaid, inv.PaymentStatus)
	require.Equal(t, StatusPaid, inv.Status)
	requireTargetConserved(t, inv)
}

func TestApplyTargetOverpaymentRejected(t *testing.T) {
	inv := sentInvoice("250.00")
	require.ErrorIs(t, ApplyTarget(inv, dec("300.00")), shared.ErrBalanceExceeded)
	require.Equal(t, "250.00", inv.AmountDue.StringFixed(2))
}

func TestReverseTargetDowngrades(t *testing.T) {
	inv := sentInvoice("250.00")
	require.NoError(t, ApplyTarget(inv, dec("250.00")))
	require.Equal(t, StatusPaid, inv.Status)

	require.NoError(t, ReverseTarget(inv, dec("250.00")))
	require.Equal(t, StatusSent, inv.Status)
	require.Equal(t, PaymentStatusUnpaid, inv.PaymentStatus)
	requireTargetConserved(t, inv)
}

func TestPaymentAllocationBalances(t *testing.T) {
	p := &Payment{Amount: dec("150.00"), AllocatedAmount: decimal.Zero, UnallocatedAmount: dec("150.00")}

	require.NoError(t, AllocatePayment(p, dec("100.00")))
	require.NoError(t, AllocatePayment(p, dec("50.00")))
	require.ErrorIs(t, AllocatePayment(p, dec("0.01")), shared.ErrBalanceExceeded)

	require.NoError(t, ReleasePayment(p, dec("150.00")))
	require.Equal(t, "150.00", p.UnallocatedAmount.StringFixed(2))
	require.ErrorIs(t, ReleasePayment(p, dec("0.01")), shared.ErrBalanceExceeded)
}
