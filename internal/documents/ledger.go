package documents

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/drukbooks/drukbooks/internal/shared"
)

// The ledger invariants enforced here hold continuously, to the cent:
//
//	source.AppliedAmount + source.UnappliedAmount == source.TotalAmount
//	target.AmountPaid + target.AmountDue == target.TotalAmount
//
// Every function below changes both sides of one of these sums; callers
// must run the whole mutation inside one transaction.

// ApplySource consumes amount from a credit/debit note's unapplied balance.
// The note must be issued or partially applied.
func ApplySource(note *Document, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: application amount must be positive", shared.ErrBalanceExceeded)
	}
	if note.Status != StatusIssued && note.Status != StatusPartial {
		return shared.TransitionError(string(note.Status), string(StatusApplied))
	}
	if amount.GreaterThan(note.UnappliedAmount) {
		return fmt.Errorf("%w: %s exceeds unapplied %s", shared.ErrBalanceExceeded,
			amount.StringFixed(2), note.UnappliedAmount.StringFixed(2))
	}
	note.AppliedAmount = note.AppliedAmount.Add(amount)
	note.UnappliedAmount = note.UnappliedAmount.Sub(amount)
	note.Status = DeriveNoteStatus(note.AppliedAmount, note.UnappliedAmount)
	return nil
}

// ReverseSource returns amount to the note's unapplied balance.
func ReverseSource(note *Document, amount decimal.Decimal) error {
	if amount.GreaterThan(note.AppliedAmount) {
		return fmt.Errorf("%w: reversal %s exceeds applied %s", shared.ErrBalanceExceeded,
			amount.StringFixed(2), note.AppliedAmount.StringFixed(2))
	}
	note.AppliedAmount = note.AppliedAmount.Sub(amount)
	note.UnappliedAmount = note.UnappliedAmount.Add(amount)
	note.Status = DeriveNoteStatus(note.AppliedAmount, note.UnappliedAmount)
	return nil
}

// ApplyTarget credits amount against an invoice's or bill's amount due and
// rederives the payment status, transitioning to paid when the balance
// reaches zero.
func ApplyTarget(target *Document, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: application amount must be positive", shared.ErrBalanceExceeded)
	}
	if amount.GreaterThan(target.AmountDue) {
		return fmt.Errorf("%w: %s exceeds amount due %s", shared.ErrBalanceExceeded,
			amount.StringFixed(2), target.AmountDue.StringFixed(2))
	}
	target.AmountPaid = target.AmountPaid.Add(amount)
	target.AmountDue = target.AmountDue.Sub(amount)
	target.PaymentStatus = DerivePaymentStatus(target.AmountPaid, target.AmountDue)
	if target.PaymentStatus == PaymentStatusPaid {
		if err := Transition(target, StatusPaid); err != nil {
			return err
		}
	}
	return nil
}

// ReverseTarget undoes ApplyTarget. A fully paid document falls back to its
// issued status; the fallback bypasses the transition table because paid is
// only ever left through reversal, never by user action.
func ReverseTarget(target *Document, amount decimal.Decimal) error {
	if amount.GreaterThan(target.AmountPaid) {
		return fmt.Errorf("%w: reversal %s exceeds amount paid %s", shared.ErrBalanceExceeded,
			amount.StringFixed(2), target.AmountPaid.StringFixed(2))
	}
	target.AmountPaid = target.AmountPaid.Sub(amount)
	target.AmountDue = target.AmountDue.Add(amount)
	target.PaymentStatus = DerivePaymentStatus(target.AmountPaid, target.AmountDue)
	if target.Status == StatusPaid && target.AmountDue.IsPositive() {
		target.Status = IssuedStatus(target.Type)
	}
	return nil
}

// AllocatePayment consumes amount from a payment's unallocated balance.
func AllocatePayment(p *Payment, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: allocation amount must be positive", shared.ErrBalanceExceeded)
	}
	if amount.GreaterThan(p.UnallocatedAmount) {
		return fmt.Errorf("%w: %s exceeds unallocated %s", shared.ErrBalanceExceeded,
			amount.StringFixed(2), p.UnallocatedAmount.StringFixed(2))
	}
	p.AllocatedAmount = p.AllocatedAmount.Add(amount)
	p.UnallocatedAmount = p.UnallocatedAmount.Sub(amount)
	return nil
}

// ReleasePayment returns amount to a payment's unallocated balance.
func ReleasePayment(p *Payment, amount decimal.Decimal) error {
	if amount.GreaterThan(p.AllocatedAmount) {
		return fmt.Errorf("%w: release %s exceeds allocated %s", shared.ErrBalanceExceeded,
			amount.StringFixed(2), p.AllocatedAmount.StringFixed(2))
	}
	p.AllocatedAmount = p.AllocatedAmount.Sub(amount)
	p.UnallocatedAmount = p.UnallocatedAmount.Add(amount)
	return nil
}
