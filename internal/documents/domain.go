package documents

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocType enumerates the financial document family. All five types share
// numbering, calculation and ledger logic; they differ only in status
// vocabulary and transition side effects.
type DocType string

const (
	DocTypeInvoice    DocType = "invoice"
	DocTypeCreditNote DocType = "credit_note"
	DocTypeDebitNote  DocType = "debit_note"
	DocTypeBill       DocType = "bill"
	DocTypeQuotation  DocType = "quotation"
)

// Prefix returns the document-number prefix for the type.
func (t DocType) Prefix() string {
	switch t {
	case DocTypeInvoice:
		return "INV"
	case DocTypeCreditNote:
		return "CN"
	case DocTypeDebitNote:
		return "DN"
	case DocTypeBill:
		return "BILL"
	case DocTypeQuotation:
		return "QT"
	case DocTypePaymentIn:
		return "PAY"
	case DocTypePaymentOut:
		return "SPAY"
	}
	return "DOC"
}

// Status is the lifecycle state of a document. Which values are legal
// depends on the DocType; see Transitions.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusIssued    Status = "issued"
	StatusPartial   Status = "partial"
	StatusApplied   Status = "applied"
	StatusPaid      Status = "paid"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusConverted Status = "converted"
)

// PaymentStatus is derived from balances, never set directly by callers.
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Currency enumerates supported document currencies. A document holds
// exactly one currency.
type Currency string

const (
	CurrencyBTN Currency = "BTN"
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
)

// ValidCurrency reports whether c is a supported currency.
func ValidCurrency(c Currency) bool {
	switch c {
	case CurrencyBTN, CurrencyINR, CurrencyUSD:
		return true
	}
	return false
}

// GSTClassification is the per-line tax treatment. It is stored on the item
// at calculation time because rates can change after the fact.
type GSTClassification string

const (
	GSTStandard  GSTClassification = "STANDARD"
	GSTZeroRated GSTClassification = "ZERO_RATED"
	GSTExempt    GSTClassification = "EXEMPT"
)

// ClassifyGST maps (taxRate, isTaxExempt) onto a classification. A zero
// rate without exemption intent is zero-rated, not exempt: the distinction
// matters for input-credit eligibility on the GST return.
func ClassifyGST(taxRate decimal.Decimal, isTaxExempt bool) GSTClassification {
	if isTaxExempt {
		return GSTExempt
	}
	if taxRate.IsZero() {
		return GSTZeroRated
	}
	return GSTStandard
}

// Document is one member of the financial document family.
type Document struct {
	ID             int64
	TeamID         int64
	Type           DocType
	Number         string
	CounterpartyID int64
	IssueDate      time.Time
	DueDate        *time.Time
	Currency       Currency

	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	TotalTax      decimal.Decimal
	TotalAmount   decimal.Decimal

	// Target-side balances (invoices, bills).
	AmountPaid decimal.Decimal
	AmountDue  decimal.Decimal

	// Source-side balances (credit/debit notes only).
	AppliedAmount   decimal.Decimal
	UnappliedAmount decimal.Decimal

	Status        Status
	PaymentStatus PaymentStatus
	IsLocked      bool

	// LinkedDocumentID points a note at the invoice/bill it was raised
	// against, and a converted quotation at the invoice it produced.
	LinkedDocumentID *int64

	Notes           string
	CancelReason    string
	CancelledBy     int64
	ValidUntil      *time.Time
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DocumentItem is a line item. Immutable once the parent leaves draft;
// draft edits replace the entire item set.
type DocumentItem struct {
	ID              int64
	DocumentID      int64
	Description     string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxRate         decimal.Decimal
	IsTaxExempt     bool
	Classification  GSTClassification

	LineTotal      decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	ItemTotal      decimal.Decimal

	LineOrder int
	CreatedAt time.Time
}

// Payment records money received from a customer or paid to a supplier,
// fanned out over one or more documents through allocations.
type Payment struct {
	ID                int64
	TeamID            int64
	Number            string
	CounterpartyID    int64
	TargetType        DocType // invoice for customer payments, bill for supplier payments
	Amount            decimal.Decimal
	AllocatedAmount   decimal.Decimal
	UnallocatedAmount decimal.Decimal
	PaidAt            time.Time
	Method            string
	Note              string
	ReversedAt        *time.Time
	ReversedReason    string
	CreatedBy         int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ApplicationKind distinguishes note applications from payment allocations.
type ApplicationKind string

const (
	ApplicationKindNote    ApplicationKind = "note"
	ApplicationKindPayment ApplicationKind = "payment"
)

// Application links a balance-holding source (credit note, debit note or
// payment) to a target document.
type Application struct {
	ID        int64
	TeamID    int64
	Kind      ApplicationKind
	SourceID  int64
	TargetID  int64
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// DerivePaymentStatus recomputes the payment-status axis from balances.
// It is the only way payment status changes.
func DerivePaymentStatus(amountPaid, amountDue decimal.Decimal) PaymentStatus {
	switch {
	case amountDue.IsZero():
		return PaymentStatusPaid
	case amountPaid.IsPositive():
		return PaymentStatusPartial
	default:
		return PaymentStatusUnpaid
	}
}

// DeriveNoteStatus recomputes a credit/debit note's status from its applied
// balances. Callers never set partial/applied directly.
func DeriveNoteStatus(appliedAmount, unappliedAmount decimal.Decimal) Status {
	switch {
	case unappliedAmount.IsZero():
		return StatusApplied
	case appliedAmount.IsPositive():
		return StatusPartial
	default:
		return StatusIssued
	}
}

// IssuedStatus returns the status a document enters when it leaves draft.
func IssuedStatus(t DocType) Status {
	switch t {
	case DocTypeInvoice, DocTypeQuotation:
		return StatusSent
	default:
		return StatusIssued
	}
}
