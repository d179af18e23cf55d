// Package gst computes GST period aggregates and manages the return filing
// lifecycle, including the period locks that freeze filed ranges.
package gst

import (
	"time"

	"github.com/shopspring/decimal"
)

// Granularity is the return period size.
type Granularity string

const (
	GranularityMonthly   Granularity = "monthly"
	GranularityQuarterly Granularity = "quarterly"
	GranularityAnnual    Granularity = "annual"
)

// ValidGranularity reports whether g is a supported granularity.
func ValidGranularity(g Granularity) bool {
	switch g {
	case GranularityMonthly, GranularityQuarterly, GranularityAnnual:
		return true
	}
	return false
}

// ReturnStatus is the lifecycle state of a GST return.
type ReturnStatus string

const (
	ReturnStatusDraft   ReturnStatus = "draft"
	ReturnStatusFiled   ReturnStatus = "filed"
	ReturnStatusAmended ReturnStatus = "amended"
)

// TaxBasis selects which invoices contribute output GST. The source
// jurisdiction recognises sales GST on payment but purchase GST on bill
// receipt; the basis is configurable rather than hard-coded because the
// asymmetry may be policy or accident.
type TaxBasis string

const (
	// TaxBasisCash counts only paid invoices toward output GST.
	TaxBasisCash TaxBasis = "cash"
	// TaxBasisAccrual counts every issued invoice toward output GST.
	TaxBasisAccrual TaxBasis = "accrual"
)

// ClassTotals accumulates one classification bucket: pre-tax volume and the
// tax charged on it.
type ClassTotals struct {
	Net decimal.Decimal `json:"net"`
	Tax decimal.Decimal `json:"tax"`
}

// Breakdown buckets a period's documents by GST classification. Only the
// STANDARD bucket contributes to the headline tax figures; zero-rated and
// exempt lines carry volume only.
type Breakdown struct {
	Standard  ClassTotals `json:"standard"`
	ZeroRated ClassTotals `json:"zeroRated"`
	Exempt    ClassTotals `json:"exempt"`
}

// PeriodTotals is the result of aggregating one period.
type PeriodTotals struct {
	OutputGst          decimal.Decimal
	InputGst           decimal.Decimal
	NetGstPayable      decimal.Decimal
	SalesBreakdown     Breakdown
	PurchasesBreakdown Breakdown
}

// Return is a GST return for one period.
type Return struct {
	ID          int64
	TeamID      int64
	Number      string
	Granularity Granularity
	PeriodStart time.Time
	PeriodEnd   time.Time

	OutputGst          decimal.Decimal
	InputGst           decimal.Decimal
	NetGstPayable      decimal.Decimal
	SalesBreakdown     Breakdown
	PurchasesBreakdown Breakdown

	Adjustments           decimal.Decimal
	PreviousPeriodBalance decimal.Decimal
	Penalties             decimal.Decimal
	Interest              decimal.Decimal
	TotalPayable          decimal.Decimal

	Status  ReturnStatus
	FiledAt *time.Time
	FiledBy int64

	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Amendment is one immutable entry in a filed return's amendment history.
type Amendment struct {
	ID               int64
	ReturnID         int64
	TeamID           int64
	UserID           int64
	Reason           string
	BeforeAdjustment decimal.Decimal
	AfterAdjustment  decimal.Decimal
	CreatedAt        time.Time
}

// PeriodLock freezes a filed date range against retroactive document
// mutation.
type PeriodLock struct {
	ID        int64
	TeamID    int64
	ReturnID  int64
	StartDate time.Time
	EndDate   time.Time
	CreatedAt time.Time
}

// TotalPayable recomputes the filing bottom line. A negative net balance is
// carried as-is; netting against the previous period balance happens here,
// at filing, never inside the aggregator.
func TotalPayable(r Return) decimal.Decimal {
	return r.NetGstPayable.
		Add(r.Adjustments).
		Add(r.PreviousPeriodBalance).
		Add(r.Penalties).
		Add(r.Interest)
}
