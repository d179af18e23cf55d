package documents

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/drukbooks/drukbooks/internal/money"
)

// LineInput is one raw line as supplied by the caller. DiscountPercent
// defaults to zero, which is how the discount-free variants (credit and
// debit notes) share the same calculator.
type LineInput struct {
	Description     string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxRate         decimal.Decimal
	IsTaxExempt     bool
}

// LineTotals are the computed monetary fields for one line. Each field is
// rounded exactly once.
type LineTotals struct {
	LineTotal      decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	ItemTotal      decimal.Decimal
	Classification GSTClassification
}

// Totals aggregates a document's lines.
type Totals struct {
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	TotalTax      decimal.Decimal
	TotalAmount   decimal.Decimal
}

var (
	errQuantityNotPositive = errors.New("quantity must be positive")
	errUnitPriceNegative   = errors.New("unit price must not be negative")
	errDiscountRange       = errors.New("discount percent must be between 0 and 100")
	errTaxRateNegative     = errors.New("tax rate must not be negative")
)

// CalculateItem converts a raw line into its monetary fields. Upstream
// schema validation owns type checks; these guards are a last line of
// defense against obviously invalid state reaching the ledger.
func CalculateItem(in LineInput) (LineTotals, error) {
	if !in.Quantity.IsPositive() {
		return LineTotals{}, errQuantityNotPositive
	}
	if in.UnitPrice.IsNegative() {
		return LineTotals{}, errUnitPriceNegative
	}
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return LineTotals{}, errDiscountRange
	}
	if in.TaxRate.IsNegative() {
		return LineTotals{}, errTaxRateNegative
	}

	lineTotal := money.Round(in.Quantity.Mul(in.UnitPrice))
	discountAmount := money.Percent(lineTotal, in.DiscountPercent)
	taxableBase := lineTotal.Sub(discountAmount)
	taxAmount := money.Zero
	if !in.IsTaxExempt {
		taxAmount = money.Percent(taxableBase, in.TaxRate)
	}
	return LineTotals{
		LineTotal:      lineTotal,
		DiscountAmount: discountAmount,
		TaxAmount:      taxAmount,
		ItemTotal:      taxableBase.Add(taxAmount),
		Classification: ClassifyGST(in.TaxRate, in.IsTaxExempt),
	}, nil
}

// CalculateTotals computes every line and folds them into document totals.
// Summing already-rounded line fields keeps both total formulas in
// agreement to the cent: totalAmount == subtotal - totalDiscount + totalTax
// == sum of itemTotal.
func CalculateTotals(lines []LineInput) (Totals, []LineTotals, error) {
	if len(lines) == 0 {
		return Totals{}, nil, errors.New("at least one line is required")
	}
	totals := Totals{
		Subtotal:      money.Zero,
		TotalDiscount: money.Zero,
		TotalTax:      money.Zero,
		TotalAmount:   money.Zero,
	}
	computed := make([]LineTotals, 0, len(lines))
	for _, line := range lines {
		lt, err := CalculateItem(line)
		if err != nil {
			return Totals{}, nil, err
		}
		computed = append(computed, lt)
		totals.Subtotal = totals.Subtotal.Add(lt.LineTotal)
		totals.TotalDiscount = totals.TotalDiscount.Add(lt.DiscountAmount)
		totals.TotalTax = totals.TotalTax.Add(lt.TaxAmount)
		totals.TotalAmount = totals.TotalAmount.Add(lt.ItemTotal)
	}
	return totals, computed, nil
}

// BuildItems pairs inputs with their computed totals into persistable items.
func BuildItems(lines []LineInput, computed []LineTotals) []DocumentItem {
	items := make([]DocumentItem, len(lines))
	for i, line := range lines {
		items[i] = DocumentItem{
			Description:     line.Description,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			TaxRate:         line.TaxRate,
			IsTaxExempt:     line.IsTaxExempt,
			Classification:  computed[i].Classification,
			LineTotal:       computed[i].LineTotal,
			DiscountAmount:  computed[i].DiscountAmount,
			TaxAmount:       computed[i].TaxAmount,
			ItemTotal:       computed[i].ItemTotal,
			LineOrder:       i + 1,
		}
	}
	return items
}
