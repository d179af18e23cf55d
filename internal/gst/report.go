package gst

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var reportPrinter = message.NewPrinter(language.English)

// FormatAmount renders an amount with digit grouping for report output,
// e.g. "1,234.50".
func FormatAmount(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return reportPrinter.Sprintf("%.2f", f)
}

// Summary renders a plain-text filing summary of the return.
func Summary(ret Return) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GST Return %s (%s to %s)\n",
		ret.Number, ret.PeriodStart.Format("2006-01-02"), ret.PeriodEnd.Format("2006-01-02"))
	fmt.Fprintf(&b, "Status: %s\n", ret.Status)
	fmt.Fprintf(&b, "Output GST: %s\n", FormatAmount(ret.OutputGst))
	fmt.Fprintf(&b, "Input GST: %s\n", FormatAmount(ret.InputGst))
	fmt.Fprintf(&b, "Net GST payable: %s\n", FormatAmount(ret.NetGstPayable))
	fmt.Fprintf(&b, "Sales: standard %s, zero-rated %s, exempt %s\n",
		FormatAmount(ret.SalesBreakdown.Standard.Net),
		FormatAmount(ret.SalesBreakdown.ZeroRated.Net),
		FormatAmount(ret.SalesBreakdown.Exempt.Net))
	fmt.Fprintf(&b, "Purchases: standard %s, zero-rated %s, exempt %s\n",
		FormatAmount(ret.PurchasesBreakdown.Standard.Net),
		FormatAmount(ret.PurchasesBreakdown.ZeroRated.Net),
		FormatAmount(ret.PurchasesBreakdown.Exempt.Net))
	fmt.Fprintf(&b, "Adjustments: %s\n", FormatAmount(ret.Adjustments))
	fmt.Fprintf(&b, "Previous period balance: %s\n", FormatAmount(ret.PreviousPeriodBalance))
	fmt.Fprintf(&b, "Penalties: %s\n", FormatAmount(ret.Penalties))
	fmt.Fprintf(&b, "Interest: %s\n", FormatAmount(ret.Interest))
	fmt.Fprintf(&b, "Total payable: %s\n", FormatAmount(ret.TotalPayable))
	return b.String()
}
