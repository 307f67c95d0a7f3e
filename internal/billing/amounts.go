package billing

import (
	"fmt"
	"math"
)

// Pricing is the configured price breakdown injected into reconciliation.
// Percentages are configuration, not computed tax rules.
type Pricing struct {
	BaseCents        int64   // taxable base
	IVAPercent       float64 // VAT percentage, e.g. 21
	RetentionPercent float64 // IRPF retention percentage, e.g. 7; 0 disables
	TotalCents       int64   // advertised total the customer pays
}

// Amounts is the invoice breakdown derived from Pricing, in cents.
type Amounts struct {
	Base  int64
	IVA   int64
	Ret   int64
	Total int64
}

// Compute derives the invoice amounts. The total is taken from configuration
// rather than re-derived, so rounding of the percentage lines can never
// change what the customer was charged.
func (p Pricing) Compute() Amounts {
	return Amounts{
		Base:  p.BaseCents,
		IVA:   percentOf(p.BaseCents, p.IVAPercent),
		Ret:   percentOf(p.BaseCents, p.RetentionPercent),
		Total: p.TotalCents,
	}
}

func percentOf(cents int64, percent float64) int64 {
	return int64(math.Round(float64(cents) * percent / 100))
}

// FormatEuros renders cents as a decimal string, e.g. 14820 -> "148.20".
func FormatEuros(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
