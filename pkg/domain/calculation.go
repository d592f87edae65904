package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultProfitPercent seeds profitPercent for new submissions.
var DefaultProfitPercent = decimal.NewFromInt(10)

var (
	hundred    = decimal.NewFromInt(100)
	onePercent = decimal.RequireFromString("0.01")
)

// SubmissionCalculation holds the five calculation inputs, the derived
// cost and margin figures, and the submission info captured alongside them.
// Derived fields keep full precision; Rounded formats them for output.
type SubmissionCalculation struct {
	VendorCost    decimal.Decimal `json:"vendorCost"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	CCCostPercent decimal.Decimal `json:"ccCostPercent"`
	ProfitPercent decimal.Decimal `json:"profitPercent"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`

	CCCostAmount         decimal.Decimal `json:"ccCostAmount"`
	TotalCost            decimal.Decimal `json:"totalCost"`
	OnePercentVendorCost decimal.Decimal `json:"onePercentVendorCost"`
	ProfitAmount         decimal.Decimal `json:"profitAmount"`
	TotalProfitAmount    decimal.Decimal `json:"totalProfitAmount"`
	SubmittedWithMargin  decimal.Decimal `json:"submittedWithMargin"`

	SubmissionDate  *time.Time `json:"submissionDate,omitempty"`
	SubmittedBy     string     `json:"submittedBy,omitempty"`
	PortalReference string     `json:"portalReference,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// CalculationInputs carries a partial update of the five inputs. Nil fields
// are left unchanged.
type CalculationInputs struct {
	VendorCost    *decimal.Decimal
	ShippingCost  *decimal.Decimal
	CCCostPercent *decimal.Decimal
	ProfitPercent *decimal.Decimal
	TaxAmount     *decimal.Decimal
}

// Empty reports whether no input is set.
func (in CalculationInputs) Empty() bool {
	return in.VendorCost == nil && in.ShippingCost == nil && in.CCCostPercent == nil &&
		in.ProfitPercent == nil && in.TaxAmount == nil
}

// Recalculate derives every computed field from the inputs. All derived
// fields are replaced together.
func Recalculate(c SubmissionCalculation) SubmissionCalculation {
	c.CCCostAmount = c.VendorCost.Mul(c.CCCostPercent).Div(hundred)
	c.TotalCost = c.VendorCost.Add(c.ShippingCost).Add(c.CCCostAmount)
	c.OnePercentVendorCost = c.VendorCost.Mul(onePercent)
	c.ProfitAmount = c.VendorCost.Mul(c.ProfitPercent).Div(hundred)
	c.TotalProfitAmount = c.ProfitAmount.Add(c.OnePercentVendorCost)
	c.SubmittedWithMargin = c.TotalCost.Add(c.TotalProfitAmount).Add(c.TaxAmount)
	return c
}

// ApplyInputs sets the provided inputs and recalculates.
func (c SubmissionCalculation) ApplyInputs(in CalculationInputs) SubmissionCalculation {
	if in.VendorCost != nil {
		c.VendorCost = *in.VendorCost
	}
	if in.ShippingCost != nil {
		c.ShippingCost = *in.ShippingCost
	}
	if in.CCCostPercent != nil {
		c.CCCostPercent = *in.CCCostPercent
	}
	if in.ProfitPercent != nil {
		c.ProfitPercent = *in.ProfitPercent
	}
	if in.TaxAmount != nil {
		c.TaxAmount = *in.TaxAmount
	}
	return Recalculate(c)
}

// SeedCalculation builds the initial calculation from the primary vendor.
func SeedCalculation(vendor VendorQuote, profitPercent decimal.Decimal) SubmissionCalculation {
	return Recalculate(SubmissionCalculation{
		VendorCost:    vendor.Pricing.Subtotal,
		ShippingCost:  vendor.EstimatedShipping,
		CCCostPercent: vendor.CardChargePercent,
		ProfitPercent: profitPercent,
		TaxAmount:     vendor.Pricing.Tax,
	})
}

// Rounded returns a copy with every monetary field rounded to two places.
func (c SubmissionCalculation) Rounded() SubmissionCalculation {
	for _, f := range c.moneyFields() {
		*f = f.Round(2)
	}
	return c
}

// Display formats every input and derived field with two decimal places.
func (c SubmissionCalculation) Display() map[string]string {
	return map[string]string{
		"vendorCost":           c.VendorCost.StringFixed(2),
		"shippingCost":         c.ShippingCost.StringFixed(2),
		"ccCostPercent":        c.CCCostPercent.StringFixed(2),
		"profitPercent":        c.ProfitPercent.StringFixed(2),
		"taxAmount":            c.TaxAmount.StringFixed(2),
		"ccCostAmount":         c.CCCostAmount.StringFixed(2),
		"totalCost":            c.TotalCost.StringFixed(2),
		"onePercentVendorCost": c.OnePercentVendorCost.StringFixed(2),
		"profitAmount":         c.ProfitAmount.StringFixed(2),
		"totalProfitAmount":    c.TotalProfitAmount.StringFixed(2),
		"submittedWithMargin":  c.SubmittedWithMargin.StringFixed(2),
	}
}

func (c *SubmissionCalculation) moneyFields() []*decimal.Decimal {
	return []*decimal.Decimal{
		&c.VendorCost, &c.ShippingCost, &c.TaxAmount,
		&c.CCCostAmount, &c.TotalCost, &c.OnePercentVendorCost,
		&c.ProfitAmount, &c.TotalProfitAmount, &c.SubmittedWithMargin,
	}
}
