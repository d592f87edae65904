package domain

import (
	"encoding/json"
	"strings"
)

// Legacy records store missing amounts as empty strings. They decode as
// absent (zero) instead of failing the whole record.

var (
	pricingAmountKeys     = []string{"subtotal", "tax", "freight", "discount", "grandTotal", "finalGrandTotal"}
	vendorAmountKeys      = []string{"estimatedShipping", "cardChargePercent"}
	calculationAmountKeys = []string{
		"vendorCost", "shippingCost", "ccCostPercent", "profitPercent", "taxAmount",
		"ccCostAmount", "totalCost", "onePercentVendorCost", "profitAmount", "totalProfitAmount", "submittedWithMargin",
	}
)

// UnmarshalJSON implements json.Unmarshaler.
func (p *Pricing) UnmarshalJSON(data []byte) error {
	data, err := dropBlankAmounts(data, pricingAmountKeys)
	if err != nil {
		return err
	}
	type plain Pricing
	return json.Unmarshal(data, (*plain)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *VendorQuote) UnmarshalJSON(data []byte) error {
	data, err := dropBlankAmounts(data, vendorAmountKeys)
	if err != nil {
		return err
	}
	type plain VendorQuote
	return json.Unmarshal(data, (*plain)(v))
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *SubmissionCalculation) UnmarshalJSON(data []byte) error {
	data, err := dropBlankAmounts(data, calculationAmountKeys)
	if err != nil {
		return err
	}
	type plain SubmissionCalculation
	return json.Unmarshal(data, (*plain)(c))
}

// dropBlankAmounts removes keys whose value is a blank string from a JSON
// object. Other values, including malformed amounts, are left for the
// decimal decoder to reject.
func dropBlankAmounts(data []byte, keys []string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	changed := false
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) == "" {
			delete(fields, key)
			changed = true
		}
	}
	if !changed {
		return data, nil
	}
	return json.Marshal(fields)
}
