package entity

import "github.com/shopspring/decimal"

// LineRequest is the wire shape of one cart line sent to the pricing backend
// and to the draft-order store.
type LineRequest struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// PricingResult is the derived price of one line. Free units never carry cost:
// TotalQuantity = PaidQuantity + FreeQuantity and LineTotal = FinalUnitPrice * PaidQuantity.
type PricingResult struct {
	Code            string          `json:"code"`
	BasePrice       decimal.Decimal `json:"base_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	FinalUnitPrice  decimal.Decimal `json:"final_unit_price"`
	PaidQuantity    int             `json:"paid_quantity"`
	FreeQuantity    int             `json:"free_quantity"`
	TotalQuantity   int             `json:"total_quantity"`
	SchemeLabel     string          `json:"scheme_label,omitempty"`
	LineTotal       decimal.Decimal `json:"line_total"`
	// Fallback marks a degraded result computed without the pricing backend.
	Fallback bool `json:"fallback,omitempty"`
}
