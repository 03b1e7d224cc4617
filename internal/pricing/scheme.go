package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"chat-order/internal/entity"
	"chat-order/internal/errs"
)

var hundred = decimal.NewFromInt(100)

// Compute prices quantity units of one product. It is pure: the same schedule
// and quantity always give the same result.
//
// The FOC tier used is the single tier with the largest BuyQuantity not above
// quantity; it grants FreeQuantity units per full BuyQuantity ordered. Tiers are
// never stacked.
func Compute(schedule entity.PriceSchedule, quantity int) entity.PricingResult {
	if quantity < 0 {
		quantity = 0
	}

	pct := clampPercent(schedule.DiscountPercent)
	discount := schedule.UnitPrice.Mul(pct).Div(hundred).Round(2)
	final := schedule.UnitPrice.Sub(discount)

	result := entity.PricingResult{
		Code:            schedule.Code,
		BasePrice:       schedule.UnitPrice,
		DiscountPercent: pct,
		DiscountAmount:  discount,
		FinalUnitPrice:  final,
		PaidQuantity:    quantity,
		LineTotal:       final.Mul(decimal.NewFromInt(int64(quantity))),
	}

	if tier, ok := SelectTier(schedule.Tiers, quantity); ok {
		result.FreeQuantity = tier.FreeQuantity * (quantity / tier.BuyQuantity)
		if result.FreeQuantity > 0 {
			result.SchemeLabel = fmt.Sprintf("%d+%d", tier.BuyQuantity, tier.FreeQuantity)
		}
	}
	result.TotalQuantity = result.PaidQuantity + result.FreeQuantity
	return result
}

// SelectTier returns the qualifying tier with the highest BuyQuantity.
func SelectTier(tiers []entity.FOCTier, quantity int) (entity.FOCTier, bool) {
	var best entity.FOCTier
	found := false
	for _, t := range tiers {
		if t.BuyQuantity <= 0 || quantity < t.BuyQuantity {
			continue
		}
		if !found || t.BuyQuantity > best.BuyQuantity {
			best = t
			found = true
		}
	}
	return best, found
}

// Fallback prices a line with no discount and no free units.
func Fallback(code string, unitPrice decimal.Decimal, quantity int) entity.PricingResult {
	if quantity < 0 {
		quantity = 0
	}
	return entity.PricingResult{
		Code:            code,
		BasePrice:       unitPrice,
		DiscountPercent: decimal.Zero,
		DiscountAmount:  decimal.Zero,
		FinalUnitPrice:  unitPrice,
		PaidQuantity:    quantity,
		TotalQuantity:   quantity,
		LineTotal:       unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		Fallback:        true,
	}
}

// ValidateTiers checks a product's FOC schedule. BuyQuantity must be positive
// and unique, FreeQuantity non-negative, and crossing into a higher tier must
// never grant fewer free units than the tier below gave one unit earlier.
func ValidateTiers(tiers []entity.FOCTier) error {
	sorted := append([]entity.FOCTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].BuyQuantity < sorted[j].BuyQuantity
	})

	for i, t := range sorted {
		if t.BuyQuantity <= 0 {
			return errs.Validationf("tier buy quantity must be positive, got %d", t.BuyQuantity)
		}
		if t.FreeQuantity < 0 {
			return errs.Validationf("tier %d: free quantity must not be negative", t.BuyQuantity)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.BuyQuantity == t.BuyQuantity {
			return errs.Validationf("duplicate tier for buy quantity %d", t.BuyQuantity)
		}
		below := prev.FreeQuantity * ((t.BuyQuantity - 1) / prev.BuyQuantity)
		if t.FreeQuantity < below {
			return errs.Validationf("tier %d grants %d free units, fewer than %d at quantity %d",
				t.BuyQuantity, t.FreeQuantity, below, t.BuyQuantity-1)
		}
	}
	return nil
}

// ValidateSchedule checks prices and tiers of a schedule.
func ValidateSchedule(s entity.PriceSchedule) error {
	if s.Code == "" {
		return errs.Validation("schedule code is required")
	}
	if s.UnitPrice.IsNegative() {
		return errs.Validationf("%s: unit price must not be negative", s.Code)
	}
	if s.DiscountPercent.IsNegative() || s.DiscountPercent.GreaterThan(hundred) {
		return errs.Validationf("%s: discount percent must be 0-100", s.Code)
	}
	if err := ValidateTiers(s.Tiers); err != nil {
		return fmt.Errorf("%s: %w", s.Code, err)
	}
	return nil
}

func clampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
