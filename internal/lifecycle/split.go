package lifecycle

import (
	"fmt"

	"github.com/shopspring/decimal"

	"chat-order/internal/entity"
	"chat-order/internal/errs"
)

// Repricer prices line at a new quantity.
type Repricer func(line entity.OrderLine, quantity int) entity.PricingResult

// SplitResult is the outcome of a distributor confirmation.
type SplitResult struct {
	Confirmed entity.Order
	// Remainder holds every shortfall, nil when nothing was revised down.
	Remainder     *entity.Order
	Notifications []string
}

// ValidateEdits checks edits against the lines of order.
func ValidateEdits(order entity.Order, edits []entity.ItemEdit) error {
	seen := make(map[string]bool, len(edits))
	for _, e := range edits {
		line, ok := findLine(order, e.ItemID)
		if !ok {
			return errs.Validationf("unknown item %q", e.ItemID)
		}
		if seen[e.ItemID] {
			return errs.Validationf("item %q edited twice", e.ItemID)
		}
		seen[e.ItemID] = true

		if e.RevisedQuantity == nil {
			continue
		}
		if *e.RevisedQuantity < 0 {
			return errs.Validationf("%s: revised quantity must not be negative", line.Code)
		}
		if *e.RevisedQuantity > line.OrderedQuantity {
			return errs.Validationf("%s: revised quantity %d exceeds ordered %d",
				line.Code, *e.RevisedQuantity, line.OrderedQuantity)
		}
	}
	return nil
}

// Split confirms order with edits applied. Lines revised below their ordered
// quantity are confirmed at the revised quantity and the shortfall moves to a
// single remainder order in the pending stage, placed by the same actor.
// newID supplies ids for the remainder order and its lines. reprice may be nil,
// in which case revised lines keep their unit price and lose free units.
func Split(order entity.Order, edits []entity.ItemEdit, newID func() string, reprice Repricer) (SplitResult, error) {
	stage, err := Next(order.Stage, EventConfirm)
	if err != nil {
		return SplitResult{}, err
	}
	if err := ValidateEdits(order, edits); err != nil {
		return SplitResult{}, err
	}
	if reprice == nil {
		reprice = keepUnitPrice
	}

	byItem := make(map[string]entity.ItemEdit, len(edits))
	for _, e := range edits {
		byItem[e.ItemID] = e
	}

	confirmed := order.Clone()
	confirmed.Stage = stage
	var notes []string
	var shortfall []entity.OrderLine

	for i, line := range confirmed.Lines {
		qty := line.OrderedQuantity
		e, edited := byItem[line.ItemID]
		if edited {
			line.LotNumber = e.LotNumber
			line.ExpiryDate = e.ExpiryDate
			line.Reason = e.Reason
			if e.RevisedQuantity != nil {
				qty = *e.RevisedQuantity
			}
		}

		if qty < line.OrderedQuantity {
			rest := entity.OrderLine{
				ItemID:          newID(),
				Code:            line.Code,
				Name:            line.Name,
				OrderedQuantity: line.OrderedQuantity - qty,
				Pricing:         reprice(line, line.OrderedQuantity-qty),
			}
			line.Pricing = reprice(line, qty)
			shortfall = append(shortfall, rest)
			notes = append(notes, revisedNote(line, qty))
		}
		if edited && (e.LotNumber != "" || e.ExpiryDate != "") {
			notes = append(notes, fmt.Sprintf("%s: lot %s, expiry %s", line.Name, orDash(e.LotNumber), orDash(e.ExpiryDate)))
		}

		q := qty
		line.ConfirmedQuantity = &q
		confirmed.Lines[i] = line
	}
	confirmed.Recalculate()

	result := SplitResult{Confirmed: confirmed}
	if len(shortfall) > 0 {
		rem := entity.Order{
			ID:        newID(),
			SessionID: order.SessionID,
			ParentID:  order.ID,
			Stage:     entity.StagePending,
			Lines:     shortfall,
			PlacedBy:  order.PlacedBy,
		}
		rem.Recalculate()
		result.Remainder = &rem
		notes = append(notes, fmt.Sprintf("Remainder order %s created for %d item(s) awaiting fulfilment", rem.ID, len(shortfall)))
	}
	result.Notifications = notes
	return result, nil
}

func keepUnitPrice(line entity.OrderLine, quantity int) entity.PricingResult {
	p := line.Pricing
	p.PaidQuantity = quantity
	p.FreeQuantity = 0
	p.TotalQuantity = quantity
	p.SchemeLabel = ""
	p.LineTotal = p.FinalUnitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return p
}

func revisedNote(line entity.OrderLine, qty int) string {
	msg := fmt.Sprintf("%s: quantity revised from %d to %d", line.Name, line.OrderedQuantity, qty)
	if line.Reason != "" {
		msg += " (" + line.Reason + ")"
	}
	return msg
}

func findLine(order entity.Order, itemID string) (entity.OrderLine, bool) {
	for _, l := range order.Lines {
		if l.ItemID == itemID {
			return l, true
		}
	}
	return entity.OrderLine{}, false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
