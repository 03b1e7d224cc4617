package cart

import (
	"sync"

	"github.com/shopspring/decimal"

	"chat-order/internal/entity"
	"chat-order/internal/errs"
)

var (
	ErrOutOfStock    = errs.Validation("product is out of stock")
	ErrLineNotFound  = errs.Validation("product is not in the cart")
	ErrStockExceeded = errs.Validation("quantity exceeds available stock")
)

// Intent is the full line set after one mutation. Later revisions supersede
// earlier ones.
type Intent struct {
	Revision uint64
	Lines    []entity.LineRequest
}

// IntentSink receives an intent after every membership or quantity change.
type IntentSink interface {
	Publish(intent Intent)
}

// Snapshot is an immutable copy of the cart.
type Snapshot struct {
	Revision uint64
	Lines    []entity.CartLine
}

// Total sums the resolved line totals. Lines without pricing count at list price.
func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		if l.Pricing != nil {
			total = total.Add(l.Pricing.LineTotal)
			continue
		}
		total = total.Add(l.Product.UnitPrice.Mul(decimal.NewFromInt(int64(l.OrderedQuantity))))
	}
	return total
}

// Empty reports whether the snapshot has no lines.
func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Store owns the selected lines of one session. Product codes are unique and
// no line ever holds a quantity below 1.
type Store struct {
	mu       sync.Mutex
	lines    []entity.CartLine
	revision uint64
	sink     IntentSink
}

// NewStore creates an empty cart. sink may be nil.
func NewStore(sink IntentSink) *Store {
	return &Store{sink: sink}
}

// Select adds product with quantity 1. Selecting a product already in the
// cart changes nothing.
func (s *Store) Select(product entity.ProductRef) error {
	if !product.InStock() {
		return ErrOutOfStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index(product.Code) >= 0 {
		return nil
	}
	s.lines = append(s.lines, entity.CartLine{Product: product, OrderedQuantity: 1})
	s.changed()
	return nil
}

// Deselect removes the line for code and reports whether there was one.
func (s *Store) Deselect(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(code)
	if i < 0 {
		return false
	}
	s.remove(i)
	s.changed()
	return true
}

// Toggle selects product when absent and deselects it when present.
func (s *Store) Toggle(product entity.ProductRef) (bool, error) {
	if s.Deselect(product.Code) {
		return false, nil
	}
	if err := s.Select(product); err != nil {
		return false, err
	}
	return true, nil
}

// SetQuantity sets the quantity of an existing line, clamped to the available
// stock. qty <= 0 removes the line. It returns the quantity actually stored.
func (s *Store) SetQuantity(code string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(code)
	if i < 0 {
		return 0, ErrLineNotFound
	}
	return s.setQuantity(i, qty), nil
}

// Increment adds one unit. It fails when the line is already at stock.
func (s *Store) Increment(code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(code)
	if i < 0 {
		return 0, ErrLineNotFound
	}
	line := s.lines[i]
	if line.OrderedQuantity >= line.Product.AvailableQuantity {
		return line.OrderedQuantity, ErrStockExceeded
	}
	return s.setQuantity(i, line.OrderedQuantity+1), nil
}

// Decrement removes one unit; the line goes away below 1.
func (s *Store) Decrement(code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(code)
	if i < 0 {
		return 0, ErrLineNotFound
	}
	return s.setQuantity(i, s.lines[i].OrderedQuantity-1), nil
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.lines) == 0 {
		return
	}
	s.lines = nil
	s.changed()
}

// RefreshStock applies new availability from the catalog. Lines above the new
// stock are clamped and lines of products now out of stock are removed.
func (s *Store) RefreshStock(products []entity.ProductRef) {
	byCode := make(map[string]entity.ProductRef, len(products))
	for _, p := range products {
		byCode[p.Code] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := false
	kept := s.lines[:0]
	for _, l := range s.lines {
		p, ok := byCode[l.Code()]
		if !ok {
			kept = append(kept, l)
			continue
		}
		if !p.InStock() {
			dirty = true
			continue
		}
		l.Product = p
		if l.OrderedQuantity > p.AvailableQuantity {
			l.OrderedQuantity = p.AvailableQuantity
			l.Pricing = nil
			dirty = true
		}
		kept = append(kept, l)
	}
	s.lines = kept
	if dirty {
		s.changed()
	}
}

// AttachPricing stores results on the lines they were computed for. A result
// whose paid quantity no longer matches its line is stale and skipped.
func (s *Store) AttachPricing(results []entity.PricingResult) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, r := range results {
		i := s.index(r.Code)
		if i < 0 || s.lines[i].OrderedQuantity != r.PaidQuantity {
			continue
		}
		p := r
		s.lines[i].Pricing = &p
		applied++
	}
	return applied
}

// Snapshot returns a deep copy of the cart.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]entity.CartLine, 0, len(s.lines))
	for _, l := range s.lines {
		lines = append(lines, l.Clone())
	}
	return Snapshot{Revision: s.revision, Lines: lines}
}

func (s *Store) index(code string) int {
	for i, l := range s.lines {
		if l.Code() == code {
			return i
		}
	}
	return -1
}

// setQuantity must be called with mu held.
func (s *Store) setQuantity(i, qty int) int {
	line := &s.lines[i]
	if avail := line.Product.AvailableQuantity; qty > avail {
		qty = avail
	}
	if qty <= 0 {
		s.remove(i)
		s.changed()
		return 0
	}
	if qty == line.OrderedQuantity {
		return qty
	}
	line.OrderedQuantity = qty
	line.Pricing = nil
	s.changed()
	return qty
}

func (s *Store) remove(i int) {
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
}

// changed must be called with mu held.
func (s *Store) changed() {
	s.revision++
	if s.sink == nil {
		return
	}
	s.sink.Publish(Intent{Revision: s.revision, Lines: entity.Requests(s.lines)})
}
