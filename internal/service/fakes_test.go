package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"chat-order/internal/entity"
	"chat-order/internal/repository"
)

type fakeProducts struct {
	mu        sync.Mutex
	products  map[string]*entity.ProductRef
	schedules map[string]*entity.PriceSchedule
	loads     int
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{
		products: map[string]*entity.ProductRef{
			"P": {Code: "P", Name: "Paracetamol", UnitPrice: decimal.NewFromInt(100), AvailableQuantity: 20},
			"Q": {Code: "Q", Name: "Quinine", UnitPrice: decimal.NewFromInt(40), AvailableQuantity: 2},
		},
		schedules: map[string]*entity.PriceSchedule{
			"P": {Code: "P", UnitPrice: decimal.NewFromInt(100),
				Tiers: []entity.FOCTier{{BuyQuantity: 2, FreeQuantity: 1}, {BuyQuantity: 5, FreeQuantity: 3}}},
			"Q": {Code: "Q", UnitPrice: decimal.NewFromInt(40), DiscountPercent: decimal.NewFromInt(25)},
		},
	}
}

func (f *fakeProducts) ListProducts(context.Context) ([]entity.ProductRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entity.ProductRef{}
	for _, code := range []string{"P", "Q"} {
		out = append(out, *f.products[code])
	}
	return out, nil
}

func (f *fakeProducts) GetProduct(_ context.Context, code string) (*entity.ProductRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProducts) GetSchedule(_ context.Context, code string) (*entity.PriceSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	s, ok := f.schedules[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeProducts) AdjustStock(_ context.Context, code string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[code]
	if !ok {
		return repository.ErrNotFound
	}
	if p.AvailableQuantity+delta < 0 {
		return repository.ErrInsufficientStock
	}
	p.AvailableQuantity += delta
	return nil
}

func (f *fakeProducts) stock(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[code].AvailableQuantity
}

type memCache struct {
	items map[string]*entity.PriceSchedule
}

func (c *memCache) Get(_ context.Context, code string) (*entity.PriceSchedule, bool, error) {
	s, ok := c.items[code]
	return s, ok, nil
}

func (c *memCache) Set(_ context.Context, s *entity.PriceSchedule) error {
	c.items[s.Code] = s
	return nil
}

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]entity.Order
	// failCreate and failUpdate make the next writes fail
	failCreate error
	failUpdate error
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := o.Clone()
	return &cp, nil
}

func (f *fakeOrders) CreateOrder(_ context.Context, order *entity.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	f.orders[order.ID] = order.Clone()
	return nil
}

func (f *fakeOrders) UpdateOrder(_ context.Context, order *entity.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		return f.failUpdate
	}
	if f.orders[order.ID].Version != order.Version {
		return repository.ErrVersionConflict
	}
	order.Version++
	f.orders[order.ID] = order.Clone()
	return nil
}

func (f *fakeOrders) DeleteOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, id)
	return nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeDrafts struct {
	drafts map[string]entity.Draft
}

// PutDraft keeps the first owner, like the drafts table does.
func (f *fakeDrafts) PutDraft(_ context.Context, draft entity.Draft) error {
	if cur, ok := f.drafts[draft.SessionID]; ok && cur.OwnerID != draft.OwnerID {
		return nil
	}
	f.drafts[draft.SessionID] = draft
	return nil
}

func (f *fakeDrafts) GetDraft(_ context.Context, sessionID string) (*entity.Draft, error) {
	d, ok := f.drafts[sessionID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

type fakeReservations struct {
	mu   sync.Mutex
	held map[string][]entity.LineRequest
}

func (f *fakeReservations) GetReservation(_ context.Context, orderID string) ([]entity.LineRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.LineRequest(nil), f.held[orderID]...), nil
}

func (f *fakeReservations) SaveReservations(_ context.Context, held map[string][]entity.LineRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, lines := range held {
		if len(lines) == 0 {
			delete(f.held, id)
			continue
		}
		f.held[id] = append([]entity.LineRequest(nil), lines...)
	}
	return nil
}

type fakeKeys struct {
	keys map[string]string
}

func (f *fakeKeys) Claim(_ context.Context, key string) (bool, string, error) {
	v, ok := f.keys[key]
	if !ok {
		f.keys[key] = ""
		return true, "", nil
	}
	return false, v, nil
}

func (f *fakeKeys) Complete(_ context.Context, key, orderID string) error {
	f.keys[key] = orderID
	return nil
}

func (f *fakeKeys) Release(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type published struct {
	event string
	order entity.Order
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePublisher) Publish(_ context.Context, event string, order entity.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{event, order})
	return nil
}

func (f *fakePublisher) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.event)
	}
	return out
}

type fixture struct {
	products     *fakeProducts
	reservations *fakeReservations
	orders       *fakeOrders
	drafts       *fakeDrafts
	keys         *fakeKeys
	events       *fakePublisher
	catalog      *CatalogService
	svc          *OrderService
	delivered    int
}

func newFixture() *fixture {
	f := &fixture{
		products:     newFakeProducts(),
		reservations: &fakeReservations{held: map[string][]entity.LineRequest{}},
		orders:       &fakeOrders{orders: map[string]entity.Order{}},
		drafts:       &fakeDrafts{drafts: map[string]entity.Draft{}},
		keys:         &fakeKeys{keys: map[string]string{}},
		events:       &fakePublisher{},
	}
	f.catalog = NewCatalogService(f.products, &memCache{items: map[string]*entity.PriceSchedule{}}, f.reservations)
	f.svc = NewOrderService(f.orders, f.drafts, f.catalog, f.keys, f.events)

	var mu sync.Mutex
	n := 0
	f.svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return f
}
