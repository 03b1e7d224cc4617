package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"chat-order/internal/cart"
	"chat-order/internal/cartsync"
	"chat-order/internal/entity"
	"chat-order/internal/errs"
	"chat-order/internal/lifecycle"
	"chat-order/internal/pricing"
)

// Catalog lists the products a session can order.
type Catalog interface {
	Products(ctx context.Context) ([]entity.ProductRef, error)
}

// Remote is everything a session talks to over the network.
type Remote interface {
	Catalog
	pricing.Backend
	cartsync.DraftStore
	lifecycle.Authority
}

type Config struct {
	HintSize       int
	PricingTimeout time.Duration
	Sync           cartsync.Config
}

// View is what the renderer paints.
type View struct {
	SessionID string
	Actor     entity.Actor
	Lines     []entity.CartLine
	Total     decimal.Decimal
	// Degraded is set when any line is priced without the pricing backend.
	Degraded bool
	Sync     cartsync.Status
	Order    lifecycle.View
}

// Session wires cart, pricing, sync and order lifecycle for one user session.
type Session struct {
	id      string
	actor   entity.Actor
	catalog Catalog
	log     zerolog.Logger

	cart     *cart.Store
	resolver *pricing.Resolver
	sync     *cartsync.Controller
	orders   *lifecycle.Lifecycle

	mu       sync.Mutex
	products map[string]entity.ProductRef
	issued   uint64
	applied  uint64
}

func New(remote Remote, id string, actor entity.Actor, cfg Config, log zerolog.Logger) (*Session, error) {
	if cfg.HintSize <= 0 {
		cfg.HintSize = 256
	}
	resolver, err := pricing.NewResolver(remote, cfg.HintSize, cfg.PricingTimeout, log)
	if err != nil {
		return nil, err
	}

	controller := cartsync.New(remote, id, cfg.Sync, log)
	store := cart.NewStore(controller)

	return &Session{
		id:       id,
		actor:    actor,
		catalog:  remote,
		log:      log.With().Str("session", id).Logger(),
		cart:     store,
		resolver: resolver,
		sync:     controller,
		orders:   lifecycle.New(remote, store, controller, id, actor, log),
		products: map[string]entity.ProductRef{},
	}, nil
}

// Run pushes cart changes until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.sync.Run(ctx)
}

func (s *Session) ID() string {
	return s.id
}

// LoadProducts refreshes the catalog and re-clamps the cart against the new
// stock levels.
func (s *Session) LoadProducts(ctx context.Context) error {
	products, err := s.catalog.Products(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Error loading products")
		return err
	}

	s.mu.Lock()
	s.products = make(map[string]entity.ProductRef, len(products))
	for _, p := range products {
		s.products[p.Code] = p
	}
	s.mu.Unlock()

	s.cart.RefreshStock(products)
	s.Reprice(ctx)
	return nil
}

// Products returns the known products sorted by code.
func (s *Session) Products() []entity.ProductRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.ProductRef, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *Session) product(code string) (entity.ProductRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[code]
	if !ok {
		return entity.ProductRef{}, errs.Validationf("unknown product %q", code)
	}
	return p, nil
}

func (s *Session) Select(ctx context.Context, code string) error {
	p, err := s.product(code)
	if err != nil {
		return err
	}
	if err := s.cart.Select(p); err != nil {
		return err
	}
	s.Reprice(ctx)
	return nil
}

func (s *Session) Deselect(ctx context.Context, code string) error {
	if !s.cart.Deselect(code) {
		return cart.ErrLineNotFound
	}
	s.Reprice(ctx)
	return nil
}

// SetQuantity returns the quantity actually kept after clamping.
func (s *Session) SetQuantity(ctx context.Context, code string, qty int) (int, error) {
	got, err := s.cart.SetQuantity(code, qty)
	if err != nil {
		return 0, err
	}
	s.Reprice(ctx)
	return got, nil
}

func (s *Session) Increment(ctx context.Context, code string) (int, error) {
	got, err := s.cart.Increment(code)
	if err != nil {
		return 0, err
	}
	s.Reprice(ctx)
	return got, nil
}

func (s *Session) Decrement(ctx context.Context, code string) (int, error) {
	got, err := s.cart.Decrement(code)
	if err != nil {
		return 0, err
	}
	s.Reprice(ctx)
	return got, nil
}

func (s *Session) Clear() {
	s.cart.Clear()
}

// Reprice resolves pricing for the current cart. Responses are applied in
// request order: a response older than one already applied is dropped, and
// lines whose quantity changed since the request keep no pricing. It reports
// whether the response was applied.
func (s *Session) Reprice(ctx context.Context) bool {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	snap := s.cart.Snapshot()
	results := s.resolver.Resolve(ctx, snap.Lines)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.applied {
		s.log.Debug().Msgf("Dropping stale pricing response %d (have %d)", seq, s.applied)
		return false
	}
	s.applied = seq
	s.cart.AttachPricing(results)
	return true
}

// Flush waits for the cart to reach the draft store.
func (s *Session) Flush(ctx context.Context) error {
	return s.sync.Flush(ctx)
}

func (s *Session) Submit(ctx context.Context) error {
	return s.orders.Submit(ctx)
}

func (s *Session) Open(ctx context.Context, orderID string) error {
	return s.orders.Open(ctx, orderID)
}

func (s *Session) Refresh(ctx context.Context) error {
	return s.orders.Refresh(ctx)
}

func (s *Session) Route(ctx context.Context) error {
	return s.orders.Route(ctx)
}

func (s *Session) Confirm(ctx context.Context, edits []entity.ItemEdit) error {
	return s.orders.Confirm(ctx, edits)
}

func (s *Session) Reject(ctx context.Context, reason string) error {
	return s.orders.Reject(ctx, reason)
}

func (s *Session) Cancel(ctx context.Context) error {
	return s.orders.Cancel(ctx)
}

// NewOrder starts a fresh draft after the current order left draft.
func (s *Session) NewOrder() error {
	return s.orders.Reset()
}

func (s *Session) View() View {
	snap := s.cart.Snapshot()
	v := View{
		SessionID: s.id,
		Actor:     s.actor,
		Lines:     snap.Lines,
		Total:     snap.Total(),
		Sync:      s.sync.Status(),
		Order:     s.orders.Snapshot(),
	}
	for _, l := range snap.Lines {
		if l.Pricing != nil && l.Pricing.Fallback {
			v.Degraded = true
		}
	}
	return v
}
