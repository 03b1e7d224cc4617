package lifecycle

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-order/internal/cart"
	"chat-order/internal/entity"
	"chat-order/internal/errs"
)

// ErrBusy is returned when a lifecycle call is made while another is running.
var ErrBusy = errs.Validation("operation in progress")

// Authority is the remote order-confirmation authority. It owns every order
// once it has left draft.
type Authority interface {
	Submit(ctx context.Context, sessionID, idempotencyKey string) (entity.Order, error)
	Order(ctx context.Context, id string) (entity.Order, error)
	Route(ctx context.Context, id string) (entity.Order, error)
	Confirm(ctx context.Context, id string, edits []entity.ItemEdit) (entity.ConfirmResult, error)
	Reject(ctx context.Context, id, reason string) (entity.Order, error)
	Cancel(ctx context.Context, id string) (entity.Order, error)
}

// Cart is the part of the cart store the lifecycle needs.
type Cart interface {
	Snapshot() cart.Snapshot
	Clear()
}

// Flusher waits for pending cart pushes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// View is a read-only copy of the lifecycle for rendering.
type View struct {
	Order         entity.Order
	Terminal      bool
	Remainder     *entity.Order
	Notifications []string
	LastError     error
	Busy          bool
}

// Lifecycle drives one order of a session through its stages. Illegal calls
// fail locally; the remote authority decides everything else and its answer
// always replaces local state.
type Lifecycle struct {
	authority Authority
	cart      Cart
	flusher   Flusher
	sessionID string
	actor     entity.Actor
	log       zerolog.Logger

	mu        sync.Mutex
	order     entity.Order
	remainder *entity.Order
	notes     []string
	lastErr   error
	busy      bool
	submitKey string
}

func New(authority Authority, c Cart, flusher Flusher, sessionID string, actor entity.Actor, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		authority: authority,
		cart:      c,
		flusher:   flusher,
		sessionID: sessionID,
		actor:     actor,
		log:       log.With().Str("session", sessionID).Logger(),
		order:     draft(sessionID, actor),
	}
}

func draft(sessionID string, actor entity.Actor) entity.Order {
	return entity.Order{SessionID: sessionID, Stage: entity.StageDraft, PlacedBy: actor}
}

// Submit snapshots the cart into a new order. The cart is flushed to the draft
// store first and cleared only once the authority has accepted the order.
func (l *Lifecycle) Submit(ctx context.Context) error {
	stage, err := l.begin()
	if err != nil {
		return err
	}
	defer l.end()

	if _, err := Next(stage, EventSubmit); err != nil {
		return l.fail(ctx, err)
	}
	if l.cart.Snapshot().Empty() {
		return l.fail(ctx, errs.ErrEmptyCart)
	}
	if l.flusher != nil {
		if err := l.flusher.Flush(ctx); err != nil {
			return l.fail(ctx, err)
		}
	}

	l.mu.Lock()
	if l.submitKey == "" {
		l.submitKey = uuid.NewString()
	}
	key := l.submitKey
	l.mu.Unlock()

	order, err := l.authority.Submit(ctx, l.sessionID, key)
	if err != nil {
		return l.fail(ctx, err)
	}

	l.cart.Clear()
	l.mu.Lock()
	l.submitKey = ""
	l.mu.Unlock()
	l.accept(order)
	l.log.Info().Msgf("Order %s submitted with %d lines", order.ID, len(order.Lines))
	return nil
}

// Open loads an existing order, typically for distributor review.
func (l *Lifecycle) Open(ctx context.Context, orderID string) error {
	if _, err := l.begin(); err != nil {
		return err
	}
	defer l.end()

	if orderID == "" {
		return l.fail(ctx, errs.Validation("order id is required"))
	}
	order, err := l.authority.Order(ctx, orderID)
	if err != nil {
		return l.fail(ctx, err)
	}
	l.accept(order)
	return nil
}

// Refresh reloads the current order from the authority.
func (l *Lifecycle) Refresh(ctx context.Context) error {
	l.mu.Lock()
	id := l.order.ID
	l.mu.Unlock()
	if id == "" {
		return errs.Validation("no order to refresh")
	}
	return l.Open(ctx, id)
}

// Route hands a submitted or pending order to distributor review.
func (l *Lifecycle) Route(ctx context.Context) error {
	return l.transition(ctx, EventRoute, nil, func(id string) (entity.Order, error) {
		return l.authority.Route(ctx, id)
	})
}

// Confirm confirms the order under review with optional item edits.
func (l *Lifecycle) Confirm(ctx context.Context, edits []entity.ItemEdit) error {
	return l.transition(ctx, EventConfirm, func(o entity.Order) error {
		if l.actor.Role != entity.RoleDistributor {
			return errs.Validation("only a distributor may confirm an order")
		}
		return ValidateEdits(o, edits)
	}, func(id string) (entity.Order, error) {
		res, err := l.authority.Confirm(ctx, id, edits)
		if err != nil {
			return entity.Order{}, err
		}
		l.mu.Lock()
		l.remainder = res.Remainder
		l.notes = res.Notifications
		l.mu.Unlock()
		return res.Order, nil
	})
}

// Reject rejects the order under review. A reason is required.
func (l *Lifecycle) Reject(ctx context.Context, reason string) error {
	return l.transition(ctx, EventReject, func(entity.Order) error {
		if l.actor.Role != entity.RoleDistributor {
			return errs.Validation("only a distributor may reject an order")
		}
		if reason == "" {
			return errs.Validation("a reason is required to reject an order")
		}
		return nil
	}, func(id string) (entity.Order, error) {
		return l.authority.Reject(ctx, id, reason)
	})
}

// Cancel cancels the order on behalf of its placer.
func (l *Lifecycle) Cancel(ctx context.Context) error {
	return l.transition(ctx, EventCancel, func(o entity.Order) error {
		if o.PlacedBy.ID != l.actor.ID {
			return errs.Validation("only the placer may cancel an order")
		}
		return nil
	}, func(id string) (entity.Order, error) {
		return l.authority.Cancel(ctx, id)
	})
}

// Reset starts a fresh draft once the current order has left draft.
func (l *Lifecycle) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return ErrBusy
	}
	if l.order.Stage == entity.StageDraft {
		return nil
	}
	l.order = draft(l.sessionID, l.actor)
	l.remainder = nil
	l.notes = nil
	l.lastErr = nil
	return nil
}

func (l *Lifecycle) Snapshot() View {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := View{
		Order:         l.order.Clone(),
		Terminal:      l.order.Stage.Terminal(),
		Notifications: append([]string(nil), l.notes...),
		LastError:     l.lastErr,
		Busy:          l.busy,
	}
	if l.remainder != nil {
		r := l.remainder.Clone()
		v.Remainder = &r
	}
	return v
}

func (l *Lifecycle) transition(ctx context.Context, event Event, check func(entity.Order) error, call func(id string) (entity.Order, error)) error {
	if _, err := l.begin(); err != nil {
		return err
	}
	defer l.end()

	l.mu.Lock()
	current := l.order.Clone()
	l.mu.Unlock()

	if _, err := Next(current.Stage, event); err != nil {
		return l.fail(ctx, err)
	}
	if check != nil {
		if err := check(current); err != nil {
			return l.fail(ctx, err)
		}
	}

	order, err := call(current.ID)
	if err != nil {
		return l.fail(ctx, err)
	}
	l.accept(order)
	l.log.Info().Msgf("Order %s: %s -> %s", order.ID, current.Stage, order.Stage)
	return nil
}

func (l *Lifecycle) begin() (entity.OrderStage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return l.order.Stage, ErrBusy
	}
	l.busy = true
	return l.order.Stage, nil
}

func (l *Lifecycle) end() {
	l.mu.Lock()
	l.busy = false
	l.mu.Unlock()
}

// accept replaces local state with the authority's view of the order.
func (l *Lifecycle) accept(order entity.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if order.ID != l.order.ID {
		l.remainder = nil
		l.notes = nil
	}
	l.order = order
	l.lastErr = nil
}

// fail records err. A conflict means the authority has moved the order on, so
// the local copy is replaced by a fresh read.
func (l *Lifecycle) fail(ctx context.Context, err error) error {
	l.mu.Lock()
	l.lastErr = err
	id := l.order.ID
	l.mu.Unlock()

	switch {
	case errs.IsConflict(err) && id != "":
		order, rerr := l.authority.Order(ctx, id)
		if rerr != nil {
			l.log.Error().Err(rerr).Msgf("Resync of order %s failed", id)
			break
		}
		l.mu.Lock()
		l.order = order
		l.mu.Unlock()
		l.log.Warn().Err(err).Msgf("Order %s already processed, now %s", id, order.Stage)
	case errs.IsTransport(err):
		l.log.Warn().Err(err).Msg("Order authority unreachable")
	default:
		l.log.Debug().Err(err).Msg("Order operation refused")
	}
	return err
}
