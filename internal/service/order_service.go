package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chat-order/internal/entity"
	"chat-order/internal/errs"
	"chat-order/internal/lifecycle"
	"chat-order/internal/pricing"
	"chat-order/internal/repository"
)

var (
	ErrOrderNotFound    = errs.Validation("order not found")
	ErrNotPlacer        = errs.Validation("only the placer may cancel an order")
	ErrNotDistributor   = errs.Validation("only a distributor may do this")
	ErrMissingKey       = errs.Validation("Idempotent-Key header is required")
	ErrNotSessionOwner  = errs.Validation("session belongs to another user")
	ErrSubmitInProgress = errs.Conflict("a submit with this key is in progress", "")
)

type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*entity.Order, error)
	CreateOrder(ctx context.Context, order *entity.Order) error
	UpdateOrder(ctx context.Context, order *entity.Order) error
	DeleteOrder(ctx context.Context, id string) error
}

type DraftStore interface {
	PutDraft(ctx context.Context, draft entity.Draft) error
	GetDraft(ctx context.Context, sessionID string) (*entity.Draft, error)
}

type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (claimed bool, orderID string, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// Publisher emits order events.
type Publisher interface {
	Publish(ctx context.Context, event string, order entity.Order) error
}

// OrderService is the order-confirmation authority.
type OrderService struct {
	orders  OrderStore
	drafts  DraftStore
	catalog *CatalogService
	keys    IdempotencyStore
	events  Publisher
	newID   func() string
	now     func() time.Time
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(orders OrderStore, drafts DraftStore, catalog *CatalogService, keys IdempotencyStore, events Publisher) *OrderService {
	return &OrderService{
		orders:  orders,
		drafts:  drafts,
		catalog: catalog,
		keys:    keys,
		events:  events,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PutCart replaces the draft of sessionID. The first actor to push a session
// owns it.
func (s *OrderService) PutCart(ctx context.Context, actor entity.Actor, sessionID string, lines []entity.LineRequest) error {
	if sessionID == "" {
		return errs.Validation("session id is required")
	}
	if err := ValidateLines(lines); err != nil {
		return err
	}
	if _, err := s.ownDraft(ctx, actor, sessionID); err != nil {
		return err
	}
	if err := s.drafts.PutDraft(ctx, entity.Draft{SessionID: sessionID, OwnerID: actor.ID, Lines: lines}); err != nil {
		logger.Error().Err(err).Msgf("Error storing draft of session %s", sessionID)
		return err
	}
	return nil
}

// Submit turns the session draft into an order placed by actor. Repeating a
// submit with the same key returns the order the first one created.
func (s *OrderService) Submit(ctx context.Context, actor entity.Actor, sessionID, key string) (*entity.Order, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	claimed, existing, err := s.keys.Claim(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("Error claiming idempotent key")
		return nil, err
	}
	if !claimed {
		if existing == "" {
			return nil, ErrSubmitInProgress
		}
		order, err := s.Get(ctx, existing)
		if err != nil {
			return nil, err
		}
		if order.PlacedBy.ID != actor.ID {
			return nil, ErrNotSessionOwner
		}
		logger.Info().Msgf("Replaying submit %s -> order %s", key, existing)
		return order, nil
	}

	order, err := s.submit(ctx, actor, sessionID)
	if err != nil {
		if rerr := s.keys.Release(ctx, key); rerr != nil {
			logger.Error().Err(rerr).Msg("Error releasing idempotent key")
		}
		return nil, err
	}
	if err := s.keys.Complete(ctx, key, order.ID); err != nil {
		logger.Error().Err(err).Msgf("Error recording idempotent key for order %s", order.ID)
	}
	return order, nil
}

func (s *OrderService) submit(ctx context.Context, actor entity.Actor, sessionID string) (*entity.Order, error) {
	draft, err := s.ownDraft(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if draft == nil || len(draft.Lines) == 0 {
		return nil, errs.ErrEmptyCart
	}
	lines := draft.Lines

	stage, err := lifecycle.Next(entity.StageDraft, lifecycle.EventSubmit)
	if err != nil {
		return nil, err
	}

	// check every line's stock concurrently
	products := make([]*entity.ProductRef, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range lines {
		g.Go(func() error {
			p, err := s.catalog.Product(gctx, l.Code)
			if err != nil {
				return err
			}
			if p.AvailableQuantity < l.Quantity {
				logger.Warn().Msgf("Product %s out of stock (%d < %d)", l.Code, p.AvailableQuantity, l.Quantity)
				return errs.Validationf("%s: only %d in stock", l.Code, p.AvailableQuantity)
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	priced, err := s.catalog.Price(ctx, lines)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &entity.Order{
		ID:        s.newID(),
		SessionID: sessionID,
		Stage:     stage,
		PlacedBy:  actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, l := range lines {
		order.Lines = append(order.Lines, entity.OrderLine{
			ItemID:          s.newID(),
			Code:            l.Code,
			Name:            products[i].Name,
			OrderedQuantity: l.Quantity,
			Pricing:         priced[i],
		})
	}
	order.Recalculate()

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		logger.Error().Err(err).Msg("Error creating order")
		return nil, err
	}
	// the session keeps its owner for the next cart
	if err := s.drafts.PutDraft(ctx, entity.Draft{SessionID: sessionID, OwnerID: actor.ID}); err != nil {
		logger.Warn().Err(err).Msgf("Error clearing draft of session %s", sessionID)
	}
	s.publish(ctx, "submitted", order)

	logger.Info().Msgf("Order %s submitted by %s with %d lines, total %s", order.ID, actor.ID, len(order.Lines), order.TotalAmount)
	return order, nil
}

// ownDraft loads the draft of sessionID and checks actor may use it. A
// session nobody pushed yet is free.
func (s *OrderService) ownDraft(ctx context.Context, actor entity.Actor, sessionID string) (*entity.Draft, error) {
	draft, err := s.drafts.GetDraft(ctx, sessionID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error loading draft of session %s", sessionID)
		return nil, err
	}
	if draft != nil && draft.OwnerID != actor.ID {
		logger.Warn().Msgf("Actor %s refused on session %s owned by %s", actor.ID, sessionID, draft.OwnerID)
		return nil, ErrNotSessionOwner
	}
	return draft, nil
}

func (s *OrderService) Get(ctx context.Context, id string) (*entity.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting order %s", id)
		return nil, err
	}
	return order, nil
}

// Route hands a submitted or pending order to distributor review.
func (s *OrderService) Route(ctx context.Context, actor entity.Actor, id string) (*entity.Order, error) {
	if actor.Role != entity.RoleDistributor {
		return nil, ErrNotDistributor
	}
	return s.transition(ctx, id, lifecycle.EventRoute, "routed", nil)
}

// Reject rejects an order under review. Its reserved stock is released by the
// inventory consumer.
func (s *OrderService) Reject(ctx context.Context, actor entity.Actor, id, reason string) (*entity.Order, error) {
	if actor.Role != entity.RoleDistributor {
		return nil, ErrNotDistributor
	}
	if reason == "" {
		return nil, errs.Validation("a reason is required to reject an order")
	}
	return s.transition(ctx, id, lifecycle.EventReject, "rejected", func(o *entity.Order) error {
		o.RejectReason = reason
		return nil
	})
}

// Cancel cancels an order on behalf of its placer.
func (s *OrderService) Cancel(ctx context.Context, actor entity.Actor, id string) (*entity.Order, error) {
	return s.transition(ctx, id, lifecycle.EventCancel, "cancelled", func(o *entity.Order) error {
		if o.PlacedBy.ID != actor.ID {
			return ErrNotPlacer
		}
		return nil
	})
}

// Confirm confirms an order under review. Lines revised down are repriced at
// the confirmed quantity and their shortfall becomes one pending remainder
// order.
func (s *OrderService) Confirm(ctx context.Context, actor entity.Actor, id string, edits []entity.ItemEdit) (*entity.ConfirmResult, error) {
	if actor.Role != entity.RoleDistributor {
		return nil, ErrNotDistributor
	}
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !lifecycle.Allowed(order.Stage, lifecycle.EventConfirm) {
		return nil, errs.Conflict("order already processed", order.Stage.String())
	}

	requests := make([]entity.LineRequest, 0, len(order.Lines))
	for _, l := range order.Lines {
		requests = append(requests, entity.LineRequest{Code: l.Code, Quantity: l.OrderedQuantity})
	}
	schedules, err := s.catalog.Schedules(ctx, requests)
	if err != nil {
		return nil, err
	}
	reprice := func(line entity.OrderLine, qty int) entity.PricingResult {
		return pricing.Compute(schedules[line.Code], qty)
	}

	split, err := lifecycle.Split(*order, edits, s.newID, reprice)
	if err != nil {
		return nil, err
	}

	now := s.now()
	confirmed := split.Confirmed
	confirmed.UpdatedAt = now

	// the remainder is stored before the parent moves to confirmed and removed
	// again if that move fails
	var rem *entity.Order
	if split.Remainder != nil {
		r := *split.Remainder
		r.CreatedAt, r.UpdatedAt = now, now
		if err := s.orders.CreateOrder(ctx, &r); err != nil {
			logger.Error().Err(err).Msgf("Error creating remainder of order %s", confirmed.ID)
			return nil, err
		}
		rem = &r
	}
	if err := s.update(ctx, &confirmed); err != nil {
		if rem != nil {
			if derr := s.orders.DeleteOrder(ctx, rem.ID); derr != nil {
				logger.Error().Err(derr).Msgf("Error removing remainder %s of unconfirmed order %s", rem.ID, confirmed.ID)
			}
		}
		return nil, err
	}

	result := &entity.ConfirmResult{
		Success:       true,
		Message:       fmt.Sprintf("Order %s confirmed", confirmed.ID),
		Order:         confirmed,
		Notifications: split.Notifications,
	}
	if rem != nil {
		result.Remainder = rem
		result.Message = fmt.Sprintf("Order %s partially confirmed, remainder %s pending", confirmed.ID, rem.ID)
		s.publish(ctx, "remainder", rem)
	}
	s.publish(ctx, "confirmed", &confirmed)

	logger.Info().Msg(result.Message)
	return result, nil
}

// transition loads id, applies event and an optional change, and stores the
// result. A stage that no longer allows event is a conflict.
func (s *OrderService) transition(ctx context.Context, id string, event lifecycle.Event, name string, change func(*entity.Order) error) (*entity.Order, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	to, err := lifecycle.Next(order.Stage, event)
	if err != nil {
		return nil, errs.Conflict("order already processed", order.Stage.String())
	}
	if change != nil {
		if err := change(order); err != nil {
			return nil, err
		}
	}

	from := order.Stage
	order.Stage = to
	order.UpdatedAt = s.now()
	if err := s.update(ctx, order); err != nil {
		return nil, err
	}
	s.publish(ctx, name, order)

	logger.Info().Msgf("Order %s: %s -> %s", order.ID, from, to)
	return order, nil
}

func (s *OrderService) update(ctx context.Context, order *entity.Order) error {
	err := s.orders.UpdateOrder(ctx, order)
	if errors.Is(err, repository.ErrVersionConflict) {
		current, gerr := s.Get(ctx, order.ID)
		stage := ""
		if gerr == nil {
			stage = current.Stage.String()
		}
		return errs.Conflict("order already processed", stage)
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error updating order %s", order.ID)
		return err
	}
	return nil
}

// publish emits an order event. The order is already stored, so a failed
// publish is logged and not returned.
func (s *OrderService) publish(ctx context.Context, event string, order *entity.Order) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event, *order); err != nil {
		logger.Error().Err(err).Msgf("Error publishing %s event for order %s", event, order.ID)
	}
}
