package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"chat-order/internal/entity"
	"chat-order/internal/errs"
	"chat-order/internal/pricing"
	"chat-order/internal/repository"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// ProductStore is the catalog database.
type ProductStore interface {
	ListProducts(ctx context.Context) ([]entity.ProductRef, error)
	GetProduct(ctx context.Context, code string) (*entity.ProductRef, error)
	GetSchedule(ctx context.Context, code string) (*entity.PriceSchedule, error)
	AdjustStock(ctx context.Context, code string, delta int) error
}

// ReservationStore records the stock held per order.
type ReservationStore interface {
	GetReservation(ctx context.Context, orderID string) ([]entity.LineRequest, error)
	SaveReservations(ctx context.Context, held map[string][]entity.LineRequest) error
}

// ScheduleCache is a read-through cache in front of GetSchedule.
type ScheduleCache interface {
	Get(ctx context.Context, code string) (*entity.PriceSchedule, bool, error)
	Set(ctx context.Context, s *entity.PriceSchedule) error
}

// CatalogService answers product and pricing requests and keeps stock.
type CatalogService struct {
	products     ProductStore
	cache        ScheduleCache
	reservations ReservationStore
}

func NewCatalogService(products ProductStore, cache ScheduleCache, reservations ReservationStore) *CatalogService {
	return &CatalogService{products: products, cache: cache, reservations: reservations}
}

func (s *CatalogService) Products(ctx context.Context) ([]entity.ProductRef, error) {
	products, err := s.products.ListProducts(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Error listing products")
		return nil, err
	}
	if products == nil {
		products = []entity.ProductRef{}
	}
	return products, nil
}

func (s *CatalogService) Product(ctx context.Context, code string) (*entity.ProductRef, error) {
	p, err := s.products.GetProduct(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errs.Validationf("unknown product %q", code)
	}
	return p, err
}

// Schedule returns the price schedule of code, from cache when possible.
func (s *CatalogService) Schedule(ctx context.Context, code string) (*entity.PriceSchedule, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, code)
		if err != nil {
			logger.Warn().Err(err).Msgf("Error reading schedule %s from cache", code)
		} else if ok {
			return cached, nil
		}
	}

	schedule, err := s.products.GetSchedule(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errs.Validationf("unknown product %q", code)
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error loading schedule %s", code)
		return nil, err
	}
	if err := pricing.ValidateSchedule(*schedule); err != nil {
		logger.Error().Err(err).Msgf("Invalid schedule for %s", code)
		return nil, fmt.Errorf("catalog: %v", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, schedule); err != nil {
			logger.Warn().Err(err).Msgf("Error caching schedule %s", code)
		}
	}
	return schedule, nil
}

// Schedules loads the schedule of every distinct code in lines.
func (s *CatalogService) Schedules(ctx context.Context, lines []entity.LineRequest) (map[string]entity.PriceSchedule, error) {
	out := make(map[string]entity.PriceSchedule, len(lines))
	for _, l := range lines {
		if _, ok := out[l.Code]; ok {
			continue
		}
		schedule, err := s.Schedule(ctx, l.Code)
		if err != nil {
			return nil, err
		}
		out[l.Code] = *schedule
	}
	return out, nil
}

// Price prices lines with the catalog's current schedules.
func (s *CatalogService) Price(ctx context.Context, lines []entity.LineRequest) ([]entity.PricingResult, error) {
	if err := ValidateLines(lines); err != nil {
		return nil, err
	}
	schedules, err := s.Schedules(ctx, lines)
	if err != nil {
		return nil, err
	}

	results := make([]entity.PricingResult, 0, len(lines))
	for _, l := range lines {
		results = append(results, pricing.Compute(schedules[l.Code], l.Quantity))
	}
	return results, nil
}

// Reserve takes stock for the lines of orderID and records what it took.
// An order that already holds a reservation is left alone, so a redelivered
// event reserves once.
func (s *CatalogService) Reserve(ctx context.Context, orderID string, lines []entity.LineRequest) error {
	held, err := s.reservations.GetReservation(ctx, orderID)
	if err != nil {
		return err
	}
	if len(held) > 0 {
		logger.Info().Msgf("Order %s already holds stock", orderID)
		return nil
	}

	for i, l := range lines {
		if err := s.products.AdjustStock(ctx, l.Code, -l.Quantity); err != nil {
			logger.Error().Err(err).Msgf("Error reserving %d of %s for order %s", l.Quantity, l.Code, orderID)
			s.restock(ctx, lines[:i])
			return err
		}
	}
	if err := s.reservations.SaveReservations(ctx, map[string][]entity.LineRequest{orderID: lines}); err != nil {
		logger.Error().Err(err).Msgf("Error recording reservation of order %s", orderID)
		s.restock(ctx, lines)
		return err
	}
	return nil
}

// Release gives back the stock recorded for orderID. An order whose
// reservation never succeeded releases nothing.
func (s *CatalogService) Release(ctx context.Context, orderID string) error {
	held, err := s.reservations.GetReservation(ctx, orderID)
	if err != nil {
		return err
	}
	if len(held) == 0 {
		logger.Warn().Msgf("Order %s holds no stock, nothing to release", orderID)
		return nil
	}

	// the record goes before the stock so no release restocks twice
	if err := s.reservations.SaveReservations(ctx, map[string][]entity.LineRequest{orderID: nil}); err != nil {
		return err
	}
	return s.restock(ctx, held)
}

// Transfer moves the part of fromID's reservation covering lines to toID.
// Only stock fromID actually holds moves.
func (s *CatalogService) Transfer(ctx context.Context, fromID, toID string, lines []entity.LineRequest) error {
	existing, err := s.reservations.GetReservation(ctx, toID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	held, err := s.reservations.GetReservation(ctx, fromID)
	if err != nil {
		return err
	}

	kept, moved := splitHeld(held, lines)
	if len(moved) == 0 {
		logger.Warn().Msgf("Order %s holds no stock for remainder %s", fromID, toID)
		return nil
	}
	return s.reservations.SaveReservations(ctx, map[string][]entity.LineRequest{fromID: kept, toID: moved})
}

// Settle forgets the reservation of a confirmed order. Its stock stays taken.
func (s *CatalogService) Settle(ctx context.Context, orderID string) error {
	return s.reservations.SaveReservations(ctx, map[string][]entity.LineRequest{orderID: nil})
}

// restock returns stock for lines and reports the first failure.
func (s *CatalogService) restock(ctx context.Context, lines []entity.LineRequest) error {
	var firstErr error
	for _, l := range lines {
		if err := s.products.AdjustStock(ctx, l.Code, l.Quantity); err != nil {
			logger.Error().Err(err).Msgf("Error returning %d of %s", l.Quantity, l.Code)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// splitHeld takes the quantities wanted out of held, capped by what is held.
func splitHeld(held, wanted []entity.LineRequest) (kept, moved []entity.LineRequest) {
	want := make(map[string]int, len(wanted))
	for _, l := range wanted {
		want[l.Code] += l.Quantity
	}
	for _, h := range held {
		m := min(want[h.Code], h.Quantity)
		if m > 0 {
			moved = append(moved, entity.LineRequest{Code: h.Code, Quantity: m})
		}
		if h.Quantity > m {
			kept = append(kept, entity.LineRequest{Code: h.Code, Quantity: h.Quantity - m})
		}
	}
	return kept, moved
}

// ValidateLines checks a line set: known shape, positive quantities, unique codes.
func ValidateLines(lines []entity.LineRequest) error {
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if l.Code == "" {
			return errs.Validation("line without product code")
		}
		if l.Quantity < 1 {
			return errs.Validationf("%s: quantity must be at least 1", l.Code)
		}
		if seen[l.Code] {
			return errs.Validationf("%s: duplicate line", l.Code)
		}
		seen[l.Code] = true
	}
	return nil
}
