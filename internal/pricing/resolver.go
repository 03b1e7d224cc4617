package pricing

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"chat-order/internal/entity"
	"chat-order/internal/errs"
)

// Backend is the remote pricing service.
type Backend interface {
	Price(ctx context.Context, lines []entity.LineRequest) ([]entity.PricingResult, error)
}

// Resolver prices cart lines through the backend and degrades to list price
// when the backend cannot answer. Results it returns are for display only; the
// order authority reprices on its own.
type Resolver struct {
	backend Backend
	hints   *lru.Cache
	timeout time.Duration
	log     zerolog.Logger
}

// NewResolver creates a resolver whose hint cache keeps up to hintSize products.
func NewResolver(backend Backend, hintSize int, timeout time.Duration, log zerolog.Logger) (*Resolver, error) {
	hints, err := lru.New(hintSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{backend: backend, hints: hints, timeout: timeout, log: log}, nil
}

// Resolve returns one result per line, in line order. It never fails: lines the
// backend could not price get a Fallback result.
func (r *Resolver) Resolve(ctx context.Context, lines []entity.CartLine) []entity.PricingResult {
	if len(lines) == 0 {
		return nil
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	priced, err := r.backend.Price(callCtx, entity.Requests(lines))
	if err != nil {
		if errs.IsTransport(err) || callCtx.Err() != nil {
			r.log.Warn().Err(err).Msgf("Pricing backend unavailable, using fallback for %d lines", len(lines))
		} else {
			r.log.Error().Err(err).Msg("Pricing backend rejected request, using fallback")
		}
		return r.fallback(lines)
	}

	byCode := make(map[string]entity.PricingResult, len(priced))
	for _, p := range priced {
		byCode[p.Code] = p
	}

	out := make([]entity.PricingResult, 0, len(lines))
	for _, l := range lines {
		p, ok := byCode[l.Code()]
		if !ok || p.PaidQuantity != l.OrderedQuantity {
			r.log.Warn().Msgf("Pricing backend returned no result for %s x%d", l.Code(), l.OrderedQuantity)
			out = append(out, r.fallbackLine(l))
			continue
		}
		r.hints.Add(l.Code(), p)
		out = append(out, p)
	}
	return out
}

// Hint returns the last successful result seen for code.
func (r *Resolver) Hint(code string) (entity.PricingResult, bool) {
	v, ok := r.hints.Get(code)
	if !ok {
		return entity.PricingResult{}, false
	}
	return v.(entity.PricingResult), true
}

func (r *Resolver) fallback(lines []entity.CartLine) []entity.PricingResult {
	out := make([]entity.PricingResult, 0, len(lines))
	for _, l := range lines {
		out = append(out, r.fallbackLine(l))
	}
	return out
}

func (r *Resolver) fallbackLine(l entity.CartLine) entity.PricingResult {
	price := l.Product.UnitPrice
	if hint, ok := r.Hint(l.Code()); ok {
		price = hint.BasePrice
	}
	return Fallback(l.Code(), price, l.OrderedQuantity)
}
