package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-order/internal/cartsync"
	"chat-order/internal/entity"
	"chat-order/internal/errs"
	"chat-order/internal/pricing"
)

type fakeRemote struct {
	mu        sync.Mutex
	products  []entity.ProductRef
	schedules map[string]entity.PriceSchedule
	drafts    [][]entity.LineRequest
	priceErr  error
	gates     map[int]chan struct{}
	calls     int
	submitted []entity.LineRequest
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		products: []entity.ProductRef{
			{Code: "P", Name: "Paracetamol", UnitPrice: decimal.NewFromInt(100), AvailableQuantity: 10},
			{Code: "Q", Name: "Quinine", UnitPrice: decimal.NewFromInt(40), AvailableQuantity: 0},
		},
		schedules: map[string]entity.PriceSchedule{
			"P": {Code: "P", UnitPrice: decimal.NewFromInt(100), DiscountPercent: decimal.NewFromInt(10),
				Tiers: []entity.FOCTier{{BuyQuantity: 2, FreeQuantity: 1}, {BuyQuantity: 5, FreeQuantity: 3}}},
		},
		gates: map[int]chan struct{}{},
	}
}

func (f *fakeRemote) Products(context.Context) ([]entity.ProductRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.ProductRef(nil), f.products...), nil
}

func (f *fakeRemote) Price(ctx context.Context, lines []entity.LineRequest) ([]entity.PricingResult, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[f.calls]
	err := f.priceErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errs.Transport("pricing", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]entity.PricingResult, 0, len(lines))
	for _, l := range lines {
		out = append(out, pricing.Compute(f.schedules[l.Code], l.Quantity))
	}
	return out, nil
}

func (f *fakeRemote) PutCart(_ context.Context, _ string, lines []entity.LineRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, lines)
	return nil
}

func (f *fakeRemote) lastDraft() []entity.LineRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.drafts) == 0 {
		return nil
	}
	return f.drafts[len(f.drafts)-1]
}

func (f *fakeRemote) Submit(_ context.Context, sessionID, _ string) (entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = f.drafts[len(f.drafts)-1]
	return entity.Order{ID: "o-1", SessionID: sessionID, Stage: entity.StageSubmitted,
		PlacedBy: entity.Actor{ID: "mr-7", Role: entity.RoleMR}}, nil
}

func (f *fakeRemote) Order(context.Context, string) (entity.Order, error) {
	return entity.Order{}, errors.New("not implemented")
}

func (f *fakeRemote) Route(context.Context, string) (entity.Order, error) {
	return entity.Order{}, errors.New("not implemented")
}

func (f *fakeRemote) Confirm(context.Context, string, []entity.ItemEdit) (entity.ConfirmResult, error) {
	return entity.ConfirmResult{}, errors.New("not implemented")
}

func (f *fakeRemote) Reject(context.Context, string, string) (entity.Order, error) {
	return entity.Order{}, errors.New("not implemented")
}

func (f *fakeRemote) Cancel(context.Context, string) (entity.Order, error) {
	return entity.Order{}, errors.New("not implemented")
}

func startSession(t *testing.T, remote *fakeRemote) *Session {
	s, err := New(remote, "s-1", entity.Actor{ID: "mr-7", Role: entity.RoleMR}, Config{
		PricingTimeout: time.Second,
		Sync:           cartsync.Config{Timeout: time.Second, MaxAttempts: 1},
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, s.LoadProducts(context.Background()))
	return s
}

func TestSelectPricesAndSyncs(t *testing.T) {
	remote := newFakeRemote()
	s := startSession(t, remote)
	ctx := context.Background()

	require.NoError(t, s.Select(ctx, "P"))
	got, err := s.SetQuantity(ctx, "P", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	v := s.View()
	require.Len(t, v.Lines, 1)
	require.NotNil(t, v.Lines[0].Pricing)
	assert.Equal(t, 3, v.Lines[0].Pricing.FreeQuantity)
	assert.Equal(t, 8, v.Lines[0].Pricing.TotalQuantity)
	assert.True(t, decimal.NewFromInt(450).Equal(v.Total), v.Total.String())
	assert.False(t, v.Degraded)

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, []entity.LineRequest{{Code: "P", Quantity: 5}}, remote.lastDraft())
	assert.Equal(t, cartsync.StateSynced, s.View().Sync.State)
}

func TestSelectRejectsUnknownAndOutOfStock(t *testing.T) {
	s := startSession(t, newFakeRemote())
	ctx := context.Background()

	assert.True(t, errs.IsValidation(s.Select(ctx, "ZZZ")))
	assert.True(t, errs.IsValidation(s.Select(ctx, "Q")))
	assert.Empty(t, s.View().Lines)
}

func TestPricingOutageDegradesToListPrice(t *testing.T) {
	remote := newFakeRemote()
	remote.priceErr = errs.Transport("pricing", errors.New("503"))
	s := startSession(t, remote)
	ctx := context.Background()

	require.NoError(t, s.Select(ctx, "P"))
	_, err := s.SetQuantity(ctx, "P", 5)
	require.NoError(t, err)

	v := s.View()
	assert.True(t, v.Degraded)
	assert.Equal(t, 0, v.Lines[0].Pricing.FreeQuantity)
	assert.True(t, decimal.NewFromInt(500).Equal(v.Total))
}

func TestStalePricingResponseIsDropped(t *testing.T) {
	remote := newFakeRemote()
	s := startSession(t, remote)
	ctx := context.Background()
	require.NoError(t, s.Select(ctx, "P"))

	gate := make(chan struct{})
	remote.mu.Lock()
	slow := remote.calls + 1
	remote.gates[slow] = gate
	remote.mu.Unlock()

	applied := make(chan bool)
	go func() { applied <- s.Reprice(ctx) }()
	require.Eventually(t, func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		return remote.calls >= slow
	}, time.Second, time.Millisecond)

	_, err := s.SetQuantity(ctx, "P", 2)
	require.NoError(t, err)
	close(gate)

	assert.False(t, <-applied)
	v := s.View()
	require.NotNil(t, v.Lines[0].Pricing)
	assert.Equal(t, 2, v.Lines[0].Pricing.PaidQuantity)
	assert.Equal(t, 1, v.Lines[0].Pricing.FreeQuantity)
}

func TestSubmitFlushesLatestCart(t *testing.T) {
	remote := newFakeRemote()
	s := startSession(t, remote)
	ctx := context.Background()

	require.NoError(t, s.Select(ctx, "P"))
	_, err := s.Increment(ctx, "P")
	require.NoError(t, err)
	require.NoError(t, s.Submit(ctx))

	assert.Equal(t, []entity.LineRequest{{Code: "P", Quantity: 2}}, remote.submitted)
	v := s.View()
	assert.Empty(t, v.Lines)
	assert.Equal(t, entity.StageSubmitted, v.Order.Order.Stage)

	require.NoError(t, s.NewOrder())
	assert.Equal(t, entity.StageDraft, s.View().Order.Order.Stage)
}

func TestLoadProductsClampsCart(t *testing.T) {
	remote := newFakeRemote()
	s := startSession(t, remote)
	ctx := context.Background()

	require.NoError(t, s.Select(ctx, "P"))
	_, err := s.SetQuantity(ctx, "P", 8)
	require.NoError(t, err)

	remote.mu.Lock()
	remote.products[0].AvailableQuantity = 3
	remote.mu.Unlock()
	require.NoError(t, s.LoadProducts(ctx))

	v := s.View()
	assert.Equal(t, 3, v.Lines[0].OrderedQuantity)
	require.NotNil(t, v.Lines[0].Pricing)
	assert.Equal(t, 3, v.Lines[0].Pricing.PaidQuantity)
	assert.Len(t, s.Products(), 2)
}
