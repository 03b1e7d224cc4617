package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-order/internal/entity"
	"chat-order/internal/errs"
	"chat-order/internal/events"
	"chat-order/internal/repository"
)

var (
	mr          = entity.Actor{ID: "mr-7", Role: entity.RoleMR}
	customer    = entity.Actor{ID: "c-1", Role: entity.RoleCustomer}
	distributor = entity.Actor{ID: "dist-1", Role: entity.RoleDistributor}
)

type kafkaCapture struct {
	msgs []kafka.Message
}

func (c *kafkaCapture) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

// deliver runs every event published since the last call through the
// inventory consumer and returns the handling errors.
func (f *fixture) deliver(t *testing.T) []error {
	t.Helper()
	ctx := context.Background()

	f.events.mu.Lock()
	pending := f.events.events[f.delivered:]
	f.delivered = len(f.events.events)
	f.events.mu.Unlock()

	capture := &kafkaCapture{}
	pub := events.NewPublisher(capture)
	for _, e := range pending {
		require.NoError(t, pub.Publish(ctx, e.event, e.order))
	}

	consumer := events.NewConsumer(nil, f.catalog, zerolog.Nop())
	var failures []error
	for _, msg := range capture.msgs {
		if err := consumer.Handle(ctx, msg); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

func submitted(t *testing.T, f *fixture) *entity.Order {
	ctx := context.Background()
	require.NoError(t, f.svc.PutCart(ctx, mr, "s-1", []entity.LineRequest{{Code: "P", Quantity: 5}, {Code: "Q", Quantity: 2}}))
	o, err := f.svc.Submit(ctx, mr, "s-1", "k-1")
	require.NoError(t, err)
	return o
}

func inReview(t *testing.T, f *fixture) *entity.Order {
	o := submitted(t, f)
	o, err := f.svc.Route(context.Background(), distributor, o.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StageDistributorReview, o.Stage)
	return o
}

func TestSubmitCreatesPricedOrder(t *testing.T) {
	f := newFixture()
	o := submitted(t, f)

	assert.Equal(t, entity.StageSubmitted, o.Stage)
	assert.Equal(t, mr, o.PlacedBy)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "Paracetamol", o.Lines[0].Name)
	assert.Equal(t, 3, o.Lines[0].Pricing.FreeQuantity)
	assert.True(t, decimal.NewFromInt(560).Equal(o.TotalAmount), o.TotalAmount.String())

	assert.Empty(t, f.drafts.drafts["s-1"].Lines)
	assert.Equal(t, mr.ID, f.drafts.drafts["s-1"].OwnerID)
	assert.Equal(t, []string{"submitted"}, f.events.names())
	assert.Equal(t, o.ID, f.keys.keys["k-1"])
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture()
	first := submitted(t, f)

	again, err := f.svc.Submit(context.Background(), mr, "s-1", "k-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, f.orders.orders, 1)
	assert.Len(t, f.events.names(), 1)
}

func TestSubmitInProgress(t *testing.T) {
	f := newFixture()
	f.keys.keys["k-1"] = ""
	_, err := f.svc.Submit(context.Background(), mr, "s-1", "k-1")
	assert.True(t, errs.IsConflict(err))
}

func TestSubmitFailuresReleaseKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, mr, "s-1", "k-1")
	assert.ErrorIs(t, err, errs.ErrEmptyCart)
	assert.NotContains(t, f.keys.keys, "k-1")

	require.NoError(t, f.svc.PutCart(ctx, mr, "s-1", []entity.LineRequest{{Code: "Q", Quantity: 3}}))
	_, err = f.svc.Submit(ctx, mr, "s-1", "k-1")
	assert.True(t, errs.IsValidation(err))
	assert.NotContains(t, f.keys.keys, "k-1")
	assert.Empty(t, f.orders.orders)

	_, err = f.svc.Submit(ctx, mr, "s-1", "")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestPutCartValidates(t *testing.T) {
	f := newFixture()
	err := f.svc.PutCart(context.Background(), mr, "s-1", []entity.LineRequest{{Code: "P", Quantity: -1}})
	assert.True(t, errs.IsValidation(err))

	require.NoError(t, f.svc.PutCart(context.Background(), mr, "s-1", []entity.LineRequest{}))
}

func TestRouteRequiresDistributor(t *testing.T) {
	f := newFixture()
	o := submitted(t, f)
	_, err := f.svc.Route(context.Background(), mr, o.ID)
	assert.ErrorIs(t, err, ErrNotDistributor)
}

func TestConfirmPartialCreatesRepricedRemainder(t *testing.T) {
	f := newFixture()
	o := inReview(t, f)
	three := 3

	res, err := f.svc.Confirm(context.Background(), distributor, o.ID, []entity.ItemEdit{
		{ItemID: o.Lines[0].ItemID, RevisedQuantity: &three, Reason: "short stock"},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, entity.StageConfirmed, res.Order.Stage)
	assert.Equal(t, 3, res.Order.Lines[0].Quantity())
	assert.Equal(t, 1, res.Order.Lines[0].Pricing.FreeQuantity)
	assert.True(t, decimal.NewFromInt(360).Equal(res.Order.TotalAmount), res.Order.TotalAmount.String())

	require.NotNil(t, res.Remainder)
	rem := res.Remainder
	assert.Equal(t, entity.StagePending, rem.Stage)
	assert.Equal(t, o.ID, rem.ParentID)
	assert.Equal(t, mr, rem.PlacedBy)
	require.Len(t, rem.Lines, 1)
	assert.Equal(t, 2, rem.Lines[0].OrderedQuantity)
	assert.Contains(t, res.Message, rem.ID)
	assert.NotEmpty(t, res.Notifications)

	stored, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageConfirmed, stored.Stage)
	_, err = f.svc.Get(context.Background(), rem.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"submitted", "routed", "remainder", "confirmed"}, f.events.names())
}

func TestConfirmTwiceIsConflict(t *testing.T) {
	f := newFixture()
	o := inReview(t, f)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, distributor, o.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, distributor, o.ID, nil)
	require.True(t, errs.IsConflict(err))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "confirmed", e.Stage)
}

func TestConfirmRejectsBadEdits(t *testing.T) {
	f := newFixture()
	o := inReview(t, f)
	nine := 9

	_, err := f.svc.Confirm(context.Background(), distributor, o.ID, []entity.ItemEdit{{ItemID: o.Lines[1].ItemID, RevisedQuantity: &nine}})
	assert.True(t, errs.IsValidation(err))

	stored, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageDistributorReview, stored.Stage)
}

func TestRejectThenCancelConflicts(t *testing.T) {
	f := newFixture()
	o := inReview(t, f)
	ctx := context.Background()

	_, err := f.svc.Reject(ctx, distributor, o.ID, "")
	assert.True(t, errs.IsValidation(err))

	rejected, err := f.svc.Reject(ctx, distributor, o.ID, "licence expired")
	require.NoError(t, err)
	assert.Equal(t, entity.StageRejected, rejected.Stage)
	assert.Equal(t, "licence expired", rejected.RejectReason)

	_, err = f.svc.Cancel(ctx, mr, o.ID)
	assert.True(t, errs.IsConflict(err))
}

func TestCancelOnlyByPlacer(t *testing.T) {
	f := newFixture()
	o := submitted(t, f)
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, distributor, o.ID)
	assert.ErrorIs(t, err, ErrNotPlacer)

	cancelled, err := f.svc.Cancel(ctx, mr, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageCancelled, cancelled.Stage)
	assert.Equal(t, []string{"submitted", "cancelled"}, f.events.names())
}

func TestRemainderFollowsLifecycle(t *testing.T) {
	f := newFixture()
	o := inReview(t, f)
	ctx := context.Background()
	one := 1

	res, err := f.svc.Confirm(ctx, distributor, o.ID, []entity.ItemEdit{{ItemID: o.Lines[1].ItemID, RevisedQuantity: &one}})
	require.NoError(t, err)
	require.NotNil(t, res.Remainder)

	routed, err := f.svc.Route(ctx, distributor, res.Remainder.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageDistributorReview, routed.Stage)

	cancelled, err := f.svc.Cancel(ctx, mr, res.Remainder.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageCancelled, cancelled.Stage)
}

func TestStaleVersionIsConflict(t *testing.T) {
	f := newFixture()
	o := submitted(t, f)
	ctx := context.Background()

	stale, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	_, err = f.svc.Route(ctx, distributor, o.ID)
	require.NoError(t, err)

	stale.Stage = entity.StageCancelled
	err = f.svc.update(ctx, stale)
	require.True(t, errs.IsConflict(err))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "distributor_review", e.Stage)
}

func TestGetUnknownOrder(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPutCartRefusesOtherActor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.PutCart(ctx, mr, "s-1", []entity.LineRequest{{Code: "P", Quantity: 3}}))

	err := f.svc.PutCart(ctx, customer, "s-1", []entity.LineRequest{{Code: "Q", Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotSessionOwner)
	assert.Equal(t, []entity.LineRequest{{Code: "P", Quantity: 3}}, f.drafts.drafts["s-1"].Lines)

	require.NoError(t, f.svc.PutCart(ctx, mr, "s-1", []entity.LineRequest{{Code: "P", Quantity: 4}}))
}

func TestSubmitRefusesOtherActor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.PutCart(ctx, mr, "s-1", []entity.LineRequest{{Code: "P", Quantity: 3}}))

	_, err := f.svc.Submit(ctx, customer, "s-1", "k-9")
	assert.ErrorIs(t, err, ErrNotSessionOwner)
	assert.Zero(t, f.orders.count())
	assert.NotContains(t, f.keys.keys, "k-9")

	o, err := f.svc.Submit(ctx, mr, "s-1", "k-1")
	require.NoError(t, err)
	assert.Equal(t, mr, o.PlacedBy)

	// replaying someone else's key does not hand out their order
	_, err = f.svc.Submit(ctx, customer, "s-2", "k-1")
	assert.ErrorIs(t, err, ErrNotSessionOwner)
}

func TestConfirmKeepsReviewWhenRemainderFails(t *testing.T) {
	f := newFixture()
	o := inReview(t, f)
	ctx := context.Background()
	three := 3
	edits := []entity.ItemEdit{{ItemID: o.Lines[0].ItemID, RevisedQuantity: &three}}

	f.orders.failCreate = errors.New("shard down")
	_, err := f.svc.Confirm(ctx, distributor, o.ID, edits)
	require.Error(t, err)

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageDistributorReview, stored.Stage)
	assert.Nil(t, stored.Lines[0].ConfirmedQuantity)
	assert.Equal(t, 1, f.orders.count())

	f.orders.failCreate = nil
	res, err := f.svc.Confirm(ctx, distributor, o.ID, edits)
	require.NoError(t, err)
	require.NotNil(t, res.Remainder)
	assert.Equal(t, 2, f.orders.count())
}

func TestConfirmRemovesRemainderWhenUpdateFails(t *testing.T) {
	f := newFixture()
	o := inReview(t, f)
	three := 3

	f.orders.failUpdate = errors.New("shard down")
	_, err := f.svc.Confirm(context.Background(), distributor, o.ID, []entity.ItemEdit{{ItemID: o.Lines[0].ItemID, RevisedQuantity: &three}})
	require.Error(t, err)

	assert.Equal(t, 1, f.orders.count())
	assert.Equal(t, []string{"submitted", "routed"}, f.events.names())
}

func TestRejectReleasesOnlyReservedStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.PutCart(ctx, mr, "s-a", []entity.LineRequest{{Code: "Q", Quantity: 2}}))
	a, err := f.svc.Submit(ctx, mr, "s-a", "k-a")
	require.NoError(t, err)
	require.NoError(t, f.svc.PutCart(ctx, customer, "s-b", []entity.LineRequest{{Code: "Q", Quantity: 2}}))
	b, err := f.svc.Submit(ctx, customer, "s-b", "k-b")
	require.NoError(t, err)

	failures := f.deliver(t)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], repository.ErrInsufficientStock)
	assert.Equal(t, 0, f.products.stock("Q"))

	_, err = f.svc.Route(ctx, distributor, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, distributor, b.ID, "out of stock")
	require.NoError(t, err)
	assert.Empty(t, f.deliver(t))
	assert.Equal(t, 0, f.products.stock("Q"))

	_, err = f.svc.Cancel(ctx, mr, a.ID)
	require.NoError(t, err)
	assert.Empty(t, f.deliver(t))
	assert.Equal(t, 2, f.products.stock("Q"))
}

func TestCancelledRemainderReleasesShortfall(t *testing.T) {
	f := newFixture()
	o := inReview(t, f)
	ctx := context.Background()
	require.Empty(t, f.deliver(t))
	assert.Equal(t, 15, f.products.stock("P"))
	assert.Equal(t, 0, f.products.stock("Q"))

	three := 3
	res, err := f.svc.Confirm(ctx, distributor, o.ID, []entity.ItemEdit{{ItemID: o.Lines[0].ItemID, RevisedQuantity: &three}})
	require.NoError(t, err)
	require.NotNil(t, res.Remainder)
	require.Empty(t, f.deliver(t))

	_, err = f.svc.Cancel(ctx, mr, res.Remainder.ID)
	require.NoError(t, err)
	require.Empty(t, f.deliver(t))

	assert.Equal(t, 17, f.products.stock("P"))
	assert.Equal(t, 0, f.products.stock("Q"))
	assert.Empty(t, f.reservations.held)
}
