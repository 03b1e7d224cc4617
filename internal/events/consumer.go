package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"chat-order/internal/entity"
)

// Inventory is the stock keeper driven by order events. It tracks what each
// order holds, so releases return only stock that was reserved.
type Inventory interface {
	Reserve(ctx context.Context, orderID string, lines []entity.LineRequest) error
	Transfer(ctx context.Context, fromID, toID string, lines []entity.LineRequest) error
	Settle(ctx context.Context, orderID string) error
	Release(ctx context.Context, orderID string) error
}

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer reserves stock when an order is submitted, hands the shortfall of a
// partial confirmation to its remainder, settles confirmed orders and releases
// rejected or cancelled ones.
type Consumer struct {
	reader    MessageReader
	inventory Inventory
	log       zerolog.Logger
}

func NewConsumer(reader MessageReader, inventory Inventory, log zerolog.Logger) *Consumer {
	return &Consumer{reader: reader, inventory: inventory, log: log}
}

// Run handles messages until ctx is done. A message is committed once handled,
// whether or not handling succeeded.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("Error reading message")
			continue
		}

		if err := c.Handle(ctx, msg); err != nil {
			c.log.Error().Err(err).Msgf("Error handling %s", EventKey(msg))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Msgf("Error committing %s", EventKey(msg))
		}
	}
}

func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	event, orderID, err := ParseKey(EventKey(msg))
	if err != nil {
		return err
	}

	var order entity.Order
	if err := json.Unmarshal(msg.Value, &order); err != nil {
		return err
	}

	switch event {
	case "submitted":
		c.log.Info().Msgf("Reserving stock for order %s", orderID)
		return c.inventory.Reserve(ctx, orderID, lineRequests(order))
	case "remainder":
		c.log.Info().Msgf("Moving shortfall of order %s to remainder %s", order.ParentID, orderID)
		return c.inventory.Transfer(ctx, order.ParentID, orderID, lineRequests(order))
	case "confirmed":
		return c.inventory.Settle(ctx, orderID)
	case "rejected", "cancelled":
		c.log.Info().Msgf("Releasing stock of %s order %s", event, orderID)
		return c.inventory.Release(ctx, orderID)
	default:
		c.log.Debug().Msgf("Ignoring %s event for order %s", event, orderID)
		return nil
	}
}

// lineRequests returns the quantities an order holds in stock.
func lineRequests(order entity.Order) []entity.LineRequest {
	out := make([]entity.LineRequest, 0, len(order.Lines))
	for _, l := range order.Lines {
		if q := l.Quantity(); q > 0 {
			out = append(out, entity.LineRequest{Code: l.Code, Quantity: q})
		}
	}
	return out
}
