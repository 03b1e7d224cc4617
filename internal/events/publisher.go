package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"chat-order/internal/entity"
)

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// EventHeader carries the event key, order.<event>.<id>. The message key is
// the session id, so every order of a session, remainders included, lands on
// one partition and is consumed in publish order.
const EventHeader = "event"

// Publisher writes order events.
type Publisher struct {
	writer MessageWriter
}

func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) Publish(ctx context.Context, event string, order entity.Order) error {
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return err
	}

	partitionKey := order.SessionID
	if partitionKey == "" {
		partitionKey = order.ID
	}
	msg := kafka.Message{
		Key:     []byte(partitionKey),
		Value:   orderJSON,
		Headers: []kafka.Header{{Key: EventHeader, Value: []byte(Key(event, order.ID))}},
	}
	return p.writer.WriteMessages(ctx, msg)
}

func Key(event, orderID string) string {
	return fmt.Sprintf("order.%s.%s", event, orderID)
}

// ParseKey splits an event key written by Publish.
func ParseKey(key string) (event, orderID string, err error) {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 || parts[0] != "order" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed event key %q", key)
	}
	return parts[1], parts[2], nil
}

// EventKey returns the event key header of msg.
func EventKey(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == EventHeader {
			return string(h.Value)
		}
	}
	return ""
}
