/*
Package events publishes invoice lifecycle events over watermill.

PURPOSE:
  The engine hands every committed change (created, sent, paid, cancelled)
  to an invoice.Dispatcher. Publisher is that dispatcher: it encodes the
  event as JSON and publishes it on one topic. PDF rendering and email
  delivery subscribe with Consume.

TRANSPORT:
  Any watermill message.Publisher / message.Subscriber. The server uses the
  in-process gochannel pubsub from NewInMemory.

METADATA:
  workspace_id, event_type, invoice_id

SEE ALSO:
  - invoice/store.go: Event, Dispatcher
*/
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/invoice"
)

// DefaultTopic carries every invoice event.
const DefaultTopic = "invoice.events"

// Payload is the JSON body of an event message.
type Payload struct {
	EventID     string              `json:"event_id"`
	Type        invoice.EventType   `json:"type"`
	InvoiceID   invoice.InvoiceID   `json:"invoice_id"`
	WorkspaceID invoice.WorkspaceID `json:"workspace_id"`
	CustomerID  invoice.CustomerID  `json:"customer_id"`
	Number      string              `json:"number"`
	Status      invoice.Status      `json:"status"`
	Total       int64               `json:"total"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// NewInMemory returns an in-process pubsub usable as both publisher and
// subscriber.
func NewInMemory() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			Persistent:          true,
			OutputChannelBuffer: 100,
		},
		watermill.NewStdLogger(false, false),
	)
}

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher implements invoice.Dispatcher.
type Publisher struct {
	pub    message.Publisher
	topic  string
	logger *zap.Logger
}

func NewPublisher(pub message.Publisher, topic string, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{pub: pub, topic: topic, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, e invoice.Event) error {
	payload := Payload{
		EventID:     "evt_" + ulid.Make().String(),
		Type:        e.Type,
		InvoiceID:   e.InvoiceID,
		WorkspaceID: e.WorkspaceID,
		CustomerID:  e.CustomerID,
		Number:      e.Number,
		Status:      e.Status,
		Total:       e.Total,
		OccurredAt:  e.OccurredAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	msg := message.NewMessage(payload.EventID, body)
	msg.SetContext(ctx)
	msg.Metadata.Set("workspace_id", string(e.WorkspaceID))
	msg.Metadata.Set("event_type", string(e.Type))
	msg.Metadata.Set("invoice_id", string(e.InvoiceID))

	if err := p.pub.Publish(p.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s for %s", e.Type, e.InvoiceID)
	}
	p.logger.Debug("published invoice event",
		zap.String("event_id", payload.EventID),
		zap.String("event_type", string(e.Type)),
		zap.String("invoice_id", string(e.InvoiceID)),
		zap.String("topic", p.topic))
	return nil
}

// =============================================================================
// CONSUMER
// =============================================================================

// Handler processes one decoded event. A returned error nacks the message.
type Handler func(ctx context.Context, p Payload) error

// Consume subscribes to topic and feeds events to h until ctx is done.
// Undecodable messages are logged and acked so they do not block the topic.
func Consume(ctx context.Context, sub message.Subscriber, topic string, h Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe to %s", topic)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var p Payload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				logger.Error("dropping undecodable event",
					zap.String("message_uuid", msg.UUID),
					zap.Error(err))
				msg.Ack()
				continue
			}
			if err := h(msg.Context(), p); err != nil {
				logger.Warn("event handler failed",
					zap.String("event_id", p.EventID),
					zap.String("event_type", string(p.Type)),
					zap.Error(err))
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}

// LogHandler logs each event. The server uses it until a PDF/email worker
// subscribes.
func LogHandler(logger *zap.Logger) Handler {
	return func(_ context.Context, p Payload) error {
		logger.Info("invoice event",
			zap.String("event_type", string(p.Type)),
			zap.String("invoice_id", string(p.InvoiceID)),
			zap.String("workspace_id", string(p.WorkspaceID)),
			zap.String("number", p.Number),
			zap.String("status", string(p.Status)))
		return nil
	}
}
