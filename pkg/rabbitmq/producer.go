/**
 * @description
 * This package provides a small producer for publishing funnel events to
 * RabbitMQ. Publishing is best-effort: when the broker is not configured or
 * unreachable at startup, the no-op fallback keeps the purchase flow working.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: the RabbitMQ client library.
 */

package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/rbxrewards/funnel-service/internal/domain"
)

// EventsExchange is the durable topic exchange all funnel events go to.
const EventsExchange = "funnel.events"

// Routing keys for the events this service publishes.
const (
	RoutingKeyOrderCreated    = "funnel.order.created"
	RoutingKeyWebhookReceived = "funnel.webhook.received"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error
	PublishWebhookReceived(ctx context.Context, event domain.WebhookReceivedEvent) error
	Close()
}

// NopPublisher is used when RabbitMQ is unavailable; publishes are logged and
// dropped.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" routing_key=%s", routingKey)
	return nil
}

func (n NopPublisher) PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	return n.Publish(ctx, RoutingKeyOrderCreated, event)
}

func (n NopPublisher) PublishWebhookReceived(ctx context.Context, event domain.WebhookReceivedEvent) error {
	return n.Publish(ctx, RoutingKeyWebhookReceived, event)
}

func (NopPublisher) Close() {}

// EventProducer holds the RabbitMQ connection and channel for publishing.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP url must use the amqp:// or amqps:// scheme")
	}
	return clean, nil
}

// NewEventProducer connects to the broker and opens a publishing channel.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang on a dead broker.
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

func (p *EventProducer) declareExchange() error {
	return p.channel.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil)
}

// reopenChannel replaces a broken channel once; callers retry the operation.
func (p *EventProducer) reopenChannel() error {
	if p.conn == nil {
		return errors.New("no connection to reopen channel on")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declareExchange()
}

// Publish sends a JSON message to the funnel events exchange.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	if err := p.declareExchange(); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" err=%v", err)
		if err := p.reopenChannel(); err != nil {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" routing_key=%s err=%v", routingKey, err)
		return err
	}

	publishing := amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        jsonBody,
	}

	err = p.channel.PublishWithContext(ctx, EventsExchange, routingKey, false, false, publishing)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" routing_key=%s err=%v", routingKey, err)
		if reopenErr := p.reopenChannel(); reopenErr != nil {
			return err
		}
		return p.channel.PublishWithContext(ctx, EventsExchange, routingKey, false, false, publishing)
	}
	return nil
}

// PublishOrderCreated publishes the order-created event.
func (p *EventProducer) PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	return p.Publish(ctx, RoutingKeyOrderCreated, event)
}

// PublishWebhookReceived forwards an opaque gateway confirmation payload.
func (p *EventProducer) PublishWebhookReceived(ctx context.Context, event domain.WebhookReceivedEvent) error {
	return p.Publish(ctx, RoutingKeyWebhookReceived, event)
}

// Close shuts down the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
