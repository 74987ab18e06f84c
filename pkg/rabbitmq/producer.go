/**
 * @description
 * This package provides the producer used to publish ledger notifications to RabbitMQ.
 * Exchanges are declared durable and topic-typed the first time a channel publishes to
 * them. A failed publish is retried once on a fresh channel.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// Identified bodies carry a stable id that is sent as the AMQP message id,
// so consumers can drop redeliveries.
type Identified interface {
	MessageID() string
}

// EventProducer owns one connection and one publishing channel.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool // exchanges declared on the current channel
	now      func() time.Time
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is not configured or unreachable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) Close() {}

// sanitizeAMQPURL strips quotes, whitespace and anything before the scheme that env files tend to leave behind.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid AMQP url: %w", err)
	}
	switch parsed.Scheme {
	case "amqp", "amqps":
		return clean, nil
	default:
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
}

// NewEventProducer dials RabbitMQ with a bounded timeout and opens the publishing channel.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	producer := &EventProducer{conn: conn, now: time.Now}
	if err := producer.resetChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return producer, nil
}

// Publish marshals body to JSON and sends it persistently to exchange with routingKey.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         payload,
	}
	if identified, ok := body.(Identified); ok {
		msg.MessageId = identified.MessageID()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	msg.Timestamp = p.now()

	firstErr := p.publishLocked(ctx, exchange, routingKey, msg)
	if firstErr == nil {
		return nil
	}
	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; retrying on new channel\" exchange=%s routing_key=%s message_id=%s err=%v", exchange, routingKey, msg.MessageId, firstErr)

	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed: %w", firstErr)
	}
	if err := p.resetChannel(); err != nil {
		return err
	}
	return p.publishLocked(ctx, exchange, routingKey, msg)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	if !p.declared[exchange] {
		// durable topic exchange, not auto-deleted, not internal
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// resetChannel replaces the publishing channel. Callers hold mu, except the constructor.
func (p *EventProducer) resetChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
