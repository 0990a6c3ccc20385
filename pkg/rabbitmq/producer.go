/**
 * @description
 * This package provides the RabbitMQ adapter both services use: a producer for
 * publishing domain events and a consumer for receiving them. The producer
 * publishes in confirm mode, so Publish does not return success until the
 * broker has durably accepted the message — a client-side buffer is not enough
 * for the ledger's eventual-consistency guarantee.
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

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned by Publish while the broker connection is down
// and the redial cooldown has not elapsed. Callers treat it as a transient
// delivery failure, never as a mutation failure.
var ErrNotConnected = errors.New("rabbitmq: not connected")

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer owns the shared, reconnectable publishing connection. It is
// safe for concurrent use; a lost connection is re-established lazily on the
// next Publish once the redial cooldown has passed, so request paths fail
// fast instead of queueing behind a dial.
type EventProducer struct {
	url         string
	dialTimeout time.Duration

	mu           sync.Mutex
	conn         *amqp.Connection
	channel      *amqp.Channel
	declared     map[string]bool
	lastDialFail time.Time
	cooldown     time.Duration
}

// NewEventProducer creates a producer and attempts an initial connection.
// A failed initial dial is returned as an error but the producer remains
// usable: Publish will keep retrying on its own schedule.
func NewEventProducer(amqpURL string, dialTimeout time.Duration) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	p := &EventProducer{
		url:         cleanURL,
		dialTimeout: dialTimeout,
		declared:    make(map[string]bool),
		cooldown:    5 * time.Second,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return p, err
	}
	return p, nil
}

// Publish sends a message to a topic exchange and blocks until the broker
// confirms it durable. While disconnected it fails fast with ErrNotConnected.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal body: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		if time.Since(p.lastDialFail) < p.cooldown {
			return ErrNotConnected
		}
		if err := p.connectLocked(); err != nil {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}

	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			p.teardownLocked()
			return fmt.Errorf("rabbitmq: exchange declare: %w", err)
		}
		p.declared[exchange] = true
	}

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         jsonBody,
		},
	)
	if err != nil {
		p.teardownLocked()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq: confirm wait: %w", err)
	}
	if !acked {
		return errors.New("rabbitmq: broker nacked publish")
	}
	return nil
}

// Close gracefully closes the channel and connection.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
}

func (p *EventProducer) connectLocked() error {
	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(p.dialTimeout)})
	if err != nil {
		p.lastDialFail = time.Now()
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		p.lastDialFail = time.Now()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		p.lastDialFail = time.Now()
		return err
	}
	p.conn = conn
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

func (p *EventProducer) teardownLocked() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.declared = make(map[string]bool)
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func init() {
	// amqp091 logs via a package-level logger; route it through the standard
	// logger so broker noise carries the same shape as service logs.
	amqp.SetLogger(log.Default())
}
