package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Verdict tells the consumer what to do with a processed delivery.
type Verdict int

const (
	// VerdictAck acknowledges the message as successfully processed.
	VerdictAck Verdict = iota
	// VerdictRetry redelivers the message with an incremented attempt count;
	// once the attempt bound is reached it is routed to the dead-letter queue.
	VerdictRetry
	// VerdictDiscard acknowledges the message without processing it further
	// (unknown event names, for example).
	VerdictDiscard
)

// HandlerFunc processes one message body and returns a verdict.
type HandlerFunc func(ctx context.Context, body []byte) Verdict

const (
	attemptsHeader  = "x-attempts"
	originKeyHeader = "x-origin-key"
)

// ConsumerOptions configure the subscription.
type ConsumerOptions struct {
	Exchange    string
	Queue       string
	MaxAttempts int           // retries before dead-lettering, minimum 1
	BaseBackoff time.Duration // reconnect backoff floor
	MaxBackoff  time.Duration // reconnect backoff ceiling
}

// Consumer subscribes an exclusive, auto-deleting queue to a set of routing
// keys on the topic exchange and dispatches deliveries one at a time, so
// idempotency checks never race each other.
type Consumer struct {
	url  string
	opts ConsumerOptions
}

// NewConsumer creates a consumer. The connection is established inside Run so
// a broker outage at startup delays consumption instead of failing boot.
func NewConsumer(amqpURL string, opts ConsumerOptions) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Consumer{url: cleanURL, opts: opts}, nil
}

// Run consumes until ctx is canceled. Connection loss triggers reconnect with
// exponential backoff; handler failures never terminate the loop.
func (c *Consumer) Run(ctx context.Context, bindings map[string]HandlerFunc) error {
	if len(bindings) == 0 {
		return fmt.Errorf("rabbitmq: no bindings provided")
	}

	backoff := c.opts.BaseBackoff
	for {
		if err := c.consumeOnce(ctx, bindings); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("level=warn component=rabbitmq_consumer msg=\"subscription lost; reconnecting\" err=%v backoff=%s", err, backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
			continue
		}
		return nil
	}
}

// consumeOnce holds one connection for as long as it stays healthy.
func (c *Consumer) consumeOnce(ctx context.Context, bindings map[string]HandlerFunc) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	// The projector's queue is exclusive and auto-deleting, matching the
	// at-least-once contract: a restart re-binds a fresh queue.
	q, err := ch.QueueDeclare(c.opts.Queue, false, true, true, false, nil)
	if err != nil {
		return err
	}

	// Dead-letter queue outlives the consumer so poisoned messages can be
	// inspected and replayed by hand.
	dlq, err := ch.QueueDeclare(c.opts.Queue+".dlq", true, false, false, false, nil)
	if err != nil {
		return err
	}

	for routingKey := range bindings {
		if err := ch.QueueBind(q.Name, routingKey, c.opts.Exchange, false, nil); err != nil {
			return err
		}
	}

	// One in-flight message at a time per channel.
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return err
	}

	log.Printf("level=info component=rabbitmq_consumer msg=\"consuming\" queue=%s exchange=%s", q.Name, c.opts.Exchange)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return fmt.Errorf("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.dispatch(ctx, ch, q.Name, dlq.Name, bindings, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, ch *amqp.Channel, queueName, dlqName string, bindings map[string]HandlerFunc, d amqp.Delivery) {
	routingKey := d.RoutingKey
	if origin, ok := d.Headers[originKeyHeader].(string); ok && origin != "" {
		routingKey = origin
	}

	handler, ok := bindings[routingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key; dropping\" routing_key=%s", routingKey)
		d.Ack(false)
		return
	}

	switch handler(ctx, d.Body) {
	case VerdictAck, VerdictDiscard:
		d.Ack(false)
	case VerdictRetry:
		attempts := headerInt(d.Headers, attemptsHeader) + 1
		if attempts >= c.opts.MaxAttempts {
			c.deadLetter(ctx, ch, dlqName, routingKey, d)
			return
		}
		c.requeue(ctx, ch, queueName, routingKey, attempts, d)
	}
}

// requeue republishes the body to the same queue with the attempt count
// bumped, then acks the original. Falls back to a broker-side nack/requeue if
// the republish itself fails.
func (c *Consumer) requeue(ctx context.Context, ch *amqp.Channel, queueName, routingKey string, attempts int, d amqp.Delivery) {
	err := ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType: d.ContentType,
		Timestamp:   time.Now(),
		Body:        d.Body,
		Headers: amqp.Table{
			attemptsHeader:  int32(attempts),
			originKeyHeader: routingKey,
		},
	})
	if err != nil {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"requeue publish failed; nacking\" routing_key=%s err=%v", routingKey, err)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func (c *Consumer) deadLetter(ctx context.Context, ch *amqp.Channel, dlqName, routingKey string, d amqp.Delivery) {
	err := ch.PublishWithContext(ctx, "", dlqName, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         d.Body,
		Headers: amqp.Table{
			originKeyHeader: routingKey,
		},
	})
	if err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"dead-letter publish failed; nacking\" routing_key=%s err=%v", routingKey, err)
		d.Nack(false, true)
		return
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"message dead-lettered\" routing_key=%s dlq=%s", routingKey, dlqName)
	d.Ack(false)
}

func headerInt(headers amqp.Table, key string) int {
	switch v := headers[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}
