package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	queueName = "repolish.job_created"

	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 30 * time.Second
)

type jobCreatedMessage struct {
	JobID string `json:"job_id"`
}

// AMQPPublisher publishes job-created pings to RabbitMQ.
type AMQPPublisher struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewAMQPPublisher connects to RabbitMQ and declares the notification queue.
func NewAMQPPublisher(url string, logger *zap.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp: declare queue: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()
	return nil
}

func (p *AMQPPublisher) JobCreated(ctx context.Context, jobID uuid.UUID) error {
	body, err := json.Marshal(jobCreatedMessage{JobID: jobID.String()})
	if err != nil {
		return fmt.Errorf("amqp: marshal message: %w", err)
	}

	p.mu.Lock()
	ch := p.channel
	closed := p.closed
	p.mu.Unlock()
	if closed || ch == nil {
		return fmt.Errorf("amqp: publisher closed")
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID.String(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	err = ch.PublishWithContext(ctx, "", queueName, false, false, msg)
	if err != nil {
		// Try one reconnect before giving up; the caller treats this as
		// best-effort either way.
		if rerr := p.connect(); rerr != nil {
			return fmt.Errorf("amqp: publish: %w", err)
		}
		p.mu.Lock()
		ch = p.channel
		p.mu.Unlock()
		if err := ch.PublishWithContext(ctx, "", queueName, false, false, msg); err != nil {
			return fmt.Errorf("amqp: publish after reconnect: %w", err)
		}
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// AMQPWaker consumes job-created pings and exposes them as a wake channel
// for the supervisor.
type AMQPWaker struct {
	url    string
	logger *zap.Logger
	ch     chan struct{}
}

// NewAMQPWaker creates a waker for the given broker URL. Run must be called
// to start consuming.
func NewAMQPWaker(url string, logger *zap.Logger) *AMQPWaker {
	return &AMQPWaker{url: url, logger: logger, ch: make(chan struct{}, 1)}
}

// Chan returns the wake channel. At most one wake-up is buffered; the
// supervisor's next cycle covers any number of coalesced submissions.
func (w *AMQPWaker) Chan() <-chan struct{} { return w.ch }

// Run consumes until ctx is cancelled, reconnecting with exponential backoff
// on connection loss.
func (w *AMQPWaker) Run(ctx context.Context) {
	delay := baseReconnectDelay
	for {
		if err := w.consume(ctx); err != nil {
			w.logger.Warn("Job notification consumer lost connection", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (w *AMQPWaker) consume(ctx context.Context) error {
	conn, err := amqp.Dial(w.url)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare queue: %w", err)
	}

	deliveries, err := ch.Consume(queueName, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp: consume: %w", err)
	}

	w.logger.Info("Job notification consumer started", zap.String("queue", queueName))

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp: delivery channel closed")
			}
			// Coalesce: a pending wake-up already covers this ping.
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
	}
}
