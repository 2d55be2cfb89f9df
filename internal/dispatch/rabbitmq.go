package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"news_narrator/internal/domain"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	queue      string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// NewRabbitMQ connects and declares the durable exchange, queue and binding
// jobs travel through.
func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	fail := func(op string, err error) (*RabbitMQ, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}

	logger = logger.With("component", "rabbitmq")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", q.Name,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		queue:      q.Name,
		logger:     logger,
	}, nil
}

// Enqueue publishes job as a persistent JSON message.
func (r *RabbitMQ) Enqueue(ctx context.Context, job domain.Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         string(job.Name),
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.Debug("published job", "job", job.String())
	return nil
}

// Consume runs workers handlers over the queue until ctx is cancelled.
// Deliveries are acknowledged after their handler returns; a failed job is
// requeued once and dropped on its second failure, leaving it to the
// sweeper. Unreadable messages are rejected.
func (r *RabbitMQ) Consume(ctx context.Context, workers int, handle Handler) error {
	if workers < 1 {
		workers = 1
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	tag := "narrator-" + uuid.NewString()
	deliveries, err := ch.Consume(r.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.queue, err)
	}

	stop := context.AfterFunc(ctx, func() {
		if err := ch.Cancel(tag, false); err != nil {
			r.logger.Warn("cancel consumer", "error", err)
		}
	})
	defer stop()

	r.logger.Info("consuming jobs", "queue", r.queue, "workers", workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				r.deliver(ctx, d, handle)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("consume: delivery channel closed")
}

func (r *RabbitMQ) deliver(ctx context.Context, d amqp.Delivery, handle Handler) {
	job, err := decodeJob(d.Body)
	if err != nil {
		r.logger.Error("rejecting malformed job", "error", err)
		_ = d.Reject(false)
		return
	}

	logger := r.logger.With("job", job.String())
	if err := handle(ctx, job); err != nil {
		requeue := ctx.Err() != nil || !d.Redelivered
		logger.Warn("job failed", "error", err, "requeue", requeue)
		if err := d.Nack(false, requeue); err != nil {
			logger.Error("nack job", "error", err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		logger.Error("ack job", "error", err)
	}
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
