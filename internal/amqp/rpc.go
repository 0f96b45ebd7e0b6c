package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"ledgerindex/internal/index"
)

// RequestChunk publishes job and waits for the worker's reply on a private
// queue. The reply is matched by correlation id.
func (c *Client) RequestChunk(ctx context.Context, job index.ChunkJob) (*ChunkResultMessage, error) {
	if c.isCircuitOpen() {
		return nil, fmt.Errorf("request chunk %s: %w", job.ID, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := NewChunkJobMessage(job).ToJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	reply, err := c.call(ctx, job.ID, body)
	if err != nil {
		c.recordFailure()
		c.resetOnConnectionError(err)
		return nil, err
	}
	c.recordSuccess()

	msg, err := ChunkResultMessageFromJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return msg, nil
}

func (c *Client) call(ctx context.Context, correlationID string, body []byte) ([]byte, error) {
	if err := c.ensureConnected(ctx, 3); err != nil {
		return nil, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, amqp091.ErrClosed
	}

	// A dedicated channel owns the exclusive reply queue; closing it drops both.
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	replies, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume replies: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	err = ch.PublishWithContext(pubCtx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			CorrelationId: correlationID,
			ReplyTo:       q.Name,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("publish message: %w", err)
	}

	slog.InfoContext(ctx, "Published chunk job",
		"component", "amqp",
		"job_id", correlationID,
		"exchange", c.exchangeName,
		"queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-replies:
			if !ok {
				return nil, errors.New("reply channel closed")
			}
			if d.CorrelationId != correlationID {
				continue
			}
			return d.Body, nil
		}
	}
}

// ChunkHandler aggregates one job. A returned error is reported back to the
// requester instead of requeueing the job.
type ChunkHandler func(ctx context.Context, msg *ChunkJobMessage) (*index.ChunkResult, error)

// ConsumeChunkJobs serves chunk jobs until ctx is done.
func (c *Client) ConsumeChunkJobs(ctx context.Context, handler ChunkHandler) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return amqp091.ErrClosed
	}

	// One job at a time per worker
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming chunk jobs", "component", "amqp", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "component", "amqp", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.serve(ctx, ch, delivery, handler)
		}
	}
}

func (c *Client) serve(ctx context.Context, ch *amqp091.Channel, delivery amqp091.Delivery, handler ChunkHandler) {
	msg, err := ChunkJobMessageFromJSON(delivery.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message", "component", "amqp", "error", err)
		delivery.Nack(false, false) // reject and don't requeue
		return
	}

	result, err := handler(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to aggregate chunk", "component", "amqp", "job_id", msg.Job.ID, "error", err)
	}

	if delivery.ReplyTo != "" {
		body, merr := NewChunkResultMessage(msg.Job.ID, result, err).ToJSON()
		if merr == nil {
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			merr = ch.PublishWithContext(pubCtx, "", delivery.ReplyTo, false, false, amqp091.Publishing{
				ContentType:   "application/json",
				CorrelationId: delivery.CorrelationId,
				Timestamp:     time.Now(),
				Body:          body,
			})
			cancel()
		}
		if merr != nil {
			slog.ErrorContext(ctx, "Failed to publish chunk reply", "component", "amqp", "job_id", msg.Job.ID, "error", merr)
			delivery.Nack(false, true) // reject and requeue
			return
		}
	}

	delivery.Ack(false)
	slog.InfoContext(ctx, "Served chunk job", "component", "amqp", "job_id", msg.Job.ID, "failed", err != nil)
}
