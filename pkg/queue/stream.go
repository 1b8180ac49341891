package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"lnhub/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one stream entry. Returning nil acknowledges the entry;
// an error leaves it pending so it is reclaimed later.
type Handler func(messageID string, data []byte) error

// Publisher is the producer half of the stream queue.
type Publisher interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

// StreamQueue is a consumer-group queue on top of Redis streams.
type StreamQueue struct {
	client *redis.Client

	// MaxLen caps stream length (approximate trimming). Zero disables trimming.
	MaxLen int64
	// MinIdle is how long an unacknowledged entry waits before another consumer may claim it.
	MinIdle time.Duration
	// Block is the XREADGROUP block timeout.
	Block time.Duration
}

func NewStreamQueue(client *redis.Client) *StreamQueue {
	return &StreamQueue{
		client:  client,
		MaxLen:  10000,
		MinIdle: 5 * time.Minute,
		Block:   5 * time.Second,
	}
}

// DeclareStream creates the consumer group (and the stream) if missing.
func (q *StreamQueue) DeclareStream(ctx context.Context, stream string, group string) error {
	err := q.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			logger.Debug("Consumer group already exists", zap.String("stream", stream), zap.String("group", group))
			return nil
		}
		logger.Error("Failed to create consumer group", zap.String("stream", stream), zap.String("group", group), zap.Error(err))
		return err
	}
	logger.Info("Consumer group created", zap.String("stream", stream), zap.String("group", group))
	return nil
}

// Publish appends data to stream and returns the entry id.
func (q *StreamQueue) Publish(ctx context.Context, stream string, data []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{"data": data},
	}
	if q.MaxLen > 0 {
		args.MaxLen = q.MaxLen
		args.Approx = true
	}

	id, err := q.client.XAdd(ctx, args).Result()
	if err != nil {
		logger.Error("Failed to publish message to stream", zap.String("stream", stream), zap.Error(err))
		return "", err
	}

	logger.Debug("Published message to stream", zap.String("stream", stream), zap.String("message_id", id))
	return id, nil
}

// Consume reads the stream as part of group until ctx is cancelled. Every
// tenth poll it also claims entries other consumers left unacknowledged.
func (q *StreamQueue) Consume(ctx context.Context, stream string, group string, consumer string, handler Handler) error {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    10,
		Block:    q.Block,
	}

	for polls := 1; ; polls++ {
		if ctx.Err() != nil {
			logger.Info("Stopping consumer", zap.String("stream", stream), zap.String("consumer", consumer))
			return nil
		}

		if polls%10 == 0 {
			if err := q.reclaimPending(ctx, stream, group, consumer, handler); err != nil {
				logger.Warn("Reclaiming pending messages failed", zap.Error(err))
			}
		}

		res, err := q.client.XReadGroup(ctx, args).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			logger.Error("Failed to read from stream", zap.String("stream", stream), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, xstream := range res {
			for _, msg := range xstream.Messages {
				q.handleMessage(ctx, stream, group, msg, handler)
			}
		}
	}
}

func (q *StreamQueue) reclaimPending(ctx context.Context, stream string, group string, consumer string, handler Handler) error {
	args := &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		MinIdle:  q.MinIdle,
		Start:    "0-0",
		Consumer: consumer,
		Count:    100,
	}

	msgs, _, err := q.client.XAutoClaim(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	for _, msg := range msgs {
		q.handleMessage(ctx, stream, group, msg, handler)
	}
	return nil
}

func (q *StreamQueue) handleMessage(ctx context.Context, stream string, group string, msg redis.XMessage, handler Handler) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		// Poison entry: acknowledge so it is not redelivered forever.
		logger.Error("Stream entry has no usable data field", zap.String("message_id", msg.ID))
		q.client.XAck(ctx, stream, group, msg.ID)
		return
	}

	if err := handler(msg.ID, []byte(raw)); err != nil {
		logger.Error("Handler failed to process message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	q.client.XAck(ctx, stream, group, msg.ID)
}
