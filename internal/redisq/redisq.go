package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"partnerqueue/internal/config"
	"partnerqueue/internal/events"
)

const publishTimeout = 2 * time.Second

// NewClient builds a Redis client from configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Signal wakes the batch scheduler early when new work is enqueued.
// The queue itself stays in the tenant databases; Redis only carries the nudge.
type Signal struct {
	client *redis.Client
	key    string
}

func NewSignal(client *redis.Client, prefix string) *Signal {
	return &Signal{client: client, key: prefix + ":wake"}
}

// Notify pushes one wake token. Tokens beyond the first few are trimmed.
func (s *Signal) Notify(ctx context.Context, tenantCode string) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, tenantCode)
	pipe.LTrim(ctx, s.key, 0, 15)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push wake signal: %w", err)
	}
	return nil
}

// Wait blocks up to timeout for a wake token. It reports whether one arrived and
// drains the rest so a burst of enqueues triggers a single round.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	_, err := s.client.BRPop(ctx, timeout, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("failed to wait for wake signal: %w", err)
	}
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return true, fmt.Errorf("failed to drain wake signal: %w", err)
	}
	return true, nil
}

// DeadLetter keeps a capped list of failed queue items for operators.
type DeadLetter struct {
	client *redis.Client
	key    string
	limit  int64
}

func NewDeadLetter(client *redis.Client, prefix string, limit int64) *DeadLetter {
	if limit <= 0 {
		limit = 1000
	}
	return &DeadLetter{client: client, key: prefix + ":dead_letter", limit: limit}
}

func (d *DeadLetter) Push(ctx context.Context, p events.QueueItemPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, d.key, data)
	pipe.LTrim(ctx, d.key, 0, d.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// Recent returns up to n dead letters, newest first.
func (d *DeadLetter) Recent(ctx context.Context, n int64) ([]events.QueueItemPayload, error) {
	if n <= 0 {
		n = d.limit
	}
	raw, err := d.client.LRange(ctx, d.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([]events.QueueItemPayload, 0, len(raw))
	for _, r := range raw {
		var p events.QueueItemPayload
		if err := json.Unmarshal([]byte(r), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Subscribe wires the signal to enqueue events and the dead letter list to failures.
// Either may be nil.
func Subscribe(bus *events.EventBus, signal *Signal, dead *DeadLetter, logger *zerolog.Logger) {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "redisq").Logger()
	}

	if signal != nil {
		bus.Subscribe(events.EventItemEnqueued, func(e *events.Event) error {
			var p events.QueueItemPayload
			if err := e.Decode(&p); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := signal.Notify(ctx, p.TenantCode); err != nil {
				log.Warn().Err(err).Str("request_ref", p.RequestRef).Msg("wake signal not sent")
				return err
			}
			return nil
		})
	}

	if dead != nil {
		bus.Subscribe(events.EventItemFailed, func(e *events.Event) error {
			var p events.QueueItemPayload
			if err := e.Decode(&p); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := dead.Push(ctx, p); err != nil {
				log.Warn().Err(err).Str("request_ref", p.RequestRef).Msg("dead letter not recorded")
				return err
			}
			return nil
		})
	}
}
