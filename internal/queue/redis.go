package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis delay queue.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	Visibility  time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
}

// RedisQueue implements DelayQueue on a Redis sorted set. The member is the
// message id, the score is the visible-at timestamp in milliseconds; bodies
// and attempt counts live in hashes under the same key prefix, exhausted
// messages in a dead-letter list.
type RedisQueue struct {
	client      *redis.Client
	sched       string
	bodies      string
	attempts    string
	dead        string
	visibility  time.Duration
	retryDelay  time.Duration
	maxAttempts int

	now func() time.Time
}

// NewRedisQueue creates a Redis-backed delay queue.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.KeyPrefix == "" {
		return nil, fmt.Errorf("redis key prefix is required")
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 2 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisQueue{
		client:      client,
		sched:       cfg.KeyPrefix + ":sched",
		bodies:      cfg.KeyPrefix + ":body",
		attempts:    cfg.KeyPrefix + ":attempts",
		dead:        cfg.KeyPrefix + ":dead",
		visibility:  cfg.Visibility,
		retryDelay:  cfg.RetryDelay,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}, nil
}

// Enqueue stores body and schedules its visibility.
func (q *RedisQueue) Enqueue(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	id := uuid.NewString()
	visibleAt := q.now().Add(delay)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.bodies, id, body)
	pipe.ZAdd(ctx, q.sched, redis.Z{
		Score:  float64(visibleAt.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}
	return id, nil
}

// Pull claims up to max visible messages by pushing their score out by the
// visibility window. The upstream deployment runs a single consumer, so the
// claim does not need to be atomic across competing workers.
func (q *RedisQueue) Pull(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	now := q.now()

	ids, err := q.client.ZRangeByScore(ctx, q.sched, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("pull scheduled messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	lease := float64(now.Add(q.visibility).UnixMilli())
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		body, err := q.client.HGet(ctx, q.bodies, id).Result()
		if err == redis.Nil {
			// Orphaned schedule entry; drop it.
			q.client.ZRem(ctx, q.sched, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch message body: %w", err)
		}

		if err := q.client.ZAdd(ctx, q.sched, redis.Z{Score: lease, Member: id}).Err(); err != nil {
			return nil, fmt.Errorf("lease message: %w", err)
		}

		attempts, err := q.client.HGet(ctx, q.attempts, id).Int()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("fetch message attempts: %w", err)
		}

		out = append(out, Message{ID: id, Body: []byte(body), Attempts: attempts})
	}
	return out, nil
}

// Ack removes a message permanently.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.sched, id)
	pipe.HDel(ctx, q.bodies, id)
	pipe.HDel(ctx, q.attempts, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// Fail reschedules a message after the retry delay, or dead-letters it once
// the attempt budget is spent.
func (q *RedisQueue) Fail(ctx context.Context, id string) error {
	attempts, err := q.client.HIncrBy(ctx, q.attempts, id, 1).Result()
	if err != nil {
		return fmt.Errorf("count message attempt: %w", err)
	}

	if int(attempts) >= q.maxAttempts {
		body, err := q.client.HGet(ctx, q.bodies, id).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("fetch dead message body: %w", err)
		}

		entry, err := json.Marshal(Message{ID: id, Body: []byte(body), Attempts: int(attempts)})
		if err != nil {
			return fmt.Errorf("encode dead message: %w", err)
		}

		pipe := q.client.TxPipeline()
		pipe.LPush(ctx, q.dead, entry)
		pipe.ZRem(ctx, q.sched, id)
		pipe.HDel(ctx, q.bodies, id)
		pipe.HDel(ctx, q.attempts, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("dead-letter message: %w", err)
		}
		return nil
	}

	retryAt := float64(q.now().Add(q.retryDelay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.sched, redis.Z{Score: retryAt, Member: id}).Err(); err != nil {
		return fmt.Errorf("reschedule message: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
