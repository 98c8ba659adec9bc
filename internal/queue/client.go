package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"autosint/internal/breaker"
	"autosint/internal/config"
)

// Client is the priority work-order queue (C6), backed by Redis Streams, a
// hard dependency gated by a circuit breaker once WithBreaker is called.
type Client struct {
	rdb     *redis.Client
	group   string
	breaker *breaker.Breaker
}

// New connects to Redis and pings it to validate the connection, mirroring
// the orchestrator dedupe store's connect-then-ping idiom.
func New(cfg config.QueueConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: redis ping: %w", err)
	}
	group := cfg.ConsumerGroup
	if group == "" {
		group = "processors"
	}
	return &Client{rdb: rdb, group: group}, nil
}

// WithBreaker gates every subsequent call through b (spec.md §7's hard-
// dependency circuit breaking). A nil breaker leaves calls unguarded, which
// is what every existing test constructs without calling this.
func (c *Client) WithBreaker(b *breaker.Breaker) *Client {
	c.breaker = b
	return c
}

// guard runs fn through c's breaker when one is configured.
func guard[T any](ctx context.Context, b *breaker.Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	return breaker.Do(ctx, b, fn)
}

// guardErr is guard for operations that only return an error.
func guardErr(ctx context.Context, b *breaker.Breaker, fn func(ctx context.Context) error) error {
	_, err := guard(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Close closes the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// EnsureStreams creates each priority stream with its consumer group,
// idempotently: "already exists" (BUSYGROUP) is treated as success.
func (c *Client) EnsureStreams(ctx context.Context) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		for _, p := range orderedPriorities {
			err := c.rdb.XGroupCreateMkStream(ctx, streamName(p), c.group, "0").Err()
			if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
				return fmt.Errorf("queue: ensure stream %s: %w", streamName(p), err)
			}
		}
		return nil
	})
}

// Enqueue serializes msg and appends it to the stream for priority.
func (c *Client) Enqueue(ctx context.Context, priority Priority, msg Message) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("queue: marshal message: %w", err)
		}
		err = c.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: streamName(priority),
			Values: map[string]any{"data": data},
		}).Err()
		if err != nil {
			return fmt.Errorf("queue: enqueue: %w", err)
		}
		return nil
	})
}

// Dequeue implements the two-phase read of spec.md §4.6: first drain the
// consumer's own pending-but-unacked entries (last-id "0"), then read new
// entries (last-id ">"), blocking up to blockMs. Streams are tried in
// high → normal → low order; the first non-empty result wins.
func (c *Client) Dequeue(ctx context.Context, consumerName string, blockMs int) (*Delivery, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (*Delivery, error) {
		if d, err := c.readStreams(ctx, consumerName, "0", 0); err != nil {
			return nil, err
		} else if d != nil {
			return d, nil
		}
		return c.readStreams(ctx, consumerName, ">", blockMs)
	})
}

func (c *Client) readStreams(ctx context.Context, consumerName, lastID string, blockMs int) (*Delivery, error) {
	for _, p := range orderedPriorities {
		args := &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: consumerName,
			Streams:  []string{streamName(p), lastID},
			Count:    1,
		}
		if blockMs > 0 {
			args.Block = time.Duration(blockMs) * time.Millisecond
		}
		res, err := c.rdb.XReadGroup(ctx, args).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("queue: read %s: %w", streamName(p), err)
		}
		for _, stream := range res {
			for _, entry := range stream.Messages {
				msg, err := decodeEntry(entry.Values)
				if err != nil {
					return nil, err
				}
				return &Delivery{Stream: stream.Stream, EntryID: entry.ID, Message: msg}, nil
			}
		}
	}
	return nil, nil
}

func decodeEntry(values map[string]any) (Message, error) {
	raw, _ := values["data"].(string)
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("queue: decode message: %w", err)
	}
	return msg, nil
}

// Ack acknowledges entryID on stream for the consumer group.
func (c *Client) Ack(ctx context.Context, stream, entryID string) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		if err := c.rdb.XAck(ctx, stream, c.group, entryID).Err(); err != nil {
			return fmt.Errorf("queue: ack: %w", err)
		}
		return nil
	})
}

// Heartbeat writes processor:<id>:heartbeat = "alive" with the given TTL.
func (c *Client) Heartbeat(ctx context.Context, processorID string, ttl time.Duration) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		key := heartbeatKey(processorID)
		if err := c.rdb.Set(ctx, key, "alive", ttl).Err(); err != nil {
			return fmt.Errorf("queue: heartbeat: %w", err)
		}
		return nil
	})
}

// HeartbeatAlive reports whether a processor's heartbeat key still exists.
func (c *Client) HeartbeatAlive(ctx context.Context, processorID string) (bool, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (bool, error) {
		n, err := c.rdb.Exists(ctx, heartbeatKey(processorID)).Result()
		if err != nil {
			return false, fmt.Errorf("queue: heartbeat exists: %w", err)
		}
		return n > 0, nil
	})
}

func heartbeatKey(processorID string) string {
	return "processor:" + processorID + ":heartbeat"
}

// Reclaim transfers ownership of entries idle at least minIdleMs, across
// every stream, to consumerName. Reclaimed entries surface through that
// consumer's next Dequeue pending-phase read.
func (c *Client) Reclaim(ctx context.Context, consumerName string, minIdleMs int64) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		for _, p := range orderedPriorities {
			stream := streamName(p)
			pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
				Stream: stream,
				Group:  c.group,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil {
				return fmt.Errorf("queue: list pending %s: %w", stream, err)
			}
			var staleIDs []string
			for _, entry := range pending {
				if entry.Idle.Milliseconds() >= minIdleMs {
					staleIDs = append(staleIDs, entry.ID)
				}
			}
			if len(staleIDs) == 0 {
				continue
			}
			_, err = c.rdb.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: consumerName,
				MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
				Messages: staleIDs,
			}).Result()
			if err != nil {
				return fmt.Errorf("queue: claim %s: %w", stream, err)
			}
		}
		return nil
	})
}
