package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
)

const (
	// StatusChannel is the Redis pub/sub channel carrying job state changes
	StatusChannel = "mailpilot:job:status"
	// StatusKey holds the most recent job state
	StatusKey = "mailpilot:job:last"

	statusTTL = 24 * time.Hour
)

// Notifier receives every job state change
type Notifier interface {
	Publish(ctx context.Context, state model.JobState) error
}

// StatusEvent is the payload published on StatusChannel
type StatusEvent struct {
	Type      string         `json:"type"`
	State     model.JobState `json:"state"`
	Timestamp int64          `json:"timestamp"`
}

// RedisNotifier publishes job state changes over Redis pub/sub and keeps the
// latest one under StatusKey.
type RedisNotifier struct {
	rdb *database.Redis
	log *logger.Logger
}

// NewRedisNotifier creates a new RedisNotifier
func NewRedisNotifier(rdb *database.Redis, log *logger.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: log.WithComponent("notifier")}
}

// Publish sends one status event
func (n *RedisNotifier) Publish(ctx context.Context, state model.JobState) error {
	data, err := json.Marshal(StatusEvent{
		Type:      "job_status",
		State:     state,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	if err := n.rdb.PublishRetained(ctx, StatusChannel, StatusKey, string(data), statusTTL); err != nil {
		n.log.Error().Err(err).Str("channel", StatusChannel).Msg("failed to publish status event")
		return fmt.Errorf("failed to publish status event: %w", err)
	}
	return nil
}

// Last returns the most recently published event. ok is false when nothing
// was published within the retention window.
func (n *RedisNotifier) Last(ctx context.Context) (ev StatusEvent, ok bool, err error) {
	raw, err := n.rdb.GetString(ctx, StatusKey)
	if errors.Is(err, redis.Nil) {
		return StatusEvent{}, false, nil
	}
	if err != nil {
		return StatusEvent{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return StatusEvent{}, false, fmt.Errorf("failed to decode status event: %w", err)
	}
	return ev, true, nil
}

// Watch calls fn for every status event until ctx is done or fn returns
// false.
func (n *RedisNotifier) Watch(ctx context.Context, fn func(StatusEvent) bool) error {
	sub := n.rdb.Subscribe(ctx, StatusChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", StatusChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, open := <-ch:
			if !open {
				return nil
			}
			var ev StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				n.log.Warn().Err(err).Msg("ignoring malformed status event")
				continue
			}
			if !fn(ev) {
				return nil
			}
		}
	}
}
