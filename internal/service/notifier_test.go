package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
)

func TestRedisNotifier_PublishStoresLast(t *testing.T) {
	mr, rdb := setupRedis(t)
	n := NewRedisNotifier(rdb, logger.Nop())
	ctx := context.Background()

	_, ok, err := n.Last(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	state := model.IdleJobState()
	state.Running = true
	state.Phase = model.JobPhaseRunning
	state.Total = 4
	require.NoError(t, n.Publish(ctx, state))

	raw, err := mr.Get(StatusKey)
	require.NoError(t, err)
	var stored StatusEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "job_status", stored.Type)
	assert.True(t, mr.TTL(StatusKey) > 0)

	ev, ok, err := n.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.JobPhaseRunning, ev.State.Phase)
	assert.Equal(t, 4, ev.State.Total)
}

func TestRedisNotifier_Watch(t *testing.T) {
	_, rdb := setupRedis(t)
	n := NewRedisNotifier(rdb, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan StatusEvent, 1)
	go func() {
		_ = n.Watch(ctx, func(ev StatusEvent) bool {
			got <- ev
			return false
		})
	}()

	state := model.IdleJobState()
	state.Sent = 7

	// The subscription may not be live yet, so keep publishing until the
	// watcher sees an event.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev := <-got:
			assert.Equal(t, 7, ev.State.Sent)
			return
		case <-ticker.C:
			require.NoError(t, n.Publish(ctx, state))
		case <-ctx.Done():
			t.Fatal("watcher never received an event")
		}
	}
}

func TestRedisNotifier_PublishError(t *testing.T) {
	mr, rdb := setupRedis(t)
	n := NewRedisNotifier(rdb, logger.Nop())
	mr.Close()

	err := n.Publish(context.Background(), model.IdleJobState())
	assert.ErrorContains(t, err, "failed to publish status event")
}
