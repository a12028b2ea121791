package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/model"
)

func TestTracker_StartsIdle(t *testing.T) {
	tr := NewTracker(nil)
	s := tr.Snapshot()
	assert.Equal(t, model.JobPhaseIdle, s.Phase)
	assert.Equal(t, model.StatusIdle, s.StatusMessage)
	assert.False(t, s.Running)
}

func TestTracker_SingleStartWins(t *testing.T) {
	tr := NewTracker(nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.TryStart("job", "sam@acme.example", 3) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, tr.Snapshot().Running)
}

func TestTracker_RestartAfterFinish(t *testing.T) {
	tr := NewTracker(nil)
	require.True(t, tr.TryStart("job-1", "", 1))
	tr.Finish(model.JobPhaseCompleted, model.StatusComplete)

	require.True(t, tr.TryStart("job-2", "", 2))
	s := tr.Snapshot()
	assert.Equal(t, "job-2", s.JobID)
	assert.Equal(t, 2, s.Total)
	assert.Zero(t, s.Sent)
	assert.Nil(t, s.FinishedAt)
}

func TestTracker_RequestStop(t *testing.T) {
	tr := NewTracker(nil)
	assert.False(t, tr.RequestStop(), "no-op when idle")
	assert.False(t, tr.StopRequested())

	require.True(t, tr.TryStart("job", "", 1))
	assert.True(t, tr.RequestStop())
	assert.True(t, tr.StopRequested())
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(nil)
	require.True(t, tr.TryStart("job", "", 5))
	tr.Update(func(s *model.JobState) { s.Sent = 3 })

	tr.Reset()
	s := tr.Snapshot()
	assert.False(t, s.Running)
	assert.Equal(t, model.JobPhaseIdle, s.Phase)
	assert.Equal(t, model.StatusReset, s.StatusMessage)
	assert.Zero(t, s.Sent)

	assert.True(t, tr.TryStart("job-2", "", 1), "reset allows a new start")
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr := NewTracker(nil)
	require.True(t, tr.TryStart("job", "", 1))

	s := tr.Snapshot()
	*s.StartedAt = s.StartedAt.AddDate(-1, 0, 0)
	assert.NotEqual(t, s.StartedAt.Year(), tr.Snapshot().StartedAt.Year())
}

func TestTracker_NotifiesObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []model.JobState
	tr := NewTracker(func(s model.JobState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer tr.Close()

	require.True(t, tr.TryStart("job", "", 1))
	tr.Finish(model.JobPhaseStopped, model.StatusStopped)
	require.NoError(t, tr.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, model.JobPhaseRunning, seen[0].Phase)
	assert.Equal(t, model.JobPhaseStopped, seen[1].Phase)
}

func TestTracker_SlowObserverKeepsOrder(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var seen []model.JobState
	tr := NewTracker(func(s model.JobState) {
		<-gate
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer tr.Close()

	require.True(t, tr.TryStart("job", "", 3))

	// Writers return while the observer is stuck on the first snapshot
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.RequestStop()
		}()
		go func() {
			defer wg.Done()
			tr.Update(func(s *model.JobState) { s.Sent++ })
		}()
		wg.Wait()
		tr.Finish(model.JobPhaseStopped, model.StatusStopped)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writers blocked on the observer")
	}

	close(gate)
	require.NoError(t, tr.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)
	last := seen[len(seen)-1]
	assert.False(t, last.Running)
	assert.Equal(t, model.JobPhaseStopped, last.Phase)
	assert.Equal(t, tr.Snapshot(), last)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Sent, seen[i-1].Sent, "snapshots arrive in order")
	}
}

func TestTracker_SlowObserverKeepsLatest(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var seen []model.JobState
	tr := NewTracker(func(s model.JobState) {
		<-gate
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer tr.Close()

	require.True(t, tr.TryStart("job", "", 1000))
	for i := 0; i < 2*maxQueuedStates; i++ {
		tr.Update(func(s *model.JobState) { s.Sent++ })
	}
	tr.Finish(model.JobPhaseCompleted, model.StatusComplete)
	close(gate)
	require.NoError(t, tr.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(seen), maxQueuedStates+1)
	last := seen[len(seen)-1]
	assert.Equal(t, model.JobPhaseCompleted, last.Phase)
	assert.Equal(t, 2*maxQueuedStates, last.Sent)
}

func TestTracker_CloseDeliversQueued(t *testing.T) {
	var mu sync.Mutex
	var phases []model.JobPhase
	tr := NewTracker(func(s model.JobState) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})

	require.True(t, tr.TryStart("job", "", 1))
	tr.Finish(model.JobPhaseCompleted, model.StatusComplete)
	tr.Close()
	tr.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.JobPhase{model.JobPhaseRunning, model.JobPhaseCompleted}, phases)
	assert.NoError(t, tr.Flush(context.Background()))
}

func TestTracker_FlushHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	tr := NewTracker(func(model.JobState) { <-gate })
	defer func() {
		close(gate)
		tr.Close()
	}()

	require.True(t, tr.TryStart("job", "", 1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Flush(ctx), context.DeadlineExceeded)
}
