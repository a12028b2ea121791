package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/mailpilot/mailpilot/internal/model"
)

// maxQueuedStates bounds the snapshots waiting for a slow observer. The
// oldest are dropped first, so the latest state is always delivered.
const maxQueuedStates = 256

type queuedState struct {
	seq   uint64
	state model.JobState
}

// Tracker guards the shared JobState. The controller and the worker mutate
// it through short critical sections; readers always get a copy.
//
// Every change is queued under the lock and handed to the observer by a
// single dispatcher goroutine, so observers see changes in the order they
// happened and a slow observer never holds up a writer.
type Tracker struct {
	mu       sync.Mutex
	state    model.JobState
	observer func(model.JobState)
	now      func() time.Time

	seq       uint64
	delivered uint64
	queue     []queuedState
	wake      chan struct{}
	progress  chan struct{}
	quit      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// NewTracker creates an idle tracker. observer, if set, receives a snapshot
// after every change on a dedicated goroutine.
func NewTracker(observer func(model.JobState)) *Tracker {
	t := &Tracker{
		state:    model.IdleJobState(),
		observer: observer,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		progress: make(chan struct{}),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	if observer != nil {
		go t.dispatch()
	} else {
		close(t.exited)
	}
	return t
}

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() model.JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyState(t.state)
}

// Update applies fn under the lock and queues the result for the observer
func (t *Tracker) Update(fn func(s *model.JobState)) {
	t.mu.Lock()
	fn(&t.state)
	t.enqueueLocked()
	t.mu.Unlock()
}

// TryStart moves an idle or finished tracker to running. It returns false
// when a job is already running.
func (t *Tracker) TryStart(jobID, sender string, total int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Running {
		return false
	}
	now := t.now()
	t.state = model.JobState{
		JobID:         jobID,
		Running:       true,
		Phase:         model.JobPhaseRunning,
		Total:         total,
		StatusMessage: model.StatusStarting,
		Sender:        sender,
		StartedAt:     &now,
	}
	t.enqueueLocked()
	return true
}

// RequestStop raises the stop flag. It is a no-op when nothing runs and
// reports whether the flag was set.
func (t *Tracker) RequestStop() bool {
	applied := false
	t.Update(func(s *model.JobState) {
		if s.Running {
			s.StopRequested = true
			applied = true
		}
	})
	return applied
}

// StopRequested reports whether the operator asked the job to stop
func (t *Tracker) StopRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.StopRequested
}

// Finish records a terminal phase
func (t *Tracker) Finish(phase model.JobPhase, message string) {
	t.Update(func(s *model.JobState) {
		now := t.now()
		s.Running = false
		s.Phase = phase
		s.StatusMessage = message
		s.CurrentEmail = ""
		s.FinishedAt = &now
	})
}

// Reset overwrites the state with an idle one regardless of any worker
// still executing. Such a worker keeps writing progress into the tracker.
func (t *Tracker) Reset() {
	t.Update(func(s *model.JobState) {
		*s = model.IdleJobState()
		s.StatusMessage = model.StatusReset
	})
}

func copyState(s model.JobState) model.JobState {
	out := s
	if s.StartedAt != nil {
		v := *s.StartedAt
		out.StartedAt = &v
	}
	if s.FinishedAt != nil {
		v := *s.FinishedAt
		out.FinishedAt = &v
	}
	return out
}

// Flush blocks until every change made before the call has been handed to
// the observer, or ctx is done.
func (t *Tracker) Flush(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.delivered >= t.seq || t.observer == nil {
			t.mu.Unlock()
			return nil
		}
		progress := t.progress
		t.mu.Unlock()

		select {
		case <-progress:
		case <-t.exited:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close delivers the queued snapshots and stops the dispatcher. Changes made
// afterwards are no longer observed.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() { close(t.quit) })
	<-t.exited
}

func (t *Tracker) enqueueLocked() {
	if t.observer == nil {
		return
	}
	t.seq++
	t.queue = append(t.queue, queuedState{seq: t.seq, state: copyState(t.state)})
	if n := len(t.queue); n > maxQueuedStates {
		t.queue = append(t.queue[:0], t.queue[n-maxQueuedStates:]...)
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) dispatch() {
	defer close(t.exited)
	for {
		select {
		case <-t.wake:
			t.drain()
		case <-t.quit:
			t.drain()
			return
		}
	}
}

// drain hands queued snapshots to the observer until the queue is empty
func (t *Tracker) drain() {
	for {
		t.mu.Lock()
		batch := t.queue
		t.queue = nil
		t.mu.Unlock()
		if len(batch) == 0 {
			return
		}

		for _, q := range batch {
			t.observer(q.state)
		}

		t.mu.Lock()
		t.delivered = batch[len(batch)-1].seq
		close(t.progress)
		t.progress = make(chan struct{})
		t.mu.Unlock()
	}
}
