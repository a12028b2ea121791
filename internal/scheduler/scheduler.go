package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/email"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/repository"
)

const (
	DefaultBatchSize    = 50
	DefaultPollInterval = time.Second
)

// Composer produces the content for one recipient
type Composer interface {
	Compose(ctx context.Context, r model.Recipient, purpose string) (model.Message, error)
}

// Observer is notified of per-recipient and per-batch outcomes
type Observer interface {
	DeliveryRecorded(status model.DeliveryStatus)
	BatchConnectFailed()
}

// Config holds pacing settings for a run
type Config struct {
	BatchSize    int
	Delay        time.Duration
	PollInterval time.Duration
	Purpose      string
}

// Scheduler sends a pending list batch by batch with one transport session
// per batch and an interruptible pause between batches. Recipients are
// processed strictly in order.
type Scheduler struct {
	cfg        Config
	composer   Composer
	log        repository.DeliveryLog
	transports email.TransportFactory
	observer   Observer
	logger     *logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// ConfigFromCampaign maps the campaign settings onto pacing settings
func ConfigFromCampaign(c config.CampaignConfig) Config {
	return Config{
		BatchSize:    c.BatchSize,
		Delay:        c.DelayBetweenBatches,
		PollInterval: c.PollInterval,
		Purpose:      c.Purpose,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// New creates a Scheduler. observer may be nil.
func New(cfg Config, composer Composer, log repository.DeliveryLog, transports email.TransportFactory, observer Observer, lg *logger.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if lg == nil {
		lg = logger.Nop()
	}
	return &Scheduler{
		cfg:        cfg,
		composer:   composer,
		log:        log,
		transports: transports,
		observer:   observer,
		logger:     lg.WithComponent("scheduler"),
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// Config returns the pacing settings in effect
func (s *Scheduler) Config() Config {
	return s.cfg
}

// WithConfig returns a copy of s that paces with cfg
func (s *Scheduler) WithConfig(cfg Config) *Scheduler {
	cp := *s
	cp.cfg = cfg.withDefaults()
	return &cp
}

// WithComposer returns a copy of s that generates content with c
func (s *Scheduler) WithComposer(c Composer) *Scheduler {
	cp := *s
	cp.composer = c
	return &cp
}

// Run drives one job over pending and returns its terminal phase. The
// tracker must already be running. Cancelling ctx behaves like a stop
// request: it is honored at the next recipient or batch boundary.
func (s *Scheduler) Run(ctx context.Context, tracker *Tracker, pending []model.Recipient, creds model.Credentials) (phase model.JobPhase) {
	job := tracker.Snapshot()
	lg := s.logger.WithJob(job.JobID, creds.Address)

	defer func() {
		if r := recover(); r != nil {
			lg.Error().Interface("panic", r).Msg("send job panicked")
			phase = model.JobPhaseErrored
			tracker.Finish(phase, errorStatus(fmt.Sprint(r)))
		}
	}()

	spans := Partition(len(pending), s.cfg.BatchSize)
	lg.Info().Int("pending", len(pending)).Int("batches", len(spans)).Msg("send job started")

	for i, span := range spans {
		if s.stopped(ctx, tracker) {
			break
		}

		if err := s.runBatch(ctx, tracker, lg, pending[span.Start:span.End], i+1, len(spans), creds); err != nil {
			lg.Error().Err(err).Int("batch", i+1).Msg("send job aborted")
			tracker.Finish(model.JobPhaseErrored, errorStatus(err.Error()))
			return model.JobPhaseErrored
		}

		if i < len(spans)-1 && !s.stopped(ctx, tracker) {
			tracker.Update(func(st *model.JobState) {
				st.StatusMessage = fmt.Sprintf("Waiting %ds before next batch...", int(s.cfg.Delay.Seconds()))
			})
			s.pause(ctx, tracker)
		}
	}

	final := tracker.Snapshot()
	if s.stopped(ctx, tracker) {
		tracker.Finish(model.JobPhaseStopped, model.StatusStopped)
		phase = model.JobPhaseStopped
	} else {
		tracker.Finish(model.JobPhaseCompleted, model.StatusComplete)
		phase = model.JobPhaseCompleted
	}
	lg.Info().
		Str("phase", string(phase)).
		Int("sent", final.Sent).
		Int("failed", final.Failed).
		Msg("send job finished")
	return phase
}

// runBatch sends one batch over a fresh session. Only a delivery log
// failure is returned; everything else is recorded per recipient.
func (s *Scheduler) runBatch(ctx context.Context, tracker *Tracker, lg *logger.Logger, batch []model.Recipient, n, total int, creds model.Credentials) error {
	tracker.Update(func(st *model.JobState) {
		st.StatusMessage = model.StatusConnecting
	})

	transport := s.transports(creds)
	defer transport.Close()

	if err := transport.Open(); err != nil {
		return s.failBatch(ctx, tracker, lg, batch, err)
	}

	tracker.Update(func(st *model.JobState) {
		st.StatusMessage = fmt.Sprintf("Sending batch %d/%d", n, total)
	})

	for _, r := range batch {
		if s.stopped(ctx, tracker) {
			return nil
		}

		addr, name := r.Email(), r.Name()
		tracker.Update(func(st *model.JobState) {
			st.Current++
			st.CurrentEmail = addr
		})

		status, errMsg := model.DeliveryStatusSent, ""
		msg, err := s.composer.Compose(ctx, r, s.cfg.Purpose)
		if err == nil {
			err = transport.Send(addr, msg.Subject, msg.Body, name)
		}
		if err != nil {
			status, errMsg = model.DeliveryStatusFailed, err.Error()
		}

		if err := s.record(ctx, tracker, addr, name, status, errMsg); err != nil {
			return err
		}
		lg.Delivery(addr, string(status), err)
	}
	return nil
}

// failBatch records every recipient of a batch whose session never opened
func (s *Scheduler) failBatch(ctx context.Context, tracker *Tracker, lg *logger.Logger, batch []model.Recipient, cause error) error {
	lg.Warn().Err(cause).Int("recipients", len(batch)).Msg("SMTP connection failed")
	if s.observer != nil {
		s.observer.BatchConnectFailed()
	}
	tracker.Update(func(st *model.JobState) {
		st.StatusMessage = "SMTP Error: " + truncate(cause.Error(), 50)
	})

	reason := "SMTP connection failed: " + cause.Error()
	for _, r := range batch {
		addr := r.Email()
		tracker.Update(func(st *model.JobState) {
			st.Current++
			st.CurrentEmail = addr
		})
		if err := s.record(ctx, tracker, addr, r.Name(), model.DeliveryStatusFailed, reason); err != nil {
			return err
		}
	}
	return nil
}

// record appends to the delivery log, then bumps the counters so that they
// never run ahead of what is durable.
func (s *Scheduler) record(ctx context.Context, tracker *Tracker, addr, name string, status model.DeliveryStatus, errMsg string) error {
	if err := s.log.Record(context.WithoutCancel(ctx), addr, name, status, errMsg); err != nil {
		return fmt.Errorf("delivery log write failed: %w", err)
	}
	tracker.Update(func(st *model.JobState) {
		if status == model.DeliveryStatusSent {
			st.Sent++
		} else {
			st.Failed++
		}
	})
	if s.observer != nil {
		s.observer.DeliveryRecorded(status)
	}
	return nil
}

// pause waits out the inter-batch delay, checking for a stop every poll
// interval.
func (s *Scheduler) pause(ctx context.Context, tracker *Tracker) {
	deadline := s.now().Add(s.cfg.Delay)
	for !s.stopped(ctx, tracker) {
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return
		}
		if err := s.sleep(ctx, min(s.cfg.PollInterval, remaining)); err != nil {
			return
		}
	}
}

func (s *Scheduler) stopped(ctx context.Context, tracker *Tracker) bool {
	return tracker.StopRequested() || ctx.Err() != nil
}

func errorStatus(msg string) string {
	return "Error: " + truncate(msg, 50)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
