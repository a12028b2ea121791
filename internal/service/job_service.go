package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailpilot/mailpilot/internal/composer"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/metrics"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/scheduler"
)

const publishTimeout = time.Second

// JobService owns the single send job: it starts the worker, relays stop and
// reset requests and exposes the delivery log. Sender and campaign settings
// are read from the config source on every call, so a reloaded file applies
// to the next job.
type JobService struct {
	config    *config.Source
	log       repository.DeliveryLog
	scheduler *scheduler.Scheduler
	composer  *composer.Composer
	tracker   *scheduler.Tracker
	notifier  Notifier
	recorder  metrics.Recorder
	logger    *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJobService creates a new JobService. notifier may be nil.
func NewJobService(
	cfg *config.Source,
	log repository.DeliveryLog,
	sched *scheduler.Scheduler,
	comp *composer.Composer,
	notifier Notifier,
	lg *logger.Logger,
) *JobService {
	s := &JobService{
		config:    cfg,
		log:       log,
		scheduler: sched,
		composer:  comp,
		notifier:  notifier,
		logger:    lg.WithComponent("job_service"),
	}
	s.tracker = scheduler.NewTracker(s.observe)
	return s
}

// observe runs on the tracker's dispatcher after every JobState change
func (s *JobService) observe(state model.JobState) {
	s.recorder.ObserveState(state)
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.notifier.Publish(ctx, state); err != nil {
		s.logger.Debug().Err(err).Msg("status notification dropped")
	}
}

// Pending drops recipients whose address is in sent, invalid rows and
// duplicates after the first occurrence. The returned recipients are copies.
func Pending(list []model.Recipient, sent map[string]struct{}) []model.Recipient {
	out := make([]model.Recipient, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, r := range list {
		if r.Validate() != nil {
			continue
		}
		key := r.Key()
		if _, ok := sent[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r.Clone())
	}
	return out
}

// ResolveSender maps a sender selection onto credentials. An empty selection
// picks the account from the smtp section.
func (s *JobService) ResolveSender(selection string) (model.Credentials, error) {
	return resolveSender(s.config.Current(), selection)
}

func resolveSender(cfg *config.Config, selection string) (model.Credentials, error) {
	acc := cfg.DefaultSender()
	if selection != "" && !equalFoldTrim(selection, acc.Email) {
		found, ok := cfg.FindSender(selection)
		if !ok {
			return model.Credentials{}, fmt.Errorf("%w: %s", ErrUnknownSender, selection)
		}
		acc = found
	}
	name := acc.Name
	if name == "" {
		name = cfg.SMTP.SenderName
	}
	return model.Credentials{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Address:     acc.Email,
		Password:    acc.Password,
		DisplayName: name,
	}, nil
}

// Start launches a job over recipients and returns the number of pending
// recipients. Zero pending means everything was already sent and no job was
// started.
func (s *JobService) Start(ctx context.Context, list []model.Recipient, senderSelection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracker.Snapshot().Running {
		return 0, ErrJobRunning
	}
	if len(list) == 0 {
		return 0, ErrNoRecipients
	}
	cfg := s.config.Current()
	creds, err := resolveSender(cfg, senderSelection)
	if err != nil {
		return 0, err
	}

	sent, err := s.log.SentEmails(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read delivery log: %w", err)
	}
	pending := Pending(list, sent)
	if len(pending) == 0 {
		s.logger.Info().Int("recipients", len(list)).Msg("all recipients already sent")
		return 0, nil
	}

	jobID := uuid.New().String()
	if !s.tracker.TryStart(jobID, creds.Address, len(pending)) {
		return 0, ErrJobRunning
	}

	comp := s.composer.WithIdentity(composer.Identity{
		SenderName:  creds.DisplayName,
		CompanyName: cfg.SMTP.CompanyName,
	})
	pacing := scheduler.ConfigFromCampaign(cfg.Campaign)
	sched := s.scheduler.WithConfig(pacing).WithComposer(comp)

	jobCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.recorder.JobStarted()
	s.logger.Info().
		Str("job_id", jobID).
		Str("sender", creds.Address).
		Int("recipients", len(list)).
		Int("already_sent", len(list)-len(pending)).
		Int("pending", len(pending)).
		Int("batch_size", sched.Config().BatchSize).
		Msg("send job launched")

	go func() {
		defer close(done)
		defer cancel()
		phase := sched.Run(jobCtx, s.tracker, pending, creds)
		s.recorder.JobFinished(phase)
	}()

	return len(pending), nil
}

// RequestStop asks the running job to stop at its next safe point. It never
// blocks and reports whether a job was running.
func (s *JobService) RequestStop() bool {
	if !s.tracker.RequestStop() {
		return false
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.logger.Info().Msg("stop requested")
	return true
}

// Status returns a copy of the job state
func (s *JobService) Status() model.JobState {
	return s.tracker.Snapshot()
}

// ForceReset marks the job idle whatever the worker is doing. A worker that
// is still executing is not interrupted and keeps recording deliveries.
func (s *JobService) ForceReset() {
	s.tracker.Reset()
	s.logger.Warn().Msg("job state force reset")
}

// Wait blocks until the current worker exits and its final state has been
// published, or ctx is done.
func (s *JobService) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.tracker.Flush(ctx)
}

// Shutdown stops a running job, waits for its worker and stops publishing
// state changes.
func (s *JobService) Shutdown(ctx context.Context) error {
	s.RequestStop()
	if err := s.Wait(ctx); err != nil {
		return err
	}
	s.tracker.Close()
	return nil
}

// Log returns every delivery record
func (s *JobService) Log(ctx context.Context) ([]model.DeliveryRecord, error) {
	return s.log.AllEntries(ctx)
}

// SentEmails returns the identity keys of every address already sent to
func (s *JobService) SentEmails(ctx context.Context) (map[string]struct{}, error) {
	return s.log.SentEmails(ctx)
}

// ClearLog erases the delivery log. It is refused while a job runs.
func (s *JobService) ClearLog(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracker.Snapshot().Running {
		return ErrJobRunning
	}
	if err := s.log.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("delivery log cleared")
	return nil
}

// Senders lists the selectable sender accounts without their secrets. The
// smtp section account comes first.
func (s *JobService) Senders() []model.Sender {
	cfg := s.config.Current()
	def := cfg.DefaultSender()
	out := make([]model.Sender, 0, len(cfg.Senders)+1)
	if def.Email != "" {
		out = append(out, model.Sender{Email: def.Email, Name: def.Name})
	}
	for _, acc := range cfg.Senders {
		if equalFoldTrim(acc.Email, def.Email) {
			continue
		}
		name := acc.Name
		if name == "" {
			name = cfg.SMTP.SenderName
		}
		out = append(out, model.Sender{Email: acc.Email, Name: name})
	}
	return out
}

// Preview composes the message one recipient would receive from the given
// sender.
func (s *JobService) Preview(ctx context.Context, r model.Recipient, senderSelection string) (model.Message, error) {
	if err := r.Validate(); err != nil {
		return model.Message{}, err
	}
	cfg := s.config.Current()
	creds, err := resolveSender(cfg, senderSelection)
	if err != nil {
		return model.Message{}, err
	}
	comp := s.composer.WithIdentity(composer.Identity{
		SenderName:  creds.DisplayName,
		CompanyName: cfg.SMTP.CompanyName,
	})
	return comp.Preview(ctx, r, cfg.Campaign.Purpose)
}
