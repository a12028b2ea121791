package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mailpilot/mailpilot/internal/composer"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/email"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/metrics"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/scheduler"
)

// stubModel answers every prompt with the same message. With a gate set,
// each call blocks until the gate is closed.
type stubModel struct {
	gate  chan struct{}
	calls atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func (m *stubModel) Complete(ctx context.Context, system, user string) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, user)
	m.mu.Unlock()
	if m.gate != nil {
		<-m.gate
	}
	return `{"subject":"Quick question","body":"Hi there"}`, nil
}

// outbox collects what the fake transports deliver. Addresses in failOnce
// are rejected the first time they are sent to.
type outbox struct {
	mu       sync.Mutex
	creds    []model.Credentials
	to       []string
	failOnce map[string]bool
}

func (m *stubModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func (o *outbox) factory(c model.Credentials) email.Transport {
	o.mu.Lock()
	o.creds = append(o.creds, c)
	o.mu.Unlock()
	return &stubTransport{box: o}
}

func (o *outbox) sent() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.to...)
}

func (o *outbox) sessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.creds)
}

func (o *outbox) lastCreds() model.Credentials {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.creds[len(o.creds)-1]
}

type stubTransport struct {
	box *outbox
}

func (t *stubTransport) Open() error { return nil }

func (t *stubTransport) Send(toEmail, subject, body, toName string) error {
	t.box.mu.Lock()
	defer t.box.mu.Unlock()
	if t.box.failOnce[toEmail] {
		delete(t.box.failOnce, toEmail)
		return errors.New("451 try again later")
	}
	t.box.to = append(t.box.to, toEmail)
	return nil
}

func (t *stubTransport) Close() {}

// stateLog records every published job state. With a gate set, each
// publish blocks until the gate is closed.
type stateLog struct {
	mu     sync.Mutex
	gate   chan struct{}
	states []model.JobState
}

func (n *stateLog) Publish(ctx context.Context, s model.JobState) error {
	n.mu.Lock()
	gate := n.gate
	n.mu.Unlock()
	if gate != nil {
		<-gate
	}
	n.mu.Lock()
	n.states = append(n.states, s)
	n.mu.Unlock()
	return nil
}

func (n *stateLog) setGate(gate chan struct{}) {
	n.mu.Lock()
	n.gate = gate
	n.mu.Unlock()
}

func (n *stateLog) last() model.JobState {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.states) == 0 {
		return model.JobState{}
	}
	return n.states[len(n.states)-1]
}

func (n *stateLog) phases() []model.JobPhase {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.JobPhase
	for _, s := range n.states {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		SMTP: config.SMTPConfig{
			Host:        "smtp.test",
			Port:        465,
			Email:       "sam@acme.example",
			Password:    "secret",
			SenderName:  "Sam",
			CompanyName: "Acme",
		},
		Senders: []config.SenderAccount{
			{Email: "sam@acme.example", Password: "secret", Name: "Sam"},
			{Email: "kim@acme.example", Password: "other", Name: "Kim"},
			{Email: "noname@acme.example", Password: "third"},
		},
		Campaign: config.CampaignConfig{
			BatchSize:    2,
			PollInterval: time.Millisecond,
			Purpose:      "introduce our product",
		},
	}
}

type jobFixture struct {
	svc      *JobService
	log      *repository.CSVDeliveryLog
	model    *stubModel
	outbox   *outbox
	notifier *stateLog
}

func newJobFixture(t *testing.T, m *stubModel) *jobFixture {
	t.Helper()
	return newJobFixtureWithSource(t, m, config.Static(testConfig()))
}

func newJobFixtureWithSource(t *testing.T, m *stubModel, src *config.Source) *jobFixture {
	t.Helper()
	if m == nil {
		m = &stubModel{}
	}
	log := repository.NewCSVDeliveryLog(filepath.Join(t.TempDir(), "send_log.csv"))
	box := &outbox{}
	notifier := &stateLog{}

	comp := composer.New(m, composer.Identity{}, composer.Options{MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)
	sched := scheduler.New(scheduler.ConfigFromCampaign(src.Current().Campaign), comp, log, box.factory, metrics.Recorder{}, nil)

	svc := NewJobService(src, log, sched, comp, notifier, logger.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return &jobFixture{
		svc:      svc,
		log:      log,
		model:    m,
		outbox:   box,
		notifier: notifier,
	}
}

func waitJob(t *testing.T, svc *JobService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
}

func people(addrs ...string) []model.Recipient {
	out := make([]model.Recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.Recipient{"email": a, "name": "Person"})
	}
	return out
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *database.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, &database.Redis{Client: client}
}
