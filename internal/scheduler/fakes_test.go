package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mailpilot/mailpilot/internal/email"
	"github.com/mailpilot/mailpilot/internal/model"
)

// memoryLog is an in-memory delivery log that can be told to fail
type memoryLog struct {
	mu      sync.Mutex
	entries []model.DeliveryRecord
	failOn  int // 1-based Record call that fails, 0 for never
	calls   int
}

func (l *memoryLog) Record(ctx context.Context, addr, name string, status model.DeliveryStatus, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failOn > 0 && l.calls >= l.failOn {
		return errors.New("disk full: no space left on device while appending")
	}
	l.entries = append(l.entries, model.DeliveryRecord{
		Email: addr, Name: name, Status: status, Timestamp: time.Now(), Error: errMsg,
	})
	return nil
}

func (l *memoryLog) SentEmails(ctx context.Context) (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]struct{}{}
	for _, e := range l.entries {
		if e.Status == model.DeliveryStatusSent {
			out[model.NormalizeEmail(e.Email)] = struct{}{}
		}
	}
	return out, nil
}

func (l *memoryLog) AllEntries(ctx context.Context) ([]model.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.DeliveryRecord(nil), l.entries...), nil
}

func (l *memoryLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	return nil
}

func (l *memoryLog) count(status model.DeliveryStatus) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// fakeMailer hands out transports and remembers what each one did
type fakeMailer struct {
	mu       sync.Mutex
	failOpen map[int]bool // 1-based Open call
	opens    int
	closes   int
	sessions [][]string
	sendErr  map[string]error
}

func (m *fakeMailer) factory(creds model.Credentials) email.Transport {
	return &fakeTransport{mailer: m, creds: creds}
}

func (m *fakeMailer) stats() (opens, closes int, sessions [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes, append([][]string(nil), m.sessions...)
}

type fakeTransport struct {
	mailer *fakeMailer
	creds  model.Credentials
	idx    int
	open   bool
}

func (t *fakeTransport) Open() error {
	m := t.mailer
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.failOpen[m.opens] {
		return &email.ConnectionError{Host: t.creds.Host, Port: t.creds.Port, Err: errors.New("dial tcp: connection refused")}
	}
	m.sessions = append(m.sessions, nil)
	t.idx = len(m.sessions) - 1
	t.open = true
	return nil
}

func (t *fakeTransport) Send(toEmail, subject, body, toName string) error {
	if !t.open {
		return errors.New("send on closed session")
	}
	m := t.mailer
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendErr[toEmail]; err != nil {
		return err
	}
	m.sessions[t.idx] = append(m.sessions[t.idx], toEmail)
	return nil
}

func (t *fakeTransport) Close() {
	m := t.mailer
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	t.open = false
}

// fakeComposer fails a recipient a fixed number of times before succeeding
type fakeComposer struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	hook     func(addr string)
}

func (c *fakeComposer) Compose(ctx context.Context, r model.Recipient, purpose string) (model.Message, error) {
	addr := r.Email()
	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[addr]++
	call := c.calls[addr]
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook(addr)
	}
	if call <= c.failures[addr] {
		return model.Message{}, fmt.Errorf("generation failed for %s", addr)
	}
	return model.Message{Subject: "Hi " + r.Name(), Body: "Hello."}, nil
}

func (c *fakeComposer) callCount(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[addr]
}

func recipients(n int) []model.Recipient {
	out := make([]model.Recipient, n)
	for i := range out {
		out[i] = model.Recipient{
			"email": fmt.Sprintf("r%d@example.com", i+1),
			"name":  fmt.Sprintf("R%d", i+1),
		}
	}
	return out
}

var testCreds = model.Credentials{Host: "smtp.test", Port: 465, Address: "sam@acme.example", DisplayName: "Sam"}
