package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Model is a text generation backend
type Model interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ErrMalformedResponse is returned when the model output is not the expected
// JSON object.
var ErrMalformedResponse = errors.New("malformed model response")

// CompositionError reports that every generation attempt failed
type CompositionError struct {
	Attempts int
	Err      error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("failed to generate email after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

// Options tunes the retry loop
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// CallTimeout bounds a single model call. Zero means no limit.
	CallTimeout time.Duration
}

// Composer turns a recipient into a subject and body
type Composer struct {
	model    Model
	identity Identity
	opts     Options
	logger   *logger.Logger

	// wait blocks for d or until ctx is done
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a Composer. Zero option fields take their defaults.
func New(m Model, id Identity, opts Options, log *logger.Logger) *Composer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Composer{
		model:    m,
		identity: id,
		opts:     opts,
		logger:   log.WithComponent("composer"),
		wait:     sleepContext,
	}
}

// Identity returns the sender identity used in prompts
func (c *Composer) Identity() Identity {
	return c.identity
}

// WithIdentity returns a copy of c that writes on behalf of id
func (c *Composer) WithIdentity(id Identity) *Composer {
	cp := *c
	cp.identity = id
	return &cp
}

// Backoff returns the wait before the given attempt (1-based)
func (c *Composer) Backoff(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	return c.opts.BaseDelay << (attempt - 2)
}

// Compose generates content for r. Cancelling ctx interrupts the backoff
// between attempts but never an in-flight model call.
func (c *Composer) Compose(ctx context.Context, r model.Recipient, purpose string) (model.Message, error) {
	user := userPrompt(r, purpose, c.identity)

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.wait(ctx, c.Backoff(attempt)); err != nil {
				return model.Message{}, &CompositionError{
					Attempts: attempt - 1,
					Err:      fmt.Errorf("%w (retry interrupted: %v)", lastErr, err),
				}
			}
		}

		msg, err := c.attempt(ctx, user)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("email", r.Email()).
			Msg("generation attempt failed")
	}

	return model.Message{}, &CompositionError{Attempts: c.opts.MaxAttempts, Err: lastErr}
}

// Preview composes content and appends the sign-off, as the recipient would
// see it.
func (c *Composer) Preview(ctx context.Context, r model.Recipient, purpose string) (model.Message, error) {
	msg, err := c.Compose(ctx, r, purpose)
	if err != nil {
		return model.Message{}, err
	}
	msg.Body = model.WithSignOff(msg.Body, c.identity.SenderName)
	return msg, nil
}

func (c *Composer) attempt(ctx context.Context, user string) (model.Message, error) {
	callCtx := context.WithoutCancel(ctx)
	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, c.opts.CallTimeout)
		defer cancel()
	}

	text, err := c.model.Complete(callCtx, systemPrompt, user)
	if err != nil {
		return model.Message{}, err
	}
	return parseMessage(text)
}

// parseMessage decodes the model output, tolerating a surrounding markdown
// code fence.
func parseMessage(text string) (model.Message, error) {
	text = stripFence(strings.TrimSpace(text))

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	subject, ok := raw["subject"].(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return model.Message{}, fmt.Errorf("%w: missing subject", ErrMalformedResponse)
	}
	body, ok := raw["body"].(string)
	if !ok || strings.TrimSpace(body) == "" {
		return model.Message{}, fmt.Errorf("%w: missing body", ErrMalformedResponse)
	}

	return model.Message{Subject: subject, Body: body}, nil
}

// stripFence drops an opening ``` line and everything from the last ```
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return strings.Trim(text, "`")
	}
	text = text[nl+1:]
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
