package email

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/mailpilot/mailpilot/internal/model"
)

// ConnectionError reports that a session could not be established
type ConnectionError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ImplicitTLSPort is the submission port that speaks TLS from the first byte
const ImplicitTLSPort = 465

const tlsCheckTimeout = 10 * time.Second

// ErrStartTLSUnavailable is returned when a server on a plaintext port does
// not offer STARTTLS
var ErrStartTLSUnavailable = errors.New("server does not offer STARTTLS")

// Options tunes how sessions connect
type Options struct {
	InsecureSkipVerify bool
	// AllowPlaintext lets sessions on ports other than 465 continue without
	// STARTTLS. Only meant for local relays.
	AllowPlaintext bool
}

type dialer interface {
	Dial() (gomail.SendCloser, error)
}

// Session is a single authenticated SMTP connection reused for a batch.
// Port 465 uses implicit TLS. Other ports must upgrade with STARTTLS unless
// plaintext is allowed.
type Session struct {
	creds  model.Credentials
	opts   Options
	dialer dialer
	conn   gomail.SendCloser

	checkTLS func(host string, port int) error
	newID    func() string
	now      func() time.Time
}

// NewSession creates an unopened session for creds
func NewSession(creds model.Credentials, opts Options) *Session {
	d := gomail.NewDialer(creds.Host, creds.Port, creds.Address, creds.Password)
	if opts.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Session{
		creds:    creds,
		opts:     opts,
		dialer:   d,
		checkTLS: checkStartTLS,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Open connects and authenticates. On failure the session stays closed.
func (s *Session) Open() error {
	if s.conn != nil {
		return nil
	}
	if s.creds.Port != ImplicitTLSPort && !s.opts.AllowPlaintext {
		// gomail upgrades only when STARTTLS is advertised, so refuse
		// servers that would leave the credentials in the clear.
		if err := s.checkTLS(s.creds.Host, s.creds.Port); err != nil {
			return &ConnectionError{Host: s.creds.Host, Port: s.creds.Port, Err: err}
		}
	}
	conn, err := s.dialer.Dial()
	if err != nil {
		return &ConnectionError{Host: s.creds.Host, Port: s.creds.Port, Err: err}
	}
	s.conn = conn
	return nil
}

// IsOpen reports whether a connection is held
func (s *Session) IsOpen() bool {
	return s.conn != nil
}

// Send delivers one message. A failed send tears the connection down so the
// next call reconnects instead of reusing a broken session.
func (s *Session) Send(toEmail, subject, body, toName string) error {
	if err := s.Open(); err != nil {
		return err
	}

	msg := s.buildMessage(toEmail, subject, body, toName)
	if err := s.conn.Send(s.creds.Address, []string{toEmail}, msg); err != nil {
		s.Close()
		return fmt.Errorf("send to %s: %w", toEmail, err)
	}
	return nil
}

// Close sends QUIT and drops the connection, ignoring errors
func (s *Session) Close() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
	s.conn = nil
}

func (s *Session) buildMessage(toEmail, subject, body, toName string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.creds.Address, s.creds.DisplayName)
	m.SetAddressHeader("To", toEmail, toName)
	m.SetHeader("Subject", subject)
	m.SetHeader("Reply-To", s.creds.Address)
	m.SetHeader("Message-ID", s.messageID())
	m.SetDateHeader("Date", s.now())
	m.SetBody("text/plain", model.WithSignOff(body, s.creds.DisplayName))
	return m
}

func (s *Session) messageID() string {
	return fmt.Sprintf("<%s@%s>", s.newID(), senderDomain(s.creds.Address))
}

func senderDomain(address string) string {
	if i := strings.LastIndexByte(address, '@'); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}

// checkStartTLS greets the server and checks that it advertises STARTTLS
func checkStartTLS(host string, port int) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), tlsCheckTimeout)
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Now().Add(tlsCheckTimeout))

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	ok, _ := c.Extension("STARTTLS")
	_ = c.Quit()
	if !ok {
		return ErrStartTLSUnavailable
	}
	return nil
}
