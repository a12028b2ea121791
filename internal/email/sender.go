package email

import "github.com/mailpilot/mailpilot/internal/model"

// Transport is one mail connection. Implementations are not safe for
// concurrent use.
type Transport interface {
	// Open establishes an authenticated connection
	Open() error
	// Send delivers one plain-text message, opening the connection if needed
	Send(toEmail, subject, body, toName string) error
	// Close releases the connection; it never fails
	Close()
}

// TransportFactory creates a fresh, unopened transport for credentials
type TransportFactory func(creds model.Credentials) Transport

// NewSessionFactory returns a factory of SMTP sessions
func NewSessionFactory(opts Options) TransportFactory {
	return func(creds model.Credentials) Transport {
		return NewSession(creds, opts)
	}
}
