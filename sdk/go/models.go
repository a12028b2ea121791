package mailpilot

import "time"

// Recipient is one row of a recipient list. The "email" key is required;
// every other key is free-form context for the message generator.
type Recipient map[string]string

// JobState is the progress of the current or last send job.
type JobState struct {
	JobID         string     `json:"jobId,omitempty"`
	Running       bool       `json:"running"`
	StopRequested bool       `json:"stopRequested"`
	Phase         string     `json:"phase"`
	Total         int        `json:"total"`
	Current       int        `json:"current"`
	Sent          int        `json:"sent"`
	Failed        int        `json:"failed"`
	CurrentEmail  string     `json:"currentEmail"`
	StatusMessage string     `json:"statusMessage"`
	Sender        string     `json:"sender,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// DeliveryRecord is one line of the delivery log.
type DeliveryRecord struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

// Sender is a selectable sending account.
type Sender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Token is an operator access token.
type Token struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
}

// SendRequest starts a job. Leave Recipients empty to send to the list
// selected by Source ("auto", "uploaded" or "sheets").
type SendRequest struct {
	Sender     string      `json:"sender,omitempty"`
	Source     string      `json:"source,omitempty"`
	Recipients []Recipient `json:"recipients,omitempty"`
}

// SendResponse reports what a send request started.
type SendResponse struct {
	Started bool   `json:"started"`
	Total   int    `json:"total"`
	Pending int    `json:"pending"`
	Message string `json:"message"`
}

// Preview is the message one recipient would receive.
type Preview struct {
	Recipient Recipient `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
}
