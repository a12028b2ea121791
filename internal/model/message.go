package model

// Message is the generated content for one recipient
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// WithSignOff appends the closing block naming the sender
func WithSignOff(body, senderName string) string {
	return body + "\n\nBest regards,\n" + senderName
}
