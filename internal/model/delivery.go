package model

import "time"

// DeliveryStatus is the outcome of one send attempt
type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Valid reports whether s is a known status
func (s DeliveryStatus) Valid() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusFailed
}

// DeliveryRecord is one row of the delivery log
type DeliveryRecord struct {
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Status    DeliveryStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error"`
}
