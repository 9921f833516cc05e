package models

import "time"

// Payment statuses as reported by the external processor.
const (
	PaymentStatusNew       = "new"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusCanceled  = "canceled"
)

// Payment is one charge attempt for a user. PaymentID is the external
// processor's id; Status is the single mutable field.
type Payment struct {
	ID           int64
	UserID       int64
	PaymentID    string
	Status       string
	DurationDays int
	Amount       float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChargeJob is a durable one-shot job that triggers the next recurring
// charge. Jobs persist across process restarts.
type ChargeJob struct {
	ID               int64
	RunAt            time.Time
	UserID           int64
	PaymentMethodRef string
	Amount           float64
	DurationDays     int
	Email            string
	CreatedAt        time.Time
}
