package models

import (
	"encoding/json"
	"time"
)

// NotificationEvent names a billing event surfaced to users.
type NotificationEvent string

const (
	EventRequestCreated  NotificationEvent = "enrollment_request.created"
	EventRequestApproved NotificationEvent = "enrollment_request.approved"
	EventRequestRejected NotificationEvent = "enrollment_request.rejected"
	EventInvoiceCreated  NotificationEvent = "invoice.created"
	EventPaymentApplied  NotificationEvent = "invoice.payment_applied"
	EventDiscountApplied NotificationEvent = "invoice.discount_applied"
)

// Notification is an in-app message persisted for a recipient.
type Notification struct {
	ID          string            `db:"id" json:"id"`
	RecipientID string            `db:"recipient_id" json:"recipient_id"`
	Event       NotificationEvent `db:"event" json:"event"`
	Payload     json.RawMessage   `db:"payload" json:"payload"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// SweepResult reports how many rows a sweep transitioned.
type SweepResult struct {
	Sweep        string    `json:"sweep"`
	Invoices     int64     `json:"invoices,omitempty"`
	Installments int64     `json:"installments,omitempty"`
	Requests     int64     `json:"requests,omitempty"`
	Enrollments  int64     `json:"enrollments,omitempty"`
	RanAt        time.Time `json:"ran_at"`
}
