package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice bills an enrollment. RemainingAmount is computed, never stored.
type Invoice struct {
	ID              string          `db:"id" json:"id"`
	EnrollmentID    string          `db:"enrollment_id" json:"enrollment_id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	TeacherID       string          `db:"teacher_id" json:"teacher_id"`
	CourseID        string          `db:"course_id" json:"course_id"`
	InvoiceNumber   string          `db:"invoice_number" json:"invoice_number"`
	InvoiceType     InvoiceType     `db:"invoice_type" json:"invoice_type"`
	AmountDue       decimal.Decimal `db:"amount_due" json:"amount_due"`
	DiscountTotal   decimal.Decimal `db:"discount_total" json:"discount_total"`
	AmountPaid      decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	RemainingAmount decimal.Decimal `db:"-" json:"remaining_amount"`
	Status          InvoiceStatus   `db:"status" json:"status"`
	DueDate         time.Time       `db:"due_date" json:"due_date"`
	PaidDate        *time.Time      `db:"paid_date" json:"paid_date,omitempty"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Balance extracts the status inputs.
func (i *Invoice) Balance() InvoiceBalance {
	return InvoiceBalance{
		AmountDue:     i.AmountDue,
		DiscountTotal: i.DiscountTotal,
		AmountPaid:    i.AmountPaid,
		DueDate:       i.DueDate,
		Cancelled:     i.Status == InvoiceStatusCancelled,
	}
}

// Hydrate fills computed fields after a read.
func (i *Invoice) Hydrate() {
	i.RemainingAmount = i.Balance().Remaining()
}

// Recompute re-derives status and paid date after a mutation.
func (i *Invoice) Recompute(now time.Time) {
	i.Hydrate()
	i.Status = DeriveInvoiceStatus(i.Balance(), now)
	if i.Status == InvoiceStatusPaid {
		if i.PaidDate == nil {
			paid := now.UTC()
			i.PaidDate = &paid
		}
	} else if i.Status != InvoiceStatusCancelled {
		i.PaidDate = nil
	}
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	TeacherID      string
	StudentID      string
	EnrollmentID   string
	CourseID       string
	Status         InvoiceStatus
	Type           InvoiceType
	DueFrom        *time.Time
	DueTo          *time.Time
	IncludeDeleted bool
	Page           int
	PageSize       int
}

// InvoiceSummary aggregates amounts across a filtered listing.
type InvoiceSummary struct {
	TotalDue       decimal.Decimal `db:"total_due" json:"total_due"`
	TotalDiscount  decimal.Decimal `db:"total_discount" json:"total_discount"`
	TotalPaid      decimal.Decimal `db:"total_paid" json:"total_paid"`
	TotalRemaining decimal.Decimal `db:"-" json:"total_remaining"`
}
