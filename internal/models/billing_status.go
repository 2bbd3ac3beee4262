package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceType classifies what an invoice bills for.
type InvoiceType string

const (
	InvoiceTypeReservation InvoiceType = "reservation"
	InvoiceTypeCourse      InvoiceType = "course"
	InvoiceTypeInstallment InvoiceType = "installment"
	InvoiceTypePenalty     InvoiceType = "penalty"
)

// Valid reports whether the type is one of the known variants.
func (t InvoiceType) Valid() bool {
	switch t {
	case InvoiceTypeReservation, InvoiceTypeCourse, InvoiceTypeInstallment, InvoiceTypePenalty:
		return true
	}
	return false
}

// InvoiceStatus is derived from amounts and dates; see DeriveInvoiceStatus.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Valid reports whether the status is one of the known variants.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// Immutable reports whether amounts and dates are frozen.
func (s InvoiceStatus) Immutable() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// InstallmentStatus mirrors InvoiceStatus without cancellation.
type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPartial InstallmentStatus = "partial"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusOverdue InstallmentStatus = "overdue"
)

// InvoiceBalance is the set of inputs invoice status is computed from.
type InvoiceBalance struct {
	AmountDue     decimal.Decimal
	DiscountTotal decimal.Decimal
	AmountPaid    decimal.Decimal
	DueDate       time.Time
	Cancelled     bool
}

// Remaining returns max(0, due - discount - paid).
func (b InvoiceBalance) Remaining() decimal.Decimal {
	return RemainingAmount(b.AmountDue, b.DiscountTotal, b.AmountPaid)
}

// Consistent reports whether paid + discount <= due with no negative component.
func (b InvoiceBalance) Consistent() bool {
	if b.AmountDue.IsNegative() || b.DiscountTotal.IsNegative() || b.AmountPaid.IsNegative() {
		return false
	}
	return b.AmountPaid.Add(b.DiscountTotal).LessThanOrEqual(b.AmountDue)
}

// RemainingAmount computes the outstanding balance floored at zero.
func RemainingAmount(due, discount, paid decimal.Decimal) decimal.Decimal {
	remaining := due.Sub(discount).Sub(paid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// DeriveInvoiceStatus is the single source of truth for invoice status.
// Order matters: cancelled, paid, overdue, partial, pending.
func DeriveInvoiceStatus(b InvoiceBalance, now time.Time) InvoiceStatus {
	if b.Cancelled {
		return InvoiceStatusCancelled
	}
	remaining := b.Remaining()
	if !remaining.IsPositive() {
		return InvoiceStatusPaid
	}
	if PastDue(b.DueDate, now) {
		return InvoiceStatusOverdue
	}
	if b.AmountPaid.IsPositive() || b.DiscountTotal.IsPositive() {
		return InvoiceStatusPartial
	}
	return InvoiceStatusPending
}

// DeriveInstallmentStatus applies the invoice rules to a single installment (no discounts).
func DeriveInstallmentStatus(amount, paid decimal.Decimal, dueDate, now time.Time) InstallmentStatus {
	remaining := amount.Sub(paid)
	if !remaining.IsPositive() {
		return InstallmentStatusPaid
	}
	if PastDue(dueDate, now) {
		return InstallmentStatusOverdue
	}
	if paid.IsPositive() {
		return InstallmentStatusPartial
	}
	return InstallmentStatusPending
}

// PastDue reports whether a calendar due date lies strictly before today's date.
func PastDue(dueDate, now time.Time) bool {
	if dueDate.IsZero() {
		return false
	}
	return DateOnly(dueDate).Before(DateOnly(now))
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
