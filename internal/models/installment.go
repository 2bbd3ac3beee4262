package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Installment is one dated slice of an invoice's amount due.
type Installment struct {
	ID                string            `db:"id" json:"id"`
	InvoiceID         string            `db:"invoice_id" json:"invoice_id"`
	InstallmentNumber int               `db:"installment_number" json:"installment_number"`
	InstallmentAmount decimal.Decimal   `db:"installment_amount" json:"installment_amount"`
	AmountPaid        decimal.Decimal   `db:"amount_paid" json:"amount_paid"`
	RemainingAmount   decimal.Decimal   `db:"-" json:"remaining_amount"`
	DueDate           time.Time         `db:"due_date" json:"due_date"`
	Status            InstallmentStatus `db:"status" json:"status"`
	PaymentMethod     *string           `db:"payment_method" json:"payment_method,omitempty"`
	Notes             *string           `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// Hydrate fills computed fields after a read.
func (i *Installment) Hydrate() {
	i.RemainingAmount = RemainingAmount(i.InstallmentAmount, decimal.Zero, i.AmountPaid)
}

// Recompute re-derives status after a mutation.
func (i *Installment) Recompute(now time.Time) {
	i.Hydrate()
	i.Status = DeriveInstallmentStatus(i.InstallmentAmount, i.AmountPaid, i.DueDate, now)
}
