package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentKind distinguishes money received from money forgiven.
// Adjustments carry a signed amount and record manual corrections of amount_paid.
type PaymentKind string

const (
	PaymentKindPayment    PaymentKind = "payment"
	PaymentKindDiscount   PaymentKind = "discount"
	PaymentKindAdjustment PaymentKind = "adjustment"
)

// PaymentEntry is an append-only ledger line recorded with every change to an invoice balance.
type PaymentEntry struct {
	ID            string          `db:"id" json:"id"`
	InvoiceID     string          `db:"invoice_id" json:"invoice_id"`
	InstallmentID *string         `db:"installment_id" json:"installment_id,omitempty"`
	Kind          PaymentKind     `db:"kind" json:"kind"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Method        *string         `db:"method" json:"method,omitempty"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`
	RecordedBy    string          `db:"recorded_by" json:"recorded_by"`
	RecordedAt    time.Time       `db:"recorded_at" json:"recorded_at"`
}

// PaymentResult returns the invoice (and installment) state after a ledger write.
type PaymentResult struct {
	Invoice     *Invoice      `json:"invoice"`
	Installment *Installment  `json:"installment,omitempty"`
	Entry       *PaymentEntry `json:"entry"`
}
