package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-billing-api/internal/models"
)

// PaymentRepository appends and reads invoice ledger entries.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create appends a ledger entry on the caller's transaction.
func (r *PaymentRepository) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.PaymentEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var target sqlx.ExtContext = r.db
	if exec != nil {
		target = exec
	}
	const query = `INSERT INTO invoice_payments (id, invoice_id, installment_id, kind, amount, method, notes, recorded_by, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := target.ExecContext(ctx, query,
		entry.ID, entry.InvoiceID, entry.InstallmentID, entry.Kind, entry.Amount, entry.Method, entry.Notes,
		entry.RecordedBy, entry.RecordedAt,
	); err != nil {
		return fmt.Errorf("record %s: %w", entry.Kind, err)
	}
	return nil
}

// ListByInvoice returns the ledger of an invoice in recording order.
func (r *PaymentRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]models.PaymentEntry, error) {
	const query = `SELECT id, invoice_id, installment_id, kind, amount, method, notes, recorded_by, recorded_at
FROM invoice_payments WHERE invoice_id = $1 ORDER BY recorded_at ASC, id ASC`
	var entries []models.PaymentEntry
	if err := r.db.SelectContext(ctx, &entries, query, invoiceID); err != nil {
		return nil, fmt.Errorf("list invoice payments: %w", err)
	}
	return entries, nil
}
