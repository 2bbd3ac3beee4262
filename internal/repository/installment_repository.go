package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-billing-api/internal/models"
)

const installmentColumns = `id, invoice_id, installment_number, installment_amount, amount_paid, due_date, status,
payment_method, notes, created_at, updated_at`

// InstallmentRepository persists invoice installment plans.
type InstallmentRepository struct {
	db *sqlx.DB
}

// NewInstallmentRepository constructs the repository.
func NewInstallmentRepository(db *sqlx.DB) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

func (r *InstallmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByInvoice returns an invoice's installments in schedule order.
func (r *InstallmentRepository) ListByInvoice(ctx context.Context, exec sqlx.ExtContext, invoiceID string) ([]models.Installment, error) {
	const query = `SELECT ` + installmentColumns + ` FROM installments WHERE invoice_id = $1 ORDER BY installment_number ASC`
	var installments []models.Installment
	if err := sqlx.SelectContext(ctx, r.exec(exec), &installments, query, invoiceID); err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	for i := range installments {
		installments[i].Hydrate()
	}
	return installments, nil
}

// CreateBatch inserts installments; a repeated number fails with ErrDuplicate.
func (r *InstallmentRepository) CreateBatch(ctx context.Context, exec sqlx.ExtContext, installments []models.Installment) error {
	const query = `INSERT INTO installments (id, invoice_id, installment_number, installment_amount, amount_paid, due_date, status,
payment_method, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	target := r.exec(exec)
	now := time.Now().UTC()
	for i := range installments {
		item := &installments[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CreatedAt = now
		item.UpdatedAt = now
		if _, err := target.ExecContext(ctx, query,
			item.ID, item.InvoiceID, item.InstallmentNumber, item.InstallmentAmount, item.AmountPaid, item.DueDate,
			item.Status, item.PaymentMethod, item.Notes, item.CreatedAt, item.UpdatedAt,
		); err != nil {
			return wrapWriteError(err, fmt.Sprintf("create installment %d", item.InstallmentNumber))
		}
	}
	return nil
}

// FindByID returns an installment by id.
func (r *InstallmentRepository) FindByID(ctx context.Context, id string) (*models.Installment, error) {
	const query = `SELECT ` + installmentColumns + ` FROM installments WHERE id = $1`
	var installment models.Installment
	if err := r.db.GetContext(ctx, &installment, query, id); err != nil {
		return nil, err
	}
	installment.Hydrate()
	return &installment, nil
}

// FindByIDForUpdate loads and locks an installment inside a transaction.
func (r *InstallmentRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Installment, error) {
	const query = `SELECT ` + installmentColumns + ` FROM installments WHERE id = $1 FOR UPDATE`
	var installment models.Installment
	if err := sqlx.GetContext(ctx, r.exec(exec), &installment, query, id); err != nil {
		return nil, err
	}
	installment.Hydrate()
	return &installment, nil
}

// Update writes amounts, status and editable fields.
func (r *InstallmentRepository) Update(ctx context.Context, exec sqlx.ExtContext, installment *models.Installment) error {
	installment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE installments SET installment_amount = $2, amount_paid = $3, due_date = $4, status = $5,
payment_method = $6, notes = $7, updated_at = $8 WHERE id = $1`
	_, err := r.exec(exec).ExecContext(ctx, query,
		installment.ID, installment.InstallmentAmount, installment.AmountPaid, installment.DueDate, installment.Status,
		installment.PaymentMethod, installment.Notes, installment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update installment: %w", err)
	}
	return nil
}

// MarkOverdue flips pending installments of live, uncancelled invoices whose due date is before the date of now.
func (r *InstallmentRepository) MarkOverdue(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error) {
	const query = `UPDATE installments SET status = $1, updated_at = $4
WHERE status = $2 AND due_date < $3
AND invoice_id IN (SELECT id FROM invoices WHERE deleted_at IS NULL AND status <> $5)`
	res, err := r.exec(exec).ExecContext(ctx, query,
		models.InstallmentStatusOverdue, models.InstallmentStatusPending, models.DateOnly(now), now.UTC(), models.InvoiceStatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("mark installments overdue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark installments overdue rows: %w", err)
	}
	return affected, nil
}
