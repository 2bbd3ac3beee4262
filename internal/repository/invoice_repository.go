package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-billing-api/internal/models"
)

const invoiceColumns = `id, enrollment_id, student_id, teacher_id, course_id, invoice_number, invoice_type,
amount_due, discount_total, amount_paid, status, due_date, paid_date, notes, created_at, updated_at, deleted_at`

// exportRowLimit caps statement exports.
const exportRowLimit = 5000

// InvoiceRepository persists invoices and their monthly number sequence.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs the repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// NextNumber allocates the next invoice number for the calendar month of at.
// The upsert holds a row lock on the month until the surrounding transaction ends,
// so concurrent creators in the same month never receive the same sequence.
func (r *InvoiceRepository) NextNumber(ctx context.Context, exec sqlx.ExtContext, at time.Time) (string, error) {
	at = at.UTC()
	key := at.Format("2006-01")
	const query = `INSERT INTO invoice_sequences (year_month, last_value, updated_at) VALUES ($1, 1, $2)
ON CONFLICT (year_month) DO UPDATE SET last_value = invoice_sequences.last_value + 1, updated_at = EXCLUDED.updated_at
RETURNING last_value`
	var seq int64
	if err := sqlx.GetContext(ctx, r.exec(exec), &seq, query, key, at); err != nil {
		return "", fmt.Errorf("allocate invoice number: %w", err)
	}
	return FormatInvoiceNumber(at, seq), nil
}

// FormatInvoiceNumber renders INV-{year}-{month}-{sequence}.
func FormatInvoiceNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("INV-%04d-%02d-%04d", at.Year(), int(at.Month()), seq)
}

// Create inserts an invoice.
func (r *InvoiceRepository) Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = invoice.CreatedAt
	const query = `INSERT INTO invoices (id, enrollment_id, student_id, teacher_id, course_id, invoice_number, invoice_type,
amount_due, discount_total, amount_paid, status, due_date, paid_date, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.exec(exec).ExecContext(ctx, query,
		invoice.ID, invoice.EnrollmentID, invoice.StudentID, invoice.TeacherID, invoice.CourseID,
		invoice.InvoiceNumber, invoice.InvoiceType, invoice.AmountDue, invoice.DiscountTotal, invoice.AmountPaid,
		invoice.Status, invoice.DueDate, invoice.PaidDate, invoice.Notes, invoice.CreatedAt, invoice.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "create invoice")
	}
	return nil
}

// FindByID returns an invoice including soft-deleted ones.
func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	const query = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, id); err != nil {
		return nil, err
	}
	invoice.Hydrate()
	return &invoice, nil
}

// FindByIDForUpdate loads and locks an invoice inside a transaction.
func (r *InvoiceRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Invoice, error) {
	const query = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	var invoice models.Invoice
	if err := sqlx.GetContext(ctx, r.exec(exec), &invoice, query, id); err != nil {
		return nil, err
	}
	invoice.Hydrate()
	return &invoice, nil
}

// Update writes balances, status and editable fields.
func (r *InvoiceRepository) Update(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	invoice.UpdatedAt = time.Now().UTC()
	const query = `UPDATE invoices SET discount_total = $2, amount_paid = $3, status = $4, due_date = $5,
paid_date = $6, notes = $7, updated_at = $8 WHERE id = $1`
	_, err := r.exec(exec).ExecContext(ctx, query,
		invoice.ID, invoice.DiscountTotal, invoice.AmountPaid, invoice.Status, invoice.DueDate,
		invoice.PaidDate, invoice.Notes, invoice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return nil
}

// SoftDelete stamps deleted_at; it reports false when the invoice was already deleted.
func (r *InvoiceRepository) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE invoices SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	return r.affectOne(ctx, "soft delete invoice", query, id, at)
}

// Restore clears deleted_at; it reports false when the invoice was not deleted.
func (r *InvoiceRepository) Restore(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE invoices SET deleted_at = NULL, updated_at = $2 WHERE id = $1 AND deleted_at IS NOT NULL`
	return r.affectOne(ctx, "restore invoice", query, id, at)
}

func (r *InvoiceRepository) affectOne(ctx context.Context, action, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", action, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", action, err)
	}
	return affected == 1, nil
}

// MarkOverdue flips pending invoices whose due date is before the date of now.
// Partially settled invoices are left untouched.
func (r *InvoiceRepository) MarkOverdue(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error) {
	const query = `UPDATE invoices SET status = $1, updated_at = $4
WHERE status = $2 AND deleted_at IS NULL AND due_date < $3`
	res, err := r.exec(exec).ExecContext(ctx, query, models.InvoiceStatusOverdue, models.InvoiceStatusPending, models.DateOnly(now), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark invoices overdue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark invoices overdue rows: %w", err)
	}
	return affected, nil
}

// List returns invoices matching the filter, most recent due date first.
func (r *InvoiceRepository) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	clause, args := invoiceWhere(filter)
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY due_date DESC, invoice_number DESC LIMIT %d OFFSET %d`, invoiceColumns, clause, limit, offset)
	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM invoices"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	for i := range invoices {
		invoices[i].Hydrate()
	}
	return invoices, total, nil
}

// Summarize aggregates amounts over every invoice matching the filter.
func (r *InvoiceRepository) Summarize(ctx context.Context, filter models.InvoiceFilter) (*models.InvoiceSummary, error) {
	clause, args := invoiceWhere(filter)
	query := `SELECT COALESCE(SUM(amount_due), 0) AS total_due, COALESCE(SUM(discount_total), 0) AS total_discount,
COALESCE(SUM(amount_paid), 0) AS total_paid FROM invoices` + clause
	var summary models.InvoiceSummary
	if err := r.db.GetContext(ctx, &summary, query, args...); err != nil {
		return nil, fmt.Errorf("summarize invoices: %w", err)
	}
	summary.TotalRemaining = models.RemainingAmount(summary.TotalDue, summary.TotalDiscount, summary.TotalPaid)
	return &summary, nil
}

// ListForExport returns up to exportRowLimit invoices ordered by number.
func (r *InvoiceRepository) ListForExport(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, error) {
	clause, args := invoiceWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY invoice_number ASC LIMIT %d`, invoiceColumns, clause, exportRowLimit)
	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, fmt.Errorf("export invoices: %w", err)
	}
	for i := range invoices {
		invoices[i].Hydrate()
	}
	return invoices, nil
}

func invoiceWhere(filter models.InvoiceFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if filter.TeacherID != "" {
		add("teacher_id = $%d", filter.TeacherID)
	}
	if filter.StudentID != "" {
		add("student_id = $%d", filter.StudentID)
	}
	if filter.EnrollmentID != "" {
		add("enrollment_id = $%d", filter.EnrollmentID)
	}
	if filter.CourseID != "" {
		add("course_id = $%d", filter.CourseID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("invoice_type = $%d", filter.Type)
	}
	if filter.DueFrom != nil {
		add("due_date >= $%d", models.DateOnly(*filter.DueFrom))
	}
	if filter.DueTo != nil {
		add("due_date <= $%d", models.DateOnly(*filter.DueTo))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
