package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/internal/repository"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
	"github.com/noah-isme/tutor-billing-api/pkg/export"
)

type invoiceStore interface {
	NextNumber(ctx context.Context, exec sqlx.ExtContext, at time.Time) (string, error)
	Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Invoice, error)
	Update(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error
	SoftDelete(ctx context.Context, id string, at time.Time) (bool, error)
	Restore(ctx context.Context, id string, at time.Time) (bool, error)
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
	Summarize(ctx context.Context, filter models.InvoiceFilter) (*models.InvoiceSummary, error)
	ListForExport(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, error)
}

type billableEnrollmentStore interface {
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
}

type paidInstallmentStore interface {
	ListByInvoice(ctx context.Context, exec sqlx.ExtContext, invoiceID string) ([]models.Installment, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// IssueInvoiceParams describes an invoice to raise against an enrollment.
type IssueInvoiceParams struct {
	Type      models.InvoiceType
	AmountDue decimal.Decimal
	DueDate   time.Time
	Notes     *string
}

// ExportFile is a rendered invoice statement.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// InvoiceService creates and mutates invoices. Status is always re-derived from amounts.
type InvoiceService struct {
	invoices     invoiceStore
	enrollments  billableEnrollmentStore
	installments paidInstallmentStore
	ledger       ledgerStore
	tx           transactor
	notifier     notifier
	metrics      *MetricsService
	csv          csvRenderer
	pdf          pdfRenderer
	validator    *validator.Validate
	logger       *zap.Logger
	policy       BillingPolicy
	now          func() time.Time
}

// NewInvoiceService constructs InvoiceService.
func NewInvoiceService(invoices invoiceStore, enrollments billableEnrollmentStore, installments paidInstallmentStore, ledger ledgerStore, tx transactor, notifier notifier, metrics *MetricsService, policy BillingPolicy, validate *validator.Validate, logger *zap.Logger) *InvoiceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{
		invoices:     invoices,
		enrollments:  enrollments,
		installments: installments,
		ledger:       ledger,
		tx:           tx,
		notifier:     notifier,
		metrics:      metrics,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		validator:    validate,
		logger:       logger,
		policy:       policy.withDefaults(),
		now:          systemClock,
	}
}

// IssueTx numbers and inserts an invoice on the caller's transaction.
func (s *InvoiceService) IssueTx(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment, params IssueInvoiceParams) (*models.Invoice, error) {
	now := s.now()
	number, err := s.invoices.NextNumber(ctx, exec, now)
	if err != nil {
		return nil, err
	}
	invoice := &models.Invoice{
		EnrollmentID:  enrollment.ID,
		StudentID:     enrollment.StudentID,
		TeacherID:     enrollment.TeacherID,
		CourseID:      enrollment.CourseID,
		InvoiceNumber: number,
		InvoiceType:   params.Type,
		AmountDue:     params.AmountDue,
		DiscountTotal: decimal.Zero,
		AmountPaid:    decimal.Zero,
		DueDate:       models.DateOnly(params.DueDate),
		Notes:         params.Notes,
		CreatedAt:     now,
	}
	invoice.Recompute(now)
	if err := s.invoices.Create(ctx, exec, invoice); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "invoice number already allocated, retry")
		}
		return nil, err
	}
	return invoice, nil
}

// Announce publishes committed invoices.
func (s *InvoiceService) Announce(ctx context.Context, invoices ...*models.Invoice) {
	for _, invoice := range invoices {
		if invoice == nil {
			continue
		}
		s.metrics.RecordInvoiceCreated(string(invoice.InvoiceType))
		s.notifier.Dispatch(ctx, invoice.StudentID, models.EventInvoiceCreated, map[string]interface{}{
			"invoice_id":     invoice.ID,
			"invoice_number": invoice.InvoiceNumber,
			"invoice_type":   invoice.InvoiceType,
			"amount_due":     invoice.AmountDue,
			"due_date":       invoice.DueDate.Format(dto.DateLayout),
		})
	}
}

func (s *InvoiceService) issueParams(invoiceType models.InvoiceType, amount decimal.Decimal, dueDate string, notes *string) (IssueInvoiceParams, error) {
	if !invoiceType.Valid() {
		return IssueInvoiceParams{}, appErrors.Clone(appErrors.ErrValidation, "unknown invoice type")
	}
	if err := requirePositive(amount, "amountDue"); err != nil {
		return IssueInvoiceParams{}, err
	}
	due, err := dto.ParseDate(dueDate)
	if err != nil {
		return IssueInvoiceParams{}, validationError(err, err.Error())
	}
	return IssueInvoiceParams{Type: invoiceType, AmountDue: amount, DueDate: due, Notes: notes}, nil
}

// issueFor runs one invoice creation in its own transaction.
func (s *InvoiceService) issueFor(ctx context.Context, enrollmentID string, params IssueInvoiceParams, actor *models.JWTClaims) (*models.Invoice, error) {
	var invoice *models.Invoice
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		enrollment, err := s.enrollments.FindByIDForUpdate(ctx, exec, enrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return err
		}
		if err := requireTeacherOwner(actor, enrollment.TeacherID); err != nil {
			return err
		}
		if !enrollment.Billable() {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("enrollment is %s, only active enrollments can be invoiced", enrollment.Status))
		}
		invoice, err = s.IssueTx(ctx, exec, enrollment, params)
		return err
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to create invoice")
	}
	return invoice, nil
}

// Create issues a single invoice.
func (s *InvoiceService) Create(ctx context.Context, req dto.CreateInvoiceRequest, actor *models.JWTClaims) (*models.Invoice, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid invoice payload")
	}
	params, err := s.issueParams(req.InvoiceType, req.AmountDue, req.DueDate, req.Notes)
	if err != nil {
		return nil, err
	}
	invoice, err := s.issueFor(ctx, req.EnrollmentID, params, actor)
	if err != nil {
		return nil, err
	}
	s.Announce(ctx, invoice)
	return invoice, nil
}

// CreateBulk issues the same invoice to many enrollments. Each enrollment commits
// independently; failures are collected and never undo earlier successes.
func (s *InvoiceService) CreateBulk(ctx context.Context, req dto.BulkCreateInvoiceRequest, actor *models.JWTClaims) (*dto.BulkInvoiceResult, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	if len(req.EnrollmentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollmentIds must not be empty")
	}
	if len(req.EnrollmentIDs) > s.policy.BulkInvoiceMaxBatch {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d enrollments per batch", s.policy.BulkInvoiceMaxBatch))
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid bulk invoice payload")
	}
	params, err := s.issueParams(req.InvoiceType, req.AmountDue, req.DueDate, req.Notes)
	if err != nil {
		return nil, err
	}

	result := &dto.BulkInvoiceResult{Invoices: []models.Invoice{}, Errors: []string{}}
	for _, id := range req.EnrollmentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			result.Errors = append(result.Errors, "enrollment <empty>: enrollment id is required")
			continue
		}
		invoice, err := s.issueFor(ctx, id, params, actor)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("enrollment %s: %s", id, appErrors.FromError(err).Message))
			continue
		}
		s.Announce(ctx, invoice)
		result.Invoices = append(result.Invoices, *invoice)
	}
	result.Success = len(result.Errors) == 0
	s.logger.Info("bulk invoices processed",
		zap.Int("requested", len(req.EnrollmentIDs)),
		zap.Int("created", len(result.Invoices)),
		zap.Int("failed", len(result.Errors)))
	return result, nil
}

// lockOwned loads and locks a live invoice the actor may manage.
func (s *InvoiceService) lockOwned(ctx context.Context, exec sqlx.ExtContext, id string, actor *models.JWTClaims) (*models.Invoice, error) {
	invoice, err := s.invoices.FindByIDForUpdate(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, err
	}
	if invoice.DeletedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
	}
	if err := requireTeacherOwner(actor, invoice.TeacherID); err != nil {
		return nil, err
	}
	return invoice, nil
}

// Update edits amountPaid, dueDate or notes of an open invoice. A changed amountPaid is
// recorded as a signed adjustment entry so the ledger keeps summing to the invoice balance.
func (s *InvoiceService) Update(ctx context.Context, id string, req dto.UpdateInvoiceRequest, actor *models.JWTClaims) (*models.Invoice, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid invoice payload")
	}
	var dueDate *time.Time
	if req.DueDate != nil {
		parsed, err := dto.ParseDate(*req.DueDate)
		if err != nil {
			return nil, validationError(err, err.Error())
		}
		dueDate = &parsed
	}
	if req.AmountPaid != nil {
		if err := requireNonNegative(*req.AmountPaid, "amountPaid"); err != nil {
			return nil, err
		}
	}

	var (
		invoice    *models.Invoice
		adjustment *models.PaymentEntry
	)
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		var err error
		invoice, err = s.lockOwned(ctx, exec, id, actor)
		if err != nil {
			return err
		}
		if invoice.Status.Immutable() {
			return appErrors.Clone(appErrors.ErrImmutableState, fmt.Sprintf("cannot modify %s invoice", invoice.Status))
		}
		now := s.now()
		if req.AmountPaid != nil && !req.AmountPaid.Equal(invoice.AmountPaid) {
			paid := *req.AmountPaid
			if paid.GreaterThan(invoice.AmountDue) {
				return appErrors.Clone(appErrors.ErrAmount, "amountPaid cannot exceed amountDue")
			}
			if paid.Add(invoice.DiscountTotal).GreaterThan(invoice.AmountDue) {
				return appErrors.Clone(appErrors.ErrAmount, "amountPaid plus discounts cannot exceed amountDue")
			}
			installments, err := s.installments.ListByInvoice(ctx, exec, invoice.ID)
			if err != nil {
				return err
			}
			paidOnInstallments := decimal.Zero
			for _, item := range installments {
				paidOnInstallments = paidOnInstallments.Add(item.AmountPaid)
			}
			if paid.LessThan(paidOnInstallments) {
				return appErrors.Clone(appErrors.ErrAmount, fmt.Sprintf("amountPaid cannot drop below %s already paid on installments", paidOnInstallments.StringFixed(2)))
			}
			adjustment = &models.PaymentEntry{
				InvoiceID:  invoice.ID,
				Kind:       models.PaymentKindAdjustment,
				Amount:     paid.Sub(invoice.AmountPaid),
				Notes:      req.Notes,
				RecordedBy: actor.UserID,
				RecordedAt: now,
			}
			if err := s.ledger.Create(ctx, exec, adjustment); err != nil {
				return err
			}
			invoice.AmountPaid = paid
		}
		if dueDate != nil {
			invoice.DueDate = *dueDate
		}
		if req.Notes != nil {
			invoice.Notes = req.Notes
		}
		invoice.Recompute(now)
		return s.invoices.Update(ctx, exec, invoice)
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to update invoice")
	}
	if adjustment != nil {
		s.metrics.RecordLedgerEntry(string(models.PaymentKindAdjustment))
	}
	return invoice, nil
}

// Cancel marks an unpaid invoice as cancelled.
func (s *InvoiceService) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.Invoice, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	var invoice *models.Invoice
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		var err error
		invoice, err = s.lockOwned(ctx, exec, id, actor)
		if err != nil {
			return err
		}
		if invoice.Status.Immutable() {
			return appErrors.Clone(appErrors.ErrImmutableState, fmt.Sprintf("cannot cancel %s invoice", invoice.Status))
		}
		invoice.Status = models.InvoiceStatusCancelled
		invoice.Recompute(s.now())
		return s.invoices.Update(ctx, exec, invoice)
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to cancel invoice")
	}
	return invoice, nil
}

// SoftDelete hides an invoice from listings.
func (s *InvoiceService) SoftDelete(ctx context.Context, id string, actor *models.JWTClaims) error {
	invoice, err := s.loadForStaff(ctx, id, actor)
	if err != nil {
		return err
	}
	if invoice.DeletedAt != nil {
		return appErrors.Clone(appErrors.ErrConflict, "invoice is already deleted")
	}
	ok, err := s.invoices.SoftDelete(ctx, id, s.now())
	if err != nil {
		return internalError(s.logger, err, "failed to delete invoice")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrConflict, "invoice is already deleted")
	}
	return nil
}

// Restore brings back a soft-deleted invoice.
func (s *InvoiceService) Restore(ctx context.Context, id string, actor *models.JWTClaims) (*models.Invoice, error) {
	invoice, err := s.loadForStaff(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if invoice.DeletedAt == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "invoice is not deleted")
	}
	ok, err := s.invoices.Restore(ctx, id, s.now())
	if err != nil {
		return nil, internalError(s.logger, err, "failed to restore invoice")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "invoice is not deleted")
	}
	invoice.DeletedAt = nil
	return invoice, nil
}

func (s *InvoiceService) loadForStaff(ctx context.Context, id string, actor *models.JWTClaims) (*models.Invoice, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	invoice, err := s.invoices.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, internalError(s.logger, err, "failed to load invoice")
	}
	if err := requireTeacherOwner(actor, invoice.TeacherID); err != nil {
		return nil, err
	}
	return invoice, nil
}

// Get returns an invoice visible to the actor. Deleted invoices are visible to admins only.
func (s *InvoiceService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Invoice, error) {
	invoice, err := s.invoices.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, internalError(s.logger, err, "failed to load invoice")
	}
	if err := requireParticipant(actor, invoice.TeacherID, invoice.StudentID); err != nil {
		return nil, err
	}
	if invoice.DeletedAt != nil && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
	}
	return invoice, nil
}

// List returns the actor's invoices with totals over the whole filtered set.
func (s *InvoiceService) List(ctx context.Context, filter models.InvoiceFilter, actor *models.JWTClaims) ([]models.Invoice, *models.Pagination, *models.InvoiceSummary, error) {
	if err := s.scopeFilter(&filter, actor); err != nil {
		return nil, nil, nil, err
	}
	invoices, total, err := s.invoices.List(ctx, filter)
	if err != nil {
		return nil, nil, nil, internalError(s.logger, err, "failed to list invoices")
	}
	summary, err := s.invoices.Summarize(ctx, filter)
	if err != nil {
		return nil, nil, nil, internalError(s.logger, err, "failed to summarize invoices")
	}
	return invoices, pagination(filter.Page, filter.PageSize, total), summary, nil
}

func (s *InvoiceService) scopeFilter(filter *models.InvoiceFilter, actor *models.JWTClaims) error {
	if err := scopeToActor(actor, &filter.TeacherID, &filter.StudentID); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		filter.IncludeDeleted = false
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown invoice status")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown invoice type")
	}
	return nil
}

// Export renders the actor's invoices as a CSV or PDF statement.
func (s *InvoiceService) Export(ctx context.Context, filter models.InvoiceFilter, format string, actor *models.JWTClaims) (*ExportFile, error) {
	if err := s.scopeFilter(&filter, actor); err != nil {
		return nil, err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	invoices, err := s.invoices.ListForExport(ctx, filter)
	if err != nil {
		return nil, internalError(s.logger, err, "failed to load invoices for export")
	}
	dataset := invoiceDataset(invoices)
	dataset.Title = "Invoice statement " + s.now().Format(dto.DateLayout)
	stamp := s.now().Format("20060102")
	if format == "pdf" {
		payload, err := s.pdf.Render(dataset)
		if err != nil {
			return nil, internalError(s.logger, err, "failed to render invoice statement")
		}
		return &ExportFile{Filename: "invoices-" + stamp + ".pdf", ContentType: "application/pdf", Payload: payload}, nil
	}
	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, internalError(s.logger, err, "failed to render invoice statement")
	}
	return &ExportFile{Filename: "invoices-" + stamp + ".csv", ContentType: "text/csv", Payload: payload}, nil
}

func invoiceDataset(invoices []models.Invoice) export.Dataset {
	ds := export.Dataset{
		Columns: []export.Column{
			{Name: "Number", Weight: 1.6},
			{Name: "Type"},
			{Name: "Student", Weight: 1.6},
			{Name: "Due date"},
			{Name: "Amount due", Numeric: true},
			{Name: "Discount", Numeric: true},
			{Name: "Paid", Numeric: true},
			{Name: "Remaining", Numeric: true},
			{Name: "Status"},
		},
		Rows: make([][]string, 0, len(invoices)),
	}
	due, discount, paid, remaining := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, inv := range invoices {
		ds.Rows = append(ds.Rows, []string{
			inv.InvoiceNumber,
			string(inv.InvoiceType),
			inv.StudentID,
			inv.DueDate.Format(dto.DateLayout),
			inv.AmountDue.StringFixed(2),
			inv.DiscountTotal.StringFixed(2),
			inv.AmountPaid.StringFixed(2),
			inv.RemainingAmount.StringFixed(2),
			string(inv.Status),
		})
		due = due.Add(inv.AmountDue)
		discount = discount.Add(inv.DiscountTotal)
		paid = paid.Add(inv.AmountPaid)
		remaining = remaining.Add(inv.RemainingAmount)
	}
	ds.Footer = []string{"Total", "", "", "", due.StringFixed(2), discount.StringFixed(2), paid.StringFixed(2), remaining.StringFixed(2), ""}
	return ds
}
