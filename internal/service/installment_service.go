package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/internal/repository"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

type installmentStore interface {
	ListByInvoice(ctx context.Context, exec sqlx.ExtContext, invoiceID string) ([]models.Installment, error)
	CreateBatch(ctx context.Context, exec sqlx.ExtContext, installments []models.Installment) error
	FindByID(ctx context.Context, id string) (*models.Installment, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Installment, error)
	Update(ctx context.Context, exec sqlx.ExtContext, installment *models.Installment) error
}

type invoiceLocker interface {
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Invoice, error)
}

// InstallmentService splits invoices into dated installments.
type InstallmentService struct {
	installments installmentStore
	invoices     invoiceLocker
	tx           transactor
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewInstallmentService constructs InstallmentService.
func NewInstallmentService(installments installmentStore, invoices invoiceLocker, tx transactor, validate *validator.Validate, logger *zap.Logger) *InstallmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstallmentService{
		installments: installments,
		invoices:     invoices,
		tx:           tx,
		validator:    validate,
		logger:       logger,
		now:          systemClock,
	}
}

func lockInvoice(ctx context.Context, invoices invoiceLocker, exec sqlx.ExtContext, id string, actor *models.JWTClaims) (*models.Invoice, error) {
	invoice, err := invoices.FindByIDForUpdate(ctx, exec, id)
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

func sumInstallments(items []models.Installment) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.InstallmentAmount)
	}
	return total
}

// CreateMany schedules installments for an invoice. The amounts of all installments
// of an invoice never exceed its amountDue.
func (s *InstallmentService) CreateMany(ctx context.Context, invoiceID string, req dto.CreateInstallmentsRequest, actor *models.JWTClaims) ([]models.Installment, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid installment payload")
	}

	now := s.now()
	items := make([]models.Installment, 0, len(req.Items))
	numbers := make(map[int]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, dup := numbers[item.InstallmentNumber]; dup {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("installment number %d is repeated", item.InstallmentNumber))
		}
		numbers[item.InstallmentNumber] = struct{}{}
		if err := requirePositive(item.InstallmentAmount, "installmentAmount"); err != nil {
			return nil, err
		}
		due, err := dto.ParseDate(item.DueDate)
		if err != nil {
			return nil, validationError(err, err.Error())
		}
		installment := models.Installment{
			InvoiceID:         invoiceID,
			InstallmentNumber: item.InstallmentNumber,
			InstallmentAmount: item.InstallmentAmount,
			AmountPaid:        decimal.Zero,
			DueDate:           due,
			Notes:             item.Notes,
		}
		installment.Recompute(now)
		items = append(items, installment)
	}

	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		invoice, err := lockInvoice(ctx, s.invoices, exec, invoiceID, actor)
		if err != nil {
			return err
		}
		if invoice.Status.Immutable() {
			return appErrors.Clone(appErrors.ErrImmutableState, fmt.Sprintf("cannot schedule installments on %s invoice", invoice.Status))
		}
		existing, err := s.installments.ListByInvoice(ctx, exec, invoiceID)
		if err != nil {
			return err
		}
		for _, current := range existing {
			if _, dup := numbers[current.InstallmentNumber]; dup {
				return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("installment number %d already exists", current.InstallmentNumber))
			}
		}
		total := sumInstallments(existing).Add(sumInstallments(items))
		if total.GreaterThan(invoice.AmountDue) {
			return appErrors.Clone(appErrors.ErrAmount, fmt.Sprintf("installments total %s exceeds invoice amount %s", total.StringFixed(2), invoice.AmountDue.StringFixed(2)))
		}
		if err := s.installments.CreateBatch(ctx, exec, items); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.Clone(appErrors.ErrConflict, "installment number already exists")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to create installments")
	}
	return items, nil
}

// ListByInvoice returns an invoice's installments in number order.
func (s *InstallmentService) ListByInvoice(ctx context.Context, invoiceID string, actor *models.JWTClaims) ([]models.Installment, error) {
	invoice, err := s.invoices.FindByID(ctx, invoiceID)
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
	items, err := s.installments.ListByInvoice(ctx, nil, invoiceID)
	if err != nil {
		return nil, internalError(s.logger, err, "failed to list installments")
	}
	return items, nil
}

// Update edits an unpaid installment. The amount is editable only while nothing has been paid.
func (s *InstallmentService) Update(ctx context.Context, id string, req dto.UpdateInstallmentRequest, actor *models.JWTClaims) (*models.Installment, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid installment payload")
	}
	if req.InstallmentAmount != nil {
		if err := requirePositive(*req.InstallmentAmount, "installmentAmount"); err != nil {
			return nil, err
		}
	}
	var dueDate *time.Time
	if req.DueDate != nil {
		parsed, err := dto.ParseDate(*req.DueDate)
		if err != nil {
			return nil, validationError(err, err.Error())
		}
		dueDate = &parsed
	}

	// The parent invoice is locked before the installment, matching the payment path.
	current, err := s.installments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "installment not found")
		}
		return nil, internalError(s.logger, err, "failed to load installment")
	}

	var installment *models.Installment
	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		invoice, err := lockInvoice(ctx, s.invoices, exec, current.InvoiceID, actor)
		if err != nil {
			return err
		}
		if invoice.Status.Immutable() {
			return appErrors.Clone(appErrors.ErrImmutableState, fmt.Sprintf("cannot modify installments of %s invoice", invoice.Status))
		}
		installment, err = s.installments.FindByIDForUpdate(ctx, exec, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "installment not found")
			}
			return err
		}
		if installment.Status == models.InstallmentStatusPaid {
			return appErrors.Clone(appErrors.ErrImmutableState, "cannot modify paid installment")
		}
		if req.InstallmentAmount != nil {
			amount := *req.InstallmentAmount
			if installment.AmountPaid.IsPositive() {
				return appErrors.Clone(appErrors.ErrImmutableState, "cannot change amount of a partially paid installment")
			}
			siblings, err := s.installments.ListByInvoice(ctx, exec, invoice.ID)
			if err != nil {
				return err
			}
			total := sumInstallments(siblings).Sub(installment.InstallmentAmount).Add(amount)
			if total.GreaterThan(invoice.AmountDue) {
				return appErrors.Clone(appErrors.ErrAmount, "installments total would exceed invoice amount")
			}
			installment.InstallmentAmount = amount
		}
		if dueDate != nil {
			installment.DueDate = *dueDate
		}
		if req.PaymentMethod != nil {
			installment.PaymentMethod = req.PaymentMethod
		}
		if req.Notes != nil {
			installment.Notes = req.Notes
		}
		installment.Recompute(s.now())
		return s.installments.Update(ctx, exec, installment)
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to update installment")
	}
	return installment, nil
}
