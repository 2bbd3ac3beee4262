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
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

type ledgerStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.PaymentEntry) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]models.PaymentEntry, error)
}

type invoiceBalanceStore interface {
	invoiceLocker
	Update(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error
}

type installmentBalanceStore interface {
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Installment, error)
	Update(ctx context.Context, exec sqlx.ExtContext, installment *models.Installment) error
}

// PaymentService applies payments and discounts and appends them to the ledger.
// Invoice, installment and ledger writes share one transaction.
type PaymentService struct {
	invoices     invoiceBalanceStore
	installments installmentBalanceStore
	ledger       ledgerStore
	tx           transactor
	notifier     notifier
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(invoices invoiceBalanceStore, installments installmentBalanceStore, ledger ledgerStore, tx transactor, notifier notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		invoices:     invoices,
		installments: installments,
		ledger:       ledger,
		tx:           tx,
		notifier:     notifier,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		now:          systemClock,
	}
}

func lockOpenInvoice(ctx context.Context, invoices invoiceLocker, exec sqlx.ExtContext, id string, actor *models.JWTClaims) (*models.Invoice, error) {
	invoice, err := lockInvoice(ctx, invoices, exec, id, actor)
	if err != nil {
		return nil, err
	}
	if invoice.Status.Immutable() {
		return nil, appErrors.Clone(appErrors.ErrImmutableState, fmt.Sprintf("cannot change balance of %s invoice", invoice.Status))
	}
	return invoice, nil
}

// ApplyPayment records money received. With an installment id the installment balance moves
// together with the invoice balance or not at all.
func (s *PaymentService) ApplyPayment(ctx context.Context, invoiceID string, req dto.ApplyPaymentRequest, actor *models.JWTClaims) (*models.PaymentResult, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	req.Method = strings.TrimSpace(req.Method)
	if req.InstallmentID != nil && strings.TrimSpace(*req.InstallmentID) == "" {
		req.InstallmentID = nil
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payment payload")
	}
	if err := requirePositive(req.Amount, "amount"); err != nil {
		return nil, err
	}

	result := &models.PaymentResult{}
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		invoice, err := lockOpenInvoice(ctx, s.invoices, exec, invoiceID, actor)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(invoice.RemainingAmount) {
			return appErrors.Clone(appErrors.ErrAmount, fmt.Sprintf("payment %s exceeds remaining balance %s", req.Amount.StringFixed(2), invoice.RemainingAmount.StringFixed(2)))
		}
		now := s.now()

		if req.InstallmentID != nil {
			installment, err := s.installments.FindByIDForUpdate(ctx, exec, *req.InstallmentID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrNotFound, "installment not found")
				}
				return err
			}
			if installment.InvoiceID != invoice.ID {
				return appErrors.Clone(appErrors.ErrNotFound, "installment not found")
			}
			if req.Amount.GreaterThan(installment.RemainingAmount) {
				return appErrors.Clone(appErrors.ErrAmount, fmt.Sprintf("payment %s exceeds installment balance %s", req.Amount.StringFixed(2), installment.RemainingAmount.StringFixed(2)))
			}
			installment.AmountPaid = installment.AmountPaid.Add(req.Amount)
			method := req.Method
			installment.PaymentMethod = &method
			installment.Recompute(now)
			if err := s.installments.Update(ctx, exec, installment); err != nil {
				return err
			}
			result.Installment = installment
		}

		invoice.AmountPaid = invoice.AmountPaid.Add(req.Amount)
		invoice.Recompute(now)
		if err := s.invoices.Update(ctx, exec, invoice); err != nil {
			return err
		}
		result.Invoice = invoice

		method := req.Method
		entry := &models.PaymentEntry{
			InvoiceID:     invoice.ID,
			InstallmentID: req.InstallmentID,
			Kind:          models.PaymentKindPayment,
			Amount:        req.Amount,
			Method:        &method,
			Notes:         req.Notes,
			RecordedBy:    actor.UserID,
			RecordedAt:    now,
		}
		if err := s.ledger.Create(ctx, exec, entry); err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to apply payment")
	}

	s.announce(ctx, models.EventPaymentApplied, result)
	return result, nil
}

// ApplyDiscount forgives part of the remaining balance. It never reduces what was already paid.
func (s *PaymentService) ApplyDiscount(ctx context.Context, invoiceID string, req dto.ApplyDiscountRequest, actor *models.JWTClaims) (*models.PaymentResult, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid discount payload")
	}
	if err := requirePositive(req.Amount, "amount"); err != nil {
		return nil, err
	}

	result := &models.PaymentResult{}
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		invoice, err := lockOpenInvoice(ctx, s.invoices, exec, invoiceID, actor)
		if err != nil {
			return err
		}
		discount := invoice.DiscountTotal.Add(req.Amount)
		if invoice.AmountDue.Sub(discount).LessThan(invoice.AmountPaid) {
			return appErrors.Clone(appErrors.ErrAmount, fmt.Sprintf("discount %s exceeds remaining balance %s", req.Amount.StringFixed(2), invoice.RemainingAmount.StringFixed(2)))
		}
		now := s.now()
		invoice.DiscountTotal = discount
		invoice.Recompute(now)
		if err := s.invoices.Update(ctx, exec, invoice); err != nil {
			return err
		}
		result.Invoice = invoice

		entry := &models.PaymentEntry{
			InvoiceID:  invoice.ID,
			Kind:       models.PaymentKindDiscount,
			Amount:     req.Amount,
			Notes:      req.Notes,
			RecordedBy: actor.UserID,
			RecordedAt: now,
		}
		if err := s.ledger.Create(ctx, exec, entry); err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to apply discount")
	}

	s.announce(ctx, models.EventDiscountApplied, result)
	return result, nil
}

// ListPayments returns the payment and discount history of an invoice.
func (s *PaymentService) ListPayments(ctx context.Context, invoiceID string, actor *models.JWTClaims) ([]models.PaymentEntry, error) {
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
	entries, err := s.ledger.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, internalError(s.logger, err, "failed to load payment ledger")
	}
	return entries, nil
}

func (s *PaymentService) announce(ctx context.Context, event models.NotificationEvent, result *models.PaymentResult) {
	invoice := result.Invoice
	s.metrics.RecordLedgerEntry(string(result.Entry.Kind))
	payload := map[string]interface{}{
		"invoice_id":       invoice.ID,
		"invoice_number":   invoice.InvoiceNumber,
		"amount":           result.Entry.Amount,
		"remaining_amount": invoice.RemainingAmount,
		"status":           invoice.Status,
	}
	if result.Installment != nil {
		payload["installment_id"] = result.Installment.ID
	}
	s.notifier.Dispatch(ctx, invoice.StudentID, event, payload)
	s.logger.Info("invoice balance changed",
		zap.String("invoice_id", invoice.ID),
		zap.String("kind", string(result.Entry.Kind)),
		zap.String("amount", result.Entry.Amount.String()),
		zap.String("status", string(invoice.Status)))
}

