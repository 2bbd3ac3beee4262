package service

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

// transactor runs fn inside one database transaction.
type transactor interface {
	WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

// notifier delivers fire-and-forget events after a commit.
type notifier interface {
	Dispatch(ctx context.Context, recipientID string, event models.NotificationEvent, payload interface{})
}

// BillingPolicy holds the horizons and limits applied by the billing workflows.
type BillingPolicy struct {
	RequestTTL           time.Duration
	ReservationDueDays   int
	CourseInvoiceDueDays int
	BulkInvoiceMaxBatch  int
}

func (p BillingPolicy) withDefaults() BillingPolicy {
	if p.RequestTTL <= 0 {
		p.RequestTTL = 7 * 24 * time.Hour
	}
	if p.ReservationDueDays <= 0 {
		p.ReservationDueDays = 7
	}
	if p.CourseInvoiceDueDays <= 0 {
		p.CourseInvoiceDueDays = 30
	}
	if p.BulkInvoiceMaxBatch <= 0 {
		p.BulkInvoiceMaxBatch = 100
	}
	return p
}

// internalError logs the cause and returns a generic error safe for clients.
func internalError(logger *zap.Logger, err error, message string) *appErrors.Error {
	logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// txError keeps typed business errors raised inside a transaction and hides everything else.
func txError(logger *zap.Logger, err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return internalError(logger, err, message)
}

func requireActor(actor *models.JWTClaims) error {
	if actor == nil || actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	return nil
}

// requireTeacherOwner allows admins and the teacher that owns the resource.
func requireTeacherOwner(actor *models.JWTClaims, teacherID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role != models.RoleTeacher || actor.UserID != teacherID {
		return appErrors.Clone(appErrors.ErrForbidden, "resource belongs to another teacher")
	}
	return nil
}

// requireParticipant allows admins plus the teacher or student on the resource.
func requireParticipant(actor *models.JWTClaims, teacherID, studentID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	switch {
	case actor.IsAdmin():
		return nil
	case actor.Role == models.RoleTeacher && actor.UserID == teacherID:
		return nil
	case actor.Role == models.RoleStudent && actor.UserID == studentID:
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "resource belongs to another user")
}

// requireBillingStaff allows teachers and admins.
func requireBillingStaff(actor *models.JWTClaims) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.IsAdmin() || actor.Role == models.RoleTeacher {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only teachers can manage billing")
}

// scopeToActor narrows list filters to the caller's own records.
func scopeToActor(actor *models.JWTClaims, teacherID, studentID *string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		*teacherID = actor.UserID
	case models.RoleStudent:
		*studentID = actor.UserID
	default:
		return appErrors.ErrForbidden
	}
	return nil
}

// maxMoney is the first value that no longer fits a NUMERIC(14,2) column.
var maxMoney = decimal.New(1, 12)

func validMoney(amount decimal.Decimal, field string) error {
	if !amount.Equal(amount.Truncate(2)) {
		return appErrors.Clone(appErrors.ErrValidation, field+" must have at most two decimal places")
	}
	if amount.Abs().GreaterThanOrEqual(maxMoney) {
		return appErrors.Clone(appErrors.ErrValidation, field+" exceeds the supported range")
	}
	return nil
}

func requireNonNegative(amount decimal.Decimal, field string) error {
	if err := validMoney(amount, field); err != nil {
		return err
	}
	if amount.IsNegative() {
		return appErrors.Clone(appErrors.ErrValidation, field+" must not be negative")
	}
	return nil
}

func requirePositive(amount decimal.Decimal, field string) error {
	if err := validMoney(amount, field); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return appErrors.Clone(appErrors.ErrValidation, field+" must be greater than zero")
	}
	return nil
}

func validationError(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func pagination(page, size, total int) *models.Pagination {
	page, size = models.NormalizePage(page, size)
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}

func systemClock() time.Time { return time.Now().UTC() }
