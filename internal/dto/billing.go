package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutor-billing-api/internal/models"
)

// DateLayout is the calendar date format accepted by billing payloads.
const DateLayout = "2006-01-02"

// ParseDate parses a calendar date in DateLayout as UTC midnight.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected %s", value, DateLayout)
	}
	return t, nil
}

// CreateEnrollmentRequest is submitted by a student to join a course.
type CreateEnrollmentRequest struct {
	CourseID  string  `json:"courseId" validate:"required"`
	StudyYear string  `json:"studyYear" validate:"required,max=32"`
	Message   *string `json:"message" validate:"omitempty,max=2000"`
}

// ApproveEnrollmentRequest carries the teacher's enrollment terms.
type ApproveEnrollmentRequest struct {
	CourseStartDate   string           `json:"courseStartDate" validate:"required,datetime=2006-01-02"`
	CourseEndDate     string           `json:"courseEndDate" validate:"required,datetime=2006-01-02"`
	TotalAmount       decimal.Decimal  `json:"totalAmount"`
	ReservationAmount *decimal.Decimal `json:"reservationAmount"`
	Notes             *string          `json:"notes" validate:"omitempty,max=2000"`
}

// RejectEnrollmentRequest carries the teacher's reason.
type RejectEnrollmentRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// UpdateEnrollmentRequest patches an enrollment; nil fields are left unchanged.
type UpdateEnrollmentRequest struct {
	Status            *models.EnrollmentStatus `json:"status"`
	CourseStartDate   *string                  `json:"courseStartDate" validate:"omitempty,datetime=2006-01-02"`
	CourseEndDate     *string                  `json:"courseEndDate" validate:"omitempty,datetime=2006-01-02"`
	TotalCourseAmount *decimal.Decimal         `json:"totalCourseAmount"`
	ReservationAmount *decimal.Decimal         `json:"reservationAmount"`
}

// CreateInvoiceRequest issues one invoice against an enrollment.
type CreateInvoiceRequest struct {
	EnrollmentID string             `json:"enrollmentId" validate:"required"`
	InvoiceType  models.InvoiceType `json:"invoiceType" validate:"required"`
	AmountDue    decimal.Decimal    `json:"amountDue"`
	DueDate      string             `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Notes        *string            `json:"notes" validate:"omitempty,max=2000"`
}

// BulkCreateInvoiceRequest issues the same invoice against many enrollments.
type BulkCreateInvoiceRequest struct {
	EnrollmentIDs []string           `json:"enrollmentIds"`
	InvoiceType   models.InvoiceType `json:"invoiceType" validate:"required"`
	AmountDue     decimal.Decimal    `json:"amountDue"`
	DueDate       string             `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Notes         *string            `json:"notes" validate:"omitempty,max=2000"`
}

// BulkInvoiceResult reports per-item outcomes of a bulk invoice run.
type BulkInvoiceResult struct {
	Invoices []models.Invoice `json:"invoices"`
	Errors   []string         `json:"errors"`
	Success  bool             `json:"success"`
}

// UpdateInvoiceRequest patches mutable invoice fields.
type UpdateInvoiceRequest struct {
	AmountPaid *decimal.Decimal `json:"amountPaid"`
	DueDate    *string          `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	Notes      *string          `json:"notes" validate:"omitempty,max=2000"`
}

// InstallmentItem is one line of an installment plan.
type InstallmentItem struct {
	InstallmentNumber int             `json:"installmentNumber" validate:"required,gt=0"`
	InstallmentAmount decimal.Decimal `json:"installmentAmount"`
	DueDate           string          `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Notes             *string         `json:"notes" validate:"omitempty,max=2000"`
}

// CreateInstallmentsRequest schedules installments for an invoice.
type CreateInstallmentsRequest struct {
	Items []InstallmentItem `json:"items" validate:"required,min=1,max=60,dive"`
}

// UpdateInstallmentRequest patches an installment.
type UpdateInstallmentRequest struct {
	InstallmentAmount *decimal.Decimal `json:"installmentAmount"`
	DueDate           *string          `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	PaymentMethod     *string          `json:"paymentMethod" validate:"omitempty,max=64"`
	Notes             *string          `json:"notes" validate:"omitempty,max=2000"`
}

// ApplyPaymentRequest records money received against an invoice.
type ApplyPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method" validate:"required,max=64"`
	InstallmentID *string         `json:"installmentId" validate:"omitempty"`
	Notes         *string         `json:"notes" validate:"omitempty,max=2000"`
}

// ApplyDiscountRequest forgives part of an invoice.
type ApplyDiscountRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  *string         `json:"notes" validate:"omitempty,max=2000"`
}

// ApprovalResult is returned when a request becomes an enrollment.
type ApprovalResult struct {
	Enrollment         *models.Enrollment `json:"enrollment"`
	ReservationInvoice *models.Invoice    `json:"reservationInvoice"`
	CourseInvoice      *models.Invoice    `json:"courseInvoice"`
}
