package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

func activeEnrollment(id, teacherID, studentID string) models.Enrollment {
	slot := "sub-1"
	return models.Enrollment{
		ID:                  id,
		EnrollmentRequestID: "req-" + id,
		StudentID:           studentID,
		TeacherID:           teacherID,
		CourseID:            "course-1",
		CapacitySlotRef:     &slot,
		StudyYear:           "2024",
		Status:              models.EnrollmentStatusActive,
		CourseStartDate:     time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		CourseEndDate:       time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC),
		TotalCourseAmount:   dec("500"),
		ReservationAmount:   dec("100"),
	}
}

type invoiceFixture struct {
	svc          *InvoiceService
	invoices     *memInvoices
	enrollments  *memEnrollments
	installments *memInstallments
	ledger       *memLedger
	tx           *fakeTx
	notifier     *recordingNotifier
}

func newInvoiceFixture(policy BillingPolicy, enrollments ...models.Enrollment) *invoiceFixture {
	f := &invoiceFixture{
		invoices:     newMemInvoices(),
		enrollments:  newMemEnrollments(enrollments...),
		installments: newMemInstallments(),
		ledger:       &memLedger{},
		tx:           &fakeTx{},
		notifier:     &recordingNotifier{},
	}
	f.svc = NewInvoiceService(f.invoices, f.enrollments, f.installments, f.ledger, f.tx, f.notifier, nil, policy, nil, zap.NewNop())
	f.svc.now = fixedClock
	return f
}

func TestInvoiceCreateThenRead(t *testing.T) {
	f := newInvoiceFixture(BillingPolicy{}, activeEnrollment("enr-1", "teacher-1", "student-1"))
	ctx := context.Background()

	created, err := f.svc.Create(ctx, dto.CreateInvoiceRequest{
		EnrollmentID: "enr-1",
		InvoiceType:  models.InvoiceTypeReservation,
		AmountDue:    dec("100"),
		DueDate:      "2024-03-20",
	}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-03-0001", created.InvoiceNumber)

	read, err := f.svc.Get(ctx, created.ID, studentActor("student-1"))
	require.NoError(t, err)
	assert.True(t, read.AmountPaid.IsZero())
	assert.True(t, read.RemainingAmount.Equal(dec("100")))
	assert.Equal(t, models.InvoiceStatusPending, read.Status)
	assert.Equal(t, "2024-03-20", read.DueDate.Format(dto.DateLayout))
	assert.Equal(t, []models.NotificationEvent{models.EventInvoiceCreated}, f.notifier.events())
	assert.Equal(t, "student-1", f.notifier.sent[0].recipient)
}

func TestInvoiceCreateRequiresActiveOwnedEnrollment(t *testing.T) {
	cancelled := activeEnrollment("enr-2", "teacher-1", "student-2")
	cancelled.Status = models.EnrollmentStatusCancelled
	f := newInvoiceFixture(BillingPolicy{}, activeEnrollment("enr-1", "teacher-1", "student-1"), cancelled)
	ctx := context.Background()
	req := dto.CreateInvoiceRequest{EnrollmentID: "enr-1", InvoiceType: models.InvoiceTypeCourse, AmountDue: dec("50"), DueDate: "2024-04-01"}

	_, err := f.svc.Create(ctx, req, teacherActor("teacher-9"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	req.EnrollmentID = "enr-2"
	_, err = f.svc.Create(ctx, req, teacherActor("teacher-1"))
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	req.EnrollmentID = "missing"
	_, err = f.svc.Create(ctx, req, teacherActor("teacher-1"))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	req.EnrollmentID = "enr-1"
	req.AmountDue = dec("0")
	_, err = f.svc.Create(ctx, req, teacherActor("teacher-1"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	req.AmountDue = dec("10")
	req.InvoiceType = "subscription"
	_, err = f.svc.Create(ctx, req, teacherActor("teacher-1"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, f.invoices.invoices)
}

func TestInvoiceCreateBulkCollectsFailures(t *testing.T) {
	invalid := activeEnrollment("B", "teacher-1", "student-b")
	invalid.Status = models.EnrollmentStatusCompleted
	f := newInvoiceFixture(BillingPolicy{},
		activeEnrollment("A", "teacher-1", "student-a"),
		invalid,
		activeEnrollment("C", "teacher-1", "student-c"),
	)

	result, err := f.svc.CreateBulk(context.Background(), dto.BulkCreateInvoiceRequest{
		EnrollmentIDs: []string{"A", "B", "C"},
		InvoiceType:   models.InvoiceTypeCourse,
		AmountDue:     dec("250"),
		DueDate:       "2024-04-15",
	}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Invoices, 2)
	assert.Equal(t, "A", result.Invoices[0].EnrollmentID)
	assert.Equal(t, "C", result.Invoices[1].EnrollmentID)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "enrollment B:"), result.Errors[0])
	assert.Equal(t, 3, f.tx.calls)
	assert.Len(t, f.invoices.invoices, 2)
	assert.NotEqual(t, result.Invoices[0].InvoiceNumber, result.Invoices[1].InvoiceNumber)
}

func TestInvoiceCreateBulkRejectsUpfront(t *testing.T) {
	f := newInvoiceFixture(BillingPolicy{BulkInvoiceMaxBatch: 2}, activeEnrollment("A", "teacher-1", "student-a"))
	ctx := context.Background()
	base := dto.BulkCreateInvoiceRequest{InvoiceType: models.InvoiceTypeCourse, AmountDue: dec("10"), DueDate: "2024-04-15"}

	_, err := f.svc.CreateBulk(ctx, base, teacherActor("teacher-1"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	base.EnrollmentIDs = []string{"A", "B", "C"}
	_, err = f.svc.CreateBulk(ctx, base, teacherActor("teacher-1"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	base.EnrollmentIDs = []string{"A"}
	base.DueDate = "15/04/2024"
	_, err = f.svc.CreateBulk(ctx, base, teacherActor("teacher-1"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, f.tx.calls)
}

func seededInvoiceFixture(t *testing.T) (*invoiceFixture, string) {
	t.Helper()
	f := newInvoiceFixture(BillingPolicy{}, activeEnrollment("enr-1", "teacher-1", "student-1"))
	inv, err := f.svc.Create(context.Background(), dto.CreateInvoiceRequest{
		EnrollmentID: "enr-1", InvoiceType: models.InvoiceTypeCourse, AmountDue: dec("200"), DueDate: "2024-04-10",
	}, teacherActor("teacher-1"))
	require.NoError(t, err)
	return f, inv.ID
}

func TestInvoiceUpdate(t *testing.T) {
	f, id := seededInvoiceFixture(t)
	ctx := context.Background()
	teacher := teacherActor("teacher-1")

	_, err := f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("250")}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrAmount))

	updated, err := f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("80"), Notes: strPtr("first instalment")}, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPartial, updated.Status)
	assert.True(t, updated.RemainingAmount.Equal(dec("120")))

	due := "2024-03-01"
	updated, err = f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{DueDate: &due}, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusOverdue, updated.Status)

	updated, err = f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("200")}, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, updated.Status)

	_, err = f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{Notes: strPtr("late")}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrImmutableState))
	assert.True(t, ledgerTotal(t, f.ledger, id).Equal(dec("200")))
}

func ledgerTotal(t *testing.T, ledger *memLedger, invoiceID string) decimal.Decimal {
	t.Helper()
	entries, err := ledger.ListByInvoice(context.Background(), invoiceID)
	require.NoError(t, err)
	total := decimal.Zero
	for _, entry := range entries {
		if entry.Kind != models.PaymentKindDiscount {
			total = total.Add(entry.Amount)
		}
	}
	return total
}

func TestInvoiceUpdateRecordsLedgerAdjustments(t *testing.T) {
	f, id := seededInvoiceFixture(t)
	ctx := context.Background()
	teacher := teacherActor("teacher-1")

	_, err := f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("80")}, teacher)
	require.NoError(t, err)
	updated, err := f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("60"), Notes: strPtr("refunded 20")}, teacher)
	require.NoError(t, err)
	assert.True(t, updated.AmountPaid.Equal(dec("60")))

	_, err = f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("60")}, teacher)
	require.NoError(t, err)

	require.Len(t, f.ledger.entries, 2)
	assert.Equal(t, models.PaymentKindAdjustment, f.ledger.entries[0].Kind)
	assert.True(t, f.ledger.entries[0].Amount.Equal(dec("80")))
	assert.True(t, f.ledger.entries[1].Amount.Equal(dec("-20")))
	assert.Equal(t, "teacher-1", f.ledger.entries[1].RecordedBy)
	assert.Equal(t, testNow, f.ledger.entries[1].RecordedAt)
	assert.True(t, ledgerTotal(t, f.ledger, id).Equal(f.invoices.get(id).AmountPaid))
}

func TestInvoiceUpdateRejectsInvalidAmountPaid(t *testing.T) {
	f, id := seededInvoiceFixture(t)
	ctx := context.Background()
	teacher := teacherActor("teacher-1")

	_, err := f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("80.005")}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("50")}, teacher)
	require.NoError(t, err)
	require.NoError(t, f.installments.CreateBatch(ctx, nil, []models.Installment{{
		ID: "ins-1", InvoiceID: id, InstallmentNumber: 1,
		InstallmentAmount: dec("100"), AmountPaid: dec("50"), DueDate: testNow.AddDate(0, 0, 10),
	}}))

	_, err = f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("40")}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrAmount))

	stored := f.invoices.get(id)
	assert.True(t, stored.AmountPaid.Equal(dec("50")))
	require.Len(t, f.ledger.entries, 1)
	assert.True(t, ledgerTotal(t, f.ledger, id).Equal(stored.AmountPaid))
}

func TestInvoiceCancelFreezesInvoice(t *testing.T) {
	f, id := seededInvoiceFixture(t)
	ctx := context.Background()
	teacher := teacherActor("teacher-1")

	cancelled, err := f.svc.Cancel(ctx, id, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, id, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrImmutableState))
	_, err = f.svc.Update(ctx, id, dto.UpdateInvoiceRequest{AmountPaid: decPtr("10")}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrImmutableState))
}

func TestInvoiceSoftDeleteAndRestore(t *testing.T) {
	f, id := seededInvoiceFixture(t)
	ctx := context.Background()
	teacher := teacherActor("teacher-1")

	require.NoError(t, f.svc.SoftDelete(ctx, id, teacher))
	assert.True(t, errors.Is(f.svc.SoftDelete(ctx, id, teacher), appErrors.ErrConflict))

	_, err := f.svc.Get(ctx, id, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	deleted, err := f.svc.Get(ctx, id, adminActor())
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)

	list, _, _, err := f.svc.List(ctx, models.InvoiceFilter{IncludeDeleted: true}, teacher)
	require.NoError(t, err)
	assert.Empty(t, list)

	restored, err := f.svc.Restore(ctx, id, teacher)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)
	_, err = f.svc.Restore(ctx, id, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestInvoiceListScopesByRole(t *testing.T) {
	f := newInvoiceFixture(BillingPolicy{},
		activeEnrollment("enr-1", "teacher-1", "student-1"),
		activeEnrollment("enr-2", "teacher-2", "student-2"),
	)
	ctx := context.Background()
	for _, e := range []struct{ enrollment, teacher string }{{"enr-1", "teacher-1"}, {"enr-2", "teacher-2"}} {
		_, err := f.svc.Create(ctx, dto.CreateInvoiceRequest{
			EnrollmentID: e.enrollment, InvoiceType: models.InvoiceTypeCourse, AmountDue: dec("300"), DueDate: "2024-04-10",
		}, teacherActor(e.teacher))
		require.NoError(t, err)
	}

	items, page, summary, err := f.svc.List(ctx, models.InvoiceFilter{StudentID: "student-2"}, studentActor("student-1"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "student-1", items[0].StudentID)
	assert.Equal(t, 1, page.TotalCount)
	assert.True(t, summary.TotalRemaining.Equal(dec("300")))

	items, _, _, err = f.svc.List(ctx, models.InvoiceFilter{}, adminActor())
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, _, _, err = f.svc.List(ctx, models.InvoiceFilter{Status: "late"}, adminActor())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestInvoiceExport(t *testing.T) {
	f, _ := seededInvoiceFixture(t)
	ctx := context.Background()

	file, err := f.svc.Export(ctx, models.InvoiceFilter{}, "", teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, "invoices-20240310.csv", file.Filename)
	assert.Equal(t, "text/csv", file.ContentType)
	body := string(file.Payload)
	assert.Contains(t, body, "Number,Type,Student")
	assert.Contains(t, body, "INV-2024-03-0001,course,student-1,2024-04-10,200.00")

	pdf, err := f.svc.Export(ctx, models.InvoiceFilter{}, "PDF", teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, strings.HasPrefix(string(pdf.Payload), "%PDF"))

	_, err = f.svc.Export(ctx, models.InvoiceFilter{}, "xlsx", teacherActor("teacher-1"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
