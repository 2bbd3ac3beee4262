package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/internal/repository"
)

var testNow = time.Date(2024, time.March, 10, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func teacherActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func studentActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func adminActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func strPtr(v string) *string { return &v }

// fakeTx runs fn directly; stores below keep copies so a failed fn leaves them untouched
// unless it already wrote.
type fakeTx struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type sentNotification struct {
	recipient string
	event     models.NotificationEvent
	payload   interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Dispatch(ctx context.Context, recipientID string, event models.NotificationEvent, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{recipient: recipientID, event: event, payload: payload})
}

func (n *recordingNotifier) events() []models.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationEvent, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.event)
	}
	return out
}

type memCourses struct {
	courses map[string]*models.Course
	calls   int
}

func (m *memCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	m.calls++
	course, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *course
	return &clone, nil
}

type memSubscriptions struct {
	mu    sync.Mutex
	slots map[string]*models.CapacitySlot
}

func newMemSubscriptions(slots ...models.CapacitySlot) *memSubscriptions {
	m := &memSubscriptions{slots: make(map[string]*models.CapacitySlot)}
	for i := range slots {
		slot := slots[i]
		m.slots[slot.ID] = &slot
	}
	return m
}

func (m *memSubscriptions) active(teacherID string, at time.Time) *models.CapacitySlot {
	for _, slot := range m.slots {
		if slot.TeacherID == teacherID && slot.Status == models.SubscriptionStatusActive &&
			!at.Before(slot.StartsAt) && !at.After(slot.EndsAt) {
			return slot
		}
	}
	return nil
}

func (m *memSubscriptions) FindActive(ctx context.Context, teacherID string, at time.Time) (*models.CapacitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.active(teacherID, at)
	if slot == nil {
		return nil, sql.ErrNoRows
	}
	clone := *slot
	return &clone, nil
}

func (m *memSubscriptions) Reserve(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (*models.CapacitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.active(teacherID, at)
	if slot == nil || slot.CurrentStudents >= slot.MaxStudents {
		return nil, sql.ErrNoRows
	}
	slot.CurrentStudents++
	clone := *slot
	return &clone, nil
}

func (m *memSubscriptions) Release(ctx context.Context, exec sqlx.ExtContext, subscriptionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[subscriptionID]
	if !ok {
		return false, nil
	}
	if slot.CurrentStudents > 0 {
		slot.CurrentStudents--
	}
	return true, nil
}

func (m *memSubscriptions) ReleaseActive(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (bool, error) {
	m.mu.Lock()
	slot := m.active(teacherID, at)
	m.mu.Unlock()
	if slot == nil {
		return false, nil
	}
	return m.Release(ctx, exec, slot.ID, at)
}

func (m *memSubscriptions) current(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id].CurrentStudents
}

type memRequests struct {
	mu       sync.Mutex
	requests map[string]*models.EnrollmentRequest
}

func newMemRequests(requests ...models.EnrollmentRequest) *memRequests {
	m := &memRequests{requests: make(map[string]*models.EnrollmentRequest)}
	for i := range requests {
		req := requests[i]
		m.requests[req.ID] = &req
	}
	return m
}

func (m *memRequests) Create(ctx context.Context, req *models.EnrollmentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.Status == models.EnrollmentRequestPending && existing.StudentID == req.StudentID &&
			existing.CourseID == req.CourseID && existing.StudyYear == req.StudyYear {
			return repository.ErrDuplicate
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	clone := *req
	m.requests[req.ID] = &clone
	return nil
}

func (m *memRequests) FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *req
	return &clone, nil
}

func (m *memRequests) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentRequest, error) {
	return m.FindByID(ctx, id)
}

func (m *memRequests) ExistsPending(ctx context.Context, studentID, courseID, studyYear string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.Status == models.EnrollmentRequestPending && req.StudentID == studentID &&
			req.CourseID == courseID && req.StudyYear == studyYear {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRequests) Resolve(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentRequestStatus, response *string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.Status != models.EnrollmentRequestPending {
		return false, nil
	}
	req.Status = status
	req.TeacherResponse = response
	responded := at
	req.RespondedAt = &responded
	return true, nil
}

func (m *memRequests) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, req := range m.requests {
		if req.Status == models.EnrollmentRequestPending && req.ExpiresAt.Before(now) {
			req.Status = models.EnrollmentRequestExpired
			count++
		}
	}
	return count, nil
}

func (m *memRequests) List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EnrollmentRequest
	for _, req := range m.requests {
		if filter.TeacherID != "" && req.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StudentID != "" && req.StudentID != filter.StudentID {
			continue
		}
		out = append(out, *req)
	}
	return out, len(out), nil
}

func (m *memRequests) status(id string) models.EnrollmentRequestStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id].Status
}

type memEnrollments struct {
	mu          sync.Mutex
	enrollments map[string]*models.Enrollment
}

func newMemEnrollments(enrollments ...models.Enrollment) *memEnrollments {
	m := &memEnrollments{enrollments: make(map[string]*models.Enrollment)}
	for i := range enrollments {
		e := enrollments[i]
		m.enrollments[e.ID] = &e
	}
	return m
}

func (m *memEnrollments) ExistsOpen(ctx context.Context, studentID, courseID, studyYear string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID && e.StudyYear == studyYear &&
			(e.Status == models.EnrollmentStatusActive || e.Status == models.EnrollmentStatusSuspended) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEnrollments) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.EnrollmentRequestID == enrollment.EnrollmentRequestID {
			return repository.ErrDuplicate
		}
	}
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	clone := *enrollment
	m.enrollments[enrollment.ID] = &clone
	return nil
}

func (m *memEnrollments) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, e := range m.enrollments {
		if filter.TeacherID != "" && e.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		out = append(out, *e)
	}
	return out, len(out), nil
}

func (m *memEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	clone := *e
	return &clone, nil
}

func (m *memEnrollments) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	return m.FindByID(ctx, id)
}

func (m *memEnrollments) Update(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *enrollment
	m.enrollments[enrollment.ID] = &clone
	return nil
}

func (m *memEnrollments) ExpireEnded(ctx context.Context, exec sqlx.ExtContext, now time.Time) ([]models.ExpiredEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []models.ExpiredEnrollment
	for _, e := range m.enrollments {
		if e.Status == models.EnrollmentStatusActive && e.DeletedAt == nil && e.CourseEndDate.Before(models.DateOnly(now)) {
			e.Status = models.EnrollmentStatusExpired
			expired = append(expired, models.ExpiredEnrollment{ID: e.ID, TeacherID: e.TeacherID, CapacitySlotRef: e.CapacitySlotRef})
		}
	}
	return expired, nil
}

func (m *memEnrollments) get(id string) models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.enrollments[id]
}

func (m *memEnrollments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enrollments)
}

type memInvoices struct {
	mu        sync.Mutex
	invoices  map[string]*models.Invoice
	sequences map[string]int64
	updateErr error
}

func newMemInvoices(invoices ...models.Invoice) *memInvoices {
	m := &memInvoices{invoices: make(map[string]*models.Invoice), sequences: make(map[string]int64)}
	for i := range invoices {
		inv := invoices[i]
		inv.Hydrate()
		m.invoices[inv.ID] = &inv
	}
	return m
}

func (m *memInvoices) NextNumber(ctx context.Context, exec sqlx.ExtContext, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := at.Format("2006-01")
	m.sequences[key]++
	return repository.FormatInvoiceNumber(at, m.sequences[key]), nil
}

func (m *memInvoices) Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	clone := *invoice
	m.invoices[invoice.ID] = &clone
	return nil
}

func (m *memInvoices) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *inv
	clone.Hydrate()
	return &clone, nil
}

func (m *memInvoices) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Invoice, error) {
	return m.FindByID(ctx, id)
}

func (m *memInvoices) Update(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *invoice
	m.invoices[invoice.ID] = &clone
	return nil
}

func (m *memInvoices) setDeleted(id string, at *time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || (inv.DeletedAt == nil) == (at == nil) {
		return false
	}
	inv.DeletedAt = at
	return true
}

func (m *memInvoices) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	return m.setDeleted(id, &at), nil
}

func (m *memInvoices) Restore(ctx context.Context, id string, at time.Time) (bool, error) {
	return m.setDeleted(id, nil), nil
}

func (m *memInvoices) matching(filter models.InvoiceFilter) []models.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Invoice
	for _, inv := range m.invoices {
		if !filter.IncludeDeleted && inv.DeletedAt != nil {
			continue
		}
		if filter.TeacherID != "" && inv.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StudentID != "" && inv.StudentID != filter.StudentID {
			continue
		}
		clone := *inv
		clone.Hydrate()
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	return out
}

func (m *memInvoices) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	out := m.matching(filter)
	return out, len(out), nil
}

func (m *memInvoices) Summarize(ctx context.Context, filter models.InvoiceFilter) (*models.InvoiceSummary, error) {
	summary := &models.InvoiceSummary{}
	for _, inv := range m.matching(filter) {
		summary.TotalDue = summary.TotalDue.Add(inv.AmountDue)
		summary.TotalDiscount = summary.TotalDiscount.Add(inv.DiscountTotal)
		summary.TotalPaid = summary.TotalPaid.Add(inv.AmountPaid)
		summary.TotalRemaining = summary.TotalRemaining.Add(inv.RemainingAmount)
	}
	return summary, nil
}

func (m *memInvoices) ListForExport(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, error) {
	return m.matching(filter), nil
}

func (m *memInvoices) MarkOverdue(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, inv := range m.invoices {
		if inv.Status == models.InvoiceStatusPending && inv.DeletedAt == nil && models.PastDue(inv.DueDate, now) {
			inv.Status = models.InvoiceStatusOverdue
			count++
		}
	}
	return count, nil
}

func (m *memInvoices) get(id string) models.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := *m.invoices[id]
	inv.Hydrate()
	return inv
}

type memInstallments struct {
	mu    sync.Mutex
	items map[string]*models.Installment
}

func newMemInstallments(items ...models.Installment) *memInstallments {
	m := &memInstallments{items: make(map[string]*models.Installment)}
	for i := range items {
		item := items[i]
		item.Hydrate()
		m.items[item.ID] = &item
	}
	return m
}

func (m *memInstallments) ListByInvoice(ctx context.Context, exec sqlx.ExtContext, invoiceID string) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Installment
	for _, item := range m.items {
		if item.InvoiceID == invoiceID {
			clone := *item
			clone.Hydrate()
			out = append(out, clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstallmentNumber < out[j].InstallmentNumber })
	return out, nil
}

func (m *memInstallments) CreateBatch(ctx context.Context, exec sqlx.ExtContext, installments []models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range installments {
		item := &installments[i]
		for _, existing := range m.items {
			if existing.InvoiceID == item.InvoiceID && existing.InstallmentNumber == item.InstallmentNumber {
				return fmt.Errorf("create installment %d: %w", item.InstallmentNumber, repository.ErrDuplicate)
			}
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		clone := *item
		m.items[item.ID] = &clone
	}
	return nil
}

func (m *memInstallments) FindByID(ctx context.Context, id string) (*models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *item
	clone.Hydrate()
	return &clone, nil
}

func (m *memInstallments) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Installment, error) {
	return m.FindByID(ctx, id)
}

func (m *memInstallments) Update(ctx context.Context, exec sqlx.ExtContext, installment *models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *installment
	m.items[installment.ID] = &clone
	return nil
}

func (m *memInstallments) MarkOverdue(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, item := range m.items {
		if item.Status == models.InstallmentStatusPending && models.PastDue(item.DueDate, now) {
			item.Status = models.InstallmentStatusOverdue
			count++
		}
	}
	return count, nil
}

func (m *memInstallments) get(id string) models.Installment {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := *m.items[id]
	item.Hydrate()
	return item
}

type memLedger struct {
	mu      sync.Mutex
	entries []models.PaymentEntry
}

func (m *memLedger) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.PaymentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memLedger) ListByInvoice(ctx context.Context, invoiceID string) ([]models.PaymentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentEntry
	for _, e := range m.entries {
		if e.InvoiceID == invoiceID {
			out = append(out, e)
		}
	}
	return out, nil
}
