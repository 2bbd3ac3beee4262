package service

import (
	"context"
	"database/sql"
	"errors"
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
)

type enrollmentRequestStore interface {
	Create(ctx context.Context, req *models.EnrollmentRequest) error
	FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentRequest, error)
	ExistsPending(ctx context.Context, studentID, courseID, studyYear string) (bool, error)
	Resolve(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentRequestStatus, response *string, at time.Time) (bool, error)
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
	List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequest, int, error)
}

type enrollmentWriter interface {
	ExistsOpen(ctx context.Context, studentID, courseID, studyYear string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
}

type courseCatalog interface {
	Course(ctx context.Context, id string) (*models.Course, error)
}

type capacityGuard interface {
	CanAdmit(ctx context.Context, teacherID string) (bool, error)
	Rejection(ctx context.Context, teacherID string) error
	ReserveSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.CapacitySlot, error)
	Forget(ctx context.Context, teacherIDs ...string)
}

type invoiceIssuer interface {
	IssueTx(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment, params IssueInvoiceParams) (*models.Invoice, error)
	Announce(ctx context.Context, invoices ...*models.Invoice)
}

// EnrollmentRequestService runs the request review workflow from submission to enrollment.
type EnrollmentRequestService struct {
	requests    enrollmentRequestStore
	enrollments enrollmentWriter
	catalog     courseCatalog
	capacity    capacityGuard
	invoices    invoiceIssuer
	tx          transactor
	notifier    notifier
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	policy      BillingPolicy
	now         func() time.Time
}

// EnrollmentRequestDeps groups the collaborators of EnrollmentRequestService.
type EnrollmentRequestDeps struct {
	Requests    enrollmentRequestStore
	Enrollments enrollmentWriter
	Catalog     courseCatalog
	Capacity    capacityGuard
	Invoices    invoiceIssuer
	Tx          transactor
	Notifier    notifier
	Metrics     *MetricsService
}

// NewEnrollmentRequestService constructs the workflow.
func NewEnrollmentRequestService(deps EnrollmentRequestDeps, policy BillingPolicy, validate *validator.Validate, logger *zap.Logger) *EnrollmentRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentRequestService{
		requests:    deps.Requests,
		enrollments: deps.Enrollments,
		catalog:     deps.Catalog,
		capacity:    deps.Capacity,
		invoices:    deps.Invoices,
		tx:          deps.Tx,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		validator:   validate,
		logger:      logger,
		policy:      policy.withDefaults(),
		now:         systemClock,
	}
}

// Create submits a pending request for the acting student.
func (s *EnrollmentRequestService) Create(ctx context.Context, req dto.CreateEnrollmentRequest, actor *models.JWTClaims) (*models.EnrollmentRequest, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can request enrollment")
	}
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.StudyYear = strings.TrimSpace(req.StudyYear)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment request payload")
	}

	course, err := s.catalog.Course(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !course.IsActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is not accepting enrollments")
	}

	pending, err := s.requests.ExistsPending(ctx, actor.UserID, course.ID, req.StudyYear)
	if err != nil {
		return nil, internalError(s.logger, err, "failed to check pending requests")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a pending request for this course and study year already exists")
	}
	enrolled, err := s.enrollments.ExistsOpen(ctx, actor.UserID, course.ID, req.StudyYear)
	if err != nil {
		return nil, internalError(s.logger, err, "failed to check enrollments")
	}
	if enrolled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this course for the study year")
	}

	now := s.now()
	request := &models.EnrollmentRequest{
		StudentID:      actor.UserID,
		TeacherID:      course.TeacherID,
		CourseID:       course.ID,
		StudyYear:      req.StudyYear,
		Status:         models.EnrollmentRequestPending,
		StudentMessage: req.Message,
		RequestedAt:    now,
		ExpiresAt:      now.Add(s.policy.RequestTTL),
	}
	if err := s.requests.Create(ctx, request); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a pending request for this course and study year already exists")
		}
		return nil, internalError(s.logger, err, "failed to create enrollment request")
	}

	s.notifier.Dispatch(ctx, request.TeacherID, models.EventRequestCreated, map[string]interface{}{
		"request_id": request.ID,
		"student_id": request.StudentID,
		"course_id":  request.CourseID,
		"study_year": request.StudyYear,
	})
	return request, nil
}

type approvalTerms struct {
	start       time.Time
	end         time.Time
	total       decimal.Decimal
	reservation decimal.Decimal
}

func parseApprovalTerms(req dto.ApproveEnrollmentRequest) (approvalTerms, error) {
	start, err := dto.ParseDate(req.CourseStartDate)
	if err != nil {
		return approvalTerms{}, validationError(err, err.Error())
	}
	end, err := dto.ParseDate(req.CourseEndDate)
	if err != nil {
		return approvalTerms{}, validationError(err, err.Error())
	}
	if !end.After(start) {
		return approvalTerms{}, appErrors.Clone(appErrors.ErrValidation, "courseEndDate must be after courseStartDate")
	}
	if err := requirePositive(req.TotalAmount, "totalAmount"); err != nil {
		return approvalTerms{}, err
	}
	reservation := decimal.Zero
	if req.ReservationAmount != nil {
		reservation = *req.ReservationAmount
	}
	if err := requireNonNegative(reservation, "reservationAmount"); err != nil {
		return approvalTerms{}, err
	}
	if reservation.GreaterThan(req.TotalAmount) {
		return approvalTerms{}, appErrors.Clone(appErrors.ErrValidation, "reservationAmount cannot exceed totalAmount")
	}
	return approvalTerms{start: start, end: end, total: req.TotalAmount, reservation: reservation}, nil
}

// Approve turns a pending request into an active enrollment, consuming one capacity slot and
// issuing the reservation and course invoices in the same transaction.
func (s *EnrollmentRequestService) Approve(ctx context.Context, id string, req dto.ApproveEnrollmentRequest, actor *models.JWTClaims) (*dto.ApprovalResult, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid approval payload")
	}
	terms, err := parseApprovalTerms(req)
	if err != nil {
		return nil, err
	}

	result := &dto.ApprovalResult{}
	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		request, err := s.requests.FindByIDForUpdate(ctx, exec, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
			}
			return err
		}
		if err := requireTeacherOwner(actor, request.TeacherID); err != nil {
			return err
		}
		if request.Status != models.EnrollmentRequestPending {
			return appErrors.Clone(appErrors.ErrConflict, "enrollment request is already "+string(request.Status))
		}
		now := s.now()
		if now.After(request.ExpiresAt) {
			return appErrors.Clone(appErrors.ErrConflict, "enrollment request has expired")
		}

		// A full teacher is refused without touching the subscription row lock.
		admit, err := s.capacity.CanAdmit(ctx, request.TeacherID)
		if err != nil {
			return err
		}
		if !admit {
			return s.capacity.Rejection(ctx, request.TeacherID)
		}
		slot, err := s.capacity.ReserveSlot(ctx, exec, request.TeacherID)
		if err != nil {
			return err
		}
		slotRef := slot.ID
		enrollment := &models.Enrollment{
			EnrollmentRequestID: request.ID,
			StudentID:           request.StudentID,
			TeacherID:           request.TeacherID,
			CourseID:            request.CourseID,
			CapacitySlotRef:     &slotRef,
			StudyYear:           request.StudyYear,
			Status:              models.EnrollmentStatusActive,
			CourseStartDate:     terms.start,
			CourseEndDate:       terms.end,
			TotalCourseAmount:   terms.total,
			ReservationAmount:   terms.reservation,
			CreatedAt:           now,
		}
		if err := s.enrollments.Create(ctx, exec, enrollment); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.Clone(appErrors.ErrConflict, "enrollment request was already converted")
			}
			return err
		}
		ok, err := s.requests.Resolve(ctx, exec, request.ID, models.EnrollmentRequestApproved, req.Notes, now)
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrConflict, "enrollment request is no longer pending")
		}
		result.Enrollment = enrollment

		if terms.reservation.IsPositive() {
			result.ReservationInvoice, err = s.invoices.IssueTx(ctx, exec, enrollment, IssueInvoiceParams{
				Type:      models.InvoiceTypeReservation,
				AmountDue: terms.reservation,
				DueDate:   models.DateOnly(now).AddDate(0, 0, s.policy.ReservationDueDays),
			})
			if err != nil {
				return err
			}
		}
		if remainder := terms.total.Sub(terms.reservation); remainder.IsPositive() {
			result.CourseInvoice, err = s.invoices.IssueTx(ctx, exec, enrollment, IssueInvoiceParams{
				Type:      models.InvoiceTypeCourse,
				AmountDue: remainder,
				DueDate:   terms.start.AddDate(0, 0, s.policy.CourseInvoiceDueDays),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to approve enrollment request")
	}

	enrollment := result.Enrollment
	s.capacity.Forget(ctx, enrollment.TeacherID)
	s.notifier.Dispatch(ctx, enrollment.StudentID, models.EventRequestApproved, map[string]interface{}{
		"request_id":    id,
		"enrollment_id": enrollment.ID,
		"course_id":     enrollment.CourseID,
	})
	s.invoices.Announce(ctx, result.ReservationInvoice, result.CourseInvoice)
	s.logger.Info("enrollment request approved",
		zap.String("request_id", id),
		zap.String("enrollment_id", enrollment.ID),
		zap.String("teacher_id", enrollment.TeacherID))
	return result, nil
}

// Reject closes a pending request with the teacher's reason.
func (s *EnrollmentRequestService) Reject(ctx context.Context, id string, req dto.RejectEnrollmentRequest, actor *models.JWTClaims) (*models.EnrollmentRequest, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid rejection payload")
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireTeacherOwner(actor, request.TeacherID); err != nil {
		return nil, err
	}
	if request.Status != models.EnrollmentRequestPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment request is already "+string(request.Status))
	}

	now := s.now()
	ok, err := s.requests.Resolve(ctx, nil, id, models.EnrollmentRequestRejected, &req.Reason, now)
	if err != nil {
		return nil, internalError(s.logger, err, "failed to reject enrollment request")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment request is no longer pending")
	}
	request.Status = models.EnrollmentRequestRejected
	request.TeacherResponse = &req.Reason
	request.RespondedAt = &now

	s.notifier.Dispatch(ctx, request.StudentID, models.EventRequestRejected, map[string]interface{}{
		"request_id": request.ID,
		"course_id":  request.CourseID,
		"reason":     req.Reason,
	})
	return request, nil
}

// SweepExpired moves stale pending requests to expired.
func (s *EnrollmentRequestService) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.requests.ExpirePending(ctx, s.now())
	if err != nil {
		return 0, internalError(s.logger, err, "failed to expire enrollment requests")
	}
	s.metrics.RecordSweep("requests", count)
	if count > 0 {
		s.logger.Info("expired enrollment requests", zap.Int64("count", count))
	}
	return count, nil
}

// Get returns a request visible to the actor.
func (s *EnrollmentRequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.EnrollmentRequest, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(actor, request.TeacherID, request.StudentID); err != nil {
		return nil, err
	}
	return request, nil
}

// List returns the actor's requests.
func (s *EnrollmentRequestService) List(ctx context.Context, filter models.EnrollmentRequestFilter, actor *models.JWTClaims) ([]models.EnrollmentRequest, *models.Pagination, error) {
	if err := scopeToActor(actor, &filter.TeacherID, &filter.StudentID); err != nil {
		return nil, nil, err
	}
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(s.logger, err, "failed to list enrollment requests")
	}
	return requests, pagination(filter.Page, filter.PageSize, total), nil
}

func (s *EnrollmentRequestService) load(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, internalError(s.logger, err, "failed to load enrollment request")
	}
	return request, nil
}
