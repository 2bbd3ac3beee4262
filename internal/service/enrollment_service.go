package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

type enrollmentStore interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
	Update(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	ExpireEnded(ctx context.Context, exec sqlx.ExtContext, now time.Time) ([]models.ExpiredEnrollment, error)
}

type capacityReleaser interface {
	ReleaseSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string, slotRef *string) error
	Forget(ctx context.Context, teacherIDs ...string)
}

// EnrollmentService manages enrollments after approval.
type EnrollmentService struct {
	enrollments enrollmentStore
	capacity    capacityReleaser
	tx          transactor
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(enrollments enrollmentStore, capacity capacityReleaser, tx transactor, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		enrollments: enrollments,
		capacity:    capacity,
		tx:          tx,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         systemClock,
	}
}

// List returns the actor's enrollments.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter, actor *models.JWTClaims) ([]models.Enrollment, *models.Pagination, error) {
	if err := scopeToActor(actor, &filter.TeacherID, &filter.StudentID); err != nil {
		return nil, nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status")
	}
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(s.logger, err, "failed to list enrollments")
	}
	return enrollments, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns an enrollment visible to the actor.
func (s *EnrollmentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, internalError(s.logger, err, "failed to load enrollment")
	}
	if err := requireParticipant(actor, enrollment.TeacherID, enrollment.StudentID); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Update patches dates, amounts or status. Leaving for cancelled or expired frees the capacity slot.
func (s *EnrollmentService) Update(ctx context.Context, id string, req dto.UpdateEnrollmentRequest, actor *models.JWTClaims) (*models.Enrollment, error) {
	if err := requireBillingStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status")
	}
	var start, end *time.Time
	if req.CourseStartDate != nil {
		parsed, err := dto.ParseDate(*req.CourseStartDate)
		if err != nil {
			return nil, validationError(err, err.Error())
		}
		start = &parsed
	}
	if req.CourseEndDate != nil {
		parsed, err := dto.ParseDate(*req.CourseEndDate)
		if err != nil {
			return nil, validationError(err, err.Error())
		}
		end = &parsed
	}
	if start != nil && end != nil && !end.After(*start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "courseEndDate must be after courseStartDate")
	}

	var (
		enrollment *models.Enrollment
		released   bool
	)
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		var err error
		enrollment, err = s.enrollments.FindByIDForUpdate(ctx, exec, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return err
		}
		if err := requireTeacherOwner(actor, enrollment.TeacherID); err != nil {
			return err
		}
		if enrollment.Status.Frozen() {
			return appErrors.Clone(appErrors.ErrImmutableState, "cannot modify completed/cancelled enrollment")
		}
		previous := enrollment.Status

		if start != nil {
			enrollment.CourseStartDate = *start
		}
		if end != nil {
			enrollment.CourseEndDate = *end
		}
		if !enrollment.CourseEndDate.After(enrollment.CourseStartDate) {
			return appErrors.Clone(appErrors.ErrValidation, "courseEndDate must be after courseStartDate")
		}
		if req.TotalCourseAmount != nil {
			if err := requirePositive(*req.TotalCourseAmount, "totalCourseAmount"); err != nil {
				return err
			}
			enrollment.TotalCourseAmount = *req.TotalCourseAmount
		}
		if req.ReservationAmount != nil {
			if err := requireNonNegative(*req.ReservationAmount, "reservationAmount"); err != nil {
				return err
			}
			enrollment.ReservationAmount = *req.ReservationAmount
		}
		if enrollment.ReservationAmount.GreaterThan(enrollment.TotalCourseAmount) {
			return appErrors.Clone(appErrors.ErrValidation, "reservationAmount cannot exceed totalCourseAmount")
		}

		if req.Status != nil && *req.Status != previous {
			if previous == models.EnrollmentStatusExpired {
				return appErrors.Clone(appErrors.ErrImmutableState, "cannot change status of expired enrollment")
			}
			enrollment.Status = *req.Status
			if enrollment.Status.ReleasesCapacity() && !previous.ReleasesCapacity() {
				if err := s.capacity.ReleaseSlot(ctx, exec, enrollment.TeacherID, enrollment.CapacitySlotRef); err != nil {
					return err
				}
				released = true
			}
		}
		return s.enrollments.Update(ctx, exec, enrollment)
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to update enrollment")
	}
	if released {
		s.capacity.Forget(ctx, enrollment.TeacherID)
		s.logger.Info("enrollment released capacity",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("status", string(enrollment.Status)))
	}
	return enrollment, nil
}

// SweepExpired expires active enrollments whose course has ended and frees their slots.
func (s *EnrollmentService) SweepExpired(ctx context.Context) (int64, error) {
	var expired []models.ExpiredEnrollment
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		var err error
		expired, err = s.enrollments.ExpireEnded(ctx, exec, s.now())
		if err != nil {
			return err
		}
		for _, e := range expired {
			if err := s.capacity.ReleaseSlot(ctx, exec, e.TeacherID, e.CapacitySlotRef); err != nil {
				return fmt.Errorf("release slot for enrollment %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, txError(s.logger, err, "failed to expire enrollments")
	}

	teachers := make([]string, 0, len(expired))
	seen := make(map[string]struct{}, len(expired))
	for _, e := range expired {
		if _, ok := seen[e.TeacherID]; ok {
			continue
		}
		seen[e.TeacherID] = struct{}{}
		teachers = append(teachers, e.TeacherID)
	}
	s.capacity.Forget(ctx, teachers...)
	count := int64(len(expired))
	s.metrics.RecordSweep("enrollments", count)
	if count > 0 {
		s.logger.Info("expired enrollments", zap.Int64("count", count))
	}
	return count, nil
}
