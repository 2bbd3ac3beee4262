package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

type enrollmentFixture struct {
	svc         *EnrollmentService
	enrollments *memEnrollments
	subs        *memSubscriptions
}

func newEnrollmentFixture(current int, enrollments ...models.Enrollment) *enrollmentFixture {
	f := &enrollmentFixture{
		enrollments: newMemEnrollments(enrollments...),
		subs: newMemSubscriptions(models.CapacitySlot{
			ID:              "sub-1",
			TeacherID:       "teacher-1",
			MaxStudents:     5,
			CurrentStudents: current,
			Status:          models.SubscriptionStatusActive,
			StartsAt:        testNow.AddDate(0, -1, 0),
			EndsAt:          testNow.AddDate(1, 0, 0),
		}),
	}
	capacity := NewCapacityService(f.subs, nil, nil, zap.NewNop())
	capacity.now = fixedClock
	f.svc = NewEnrollmentService(f.enrollments, capacity, &fakeTx{}, nil, nil, zap.NewNop())
	f.svc.now = fixedClock
	return f
}

func statusPtr(s models.EnrollmentStatus) *models.EnrollmentStatus { return &s }

func TestEnrollmentUpdateRejectsFrozen(t *testing.T) {
	completed := activeEnrollment("enr-done", "teacher-1", "student-1")
	completed.Status = models.EnrollmentStatusCompleted
	cancelled := activeEnrollment("enr-cancel", "teacher-1", "student-2")
	cancelled.Status = models.EnrollmentStatusCancelled
	f := newEnrollmentFixture(1, completed, cancelled)

	for _, id := range []string{"enr-done", "enr-cancel"} {
		_, err := f.svc.Update(context.Background(), id, dto.UpdateEnrollmentRequest{TotalCourseAmount: decPtr("900")}, teacherActor("teacher-1"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrImmutableState))
		assert.Equal(t, "cannot modify completed/cancelled enrollment", appErrors.FromError(err).Message)
	}
}

func TestEnrollmentUpdateValidatesEffectiveValues(t *testing.T) {
	f := newEnrollmentFixture(1, activeEnrollment("enr-1", "teacher-1", "student-1"))
	ctx := context.Background()
	teacher := teacherActor("teacher-1")

	_, err := f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{TotalCourseAmount: decPtr("50")}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrValidation), "reservation 100 exceeds new total")

	end := "2024-03-15"
	_, err = f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{CourseEndDate: &end}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrValidation), "end before existing start")

	start, end := "2024-05-01", "2024-04-01"
	_, err = f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{CourseStartDate: &start, CourseEndDate: &end}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{Status: statusPtr("paused")}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{ReservationAmount: decPtr("99.999")}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.True(t, f.enrollments.get("enr-1").ReservationAmount.Equal(dec("100")))

	_, err = f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{ReservationAmount: decPtr("150")}, teacherActor("teacher-2"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	updated, err := f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{ReservationAmount: decPtr("150"), TotalCourseAmount: decPtr("600")}, teacher)
	require.NoError(t, err)
	assert.True(t, updated.ReservationAmount.Equal(dec("150")))
	assert.True(t, f.enrollments.get("enr-1").TotalCourseAmount.Equal(dec("600")))
}

func TestEnrollmentStatusTransitionsAndCapacity(t *testing.T) {
	f := newEnrollmentFixture(2,
		activeEnrollment("enr-1", "teacher-1", "student-1"),
		activeEnrollment("enr-2", "teacher-1", "student-2"),
	)
	ctx := context.Background()
	teacher := teacherActor("teacher-1")

	suspended, err := f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{Status: statusPtr(models.EnrollmentStatusSuspended)}, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusSuspended, suspended.Status)
	assert.Equal(t, 2, f.subs.current("sub-1"), "suspension keeps the slot")

	_, err = f.svc.Update(ctx, "enr-1", dto.UpdateEnrollmentRequest{Status: statusPtr(models.EnrollmentStatusCancelled)}, teacher)
	require.NoError(t, err)
	assert.Equal(t, 1, f.subs.current("sub-1"))

	_, err = f.svc.Update(ctx, "enr-2", dto.UpdateEnrollmentRequest{Status: statusPtr(models.EnrollmentStatusCompleted)}, teacher)
	require.NoError(t, err)
	assert.Equal(t, 1, f.subs.current("sub-1"), "completion keeps the slot")

	_, err = f.svc.Update(ctx, "enr-2", dto.UpdateEnrollmentRequest{Status: statusPtr(models.EnrollmentStatusActive)}, teacher)
	assert.True(t, errors.Is(err, appErrors.ErrImmutableState))
}

func TestEnrollmentExpiredStatusIsFinal(t *testing.T) {
	expired := activeEnrollment("enr-1", "teacher-1", "student-1")
	expired.Status = models.EnrollmentStatusExpired
	f := newEnrollmentFixture(0, expired)

	_, err := f.svc.Update(context.Background(), "enr-1", dto.UpdateEnrollmentRequest{Status: statusPtr(models.EnrollmentStatusActive)}, adminActor())
	assert.True(t, errors.Is(err, appErrors.ErrImmutableState))
}

func TestEnrollmentSweepExpiredReleasesSlots(t *testing.T) {
	ended := activeEnrollment("enr-ended", "teacher-1", "student-1")
	ended.CourseStartDate = testNow.AddDate(0, -3, 0)
	ended.CourseEndDate = models.DateOnly(testNow).Add(-24 * time.Hour)
	endsToday := activeEnrollment("enr-today", "teacher-1", "student-2")
	endsToday.CourseStartDate = testNow.AddDate(0, -3, 0)
	endsToday.CourseEndDate = models.DateOnly(testNow)
	f := newEnrollmentFixture(3, ended, endsToday, activeEnrollment("enr-running", "teacher-1", "student-3"))
	ctx := context.Background()

	count, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, models.EnrollmentStatusExpired, f.enrollments.get("enr-ended").Status)
	assert.Equal(t, models.EnrollmentStatusActive, f.enrollments.get("enr-today").Status)
	assert.Equal(t, 2, f.subs.current("sub-1"))

	count, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 2, f.subs.current("sub-1"))
}

func TestEnrollmentVisibility(t *testing.T) {
	f := newEnrollmentFixture(2,
		activeEnrollment("enr-1", "teacher-1", "student-1"),
		activeEnrollment("enr-2", "teacher-2", "student-2"),
	)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "enr-1", studentActor("student-2"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = f.svc.Get(ctx, "missing", adminActor())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	items, page, err := f.svc.List(ctx, models.EnrollmentFilter{}, teacherActor("teacher-2"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "enr-2", items[0].ID)
	assert.Equal(t, 20, page.PageSize)
}
