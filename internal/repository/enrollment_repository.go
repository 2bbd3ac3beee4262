package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-billing-api/internal/models"
)

const enrollmentColumns = `id, enrollment_request_id, student_id, teacher_id, course_id, capacity_slot_ref, study_year, status,
course_start_date, course_end_date, total_course_amount, reservation_amount, created_at, updated_at, deleted_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.StudentID != "" {
		add("student_id", filter.StudentID)
	}
	if filter.TeacherID != "" {
		add("teacher_id", filter.TeacherID)
	}
	if filter.CourseID != "" {
		add("course_id", filter.CourseID)
	}
	if filter.StudyYear != "" {
		add("study_year", filter.StudyYear)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	clause := " WHERE " + strings.Join(conditions, " AND ")
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, enrollmentColumns, clause, limit, offset)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns a live enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 AND deleted_at IS NULL`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByIDForUpdate loads and locks a live enrollment inside a transaction.
func (r *EnrollmentRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsOpen checks whether the student already holds an enrollment that occupies a seat in the course for the year.
func (r *EnrollmentRepository) ExistsOpen(ctx context.Context, studentID, courseID, studyYear string) (bool, error) {
	const query = `SELECT 1 FROM enrollments
WHERE student_id = $1 AND course_id = $2 AND study_year = $3 AND status IN ($4, $5) AND deleted_at IS NULL LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, studentID, courseID, studyYear, models.EnrollmentStatusActive, models.EnrollmentStatusSuspended)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = enrollment.CreatedAt
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, enrollment_request_id, student_id, teacher_id, course_id, capacity_slot_ref, study_year, status,
course_start_date, course_end_date, total_course_amount, reservation_amount, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.exec(exec).ExecContext(ctx, query,
		enrollment.ID, enrollment.EnrollmentRequestID, enrollment.StudentID, enrollment.TeacherID, enrollment.CourseID,
		enrollment.CapacitySlotRef, enrollment.StudyYear, enrollment.Status,
		enrollment.CourseStartDate, enrollment.CourseEndDate, enrollment.TotalCourseAmount, enrollment.ReservationAmount,
		enrollment.CreatedAt, enrollment.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "create enrollment")
	}
	return nil
}

// Update writes the mutable fields of an enrollment.
func (r *EnrollmentRepository) Update(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollments SET status = $2, course_start_date = $3, course_end_date = $4,
total_course_amount = $5, reservation_amount = $6, capacity_slot_ref = $7, updated_at = $8
WHERE id = $1 AND deleted_at IS NULL`
	_, err := r.exec(exec).ExecContext(ctx, query,
		enrollment.ID, enrollment.Status, enrollment.CourseStartDate, enrollment.CourseEndDate,
		enrollment.TotalCourseAmount, enrollment.ReservationAmount, enrollment.CapacitySlotRef, enrollment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	return nil
}

// ExpireEnded flips active enrollments whose course ended before the date of now and
// returns what is needed to release their capacity slots.
func (r *EnrollmentRepository) ExpireEnded(ctx context.Context, exec sqlx.ExtContext, now time.Time) ([]models.ExpiredEnrollment, error) {
	const query = `UPDATE enrollments SET status = $1, updated_at = $4
WHERE status = $2 AND deleted_at IS NULL AND course_end_date < $3
RETURNING id, teacher_id, capacity_slot_ref`
	var expired []models.ExpiredEnrollment
	err := sqlx.SelectContext(ctx, r.exec(exec), &expired, query,
		models.EnrollmentStatusExpired, models.EnrollmentStatusActive, models.DateOnly(now), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("expire enrollments: %w", err)
	}
	return expired, nil
}
