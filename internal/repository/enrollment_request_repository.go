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

const enrollmentRequestColumns = `id, student_id, teacher_id, course_id, study_year, status, student_message, teacher_response, requested_at, responded_at, expires_at`

// EnrollmentRequestRepository persists student enrollment requests.
type EnrollmentRequestRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRequestRepository constructs the repository.
func NewEnrollmentRequestRepository(db *sqlx.DB) *EnrollmentRequestRepository {
	return &EnrollmentRequestRepository{db: db}
}

func (r *EnrollmentRequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a pending request. A second pending request for the same
// student, course and study year fails with ErrDuplicate.
func (r *EnrollmentRequestRepository) Create(ctx context.Context, req *models.EnrollmentRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.EnrollmentRequestPending
	}
	const query = `INSERT INTO enrollment_requests (` + enrollmentRequestColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query,
		req.ID, req.StudentID, req.TeacherID, req.CourseID, req.StudyYear, req.Status,
		req.StudentMessage, req.TeacherResponse, req.RequestedAt, req.RespondedAt, req.ExpiresAt,
	); err != nil {
		return wrapWriteError(err, "create enrollment request")
	}
	return nil
}

// FindByID returns a request by id.
func (r *EnrollmentRequestRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	const query = `SELECT ` + enrollmentRequestColumns + ` FROM enrollment_requests WHERE id = $1`
	var req models.EnrollmentRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// FindByIDForUpdate locks the request row for the rest of the transaction.
func (r *EnrollmentRequestRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentRequest, error) {
	const query = `SELECT ` + enrollmentRequestColumns + ` FROM enrollment_requests WHERE id = $1 FOR UPDATE`
	var req models.EnrollmentRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ExistsPending reports whether the student already has a pending request for the course and year.
func (r *EnrollmentRequestRepository) ExistsPending(ctx context.Context, studentID, courseID, studyYear string) (bool, error) {
	const query = `SELECT 1 FROM enrollment_requests WHERE student_id = $1 AND course_id = $2 AND study_year = $3 AND status = $4 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID, studyYear, models.EnrollmentRequestPending); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending enrollment request: %w", err)
	}
	return true, nil
}

// Resolve moves a pending request to a terminal status. It reports false when
// the request was no longer pending.
func (r *EnrollmentRequestRepository) Resolve(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentRequestStatus, response *string, at time.Time) (bool, error) {
	const query = `UPDATE enrollment_requests SET status = $2, teacher_response = $3, responded_at = $4
WHERE id = $1 AND status = $5`
	res, err := r.exec(exec).ExecContext(ctx, query, id, status, response, at, models.EnrollmentRequestPending)
	if err != nil {
		return false, fmt.Errorf("resolve enrollment request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve enrollment request rows: %w", err)
	}
	return affected == 1, nil
}

// ExpirePending marks every pending request past its horizon as expired.
func (r *EnrollmentRequestRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE enrollment_requests SET status = $1 WHERE status = $2 AND expires_at < $3`
	res, err := r.db.ExecContext(ctx, query, models.EnrollmentRequestExpired, models.EnrollmentRequestPending, now)
	if err != nil {
		return 0, fmt.Errorf("expire enrollment requests: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire enrollment requests rows: %w", err)
	}
	return affected, nil
}

// List returns requests matching the filter, newest first.
func (r *EnrollmentRequestRepository) List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequest, int, error) {
	var conditions []string
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
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM enrollment_requests%s ORDER BY requested_at DESC LIMIT %d OFFSET %d`, enrollmentRequestColumns, clause, limit, offset)
	var requests []models.EnrollmentRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollment requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollment_requests"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollment requests: %w", err)
	}
	return requests, total, nil
}
