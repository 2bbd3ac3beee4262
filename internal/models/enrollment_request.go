package models

import "time"

// EnrollmentRequestStatus tracks a student's request through teacher review.
type EnrollmentRequestStatus string

const (
	EnrollmentRequestPending  EnrollmentRequestStatus = "pending"
	EnrollmentRequestApproved EnrollmentRequestStatus = "approved"
	EnrollmentRequestRejected EnrollmentRequestStatus = "rejected"
	EnrollmentRequestExpired  EnrollmentRequestStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s EnrollmentRequestStatus) Terminal() bool {
	return s == EnrollmentRequestApproved || s == EnrollmentRequestRejected || s == EnrollmentRequestExpired
}

// EnrollmentRequest is a student's proposal to join a course for a study year.
type EnrollmentRequest struct {
	ID              string                  `db:"id" json:"id"`
	StudentID       string                  `db:"student_id" json:"student_id"`
	TeacherID       string                  `db:"teacher_id" json:"teacher_id"`
	CourseID        string                  `db:"course_id" json:"course_id"`
	StudyYear       string                  `db:"study_year" json:"study_year"`
	Status          EnrollmentRequestStatus `db:"status" json:"status"`
	StudentMessage  *string                 `db:"student_message" json:"student_message,omitempty"`
	TeacherResponse *string                 `db:"teacher_response" json:"teacher_response,omitempty"`
	RequestedAt     time.Time               `db:"requested_at" json:"requested_at"`
	RespondedAt     *time.Time              `db:"responded_at" json:"responded_at,omitempty"`
	ExpiresAt       time.Time               `db:"expires_at" json:"expires_at"`
}

// EnrollmentRequestFilter narrows request listings.
type EnrollmentRequestFilter struct {
	StudentID string
	TeacherID string
	CourseID  string
	StudyYear string
	Status    EnrollmentRequestStatus
	Page      int
	PageSize  int
}
