package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
	EnrollmentStatusExpired   EnrollmentStatus = "expired"
	EnrollmentStatusSuspended EnrollmentStatus = "suspended"
)

// Valid reports whether the status is one of the known variants.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusCompleted, EnrollmentStatusCancelled, EnrollmentStatusExpired, EnrollmentStatusSuspended:
		return true
	}
	return false
}

// Frozen reports whether the enrollment rejects further updates.
func (s EnrollmentStatus) Frozen() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusCancelled
}

// ReleasesCapacity reports whether entering this status frees the teacher's slot.
func (s EnrollmentStatus) ReleasesCapacity() bool {
	return s == EnrollmentStatusCancelled || s == EnrollmentStatusExpired
}

// Enrollment is the accepted, billable relationship between a student and a course.
type Enrollment struct {
	ID                  string           `db:"id" json:"id"`
	EnrollmentRequestID string           `db:"enrollment_request_id" json:"enrollment_request_id"`
	StudentID           string           `db:"student_id" json:"student_id"`
	TeacherID           string           `db:"teacher_id" json:"teacher_id"`
	CourseID            string           `db:"course_id" json:"course_id"`
	CapacitySlotRef     *string          `db:"capacity_slot_ref" json:"capacity_slot_ref,omitempty"`
	StudyYear           string           `db:"study_year" json:"study_year"`
	Status              EnrollmentStatus `db:"status" json:"status"`
	CourseStartDate     time.Time        `db:"course_start_date" json:"course_start_date"`
	CourseEndDate       time.Time        `db:"course_end_date" json:"course_end_date"`
	TotalCourseAmount   decimal.Decimal  `db:"total_course_amount" json:"total_course_amount"`
	ReservationAmount   decimal.Decimal  `db:"reservation_amount" json:"reservation_amount"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
	DeletedAt           *time.Time       `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Billable reports whether new invoices may be issued against the enrollment.
func (e *Enrollment) Billable() bool {
	return e != nil && e.DeletedAt == nil && e.Status == EnrollmentStatusActive
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	TeacherID string
	CourseID  string
	StudyYear string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
}

// ExpiredEnrollment is returned by the expiry sweep so slots can be released.
type ExpiredEnrollment struct {
	ID              string  `db:"id"`
	TeacherID       string  `db:"teacher_id"`
	CapacitySlotRef *string `db:"capacity_slot_ref"`
}
