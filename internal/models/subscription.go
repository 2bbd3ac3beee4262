package models

import "time"

// SubscriptionStatus tracks a teacher's package purchase.
type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// CapacitySlot is the teacher subscription row backing the student quota.
type CapacitySlot struct {
	ID              string             `db:"id" json:"id"`
	TeacherID       string             `db:"teacher_id" json:"teacher_id"`
	PackageName     string             `db:"package_name" json:"package_name"`
	MaxStudents     int                `db:"max_students" json:"max_students"`
	CurrentStudents int                `db:"current_students" json:"current_students"`
	Status          SubscriptionStatus `db:"status" json:"status"`
	StartsAt        time.Time          `db:"starts_at" json:"starts_at"`
	EndsAt          time.Time          `db:"ends_at" json:"ends_at"`
}

// Available reports whether one more student fits at instant now.
func (s *CapacitySlot) Available(now time.Time) bool {
	if s == nil || s.Status != SubscriptionStatusActive {
		return false
	}
	if now.Before(s.StartsAt) || now.After(s.EndsAt) {
		return false
	}
	return s.CurrentStudents < s.MaxStudents
}

// CapacitySnapshot is the read model returned to teachers.
type CapacitySnapshot struct {
	TeacherID       string     `json:"teacher_id"`
	HasSubscription bool       `json:"has_subscription"`
	SubscriptionID  string     `json:"subscription_id,omitempty"`
	PackageName     string     `json:"package_name,omitempty"`
	MaxStudents     int        `json:"max_students"`
	CurrentStudents int        `json:"current_students"`
	Remaining       int        `json:"remaining"`
	CanAdmit        bool       `json:"can_admit"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
}
