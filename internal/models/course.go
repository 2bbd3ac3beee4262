package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course is the read-only catalog entry an enrollment request targets.
type Course struct {
	ID        string          `db:"id" json:"id"`
	TeacherID string          `db:"teacher_id" json:"teacher_id"`
	Title     string          `db:"title" json:"title"`
	Price     decimal.Decimal `db:"price" json:"price"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
