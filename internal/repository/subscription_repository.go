package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-billing-api/internal/models"
)

const subscriptionColumns = `id, teacher_id, package_name, max_students, current_students, status, starts_at, ends_at`

// activeSubscriptionQuery selects the teacher's subscription whose window contains $2.
const activeSubscriptionQuery = `SELECT id FROM teacher_subscriptions
WHERE teacher_id = $1 AND status = 'active' AND starts_at <= $2 AND ends_at >= $2
ORDER BY ends_at DESC LIMIT 1`

// SubscriptionRepository reads teacher packages and maintains their student counters.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository constructs the repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindActive returns the subscription in force for the teacher at the given instant.
func (r *SubscriptionRepository) FindActive(ctx context.Context, teacherID string, at time.Time) (*models.CapacitySlot, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM teacher_subscriptions WHERE id = (` + activeSubscriptionQuery + `)`
	var slot models.CapacitySlot
	if err := r.db.GetContext(ctx, &slot, query, teacherID, at); err != nil {
		return nil, err
	}
	return &slot, nil
}

// Reserve increments the active subscription's counter only while it is below the limit.
// It returns sql.ErrNoRows when the teacher has no active subscription or no free slot.
func (r *SubscriptionRepository) Reserve(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (*models.CapacitySlot, error) {
	query := `UPDATE teacher_subscriptions
SET current_students = current_students + 1, updated_at = $2
WHERE id = (` + activeSubscriptionQuery + `) AND current_students < max_students
RETURNING ` + subscriptionColumns
	var slot models.CapacitySlot
	if err := sqlx.GetContext(ctx, r.exec(exec), &slot, query, teacherID, at); err != nil {
		return nil, err
	}
	return &slot, nil
}

// Release decrements the counter of a specific subscription, never below zero.
func (r *SubscriptionRepository) Release(ctx context.Context, exec sqlx.ExtContext, subscriptionID string, at time.Time) (bool, error) {
	const query = `UPDATE teacher_subscriptions
SET current_students = GREATEST(current_students - 1, 0), updated_at = $2
WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, subscriptionID, at)
	if err != nil {
		return false, fmt.Errorf("release capacity slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release capacity slot rows: %w", err)
	}
	return affected > 0, nil
}

// ReleaseActive decrements the counter of the teacher's currently active subscription.
func (r *SubscriptionRepository) ReleaseActive(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (bool, error) {
	query := `UPDATE teacher_subscriptions
SET current_students = GREATEST(current_students - 1, 0), updated_at = $2
WHERE id = (` + activeSubscriptionQuery + `)`
	res, err := r.exec(exec).ExecContext(ctx, query, teacherID, at)
	if err != nil {
		return false, fmt.Errorf("release active capacity slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release active capacity slot rows: %w", err)
	}
	return affected > 0, nil
}
