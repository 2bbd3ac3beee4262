package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

type subscriptionStore interface {
	FindActive(ctx context.Context, teacherID string, at time.Time) (*models.CapacitySlot, error)
	Reserve(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (*models.CapacitySlot, error)
	Release(ctx context.Context, exec sqlx.ExtContext, subscriptionID string, at time.Time) (bool, error)
	ReleaseActive(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (bool, error)
}

// CapacityService guards the number of students a teacher's subscription admits.
type CapacityService struct {
	subscriptions subscriptionStore
	cache         *CacheService
	metrics       *MetricsService
	logger        *zap.Logger
	now           func() time.Time
}

// NewCapacityService constructs a CapacityService. cache and metrics may be nil.
func NewCapacityService(subscriptions subscriptionStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{subscriptions: subscriptions, cache: cache, metrics: metrics, logger: logger, now: systemClock}
}

func capacityCacheKey(teacherID string) string { return "capacity:" + teacherID }

// CanAdmit reports whether the teacher can take one more student right now.
func (s *CapacityService) CanAdmit(ctx context.Context, teacherID string) (bool, error) {
	slot, err := s.subscriptions.FindActive(ctx, teacherID, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, internalError(s.logger, err, "failed to load subscription")
	}
	return slot.Available(s.now()), nil
}

// ReserveSlot takes one slot on exec. It must run in the transaction that creates the enrollment.
func (s *CapacityService) ReserveSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.CapacitySlot, error) {
	now := s.now()
	slot, err := s.subscriptions.Reserve(ctx, exec, teacherID, now)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, internalError(s.logger, err, "failed to reserve capacity slot")
	}
	return nil, s.Rejection(ctx, teacherID)
}

// Rejection counts a refused admission and explains it.
func (s *CapacityService) Rejection(ctx context.Context, teacherID string) error {
	s.metrics.RecordCapacityRejection()
	if _, err := s.subscriptions.FindActive(ctx, teacherID, s.now()); errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrCapacityExceeded, "teacher has no active subscription")
	}
	return appErrors.Clone(appErrors.ErrCapacityExceeded, "teacher subscription has no free student slots")
}

// ReleaseSlot frees the slot an enrollment consumed. Without a recorded slot the
// teacher's active subscription is used.
func (s *CapacityService) ReleaseSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string, slotRef *string) error {
	now := s.now()
	var (
		released bool
		err      error
	)
	if slotRef != nil && *slotRef != "" {
		released, err = s.subscriptions.Release(ctx, exec, *slotRef, now)
	} else {
		released, err = s.subscriptions.ReleaseActive(ctx, exec, teacherID, now)
	}
	if err != nil {
		return internalError(s.logger, err, "failed to release capacity slot")
	}
	if !released {
		s.logger.Warn("no subscription to release slot from", zap.String("teacher_id", teacherID))
	}
	return nil
}

// Forget drops the cached snapshot once a reserve or release has committed.
func (s *CapacityService) Forget(ctx context.Context, teacherIDs ...string) {
	keys := make([]string, 0, len(teacherIDs))
	for _, id := range teacherIDs {
		keys = append(keys, capacityCacheKey(id))
	}
	s.cache.Invalidate(ctx, keys...)
}

// Snapshot returns the teacher's current quota usage.
func (s *CapacityService) Snapshot(ctx context.Context, teacherID string, actor *models.JWTClaims) (*models.CapacitySnapshot, error) {
	if err := requireTeacherOwner(actor, teacherID); err != nil {
		return nil, err
	}
	var cached models.CapacitySnapshot
	if s.cache.Get(ctx, capacityCacheKey(teacherID), &cached) {
		return &cached, nil
	}

	now := s.now()
	snapshot := &models.CapacitySnapshot{TeacherID: teacherID}
	slot, err := s.subscriptions.FindActive(ctx, teacherID, now)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, internalError(s.logger, err, "failed to load subscription")
	default:
		ends := slot.EndsAt
		snapshot.HasSubscription = true
		snapshot.SubscriptionID = slot.ID
		snapshot.PackageName = slot.PackageName
		snapshot.MaxStudents = slot.MaxStudents
		snapshot.CurrentStudents = slot.CurrentStudents
		snapshot.Remaining = slot.MaxStudents - slot.CurrentStudents
		if snapshot.Remaining < 0 {
			snapshot.Remaining = 0
		}
		snapshot.CanAdmit = slot.Available(now)
		snapshot.ValidUntil = &ends
	}
	s.cache.Set(ctx, capacityCacheKey(teacherID), snapshot, time.Minute)
	return snapshot, nil
}
