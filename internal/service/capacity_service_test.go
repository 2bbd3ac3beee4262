package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.deletes++
	return nil
}

func subscriptionSlot(id, teacherID string, max, current int) models.CapacitySlot {
	return models.CapacitySlot{
		ID:              id,
		TeacherID:       teacherID,
		PackageName:     "starter",
		MaxStudents:     max,
		CurrentStudents: current,
		Status:          models.SubscriptionStatusActive,
		StartsAt:        testNow.AddDate(0, -1, 0),
		EndsAt:          testNow.AddDate(0, 11, 0),
	}
}

func newCapacityFixture(cache *CacheService, slots ...models.CapacitySlot) (*CapacityService, *memSubscriptions) {
	subs := newMemSubscriptions(slots...)
	svc := NewCapacityService(subs, cache, NewMetricsService(), zap.NewNop())
	svc.now = fixedClock
	return svc, subs
}

func TestCapacityReserveUntilFull(t *testing.T) {
	svc, subs := newCapacityFixture(nil, subscriptionSlot("sub-1", "teacher-1", 2, 0))
	ctx := context.Background()

	ok, err := svc.CanAdmit(ctx, "teacher-1")
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 2; i++ {
		slot, err := svc.ReserveSlot(ctx, nil, "teacher-1")
		require.NoError(t, err)
		assert.Equal(t, "sub-1", slot.ID)
	}
	assert.Equal(t, 2, subs.current("sub-1"))

	_, err = svc.ReserveSlot(ctx, nil, "teacher-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))
	assert.Equal(t, "teacher subscription has no free student slots", appErrors.FromError(err).Message)
	assert.Equal(t, 2, subs.current("sub-1"))

	ok, err = svc.CanAdmit(ctx, "teacher-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCapacityWithoutSubscription(t *testing.T) {
	expired := subscriptionSlot("sub-old", "teacher-1", 5, 0)
	expired.EndsAt = testNow.AddDate(0, 0, -1)
	svc, _ := newCapacityFixture(nil, expired)
	ctx := context.Background()

	ok, err := svc.CanAdmit(ctx, "teacher-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.ReserveSlot(ctx, nil, "teacher-1")
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))
	assert.Equal(t, "teacher has no active subscription", appErrors.FromError(err).Message)
}

func TestCapacityReleaseNeverGoesNegative(t *testing.T) {
	svc, subs := newCapacityFixture(nil, subscriptionSlot("sub-1", "teacher-1", 3, 1))
	ctx := context.Background()
	ref := "sub-1"

	require.NoError(t, svc.ReleaseSlot(ctx, nil, "teacher-1", &ref))
	assert.Equal(t, 0, subs.current("sub-1"))
	require.NoError(t, svc.ReleaseSlot(ctx, nil, "teacher-1", &ref))
	assert.Equal(t, 0, subs.current("sub-1"))
}

func TestCapacityReleaseFallsBackToActiveSubscription(t *testing.T) {
	svc, subs := newCapacityFixture(nil, subscriptionSlot("sub-1", "teacher-1", 3, 2))
	ctx := context.Background()
	empty := ""

	require.NoError(t, svc.ReleaseSlot(ctx, nil, "teacher-1", nil))
	assert.Equal(t, 1, subs.current("sub-1"))
	require.NoError(t, svc.ReleaseSlot(ctx, nil, "teacher-1", &empty))
	assert.Equal(t, 0, subs.current("sub-1"))

	// Unknown teacher: nothing to release, still not an error.
	require.NoError(t, svc.ReleaseSlot(ctx, nil, "teacher-9", nil))
}

func TestCapacitySnapshotIsCachedUntilForgotten(t *testing.T) {
	store := newMemCache()
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), true)
	svc, _ := newCapacityFixture(cache, subscriptionSlot("sub-1", "teacher-1", 3, 1))
	ctx := context.Background()
	teacher := teacherActor("teacher-1")

	snap, err := svc.Snapshot(ctx, "teacher-1", teacher)
	require.NoError(t, err)
	assert.True(t, snap.HasSubscription)
	assert.Equal(t, 2, snap.Remaining)
	assert.True(t, snap.CanAdmit)

	_, err = svc.ReserveSlot(ctx, nil, "teacher-1")
	require.NoError(t, err)

	stale, err := svc.Snapshot(ctx, "teacher-1", teacher)
	require.NoError(t, err)
	assert.Equal(t, 1, stale.CurrentStudents)

	svc.Forget(ctx, "teacher-1")
	fresh, err := svc.Snapshot(ctx, "teacher-1", teacher)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.CurrentStudents)
	assert.Equal(t, 1, fresh.Remaining)
	assert.Equal(t, 1, store.deletes)
}

func TestCapacitySnapshotAccess(t *testing.T) {
	svc, _ := newCapacityFixture(nil)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx, "teacher-1", teacherActor("teacher-2"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	snap, err := svc.Snapshot(ctx, "teacher-1", adminActor())
	require.NoError(t, err)
	assert.False(t, snap.HasSubscription)
	assert.False(t, snap.CanAdmit)
	assert.Nil(t, snap.ValidUntil)
}

func TestCatalogReadsThroughCache(t *testing.T) {
	courses := &memCourses{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", TeacherID: "teacher-1", Title: "Algebra", Price: dec("500"), IsActive: true},
	}}
	cache := NewCacheService(newMemCache(), nil, time.Minute, zap.NewNop(), true)
	svc := NewCatalogService(courses, cache, zap.NewNop())
	ctx := context.Background()

	first, err := svc.Course(ctx, "course-1")
	require.NoError(t, err)
	second, err := svc.Course(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", second.TeacherID)
	assert.True(t, first.Price.Equal(second.Price))
	assert.Equal(t, 1, courses.calls)

	_, err = svc.Course(ctx, "course-9")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
