package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	appErrors "github.com/noah-isme/tutor-billing-api/pkg/errors"
)

type courseStore interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CatalogService resolves courses to their teacher and price, with a read-through cache.
type CatalogService struct {
	courses courseStore
	cache   *CacheService
	logger  *zap.Logger
}

// NewCatalogService constructs a CatalogService. cache may be nil.
func NewCatalogService(courses courseStore, cache *CacheService, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{courses: courses, cache: cache, logger: logger}
}

func courseCacheKey(id string) string { return "course:" + id }

// Course returns the catalog entry for id.
func (s *CatalogService) Course(ctx context.Context, id string) (*models.Course, error) {
	var cached models.Course
	if s.cache.Get(ctx, courseCacheKey(id), &cached) {
		return &cached, nil
	}
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, internalError(s.logger, err, "failed to load course")
	}
	s.cache.Set(ctx, courseCacheKey(id), course, 0)
	return course, nil
}
