package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

const (
	statsCachePrefix        = "admission:stats:"
	availabilityCachePrefix = "admission:availability:"
	versionCachePrefix      = "admission:version:"
)

// Read models are keyed by the course version. Invalidation bumps the version,
// so a fill that read the store before a commit lands on a key nobody reads.
func statsCacheKey(courseID string, version int64) string {
	return fmt.Sprintf("%s%s:v%d", statsCachePrefix, courseID, version)
}

func availabilityCacheKey(courseID string, version int64) string {
	return fmt.Sprintf("%s%s:v%d", availabilityCachePrefix, courseID, version)
}

func courseVersionKey(courseID string) string { return versionCachePrefix + courseID }

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// CourseVersion reads the current cache version of a course. It must be read
// before the store. ok is false when caching is off or the version is unknown;
// callers then neither read nor fill the cache.
func (s *CacheService) CourseVersion(ctx context.Context, courseID string) (version int64, ok bool) {
	if !s.Enabled() {
		return 0, false
	}
	err := s.repo.Get(ctx, courseVersionKey(courseID), &version)
	if err == nil {
		return version, true
	}
	if errors.Is(err, appErrors.ErrCacheMiss) {
		return 0, true
	}
	s.logger.Warn("cache version read failed", zap.String("course_id", courseID), zap.Error(err))
	return 0, false
}

// InvalidateCourse retires every cached read model of a course by bumping its
// version. Entries under older versions expire on their TTL.
func (s *CacheService) InvalidateCourse(ctx context.Context, courseID string) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.repo.Incr(ctx, courseVersionKey(courseID)); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("course_id", courseID), zap.Error(err))
		return err
	}
	return nil
}
