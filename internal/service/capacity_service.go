package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-admission-api/internal/dto"
	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/internal/repository"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
)

type capacityStore interface {
	courseStore
	CreateCapacity(ctx context.Context, capacity *models.CourseCapacity) error
	GetCapacity(ctx context.Context, courseID string) (*models.CourseCapacity, error)
	ListCapacities(ctx context.Context, filter models.CapacityFilter) ([]models.CourseCapacity, error)
}

// CapacityConfig holds capacity query defaults.
type CapacityConfig struct {
	DefaultNearFullPercent int
	CacheTTL               time.Duration
}

// CapacityService manages per-course seat limits.
type CapacityService struct {
	store     capacityStore
	cache     *CacheService
	promoter  promoter
	effects   courseEffects
	cfg       CapacityConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCapacityService constructs CapacityService.
func NewCapacityService(store capacityStore, cache *CacheService, notifier Notifier, metrics *MetricsService, cfg CapacityConfig, validate *validator.Validate, logger *zap.Logger) *CapacityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultNearFullPercent <= 0 || cfg.DefaultNearFullPercent > 100 {
		cfg.DefaultNearFullPercent = 80
	}
	return &CapacityService{
		store:     store,
		cache:     cache,
		promoter:  promoter{logger: logger},
		effects:   courseEffects{cache: cache, notifier: notifier, metrics: metrics, logger: logger},
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		now:       clockUTC,
	}
}

// Create registers the capacity record of a course. Waitlisting defaults to allowed.
func (s *CapacityService) Create(ctx context.Context, req dto.CreateCapacityRequest) (*models.CourseCapacity, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid capacity payload")
	}
	allowWaitlist := true
	if req.AllowWaitlist != nil {
		allowWaitlist = *req.AllowWaitlist
	}
	capacity := &models.CourseCapacity{
		CourseID:      req.CourseID,
		MaxCapacity:   req.MaxCapacity,
		AllowWaitlist: allowWaitlist,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateCapacity(ctx, capacity); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "capacity already exists for course")
		}
		return nil, translateStoreErr(err, "course capacity", "create capacity")
	}
	s.logger.Info("course capacity created", zap.String("course_id", capacity.CourseID), zap.Int("max_capacity", capacity.MaxCapacity))
	return capacity, nil
}

// Update changes the limit and/or waitlist policy. Shrinking below the seats
// already held fails; growing promotes waitlisted users into the new seats.
func (s *CapacityService) Update(ctx context.Context, courseID string, req dto.UpdateCapacityRequest) (*models.CourseCapacity, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid capacity payload")
	}

	var (
		updated  *models.CourseCapacity
		promoted []models.Enrollment
	)
	err := s.store.WithinCourse(ctx, courseID, func(tx repository.CourseTx) error {
		updated, promoted = nil, nil
		now := s.now()

		current, err := tx.Capacity(ctx)
		if err != nil {
			return err
		}
		maxCapacity := current.MaxCapacity
		if req.MaxCapacity != nil {
			maxCapacity = *req.MaxCapacity
		}
		allowWaitlist := current.AllowWaitlist
		if req.AllowWaitlist != nil {
			allowWaitlist = *req.AllowWaitlist
		}
		ok, err := tx.UpdateLimits(ctx, maxCapacity, allowWaitlist, now)
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrCapacityBelowCurrent, "")
		}
		if promoted, err = s.promoter.fill(ctx, tx, now); err != nil {
			return err
		}
		updated, err = tx.Capacity(ctx)
		return err
	})
	if err != nil {
		return nil, translateStoreErr(err, "course capacity", "update capacity")
	}

	s.effects.committed(ctx, courseID, promoted)
	s.logger.Info("course capacity updated",
		zap.String("course_id", courseID),
		zap.Int("max_capacity", updated.MaxCapacity),
		zap.Bool("allow_waitlist", updated.AllowWaitlist),
		zap.Int("promoted", len(promoted)))
	return updated, nil
}

// SetMaxCapacity changes only the seat limit.
func (s *CapacityService) SetMaxCapacity(ctx context.Context, courseID string, maxCapacity int) (*models.CourseCapacity, error) {
	return s.Update(ctx, courseID, dto.UpdateCapacityRequest{MaxCapacity: &maxCapacity})
}

// Availability returns the seat read model of a course, cached briefly.
func (s *CapacityService) Availability(ctx context.Context, courseID string) (*models.CapacityAvailability, error) {
	version, cacheable := s.cache.CourseVersion(ctx, courseID)
	key := availabilityCacheKey(courseID, version)
	if cacheable {
		var cached models.CapacityAvailability
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	capacity, err := s.store.GetCapacity(ctx, courseID)
	if err != nil {
		return nil, translateStoreErr(err, "course capacity", "load capacity")
	}
	availability := capacity.Availability()
	if cacheable {
		_ = s.cache.Set(ctx, key, availability, s.cfg.CacheTTL)
	}
	return &availability, nil
}

// NearFull lists courses filled to at least thresholdPercent that still have a
// free seat. Zero selects the configured default.
func (s *CapacityService) NearFull(ctx context.Context, thresholdPercent int) ([]models.CourseCapacity, error) {
	if thresholdPercent == 0 {
		thresholdPercent = s.cfg.DefaultNearFullPercent
	}
	if thresholdPercent < 1 || thresholdPercent > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "threshold must be between 1 and 100")
	}
	capacities, err := s.store.ListCapacities(ctx, models.CapacityFilter{NearFullPercent: thresholdPercent})
	if err != nil {
		return nil, translateStoreErr(err, "course capacity", "list near-full courses")
	}
	return nonNil(capacities), nil
}

// Full lists courses without a free seat.
func (s *CapacityService) Full(ctx context.Context) ([]models.CourseCapacity, error) {
	capacities, err := s.store.ListCapacities(ctx, models.CapacityFilter{OnlyFull: true})
	if err != nil {
		return nil, translateStoreErr(err, "course capacity", "list full courses")
	}
	return nonNil(capacities), nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
