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

type waitlistStore interface {
	courseStore
	FindWaitlistEntry(ctx context.Context, courseID, userID string) (*models.WaitlistEntry, error)
	CountWaitlist(ctx context.Context, courseID string) (int, error)
	ListWaitlist(ctx context.Context, courseID string, page, size int) ([]models.WaitlistEntry, int, error)
	WaitlistStats(ctx context.Context, courseID string) (*models.WaitlistStats, error)
}

// WaitlistService exposes direct waitlist management.
type WaitlistService struct {
	store     waitlistStore
	effects   courseEffects
	notifier  Notifier
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewWaitlistService constructs WaitlistService.
func NewWaitlistService(store waitlistStore, cache *CacheService, notifier Notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *WaitlistService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{
		store:     store,
		effects:   courseEffects{cache: cache, notifier: notifier, metrics: metrics, logger: logger},
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		now:       clockUTC,
	}
}

// Add queues a user for a full course that allows a waitlist.
func (s *WaitlistService) Add(ctx context.Context, actor models.Actor, req dto.WaitlistAddRequest) (*models.WaitlistEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid waitlist payload")
	}
	userID, err := resolveSubject(actor, req.UserID)
	if err != nil {
		return nil, err
	}
	priority := models.DefaultWaitlistPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	var entry *models.WaitlistEntry
	err = s.store.WithinCourse(ctx, req.CourseID, func(tx repository.CourseTx) error {
		entry = nil
		now := s.now()

		open, err := tx.FindOpenEnrollment(ctx, userID)
		if err != nil {
			return err
		}
		if open != nil {
			return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
		}
		capacity, err := tx.Capacity(ctx)
		if err != nil {
			return err
		}
		if !capacity.AllowWaitlist {
			return appErrors.Clone(appErrors.ErrWaitlistDisabled, "")
		}
		if capacity.Available() > 0 {
			return appErrors.Clone(appErrors.ErrSeatsAvailable, "")
		}
		existing, err := tx.FindWaitlistEntry(ctx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return appErrors.Clone(appErrors.ErrAlreadyWaitlisted, "")
		}

		candidate := &models.WaitlistEntry{UserID: userID, Priority: priority, RequestedAt: now}
		if err := tx.Enqueue(ctx, candidate, now); err != nil {
			if repository.IsUniqueViolation(err) {
				return appErrors.Clone(appErrors.ErrAlreadyWaitlisted, "")
			}
			return err
		}
		entry = candidate
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "course capacity", "join waitlist")
	}

	s.effects.committed(ctx, req.CourseID, nil)
	s.logger.Info("user waitlisted",
		zap.String("course_id", req.CourseID),
		zap.String("user_id", userID),
		zap.Int("position", entry.Position),
		zap.Int("priority", entry.Priority))
	return entry, nil
}

// Remove drops a user's entry and closes the gap in positions.
func (s *WaitlistService) Remove(ctx context.Context, actor models.Actor, courseID, userID string) error {
	subject, err := resolveSubject(actor, userID)
	if err != nil {
		return err
	}
	err = s.store.WithinCourse(ctx, courseID, func(tx repository.CourseTx) error {
		removed, err := tx.RemoveWaitlistEntry(ctx, subject, s.now())
		if err != nil {
			return err
		}
		if !removed {
			return appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
		}
		return nil
	})
	if err != nil {
		return translateStoreErr(err, "course capacity", "leave waitlist")
	}
	s.effects.committed(ctx, courseID, nil)
	s.logger.Info("waitlist entry removed", zap.String("course_id", courseID), zap.String("user_id", subject))
	return nil
}

// Position reports where a user stands in a course's queue.
func (s *WaitlistService) Position(ctx context.Context, actor models.Actor, courseID, userID string) (*models.WaitlistPosition, error) {
	subject, err := resolveSubject(actor, userID)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.FindWaitlistEntry(ctx, courseID, subject)
	if err != nil {
		return nil, translateStoreErr(err, "waitlist entry", "load waitlist position")
	}
	if entry == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
	}
	total, err := s.store.CountWaitlist(ctx, courseID)
	if err != nil {
		return nil, translateStoreErr(err, "waitlist entry", "count waitlist")
	}
	if total < entry.Position {
		total = entry.Position
	}
	return &models.WaitlistPosition{
		CourseID:        courseID,
		UserID:          subject,
		Position:        entry.Position,
		TotalInWaitlist: total,
	}, nil
}

// ForCourse lists a course's queue by position.
func (s *WaitlistService) ForCourse(ctx context.Context, courseID string, query dto.PageQuery) ([]models.WaitlistEntry, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid paging parameters")
	}
	page, size := models.NormalizePage(query.Page, query.Limit)
	entries, total, err := s.store.ListWaitlist(ctx, courseID, page, size)
	if err != nil {
		return nil, nil, translateStoreErr(err, "waitlist", "list waitlist")
	}
	return nonNil(entries), &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Stats aggregates notification state; an empty courseID covers every course.
func (s *WaitlistService) Stats(ctx context.Context, courseID string) (*models.WaitlistStats, error) {
	stats, err := s.store.WaitlistStats(ctx, courseID)
	if err != nil {
		return nil, translateStoreErr(err, "waitlist", "load waitlist stats")
	}
	return stats, nil
}

// Notify flags the next count unnotified entries in serve order and publishes a
// seat-available event for each of them.
func (s *WaitlistService) Notify(ctx context.Context, courseID string, req dto.WaitlistNotifyRequest) (*dto.WaitlistNotifyResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notify payload")
	}

	var userIDs []string
	err := s.store.WithinCourse(ctx, courseID, func(tx repository.CourseTx) error {
		userIDs = nil
		entries, err := tx.UnnotifiedWaitlist(ctx, req.Count)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			userIDs = append(userIDs, entry.UserID)
		}
		if len(userIDs) == 0 {
			return nil
		}
		_, err = tx.MarkNotified(ctx, userIDs, s.now())
		return err
	})
	if err != nil {
		return nil, translateStoreErr(err, "course capacity", "notify waitlist")
	}

	if len(userIDs) > 0 && s.notifier != nil {
		s.notifier.SeatAvailable(ctx, courseID, userIDs)
	}
	s.logger.Info("waitlist notified", zap.String("course_id", courseID), zap.Int("count", len(userIDs)))
	return &dto.WaitlistNotifyResponse{CourseID: courseID, UserIDs: nonNil(userIDs)}, nil
}

// MarkNotified flags one entry. Flagging an already notified entry is a no-op.
func (s *WaitlistService) MarkNotified(ctx context.Context, courseID, userID string) error {
	err := s.store.WithinCourse(ctx, courseID, func(tx repository.CourseTx) error {
		entry, err := tx.FindWaitlistEntry(ctx, userID)
		if err != nil {
			return err
		}
		if entry == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
		}
		_, err = tx.MarkNotified(ctx, []string{userID}, s.now())
		return err
	})
	if err != nil {
		return translateStoreErr(err, "course capacity", "mark waitlist entry notified")
	}
	return nil
}
