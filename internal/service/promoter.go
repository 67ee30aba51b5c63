package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/internal/repository"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
)

// promoter moves waitlisted users into free seats. It only runs inside a
// course unit of work, so the availability check and the reservation cannot
// interleave with another release of the same course.
type promoter struct {
	logger *zap.Logger
}

// promoteNext fills at most one free seat from the waitlist head. Entries whose
// user already holds an open enrollment are discarded. It returns nil when no
// seat is free or the waitlist is empty.
func (p promoter) promoteNext(ctx context.Context, tx repository.CourseTx, now time.Time) (*models.Enrollment, error) {
	capacity, err := tx.Capacity(ctx)
	if err != nil {
		return nil, err
	}
	if capacity.Available() == 0 {
		return nil, nil
	}

	for {
		head, err := tx.WaitlistHead(ctx)
		if err != nil || head == nil {
			return nil, err
		}
		if _, err := tx.RemoveWaitlistEntry(ctx, head.UserID, now); err != nil {
			return nil, err
		}

		open, err := tx.FindOpenEnrollment(ctx, head.UserID)
		if err != nil {
			return nil, err
		}
		if open != nil {
			p.logger.Info("discarded waitlist entry of enrolled user",
				zap.String("course_id", tx.CourseID()),
				zap.String("user_id", head.UserID),
				zap.String("enrollment_id", open.ID))
			continue
		}

		granted, err := tx.ReserveSlot(ctx, now)
		if err != nil {
			return nil, err
		}
		if !granted {
			// The head is already removed; failing rolls the removal back.
			return nil, appErrors.Clone(appErrors.ErrServiceBusy, "seat reservation refused during promotion")
		}
		enrollment := &models.Enrollment{
			UserID:        head.UserID,
			Status:        models.EnrollmentStatusActive,
			PaymentStatus: models.PaymentStatusPending,
		}
		if err := createEnrollment(ctx, tx, enrollment, models.SystemActorID, strPtr(reasonPromoted), now); err != nil {
			return nil, err
		}
		return enrollment, nil
	}
}

// fill promotes until the course is full or the waitlist is empty.
func (p promoter) fill(ctx context.Context, tx repository.CourseTx, now time.Time) ([]models.Enrollment, error) {
	var promoted []models.Enrollment
	for {
		enrollment, err := p.promoteNext(ctx, tx, now)
		if err != nil {
			return nil, err
		}
		if enrollment == nil {
			return promoted, nil
		}
		promoted = append(promoted, *enrollment)
	}
}

// courseEffects runs the best-effort work that follows a committed course
// mutation.
type courseEffects struct {
	cache    *CacheService
	notifier Notifier
	metrics  *MetricsService
	logger   *zap.Logger
}

func (e courseEffects) committed(ctx context.Context, courseID string, promoted []models.Enrollment) {
	_ = e.cache.InvalidateCourse(ctx, courseID)
	e.metrics.RecordPromotions(len(promoted))
	for _, enrollment := range promoted {
		e.logger.Info("waitlist entry promoted",
			zap.String("course_id", courseID),
			zap.String("user_id", enrollment.UserID),
			zap.String("enrollment_id", enrollment.ID))
		if e.notifier != nil {
			e.notifier.EnrollmentPromoted(ctx, enrollment)
		}
	}
}
