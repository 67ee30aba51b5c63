package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/internal/repository"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
)

// Reasons written to the history of service-driven transitions.
const (
	reasonPromoted        = "promoted from waitlist"
	reasonProgressReached = "progress reached 100%"
)

func clockUTC() time.Time { return time.Now().UTC() }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// createEnrollment inserts an enrollment and its creation history row.
func createEnrollment(ctx context.Context, tx repository.CourseTx, enrollment *models.Enrollment, actorID string, reason *string, now time.Time) error {
	open, err := tx.FindOpenEnrollment(ctx, enrollment.UserID)
	if err != nil {
		return err
	}
	if open != nil {
		return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
	}
	enrollment.EnrolledAt = now
	if err := tx.CreateEnrollment(ctx, enrollment); err != nil {
		if repository.IsUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
		}
		return err
	}
	return tx.AppendHistory(ctx, &models.EnrollmentHistory{
		EnrollmentID: enrollment.ID,
		NewStatus:    enrollment.Status,
		ChangedBy:    actorID,
		Reason:       reason,
		ChangedAt:    now,
	})
}

// transitionEnrollment applies one legal status change, stamps the matching
// timestamp and appends exactly one history row. Other pending field changes
// on enrollment are persisted in the same write.
func transitionEnrollment(ctx context.Context, tx repository.CourseTx, enrollment *models.Enrollment, next models.EnrollmentStatus, actorID string, reason *string, now time.Time) error {
	previous := enrollment.Status
	if !previous.CanTransitionTo(next) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move enrollment from %s to %s", previous, next))
	}
	enrollment.Status = next
	enrollment.UpdatedAt = now
	stamp := now
	switch next {
	case models.EnrollmentStatusCompleted:
		enrollment.CompletedAt = &stamp
		enrollment.Progress = 100
	case models.EnrollmentStatusDropped:
		enrollment.DroppedAt = &stamp
	case models.EnrollmentStatusCancelled:
		enrollment.CancelledAt = &stamp
	}
	if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
		return err
	}
	return tx.AppendHistory(ctx, &models.EnrollmentHistory{
		EnrollmentID:   enrollment.ID,
		PreviousStatus: &previous,
		NewStatus:      next,
		ChangedBy:      actorID,
		Reason:         reason,
		ChangedAt:      now,
	})
}

// releasesSeat reports whether moving from previous to next frees a seat.
func releasesSeat(previous, next models.EnrollmentStatus) bool {
	return previous.IsOpen() && next.IsTerminal()
}

// translateStoreErr maps repository errors onto API errors. notFound names the
// resource reported when the store returns sql.ErrNoRows.
func translateStoreErr(err error, notFound, action string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, notFound+" not found")
	case errors.Is(err, repository.ErrTxConflict):
		return appErrors.WrapWith(err, appErrors.ErrServiceBusy, "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return appErrors.WrapWith(err, appErrors.ErrServiceBusy, "request cancelled")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+action)
}
