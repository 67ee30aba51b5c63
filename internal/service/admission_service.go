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

type courseStore interface {
	WithinCourse(ctx context.Context, courseID string, fn repository.CourseTxFunc) error
}

type admissionStore interface {
	courseStore
	FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
}

// AdmissionService decides enrollment requests and drives every lifecycle
// change that can free a seat.
type AdmissionService struct {
	store     admissionStore
	promoter  promoter
	effects   courseEffects
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAdmissionService constructs AdmissionService.
func NewAdmissionService(store admissionStore, cache *CacheService, notifier Notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{
		store:     store,
		promoter:  promoter{logger: logger},
		effects:   courseEffects{cache: cache, notifier: notifier, metrics: metrics, logger: logger},
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       clockUTC,
	}
}

// RequestEnrollment admits, queues or rejects a user for a course. A rejected
// request is a normal outcome and returns no error.
func (s *AdmissionService) RequestEnrollment(ctx context.Context, actor models.Actor, req dto.EnrollmentRequest) (*models.AdmissionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	userID, err := resolveSubject(actor, req.UserID)
	if err != nil {
		return nil, err
	}

	var result *models.AdmissionResult
	err = s.store.WithinCourse(ctx, req.CourseID, func(tx repository.CourseTx) error {
		result = nil
		now := s.now()

		open, err := tx.FindOpenEnrollment(ctx, userID)
		if err != nil {
			return err
		}
		if open != nil {
			return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
		}

		granted, err := tx.ReserveSlot(ctx, now)
		if err != nil {
			return err
		}
		if granted {
			enrollment := &models.Enrollment{
				UserID:        userID,
				Status:        models.EnrollmentStatusActive,
				PaymentStatus: models.PaymentStatusWaived,
				Notes:         req.Notes,
			}
			outcome := models.AdmissionActive
			if req.PaymentMethod != nil {
				enrollment.Status = models.EnrollmentStatusPending
				enrollment.PaymentStatus = models.PaymentStatusPending
				enrollment.PaymentMethod = req.PaymentMethod
				outcome = models.AdmissionPending
			}
			if err := createEnrollment(ctx, tx, enrollment, actor.UserID, nil, now); err != nil {
				return err
			}
			if _, err := tx.RemoveWaitlistEntry(ctx, userID, now); err != nil {
				return err
			}
			result = &models.AdmissionResult{Outcome: outcome, Enrollment: enrollment}
			return nil
		}

		capacity, err := tx.Capacity(ctx)
		if err != nil {
			return err
		}
		if !capacity.AllowWaitlist {
			result = &models.AdmissionResult{Outcome: models.AdmissionRejected, Reason: models.RejectReasonFullNoWaitlist}
			return nil
		}
		existing, err := tx.FindWaitlistEntry(ctx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return appErrors.Clone(appErrors.ErrAlreadyWaitlisted, "")
		}
		entry := &models.WaitlistEntry{UserID: userID, Priority: models.DefaultWaitlistPriority, RequestedAt: now}
		if err := tx.Enqueue(ctx, entry, now); err != nil {
			if repository.IsUniqueViolation(err) {
				return appErrors.Clone(appErrors.ErrAlreadyWaitlisted, "")
			}
			return err
		}
		result = &models.AdmissionResult{Outcome: models.AdmissionWaitlisted, WaitlistEntry: entry, Position: entry.Position}
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "course capacity", "request enrollment")
	}

	s.metrics.RecordAdmission(result.Outcome)
	switch result.Outcome {
	case models.AdmissionRejected, models.AdmissionWaitlisted:
		s.metrics.RecordCapacityConflict()
	}
	if result.Outcome != models.AdmissionRejected {
		s.effects.committed(ctx, req.CourseID, nil)
	}
	s.logger.Info("enrollment requested",
		zap.String("course_id", req.CourseID),
		zap.String("user_id", userID),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// CancelEnrollment moves an open enrollment to CANCELLED, frees its seat and
// promotes the next waitlisted user.
func (s *AdmissionService) CancelEnrollment(ctx context.Context, actor models.Actor, enrollmentID string, req dto.CancelEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}
	return s.changeStatus(ctx, actor, enrollmentID, models.EnrollmentStatusCancelled, req.Reason)
}

// UpdateStatus applies a lifecycle transition. Owners may only cancel or drop
// their own enrollment; admins may apply any legal transition.
func (s *AdmissionService) UpdateStatus(ctx context.Context, actor models.Actor, enrollmentID string, req dto.UpdateEnrollmentStatusRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	next, err := models.ParseEnrollmentStatus(req.Status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status")
	}
	if !actor.Role.IsAdmin() && next != models.EnrollmentStatusCancelled && next != models.EnrollmentStatusDropped {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may set this status")
	}
	return s.changeStatus(ctx, actor, enrollmentID, next, req.Reason)
}

func (s *AdmissionService) changeStatus(ctx context.Context, actor models.Actor, enrollmentID string, next models.EnrollmentStatus, reason *string) (*models.Enrollment, error) {
	current, err := s.loadForActor(ctx, actor, enrollmentID)
	if err != nil {
		return nil, err
	}

	var (
		updated  *models.Enrollment
		promoted []models.Enrollment
	)
	err = s.store.WithinCourse(ctx, current.CourseID, func(tx repository.CourseTx) error {
		updated, promoted = nil, nil
		now := s.now()

		enrollment, err := tx.FindEnrollment(ctx, enrollmentID)
		if err != nil {
			return err
		}
		previous := enrollment.Status
		if err := transitionEnrollment(ctx, tx, enrollment, next, actor.UserID, reason, now); err != nil {
			return err
		}
		if releasesSeat(previous, next) {
			if err := tx.ReleaseSlot(ctx, now); err != nil {
				return err
			}
			promotedEnrollment, err := s.promoter.promoteNext(ctx, tx, now)
			if err != nil {
				return err
			}
			if promotedEnrollment != nil {
				promoted = append(promoted, *promotedEnrollment)
			}
		}
		updated = enrollment
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "enrollment", "update enrollment status")
	}

	s.effects.committed(ctx, current.CourseID, promoted)
	s.logger.Info("enrollment status changed",
		zap.String("enrollment_id", enrollmentID),
		zap.String("course_id", current.CourseID),
		zap.String("status", string(next)),
		zap.String("actor_id", actor.UserID))
	return updated, nil
}

// UpdateProgress records course progress on an ACTIVE enrollment. Reaching 100
// completes the enrollment, frees its seat and promotes the next user.
func (s *AdmissionService) UpdateProgress(ctx context.Context, actor models.Actor, enrollmentID string, req dto.UpdateProgressRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	progress := clampProgress(*req.Progress)
	current, err := s.loadForActor(ctx, actor, enrollmentID)
	if err != nil {
		return nil, err
	}

	var (
		updated  *models.Enrollment
		promoted []models.Enrollment
	)
	err = s.store.WithinCourse(ctx, current.CourseID, func(tx repository.CourseTx) error {
		updated, promoted = nil, nil
		now := s.now()

		enrollment, err := tx.FindEnrollment(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if enrollment.Status != models.EnrollmentStatusActive {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "progress can only change on an active enrollment")
		}
		enrollment.Progress = progress
		if progress < 100 {
			enrollment.UpdatedAt = now
			if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
				return err
			}
			updated = enrollment
			return nil
		}

		if err := transitionEnrollment(ctx, tx, enrollment, models.EnrollmentStatusCompleted, actor.UserID, strPtr(reasonProgressReached), now); err != nil {
			return err
		}
		if err := tx.ReleaseSlot(ctx, now); err != nil {
			return err
		}
		next, err := s.promoter.promoteNext(ctx, tx, now)
		if err != nil {
			return err
		}
		if next != nil {
			promoted = append(promoted, *next)
		}
		updated = enrollment
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "enrollment", "update progress")
	}

	s.effects.committed(ctx, current.CourseID, promoted)
	return updated, nil
}

// MarkPaymentPaid records a settled payment without touching the lifecycle status.
func (s *AdmissionService) MarkPaymentPaid(ctx context.Context, actor models.Actor, enrollmentID string, req dto.MarkPaymentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may record payments")
	}
	current, err := s.loadForActor(ctx, actor, enrollmentID)
	if err != nil {
		return nil, err
	}

	var updated *models.Enrollment
	err = s.store.WithinCourse(ctx, current.CourseID, func(tx repository.CourseTx) error {
		updated = nil
		enrollment, err := tx.FindEnrollment(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if enrollment.Status.IsTerminal() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "payment cannot change on a closed enrollment")
		}
		amount := req.Amount
		method := req.Method
		enrollment.PaymentStatus = models.PaymentStatusPaid
		enrollment.PaymentAmount = &amount
		enrollment.PaymentMethod = &method
		enrollment.UpdatedAt = s.now()
		if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
			return err
		}
		updated = enrollment
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "enrollment", "record payment")
	}
	s.effects.committed(ctx, current.CourseID, nil)
	return updated, nil
}

func (s *AdmissionService) loadForActor(ctx context.Context, actor models.Actor, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := s.store.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, translateStoreErr(err, "enrollment", "load enrollment")
	}
	if enrollment.UserID != actor.UserID && !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to modify this enrollment")
	}
	return enrollment, nil
}

// resolveSubject returns the user an operation acts on. Only admins may act
// on behalf of another user.
func resolveSubject(actor models.Actor, requested string) (string, error) {
	if requested == "" || requested == actor.UserID {
		if actor.UserID == "" {
			return "", appErrors.Clone(appErrors.ErrUnauthorized, "missing caller identity")
		}
		return actor.UserID, nil
	}
	if !actor.Role.IsAdmin() {
		return "", appErrors.Clone(appErrors.ErrForbidden, "not allowed to act for another user")
	}
	return requested, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
