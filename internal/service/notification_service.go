package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/pkg/jobs"
)

// Notification event types.
const (
	EventEnrollmentPromoted    = "enrollment.promoted"
	EventWaitlistSeatAvailable = "waitlist.seat_available"
)

// NotificationEvent is the message body published for downstream dispatchers.
type NotificationEvent struct {
	Type         string    `json:"type"`
	CourseID     string    `json:"course_id"`
	UserID       string    `json:"user_id"`
	EnrollmentID string    `json:"enrollment_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type eventPublisher interface {
	PublishJSON(ctx context.Context, queue, eventType string, event interface{}) error
}

// Notifier receives committed admission facts. Delivery is best-effort. Pass a
// nil Notifier, not a nil *NotificationService, when notifications are off.
type Notifier interface {
	EnrollmentPromoted(ctx context.Context, enrollment models.Enrollment)
	SeatAvailable(ctx context.Context, courseID string, userIDs []string)
}

// NotificationConfig tunes the publishing worker pool.
type NotificationConfig struct {
	Queue      string
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// NotificationService hands events to a background queue which publishes them
// to the broker. Request paths never block on the broker.
type NotificationService struct {
	queue     *jobs.Queue
	publisher eventPublisher
	queueName string
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNotificationService constructs the service; call Start before use.
func NewNotificationService(publisher eventPublisher, cfg NotificationConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{publisher: publisher, queueName: cfg.Queue, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnGiveUp: func(job jobs.Job, err error) {
			s.metrics.RecordNotification(job.Type, "failed")
		},
	})
	metrics.RegisterQueueDepth("notifications", s.queue.Depth)
	return s
}

// Start launches the publishing workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop waits for the workers to exit. Events still buffered are dropped.
func (s *NotificationService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// EnrollmentPromoted publishes a promotion event for the enrollment owner.
func (s *NotificationService) EnrollmentPromoted(ctx context.Context, enrollment models.Enrollment) {
	s.submit(NotificationEvent{
		Type:         EventEnrollmentPromoted,
		CourseID:     enrollment.CourseID,
		UserID:       enrollment.UserID,
		EnrollmentID: enrollment.ID,
		OccurredAt:   time.Now().UTC(),
	})
}

// SeatAvailable publishes one event per notified waitlisted user.
func (s *NotificationService) SeatAvailable(ctx context.Context, courseID string, userIDs []string) {
	now := time.Now().UTC()
	for _, userID := range userIDs {
		s.submit(NotificationEvent{Type: EventWaitlistSeatAvailable, CourseID: courseID, UserID: userID, OccurredAt: now})
	}
}

func (s *NotificationService) submit(event NotificationEvent) {
	if s == nil {
		return
	}
	err := s.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: event.Type, Payload: event})
	if err == nil {
		return
	}
	result := "dropped"
	if !errors.Is(err, jobs.ErrQueueFull) {
		result = "rejected"
	}
	s.metrics.RecordNotification(event.Type, result)
	s.logger.Warn("notification not queued",
		zap.String("type", event.Type),
		zap.String("course_id", event.CourseID),
		zap.String("user_id", event.UserID),
		zap.Error(err))
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(NotificationEvent)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	if err := s.publisher.PublishJSON(ctx, s.queueName, event.Type, event); err != nil {
		return err
	}
	s.metrics.RecordNotification(event.Type, "published")
	return nil
}
