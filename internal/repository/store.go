package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-admission-api/internal/models"
)

// CourseTx is a unit of work scoped to one course. Calls made through it
// commit or roll back together, and no two units of work for the same course
// overlap.
type CourseTx interface {
	CourseID() string

	Capacity(ctx context.Context) (*models.CourseCapacity, error)
	ReserveSlot(ctx context.Context, now time.Time) (bool, error)
	ReleaseSlot(ctx context.Context, now time.Time) error
	UpdateLimits(ctx context.Context, maxCapacity int, allowWaitlist bool, now time.Time) (bool, error)

	FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	FindOpenEnrollment(ctx context.Context, userID string) (*models.Enrollment, error)
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	AppendHistory(ctx context.Context, entry *models.EnrollmentHistory) error

	FindWaitlistEntry(ctx context.Context, userID string) (*models.WaitlistEntry, error)
	Enqueue(ctx context.Context, entry *models.WaitlistEntry, now time.Time) error
	RemoveWaitlistEntry(ctx context.Context, userID string, now time.Time) (bool, error)
	WaitlistHead(ctx context.Context) (*models.WaitlistEntry, error)
	UnnotifiedWaitlist(ctx context.Context, limit int) ([]models.WaitlistEntry, error)
	MarkNotified(ctx context.Context, userIDs []string, at time.Time) (int, error)
}

// CourseTxFunc is the body of a course unit of work. It may run more than once
// when the database asks for a retry, so it must not leak partial results.
type CourseTxFunc func(tx CourseTx) error

// Store is the full persistence surface: course units of work plus the
// read paths that need no course lock.
type Store interface {
	WithinCourse(ctx context.Context, courseID string, fn CourseTxFunc) error
	Ping(ctx context.Context) error

	CreateCapacity(ctx context.Context, capacity *models.CourseCapacity) error
	GetCapacity(ctx context.Context, courseID string) (*models.CourseCapacity, error)
	ListCapacities(ctx context.Context, filter models.CapacityFilter) ([]models.CourseCapacity, error)

	FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	CountEnrollmentsByStatus(ctx context.Context, courseID string) (map[models.EnrollmentStatus]int, error)
	ListHistory(ctx context.Context, enrollmentID string) ([]models.EnrollmentHistory, error)

	FindWaitlistEntry(ctx context.Context, courseID, userID string) (*models.WaitlistEntry, error)
	CountWaitlist(ctx context.Context, courseID string) (int, error)
	ListWaitlist(ctx context.Context, courseID string, page, size int) ([]models.WaitlistEntry, int, error)
	WaitlistStats(ctx context.Context, courseID string) (*models.WaitlistStats, error)
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// SQLStoreOption customises a SQLStore.
type SQLStoreOption func(*SQLStore)

// WithRetries sets how often a conflicting unit of work is replayed and the
// linear backoff between attempts.
func WithRetries(maxRetries int, backoff time.Duration) SQLStoreOption {
	return func(s *SQLStore) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithRetryHook registers a callback invoked before each replay.
func WithRetryHook(hook func(courseID string, attempt int, err error)) SQLStoreOption {
	return func(s *SQLStore) { s.onRetry = hook }
}

// SQLStore runs course units of work on PostgreSQL or MySQL. The course's
// capacity row is locked with SELECT ... FOR UPDATE for the whole transaction.
type SQLStore struct {
	db          *sqlx.DB
	capacities  *CapacityRepository
	waitlist    *WaitlistRepository
	enrollments *EnrollmentRepository
	history     *EnrollmentHistoryRepository

	maxRetries int
	backoff    time.Duration
	onRetry    func(courseID string, attempt int, err error)
}

// NewSQLStore wires the SQL repositories behind one store.
func NewSQLStore(db *sqlx.DB, opts ...SQLStoreOption) *SQLStore {
	s := &SQLStore{
		db:          db,
		capacities:  NewCapacityRepository(db),
		waitlist:    NewWaitlistRepository(db),
		enrollments: NewEnrollmentRepository(db),
		history:     NewEnrollmentHistoryRepository(db),
		maxRetries:  3,
		backoff:     20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinCourse runs fn inside a transaction holding the course lock. A missing
// capacity row yields an error wrapping sql.ErrNoRows. Serialization failures
// and deadlocks are replayed; once retries run out the error wraps ErrTxConflict.
func (s *SQLStore) WithinCourse(ctx context.Context, courseID string, fn CourseTxFunc) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if s.onRetry != nil {
				s.onRetry(courseID, attempt, lastErr)
			}
			if err := sleepContext(ctx, time.Duration(attempt)*s.backoff); err != nil {
				return err
			}
		}
		err := s.runCourseTx(ctx, courseID, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableTxError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("course %s: %w: %v", courseID, ErrTxConflict, lastErr)
}

func (s *SQLStore) runCourseTx(ctx context.Context, courseID string, fn CourseTxFunc) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin course transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.capacities.Lock(ctx, tx, courseID); err != nil {
		return fmt.Errorf("lock course %s: %w", courseID, err)
	}
	if err = fn(&sqlCourseTx{store: s, tx: tx, courseID: courseID}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit course transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateCapacity inserts a capacity row; a duplicate course wraps ErrDuplicate.
func (s *SQLStore) CreateCapacity(ctx context.Context, capacity *models.CourseCapacity) error {
	return s.capacities.Create(ctx, nil, capacity)
}

// GetCapacity returns the capacity row or sql.ErrNoRows.
func (s *SQLStore) GetCapacity(ctx context.Context, courseID string) (*models.CourseCapacity, error) {
	return s.capacities.Get(ctx, nil, courseID)
}

// ListCapacities returns capacity rows matching the filter.
func (s *SQLStore) ListCapacities(ctx context.Context, filter models.CapacityFilter) ([]models.CourseCapacity, error) {
	return s.capacities.List(ctx, nil, filter)
}

// FindEnrollment returns an enrollment or sql.ErrNoRows.
func (s *SQLStore) FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	return s.enrollments.FindByID(ctx, nil, id)
}

// ListEnrollments returns a filtered page of enrollments.
func (s *SQLStore) ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	return s.enrollments.List(ctx, nil, filter)
}

// CountEnrollmentsByStatus groups a course's enrollments by status.
func (s *SQLStore) CountEnrollmentsByStatus(ctx context.Context, courseID string) (map[models.EnrollmentStatus]int, error) {
	return s.enrollments.CountByStatus(ctx, nil, courseID)
}

// ListHistory returns one enrollment's transitions, oldest first.
func (s *SQLStore) ListHistory(ctx context.Context, enrollmentID string) ([]models.EnrollmentHistory, error) {
	return s.history.ListByEnrollment(ctx, nil, enrollmentID)
}

// FindWaitlistEntry returns the user's entry or nil.
func (s *SQLStore) FindWaitlistEntry(ctx context.Context, courseID, userID string) (*models.WaitlistEntry, error) {
	return s.waitlist.FindByUser(ctx, nil, courseID, userID)
}

// CountWaitlist returns the number of entries for a course.
func (s *SQLStore) CountWaitlist(ctx context.Context, courseID string) (int, error) {
	return s.waitlist.Count(ctx, nil, courseID)
}

// ListWaitlist returns a page of a course's entries in position order.
func (s *SQLStore) ListWaitlist(ctx context.Context, courseID string, page, size int) ([]models.WaitlistEntry, int, error) {
	return s.waitlist.ListByCourse(ctx, nil, courseID, page, size)
}

// WaitlistStats aggregates notification state for one or all courses.
func (s *SQLStore) WaitlistStats(ctx context.Context, courseID string) (*models.WaitlistStats, error) {
	return s.waitlist.Stats(ctx, nil, courseID)
}

type sqlCourseTx struct {
	store    *SQLStore
	tx       *sqlx.Tx
	courseID string
}

var _ CourseTx = (*sqlCourseTx)(nil)

func (t *sqlCourseTx) CourseID() string { return t.courseID }

func (t *sqlCourseTx) Capacity(ctx context.Context) (*models.CourseCapacity, error) {
	return t.store.capacities.Get(ctx, t.tx, t.courseID)
}

func (t *sqlCourseTx) ReserveSlot(ctx context.Context, now time.Time) (bool, error) {
	return t.store.capacities.Reserve(ctx, t.tx, t.courseID, now)
}

func (t *sqlCourseTx) ReleaseSlot(ctx context.Context, now time.Time) error {
	return t.store.capacities.Release(ctx, t.tx, t.courseID, now)
}

func (t *sqlCourseTx) UpdateLimits(ctx context.Context, maxCapacity int, allowWaitlist bool, now time.Time) (bool, error) {
	return t.store.capacities.UpdateLimits(ctx, t.tx, t.courseID, maxCapacity, allowWaitlist, now)
}

func (t *sqlCourseTx) FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := t.store.enrollments.FindByID(ctx, t.tx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.CourseID != t.courseID {
		return nil, sql.ErrNoRows
	}
	return enrollment, nil
}

func (t *sqlCourseTx) FindOpenEnrollment(ctx context.Context, userID string) (*models.Enrollment, error) {
	return t.store.enrollments.FindOpen(ctx, t.tx, t.courseID, userID)
}

func (t *sqlCourseTx) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.CourseID = t.courseID
	return t.store.enrollments.Create(ctx, t.tx, enrollment)
}

func (t *sqlCourseTx) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	return t.store.enrollments.Update(ctx, t.tx, enrollment)
}

func (t *sqlCourseTx) AppendHistory(ctx context.Context, entry *models.EnrollmentHistory) error {
	return t.store.history.Append(ctx, t.tx, entry)
}

func (t *sqlCourseTx) FindWaitlistEntry(ctx context.Context, userID string) (*models.WaitlistEntry, error) {
	return t.store.waitlist.FindByUser(ctx, t.tx, t.courseID, userID)
}

func (t *sqlCourseTx) Enqueue(ctx context.Context, entry *models.WaitlistEntry, now time.Time) error {
	entry.CourseID = t.courseID
	if err := t.store.waitlist.Insert(ctx, t.tx, entry); err != nil {
		return err
	}
	return t.store.capacities.AdjustWaitlistCount(ctx, t.tx, t.courseID, 1, now)
}

func (t *sqlCourseTx) RemoveWaitlistEntry(ctx context.Context, userID string, now time.Time) (bool, error) {
	removed, err := t.store.waitlist.Delete(ctx, t.tx, t.courseID, userID)
	if err != nil || !removed {
		return false, err
	}
	if err := t.store.capacities.AdjustWaitlistCount(ctx, t.tx, t.courseID, -1, now); err != nil {
		return false, err
	}
	return true, nil
}

func (t *sqlCourseTx) WaitlistHead(ctx context.Context) (*models.WaitlistEntry, error) {
	return t.store.waitlist.Head(ctx, t.tx, t.courseID)
}

func (t *sqlCourseTx) UnnotifiedWaitlist(ctx context.Context, limit int) ([]models.WaitlistEntry, error) {
	return t.store.waitlist.ListInServeOrder(ctx, t.tx, t.courseID, limit, true)
}

func (t *sqlCourseTx) MarkNotified(ctx context.Context, userIDs []string, at time.Time) (int, error) {
	return t.store.waitlist.MarkNotified(ctx, t.tx, t.courseID, userIDs, at)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
