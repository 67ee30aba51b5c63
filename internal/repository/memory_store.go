package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/course-admission-api/internal/models"
)

// MemoryStore keeps all admission state in process. Each course has its own
// mutex; a unit of work stages its writes and publishes them only when the
// callback returns nil.
type MemoryStore struct {
	mu          sync.RWMutex
	capacities  map[string]models.CourseCapacity
	enrollments map[string]models.Enrollment
	history     map[string][]models.EnrollmentHistory
	waitlists   map[string][]models.WaitlistEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		capacities:  make(map[string]models.CourseCapacity),
		enrollments: make(map[string]models.Enrollment),
		history:     make(map[string][]models.EnrollmentHistory),
		waitlists:   make(map[string][]models.WaitlistEntry),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) courseLock(courseID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[courseID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[courseID] = l
	}
	return l
}

// WithinCourse serialises fn against every other unit of work for courseID.
func (s *MemoryStore) WithinCourse(ctx context.Context, courseID string, fn CourseTxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.courseLock(courseID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	capacity, ok := s.capacities[courseID]
	waitlist := append([]models.WaitlistEntry(nil), s.waitlists[courseID]...)
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock course %s: %w", courseID, sql.ErrNoRows)
	}

	tx := &memCourseTx{
		store:       s,
		courseID:    courseID,
		capacity:    capacity,
		waitlist:    waitlist,
		enrollments: make(map[string]models.Enrollment),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memCourseTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacities[tx.courseID] = tx.capacity
	s.waitlists[tx.courseID] = tx.waitlist
	for id, enrollment := range tx.enrollments {
		s.enrollments[id] = enrollment
	}
	for _, entry := range tx.history {
		s.history[entry.EnrollmentID] = append(s.history[entry.EnrollmentID], entry)
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// CreateCapacity inserts a capacity row; a duplicate course wraps ErrDuplicate.
func (s *MemoryStore) CreateCapacity(_ context.Context, capacity *models.CourseCapacity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.capacities[capacity.CourseID]; exists {
		return fmt.Errorf("create course capacity: %w", ErrDuplicate)
	}
	if capacity.CreatedAt.IsZero() {
		capacity.CreatedAt = time.Now().UTC()
	}
	capacity.UpdatedAt = capacity.CreatedAt
	s.capacities[capacity.CourseID] = *capacity
	return nil
}

// GetCapacity returns the capacity row or sql.ErrNoRows.
func (s *MemoryStore) GetCapacity(_ context.Context, courseID string) (*models.CourseCapacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	capacity, ok := s.capacities[courseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &capacity, nil
}

// ListCapacities returns capacity rows matching the filter ordered by course.
func (s *MemoryStore) ListCapacities(_ context.Context, filter models.CapacityFilter) ([]models.CourseCapacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CourseCapacity
	for _, capacity := range s.capacities {
		switch {
		case filter.OnlyFull:
			if !capacity.IsFull() {
				continue
			}
		case filter.NearFullPercent > 0:
			if capacity.IsFull() || capacity.CurrentEnrollments*100 < capacity.MaxCapacity*filter.NearFullPercent {
				continue
			}
		}
		out = append(out, capacity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

// FindEnrollment returns an enrollment or sql.ErrNoRows.
func (s *MemoryStore) FindEnrollment(_ context.Context, id string) (*models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enrollment, ok := s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &enrollment, nil
}

// ListEnrollments returns a filtered page of enrollments, newest first.
func (s *MemoryStore) ListEnrollments(_ context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	var matched []models.Enrollment
	for _, enrollment := range s.enrollments {
		if filter.UserID != "" && enrollment.UserID != filter.UserID {
			continue
		}
		if filter.CourseID != "" && enrollment.CourseID != filter.CourseID {
			continue
		}
		if filter.Status != "" && enrollment.Status != filter.Status {
			continue
		}
		matched = append(matched, enrollment)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].EnrolledAt.Equal(matched[j].EnrolledAt) {
			return matched[i].EnrolledAt.After(matched[j].EnrolledAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []models.Enrollment{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// CountEnrollmentsByStatus groups a course's enrollments by status.
func (s *MemoryStore) CountEnrollmentsByStatus(_ context.Context, courseID string) (map[models.EnrollmentStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.EnrollmentStatus]int)
	for _, enrollment := range s.enrollments {
		if enrollment.CourseID == courseID {
			counts[enrollment.Status]++
		}
	}
	return counts, nil
}

// ListHistory returns one enrollment's transitions, oldest first.
func (s *MemoryStore) ListHistory(_ context.Context, enrollmentID string) ([]models.EnrollmentHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.EnrollmentHistory(nil), s.history[enrollmentID]...), nil
}

// FindWaitlistEntry returns the user's entry or nil.
func (s *MemoryStore) FindWaitlistEntry(_ context.Context, courseID, userID string) (*models.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.waitlists[courseID] {
		if entry.UserID == userID {
			e := entry
			return &e, nil
		}
	}
	return nil, nil
}

// CountWaitlist returns the number of entries for a course.
func (s *MemoryStore) CountWaitlist(_ context.Context, courseID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.waitlists[courseID]), nil
}

// ListWaitlist returns a page of a course's entries in position order.
func (s *MemoryStore) ListWaitlist(_ context.Context, courseID string, page, size int) ([]models.WaitlistEntry, int, error) {
	page, size = models.NormalizePage(page, size)
	s.mu.RLock()
	entries := append([]models.WaitlistEntry(nil), s.waitlists[courseID]...)
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	total := len(entries)
	start := (page - 1) * size
	if start >= total {
		return []models.WaitlistEntry{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return entries[start:end], total, nil
}

// WaitlistStats aggregates notification state for one or all courses.
func (s *MemoryStore) WaitlistStats(_ context.Context, courseID string) (*models.WaitlistStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.WaitlistStats{CourseID: courseID}
	for id, entries := range s.waitlists {
		if courseID != "" && id != courseID {
			continue
		}
		for _, entry := range entries {
			stats.TotalWaitlisted++
			if entry.Notified {
				stats.TotalNotified++
			}
		}
	}
	stats.TotalUnnotified = stats.TotalWaitlisted - stats.TotalNotified
	return stats, nil
}

type memCourseTx struct {
	store       *MemoryStore
	courseID    string
	capacity    models.CourseCapacity
	waitlist    []models.WaitlistEntry
	enrollments map[string]models.Enrollment
	history     []models.EnrollmentHistory
}

var _ CourseTx = (*memCourseTx)(nil)

func (t *memCourseTx) CourseID() string { return t.courseID }

func (t *memCourseTx) Capacity(context.Context) (*models.CourseCapacity, error) {
	capacity := t.capacity
	return &capacity, nil
}

func (t *memCourseTx) ReserveSlot(_ context.Context, now time.Time) (bool, error) {
	if t.capacity.CurrentEnrollments >= t.capacity.MaxCapacity {
		return false, nil
	}
	t.capacity.CurrentEnrollments++
	t.capacity.UpdatedAt = now
	return true, nil
}

func (t *memCourseTx) ReleaseSlot(_ context.Context, now time.Time) error {
	if t.capacity.CurrentEnrollments > 0 {
		t.capacity.CurrentEnrollments--
	}
	t.capacity.UpdatedAt = now
	return nil
}

func (t *memCourseTx) UpdateLimits(_ context.Context, maxCapacity int, allowWaitlist bool, now time.Time) (bool, error) {
	if maxCapacity < t.capacity.CurrentEnrollments {
		return false, nil
	}
	t.capacity.MaxCapacity = maxCapacity
	t.capacity.AllowWaitlist = allowWaitlist
	t.capacity.UpdatedAt = now
	return true, nil
}

func (t *memCourseTx) lookup(id string) (models.Enrollment, bool) {
	if enrollment, ok := t.enrollments[id]; ok {
		return enrollment, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	enrollment, ok := t.store.enrollments[id]
	return enrollment, ok
}

func (t *memCourseTx) FindEnrollment(_ context.Context, id string) (*models.Enrollment, error) {
	enrollment, ok := t.lookup(id)
	if !ok || enrollment.CourseID != t.courseID {
		return nil, sql.ErrNoRows
	}
	return &enrollment, nil
}

func (t *memCourseTx) FindOpenEnrollment(_ context.Context, userID string) (*models.Enrollment, error) {
	for _, enrollment := range t.enrollments {
		if enrollment.UserID == userID && enrollment.Status.IsOpen() {
			e := enrollment
			return &e, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for id, enrollment := range t.store.enrollments {
		if enrollment.CourseID != t.courseID || enrollment.UserID != userID || !enrollment.Status.IsOpen() {
			continue
		}
		if _, staged := t.enrollments[id]; staged {
			continue
		}
		e := enrollment
		return &e, nil
	}
	return nil, nil
}

func (t *memCourseTx) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.CourseID = t.courseID
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.PaymentStatus == "" {
		enrollment.PaymentStatus = models.PaymentStatusPending
	}
	enrollment.UpdatedAt = enrollment.EnrolledAt
	if _, exists := t.lookup(enrollment.ID); exists {
		return fmt.Errorf("create enrollment: %w", ErrDuplicate)
	}
	if enrollment.Status.IsOpen() {
		open, _ := t.FindOpenEnrollment(ctx, enrollment.UserID)
		if open != nil {
			return fmt.Errorf("create enrollment: %w", ErrDuplicate)
		}
	}
	t.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (t *memCourseTx) UpdateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	current, ok := t.lookup(enrollment.ID)
	if !ok || current.CourseID != t.courseID {
		return fmt.Errorf("update enrollment %s: %w", enrollment.ID, sql.ErrNoRows)
	}
	t.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (t *memCourseTx) AppendHistory(_ context.Context, entry *models.EnrollmentHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	t.history = append(t.history, *entry)
	return nil
}

func (t *memCourseTx) FindWaitlistEntry(_ context.Context, userID string) (*models.WaitlistEntry, error) {
	for _, entry := range t.waitlist {
		if entry.UserID == userID {
			e := entry
			return &e, nil
		}
	}
	return nil, nil
}

func (t *memCourseTx) Enqueue(_ context.Context, entry *models.WaitlistEntry, now time.Time) error {
	maxPosition := 0
	for _, existing := range t.waitlist {
		if existing.UserID == entry.UserID {
			return fmt.Errorf("insert waitlist entry: %w", ErrDuplicate)
		}
		if existing.Position > maxPosition {
			maxPosition = existing.Position
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = now
	}
	entry.CourseID = t.courseID
	entry.Position = maxPosition + 1
	t.waitlist = append(t.waitlist, *entry)
	t.capacity.WaitlistCount++
	t.capacity.UpdatedAt = now
	return nil
}

func (t *memCourseTx) RemoveWaitlistEntry(_ context.Context, userID string, now time.Time) (bool, error) {
	idx := -1
	for i, entry := range t.waitlist {
		if entry.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	removed := t.waitlist[idx]
	remaining := make([]models.WaitlistEntry, 0, len(t.waitlist)-1)
	for i, entry := range t.waitlist {
		if i == idx {
			continue
		}
		if entry.Position > removed.Position {
			entry.Position--
		}
		remaining = append(remaining, entry)
	}
	t.waitlist = remaining
	if t.capacity.WaitlistCount > 0 {
		t.capacity.WaitlistCount--
	}
	t.capacity.UpdatedAt = now
	return true, nil
}

func (t *memCourseTx) served(onlyUnnotified bool) []models.WaitlistEntry {
	entries := make([]models.WaitlistEntry, 0, len(t.waitlist))
	for _, entry := range t.waitlist {
		if onlyUnnotified && entry.Notified {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ServedBefore(entries[j]) })
	return entries
}

func (t *memCourseTx) WaitlistHead(context.Context) (*models.WaitlistEntry, error) {
	entries := t.served(false)
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (t *memCourseTx) UnnotifiedWaitlist(_ context.Context, limit int) ([]models.WaitlistEntry, error) {
	entries := t.served(true)
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (t *memCourseTx) MarkNotified(_ context.Context, userIDs []string, at time.Time) (int, error) {
	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}
	changed := 0
	for i := range t.waitlist {
		entry := &t.waitlist[i]
		if !wanted[entry.UserID] || entry.Notified {
			continue
		}
		notifiedAt := at
		entry.Notified = true
		entry.NotifiedAt = &notifiedAt
		changed++
	}
	return changed, nil
}
