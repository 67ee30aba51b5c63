package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/internal/repository"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
)

var (
	adminActor = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	instructor = models.Actor{UserID: "instructor-1", Role: models.RoleInstructor}
)

func student(id string) models.Actor {
	return models.Actor{UserID: id, Role: models.RoleStudent}
}

type recordingNotifier struct {
	mu        sync.Mutex
	promoted  []models.Enrollment
	available map[string][]string
}

func (n *recordingNotifier) EnrollmentPromoted(_ context.Context, enrollment models.Enrollment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.promoted = append(n.promoted, enrollment)
}

func (n *recordingNotifier) SeatAvailable(_ context.Context, courseID string, userIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.available == nil {
		n.available = make(map[string][]string)
	}
	n.available[courseID] = append(n.available[courseID], userIDs...)
}

func (n *recordingNotifier) promotedUsers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.promoted))
	for _, e := range n.promoted {
		out = append(out, e.UserID)
	}
	return out
}

// tickingClock returns strictly increasing instants so arrival order is
// observable through requested_at.
func tickingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(step)
		return current
	}
}

type testServices struct {
	store      *repository.MemoryStore
	notifier   *recordingNotifier
	metrics    *MetricsService
	admission  *AdmissionService
	waitlist   *WaitlistService
	capacity   *CapacityService
	enrollment *EnrollmentService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	store := repository.NewMemoryStore()
	notifier := &recordingNotifier{}
	metrics := NewMetricsService()
	clock := tickingClock(time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC), time.Millisecond)

	s := &testServices{
		store:      store,
		notifier:   notifier,
		metrics:    metrics,
		admission:  NewAdmissionService(store, nil, notifier, metrics, nil, nil),
		waitlist:   NewWaitlistService(store, nil, notifier, metrics, nil, nil),
		capacity:   NewCapacityService(store, nil, notifier, metrics, CapacityConfig{}, nil, nil),
		enrollment: NewEnrollmentService(store, nil, time.Minute, nil, nil),
	}
	s.admission.now = clock
	s.waitlist.now = clock
	s.capacity.now = clock
	s.enrollment.now = clock
	return s
}

func (s *testServices) course(t *testing.T, courseID string, maxCapacity int, allowWaitlist bool) {
	t.Helper()
	require.NoError(t, s.store.CreateCapacity(context.Background(), &models.CourseCapacity{
		CourseID:      courseID,
		MaxCapacity:   maxCapacity,
		AllowWaitlist: allowWaitlist,
	}))
}

func (s *testServices) capacityOf(t *testing.T, courseID string) models.CourseCapacity {
	t.Helper()
	capacity, err := s.store.GetCapacity(context.Background(), courseID)
	require.NoError(t, err)
	return *capacity
}

// assertWaitlistDense checks that the course's positions are 1..N and that
// the stored waitlist count matches N.
func (s *testServices) assertWaitlistDense(t *testing.T, courseID string) []models.WaitlistEntry {
	t.Helper()
	entries, total, err := s.store.ListWaitlist(context.Background(), courseID, 1, models.MaxPageSize)
	require.NoError(t, err)
	require.Len(t, entries, total)
	for i, entry := range entries {
		require.Equal(t, i+1, entry.Position, "position gap at index %d", i)
	}
	require.Equal(t, total, s.capacityOf(t, courseID).WaitlistCount)
	return entries
}

func (s *testServices) openEnrollments(t *testing.T, courseID string) []models.Enrollment {
	t.Helper()
	all, _, err := s.store.ListEnrollments(context.Background(), models.EnrollmentFilter{CourseID: courseID, PageSize: models.MaxPageSize})
	require.NoError(t, err)
	var open []models.Enrollment
	for _, e := range all {
		if e.Status.IsOpen() {
			open = append(open, e)
		}
	}
	return open
}

func (s *testServices) enroll(t *testing.T, userID, courseID string) *models.AdmissionResult {
	t.Helper()
	result, err := s.admission.RequestEnrollment(context.Background(), student(userID), enrollmentRequest(courseID))
	require.NoError(t, err)
	return result
}

func requireCode(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want.Code, appErrors.FromError(err).Code, "unexpected error: %v", err)
}
