package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-admission-api/internal/dto"
	"github.com/noah-isme/course-admission-api/internal/models"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
)

func fullCourse(t *testing.T, s *testServices, courseID string, allowWaitlist bool) {
	t.Helper()
	s.course(t, courseID, 1, allowWaitlist)
	s.enroll(t, "holder", courseID)
}

func TestWaitlistAddRules(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	s.course(t, "course-open", 2, true)
	fullCourse(t, s, "course-closed", false)
	fullCourse(t, s, "course-full", true)

	_, err := s.waitlist.Add(ctx, student("user-a"), dto.WaitlistAddRequest{CourseID: "course-open"})
	requireCode(t, err, appErrors.ErrSeatsAvailable)
	assert.True(t, appErrors.IsRetryable(err))

	_, err = s.waitlist.Add(ctx, student("user-a"), dto.WaitlistAddRequest{CourseID: "course-closed"})
	requireCode(t, err, appErrors.ErrWaitlistDisabled)

	_, err = s.waitlist.Add(ctx, student("holder"), dto.WaitlistAddRequest{CourseID: "course-full"})
	requireCode(t, err, appErrors.ErrDuplicateEnrollment)

	entry, err := s.waitlist.Add(ctx, student("user-a"), dto.WaitlistAddRequest{CourseID: "course-full"})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)
	assert.Equal(t, models.DefaultWaitlistPriority, entry.Priority)

	_, err = s.waitlist.Add(ctx, student("user-a"), dto.WaitlistAddRequest{CourseID: "course-full"})
	requireCode(t, err, appErrors.ErrAlreadyWaitlisted)

	tooHigh := 11
	_, err = s.waitlist.Add(ctx, student("user-b"), dto.WaitlistAddRequest{CourseID: "course-full", Priority: &tooHigh})
	requireCode(t, err, appErrors.ErrValidation)
	s.assertWaitlistDense(t, "course-full")
}

func TestWaitlistRemoveRenumbers(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	fullCourse(t, s, "course-1", true)
	for i := 1; i <= 5; i++ {
		_, err := s.waitlist.Add(ctx, student(fmt.Sprintf("user-%d", i)), dto.WaitlistAddRequest{CourseID: "course-1"})
		require.NoError(t, err)
	}

	require.NoError(t, s.waitlist.Remove(ctx, student("user-2"), "course-1", ""))
	require.NoError(t, s.waitlist.Remove(ctx, adminActor, "course-1", "user-4"))
	entries := s.assertWaitlistDense(t, "course-1")
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"user-1", "user-3", "user-5"}, []string{entries[0].UserID, entries[1].UserID, entries[2].UserID})

	err := s.waitlist.Remove(ctx, student("user-2"), "course-1", "")
	requireCode(t, err, appErrors.ErrNotFound)

	err = s.waitlist.Remove(ctx, student("user-1"), "course-1", "user-3")
	requireCode(t, err, appErrors.ErrForbidden)

	position, err := s.waitlist.Position(ctx, student("user-5"), "course-1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, position.Position)
	assert.Equal(t, 3, position.TotalInWaitlist)

	_, err = s.waitlist.Position(ctx, student("user-2"), "course-1", "")
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestWaitlistPriorityBreaksTies(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	fullCourse(t, s, "course-1", true)

	// Every request in this test lands on the same instant.
	frozen := s.waitlist.now()
	s.waitlist.now = func() time.Time { return frozen }

	low, high := 1, 7
	_, err := s.waitlist.Add(ctx, student("user-low"), dto.WaitlistAddRequest{CourseID: "course-1", Priority: &low})
	require.NoError(t, err)
	_, err = s.waitlist.Add(ctx, student("user-high"), dto.WaitlistAddRequest{CourseID: "course-1", Priority: &high})
	require.NoError(t, err)

	holder := s.openEnrollments(t, "course-1")[0]
	_, err = s.admission.CancelEnrollment(ctx, student("holder"), holder.ID, dto.CancelEnrollmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-high"}, s.notifier.promotedUsers())

	remaining := s.assertWaitlistDense(t, "course-1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "user-low", remaining[0].UserID)
}

func TestWaitlistArrivalBeatsPriority(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	fullCourse(t, s, "course-1", true)

	high := 10
	_, err := s.waitlist.Add(ctx, student("user-early"), dto.WaitlistAddRequest{CourseID: "course-1"})
	require.NoError(t, err)
	_, err = s.waitlist.Add(ctx, student("user-late"), dto.WaitlistAddRequest{CourseID: "course-1", Priority: &high})
	require.NoError(t, err)

	maxCapacity := 2
	_, err = s.capacity.Update(ctx, "course-1", dto.UpdateCapacityRequest{MaxCapacity: &maxCapacity})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-early"}, s.notifier.promotedUsers())
}

func TestWaitlistNotify(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	fullCourse(t, s, "course-1", true)
	for i := 1; i <= 3; i++ {
		_, err := s.waitlist.Add(ctx, student(fmt.Sprintf("user-%d", i)), dto.WaitlistAddRequest{CourseID: "course-1"})
		require.NoError(t, err)
	}

	first, err := s.waitlist.Notify(ctx, "course-1", dto.WaitlistNotifyRequest{Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, first.UserIDs)

	second, err := s.waitlist.Notify(ctx, "course-1", dto.WaitlistNotifyRequest{Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-3"}, second.UserIDs)

	third, err := s.waitlist.Notify(ctx, "course-1", dto.WaitlistNotifyRequest{Count: 5})
	require.NoError(t, err)
	assert.Empty(t, third.UserIDs)

	assert.Equal(t, []string{"user-1", "user-2", "user-3"}, s.notifier.available["course-1"])

	stats, err := s.waitlist.Stats(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalWaitlisted)
	assert.Equal(t, 3, stats.TotalNotified)
	assert.Equal(t, 0, stats.TotalUnnotified)

	_, err = s.waitlist.Notify(ctx, "course-1", dto.WaitlistNotifyRequest{})
	requireCode(t, err, appErrors.ErrValidation)
}

func TestWaitlistMarkNotifiedIdempotent(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	fullCourse(t, s, "course-1", true)
	_, err := s.waitlist.Add(ctx, student("user-1"), dto.WaitlistAddRequest{CourseID: "course-1"})
	require.NoError(t, err)

	require.NoError(t, s.waitlist.MarkNotified(ctx, "course-1", "user-1"))
	first, err := s.store.FindWaitlistEntry(ctx, "course-1", "user-1")
	require.NoError(t, err)
	require.True(t, first.Notified)
	require.NotNil(t, first.NotifiedAt)

	require.NoError(t, s.waitlist.MarkNotified(ctx, "course-1", "user-1"))
	second, err := s.store.FindWaitlistEntry(ctx, "course-1", "user-1")
	require.NoError(t, err)
	assert.True(t, first.NotifiedAt.Equal(*second.NotifiedAt))

	err = s.waitlist.MarkNotified(ctx, "course-1", "nobody")
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestWaitlistForCoursePaginates(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	fullCourse(t, s, "course-1", true)
	for i := 1; i <= 5; i++ {
		_, err := s.waitlist.Add(ctx, student(fmt.Sprintf("user-%d", i)), dto.WaitlistAddRequest{CourseID: "course-1"})
		require.NoError(t, err)
	}

	entries, pagination, err := s.waitlist.ForCourse(ctx, "course-1", dto.PageQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, entries[0].Position)
	assert.Equal(t, &models.Pagination{Page: 2, PageSize: 2, TotalCount: 5}, pagination)
}
