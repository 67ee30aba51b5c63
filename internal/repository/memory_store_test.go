package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-admission-api/internal/models"
)

func newSeededMemoryStore(t *testing.T, courseID string, max int) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCapacity(context.Background(), &models.CourseCapacity{CourseID: courseID, MaxCapacity: max, AllowWaitlist: true}))
	return store
}

func TestMemoryStoreDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	store := newSeededMemoryStore(t, "course-1", 1)
	boom := errors.New("boom")

	err := store.WithinCourse(ctx, "course-1", func(tx CourseTx) error {
		granted, err := tx.ReserveSlot(ctx, time.Now())
		require.NoError(t, err)
		require.True(t, granted)
		require.NoError(t, tx.CreateEnrollment(ctx, &models.Enrollment{UserID: "user-1", Status: models.EnrollmentStatusActive}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	capacity, err := store.GetCapacity(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, 0, capacity.CurrentEnrollments)
	_, total, err := store.ListEnrollments(ctx, models.EnrollmentFilter{CourseID: "course-1"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestMemoryStoreMissingCourse(t *testing.T) {
	err := NewMemoryStore().WithinCourse(context.Background(), "missing", func(CourseTx) error { return nil })
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMemoryStoreRemoveRenumbersPositions(t *testing.T) {
	ctx := context.Background()
	store := newSeededMemoryStore(t, "course-1", 1)
	now := time.Now().UTC()

	require.NoError(t, store.WithinCourse(ctx, "course-1", func(tx CourseTx) error {
		for _, user := range []string{"a", "b", "c", "d"} {
			if err := tx.Enqueue(ctx, &models.WaitlistEntry{UserID: user, Priority: 1}, now); err != nil {
				return err
			}
		}
		removed, err := tx.RemoveWaitlistEntry(ctx, "b", now)
		require.True(t, removed)
		return err
	}))

	entries, total, err := store.ListWaitlist(ctx, "course-1", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.Position)
	}
	assert.Equal(t, []string{"a", "c", "d"}, []string{entries[0].UserID, entries[1].UserID, entries[2].UserID})

	capacity, err := store.GetCapacity(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, 3, capacity.WaitlistCount)
}

func TestMemoryStoreHeadBreaksTiesByPriority(t *testing.T) {
	ctx := context.Background()
	store := newSeededMemoryStore(t, "course-1", 1)
	same := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithinCourse(ctx, "course-1", func(tx CourseTx) error {
		require.NoError(t, tx.Enqueue(ctx, &models.WaitlistEntry{UserID: "low", Priority: 1, RequestedAt: same}, same))
		require.NoError(t, tx.Enqueue(ctx, &models.WaitlistEntry{UserID: "high", Priority: 5, RequestedAt: same}, same))
		require.NoError(t, tx.Enqueue(ctx, &models.WaitlistEntry{UserID: "late", Priority: 10, RequestedAt: same.Add(time.Second)}, same))

		head, err := tx.WaitlistHead(ctx)
		require.NoError(t, err)
		assert.Equal(t, "high", head.UserID)
		return nil
	}))
}

func TestMemoryStoreRejectsSecondOpenEnrollment(t *testing.T) {
	ctx := context.Background()
	store := newSeededMemoryStore(t, "course-1", 5)

	err := store.WithinCourse(ctx, "course-1", func(tx CourseTx) error {
		require.NoError(t, tx.CreateEnrollment(ctx, &models.Enrollment{UserID: "user-1", Status: models.EnrollmentStatusPending}))
		return tx.CreateEnrollment(ctx, &models.Enrollment{UserID: "user-1", Status: models.EnrollmentStatusActive})
	})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryStoreMarkNotifiedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newSeededMemoryStore(t, "course-1", 1)
	now := time.Now().UTC()

	require.NoError(t, store.WithinCourse(ctx, "course-1", func(tx CourseTx) error {
		require.NoError(t, tx.Enqueue(ctx, &models.WaitlistEntry{UserID: "a", Priority: 1}, now))
		changed, err := tx.MarkNotified(ctx, []string{"a"}, now)
		require.NoError(t, err)
		assert.Equal(t, 1, changed)
		changed, err = tx.MarkNotified(ctx, []string{"a"}, now)
		require.NoError(t, err)
		assert.Zero(t, changed)
		return nil
	}))

	stats, err := store.WaitlistStats(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalNotified)
	assert.Zero(t, stats.TotalUnnotified)
}
