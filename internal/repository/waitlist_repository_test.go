package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-admission-api/internal/models"
)

var waitlistColumnNames = []string{"id", "user_id", "course_id", "position", "priority", "requested_at", "notified", "notified_at"}

func TestWaitlistRepositoryInsertAssignsNextPosition(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(position), 0) + 1 FROM waitlist_entries WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO waitlist_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.WaitlistEntry{UserID: "user-1", CourseID: "course-1", Priority: 1}
	require.NoError(t, repo.Insert(context.Background(), nil, entry))
	assert.Equal(t, 3, entry.Position)
	assert.NotEmpty(t, entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryDeleteRenumbers(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM waitlist_entries WHERE course_id = $1 AND user_id = $2")).
		WithArgs("course-1", "user-2").
		WillReturnRows(sqlmock.NewRows(waitlistColumnNames).AddRow("wl-2", "user-2", "course-1", 2, 1, time.Now(), false, nil))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM waitlist_entries WHERE id = $1")).
		WithArgs("wl-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE waitlist_entries SET position = position - 1 WHERE course_id = $1 AND position > $2")).
		WithArgs("course-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := repo.Delete(context.Background(), nil, "course-1", "user-2")
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryHeadUsesServeOrder(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE course_id = $1 ORDER BY requested_at ASC, priority DESC, position ASC LIMIT 1")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows(waitlistColumnNames))

	head, err := repo.Head(context.Background(), nil, "course-1")
	require.NoError(t, err)
	assert.Nil(t, head)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryMarkNotifiedExpandsUsers(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE waitlist_entries SET notified = TRUE, notified_at = $1 WHERE course_id = $2 AND notified = FALSE AND user_id IN ($3, $4)")).
		WithArgs(at, "course-1", "user-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	changed, err := repo.MarkNotified(context.Background(), nil, "course-1", []string{"user-1", "user-2"}, at)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryStats(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM waitlist_entries WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"total_waitlisted", "total_notified"}).AddRow(5, 2))

	stats, err := repo.Stats(context.Background(), nil, "course-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalWaitlisted)
	assert.Equal(t, 3, stats.TotalUnnotified)
	require.NoError(t, mock.ExpectationsWereMet())
}
