package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockQuery = "FROM course_capacities WHERE course_id = $1 FOR UPDATE"

func TestSQLStoreWithinCourseCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewSQLStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WithArgs("course-1").WillReturnRows(capacityRows("course-1", 2, 1, true, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET current_enrollments = current_enrollments + 1")).
		WithArgs(sqlmock.AnyArg(), "course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var granted bool
	err := store.WithinCourse(context.Background(), "course-1", func(tx CourseTx) error {
		var err error
		granted, err = tx.ReserveSlot(context.Background(), time.Now())
		return err
	})
	require.NoError(t, err)
	assert.True(t, granted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreWithinCourseRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewSQLStore(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WithArgs("course-1").WillReturnRows(capacityRows("course-1", 2, 1, true, 0))
	mock.ExpectRollback()

	err := store.WithinCourse(context.Background(), "course-1", func(CourseTx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreWithinCourseMissingCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewSQLStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	err := store.WithinCourse(context.Background(), "missing", func(CourseTx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRetriesSerializationFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	var retries int
	store := NewSQLStore(db, WithRetries(2, 0), WithRetryHook(func(courseID string, attempt int, err error) {
		retries++
		assert.Equal(t, "course-1", courseID)
	}))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WithArgs("course-1").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WithArgs("course-1").WillReturnRows(capacityRows("course-1", 2, 1, true, 0))
	mock.ExpectCommit()

	err := store.WithinCourse(context.Background(), "course-1", func(CourseTx) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, retries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSurfacesConflictAfterRetries(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewSQLStore(db, WithRetries(1, 0))

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WithArgs("course-1").WillReturnError(&mysql.MySQLError{Number: 1213})
		mock.ExpectRollback()
	}

	err := store.WithinCourse(context.Background(), "course-1", func(CourseTx) error { return nil })
	require.ErrorIs(t, err, ErrTxConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
	assert.True(t, IsRetryableTxError(&pq.Error{Code: "40P01"}))
	assert.True(t, IsRetryableTxError(&mysql.MySQLError{Number: 1205}))
	assert.False(t, IsRetryableTxError(&pq.Error{Code: "23505"}))
}
