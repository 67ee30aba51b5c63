package repository

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock, func() { db.Close() }
}

func capacityRows(courseID string, max, current int, allowWaitlist bool, waitlistCount int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"course_id", "max_capacity", "current_enrollments", "allow_waitlist", "waitlist_count", "created_at", "updated_at"}).
		AddRow(courseID, max, current, allowWaitlist, waitlistCount, now, now)
}
