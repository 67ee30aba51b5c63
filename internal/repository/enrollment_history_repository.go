package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-admission-api/internal/models"
)

// EnrollmentHistoryRepository appends and reads status transition rows.
// Rows are never updated or deleted.
type EnrollmentHistoryRepository struct {
	db *sqlx.DB
}

// NewEnrollmentHistoryRepository constructs the repository.
func NewEnrollmentHistoryRepository(db *sqlx.DB) *EnrollmentHistoryRepository {
	return &EnrollmentHistoryRepository{db: db}
}

func (r *EnrollmentHistoryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Append inserts one history row.
func (r *EnrollmentHistoryRepository) Append(ctx context.Context, exec sqlx.ExtContext, entry *models.EnrollmentHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollment_history (id, enrollment_id, previous_status, new_status, changed_by, reason, changed_at)
VALUES (:id, :enrollment_id, :previous_status, :new_status, :changed_by, :reason, :changed_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("append enrollment history: %w", err)
	}
	return nil
}

// ListByEnrollment returns the transitions of one enrollment, oldest first.
func (r *EnrollmentHistoryRepository) ListByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) ([]models.EnrollmentHistory, error) {
	target := r.exec(exec)
	query := target.Rebind(`SELECT id, enrollment_id, previous_status, new_status, changed_by, reason, changed_at
FROM enrollment_history WHERE enrollment_id = ? ORDER BY changed_at ASC, id ASC`)
	var history []models.EnrollmentHistory
	if err := sqlx.SelectContext(ctx, target, &history, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment history: %w", err)
	}
	return history, nil
}
