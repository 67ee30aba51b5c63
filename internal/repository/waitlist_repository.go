package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-admission-api/internal/models"
)

const waitlistColumns = `id, user_id, course_id, position, priority, requested_at, notified, notified_at`

// waitlistServeOrder is the promotion order shared by every head query.
const waitlistServeOrder = ` ORDER BY requested_at ASC, priority DESC, position ASC`

// WaitlistRepository persists per-course waitlist entries.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

func (r *WaitlistRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByUser returns the user's entry for a course, or nil when absent.
func (r *WaitlistRepository) FindByUser(ctx context.Context, exec sqlx.ExtContext, courseID, userID string) (*models.WaitlistEntry, error) {
	target := r.exec(exec)
	query := target.Rebind(`SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE course_id = ? AND user_id = ?`)
	var entry models.WaitlistEntry
	if err := sqlx.GetContext(ctx, target, &entry, query, courseID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find waitlist entry: %w", err)
	}
	return &entry, nil
}

// Insert appends an entry at the tail, assigning the next dense position.
func (r *WaitlistRepository) Insert(ctx context.Context, exec sqlx.ExtContext, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = time.Now().UTC()
	}
	target := r.exec(exec)

	nextQuery := target.Rebind(`SELECT COALESCE(MAX(position), 0) + 1 FROM waitlist_entries WHERE course_id = ?`)
	if err := sqlx.GetContext(ctx, target, &entry.Position, nextQuery, entry.CourseID); err != nil {
		return fmt.Errorf("compute next waitlist position: %w", err)
	}

	const insertQuery = `INSERT INTO waitlist_entries (` + waitlistColumns + `)
VALUES (:id, :user_id, :course_id, :position, :priority, :requested_at, :notified, :notified_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, entry); err != nil {
		return fmt.Errorf("insert waitlist entry: %w", translateWriteErr(err))
	}
	return nil
}

// Head returns the entry served next, or nil when the waitlist is empty.
func (r *WaitlistRepository) Head(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.WaitlistEntry, error) {
	entries, err := r.ListInServeOrder(ctx, exec, courseID, 1, false)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Delete removes the user's entry and closes the gap so positions stay 1..N.
// It reports whether an entry existed.
func (r *WaitlistRepository) Delete(ctx context.Context, exec sqlx.ExtContext, courseID, userID string) (bool, error) {
	entry, err := r.FindByUser(ctx, exec, courseID, userID)
	if err != nil || entry == nil {
		return false, err
	}
	target := r.exec(exec)

	deleteQuery := target.Rebind(`DELETE FROM waitlist_entries WHERE id = ?`)
	if _, err := target.ExecContext(ctx, deleteQuery, entry.ID); err != nil {
		return false, fmt.Errorf("delete waitlist entry: %w", err)
	}
	renumberQuery := target.Rebind(`UPDATE waitlist_entries SET position = position - 1 WHERE course_id = ? AND position > ?`)
	if _, err := target.ExecContext(ctx, renumberQuery, courseID, entry.Position); err != nil {
		return false, fmt.Errorf("renumber waitlist: %w", err)
	}
	return true, nil
}

// ListByCourse returns a page of entries in position order with the total count.
func (r *WaitlistRepository) ListByCourse(ctx context.Context, exec sqlx.ExtContext, courseID string, page, size int) ([]models.WaitlistEntry, int, error) {
	page, size = models.NormalizePage(page, size)
	target := r.exec(exec)

	query := target.Rebind(fmt.Sprintf(`SELECT %s FROM waitlist_entries WHERE course_id = ? ORDER BY position ASC LIMIT %d OFFSET %d`,
		waitlistColumns, size, (page-1)*size))
	var entries []models.WaitlistEntry
	if err := sqlx.SelectContext(ctx, target, &entries, query, courseID); err != nil {
		return nil, 0, fmt.Errorf("list waitlist: %w", err)
	}

	total, err := r.Count(ctx, exec, courseID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Count returns the number of entries for a course.
func (r *WaitlistRepository) Count(ctx context.Context, exec sqlx.ExtContext, courseID string) (int, error) {
	target := r.exec(exec)
	var total int
	query := target.Rebind(`SELECT COUNT(*) FROM waitlist_entries WHERE course_id = ?`)
	if err := sqlx.GetContext(ctx, target, &total, query, courseID); err != nil {
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	return total, nil
}

// ListInServeOrder returns up to limit entries in serve order. With onlyUnnotified
// the already notified entries are skipped.
func (r *WaitlistRepository) ListInServeOrder(ctx context.Context, exec sqlx.ExtContext, courseID string, limit int, onlyUnnotified bool) ([]models.WaitlistEntry, error) {
	target := r.exec(exec)
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE course_id = ?`
	if onlyUnnotified {
		query += ` AND notified = FALSE`
	}
	query += waitlistServeOrder + fmt.Sprintf(` LIMIT %d`, limit)

	var entries []models.WaitlistEntry
	if err := sqlx.SelectContext(ctx, target, &entries, target.Rebind(query), courseID); err != nil {
		return nil, fmt.Errorf("list waitlist head: %w", err)
	}
	return entries, nil
}

// MarkNotified flags the given users' entries; already notified ones are left untouched.
func (r *WaitlistRepository) MarkNotified(ctx context.Context, exec sqlx.ExtContext, courseID string, userIDs []string, at time.Time) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	target := r.exec(exec)
	query, args, err := sqlx.In(`UPDATE waitlist_entries SET notified = TRUE, notified_at = ?
WHERE course_id = ? AND notified = FALSE AND user_id IN (?)`, at, courseID, userIDs)
	if err != nil {
		return 0, fmt.Errorf("build notify query: %w", err)
	}
	res, err := target.ExecContext(ctx, target.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("mark waitlist notified: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark waitlist notified rows: %w", err)
	}
	return int(affected), nil
}

// Stats aggregates entry counts for one course, or all courses when courseID is empty.
func (r *WaitlistRepository) Stats(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.WaitlistStats, error) {
	target := r.exec(exec)
	query := `SELECT COUNT(*) AS total_waitlisted,
COALESCE(SUM(CASE WHEN notified THEN 1 ELSE 0 END), 0) AS total_notified
FROM waitlist_entries`
	var args []interface{}
	if courseID != "" {
		query += ` WHERE course_id = ?`
		args = append(args, courseID)
	}
	var stats models.WaitlistStats
	if err := sqlx.GetContext(ctx, target, &stats, target.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("waitlist stats: %w", err)
	}
	stats.CourseID = courseID
	stats.TotalUnnotified = stats.TotalWaitlisted - stats.TotalNotified
	return &stats, nil
}
