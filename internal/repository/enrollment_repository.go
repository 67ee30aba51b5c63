package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-admission-api/internal/models"
)

const enrollmentColumns = `id, user_id, course_id, status, enrolled_at, completed_at, dropped_at, cancelled_at,
progress, payment_status, payment_amount, payment_method, notes, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID returns an enrollment by its ID or sql.ErrNoRows.
func (r *EnrollmentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	target := r.exec(exec)
	query := target.Rebind(`SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = ?`)
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, target, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindOpen returns the user's PENDING or ACTIVE enrollment in a course, or nil.
func (r *EnrollmentRepository) FindOpen(ctx context.Context, exec sqlx.ExtContext, courseID, userID string) (*models.Enrollment, error) {
	target := r.exec(exec)
	query := target.Rebind(`SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE course_id = ? AND user_id = ? AND status IN (?, ?) LIMIT 1`)
	var enrollment models.Enrollment
	err := sqlx.GetContext(ctx, target, &enrollment, query, courseID, userID, models.EnrollmentStatusPending, models.EnrollmentStatusActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find open enrollment: %w", err)
	}
	return &enrollment, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
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
	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
VALUES (:id, :user_id, :course_id, :status, :enrolled_at, :completed_at, :dropped_at, :cancelled_at,
:progress, :payment_status, :payment_amount, :payment_method, :notes, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", translateWriteErr(err))
	}
	return nil
}

// Update writes every mutable column of the enrollment.
func (r *EnrollmentRepository) Update(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	const query = `UPDATE enrollments SET status = :status, completed_at = :completed_at, dropped_at = :dropped_at,
cancelled_at = :cancelled_at, progress = :progress, payment_status = :payment_status, payment_amount = :payment_amount,
payment_method = :payment_method, notes = :notes, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, enrollment)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update enrollment %s: %w", enrollment.ID, sql.ErrNoRows)
	}
	return nil
}

// List returns enrollments filtered by the provided criteria, newest first.
func (r *EnrollmentRepository) List(ctx context.Context, exec sqlx.ExtContext, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	filter = filter.Normalize()
	target := r.exec(exec)

	var conditions []string
	var args []interface{}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	offset := (filter.Page - 1) * filter.PageSize
	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY enrolled_at DESC, id ASC LIMIT %d OFFSET %d`,
		enrollmentColumns, clause, filter.PageSize, offset)
	var enrollments []models.Enrollment
	if err := sqlx.SelectContext(ctx, target, &enrollments, target.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	countQuery := target.Rebind("SELECT COUNT(*) FROM enrollments" + clause)
	if err := sqlx.GetContext(ctx, target, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// CountByStatus groups a course's enrollments by status.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, exec sqlx.ExtContext, courseID string) (map[models.EnrollmentStatus]int, error) {
	target := r.exec(exec)
	query := target.Rebind(`SELECT status, COUNT(*) AS total FROM enrollments WHERE course_id = ? GROUP BY status`)
	var rows []struct {
		Status models.EnrollmentStatus `db:"status"`
		Total  int                     `db:"total"`
	}
	if err := sqlx.SelectContext(ctx, target, &rows, query, courseID); err != nil {
		return nil, fmt.Errorf("count enrollments by status: %w", err)
	}
	counts := make(map[models.EnrollmentStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
