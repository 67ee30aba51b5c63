package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-admission-api/internal/models"
)

const capacityColumns = `course_id, max_capacity, current_enrollments, allow_waitlist, waitlist_count, created_at, updated_at`

// CapacityRepository persists per-course seat counters.
type CapacityRepository struct {
	db *sqlx.DB
}

// NewCapacityRepository constructs the repository.
func NewCapacityRepository(db *sqlx.DB) *CapacityRepository {
	return &CapacityRepository{db: db}
}

func (r *CapacityRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Get returns the capacity row or sql.ErrNoRows.
func (r *CapacityRepository) Get(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.CourseCapacity, error) {
	target := r.exec(exec)
	query := target.Rebind(`SELECT ` + capacityColumns + ` FROM course_capacities WHERE course_id = ?`)
	var capacity models.CourseCapacity
	if err := sqlx.GetContext(ctx, target, &capacity, query, courseID); err != nil {
		return nil, err
	}
	return &capacity, nil
}

// Lock reads the capacity row holding a row lock until the transaction ends.
// All course-scoped writes serialise on this lock.
func (r *CapacityRepository) Lock(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.CourseCapacity, error) {
	target := r.exec(exec)
	query := target.Rebind(`SELECT ` + capacityColumns + ` FROM course_capacities WHERE course_id = ? FOR UPDATE`)
	var capacity models.CourseCapacity
	if err := sqlx.GetContext(ctx, target, &capacity, query, courseID); err != nil {
		return nil, err
	}
	return &capacity, nil
}

// Create inserts a capacity row.
func (r *CapacityRepository) Create(ctx context.Context, exec sqlx.ExtContext, capacity *models.CourseCapacity) error {
	now := time.Now().UTC()
	if capacity.CreatedAt.IsZero() {
		capacity.CreatedAt = now
	}
	capacity.UpdatedAt = capacity.CreatedAt
	const query = `INSERT INTO course_capacities (` + capacityColumns + `)
VALUES (:course_id, :max_capacity, :current_enrollments, :allow_waitlist, :waitlist_count, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, capacity); err != nil {
		return fmt.Errorf("create course capacity: %w", translateWriteErr(err))
	}
	return nil
}

// Reserve increments current_enrollments only while a seat is free.
// It reports false, without error, when the course is full.
func (r *CapacityRepository) Reserve(ctx context.Context, exec sqlx.ExtContext, courseID string, now time.Time) (bool, error) {
	target := r.exec(exec)
	query := target.Rebind(`UPDATE course_capacities SET current_enrollments = current_enrollments + 1, updated_at = ?
WHERE course_id = ? AND current_enrollments < max_capacity`)
	res, err := target.ExecContext(ctx, query, now, courseID)
	if err != nil {
		return false, fmt.Errorf("reserve slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve slot rows: %w", err)
	}
	return affected == 1, nil
}

// Release decrements current_enrollments, never below zero.
func (r *CapacityRepository) Release(ctx context.Context, exec sqlx.ExtContext, courseID string, now time.Time) error {
	target := r.exec(exec)
	query := target.Rebind(`UPDATE course_capacities
SET current_enrollments = CASE WHEN current_enrollments > 0 THEN current_enrollments - 1 ELSE 0 END, updated_at = ?
WHERE course_id = ?`)
	if _, err := target.ExecContext(ctx, query, now, courseID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// UpdateLimits changes max_capacity and allow_waitlist. It reports false when
// the new maximum is below the seats already held.
func (r *CapacityRepository) UpdateLimits(ctx context.Context, exec sqlx.ExtContext, courseID string, maxCapacity int, allowWaitlist bool, now time.Time) (bool, error) {
	target := r.exec(exec)
	query := target.Rebind(`UPDATE course_capacities SET max_capacity = ?, allow_waitlist = ?, updated_at = ?
WHERE course_id = ? AND current_enrollments <= ?`)
	res, err := target.ExecContext(ctx, query, maxCapacity, allowWaitlist, now, courseID, maxCapacity)
	if err != nil {
		return false, fmt.Errorf("update capacity limits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update capacity limits rows: %w", err)
	}
	return affected == 1, nil
}

// AdjustWaitlistCount adds delta to the denormalised waitlist counter, clamped at zero.
func (r *CapacityRepository) AdjustWaitlistCount(ctx context.Context, exec sqlx.ExtContext, courseID string, delta int, now time.Time) error {
	target := r.exec(exec)
	query := target.Rebind(`UPDATE course_capacities
SET waitlist_count = CASE WHEN waitlist_count + ? < 0 THEN 0 ELSE waitlist_count + ? END, updated_at = ?
WHERE course_id = ?`)
	if _, err := target.ExecContext(ctx, query, delta, delta, now, courseID); err != nil {
		return fmt.Errorf("adjust waitlist count: %w", err)
	}
	return nil
}

// List returns capacity rows matching the filter ordered by course.
func (r *CapacityRepository) List(ctx context.Context, exec sqlx.ExtContext, filter models.CapacityFilter) ([]models.CourseCapacity, error) {
	target := r.exec(exec)
	query := `SELECT ` + capacityColumns + ` FROM course_capacities`
	var args []interface{}
	switch {
	case filter.OnlyFull:
		query += ` WHERE current_enrollments >= max_capacity`
	case filter.NearFullPercent > 0:
		query += ` WHERE current_enrollments < max_capacity AND current_enrollments * 100 >= max_capacity * ?`
		args = append(args, filter.NearFullPercent)
	}
	query += ` ORDER BY course_id`

	var capacities []models.CourseCapacity
	if err := sqlx.SelectContext(ctx, target, &capacities, target.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list course capacities: %w", err)
	}
	return capacities, nil
}
