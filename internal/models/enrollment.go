package models

import (
	"fmt"
	"strings"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// OpenEnrollmentStatuses hold a seat and block a second enrollment of the same user.
var OpenEnrollmentStatuses = []EnrollmentStatus{EnrollmentStatusPending, EnrollmentStatusActive}

// enrollmentTransitions lists every legal (from -> to) edge.
// COMPLETED, DROPPED and CANCELLED have no outgoing edges.
var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPending: {EnrollmentStatusActive, EnrollmentStatusCancelled},
	EnrollmentStatusActive:  {EnrollmentStatusCompleted, EnrollmentStatusDropped, EnrollmentStatusCancelled},
}

// ParseEnrollmentStatus converts raw input (any case) into a status.
func ParseEnrollmentStatus(raw string) (EnrollmentStatus, error) {
	st := EnrollmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch st {
	case EnrollmentStatusPending, EnrollmentStatusActive, EnrollmentStatusCompleted, EnrollmentStatusDropped, EnrollmentStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown enrollment status %q", raw)
}

// IsTerminal reports whether no further transition is legal from s.
func (s EnrollmentStatus) IsTerminal() bool {
	_, ok := enrollmentTransitions[s]
	return !ok
}

// IsOpen reports whether s holds a seat.
func (s EnrollmentStatus) IsOpen() bool {
	return s == EnrollmentStatusPending || s == EnrollmentStatusActive
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	for _, allowed := range enrollmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus tracks settlement state; settlement itself happens elsewhere.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	PaymentStatusWaived   PaymentStatus = "WAIVED"
)

// Enrollment captures one user's participation in one course.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	UserID        string           `db:"user_id" json:"user_id"`
	CourseID      string           `db:"course_id" json:"course_id"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt    time.Time        `db:"enrolled_at" json:"enrolled_at"`
	CompletedAt   *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	DroppedAt     *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	CancelledAt   *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Progress      int              `db:"progress" json:"progress"`
	PaymentStatus PaymentStatus    `db:"payment_status" json:"payment_status"`
	PaymentAmount *float64         `db:"payment_amount" json:"payment_amount,omitempty"`
	PaymentMethod *string          `db:"payment_method" json:"payment_method,omitempty"`
	Notes         *string          `db:"notes" json:"notes,omitempty"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	UserID   string
	CourseID string
	Status   EnrollmentStatus
	Page     int
	PageSize int
}

// Normalize clamps paging to sane bounds.
func (f EnrollmentFilter) Normalize() EnrollmentFilter {
	f.Page, f.PageSize = NormalizePage(f.Page, f.PageSize)
	return f
}

// EnrollmentStats summarises a course's enrollments and seats.
type EnrollmentStats struct {
	CourseID  string               `json:"course_id"`
	Active    int                  `json:"active"`
	Pending   int                  `json:"pending"`
	Completed int                  `json:"completed"`
	Dropped   int                  `json:"dropped"`
	Cancelled int                  `json:"cancelled"`
	Waitlist  int                  `json:"waitlist"`
	Capacity  CapacityAvailability `json:"capacity"`
}
