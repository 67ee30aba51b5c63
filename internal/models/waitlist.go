package models

import "time"

// Waitlist priority bounds; higher is served first among equal request times.
const (
	MinWaitlistPriority     = 1
	MaxWaitlistPriority     = 10
	DefaultWaitlistPriority = 1
)

// WaitlistEntry is a queued request that has not consumed a seat.
type WaitlistEntry struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	CourseID    string     `db:"course_id" json:"course_id"`
	Position    int        `db:"position" json:"position"`
	Priority    int        `db:"priority" json:"priority"`
	RequestedAt time.Time  `db:"requested_at" json:"requested_at"`
	Notified    bool       `db:"notified" json:"notified"`
	NotifiedAt  *time.Time `db:"notified_at" json:"notified_at,omitempty"`
}

// ServedBefore orders entries for promotion: earliest request first, then
// higher priority, then lower position.
func (e WaitlistEntry) ServedBefore(other WaitlistEntry) bool {
	if !e.RequestedAt.Equal(other.RequestedAt) {
		return e.RequestedAt.Before(other.RequestedAt)
	}
	if e.Priority != other.Priority {
		return e.Priority > other.Priority
	}
	return e.Position < other.Position
}

// WaitlistPosition answers "where am I in the queue".
type WaitlistPosition struct {
	CourseID        string `json:"course_id"`
	UserID          string `json:"user_id"`
	Position        int    `json:"position"`
	TotalInWaitlist int    `json:"total_in_waitlist"`
}

// WaitlistStats aggregates notification state across one or all courses.
type WaitlistStats struct {
	CourseID        string `db:"-" json:"course_id,omitempty"`
	TotalWaitlisted int    `db:"total_waitlisted" json:"total_waitlisted"`
	TotalNotified   int    `db:"total_notified" json:"total_notified"`
	TotalUnnotified int    `db:"-" json:"total_unnotified"`
}
