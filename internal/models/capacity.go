package models

import "time"

// CourseCapacity holds the seat counters of one course.
type CourseCapacity struct {
	CourseID           string    `db:"course_id" json:"course_id"`
	MaxCapacity        int       `db:"max_capacity" json:"max_capacity"`
	CurrentEnrollments int       `db:"current_enrollments" json:"current_enrollments"`
	AllowWaitlist      bool      `db:"allow_waitlist" json:"allow_waitlist"`
	WaitlistCount      int       `db:"waitlist_count" json:"waitlist_count"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns the number of free seats, never negative.
func (c CourseCapacity) Available() int {
	if n := c.MaxCapacity - c.CurrentEnrollments; n > 0 {
		return n
	}
	return 0
}

// IsFull reports whether no seat is free.
func (c CourseCapacity) IsFull() bool {
	return c.CurrentEnrollments >= c.MaxCapacity
}

// Availability projects the counters into the read model.
func (c CourseCapacity) Availability() CapacityAvailability {
	return CapacityAvailability{
		CourseID:           c.CourseID,
		MaxCapacity:        c.MaxCapacity,
		CurrentEnrollments: c.CurrentEnrollments,
		Available:          c.Available(),
		IsFull:             c.IsFull(),
		WaitlistAllowed:    c.AllowWaitlist,
		WaitlistCount:      c.WaitlistCount,
	}
}

// CapacityAvailability is the read model returned by availability queries.
type CapacityAvailability struct {
	CourseID           string `json:"course_id"`
	MaxCapacity        int    `json:"max_capacity"`
	CurrentEnrollments int    `json:"current_enrollments"`
	Available          int    `json:"available"`
	IsFull             bool   `json:"is_full"`
	WaitlistAllowed    bool   `json:"waitlist_allowed"`
	WaitlistCount      int    `json:"waitlist_count"`
}

// CapacityFilter selects capacity rows. NearFullPercent > 0 selects courses
// at or above that fill percentage that still have a free seat.
type CapacityFilter struct {
	OnlyFull        bool
	NearFullPercent int
}
