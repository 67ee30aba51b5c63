package models

import "time"

// SystemActorID marks transitions performed by the service itself.
const SystemActorID = "system"

// EnrollmentHistory is one append-only row per status transition.
type EnrollmentHistory struct {
	ID             string            `db:"id" json:"id"`
	EnrollmentID   string            `db:"enrollment_id" json:"enrollment_id"`
	PreviousStatus *EnrollmentStatus `db:"previous_status" json:"previous_status"`
	NewStatus      EnrollmentStatus  `db:"new_status" json:"new_status"`
	ChangedBy      string            `db:"changed_by" json:"changed_by"`
	Reason         *string           `db:"reason" json:"reason,omitempty"`
	ChangedAt      time.Time         `db:"changed_at" json:"changed_at"`
}
