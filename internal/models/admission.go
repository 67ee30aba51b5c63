package models

// AdmissionOutcome is the decision taken for an enrollment request.
type AdmissionOutcome string

const (
	AdmissionActive     AdmissionOutcome = "ACTIVE"
	AdmissionPending    AdmissionOutcome = "PENDING"
	AdmissionWaitlisted AdmissionOutcome = "WAITLISTED"
	AdmissionRejected   AdmissionOutcome = "REJECTED"
)

// RejectReasonFullNoWaitlist is reported when a full course disallows a waitlist.
const RejectReasonFullNoWaitlist = "FULL_NO_WAITLIST"

// AdmissionResult carries the outcome and whichever record it produced.
type AdmissionResult struct {
	Outcome       AdmissionOutcome `json:"outcome"`
	Enrollment    *Enrollment      `json:"enrollment,omitempty"`
	WaitlistEntry *WaitlistEntry   `json:"waitlist_entry,omitempty"`
	Position      int              `json:"position,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}
