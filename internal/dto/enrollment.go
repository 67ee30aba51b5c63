package dto

// EnrollmentRequest asks for a seat in a course. Admins may enroll another user.
type EnrollmentRequest struct {
	UserID        string  `json:"userId,omitempty" validate:"omitempty,max=64"`
	CourseID      string  `json:"courseId" validate:"required,max=64"`
	PaymentMethod *string `json:"paymentMethod,omitempty" validate:"omitempty,min=1,max=64"`
	Notes         *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// CancelEnrollmentRequest carries an optional cancellation reason.
type CancelEnrollmentRequest struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// UpdateEnrollmentStatusRequest moves an enrollment to another lifecycle state.
type UpdateEnrollmentStatusRequest struct {
	Status string  `json:"status" validate:"required,oneof=PENDING ACTIVE COMPLETED DROPPED CANCELLED"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// UpdateProgressRequest sets course progress; values outside 0..100 are clamped.
type UpdateProgressRequest struct {
	Progress *int `json:"progress" validate:"required"`
}

// MarkPaymentRequest records a settled payment.
type MarkPaymentRequest struct {
	Amount float64 `json:"amount" validate:"gte=0"`
	Method string  `json:"method" validate:"required,max=64"`
}

// EnrollmentListQuery binds listing query parameters.
type EnrollmentListQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=PENDING ACTIVE COMPLETED DROPPED CANCELLED"`
	Page   int    `form:"page" validate:"omitempty,min=1"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

// RosterExportQuery selects the roster export format.
type RosterExportQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
	Status string `form:"status" validate:"omitempty,oneof=PENDING ACTIVE COMPLETED DROPPED CANCELLED"`
}
