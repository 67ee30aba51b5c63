package dto

// CreateCapacityRequest registers the seat limit of a course.
type CreateCapacityRequest struct {
	CourseID      string `json:"courseId" validate:"required,max=64"`
	MaxCapacity   int    `json:"maxCapacity" validate:"required,min=1"`
	AllowWaitlist *bool  `json:"allowWaitlist,omitempty"`
}

// UpdateCapacityRequest changes the limit and/or waitlist policy.
type UpdateCapacityRequest struct {
	MaxCapacity   *int  `json:"maxCapacity,omitempty" validate:"omitempty,min=1"`
	AllowWaitlist *bool `json:"allowWaitlist,omitempty"`
}

// NearFullQuery carries the fill percentage threshold.
type NearFullQuery struct {
	Threshold int `form:"threshold" validate:"omitempty,min=1,max=100"`
}
