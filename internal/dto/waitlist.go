package dto

// WaitlistAddRequest queues a user for a full course.
type WaitlistAddRequest struct {
	UserID   string `json:"userId,omitempty" validate:"omitempty,max=64"`
	CourseID string `json:"courseId" validate:"required,max=64"`
	Priority *int   `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
}

// WaitlistNotifyRequest flags the next count unnotified entries.
type WaitlistNotifyRequest struct {
	Count int `json:"count" validate:"required,min=1,max=100"`
}

// WaitlistNotifyResponse lists the users that were flagged.
type WaitlistNotifyResponse struct {
	CourseID string   `json:"courseId"`
	UserIDs  []string `json:"userIds"`
}

// PageQuery binds page and limit query parameters.
type PageQuery struct {
	Page  int `form:"page" validate:"omitempty,min=1"`
	Limit int `form:"limit" validate:"omitempty,min=1,max=100"`
}
