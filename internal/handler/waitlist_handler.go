package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-admission-api/internal/dto"
	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/pkg/response"
)

type waitlistService interface {
	Add(ctx context.Context, actor models.Actor, req dto.WaitlistAddRequest) (*models.WaitlistEntry, error)
	Remove(ctx context.Context, actor models.Actor, courseID, userID string) error
	Position(ctx context.Context, actor models.Actor, courseID, userID string) (*models.WaitlistPosition, error)
	ForCourse(ctx context.Context, courseID string, query dto.PageQuery) ([]models.WaitlistEntry, *models.Pagination, error)
	Stats(ctx context.Context, courseID string) (*models.WaitlistStats, error)
	Notify(ctx context.Context, courseID string, req dto.WaitlistNotifyRequest) (*dto.WaitlistNotifyResponse, error)
	MarkNotified(ctx context.Context, courseID, userID string) error
}

// WaitlistHandler exposes waitlist endpoints.
type WaitlistHandler struct {
	waitlist waitlistService
}

// NewWaitlistHandler constructs WaitlistHandler.
func NewWaitlistHandler(waitlist waitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

// Add godoc
// @Summary Join a course waitlist
// @Tags Waitlist
// @Accept json
// @Produce json
// @Param payload body dto.WaitlistAddRequest true "Waitlist payload"
// @Success 201 {object} response.Envelope
// @Router /waitlist [post]
func (h *WaitlistHandler) Add(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.WaitlistAddRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := h.waitlist.Add(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Remove godoc
// @Summary Leave a course waitlist
// @Tags Waitlist
// @Param courseId path string true "Course ID"
// @Param userId query string false "User to remove (admin only)"
// @Success 204
// @Router /waitlist/{courseId} [delete]
func (h *WaitlistHandler) Remove(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.waitlist.Remove(c.Request.Context(), actor, c.Param("courseId"), c.Query("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Position godoc
// @Summary Waitlist position
// @Tags Waitlist
// @Produce json
// @Param courseId path string true "Course ID"
// @Param userId query string false "User to inspect (admin only)"
// @Success 200 {object} response.Envelope
// @Router /waitlist/{courseId}/position [get]
func (h *WaitlistHandler) Position(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	position, err := h.waitlist.Position(c.Request.Context(), actor, c.Param("courseId"), c.Query("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, position, nil)
}

// ForCourse godoc
// @Summary List a course waitlist
// @Tags Waitlist
// @Produce json
// @Param courseId path string true "Course ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/waitlist [get]
func (h *WaitlistHandler) ForCourse(c *gin.Context) {
	var query dto.PageQuery
	if !bindQuery(c, &query) {
		return
	}
	entries, pagination, err := h.waitlist.ForCourse(c.Request.Context(), c.Param("courseId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Stats godoc
// @Summary Waitlist notification statistics
// @Tags Waitlist
// @Produce json
// @Param courseId query string false "Course ID; all courses when empty"
// @Success 200 {object} response.Envelope
// @Router /waitlist/stats [get]
func (h *WaitlistHandler) Stats(c *gin.Context) {
	stats, err := h.waitlist.Stats(c.Request.Context(), c.Query("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Notify godoc
// @Summary Notify the next waitlisted users
// @Tags Waitlist
// @Accept json
// @Produce json
// @Param courseId path string true "Course ID"
// @Param payload body dto.WaitlistNotifyRequest true "Notify payload"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/waitlist/notify [post]
func (h *WaitlistHandler) Notify(c *gin.Context) {
	var req dto.WaitlistNotifyRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.waitlist.Notify(c.Request.Context(), c.Param("courseId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// MarkNotified godoc
// @Summary Flag one waitlist entry as notified
// @Tags Waitlist
// @Param courseId path string true "Course ID"
// @Param userId path string true "User ID"
// @Success 204
// @Router /courses/{courseId}/waitlist/{userId}/notified [post]
func (h *WaitlistHandler) MarkNotified(c *gin.Context) {
	if err := h.waitlist.MarkNotified(c.Request.Context(), c.Param("courseId"), c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
