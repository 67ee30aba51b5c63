package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-admission-api/internal/dto"
	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/pkg/response"
)

type capacityService interface {
	Create(ctx context.Context, req dto.CreateCapacityRequest) (*models.CourseCapacity, error)
	Update(ctx context.Context, courseID string, req dto.UpdateCapacityRequest) (*models.CourseCapacity, error)
	Availability(ctx context.Context, courseID string) (*models.CapacityAvailability, error)
	NearFull(ctx context.Context, thresholdPercent int) ([]models.CourseCapacity, error)
	Full(ctx context.Context) ([]models.CourseCapacity, error)
}

// CapacityHandler exposes course capacity endpoints.
type CapacityHandler struct {
	capacity capacityService
}

// NewCapacityHandler constructs CapacityHandler.
func NewCapacityHandler(capacity capacityService) *CapacityHandler {
	return &CapacityHandler{capacity: capacity}
}

// Create godoc
// @Summary Register course capacity
// @Tags Capacity
// @Accept json
// @Produce json
// @Param payload body dto.CreateCapacityRequest true "Capacity payload"
// @Success 201 {object} response.Envelope
// @Router /capacities [post]
func (h *CapacityHandler) Create(c *gin.Context) {
	var req dto.CreateCapacityRequest
	if !bindJSON(c, &req) {
		return
	}
	capacity, err := h.capacity.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, capacity)
}

// Update godoc
// @Summary Update course capacity
// @Tags Capacity
// @Accept json
// @Produce json
// @Param courseId path string true "Course ID"
// @Param payload body dto.UpdateCapacityRequest true "Capacity payload"
// @Success 200 {object} response.Envelope
// @Router /capacities/{courseId} [put]
func (h *CapacityHandler) Update(c *gin.Context) {
	var req dto.UpdateCapacityRequest
	if !bindJSON(c, &req) {
		return
	}
	capacity, err := h.capacity.Update(c.Request.Context(), c.Param("courseId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, capacity, nil)
}

// Get godoc
// @Summary Course seat availability
// @Tags Capacity
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /capacities/{courseId} [get]
func (h *CapacityHandler) Get(c *gin.Context) {
	availability, err := h.capacity.Availability(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availability, nil)
}

// NearFull godoc
// @Summary Courses close to capacity
// @Tags Capacity
// @Produce json
// @Param threshold query int false "Fill percentage (1-100)"
// @Success 200 {object} response.Envelope
// @Router /capacities/near-full [get]
func (h *CapacityHandler) NearFull(c *gin.Context) {
	var query dto.NearFullQuery
	if !bindQuery(c, &query) {
		return
	}
	capacities, err := h.capacity.NearFull(c.Request.Context(), query.Threshold)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, capacities, nil)
}

// Full godoc
// @Summary Courses without free seats
// @Tags Capacity
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /capacities/full [get]
func (h *CapacityHandler) Full(c *gin.Context) {
	capacities, err := h.capacity.Full(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, capacities, nil)
}
