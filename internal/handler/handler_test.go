package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-admission-api/internal/middleware"
	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/internal/repository"
	"github.com/noah-isme/course-admission-api/internal/service"
)

type errorBody struct {
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *errorBody             `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

type testAPI struct {
	store  *repository.MemoryStore
	router *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := repository.NewMemoryStore()
	metrics := service.NewMetricsService()

	enrollments := NewEnrollmentHandler(
		service.NewAdmissionService(store, nil, nil, metrics, nil, nil),
		service.NewEnrollmentService(store, nil, 0, nil, nil),
	)
	waitlist := NewWaitlistHandler(service.NewWaitlistService(store, nil, nil, metrics, nil, nil))
	capacity := NewCapacityHandler(service.NewCapacityService(store, nil, nil, metrics, service.CapacityConfig{}, nil, nil))

	router := gin.New()
	router.Use(middleware.WithResponseMeta(), func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: id, Role: models.UserRole(c.GetHeader("X-Test-Role"))})
		}
		c.Next()
	})
	router.POST("/enrollments", enrollments.Create)
	router.GET("/enrollments/:id", enrollments.Get)
	router.POST("/enrollments/:id/cancel", enrollments.Cancel)
	router.PATCH("/enrollments/:id/status", enrollments.UpdateStatus)
	router.GET("/enrollments/:id/history", enrollments.History)
	router.GET("/courses/:courseId/enrollments", enrollments.ListByCourse)
	router.GET("/courses/:courseId/enrollments/export", enrollments.ExportRoster)
	router.GET("/courses/:courseId/enrollment-stats", enrollments.Stats)
	router.POST("/waitlist", waitlist.Add)
	router.DELETE("/waitlist/:courseId", waitlist.Remove)
	router.GET("/waitlist/:courseId/position", waitlist.Position)
	router.POST("/capacities", capacity.Create)
	router.PUT("/capacities/:courseId", capacity.Update)
	router.GET("/capacities/:courseId", capacity.Get)

	return &testAPI{store: store, router: router}
}

func (a *testAPI) do(t *testing.T, method, path, userID string, role models.UserRole, body string) (*httptest.ResponseRecorder, responseEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
		req.Header.Set("X-Test-Role", string(role))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var envelope responseEnvelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	}
	return rec, envelope
}

func (a *testAPI) course(t *testing.T, courseID string, maxCapacity int, allowWaitlist bool) {
	t.Helper()
	require.NoError(t, a.store.CreateCapacity(context.Background(), &models.CourseCapacity{CourseID: courseID, MaxCapacity: maxCapacity, AllowWaitlist: allowWaitlist}))
}

func decodeData(t *testing.T, envelope responseEnvelope, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func TestEnrollmentHandlerCreateOutcomes(t *testing.T) {
	api := newTestAPI(t)
	api.course(t, "course-1", 1, false)

	rec, _ := api.do(t, http.MethodPost, "/enrollments", "", "", `{"courseId":"course-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, envelope := api.do(t, http.MethodPost, "/enrollments", "user-a", models.RoleStudent, `{"courseId":"course-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var result models.AdmissionResult
	decodeData(t, envelope, &result)
	assert.Equal(t, models.AdmissionActive, result.Outcome)
	require.NotNil(t, result.Enrollment)
	assert.Equal(t, "user-a", result.Enrollment.UserID)

	rec, envelope = api.do(t, http.MethodPost, "/enrollments", "user-a", models.RoleStudent, `{"courseId":"course-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_ENROLLMENT", envelope.Error.Code)
	assert.False(t, envelope.Error.Retryable)

	rec, envelope = api.do(t, http.MethodPost, "/enrollments", "user-b", models.RoleStudent, `{"courseId":"course-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CAPACITY_EXCEEDED", envelope.Error.Code)
	assert.True(t, envelope.Error.Retryable)
	assert.Equal(t, models.RejectReasonFullNoWaitlist, envelope.Meta["reason"])

	rec, envelope = api.do(t, http.MethodPost, "/enrollments", "user-b", models.RoleStudent, `{"courseId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestEnrollmentHandlerCancelPromotes(t *testing.T) {
	api := newTestAPI(t)
	api.course(t, "course-1", 1, true)

	_, envelope := api.do(t, http.MethodPost, "/enrollments", "user-a", models.RoleStudent, `{"courseId":"course-1"}`)
	var granted models.AdmissionResult
	decodeData(t, envelope, &granted)

	rec, envelope := api.do(t, http.MethodPost, "/enrollments", "user-b", models.RoleStudent, `{"courseId":"course-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var waiting models.AdmissionResult
	decodeData(t, envelope, &waiting)
	assert.Equal(t, models.AdmissionWaitlisted, waiting.Outcome)
	assert.Equal(t, 1, waiting.Position)

	rec, _ = api.do(t, http.MethodPost, "/enrollments/"+granted.Enrollment.ID+"/cancel", "user-b", models.RoleStudent, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, envelope = api.do(t, http.MethodPost, "/enrollments/"+granted.Enrollment.ID+"/cancel", "user-a", models.RoleStudent, `{"reason":"moved"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled models.Enrollment
	decodeData(t, envelope, &cancelled)
	assert.Equal(t, models.EnrollmentStatusCancelled, cancelled.Status)

	rec, envelope = api.do(t, http.MethodGet, "/courses/course-1/enrollments?status=ACTIVE", "inst-1", models.RoleInstructor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var roster []models.Enrollment
	decodeData(t, envelope, &roster)
	require.Len(t, roster, 1)
	assert.Equal(t, "user-b", roster[0].UserID)
	assert.Equal(t, 1, envelope.Pagination.TotalCount)
	assert.Contains(t, envelope.Meta, "processing_time_ms")

	rec, envelope = api.do(t, http.MethodGet, "/enrollments/"+granted.Enrollment.ID+"/history", "user-a", models.RoleStudent, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.EnrollmentHistory
	decodeData(t, envelope, &history)
	assert.Len(t, history, 2)

	rec, envelope = api.do(t, http.MethodPatch, "/enrollments/"+granted.Enrollment.ID+"/status", "admin-1", models.RoleAdmin, `{"status":"ACTIVE"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", envelope.Error.Code)

	rec, envelope = api.do(t, http.MethodGet, "/courses/course-1/enrollment-stats", "admin-1", models.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.EnrollmentStats
	decodeData(t, envelope, &stats)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Cancelled)
}

func TestEnrollmentHandlerExportRoster(t *testing.T) {
	api := newTestAPI(t)
	api.course(t, "course-1", 5, true)
	api.do(t, http.MethodPost, "/enrollments", "user-a", models.RoleStudent, `{"courseId":"course-1"}`)

	rec, _ := api.do(t, http.MethodGet, "/courses/course-1/enrollments/export?format=csv", "inst-1", models.RoleInstructor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "roster-course-1-")
	assert.Contains(t, rec.Body.String(), "user-a")

	rec, envelope := api.do(t, http.MethodGet, "/courses/course-1/enrollments/export?format=doc", "inst-1", models.RoleInstructor, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestWaitlistHandlerFlow(t *testing.T) {
	api := newTestAPI(t)
	api.course(t, "course-1", 1, true)

	rec, envelope := api.do(t, http.MethodPost, "/waitlist", "user-a", models.RoleStudent, `{"courseId":"course-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SEATS_AVAILABLE", envelope.Error.Code)

	api.do(t, http.MethodPost, "/enrollments", "user-a", models.RoleStudent, `{"courseId":"course-1"}`)
	rec, _ = api.do(t, http.MethodPost, "/waitlist", "user-b", models.RoleStudent, `{"courseId":"course-1","priority":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/waitlist", "user-c", models.RoleStudent, `{"courseId":"course-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, envelope = api.do(t, http.MethodGet, "/waitlist/course-1/position", "user-c", models.RoleStudent, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var position models.WaitlistPosition
	decodeData(t, envelope, &position)
	assert.Equal(t, 2, position.Position)
	assert.Equal(t, 2, position.TotalInWaitlist)

	rec, _ = api.do(t, http.MethodDelete, "/waitlist/course-1?userId=user-b", "user-c", models.RoleStudent, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(t, http.MethodDelete, "/waitlist/course-1", "user-b", models.RoleStudent, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, envelope = api.do(t, http.MethodGet, "/waitlist/course-1/position", "user-c", models.RoleStudent, "")
	decodeData(t, envelope, &position)
	assert.Equal(t, 1, position.Position)

	rec, envelope = api.do(t, http.MethodDelete, "/waitlist/course-1", "user-b", models.RoleStudent, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
}

func TestCapacityHandler(t *testing.T) {
	api := newTestAPI(t)

	rec, envelope := api.do(t, http.MethodPost, "/capacities", "admin-1", models.RoleAdmin, `{"courseId":"course-1","maxCapacity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.CourseCapacity
	decodeData(t, envelope, &created)
	assert.True(t, created.AllowWaitlist)

	api.do(t, http.MethodPost, "/enrollments", "user-a", models.RoleStudent, `{"courseId":"course-1"}`)
	api.do(t, http.MethodPost, "/enrollments", "user-b", models.RoleStudent, `{"courseId":"course-1"}`)

	rec, envelope = api.do(t, http.MethodPut, "/capacities/course-1", "admin-1", models.RoleAdmin, `{"maxCapacity":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CAPACITY_BELOW_CURRENT", envelope.Error.Code)

	rec, envelope = api.do(t, http.MethodGet, "/capacities/course-1", "user-a", models.RoleStudent, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var availability models.CapacityAvailability
	decodeData(t, envelope, &availability)
	assert.True(t, availability.IsFull)
	assert.Equal(t, 0, availability.Available)

	rec, _ = api.do(t, http.MethodGet, "/capacities/unknown", "user-a", models.RoleStudent, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{"store": failingPinger{}})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewMetricsHandler(nil, map[string]Pinger{"store": failingPinger{}, "cache": failingPinger{err: errors.New("redis down")}})
	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, c.IsAborted())
}
