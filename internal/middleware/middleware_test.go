package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-admission-api/internal/models"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
	token  string
}

func (s *stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	s.token = token
	return s.claims, s.err
}

type observedRequest struct {
	method, path string
	status       int
}

type stubObserver struct{ seen []observedRequest }

func (s *stubObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	s.seen = append(s.seen, observedRequest{method: method, path: path, status: status})
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error *appErrors.Error `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error == nil {
		t.Fatalf("expected error envelope, got %s", recorder.Body.String())
	}
	return body.Error.Code
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}}
	router := gin.New()
	router.Use(JWT(validator))
	router.GET("/", func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil || claims.UserID != "user-1" {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer  ", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer token-1", status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			router.ServeHTTP(recorder, req)
			if recorder.Code != tc.status {
				t.Fatalf("unexpected status: %d", recorder.Code)
			}
		})
	}
	if validator.token != "token-1" {
		t.Fatalf("unexpected token passed to validator: %q", validator.token)
	}
}

func TestJWTMiddlewareRejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := &stubValidator{err: appErrors.Wrap(errors.New("expired"), appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")}
	router := gin.New()
	router.Use(JWT(validator))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if code := errorCode(t, recorder); code != appErrors.ErrUnauthorized.Code {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestRBACMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(claims *models.JWTClaims, path string, allowed ...string) int {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			if claims != nil {
				c.Set(ContextUserKey, claims)
			}
			c.Next()
		})
		router.GET("/users/:userId", RBAC(allowed...), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		return recorder.Code
	}

	studentClaims := &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	adminClaims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	if code := serve(nil, "/users/user-1", "ADMIN"); code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", code)
	}
	if code := serve(studentClaims, "/users/user-2", "ADMIN", "SELF"); code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", code)
	}
	if code := serve(studentClaims, "/users/user-1", "ADMIN", "SELF"); code != http.StatusNoContent {
		t.Fatalf("expected self access, got %d", code)
	}
	if code := serve(adminClaims, "/users/user-2", "ADMIN"); code != http.StatusNoContent {
		t.Fatalf("expected admin access, got %d", code)
	}
}

func TestMetricsMiddlewareLabelsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &stubObserver{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/courses/:courseId", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/courses/c-1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere/123", nil))

	if len(observer.seen) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(observer.seen))
	}
	if observer.seen[0].path != "/courses/:courseId" || observer.seen[0].status != http.StatusOK {
		t.Fatalf("unexpected observation: %+v", observer.seen[0])
	}
	if observer.seen[1].path != unmatchedRoute || observer.seen[1].status != http.StatusNotFound {
		t.Fatalf("unexpected observation: %+v", observer.seen[1])
	}
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if meta := ExtractMeta(c); meta != nil {
		t.Fatalf("expected nil meta without middleware, got %v", meta)
	}

	router := gin.New()
	router.Use(WithResponseMeta())
	var meta map[string]interface{}
	router.GET("/", func(c *gin.Context) {
		SetMeta(c, "cached", true)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if meta["cached"] != true {
		t.Fatalf("expected cached flag, got %v", meta)
	}
	if _, ok := meta[processingTimeMs]; !ok {
		t.Fatalf("expected processing time, got %v", meta)
	}
}
