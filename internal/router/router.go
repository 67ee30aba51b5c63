// Package router assembles the HTTP surface of the admission API.
package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/course-admission-api/internal/handler"
	"github.com/noah-isme/course-admission-api/internal/middleware"
	"github.com/noah-isme/course-admission-api/pkg/config"
	"github.com/noah-isme/course-admission-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-admission-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-admission-api/pkg/middleware/requestid"
)

// Handlers groups the HTTP handlers mounted by New.
type Handlers struct {
	Enrollments *handler.EnrollmentHandler
	Waitlist    *handler.WaitlistHandler
	Capacity    *handler.CapacityHandler
	Metrics     *handler.MetricsHandler
}

// Options configures the engine.
type Options struct {
	Env            string
	APIPrefix      string
	AllowedOrigins []string
	Tokens         middleware.TokenValidator
	Observer       middleware.RequestObserver
	Logger         *zap.Logger
}

// New builds the gin engine with the middleware chain and route table.
func New(opts Options, h Handlers) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Observer))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if opts.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := middleware.RequireRoles(middleware.AdminRoles...)
	courseRead := middleware.RequireRoles(middleware.CourseReadRoles...)

	api := r.Group(opts.APIPrefix)
	api.Use(middleware.JWT(opts.Tokens))

	enrollments := api.Group("/enrollments")
	enrollments.POST("", h.Enrollments.Create)
	enrollments.GET("/:id", h.Enrollments.Get)
	enrollments.POST("/:id/cancel", h.Enrollments.Cancel)
	enrollments.PATCH("/:id/status", h.Enrollments.UpdateStatus)
	enrollments.PUT("/:id/progress", h.Enrollments.UpdateProgress)
	enrollments.POST("/:id/payment", admin, h.Enrollments.MarkPayment)
	enrollments.GET("/:id/history", h.Enrollments.History)

	selfRoles := make([]string, 0, len(middleware.CourseReadRoles)+1)
	for _, role := range middleware.CourseReadRoles {
		selfRoles = append(selfRoles, string(role))
	}
	api.GET("/users/:userId/enrollments", middleware.RBAC(append(selfRoles, "SELF")...), h.Enrollments.ListByUser)

	courses := api.Group("/courses/:courseId")
	courses.GET("/enrollments", courseRead, h.Enrollments.ListByCourse)
	courses.GET("/enrollments/export", courseRead, h.Enrollments.ExportRoster)
	courses.GET("/enrollment-stats", courseRead, h.Enrollments.Stats)
	courses.GET("/waitlist", courseRead, h.Waitlist.ForCourse)
	courses.POST("/waitlist/notify", admin, h.Waitlist.Notify)
	courses.POST("/waitlist/:userId/notified", admin, h.Waitlist.MarkNotified)

	waitlist := api.Group("/waitlist")
	waitlist.POST("", h.Waitlist.Add)
	waitlist.GET("/stats", courseRead, h.Waitlist.Stats)
	waitlist.DELETE("/:courseId", h.Waitlist.Remove)
	waitlist.GET("/:courseId/position", h.Waitlist.Position)

	capacities := api.Group("/capacities")
	capacities.POST("", admin, h.Capacity.Create)
	capacities.GET("/near-full", courseRead, h.Capacity.NearFull)
	capacities.GET("/full", courseRead, h.Capacity.Full)
	capacities.GET("/:courseId", h.Capacity.Get)
	capacities.PUT("/:courseId", admin, h.Capacity.Update)

	api.GET("/metrics/summary", admin, h.Metrics.Summary)

	return r
}
