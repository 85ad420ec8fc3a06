// Package router assembles the HTTP surface.
package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/handler"
	"github.com/noah-isme/enrollment-api/internal/middleware"
	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/service"
	"github.com/noah-isme/enrollment-api/pkg/config"
	"github.com/noah-isme/enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/enrollment-api/pkg/middleware/requestid"
)

const serviceName = "enrollment-api"

// Deps carries everything the routes need.
type Deps struct {
	Config      *config.Config
	Logger      *zap.Logger
	Auth        *service.AuthService
	Students    *service.StudentService
	Courses     *service.CourseService
	Enrollments *service.EnrollmentService
	Pictures    *service.ProfilePictureService
	Rosters     *service.RosterService
	Metrics     *service.MetricsService

	// StaticDir is served under Uploads.PublicPath when set.
	StaticDir       string
	ReadinessChecks map[string]handler.CheckFunc
}

// New builds the gin engine with global middleware and every route mounted.
func New(d Deps) *gin.Engine {
	cfg := d.Config
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.ConcurrencyLimit(cfg.HTTP.MaxConcurrentRequests))
	if cfg.HTTP.RateLimitRPS > 0 {
		r.Use(middleware.RateLimit(middleware.NewIPRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)))
	}
	r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))

	health := handler.NewHealthHandler(serviceName, d.ReadinessChecks)
	r.GET("/", health.Root)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", handler.NewMetricsHandler(d.Metrics).Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if d.StaticDir != "" {
		r.Static(cfg.Uploads.PublicPath, d.StaticDir)
	}

	authHandler := handler.NewAuthHandler(d.Auth)
	studentHandler := handler.NewStudentHandler(d.Students, d.Enrollments, d.Pictures)
	courseHandler := handler.NewCourseHandler(d.Courses, d.Enrollments, d.Rosters)
	enrollmentHandler := handler.NewEnrollmentHandler(d.Enrollments)
	uploadHandler := handler.NewUploadHandler(d.Pictures)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("", middleware.JWT(d.Auth), middleware.Audit(log))
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	secured.GET("/auth/me", authHandler.Me)
	secured.POST("/auth/register", adminOnly, authHandler.Register)

	students := secured.Group("/students")
	students.GET("", studentHandler.List)
	students.POST("", studentHandler.Create)
	students.GET("/:id", studentHandler.Get)
	students.PUT("/:id", studentHandler.Update)
	students.PATCH("/:id", studentHandler.Update)
	students.DELETE("/:id", adminOnly, studentHandler.Delete)
	students.GET("/:id/enrollments", studentHandler.Enrollments)

	courses := secured.Group("/courses")
	courses.GET("", courseHandler.List)
	courses.POST("", courseHandler.Create)
	courses.GET("/:id", courseHandler.Get)
	courses.PUT("/:id", courseHandler.Update)
	courses.PATCH("/:id", courseHandler.Update)
	courses.DELETE("/:id", adminOnly, courseHandler.Delete)
	courses.GET("/:id/enrollments", courseHandler.Enrollments)
	courses.GET("/:id/roster/export", courseHandler.ExportRoster)

	enrollments := secured.Group("/enrollments")
	enrollments.GET("", enrollmentHandler.List)
	enrollments.POST("", enrollmentHandler.Create)
	enrollments.DELETE("", enrollmentHandler.Delete)

	secured.POST("/uploads/profile-picture", uploadHandler.ProfilePicture)

	return r
}
