package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	_ "github.com/noah-isme/enrollment-api/api/swagger"
	"github.com/noah-isme/enrollment-api/internal/handler"
	"github.com/noah-isme/enrollment-api/internal/repository"
	"github.com/noah-isme/enrollment-api/internal/router"
	"github.com/noah-isme/enrollment-api/internal/service"
	"github.com/noah-isme/enrollment-api/pkg/cache"
	"github.com/noah-isme/enrollment-api/pkg/config"
	"github.com/noah-isme/enrollment-api/pkg/database"
	"github.com/noah-isme/enrollment-api/pkg/jobs"
	"github.com/noah-isme/enrollment-api/pkg/logger"
	"github.com/noah-isme/enrollment-api/pkg/password"
	"github.com/noah-isme/enrollment-api/pkg/storage"
	"github.com/noah-isme/enrollment-api/pkg/token"
)

// @title Enrollment API
// @version 1.0.0
// @description Student, course and enrollment management with JWT authentication.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db.DB, logr); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	var (
		store     objectStore
		staticDir string
	)
	switch cfg.Uploads.Driver {
	case config.UploadDriverGCS:
		gcsStore, err := storage.NewGCSStorage(ctx, storage.GCSConfig{
			Bucket:          cfg.Uploads.GCSBucket,
			CredentialsFile: cfg.Uploads.GCSCredentialsFile,
			PublicBaseURL:   cfg.Uploads.GCSPublicBaseURL,
		})
		if err != nil {
			return err
		}
		defer gcsStore.Close() //nolint:errcheck
		store = gcsStore
	default:
		local, err := storage.NewLocalStorage(cfg.Uploads.Dir, cfg.Uploads.PublicPath)
		if err != nil {
			return err
		}
		store = local
		staticDir = local.Dir()
	}

	tokens, err := token.NewManager(token.Config{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.JWT.Expiration,
	})
	if err != nil {
		return fmt.Errorf("init token manager: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService(db.DB)

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attempts := repository.NewLoginAttemptRepository(redisClient)

	cleaner := service.NewUploadCleaner(store, jobs.QueueConfig{
		Workers:    cfg.Cleanup.Workers,
		MaxRetries: cfg.Cleanup.Retries,
		RetryDelay: time.Second,
		Logger:     logr,
	})
	// outlives the signal so requests draining during shutdown can still queue deletions
	cleaner.Start(context.WithoutCancel(ctx))

	authService := service.NewAuthService(userRepo, password.NewHasher(0), tokens, attempts, validate, logr, service.AuthConfig{
		MaxFailedAttempts: cfg.Login.MaxAttempts,
		LockoutWindow:     cfg.Login.LockoutWindow,
	})
	authService.SetMetrics(metrics)

	studentService := service.NewStudentService(studentRepo, authService, cleaner, validate, logr)
	courseService := service.NewCourseService(courseRepo, authService, validate, logr)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, studentRepo, courseRepo, validate, logr)
	enrollmentService.SetMetrics(metrics)
	pictureService := service.NewProfilePictureService(studentRepo, store, cleaner, cfg.Uploads.MaxFileSizeBytes, logr)
	rosterService := service.NewRosterService(courseRepo, enrollmentRepo, logr)

	created, err := authService.BootstrapAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logr.Info("bootstrap admin created", zap.String("username", cfg.Admin.Username))
	}

	checks := map[string]handler.CheckFunc{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	engine := router.New(router.Deps{
		Config:          cfg,
		Logger:          logr,
		Auth:            authService,
		Students:        studentService,
		Courses:         courseService,
		Enrollments:     enrollmentService,
		Pictures:        pictureService,
		Rosters:         rosterService,
		Metrics:         metrics,
		StaticDir:       staticDir,
		ReadinessChecks: checks,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		cleaner.Stop()
		return err
	case <-ctx.Done():
	}

	logr.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	cleaner.Stop()
	logr.Info("server stopped")
	return nil
}
