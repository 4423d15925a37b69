package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/ictu-erp-api/api/swagger"
	"github.com/noah-isme/ictu-erp-api/internal/handler"
	"github.com/noah-isme/ictu-erp-api/internal/repository"
	"github.com/noah-isme/ictu-erp-api/internal/router"
	"github.com/noah-isme/ictu-erp-api/internal/service"
	"github.com/noah-isme/ictu-erp-api/pkg/cache"
	"github.com/noah-isme/ictu-erp-api/pkg/config"
	"github.com/noah-isme/ictu-erp-api/pkg/database"
	"github.com/noah-isme/ictu-erp-api/pkg/jobs"
	"github.com/noah-isme/ictu-erp-api/pkg/logger"
)

// @title ICTU ERP API
// @version 1.0.0
// @description Academic, finance and communication services for ICT University.
// @BasePath /api
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		// the API runs without Redis: caching and rate limiting degrade to no-ops
		logr.Warn("redis unavailable", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	policy := service.DefaultPolicy()

	users := repository.NewUserRepository(db)
	students := repository.NewStudentRepository(db)
	faculties := repository.NewFacultyRepository(db)
	courses := repository.NewCourseRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	grades := repository.NewGradeRepository(db)
	attendance := repository.NewAttendanceRepository(db)
	finance := repository.NewFinanceRepository(db)
	complaints := repository.NewComplaintRepository(db)
	notifications := repository.NewNotificationRepository(db)
	timetables := repository.NewTimetableRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Courses.CacheTTL, logr, redisClient != nil)

	notificationSvc := service.NewNotificationService(notifications, users, policy, validate, logr, metrics)
	queue := jobs.NewQueue("notifications", notificationSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	})
	queue.Start(context.Background())
	defer queue.Stop()
	notificationSvc.UseQueue(queue)

	authSvc := service.NewAuthService(users, students, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(users, policy, validate, logr)
	studentSvc := service.NewStudentService(students, users, db, faculties, policy, validate, logr)
	courseSvc := service.NewCourseService(courses, cacheSvc, cfg.Courses.CacheTTL, policy, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollments, courses, students, faculties, policy, validate, logr)
	gradeSvc := service.NewGradeService(service.GradeServiceDeps{
		Grades:      grades,
		Courses:     courses,
		Students:    students,
		Standing:    students,
		Enrollments: enrollments,
		Faculties:   faculties,
		Notifier:    notificationSvc,
		Audit:       users,
		Policy:      policy,
		Validator:   validate,
		Logger:      logr,
		Metrics:     metrics,
	})
	attendanceSvc := service.NewAttendanceService(attendance, courses, students, enrollments, faculties, policy, validate, logr, metrics)
	financeSvc := service.NewFinanceService(finance, students, notificationSvc, users, policy, validate, logr, metrics, service.FinanceConfig{
		BlockGrace: cfg.Finance.BlockGrace,
		Currency:   cfg.Finance.Currency,
	})
	complaintSvc := service.NewComplaintService(complaints, courses, students, enrollments, faculties, notificationSvc, users, policy, validate, logr)
	timetableSvc := service.NewTimetableService(timetables, courses, students, policy, validate, logr)
	exportSvc := service.NewExportService(gradeSvc, financeSvc, timetableSvc, logr)

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(cacheRepo.Ping)
	}

	engine := router.New(router.Deps{
		Config:  cfg,
		Logger:  logr,
		Tokens:  authSvc,
		Policy:  policy,
		Audit:   users,
		Counter: cacheRepo,
		Metrics: metrics,
	}, router.Handlers{
		Health:       handler.NewHealthHandler(metrics, checks),
		Auth:         handler.NewAuthHandler(authSvc, cfg.Verbose()),
		Users:        handler.NewUserHandler(userSvc),
		Students:     handler.NewStudentHandler(studentSvc),
		Courses:      handler.NewCourseHandler(courseSvc),
		Enrollments:  handler.NewEnrollmentHandler(enrollmentSvc),
		Grades:       handler.NewGradeHandler(gradeSvc, exportSvc),
		Attendance:   handler.NewAttendanceHandler(attendanceSvc),
		Finance:      handler.NewFinanceHandler(financeSvc, exportSvc),
		Complaints:   handler.NewComplaintHandler(complaintSvc),
		Notification: handler.NewNotificationHandler(notificationSvc),
		Timetables:   handler.NewTimetableHandler(timetableSvc, exportSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
