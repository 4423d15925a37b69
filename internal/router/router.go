package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/handler"
	"github.com/noah-isme/ictu-erp-api/internal/middleware"
	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/service"
	"github.com/noah-isme/ictu-erp-api/pkg/config"
	"github.com/noah-isme/ictu-erp-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/ictu-erp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/ictu-erp-api/pkg/middleware/requestid"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

// Handlers groups every HTTP handler mounted by the router.
type Handlers struct {
	Health       *handler.HealthHandler
	Auth         *handler.AuthHandler
	Users        *handler.UserHandler
	Students     *handler.StudentHandler
	Courses      *handler.CourseHandler
	Enrollments  *handler.EnrollmentHandler
	Grades       *handler.GradeHandler
	Attendance   *handler.AttendanceHandler
	Finance      *handler.FinanceHandler
	Complaints   *handler.ComplaintHandler
	Notification *handler.NotificationHandler
	Timetables   *handler.TimetableHandler
}

// Deps carries the cross-cutting collaborators of the middleware chain.
type Deps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Tokens  middleware.TokenValidator
	Policy  middleware.PermissionChecker
	Audit   middleware.AuditStore
	Counter middleware.WindowCounter
	Metrics *service.MetricsService
}

// New builds the gin engine with the full route table.
func New(deps Deps, h Handlers) *gin.Engine {
	cfg := deps.Config
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(response.Verbosity(cfg.Verbose()))
	r.Use(middleware.Metrics(deps.Metrics, "/metrics", "/health", "/ready"))

	r.GET("/health", h.Health.Health)
	r.GET("/ready", h.Health.Ready)
	r.GET("/metrics", h.Health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	if cfg.RateLimit.Enabled && deps.Counter != nil {
		api.Use(middleware.RateLimit(deps.Counter, cfg.RateLimit, deps.Metrics, log))
	}

	auth := api.Group("/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/forgot-password", h.Auth.ForgotPassword)
	auth.POST("/reset-password", h.Auth.ResetPassword)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens))
	audit := func(action string, resource models.Resource) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, log, action, string(resource))
	}
	permit := func(resource models.Resource, action models.Action) gin.HandlerFunc {
		return middleware.Permit(deps.Policy, resource, action)
	}

	secured.POST("/auth/logout", h.Auth.Logout)
	secured.POST("/auth/change-password", h.Auth.ChangePassword)
	secured.GET("/auth/me", h.Auth.Me)

	users := secured.Group("/users")
	users.Use(permit(models.ResourceUser, models.ActionRead))
	users.GET("", h.Users.List)
	users.GET("/:id", h.Users.Get)
	users.POST("", middleware.RequireRoles(models.RoleAdmin), audit("user.create", models.ResourceUser), h.Users.Create)
	users.PATCH("/:id", middleware.RequireRoles(models.RoleAdmin), audit("user.update", models.ResourceUser), h.Users.Update)
	users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), audit("user.deactivate", models.ResourceUser), h.Users.Deactivate)

	students := secured.Group("/students")
	students.GET("", permit(models.ResourceStudent, models.ActionRead), h.Students.List)
	students.GET("/me", middleware.RequireRoles(models.RoleStudent), h.Students.Me)
	students.GET("/:id", h.Students.Get)
	students.POST("", permit(models.ResourceStudent, models.ActionCreate), audit("student.create", models.ResourceStudent), h.Students.Create)
	students.PUT("/:id", permit(models.ResourceStudent, models.ActionUpdate), audit("student.update", models.ResourceStudent), h.Students.Update)
	students.DELETE("/:id", permit(models.ResourceStudent, models.ActionDelete), audit("student.delete", models.ResourceStudent), h.Students.Delete)

	courses := secured.Group("/courses")
	courses.GET("", h.Courses.List)
	courses.GET("/:id", h.Courses.Get)
	courses.POST("", permit(models.ResourceCourse, models.ActionCreate), audit("course.create", models.ResourceCourse), h.Courses.Create)
	courses.PUT("/:id", permit(models.ResourceCourse, models.ActionUpdate), audit("course.update", models.ResourceCourse), h.Courses.Update)
	courses.DELETE("/:id", permit(models.ResourceCourse, models.ActionDelete), audit("course.deactivate", models.ResourceCourse), h.Courses.Deactivate)

	enrollments := secured.Group("/enrollments")
	enrollments.GET("", h.Enrollments.List)
	enrollments.POST("", permit(models.ResourceEnrollment, models.ActionCreate), audit("enrollment.create", models.ResourceEnrollment), h.Enrollments.Enroll)
	enrollments.DELETE("/:id", audit("enrollment.withdraw", models.ResourceEnrollment), h.Enrollments.Withdraw)

	academic := secured.Group("/academic")
	grades := academic.Group("/grades")
	grades.GET("", h.Grades.List)
	grades.GET("/transcript", h.Grades.Transcript)
	grades.POST("", permit(models.ResourceGrade, models.ActionCreate), h.Grades.Upsert)
	grades.POST("/bulk", permit(models.ResourceGrade, models.ActionCreate), h.Grades.Bulk)
	grades.POST("/publish", permit(models.ResourceGrade, models.ActionPublish), h.Grades.Publish)
	grades.POST("/lock", permit(models.ResourceGrade, models.ActionLock), h.Grades.Lock)

	attendance := academic.Group("/attendance")
	attendance.GET("", h.Attendance.List)
	attendance.GET("/summary", h.Attendance.Summary)
	attendance.POST("", permit(models.ResourceAttendance, models.ActionCreate), h.Attendance.Record)
	attendance.POST("/bulk", permit(models.ResourceAttendance, models.ActionCreate), h.Attendance.Bulk)

	finance := secured.Group("/finance")
	finance.GET("/summary", h.Finance.Summary)
	finance.GET("/history", h.Finance.History)
	finance.GET("/installments", h.Finance.Installments)
	finance.GET("/installments/:id/payments", h.Finance.Payments)
	finance.POST("/installments/plan", permit(models.ResourceFinance, models.ActionCreate), h.Finance.CreatePlan)
	finance.POST("/installments/:id/pay", permit(models.ResourceFinance, models.ActionPay), h.Finance.Pay)
	finance.POST("/installments/:id/waive", permit(models.ResourceFinance, models.ActionWaive), h.Finance.Waive)
	finance.POST("/unblock", permit(models.ResourceFinance, models.ActionUpdate), h.Finance.Unblock)

	complaints := secured.Group("/complaints")
	complaints.GET("", h.Complaints.List)
	complaints.GET("/:id", h.Complaints.Get)
	complaints.POST("", middleware.RequireRoles(models.RoleStudent), h.Complaints.Create)
	complaints.POST("/:id/respond", permit(models.ResourceComplaint, models.ActionRespond), h.Complaints.Respond)

	notifications := secured.Group("/notifications")
	notifications.GET("", h.Notification.List)
	notifications.GET("/unread-count", h.Notification.UnreadCount)
	notifications.PATCH("/read-all", h.Notification.MarkAllRead)
	notifications.PATCH("/:id/read", h.Notification.MarkRead)
	notifications.DELETE("/:id", h.Notification.Delete)
	notifications.POST("/send", permit(models.ResourceNotification, models.ActionSend), h.Notification.Send)
	notifications.POST("/broadcast", permit(models.ResourceNotification, models.ActionSend), h.Notification.Broadcast)

	timetables := secured.Group("/timetables")
	timetables.GET("", h.Timetables.List)
	timetables.POST("", permit(models.ResourceTimetable, models.ActionCreate), audit("timetable.create", models.ResourceTimetable), h.Timetables.Create)
	timetables.DELETE("/:id", permit(models.ResourceTimetable, models.ActionDelete), audit("timetable.delete", models.ResourceTimetable), h.Timetables.Delete)

	return r
}
