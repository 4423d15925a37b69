package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

type attendanceService interface {
	Record(ctx context.Context, actor *models.JWTClaims, req models.RecordAttendanceRequest) (*models.Attendance, error)
	BulkRecord(ctx context.Context, actor *models.JWTClaims, req models.BulkAttendanceRequest) ([]models.Attendance, error)
	List(ctx context.Context, actor *models.JWTClaims, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error)
	Summary(ctx context.Context, actor *models.JWTClaims, studentID, courseID string) ([]models.AttendanceSummary, error)
}

// AttendanceHandler exposes /academic/attendance.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(svc attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Record godoc
// @Summary Record attendance for one student
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body models.RecordAttendanceRequest true "Attendance"
// @Success 200 {object} response.Envelope
// @Router /academic/attendance [post]
func (h *AttendanceHandler) Record(c *gin.Context) {
	var req models.RecordAttendanceRequest
	if !bindJSON(c, &req, "invalid attendance payload") {
		return
	}
	record, err := h.service.Record(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Bulk godoc
// @Summary Record a whole session
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body models.BulkAttendanceRequest true "Session"
// @Success 200 {object} response.Envelope
// @Router /academic/attendance/bulk [post]
func (h *AttendanceHandler) Bulk(c *gin.Context) {
	var req models.BulkAttendanceRequest
	if !bindJSON(c, &req, "invalid attendance payload") {
		return
	}
	records, err := h.service.BulkRecord(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "attendance recorded", records)
}

// List godoc
// @Summary List attendance
// @Tags Attendance
// @Produce json
// @Param student_id query string false "Student"
// @Param course_id query string false "Course"
// @Param status query string false "Status"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /academic/attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	from, err := parseDateParam(c.Query("from"))
	if err != nil {
		badQuery(c, "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDateParam(c.Query("to"))
	if err != nil {
		badQuery(c, "to must be YYYY-MM-DD")
		return
	}
	filter := models.AttendanceFilter{
		StudentID: c.Query("student_id"),
		CourseID:  c.Query("course_id"),
		Status:    models.AttendanceStatus(c.Query("status")),
		DateFrom:  from,
		DateTo:    to,
	}
	filter.Page, filter.PageSize = paging(c)

	rows, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Summary godoc
// @Summary Attendance summary per course
// @Tags Attendance
// @Produce json
// @Param student_id query string false "Student; defaults to the caller"
// @Param course_id query string false "Course"
// @Success 200 {object} response.Envelope
// @Router /academic/attendance/summary [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	rows, err := h.service.Summary(c.Request.Context(), claimsFromContext(c), c.Query("student_id"), c.Query("course_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
