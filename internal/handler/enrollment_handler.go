package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

type enrollmentService interface {
	List(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
	Enroll(ctx context.Context, actor *models.JWTClaims, req models.EnrollRequest) (*models.Enrollment, error)
	Withdraw(ctx context.Context, actor *models.JWTClaims, id string) error
}

// EnrollmentHandler exposes course registration endpoints.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(svc enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param student_id query string false "Student"
// @Param course_id query string false "Course"
// @Param semester query string false "Semester"
// @Param academic_year query string false "Academic year"
// @Param status query string false "Status"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := models.EnrollmentFilter{
		StudentID:    c.Query("student_id"),
		CourseID:     c.Query("course_id"),
		Semester:     c.Query("semester"),
		AcademicYear: c.Query("academic_year"),
		Status:       models.EnrollmentStatus(c.Query("status")),
	}
	filter.Page, filter.PageSize = paging(c)

	rows, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Enroll godoc
// @Summary Enroll in a course
// @Description Students enroll themselves; admins pass student_id
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body models.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req models.EnrollRequest
	if !bindJSON(c, &req, "invalid enrollment payload") {
		return
	}
	enrollment, err := h.service.Enroll(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Withdraw godoc
// @Summary Withdraw from a course
// @Tags Enrollments
// @Param id path string true "Enrollment ID"
// @Success 204
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	if err := h.service.Withdraw(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
