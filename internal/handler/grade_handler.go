package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/service"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

type gradeService interface {
	List(ctx context.Context, actor *models.JWTClaims, filter models.GradeFilter) ([]models.GradeDetail, *models.Pagination, error)
	Upsert(ctx context.Context, actor *models.JWTClaims, req models.GradeUpsertRequest) (*models.Grade, error)
	BulkUpsert(ctx context.Context, actor *models.JWTClaims, req models.BulkGradeRequest) ([]models.Grade, error)
	Publish(ctx context.Context, actor *models.JWTClaims, req models.PublishGradesRequest) ([]models.Grade, error)
	Lock(ctx context.Context, actor *models.JWTClaims, req models.PublishGradesRequest) (int, error)
	Transcript(ctx context.Context, actor *models.JWTClaims, studentID string) (*models.Transcript, error)
}

type transcriptExporter interface {
	Transcript(ctx context.Context, actor *models.JWTClaims, studentID, format string) (*service.Document, error)
}

// GradeHandler exposes the grading workflow under /academic/grades.
type GradeHandler struct {
	grades  gradeService
	exports transcriptExporter
}

// NewGradeHandler constructs GradeHandler.
func NewGradeHandler(grades gradeService, exports transcriptExporter) *GradeHandler {
	return &GradeHandler{grades: grades, exports: exports}
}

// List godoc
// @Summary List grades
// @Description Students only see their own published grades
// @Tags Grades
// @Produce json
// @Param student_id query string false "Student"
// @Param course_id query string false "Course"
// @Param semester query string false "Semester"
// @Param academic_year query string false "Academic year"
// @Param status query string false "draft, published or locked"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /academic/grades [get]
func (h *GradeHandler) List(c *gin.Context) {
	filter := models.GradeFilter{
		StudentID:    c.Query("student_id"),
		CourseID:     c.Query("course_id"),
		Semester:     c.Query("semester"),
		AcademicYear: c.Query("academic_year"),
		Status:       models.GradeStatus(c.Query("status")),
	}
	filter.Page, filter.PageSize = paging(c)

	grades, pagination, err := h.grades.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, pagination)
}

// Upsert godoc
// @Summary Create or update a grade
// @Description Recomputes total, letter and points. Published grades need admin and reopen
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body models.GradeUpsertRequest true "Marks"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /academic/grades [post]
func (h *GradeHandler) Upsert(c *gin.Context) {
	var req models.GradeUpsertRequest
	if !bindJSON(c, &req, "invalid grade payload") {
		return
	}
	grade, err := h.grades.Upsert(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Bulk godoc
// @Summary Bulk upsert grades
// @Description All rows are written in one transaction or none are
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body models.BulkGradeRequest true "Grades"
// @Success 200 {object} response.Envelope
// @Router /academic/grades/bulk [post]
func (h *GradeHandler) Bulk(c *gin.Context) {
	var req models.BulkGradeRequest
	if !bindJSON(c, &req, "invalid bulk grade payload") {
		return
	}
	grades, err := h.grades.BulkUpsert(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "grades saved", grades)
}

// Publish godoc
// @Summary Publish grades
// @Description Select by grade_ids or by course_id, semester and academic_year
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body models.PublishGradesRequest true "Selection"
// @Success 200 {object} response.Envelope
// @Router /academic/grades/publish [post]
func (h *GradeHandler) Publish(c *gin.Context) {
	var req models.PublishGradesRequest
	if !bindJSON(c, &req, "invalid publish payload") {
		return
	}
	grades, err := h.grades.Publish(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "grades published", grades)
}

// Lock godoc
// @Summary Lock published grades
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body models.PublishGradesRequest true "Selection"
// @Success 200 {object} response.Envelope
// @Router /academic/grades/lock [post]
func (h *GradeHandler) Lock(c *gin.Context) {
	var req models.PublishGradesRequest
	if !bindJSON(c, &req, "invalid lock payload") {
		return
	}
	n, err := h.grades.Lock(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "grades locked", gin.H{"locked": n})
}

// Transcript godoc
// @Summary Transcript
// @Description Finalised grades with GPA. Pass format=csv, pdf or xlsx to download
// @Tags Grades
// @Produce json
// @Param student_id query string false "Student; defaults to the caller"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {object} response.Envelope
// @Router /academic/grades/transcript [get]
func (h *GradeHandler) Transcript(c *gin.Context) {
	studentID := c.Query("student_id")
	if format := c.Query("format"); format != "" {
		doc, err := h.exports.Transcript(c.Request.Context(), claimsFromContext(c), studentID, format)
		if err != nil {
			response.Error(c, err)
			return
		}
		attachment(c, doc.Filename, doc.ContentType, doc.Body)
		return
	}
	transcript, err := h.grades.Transcript(c.Request.Context(), claimsFromContext(c), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transcript, nil)
}
