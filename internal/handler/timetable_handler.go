package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/service"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

type timetableService interface {
	List(ctx context.Context, actor *models.JWTClaims, filter models.TimetableFilter) ([]models.Timetable, error)
	Create(ctx context.Context, actor *models.JWTClaims, req models.TimetableRequest) (*models.Timetable, error)
	Delete(ctx context.Context, actor *models.JWTClaims, id string) error
}

type timetableExporter interface {
	Timetable(ctx context.Context, actor *models.JWTClaims, filter models.TimetableFilter, format string) (*service.Document, error)
}

// TimetableHandler exposes weekly course slots.
type TimetableHandler struct {
	service timetableService
	exports timetableExporter
}

// NewTimetableHandler constructs TimetableHandler.
func NewTimetableHandler(svc timetableService, exports timetableExporter) *TimetableHandler {
	return &TimetableHandler{service: svc, exports: exports}
}

// List godoc
// @Summary List timetable slots
// @Description Students only see slots of courses they are enrolled in. format=csv, pdf or xlsx downloads
// @Tags Timetables
// @Produce json
// @Param course_id query string false "Course"
// @Param lecturer_id query string false "Lecturer"
// @Param semester query string false "Semester"
// @Param academic_year query string false "Academic year"
// @Param day query int false "Day of week (1 = Monday)"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {object} response.Envelope
// @Router /timetables [get]
func (h *TimetableHandler) List(c *gin.Context) {
	filter := models.TimetableFilter{
		CourseID:     c.Query("course_id"),
		LecturerID:   c.Query("lecturer_id"),
		Semester:     c.Query("semester"),
		AcademicYear: c.Query("academic_year"),
		DayOfWeek:    parseQueryInt(c, "day", 0),
	}
	if format := c.Query("format"); format != "" {
		doc, err := h.exports.Timetable(c.Request.Context(), claimsFromContext(c), filter, format)
		if err != nil {
			response.Error(c, err)
			return
		}
		attachment(c, doc.Filename, doc.ContentType, doc.Body)
		return
	}
	slots, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Create godoc
// @Summary Schedule a slot
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body models.TimetableRequest true "Slot"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables [post]
func (h *TimetableHandler) Create(c *gin.Context) {
	var req models.TimetableRequest
	if !bindJSON(c, &req, "invalid timetable payload") {
		return
	}
	slot, err := h.service.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Delete godoc
// @Summary Remove a slot
// @Tags Timetables
// @Param id path string true "Slot ID"
// @Success 204
// @Router /timetables/{id} [delete]
func (h *TimetableHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
