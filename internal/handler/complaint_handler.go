package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

type complaintService interface {
	Create(ctx context.Context, actor *models.JWTClaims, req models.CreateComplaintRequest) (*models.Complaint, error)
	Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Complaint, error)
	List(ctx context.Context, actor *models.JWTClaims, filter models.ComplaintFilter) ([]models.Complaint, *models.Pagination, error)
	Respond(ctx context.Context, actor *models.JWTClaims, id string, req models.RespondComplaintRequest) (*models.Complaint, error)
}

// ComplaintHandler exposes student complaints.
type ComplaintHandler struct {
	service complaintService
}

// NewComplaintHandler constructs ComplaintHandler.
func NewComplaintHandler(svc complaintService) *ComplaintHandler {
	return &ComplaintHandler{service: svc}
}

// Create godoc
// @Summary File a complaint about a course
// @Tags Complaints
// @Accept json
// @Produce json
// @Param payload body models.CreateComplaintRequest true "Complaint"
// @Success 201 {object} response.Envelope
// @Router /complaints [post]
func (h *ComplaintHandler) Create(c *gin.Context) {
	var req models.CreateComplaintRequest
	if !bindJSON(c, &req, "invalid complaint payload") {
		return
	}
	complaint, err := h.service.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, complaint)
}

// List godoc
// @Summary List complaints
// @Tags Complaints
// @Produce json
// @Param course_id query string false "Course"
// @Param status query string false "Status"
// @Success 200 {object} response.Envelope
// @Router /complaints [get]
func (h *ComplaintHandler) List(c *gin.Context) {
	filter := models.ComplaintFilter{
		StudentID: c.Query("student_id"),
		CourseID:  c.Query("course_id"),
		Status:    models.ComplaintStatus(c.Query("status")),
	}
	filter.Page, filter.PageSize = paging(c)

	rows, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Get godoc
// @Summary Get complaint
// @Tags Complaints
// @Produce json
// @Param id path string true "Complaint ID"
// @Success 200 {object} response.Envelope
// @Router /complaints/{id} [get]
func (h *ComplaintHandler) Get(c *gin.Context) {
	complaint, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complaint, nil)
}

// Respond godoc
// @Summary Respond to a complaint
// @Description Resolved and rejected complaints are final
// @Tags Complaints
// @Accept json
// @Produce json
// @Param id path string true "Complaint ID"
// @Param payload body models.RespondComplaintRequest true "Response"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /complaints/{id}/respond [post]
func (h *ComplaintHandler) Respond(c *gin.Context) {
	var req models.RespondComplaintRequest
	if !bindJSON(c, &req, "invalid response payload") {
		return
	}
	complaint, err := h.service.Respond(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complaint, nil)
}
