package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/service"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

type financeService interface {
	CreatePlan(ctx context.Context, actor *models.JWTClaims, req models.InstallmentPlanRequest) (*models.FinanceSummary, error)
	ApplyPayment(ctx context.Context, actor *models.JWTClaims, installmentID string, req models.ApplyPaymentRequest) (*models.PaymentResult, error)
	Waive(ctx context.Context, actor *models.JWTClaims, installmentID string) (*models.FeeInstallment, error)
	Summary(ctx context.Context, actor *models.JWTClaims, studentID, year, semester string) (*models.FinanceSummary, error)
	Unblock(ctx context.Context, actor *models.JWTClaims, studentID, year, semester string) error
	ListInstallments(ctx context.Context, actor *models.JWTClaims, filter models.InstallmentFilter) ([]models.FeeInstallment, *models.Pagination, error)
	Payments(ctx context.Context, actor *models.JWTClaims, installmentID string) ([]models.Payment, error)
	History(ctx context.Context, actor *models.JWTClaims, studentID string) ([]models.StudentFinance, error)
}

type statementExporter interface {
	FeeStatement(ctx context.Context, actor *models.JWTClaims, studentID, year, semester, format string) (*service.Document, error)
}

// FinanceHandler exposes installments, payments and the finance summary.
type FinanceHandler struct {
	finance financeService
	exports statementExporter
}

// NewFinanceHandler constructs FinanceHandler.
func NewFinanceHandler(finance financeService, exports statementExporter) *FinanceHandler {
	return &FinanceHandler{finance: finance, exports: exports}
}

// CreatePlan godoc
// @Summary Create an installment plan
// @Description Splits the total into N installments; the last absorbs rounding
// @Tags Finance
// @Accept json
// @Produce json
// @Param payload body models.InstallmentPlanRequest true "Plan"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /finance/installments/plan [post]
func (h *FinanceHandler) CreatePlan(c *gin.Context) {
	var req models.InstallmentPlanRequest
	if !bindJSON(c, &req, "invalid plan payload") {
		return
	}
	summary, err := h.finance.CreatePlan(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, summary)
}

// Pay godoc
// @Summary Apply a payment
// @Tags Finance
// @Accept json
// @Produce json
// @Param id path string true "Installment ID"
// @Param payload body models.ApplyPaymentRequest true "Payment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /finance/installments/{id}/pay [post]
func (h *FinanceHandler) Pay(c *gin.Context) {
	var req models.ApplyPaymentRequest
	if !bindJSON(c, &req, "invalid payment payload") {
		return
	}
	result, err := h.finance.ApplyPayment(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "payment applied", result)
}

// Waive godoc
// @Summary Waive an installment
// @Tags Finance
// @Produce json
// @Param id path string true "Installment ID"
// @Success 200 {object} response.Envelope
// @Router /finance/installments/{id}/waive [post]
func (h *FinanceHandler) Waive(c *gin.Context) {
	inst, err := h.finance.Waive(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "installment waived", inst)
}

// Payments godoc
// @Summary Payments applied to an installment
// @Tags Finance
// @Produce json
// @Param id path string true "Installment ID"
// @Success 200 {object} response.Envelope
// @Router /finance/installments/{id}/payments [get]
func (h *FinanceHandler) Payments(c *gin.Context) {
	payments, err := h.finance.Payments(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// Installments godoc
// @Summary List installments
// @Tags Finance
// @Produce json
// @Param student_id query string false "Student"
// @Param academic_year query string false "Academic year"
// @Param semester query string false "Semester"
// @Param status query string false "Status"
// @Success 200 {object} response.Envelope
// @Router /finance/installments [get]
func (h *FinanceHandler) Installments(c *gin.Context) {
	filter := models.InstallmentFilter{
		StudentID:    c.Query("student_id"),
		AcademicYear: c.Query("academic_year"),
		Semester:     c.Query("semester"),
		Status:       models.InstallmentStatus(c.Query("status")),
	}
	filter.Page, filter.PageSize = paging(c)

	rows, pagination, err := h.finance.ListInstallments(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Summary godoc
// @Summary Finance summary for a semester
// @Description Recomputes outstanding and may apply the overdue block. format=csv, pdf or xlsx downloads a statement
// @Tags Finance
// @Produce json
// @Param student_id query string false "Student; defaults to the caller"
// @Param academic_year query string true "Academic year"
// @Param semester query string true "Semester"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {object} response.Envelope
// @Router /finance/summary [get]
func (h *FinanceHandler) Summary(c *gin.Context) {
	studentID, year, semester := c.Query("student_id"), c.Query("academic_year"), c.Query("semester")
	if format := c.Query("format"); format != "" {
		doc, err := h.exports.FeeStatement(c.Request.Context(), claimsFromContext(c), studentID, year, semester, format)
		if err != nil {
			response.Error(c, err)
			return
		}
		attachment(c, doc.Filename, doc.ContentType, doc.Body)
		return
	}
	summary, err := h.finance.Summary(c.Request.Context(), claimsFromContext(c), studentID, year, semester)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Unblock godoc
// @Summary Lift a finance block
// @Tags Finance
// @Accept json
// @Param payload body map[string]string true "student_id, academic_year, semester"
// @Success 204
// @Router /finance/unblock [post]
func (h *FinanceHandler) Unblock(c *gin.Context) {
	var req struct {
		StudentID    string `json:"student_id" binding:"required"`
		AcademicYear string `json:"academic_year" binding:"required"`
		Semester     string `json:"semester" binding:"required"`
	}
	if !bindJSON(c, &req, "student_id, academic_year and semester are required") {
		return
	}
	if err := h.finance.Unblock(c.Request.Context(), claimsFromContext(c), req.StudentID, req.AcademicYear, req.Semester); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// History godoc
// @Summary Finance aggregates across semesters
// @Tags Finance
// @Produce json
// @Param student_id query string false "Student; defaults to the caller"
// @Success 200 {object} response.Envelope
// @Router /finance/history [get]
func (h *FinanceHandler) History(c *gin.Context) {
	rows, err := h.finance.History(c.Request.Context(), claimsFromContext(c), c.Query("student_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
