package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/service"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type fakeFinance struct {
	payErr       error
	paidID       string
	summaryArgs  []string
	unblockCalls int
}

func (f *fakeFinance) CreatePlan(ctx context.Context, actor *models.JWTClaims, req models.InstallmentPlanRequest) (*models.FinanceSummary, error) {
	return &models.FinanceSummary{}, nil
}

func (f *fakeFinance) ApplyPayment(ctx context.Context, actor *models.JWTClaims, installmentID string, req models.ApplyPaymentRequest) (*models.PaymentResult, error) {
	f.paidID = installmentID
	if f.payErr != nil {
		return nil, f.payErr
	}
	return &models.PaymentResult{}, nil
}

func (f *fakeFinance) Waive(ctx context.Context, actor *models.JWTClaims, installmentID string) (*models.FeeInstallment, error) {
	return &models.FeeInstallment{ID: installmentID, Status: models.InstallmentStatusWaived}, nil
}

func (f *fakeFinance) Summary(ctx context.Context, actor *models.JWTClaims, studentID, year, semester string) (*models.FinanceSummary, error) {
	f.summaryArgs = []string{studentID, year, semester}
	return &models.FinanceSummary{Currency: "XAF"}, nil
}

func (f *fakeFinance) Unblock(ctx context.Context, actor *models.JWTClaims, studentID, year, semester string) error {
	f.unblockCalls++
	return nil
}

func (f *fakeFinance) ListInstallments(ctx context.Context, actor *models.JWTClaims, filter models.InstallmentFilter) ([]models.FeeInstallment, *models.Pagination, error) {
	return nil, models.NewPagination(1, 20, 0), nil
}

func (f *fakeFinance) Payments(ctx context.Context, actor *models.JWTClaims, installmentID string) ([]models.Payment, error) {
	return nil, nil
}

func (f *fakeFinance) History(ctx context.Context, actor *models.JWTClaims, studentID string) ([]models.StudentFinance, error) {
	return nil, nil
}

type fakeStatementExport struct{}

func (fakeStatementExport) FeeStatement(ctx context.Context, actor *models.JWTClaims, studentID, year, semester, format string) (*service.Document, error) {
	if format == "docx" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv, pdf or xlsx")
	}
	return &service.Document{Filename: "fees.xlsx", ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Body: []byte("PK")}, nil
}

func TestFinancePayOverpayment(t *testing.T) {
	finance := &fakeFinance{payErr: appErrors.Clone(appErrors.ErrOverpayment, "amount exceeds the remaining balance")}
	h := NewFinanceHandler(finance, fakeStatementExport{})
	c, rec := newContext(http.MethodPost, "/finance/installments/inst-1/pay", nil, models.ApplyPaymentRequest{Amount: 500, Method: models.PaymentMethodCash})
	c.AddParam("id", "inst-1")

	h.Pay(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "inst-1", finance.paidID)
	assert.Equal(t, appErrors.ErrOverpayment.Code, decode(t, rec).Error["code"])
}

func TestFinanceSummaryPassesQuery(t *testing.T) {
	finance := &fakeFinance{}
	h := NewFinanceHandler(finance, fakeStatementExport{})
	c, rec := newContext(http.MethodGet, "/finance/summary?academic_year=2025/2026&semester=2", student(), nil)

	h.Summary(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"", "2025/2026", "2"}, finance.summaryArgs)
}

func TestFinanceSummaryExport(t *testing.T) {
	h := NewFinanceHandler(&fakeFinance{}, fakeStatementExport{})

	c, rec := newContext(http.MethodGet, "/finance/summary?academic_year=2025/2026&semester=2&format=xlsx", student(), nil)
	h.Summary(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "fees.xlsx")

	c, rec = newContext(http.MethodGet, "/finance/summary?academic_year=2025/2026&semester=2&format=docx", student(), nil)
	h.Summary(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinanceUnblockRequiresFields(t *testing.T) {
	finance := &fakeFinance{}
	h := NewFinanceHandler(finance, nil)

	c, rec := newContext(http.MethodPost, "/finance/unblock", nil, map[string]string{"student_id": "stu-1"})
	h.Unblock(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, finance.unblockCalls)

	c, _ = newContext(http.MethodPost, "/finance/unblock", nil, map[string]string{"student_id": "stu-1", "academic_year": "2025/2026", "semester": "2"})
	h.Unblock(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, 1, finance.unblockCalls)
}
