package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type mockFinanceRepo struct {
	*txProviderMock
	installments map[string]*models.FeeInstallment
	finances     map[string]*models.StudentFinance
	payments     []models.Payment
	blocks       int
}

func newMockFinanceRepo(txp *txProviderMock) *mockFinanceRepo {
	return &mockFinanceRepo{txProviderMock: txp, installments: map[string]*models.FeeInstallment{}, finances: map[string]*models.StudentFinance{}}
}

func financeKey(studentID, year, semester string) string { return studentID + "|" + year + "|" + semester }

func (m *mockFinanceRepo) CountInstallments(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) (int, error) {
	items, _ := m.ListStudentInstallments(ctx, tx, studentID, year, semester)
	return len(items), nil
}

func (m *mockFinanceRepo) InsertInstallments(ctx context.Context, tx *sqlx.Tx, installments []models.FeeInstallment) error {
	for i := range installments {
		installments[i].ID = fmt.Sprintf("inst-%d", installments[i].InstallmentNumber)
		clone := installments[i]
		m.installments[clone.ID] = &clone
	}
	return nil
}

func (m *mockFinanceRepo) FindInstallment(ctx context.Context, id string) (*models.FeeInstallment, error) {
	inst, ok := m.installments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *inst
	return &clone, nil
}

func (m *mockFinanceRepo) LockInstallment(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeInstallment, error) {
	return m.FindInstallment(ctx, id)
}

func (m *mockFinanceRepo) UpdateInstallment(ctx context.Context, tx *sqlx.Tx, inst *models.FeeInstallment) error {
	clone := *inst
	m.installments[inst.ID] = &clone
	return nil
}

func (m *mockFinanceRepo) ListStudentInstallments(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) ([]models.FeeInstallment, error) {
	var out []models.FeeInstallment
	for _, inst := range m.installments {
		if inst.StudentID == studentID && inst.AcademicYear == year && inst.Semester == semester {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstallmentNumber < out[j].InstallmentNumber })
	return out, nil
}

func (m *mockFinanceRepo) ListInstallments(ctx context.Context, filter models.InstallmentFilter) ([]models.FeeInstallment, int, error) {
	var out []models.FeeInstallment
	for _, inst := range m.installments {
		if filter.StudentID == "" || inst.StudentID == filter.StudentID {
			out = append(out, *inst)
		}
	}
	return out, len(out), nil
}

func (m *mockFinanceRepo) InsertPayment(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	payment.ID = fmt.Sprintf("pay-%d", len(m.payments)+1)
	m.payments = append(m.payments, *payment)
	return nil
}

func (m *mockFinanceRepo) ListPayments(ctx context.Context, installmentID string) ([]models.Payment, error) {
	return m.payments, nil
}

func (m *mockFinanceRepo) FindFinance(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) (*models.StudentFinance, error) {
	f, ok := m.finances[financeKey(studentID, year, semester)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *f
	return &clone, nil
}

func (m *mockFinanceRepo) ListFinances(ctx context.Context, studentID string) ([]models.StudentFinance, error) {
	var out []models.StudentFinance
	for _, f := range m.finances {
		if f.StudentID == studentID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *mockFinanceRepo) UpsertFinance(ctx context.Context, tx *sqlx.Tx, finance *models.StudentFinance) error {
	key := financeKey(finance.StudentID, finance.AcademicYear, finance.Semester)
	if existing, ok := m.finances[key]; ok {
		finance.ID = existing.ID
		finance.IsBlocked, finance.BlockReason, finance.BlockedAt = existing.IsBlocked, existing.BlockReason, existing.BlockedAt
	} else if finance.ID == "" {
		finance.ID = "fin-" + finance.StudentID
	}
	clone := *finance
	m.finances[key] = &clone
	return nil
}

func (m *mockFinanceRepo) Block(ctx context.Context, tx *sqlx.Tx, id, reason string, at time.Time) (bool, error) {
	for _, f := range m.finances {
		if f.ID == id && !f.IsBlocked {
			f.IsBlocked, f.BlockReason, f.BlockedAt = true, &reason, &at
			m.blocks++
			return true, nil
		}
	}
	return false, nil
}

func (m *mockFinanceRepo) Unblock(ctx context.Context, id string) error {
	for _, f := range m.finances {
		if f.ID == id {
			f.IsBlocked, f.BlockReason, f.BlockedAt = false, nil, nil
			return nil
		}
	}
	return sql.ErrNoRows
}

type auditRecorder struct {
	entries []models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, *log)
	return nil
}

var financeNow = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func newFinanceFixture(t *testing.T) (*FinanceService, *mockFinanceRepo, *recordingNotifier, *txProviderMock) {
	txp, _ := newTxProviderMock(t)
	repo := newMockFinanceRepo(txp)
	notifier := &recordingNotifier{}
	svc := NewFinanceService(repo, newStudentDirectory(), notifier, &auditRecorder{}, nil, nil, nil, NewMetricsService(), FinanceConfig{})
	svc.now = func() time.Time { return financeNow }
	return svc, repo, notifier, txp
}

func planRequest() models.InstallmentPlanRequest {
	return models.InstallmentPlanRequest{
		StudentID: "stu-1", AcademicYear: "2025/2026", Semester: "2", TotalAmount: 1000,
		TotalInstallments: 3, FirstDueDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), IntervalDays: 30,
	}
}

func TestBuildInstallmentsSumsExactly(t *testing.T) {
	first := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	items := BuildInstallments("stu-1", "2025/2026", "1", 1000, 3, first, 30, "tuition")
	require.Len(t, items, 3)

	var sum int64
	for i, item := range items {
		sum += models.ToMinor(item.Amount)
		assert.Equal(t, i+1, item.InstallmentNumber)
		assert.Equal(t, 3, item.TotalInstallments)
		if i > 0 {
			assert.True(t, item.DueDate.After(items[i-1].DueDate))
		}
	}
	assert.Equal(t, int64(100000), sum)
	assert.Equal(t, 333.33, items[0].Amount)
	assert.Equal(t, 333.34, items[2].Amount)
	assert.Equal(t, first.AddDate(0, 0, 60), items[2].DueDate)
}

func TestFinanceCreatePlan(t *testing.T) {
	svc, repo, _, txp := newFinanceFixture(t)
	txp.mock.ExpectBegin()
	txp.mock.ExpectCommit()

	summary, err := svc.CreatePlan(context.Background(), claims("fin-1", models.RoleFinanceStaff), planRequest())
	require.NoError(t, err)
	assert.Len(t, summary.Installments, 3)
	assert.Equal(t, 1000.0, summary.Finance.TotalFeeAmount)
	assert.Equal(t, models.PaymentStatusPending, summary.Finance.PaymentStatus)
	assert.Equal(t, "XAF", summary.Currency)
	assert.Len(t, repo.finances, 1)

	txp.mock.ExpectBegin()
	txp.mock.ExpectRollback()
	_, err = svc.CreatePlan(context.Background(), claims("fin-1", models.RoleFinanceStaff), planRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	_, err = svc.CreatePlan(context.Background(), claims("user-1", models.RoleStudent), planRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	require.NoError(t, txp.mock.ExpectationsWereMet())
}

func seedPlan(t *testing.T, svc *FinanceService, txp *txProviderMock) {
	t.Helper()
	txp.mock.ExpectBegin()
	txp.mock.ExpectCommit()
	_, err := svc.CreatePlan(context.Background(), claims("admin", models.RoleAdmin), planRequest())
	require.NoError(t, err)
}

func TestFinanceApplyPaymentPartialThenPaid(t *testing.T) {
	svc, repo, notifier, txp := newFinanceFixture(t)
	seedPlan(t, svc, txp)
	cashier := claims("fin-1", models.RoleFinanceStaff)

	txp.mock.ExpectBegin()
	txp.mock.ExpectCommit()
	result, err := svc.ApplyPayment(context.Background(), cashier, "inst-1", models.ApplyPaymentRequest{Amount: 100, Method: models.PaymentMethodMobileMoney, Reference: "MM-1"})
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusPartial, result.Installment.Status)
	assert.Nil(t, result.Installment.PaidDate)
	assert.Equal(t, models.PaymentStatusPartial, result.Finance.PaymentStatus)
	assert.Equal(t, 900.0, result.Finance.OutstandingAmount)

	txp.mock.ExpectBegin()
	txp.mock.ExpectCommit()
	result, err = svc.ApplyPayment(context.Background(), cashier, "inst-1", models.ApplyPaymentRequest{Amount: 233.33, Method: models.PaymentMethodCash})
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusPaid, result.Installment.Status)
	require.NotNil(t, result.Installment.PaidDate)
	assert.Equal(t, 666.67, result.Finance.OutstandingAmount)

	assert.Len(t, repo.payments, 2)
	require.Len(t, notifier.calls, 2)
	assert.Equal(t, []string{"user-1"}, notifier.calls[1].recipients)
	assert.Equal(t, models.NotificationCategoryFinance, notifier.calls[1].msg.Category)
	require.NoError(t, txp.mock.ExpectationsWereMet())
}

func TestFinanceOverpaymentLeavesStateUntouched(t *testing.T) {
	svc, repo, notifier, txp := newFinanceFixture(t)
	seedPlan(t, svc, txp)
	before := *repo.installments["inst-1"]

	txp.mock.ExpectBegin()
	txp.mock.ExpectRollback()
	_, err := svc.ApplyPayment(context.Background(), claims("fin-1", models.RoleFinanceStaff), "inst-1", models.ApplyPaymentRequest{Amount: 333.34, Method: models.PaymentMethodCash})
	assert.True(t, appErrors.Is(err, appErrors.ErrOverpayment))
	assert.Equal(t, before, *repo.installments["inst-1"])
	assert.Empty(t, repo.payments)
	assert.Empty(t, notifier.calls)
	require.NoError(t, txp.mock.ExpectationsWereMet())
}

func TestFinanceWaivedRejectsPayment(t *testing.T) {
	svc, _, _, txp := newFinanceFixture(t)
	seedPlan(t, svc, txp)

	txp.mock.ExpectBegin()
	txp.mock.ExpectCommit()
	inst, err := svc.Waive(context.Background(), claims("fin-1", models.RoleFinanceStaff), "inst-3")
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusWaived, inst.Status)

	txp.mock.ExpectBegin()
	txp.mock.ExpectRollback()
	_, err = svc.ApplyPayment(context.Background(), claims("fin-1", models.RoleFinanceStaff), "inst-3", models.ApplyPaymentRequest{Amount: 10, Method: models.PaymentMethodCash})
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.NoError(t, txp.mock.ExpectationsWereMet())
}

func TestFinanceSummaryAutoBlocksOnce(t *testing.T) {
	svc, repo, _, txp := newFinanceFixture(t)
	seedPlan(t, svc, txp)
	student := claims("user-1", models.RoleStudent)

	summary, err := svc.Summary(context.Background(), student, "", "2025/2026", "2")
	require.NoError(t, err)
	assert.False(t, summary.Finance.IsBlocked)

	// first due date 2026-03-01 plus 30 days grace
	svc.now = func() time.Time { return time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC) }
	summary, err = svc.Summary(context.Background(), student, "", "2025/2026", "2")
	require.NoError(t, err)
	assert.True(t, summary.Finance.IsBlocked)
	assert.Equal(t, models.PaymentStatusOverdue, summary.Finance.PaymentStatus)
	assert.Equal(t, models.InstallmentStatusOverdue, summary.Installments[0].Status)

	_, err = svc.Summary(context.Background(), student, "", "2025/2026", "2")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.blocks)

	_, err = svc.Summary(context.Background(), student, "stu-2", "2025/2026", "2")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, svc.Unblock(context.Background(), claims("admin", models.RoleAdmin), "stu-1", "2025/2026", "2"))
	assert.False(t, repo.finances[financeKey("stu-1", "2025/2026", "2")].IsBlocked)

	err = svc.Unblock(context.Background(), claims("fin-1", models.RoleFinanceStaff), "stu-1", "2025/2026", "2")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestFinancePaymentPastGraceBlocks(t *testing.T) {
	svc, repo, _, txp := newFinanceFixture(t)
	seedPlan(t, svc, txp)
	svc.now = func() time.Time { return time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC) }

	txp.mock.ExpectBegin()
	txp.mock.ExpectCommit()
	result, err := svc.ApplyPayment(context.Background(), claims("fin-1", models.RoleFinanceStaff), "inst-1", models.ApplyPaymentRequest{Amount: 10, Method: models.PaymentMethodCash})
	require.NoError(t, err)
	assert.True(t, result.Finance.IsBlocked)

	stored := repo.finances[financeKey("stu-1", "2025/2026", "2")]
	assert.True(t, stored.IsBlocked)
	require.NotNil(t, stored.BlockReason)
	assert.Equal(t, autoBlockReason, *stored.BlockReason)
	assert.Equal(t, 1, repo.blocks)
	require.NoError(t, txp.mock.ExpectationsWereMet())
}

func TestFinanceListInstallmentsScopedToStudent(t *testing.T) {
	svc, repo, _, txp := newFinanceFixture(t)
	seedPlan(t, svc, txp)
	repo.installments["other"] = &models.FeeInstallment{ID: "other", StudentID: "stu-2", Amount: 10, DueDate: financeNow}

	items, _, err := svc.ListInstallments(context.Background(), claims("user-1", models.RoleStudent), models.InstallmentFilter{StudentID: "stu-2"})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, "stu-1", item.StudentID)
	}
}
