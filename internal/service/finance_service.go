package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

const autoBlockReason = "automatic block: installment overdue past the grace period"

type financeRepository interface {
	txProvider
	CountInstallments(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) (int, error)
	InsertInstallments(ctx context.Context, tx *sqlx.Tx, installments []models.FeeInstallment) error
	FindInstallment(ctx context.Context, id string) (*models.FeeInstallment, error)
	LockInstallment(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeInstallment, error)
	UpdateInstallment(ctx context.Context, tx *sqlx.Tx, inst *models.FeeInstallment) error
	ListStudentInstallments(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) ([]models.FeeInstallment, error)
	ListInstallments(ctx context.Context, filter models.InstallmentFilter) ([]models.FeeInstallment, int, error)
	InsertPayment(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error
	ListPayments(ctx context.Context, installmentID string) ([]models.Payment, error)
	FindFinance(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) (*models.StudentFinance, error)
	ListFinances(ctx context.Context, studentID string) ([]models.StudentFinance, error)
	UpsertFinance(ctx context.Context, tx *sqlx.Tx, finance *models.StudentFinance) error
	Block(ctx context.Context, tx *sqlx.Tx, id, reason string, at time.Time) (bool, error)
	Unblock(ctx context.Context, id string) error
}

// FinanceConfig carries the tunables of the finance workflow.
type FinanceConfig struct {
	BlockGrace time.Duration
	Currency   string
}

// FinanceService manages installment plans, payments and the per-semester aggregate.
type FinanceService struct {
	repo      financeRepository
	students  studentDirectory
	notifier  Notifier
	audit     auditWriter
	policy    *Policy
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    FinanceConfig
	now       func() time.Time
}

// NewFinanceService constructs FinanceService.
func NewFinanceService(repo financeRepository, students studentDirectory, notifier Notifier, audit auditWriter, policy *Policy, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config FinanceConfig) *FinanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if config.BlockGrace <= 0 {
		config.BlockGrace = 30 * 24 * time.Hour
	}
	if config.Currency == "" {
		config.Currency = "XAF"
	}
	return &FinanceService{
		repo:      repo,
		students:  students,
		notifier:  notifier,
		audit:     audit,
		policy:    policy,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// BuildInstallments splits total into n rows in minor units. The remainder goes to the
// last row so the amounts always sum to total; due dates step by intervalDays.
func BuildInstallments(studentID, year, semester string, total float64, n int, firstDue time.Time, intervalDays int, description string) []models.FeeInstallment {
	if n < 1 {
		return nil
	}
	totalMinor := models.ToMinor(total)
	share := totalMinor / int64(n)
	items := make([]models.FeeInstallment, n)
	for i := 0; i < n; i++ {
		amount := share
		if i == n-1 {
			amount = totalMinor - share*int64(n-1)
		}
		items[i] = models.FeeInstallment{
			StudentID:         studentID,
			AcademicYear:      year,
			Semester:          semester,
			InstallmentNumber: i + 1,
			TotalInstallments: n,
			Amount:            models.FromMinor(amount),
			DueDate:           firstDue.AddDate(0, 0, i*intervalDays),
			Status:            models.InstallmentStatusPending,
			Description:       strPtr(description),
		}
	}
	return items
}

// CreatePlan writes an installment plan and its aggregate in one transaction. A student
// semester holds at most one plan.
func (s *FinanceService) CreatePlan(ctx context.Context, actor *models.JWTClaims, req models.InstallmentPlanRequest) (summary *models.FinanceSummary, err error) {
	if err := s.policy.Authorize(actor, models.ResourceFinance, models.ActionCreate, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid installment plan")
	}
	if models.ToMinor(req.TotalAmount) < int64(req.TotalInstallments) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "total amount is too small to split")
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}

	start := time.Now()
	tx, err := s.repo.BeginTxx(ctx, nil)
	if err != nil {
		return nil, internalError(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	count, err := s.repo.CountInstallments(ctx, tx, req.StudentID, req.AcademicYear, req.Semester)
	if err != nil {
		return nil, internalError(err, "failed to check existing plan")
	}
	if count > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an installment plan already exists for this semester")
	}
	installments := BuildInstallments(req.StudentID, req.AcademicYear, req.Semester, req.TotalAmount, req.TotalInstallments,
		req.FirstDueDate.UTC(), req.IntervalDays, req.Description)
	if err = s.repo.InsertInstallments(ctx, tx, installments); err != nil {
		return nil, writeError(err, "an installment plan already exists for this semester", "failed to store installments")
	}
	finance, err := s.recompute(ctx, tx, req.StudentID, req.AcademicYear, req.Semester)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, internalError(err, "failed to commit installment plan")
	}
	s.metrics.ObserveTransaction("installment_plan", time.Since(start))
	s.logger.Info("installment plan created", zap.String("student_id", req.StudentID), zap.Int("installments", len(installments)))
	return s.summary(finance, installments), nil
}

// ApplyPayment records a payment against an installment. The row is locked for the
// whole transaction so concurrent payments cannot both pass the balance check.
func (s *FinanceService) ApplyPayment(ctx context.Context, actor *models.JWTClaims, installmentID string, req models.ApplyPaymentRequest) (result *models.PaymentResult, err error) {
	if err := s.policy.Authorize(actor, models.ResourceFinance, models.ActionPay, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payment payload")
	}
	amount := models.ToMinor(req.Amount)
	if amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}

	start := time.Now()
	defer func() {
		outcome := "applied"
		if err != nil {
			outcome = "rejected"
		}
		s.metrics.RecordPayment(string(req.Method), outcome, req.Amount)
	}()

	tx, err := s.repo.BeginTxx(ctx, nil)
	if err != nil {
		return nil, internalError(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	inst, err := s.repo.LockInstallment(ctx, tx, installmentID)
	if err != nil {
		return nil, lookupError(err, "installment not found", "failed to load installment")
	}
	if inst.Status == models.InstallmentStatusWaived {
		return nil, appErrors.Clone(appErrors.ErrConflict, "installment has been waived")
	}
	remaining := inst.Remaining()
	if amount > remaining {
		return nil, appErrors.Clone(appErrors.ErrOverpayment, fmt.Sprintf("payment of %.2f exceeds the outstanding %.2f", req.Amount, models.FromMinor(remaining)))
	}

	now := s.now()
	inst.PaidAmount = models.FromMinor(models.ToMinor(inst.PaidAmount) + amount)
	inst.Refresh(now)
	if inst.Status == models.InstallmentStatusPaid && inst.PaidDate == nil {
		inst.PaidDate = &now
	}
	if err = s.repo.UpdateInstallment(ctx, tx, inst); err != nil {
		return nil, internalError(err, "failed to update installment")
	}
	payment := &models.Payment{
		InstallmentID: inst.ID,
		StudentID:     inst.StudentID,
		Amount:        models.FromMinor(amount),
		Method:        req.Method,
		Reference:     strPtr(req.Reference),
		ReceivedBy:    userIDPtr(actor),
		PaidAt:        now,
	}
	if err = s.repo.InsertPayment(ctx, tx, payment); err != nil {
		return nil, writeError(err, "payment reference already recorded", "failed to record payment")
	}
	finance, err := s.recompute(ctx, tx, inst.StudentID, inst.AcademicYear, inst.Semester)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, internalError(err, "failed to commit payment")
	}
	s.metrics.ObserveTransaction("payment_apply", time.Since(start))

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionPayment, "fee_installments", inst.ID, payment)
	s.notifyPayment(ctx, inst, payment, finance)
	return &models.PaymentResult{Installment: *inst, Payment: *payment, Finance: *finance}, nil
}

// Waive takes an unpaid installment out of the payment machine.
func (s *FinanceService) Waive(ctx context.Context, actor *models.JWTClaims, installmentID string) (inst *models.FeeInstallment, err error) {
	if err := s.policy.Authorize(actor, models.ResourceFinance, models.ActionWaive, ""); err != nil {
		return nil, err
	}
	tx, err := s.repo.BeginTxx(ctx, nil)
	if err != nil {
		return nil, internalError(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	inst, err = s.repo.LockInstallment(ctx, tx, installmentID)
	if err != nil {
		return nil, lookupError(err, "installment not found", "failed to load installment")
	}
	inst.Refresh(s.now())
	switch inst.Status {
	case models.InstallmentStatusWaived:
		return nil, appErrors.Clone(appErrors.ErrConflict, "installment is already waived")
	case models.InstallmentStatusPaid:
		return nil, appErrors.Clone(appErrors.ErrConflict, "installment is already paid")
	}
	inst.Status = models.InstallmentStatusWaived
	if err = s.repo.UpdateInstallment(ctx, tx, inst); err != nil {
		return nil, internalError(err, "failed to waive installment")
	}
	if _, err = s.recompute(ctx, tx, inst.StudentID, inst.AcademicYear, inst.Semester); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, internalError(err, "failed to commit waiver")
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionInstallmentWaive, "fee_installments", inst.ID, nil)
	return inst, nil
}

// Summary recomputes a student's semester aggregate at read time and applies the
// one-way automatic block once the grace period after the next due date has passed.
func (s *FinanceService) Summary(ctx context.Context, actor *models.JWTClaims, studentID, year, semester string) (*models.FinanceSummary, error) {
	student, err := s.resolveStudent(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, models.ResourceFinance, models.ActionRead, s.owner(actor, student)); err != nil {
		return nil, err
	}
	if year == "" || semester == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "academic_year and semester are required")
	}

	installments, err := s.repo.ListStudentInstallments(ctx, nil, student.ID, year, semester)
	if err != nil {
		return nil, internalError(err, "failed to load installments")
	}
	if len(installments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no installment plan for this semester")
	}
	finance, err := s.recompute(ctx, nil, student.ID, year, semester)
	if err != nil {
		return nil, err
	}
	return s.summary(finance, installments), nil
}

// Unblock clears a block on a student's semester aggregate.
func (s *FinanceService) Unblock(ctx context.Context, actor *models.JWTClaims, studentID, year, semester string) error {
	if err := s.policy.Authorize(actor, models.ResourceFinance, models.ActionUpdate, ""); err != nil {
		return err
	}
	finance, err := s.repo.FindFinance(ctx, nil, studentID, year, semester)
	if err != nil {
		return lookupError(err, "finance record not found", "failed to load finance record")
	}
	if err := s.repo.Unblock(ctx, finance.ID); err != nil {
		return lookupError(err, "finance record not found", "failed to unblock finance record")
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionFinanceUnblock, "student_finances", finance.ID, nil)
	return nil
}

// ListInstallments returns installments with read-time status labels. Students only see theirs.
func (s *FinanceService) ListInstallments(ctx context.Context, actor *models.JWTClaims, filter models.InstallmentFilter) ([]models.FeeInstallment, *models.Pagination, error) {
	if !s.policy.CanAny(actor, models.ResourceFinance, models.ActionRead) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "you are not allowed to read finance records")
	}
	if s.policy.OwnOnly(actor, models.ResourceFinance, models.ActionRead) {
		own, err := ownStudent(ctx, s.students, actor)
		if err != nil {
			return nil, nil, err
		}
		filter.StudentID = own.ID
	}
	now := s.now()
	filter.Now = now
	items, total, err := s.repo.ListInstallments(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list installments")
	}
	for i := range items {
		items[i].Refresh(now)
	}
	return items, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Payments returns the ledger of one installment.
func (s *FinanceService) Payments(ctx context.Context, actor *models.JWTClaims, installmentID string) ([]models.Payment, error) {
	inst, err := s.repo.FindInstallment(ctx, installmentID)
	if err != nil {
		return nil, lookupError(err, "installment not found", "failed to load installment")
	}
	student, err := s.students.FindByID(ctx, inst.StudentID)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}
	if err := s.policy.Authorize(actor, models.ResourceFinance, models.ActionRead, s.owner(actor, student)); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, installmentID)
	if err != nil {
		return nil, internalError(err, "failed to list payments")
	}
	return payments, nil
}

// History returns every semester aggregate of a student.
func (s *FinanceService) History(ctx context.Context, actor *models.JWTClaims, studentID string) ([]models.StudentFinance, error) {
	student, err := s.resolveStudent(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, models.ResourceFinance, models.ActionRead, s.owner(actor, student)); err != nil {
		return nil, err
	}
	items, err := s.repo.ListFinances(ctx, student.ID)
	if err != nil {
		return nil, internalError(err, "failed to list finance records")
	}
	return items, nil
}

func (s *FinanceService) recompute(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) (*models.StudentFinance, error) {
	installments, err := s.repo.ListStudentInstallments(ctx, tx, studentID, year, semester)
	if err != nil {
		return nil, internalError(err, "failed to load installments")
	}
	finance, err := s.repo.FindFinance(ctx, tx, studentID, year, semester)
	if err != nil {
		if !isNoRows(err) {
			return nil, internalError(err, "failed to load finance record")
		}
		finance = &models.StudentFinance{StudentID: studentID, AcademicYear: year, Semester: semester}
	}
	now := s.now()
	finance.Recompute(installments, now)
	if err := s.repo.UpsertFinance(ctx, tx, finance); err != nil {
		return nil, internalError(err, "failed to store finance record")
	}
	if err := s.applyAutoBlock(ctx, tx, finance, now); err != nil {
		return nil, err
	}
	return finance, nil
}

// applyAutoBlock sets the one-way block once the grace period after the next due date
// has passed. It runs on every save of the aggregate.
func (s *FinanceService) applyAutoBlock(ctx context.Context, tx *sqlx.Tx, finance *models.StudentFinance, now time.Time) error {
	if !finance.ShouldAutoBlock(now, s.config.BlockGrace) {
		return nil
	}
	blocked, err := s.repo.Block(ctx, tx, finance.ID, autoBlockReason, now)
	if err != nil {
		return internalError(err, "failed to block finance record")
	}
	if blocked {
		reason := autoBlockReason
		finance.IsBlocked, finance.BlockReason, finance.BlockedAt = true, &reason, &now
		s.metrics.RecordFinanceBlock()
		s.logger.Info("student finance auto-blocked", zap.String("student_id", finance.StudentID), zap.String("finance_id", finance.ID))
	}
	return nil
}

func (s *FinanceService) summary(finance *models.StudentFinance, installments []models.FeeInstallment) *models.FinanceSummary {
	now := s.now()
	labelled := make([]models.FeeInstallment, len(installments))
	copy(labelled, installments)
	for i := range labelled {
		labelled[i].Refresh(now)
	}
	return &models.FinanceSummary{Finance: *finance, Installments: labelled, Currency: s.config.Currency}
}

func (s *FinanceService) resolveStudent(ctx context.Context, actor *models.JWTClaims, studentID string) (*models.StudentDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if studentID == "" || actor.Role == models.RoleStudent {
		own, err := ownStudent(ctx, s.students, actor)
		if err != nil {
			return nil, err
		}
		if studentID != "" && studentID != own.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you may only read your own finance records")
		}
		return own, nil
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}
	return student, nil
}

func (s *FinanceService) owner(actor *models.JWTClaims, student *models.StudentDetail) string {
	if actor != nil && actor.UserID == student.UserID {
		return actor.UserID
	}
	return ""
}

func (s *FinanceService) notifyPayment(ctx context.Context, inst *models.FeeInstallment, payment *models.Payment, finance *models.StudentFinance) {
	if s.notifier == nil {
		return
	}
	student, err := s.students.FindByID(ctx, inst.StudentID)
	if err != nil {
		s.logger.Warn("payment notification skipped", zap.String("student_id", inst.StudentID), zap.Error(err))
		return
	}
	msg := models.NotificationMessage{
		Title: "Payment received",
		Message: fmt.Sprintf("We received %.2f %s for installment %d/%d. Outstanding balance for %s semester %s: %.2f %s.",
			payment.Amount, s.config.Currency, inst.InstallmentNumber, inst.TotalInstallments,
			inst.AcademicYear, inst.Semester, finance.OutstandingAmount, s.config.Currency),
		Type:     models.NotificationTypeSuccess,
		Category: models.NotificationCategoryFinance,
		Metadata: map[string]any{"installment_id": inst.ID, "payment_id": payment.ID, "outstanding": finance.OutstandingAmount},
	}
	if err := s.notifier.Notify(ctx, []string{student.UserID}, msg); err != nil {
		s.logger.Warn("payment notification failed", zap.String("payment_id", payment.ID), zap.Error(err))
	}
}
