package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

const installmentColumns = `id, student_id, academic_year, semester, installment_number, total_installments, amount, paid_amount, due_date, paid_date, status, description, created_at, updated_at`

const financeColumns = `id, student_id, academic_year, semester, total_fee_amount, total_paid_amount, outstanding_amount, payment_status, next_due_date, is_blocked, block_reason, blocked_at, created_at, updated_at`

// FinanceRepository persists installments, payments and the per-semester aggregate.
type FinanceRepository struct {
	db *sqlx.DB
}

// NewFinanceRepository constructs a FinanceRepository.
func NewFinanceRepository(db *sqlx.DB) *FinanceRepository {
	return &FinanceRepository{db: db}
}

// BeginTxx starts a transaction on the underlying pool.
func (r *FinanceRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

// CountInstallments returns how many installments exist for a student semester.
func (r *FinanceRepository) CountInstallments(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) (int, error) {
	const query = `SELECT COUNT(*) FROM fee_installments WHERE student_id = $1 AND academic_year = $2 AND semester = $3`
	var count int
	if err := sqlx.GetContext(ctx, pick(r.db, tx), &count, query, studentID, year, semester); err != nil {
		return 0, fmt.Errorf("count installments: %w", err)
	}
	return count, nil
}

// InsertInstallments stores a plan inside tx.
func (r *FinanceRepository) InsertInstallments(ctx context.Context, tx *sqlx.Tx, installments []models.FeeInstallment) error {
	const query = `INSERT INTO fee_installments (` + installmentColumns + `)
VALUES (:id, :student_id, :academic_year, :semester, :installment_number, :total_installments, :amount, :paid_amount, :due_date, :paid_date, :status, :description, :created_at, :updated_at)`
	now := time.Now().UTC()
	for i := range installments {
		inst := &installments[i]
		if inst.ID == "" {
			inst.ID = uuid.NewString()
		}
		inst.CreatedAt, inst.UpdatedAt = now, now
		if _, err := sqlx.NamedExecContext(ctx, pick(r.db, tx), query, inst); err != nil {
			return fmt.Errorf("insert installment %d: %w", inst.InstallmentNumber, err)
		}
	}
	return nil
}

// FindInstallment returns an installment by id.
func (r *FinanceRepository) FindInstallment(ctx context.Context, id string) (*models.FeeInstallment, error) {
	var inst models.FeeInstallment
	if err := r.db.GetContext(ctx, &inst, `SELECT `+installmentColumns+` FROM fee_installments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find installment: %w", err)
	}
	return &inst, nil
}

// LockInstallment loads an installment FOR UPDATE so concurrent payments serialise.
func (r *FinanceRepository) LockInstallment(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeInstallment, error) {
	var inst models.FeeInstallment
	if err := tx.GetContext(ctx, &inst, `SELECT `+installmentColumns+` FROM fee_installments WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock installment: %w", err)
	}
	return &inst, nil
}

// UpdateInstallment writes paid amount, paid date and status.
func (r *FinanceRepository) UpdateInstallment(ctx context.Context, tx *sqlx.Tx, inst *models.FeeInstallment) error {
	inst.UpdatedAt = time.Now().UTC()
	const query = `UPDATE fee_installments SET paid_amount = $2, paid_date = $3, status = $4, updated_at = $5 WHERE id = $1`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, inst.ID, inst.PaidAmount, inst.PaidDate, inst.Status, inst.UpdatedAt); err != nil {
		return fmt.Errorf("update installment: %w", err)
	}
	return nil
}

// ListStudentInstallments returns every installment of a student semester ordered by number.
func (r *FinanceRepository) ListStudentInstallments(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) ([]models.FeeInstallment, error) {
	const query = `SELECT ` + installmentColumns + ` FROM fee_installments WHERE student_id = $1 AND academic_year = $2 AND semester = $3 ORDER BY installment_number`
	var items []models.FeeInstallment
	if err := sqlx.SelectContext(ctx, pick(r.db, tx), &items, query, studentID, year, semester); err != nil {
		return nil, fmt.Errorf("list student installments: %w", err)
	}
	return items, nil
}

// ListInstallments returns installments matching filter.
func (r *FinanceRepository) ListInstallments(ctx context.Context, filter models.InstallmentFilter) ([]models.FeeInstallment, int, error) {
	where := sq.And{}
	if filter.StudentID != "" {
		where = append(where, sq.Eq{"student_id": filter.StudentID})
	}
	if filter.AcademicYear != "" {
		where = append(where, sq.Eq{"academic_year": filter.AcademicYear})
	}
	if filter.Semester != "" {
		where = append(where, sq.Eq{"semester": filter.Semester})
	}
	if filter.Status != "" {
		now := filter.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		where = append(where, installmentStatusCondition(filter.Status, now))
	}

	base := psql.Select(installmentColumns).From("fee_installments")
	countBase := psql.Select("COUNT(*)").From("fee_installments")
	if len(where) > 0 {
		base, countBase = base.Where(where), countBase.Where(where)
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	query, args, err := base.OrderBy("due_date ASC", "installment_number ASC").Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list installments: %w", err)
	}
	var items []models.FeeInstallment
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list installments: %w", err)
	}

	countQuery, countArgs, err := countBase.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count installments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count installments: %w", err)
	}
	return items, total, nil
}

// installmentStatusCondition matches rows on the status DeriveInstallmentStatus would report
// at now, not on the stored column, which only changes on writes.
func installmentStatusCondition(status models.InstallmentStatus, now time.Time) sq.Sqlizer {
	waived := sq.Eq{"status": string(models.InstallmentStatusWaived)}
	open := sq.NotEq{"status": string(models.InstallmentStatusWaived)}
	switch status {
	case models.InstallmentStatusWaived:
		return waived
	case models.InstallmentStatusPaid:
		return sq.And{open, sq.Expr("paid_amount >= amount")}
	case models.InstallmentStatusPartial:
		return sq.And{open, sq.Gt{"paid_amount": 0}, sq.Expr("paid_amount < amount")}
	case models.InstallmentStatusOverdue:
		return sq.And{open, sq.LtOrEq{"paid_amount": 0}, sq.Lt{"due_date": now}}
	case models.InstallmentStatusPending:
		return sq.And{open, sq.LtOrEq{"paid_amount": 0}, sq.GtOrEq{"due_date": now}}
	default:
		return sq.Eq{"status": string(status)}
	}
}

// InsertPayment appends a ledger row inside tx.
func (r *FinanceRepository) InsertPayment(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	const query = `INSERT INTO payments (id, installment_id, student_id, amount, method, reference, received_by, paid_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, payment.ID, payment.InstallmentID, payment.StudentID, payment.Amount,
		payment.Method, payment.Reference, payment.ReceivedBy, payment.PaidAt); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// ListPayments returns ledger rows for an installment.
func (r *FinanceRepository) ListPayments(ctx context.Context, installmentID string) ([]models.Payment, error) {
	const query = `SELECT id, installment_id, student_id, amount, method, reference, received_by, paid_at FROM payments WHERE installment_id = $1 ORDER BY paid_at`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, installmentID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// FindFinance returns the aggregate of a student semester.
func (r *FinanceRepository) FindFinance(ctx context.Context, tx *sqlx.Tx, studentID, year, semester string) (*models.StudentFinance, error) {
	const query = `SELECT ` + financeColumns + ` FROM student_finances WHERE student_id = $1 AND academic_year = $2 AND semester = $3`
	var finance models.StudentFinance
	if err := sqlx.GetContext(ctx, pick(r.db, tx), &finance, query, studentID, year, semester); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student finance: %w", err)
	}
	return &finance, nil
}

// ListFinances returns every aggregate of a student, newest first.
func (r *FinanceRepository) ListFinances(ctx context.Context, studentID string) ([]models.StudentFinance, error) {
	const query = `SELECT ` + financeColumns + ` FROM student_finances WHERE student_id = $1 ORDER BY academic_year DESC, semester DESC`
	var items []models.StudentFinance
	if err := r.db.SelectContext(ctx, &items, query, studentID); err != nil {
		return nil, fmt.Errorf("list student finances: %w", err)
	}
	return items, nil
}

// UpsertFinance stores the recomputed totals. Block fields are only written by Block/Unblock.
func (r *FinanceRepository) UpsertFinance(ctx context.Context, tx *sqlx.Tx, finance *models.StudentFinance) error {
	if finance.ID == "" {
		finance.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if finance.CreatedAt.IsZero() {
		finance.CreatedAt = now
	}
	finance.UpdatedAt = now
	const query = `INSERT INTO student_finances (id, student_id, academic_year, semester, total_fee_amount, total_paid_amount, outstanding_amount, payment_status, next_due_date, is_blocked, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11)
ON CONFLICT (student_id, academic_year, semester)
DO UPDATE SET total_fee_amount = EXCLUDED.total_fee_amount, total_paid_amount = EXCLUDED.total_paid_amount,
outstanding_amount = EXCLUDED.outstanding_amount, payment_status = EXCLUDED.payment_status,
next_due_date = EXCLUDED.next_due_date, updated_at = EXCLUDED.updated_at
RETURNING id`
	var id string
	if err := sqlx.GetContext(ctx, pick(r.db, tx), &id, query, finance.ID, finance.StudentID, finance.AcademicYear, finance.Semester,
		finance.TotalFeeAmount, finance.TotalPaidAmount, finance.OutstandingAmount, finance.PaymentStatus, finance.NextDueDate,
		finance.CreatedAt, finance.UpdatedAt); err != nil {
		return fmt.Errorf("upsert student finance: %w", err)
	}
	finance.ID = id
	return nil
}

// Block marks the aggregate blocked unless it already is. tx may be nil.
func (r *FinanceRepository) Block(ctx context.Context, tx *sqlx.Tx, id, reason string, at time.Time) (bool, error) {
	const query = `UPDATE student_finances SET is_blocked = TRUE, block_reason = $2, blocked_at = $3, updated_at = $3 WHERE id = $1 AND is_blocked = FALSE`
	res, err := pick(r.db, tx).ExecContext(ctx, query, id, reason, at)
	if err != nil {
		return false, fmt.Errorf("block student finance: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// Unblock clears the block flag.
func (r *FinanceRepository) Unblock(ctx context.Context, id string) error {
	const query = `UPDATE student_finances SET is_blocked = FALSE, block_reason = NULL, blocked_at = NULL, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("unblock student finance: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
