package models

import (
	"math"
	"time"
)

// InstallmentStatus is the derived state of a fee installment.
type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPartial InstallmentStatus = "partial"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusOverdue InstallmentStatus = "overdue"
	InstallmentStatusWaived  InstallmentStatus = "waived"
)

// PaymentStatus summarises a student's finance aggregate.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusOverdue PaymentStatus = "overdue"
)

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodCard         PaymentMethod = "card"
)

// ToMinor converts an amount to integer minor units (cents).
func ToMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(minor int64) float64 {
	return float64(minor) / 100
}

// DeriveInstallmentStatus returns the state of an installment at now.
// Order matters: waived wins, then fully paid, then partial, then overdue.
func DeriveInstallmentStatus(paid, amount float64, due, now time.Time, waived bool) InstallmentStatus {
	switch {
	case waived:
		return InstallmentStatusWaived
	case ToMinor(paid) >= ToMinor(amount):
		return InstallmentStatusPaid
	case ToMinor(paid) > 0:
		return InstallmentStatusPartial
	case now.After(due):
		return InstallmentStatusOverdue
	default:
		return InstallmentStatusPending
	}
}

// FeeInstallment is one scheduled portion of a student's fees.
type FeeInstallment struct {
	ID                string            `db:"id" json:"id"`
	StudentID         string            `db:"student_id" json:"student_id"`
	AcademicYear      string            `db:"academic_year" json:"academic_year"`
	Semester          string            `db:"semester" json:"semester"`
	InstallmentNumber int               `db:"installment_number" json:"installment_number"`
	TotalInstallments int               `db:"total_installments" json:"total_installments"`
	Amount            float64           `db:"amount" json:"amount"`
	PaidAmount        float64           `db:"paid_amount" json:"paid_amount"`
	DueDate           time.Time         `db:"due_date" json:"due_date"`
	PaidDate          *time.Time        `db:"paid_date" json:"paid_date,omitempty"`
	Status            InstallmentStatus `db:"status" json:"status"`
	Description       *string           `db:"description" json:"description,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// Remaining returns the unpaid balance in minor units.
func (i *FeeInstallment) Remaining() int64 {
	rest := ToMinor(i.Amount) - ToMinor(i.PaidAmount)
	if rest < 0 {
		return 0
	}
	return rest
}

// Refresh relabels the installment at now. Overdue is a read-time label only.
func (i *FeeInstallment) Refresh(now time.Time) {
	i.Status = DeriveInstallmentStatus(i.PaidAmount, i.Amount, i.DueDate, now, i.Status == InstallmentStatusWaived)
}

// InstallmentFilter scopes installment listings.
type InstallmentFilter struct {
	StudentID    string
	AcademicYear string
	Semester     string
	Status       InstallmentStatus
	Now          time.Time // reference time for derived status filters
	Page         int
	PageSize     int
}

// Payment is a ledger row written for every applied payment.
type Payment struct {
	ID            string        `db:"id" json:"id"`
	InstallmentID string        `db:"installment_id" json:"installment_id"`
	StudentID     string        `db:"student_id" json:"student_id"`
	Amount        float64       `db:"amount" json:"amount"`
	Method        PaymentMethod `db:"method" json:"method"`
	Reference     *string       `db:"reference" json:"reference,omitempty"`
	ReceivedBy    *string       `db:"received_by" json:"received_by,omitempty"`
	PaidAt        time.Time     `db:"paid_at" json:"paid_at"`
}

// StudentFinance aggregates a student's fees for a semester.
type StudentFinance struct {
	ID                string        `db:"id" json:"id"`
	StudentID         string        `db:"student_id" json:"student_id"`
	AcademicYear      string        `db:"academic_year" json:"academic_year"`
	Semester          string        `db:"semester" json:"semester"`
	TotalFeeAmount    float64       `db:"total_fee_amount" json:"total_fee_amount"`
	TotalPaidAmount   float64       `db:"total_paid_amount" json:"total_paid_amount"`
	OutstandingAmount float64       `db:"outstanding_amount" json:"outstanding_amount"`
	PaymentStatus     PaymentStatus `db:"payment_status" json:"payment_status"`
	NextDueDate       *time.Time    `db:"next_due_date" json:"next_due_date,omitempty"`
	IsBlocked         bool          `db:"is_blocked" json:"is_blocked"`
	BlockReason       *string       `db:"block_reason" json:"block_reason,omitempty"`
	BlockedAt         *time.Time    `db:"blocked_at" json:"blocked_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// Recompute rebuilds totals, status and next due date from installments at now.
// Block fields are left untouched.
func (f *StudentFinance) Recompute(installments []FeeInstallment, now time.Time) {
	var total, paid int64
	var next *time.Time
	overdue := false
	for idx := range installments {
		inst := installments[idx]
		inst.Refresh(now)
		if inst.Status == InstallmentStatusWaived {
			continue
		}
		total += ToMinor(inst.Amount)
		paid += ToMinor(inst.PaidAmount)
		if inst.Status == InstallmentStatusPaid {
			continue
		}
		if inst.Status == InstallmentStatusOverdue {
			overdue = true
		}
		if next == nil || inst.DueDate.Before(*next) {
			due := inst.DueDate
			next = &due
		}
	}
	f.TotalFeeAmount = FromMinor(total)
	f.TotalPaidAmount = FromMinor(paid)
	outstanding := total - paid
	if outstanding < 0 {
		outstanding = 0
	}
	f.OutstandingAmount = FromMinor(outstanding)
	f.NextDueDate = next
	switch {
	case outstanding == 0:
		f.PaymentStatus = PaymentStatusPaid
	case overdue:
		f.PaymentStatus = PaymentStatusOverdue
	case paid > 0:
		f.PaymentStatus = PaymentStatusPartial
	default:
		f.PaymentStatus = PaymentStatusPending
	}
}

// ShouldAutoBlock reports whether the grace period after the next due date has elapsed.
func (f *StudentFinance) ShouldAutoBlock(now time.Time, grace time.Duration) bool {
	if f.IsBlocked || f.NextDueDate == nil || f.OutstandingAmount <= 0 {
		return false
	}
	return now.After(f.NextDueDate.Add(grace))
}

// FinanceSummary is returned by the summary endpoint.
type FinanceSummary struct {
	Finance      StudentFinance   `json:"finance"`
	Installments []FeeInstallment `json:"installments"`
	Currency     string           `json:"currency"`
}

// InstallmentPlanRequest creates N installments for a student semester.
type InstallmentPlanRequest struct {
	StudentID         string    `json:"student_id" validate:"required"`
	AcademicYear      string    `json:"academic_year" validate:"required"`
	Semester          string    `json:"semester" validate:"required"`
	TotalAmount       float64   `json:"total_amount" validate:"gt=0"`
	TotalInstallments int       `json:"total_installments" validate:"min=1,max=24"`
	FirstDueDate      time.Time `json:"first_due_date" validate:"required"`
	IntervalDays      int       `json:"interval_days" validate:"min=1"`
	Description       string    `json:"description"`
}

// ApplyPaymentRequest records a payment against an installment.
type ApplyPaymentRequest struct {
	Amount    float64       `json:"amount" validate:"gt=0"`
	Method    PaymentMethod `json:"method" validate:"required,oneof=cash bank_transfer mobile_money card"`
	Reference string        `json:"reference"`
}

// PaymentResult returns the updated installment and aggregate after a payment.
type PaymentResult struct {
	Installment FeeInstallment `json:"installment"`
	Payment     Payment        `json:"payment"`
	Finance     StudentFinance `json:"finance"`
}
