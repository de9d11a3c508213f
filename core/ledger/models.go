package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Registration is a student's enrollment in a class together with its tuition balance.
type Registration struct {
	ID            int64           `json:"id"`
	StudentID     int64           `json:"student_id"`
	ClassID       int64           `json:"class_id"`
	ActualTuition decimal.Decimal `json:"actual_tuition"`
	Paid          decimal.Decimal `json:"paid"`
	Status        TuitionStatus   `json:"status"`
	IsActive      bool            `json:"is_active"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
}

// Debt is the amount still owed; it may be negative when a payment within tolerance overshot.
func (r Registration) Debt() decimal.Decimal {
	return r.ActualTuition.Sub(r.Paid)
}

func (r Registration) IsCancelled() bool {
	return r.Status == StatusCancelled
}

// Transaction is one payment made against a Registration.
type Transaction struct {
	ID             int64           `json:"id"`
	RegistrationID int64           `json:"registration_id"`
	Reference      string          `json:"reference"`
	Money          decimal.Decimal `json:"money"`
	Method         Method          `json:"method"`
	Status         PaymentStatus   `json:"status"`
	Content        string          `json:"content"`
	Date           time.Time       `json:"date"`
	OperatorID     *int64          `json:"operator_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// RegistrationDetail is the read model shown on the invoice screens.
type RegistrationDetail struct {
	Registration
	StudentName  string          `json:"student_name"`
	StudentEmail string          `json:"student_email"`
	StudentPhone string          `json:"student_phone"`
	ClassName    string          `json:"class_name"`
	CourseName   string          `json:"course_name"`
	LevelName    string          `json:"level_name"`
	ClassStart   time.Time       `json:"class_start"`
	Remaining    decimal.Decimal `json:"remaining"`
	Transactions []Transaction   `json:"transactions,omitempty"`
}

type OutcomeKind int

const (
	OutcomeSettled OutcomeKind = iota + 1
	OutcomePartialRemaining
)

func (k OutcomeKind) MarshalText() ([]byte, error) {
	switch k {
	case OutcomeSettled:
		return []byte("settled"), nil
	case OutcomePartialRemaining:
		return []byte("partial_remaining"), nil
	}
	return nil, fmt.Errorf("ledger: invalid OutcomeKind %d", k)
}

// Outcome tells the operator whether the registration is settled or how much remains.
type Outcome struct {
	Kind      OutcomeKind     `json:"kind"`
	Remaining decimal.Decimal `json:"remaining"`
}

func (o Outcome) Message() string {
	if o.Kind == OutcomeSettled {
		return "Tuition fully paid."
	}
	return fmt.Sprintf("Payment recorded, %s remaining.", o.Remaining.StringFixedBank(0))
}

// Receipt is returned by every successful payment.
type Receipt struct {
	Registration Registration `json:"registration"`
	Transaction  Transaction  `json:"transaction"`
	Outcome      Outcome      `json:"outcome"`
	Message      string       `json:"message"`
}

// CancelResult is returned when a single transaction is cancelled.
type CancelResult struct {
	Registration Registration `json:"registration"`
	Transaction  Transaction  `json:"transaction"`
	// RegistrationCancelled is set when the cancellation emptied the registration and it was cancelled too.
	RegistrationCancelled bool `json:"registration_cancelled"`
}

// AuditReport compares a registration's stored balance against its transactions.
type AuditReport struct {
	RegistrationID int64           `json:"registration_id"`
	Paid           decimal.Decimal `json:"paid"`
	SuccessTotal   decimal.Decimal `json:"success_total"`
	Status         TuitionStatus   `json:"status"`
	ExpectedStatus TuitionStatus   `json:"expected_status"`
	Problems       []string        `json:"problems,omitempty"`
}

func (ar AuditReport) OK() bool {
	return len(ar.Problems) == 0
}

type NewRegistration struct {
	StudentID int64 `json:"student_id" validate:"required"`
	ClassID   int64 `json:"class_id" validate:"required"`
}

type NewPayment struct {
	Amount  decimal.Decimal `json:"amount" validate:"money"`
	Method  Method          `json:"method" validate:"required"`
	Content string          `json:"content" validate:"omitempty,max=255"`
	Date    *time.Time      `json:"date"` // backdate; defaults to now
}

// NewCheckout is a student's self-service enrollment and payment of 50% or 100% of the tuition.
type NewCheckout struct {
	ClassID int64           `json:"class_id" validate:"required"`
	Percent int             `json:"payment_percent" validate:"required,oneof=50 100"`
	Money   decimal.Decimal `json:"money" validate:"money"`
	Method  Method          `json:"method" validate:"required"`
	Name    string          `json:"name" validate:"omitempty,max=100"`
	Phone   string          `json:"phone" validate:"omitempty,max=20"`
}

type RegistrationFilter struct {
	Search    string
	StudentID int64
	ClassID   int64
	Statuses  []TuitionStatus
	// ActiveOnly hides cancelled registrations.
	ActiveOnly bool
}

type TransactionFilter struct {
	RegistrationID int64
	// Search does a case-insensitive match on the student's name or phone number and the transaction content.
	Search   string
	Statuses []PaymentStatus
	Methods  []Method
	// DateFrom and DateTo bound the payment date, both inclusive; zero values are ignored.
	DateFrom time.Time
	DateTo   time.Time
}
