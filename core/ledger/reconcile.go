package ledger

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultTolerance absorbs rounding left over by percentage payments.
var DefaultTolerance = decimal.NewFromInt(1000)

// Policy holds the tunable reconciliation rules.
type Policy struct {
	Tolerance          decimal.Decimal
	CancelOnFullRevert bool
}

// Payment is a validated payment ready to be applied to a Registration.
type Payment struct {
	Amount     decimal.Decimal
	Method     Method
	Content    string
	Date       time.Time // zero means now
	OperatorID *int64
	Reference  string
}

// DeriveStatus computes the tuition status of an active registration.
func DeriveStatus(actual, paid, tolerance decimal.Decimal) TuitionStatus {
	if !paid.IsPositive() {
		return StatusUnpaid
	}
	if actual.Sub(paid).LessThanOrEqual(tolerance) {
		return StatusPaid
	}
	return StatusPartial
}

// DefaultContent is the note recorded on a payment when the operator leaves it empty.
func DefaultContent(date time.Time) string {
	return fmt.Sprintf("Tuition installment %s", date.Format("02/01"))
}

// ApplyPayment records a payment against reg and returns the updated copy of reg, the new SUCCESS
// transaction and the outcome. reg is never modified; on error nothing is produced.
func ApplyPayment(reg Registration, p Payment, policy Policy, now time.Time) (Registration, Transaction, Outcome, error) {
	if reg.IsCancelled() || !reg.IsActive {
		return reg, Transaction{}, Outcome{}, ErrRegistrationCancelled
	}
	if !p.Amount.IsPositive() {
		return reg, Transaction{}, Outcome{}, ErrInvalidAmount
	}
	debt := reg.Debt()
	if !debt.IsPositive() {
		return reg, Transaction{}, Outcome{}, ErrAlreadySettled
	}
	if p.Amount.GreaterThan(debt.Add(policy.Tolerance)) {
		return reg, Transaction{}, Outcome{}, errors.Wrapf(ErrOverpaymentRejected, "paying %s, remaining %s", p.Amount, debt)
	}

	date := p.Date
	if date.IsZero() {
		date = now
	}
	content := p.Content
	if content == "" {
		content = DefaultContent(date)
	}
	tx := Transaction{
		RegistrationID: reg.ID,
		Reference:      p.Reference,
		Money:          p.Amount,
		Method:         p.Method,
		Status:         PaymentSuccess,
		Content:        content,
		Date:           date,
		OperatorID:     p.OperatorID,
		CreatedAt:      now,
	}

	reg.Paid = reg.Paid.Add(p.Amount)
	reg.Status = DeriveStatus(reg.ActualTuition, reg.Paid, policy.Tolerance)
	reg.UpdatedAt = now

	outcome := Outcome{Kind: OutcomeSettled, Remaining: decimal.Zero}
	if reg.Status != StatusPaid {
		outcome = Outcome{Kind: OutcomePartialRemaining, Remaining: reg.Debt()}
	}
	return reg, tx, outcome, nil
}

// RevertPayment takes amount back out of reg, clamping paid at zero. The status of a cancelled
// registration is left untouched.
func RevertPayment(reg Registration, amount decimal.Decimal, policy Policy, now time.Time) (Registration, error) {
	if amount.IsNegative() {
		return reg, ErrInvalidAmount
	}
	reg.Paid = decimal.Max(decimal.Zero, reg.Paid.Sub(amount))
	if !reg.IsCancelled() {
		reg.Status = DeriveStatus(reg.ActualTuition, reg.Paid, policy.Tolerance)
	}
	reg.UpdatedAt = now
	return reg, nil
}

// CancelRegistration cancels reg and every SUCCESS or PENDING transaction it owns. Only the
// transactions that changed are returned.
func CancelRegistration(reg Registration, txs []Transaction, now time.Time) (Registration, []Transaction, error) {
	if reg.IsCancelled() {
		return reg, nil, ErrRegistrationCancelled
	}

	var changed []Transaction
	for _, tx := range txs {
		if tx.RegistrationID != reg.ID {
			continue
		}
		if tx.Status == PaymentSuccess || tx.Status == PaymentPending {
			tx.Status = PaymentCancelled
			tx.CancelledAt = timePtr(now)
			changed = append(changed, tx)
		}
	}

	reg.Status = StatusCancelled
	reg.IsActive = false
	reg.Paid = decimal.Zero
	reg.CancelledAt = timePtr(now)
	reg.UpdatedAt = now
	return reg, changed, nil
}

// CancelTransaction marks tx as CANCELLED and reverts its money from reg when it had succeeded.
func CancelTransaction(reg Registration, tx Transaction, policy Policy, now time.Time) (Registration, Transaction, error) {
	if tx.RegistrationID != reg.ID {
		return reg, tx, errors.Wrap(ErrNotFound, "transaction does not belong to registration")
	}
	if tx.Status.IsTerminal() {
		return reg, tx, ErrTransactionClosed
	}

	if tx.Status == PaymentSuccess {
		var err error
		if reg, err = RevertPayment(reg, tx.Money, policy, now); err != nil {
			return reg, tx, err
		}
	}
	tx.Status = PaymentCancelled
	tx.CancelledAt = timePtr(now)
	return reg, tx, nil
}

// Audit checks the stored balance of reg against its transactions.
func Audit(reg Registration, txs []Transaction, policy Policy) AuditReport {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.RegistrationID == reg.ID && tx.Status == PaymentSuccess {
			total = total.Add(tx.Money)
		}
	}

	expected := StatusCancelled
	if !reg.IsCancelled() {
		expected = DeriveStatus(reg.ActualTuition, reg.Paid, policy.Tolerance)
	}

	report := AuditReport{
		RegistrationID: reg.ID,
		Paid:           reg.Paid,
		SuccessTotal:   total,
		Status:         reg.Status,
		ExpectedStatus: expected,
	}
	if !reg.Paid.Equal(total) {
		report.Problems = append(report.Problems, fmt.Sprintf("paid %s does not match successful payments %s", reg.Paid, total))
	}
	if reg.Paid.IsNegative() {
		report.Problems = append(report.Problems, "paid is negative")
	}
	if reg.Status != expected {
		report.Problems = append(report.Problems, fmt.Sprintf("status %s, expected %s", reg.Status, expected))
	}
	if reg.IsCancelled() == reg.IsActive {
		report.Problems = append(report.Problems, "active flag disagrees with status")
	}
	return report
}

func timePtr(t time.Time) *time.Time {
	return &t
}
