package ledger

import "errors"

var (
	ErrNotFound              = errors.New("ledger: not found")
	ErrAlreadySettled        = errors.New("ledger: registration is already settled")
	ErrOverpaymentRejected   = errors.New("ledger: amount exceeds the remaining tuition")
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")
	ErrRegistrationCancelled = errors.New("ledger: registration is cancelled")
	ErrTransactionClosed     = errors.New("ledger: transaction is already cancelled or failed")
	ErrPersistenceConflict   = errors.New("ledger: concurrent update, please retry")
	ErrClassFull             = errors.New("ledger: class is full")
	ErrAlreadyEnrolled       = errors.New("ledger: student is already enrolled in this class")
	ErrInvalidCheckout       = errors.New("ledger: checkout amount does not match the selected percentage")
	ErrNotAStudent           = errors.New("ledger: user is not an active student")
)
