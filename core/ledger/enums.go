package ledger

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// TuitionStatus summarises how complete a Registration's payments are.
type TuitionStatus int

const (
	StatusUnpaid TuitionStatus = iota + 1
	StatusPartial
	StatusPaid
	StatusCancelled
)

var tuitionStatusNames = []string{"", "UNPAID", "PARTIAL", "PAID", "CANCELLED"}

func (s TuitionStatus) String() string { return enumName(tuitionStatusNames, int(s)) }

func (s TuitionStatus) MarshalText() ([]byte, error) { return marshalEnum(tuitionStatusNames, int(s), "TuitionStatus") }

func (s *TuitionStatus) UnmarshalText(text []byte) error {
	v, err := parseEnum(tuitionStatusNames, string(text), "TuitionStatus")
	*s = TuitionStatus(v)
	return err
}

func (s TuitionStatus) Value() (driver.Value, error) { return driverValue(tuitionStatusNames, int(s), "TuitionStatus") }

func (s *TuitionStatus) Scan(src interface{}) error {
	v, err := scanEnum(tuitionStatusNames, src, "TuitionStatus")
	*s = TuitionStatus(v)
	return err
}

// IsOpen reports whether payments are still owed (UNPAID or PARTIAL).
func (s TuitionStatus) IsOpen() bool { return s == StatusUnpaid || s == StatusPartial }

// PaymentStatus is the state of a single Transaction.
type PaymentStatus int

const (
	PaymentSuccess PaymentStatus = iota + 1
	PaymentFailed
	PaymentPending
	PaymentCancelled
)

var paymentStatusNames = []string{"", "SUCCESS", "FAILED", "PENDING", "CANCELLED"}

func (s PaymentStatus) String() string { return enumName(paymentStatusNames, int(s)) }

func (s PaymentStatus) MarshalText() ([]byte, error) { return marshalEnum(paymentStatusNames, int(s), "PaymentStatus") }

func (s *PaymentStatus) UnmarshalText(text []byte) error {
	v, err := parseEnum(paymentStatusNames, string(text), "PaymentStatus")
	*s = PaymentStatus(v)
	return err
}

func (s PaymentStatus) Value() (driver.Value, error) { return driverValue(paymentStatusNames, int(s), "PaymentStatus") }

func (s *PaymentStatus) Scan(src interface{}) error {
	v, err := scanEnum(paymentStatusNames, src, "PaymentStatus")
	*s = PaymentStatus(v)
	return err
}

// IsTerminal reports whether the transaction can no longer change.
func (s PaymentStatus) IsTerminal() bool { return s == PaymentFailed || s == PaymentCancelled }

// Method is how a payment was made.
type Method int

const (
	MethodCash Method = iota + 1
	MethodBanking
)

var methodNames = []string{"", "CASH", "BANKING"}

func (m Method) String() string { return enumName(methodNames, int(m)) }

func (m Method) MarshalText() ([]byte, error) { return marshalEnum(methodNames, int(m), "Method") }

func (m *Method) UnmarshalText(text []byte) error {
	v, err := parseEnum(methodNames, string(text), "Method")
	*m = Method(v)
	return err
}

func (m Method) Value() (driver.Value, error) { return driverValue(methodNames, int(m), "Method") }

func (m *Method) Scan(src interface{}) error {
	v, err := scanEnum(methodNames, src, "Method")
	*m = Method(v)
	return err
}

// ParseTuitionStatus parses a status name (case-insensitive).
func ParseTuitionStatus(s string) (TuitionStatus, error) {
	v, err := parseEnum(tuitionStatusNames, s, "TuitionStatus")
	return TuitionStatus(v), err
}

// ParsePaymentStatus parses a payment status name (case-insensitive).
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	v, err := parseEnum(paymentStatusNames, s, "PaymentStatus")
	return PaymentStatus(v), err
}

// ParseMethod parses a payment method name (case-insensitive).
func ParseMethod(s string) (Method, error) {
	v, err := parseEnum(methodNames, s, "Method")
	return Method(v), err
}

func enumName(names []string, v int) string {
	if v <= 0 || v >= len(names) {
		return fmt.Sprintf("INVALID(%d)", v)
	}
	return names[v]
}

func marshalEnum(names []string, v int, typ string) ([]byte, error) {
	if v <= 0 || v >= len(names) {
		return nil, fmt.Errorf("ledger: invalid %s %d", typ, v)
	}
	return []byte(names[v]), nil
}

func parseEnum(names []string, s, typ string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "CANCELED" { // both spellings are accepted
		s = "CANCELLED"
	}
	for i := 1; i < len(names); i++ {
		if names[i] == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("ledger: invalid %s %q", typ, s)
}

func driverValue(names []string, v int, typ string) (driver.Value, error) {
	b, err := marshalEnum(names, v, typ)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanEnum(names []string, src interface{}, typ string) (int, error) {
	switch val := src.(type) {
	case string:
		return parseEnum(names, val, typ)
	case []byte:
		return parseEnum(names, string(val), typ)
	default:
		return 0, fmt.Errorf("ledger: cannot scan %T into %s", src, typ)
	}
}
