package echoapi_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
	emailsvc "github.com/anquinko/tuition/services/email"
	testutil "github.com/anquinko/tuition/tests"
)

type ledgerEnv struct {
	*env
	admin   user.User
	cashier user.User
	student user.User
	class   catalog.ClassDetail
}

func setupLedger(t *testing.T, tuition int64, maxStudents int) *ledgerEnv {
	e := &ledgerEnv{env: setup(t)}
	e.admin = testutil.CreateUser(t, e.usrRepo, "Admin", "admin", "admin@test.vn", "", []string{user.RoleAdmin}, true)
	e.cashier = testutil.CreateUser(t, e.usrRepo, "Cashier", "cashier", "cashier@test.vn", "", []string{user.RoleCashier}, true)
	e.student = testutil.CreateUser(t, e.usrRepo, "Nguyen Van A", "vana", "vana@test.vn", "", []string{user.RoleStudent}, true)
	e.class = e.newClass(t, tuition, maxStudents)
	return e
}

func paymentBody(t *testing.T, amount, method string) []byte {
	return marchallObj(t, map[string]string{"amount": amount, "method": method})
}

func Test_ledgerApi_enroll(t *testing.T) {
	e := setupLedger(t, 2000000, 1)
	other := testutil.CreateUser(t, e.usrRepo, "Tran Thi B", "thib", "thib@test.vn", "", []string{user.RoleStudent}, true)
	cashierToken := e.token(t, e.cashier)

	body := func(studentID, classID int64) []byte {
		return marchallObj(t, ledger.NewRegistration{StudentID: studentID, ClassID: classID})
	}

	reqMsg := "this field is required"
	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Student cannot enroll others", token: e.token(t, e.student), body: body(e.student.ID, e.class.ID),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "required fields", token: cashierToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"student_id": reqMsg, "class_id": reqMsg}),
		},
		{
			name: "unknown class", token: cashierToken, body: body(e.student.ID, 999),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "not a student", token: cashierToken, body: body(e.cashier.ID, e.class.ID),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "user is not an active student"}),
		},
		{name: "enrolled", token: cashierToken, body: body(e.student.ID, e.class.ID), wantCode: http.StatusCreated},
		{
			name: "already enrolled", token: cashierToken, body: body(e.student.ID, e.class.ID),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "student is already enrolled in this class"}),
		},
		{
			name: "class full", token: cashierToken, body: body(other.ID, e.class.ID),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "class is full"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/registrations"

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusCreated {
				var reg ledger.Registration
				unmarchall(t, rec, &reg)
				assert.Equal(t, ledger.StatusUnpaid, reg.Status)
				assert.True(t, reg.ActualTuition.Equal(decimal.NewFromInt(2000000)))
				assert.True(t, reg.Paid.IsZero())
			}
		})
	}
}

func Test_ledgerApi_applyPayment(t *testing.T) {
	e := setupLedger(t, 2000000, 0)
	cashierToken := e.token(t, e.cashier)
	reg := testutil.CreateRegistration(t, e.store, e.student.ID, e.class.ID, decimal.NewFromInt(2000000), decimal.Zero, ledger.StatusUnpaid)
	path := fmt.Sprintf("/v1/registrations/%d/payments", reg.ID)

	tests := []struct {
		httpTest
		wantKind      string
		wantPaid      int64
		wantStatus    ledger.TuitionStatus
		wantRemaining int64
	}{
		{httpTest: httpTest{name: "Auth required", path: path, wantCode: http.StatusUnauthorized}},
		{
			httpTest: httpTest{
				name: "Student forbidden", path: path, token: e.token(t, e.student),
				body: paymentBody(t, "1000000", "CASH"), wantCode: http.StatusForbidden,
			},
		},
		{
			httpTest: httpTest{
				name: "unknown registration", path: "/v1/registrations/999/payments", token: cashierToken,
				body: paymentBody(t, "1000000", "CASH"), wantCode: http.StatusNotFound,
			},
		},
		{
			httpTest: httpTest{
				name: "invalid amount", path: path, token: cashierToken,
				body: paymentBody(t, "-5", "CASH"), wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"amount": "amount must be a positive amount"}),
			},
		},
		{
			httpTest: httpTest{
				name: "invalid method", path: path, token: cashierToken,
				body: paymentBody(t, "1000000", "lol"), wantCode: http.StatusBadRequest,
			},
		},
		{
			httpTest: httpTest{
				name: "overpayment", path: path, token: cashierToken,
				body: paymentBody(t, "2500000", "CASH"), wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, httpErr{Error: "amount exceeds the remaining tuition"}),
			},
		},
		{
			httpTest: httpTest{name: "first installment", path: path, token: cashierToken, body: paymentBody(t, "1200000", "cash"), wantCode: http.StatusCreated},
			wantKind: "partial_remaining", wantPaid: 1200000, wantStatus: ledger.StatusPartial, wantRemaining: 800000,
		},
		{
			httpTest: httpTest{name: "settled", path: path, token: cashierToken, body: paymentBody(t, "800000", "BANKING"), wantCode: http.StatusCreated},
			wantKind: "settled", wantPaid: 2000000, wantStatus: ledger.StatusPaid,
		},
		{
			httpTest: httpTest{
				name: "already settled", path: path, token: cashierToken,
				body: paymentBody(t, "500", "CASH"), wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, httpErr{Error: "registration is already settled"}),
			},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.httpTest)
			checkCodeAndData(t, tt.httpTest, rec)

			if tt.wantCode == http.StatusCreated {
				var r receipt
				unmarchall(t, rec, &r)
				assert.Equal(t, tt.wantKind, r.Outcome.Kind)
				assert.Equal(t, tt.wantStatus, r.Registration.Status)
				assert.True(t, r.Registration.Paid.Equal(decimal.NewFromInt(tt.wantPaid)), "paid = %s", r.Registration.Paid)
				assert.True(t, r.Outcome.Remaining.Equal(decimal.NewFromInt(tt.wantRemaining)), "remaining = %s", r.Outcome.Remaining)
				assert.Equal(t, ledger.PaymentSuccess, r.Transaction.Status)
				assert.NotEmpty(t, r.Transaction.Reference)
				require.NotNil(t, r.Transaction.OperatorID)
				assert.Equal(t, e.cashier.ID, *r.Transaction.OperatorID)
			}
		})
	}
}

func Test_ledgerApi_cancelTransaction(t *testing.T) {
	e := setupLedger(t, 2000000, 0)
	cashierToken := e.token(t, e.cashier)
	reg := testutil.CreateRegistration(t, e.store, e.student.ID, e.class.ID, decimal.NewFromInt(2000000), decimal.Zero, ledger.StatusUnpaid)

	pay := func(amount string) ledger.Transaction {
		rec := e.do(t, httpTest{
			method: http.MethodPost, path: fmt.Sprintf("/v1/registrations/%d/payments", reg.ID),
			token: cashierToken, body: paymentBody(t, amount, "CASH"),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var r receipt
		unmarchall(t, rec, &r)
		return r.Transaction
	}
	first := pay("500000")
	second := pay("700000")

	type cancelResult struct {
		Registration          ledger.Registration `json:"registration"`
		Transaction           ledger.Transaction  `json:"transaction"`
		RegistrationCancelled bool                `json:"registration_cancelled"`
	}
	tests := []struct {
		httpTest
		wantPaid      int64
		wantStatus    ledger.TuitionStatus
		wantCancelled bool
	}{
		{httpTest: httpTest{name: "Auth required", path: fmt.Sprintf("/v1/transactions/%d", first.ID), wantCode: http.StatusUnauthorized}},
		{httpTest: httpTest{name: "Student forbidden", path: fmt.Sprintf("/v1/transactions/%d", first.ID), token: e.token(t, e.student), wantCode: http.StatusForbidden}},
		{httpTest: httpTest{name: "unknown transaction", path: "/v1/transactions/999", token: cashierToken, wantCode: http.StatusNotFound}},
		{httpTest: httpTest{name: "non numeric id", path: "/v1/transactions/lol", token: cashierToken, wantCode: http.StatusNotFound}},
		{
			httpTest: httpTest{name: "revert second", path: fmt.Sprintf("/v1/transactions/%d", second.ID), token: cashierToken, wantCode: http.StatusOK},
			wantPaid: 500000, wantStatus: ledger.StatusPartial,
		},
		{
			httpTest: httpTest{
				name: "second already cancelled", path: fmt.Sprintf("/v1/transactions/%d", second.ID), token: cashierToken,
				wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "transaction is already cancelled or failed"}),
			},
		},
		{
			httpTest: httpTest{name: "revert first cancels registration", path: fmt.Sprintf("/v1/transactions/%d", first.ID), token: cashierToken, wantCode: http.StatusOK},
			wantPaid: 0, wantStatus: ledger.StatusCancelled, wantCancelled: true,
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodDelete

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.httpTest)
			checkCodeAndData(t, tt.httpTest, rec)

			if tt.wantCode == http.StatusOK {
				var res cancelResult
				unmarchall(t, rec, &res)
				assert.Equal(t, ledger.PaymentCancelled, res.Transaction.Status)
				assert.NotNil(t, res.Transaction.CancelledAt)
				assert.True(t, res.Registration.Paid.Equal(decimal.NewFromInt(tt.wantPaid)), "paid = %s", res.Registration.Paid)
				assert.Equal(t, tt.wantStatus, res.Registration.Status)
				assert.Equal(t, tt.wantCancelled, res.RegistrationCancelled)
			}
		})
	}
}

func Test_ledgerApi_revertPayment(t *testing.T) {
	e := setupLedger(t, 2000000, 0)
	cashierToken := e.token(t, e.cashier)
	reg := testutil.CreateRegistration(t, e.store, e.student.ID, e.class.ID, decimal.NewFromInt(2000000), decimal.Zero, ledger.StatusUnpaid)
	rec := e.do(t, httpTest{
		method: http.MethodPost, path: fmt.Sprintf("/v1/registrations/%d/payments", reg.ID),
		token: cashierToken, body: paymentBody(t, "2000000", "BANKING"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	path := fmt.Sprintf("/v1/registrations/%d/revert", reg.ID)
	amount := func(a string) []byte { return marchallObj(t, map[string]string{"amount": a}) }

	tests := []httpTest{
		{name: "no payment of that amount", path: path, token: cashierToken, body: amount("100"), wantCode: http.StatusNotFound},
		{
			name: "invalid amount", path: path, token: cashierToken, body: amount("0"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"amount": "amount must be a positive amount"}),
		},
		{name: "reverted", path: path, token: cashierToken, body: amount("2000000"), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var got ledger.Registration
				unmarchall(t, rec, &got)
				assert.True(t, got.Paid.IsZero())
				assert.Equal(t, ledger.StatusUnpaid, got.Status)
				assert.True(t, got.IsActive)
			}
		})
	}
}

func Test_ledgerApi_cancelRegistration(t *testing.T) {
	e := setupLedger(t, 2000000, 0)
	reg := testutil.CreateRegistration(t, e.store, e.student.ID, e.class.ID, decimal.NewFromInt(2000000), decimal.Zero, ledger.StatusUnpaid)
	path := fmt.Sprintf("/v1/registrations/%d/cancel", reg.ID)
	adminToken := e.token(t, e.admin)

	tests := []httpTest{
		{name: "Cashier forbidden", path: path, token: e.token(t, e.cashier), wantCode: http.StatusForbidden},
		{name: "unknown registration", path: "/v1/registrations/999/cancel", token: adminToken, wantCode: http.StatusNotFound},
		{name: "cancelled", path: path, token: adminToken, wantCode: http.StatusOK},
		{
			name: "already cancelled", path: path, token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "registration is cancelled"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var got ledger.Registration
				unmarchall(t, rec, &got)
				assert.Equal(t, ledger.StatusCancelled, got.Status)
				assert.False(t, got.IsActive)
				assert.NotNil(t, got.CancelledAt)
			}
		})
	}
}

func Test_ledgerApi_checkout(t *testing.T) {
	e := setupLedger(t, 2000000, 0)
	studentToken := e.token(t, e.student)

	body := func(percent int, money string) []byte {
		return marchallObj(t, map[string]interface{}{
			"class_id":        e.class.ID,
			"payment_percent": percent,
			"money":           money,
			"method":          "BANKING",
			"phone":           "0901234567",
		})
	}

	tests := []struct {
		httpTest
		wantKind string
	}{
		{httpTest: httpTest{name: "Cashier cannot self checkout", token: e.token(t, e.cashier), body: body(50, "1000000"), wantCode: http.StatusForbidden}},
		{
			httpTest: httpTest{
				name: "invalid percent", token: studentToken, body: body(30, "600000"), wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"payment_percent": "payment_percent must be one of [50 100]"}),
			},
		},
		{
			httpTest: httpTest{
				name: "money does not match percent", token: studentToken, body: body(50, "900000"), wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, httpErr{Error: "checkout amount does not match the selected percentage"}),
			},
		},
		{httpTest: httpTest{name: "half", token: studentToken, body: body(50, "1000000"), wantCode: http.StatusCreated}, wantKind: "partial_remaining"},
		{httpTest: httpTest{name: "other half", token: studentToken, body: body(50, "1000000"), wantCode: http.StatusCreated}, wantKind: "settled"},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/checkout"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ClearSentMessages()

			rec := e.do(t, tt.httpTest)
			checkCodeAndData(t, tt.httpTest, rec)

			if tt.wantCode != http.StatusCreated {
				assert.Empty(t, emailsvc.SentMessages)
				return
			}
			var r receipt
			unmarchall(t, rec, &r)
			assert.Equal(t, tt.wantKind, r.Outcome.Kind)
			assert.Equal(t, e.student.ID, r.Registration.StudentID)
			assert.Equal(t, ledger.MethodBanking, r.Transaction.Method)
			require.Len(t, emailsvc.SentMessages, 1)
			assert.Equal(t, e.student.Email, emailsvc.SentMessages[0].To[0].Address)
		})
	}
}

func Test_ledgerApi_queries(t *testing.T) {
	e := setupLedger(t, 2000000, 0)
	cashierToken := e.token(t, e.cashier)
	other := testutil.CreateUser(t, e.usrRepo, "Tran Thi B", "thib", "thib@test.vn", "", []string{user.RoleStudent}, true)

	unpaid := testutil.CreateRegistration(t, e.store, e.student.ID, e.class.ID, decimal.NewFromInt(2000000), decimal.Zero, ledger.StatusUnpaid)
	paid := testutil.CreateRegistration(t, e.store, other.ID, e.class.ID, decimal.NewFromInt(2000000), decimal.Zero, ledger.StatusUnpaid)
	rec := e.do(t, httpTest{
		method: http.MethodPost, path: fmt.Sprintf("/v1/registrations/%d/payments", paid.ID),
		token: cashierToken, body: paymentBody(t, "2000000", "CASH"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		httpTest
		wantRegIDs []int64
		wantTxs    int
	}{
		{httpTest: httpTest{name: "Student forbidden", path: "/v1/registrations", token: e.token(t, e.student), wantCode: http.StatusForbidden}},
		{httpTest: httpTest{name: "all registrations", path: "/v1/registrations", token: cashierToken, wantCode: http.StatusOK}, wantRegIDs: []int64{unpaid.ID, paid.ID}},
		{httpTest: httpTest{name: "unpaid", path: "/v1/registrations?unpaid=true", token: cashierToken, wantCode: http.StatusOK}, wantRegIDs: []int64{unpaid.ID}},
		{httpTest: httpTest{name: "status=paid", path: "/v1/registrations?status=paid", token: cashierToken, wantCode: http.StatusOK}, wantRegIDs: []int64{paid.ID}},
		{httpTest: httpTest{name: "search by name", path: "/v1/registrations?search=tran", token: cashierToken, wantCode: http.StatusOK}, wantRegIDs: []int64{paid.ID}},
		{httpTest: httpTest{name: "invalid status", path: "/v1/registrations?status=lol", token: cashierToken, wantCode: http.StatusBadRequest}},
		{httpTest: httpTest{name: "transactions", path: "/v1/transactions", token: cashierToken, wantCode: http.StatusOK}, wantTxs: 1},
		{
			httpTest: httpTest{name: "transactions by method", path: "/v1/transactions?method=banking", token: cashierToken, wantCode: http.StatusOK},
			wantTxs:  0,
		},
		{httpTest: httpTest{name: "invalid method", path: "/v1/transactions?method=lol", token: cashierToken, wantCode: http.StatusBadRequest}},
		{httpTest: httpTest{name: "transactions by student", path: "/v1/transactions?search=tran", token: cashierToken, wantCode: http.StatusOK}, wantTxs: 1},
		{httpTest: httpTest{name: "transactions of another student", path: "/v1/transactions?search=nguyen", token: cashierToken, wantCode: http.StatusOK}, wantTxs: 0},
		{httpTest: httpTest{name: "transactions since", path: "/v1/transactions?date_from=2000-01-01", token: cashierToken, wantCode: http.StatusOK}, wantTxs: 1},
		{httpTest: httpTest{name: "transactions until", path: "/v1/transactions?date_to=2000-01-01", token: cashierToken, wantCode: http.StatusOK}, wantTxs: 0},
		{httpTest: httpTest{name: "invalid date", path: "/v1/transactions?date_from=lol", token: cashierToken, wantCode: http.StatusBadRequest}},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.httpTest)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}

			if tt.wantRegIDs != nil {
				var regs []ledger.RegistrationDetail
				unmarchall(t, rec, &regs)
				got := make([]int64, 0, len(regs))
				for _, r := range regs {
					got = append(got, r.ID)
				}
				assert.ElementsMatch(t, tt.wantRegIDs, got)
				return
			}
			var txs []ledger.Transaction
			unmarchall(t, rec, &txs)
			assert.Len(t, txs, tt.wantTxs)
		})
	}

	t.Run("detail", func(t *testing.T) {
		rec := e.do(t, httpTest{method: http.MethodGet, path: fmt.Sprintf("/v1/registrations/%d", paid.ID), token: cashierToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var detail ledger.RegistrationDetail
		unmarchall(t, rec, &detail)
		assert.Equal(t, "Tran Thi B", detail.StudentName)
		assert.Equal(t, e.class.Name, detail.ClassName)
		assert.True(t, detail.Remaining.IsZero())
		assert.Len(t, detail.Transactions, 1)
	})

	t.Run("mine", func(t *testing.T) {
		rec := e.do(t, httpTest{method: http.MethodGet, path: "/v1/registrations/mine", token: e.token(t, e.student)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var regs []ledger.RegistrationDetail
		unmarchall(t, rec, &regs)
		require.Len(t, regs, 1)
		assert.Equal(t, unpaid.ID, regs[0].ID)
	})

	t.Run("audit", func(t *testing.T) {
		rec := e.do(t, httpTest{method: http.MethodGet, path: fmt.Sprintf("/v1/registrations/%d/audit", paid.ID), token: e.token(t, e.admin)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var report ledger.AuditReport
		unmarchall(t, rec, &report)
		assert.True(t, report.OK(), "problems: %v", report.Problems)
		assert.Equal(t, ledger.StatusPaid, report.ExpectedStatus)
	})
}
