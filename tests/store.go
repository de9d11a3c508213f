package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
)

// RunLedgerStoreTests checks the behaviour every ledger.Store implementation must share.
func RunLedgerStoreTests(t *testing.T, usrRepo user.Repository, catRepo catalog.Repository, store ledger.Store) {
	ctx := context.Background()
	teacher := CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.vn", "", []string{user.RoleTeacher}, true)
	student := CreateUser(t, usrRepo, "Hero", "hero", "hero@test.vn", "", []string{user.RoleStudent}, true)
	class := CreateClass(t, catRepo, teacher.ID, decimal.NewFromInt(3000000), 10)
	reg := CreateRegistration(t, store, student.ID, class.ID, class.Tuition, decimal.Zero, ledger.StatusUnpaid)

	pay := func(repo ledger.Repository, r ledger.Registration, amount int64) (ledger.Registration, error) {
		r.Paid = r.Paid.Add(decimal.NewFromInt(amount))
		r.Status = ledger.StatusPartial
		r.UpdatedAt = time.Now().UTC()
		r, err := repo.UpdateRegistration(ctx, r)
		if err != nil {
			return r, err
		}
		_, err = repo.CreateTransaction(ctx, ledger.Transaction{
			RegistrationID: r.ID,
			Reference:      uuid.New().String(),
			Money:          decimal.NewFromInt(amount),
			Method:         ledger.MethodCash,
			Status:         ledger.PaymentSuccess,
			Content:        "Paid at the front desk",
			Date:           time.Now().UTC(),
			CreatedAt:      time.Now().UTC(),
		})
		return r, err
	}

	t.Run("duplicate active enrollment", func(t *testing.T) {
		now := time.Now().UTC()
		_, err := store.CreateRegistration(ctx, ledger.Registration{
			StudentID:     student.ID,
			ClassID:       class.ID,
			ActualTuition: class.Tuition,
			Paid:          decimal.Zero,
			Status:        ledger.StatusUnpaid,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		assert.Equal(t, ledger.ErrAlreadyEnrolled, err)

		n, err := store.CountActiveRegistrations(ctx, class.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("failed unit of work leaves no trace", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Atomic(ctx, func(repo ledger.Repository) error {
			r, err := repo.GetRegistration(ctx, reg.ID)
			if err != nil {
				return err
			}
			if _, err = pay(repo, r, 500000); err != nil {
				return err
			}
			return boom
		})
		assert.Equal(t, boom, err)

		got, err := store.GetRegistration(ctx, reg.ID)
		require.NoError(t, err)
		assert.True(t, got.Paid.IsZero(), "paid = %s", got.Paid)
		assert.Equal(t, reg.Version, got.Version)
		txs, err := store.QueryTransactions(ctx, &ledger.TransactionFilter{RegistrationID: reg.ID})
		require.NoError(t, err)
		assert.Empty(t, txs)
	})

	t.Run("committed unit of work", func(t *testing.T) {
		err := store.Atomic(ctx, func(repo ledger.Repository) error {
			r, err := repo.GetRegistration(ctx, reg.ID)
			if err != nil {
				return err
			}
			_, err = pay(repo, r, 500000)
			return err
		})
		require.NoError(t, err)

		detail, err := store.GetRegistrationDetail(ctx, reg.ID)
		require.NoError(t, err)
		assert.True(t, detail.Paid.Equal(decimal.NewFromInt(500000)), "paid = %s", detail.Paid)
		assert.Equal(t, reg.Version+1, detail.Version)
		assert.Equal(t, "Hero", detail.StudentName)
		assert.Equal(t, class.Name, detail.ClassName)

		txs, err := store.QueryTransactions(ctx, &ledger.TransactionFilter{RegistrationID: reg.ID})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, ledger.PaymentSuccess, txs[0].Status)
	})

	t.Run("transaction search", func(t *testing.T) {
		yesterday := time.Now().UTC().Add(-24 * time.Hour)
		tomorrow := time.Now().UTC().Add(24 * time.Hour)
		tests := []struct {
			name   string
			filter ledger.TransactionFilter
			want   int
		}{
			{name: "student name", filter: ledger.TransactionFilter{Search: "hero"}, want: 1},
			{name: "content", filter: ledger.TransactionFilter{Search: "front desk"}, want: 1},
			{name: "no match", filter: ledger.TransactionFilter{Search: "lol"}, want: 0},
			{name: "within range", filter: ledger.TransactionFilter{DateFrom: yesterday, DateTo: tomorrow}, want: 1},
			{name: "after range", filter: ledger.TransactionFilter{DateTo: yesterday}, want: 0},
			{name: "before range", filter: ledger.TransactionFilter{DateFrom: tomorrow}, want: 0},
			{name: "search and range", filter: ledger.TransactionFilter{Search: "hero", DateFrom: yesterday}, want: 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				txs, err := store.QueryTransactions(ctx, &tt.filter)
				require.NoError(t, err)
				assert.Len(t, txs, tt.want)
			})
		}
	})

	t.Run("lock class", func(t *testing.T) {
		assert.Equal(t, ledger.ErrNotFound, store.LockClass(ctx, 999999))
		err := store.Atomic(ctx, func(repo ledger.Repository) error {
			return repo.LockClass(ctx, 999999)
		})
		assert.Equal(t, ledger.ErrNotFound, err)
		assert.NoError(t, store.LockClass(ctx, class.ID))
	})

	t.Run("concurrent enrollments respect capacity", func(t *testing.T) {
		small := CreateClass(t, catRepo, teacher.ID, decimal.NewFromInt(1000000), 3)
		errFull := errors.New("full")

		var wg sync.WaitGroup
		results := make(chan error, 6)
		for i := 0; i < 6; i++ {
			uname := fmt.Sprintf("rush%d", i)
			s := CreateUser(t, usrRepo, "Rush", uname, uname+"@test.vn", "", []string{user.RoleStudent}, true)
			wg.Add(1)
			go func(studentID int64) {
				defer wg.Done()
				results <- store.Atomic(ctx, func(repo ledger.Repository) error {
					if err := repo.LockClass(ctx, small.ID); err != nil {
						return err
					}
					n, err := repo.CountActiveRegistrations(ctx, small.ID)
					if err != nil {
						return err
					}
					if n >= small.MaximumStudents {
						return errFull
					}
					now := time.Now().UTC()
					_, err = repo.CreateRegistration(ctx, ledger.Registration{
						StudentID:     studentID,
						ClassID:       small.ID,
						ActualTuition: small.Tuition,
						Paid:          decimal.Zero,
						Status:        ledger.StatusUnpaid,
						IsActive:      true,
						CreatedAt:     now,
						UpdatedAt:     now,
					})
					return err
				})
			}(s.ID)
		}
		wg.Wait()
		close(results)

		var enrolled, full int
		for err := range results {
			switch err {
			case nil:
				enrolled++
			case errFull:
				full++
			default:
				t.Errorf("Atomic() unexpected error = %v", err)
			}
		}
		assert.Equal(t, 3, enrolled)
		assert.Equal(t, 3, full)
		n, err := store.CountActiveRegistrations(ctx, small.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("stale version", func(t *testing.T) {
		// reg still carries the version it was created with
		_, err := store.UpdateRegistration(ctx, reg)
		assert.Equal(t, ledger.ErrPersistenceConflict, err)
	})

	t.Run("unknown registration", func(t *testing.T) {
		_, err := store.GetRegistration(ctx, 999999)
		assert.Equal(t, ledger.ErrNotFound, err)
		_, err = store.GetRegistrationDetail(ctx, 999999)
		assert.Equal(t, ledger.ErrNotFound, err)
	})
}
