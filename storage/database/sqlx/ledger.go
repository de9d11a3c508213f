package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/ledger"
)

const (
	registrationColumns = `r.id, r.student_id, r.class_id, r.actual_tuition, r.paid, r.status, r.is_active, r.version,
	r.created_at, r.updated_at, r.cancelled_at`

	registrationDetailQuery = `SELECT ` + registrationColumns + `, u.name AS student_name, u.email AS student_email,
	u.phone_number AS student_phone, c.name AS class_name, co.name AS course_name, l.name AS level_name,
	c.start_time AS class_start
	FROM registration r
	JOIN "user" u ON u.id = r.student_id
	JOIN class_room c ON c.id = r.class_id
	JOIN course co ON co.id = c.course_id
	JOIN level l ON l.id = c.level_id`

	transactionColumns = `id, registration_id, reference, money, method, status, content, date, operator_id,
	created_at, cancelled_at`

	transactionSearchQuery = `SELECT t.id, t.registration_id, t.reference, t.money, t.method, t.status, t.content,
	t.date, t.operator_id, t.created_at, t.cancelled_at
	FROM transaction t
	JOIN registration r ON r.id = t.registration_id
	JOIN "user" u ON u.id = r.student_id`

	activeRegistrationIndex = "registration_active_student_class"
)

type registrationRow struct {
	ID            int64                `db:"id"`
	StudentID     int64                `db:"student_id"`
	ClassID       int64                `db:"class_id"`
	ActualTuition decimal.Decimal      `db:"actual_tuition"`
	Paid          decimal.Decimal      `db:"paid"`
	Status        ledger.TuitionStatus `db:"status"`
	IsActive      bool                 `db:"is_active"`
	Version       int64                `db:"version"`
	CreatedAt     time.Time            `db:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at"`
	CancelledAt   null.Time            `db:"cancelled_at"`
}

func (row registrationRow) unpack() ledger.Registration {
	return ledger.Registration{
		ID:            row.ID,
		StudentID:     row.StudentID,
		ClassID:       row.ClassID,
		ActualTuition: row.ActualTuition,
		Paid:          row.Paid,
		Status:        row.Status,
		IsActive:      row.IsActive,
		Version:       row.Version,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		CancelledAt:   utcPtr(row.CancelledAt),
	}
}

type registrationDetailRow struct {
	registrationRow
	StudentName  string      `db:"student_name"`
	StudentEmail null.String `db:"student_email"`
	StudentPhone null.String `db:"student_phone"`
	ClassName    null.String `db:"class_name"`
	CourseName   string      `db:"course_name"`
	LevelName    string      `db:"level_name"`
	ClassStart   time.Time   `db:"class_start"`
}

func (row registrationDetailRow) unpack() ledger.RegistrationDetail {
	reg := row.registrationRow.unpack()
	return ledger.RegistrationDetail{
		Registration: reg,
		StudentName:  row.StudentName,
		StudentEmail: row.StudentEmail.String,
		StudentPhone: row.StudentPhone.String,
		ClassName:    row.ClassName.String,
		CourseName:   row.CourseName,
		LevelName:    row.LevelName,
		ClassStart:   row.ClassStart.UTC(),
		Remaining:    reg.Debt(),
	}
}

type transactionRow struct {
	ID             int64                `db:"id"`
	RegistrationID int64                `db:"registration_id"`
	Reference      string               `db:"reference"`
	Money          decimal.Decimal      `db:"money"`
	Method         ledger.Method        `db:"method"`
	Status         ledger.PaymentStatus `db:"status"`
	Content        null.String          `db:"content"`
	Date           time.Time            `db:"date"`
	OperatorID     null.Int64           `db:"operator_id"`
	CreatedAt      time.Time            `db:"created_at"`
	CancelledAt    null.Time            `db:"cancelled_at"`
}

func (row transactionRow) unpack() ledger.Transaction {
	return ledger.Transaction{
		ID:             row.ID,
		RegistrationID: row.RegistrationID,
		Reference:      row.Reference,
		Money:          row.Money,
		Method:         row.Method,
		Status:         row.Status,
		Content:        row.Content.String,
		Date:           row.Date.UTC(),
		OperatorID:     row.OperatorID.Ptr(),
		CreatedAt:      row.CreatedAt.UTC(),
		CancelledAt:    utcPtr(row.CancelledAt),
	}
}

type ledgerStore struct {
	*ledgerRepository
	db core.DB
}

var _ ledger.Store = (*ledgerStore)(nil) // interface compliance check

func NewLedgerStore(db core.DB) ledger.Store {
	return &ledgerStore{
		ledgerRepository: &ledgerRepository{exec: db},
		db:               db,
	}
}

// Atomic runs fn inside a database transaction; registrations read through repo are locked until it ends.
// Serialization failures and deadlocks are reported as ledger.ErrPersistenceConflict.
func (s *ledgerStore) Atomic(ctx context.Context, fn func(repo ledger.Repository) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&ledgerRepository{exec: tx, lock: true}); err != nil {
		return err
	}
	return trapErr(tx.Commit(), sql.ErrNoRows, "committing transaction")
}

type ledgerRepository struct {
	exec core.DBExecutor
	lock bool // SELECT ... FOR UPDATE
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func (repo *ledgerRepository) CreateRegistration(ctx context.Context, reg ledger.Registration) (ledger.Registration, error) {
	q := `INSERT INTO registration (student_id, class_id, actual_tuition, paid, status, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8) RETURNING id`
	err := repo.exec.QueryRowxContext(ctx, q,
		reg.StudentID,
		reg.ClassID,
		reg.ActualTuition,
		reg.Paid,
		reg.Status,
		reg.IsActive,
		reg.CreatedAt.UTC(),
		reg.UpdatedAt.UTC(),
	).Scan(&reg.ID)
	if err != nil {
		if isUniqueViolation(err, activeRegistrationIndex) {
			return ledger.Registration{}, ledger.ErrAlreadyEnrolled
		}
		return ledger.Registration{}, trapErr(err, ledger.ErrNotFound, "inserting registration")
	}
	reg.Version = 1
	return reg, nil
}

func (repo *ledgerRepository) GetRegistration(ctx context.Context, id int64) (ledger.Registration, error) {
	q := `SELECT ` + registrationColumns + ` FROM registration r WHERE r.id = $1`
	if repo.lock {
		q += ` FOR UPDATE`
	}
	var row registrationRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, q, id); err != nil {
		return ledger.Registration{}, trapErr(err, ledger.ErrNotFound, "finding registration")
	}
	return row.unpack(), nil
}

func (repo *ledgerRepository) FindActiveRegistration(ctx context.Context, studentID, classID int64) (ledger.Registration, error) {
	q := `SELECT ` + registrationColumns + ` FROM registration r WHERE r.student_id = $1 AND r.class_id = $2 AND r.is_active`
	var row registrationRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, q, studentID, classID); err != nil {
		return ledger.Registration{}, trapErr(err, ledger.ErrNotFound, "finding registration")
	}
	return row.unpack(), nil
}

func (repo *ledgerRepository) LockClass(ctx context.Context, classID int64) error {
	q := `SELECT id FROM class_room WHERE id = $1`
	if repo.lock {
		q += ` FOR UPDATE`
	}
	var id int64
	return trapErr(sqlx.GetContext(ctx, repo.exec, &id, q, classID), ledger.ErrNotFound, "locking class")
}

func (repo *ledgerRepository) CountActiveRegistrations(ctx context.Context, classID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, repo.exec, &n, `SELECT COUNT(*) FROM registration WHERE class_id = $1 AND is_active`, classID)
	return n, trapErr(err, sql.ErrNoRows, "counting registrations")
}

func (repo *ledgerRepository) UpdateRegistration(ctx context.Context, reg ledger.Registration) (ledger.Registration, error) {
	q := `UPDATE registration SET paid = $1, status = $2, is_active = $3, updated_at = $4, cancelled_at = $5,
		version = version + 1 WHERE id = $6 AND version = $7`
	res, err := repo.exec.ExecContext(ctx, q,
		reg.Paid,
		reg.Status,
		reg.IsActive,
		reg.UpdatedAt.UTC(),
		null.TimeFromPtr(reg.CancelledAt),
		reg.ID,
		reg.Version,
	)
	if err != nil {
		return ledger.Registration{}, trapErr(err, ledger.ErrNotFound, "updating registration")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Registration{}, errors.Wrap(err, "updating registration")
	}
	if n == 0 {
		return ledger.Registration{}, ledger.ErrPersistenceConflict
	}
	reg.Version++
	return reg, nil
}

func (repo *ledgerRepository) GetRegistrationDetail(ctx context.Context, id int64) (ledger.RegistrationDetail, error) {
	var row registrationDetailRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, registrationDetailQuery+` WHERE r.id = $1`, id); err != nil {
		return ledger.RegistrationDetail{}, trapErr(err, ledger.ErrNotFound, "finding registration")
	}
	return row.unpack(), nil
}

func (repo *ledgerRepository) QueryRegistrations(ctx context.Context, filter *ledger.RegistrationFilter) ([]ledger.RegistrationDetail, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("u.name ILIKE ? OR u.email ILIKE ? OR u.phone_number LIKE ?", val, val, val)
		}
		if filter.StudentID != 0 {
			w.add("r.student_id = ?", filter.StudentID)
		}
		if filter.ClassID != 0 {
			w.add("r.class_id = ?", filter.ClassID)
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, st := range filter.Statuses {
				statuses = append(statuses, st.String())
			}
			w.add("r.status = ANY(?)", pq.Array(statuses))
		}
		if filter.ActiveOnly {
			w.add("r.is_active")
		}
	}

	var rows []registrationDetailRow
	q := repo.exec.Rebind(registrationDetailQuery + w.String() + ` ORDER BY r.id DESC`)
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying registrations")
	}
	details := make([]ledger.RegistrationDetail, 0, len(rows))
	for _, row := range rows {
		details = append(details, row.unpack())
	}
	return details, nil
}

func (repo *ledgerRepository) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	q := `INSERT INTO transaction (registration_id, reference, money, method, status, content, date, operator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err := repo.exec.QueryRowxContext(ctx, q,
		tx.RegistrationID,
		tx.Reference,
		tx.Money,
		tx.Method,
		tx.Status,
		null.NewString(tx.Content, tx.Content != ""),
		tx.Date.UTC(),
		null.Int64FromPtr(tx.OperatorID),
		tx.CreatedAt.UTC(),
	).Scan(&tx.ID)
	return tx, trapErr(err, ledger.ErrNotFound, "inserting transaction")
}

func (repo *ledgerRepository) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transaction WHERE id = $1`
	if repo.lock {
		q += ` FOR UPDATE`
	}
	var row transactionRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, q, id); err != nil {
		return ledger.Transaction{}, trapErr(err, ledger.ErrNotFound, "finding transaction")
	}
	return row.unpack(), nil
}

// UpdateTransaction only persists the status transition; the payment itself is immutable.
func (repo *ledgerRepository) UpdateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	res, err := repo.exec.ExecContext(ctx, `UPDATE transaction SET status = $1, cancelled_at = $2 WHERE id = $3`,
		tx.Status, null.TimeFromPtr(tx.CancelledAt), tx.ID)
	if err != nil {
		return ledger.Transaction{}, trapErr(err, ledger.ErrNotFound, "updating transaction")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return tx, nil
}

func (repo *ledgerRepository) QueryTransactions(ctx context.Context, filter *ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var w where
	if filter != nil {
		if filter.RegistrationID != 0 {
			w.add("t.registration_id = ?", filter.RegistrationID)
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("u.name ILIKE ? OR u.phone_number LIKE ? OR t.content ILIKE ?", val, val, val)
		}
		if !filter.DateFrom.IsZero() {
			w.add("t.date >= ?", filter.DateFrom.UTC())
		}
		if !filter.DateTo.IsZero() {
			w.add("t.date <= ?", filter.DateTo.UTC())
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, st := range filter.Statuses {
				statuses = append(statuses, st.String())
			}
			w.add("t.status = ANY(?)", pq.Array(statuses))
		}
		if len(filter.Methods) > 0 {
			methods := make([]string, 0, len(filter.Methods))
			for _, m := range filter.Methods {
				methods = append(methods, m.String())
			}
			w.add("t.method = ANY(?)", pq.Array(methods))
		}
	}

	var rows []transactionRow
	q := repo.exec.Rebind(transactionSearchQuery + w.String() + ` ORDER BY t.date DESC, t.id DESC`)
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying transactions")
	}
	txs := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, row.unpack())
	}
	return txs, nil
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
