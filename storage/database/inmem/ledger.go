package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/anquinko/tuition/core/ledger"
)

type ledgerStore struct {
	db *DB
}

var _ ledger.Store = (*ledgerStore)(nil) // interface compliance check

// NewLedgerStore returns a ledger.Store whose units of work are serialised by the DB lock and applied
// to a staged copy of the ledger tables, which replaces the live tables only when the unit succeeds.
func NewLedgerStore(db *DB) ledger.Store {
	return &ledgerStore{db: db}
}

func (s *ledgerStore) Atomic(ctx context.Context, fn func(repo ledger.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.Lock()
	defer s.db.Unlock()

	staged := &ledgerRepository{db: s.db, tables: s.db.ledgerTables.clone()}
	if err := fn(staged); err != nil {
		return err
	}
	s.db.ledgerTables = staged.tables
	return nil
}

func (s *ledgerStore) read() *ledgerRepository {
	return &ledgerRepository{db: s.db, tables: s.db.ledgerTables}
}

func (s *ledgerStore) CreateRegistration(ctx context.Context, reg ledger.Registration) (ledger.Registration, error) {
	s.db.Lock()
	defer s.db.Unlock()
	return s.read().CreateRegistration(ctx, reg)
}

func (s *ledgerStore) GetRegistration(ctx context.Context, id int64) (ledger.Registration, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.read().GetRegistration(ctx, id)
}

func (s *ledgerStore) FindActiveRegistration(ctx context.Context, studentID, classID int64) (ledger.Registration, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.read().FindActiveRegistration(ctx, studentID, classID)
}

func (s *ledgerStore) LockClass(ctx context.Context, classID int64) error {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.read().LockClass(ctx, classID)
}

func (s *ledgerStore) CountActiveRegistrations(ctx context.Context, classID int64) (int, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.read().CountActiveRegistrations(ctx, classID)
}

func (s *ledgerStore) UpdateRegistration(ctx context.Context, reg ledger.Registration) (ledger.Registration, error) {
	s.db.Lock()
	defer s.db.Unlock()
	return s.read().UpdateRegistration(ctx, reg)
}

func (s *ledgerStore) GetRegistrationDetail(ctx context.Context, id int64) (ledger.RegistrationDetail, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.read().GetRegistrationDetail(ctx, id)
}

func (s *ledgerStore) QueryRegistrations(ctx context.Context, filter *ledger.RegistrationFilter) ([]ledger.RegistrationDetail, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.read().QueryRegistrations(ctx, filter)
}

func (s *ledgerStore) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.db.Lock()
	defer s.db.Unlock()
	return s.read().CreateTransaction(ctx, tx)
}

func (s *ledgerStore) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

func (s *ledgerStore) UpdateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.db.Lock()
	defer s.db.Unlock()
	return s.read().UpdateTransaction(ctx, tx)
}

func (s *ledgerStore) QueryTransactions(ctx context.Context, filter *ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.read().QueryTransactions(ctx, filter)
}

// ledgerRepository works on tables without locking; callers hold the DB lock.
type ledgerRepository struct {
	db     *DB
	tables ledgerTables
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func (repo *ledgerRepository) CreateRegistration(_ context.Context, reg ledger.Registration) (ledger.Registration, error) {
	if reg.IsActive {
		for _, r := range repo.tables.registrations {
			if r.IsActive && r.StudentID == reg.StudentID && r.ClassID == reg.ClassID {
				return ledger.Registration{}, ledger.ErrAlreadyEnrolled
			}
		}
	}
	reg.ID = repo.db.nextID()
	reg.Version = 1
	repo.tables.registrations[reg.ID] = reg
	return reg, nil
}

func (repo *ledgerRepository) GetRegistration(_ context.Context, id int64) (ledger.Registration, error) {
	if reg, ok := repo.tables.registrations[id]; ok {
		return reg, nil
	}
	return ledger.Registration{}, ledger.ErrNotFound
}

func (repo *ledgerRepository) FindActiveRegistration(_ context.Context, studentID, classID int64) (ledger.Registration, error) {
	for _, reg := range repo.tables.registrations {
		if reg.IsActive && reg.StudentID == studentID && reg.ClassID == classID {
			return reg, nil
		}
	}
	return ledger.Registration{}, ledger.ErrNotFound
}

// LockClass only checks the class exists; units of work already hold the DB lock.
func (repo *ledgerRepository) LockClass(_ context.Context, classID int64) error {
	if _, ok := repo.db.classes[classID]; !ok {
		return ledger.ErrNotFound
	}
	return nil
}

func (repo *ledgerRepository) CountActiveRegistrations(_ context.Context, classID int64) (int, error) {
	return repo.tables.activeCount(classID), nil
}

func (repo *ledgerRepository) UpdateRegistration(_ context.Context, reg ledger.Registration) (ledger.Registration, error) {
	orig, ok := repo.tables.registrations[reg.ID]
	if !ok {
		return ledger.Registration{}, ledger.ErrNotFound
	}
	if orig.Version != reg.Version {
		return ledger.Registration{}, ledger.ErrPersistenceConflict
	}
	reg.Version++
	repo.tables.registrations[reg.ID] = reg
	return reg, nil
}

func (repo *ledgerRepository) GetRegistrationDetail(_ context.Context, id int64) (ledger.RegistrationDetail, error) {
	reg, ok := repo.tables.registrations[id]
	if !ok {
		return ledger.RegistrationDetail{}, ledger.ErrNotFound
	}
	return repo.detail(reg), nil
}

func (repo *ledgerRepository) QueryRegistrations(_ context.Context, filter *ledger.RegistrationFilter) ([]ledger.RegistrationDetail, error) {
	details := make([]ledger.RegistrationDetail, 0, len(repo.tables.registrations))
	for _, reg := range repo.tables.registrations {
		detail := repo.detail(reg)
		if filter == nil || matchRegistration(detail, filter) {
			details = append(details, detail)
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ID > details[j].ID })
	return details, nil
}

func (repo *ledgerRepository) CreateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if _, ok := repo.tables.registrations[tx.RegistrationID]; !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	tx.ID = repo.db.nextID()
	repo.tables.transactions[tx.ID] = tx
	return tx, nil
}

func (repo *ledgerRepository) GetTransaction(_ context.Context, id int64) (ledger.Transaction, error) {
	if tx, ok := repo.tables.transactions[id]; ok {
		return tx, nil
	}
	return ledger.Transaction{}, ledger.ErrNotFound
}

func (repo *ledgerRepository) UpdateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	orig, ok := repo.tables.transactions[tx.ID]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	// only the status may change
	orig.Status = tx.Status
	orig.CancelledAt = tx.CancelledAt
	repo.tables.transactions[tx.ID] = orig
	return orig, nil
}

func (repo *ledgerRepository) QueryTransactions(_ context.Context, filter *ledger.TransactionFilter) ([]ledger.Transaction, error) {
	txs := make([]ledger.Transaction, 0)
	for _, tx := range repo.tables.transactions {
		if filter == nil || repo.matchTransaction(tx, filter) {
			txs = append(txs, tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Date.Equal(txs[j].Date) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].Date.After(txs[j].Date)
	})
	return txs, nil
}

func (repo *ledgerRepository) detail(reg ledger.Registration) ledger.RegistrationDetail {
	student := repo.db.users[reg.StudentID]
	class := repo.db.classes[reg.ClassID]
	return ledger.RegistrationDetail{
		Registration: reg,
		StudentName:  student.Name,
		StudentEmail: student.Email,
		StudentPhone: student.PhoneNumber,
		ClassName:    class.Name,
		CourseName:   repo.db.courses[class.CourseID].Name,
		LevelName:    repo.db.levels[class.LevelID].Name,
		ClassStart:   class.StartTime,
		Remaining:    reg.Debt(),
	}
}

func matchRegistration(detail ledger.RegistrationDetail, filter *ledger.RegistrationFilter) bool {
	if filter.StudentID != 0 && detail.StudentID != filter.StudentID {
		return false
	}
	if filter.ClassID != 0 && detail.ClassID != filter.ClassID {
		return false
	}
	if filter.ActiveOnly && !detail.IsActive {
		return false
	}
	if len(filter.Statuses) > 0 {
		var found bool
		for _, st := range filter.Statuses {
			if detail.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Search != "" {
		s := strings.ToLower(filter.Search)
		return strings.Contains(strings.ToLower(detail.StudentName), s) ||
			strings.Contains(strings.ToLower(detail.StudentEmail), s) ||
			strings.Contains(detail.StudentPhone, s)
	}
	return true
}

func (repo *ledgerRepository) matchTransaction(tx ledger.Transaction, filter *ledger.TransactionFilter) bool {
	if filter.RegistrationID != 0 && tx.RegistrationID != filter.RegistrationID {
		return false
	}
	if !filter.DateFrom.IsZero() && tx.Date.Before(filter.DateFrom) {
		return false
	}
	if !filter.DateTo.IsZero() && tx.Date.After(filter.DateTo) {
		return false
	}
	if filter.Search != "" {
		s := strings.ToLower(filter.Search)
		student := repo.db.users[repo.tables.registrations[tx.RegistrationID].StudentID]
		if !strings.Contains(strings.ToLower(student.Name), s) &&
			!strings.Contains(student.PhoneNumber, s) &&
			!strings.Contains(strings.ToLower(tx.Content), s) {
			return false
		}
	}
	if len(filter.Statuses) > 0 {
		var found bool
		for _, st := range filter.Statuses {
			if tx.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Methods) > 0 {
		var found bool
		for _, m := range filter.Methods {
			if tx.Method == m {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
