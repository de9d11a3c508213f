package ledger

import (
	"context"
	"fmt"
	"net/mail"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/user"
)

var (
	NowFunc = time.Now // mockable

	// ReferenceFunc generates receipt numbers (mockable).
	ReferenceFunc = func() string { return uuid.New().String() }
)

type (
	Repository interface {
		CreateRegistration(ctx context.Context, reg Registration) (Registration, error)
		// GetRegistration locks the registration for the rest of the unit of work.
		GetRegistration(ctx context.Context, id int64) (Registration, error)
		FindActiveRegistration(ctx context.Context, studentID, classID int64) (Registration, error)
		// LockClass holds the class seats for the rest of the unit of work so capacity checks cannot race.
		LockClass(ctx context.Context, classID int64) error
		CountActiveRegistrations(ctx context.Context, classID int64) (int, error)
		// UpdateRegistration fails with ErrPersistenceConflict when reg.Version is stale.
		// The returned Registration carries the new version.
		UpdateRegistration(ctx context.Context, reg Registration) (Registration, error)
		GetRegistrationDetail(ctx context.Context, id int64) (RegistrationDetail, error)
		// QueryRegistrations applies AND operation on available RegistrationFilter fields.
		// RegistrationFilter.Search does a case-insensitive match on the student's name, email or phone number.
		QueryRegistrations(ctx context.Context, filter *RegistrationFilter) ([]RegistrationDetail, error)

		CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error)
		GetTransaction(ctx context.Context, id int64) (Transaction, error)
		UpdateTransaction(ctx context.Context, tx Transaction) (Transaction, error)
		// QueryTransactions returns the matching transactions, most recent first.
		QueryTransactions(ctx context.Context, filter *TransactionFilter) ([]Transaction, error)
	}

	// Store runs units of work atomically: either every write made through repo is persisted or none is.
	Store interface {
		Repository
		Atomic(ctx context.Context, fn func(repo Repository) error) error
	}

	// Students is the subset of user.Service the ledger needs.
	Students interface {
		GetByID(ctx context.Context, id int64) (user.User, error)
	}

	Service interface {
		Policy() Policy
		Enroll(ctx context.Context, actor user.User, nr NewRegistration) (Registration, error)
		ApplyPayment(ctx context.Context, actor user.User, regID int64, np NewPayment) (Receipt, error)
		Checkout(ctx context.Context, actor user.User, nc NewCheckout) (Receipt, error)
		// RevertPayment cancels the latest successful payment of exactly amount. It never cancels the registration.
		RevertPayment(ctx context.Context, actor user.User, regID int64, amount decimal.Decimal) (Registration, error)
		CancelTransaction(ctx context.Context, actor user.User, txID int64) (CancelResult, error)
		CancelRegistration(ctx context.Context, actor user.User, regID int64) (Registration, error)
		GetRegistration(ctx context.Context, id int64) (RegistrationDetail, error)
		QueryRegistrations(ctx context.Context, filter *RegistrationFilter) ([]RegistrationDetail, error)
		QueryUnpaid(ctx context.Context, search string) ([]RegistrationDetail, error)
		QueryTransactions(ctx context.Context, filter *TransactionFilter) ([]Transaction, error)
		Audit(ctx context.Context, regID int64) (AuditReport, error)
		AuditAll(ctx context.Context) ([]AuditReport, error)
	}

	Deps struct {
		Conf     *core.Config
		Store    Store
		Catalog  catalog.Service
		Students Students
		Mailer   core.EmailService
		Logger   core.Logger
	}

	service struct {
		conf       *core.Config
		policy     Policy
		maxRetries int
		store      Store
		catalog    catalog.Service
		students   Students
		mailer     core.EmailService
		logger     core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(deps Deps) Service {
	vala.BeginValidation().Validate(
		isSet(deps.Conf, "Conf"),
		isSet(deps.Store, "Store"),
		isSet(deps.Catalog, "Catalog"),
		isSet(deps.Students, "Students"),
		isSet(deps.Mailer, "Mailer"),
		isSet(deps.Logger, "Logger"),
	).CheckAndPanic()

	maxRetries := deps.Conf.Ledger.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &service{
		conf: deps.Conf,
		policy: Policy{
			Tolerance:          deps.Conf.Ledger.Tolerance,
			CancelOnFullRevert: deps.Conf.Ledger.CancelOnFullRevert,
		},
		maxRetries: maxRetries,
		store:      deps.Store,
		catalog:    deps.Catalog,
		students:   deps.Students,
		mailer:     deps.Mailer,
		logger:     deps.Logger,
	}
}

// isSet is vala.IsNotNil for dependencies that may also be implemented by plain struct values.
func isSet(dep interface{}, name string) vala.Checker {
	if dep != nil {
		switch reflect.ValueOf(dep).Kind() {
		case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		default:
			return func() (bool, string) { return true, "" }
		}
	}
	return vala.IsNotNil(dep, name)
}

func (svc *service) Policy() Policy {
	return svc.policy
}

// atomic runs fn in a unit of work, starting over from scratch when a concurrent update is detected.
func (svc *service) atomic(ctx context.Context, fn func(repo Repository) error) error {
	var err error
	for attempt := 1; attempt <= svc.maxRetries; attempt++ {
		err = svc.store.Atomic(ctx, fn)
		if errors.Cause(err) != ErrPersistenceConflict {
			return err
		}
		svc.logger.Warn("ledger: conflicting update", map[string]interface{}{"attempt": attempt})
	}
	return err
}

func (svc *service) Enroll(ctx context.Context, actor user.User, nr NewRegistration) (Registration, error) {
	student, err := svc.students.GetByID(ctx, nr.StudentID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Registration{}, errors.Wrap(ErrNotFound, "finding student")
		}
		return Registration{}, errors.Wrap(err, "finding student")
	}
	if !student.IsActive || !student.IsStudent() {
		return Registration{}, ErrNotAStudent
	}

	class, err := svc.getClass(ctx, nr.ClassID)
	if err != nil {
		return Registration{}, err
	}

	var reg Registration
	err = svc.atomic(ctx, func(repo Repository) error {
		_, err := repo.FindActiveRegistration(ctx, student.ID, class.ID)
		switch errors.Cause(err) {
		case nil:
			return ErrAlreadyEnrolled
		case ErrNotFound:
		default:
			return errors.Wrap(err, "finding registration")
		}

		reg, err = svc.createRegistration(ctx, repo, student.ID, class)
		return err
	})
	if err != nil {
		return Registration{}, err
	}

	svc.logger.Info("ledger: student enrolled", map[string]interface{}{"registration": reg.ID, "class": class.ID}, actor)
	return reg, nil
}

func (svc *service) ApplyPayment(ctx context.Context, actor user.User, regID int64, np NewPayment) (Receipt, error) {
	p := Payment{
		Amount:     np.Amount,
		Method:     np.Method,
		Content:    core.CleanString(np.Content),
		OperatorID: operatorID(actor),
	}
	if np.Date != nil {
		p.Date = np.Date.UTC()
	}

	var receipt Receipt
	err := svc.atomic(ctx, func(repo Repository) error {
		reg, err := repo.GetRegistration(ctx, regID)
		if err != nil {
			return errors.Wrap(err, "finding registration")
		}
		receipt, err = svc.pay(ctx, repo, reg, p)
		return err
	})
	if err != nil {
		return Receipt{}, err
	}

	svc.logger.Info("ledger: payment recorded", map[string]interface{}{
		"registration": regID,
		"reference":    receipt.Transaction.Reference,
		"amount":       receipt.Transaction.Money.String(),
	}, actor)
	return receipt, nil
}

// Checkout enrolls actor in the class when not already enrolled, then pays the chosen share of the tuition.
func (svc *service) Checkout(ctx context.Context, actor user.User, nc NewCheckout) (Receipt, error) {
	if !actor.IsActive || !actor.IsStudent() {
		return Receipt{}, ErrNotAStudent
	}
	if nc.Percent != 50 && nc.Percent != 100 {
		return Receipt{}, errors.Wrap(ErrInvalidCheckout, "payment percent must be 50 or 100")
	}

	class, err := svc.getClass(ctx, nc.ClassID)
	if err != nil {
		return Receipt{}, err
	}
	expected := class.Tuition.Mul(decimal.NewFromInt(int64(nc.Percent))).Div(decimal.NewFromInt(100)).Round(2)
	if !nc.Money.Equal(expected) {
		return Receipt{}, errors.Wrapf(ErrInvalidCheckout, "expected %s", expected)
	}

	p := Payment{
		Amount:  nc.Money,
		Method:  nc.Method,
		Content: fmt.Sprintf("Online registration, %d%% of tuition", nc.Percent),
	}

	var receipt Receipt
	err = svc.atomic(ctx, func(repo Repository) error {
		reg, err := repo.FindActiveRegistration(ctx, actor.ID, class.ID)
		switch errors.Cause(err) {
		case nil:
			reg, err = repo.GetRegistration(ctx, reg.ID)
			if err != nil {
				return errors.Wrap(err, "locking registration")
			}
		case ErrNotFound:
			reg, err = svc.createRegistration(ctx, repo, actor.ID, class)
			if errors.Cause(err) == ErrAlreadyEnrolled {
				// a concurrent checkout enrolled the student first; retry onto its registration
				return errors.Wrap(ErrPersistenceConflict, "creating registration")
			}
			if err != nil {
				return err
			}
		default:
			return errors.Wrap(err, "finding registration")
		}

		receipt, err = svc.pay(ctx, repo, reg, p)
		return err
	})
	if err != nil {
		return Receipt{}, err
	}

	svc.logger.Info("ledger: self-service checkout", map[string]interface{}{
		"registration": receipt.Registration.ID,
		"reference":    receipt.Transaction.Reference,
		"phone":        nc.Phone,
	}, actor)
	svc.sendRegistrationMail(actor, nc, class, receipt)
	return receipt, nil
}

func (svc *service) RevertPayment(ctx context.Context, actor user.User, regID int64, amount decimal.Decimal) (Registration, error) {
	if !amount.IsPositive() {
		return Registration{}, ErrInvalidAmount
	}

	var reg Registration
	err := svc.atomic(ctx, func(repo Repository) error {
		var err error
		if reg, err = repo.GetRegistration(ctx, regID); err != nil {
			return errors.Wrap(err, "finding registration")
		}
		if reg.IsCancelled() {
			return ErrRegistrationCancelled
		}

		txs, err := repo.QueryTransactions(ctx, &TransactionFilter{RegistrationID: regID, Statuses: []PaymentStatus{PaymentSuccess}})
		if err != nil {
			return errors.Wrap(err, "querying transactions")
		}
		var tx *Transaction
		for i := range txs {
			if txs[i].Money.Equal(amount) {
				tx = &txs[i]
				break
			}
		}
		if tx == nil {
			return errors.Wrapf(ErrNotFound, "no successful payment of %s", amount)
		}

		reg, err = svc.cancelTransaction(ctx, repo, reg, *tx)
		return err
	})
	if err != nil {
		return Registration{}, err
	}

	svc.logger.Info("ledger: payment reverted", map[string]interface{}{"registration": regID, "amount": amount.String()}, actor)
	return reg, nil
}

func (svc *service) CancelTransaction(ctx context.Context, actor user.User, txID int64) (CancelResult, error) {
	var res CancelResult
	err := svc.atomic(ctx, func(repo Repository) error {
		res = CancelResult{}
		tx, err := repo.GetTransaction(ctx, txID)
		if err != nil {
			return errors.Wrap(err, "finding transaction")
		}
		reg, err := repo.GetRegistration(ctx, tx.RegistrationID)
		if err != nil {
			return errors.Wrap(err, "finding registration")
		}
		if reg, err = svc.cancelTransaction(ctx, repo, reg, tx); err != nil {
			return err
		}

		if !reg.IsCancelled() && reg.Paid.IsZero() && svc.policy.CancelOnFullRevert {
			if reg, err = svc.cancelRegistration(ctx, repo, reg); err != nil {
				return err
			}
			res.RegistrationCancelled = true
		}

		if tx, err = repo.GetTransaction(ctx, txID); err != nil {
			return errors.Wrap(err, "reloading transaction")
		}
		res.Registration = reg
		res.Transaction = tx
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	svc.logger.Info("ledger: transaction cancelled", map[string]interface{}{
		"transaction":            txID,
		"registration":           res.Registration.ID,
		"registration_cancelled": res.RegistrationCancelled,
	}, actor)
	return res, nil
}

func (svc *service) CancelRegistration(ctx context.Context, actor user.User, regID int64) (Registration, error) {
	var reg Registration
	err := svc.atomic(ctx, func(repo Repository) error {
		var err error
		if reg, err = repo.GetRegistration(ctx, regID); err != nil {
			return errors.Wrap(err, "finding registration")
		}
		reg, err = svc.cancelRegistration(ctx, repo, reg)
		return err
	})
	if err != nil {
		return Registration{}, err
	}

	svc.logger.Info("ledger: registration cancelled", map[string]interface{}{"registration": regID}, actor)
	return reg, nil
}

func (svc *service) GetRegistration(ctx context.Context, id int64) (RegistrationDetail, error) {
	detail, err := svc.store.GetRegistrationDetail(ctx, id)
	if err != nil {
		return RegistrationDetail{}, err
	}
	detail.Transactions, err = svc.store.QueryTransactions(ctx, &TransactionFilter{RegistrationID: id})
	if err != nil {
		return RegistrationDetail{}, errors.Wrap(err, "querying transactions")
	}
	return detail, nil
}

func (svc *service) QueryRegistrations(ctx context.Context, filter *RegistrationFilter) ([]RegistrationDetail, error) {
	if filter != nil {
		cleaned := *filter
		cleaned.Search = core.CleanString(cleaned.Search, true)
		filter = &cleaned
	}
	return svc.store.QueryRegistrations(ctx, filter)
}

// QueryUnpaid lists the active registrations that still owe tuition.
func (svc *service) QueryUnpaid(ctx context.Context, search string) ([]RegistrationDetail, error) {
	return svc.QueryRegistrations(ctx, &RegistrationFilter{
		Search:     search,
		Statuses:   []TuitionStatus{StatusUnpaid, StatusPartial},
		ActiveOnly: true,
	})
}

func (svc *service) QueryTransactions(ctx context.Context, filter *TransactionFilter) ([]Transaction, error) {
	if filter != nil {
		cleaned := *filter
		cleaned.Search = core.CleanString(cleaned.Search, true)
		filter = &cleaned
	}
	return svc.store.QueryTransactions(ctx, filter)
}

func (svc *service) Audit(ctx context.Context, regID int64) (AuditReport, error) {
	detail, err := svc.GetRegistration(ctx, regID)
	if err != nil {
		return AuditReport{}, err
	}
	return Audit(detail.Registration, detail.Transactions, svc.policy), nil
}

func (svc *service) AuditAll(ctx context.Context) ([]AuditReport, error) {
	regs, err := svc.store.QueryRegistrations(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying registrations")
	}
	txs, err := svc.store.QueryTransactions(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying transactions")
	}

	byReg := make(map[int64][]Transaction, len(regs))
	for _, tx := range txs {
		byReg[tx.RegistrationID] = append(byReg[tx.RegistrationID], tx)
	}
	reports := make([]AuditReport, 0, len(regs))
	for _, reg := range regs {
		reports = append(reports, Audit(reg.Registration, byReg[reg.ID], svc.policy))
	}
	return reports, nil
}

func (svc *service) getClass(ctx context.Context, id int64) (catalog.ClassDetail, error) {
	class, err := svc.catalog.GetClass(ctx, id)
	if err != nil {
		if errors.Cause(err) == catalog.ErrNotFound {
			return catalog.ClassDetail{}, errors.Wrap(ErrNotFound, "finding class")
		}
		return catalog.ClassDetail{}, errors.Wrap(err, "finding class")
	}
	if !class.IsActive {
		return catalog.ClassDetail{}, errors.Wrap(ErrNotFound, "class is closed")
	}
	return class, nil
}

func (svc *service) createRegistration(ctx context.Context, repo Repository, studentID int64, class catalog.ClassDetail) (Registration, error) {
	if err := repo.LockClass(ctx, class.ID); err != nil {
		return Registration{}, errors.Wrap(err, "locking class")
	}
	count, err := repo.CountActiveRegistrations(ctx, class.ID)
	if err != nil {
		return Registration{}, errors.Wrap(err, "counting registrations")
	}
	if class.MaximumStudents > 0 && count >= class.MaximumStudents {
		return Registration{}, ErrClassFull
	}

	now := NowFunc().UTC()
	reg, err := repo.CreateRegistration(ctx, Registration{
		StudentID:     studentID,
		ClassID:       class.ID,
		ActualTuition: class.Tuition,
		Paid:          decimal.Zero,
		Status:        StatusUnpaid,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	return reg, errors.Wrap(err, "creating registration")
}

func (svc *service) pay(ctx context.Context, repo Repository, reg Registration, p Payment) (Receipt, error) {
	p.Reference = ReferenceFunc()
	reg, tx, outcome, err := ApplyPayment(reg, p, svc.policy, NowFunc().UTC())
	if err != nil {
		return Receipt{}, err
	}
	if tx, err = repo.CreateTransaction(ctx, tx); err != nil {
		return Receipt{}, errors.Wrap(err, "creating transaction")
	}
	if reg, err = repo.UpdateRegistration(ctx, reg); err != nil {
		return Receipt{}, errors.Wrap(err, "updating registration")
	}
	return Receipt{Registration: reg, Transaction: tx, Outcome: outcome, Message: outcome.Message()}, nil
}

func (svc *service) cancelTransaction(ctx context.Context, repo Repository, reg Registration, tx Transaction) (Registration, error) {
	reg, tx, err := CancelTransaction(reg, tx, svc.policy, NowFunc().UTC())
	if err != nil {
		return Registration{}, err
	}
	if _, err = repo.UpdateTransaction(ctx, tx); err != nil {
		return Registration{}, errors.Wrap(err, "updating transaction")
	}
	reg, err = repo.UpdateRegistration(ctx, reg)
	return reg, errors.Wrap(err, "updating registration")
}

func (svc *service) cancelRegistration(ctx context.Context, repo Repository, reg Registration) (Registration, error) {
	txs, err := repo.QueryTransactions(ctx, &TransactionFilter{RegistrationID: reg.ID})
	if err != nil {
		return Registration{}, errors.Wrap(err, "querying transactions")
	}
	reg, changed, err := CancelRegistration(reg, txs, NowFunc().UTC())
	if err != nil {
		return Registration{}, err
	}
	for _, tx := range changed {
		if _, err = repo.UpdateTransaction(ctx, tx); err != nil {
			return Registration{}, errors.Wrap(err, "updating transaction")
		}
	}
	reg, err = repo.UpdateRegistration(ctx, reg)
	return reg, errors.Wrap(err, "updating registration")
}

type registrationMailData struct {
	Name      string
	ClassName string
	StartTime string
	Amount    string
	Settled   bool
	Remaining string
	Reference string
}

func (svc *service) sendRegistrationMail(actor user.User, nc NewCheckout, class catalog.ClassDetail, receipt Receipt) {
	if actor.Email == "" {
		return
	}
	name := nc.Name
	if name == "" {
		name = actor.Name
	}
	svc.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: name, Address: actor.Email}},
		Subject:      "Registration successful",
		TemplateName: "registration_success",
		TemplateData: registrationMailData{
			Name:      name,
			ClassName: class.DisplayName(),
			StartTime: class.StartTime.Format("02/01/2006"),
			Amount:    receipt.Transaction.Money.StringFixedBank(0),
			Settled:   receipt.Outcome.Kind == OutcomeSettled,
			Remaining: receipt.Outcome.Remaining.StringFixedBank(0),
			Reference: receipt.Transaction.Reference,
		},
	})
}

func operatorID(actor user.User) *int64 {
	if actor.ID == 0 {
		return nil
	}
	id := actor.ID
	return &id
}
