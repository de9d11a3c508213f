package dig_container

import (
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/anquinko/tuition/apps/api/echo"
	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
	emailsvc "github.com/anquinko/tuition/services/email"
	logsvc "github.com/anquinko/tuition/services/logger"
	"github.com/anquinko/tuition/storage/database"
	inmemdb "github.com/anquinko/tuition/storage/database/inmem"
	sqlxrepos "github.com/anquinko/tuition/storage/database/sqlx"
)

// EngineInMemory keeps everything in process memory; data is lost on restart.
const EngineInMemory = "inmem"

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// CloseDBFunc releases the database connections.
	CloseDBFunc func() error

	Repositories struct {
		dig.Out
		Users   user.Repository
		Catalog catalog.Repository
		Ledger  ledger.Store
		CloseDB CloseDBFunc
	}

	ledgerParams struct {
		dig.In
		Conf    *core.Config
		Logger  core.Logger
		Store   ledger.Store
		Catalog catalog.Service
		Users   user.Service
		Mailer  core.EmailService
	}

	serverParams struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		UserSvc    user.Service
		CatalogSvc catalog.Service
		LedgerSvc  ledger.Service
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

// newRepositories wires the storage selected by conf.Database.Engine.
func newRepositories(conf *core.Config, loggerParam DBLoggerParam) (Repositories, error) {
	if conf.Database.Engine == EngineInMemory {
		loggerParam.Logger.Warn("using the in-memory database, data will not be persisted")
		db := inmemdb.Open()
		return Repositories{
			Users:   inmemdb.NewUserRepository(db),
			Catalog: inmemdb.NewCatalogRepository(db),
			Ledger:  inmemdb.NewLedgerStore(db),
			CloseDB: func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return Repositories{}, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(conf)
	if err != nil {
		return Repositories{}, errors.Wrap(err, "opening database")
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		_ = db.Close()
		return Repositories{}, errors.Wrap(err, "migrating database")
	}
	return Repositories{
		Users:   sqlxrepos.NewUserRepository(db),
		Catalog: sqlxrepos.NewCatalogRepository(db),
		Ledger:  sqlxrepos.NewLedgerStore(db),
		CloseDB: db.Close,
	}, nil
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newLedgerService(p ledgerParams) ledger.Service {
	return ledger.NewService(ledger.Deps{
		Conf:     p.Conf,
		Store:    p.Store,
		Catalog:  p.Catalog,
		Students: p.Users,
		Mailer:   p.Mailer,
		Logger:   p.Logger,
	})
}

func newServer(p serverParams) echoapi.Server {
	return echoapi.NewServer(echoapi.Options{}, echoapi.Deps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		UserSvc:    p.UserSvc,
		CatalogSvc: p.CatalogSvc,
		LedgerSvc:  p.LedgerSvc,
	})
}

// New returns a new dependency injection dig.Container
func New(newConfig func() *core.Config) *dig.Container {
	c := dig.New()

	must(c.Provide(newConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(validator.New))
	must(c.Provide(user.NewService))
	must(c.Provide(catalog.NewService))
	must(c.Provide(newLedgerService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
