package main

import (
	"log"
	"os"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
	emailsvc "github.com/anquinko/tuition/services/email"
	logsvc "github.com/anquinko/tuition/services/logger"
	"github.com/anquinko/tuition/storage/database"
	sqlxrepos "github.com/anquinko/tuition/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	defer logger.Close()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	defer func() { _ = db.Close() }()

	// start CLI
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db))
	cli := commandLine{
		db:     db.DB,
		out:    os.Stdout,
		usrSvc: usrSvc,
		ledgerSvc: ledger.NewService(ledger.Deps{
			Conf:     conf,
			Store:    sqlxrepos.NewLedgerStore(db),
			Catalog:  catalog.NewService(sqlxrepos.NewCatalogRepository(db)),
			Students: usrSvc,
			Mailer:   emailsvc.NewConsoleService(conf, logger),
			Logger:   logger,
		}),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("command failed: "+err.Error(), err)
		}
		logger.Close()
		os.Exit(1)
	}
}
