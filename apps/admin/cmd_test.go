package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
	emailsvc "github.com/anquinko/tuition/services/email"
	inmemdb "github.com/anquinko/tuition/storage/database/inmem"
	testutil "github.com/anquinko/tuition/tests"
)

type testEnv struct {
	cli     *commandLine
	out     *bytes.Buffer
	usrRepo user.Repository
	catRepo catalog.Repository
	store   ledger.Store
}

func setup(t *testing.T) *testEnv {
	conf := core.NewTestConfig()
	logger := &testutil.Logger{T: t}
	db := inmemdb.Open()

	e := &testEnv{
		out:     new(bytes.Buffer),
		usrRepo: inmemdb.NewUserRepository(db),
		catRepo: inmemdb.NewCatalogRepository(db),
		store:   inmemdb.NewLedgerStore(db),
	}
	usrSvc := user.NewService(e.usrRepo)
	e.cli = &commandLine{
		out:    e.out,
		usrSvc: usrSvc,
		ledgerSvc: ledger.NewService(ledger.Deps{
			Conf:     conf,
			Store:    e.store,
			Catalog:  catalog.NewService(e.catRepo),
			Students: usrSvc,
			Mailer:   emailsvc.NewConsoleServiceMock(conf, logger),
			Logger:   logger,
		}),
	}
	return e
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	switch {
	case err == nil:
		if tt.wantErr != nil || tt.wantErrStr != "" {
			t.Errorf("cli.run() error = nil, wantErr %v %s", tt.wantErr, tt.wantErrStr)
		}
	case tt.wantErr != nil:
		if err != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	default:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_migrate(t *testing.T) {
	e := setup(t)

	gooseRunFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "discount", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, e.cli.run(args))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	e := setup(t)
	existing := testutil.CreateUser(t, e.usrRepo, "Front Desk", "desk", "desk@test.vn", "", []string{user.RoleStudent}, false)

	type extra struct {
		pwd       string
		wantRoles []string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "boss"}, extra: extra{pwd: "lol"}, wantErr: errHelp},
		{name: "admin and cashier", args: []string{"adduser", "-username", "boss", "-email", "boss@test.vn", "-admin", "-cashier"}, extra: extra{pwd: "lol"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "boss", "-email", "boss@test.vn"}, wantErr: errHelp},
		{
			name: "create admin", args: []string{"adduser", "-username", "Boss", "-email", "boss@test.vn", "-admin"},
			extra: extra{pwd: "lol", wantRoles: user.AllRoles},
		},
		{
			name: "update existing as cashier", args: []string{"adduser", "-username", "desk", "-email", "desk@test.vn", "-cashier"},
			extra: extra{pwd: "lmao", wantRoles: []string{user.RoleCashier}},
		},
		{
			name: "create student", args: []string{"adduser", "-username", "hero", "-email", "hero@test.vn", "-name", "Hero"},
			extra: extra{pwd: "lol", wantRoles: []string{user.RoleStudent}},
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		ex, _ := tt.extra.(extra)
		mockPassword(ex.pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := e.cli.run(args)
			tt.check(t, err)
			if err != nil {
				return
			}
			usr, err := e.usrRepo.GetUser(context.Background(), user.GetFilter{Username: strings.ToLower(args[3])})
			require.NoError(t, err)
			assert.True(t, usr.IsActive)
			assert.Equal(t, ex.wantRoles, usr.Roles)
			assert.NoError(t, usr.CheckPassword(ex.pwd))
		})
	}

	usr, err := e.usrRepo.GetUser(context.Background(), user.GetFilter{ID: existing.ID})
	require.NoError(t, err)
	assert.Equal(t, "desk", usr.Username)
}

func Test_commandLine_resetPassword(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.usrRepo, "User", "awe", "awe@test.vn", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		ex, _ := tt.extra.(extra)
		mockPassword(ex.pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := e.cli.run(args)
			tt.check(t, err)
			if err == nil {
				refreshedUsr, err := e.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				if err != nil {
					t.Fatalf("GetUser() failed, %v", err)
				}
				if err := refreshedUsr.CheckPassword(ex.pwd); err != nil {
					t.Error("failed to update new password")
				}
			}
		})
	}
}

func Test_commandLine_audit(t *testing.T) {
	e := setup(t)
	teacher := testutil.CreateUser(t, e.usrRepo, "Teacher", "teacher", "teacher@test.vn", "", []string{user.RoleTeacher}, true)
	student := testutil.CreateUser(t, e.usrRepo, "Hero", "hero", "hero@test.vn", "", []string{user.RoleStudent}, true)
	class := testutil.CreateClass(t, e.catRepo, teacher.ID, decimal.NewFromInt(3000000), 10)

	clean := testutil.CreateRegistration(t, e.store, student.ID, class.ID, class.Tuition, decimal.Zero, ledger.StatusUnpaid)

	tests := []cliTest{
		{name: "unknown registration", args: []string{"audit", "-registration", "999"}, wantErr: ledger.ErrNotFound},
		{name: "clean registration", args: []string{"audit", "-registration", strconv.FormatInt(clean.ID, 10)}},
		{name: "clean ledger", args: []string{"audit"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, e.cli.run(args))
		})
	}

	// paid without any matching transaction
	other := testutil.CreateUser(t, e.usrRepo, "Other", "other", "other@test.vn", "", []string{user.RoleStudent}, true)
	drifting := testutil.CreateRegistration(t, e.store, other.ID, class.ID, class.Tuition, decimal.NewFromInt(500000), ledger.StatusUnpaid)

	e.out.Reset()
	err := e.cli.run([]string{"admin", "audit"})
	assert.Equal(t, errDrift, err)
	assert.Contains(t, e.out.String(), fmt.Sprintf("registration %d:", drifting.ID))
	assert.NotContains(t, e.out.String(), fmt.Sprintf("registration %d:", clean.ID))
	assert.Contains(t, e.out.String(), "2 registration(s) audited, 1 drifting")
}
