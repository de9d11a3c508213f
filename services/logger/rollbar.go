package logsvc

import (
	"log"
	"strconv"
	"sync"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/user"
)

type RollbarLogger struct {
	std *log.Logger
	mu  *sync.Mutex // rollbar's person is global
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{std: std, mu: &sync.Mutex{}}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Close waits for queued items to be sent to Rollbar.
func (l RollbarLogger) Close() {
	rollbar.Close()
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) (rbArgs, stdArgs []interface{}) {
	var usrSet bool
	rbArgs = make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	for _, arg := range args {
		// set the acting User
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only set one User
				rollbar.SetPerson(strconv.FormatInt(usr.ID, 10), usr.Username, usr.Email)
				usrSet = true
				stdArgs = append(stdArgs, "user="+usr.Username)
			}
		} else {
			rbArgs = append(rbArgs, arg)
			stdArgs = append(stdArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return rbArgs, stdArgs
}

func (l RollbarLogger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rbArgs, stdArgs := l.prepare(msg, args)
	switch level {
	case rollbar.DEBUG:
		rollbar.Debug(rbArgs...)
	case rollbar.INFO:
		rollbar.Info(rbArgs...)
	case rollbar.WARN:
		rollbar.Warning(rbArgs...)
	case rollbar.ERR:
		rollbar.Error(rbArgs...)
	default:
		rollbar.Critical(rbArgs...)
	}

	l.std.Println(msg)
	for _, arg := range stdArgs {
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	l.log(rollbar.DEBUG, msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.log(rollbar.INFO, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.log(rollbar.WARN, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.log(rollbar.ERR, msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.CRIT, msg, args)
	rollbar.Close()
	l.std.Fatal(msg)
}
