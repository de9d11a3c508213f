package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/anquinko/tuition/apps/api/echo"
	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
	emailsvc "github.com/anquinko/tuition/services/email"
	inmemdb "github.com/anquinko/tuition/storage/database/inmem"
	testutil "github.com/anquinko/tuition/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type env struct {
	conf    *core.Config
	app     echoapi.Server
	usrRepo user.Repository
	catRepo catalog.Repository
	store   ledger.Store
}

func setup(t *testing.T) *env {
	conf := core.NewTestConfig()
	logger := &testutil.Logger{T: t}
	db := inmemdb.Open()

	e := &env{
		conf:    conf,
		usrRepo: inmemdb.NewUserRepository(db),
		catRepo: inmemdb.NewCatalogRepository(db),
		store:   inmemdb.NewLedgerStore(db),
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)

	usrSvc := user.NewService(e.usrRepo)
	catSvc := catalog.NewService(e.catRepo)
	emailsvc.ClearSentMessages()

	e.app = echoapi.NewServer(
		echoapi.Options{DisableReqLogs: true},
		echoapi.Deps{
			Conf:       conf,
			Logger:     logger,
			Validate:   validate,
			Translator: translator,
			UserSvc:    usrSvc,
			CatalogSvc: catSvc,
			LedgerSvc: ledger.NewService(ledger.Deps{
				Conf:     conf,
				Store:    e.store,
				Catalog:  catSvc,
				Students: usrSvc,
				Mailer:   emailsvc.NewConsoleServiceMock(conf, logger),
				Logger:   logger,
			}),
		},
	)
	return e
}

func (e *env) token(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(e.conf, echoapi.GetUserClaims(e.conf, usr))
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	return token
}

func (e *env) newClass(t *testing.T, tuition int64, maxStudents int) catalog.ClassDetail {
	teacher := testutil.CreateUser(t, e.usrRepo, "Teacher", "teacher", "teacher@test.vn", "", []string{user.RoleTeacher}, true)
	return testutil.CreateClass(t, e.catRepo, teacher.ID, decimal.NewFromInt(tuition), maxStudents)
}

func (e *env) do(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	e.app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

// receipt mirrors ledger.Receipt for decoding responses.
type receipt struct {
	Registration ledger.Registration `json:"registration"`
	Transaction  ledger.Transaction  `json:"transaction"`
	Outcome      struct {
		Kind      string          `json:"kind"`
		Remaining decimal.Decimal `json:"remaining"`
	} `json:"outcome"`
	Message string `json:"message"`
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarchall(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), obj); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
