package echoapi_test

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/anquinko/tuition/apps/api/echo"
	"github.com/anquinko/tuition/core/user"
	testutil "github.com/anquinko/tuition/tests"
)

const testPwd = "LolC@t123"

func Test_home(t *testing.T) {
	e := setup(t)
	rec := e.do(t, httpTest{method: http.MethodGet, path: "/"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Anquinko API!", rec.Body.String())
}

func Test_userApi_login(t *testing.T) {
	e := setup(t)
	testutil.CreateUser(t, e.usrRepo, "Cashier", "cashier", "cashier@test.vn", testPwd, []string{user.RoleCashier}, true)
	testutil.CreateUser(t, e.usrRepo, "N Dog", "ndog", "ndog@test.vn", testPwd, []string{user.RoleStudent}, false)

	reqMsg := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, echoapi.LoginRequest{Username: reqMsg, Password: reqMsg}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "lol", Password: testPwd}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "cashier", Password: "lol"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", wantCode: http.StatusForbidden,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "ndog", Password: testPwd}),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "by username", wantCode: http.StatusOK,
			body: marchallObj(t, echoapi.LoginRequest{Username: " Cashier ", Password: testPwd}),
		},
		{
			name: "by email", wantCode: http.StatusOK,
			body: marchallObj(t, echoapi.LoginRequest{Username: "cashier@test.vn", Password: testPwd}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt)
			checkCodeAndData(t, tt, rec)

			// cannot guess the token.. just check that it's a valid one
			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				unmarchall(t, rec, &resp)
				claims := new(echoapi.Claims)
				_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
					return []byte(e.conf.SecretKey), nil
				})
				require.NoError(t, err)
				assert.Equal(t, "cashier", claims.Username)
				assert.True(t, claims.IsCashier)
			}
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	e := setup(t)
	naughty := testutil.CreateUser(t, e.usrRepo, "N Dog", "ndog", "ndog@test.vn", "", []string{user.RoleStudent}, false)
	student := testutil.CreateUser(t, e.usrRepo, "Hero", "hero", "hero@test.vn", "", []string{user.RoleStudent}, true)

	unrefreshableClaims := echoapi.GetUserClaims(e.conf, student)
	unrefreshableClaims.OrigIssuedAt = time.Now().Add(-2 * e.conf.Server.JWTRefreshExpirationDelta).Unix() // older than threshold
	unrefreshableToken, err := echoapi.GenerateToken(e.conf, unrefreshableClaims)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Inactive user not allowed", token: e.token(t, naughty), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		},
		{name: "Token refreshed", token: e.token(t, student), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				unmarchall(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
			}
		})
	}
}

func Test_userApi_me(t *testing.T) {
	e := setup(t)
	student := testutil.CreateUser(t, e.usrRepo, "Hero", "hero", "hero@test.vn", "", []string{user.RoleStudent}, true)
	ghost := user.User{ID: 999, Username: "ghost", IsActive: true}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Bad token", token: "lol", wantCode: http.StatusUnauthorized},
		{
			name: "Deleted user", token: e.token(t, ghost), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "user not authenticated"}),
		},
		{name: "Current user", token: e.token(t, student), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/v1/users/me"

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var usr user.User
				unmarchall(t, rec, &usr)
				assert.Equal(t, student.ID, usr.ID)
				assert.Equal(t, student.Username, usr.Username)
			}
		})
	}
}

func Test_userApi_create(t *testing.T) {
	e := setup(t)
	admin := testutil.CreateUser(t, e.usrRepo, "Admin", "admin", "admin@test.vn", "", []string{user.RoleAdmin}, true)
	cashier := testutil.CreateUser(t, e.usrRepo, "Cashier", "cashier", "cashier@test.vn", "", []string{user.RoleCashier}, true)
	adminToken := e.token(t, admin)

	newUser := func(uname string, roles ...string) user.NewUser {
		return user.NewUser{
			Name:            "Front Desk",
			Username:        uname,
			Password:        testPwd,
			PasswordConfirm: testPwd,
			Roles:           roles,
		}
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Cashier cannot manage users", token: e.token(t, cashier), wantCode: http.StatusForbidden,
			body:     marchallObj(t, newUser("desk", user.RoleCashier)),
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Username taken", token: adminToken, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, newUser("cashier", user.RoleCashier)),
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "Role above own", token: adminToken, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, newUser("owner", user.RoleAdminOwner)),
			wantData: marchallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{
			name: "Invalid role", token: adminToken, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, newUser("desk", "lol")),
			wantData: marchallObj(t, map[string]string{"roles": "invalid roles"}),
		},
		{name: "Created", token: adminToken, wantCode: http.StatusCreated, body: marchallObj(t, newUser("desk", user.RoleCashier))},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusCreated {
				var usr user.User
				unmarchall(t, rec, &usr)
				assert.Equal(t, "desk", usr.Username)
				assert.Equal(t, []string{user.RoleCashier}, usr.Roles)
				assert.True(t, usr.IsActive)
			}
		})
	}
}

func Test_userApi_query(t *testing.T) {
	e := setup(t)
	admin := testutil.CreateUser(t, e.usrRepo, "Admin", "admin", "admin@test.vn", "", []string{user.RoleAdmin}, true)
	cashier := testutil.CreateUser(t, e.usrRepo, "Cashier", "cashier", "cashier@test.vn", "", []string{user.RoleCashier}, true)
	student := testutil.CreateUser(t, e.usrRepo, "Hero", "hero", "hero@test.vn", "", []string{user.RoleStudent}, true)
	adminToken := e.token(t, admin)

	path := func(search, ordering string, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}

	tests := []struct {
		httpTest
		wantIDs []int64
	}{
		{httpTest: httpTest{name: "Auth required", path: path("", ""), wantCode: http.StatusUnauthorized}},
		{httpTest: httpTest{name: "Student forbidden", path: path("", ""), token: e.token(t, student), wantCode: http.StatusForbidden}},
		{httpTest: httpTest{name: "search (unknown)", path: path("lol", ""), token: adminToken, wantCode: http.StatusOK}, wantIDs: []int64{}},
		{
			httpTest: httpTest{name: "role=cashier:", path: path("", "", user.RoleCashier), token: adminToken, wantCode: http.StatusOK},
			wantIDs:  []int64{cashier.ID},
		},
		{
			httpTest: httpTest{name: "order by name", path: path("", "name"), token: adminToken, wantCode: http.StatusOK},
			wantIDs:  []int64{admin.ID, cashier.ID, student.ID},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.httpTest)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantIDs != nil {
				var users []user.User
				unmarchall(t, rec, &users)
				ids := make([]int64, 0, len(users))
				for _, usr := range users {
					ids = append(ids, usr.ID)
				}
				assert.Equal(t, tt.wantIDs, ids)
			}
		})
	}
}
