package echoapi_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/anquinko/tuition/apps/api/echo"
	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
	testutil "github.com/anquinko/tuition/tests"
)

func Test_catalogApi_classes(t *testing.T) {
	e := setupLedger(t, 3000000, 10)
	testutil.CreateRegistration(t, e.store, e.student.ID, e.class.ID, e.class.Tuition, decimal.Zero, ledger.StatusUnpaid)

	rec := e.do(t, httpTest{method: http.MethodGet, path: fmt.Sprintf("/v1/classes?course_id=%d", e.class.CourseID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var classes []catalog.ClassDetail
	unmarchall(t, rec, &classes)
	require.Len(t, classes, 1)
	assert.Equal(t, e.class.ID, classes[0].ID)
	assert.Equal(t, 1, classes[0].CurrentCount)

	rec = e.do(t, httpTest{method: http.MethodGet, path: "/v1/classes?course_id=999"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = e.do(t, httpTest{method: http.MethodGet, path: "/v1/classes/999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_catalogApi_updateLevelTuition(t *testing.T) {
	e := setupLedger(t, 3000000, 10)
	reg := testutil.CreateRegistration(t, e.store, e.student.ID, e.class.ID, e.class.Tuition, decimal.Zero, ledger.StatusUnpaid)
	path := fmt.Sprintf("/v1/levels/%d/tuition", e.class.LevelID)
	tuition := func(a string) []byte { return marchallObj(t, map[string]string{"tuition": a}) }

	tests := []httpTest{
		{name: "Auth required", path: path, body: tuition("3500000"), wantCode: http.StatusUnauthorized},
		{name: "Cashier forbidden", path: path, token: e.token(t, e.cashier), body: tuition("3500000"), wantCode: http.StatusForbidden},
		{name: "unknown level", path: "/v1/levels/999/tuition", token: e.token(t, e.admin), body: tuition("3500000"), wantCode: http.StatusNotFound},
		{
			name: "invalid tuition", path: path, token: e.token(t, e.admin), body: tuition("-1"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"tuition": "tuition must be a positive amount"}),
		},
		{name: "updated", path: path, token: e.token(t, e.admin), body: tuition("3500000"), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPut

		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt)
			checkCodeAndData(t, tt, rec)
		})
	}

	// the new price applies to new enrollments only
	rec := e.do(t, httpTest{method: http.MethodGet, path: fmt.Sprintf("/v1/classes/%d/tuition", e.class.ID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp echoapi.TuitionResponse
	unmarchall(t, rec, &resp)
	assert.True(t, resp.Tuition.Equal(decimal.NewFromInt(3500000)), "tuition = %s", resp.Tuition)

	rec = e.do(t, httpTest{method: http.MethodGet, path: fmt.Sprintf("/v1/registrations/%d", reg.ID), token: e.token(t, e.cashier)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var detail ledger.RegistrationDetail
	unmarchall(t, rec, &detail)
	assert.True(t, detail.ActualTuition.Equal(decimal.NewFromInt(3000000)), "actual tuition = %s", detail.ActualTuition)
}

func Test_catalogApi_create(t *testing.T) {
	e := setupLedger(t, 3000000, 10)
	adminToken := e.token(t, e.admin)
	teacher := testutil.CreateUser(t, e.usrRepo, "Co Lan", "colan", "colan@test.vn", "", []string{user.RoleTeacher}, true)

	rec := e.do(t, httpTest{
		method: http.MethodPost, path: "/v1/courses", token: adminToken,
		body: marchallObj(t, catalog.NewCourse{Name: "TOEIC", Content: "Listening & Reading", Period: 2}),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var course catalog.Course
	unmarchall(t, rec, &course)

	rec = e.do(t, httpTest{
		method: http.MethodPost, path: "/v1/levels", token: adminToken,
		body: marchallObj(t, map[string]string{"name": "650+", "tuition": "4200000"}),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var level catalog.Level
	unmarchall(t, rec, &level)

	rec = e.do(t, httpTest{
		method: http.MethodPost, path: "/v1/classes", token: adminToken,
		body: marchallObj(t, catalog.NewClassRoom{
			StartTime: e.class.StartTime,
			TeacherID: teacher.ID,
			CourseID:  course.ID,
			LevelID:   level.ID,
		}),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var class catalog.ClassRoom
	unmarchall(t, rec, &class)
	assert.Equal(t, 25, class.MaximumStudents)

	rec = e.do(t, httpTest{method: http.MethodGet, path: fmt.Sprintf("/v1/classes/%d/tuition", class.ID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp echoapi.TuitionResponse
	unmarchall(t, rec, &resp)
	assert.True(t, resp.Tuition.Equal(decimal.NewFromInt(4200000)))

	rec = e.do(t, httpTest{
		method: http.MethodPost, path: "/v1/courses", token: e.token(t, e.cashier),
		body: marchallObj(t, catalog.NewCourse{Name: "TOEIC", Content: "Listening & Reading"}),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
