package testutil

import (
	"context"
	"log"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
	"github.com/anquinko/tuition/storage/database"
)

// Logger is a core.Logger that discards everything but errors, which are reported to the test.
type Logger struct {
	T *testing.T
}

var _ core.Logger = (*Logger)(nil)

func (l Logger) Debug(string, ...interface{}) {}
func (l Logger) Info(string, ...interface{})  {}
func (l Logger) Warn(string, ...interface{})  {}

func (l Logger) Error(msg string, args ...interface{}) {
	if l.T != nil {
		l.T.Logf("ERROR %s %v", msg, args)
	}
}

func (l Logger) Fatal(msg string, args ...interface{}) {
	if l.T == nil {
		log.Fatal(msg)
	}
	l.T.Fatalf("FATAL %s %v", msg, args)
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateClass creates a course, a level priced at tuition and a class of that level.
func CreateClass(t *testing.T, repo catalog.Repository, teacherID int64, tuition decimal.Decimal, maxStudents int) catalog.ClassDetail {
	ctx := context.Background()
	course, err := repo.CreateCourse(ctx, catalog.Course{Name: "IELTS", Content: "Academic IELTS", Period: 3, IsActive: true})
	if err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	level, err := repo.CreateLevel(ctx, catalog.Level{Name: "6.5", Tuition: tuition, IsActive: true})
	if err != nil {
		t.Fatalf("createLevel() failed: %v", err)
	}
	class, err := repo.CreateClass(ctx, catalog.ClassRoom{
		Name:            "IELTS 6.5 - " + strconv.FormatInt(level.ID, 10),
		StartTime:       time.Date(2021, time.March, 1, 18, 0, 0, 0, time.UTC),
		MaximumStudents: maxStudents,
		TeacherID:       teacherID,
		CourseID:        course.ID,
		LevelID:         level.ID,
		IsActive:        true,
	})
	if err != nil {
		t.Fatalf("createClass() failed: %v", err)
	}
	detail, err := repo.GetClass(ctx, class.ID)
	if err != nil {
		t.Fatalf("getClass() failed: %v", err)
	}
	return detail
}

// CreateRegistration stores a registration directly, bypassing the ledger rules.
func CreateRegistration(t *testing.T, store ledger.Store, studentID, classID int64, tuition, paid decimal.Decimal, status ledger.TuitionStatus) ledger.Registration {
	now := time.Now().UTC()
	reg, err := store.CreateRegistration(context.Background(), ledger.Registration{
		StudentID:     studentID,
		ClassID:       classID,
		ActualTuition: tuition,
		Paid:          paid,
		Status:        status,
		IsActive:      status != ledger.StatusCancelled,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("createRegistration() failed: %v", err)
	}
	return reg
}

// PrepareDB opens the test database and migrates it from scratch.
// The test is skipped when TEST_DATABASE_HOST is not set.
func PrepareDB(t *testing.T) *sqlx.DB {
	host := os.Getenv("TEST_DATABASE_HOST")
	if host == "" {
		t.Skip("TEST_DATABASE_HOST not set, skipping database test")
	}

	conf := core.NewTestConfig()
	conf.Database = core.DatabaseConfig{
		Engine:        "postgres",
		Host:          host,
		Port:          5432,
		Name:          envOr("TEST_DATABASE_NAME", "anquinko_test"),
		User:          envOr("TEST_DATABASE_USER", "anquinko"),
		Password:      envOr("TEST_DATABASE_PASSWORD", "anquinko"),
		AdminUser:     envOr("TEST_DATABASE_ADMIN_USER", "postgres"),
		AdminPassword: envOr("TEST_DATABASE_ADMIN_PASSWORD", "postgres"),
		DisableTLS:    true,
	}
	if port, err := strconv.Atoi(os.Getenv("TEST_DATABASE_PORT")); err == nil {
		conf.Database.Port = port
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("database.CreateIfNotExist() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("database.Open() failed: %v", err)
	}
	if err = database.Migrate(db.DB, "reset"); err != nil {
		t.Fatalf("database.Migrate(reset) failed: %v", err)
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		t.Fatalf("database.Migrate(up) failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
