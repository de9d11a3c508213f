package catalog

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const defaultMaximumStudents = 25

var (
	ErrNotFound = errors.New("catalog: not found")
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, course Course) (Course, error)
		QueryCourses(ctx context.Context) ([]Course, error)
		CreateLevel(ctx context.Context, level Level) (Level, error)
		QueryLevels(ctx context.Context) ([]Level, error)
		GetLevel(ctx context.Context, id int64) (Level, error)
		UpdateLevel(ctx context.Context, level Level) (Level, error)
		CreateClass(ctx context.Context, class ClassRoom) (ClassRoom, error)
		QueryClasses(ctx context.Context, filter ClassFilter) ([]ClassDetail, error)
		GetClass(ctx context.Context, id int64) (ClassDetail, error)
	}

	Service interface {
		CreateCourse(ctx context.Context, nc NewCourse) (Course, error)
		Courses(ctx context.Context) ([]Course, error)
		CreateLevel(ctx context.Context, nl NewLevel) (Level, error)
		Levels(ctx context.Context) ([]Level, error)
		UpdateLevelTuition(ctx context.Context, levelID int64, tuition decimal.Decimal) (Level, error)
		CreateClass(ctx context.Context, nc NewClassRoom) (ClassRoom, error)
		Classes(ctx context.Context, filter ClassFilter) ([]ClassDetail, error)
		GetClass(ctx context.Context, id int64) (ClassDetail, error)
		Tuition(ctx context.Context, classID int64) (decimal.Decimal, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) CreateCourse(ctx context.Context, nc NewCourse) (Course, error) {
	return svc.repo.CreateCourse(ctx, Course{
		Name:        nc.Name,
		Description: nc.Description,
		Content:     nc.Content,
		Period:      nc.Period,
		IsActive:    true,
	})
}

func (svc *service) Courses(ctx context.Context) ([]Course, error) {
	return svc.repo.QueryCourses(ctx)
}

func (svc *service) CreateLevel(ctx context.Context, nl NewLevel) (Level, error) {
	return svc.repo.CreateLevel(ctx, Level{Name: nl.Name, Tuition: nl.Tuition, IsActive: true})
}

func (svc *service) Levels(ctx context.Context) ([]Level, error) {
	return svc.repo.QueryLevels(ctx)
}

// UpdateLevelTuition changes the price list; registrations keep the tuition fixed at enrollment.
func (svc *service) UpdateLevelTuition(ctx context.Context, levelID int64, tuition decimal.Decimal) (Level, error) {
	level, err := svc.repo.GetLevel(ctx, levelID)
	if err != nil {
		return Level{}, pkgerrors.Wrap(err, "finding level")
	}
	level.Tuition = tuition
	return svc.repo.UpdateLevel(ctx, level)
}

func (svc *service) CreateClass(ctx context.Context, nc NewClassRoom) (ClassRoom, error) {
	maxStu := nc.MaximumStudents
	if maxStu == 0 {
		maxStu = defaultMaximumStudents
	}
	return svc.repo.CreateClass(ctx, ClassRoom{
		Name:            nc.Name,
		StartTime:       nc.StartTime.UTC(),
		MaximumStudents: maxStu,
		TeacherID:       nc.TeacherID,
		CourseID:        nc.CourseID,
		LevelID:         nc.LevelID,
		IsActive:        true,
	})
}

func (svc *service) Classes(ctx context.Context, filter ClassFilter) ([]ClassDetail, error) {
	return svc.repo.QueryClasses(ctx, filter)
}

func (svc *service) GetClass(ctx context.Context, id int64) (ClassDetail, error) {
	return svc.repo.GetClass(ctx, id)
}

func (svc *service) Tuition(ctx context.Context, classID int64) (decimal.Decimal, error) {
	class, err := svc.repo.GetClass(ctx, classID)
	if err != nil {
		return decimal.Zero, err
	}
	return class.Tuition, nil
}
