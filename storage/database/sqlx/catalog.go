package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/catalog"
)

const classDetailQuery = `SELECT c.id, c.name, c.start_time, c.maximum_students, c.teacher_id, c.course_id, c.level_id,
	c.is_active, co.name AS course_name, l.name AS level_name, l.tuition,
	(SELECT COUNT(*) FROM registration r WHERE r.class_id = c.id AND r.is_active) AS current_count
	FROM class_room c
	JOIN course co ON co.id = c.course_id
	JOIN level l ON l.id = c.level_id`

type courseRow struct {
	ID          int64       `db:"id"`
	Name        string      `db:"name"`
	Description null.String `db:"description"`
	Content     string      `db:"content"`
	Period      float64     `db:"period"`
	IsActive    bool        `db:"is_active"`
}

type levelRow struct {
	ID       int64           `db:"id"`
	Name     string          `db:"name"`
	Tuition  decimal.Decimal `db:"tuition"`
	IsActive bool            `db:"is_active"`
}

type classDetailRow struct {
	ID              int64           `db:"id"`
	Name            null.String     `db:"name"`
	StartTime       time.Time       `db:"start_time"`
	MaximumStudents int             `db:"maximum_students"`
	TeacherID       int64           `db:"teacher_id"`
	CourseID        int64           `db:"course_id"`
	LevelID         int64           `db:"level_id"`
	IsActive        bool            `db:"is_active"`
	CourseName      string          `db:"course_name"`
	LevelName       string          `db:"level_name"`
	Tuition         decimal.Decimal `db:"tuition"`
	CurrentCount    int             `db:"current_count"`
}

func (row classDetailRow) unpack() catalog.ClassDetail {
	return catalog.ClassDetail{
		ClassRoom: catalog.ClassRoom{
			ID:              row.ID,
			Name:            row.Name.String,
			StartTime:       row.StartTime.UTC(),
			MaximumStudents: row.MaximumStudents,
			TeacherID:       row.TeacherID,
			CourseID:        row.CourseID,
			LevelID:         row.LevelID,
			IsActive:        row.IsActive,
		},
		CourseName:   row.CourseName,
		LevelName:    row.LevelName,
		Tuition:      row.Tuition,
		CurrentCount: row.CurrentCount,
	}
}

type catalogRepository struct {
	exec core.DBExecutor
}

var _ catalog.Repository = (*catalogRepository)(nil) // interface compliance check

func NewCatalogRepository(exec core.DBExecutor) catalog.Repository {
	return &catalogRepository{exec: exec}
}

func (repo *catalogRepository) CreateCourse(ctx context.Context, course catalog.Course) (catalog.Course, error) {
	q := `INSERT INTO course (name, description, content, period, is_active) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := repo.exec.QueryRowxContext(ctx, q,
		course.Name,
		null.NewString(course.Description, course.Description != ""),
		course.Content,
		course.Period,
		course.IsActive,
	).Scan(&course.ID)
	return course, errors.Wrap(err, "inserting course")
}

func (repo *catalogRepository) QueryCourses(ctx context.Context) ([]catalog.Course, error) {
	var rows []courseRow
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, `SELECT * FROM course ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]catalog.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, catalog.Course{
			ID:          row.ID,
			Name:        row.Name,
			Description: row.Description.String,
			Content:     row.Content,
			Period:      row.Period,
			IsActive:    row.IsActive,
		})
	}
	return courses, nil
}

func (repo *catalogRepository) CreateLevel(ctx context.Context, level catalog.Level) (catalog.Level, error) {
	q := `INSERT INTO level (name, tuition, is_active) VALUES ($1, $2, $3) RETURNING id`
	err := repo.exec.QueryRowxContext(ctx, q, level.Name, level.Tuition, level.IsActive).Scan(&level.ID)
	return level, errors.Wrap(err, "inserting level")
}

func (repo *catalogRepository) QueryLevels(ctx context.Context) ([]catalog.Level, error) {
	var rows []levelRow
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, `SELECT * FROM level ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "querying levels")
	}
	levels := make([]catalog.Level, 0, len(rows))
	for _, row := range rows {
		levels = append(levels, catalog.Level(row))
	}
	return levels, nil
}

func (repo *catalogRepository) GetLevel(ctx context.Context, id int64) (catalog.Level, error) {
	var row levelRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, `SELECT * FROM level WHERE id = $1`, id); err != nil {
		return catalog.Level{}, trapErr(err, catalog.ErrNotFound, "finding level")
	}
	return catalog.Level(row), nil
}

func (repo *catalogRepository) UpdateLevel(ctx context.Context, level catalog.Level) (catalog.Level, error) {
	res, err := repo.exec.ExecContext(ctx, `UPDATE level SET name = $1, tuition = $2, is_active = $3 WHERE id = $4`,
		level.Name, level.Tuition, level.IsActive, level.ID)
	if err != nil {
		return catalog.Level{}, errors.Wrap(err, "updating level")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.Level{}, catalog.ErrNotFound
	}
	return level, nil
}

func (repo *catalogRepository) CreateClass(ctx context.Context, class catalog.ClassRoom) (catalog.ClassRoom, error) {
	q := `INSERT INTO class_room (name, start_time, maximum_students, teacher_id, course_id, level_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := repo.exec.QueryRowxContext(ctx, q,
		null.NewString(class.Name, class.Name != ""),
		class.StartTime.UTC(),
		class.MaximumStudents,
		class.TeacherID,
		class.CourseID,
		class.LevelID,
		class.IsActive,
	).Scan(&class.ID)
	return class, errors.Wrap(err, "inserting class")
}

func (repo *catalogRepository) QueryClasses(ctx context.Context, filter catalog.ClassFilter) ([]catalog.ClassDetail, error) {
	var w where
	if filter.CourseID != 0 {
		w.add("c.course_id = ?", filter.CourseID)
	}
	if filter.LevelID != 0 {
		w.add("c.level_id = ?", filter.LevelID)
	}
	if filter.ActiveOnly {
		w.add("c.is_active")
	}

	var rows []classDetailRow
	q := repo.exec.Rebind(classDetailQuery + w.String() + ` ORDER BY c.start_time`)
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]catalog.ClassDetail, 0, len(rows))
	for _, row := range rows {
		classes = append(classes, row.unpack())
	}
	return classes, nil
}

func (repo *catalogRepository) GetClass(ctx context.Context, id int64) (catalog.ClassDetail, error) {
	var row classDetailRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, classDetailQuery+` WHERE c.id = $1`, id); err != nil {
		return catalog.ClassDetail{}, trapErr(err, catalog.ErrNotFound, "finding class")
	}
	return row.unpack(), nil
}
