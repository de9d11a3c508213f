package inmemdb

import (
	"context"
	"sort"

	"github.com/anquinko/tuition/core/catalog"
)

type catalogRepository struct {
	db *DB
}

var _ catalog.Repository = (*catalogRepository)(nil) // interface compliance check

func NewCatalogRepository(db *DB) catalog.Repository {
	return &catalogRepository{db: db}
}

func (repo *catalogRepository) CreateCourse(_ context.Context, course catalog.Course) (catalog.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	course.ID = repo.db.nextID()
	repo.db.courses[course.ID] = course
	return course, nil
}

func (repo *catalogRepository) QueryCourses(_ context.Context) ([]catalog.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]catalog.Course, 0, len(repo.db.courses))
	for _, c := range repo.db.courses {
		courses = append(courses, c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses, nil
}

func (repo *catalogRepository) CreateLevel(_ context.Context, level catalog.Level) (catalog.Level, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	level.ID = repo.db.nextID()
	repo.db.levels[level.ID] = level
	return level, nil
}

func (repo *catalogRepository) QueryLevels(_ context.Context) ([]catalog.Level, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	levels := make([]catalog.Level, 0, len(repo.db.levels))
	for _, l := range repo.db.levels {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].ID < levels[j].ID })
	return levels, nil
}

func (repo *catalogRepository) GetLevel(_ context.Context, id int64) (catalog.Level, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if level, ok := repo.db.levels[id]; ok {
		return level, nil
	}
	return catalog.Level{}, catalog.ErrNotFound
}

func (repo *catalogRepository) UpdateLevel(_ context.Context, level catalog.Level) (catalog.Level, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.levels[level.ID]; !ok {
		return catalog.Level{}, catalog.ErrNotFound
	}
	repo.db.levels[level.ID] = level
	return level, nil
}

func (repo *catalogRepository) CreateClass(_ context.Context, class catalog.ClassRoom) (catalog.ClassRoom, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[class.CourseID]; !ok {
		return catalog.ClassRoom{}, catalog.ErrNotFound
	}
	if _, ok := repo.db.levels[class.LevelID]; !ok {
		return catalog.ClassRoom{}, catalog.ErrNotFound
	}
	class.ID = repo.db.nextID()
	repo.db.classes[class.ID] = class
	return class, nil
}

func (repo *catalogRepository) QueryClasses(_ context.Context, filter catalog.ClassFilter) ([]catalog.ClassDetail, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	classes := make([]catalog.ClassDetail, 0, len(repo.db.classes))
	for _, class := range repo.db.classes {
		if filter.CourseID != 0 && class.CourseID != filter.CourseID {
			continue
		}
		if filter.LevelID != 0 && class.LevelID != filter.LevelID {
			continue
		}
		if filter.ActiveOnly && !class.IsActive {
			continue
		}
		classes = append(classes, repo.detail(class))
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].StartTime.Before(classes[j].StartTime) })
	return classes, nil
}

func (repo *catalogRepository) GetClass(_ context.Context, id int64) (catalog.ClassDetail, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	class, ok := repo.db.classes[id]
	if !ok {
		return catalog.ClassDetail{}, catalog.ErrNotFound
	}
	return repo.detail(class), nil
}

func (repo *catalogRepository) detail(class catalog.ClassRoom) catalog.ClassDetail {
	course := repo.db.courses[class.CourseID]
	level := repo.db.levels[class.LevelID]
	return catalog.ClassDetail{
		ClassRoom:    class,
		CourseName:   course.Name,
		LevelName:    level.Name,
		Tuition:      level.Tuition,
		CurrentCount: repo.db.activeCount(class.ID),
	}
}
