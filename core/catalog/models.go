package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type Course struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Content     string  `json:"content"`
	Period      float64 `json:"period"` // in months
	IsActive    bool    `json:"is_active"`
}

// Level carries the tuition price of every class taught at that level.
type Level struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Tuition  decimal.Decimal `json:"tuition"`
	IsActive bool            `json:"is_active"`
}

type ClassRoom struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	StartTime       time.Time `json:"start_time"`
	MaximumStudents int       `json:"maximum_students"`
	TeacherID       int64     `json:"teacher_id"`
	CourseID        int64     `json:"course_id"`
	LevelID         int64     `json:"level_id"`
	IsActive        bool      `json:"is_active"`
}

// ClassDetail enriches ClassRoom with its course, level and current enrollment count.
type ClassDetail struct {
	ClassRoom
	CourseName   string          `json:"course_name"`
	LevelName    string          `json:"level_name"`
	Tuition      decimal.Decimal `json:"tuition"`
	CurrentCount int             `json:"current_count"`
}

func (cd ClassDetail) IsFull() bool {
	return cd.MaximumStudents > 0 && cd.CurrentCount >= cd.MaximumStudents
}

// DisplayName is the name shown to students, ie: "IELTS - 6.5".
func (cd ClassDetail) DisplayName() string {
	if cd.Name != "" {
		return cd.Name
	}
	return cd.CourseName + " - " + cd.LevelName
}

type ClassFilter struct {
	CourseID   int64 `query:"course_id"`
	LevelID    int64 `query:"level_id"`
	ActiveOnly bool  `query:"active"`
}

type NewCourse struct {
	Name        string  `json:"name" validate:"required,max=50"`
	Description string  `json:"description" validate:"omitempty,max=500"`
	Content     string  `json:"content" validate:"required,max=500"`
	Period      float64 `json:"period" validate:"gte=0"`
}

type NewLevel struct {
	Name    string          `json:"name" validate:"required,max=50"`
	Tuition decimal.Decimal `json:"tuition" validate:"money"`
}

type NewClassRoom struct {
	Name            string    `json:"name" validate:"omitempty,max=50"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	MaximumStudents int       `json:"maximum_students" validate:"gte=0"`
	TeacherID       int64     `json:"teacher_id" validate:"required"`
	CourseID        int64     `json:"course_id" validate:"required"`
	LevelID         int64     `json:"level_id" validate:"required"`
}

type UpdateTuition struct {
	Tuition decimal.Decimal `json:"tuition" validate:"money"`
}
