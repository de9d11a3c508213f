package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/user"
)

type catalogApi struct {
	svc      catalog.Service
	validate *validator.Validate
}

func registerCatalogAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc catalog.Service,
	usrSvc user.Service,
	validate *validator.Validate,
) {
	api := catalogApi{svc: svc, validate: validate}
	manage := requireAction(usrSvc, user.ActionManageCatalog)

	// public price list
	g.GET("/courses", api.queryCourses)
	g.GET("/levels", api.queryLevels)
	g.GET("/classes", api.queryClasses)
	g.GET("/classes/:id", api.retrieveClass)
	g.GET("/classes/:id/tuition", api.classTuition)

	g.POST("/courses", api.createCourse, jwt, manage)
	g.POST("/levels", api.createLevel, jwt, manage)
	g.PUT("/levels/:id/tuition", api.updateLevelTuition, jwt, manage)
	g.POST("/classes", api.createClass, jwt, manage)
}

// Handlers

func (api *catalogApi) queryCourses(ctx echo.Context) error {
	courses, err := api.svc.Courses(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []catalog.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *catalogApi) queryLevels(ctx echo.Context) error {
	levels, err := api.svc.Levels(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying levels")
	}
	if levels == nil {
		levels = []catalog.Level{}
	}
	return ctx.JSON(http.StatusOK, levels)
}

func (api *catalogApi) queryClasses(ctx echo.Context) error {
	var filter catalog.ClassFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to ClassFilter")
	}

	classes, err := api.svc.Classes(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []catalog.ClassDetail{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *catalogApi) retrieveClass(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	class, err := api.svc.GetClass(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding class")
	}
	return ctx.JSON(http.StatusOK, class)
}

func (api *catalogApi) classTuition(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	tuition, err := api.svc.Tuition(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting class tuition")
	}
	return ctx.JSON(http.StatusOK, TuitionResponse{ClassID: id, Tuition: tuition})
}

func (api *catalogApi) createCourse(ctx echo.Context) error {
	var data catalog.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	data.Name = core.CleanString(data.Name)
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	course, err := api.svc.CreateCourse(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, course)
}

func (api *catalogApi) createLevel(ctx echo.Context) error {
	var data catalog.NewLevel
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLevel")
	}
	data.Name = core.CleanString(data.Name)
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	level, err := api.svc.CreateLevel(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating level")
	}
	return ctx.JSON(http.StatusCreated, level)
}

func (api *catalogApi) updateLevelTuition(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data catalog.UpdateTuition
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTuition")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	level, err := api.svc.UpdateLevelTuition(ctx.Request().Context(), id, data.Tuition)
	if err != nil {
		return errors.Wrap(err, "updating level tuition")
	}
	return ctx.JSON(http.StatusOK, level)
}

func (api *catalogApi) createClass(ctx echo.Context) error {
	var data catalog.NewClassRoom
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClassRoom")
	}
	data.Name = core.CleanString(data.Name)
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	class, err := api.svc.CreateClass(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, class)
}

type TuitionResponse struct {
	ClassID int64           `json:"class_id"`
	Tuition decimal.Decimal `json:"tuition"`
}
