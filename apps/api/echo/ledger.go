package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
)

type ledgerApi struct {
	svc      ledger.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerLedgerAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc ledger.Service,
	usrSvc user.Service,
	validate *validator.Validate,
) {
	api := ledgerApi{svc: svc, usrSvc: usrSvc, validate: validate}
	can := func(action user.Action) echo.MiddlewareFunc { return requireAction(usrSvc, action) }

	rg := g.Group("/registrations", jwt)
	rg.GET("", api.queryRegistrations, can(user.ActionCollectPayments))
	rg.POST("", api.enroll, can(user.ActionEnrollStudents))
	rg.GET("/mine", api.queryOwnRegistrations, requireActiveUser(usrSvc))
	rg.GET("/:id", api.retrieveRegistration, can(user.ActionCollectPayments))
	rg.POST("/:id/payments", api.applyPayment, can(user.ActionCollectPayments))
	rg.POST("/:id/revert", api.revertPayment, can(user.ActionCancelTransactions))
	rg.POST("/:id/cancel", api.cancelRegistration, can(user.ActionCancelRegistrations))
	rg.GET("/:id/audit", api.auditRegistration, can(user.ActionAuditLedger))

	tg := g.Group("/transactions", jwt)
	tg.GET("", api.queryTransactions, can(user.ActionCollectPayments))
	tg.DELETE("/:id", api.cancelTransaction, can(user.ActionCancelTransactions))

	g.POST("/checkout", api.checkout, jwt, can(user.ActionSelfCheckout))
}

// Handlers

func (api *ledgerApi) queryRegistrations(ctx echo.Context) error {
	var query RegistrationQuery
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to RegistrationQuery")
	}

	var (
		regs []ledger.RegistrationDetail
		err  error
	)
	if query.Unpaid {
		regs, err = api.svc.QueryUnpaid(ctx.Request().Context(), core.CleanString(query.Search))
	} else {
		var filter *ledger.RegistrationFilter
		if filter, err = query.Filter(); err != nil {
			return err
		}
		regs, err = api.svc.QueryRegistrations(ctx.Request().Context(), filter)
	}
	if err != nil {
		return errors.Wrap(err, "querying registrations")
	}
	if regs == nil {
		regs = []ledger.RegistrationDetail{}
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (api *ledgerApi) queryOwnRegistrations(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	regs, err := api.svc.QueryRegistrations(ctx.Request().Context(), &ledger.RegistrationFilter{StudentID: usr.ID})
	if err != nil {
		return errors.Wrap(err, "querying registrations")
	}
	if regs == nil {
		regs = []ledger.RegistrationDetail{}
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (api *ledgerApi) enroll(ctx echo.Context) error {
	var data ledger.NewRegistration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRegistration")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reg, err := api.svc.Enroll(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, reg)
}

func (api *ledgerApi) retrieveRegistration(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	detail, err := api.svc.GetRegistration(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding registration")
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *ledgerApi) applyPayment(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data ledger.NewPayment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	receipt, err := api.svc.ApplyPayment(ctx.Request().Context(), actor, id, data)
	if err != nil {
		return errors.Wrap(err, "applying payment")
	}
	return ctx.JSON(http.StatusCreated, receipt)
}

func (api *ledgerApi) revertPayment(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data RevertRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RevertRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reg, err := api.svc.RevertPayment(ctx.Request().Context(), actor, id, data.Amount)
	if err != nil {
		return errors.Wrap(err, "reverting payment")
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *ledgerApi) cancelRegistration(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reg, err := api.svc.CancelRegistration(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "cancelling registration")
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *ledgerApi) auditRegistration(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	report, err := api.svc.Audit(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "auditing registration")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *ledgerApi) queryTransactions(ctx echo.Context) error {
	var query TransactionQuery
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to TransactionQuery")
	}
	filter, err := query.Filter()
	if err != nil {
		return err
	}

	txs, err := api.svc.QueryTransactions(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying transactions")
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return ctx.JSON(http.StatusOK, txs)
}

func (api *ledgerApi) cancelTransaction(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	result, err := api.svc.CancelTransaction(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "cancelling transaction")
	}
	return ctx.JSON(http.StatusOK, result)
}

func (api *ledgerApi) checkout(ctx echo.Context) error {
	var data ledger.NewCheckout
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCheckout")
	}
	data.Name = core.CleanString(data.Name)
	data.Phone = core.CleanString(data.Phone)
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	receipt, err := api.svc.Checkout(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "checking out")
	}
	return ctx.JSON(http.StatusCreated, receipt)
}

type RevertRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"money"`
}
