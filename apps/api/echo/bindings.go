package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/ledger"
)

var orderingParam = "ordering"

const dateLayout = "2006-01-02"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// paramID reads a positive int64 path param; anything else is a 404.
func paramID(ctx echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// RegistrationQuery holds the query params of the registrations search.
type RegistrationQuery struct {
	Search    string   `query:"search"`
	StudentID int64    `query:"student_id"`
	ClassID   int64    `query:"class_id"`
	Statuses  []string `query:"status"`
	Unpaid    bool     `query:"unpaid"`
	Active    bool     `query:"active"`
}

func (rq RegistrationQuery) Filter() (*ledger.RegistrationFilter, error) {
	filter := &ledger.RegistrationFilter{
		Search:     core.CleanString(rq.Search),
		StudentID:  rq.StudentID,
		ClassID:    rq.ClassID,
		ActiveOnly: rq.Active,
	}
	if rq.Unpaid {
		filter.Statuses = []ledger.TuitionStatus{ledger.StatusUnpaid, ledger.StatusPartial}
		filter.ActiveOnly = true
		return filter, nil
	}
	for _, s := range splitValues(rq.Statuses) {
		status, err := ledger.ParseTuitionStatus(s)
		if err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "status", Error: errors.Cause(err).Error()})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

// TransactionQuery holds the query params of the transactions listing.
type TransactionQuery struct {
	RegistrationID int64    `query:"registration_id"`
	Search         string   `query:"search"`
	Statuses       []string `query:"status"`
	Methods        []string `query:"method"`
	DateFrom       string   `query:"date_from"` // YYYY-MM-DD
	DateTo         string   `query:"date_to"`   // YYYY-MM-DD, inclusive
}

func (tq TransactionQuery) Filter() (*ledger.TransactionFilter, error) {
	filter := &ledger.TransactionFilter{
		RegistrationID: tq.RegistrationID,
		Search:         core.CleanString(tq.Search),
	}
	if tq.DateFrom != "" {
		from, err := time.Parse(dateLayout, tq.DateFrom)
		if err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "date_from", Error: "date must be formatted as YYYY-MM-DD"})
		}
		filter.DateFrom = from
	}
	if tq.DateTo != "" {
		to, err := time.Parse(dateLayout, tq.DateTo)
		if err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "date_to", Error: "date must be formatted as YYYY-MM-DD"})
		}
		filter.DateTo = to.Add(24*time.Hour - time.Nanosecond)
	}
	for _, s := range splitValues(tq.Statuses) {
		status, err := ledger.ParsePaymentStatus(s)
		if err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "status", Error: errors.Cause(err).Error()})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, m := range splitValues(tq.Methods) {
		method, err := ledger.ParseMethod(m)
		if err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "method", Error: errors.Cause(err).Error()})
		}
		filter.Methods = append(filter.Methods, method)
	}
	return filter, nil
}

// splitValues accepts both `?status=a&status=b` and `?status=a,b`.
func splitValues(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
