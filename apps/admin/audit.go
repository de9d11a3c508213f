package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/anquinko/tuition/core/ledger"
)

// audit prints every drifting registration and fails if there is any.
func (cli *commandLine) audit(regID int64) error {
	ctx := context.Background()

	var reports []ledger.AuditReport
	if regID != 0 {
		report, err := cli.ledgerSvc.Audit(ctx, regID)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	} else {
		var err error
		if reports, err = cli.ledgerSvc.AuditAll(ctx); err != nil {
			return err
		}
	}

	drifts := 0
	for _, report := range reports {
		if report.OK() {
			continue
		}
		drifts++
		fmt.Fprintf(cli.out, "registration %d: paid %s, transactions %s, status %s (expected %s): %s\n",
			report.RegistrationID, report.Paid, report.SuccessTotal, report.Status, report.ExpectedStatus,
			strings.Join(report.Problems, "; "))
	}
	fmt.Fprintf(cli.out, "%d registration(s) audited, %d drifting\n", len(reports), drifts)
	if drifts > 0 {
		return errDrift
	}
	return nil
}
