package user

import "strings"

// Action is something an actor may be allowed to do.
type Action string

const (
	ActionManageUsers         Action = "manage_users"
	ActionManageCatalog       Action = "manage_catalog"
	ActionEnrollStudents      Action = "enroll_students"
	ActionCollectPayments     Action = "collect_payments"
	ActionCancelTransactions  Action = "cancel_transactions"
	ActionCancelRegistrations Action = "cancel_registrations"
	ActionSelfCheckout        Action = "self_checkout"
	ActionAuditLedger         Action = "audit_ledger"
)

var roleActions = map[string][]Action{
	RoleCashier: {ActionEnrollStudents, ActionCollectPayments, ActionCancelTransactions},
	RoleStudent: {ActionSelfCheckout},
}

// Can reports whether the actor may perform the given action.
// Admins can do everything; inactive users can do nothing.
func Can(actor User, action Action) bool {
	if !actor.IsActive {
		return false
	}
	if actor.IsAdmin() {
		return true
	}
	for _, role := range actor.Roles {
		for prefix, actions := range roleActions {
			if !strings.HasPrefix(role, prefix) {
				continue
			}
			for _, a := range actions {
				if a == action {
					return true
				}
			}
		}
	}
	return false
}
