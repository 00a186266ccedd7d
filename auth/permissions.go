package auth

// Permission names one guarded operation.
type Permission string

// All operation permissions.
const (
	PermDraftView    Permission = "draft:view"
	PermDraftCreate  Permission = "draft:create"
	PermDraftEdit    Permission = "draft:edit"
	PermDraftAcquire Permission = "draft:acquire"
	PermDraftConfirm Permission = "draft:confirm"
	PermDraftReject  Permission = "draft:reject"

	PermTicketView     Permission = "ticket:view"
	PermTicketGenerate Permission = "ticket:generate"
	PermTicketBump     Permission = "ticket:bump"
	PermTicketHold     Permission = "ticket:hold"
	PermTicketFire     Permission = "ticket:fire"
	PermTicketVoid     Permission = "ticket:void"
	PermTicketReassign Permission = "ticket:reassign"
	PermTicketReprint  Permission = "ticket:reprint"

	PermOrderView     Permission = "order:view"
	PermOrderCreate   Permission = "order:create"
	PermOrderComplete Permission = "order:complete"
	PermOrderCancel   Permission = "order:cancel"
	PermOrderDiscount Permission = "order:discount"

	PermPaymentView    Permission = "payment:view"
	PermPaymentProcess Permission = "payment:process"
	PermPaymentRefund  Permission = "payment:refund"

	PermShiftOpen      Permission = "shift:open"
	PermShiftClose     Permission = "shift:close"
	PermShiftReconcile Permission = "shift:reconcile"
	PermShiftView      Permission = "shift:view"
	PermCashDrop       Permission = "cash:drop"
	PermCashAdjust     Permission = "cash:adjust"
	PermTipPayout      Permission = "cash:tip_payout"

	PermSessionManage Permission = "session:manage"
)

var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAdmin: permSet(
		PermDraftView, PermDraftCreate, PermDraftEdit, PermDraftAcquire, PermDraftConfirm, PermDraftReject,
		PermTicketView, PermTicketGenerate, PermTicketBump, PermTicketHold, PermTicketFire, PermTicketVoid,
		PermTicketReassign, PermTicketReprint,
		PermOrderView, PermOrderCreate, PermOrderComplete, PermOrderCancel, PermOrderDiscount,
		PermPaymentView, PermPaymentProcess, PermPaymentRefund,
		PermShiftOpen, PermShiftClose, PermShiftReconcile, PermShiftView,
		PermCashDrop, PermCashAdjust, PermTipPayout,
		PermSessionManage,
	),
	RoleManager: permSet(
		PermDraftView, PermDraftCreate, PermDraftEdit, PermDraftAcquire, PermDraftConfirm, PermDraftReject,
		PermTicketView, PermTicketGenerate, PermTicketBump, PermTicketHold, PermTicketFire, PermTicketVoid,
		PermTicketReassign, PermTicketReprint,
		PermOrderView, PermOrderCreate, PermOrderComplete, PermOrderCancel, PermOrderDiscount,
		PermPaymentView, PermPaymentProcess, PermPaymentRefund,
		PermShiftOpen, PermShiftClose, PermShiftReconcile, PermShiftView,
		PermCashDrop, PermCashAdjust, PermTipPayout,
		PermSessionManage,
	),
	RoleWaiter: permSet(
		PermDraftView, PermDraftCreate, PermDraftEdit, PermDraftAcquire, PermDraftConfirm, PermDraftReject,
		PermTicketView, PermTicketGenerate, PermTicketReprint,
		PermOrderView, PermOrderCreate, PermOrderComplete,
		PermPaymentView, PermPaymentProcess,
		PermShiftOpen, PermShiftClose, PermShiftView,
		PermSessionManage,
	),
	RoleCashier: permSet(
		PermDraftView,
		PermOrderView,
		PermPaymentView, PermPaymentProcess,
		PermShiftOpen, PermShiftClose, PermShiftView,
		PermTicketReprint,
	),
	RoleKitchen: permSet(
		PermTicketView, PermTicketBump, PermTicketReprint,
	),
	RoleExpo: permSet(
		PermTicketView, PermTicketBump, PermTicketHold, PermTicketFire, PermTicketReassign, PermTicketReprint,
	),
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// HasPermission reports whether the role grants the permission.
func HasPermission(role Role, perm Permission) bool {
	set, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// Permissions returns the full permission set for a role.
func Permissions(role Role) []Permission {
	set := rolePermissions[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
