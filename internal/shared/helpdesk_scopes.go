package shared

// Helpdesk and asset permissions. Handlers for these resources live outside
// this service; the catalog seeds them so roles can be granted up front.
const (
	PermTicketsView   = "tickets:view"
	PermTicketsCreate = "tickets:create"
	PermTicketsEdit   = "tickets:edit"
	PermTicketsAssign = "tickets:assign"
	PermTicketsClose  = "tickets:close"

	PermEquipmentView   = "equipment:view"
	PermEquipmentCreate = "equipment:create"
	PermEquipmentEdit   = "equipment:edit"
	PermEquipmentDelete = "equipment:delete"

	PermPrintersView = "printers:view"
	PermPrintersEdit = "printers:edit"

	PermConsumablesView   = "consumables:view"
	PermConsumablesAdjust = "consumables:adjust"

	PermEmployeesView = "employees:view"
	PermEmployeesEdit = "employees:edit"

	PermInventoryView   = "inventory:view"
	PermInventoryAdjust = "inventory:adjust"

	PermPurchaseView    = "purchase_requests:view"
	PermPurchaseCreate  = "purchase_requests:create"
	PermPurchaseApprove = "purchase_requests:approve"

	PermBackupsView = "backups:view"
	PermBackupsRun  = "backups:run"
)

// HelpdeskScopes lists permissions seeded for helpdesk resources.
func HelpdeskScopes() []string {
	return []string{
		PermTicketsView,
		PermTicketsCreate,
		PermTicketsEdit,
		PermTicketsAssign,
		PermTicketsClose,
		PermEquipmentView,
		PermEquipmentCreate,
		PermEquipmentEdit,
		PermEquipmentDelete,
		PermPrintersView,
		PermPrintersEdit,
		PermConsumablesView,
		PermConsumablesAdjust,
		PermEmployeesView,
		PermEmployeesEdit,
		PermInventoryView,
		PermInventoryAdjust,
		PermPurchaseView,
		PermPurchaseCreate,
		PermPurchaseApprove,
		PermBackupsView,
		PermBackupsRun,
	}
}
