package permissions

// Role keys seeded by the engine.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
)

// DefaultCatalog returns the catalog shipped with the back-office: the
// permission definitions for each business module and the role defaults the
// resolver layers underneath explicit grants.
func DefaultCatalog() *Catalog {
	defs := []Definition{
		{Key: "crm.view", Name: "View CRM", Description: "View customers and contacts"},
		{Key: "crm.edit", Name: "Edit CRM", Description: "Create and update customers and contacts"},
		{Key: "orders.view", Name: "View orders", Description: "View production orders"},
		{Key: "orders.edit", Name: "Edit orders", Description: "Create and update production orders"},
		{Key: "orders.approve", Name: "Approve orders", Description: "Approve production orders for manufacturing"},
		{Key: "production.view", Name: "View production", Description: "View production schedules and work orders"},
		{Key: "production.manage", Name: "Manage production", Description: "Plan and adjust production schedules"},
		{Key: "shipping.view", Name: "View shipping", Description: "View shipments and delivery schedules"},
		{Key: "shipping.manage", Name: "Manage shipping", Description: "Create and dispatch shipments"},
		{Key: "payments.view", Name: "View payments", Description: "View invoices and payment status"},
		{Key: "payments.manage", Name: "Manage payments", Description: "Record and reconcile payments"},
		{Key: "reports.view", Name: "View reports", Description: "View business reports"},
		{Key: "tasks.view", Name: "View tasks", Description: "View assigned tasks"},
		{Key: "tasks.manage", Name: "Manage tasks", Description: "Assign and close tasks"},
		{Key: "admin.users", Name: "Administer users", Description: "Manage users and memberships"},
		{Key: "admin.permissions", Name: "Administer permissions", Description: "Manage grants, templates, and conditions"},
		{Key: "admin.audit", Name: "View audit trail", Description: "Query audit and usage logs"},
	}

	roles := []RoleDefault{
		{
			RoleKey: RoleAdmin,
			Name:    "Administrator",
			Permissions: []string{
				"crm.view", "crm.edit",
				"orders.view", "orders.edit", "orders.approve",
				"production.view", "production.manage",
				"shipping.view", "shipping.manage",
				"payments.view", "payments.manage",
				"reports.view",
				"tasks.view", "tasks.manage",
				"admin.users", "admin.permissions", "admin.audit",
			},
		},
		{
			RoleKey: RoleManager,
			Name:    "Manager",
			Permissions: []string{
				"crm.view", "crm.edit",
				"orders.view", "orders.edit", "orders.approve",
				"production.view", "production.manage",
				"shipping.view", "shipping.manage",
				"payments.view",
				"reports.view",
				"tasks.view", "tasks.manage",
			},
		},
		{
			RoleKey: RoleMember,
			Name:    "Member",
			Permissions: []string{
				"crm.view",
				"orders.view",
				"production.view",
				"shipping.view",
				"tasks.view",
			},
		},
	}

	catalog, err := NewCatalog(defs, roles, []string{RoleAdmin})
	if err != nil {
		panic(err)
	}
	return catalog
}
