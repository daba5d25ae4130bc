package rbac

// Default policy. Session ownership is enforced by the engine, so
// session:play only grants access to one's own sessions.
var RolePermissions = map[string][]string{
	"student": {
		"bank:view",
		"session:play",
		"favorite:manage",
		"wrong:manage",
		"user:change_password",
	},
	"teacher": {
		"bank:view",
		"bank:create",
		"bank:edit",
		"session:play",
		"favorite:manage",
		"wrong:manage",
		"events:view",
		"users:bulk_upsert",
		"users:list",
		"user:change_password",
	},
	"admin": {
		"*", // everything
	},
}
