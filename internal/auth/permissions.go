package auth

// Requirements declared by the service's own guarded operations.
var (
	PermRoleRead          = NewPermission("ROLE", "READ")
	PermRoleManage        = NewPermission("ROLE", "MANAGE")
	PermUserResetPassword = NewPermission("USER", "RESET_PASSWORD")
)
