package schema

import "strings"

// Permission templates accepted in Collection.Permissions.
const (
	PermissionPublic        = "public"
	PermissionAuthenticated = "authenticated"
	PermissionLocked        = "locked"
	PermissionOwnerPrefix   = "owner:"
)

// ResolvePermission turns a permission template into the rule expression it
// stands for. A nil result is a locked (superuser only) rule. Values that are
// not a known template are used as the rule expression itself.
func ResolvePermission(p string) *string {
	var rule string
	switch trimmed := strings.TrimSpace(p); {
	case trimmed == PermissionPublic:
		rule = ""
	case trimmed == PermissionAuthenticated:
		rule = `@request.auth.id != ""`
	case trimmed == PermissionLocked:
		return nil
	case strings.HasPrefix(trimmed, PermissionOwnerPrefix):
		field := strings.TrimSpace(strings.TrimPrefix(trimmed, PermissionOwnerPrefix))
		if field == "" {
			field = "owner"
		}
		rule = `@request.auth.id != "" && ` + field + ` = @request.auth.id`
	default:
		rule = p
	}
	return &rule
}
