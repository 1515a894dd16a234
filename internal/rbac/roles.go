package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsKnownRole guards token issuance.
func IsKnownRole(role string) bool { return role == RoleUser || role == RoleAdmin }

// CanReadOwner reports whether a caller may read another owner's negotiations.
func CanReadOwner(role, callerID, ownerID string) bool {
	return IsAdmin(role) || (callerID != "" && callerID == ownerID)
}
