package identity

// Role is a typed capability attached to an authenticated caller. Token
// issuance and validation live outside this module; handlers receive the
// resolved id and role set and pass them down explicitly.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleSeller   Role = "SELLER"
	RoleAdmin    Role = "ADMIN"
)

type Roles []Role

func (rs Roles) Has(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// CanReadAnyOrder reports whether the caller may read orders they do not own.
func (rs Roles) CanReadAnyOrder() bool {
	return rs.Has(RoleAdmin) || rs.Has(RoleSeller)
}

// Parse maps raw role strings (as carried in auth claims) onto the typed
// set, discarding anything unrecognized.
func Parse(raw []string) Roles {
	out := make(Roles, 0, len(raw))
	for _, s := range raw {
		switch Role(s) {
		case RoleCustomer, RoleSeller, RoleAdmin:
			out = append(out, Role(s))
		}
	}
	return out
}
