package domain

// Roles allowed on the financial routes regardless of scopes.
const (
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// Scopes checked on the boleto routes.
const (
	ScopeFinancialRead  = "financeiro:read"
	ScopeFinancialWrite = "financeiro:write"
)

// Caller is the authenticated internal user behind a request.
type Caller struct {
	UserID string
	Email  string
	Role   string
	Scopes []string
}

// HasScopeOrRole reports whether the caller holds scope or one of roles.
func (c *Caller) HasScopeOrRole(scope string, roles ...string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}
