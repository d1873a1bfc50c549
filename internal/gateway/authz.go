package gateway

// Rule is one way a request may be authorized. Zero-value fields are
// wildcards; every set field must hold for the rule to match.
type Rule struct {
	// ClientRole requires the client to hold this role.
	ClientRole string
	// RequireAuthenticated requires a verified client secret.
	RequireAuthenticated bool
	// UserRole requires a logged-in user holding this role.
	UserRole string
}

// RuleSet authorizes a request when any of its rules matches.
type RuleSet []Rule

// Allows reports whether auth satisfies at least one rule.
func (rs RuleSet) Allows(auth *AuthContext) bool {
	if auth == nil {
		return false
	}
	for _, r := range rs {
		if r.matches(auth) {
			return true
		}
	}
	return false
}

func (r Rule) matches(auth *AuthContext) bool {
	if r.RequireAuthenticated && !auth.Authenticated {
		return false
	}
	if r.ClientRole != "" && !contains(auth.ClientRoles, r.ClientRole) {
		return false
	}
	if r.UserRole != "" {
		if auth.User == nil || !contains(auth.User.Roles, r.UserRole) {
			return false
		}
	}
	return true
}
