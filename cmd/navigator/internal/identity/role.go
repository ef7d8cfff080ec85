package identity

import "strings"

// RoleRules configures the edge-asserted role lookup.
type RoleRules struct {
	// Exact maps specific addresses to roles. Checked first.
	Exact map[string]Role
	// AdminDomains are organizational domains whose members are admins.
	AdminDomains []string
	// OpsPrefixes are local-part prefixes that mark operators.
	OpsPrefixes []string
}

// DefaultRoleRules returns the rules shipped with the dashboard.
func DefaultRoleRules() RoleRules {
	return RoleRules{
		Exact: map[string]Role{
			"admin@bvg.com":  RoleAdmin,
			"ops@bvg.com":    RoleOps,
			"viewer@bvg.com": RoleRead,
		},
		AdminDomains: []string{"admin.bvg.com"},
		OpsPrefixes:  []string{"ops", "operador"},
	}
}

// RoleResolver maps an email to a role using ordered rules, first match wins:
// exact table, admin domains, ops prefixes, then RoleRead.
//
// The result seeds a new directory record only. Existing records keep the
// role stored in the directory.
type RoleResolver struct {
	exact        map[string]Role
	adminDomains []string
	opsPrefixes  []string
}

// NewRoleResolver normalizes rules into a resolver. Invalid roles in the
// exact table are skipped.
func NewRoleResolver(rules RoleRules) *RoleResolver {
	r := &RoleResolver{exact: make(map[string]Role, len(rules.Exact))}
	for email, role := range rules.Exact {
		if !role.Valid() {
			continue
		}
		r.exact[NormalizeEmail(email)] = role
	}
	for _, d := range rules.AdminDomains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(d, "@")))
		if d != "" {
			r.adminDomains = append(r.adminDomains, d)
		}
	}
	for _, p := range rules.OpsPrefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			r.opsPrefixes = append(r.opsPrefixes, p)
		}
	}
	return r
}

// Resolve returns the role for email. It is case-insensitive and pure.
func (r *RoleResolver) Resolve(email string) Role {
	email = NormalizeEmail(email)
	if role, ok := r.exact[email]; ok {
		return role
	}

	local, domain, _ := strings.Cut(email, "@")
	for _, d := range r.adminDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return RoleAdmin
		}
	}
	for _, p := range r.opsPrefixes {
		if strings.HasPrefix(local, p) {
			return RoleOps
		}
	}
	return RoleRead
}
