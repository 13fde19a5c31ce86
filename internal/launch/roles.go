package launch

import (
	"strings"

	"github.com/tendant/lti-provider/internal/domain"
)

// instructorRoles classify a role as instructor when contained in it (case-insensitive).
var instructorRoles = []string{"instructor", "teachingassistant", "contentdeveloper", "mentor"}

// Role is one parsed entry of a launch's roles list.
type Role struct {
	Value string
	Scope domain.RoleScope
	Type  domain.RoleType
}

// ParseRoles splits a comma-separated roles string and classifies each entry.
func ParseRoles(roles string) []Role {
	var out []Role
	for _, value := range strings.Split(roles, ",") {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		out = append(out, Role{Value: value, Scope: roleScope(value), Type: defaultType(value)})
	}
	return out
}

func defaultType(value string) domain.RoleType {
	lower := strings.ToLower(value)
	if strings.Contains(lower, "administrator") {
		return domain.RoleAdmin
	}
	for _, r := range instructorRoles {
		if strings.Contains(lower, r) {
			return domain.RoleInstructor
		}
	}
	return domain.RoleLearner
}

// roleScope reads the scope from the role vocabulary. Bare names are course roles.
func roleScope(value string) domain.RoleScope {
	lower := strings.ToLower(value)
	switch {
	case strings.Contains(lower, "/system/person#"), strings.HasPrefix(lower, "urn:lti:sysrole:"):
		return domain.ScopeSystem
	case strings.Contains(lower, "/institution/person#"), strings.HasPrefix(lower, "urn:lti:instrole:"):
		return domain.ScopeInstitution
	default:
		return domain.ScopeCourse
	}
}

type overrideKey struct {
	value string
	scope domain.RoleScope
}

// ApplyOverrides replaces the type of every role matched by (value, scope) in overrides.
// Roles without an override keep their default type.
func ApplyOverrides(roles []Role, overrides []*domain.RoleOverride) []Role {
	if len(overrides) == 0 {
		return roles
	}
	byKey := make(map[overrideKey]domain.RoleType, len(overrides))
	for _, o := range overrides {
		byKey[overrideKey{o.Value, o.Scope}] = o.Type
	}

	out := make([]Role, len(roles))
	for i, r := range roles {
		if t, ok := byKey[overrideKey{r.Value, r.Scope}]; ok {
			r.Type = t
		}
		out[i] = r
	}
	return out
}

// Classification summarizes a user's roles.
type Classification struct {
	IsInstructor bool
	IsLearner    bool
	IsAdmin      bool
}

// Classify reduces parsed roles to user-level flags. Admins count as instructors; a user
// with no roles at all is a learner.
func Classify(roles []Role) Classification {
	if len(roles) == 0 {
		return Classification{IsLearner: true}
	}
	var c Classification
	for _, r := range roles {
		switch r.Type {
		case domain.RoleAdmin:
			c.IsAdmin = true
			c.IsInstructor = true
		case domain.RoleInstructor:
			c.IsInstructor = true
		case domain.RoleLearner:
			c.IsLearner = true
		}
	}
	if c.IsInstructor {
		c.IsLearner = false
	}
	return c
}
