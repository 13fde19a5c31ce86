package launch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tendant/lti-provider/internal/domain"
)

func TestParseRoles(t *testing.T) {
	tests := []struct {
		value string
		scope domain.RoleScope
		typ   domain.RoleType
	}{
		{"Instructor", domain.ScopeCourse, domain.RoleInstructor},
		{"Learner", domain.ScopeCourse, domain.RoleLearner},
		{"urn:lti:role:ims/lis/TeachingAssistant", domain.ScopeCourse, domain.RoleInstructor},
		{"urn:lti:instrole:ims/lis/Administrator", domain.ScopeInstitution, domain.RoleAdmin},
		{"urn:lti:sysrole:ims/lis/SysAdmin", domain.ScopeSystem, domain.RoleLearner},
		{"http://purl.imsglobal.org/vocab/lis/v2/membership#ContentDeveloper", domain.ScopeCourse, domain.RoleInstructor},
		{"http://purl.imsglobal.org/vocab/lis/v2/membership#Mentor", domain.ScopeCourse, domain.RoleInstructor},
		{"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Faculty", domain.ScopeInstitution, domain.RoleLearner},
		{"http://purl.imsglobal.org/vocab/lis/v2/system/person#Administrator", domain.ScopeSystem, domain.RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			roles := ParseRoles(tt.value)
			if assert.Len(t, roles, 1) {
				assert.Equal(t, tt.scope, roles[0].Scope)
				assert.Equal(t, tt.typ, roles[0].Type)
			}
		})
	}

	assert.Len(t, ParseRoles(" Instructor , ,Learner"), 2)
	assert.Empty(t, ParseRoles(""))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Classification{IsLearner: true}, Classify(nil))
	assert.Equal(t, Classification{IsInstructor: true}, Classify(ParseRoles("Instructor,Learner")))
	assert.Equal(t, Classification{IsInstructor: true, IsAdmin: true},
		Classify(ParseRoles("urn:lti:instrole:ims/lis/Administrator")))
	assert.Equal(t, Classification{}, Classify([]Role{{Value: "Observer", Type: domain.RoleNone}}))
}

func TestOverridesOnlyTouchMatchingRoles(t *testing.T) {
	roleSets := []string{
		"Instructor",
		"Instructor,Learner",
		"urn:lti:instrole:ims/lis/Administrator",
		"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor,http://purl.imsglobal.org/vocab/lis/v2/institution/person#Staff",
	}
	// None of these match an instructor-classified role at its scope.
	unrelated := []*domain.RoleOverride{
		{Value: "Learner", Scope: domain.ScopeCourse, Type: domain.RoleNone},
		{Value: "Instructor", Scope: domain.ScopeInstitution, Type: domain.RoleLearner},
		{Value: "http://purl.imsglobal.org/vocab/lis/v2/institution/person#Staff", Scope: domain.ScopeInstitution, Type: domain.RoleLearner},
		{Value: "Observer", Scope: domain.ScopeCourse, Type: domain.RoleInstructor},
	}

	for _, set := range roleSets {
		before := Classify(ParseRoles(set))
		assert.True(t, before.IsInstructor, set)

		for i := range unrelated {
			after := Classify(ApplyOverrides(ParseRoles(set), unrelated[:i+1]))
			assert.True(t, after.IsInstructor, "%s with %d overrides", set, i+1)
		}
	}

	demote := []*domain.RoleOverride{{Value: "Instructor", Scope: domain.ScopeCourse, Type: domain.RoleLearner}}
	assert.Equal(t, Classification{IsLearner: true}, Classify(ApplyOverrides(ParseRoles("Instructor"), demote)))

	promote := []*domain.RoleOverride{{Value: "Learner", Scope: domain.ScopeCourse, Type: domain.RoleInstructor}}
	assert.True(t, Classify(ApplyOverrides(ParseRoles("Learner"), promote)).IsInstructor)
}
