// Package domain defines the core types for the LTI tool provider.
package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// Vendor identifies an LMS whose REST API is reached through OAuth2.
type Vendor string

const (
	VendorCanvas     Vendor = "canvas"
	VendorBlackboard Vendor = "blackboard"
	VendorD2L        Vendor = "d2l"
	VendorMoodle     Vendor = "moodle"
)

// Tenant is one LMS installation that has integrated with the tool (an application instance).
type Tenant struct {
	ID          string `json:"id"`
	ConsumerKey string `json:"consumer_key,omitempty"` // LTI 1.1
	// SharedSecret signs LTI 1.1 launches.
	SharedSecret string `json:"shared_secret,omitempty"`
	LMSURL       string `json:"lms_url"`

	// OAuth2 client credentials issued by the LMS. DeveloperSecret is stored encrypted.
	DeveloperKey    string `json:"developer_key,omitempty"`
	DeveloperSecret string `json:"developer_secret,omitempty"`

	// LTI 1.3 resolution: (registration, deployment_id).
	RegistrationID string `json:"registration_id,omitempty"`
	DeploymentID   string `json:"deployment_id,omitempty"`

	ToolConsumerInstanceGUID string `json:"tool_consumer_instance_guid,omitempty"`
	ProductFamilyCode        string `json:"tool_consumer_info_product_family_code,omitempty"`

	// Settings holds per-vendor settings, e.g. Settings["canvas"]["sections_enabled"].
	Settings map[string]map[string]any `json:"settings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Setting returns a vendor setting or nil when it is not set.
func (t *Tenant) Setting(group, key string) any {
	if t.Settings == nil {
		return nil
	}
	return t.Settings[group][key]
}

// Registration is an LTI 1.3 platform registration, unique by (Issuer, ClientID).
type Registration struct {
	ID           string    `json:"id"`
	Issuer       string    `json:"issuer"`
	ClientID     string    `json:"client_id"`
	AuthLoginURL string    `json:"auth_login_url"`
	TokenURL     string    `json:"token_url"`
	KeySetURL    string    `json:"key_set_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// LTIUser is the normalized identity produced by a successful launch.
type LTIUser struct {
	UserID                   string `json:"user_id"`
	TenantID                 string `json:"tenant_id"`
	Roles                    string `json:"roles"`
	GivenName                string `json:"given_name,omitempty"`
	FamilyName               string `json:"family_name,omitempty"`
	DisplayName              string `json:"display_name,omitempty"`
	Email                    string `json:"email,omitempty"`
	ToolConsumerInstanceGUID string `json:"tool_consumer_instance_guid"`
	IsInstructor             bool   `json:"is_instructor"`
	IsLearner                bool   `json:"is_learner"`
	IsAdmin                  bool   `json:"is_admin"`
}

// HUserID returns the annotation-service account id for the user.
// It is a pure function of (tool_consumer_instance_guid, user_id).
func (u *LTIUser) HUserID() string {
	sum := sha1.Sum([]byte(u.ToolConsumerInstanceGUID + u.UserID))
	return "acct:" + hex.EncodeToString(sum[:])[:30] + "@lms.hypothes.is"
}

// OAuth2Token is the stored access/refresh pair for one (tenant, user, vendor).
type OAuth2Token struct {
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	Vendor       Vendor    `json:"vendor"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"` // seconds, 0 when unknown
	ReceivedAt   time.Time `json:"received_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleType is the classification a role string resolves to.
type RoleType string

const (
	RoleInstructor RoleType = "instructor"
	RoleLearner    RoleType = "learner"
	RoleAdmin      RoleType = "admin"
	RoleNone       RoleType = "none"
)

// RoleScope qualifies where a role applies.
type RoleScope string

const (
	ScopeCourse      RoleScope = "course"
	ScopeInstitution RoleScope = "institution"
	ScopeSystem      RoleScope = "system"
)

// RoleOverride replaces the default classification of a role value for one tenant.
type RoleOverride struct {
	TenantID string    `json:"tenant_id"`
	Value    string    `json:"value"`
	Scope    RoleScope `json:"scope"`
	Type     RoleType  `json:"type"`
}
