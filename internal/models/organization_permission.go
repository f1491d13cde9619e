package models

import (
	"time"

	"gorm.io/datatypes"
)

// OrganizationPermission is an organization-scoped grant. Expired rows are
// inert for evaluation (reads always filter by expiry); the maintenance sweep
// removes them afterwards.
type OrganizationPermission struct {
	BaseModel

	OrganizationID string         `gorm:"type:uuid;not null;index:idx_org_perm,priority:1" json:"organization_id"`
	UserID         string         `gorm:"type:uuid;not null;index:idx_org_perm,priority:2" json:"user_id"`
	PermissionID   string         `gorm:"type:uuid;not null;index:idx_org_perm,priority:3" json:"permission_id"`
	ResourceType   *string        `gorm:"type:varchar(64)" json:"resource_type"`
	ResourceID     *string        `gorm:"type:uuid" json:"resource_id"`
	ScopeMetadata  datatypes.JSON `json:"scope_metadata"`
	ExpiresAt      *time.Time     `gorm:"index" json:"expires_at"`
	GrantedBy      string         `gorm:"type:uuid;not null" json:"granted_by"`
	Reason         string         `json:"reason"`

	// SourceTemplateID records which template (if any) materialised this
	// grant, so template usage stats stay traceable after application.
	SourceTemplateID *string `gorm:"type:uuid;index" json:"source_template_id"`

	Permission *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}

// TableName overrides the default table name for GORM.
func (OrganizationPermission) TableName() string {
	return "organization_permissions"
}

// Expired reports whether the grant is past its expiry at the supplied time.
func (p *OrganizationPermission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// MatchesResource reports whether the grant covers the requested resource.
// An unscoped grant covers every resource; a type-scoped grant covers all
// rows of that type unless it pins a specific resource id.
func (p *OrganizationPermission) MatchesResource(resourceType, resourceID string) bool {
	if p.ResourceType == nil || *p.ResourceType == "" {
		return true
	}
	if *p.ResourceType != resourceType {
		return false
	}
	if p.ResourceID == nil || *p.ResourceID == "" {
		return true
	}
	return *p.ResourceID == resourceID
}
