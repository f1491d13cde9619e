package models

import "gorm.io/datatypes"

// PermissionTemplate is a named, reusable bundle of grants, either global or
// scoped to one organization. Deletion is soft so past applications keep
// their provenance.
type PermissionTemplate struct {
	BaseModel

	TemplateName   string  `gorm:"not null;uniqueIndex:idx_template_scope" json:"template_name"`
	Description    string  `json:"description"`
	Category       string  `gorm:"type:varchar(64)" json:"category"`
	IsGlobal       bool    `gorm:"default:false" json:"is_global"`
	OrganizationID *string `gorm:"type:uuid;index" json:"organization_id"`
	CreatedBy      string  `gorm:"type:uuid;not null" json:"created_by"`
	IsActive       bool    `gorm:"default:true" json:"is_active"`

	// ScopeKey joins the organization id (or "global") into the name
	// uniqueness index, since NULL organization ids would not collide.
	ScopeKey string `gorm:"not null;uniqueIndex:idx_template_scope" json:"-"`

	Members []PermissionTemplateMember `gorm:"foreignKey:TemplateID" json:"members,omitempty"`
}

// GlobalScopeKey is the ScopeKey value shared by all global templates.
const GlobalScopeKey = "global"

// PermissionTemplateMember is one (permission, resource scope) pair in a template.
type PermissionTemplateMember struct {
	BaseModel

	TemplateID    string         `gorm:"type:uuid;not null;index" json:"template_id"`
	PermissionID  string         `gorm:"type:uuid;not null" json:"permission_id"`
	ResourceType  *string        `gorm:"type:varchar(64)" json:"resource_type"`
	ScopeMetadata datatypes.JSON `json:"scope_metadata"`
	Position      int            `gorm:"not null;default:0" json:"position"`

	Permission *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}
