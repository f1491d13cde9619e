package models

import (
	"gorm.io/datatypes"
)

// Condition type discriminators.
const (
	ConditionTypeTime     = "time"
	ConditionTypeLocation = "location"
	ConditionTypeDevice   = "device"
	ConditionTypeIPRange  = "ip_range"
)

// PermissionCondition narrows when an otherwise-held grant is usable. The
// config column holds the typed payload matching ConditionType; it is decoded
// and validated once at the service boundary, never re-interpreted per call.
// Exactly one of UserID or RoleKey is set.
type PermissionCondition struct {
	BaseModel

	PermissionID  string         `gorm:"type:uuid;not null;index" json:"permission_id"`
	UserID        *string        `gorm:"type:uuid;index" json:"user_id"`
	RoleKey       *string        `gorm:"type:varchar(64);index" json:"role_key"`
	ConditionType string         `gorm:"type:varchar(16);not null" json:"condition_type"`
	Config        datatypes.JSON `gorm:"not null" json:"config"`
	CreatedBy     string         `gorm:"type:uuid;not null" json:"created_by"`

	Permission *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}
