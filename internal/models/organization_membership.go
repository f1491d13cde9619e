package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Membership status values.
const (
	MembershipStatusActive    = "active"
	MembershipStatusSuspended = "suspended"
)

// OrganizationMembership ties a user to an organization with a set of role keys.
// A user may belong to many organizations but holds at most one primary row.
type OrganizationMembership struct {
	BaseModel

	OrganizationID string         `gorm:"type:uuid;not null;uniqueIndex:idx_org_member" json:"organization_id"`
	UserID         string         `gorm:"type:uuid;not null;uniqueIndex:idx_org_member;index" json:"user_id"`
	Roles          datatypes.JSON `json:"roles"`
	IsPrimary      bool           `gorm:"default:false" json:"is_primary"`
	InvitedBy      *string        `gorm:"type:uuid" json:"invited_by"`
	Status         string         `gorm:"type:varchar(16);not null;default:active" json:"status"`
	SuspendedAt    *time.Time     `json:"suspended_at"`
	SuspendReason  string         `json:"suspend_reason"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	User         *User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// IsActive reports whether the membership currently counts for resolution.
func (m *OrganizationMembership) IsActive() bool {
	return m.Status == MembershipStatusActive
}

// RoleKeys decodes the stored role set, tolerating an empty column.
func (m *OrganizationMembership) RoleKeys() []string {
	if len(m.Roles) == 0 {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(m.Roles, &keys); err != nil {
		return nil
	}
	return keys
}

// SetRoleKeys encodes the role set into the JSON column.
func (m *OrganizationMembership) SetRoleKeys(keys []string) error {
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	m.Roles = datatypes.JSON(data)
	return nil
}
