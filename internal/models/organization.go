package models

import "gorm.io/datatypes"

// Organization is the tenant boundary for memberships, grants, and templates.
type Organization struct {
	BaseModel

	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	Settings    datatypes.JSON `json:"settings"`

	Memberships []OrganizationMembership `gorm:"foreignKey:OrganizationID" json:"memberships,omitempty"`
}
