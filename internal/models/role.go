package models

// Role is a global role whose default permissions come from the catalog.
type Role struct {
	BaseModel

	Key         string `gorm:"uniqueIndex;not null" json:"key"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `gorm:"default:false" json:"is_system"`

	Users []User `gorm:"many2many:user_roles;" json:"users,omitempty"`
}
