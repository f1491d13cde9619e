package models

// Permission is a catalog entry persisted for referential integrity. The
// authoritative definitions (including role defaults) live in the in-process
// catalog; rows are synced at startup and never deleted, only deprecated.
type Permission struct {
	BaseModel

	Key         string `gorm:"uniqueIndex;not null" json:"key"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Deprecated  bool   `gorm:"default:false" json:"deprecated"`
}
