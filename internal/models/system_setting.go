package models

import "time"

// SystemSetting is a small key/value store for values generated at runtime
// that must survive restarts, such as the token signing secret.
type SystemSetting struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `gorm:"not null" json:"value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
