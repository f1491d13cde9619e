package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Usage log results.
const (
	UsageResultGranted = "granted"
	UsageResultDenied  = "denied"
	UsageResultError   = "error"
)

// UsageLogEntry is the append-only record of a permission check. Entries are
// never mutated or deleted within their retention window; they are the basis
// for analytics and compliance reports.
type UsageLogEntry struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string         `gorm:"type:uuid;not null;index" json:"user_id"`
	PermissionID string         `gorm:"type:uuid;not null;index" json:"permission_id"`
	Result       string         `gorm:"type:varchar(16);not null;index" json:"result"`
	ResourceType string         `gorm:"type:varchar(64);index:idx_usage_resource,priority:1" json:"resource_type"`
	ResourceID   string         `gorm:"type:uuid;index:idx_usage_resource,priority:2" json:"resource_id"`
	Action       string         `json:"action"`
	DenialReason string         `json:"denial_reason"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    string         `json:"user_agent"`
	Metadata     datatypes.JSON `json:"metadata"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

// TableName overrides the default table name for GORM.
func (UsageLogEntry) TableName() string {
	return "permission_usage_logs"
}

func (e *UsageLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
