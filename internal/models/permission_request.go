package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Permission request states. Pending is the only non-terminal state.
const (
	RequestStatusPending   = "pending"
	RequestStatusApproved  = "approved"
	RequestStatusDenied    = "denied"
	RequestStatusCancelled = "cancelled"
	RequestStatusExpired   = "expired"
)

// PermissionRequest records a principal asking for standing access. Once
// resolved the row becomes an immutable historical record.
type PermissionRequest struct {
	BaseModel

	RequesterID   string         `gorm:"type:uuid;not null;index" json:"requester_id"`
	PermissionID  string         `gorm:"type:uuid;not null;index" json:"permission_id"`
	ResourceType  *string        `gorm:"type:varchar(64)" json:"resource_type"`
	ResourceID    *string        `gorm:"type:uuid" json:"resource_id"`
	Reason        string         `gorm:"not null" json:"reason"`
	DurationHours *int           `json:"duration_hours"`
	Status        string         `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	ApproverID    *string        `gorm:"type:uuid;index" json:"approver_id"`
	ApprovedAt    *time.Time     `json:"approved_at"`
	DeniedAt      *time.Time     `json:"denied_at"`
	CancelledAt   *time.Time     `json:"cancelled_at"`
	ApprovalNote  string         `json:"approval_note"`
	AutoApproved  bool           `gorm:"default:false" json:"auto_approved"`
	AutoReason    string         `json:"auto_reason"`
	RequestedAt   time.Time      `gorm:"not null;index" json:"requested_at"`
	ExpiresAt     *time.Time     `gorm:"index" json:"expires_at"`
	Metadata      datatypes.JSON `json:"metadata"`

	// PendingKey is populated only while the request is pending. The unique
	// index on it is what rejects duplicate pending requests for the same
	// (requester, permission, resource) tuple inside the insert transaction;
	// terminal transitions clear it so history never collides.
	PendingKey *string `gorm:"uniqueIndex" json:"-"`

	Permission *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
	Requester  *User       `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
}

// ComputePendingKey derives the uniqueness key guarding duplicate pending requests.
func ComputePendingKey(requesterID, permissionID, resourceType, resourceID string) string {
	return fmt.Sprintf("%s|%s|%s|%s", requesterID, permissionID, resourceType, resourceID)
}

// IsPending reports whether the request can still be transitioned.
func (r *PermissionRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}
