package models

import "time"

// PermissionDelegation is a time-boxed transfer of a permission from delegator
// to delegatee. Rows are never deleted; revocation is a state change so the
// audit history survives.
type PermissionDelegation struct {
	BaseModel

	DelegatorID  string     `gorm:"type:uuid;not null;index" json:"delegator_id"`
	DelegateeID  string     `gorm:"type:uuid;not null;index" json:"delegatee_id"`
	PermissionID string     `gorm:"type:uuid;not null;index" json:"permission_id"`
	ResourceType *string    `gorm:"type:varchar(64)" json:"resource_type"`
	ResourceID   *string    `gorm:"type:uuid" json:"resource_id"`
	ValidFrom    time.Time  `gorm:"not null" json:"valid_from"`
	ValidUntil   time.Time  `gorm:"not null;index" json:"valid_until"`
	Reason       string     `json:"reason"`
	ExpiredAt    *time.Time `gorm:"index" json:"expired_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at"`
	RevokedBy    *string    `gorm:"type:uuid" json:"revoked_by"`
	RevokeReason string     `json:"revoke_reason"`

	Permission *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
	Delegator  *User       `gorm:"foreignKey:DelegatorID" json:"delegator,omitempty"`
	Delegatee  *User       `gorm:"foreignKey:DelegateeID" json:"delegatee,omitempty"`
}

// IsLive reports whether the delegation satisfies the resolver's validity
// check at the supplied instant: not revoked and validFrom <= t < validUntil.
func (d *PermissionDelegation) IsLive(t time.Time) bool {
	if d.RevokedAt != nil {
		return false
	}
	return !t.Before(d.ValidFrom) && t.Before(d.ValidUntil)
}

// MatchesResource reports whether the delegation covers the requested resource.
func (d *PermissionDelegation) MatchesResource(resourceType, resourceID string) bool {
	if d.ResourceType == nil || *d.ResourceType == "" {
		return true
	}
	if *d.ResourceType != resourceType {
		return false
	}
	if d.ResourceID == nil || *d.ResourceID == "" {
		return true
	}
	return *d.ResourceID == resourceID
}
