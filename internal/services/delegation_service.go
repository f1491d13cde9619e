package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/permissions"
	apperrors "github.com/oakhurst/backoffice/pkg/errors"
)

var (
	// ErrDelegationNotFound indicates the referenced delegation does not exist.
	ErrDelegationNotFound = apperrors.New("DELEGATION_NOT_FOUND", "Delegation not found", http.StatusNotFound)
	// ErrDelegationAlreadyRevoked surfaces double-revocation so callers can detect races.
	ErrDelegationAlreadyRevoked = apperrors.New("DELEGATION_ALREADY_REVOKED", "Delegation is already revoked", http.StatusConflict)
	// ErrInvalidValidityWindow rejects windows where validUntil is not after validFrom.
	ErrInvalidValidityWindow = apperrors.New("DELEGATION_INVALID_WINDOW", "valid_until must be in the future and after valid_from", http.StatusBadRequest)
	// ErrDelegatorLacksPermission enforces non-transitive delegation: only a
	// direct holder (role default or organization grant) may delegate.
	ErrDelegatorLacksPermission = apperrors.New("DELEGATION_NOT_HELD", "Delegator does not directly hold this permission", http.StatusForbidden)
	// ErrSelfDelegation rejects delegating a permission to oneself.
	ErrSelfDelegation = apperrors.New("DELEGATION_SELF", "Cannot delegate a permission to yourself", http.StatusBadRequest)
	// ErrDelegationRevokeForbidden limits revocation to the delegator or an administrator.
	ErrDelegationRevokeForbidden = apperrors.New("DELEGATION_REVOKE_FORBIDDEN", "Only the delegator or an administrator may revoke a delegation", http.StatusForbidden)
	// ErrDelegationAccessDenied hides delegations from principals outside them.
	ErrDelegationAccessDenied = apperrors.New("DELEGATION_ACCESS_DENIED", "Delegation is only visible to its delegator, delegatee, or an administrator", http.StatusForbidden)
)

// Delegation list directions.
const (
	DelegationDirectionGiven    = "given"
	DelegationDirectionReceived = "received"
)

// DelegationService manages temporary permission transfers between principals.
type DelegationService struct {
	db           *gorm.DB
	resolver     *permissions.Resolver
	auditService *AuditService
	now          func() time.Time
}

// NewDelegationService constructs a DelegationService. The resolver enforces
// the non-transitivity rule on creation.
func NewDelegationService(db *gorm.DB, resolver *permissions.Resolver, audit *AuditService) (*DelegationService, error) {
	if db == nil {
		return nil, errors.New("delegation service: db is required")
	}
	if resolver == nil {
		return nil, errors.New("delegation service: resolver is required")
	}
	return &DelegationService{
		db:           db,
		resolver:     resolver,
		auditService: audit,
		now:          time.Now,
	}, nil
}

// WithClock overrides the service clock, primarily for tests.
func (s *DelegationService) WithClock(now func() time.Time) *DelegationService {
	if now != nil {
		s.now = now
	}
	return s
}

// DelegateInput describes the payload accepted by Delegate.
type DelegateInput struct {
	DelegatorID  string
	DelegateeID  string
	PermissionID string
	ResourceType *string
	ResourceID   *string
	ValidFrom    *time.Time
	ValidUntil   time.Time
	Reason       string
}

// Delegate hands a permission to another principal for a bounded window.
// ValidFrom defaults to now; ValidUntil must lie in the future and after
// ValidFrom.
func (s *DelegationService) Delegate(ctx context.Context, input DelegateInput) (*models.PermissionDelegation, error) {
	ctx = ensureContext(ctx)

	delegatorID := strings.TrimSpace(input.DelegatorID)
	delegateeID := strings.TrimSpace(input.DelegateeID)
	permissionID := strings.TrimSpace(input.PermissionID)
	if delegatorID == "" || delegateeID == "" || permissionID == "" {
		return nil, apperrors.NewBadRequest("delegator, delegatee, and permission are required")
	}
	if delegatorID == delegateeID {
		return nil, ErrSelfDelegation
	}

	now := s.now()
	validFrom := now
	if input.ValidFrom != nil {
		validFrom = *input.ValidFrom
	}
	if !input.ValidUntil.After(now) || !input.ValidUntil.After(validFrom) {
		return nil, ErrInvalidValidityWindow
	}

	holds, err := s.resolver.HoldsDirectly(ctx, delegatorID, permissionID)
	if err != nil {
		return nil, err
	}
	if !holds {
		return nil, ErrDelegatorLacksPermission
	}

	var delegateeCount int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", delegateeID).Count(&delegateeCount).Error; err != nil {
		return nil, fmt.Errorf("delegation service: check delegatee: %w", err)
	}
	if delegateeCount == 0 {
		return nil, apperrors.New("DELEGATEE_NOT_FOUND", "Delegatee not found", http.StatusNotFound)
	}

	delegation := &models.PermissionDelegation{
		DelegatorID:  delegatorID,
		DelegateeID:  delegateeID,
		PermissionID: permissionID,
		ResourceType: trimPtr(input.ResourceType),
		ResourceID:   trimPtr(input.ResourceID),
		ValidFrom:    validFrom,
		ValidUntil:   input.ValidUntil,
		Reason:       strings.TrimSpace(input.Reason),
	}

	if err := s.db.WithContext(ctx).Create(delegation).Error; err != nil {
		return nil, fmt.Errorf("delegation service: create delegation: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &delegation.DelegatorID,
		Action:   "delegation.create",
		Resource: delegation.ID,
		Result:   "success",
		Metadata: map[string]any{
			"delegatee_id":  delegation.DelegateeID,
			"permission_id": delegation.PermissionID,
			"valid_until":   delegation.ValidUntil,
		},
	})

	return delegation, nil
}

// Revoke marks a delegation revoked. Only the delegator or an administrator
// may revoke; revoking an already-revoked delegation is a Conflict, not a
// no-op, so concurrent revokers see the race.
func (s *DelegationService) Revoke(ctx context.Context, delegationID, revokedBy, reason string) (*models.PermissionDelegation, error) {
	ctx = ensureContext(ctx)
	revoker := strings.TrimSpace(revokedBy)

	var delegation models.PermissionDelegation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&delegation, "id = ?", delegationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDelegationNotFound
			}
			return fmt.Errorf("delegation service: load delegation: %w", err)
		}

		if revoker != delegation.DelegatorID {
			isAdmin, adminErr := s.resolver.IsAdmin(ctx, revoker)
			if adminErr != nil {
				return adminErr
			}
			if !isAdmin {
				return ErrDelegationRevokeForbidden
			}
		}

		if delegation.RevokedAt != nil {
			return ErrDelegationAlreadyRevoked
		}

		updates := map[string]any{
			"revoked_at":    s.now(),
			"revoked_by":    revoker,
			"revoke_reason": strings.TrimSpace(reason),
		}
		if err := tx.Model(&delegation).Updates(updates).Error; err != nil {
			return fmt.Errorf("delegation service: revoke delegation: %w", err)
		}
		return tx.First(&delegation, "id = ?", delegationID).Error
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "delegation.revoke",
		Resource: delegation.ID,
		Result:   "success",
		Metadata: map[string]any{
			"revoked_by": revokedBy,
			"reason":     reason,
		},
	})

	return &delegation, nil
}

// GetByID loads a single delegation with its permission preloaded. Visibility
// is limited to the delegator, the delegatee, and administrators.
func (s *DelegationService) GetByID(ctx context.Context, delegationID, callerID string) (*models.PermissionDelegation, error) {
	ctx = ensureContext(ctx)

	var delegation models.PermissionDelegation
	err := s.db.WithContext(ctx).Preload("Permission").First(&delegation, "id = ?", delegationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDelegationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delegation service: load delegation: %w", err)
	}

	callerID = strings.TrimSpace(callerID)
	if callerID != delegation.DelegatorID && callerID != delegation.DelegateeID {
		isAdmin, err := s.resolver.IsAdmin(ctx, callerID)
		if err != nil {
			return nil, err
		}
		if !isAdmin {
			return nil, ErrDelegationAccessDenied
		}
	}
	return &delegation, nil
}

// ListForUser returns delegations the user gave or received, newest first.
func (s *DelegationService) ListForUser(ctx context.Context, userID, direction string) ([]models.PermissionDelegation, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Preload("Permission")
	switch direction {
	case DelegationDirectionGiven:
		query = query.Where("delegator_id = ?", userID)
	case DelegationDirectionReceived:
		query = query.Where("delegatee_id = ?", userID)
	default:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown direction %q", direction))
	}

	var delegations []models.PermissionDelegation
	if err := query.Order("created_at DESC").Find(&delegations).Error; err != nil {
		return nil, fmt.Errorf("delegation service: list delegations: %w", err)
	}
	return delegations, nil
}

// ActiveForUser returns the delegations currently granting the user access.
func (s *DelegationService) ActiveForUser(ctx context.Context, userID string) ([]models.PermissionDelegation, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var delegations []models.PermissionDelegation
	err := s.db.WithContext(ctx).
		Preload("Permission").
		Where("delegatee_id = ? AND revoked_at IS NULL", userID).
		Where("valid_from <= ? AND valid_until > ?", now, now).
		Order("valid_until ASC").
		Find(&delegations).Error
	if err != nil {
		return nil, fmt.Errorf("delegation service: active delegations: %w", err)
	}
	return delegations, nil
}

// ExpireOutdated flags delegations whose window has closed. Reads filter by
// validity on their own, so the sweep is advisory cleanup; it stamps a
// distinct expired marker so an expired delegation is never mistaken for a
// revoked one, and is idempotent by construction.
func (s *DelegationService) ExpireOutdated(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	result := s.db.WithContext(ctx).
		Model(&models.PermissionDelegation{}).
		Where("revoked_at IS NULL AND expired_at IS NULL AND valid_until <= ?", now).
		Update("expired_at", now)
	if result.Error != nil {
		return 0, fmt.Errorf("delegation service: expire delegations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ExpiringSoon returns live delegations ending within the supplied horizon,
// for notification producers to consume.
func (s *DelegationService) ExpiringSoon(ctx context.Context, hoursUntilExpiry int) ([]models.PermissionDelegation, error) {
	ctx = ensureContext(ctx)

	if hoursUntilExpiry <= 0 {
		return nil, apperrors.NewBadRequest("hours must be positive")
	}

	now := s.now()
	horizon := now.Add(time.Duration(hoursUntilExpiry) * time.Hour)

	var delegations []models.PermissionDelegation
	err := s.db.WithContext(ctx).
		Preload("Permission").
		Where("revoked_at IS NULL AND valid_from <= ?", now).
		Where("valid_until > ? AND valid_until <= ?", now, horizon).
		Order("valid_until ASC").
		Find(&delegations).Error
	if err != nil {
		return nil, fmt.Errorf("delegation service: expiring soon: %w", err)
	}
	return delegations, nil
}

// DelegationStats summarises a user's delegation activity.
type DelegationStats struct {
	Given          int64 `json:"given"`
	Received       int64 `json:"received"`
	ActiveGiven    int64 `json:"active_given"`
	ActiveReceived int64 `json:"active_received"`
}

// StatsForUser counts delegations the user gave and received, total and live.
func (s *DelegationService) StatsForUser(ctx context.Context, userID string) (*DelegationStats, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	stats := &DelegationStats{}

	count := func(dest *int64, query *gorm.DB) error {
		return query.Count(dest).Error
	}

	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.PermissionDelegation{})
	}
	live := func(q *gorm.DB) *gorm.DB {
		return q.Where("revoked_at IS NULL AND valid_from <= ? AND valid_until > ?", now, now)
	}

	if err := count(&stats.Given, base().Where("delegator_id = ?", userID)); err != nil {
		return nil, fmt.Errorf("delegation service: count given: %w", err)
	}
	if err := count(&stats.Received, base().Where("delegatee_id = ?", userID)); err != nil {
		return nil, fmt.Errorf("delegation service: count received: %w", err)
	}
	if err := count(&stats.ActiveGiven, live(base().Where("delegator_id = ?", userID))); err != nil {
		return nil, fmt.Errorf("delegation service: count active given: %w", err)
	}
	if err := count(&stats.ActiveReceived, live(base().Where("delegatee_id = ?", userID))); err != nil {
		return nil, fmt.Errorf("delegation service: count active received: %w", err)
	}

	return stats, nil
}
