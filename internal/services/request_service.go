package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	apperrors "github.com/oakhurst/backoffice/pkg/errors"
)

var (
	// ErrRequestNotFound indicates the referenced permission request does not exist.
	ErrRequestNotFound = apperrors.New("REQUEST_NOT_FOUND", "Permission request not found", http.StatusNotFound)
	// ErrDuplicatePendingRequest rejects a second pending request for the same tuple.
	ErrDuplicatePendingRequest = apperrors.New("REQUEST_DUPLICATE", "A pending request for this permission already exists", http.StatusConflict)
	// ErrRequestNotPending rejects transitions attempted from a terminal state.
	ErrRequestNotPending = apperrors.New("REQUEST_NOT_PENDING", "Request is not pending", http.StatusPreconditionFailed)
	// ErrSelfApproval prevents a requester from approving their own request.
	ErrSelfApproval = apperrors.New("REQUEST_SELF_APPROVAL", "Requester cannot approve their own request", http.StatusForbidden)
	// ErrNotRequester prevents anyone but the original requester from cancelling.
	ErrNotRequester = apperrors.New("REQUEST_NOT_REQUESTER", "Only the requester may cancel this request", http.StatusForbidden)
	// ErrReasonTooShort rejects justification text below the minimum length.
	ErrReasonTooShort = apperrors.New("REASON_TOO_SHORT", fmt.Sprintf("Reason must be at least %d characters", minReasonLength), http.StatusBadRequest)
	// ErrRequestAccessDenied hides a request from principals outside it.
	ErrRequestAccessDenied = apperrors.New("REQUEST_ACCESS_DENIED", "Request is only visible to its requester, approver, or an administrator", http.StatusForbidden)
)

// defaultPendingTTL bounds how long a request may sit unanswered before the
// expiry sweep transitions it. Approved requests expire on their own
// ExpiresAt, anchored at approval time.
const defaultPendingTTL = 7 * 24 * time.Hour

// RequestService drives the permission request state machine. Pending is the
// only non-terminal state; every transition is validated against it and
// recorded in the audit trail.
type RequestService struct {
	db           *gorm.DB
	auditService *AuditService
	pendingTTL   time.Duration
	now          func() time.Time
}

// NewRequestService constructs a RequestService using the provided database handle.
func NewRequestService(db *gorm.DB, audit *AuditService) (*RequestService, error) {
	if db == nil {
		return nil, errors.New("request service: db is required")
	}
	return &RequestService{
		db:           db,
		auditService: audit,
		pendingTTL:   defaultPendingTTL,
		now:          time.Now,
	}, nil
}

// WithClock overrides the service clock, primarily for tests.
func (s *RequestService) WithClock(now func() time.Time) *RequestService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithPendingTTL overrides how long pending requests may wait before expiry.
func (s *RequestService) WithPendingTTL(ttl time.Duration) *RequestService {
	if ttl > 0 {
		s.pendingTTL = ttl
	}
	return s
}

// CreateRequestInput describes the payload accepted by Create.
type CreateRequestInput struct {
	RequesterID   string
	PermissionID  string
	ResourceType  *string
	ResourceID    *string
	Reason        string
	DurationHours *int
	Metadata      map[string]any

	// AutoApprove creates the request already approved, bypassing pending.
	// This is the only path that skips the pending state.
	AutoApprove bool
	AutoReason  string
}

// Create files a new permission request. A duplicate pending request for the
// same (requester, permission, resource) tuple is rejected with a Conflict;
// the check rides on the unique pending-key index inside the insert itself,
// so concurrent duplicates cannot slip through.
func (s *RequestService) Create(ctx context.Context, input CreateRequestInput) (*models.PermissionRequest, error) {
	ctx = ensureContext(ctx)

	requesterID := strings.TrimSpace(input.RequesterID)
	permissionID := strings.TrimSpace(input.PermissionID)
	if requesterID == "" || permissionID == "" {
		return nil, apperrors.NewBadRequest("requester and permission are required")
	}
	if reasonTooShort(input.Reason) {
		return nil, ErrReasonTooShort
	}
	if input.DurationHours != nil && *input.DurationHours <= 0 {
		return nil, apperrors.NewBadRequest("duration_hours must be positive")
	}

	var permCount int64
	if err := s.db.WithContext(ctx).Model(&models.Permission{}).Where("id = ?", permissionID).Count(&permCount).Error; err != nil {
		return nil, fmt.Errorf("request service: check permission: %w", err)
	}
	if permCount == 0 {
		return nil, apperrors.New("PERMISSION_NOT_FOUND", "Permission not found", http.StatusNotFound)
	}

	now := s.now()
	request := &models.PermissionRequest{
		RequesterID:   requesterID,
		PermissionID:  permissionID,
		ResourceType:  trimPtr(input.ResourceType),
		ResourceID:    trimPtr(input.ResourceID),
		Reason:        strings.TrimSpace(input.Reason),
		DurationHours: input.DurationHours,
		RequestedAt:   now,
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("request service: marshal metadata: %w", err)
		}
		request.Metadata = datatypes.JSON(data)
	}

	if input.AutoApprove {
		request.Status = models.RequestStatusApproved
		request.AutoApproved = true
		request.AutoReason = strings.TrimSpace(input.AutoReason)
		request.ApprovedAt = &now
		if input.DurationHours != nil {
			expires := now.Add(time.Duration(*input.DurationHours) * time.Hour)
			request.ExpiresAt = &expires
		}
	} else {
		request.Status = models.RequestStatusPending
		key := models.ComputePendingKey(
			requesterID, permissionID,
			derefOrEmpty(request.ResourceType), derefOrEmpty(request.ResourceID),
		)
		request.PendingKey = &key
	}

	if err := s.db.WithContext(ctx).Create(request).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicatePendingRequest
		}
		return nil, fmt.Errorf("request service: create request: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &request.RequesterID,
		Action:   "permission_request.create",
		Resource: request.ID,
		Result:   "success",
		Metadata: map[string]any{
			"permission_id": request.PermissionID,
			"status":        request.Status,
			"auto_approved": request.AutoApproved,
		},
	})

	return request, nil
}

// Approve transitions a pending request to approved. The approver must be a
// different principal than the requester. ExpiresAt is anchored at approval
// time: the represented access begins when the decision lands, not when the
// request was filed.
func (s *RequestService) Approve(ctx context.Context, requestID, approverID, note string) (*models.PermissionRequest, error) {
	ctx = ensureContext(ctx)

	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, apperrors.NewBadRequest("approver is required")
	}

	var request models.PermissionRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&request, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return fmt.Errorf("request service: load request: %w", err)
		}

		if !request.IsPending() {
			return wrongStateError(request.Status)
		}
		if request.RequesterID == approverID {
			return ErrSelfApproval
		}

		now := s.now()
		updates := map[string]any{
			"status":        models.RequestStatusApproved,
			"approver_id":   approverID,
			"approved_at":   now,
			"approval_note": strings.TrimSpace(note),
			"pending_key":   nil,
		}
		if request.DurationHours != nil {
			updates["expires_at"] = now.Add(time.Duration(*request.DurationHours) * time.Hour)
		}

		if err := tx.Model(&request).Updates(updates).Error; err != nil {
			return fmt.Errorf("request service: approve request: %w", err)
		}
		return tx.First(&request, "id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &approverID,
		Action:   "permission_request.approve",
		Resource: request.ID,
		Result:   "success",
		Metadata: map[string]any{
			"requester_id":  request.RequesterID,
			"permission_id": request.PermissionID,
		},
	})

	return &request, nil
}

// Deny transitions a pending request to denied. A substantive reason is required.
func (s *RequestService) Deny(ctx context.Context, requestID, approverID, reason string) (*models.PermissionRequest, error) {
	ctx = ensureContext(ctx)

	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, apperrors.NewBadRequest("approver is required")
	}
	if reasonTooShort(reason) {
		return nil, ErrReasonTooShort
	}

	var request models.PermissionRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&request, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return fmt.Errorf("request service: load request: %w", err)
		}

		if !request.IsPending() {
			return wrongStateError(request.Status)
		}

		now := s.now()
		updates := map[string]any{
			"status":        models.RequestStatusDenied,
			"approver_id":   approverID,
			"denied_at":     now,
			"approval_note": strings.TrimSpace(reason),
			"pending_key":   nil,
		}
		if err := tx.Model(&request).Updates(updates).Error; err != nil {
			return fmt.Errorf("request service: deny request: %w", err)
		}
		return tx.First(&request, "id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &approverID,
		Action:   "permission_request.deny",
		Resource: request.ID,
		Result:   "success",
		Metadata: map[string]any{
			"requester_id":  request.RequesterID,
			"permission_id": request.PermissionID,
		},
	})

	return &request, nil
}

// Cancel transitions a pending request to cancelled. Only the original
// requester may cancel.
func (s *RequestService) Cancel(ctx context.Context, requestID, callerID string) (*models.PermissionRequest, error) {
	ctx = ensureContext(ctx)

	var request models.PermissionRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&request, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return fmt.Errorf("request service: load request: %w", err)
		}

		if request.RequesterID != strings.TrimSpace(callerID) {
			return ErrNotRequester
		}
		if !request.IsPending() {
			return wrongStateError(request.Status)
		}

		updates := map[string]any{
			"status":       models.RequestStatusCancelled,
			"cancelled_at": s.now(),
			"pending_key":  nil,
		}
		if err := tx.Model(&request).Updates(updates).Error; err != nil {
			return fmt.Errorf("request service: cancel request: %w", err)
		}
		return tx.First(&request, "id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &request.RequesterID,
		Action:   "permission_request.cancel",
		Resource: request.ID,
		Result:   "success",
	})

	return &request, nil
}

// ExpireOutdated is the background sweep: pending requests older than the
// pending TTL and approved requests past their ExpiresAt both transition to
// expired. The sweep is idempotent and safe to run concurrently; each case is
// a single bounded update.
func (s *RequestService) ExpireOutdated(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	stalePending := s.db.WithContext(ctx).
		Model(&models.PermissionRequest{}).
		Where("status = ? AND requested_at < ?", models.RequestStatusPending, now.Add(-s.pendingTTL)).
		Updates(map[string]any{
			"status":      models.RequestStatusExpired,
			"pending_key": nil,
		})
	if stalePending.Error != nil {
		return 0, fmt.Errorf("request service: expire pending: %w", stalePending.Error)
	}

	lapsedApproved := s.db.WithContext(ctx).
		Model(&models.PermissionRequest{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.RequestStatusApproved, now).
		Update("status", models.RequestStatusExpired)
	if lapsedApproved.Error != nil {
		return 0, fmt.Errorf("request service: expire approved: %w", lapsedApproved.Error)
	}

	return stalePending.RowsAffected + lapsedApproved.RowsAffected, nil
}

// GetByID loads a single request with its permission preloaded.
func (s *RequestService) GetByID(ctx context.Context, requestID string) (*models.PermissionRequest, error) {
	ctx = ensureContext(ctx)

	var request models.PermissionRequest
	err := s.db.WithContext(ctx).Preload("Permission").First(&request, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("request service: load request: %w", err)
	}
	return &request, nil
}

// PendingQueue returns pending requests ordered oldest-first so approvers
// work FIFO and old requests never starve.
func (s *RequestService) PendingQueue(ctx context.Context, limit int) ([]models.PermissionRequest, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var requests []models.PermissionRequest
	err := s.db.WithContext(ctx).
		Preload("Permission").
		Preload("Requester").
		Where("status = ?", models.RequestStatusPending).
		Order("requested_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("request service: pending queue: %w", err)
	}
	return requests, nil
}

// PendingByPermission returns the FIFO pending queue for one permission.
func (s *RequestService) PendingByPermission(ctx context.Context, permissionID string) ([]models.PermissionRequest, error) {
	ctx = ensureContext(ctx)

	var requests []models.PermissionRequest
	err := s.db.WithContext(ctx).
		Preload("Requester").
		Where("status = ? AND permission_id = ?", models.RequestStatusPending, permissionID).
		Order("requested_at ASC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("request service: pending by permission: %w", err)
	}
	return requests, nil
}

// ListByRequester returns a user's own requests, newest first.
func (s *RequestService) ListByRequester(ctx context.Context, requesterID string, status string) ([]models.PermissionRequest, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Preload("Permission").
		Where("requester_id = ?", requesterID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var requests []models.PermissionRequest
	if err := query.Order("requested_at DESC").Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("request service: list by requester: %w", err)
	}
	return requests, nil
}

// ApprovalStats summarises the request workload.
type ApprovalStats struct {
	CountsByStatus      map[string]int64 `json:"counts_by_status"`
	AvgApprovalDuration time.Duration    `json:"avg_approval_duration"`
}

// Stats aggregates counts by status and the average time from filing to
// approval. When approverID is non-empty, stats cover only decisions made by
// that approver; global stats pass an empty id.
func (s *RequestService) Stats(ctx context.Context, approverID string) (*ApprovalStats, error) {
	ctx = ensureContext(ctx)

	stats := &ApprovalStats{CountsByStatus: make(map[string]int64)}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	countQuery := s.db.WithContext(ctx).
		Model(&models.PermissionRequest{}).
		Select("status, COUNT(*) AS count").
		Group("status")
	if approverID != "" {
		countQuery = countQuery.Where("approver_id = ?", approverID)
	}
	if err := countQuery.Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("request service: count by status: %w", err)
	}
	for _, row := range counts {
		stats.CountsByStatus[row.Status] = row.Count
	}

	var approved []models.PermissionRequest
	approvedQuery := s.db.WithContext(ctx).
		Select("requested_at", "approved_at").
		Where("status = ? AND approved_at IS NOT NULL", models.RequestStatusApproved)
	if approverID != "" {
		approvedQuery = approvedQuery.Where("approver_id = ?", approverID)
	}
	if err := approvedQuery.Find(&approved).Error; err != nil {
		return nil, fmt.Errorf("request service: load approvals: %w", err)
	}

	if len(approved) > 0 {
		var total time.Duration
		for i := range approved {
			total += approved[i].ApprovedAt.Sub(approved[i].RequestedAt)
		}
		stats.AvgApprovalDuration = total / time.Duration(len(approved))
	}

	return stats, nil
}

// wrongStateError keeps the sentinel for errors.Is while telling the caller
// which state the request is actually in.
func wrongStateError(status string) error {
	return fmt.Errorf("%w: current status is %q", ErrRequestNotPending, status)
}
