package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
)

func newTestRequestService(t *testing.T, db *gorm.DB) *RequestService {
	t.Helper()
	svc, err := NewRequestService(db, newTestAuditService(t, db))
	require.NoError(t, err)
	return svc
}

func intPtr(v int) *int { return &v }

func TestRequestCreateAndDuplicatePending(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	perm := permissionByKey(t, db, "orders.edit")

	request, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "need to adjust orders for the spring catalog",
	})
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusPending, request.Status)
	require.NotEmpty(t, request.PendingKey)

	_, err = svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "asking again because the first one is slow",
	})
	require.ErrorIs(t, err, ErrDuplicatePendingRequest)

	// A different resource scope is a different tuple.
	resType := "order"
	resID := "00000000-0000-0000-0000-000000000001"
	_, err = svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		ResourceType: &resType,
		ResourceID:   &resID,
		Reason:       "scoped ask for one specific order",
	})
	require.NoError(t, err)
}

func TestRequestCreateValidation(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	perm := permissionByKey(t, db, "orders.edit")

	_, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "short",
	})
	require.ErrorIs(t, err, ErrReasonTooShort)

	_, err = svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: "no-such-permission",
		Reason:       "a perfectly reasonable justification",
	})
	require.Error(t, err)
}

func TestRequestApproveAnchorsExpiryAtApproval(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	approver := seedUser(t, db, "approver")
	perm := permissionByKey(t, db, "orders.edit")

	created := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	approvedAt := created.Add(26 * time.Hour)

	svc.WithClock(func() time.Time { return created })
	request, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:   requester.ID,
		PermissionID:  perm.ID,
		Reason:        "temporary edit access for stocktake",
		DurationHours: intPtr(48),
	})
	require.NoError(t, err)
	require.Nil(t, request.ExpiresAt)

	svc.WithClock(func() time.Time { return approvedAt })
	approved, err := svc.Approve(context.Background(), request.ID, approver.ID, "fine for stocktake week")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	require.NotNil(t, approved.ExpiresAt)
	require.WithinDuration(t, approvedAt.Add(48*time.Hour), *approved.ExpiresAt, time.Second)
	require.Empty(t, approved.PendingKey)
}

func TestRequestSelfApprovalRejected(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	perm := permissionByKey(t, db, "orders.edit")

	request, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "need to adjust orders for the spring catalog",
	})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), request.ID, requester.ID, "approving my own ask")
	require.ErrorIs(t, err, ErrSelfApproval)
}

func TestRequestTerminalTransitionsRejected(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	approver := seedUser(t, db, "approver")
	perm := permissionByKey(t, db, "orders.edit")

	request, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "need to adjust orders for the spring catalog",
	})
	require.NoError(t, err)

	_, err = svc.Deny(context.Background(), request.ID, approver.ID, "not during audit season")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), request.ID, approver.ID, "changed my mind")
	require.ErrorIs(t, err, ErrRequestNotPending)
	require.ErrorContains(t, err, models.RequestStatusDenied)

	_, err = svc.Cancel(context.Background(), request.ID, requester.ID)
	require.ErrorIs(t, err, ErrRequestNotPending)

	// Once denied the requester may file again.
	_, err = svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "audit season is over, asking again",
	})
	require.NoError(t, err)
}

func TestRequestDenyRequiresReason(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	approver := seedUser(t, db, "approver")
	perm := permissionByKey(t, db, "orders.edit")

	request, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "need to adjust orders for the spring catalog",
	})
	require.NoError(t, err)

	_, err = svc.Deny(context.Background(), request.ID, approver.ID, "no")
	require.ErrorIs(t, err, ErrReasonTooShort)
}

func TestRequestCancelOnlyByRequester(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	other := seedUser(t, db, "other")
	perm := permissionByKey(t, db, "orders.edit")

	request, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "need to adjust orders for the spring catalog",
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), request.ID, other.ID)
	require.ErrorIs(t, err, ErrNotRequester)

	cancelled, err := svc.Cancel(context.Background(), request.ID, requester.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusCancelled, cancelled.Status)
}

func TestRequestAutoApproveSkipsPending(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	perm := permissionByKey(t, db, "orders.edit")

	request, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:   requester.ID,
		PermissionID:  perm.ID,
		Reason:        "pre-approved by the stocktake access rule",
		DurationHours: intPtr(4),
		AutoApprove:   true,
		AutoReason:    "rule: stocktake window",
	})
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusApproved, request.Status)
	require.True(t, request.AutoApproved)
	require.NotNil(t, request.ApprovedAt)
	require.NotNil(t, request.ExpiresAt)
	require.Empty(t, request.PendingKey)

	// Auto-approved rows hold no pending key, so a pending ask can follow.
	_, err = svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: perm.ID,
		Reason:       "standing access beyond the stocktake window",
	})
	require.NoError(t, err)
}

func TestRequestExpireOutdated(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	approver := seedUser(t, db, "approver")
	edit := permissionByKey(t, db, "orders.edit")
	view := permissionByKey(t, db, "reports.view")

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	svc.WithClock(func() time.Time { return base })
	stale, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: edit.ID,
		Reason:       "this one will sit unanswered for too long",
	})
	require.NoError(t, err)

	granted, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:   requester.ID,
		PermissionID:  view.ID,
		Reason:        "short-lived reporting access for month end",
		DurationHours: intPtr(24),
	})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), granted.ID, approver.ID, "month end only")
	require.NoError(t, err)

	// Eight days on: the pending request is past the TTL and the approved
	// one is past its expiry.
	svc.WithClock(func() time.Time { return base.Add(8 * 24 * time.Hour) })
	count, err := svc.ExpireOutdated(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	staleAfter, err := svc.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusExpired, staleAfter.Status)
	require.Empty(t, staleAfter.PendingKey)

	grantedAfter, err := svc.GetByID(context.Background(), granted.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusExpired, grantedAfter.Status)

	// Idempotent.
	count, err = svc.ExpireOutdated(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)

	// Expiry clears the pending key, so the requester may file again.
	_, err = svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: edit.ID,
		Reason:       "filing again after the old ask expired",
	})
	require.NoError(t, err)
}

func TestRequestPendingQueueFIFO(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	perm := permissionByKey(t, db, "orders.edit")

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	svc.WithClock(func() time.Time { return base.Add(time.Hour) })
	second, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  bob.ID,
		PermissionID: perm.ID,
		Reason:       "bob asks an hour after alice does",
	})
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return base })
	first, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  alice.ID,
		PermissionID: perm.ID,
		Reason:       "alice asked first and should be served first",
	})
	require.NoError(t, err)

	queue, err := svc.PendingQueue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	require.Equal(t, first.ID, queue[0].ID)
	require.Equal(t, second.ID, queue[1].ID)

	byPermission, err := svc.PendingByPermission(context.Background(), perm.ID)
	require.NoError(t, err)
	require.Len(t, byPermission, 2)
	require.Equal(t, first.ID, byPermission[0].ID)
}

func TestRequestStats(t *testing.T) {
	db, _ := setupServiceTest(t)
	svc := newTestRequestService(t, db)
	requester := seedUser(t, db, "requester")
	approver := seedUser(t, db, "approver")
	edit := permissionByKey(t, db, "orders.edit")
	view := permissionByKey(t, db, "reports.view")

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	svc.WithClock(func() time.Time { return base })
	approvedReq, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: edit.ID,
		Reason:       "stats fixture that will be approved",
	})
	require.NoError(t, err)

	deniedReq, err := svc.Create(context.Background(), CreateRequestInput{
		RequesterID:  requester.ID,
		PermissionID: view.ID,
		Reason:       "stats fixture that will be denied",
	})
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return base.Add(2 * time.Hour) })
	_, err = svc.Approve(context.Background(), approvedReq.ID, approver.ID, "fine by me")
	require.NoError(t, err)
	_, err = svc.Deny(context.Background(), deniedReq.ID, approver.ID, "not this quarter, sorry")
	require.NoError(t, err)

	stats, err := svc.Stats(context.Background(), "")
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.CountsByStatus[models.RequestStatusApproved])
	require.EqualValues(t, 1, stats.CountsByStatus[models.RequestStatusDenied])
	require.Equal(t, 2*time.Hour, stats.AvgApprovalDuration)

	mine, err := svc.ListByRequester(context.Background(), requester.ID, "")
	require.NoError(t, err)
	require.Len(t, mine, 2)
}
