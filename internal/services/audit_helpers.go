package services

import (
	"context"

	"github.com/oakhurst/backoffice/internal/auditctx"
)

// recordAudit logs the supplied entry while tolerating audit failures; a
// failed audit write never fails the mutation it describes.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.UserID == nil && actor.UserID != "" {
			id := actor.UserID
			entry.UserID = &id
		}
		if entry.Username == "" {
			entry.Username = actor.Username
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}
	_ = audit.Log(ctx, entry)
}
