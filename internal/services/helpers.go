package services

import (
	"context"
	"strings"
)

// minReasonLength is the shortest acceptable justification text for requests,
// denials, and revocations.
const minReasonLength = 10

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func reasonTooShort(reason string) bool {
	return len(strings.TrimSpace(reason)) < minReasonLength
}
