package handlers_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakhurst/backoffice/internal/handlers/testutil"
	"github.com/oakhurst/backoffice/internal/models"
)

func TestTemplateApplyFlow(t *testing.T) {
	env := testutil.NewEnv(t)

	admin := env.CreateUser("admin")
	worker := env.CreateUser("worker")
	org := env.CreateOrganization("Oakhurst Mill")
	env.AddMembership(org.ID, admin.ID, []string{"admin"})
	env.AddMembership(org.ID, worker.ID, []string{"member"})
	adminToken := env.TokenFor(admin.ID)

	payments := env.PermissionByKey("payments.view")
	reports := env.PermissionByKey("reports.view")

	w := env.Request(http.MethodPost, "/api/templates", map[string]any{
		"template_name": "Accounting Onboarding",
		"description":   "Baseline access for the accounting desk",
		"category":      "onboarding",
		"members": []map[string]any{
			{"permission_id": payments.ID},
			{"permission_id": reports.ID},
		},
	}, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	var template models.PermissionTemplate
	testutil.DecodeInto(t, resp.Data, &template)
	require.Len(t, template.Members, 2)

	// Members cannot create templates.
	w = env.Request(http.MethodPost, "/api/templates", map[string]any{
		"template_name": "Rogue Template",
		"members":       []map[string]any{{"permission_id": payments.ID}},
	}, env.TokenFor(worker.ID))
	require.Equal(t, http.StatusForbidden, w.Code)

	// Applying creates one grant per template member.
	w = env.Request(http.MethodPost, fmt.Sprintf("/api/templates/%s/apply", template.ID), map[string]any{
		"user_id":         worker.ID,
		"organization_id": org.ID,
		"reason":          "new hire onboarding",
	}, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp = testutil.DecodeResponse(t, w)
	var grants []models.OrganizationPermission
	testutil.DecodeInto(t, resp.Data, &grants)
	require.Len(t, grants, 2)

	// The worker now holds payments.view through the applied grant.
	w = env.Request(http.MethodPost, fmt.Sprintf("/api/orgs/%s/permissions/check", org.ID), map[string]any{
		"permission_key": "payments.view",
	}, env.TokenFor(worker.ID))
	require.Equal(t, http.StatusOK, w.Code)
	resp = testutil.DecodeResponse(t, w)
	var result map[string]any
	testutil.DecodeInto(t, resp.Data, &result)
	require.Equal(t, true, result["allowed"])

	// Stats reflect the application.
	w = env.Request(http.MethodGet, fmt.Sprintf("/api/templates/%s/stats", template.ID), nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Cloning produces an independent copy.
	w = env.Request(http.MethodPost, fmt.Sprintf("/api/templates/%s/clone", template.ID), map[string]any{
		"name": "Accounting Onboarding (Q3)",
	}, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp = testutil.DecodeResponse(t, w)
	var clone models.PermissionTemplate
	testutil.DecodeInto(t, resp.Data, &clone)
	require.NotEqual(t, template.ID, clone.ID)
	require.Len(t, clone.Members, 2)
}

func TestConditionRestrictsCheck(t *testing.T) {
	env := testutil.NewEnv(t)

	admin := env.CreateUser("admin")
	worker := env.CreateUser("worker")
	org := env.CreateOrganization("Oakhurst Mill")
	env.AddMembership(org.ID, admin.ID, []string{"admin"})
	env.AddMembership(org.ID, worker.ID, []string{"member"})
	adminToken := env.TokenFor(admin.ID)
	workerToken := env.TokenFor(worker.ID)

	perm := env.PermissionByKey("orders.view")

	check := func() map[string]any {
		w := env.Request(http.MethodPost, fmt.Sprintf("/api/orgs/%s/permissions/check", org.ID), map[string]any{
			"permission_key": "orders.view",
		}, workerToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := testutil.DecodeResponse(t, w)
		var result map[string]any
		testutil.DecodeInto(t, resp.Data, &result)
		return result
	}

	require.Equal(t, true, check()["allowed"])

	// Attach an IP restriction for this worker. Test requests carry no
	// client IP, so the condition denies.
	w := env.Request(http.MethodPost, fmt.Sprintf("/api/permissions/%s/conditions", perm.ID), map[string]any{
		"user_id":        worker.ID,
		"condition_type": models.ConditionTypeIPRange,
		"config":         map[string]any{"allowed_cidrs": []string{"10.0.0.0/8"}},
	}, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	var condition models.PermissionCondition
	testutil.DecodeInto(t, resp.Data, &condition)

	denied := check()
	require.Equal(t, false, denied["allowed"])
	require.NotEmpty(t, denied["denial_reason"])

	// Dry-run evaluation against supplied contexts.
	evaluate := func(ip string) bool {
		w := env.Request(http.MethodPost, fmt.Sprintf("/api/permissions/%s/conditions/evaluate", perm.ID), map[string]any{
			"user_id":    worker.ID,
			"ip_address": ip,
		}, adminToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := testutil.DecodeResponse(t, w)
		var result map[string]bool
		testutil.DecodeInto(t, resp.Data, &result)
		return result["passed"]
	}
	require.True(t, evaluate("10.1.2.3"))
	require.False(t, evaluate("8.8.8.8"))

	// Conditions are listable and removable by admins only.
	w = env.Request(http.MethodGet, fmt.Sprintf("/api/permissions/%s/conditions", perm.ID), nil, workerToken)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.Request(http.MethodDelete, fmt.Sprintf("/api/conditions/%s", condition.ID), nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Equal(t, true, check()["allowed"])
}

func TestUsageAnalyticsEndpoints(t *testing.T) {
	env := testutil.NewEnv(t)

	admin := env.CreateUser("admin")
	worker := env.CreateUser("worker")
	org := env.CreateOrganization("Oakhurst Mill")
	env.AddMembership(org.ID, admin.ID, []string{"admin"})
	env.AddMembership(org.ID, worker.ID, []string{"member"})
	adminToken := env.TokenFor(admin.ID)

	// Log some traffic through the check endpoint.
	for i := 0; i < 3; i++ {
		w := env.Request(http.MethodPost, fmt.Sprintf("/api/orgs/%s/permissions/check", org.ID), map[string]any{
			"permission_key": "orders.view",
		}, env.TokenFor(worker.ID))
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Analytics are admin-only.
	w := env.Request(http.MethodGet, "/api/usage/compliance", nil, env.TokenFor(worker.ID))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.Request(http.MethodGet, "/api/usage/compliance", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/usage/activity?limit=10", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	resp := testutil.DecodeResponse(t, w)
	var entries []models.UsageLogEntry
	testutil.DecodeInto(t, resp.Data, &entries)
	require.Len(t, entries, 3)

	perm := env.PermissionByKey("orders.view")

	// Collaborating services can report denials they observed themselves.
	w = env.Request(http.MethodPost, "/api/usage", map[string]any{
		"user_id":       worker.ID,
		"permission_id": perm.ID,
		"result":        "denied",
		"action":        "export",
		"denial_reason": "window closed",
	}, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/usage", map[string]any{
		"user_id":       worker.ID,
		"permission_id": perm.ID,
		"result":        "sideways",
	}, adminToken)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/usage/activity?limit=10", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	resp = testutil.DecodeResponse(t, w)
	testutil.DecodeInto(t, resp.Data, &entries)
	require.Len(t, entries, 4)

	w = env.Request(http.MethodGet, fmt.Sprintf("/api/usage/permissions/%s", perm.ID), nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, fmt.Sprintf("/api/usage/users/%s", worker.ID), nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/usage/unused?days=30", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
