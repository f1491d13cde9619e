package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/api"
	"github.com/oakhurst/backoffice/internal/app"
	iauth "github.com/oakhurst/backoffice/internal/auth"
	sharedtestutil "github.com/oakhurst/backoffice/internal/database/testutil"
	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/notifications"
	"github.com/oakhurst/backoffice/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "test-suite-super-secret-key-32-bytes!!",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: false},
		},
	}

	router, err := api.NewRouter(db, jwtSvc, cfg, notifications.NewHub())
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
	}
}

// CreateUser inserts a new active user and returns the record.
func (e *Env) CreateUser(prefix string) *models.User {
	e.T.Helper()

	username := prefix + "-" + uuid.NewString()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "x",
		IsActive: true,
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// CreateOrganization inserts an organization for tests.
func (e *Env) CreateOrganization(name string) *models.Organization {
	e.T.Helper()

	org := &models.Organization{Name: name}
	require.NoError(e.T, e.DB.Create(org).Error)
	return org
}

// AddMembership enrolls the user into the organization with the given roles.
func (e *Env) AddMembership(orgID, userID string, roles []string) *models.OrganizationMembership {
	e.T.Helper()

	membership := &models.OrganizationMembership{
		OrganizationID: orgID,
		UserID:         userID,
		Status:         models.MembershipStatusActive,
	}
	require.NoError(e.T, membership.SetRoleKeys(roles))
	require.NoError(e.T, e.DB.Create(membership).Error)
	return membership
}

// TokenFor issues a valid access token for the given user ID.
func (e *Env) TokenFor(userID string) string {
	e.T.Helper()

	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID})
	require.NoError(e.T, err)
	return token
}

// PermissionByKey fetches a seeded catalog permission row.
func (e *Env) PermissionByKey(key string) *models.Permission {
	e.T.Helper()

	var perm models.Permission
	require.NoError(e.T, e.DB.First(&perm, "key = ?", key).Error)
	return &perm
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
