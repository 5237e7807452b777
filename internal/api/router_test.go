package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/app"
	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	"github.com/fieldatlas/fieldatlas/internal/services"
)

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	users    *services.UserService
	tokens   *services.TokenService
	sessions *iauth.SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.AccountLink{},
		&models.EmailVerification{},
		&models.PasswordReset{},
		&models.Invite{},
		&models.Listing{},
		&models.Submission{},
		&models.AuditEvent{},
		&models.AnalysisRequest{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-test-secret", Issuer: "test"})
	require.NoError(t, err)
	sessions, err := iauth.NewSessionService(db, jwt, iauth.SessionConfig{})
	require.NoError(t, err)
	authenticator, err := iauth.NewAuthenticator(db, iauth.AuthenticatorConfig{})
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	users, err := services.NewUserService(db, audit)
	require.NoError(t, err)
	tokens, err := services.NewTokenService(db, nil)
	require.NoError(t, err)
	listings, err := services.NewListingService(db, audit)
	require.NoError(t, err)
	submissions, err := services.NewSubmissionService(db, audit)
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Auth.JWT.Secret = "router-test-secret"

	router, err := NewRouter(Deps{
		DB:            db,
		Config:        cfg,
		JWT:           jwt,
		Sessions:      sessions,
		Authenticator: authenticator,
		Users:         users,
		Tokens:        tokens,
		Listings:      listings,
		Submissions:   submissions,
		Audit:         audit,
	})
	require.NoError(t, err)

	return &testEnv{router: router, db: db, users: users, tokens: tokens, sessions: sessions}
}

func (e *testEnv) request(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Data
}

// seedAccount provisions a verified account and returns a live access token.
func (e *testEnv) seedAccount(t *testing.T, email, password string, role roles.Role) (string, string) {
	t.Helper()

	user, err := e.users.Create(context.Background(), services.CreateUserInput{
		Email:    email,
		Name:     "Seeded",
		Password: password,
		Role:     role,
		Verified: true,
	})
	require.NoError(t, err)

	pair, _, err := e.sessions.CreateSession(context.Background(), user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)
	return pair.AccessToken, user.ID
}

func TestRegisterVerifyLoginRefreshLogout(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":    "Walker@Example.com",
		"name":     "Walker",
		"password": "long-enough-pass",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Sign-in is blocked until the address is verified.
	w = env.request(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "walker@example.com",
		"password": "long-enough-pass",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "EMAIL_NOT_VERIFIED")

	verifyToken, err := env.tokens.Issue(context.Background(), services.IssueInput{
		Kind:  services.TokenEmailVerification,
		Email: "walker@example.com",
	})
	require.NoError(t, err)

	w = env.request(t, http.MethodPost, "/api/auth/verify", "", gin.H{"token": verifyToken})
	require.Equal(t, http.StatusOK, w.Code)

	// Token replay reads as a bogus token.
	w = env.request(t, http.MethodPost, "/api/auth/verify", "", gin.H{"token": verifyToken})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "walker@example.com",
		"password": "long-enough-pass",
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	tokens, ok := data["tokens"].(map[string]any)
	require.True(t, ok)
	access := tokens["access_token"].(string)
	refresh := tokens["refresh_token"].(string)

	w = env.request(t, http.MethodGet, "/api/auth/me", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "walker@example.com")

	w = env.request(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	rotated := decodeData(t, w)["refresh_token"].(string)
	require.NotEqual(t, refresh, rotated)

	// The superseded refresh token is dead.
	w = env.request(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPost, "/api/auth/logout", "", gin.H{"refresh_token": rotated})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": rotated})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.seedAccount(t, "reset-me@example.com", "original-password", roles.Owner)

	// The response is the same whether or not the account exists.
	w := env.request(t, http.MethodPost, "/api/auth/reset/request", "", gin.H{"email": "reset-me@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	known := w.Body.String()

	w = env.request(t, http.MethodPost, "/api/auth/reset/request", "", gin.H{"email": "nobody@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, known, w.Body.String())

	resetToken, err := env.tokens.Issue(context.Background(), services.IssueInput{
		Kind:  services.TokenPasswordReset,
		Email: "reset-me@example.com",
	})
	require.NoError(t, err)

	w = env.request(t, http.MethodPost, "/api/auth/reset/confirm", "", gin.H{
		"token":    resetToken,
		"password": "brand-new-password",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "reset-me@example.com",
		"password": "original-password",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "reset-me@example.com",
		"password": "brand-new-password",
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminEndpointsEnforceRoleFloor(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.seedAccount(t, "owner@example.com", "owner-password", roles.Owner)
	adminToken, _ := env.seedAccount(t, "admin@example.com", "admin-password", roles.Admin)

	w := env.request(t, http.MethodGet, "/api/users", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodGet, "/api/users", ownerToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(t, http.MethodGet, "/api/users", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Audit trail requires the editor floor, which an admin clears.
	w = env.request(t, http.MethodGet, "/api/audit", ownerToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	w = env.request(t, http.MethodGet, "/api/audit", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestInviteFlowCreatesVerifiedEditor(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.seedAccount(t, "admin@example.com", "admin-password", roles.Admin)
	ownerToken, _ := env.seedAccount(t, "owner@example.com", "owner-password", roles.Owner)

	w := env.request(t, http.MethodPost, "/api/invites", ownerToken, gin.H{
		"email": "surveyor@example.com",
		"role":  "EDITOR",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(t, http.MethodPost, "/api/invites", adminToken, gin.H{
		"email": "surveyor@example.com",
		"role":  "EDITOR",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	inviteToken := decodeData(t, w)["token"].(string)

	w = env.request(t, http.MethodPost, "/api/invites/accept", "", gin.H{
		"token":    inviteToken,
		"name":     "Surveyor",
		"password": "surveyor-password",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Invited accounts arrive verified and sign in immediately with the role
	// the invite carried.
	w = env.request(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "surveyor@example.com",
		"password": "surveyor-password",
	})
	require.Equal(t, http.StatusOK, w.Code)
	user := decodeData(t, w)["user"].(map[string]any)
	require.Equal(t, "EDITOR", user["role"])
	require.Equal(t, true, user["verified"])

	// An invite is single use.
	w = env.request(t, http.MethodPost, "/api/invites/accept", "", gin.H{
		"token":    inviteToken,
		"password": "another-password",
	})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestInviteCreateCanonicalisesRole(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.seedAccount(t, "admin@example.com", "admin-password", roles.Admin)

	// Role matching is case-insensitive, but both the response and the stored
	// invite carry the canonical casing.
	w := env.request(t, http.MethodPost, "/api/invites", adminToken, gin.H{
		"email": "surveyor@example.com",
		"role":  "editor",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "EDITOR", decodeData(t, w)["role"])

	var invite models.Invite
	require.NoError(t, env.db.Take(&invite, "email = ?", "surveyor@example.com").Error)
	require.Equal(t, "EDITOR", invite.Role)

	w = env.request(t, http.MethodPost, "/api/invites", adminToken, gin.H{
		"email": "nobody@example.com",
		"role":  "superuser",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListingVisibilityAndReview(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.seedAccount(t, "owner@example.com", "owner-password", roles.Owner)
	editorToken, _ := env.seedAccount(t, "editor@example.com", "editor-password", roles.Editor)

	w := env.request(t, http.MethodPost, "/api/listings", ownerToken, gin.H{
		"title":   "Maple Hollow",
		"county":  "Lancaster",
		"acreage": 12.5,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	listingID := decodeData(t, w)["id"].(string)

	// Drafts are hidden from anonymous readers.
	w = env.request(t, http.MethodGet, "/api/listings/"+listingID, "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// The owner still sees their draft.
	w = env.request(t, http.MethodGet, "/api/listings/"+listingID, ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPost, "/api/listings/"+listingID+"/submit", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The owner cannot review their own queue entry without the editor floor.
	w = env.request(t, http.MethodPost, "/api/listings/"+listingID+"/review", ownerToken, gin.H{"approve": true})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(t, http.MethodPost, "/api/listings/"+listingID+"/review", editorToken, gin.H{"approve": true})
	require.Equal(t, http.StatusOK, w.Code)

	// Published listings are public.
	w = env.request(t, http.MethodGet, "/api/listings/"+listingID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAnalysisDisabledReturns503(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.seedAccount(t, "analyst@example.com", "analyst-password", roles.Owner)

	w := env.request(t, http.MethodPost, "/api/analysis", token, gin.H{
		"geojson": json.RawMessage(`{"type":"Feature"}`),
		"year1":   2001,
		"year2":   2021,
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "ANALYSIS_DISABLED")
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/does-not-exist", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}
