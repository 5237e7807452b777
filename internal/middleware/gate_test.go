package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/roles"
)

func claimsFor(role roles.Role, deleted bool) *iauth.Claims {
	return &iauth.Claims{UserID: "user-1", Role: string(role), Deleted: deleted}
}

func TestDecidePublicPathsForAnonymous(t *testing.T) {
	for _, path := range []string{"/", "/signin", "/signup", "/verify", "/reset", "/listings", "/listings/some-parcel"} {
		decision := Decide(path, nil)
		require.True(t, decision.Allow, "path %s", path)
	}
}

func TestDecideProtectedAreasRequireAuthentication(t *testing.T) {
	for _, path := range []string{"/dashboard", "/dashboard/listings", "/account", "/account/security"} {
		decision := Decide(path, nil)
		require.False(t, decision.Allow, "path %s", path)
		require.Equal(t, "/signin?denied=login_required", decision.Target)
	}

	for _, role := range []roles.Role{roles.Visitor, roles.Owner, roles.Editor, roles.Admin} {
		decision := Decide("/dashboard", claimsFor(role, false))
		require.True(t, decision.Allow, "role %s", role)
	}
}

func TestDecideAdminAreaEnforcesEditorFloor(t *testing.T) {
	for _, role := range []roles.Role{roles.Visitor, roles.Owner} {
		decision := Decide("/admin/users", claimsFor(role, false))
		require.False(t, decision.Allow, "role %s", role)
		require.Equal(t, "role_floor", decision.Reason)
	}

	for _, role := range []roles.Role{roles.Editor, roles.Admin} {
		decision := Decide("/admin/users", claimsFor(role, false))
		require.True(t, decision.Allow, "role %s", role)
	}

	decision := Decide("/admin", nil)
	require.False(t, decision.Allow)
	require.Equal(t, "login_required", decision.Reason)
}

func TestDecideAdminFloorFailsClosedForUnknownRole(t *testing.T) {
	decision := Decide("/admin", &iauth.Claims{UserID: "u", Role: "SUPERADMIN"})
	require.False(t, decision.Allow)
	require.Equal(t, "role_floor", decision.Reason)
}

func TestDecideLockoutOverridesEverything(t *testing.T) {
	locked := claimsFor(roles.Admin, true)

	// Even an admin loses everything but the public shell when deactivated.
	for _, path := range []string{"/dashboard", "/account", "/admin", "/listings"} {
		decision := Decide(path, locked)
		require.False(t, decision.Allow, "path %s", path)
		require.Equal(t, "/signin?denied=locked", decision.Target)
	}

	for _, path := range []string{"/", "/signin", "/signup", "/verify", "/reset", "/verify/abc", "/reset/abc"} {
		decision := Decide(path, locked)
		require.True(t, decision.Allow, "path %s", path)
	}
}

func TestDecideAdminPrefixDoesNotLeak(t *testing.T) {
	// /administrivia is not under the admin area.
	decision := Decide("/administrivia", claimsFor(roles.Visitor, false))
	require.True(t, decision.Allow)
}

func TestGateRedirectsDeniedNavigation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "test"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/dashboard", Gate(jwt), func(c *gin.Context) { c.String(http.StatusOK, "dashboard") })
	r.GET("/signin", Gate(jwt), func(c *gin.Context) { c.String(http.StatusOK, "signin") })

	// Anonymous request bounces to the sign-in page.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "/signin?denied=login_required", w.Header().Get("Location"))

	// A valid bearer token passes through.
	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-1", Role: string(roles.Owner)})
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// An expired token counts as anonymous, not as an error.
	expiredJWT, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret: "test-secret",
		Issuer: "test",
		Clock:  func() time.Time { return time.Now().Add(-2 * time.Hour) },
	})
	require.NoError(t, err)
	stale, err := expiredJWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-1", Role: string(roles.Owner)})
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+stale)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusSeeOther, w.Code)
}

func TestGateReadsCookieForBrowserNavigation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/account", Gate(jwt), func(c *gin.Context) { c.String(http.StatusOK, "account") })

	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-1", Role: string(roles.Visitor)})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
