package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/roles"
)

func newTestJWT(t *testing.T) *iauth.JWTService {
	t.Helper()
	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "test"})
	require.NoError(t, err)
	return jwt
}

func protectedRouter(jwt *iauth.JWTService, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chain := append([]gin.HandlerFunc{Auth(jwt)}, extra...)
	chain = append(chain, func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.JSON(http.StatusOK, gin.H{"uid": claims.UserID})
	})
	r.GET("/secure", chain...)
	return r
}

func TestAuthRejectsMissingAndMalformedTokens(t *testing.T) {
	r := protectedRouter(newTestJWT(t))

	for _, header := range []string{"", "Bearer", "Bearer  ", "Token abc", "Bearer not-a-jwt"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestAuthPropagatesClaims(t *testing.T) {
	jwt := newTestJWT(t)
	r := protectedRouter(jwt)

	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-1", Role: string(roles.Owner)})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "user-1")
}

func TestAuthRejectsDeactivatedAccounts(t *testing.T) {
	jwt := newTestJWT(t)
	r := protectedRouter(jwt)

	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-1", Role: string(roles.Admin), Deleted: true})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "ACCOUNT_LOCKED")
}

func TestRequireRoleEnforcesFloor(t *testing.T) {
	jwt := newTestJWT(t)
	r := protectedRouter(jwt, RequireRole(roles.Editor))

	cases := []struct {
		role roles.Role
		want int
	}{
		{roles.Visitor, http.StatusForbidden},
		{roles.Owner, http.StatusForbidden},
		{roles.Editor, http.StatusOK},
		{roles.Admin, http.StatusOK},
	}

	for _, tc := range cases {
		token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-1", Role: string(tc.role)})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		require.Equal(t, tc.want, w.Code, "role %s", tc.role)
	}
}

func TestOptionalAuthAllowsAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwt := newTestJWT(t)

	r := gin.New()
	r.GET("/open", OptionalAuth(jwt), func(c *gin.Context) {
		if _, ok := ClaimsFrom(c); ok {
			c.String(http.StatusOK, "authed")
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	require.Equal(t, "anonymous", w.Body.String())

	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-1", Role: string(roles.Visitor)})
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, "authed", w.Body.String())
}
