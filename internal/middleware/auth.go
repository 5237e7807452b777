package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"

	// AccessTokenCookie carries the access token for browser navigation,
	// where no Authorization header is available.
	AccessTokenCookie = "access_token"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFromRequest(c, jwt)
		if claims == nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if claims.Deleted {
			response.Error(c, errors.ErrAccountLocked)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Next()
	}
}

// OptionalAuth propagates claims when a valid token is presented but lets
// anonymous requests through. Handlers widen their behaviour per caller.
func OptionalAuth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := claimsFromRequest(c, jwt); claims != nil && !claims.Deleted {
			c.Set(CtxClaimsKey, claims)
			c.Set(CtxUserIDKey, claims.UserID)
		}
		c.Next()
	}
}

// ClaimsFrom extracts the validated claims placed by Auth or Gate. The second
// return is false for anonymous requests.
func ClaimsFrom(c *gin.Context) (*iauth.Claims, bool) {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*iauth.Claims)
	return claims, ok && claims != nil
}

// claimsFromRequest resolves the access token from the Authorization header
// or the session cookie. Any validation failure yields nil claims; the caller
// decides whether anonymity is acceptable.
func claimsFromRequest(c *gin.Context, jwt *iauth.JWTService) *iauth.Claims {
	token := ""
	if authz := c.GetHeader("Authorization"); len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		token = strings.TrimSpace(authz[7:])
	}
	if token == "" {
		if cookie, err := c.Cookie(AccessTokenCookie); err == nil {
			token = strings.TrimSpace(cookie)
		}
	}
	if token == "" {
		return nil
	}

	claims, err := jwt.ValidateAccessToken(token)
	if err != nil {
		return nil
	}
	return claims
}
