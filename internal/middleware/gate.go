package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	"github.com/fieldatlas/fieldatlas/pkg/metrics"
)

const signinPath = "/signin"

// lockedAllowed enumerates the pages a deactivated account may still reach:
// the public shell plus the recovery entry points.
var lockedAllowed = map[string]bool{
	"/":       true,
	"/signin": true,
	"/signup": true,
	"/verify": true,
	"/reset":  true,
}

// Decision is the outcome of a navigation check. A disallowed request carries
// the redirect target and the machine-readable reason.
type Decision struct {
	Allow  bool
	Target string
	Reason string
}

func allowed() Decision {
	return Decision{Allow: true}
}

func denied(reason string) Decision {
	return Decision{Target: signinPath + "?denied=" + reason, Reason: reason}
}

// Decide evaluates the navigation rules for a path given the request's claims
// (nil for anonymous visitors). It is a pure function of its inputs so the
// rules can be tested without HTTP plumbing. Rules apply in order: the
// deactivation lockout first, then the admin role floor, then the
// authenticated-only areas. Paths matched by no rule are public.
func Decide(path string, claims *iauth.Claims) Decision {
	if claims != nil && claims.Deleted {
		if lockedAllowed[path] || strings.HasPrefix(path, "/verify/") || strings.HasPrefix(path, "/reset/") {
			return allowed()
		}
		return denied("locked")
	}

	if path == "/admin" || strings.HasPrefix(path, "/admin/") {
		if claims == nil {
			return denied("login_required")
		}
		if !roles.Satisfies(claims.ParsedRole(), roles.Editor) {
			return denied("role_floor")
		}
		return allowed()
	}

	if isProtectedArea(path) {
		if claims == nil {
			return denied("login_required")
		}
		return allowed()
	}

	return allowed()
}

func isProtectedArea(path string) bool {
	for _, prefix := range []string{"/dashboard", "/account"} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Gate applies Decide to browser navigation, redirecting denied requests to
// the sign-in page. Valid claims are propagated into the request context for
// downstream page handlers.
func Gate(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFromRequest(c, jwt)
		decision := Decide(c.Request.URL.Path, claims)

		rule := decision.Reason
		if decision.Allow {
			rule = "allow"
		}
		metrics.GateDecisions.WithLabelValues(rule).Inc()

		if !decision.Allow {
			c.Redirect(http.StatusSeeOther, decision.Target)
			c.Abort()
			return
		}

		if claims != nil {
			c.Set(CtxClaimsKey, claims)
			c.Set(CtxUserIDKey, claims.UserID)
		}
		c.Next()
	}
}
