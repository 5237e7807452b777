package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/middleware"
)

// pagePaths enumerates the browser navigation surface. Every page passes
// through the navigation gate; the handlers themselves just hand the shell to
// the frontend, which renders based on /api/auth/me.
var pagePaths = []string{
	"/",
	"/signin",
	"/signup",
	"/verify",
	"/reset",
	"/dashboard",
	"/account",
	"/admin",
	"/admin/users",
	"/admin/review",
	"/admin/audit",
	"/listings",
}

const pageShell = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>FieldAtlas</title></head>
<body><div id="app"></div><script src="/assets/app.js"></script></body>
</html>
`

func registerPages(r *gin.Engine, jwt *iauth.JWTService) {
	gate := middleware.Gate(jwt)
	for _, path := range pagePaths {
		r.GET(path, gate, servePage)
	}
}

func servePage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(pageShell))
}
