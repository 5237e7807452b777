package handlers

import (
	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/roles"
)

// editorOr reports whether the caller either satisfies the given ownership
// condition or holds the editor floor.
func editorOr(claims *iauth.Claims, ownerOK bool) bool {
	if claims == nil {
		return false
	}
	return ownerOK || roles.Satisfies(claims.ParsedRole(), roles.Editor)
}
