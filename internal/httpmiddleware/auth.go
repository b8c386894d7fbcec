package httpmiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"presence/internal/authz"
	"presence/internal/identity"
	"presence/internal/token"
)

const identityKey = "identity"

// IdentityStore resolves a verified token subject to a full identity.
type IdentityStore interface {
	GetByPublicID(ctx context.Context, publicID string) (identity.Identity, error)
}

// Authenticated enforces a bearer access token and loads the authenticated
// identity into the gin context. All token failure kinds surface uniformly
// as 401; the distinction stays internal.
func Authenticated(tokens *token.Service, store IdentityStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(header[len("bearer "):])

		subject, err := tokens.Verify(tokenStr, token.KindAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ident, err := store.GetByPublicID(c.Request.Context(), subject)
		if err != nil || !ident.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(identityKey, ident)
		c.Next()
	}
}

// RequireRoles gates a route on the authenticated identity's role. Must run
// after Authenticated.
func RequireRoles(roles ...authz.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if err := authz.Requires(ident.Role, roles...); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CurrentIdentity returns the identity set by Authenticated.
func CurrentIdentity(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return identity.Identity{}, false
	}
	ident, ok := v.(identity.Identity)
	return ident, ok
}
