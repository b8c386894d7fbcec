package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/authz"
	"presence/internal/identity"
	"presence/internal/token"
)

type stubIdentityStore struct {
	byPublicID map[string]identity.Identity
}

func (s *stubIdentityStore) GetByPublicID(_ context.Context, publicID string) (identity.Identity, error) {
	ident, ok := s.byPublicID[publicID]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return ident, nil
}

func setupRouter(tokens *token.Service, store IdentityStore, roles ...authz.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{Authenticated(tokens, store)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRoles(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		ident, _ := CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"id": ident.PublicID})
	})
	r.GET("/protected", handlers...)
	return r
}

func TestAuthenticated(t *testing.T) {
	tokens := token.NewService("test", "access", "refresh", time.Minute, time.Hour)
	store := &stubIdentityStore{byPublicID: map[string]identity.Identity{
		"u-1": {ID: 1, PublicID: "u-1", Role: authz.RoleStudent, Active: true},
		"u-2": {ID: 2, PublicID: "u-2", Role: authz.RoleStudent, Active: false},
	}}
	r := setupRouter(tokens, store)

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("").Code)
	})

	t.Run("valid access token", func(t *testing.T) {
		access, _, err := tokens.IssueAccess("u-1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, do("Bearer "+access).Code)
	})

	t.Run("refresh token rejected on access endpoint", func(t *testing.T) {
		refresh, _, err := tokens.IssueRefresh("u-1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+refresh).Code)
	})

	t.Run("expired token", func(t *testing.T) {
		access, _, err := tokens.IssueAccess("u-1", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+access).Code)
	})

	t.Run("unknown subject", func(t *testing.T) {
		access, _, err := tokens.IssueAccess("ghost", time.Now())
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+access).Code)
	})

	t.Run("inactive identity", func(t *testing.T) {
		access, _, err := tokens.IssueAccess("u-2", time.Now())
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+access).Code)
	})
}

func TestRequireRoles(t *testing.T) {
	tokens := token.NewService("test", "access", "refresh", time.Minute, time.Hour)
	store := &stubIdentityStore{byPublicID: map[string]identity.Identity{
		"student": {ID: 1, PublicID: "student", Role: authz.RoleStudent, Active: true},
		"admin":   {ID: 2, PublicID: "admin", Role: authz.RoleAdmin, Active: true},
	}}
	r := setupRouter(tokens, store, authz.RoleTeacher)

	do := func(subject string) int {
		access, _, err := tokens.IssueAccess(subject, time.Now())
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusForbidden, do("student"))
	assert.Equal(t, http.StatusOK, do("admin"), "admin satisfies the teacher gate")
}
