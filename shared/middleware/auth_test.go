package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/session"
)

const testKey = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	manager *session.Manager
	auth    *AuthMiddleware
	router  *gin.Engine
}

func newFixture() *fixture {
	manager := session.NewManager(testKey, time.Hour, session.NewMemoryLedger(time.Now))
	am := NewAuthMiddleware(manager)

	r := gin.New()
	ok := func(c *gin.Context) {
		id, _ := IdentityFromContext(c)
		c.JSON(http.StatusOK, id)
	}
	r.GET("/me", am.RequireAuth(), ok)
	r.GET("/platform", am.RequireAuth(), am.RequireRole(models.RolePlatformOperator), ok)
	r.GET("/tenants/:org", am.RequireAuth(), am.RequireTenantAccess(), ok)
	r.POST("/tenants/:org/users", am.RequireAuth(), am.RequireTenantAdmin(), ok)
	r.GET("/unguarded/:org", am.RequireTenantAccess(), ok)

	return &fixture{manager: manager, auth: am, router: r}
}

func (f *fixture) token(t *testing.T, g session.Grant) string {
	t.Helper()
	tok, err := f.manager.Issue(g)
	require.NoError(t, err)
	return tok.AccessToken
}

func (f *fixture) do(method, path, header string) int {
	req := httptest.NewRequest(method, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w.Code
}

var (
	operatorGrant = session.Grant{Subject: "ops@platform.example", Role: models.RolePlatformOperator, TenantScope: models.PlatformScope, PrincipalID: 1, IsAdmin: true}
	adminGrant    = session.Grant{Subject: "alice@acme.example", Role: models.RoleTenantAdmin, TenantScope: "ACME", PrincipalID: 2, IsAdmin: true}
	userGrant     = session.Grant{Subject: "bob@acme.example", Role: models.RoleTenantUser, TenantScope: "ACME", PrincipalID: 3}
)

func TestRequireAuth(t *testing.T) {
	f := newFixture()
	tok := f.token(t, userGrant)

	assert.Equal(t, http.StatusOK, f.do("GET", "/me", "Bearer "+tok))
	assert.Equal(t, http.StatusOK, f.do("GET", "/me", "bearer "+tok))
	assert.Equal(t, http.StatusOK, f.do("GET", "/me", tok))
	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/me", ""))
	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/me", "Basic "+tok))
	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/me", "Bearer not-a-token"))
}

func TestRequireAuthStoresIdentityAndToken(t *testing.T) {
	f := newFixture()
	tok := f.token(t, adminGrant)

	var keys []string
	f.router.GET("/keys", f.auth.RequireAuth(), func(c *gin.Context) {
		for k := range c.Keys {
			keys = append(keys, k)
		}
		id, ok := IdentityFromContext(c)
		assert.True(t, ok)
		assert.Equal(t, "ACME", id.TenantScope)
		assert.Equal(t, tok, TokenFromContext(c))
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, f.do("GET", "/keys", "Bearer "+tok))
	assert.ElementsMatch(t, []string{identityKey, tokenKey}, keys)
}

func TestRequireAuthRejectsRevoked(t *testing.T) {
	f := newFixture()
	tok := f.token(t, userGrant)
	require.NoError(t, f.manager.Revoke(context.Background(), tok))

	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/me", "Bearer "+tok))
}

func TestRequireRole(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusOK, f.do("GET", "/platform", "Bearer "+f.token(t, operatorGrant)))
	assert.Equal(t, http.StatusForbidden, f.do("GET", "/platform", "Bearer "+f.token(t, adminGrant)))
}

func TestRequireTenantAccess(t *testing.T) {
	f := newFixture()
	user := "Bearer " + f.token(t, userGrant)

	assert.Equal(t, http.StatusOK, f.do("GET", "/tenants/ACME", user))
	assert.Equal(t, http.StatusOK, f.do("GET", "/tenants/acme", user))
	assert.Equal(t, http.StatusForbidden, f.do("GET", "/tenants/GLOBEX", user))
	assert.Equal(t, http.StatusOK, f.do("GET", "/tenants/GLOBEX", "Bearer "+f.token(t, operatorGrant)))
}

func TestRequireTenantAdmin(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusOK, f.do("POST", "/tenants/ACME/users", "Bearer "+f.token(t, adminGrant)))
	assert.Equal(t, http.StatusForbidden, f.do("POST", "/tenants/ACME/users", "Bearer "+f.token(t, userGrant)))
	assert.Equal(t, http.StatusForbidden, f.do("POST", "/tenants/GLOBEX/users", "Bearer "+f.token(t, adminGrant)))
	assert.Equal(t, http.StatusOK, f.do("POST", "/tenants/GLOBEX/users", "Bearer "+f.token(t, operatorGrant)))
}

func TestGuardWithoutRequireAuth(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/unguarded/ACME", "Bearer "+f.token(t, operatorGrant)))
}
