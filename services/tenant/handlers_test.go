package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/authn"
	"github.com/pavitra93/go-tenant-isolation/shared/credentials"
	"github.com/pavitra93/go-tenant-isolation/shared/middleware"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/provisioning"
	"github.com/pavitra93/go-tenant-isolation/shared/session"
	"github.com/pavitra93/go-tenant-isolation/shared/tenancy"
	"github.com/pavitra93/go-tenant-isolation/shared/utils"
)

const testKey = "0123456789abcdef0123456789abcdef"

// memoryStores stands in for the isolated tenant databases: one principal
// table per locator, reachable only through the directory.
type memoryStores struct {
	mu     sync.Mutex
	dir    tenancy.Directory
	tables map[string]map[uint]*models.Principal
}

func newMemoryStores(dir tenancy.Directory) *memoryStores {
	return &memoryStores{dir: dir, tables: map[string]map[uint]*models.Principal{}}
}

func (m *memoryStores) Create(_ context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[locator] = map[uint]*models.Principal{}
	return nil
}

func (m *memoryStores) Drop(_ context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, locator)
	return nil
}

func (m *memoryStores) Seed(_ context.Context, locator string, principals []models.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := m.tables[locator]
	for i := range principals {
		p := principals[i]
		p.ID = uint(len(table) + 1)
		table[p.ID] = &p
	}
	return nil
}

func (m *memoryStores) table(ctx context.Context, org string) (*models.TenantRecord, map[uint]*models.Principal, error) {
	rec, err := m.dir.ResolveByOrg(ctx, org)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return rec, m.tables[rec.StoreLocator], nil
}

func (m *memoryStores) FindByEmail(ctx context.Context, org, email string) (*models.Principal, error) {
	_, table, err := m.table(ctx, org)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range table {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, apperrors.NotFound("principal", email)
}

func (m *memoryStores) FindByID(ctx context.Context, org string, id uint) (*models.Principal, error) {
	_, table, err := m.table(ctx, org)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := table[id]; ok {
		return p, nil
	}
	return nil, apperrors.NotFound("principal", fmt.Sprint(id))
}

func (m *memoryStores) register(ctx context.Context, org string, np models.NewPrincipal) (*models.Principal, error) {
	rec, table, err := m.table(ctx, org)
	if err != nil {
		return nil, err
	}
	if models.EmailDomain(np.Email) != rec.Domain {
		return nil, apperrors.Validation("email", "must belong to "+rec.Domain)
	}
	hash, err := credentials.Hash(np.Password)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range table {
		if p.Email == np.Email {
			return nil, apperrors.Conflict("principal", "email", np.Email)
		}
	}
	p := &models.Principal{
		ID: uint(len(table) + 1), TenantOrg: rec.Org, Name: np.Name, Email: np.Email,
		HashedPassword: hash, IsActive: true, IsAdmin: np.IsAdmin,
	}
	table[p.ID] = p
	return p, nil
}

// principalAdapter exposes memoryStores as the handler's PrincipalStore
type principalAdapter struct{ *memoryStores }

func (a principalAdapter) Create(ctx context.Context, org string, np models.NewPrincipal) (*models.Principal, error) {
	return a.memoryStores.register(ctx, org, np)
}

type envelope struct {
	utils.APIResponse
	Data json.RawMessage `json:"data"`
}

type operatorTable map[string]*models.PlatformOperator

func (o operatorTable) FindByEmail(_ context.Context, email string) (*models.PlatformOperator, error) {
	if op, ok := o[email]; ok {
		return op, nil
	}
	return nil, apperrors.NotFound("platform operator", email)
}

type TenantServiceSuite struct {
	suite.Suite
	router   *gin.Engine
	sessions *session.Manager
	auth     *authn.Authenticator
	stores   *memoryStores
}

func (s *TenantServiceSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	credentials.Cost = bcrypt.MinCost

	dir := tenancy.NewMemoryDirectory()
	s.stores = newMemoryStores(dir)
	s.sessions = session.NewManager(testKey, 30*time.Minute, session.NewMemoryLedger(time.Now))

	opsHash, err := credentials.Hash("ops-pass")
	s.Require().NoError(err)
	s.auth = &authn.Authenticator{
		Directory: dir,
		Operators: operatorTable{
			"ops@platform.example": {ID: 1, Email: "ops@platform.example", HashedPassword: opsHash, IsActive: true},
		},
		Principals:     s.stores,
		Sessions:       s.sessions,
		PlatformDomain: "platform.example",
	}

	workflow := provisioning.NewWorkflow(provisioning.Config{
		Directory:      dir,
		Allocator:      s.stores,
		Seeder:         s.stores,
		PlatformDomain: "platform.example",
	})

	s.router = gin.New()
	setupRoutes(s.router, &Service{
		Workflow:   workflow,
		Directory:  dir,
		Principals: principalAdapter{s.stores},
	}, middleware.NewAuthMiddleware(s.sessions))
}

func (s *TenantServiceSuite) call(method, path, token string, body interface{}) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func (s *TenantServiceSuite) login(email, password string) (string, models.Identity) {
	token, id, err := s.auth.Login(context.Background(), authn.LoginRequest{Email: email, Password: password})
	s.Require().NoError(err, email)
	return token.AccessToken, id
}

func (s *TenantServiceSuite) provision(org, adminEmail string) {
	opsToken, _ := s.login("ops@platform.example", "ops-pass")
	status, env := s.call(http.MethodPost, "/platform/tenants", opsToken, CreateTenantRequest{
		Org:   org,
		Admin: models.NewPrincipal{Name: "Admin " + org, Email: adminEmail, Password: "admin-pass"},
	})
	s.Require().Equal(http.StatusCreated, status, env.Error)
}

func (s *TenantServiceSuite) TestProvisionThenLoginAsTenantAdmin() {
	opsToken, _ := s.login("ops@platform.example", "ops-pass")

	status, env := s.call(http.MethodPost, "/platform/tenants", opsToken, CreateTenantRequest{
		Org:   "acme",
		Admin: models.NewPrincipal{Name: "Alice", Email: "alice@acme.example", Password: "admin-pass"},
	})
	s.Require().Equal(http.StatusCreated, status, env.Error)

	var view models.TenantView
	s.Require().NoError(json.Unmarshal(env.Data, &view))
	s.Equal("ACME", view.Org)
	s.Equal("acme.example", view.Domain)

	_, id := s.login("alice@acme.example", "admin-pass")
	s.Equal(models.RoleTenantAdmin, id.Role)
	s.Equal("ACME", id.TenantScope)
}

func (s *TenantServiceSuite) TestProvisionRequiresOperator() {
	s.provision("ACME", "alice@acme.example")
	adminToken, _ := s.login("alice@acme.example", "admin-pass")

	status, _ := s.call(http.MethodPost, "/platform/tenants", adminToken, CreateTenantRequest{
		Org:   "GLOBEX",
		Admin: models.NewPrincipal{Name: "Gina", Email: "gina@globex.example", Password: "admin-pass"},
	})
	s.Equal(http.StatusForbidden, status)

	status, _ = s.call(http.MethodGet, "/platform/tenants", adminToken, nil)
	s.Equal(http.StatusForbidden, status)
}

func (s *TenantServiceSuite) TestProvisionDuplicateIsConflict() {
	s.provision("ACME", "alice@acme.example")
	opsToken, _ := s.login("ops@platform.example", "ops-pass")

	status, _ := s.call(http.MethodPost, "/platform/tenants", opsToken, CreateTenantRequest{
		Org:   "ACME",
		Admin: models.NewPrincipal{Name: "Other", Email: "other@other.example", Password: "admin-pass"},
	})
	s.Equal(http.StatusConflict, status)
}

func (s *TenantServiceSuite) TestProvisionValidation() {
	opsToken, _ := s.login("ops@platform.example", "ops-pass")

	status, _ := s.call(http.MethodPost, "/platform/tenants", opsToken, CreateTenantRequest{
		Org:   "ac me",
		Admin: models.NewPrincipal{Name: "Alice", Email: "alice@acme.example", Password: "admin-pass"},
	})
	s.Equal(http.StatusBadRequest, status)

	status, _ = s.call(http.MethodPost, "/platform/tenants", opsToken, map[string]string{"org": "ACME"})
	s.Equal(http.StatusBadRequest, status)
}

func (s *TenantServiceSuite) TestListAndGetTenants() {
	s.provision("ACME", "alice@acme.example")
	s.provision("GLOBEX", "gina@globex.example")
	opsToken, _ := s.login("ops@platform.example", "ops-pass")

	status, env := s.call(http.MethodGet, "/platform/tenants", opsToken, nil)
	s.Require().Equal(http.StatusOK, status)
	var views []models.TenantView
	s.Require().NoError(json.Unmarshal(env.Data, &views))
	s.Len(views, 2)

	status, _ = s.call(http.MethodGet, "/platform/tenants/globex", opsToken, nil)
	s.Equal(http.StatusOK, status)
	status, _ = s.call(http.MethodGet, "/platform/tenants/INITECH", opsToken, nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *TenantServiceSuite) TestTenantAdminRegistersUsers() {
	s.provision("ACME", "alice@acme.example")
	adminToken, _ := s.login("alice@acme.example", "admin-pass")

	status, env := s.call(http.MethodPost, "/tenants/ACME/users", adminToken, models.NewPrincipal{
		Name: "Bob", Email: "bob@acme.example", Password: "bob-pass-1",
	})
	s.Require().Equal(http.StatusCreated, status, env.Error)

	status, _ = s.call(http.MethodPost, "/tenants/ACME/users", adminToken, models.NewPrincipal{
		Name: "Bob again", Email: "bob@acme.example", Password: "bob-pass-1",
	})
	s.Equal(http.StatusConflict, status)

	status, _ = s.call(http.MethodPost, "/tenants/ACME/users", adminToken, models.NewPrincipal{
		Name: "Mallory", Email: "mallory@globex.example", Password: "bob-pass-1",
	})
	s.Equal(http.StatusBadRequest, status)

	_, bob := s.login("bob@acme.example", "bob-pass-1")
	s.Equal(models.RoleTenantUser, bob.Role)
}

func (s *TenantServiceSuite) TestCrossTenantAccessIsForbidden() {
	s.provision("ACME", "alice@acme.example")
	s.provision("GLOBEX", "gina@globex.example")
	aliceToken, _ := s.login("alice@acme.example", "admin-pass")

	status, _ := s.call(http.MethodGet, "/tenants/GLOBEX/users/1", aliceToken, nil)
	s.Equal(http.StatusForbidden, status)

	status, _ = s.call(http.MethodPost, "/tenants/GLOBEX/users", aliceToken, models.NewPrincipal{
		Name: "Spy", Email: "spy@globex.example", Password: "spy-pass-1",
	})
	s.Equal(http.StatusForbidden, status)
}

func (s *TenantServiceSuite) TestUsersReadThemselvesOnly() {
	s.provision("ACME", "alice@acme.example")
	adminToken, _ := s.login("alice@acme.example", "admin-pass")
	status, env := s.call(http.MethodPost, "/tenants/ACME/users", adminToken, models.NewPrincipal{
		Name: "Bob", Email: "bob@acme.example", Password: "bob-pass-1",
	})
	s.Require().Equal(http.StatusCreated, status)
	var created models.Principal
	s.Require().NoError(json.Unmarshal(env.Data, &created))

	bobToken, bob := s.login("bob@acme.example", "bob-pass-1")
	status, _ = s.call(http.MethodGet, fmt.Sprintf("/tenants/ACME/users/%d", bob.PrincipalID), bobToken, nil)
	s.Equal(http.StatusOK, status)

	status, _ = s.call(http.MethodGet, "/tenants/ACME/users/1", bobToken, nil)
	s.Equal(http.StatusForbidden, status)

	status, _ = s.call(http.MethodPost, "/tenants/ACME/users", bobToken, models.NewPrincipal{
		Name: "Carol", Email: "carol@acme.example", Password: "carol-pass",
	})
	s.Equal(http.StatusForbidden, status)

	status, _ = s.call(http.MethodGet, fmt.Sprintf("/tenants/ACME/users/%d", created.ID), adminToken, nil)
	s.Equal(http.StatusOK, status)
	status, _ = s.call(http.MethodGet, "/tenants/ACME/users/abc", adminToken, nil)
	s.Equal(http.StatusBadRequest, status)
}

func (s *TenantServiceSuite) TestRevokedTokenIsRefused() {
	s.provision("ACME", "alice@acme.example")
	token, _ := s.login("alice@acme.example", "admin-pass")

	status, _ := s.call(http.MethodGet, "/tenants/ACME/users/2", token, nil)
	s.Equal(http.StatusOK, status)

	s.Require().NoError(s.sessions.Revoke(context.Background(), token))
	status, env := s.call(http.MethodGet, "/tenants/ACME/users/2", token, nil)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("invalid credentials", env.Error)
}

func TestTenantServiceSuite(t *testing.T) {
	suite.Run(t, new(TenantServiceSuite))
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	setupRoutes(router, &Service{}, middleware.NewAuthMiddleware(
		session.NewManager(testKey, time.Minute, session.NewMemoryLedger(time.Now))))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "healthy")
}
