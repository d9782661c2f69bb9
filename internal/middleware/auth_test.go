package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/internal/auth"
	"helpdesk/internal/model"
	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
	"helpdesk/internal/repository"
	"helpdesk/pkg/response"
)

type fakeUsers map[uuid.UUID]*model.User

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

type fixture struct {
	router  *gin.Engine
	tokens  *auth.TokenIssuer
	users   fakeUsers
	deletes int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	repo := rbac.NewMemoryRepository()
	store := rbac.NewStore(repo, rbac.Config{})
	soporte, err := store.CreateRole(ctx, "Soporte")
	require.NoError(t, err)
	_, err = store.Reconcile(ctx, soporte.ID, []string{"tickets.ver"})
	require.NoError(t, err)

	gate := rbac.NewGate(rbac.NewEvaluator(repo, rbac.Config{}), nil, nil)
	f := &fixture{tokens: auth.NewTokenIssuer("secret", time.Hour), users: fakeUsers{}}
	authn := NewAuthenticator(f.tokens, f.users, false, nil)

	r := gin.New()
	api := r.Group("/api", authn.Authenticate())
	api.GET("/tickets", RequireAction(gate, rbac.ActionTicketsList), func(c *gin.Context) {
		c.JSON(http.StatusOK, response.Success(http.StatusOK, Principal(c).Username))
	})
	api.DELETE("/tickets/:id", RequireAction(gate, rbac.ActionTicketsDelete), func(c *gin.Context) {
		f.deletes++
		c.Status(http.StatusNoContent)
	})
	api.GET("/soporte", RequireRole(gate, "Soporte"), func(c *gin.Context) { c.Status(http.StatusOK) })
	api.GET("/reportes", RequirePermission(gate, permission.ReportsView), func(c *gin.Context) { c.Status(http.StatusOK) })
	f.router = r
	return f
}

func (f *fixture) user(t *testing.T, name string, roles ...string) string {
	t.Helper()
	u := &model.User{ID: uuid.New(), Username: name}
	for _, r := range roles {
		u.Roles = append(u.Roles, model.Role{Name: r})
	}
	f.users[u.ID] = u
	token, _, err := f.tokens.Issue(u.ID, name)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAuthenticateRejectsMissingAndBadTokens(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/api/tickets", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/api/tickets", "garbage").Code)

	token := f.user(t, "ghost", "Soporte")
	for id := range f.users {
		delete(f.users, id)
	}
	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/api/tickets", token).Code)
}

func TestRequireActionAllowsAndDenies(t *testing.T) {
	f := newFixture(t)
	token := f.user(t, "tecnico", "soporte")

	w := f.do("GET", "/api/tickets", token)
	require.Equal(t, http.StatusOK, w.Code)
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tecnico", body.Data)

	w = f.do("DELETE", "/api/tickets/1", token)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "tickets.eliminar")
	assert.Zero(t, f.deletes)
}

func TestSuperuserPassesEveryCheck(t *testing.T) {
	f := newFixture(t)
	token := f.user(t, "admin", "SuperAdmin")

	assert.Equal(t, http.StatusNoContent, f.do("DELETE", "/api/tickets/1", token).Code)
	assert.Equal(t, http.StatusOK, f.do("GET", "/api/soporte", token).Code)
	assert.Equal(t, http.StatusOK, f.do("GET", "/api/reportes", token).Code)
	assert.Equal(t, 1, f.deletes)
}

func TestRequireRoleAndPermission(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, "ana", "Usuario")
	tecnico := f.user(t, "luis", "Soporte")

	assert.Equal(t, http.StatusForbidden, f.do("GET", "/api/soporte", user).Code)
	assert.Equal(t, http.StatusOK, f.do("GET", "/api/soporte", tecnico).Code)
	assert.Equal(t, http.StatusForbidden, f.do("GET", "/api/reportes", tecnico).Code)
}

func TestTokenFromCookie(t *testing.T) {
	f := newFixture(t)
	token := f.user(t, "tecnico", "Soporte")

	req := httptest.NewRequest("GET", "/api/tickets", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
