package rbac_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
)

func newStore(t *testing.T) (*rbac.Store, *rbac.MemoryRepository) {
	t.Helper()
	repo := rbac.NewMemoryRepository()
	return rbac.NewStore(repo, rbac.Config{}), repo
}

func mustRole(t *testing.T, s *rbac.Store, name string) rbac.Role {
	t.Helper()
	role, err := s.CreateRole(context.Background(), name)
	require.NoError(t, err)
	return role
}

func effective(t *testing.T, s *rbac.Store, id uuid.UUID) []permission.Code {
	t.Helper()
	codes, err := s.EffectivePermissions(context.Background(), id)
	require.NoError(t, err)
	return codes
}

func TestGrantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")

	for _, code := range permission.All() {
		d, err := s.Grant(ctx, role.ID, string(code))
		require.NoError(t, err)
		assert.Equal(t, []permission.Code{code}, d.Granted)

		d, err = s.Grant(ctx, role.ID, string(code))
		require.NoError(t, err)
		assert.False(t, d.Changed())
	}
	assert.Equal(t, permission.All(), effective(t, s, role.ID))
}

func TestRevokeUngrantedIsNoop(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")
	_, err := s.Grant(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)

	before := effective(t, s, role.ID)
	d, err := s.Revoke(ctx, role.ID, "roles.ver")
	require.NoError(t, err)
	assert.False(t, d.Changed())
	assert.Equal(t, before, effective(t, s, role.ID))
}

func TestGrantRevokeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")
	_, err := s.Grant(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)

	for _, code := range permission.All() {
		before := effective(t, s, role.ID)
		if containsCode(before, code) {
			continue
		}
		_, err := s.Grant(ctx, role.ID, string(code))
		require.NoError(t, err)
		_, err = s.Revoke(ctx, role.ID, string(code))
		require.NoError(t, err)
		assert.Equal(t, before, effective(t, s, role.ID), code)
	}
}

func TestGrantUnknownCode(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")
	_, err := s.Grant(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)

	_, err = s.Grant(ctx, role.ID, "not.in.catalog")
	require.Error(t, err)
	assert.ErrorIs(t, err, rbac.ErrUnknownPermission)
	assert.Equal(t, []permission.Code{permission.TicketsView}, effective(t, s, role.ID))

	_, err = s.Revoke(ctx, role.ID, "not.in.catalog")
	assert.ErrorIs(t, err, permission.ErrUnknown)
}

func TestGrantOnMissingRole(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Grant(context.Background(), uuid.New(), "tickets.ver")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")

	d, err := s.Reconcile(ctx, role.ID, []string{"tickets.ver", "tickets.crear"})
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.TicketsView, permission.TicketsCreate}, d.Granted)
	assert.Empty(t, d.Revoked)

	d, err = s.Reconcile(ctx, role.ID, []string{"tickets.crear", "roles.ver"})
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.RolesView}, d.Granted)
	assert.Equal(t, []permission.Code{permission.TicketsView}, d.Revoked)

	d, err = s.Reconcile(ctx, role.ID, []string{"roles.ver", "tickets.crear"})
	require.NoError(t, err)
	assert.False(t, d.Changed())
	assert.Equal(t, []permission.Code{permission.TicketsCreate, permission.RolesView}, effective(t, s, role.ID))
}

func TestReconcileRejectsUnknownBeforeWriting(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")
	_, err := s.Reconcile(ctx, role.ID, []string{"tickets.ver"})
	require.NoError(t, err)

	_, err = s.Reconcile(ctx, role.ID, []string{"roles.ver", "bogus.ver"})
	assert.ErrorIs(t, err, permission.ErrUnknown)
	assert.Equal(t, []permission.Code{permission.TicketsView}, effective(t, s, role.ID))
}

func TestReconcileDropsStaleGrants(t *testing.T) {
	ctx := context.Background()
	s, repo := newStore(t)
	role := mustRole(t, s, "Soporte")
	repo.PutGrant(role.ID, "reportes.imprimir")

	d, err := s.Reconcile(ctx, role.ID, []string{"tickets.ver"})
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{"reportes.imprimir"}, d.Revoked)
	assert.Equal(t, []permission.Code{permission.TicketsView}, effective(t, s, role.ID))
}

// recordingRepository captures every delta applied to grants.
type recordingRepository struct {
	*rbac.MemoryRepository
	mu     sync.Mutex
	deltas []rbac.GrantDelta
}

func (r *recordingRepository) UpdateGrants(ctx context.Context, id uuid.UUID, fn func([]permission.Code) (rbac.GrantDelta, error)) (*rbac.RoleRecord, error) {
	return r.MemoryRepository.UpdateGrants(ctx, id, func(current []permission.Code) (rbac.GrantDelta, error) {
		d, err := fn(current)
		r.mu.Lock()
		r.deltas = append(r.deltas, d)
		r.mu.Unlock()
		return d, err
	})
}

func TestReconcileNeverRemovesRetainedCodes(t *testing.T) {
	ctx := context.Background()
	repo := &recordingRepository{MemoryRepository: rbac.NewMemoryRepository()}
	s := rbac.NewStore(repo, rbac.Config{})
	role := mustRole(t, s, "Soporte")

	_, err := s.Reconcile(ctx, role.ID, []string{"tickets.ver", "tickets.crear", "roles.ver"})
	require.NoError(t, err)
	_, err = s.Reconcile(ctx, role.ID, []string{"tickets.ver", "tickets.crear", "usuarios.ver"})
	require.NoError(t, err)

	for _, d := range repo.deltas {
		assert.NotContains(t, d.Remove, permission.TicketsView)
		assert.NotContains(t, d.Remove, permission.TicketsCreate)
	}
}

func TestConcurrentReconcileEndsAtOneInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")

	a := []string{"tickets.ver", "tickets.crear", "tickets.editar"}
	b := []string{"tickets.ver", "roles.ver", "roles.editar", "usuarios.ver"}
	wantA, _ := permission.Default.ValidateAll(a)
	wantB, _ := permission.Default.ValidateAll(b)

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = s.Reconcile(ctx, role.ID, a) }()
		go func() { defer wg.Done(); _, _ = s.Reconcile(ctx, role.ID, b) }()
		wg.Wait()

		got := effective(t, s, role.ID)
		if !assert.True(t, equalCodes(got, wantA) || equalCodes(got, wantB), "iteration %d: %v", i, got) {
			return
		}
	}
}

func TestConcurrentGrantsOnOneRole(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")

	var wg sync.WaitGroup
	for _, code := range permission.All() {
		wg.Add(1)
		go func(c permission.Code) {
			defer wg.Done()
			_, err := s.Grant(ctx, role.ID, string(c))
			assert.NoError(t, err)
		}(code)
	}
	wg.Wait()
	assert.Equal(t, permission.All(), effective(t, s, role.ID))
}

func TestCreateRoleNamePolicy(t *testing.T) {
	ctx := context.Background()

	fold := rbac.NewStore(rbac.NewMemoryRepository(), rbac.Config{})
	_, err := fold.CreateRole(ctx, "Soporte")
	require.NoError(t, err)
	_, err = fold.CreateRole(ctx, "SOPORTE")
	assert.ErrorIs(t, err, rbac.ErrDuplicateRoleName)
	found, err := fold.FindRoleByName(ctx, "soporte")
	require.NoError(t, err)
	assert.Equal(t, "Soporte", found.Name)

	exact := rbac.NewStore(rbac.NewMemoryRepository(), rbac.Config{NamePolicy: rbac.ExactCase})
	_, err = exact.CreateRole(ctx, "Soporte")
	require.NoError(t, err)
	_, err = exact.CreateRole(ctx, "SOPORTE")
	assert.NoError(t, err)
	_, err = exact.CreateRole(ctx, "Soporte")
	assert.ErrorIs(t, err, rbac.ErrDuplicateRoleName)
}

func TestCreateRoleValidatesName(t *testing.T) {
	s, _ := newStore(t)
	for _, name := range []string{"", "   ", string(make([]rune, rbac.MaxRoleNameLength+1))} {
		_, err := s.CreateRole(context.Background(), name)
		assert.ErrorIs(t, err, rbac.ErrInvalidRoleName, fmt.Sprintf("%q", name))
	}
}

func TestRenameRole(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	soporte := mustRole(t, s, "Soporte")
	mustRole(t, s, "Usuario")
	_, err := s.Grant(ctx, soporte.ID, "tickets.ver")
	require.NoError(t, err)

	renamed, err := s.RenameRole(ctx, soporte.ID, "Mesa de ayuda")
	require.NoError(t, err)
	assert.Equal(t, "Mesa de ayuda", renamed.Name)
	assert.Equal(t, []permission.Code{permission.TicketsView}, renamed.Permissions)

	_, err = s.RenameRole(ctx, soporte.ID, "usuario")
	assert.ErrorIs(t, err, rbac.ErrDuplicateRoleName)

	// changing only the case of its own name is allowed
	_, err = s.RenameRole(ctx, soporte.ID, "MESA DE AYUDA")
	assert.NoError(t, err)

	_, err = s.RenameRole(ctx, uuid.New(), "Otro")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
}

func TestDeleteRole(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	role := mustRole(t, s, "Soporte")
	_, err := s.Grant(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)

	require.NoError(t, s.DeleteRole(ctx, role.ID))
	_, err = s.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
	assert.ErrorIs(t, s.DeleteRole(ctx, role.ID), rbac.ErrRoleNotFound)

	// the name is free again
	_, err = s.CreateRole(ctx, "Soporte")
	assert.NoError(t, err)
}

func TestListRolesSortedWithGrants(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	u := mustRole(t, s, "Usuario")
	mustRole(t, s, "Admin")
	_, err := s.Grant(ctx, u.ID, "tickets.crear")
	require.NoError(t, err)

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "Admin", roles[0].Name)
	assert.Empty(t, roles[0].Permissions)
	assert.True(t, roles[1].Has(permission.TicketsCreate))
}

func containsCode(codes []permission.Code, c permission.Code) bool {
	for _, x := range codes {
		if x == c {
			return true
		}
	}
	return false
}

func equalCodes(a, b []permission.Code) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
