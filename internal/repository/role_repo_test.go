package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"helpdesk/internal/model"
	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
	"helpdesk/internal/repository"
)

func newRoleStore(t *testing.T) (*rbac.Store, rbac.Repository, repository.UserRepository) {
	t.Helper()
	db := newTestDB(t)
	tx := repository.NewTransactionManager(db)
	roles := repository.NewRoleRepository(db, tx)
	users := repository.NewUserRepository(db, tx)
	return rbac.NewStore(roles, rbac.Config{}), roles, users
}

func TestRoleRepositoryGrantLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newRoleStore(t)

	role, err := store.CreateRole(ctx, "Soporte")
	require.NoError(t, err)

	_, err = store.Grant(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)
	d, err := store.Grant(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)
	assert.False(t, d.Changed())

	d, err = store.Reconcile(ctx, role.ID, []string{"tickets.ver", "tickets.editar", "roles.ver"})
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.TicketsEdit, permission.RolesView}, d.Granted)

	d, err = store.Reconcile(ctx, role.ID, []string{"tickets.editar"})
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.TicketsView, permission.RolesView}, d.Revoked)

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.TicketsEdit}, got.Permissions)

	_, err = store.Grant(ctx, role.ID, "bogus.code")
	assert.ErrorIs(t, err, permission.ErrUnknown)
}

func TestRoleRepositoryNames(t *testing.T) {
	ctx := context.Background()
	store, repo, _ := newRoleStore(t)

	a, err := store.CreateRole(ctx, "Soporte")
	require.NoError(t, err)
	_, err = store.CreateRole(ctx, "soporte")
	assert.ErrorIs(t, err, rbac.ErrDuplicateRoleName)

	// the unique index backs the duplicate check
	err = repo.CreateRole(ctx, &rbac.RoleRecord{ID: uuid.New(), Name: "SOPORTE", NormalizedName: "SOPORTE"})
	assert.ErrorIs(t, err, rbac.ErrDuplicateRoleName)

	b, err := store.CreateRole(ctx, "Usuario")
	require.NoError(t, err)
	_, err = store.RenameRole(ctx, b.ID, "SOPORTE")
	assert.ErrorIs(t, err, rbac.ErrDuplicateRoleName)

	renamed, err := store.RenameRole(ctx, a.ID, "Mesa de ayuda")
	require.NoError(t, err)
	assert.Equal(t, "Mesa de ayuda", renamed.Name)

	_, err = store.GetRole(ctx, uuid.New())
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
}

func TestRoleRepositoryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store, repo, users := newRoleStore(t)

	role, err := store.CreateRole(ctx, "Soporte")
	require.NoError(t, err)
	_, err = store.Reconcile(ctx, role.ID, []string{"tickets.ver", "tickets.editar"})
	require.NoError(t, err)

	acct, err := users.CreateAccount(ctx, rbac.NewAccount{Username: "tecnico", Email: "tecnico@soporte.local", PasswordHash: "x"})
	require.NoError(t, err)
	require.NoError(t, users.AddAccountToRole(ctx, acct.ID, role.ID))

	require.NoError(t, store.DeleteRole(ctx, role.ID))

	all, err := repo.ListAllGrants(ctx)
	require.NoError(t, err)
	assert.Empty(t, all[role.ID])
	names, err := users.ListAccountRoles(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.ErrorIs(t, store.DeleteRole(ctx, role.ID), rbac.ErrRoleNotFound)
}

func TestRoleRepositoryConcurrentReconcile(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newRoleStore(t)
	role, err := store.CreateRole(ctx, "Soporte")
	require.NoError(t, err)

	a := []string{"tickets.ver", "tickets.crear"}
	b := []string{"tickets.ver", "roles.ver", "usuarios.ver"}
	wantA, _ := permission.Default.ValidateAll(a)
	wantB, _ := permission.Default.ValidateAll(b)

	for i := 0; i < 10; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = store.Reconcile(ctx, role.ID, a) }()
		go func() { defer wg.Done(); _, _ = store.Reconcile(ctx, role.ID, b) }()
		wg.Wait()

		got, err := store.EffectivePermissions(ctx, role.ID)
		require.NoError(t, err)
		assert.True(t, assert.ObjectsAreEqual(wantA, got) || assert.ObjectsAreEqual(wantB, got), got)
	}
}

func TestSeedAgainstDatabase(t *testing.T) {
	ctx := context.Background()
	store, _, users := newRoleStore(t)
	seed := rbac.DefaultSeedConfig()
	seed.HashCost = bcrypt.MinCost

	for i := 0; i < 2; i++ {
		_, err := rbac.NewSeeder(store, users, rbac.Config{}, seed).Seed(ctx)
		require.NoError(t, err)
	}

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 4)

	super, err := store.FindRoleByName(ctx, "superadmin")
	require.NoError(t, err)
	assert.Equal(t, permission.All(), super.Permissions)

	admin, err := users.GetByLogin(ctx, "ADMIN@soporte.local")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Username)
	require.Len(t, admin.Roles, 1)
	assert.Equal(t, "SuperAdmin", admin.Roles[0].Name)
}

func TestUserRepositorySetRoles(t *testing.T) {
	ctx := context.Background()
	store, _, users := newRoleStore(t)
	soporte, _ := store.CreateRole(ctx, "Soporte")
	usuario, _ := store.CreateRole(ctx, "Usuario")

	u := &model.User{Username: "ana", Email: "ana@soporte.local", Password: "x"}
	require.NoError(t, users.Create(ctx, u))
	assert.ErrorIs(t, users.Create(ctx, &model.User{Username: "ana", Email: "otra@soporte.local", Password: "x"}), repository.ErrDuplicateKey)

	require.NoError(t, users.SetRoles(ctx, u.ID, []uuid.UUID{soporte.ID, usuario.ID}))
	names, err := users.ListAccountRoles(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Soporte", "Usuario"}, names)

	require.NoError(t, users.SetRoles(ctx, u.ID, []uuid.UUID{usuario.ID}))
	names, _ = users.ListAccountRoles(ctx, u.ID)
	assert.Equal(t, []string{"Usuario"}, names)

	require.NoError(t, users.SetRoles(ctx, u.ID, nil))
	names, _ = users.ListAccountRoles(ctx, u.ID)
	assert.Empty(t, names)

	list, total, err := users.List(ctx, 1, 10, "ANA")
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, list, 1)

	require.NoError(t, users.Delete(ctx, u.ID))
	_, err = users.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
