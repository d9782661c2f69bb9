package rbac_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
)

func seedConfig() rbac.SeedConfig {
	cfg := rbac.DefaultSeedConfig()
	cfg.HashCost = bcrypt.MinCost
	return cfg
}

func TestSeedFreshStore(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	store := rbac.NewStore(repo, rbac.Config{})

	res, err := rbac.NewSeeder(store, repo, rbac.Config{}, seedConfig()).Seed(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SuperAdmin", "Admin", "Soporte", "Usuario"}, res.RolesCreated)
	assert.True(t, res.AdminCreated)
	assert.True(t, res.MembershipAdded)

	super, err := store.FindRoleByName(ctx, "SuperAdmin")
	require.NoError(t, err)
	assert.True(t, super.IsSystem)
	assert.Equal(t, permission.All(), super.Permissions)

	acct, err := repo.FindAccountByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin@soporte.local", acct.Email)
	roles, err := repo.ListAccountRoles(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"SuperAdmin"}, roles)

	hash, _ := repo.PasswordHash("admin")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Admin123*")))

	usuario, err := store.FindRoleByName(ctx, "usuario")
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.TicketsView, permission.TicketsCreate}, usuario.Permissions)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	store := rbac.NewStore(repo, rbac.Config{})
	seeder := rbac.NewSeeder(store, repo, rbac.Config{}, seedConfig())

	_, err := seeder.Seed(ctx)
	require.NoError(t, err)
	repo.SetPasswordHash("admin", "changed-by-admin")

	soporte, err := store.FindRoleByName(ctx, "Soporte")
	require.NoError(t, err)
	_, err = store.Reconcile(ctx, soporte.ID, []string{"tickets.ver"})
	require.NoError(t, err)

	res, err := seeder.Seed(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.RolesCreated)
	assert.False(t, res.AdminCreated)
	assert.False(t, res.MembershipAdded)
	assert.Empty(t, res.Granted)

	hash, _ := repo.PasswordHash("admin")
	assert.Equal(t, "changed-by-admin", hash)

	soporte, err = store.FindRoleByName(ctx, "Soporte")
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.TicketsView}, soporte.Permissions)

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 4)
}

func TestSeedFollowsCatalogGrowth(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	store := rbac.NewStore(repo, rbac.Config{})
	_, err := rbac.NewSeeder(store, repo, rbac.Config{}, seedConfig()).Seed(ctx)
	require.NoError(t, err)

	grown := rbac.Config{Catalog: permission.Default.With("tickets.archivar")}
	store = rbac.NewStore(repo, grown)
	res, err := rbac.NewSeeder(store, repo, grown, seedConfig()).Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{"tickets.archivar"}, res.Granted)

	super, err := store.FindRoleByName(ctx, "SuperAdmin")
	require.NoError(t, err)
	assert.Equal(t, grown.Catalog.Codes(), super.Permissions)
}

func TestSeedNeverRevokesSuperuserGrants(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	store := rbac.NewStore(repo, rbac.Config{})
	_, err := rbac.NewSeeder(store, repo, rbac.Config{}, seedConfig()).Seed(ctx)
	require.NoError(t, err)

	super, _ := store.FindRoleByName(ctx, "SuperAdmin")
	repo.PutGrant(super.ID, "legacy.permiso")

	_, err = rbac.NewSeeder(store, repo, rbac.Config{}, seedConfig()).Seed(ctx)
	require.NoError(t, err)
	super, _ = store.FindRoleByName(ctx, "SuperAdmin")
	assert.Contains(t, super.Permissions, permission.Code("legacy.permiso"))
}

func TestSeedAddsConfiguredSuperuserRole(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	cfg := rbac.Config{SuperuserRole: "Root"}
	store := rbac.NewStore(repo, cfg)

	seed := seedConfig()
	seed.Roles = []rbac.BaselineRole{{Name: "Usuario"}}
	res, err := rbac.NewSeeder(store, repo, cfg, seed).Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Root", "Usuario"}, res.RolesCreated)

	acct, _ := repo.FindAccountByUsername(ctx, "admin")
	roles, _ := repo.ListAccountRoles(ctx, acct.ID)
	assert.Equal(t, []string{"Root"}, roles)
}
