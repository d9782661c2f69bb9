package rbac_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
)

func principal(roles ...string) rbac.Principal {
	return rbac.Principal{UserID: uuid.New(), Username: "tester", Roles: roles}
}

func TestSoporteScenario(t *testing.T) {
	ctx := context.Background()
	cfg := rbac.Config{Catalog: permission.NewCatalog(permission.TicketsView, permission.TicketsCreate, permission.RolesView)}
	repo := rbac.NewMemoryRepository()
	store := rbac.NewStore(repo, cfg)
	eval := rbac.NewEvaluator(repo, cfg)

	role, err := store.CreateRole(ctx, "Soporte")
	require.NoError(t, err)
	_, err = store.Grant(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)

	user := principal("Soporte")
	assert.True(t, eval.HasPermission(ctx, user, "tickets.ver"))
	assert.False(t, eval.HasPermission(ctx, user, "roles.ver"))
	// catalogued in the default catalog but not in this one
	assert.False(t, eval.HasPermission(ctx, user, "usuarios.ver"))
}

func TestUnionAcrossRoles(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	store := rbac.NewStore(repo, rbac.Config{})
	eval := rbac.NewEvaluator(repo, rbac.Config{})

	a, _ := store.CreateRole(ctx, "Soporte")
	b, _ := store.CreateRole(ctx, "Usuario")
	_, _ = store.Grant(ctx, a.ID, "tickets.editar")
	_, _ = store.Grant(ctx, b.ID, "tickets.crear")

	p := principal("Soporte", "Usuario", "Ghost")
	assert.True(t, eval.HasPermission(ctx, p, "tickets.editar"))
	assert.True(t, eval.HasPermission(ctx, p, "tickets.crear"))
	assert.False(t, eval.HasPermission(ctx, p, "tickets.eliminar"))

	codes, err := eval.EffectivePermissions(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.TicketsCreate, permission.TicketsEdit}, codes)
}

func TestSuperuserBypass(t *testing.T) {
	ctx := context.Background()
	grown := permission.Default.With("tickets.archivar")
	eval := rbac.NewEvaluator(rbac.NewMemoryRepository(), rbac.Config{Catalog: grown})

	// no role row and no grants exist; the override needs neither
	super := principal("superadmin")
	for _, code := range grown.Codes() {
		assert.True(t, eval.HasPermission(ctx, super, string(code)), code)
	}
	assert.False(t, eval.HasPermission(ctx, super, "not.in.catalog"))
	assert.True(t, eval.HasRole(super, "Soporte"))

	codes, err := eval.EffectivePermissions(ctx, super)
	require.NoError(t, err)
	assert.Equal(t, grown.Codes(), codes)
}

func TestConfiguredSuperuserRole(t *testing.T) {
	eval := rbac.NewEvaluator(rbac.NewMemoryRepository(), rbac.Config{SuperuserRole: "Root", NamePolicy: rbac.ExactCase})
	assert.True(t, eval.IsSuperuser(principal("Root")))
	assert.False(t, eval.IsSuperuser(principal("root")))
	assert.False(t, eval.IsSuperuser(principal("SuperAdmin")))
}

func TestHasRoleFoldsCase(t *testing.T) {
	eval := rbac.NewEvaluator(rbac.NewMemoryRepository(), rbac.Config{})
	p := principal("Soporte")
	assert.True(t, eval.HasRole(p, "SOPORTE"))
	assert.True(t, eval.HasRole(p, "Admin", "soporte"))
	assert.False(t, eval.HasRole(p, "Admin"))
	assert.False(t, eval.HasRole(p))
}

func TestCacheInvalidatedOnMutation(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	cfg := rbac.Config{Cache: rbac.NewLocalCache(time.Hour)}
	store := rbac.NewStore(repo, cfg)
	eval := rbac.NewEvaluator(repo, cfg)

	p := principal("Soporte")
	// negative entry for a role that does not exist yet
	assert.False(t, eval.HasPermission(ctx, p, "tickets.ver"))

	role, err := store.CreateRole(ctx, "Soporte")
	require.NoError(t, err)
	_, err = store.Grant(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)
	assert.True(t, eval.HasPermission(ctx, p, "tickets.ver"))

	_, err = store.Revoke(ctx, role.ID, "tickets.ver")
	require.NoError(t, err)
	assert.False(t, eval.HasPermission(ctx, p, "tickets.ver"))

	_, err = store.Reconcile(ctx, role.ID, []string{"tickets.crear"})
	require.NoError(t, err)
	assert.True(t, eval.HasPermission(ctx, p, "tickets.crear"))

	_, err = store.RenameRole(ctx, role.ID, "Mesa")
	require.NoError(t, err)
	assert.False(t, eval.HasPermission(ctx, p, "tickets.crear"))
	assert.True(t, eval.HasPermission(ctx, principal("Mesa"), "tickets.crear"))

	require.NoError(t, store.DeleteRole(ctx, role.ID))
	assert.False(t, eval.HasPermission(ctx, principal("Mesa"), "tickets.crear"))
}

// countingRepository counts grant reads and can be made to fail.
type countingRepository struct {
	*rbac.MemoryRepository
	reads atomic.Int64
	fail  atomic.Bool
}

func (c *countingRepository) ListGrants(ctx context.Context, id uuid.UUID) ([]permission.Code, error) {
	c.reads.Add(1)
	if c.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return c.MemoryRepository.ListGrants(ctx, id)
}

func TestCacheServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepository{MemoryRepository: rbac.NewMemoryRepository()}
	cfg := rbac.Config{Cache: rbac.NewLocalCache(time.Hour)}
	store := rbac.NewStore(repo, cfg)
	eval := rbac.NewEvaluator(repo, cfg)

	role, _ := store.CreateRole(ctx, "Soporte")
	_, _ = store.Grant(ctx, role.ID, "tickets.ver")
	repo.reads.Store(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, eval.HasPermission(ctx, principal("Soporte"), "tickets.ver"))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, repo.reads.Load(), int64(20))

	repo.reads.Store(0)
	assert.True(t, eval.HasPermission(ctx, principal("Soporte"), "tickets.ver"))
	assert.Zero(t, repo.reads.Load())
}

func TestReadFailureDenies(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepository{MemoryRepository: rbac.NewMemoryRepository()}
	store := rbac.NewStore(repo, rbac.Config{})
	eval := rbac.NewEvaluator(repo, rbac.Config{})

	role, _ := store.CreateRole(ctx, "Soporte")
	_, _ = store.Grant(ctx, role.ID, "tickets.ver")
	repo.fail.Store(true)

	assert.False(t, eval.HasPermission(ctx, principal("Soporte"), "tickets.ver"))
	_, err := eval.EffectivePermissions(ctx, principal("Soporte"))
	assert.Error(t, err)
	// the override never touches the store
	assert.True(t, eval.HasPermission(ctx, principal("SuperAdmin"), "tickets.ver"))
}

// caches returns a fresh instance of every cache backend.
func caches(t *testing.T) map[string]rbac.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]rbac.Cache{
		"local": rbac.NewLocalCache(time.Hour),
		"redis": rbac.NewRedisCache(client, time.Hour),
	}
}

// stallingRepository parks the first ListGrants after arm is set, once the
// grants have been read, so a mutation can commit while the reader still holds
// the old set.
type stallingRepository struct {
	*rbac.MemoryRepository
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (s *stallingRepository) ListGrants(ctx context.Context, id uuid.UUID) ([]permission.Code, error) {
	codes, err := s.MemoryRepository.ListGrants(ctx, id)
	if s.armed.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return codes, err
}

func TestRevokeDuringCacheFillIsNotCached(t *testing.T) {
	for name, cache := range caches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := &stallingRepository{
				MemoryRepository: rbac.NewMemoryRepository(),
				read:             make(chan struct{}),
				release:          make(chan struct{}),
			}
			cfg := rbac.Config{Cache: cache}
			store := rbac.NewStore(repo, cfg)
			eval := rbac.NewEvaluator(repo, cfg)

			role, err := store.CreateRole(ctx, "Soporte")
			require.NoError(t, err)
			_, err = store.Grant(ctx, role.ID, "tickets.ver")
			require.NoError(t, err)

			repo.armed.Store(true)
			done := make(chan bool, 1)
			go func() { done <- eval.HasPermission(ctx, principal("Soporte"), "tickets.ver") }()

			<-repo.read
			delta, err := store.Revoke(ctx, role.ID, "tickets.ver")
			require.NoError(t, err)
			require.Equal(t, []permission.Code{permission.TicketsView}, delta.Revoked)
			close(repo.release)

			// the stalled load saw the revoke invalidate the role and read again
			assert.False(t, <-done)
			assert.False(t, eval.HasPermission(ctx, principal("Soporte"), "tickets.ver"))

			codes, hit, err := cache.Get(ctx, rbac.FoldCase.Normalize("Soporte"))
			require.NoError(t, err)
			if hit {
				assert.Empty(t, codes)
			}
		})
	}
}

func TestReadsDuringConcurrentMutations(t *testing.T) {
	for name, cache := range caches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := rbac.NewMemoryRepository()
			cfg := rbac.Config{Cache: cache}
			store := rbac.NewStore(repo, cfg)
			eval := rbac.NewEvaluator(repo, cfg)

			role, err := store.CreateRole(ctx, "Soporte")
			require.NoError(t, err)

			stop := make(chan struct{})
			var reads atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					p := principal("Soporte")
					for {
						select {
						case <-stop:
							return
						default:
						}
						eval.HasPermission(ctx, p, "tickets.ver")
						_, err := eval.EffectivePermissions(ctx, p)
						assert.NoError(t, err)
						reads.Add(1)
					}
				}()
			}

			for i := 0; i < 50; i++ {
				_, err = store.Grant(ctx, role.ID, "tickets.ver")
				require.NoError(t, err)
				_, err = store.Reconcile(ctx, role.ID, []string{"tickets.crear"})
				require.NoError(t, err)
				_, err = store.Revoke(ctx, role.ID, "tickets.crear")
				require.NoError(t, err)
			}
			close(stop)
			wg.Wait()
			assert.Positive(t, reads.Load())

			p := principal("Soporte")
			assert.False(t, eval.HasPermission(ctx, p, "tickets.ver"))
			assert.False(t, eval.HasPermission(ctx, p, "tickets.crear"))
			codes, err := eval.EffectivePermissions(ctx, p)
			require.NoError(t, err)
			assert.Empty(t, codes)

			_, err = store.Grant(ctx, role.ID, "tickets.editar")
			require.NoError(t, err)
			assert.True(t, eval.HasPermission(ctx, p, "tickets.editar"))
		})
	}
}
