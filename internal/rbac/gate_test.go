package rbac_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
)

func newGate(t *testing.T, policy rbac.Policy) (*rbac.Gate, *rbac.Store) {
	t.Helper()
	repo := rbac.NewMemoryRepository()
	store := rbac.NewStore(repo, rbac.Config{})
	return rbac.NewGate(rbac.NewEvaluator(repo, rbac.Config{}), policy, nil), store
}

func TestGateRequire(t *testing.T) {
	ctx := context.Background()
	gate, store := newGate(t, nil)
	role, _ := store.CreateRole(ctx, "Soporte")
	_, _ = store.Grant(ctx, role.ID, "tickets.ver")

	assert.NoError(t, gate.Require(ctx, principal("Soporte"), permission.TicketsView))

	err := gate.Require(ctx, principal("Soporte"), permission.TicketsDelete)
	require.Error(t, err)
	assert.ErrorIs(t, err, rbac.ErrForbidden)
	var fe *rbac.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, permission.TicketsDelete, fe.Code)

	assert.NoError(t, gate.Require(ctx, principal("SuperAdmin"), permission.TicketsDelete))
}

func TestGateDeniesAnonymous(t *testing.T) {
	ctx := context.Background()
	gate, _ := newGate(t, nil)
	anon := rbac.Principal{Roles: []string{"SuperAdmin"}}

	assert.ErrorIs(t, gate.Require(ctx, anon, permission.TicketsView), rbac.ErrForbidden)
	assert.ErrorIs(t, gate.RequireRole(ctx, anon, "SuperAdmin"), rbac.ErrForbidden)
	assert.ErrorIs(t, gate.RequireAction(ctx, anon, rbac.ActionProfileView), rbac.ErrForbidden)
}

func TestGateRequireRoleHonorsSuperuser(t *testing.T) {
	ctx := context.Background()
	gate, _ := newGate(t, nil)

	assert.NoError(t, gate.RequireRole(ctx, principal("Soporte"), "soporte"))
	assert.ErrorIs(t, gate.RequireRole(ctx, principal("Usuario"), "Soporte"), rbac.ErrForbidden)
	assert.NoError(t, gate.RequireRole(ctx, principal("SuperAdmin"), "Soporte"))
}

func TestGateRequireAction(t *testing.T) {
	ctx := context.Background()
	gate, store := newGate(t, nil)
	role, _ := store.CreateRole(ctx, "Usuario")
	_, _ = store.Grant(ctx, role.ID, "tickets.crear")

	user := principal("Usuario")
	assert.NoError(t, gate.RequireAction(ctx, user, rbac.ActionTicketsCreate))
	assert.NoError(t, gate.RequireAction(ctx, user, rbac.ActionProfileView))

	err := gate.RequireAction(ctx, user, rbac.ActionRolesGrant)
	var fe *rbac.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, rbac.ActionRolesGrant, fe.Action)
	assert.Equal(t, permission.RolesEdit, fe.Code)

	assert.True(t, gate.Can(ctx, user, rbac.ActionTicketsCreate))
	assert.False(t, gate.Can(ctx, user, rbac.ActionTicketsDelete))
}

func TestGateUnknownActionFailsClosed(t *testing.T) {
	ctx := context.Background()
	gate, _ := newGate(t, rbac.Policy{rbac.ActionTicketsList: rbac.Needs(permission.TicketsView)})

	err := gate.RequireAction(ctx, principal("SuperAdmin"), rbac.ActionTicketsDelete)
	assert.ErrorIs(t, err, rbac.ErrForbidden)
	assert.False(t, gate.Can(ctx, principal("SuperAdmin"), rbac.ActionTicketsDelete))
	assert.NoError(t, gate.RequireAction(ctx, principal("SuperAdmin"), rbac.ActionTicketsList))
}
