package permission_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/internal/permission"
)

func TestDefaultCatalogShape(t *testing.T) {
	codes := permission.All()
	require.Len(t, codes, 19)
	assert.Equal(t, permission.UsersView, codes[0])
	assert.Equal(t, permission.NotificationsDelete, codes[len(codes)-1])

	groups := permission.Default.Groups()
	subjects := make([]string, 0, len(groups))
	for _, g := range groups {
		subjects = append(subjects, g.Subject)
	}
	assert.Equal(t, []string{"usuarios", "tickets", "roles", "reportes", "notificaciones"}, subjects)
	assert.Len(t, groups[1].Entries, 5)
}

func TestValidate(t *testing.T) {
	code, err := permission.Validate("tickets.crear")
	require.NoError(t, err)
	assert.Equal(t, permission.TicketsCreate, code)

	_, err = permission.Validate("not.in.catalog")
	require.Error(t, err)
	assert.True(t, errors.Is(err, permission.ErrUnknown))

	var unknown *permission.UnknownError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "not.in.catalog", unknown.Code)

	// exact match only
	_, err = permission.Validate("Tickets.Crear")
	assert.ErrorIs(t, err, permission.ErrUnknown)
}

func TestValidateAllDedupesInCatalogOrder(t *testing.T) {
	codes, err := permission.Default.ValidateAll([]string{"roles.ver", "tickets.ver", "roles.ver"})
	require.NoError(t, err)
	assert.Equal(t, []permission.Code{permission.TicketsView, permission.RolesView}, codes)

	_, err = permission.Default.ValidateAll([]string{"tickets.ver", "bogus.code"})
	assert.ErrorIs(t, err, permission.ErrUnknown)
}

func TestEntryTitle(t *testing.T) {
	e, ok := permission.Default.Lookup("notificaciones.eliminar")
	require.True(t, ok)
	assert.Equal(t, "NOTIFICACIONES ELIMINAR", e.Title())
	assert.Equal(t, "notificaciones", e.Subject)
	assert.Equal(t, "eliminar", e.Verb)
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	base := permission.NewCatalog(permission.TicketsView)
	grown := base.With("tickets.archivar")

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, grown.Len())
	assert.True(t, grown.Contains("tickets.archivar"))
	assert.False(t, base.Contains("tickets.archivar"))
}

func TestNewCatalogRejectsMalformedCodes(t *testing.T) {
	for _, bad := range []permission.Code{"tickets", "Tickets.ver", "a.b.c", ".ver", "tickets.", " tickets.ver"} {
		assert.Panics(t, func() { permission.NewCatalog(bad) }, string(bad))
	}
	assert.Panics(t, func() { permission.NewCatalog("tickets.ver", "tickets.ver") })
}
