package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"helpdesk/internal/auth"
	"helpdesk/internal/database"
	"helpdesk/internal/model"
	"helpdesk/internal/rbac"
	"helpdesk/internal/repository"
	"helpdesk/internal/service"
	ws "helpdesk/internal/websocket"
)

type nopNotifier struct{ events []ws.Event }

func (n *nopNotifier) Publish(ev ws.Event) { n.events = append(n.events, ev) }

type deps struct {
	store   *rbac.Store
	users   service.UserService
	roles   service.RoleService
	tickets service.TicketService
	notes   *nopNotifier
}

func newDeps(t *testing.T) *deps {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := rbac.Config{Logger: log}
	tx := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db, tx)
	roleRepo := repository.NewRoleRepository(db, tx)
	store := rbac.NewStore(roleRepo, cfg)
	eval := rbac.NewEvaluator(roleRepo, cfg)
	audit := service.NewAuditService(repository.NewAuditRepository(db), log)
	notes := &nopNotifier{}

	return &deps{
		store:   store,
		users:   service.NewUserService(userRepo, tx, store, rbac.NewGate(eval, rbac.DefaultPolicy, log), auth.NewTokenIssuer("k", time.Hour), audit, notes),
		roles:   service.NewRoleService(store, audit, notes),
		tickets: service.NewTicketService(repository.NewTicketRepository(db), userRepo, eval, audit, notes),
		notes:   notes,
	}
}

func (d *deps) principal(t *testing.T, username string, roles ...string) rbac.Principal {
	t.Helper()
	u, err := d.users.CreateUser(context.Background(), rbac.Principal{}, service.CreateUserRequest{
		Username: username,
		Email:    username + "@x.local",
		Password: "password1",
		Roles:    roles,
	})
	require.NoError(t, err)
	return rbac.Principal{UserID: u.ID, Username: u.Username, Roles: u.Roles}
}

func TestTicketStatusKeepsClosedAt(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t)
	_, err := d.store.CreateRole(ctx, "Usuario")
	require.NoError(t, err)
	ana := d.principal(t, "ana", "Usuario")

	tk, err := d.tickets.CreateTicket(ctx, ana, service.CreateTicketRequest{Title: "  VPN caida ", Description: "sin acceso", Severity: "Alta"})
	require.NoError(t, err)
	assert.Equal(t, "VPN caida", tk.Title)
	assert.Nil(t, tk.ClosedAt)

	closed, err := d.tickets.UpdateTicket(ctx, ana, tk.ID, service.UpdateTicketRequest{Status: string(model.TicketClosed)})
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)

	reopened, err := d.tickets.UpdateTicket(ctx, ana, tk.ID, service.UpdateTicketRequest{Status: string(model.TicketOpen)})
	require.NoError(t, err)
	assert.Nil(t, reopened.ClosedAt)

	_, err = d.tickets.UpdateTicket(ctx, ana, tk.ID, service.UpdateTicketRequest{Status: "Archivado"})
	assert.ErrorIs(t, err, service.ErrInvalid)

	_, err = d.tickets.GetTicket(ctx, ana, "nope")
	assert.ErrorIs(t, err, service.ErrInvalid)
	_, err = d.tickets.GetTicket(ctx, ana, uuid.NewString())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t)
	soporte, err := d.store.CreateRole(ctx, "Soporte")
	require.NoError(t, err)
	_, err = d.store.Reconcile(ctx, soporte.ID, []string{"tickets.ver", "tickets.editar", "tickets.cerrar"})
	require.NoError(t, err)
	tec := d.principal(t, "tec", "Soporte")

	tk, err := d.tickets.CreateTicket(ctx, tec, service.CreateTicketRequest{Title: "t", Description: "d"})
	require.NoError(t, err)
	first, err := d.tickets.ResolveTicket(ctx, tec, tk.ID, service.ResolveTicketRequest{})
	require.NoError(t, err)
	second, err := d.tickets.ResolveTicket(ctx, tec, tk.ID, service.ResolveTicketRequest{Notes: "otra vez"})
	require.NoError(t, err)

	assert.Equal(t, first.ClosedAt, second.ClosedAt)
	assert.Empty(t, second.Notes)

	resolved := 0
	for _, ev := range d.notes.events {
		if ev.Type == ws.EventTicketResolved {
			resolved++
		}
	}
	assert.Equal(t, 1, resolved)
}

func TestUpdateRoleLeavesPermissionsWhenOmitted(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t)
	actor := rbac.Principal{UserID: uuid.New(), Username: "root"}

	role, err := d.roles.CreateRole(ctx, actor, service.CreateRoleRequest{Name: "Mesa", Permissions: []string{"tickets.ver"}})
	require.NoError(t, err)

	renamed, err := d.roles.UpdateRole(ctx, actor, role.ID, service.UpdateRoleRequest{Name: "Mesa de ayuda"})
	require.NoError(t, err)
	assert.Equal(t, "Mesa de ayuda", renamed.Name)
	assert.Equal(t, []string{"tickets.ver"}, renamed.Permissions)

	empty := []string{}
	cleared, err := d.roles.UpdateRole(ctx, actor, role.ID, service.UpdateRoleRequest{Permissions: &empty})
	require.NoError(t, err)
	assert.Empty(t, cleared.Permissions)
	assert.Equal(t, []string{"tickets.ver"}, cleared.Changes.Revoked)

	// a bad code aborts before the rename is applied
	bad := []string{"tickets.volar"}
	_, err = d.roles.UpdateRole(ctx, actor, role.ID, service.UpdateRoleRequest{Name: "Otra", Permissions: &bad})
	require.Error(t, err)
	got, err := d.roles.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mesa de ayuda", got.Name)
}

func TestCreateRoleWithUnknownPermissionCreatesNothing(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t)

	_, err := d.roles.CreateRole(ctx, rbac.Principal{}, service.CreateRoleRequest{Name: "Temporal", Permissions: []string{"nada.ver"}})
	require.Error(t, err)

	roles, err := d.roles.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles)
}
