package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"helpdesk/internal/permission"
)

// BaselineRole is a role the seeder guarantees. Defaults are granted only
// when the seeder creates the role, so later edits by an administrator
// survive restarts.
type BaselineRole struct {
	Name     string
	Defaults []permission.Code
}

// SeedConfig describes what the seeder ensures exists.
type SeedConfig struct {
	Roles            []BaselineRole
	AdminUsername    string
	AdminPassword    string
	AdminEmail       string
	AdminDisplayName string
	HashCost         int
}

// DefaultSeedConfig returns the baseline roles and the default superuser
// account of a fresh installation.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Roles: []BaselineRole{
			{Name: DefaultSuperuserRole},
			{Name: "Admin", Defaults: []permission.Code{
				permission.UsersView, permission.UsersCreate, permission.UsersEdit,
				permission.TicketsView, permission.TicketsCreate, permission.TicketsEdit, permission.TicketsClose,
				permission.RolesView,
				permission.ReportsView, permission.ReportsExport,
				permission.NotificationsView,
			}},
			{Name: "Soporte", Defaults: []permission.Code{
				permission.TicketsView, permission.TicketsEdit, permission.TicketsClose,
				permission.NotificationsView,
			}},
			{Name: "Usuario", Defaults: []permission.Code{
				permission.TicketsView, permission.TicketsCreate,
			}},
		},
		AdminUsername:    "admin",
		AdminPassword:    "Admin123*",
		AdminEmail:       "admin@soporte.local",
		AdminDisplayName: "Administrador del sistema",
		HashCost:         bcrypt.DefaultCost,
	}
}

// SeedResult reports what a Seed run changed.
type SeedResult struct {
	RolesCreated    []string          `json:"roles_created"`
	AdminCreated    bool              `json:"admin_created"`
	MembershipAdded bool              `json:"membership_added"`
	Granted         []permission.Code `json:"granted"`
}

// Seeder brings a store to its baseline state. Every step is idempotent.
type Seeder struct {
	store    *Store
	accounts Accounts
	super    string
	cfg      SeedConfig
	logger   *slog.Logger
}

// NewSeeder builds a Seeder. The configured superuser role is always part
// of the baseline.
func NewSeeder(store *Store, accounts Accounts, cfg Config, seed SeedConfig) *Seeder {
	cfg = cfg.withDefaults()
	if seed.HashCost == 0 {
		seed.HashCost = bcrypt.DefaultCost
	}
	hasSuper := false
	for _, r := range seed.Roles {
		if cfg.NamePolicy.Equal(r.Name, cfg.SuperuserRole) {
			hasSuper = true
			break
		}
	}
	if !hasSuper {
		seed.Roles = append([]BaselineRole{{Name: cfg.SuperuserRole}}, seed.Roles...)
	}
	return &Seeder{store: store, accounts: accounts, super: cfg.SuperuserRole, cfg: seed, logger: cfg.Logger}
}

// Seed ensures baseline roles, the default superuser account, its membership
// in the superuser role, and that the superuser role holds the whole catalog.
// Existing grants are never revoked and existing credentials are never touched.
func (s *Seeder) Seed(ctx context.Context) (SeedResult, error) {
	var res SeedResult

	var superRole Role
	for _, br := range s.cfg.Roles {
		isSuper := s.store.NamePolicy().Equal(br.Name, s.super)
		role, created, err := s.store.EnsureRole(ctx, br.Name, true)
		if err != nil {
			return res, fmt.Errorf("seed role %q: %w", br.Name, err)
		}
		if created {
			res.RolesCreated = append(res.RolesCreated, role.Name)
			if len(br.Defaults) > 0 && !isSuper {
				if _, err := s.store.GrantMissing(ctx, role.ID, br.Defaults); err != nil {
					return res, fmt.Errorf("seed defaults of %q: %w", br.Name, err)
				}
			}
		}
		if isSuper {
			superRole = role
		}
	}

	acct, err := s.accounts.FindAccountByUsername(ctx, s.cfg.AdminUsername)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		hash, herr := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), s.cfg.HashCost)
		if herr != nil {
			return res, fmt.Errorf("seed admin password: %w", herr)
		}
		acct, err = s.accounts.CreateAccount(ctx, NewAccount{
			Username:     s.cfg.AdminUsername,
			Email:        s.cfg.AdminEmail,
			DisplayName:  s.cfg.AdminDisplayName,
			PasswordHash: string(hash),
		})
		if err != nil {
			return res, fmt.Errorf("seed admin account: %w", err)
		}
		res.AdminCreated = true
	case err != nil:
		return res, fmt.Errorf("seed find admin account: %w", err)
	}

	roles, err := s.accounts.ListAccountRoles(ctx, acct.ID)
	if err != nil {
		return res, fmt.Errorf("seed admin roles: %w", err)
	}
	member := false
	for _, r := range roles {
		if s.store.NamePolicy().Equal(r, superRole.Name) {
			member = true
			break
		}
	}
	if !member {
		if err := s.accounts.AddAccountToRole(ctx, acct.ID, superRole.ID); err != nil {
			return res, fmt.Errorf("seed admin membership: %w", err)
		}
		res.MembershipAdded = true
	}

	delta, err := s.store.GrantMissing(ctx, superRole.ID, s.store.Catalog().Codes())
	if err != nil {
		return res, fmt.Errorf("seed superuser grants: %w", err)
	}
	res.Granted = delta.Granted

	s.logger.Info("rbac seed complete",
		slog.Any("roles_created", res.RolesCreated),
		slog.Bool("admin_created", res.AdminCreated),
		slog.Bool("membership_added", res.MembershipAdded),
		slog.Int("granted", len(res.Granted)))
	return res, nil
}
