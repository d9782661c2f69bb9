package rbac

import (
	"log/slog"

	"helpdesk/internal/permission"
)

// DefaultSuperuserRole is the role whose members bypass every check.
const DefaultSuperuserRole = "SuperAdmin"

// Config is shared by Store, Evaluator, Gate and Seeder so they agree on the
// catalog, the superuser role and the name policy.
type Config struct {
	Catalog       permission.Catalog
	NamePolicy    NamePolicy
	SuperuserRole string
	Cache         Cache
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Catalog.Len() == 0 {
		c.Catalog = permission.Default
	}
	if c.SuperuserRole == "" {
		c.SuperuserRole = DefaultSuperuserRole
	}
	if c.Cache == nil {
		c.Cache = NopCache{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
