package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"helpdesk/internal/permission"
)

// Evaluator answers "may this principal do P". It only reads.
type Evaluator struct {
	repo   Repository
	cfg    Config
	super  string
	loads  singleflight.Group
	logger *slog.Logger
}

// NewEvaluator builds an Evaluator over repo.
func NewEvaluator(repo Repository, cfg Config) *Evaluator {
	cfg = cfg.withDefaults()
	return &Evaluator{
		repo:   repo,
		cfg:    cfg,
		super:  cfg.NamePolicy.Normalize(cfg.SuperuserRole),
		logger: cfg.Logger,
	}
}

// Catalog returns the catalog codes are checked against.
func (e *Evaluator) Catalog() permission.Catalog {
	return e.cfg.Catalog
}

// SuperuserRole returns the configured superuser role name.
func (e *Evaluator) SuperuserRole() string {
	return e.cfg.SuperuserRole
}

// IsSuperuser reports whether p is a member of the superuser role.
func (e *Evaluator) IsSuperuser(p Principal) bool {
	for _, r := range p.Roles {
		if e.cfg.NamePolicy.Normalize(r) == e.super {
			return true
		}
	}
	return false
}

// HasRole reports whether p is a member of any of roles. Superusers are
// members of every role for this purpose.
func (e *Evaluator) HasRole(p Principal, roles ...string) bool {
	if e.IsSuperuser(p) {
		return true
	}
	for _, want := range roles {
		w := e.cfg.NamePolicy.Normalize(want)
		for _, have := range p.Roles {
			if e.cfg.NamePolicy.Normalize(have) == w {
				return true
			}
		}
	}
	return false
}

// HasPermission reports whether p holds code. Uncatalogued codes are always
// denied and logged; lookup failures deny as well.
func (e *Evaluator) HasPermission(ctx context.Context, p Principal, code string) bool {
	ok, err := e.check(ctx, p, code)
	if err != nil {
		e.logger.Error("rbac evaluate",
			slog.String("user", p.Username),
			slog.String("permission", code),
			slog.Any("error", err))
		return false
	}
	return ok
}

func (e *Evaluator) check(ctx context.Context, p Principal, code string) (bool, error) {
	if !e.cfg.Catalog.Contains(code) {
		e.logger.Warn("rbac check against uncatalogued permission",
			slog.String("permission", code),
			slog.String("user", p.Username))
		return false, nil
	}
	if e.IsSuperuser(p) {
		return true, nil
	}
	target := permission.Code(code)
	for _, role := range p.Roles {
		codes, err := e.rolePermissions(ctx, role)
		if err != nil {
			return false, err
		}
		for _, c := range codes {
			if c == target {
				return true, nil
			}
		}
	}
	return false, nil
}

// EffectivePermissions returns the union of p's grants in catalog order, or
// the whole catalog for a superuser.
func (e *Evaluator) EffectivePermissions(ctx context.Context, p Principal) ([]permission.Code, error) {
	if e.IsSuperuser(p) {
		return e.cfg.Catalog.Codes(), nil
	}
	set := make(map[permission.Code]struct{})
	for _, role := range p.Roles {
		codes, err := e.rolePermissions(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, c := range codes {
			set[c] = struct{}{}
		}
	}
	out := make([]permission.Code, 0, len(set))
	for _, c := range e.cfg.Catalog.Codes() {
		if _, ok := set[c]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// fillAttempts bounds how often a load is retried when the role keeps being
// invalidated while its grants are read.
const fillAttempts = 3

// rolePermissions reads a role's grants through the cache. Unknown role names
// resolve to an empty set. A load that overlapped an invalidation is read
// again, so neither the cache nor callers joining the load keep grants that
// predate a committed change.
func (e *Evaluator) rolePermissions(ctx context.Context, role string) ([]permission.Code, error) {
	key := e.cfg.NamePolicy.Normalize(role)
	codes, hit, err := e.cfg.Cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("rbac cache get", slog.String("role", role), slog.Any("error", err))
	} else if hit {
		return codes, nil
	}

	v, err, _ := e.loads.Do(key, func() (any, error) {
		var codes []permission.Code
		for attempt := 0; attempt < fillAttempts; attempt++ {
			version, verr := e.cfg.Cache.Version(ctx, key)
			loaded, err := e.load(ctx, key, role)
			if err != nil {
				return nil, err
			}
			codes = loaded
			if verr != nil {
				e.logger.Warn("rbac cache version", slog.String("role", role), slog.Any("error", verr))
				return codes, nil
			}
			stored, err := e.cfg.Cache.Fill(ctx, key, version, codes)
			if err != nil {
				e.logger.Warn("rbac cache fill", slog.String("role", role), slog.Any("error", err))
				return codes, nil
			}
			if stored {
				return codes, nil
			}
		}
		e.logger.Debug("rbac cache fill skipped, role kept changing", slog.String("role", role))
		return codes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]permission.Code), nil
}

func (e *Evaluator) load(ctx context.Context, key, role string) ([]permission.Code, error) {
	rec, err := e.repo.FindRoleByName(ctx, key)
	if errors.Is(err, ErrRoleNotFound) {
		return []permission.Code{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rbac: find role %q: %w", role, err)
	}
	codes, err := e.repo.ListGrants(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list grants of %q: %w", role, err)
	}
	return codes, nil
}
