package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"helpdesk/internal/metrics"
	"helpdesk/internal/permission"
)

// Role is a role together with its granted codes.
type Role struct {
	ID          uuid.UUID
	Name        string
	IsSystem    bool
	Permissions []permission.Code
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Has reports whether code is granted to the role.
func (r Role) Has(code permission.Code) bool {
	for _, c := range r.Permissions {
		if c == code {
			return true
		}
	}
	return false
}

// Delta reports what a grant mutation actually changed.
type Delta struct {
	Granted []permission.Code
	Revoked []permission.Code
}

// Changed reports whether anything was written.
func (d Delta) Changed() bool {
	return len(d.Granted) > 0 || len(d.Revoked) > 0
}

// Store manages roles and their permission grants. Mutations of one role are
// serialized; reads never wait on them.
type Store struct {
	repo   Repository
	cfg    Config
	locks  *roleLocks
	logger *slog.Logger
}

// NewStore builds a Store over repo.
func NewStore(repo Repository, cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{repo: repo, cfg: cfg, locks: newRoleLocks(), logger: cfg.Logger}
}

// Catalog returns the catalog the store validates against.
func (s *Store) Catalog() permission.Catalog {
	return s.cfg.Catalog
}

// NamePolicy returns the active role name policy.
func (s *Store) NamePolicy() NamePolicy {
	return s.cfg.NamePolicy
}

// CreateRole creates an empty role.
func (s *Store) CreateRole(ctx context.Context, name string) (Role, error) {
	return s.createRole(ctx, name, false)
}

// EnsureRole returns the role named name, creating it when missing. created
// reports whether this call created it.
func (s *Store) EnsureRole(ctx context.Context, name string, system bool) (role Role, created bool, err error) {
	role, err = s.FindRoleByName(ctx, name)
	if err == nil {
		return role, false, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return Role{}, false, err
	}
	role, err = s.createRole(ctx, name, system)
	if errors.Is(err, ErrDuplicateRoleName) {
		// lost a race with a concurrent creator
		role, err = s.FindRoleByName(ctx, name)
		return role, false, err
	}
	if err != nil {
		return Role{}, false, err
	}
	return role, true, nil
}

func (s *Store) createRole(ctx context.Context, name string, system bool) (Role, error) {
	name, err := cleanRoleName(name)
	if err != nil {
		return Role{}, err
	}
	normalized := s.cfg.NamePolicy.Normalize(name)
	if _, err := s.repo.FindRoleByName(ctx, normalized); err == nil {
		return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRoleName, name)
	} else if !errors.Is(err, ErrRoleNotFound) {
		return Role{}, fmt.Errorf("rbac: lookup role %q: %w", name, err)
	}

	rec := &RoleRecord{
		ID:             uuid.New(),
		Name:           name,
		NormalizedName: normalized,
		IsSystem:       system,
	}
	if err := s.repo.CreateRole(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateRoleName) {
			return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRoleName, name)
		}
		return Role{}, fmt.Errorf("rbac: create role %q: %w", name, err)
	}
	// a negative cache entry may exist for principals carrying this name already
	s.invalidate(ctx, normalized)
	return toRole(*rec, nil, s.cfg.Catalog), nil
}

// RenameRole changes a role's name. Grants are untouched.
func (s *Store) RenameRole(ctx context.Context, id uuid.UUID, newName string) (Role, error) {
	newName, err := cleanRoleName(newName)
	if err != nil {
		return Role{}, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.repo.FindRoleByID(ctx, id)
	if err != nil {
		return Role{}, err
	}
	normalized := s.cfg.NamePolicy.Normalize(newName)
	if normalized != rec.NormalizedName {
		if other, err := s.repo.FindRoleByName(ctx, normalized); err == nil && other.ID != id {
			return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRoleName, newName)
		} else if err != nil && !errors.Is(err, ErrRoleNotFound) {
			return Role{}, fmt.Errorf("rbac: lookup role %q: %w", newName, err)
		}
	}
	if err := s.repo.RenameRole(ctx, id, newName, normalized); err != nil {
		return Role{}, err
	}
	s.invalidate(ctx, rec.NormalizedName, normalized)
	return s.GetRole(ctx, id)
}

// DeleteRole removes the role, its grants and its memberships.
func (s *Store) DeleteRole(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.repo.FindRoleByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, rec.NormalizedName)
	return nil
}

// GetRole returns the role with its grants.
func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	rec, err := s.repo.FindRoleByID(ctx, id)
	if err != nil {
		return Role{}, err
	}
	codes, err := s.repo.ListGrants(ctx, id)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: list grants: %w", err)
	}
	return toRole(*rec, codes, s.cfg.Catalog), nil
}

// FindRoleByName looks a role up under the active name policy.
func (s *Store) FindRoleByName(ctx context.Context, name string) (Role, error) {
	rec, err := s.repo.FindRoleByName(ctx, s.cfg.NamePolicy.Normalize(name))
	if err != nil {
		return Role{}, err
	}
	codes, err := s.repo.ListGrants(ctx, rec.ID)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: list grants: %w", err)
	}
	return toRole(*rec, codes, s.cfg.Catalog), nil
}

// ListRoles returns every role with its grants, ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	recs, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	grants, err := s.repo.ListAllGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: list grants: %w", err)
	}
	roles := make([]Role, 0, len(recs))
	for _, rec := range recs {
		roles = append(roles, toRole(rec, grants[rec.ID], s.cfg.Catalog))
	}
	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// EffectivePermissions returns the codes granted to the role.
func (s *Store) EffectivePermissions(ctx context.Context, id uuid.UUID) ([]permission.Code, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	return role.Permissions, nil
}

// Grant adds code to the role. Granting an already granted code is a no-op.
func (s *Store) Grant(ctx context.Context, id uuid.UUID, code string) (Delta, error) {
	c, err := s.cfg.Catalog.Validate(code)
	if err != nil {
		return Delta{}, err
	}
	return s.apply(ctx, id, func(current map[permission.Code]struct{}) GrantDelta {
		if _, ok := current[c]; ok {
			return GrantDelta{}
		}
		return GrantDelta{Add: []permission.Code{c}}
	})
}

// Revoke removes code from the role. Revoking an ungranted code is a no-op.
func (s *Store) Revoke(ctx context.Context, id uuid.UUID, code string) (Delta, error) {
	c, err := s.cfg.Catalog.Validate(code)
	if err != nil {
		return Delta{}, err
	}
	return s.apply(ctx, id, func(current map[permission.Code]struct{}) GrantDelta {
		if _, ok := current[c]; !ok {
			return GrantDelta{}
		}
		return GrantDelta{Remove: []permission.Code{c}}
	})
}

// Reconcile makes the role's grants equal desired by applying only the
// difference: codes present before and after are never removed, not even
// transiently. Grants no longer in the catalog are dropped as well.
func (s *Store) Reconcile(ctx context.Context, id uuid.UUID, desired []string) (Delta, error) {
	want, err := s.cfg.Catalog.ValidateAll(desired)
	if err != nil {
		return Delta{}, err
	}
	wantSet := make(map[permission.Code]struct{}, len(want))
	for _, c := range want {
		wantSet[c] = struct{}{}
	}
	return s.apply(ctx, id, func(current map[permission.Code]struct{}) GrantDelta {
		var d GrantDelta
		for c := range current {
			if _, keep := wantSet[c]; !keep {
				d.Remove = append(d.Remove, c)
			}
		}
		for _, c := range want {
			if _, has := current[c]; !has {
				d.Add = append(d.Add, c)
			}
		}
		return d
	})
}

// GrantMissing adds every code in codes that the role lacks and never
// revokes. The seeder uses it to follow catalog growth.
func (s *Store) GrantMissing(ctx context.Context, id uuid.UUID, codes []permission.Code) (Delta, error) {
	for _, c := range codes {
		if !s.cfg.Catalog.Contains(string(c)) {
			return Delta{}, &permission.UnknownError{Code: string(c)}
		}
	}
	return s.apply(ctx, id, func(current map[permission.Code]struct{}) GrantDelta {
		var d GrantDelta
		for _, c := range codes {
			if _, has := current[c]; !has {
				d.Add = append(d.Add, c)
			}
		}
		return d
	})
}

func (s *Store) apply(ctx context.Context, id uuid.UUID, plan func(current map[permission.Code]struct{}) GrantDelta) (Delta, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	var applied GrantDelta
	rec, err := s.repo.UpdateGrants(ctx, id, func(current []permission.Code) (GrantDelta, error) {
		set := make(map[permission.Code]struct{}, len(current))
		for _, c := range current {
			set[c] = struct{}{}
		}
		applied = plan(set)
		sortCodes(applied.Add, s.cfg.Catalog)
		sortCodes(applied.Remove, s.cfg.Catalog)
		return applied, nil
	})
	if err != nil {
		return Delta{}, err
	}
	if !applied.Empty() {
		s.invalidate(ctx, rec.NormalizedName)
		metrics.RoleGrantChanges.WithLabelValues("grant").Add(float64(len(applied.Add)))
		metrics.RoleGrantChanges.WithLabelValues("revoke").Add(float64(len(applied.Remove)))
		s.logger.Info("role grants changed",
			slog.String("role", rec.Name),
			slog.Any("granted", applied.Add),
			slog.Any("revoked", applied.Remove))
	}
	return Delta{Granted: applied.Add, Revoked: applied.Remove}, nil
}

func (s *Store) invalidate(ctx context.Context, roles ...string) {
	if err := s.cfg.Cache.Invalidate(ctx, roles...); err != nil {
		s.logger.Warn("rbac cache invalidate", slog.Any("roles", roles), slog.Any("error", err))
	}
}

func toRole(rec RoleRecord, codes []permission.Code, catalog permission.Catalog) Role {
	perms := make([]permission.Code, len(codes))
	copy(perms, codes)
	sortCodes(perms, catalog)
	return Role{
		ID:          rec.ID,
		Name:        rec.Name,
		IsSystem:    rec.IsSystem,
		Permissions: perms,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// sortCodes orders codes by catalog position; uncatalogued codes go last,
// alphabetically.
func sortCodes(codes []permission.Code, catalog permission.Catalog) {
	pos := make(map[permission.Code]int, catalog.Len())
	for i, c := range catalog.Codes() {
		pos[c] = i
	}
	sort.SliceStable(codes, func(i, j int) bool {
		pi, iok := pos[codes[i]]
		pj, jok := pos[codes[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return codes[i] < codes[j]
		}
	})
}
