package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"helpdesk/internal/model"
	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
	ws "helpdesk/internal/websocket"
)

// Notifier publishes realtime events to subscribed clients.
type Notifier interface {
	Publish(ev ws.Event)
}

// --- DTOs ---

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required,max=50"`
	Permissions []string `json:"permissions"` // permission codes, e.g. "tickets.ver"
}

type UpdateRoleRequest struct {
	Name        string    `json:"name" binding:"omitempty,max=50"`
	Permissions *[]string `json:"permissions"` // nil leaves grants untouched
}

type UpdateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"` // the full desired set
}

type PermissionChanges struct {
	Granted []string `json:"granted"`
	Revoked []string `json:"revoked"`
}

type RoleResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	IsSystem    bool               `json:"is_system"`
	Permissions []string           `json:"permissions"`
	Changes     *PermissionChanges `json:"changes,omitempty"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
}

type PermissionOption struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Verb    string `json:"verb"`
	Granted bool   `json:"granted"`
}

type PermissionGroupResponse struct {
	Subject     string             `json:"subject"`
	Permissions []PermissionOption `json:"permissions"`
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	GetRole(ctx context.Context, id string) (*RoleResponse, error)
	CreateRole(ctx context.Context, actor rbac.Principal, req CreateRoleRequest) (*RoleResponse, error)
	UpdateRole(ctx context.Context, actor rbac.Principal, id string, req UpdateRoleRequest) (*RoleResponse, error)
	DeleteRole(ctx context.Context, actor rbac.Principal, id string) error
	SetPermissions(ctx context.Context, actor rbac.Principal, id string, codes []string) (*RoleResponse, error)
	GrantPermission(ctx context.Context, actor rbac.Principal, id, code string) (*RoleResponse, error)
	RevokePermission(ctx context.Context, actor rbac.Principal, id, code string) (*RoleResponse, error)
	ListPermissions(ctx context.Context) []PermissionGroupResponse
	PermissionOptions(ctx context.Context, id string) ([]PermissionGroupResponse, error)
}

type roleService struct {
	store    *rbac.Store
	audit    AuditService
	notifier Notifier
}

func NewRoleService(store *rbac.Store, audit AuditService, notifier Notifier) RoleService {
	return &roleService{store: store, audit: audit, notifier: notifier}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}
	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r, nil))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*RoleResponse, error) {
	roleID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	resp := toRoleResponse(role, nil)
	return &resp, nil
}

// CreateRole validates the initial permissions before creating anything so
// a bad code never leaves an empty role behind.
func (s *roleService) CreateRole(ctx context.Context, actor rbac.Principal, req CreateRoleRequest) (*RoleResponse, error) {
	if _, err := s.store.Catalog().ValidateAll(req.Permissions); err != nil {
		return nil, err
	}
	role, err := s.store.CreateRole(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor.UserID, model.ActionCreateRole, role.ID.String(), role.Name, req)

	if len(req.Permissions) == 0 {
		resp := toRoleResponse(role, nil)
		return &resp, nil
	}
	return s.reconcile(ctx, actor, role.ID, req.Permissions)
}

func (s *roleService) UpdateRole(ctx context.Context, actor rbac.Principal, id string, req UpdateRoleRequest) (*RoleResponse, error) {
	roleID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if req.Permissions != nil {
		if _, err := s.store.Catalog().ValidateAll(*req.Permissions); err != nil {
			return nil, err
		}
	}

	if req.Name != "" {
		current, err := s.store.GetRole(ctx, roleID)
		if err != nil {
			return nil, err
		}
		if current.Name != req.Name {
			if current.IsSystem {
				return nil, fmt.Errorf("%w: system role %q cannot be renamed", ErrConflict, current.Name)
			}
			renamed, err := s.store.RenameRole(ctx, roleID, req.Name)
			if err != nil {
				return nil, err
			}
			s.audit.Record(ctx, actor.UserID, model.ActionRenameRole, roleID.String(), renamed.Name,
				map[string]string{"from": current.Name, "to": renamed.Name})
		}
	}

	if req.Permissions != nil {
		return s.reconcile(ctx, actor, roleID, *req.Permissions)
	}
	return s.GetRole(ctx, id)
}

func (s *roleService) DeleteRole(ctx context.Context, actor rbac.Principal, id string) error {
	roleID, err := parseID(id)
	if err != nil {
		return err
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system role %q cannot be deleted", ErrConflict, role.Name)
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.audit.Record(ctx, actor.UserID, model.ActionDeleteRole, roleID.String(), role.Name, role.Permissions)
	return nil
}

func (s *roleService) SetPermissions(ctx context.Context, actor rbac.Principal, id string, codes []string) (*RoleResponse, error) {
	roleID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, actor, roleID, codes)
}

func (s *roleService) GrantPermission(ctx context.Context, actor rbac.Principal, id, code string) (*RoleResponse, error) {
	roleID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	delta, err := s.store.Grant(ctx, roleID, code)
	if err != nil {
		return nil, err
	}
	return s.afterChange(ctx, actor, roleID, delta)
}

func (s *roleService) RevokePermission(ctx context.Context, actor rbac.Principal, id, code string) (*RoleResponse, error) {
	roleID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	delta, err := s.store.Revoke(ctx, roleID, code)
	if err != nil {
		return nil, err
	}
	return s.afterChange(ctx, actor, roleID, delta)
}

func (s *roleService) ListPermissions(ctx context.Context) []PermissionGroupResponse {
	return permissionGroups(s.store.Catalog(), nil)
}

// PermissionOptions returns the catalog with the role's grants checked, as
// rendered by the role editing form.
func (s *roleService) PermissionOptions(ctx context.Context, id string) ([]PermissionGroupResponse, error) {
	roleID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return permissionGroups(s.store.Catalog(), &role), nil
}

func (s *roleService) reconcile(ctx context.Context, actor rbac.Principal, roleID uuid.UUID, codes []string) (*RoleResponse, error) {
	delta, err := s.store.Reconcile(ctx, roleID, codes)
	if err != nil {
		return nil, err
	}
	return s.afterChange(ctx, actor, roleID, delta)
}

func (s *roleService) afterChange(ctx context.Context, actor rbac.Principal, roleID uuid.UUID, delta rbac.Delta) (*RoleResponse, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	changes := &PermissionChanges{Granted: codeStrings(delta.Granted), Revoked: codeStrings(delta.Revoked)}
	if delta.Changed() {
		if len(delta.Granted) > 0 {
			s.audit.Record(ctx, actor.UserID, model.ActionGrantPermission, roleID.String(), role.Name, changes.Granted)
		}
		if len(delta.Revoked) > 0 {
			s.audit.Record(ctx, actor.UserID, model.ActionRevokePermission, roleID.String(), role.Name, changes.Revoked)
		}
		s.notifier.Publish(ws.Event{Type: ws.EventRolePermissions, Data: map[string]any{
			"role_id": roleID.String(),
			"role":    role.Name,
			"granted": changes.Granted,
			"revoked": changes.Revoked,
		}})
	}
	resp := toRoleResponse(role, changes)
	return &resp, nil
}

func permissionGroups(catalog permission.Catalog, role *rbac.Role) []PermissionGroupResponse {
	groups := catalog.Groups()
	out := make([]PermissionGroupResponse, 0, len(groups))
	for _, g := range groups {
		opts := make([]PermissionOption, 0, len(g.Entries))
		for _, e := range g.Entries {
			opts = append(opts, PermissionOption{
				Code:    string(e.Code),
				Title:   e.Title(),
				Verb:    e.Verb,
				Granted: role != nil && role.Has(e.Code),
			})
		}
		out = append(out, PermissionGroupResponse{Subject: g.Subject, Permissions: opts})
	}
	return out
}

func toRoleResponse(r rbac.Role, changes *PermissionChanges) RoleResponse {
	return RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		IsSystem:    r.IsSystem,
		Permissions: codeStrings(r.Permissions),
		Changes:     changes,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
}

func codeStrings(codes []permission.Code) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, invalid("id", "must be a UUID")
	}
	return parsed, nil
}
