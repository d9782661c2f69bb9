package rbac

import (
	"fmt"
	"sort"

	"helpdesk/internal/permission"
)

// Action names a protected operation exposed by the service.
type Action string

// Requirement is what an action demands of the principal: either one
// catalogued permission, or just being signed in.
type Requirement struct {
	Code              permission.Code
	AuthenticatedOnly bool
}

// Needs requires code.
func Needs(code permission.Code) Requirement {
	return Requirement{Code: code}
}

// SignedIn requires nothing beyond authentication.
var SignedIn = Requirement{AuthenticatedOnly: true}

const (
	ActionProfileView Action = "profile.view"

	ActionUsersList     Action = "users.list"
	ActionUsersView     Action = "users.view"
	ActionUsersCreate   Action = "users.create"
	ActionUsersUpdate   Action = "users.update"
	ActionUsersSetRoles Action = "users.set_roles"
	ActionUsersDelete   Action = "users.delete"

	ActionRolesList       Action = "roles.list"
	ActionRolesView       Action = "roles.view"
	ActionRolesCreate     Action = "roles.create"
	ActionRolesUpdate     Action = "roles.update"
	ActionRolesGrant      Action = "roles.grant"
	ActionRolesRevoke     Action = "roles.revoke"
	ActionRolesReconcile  Action = "roles.reconcile"
	ActionRolesDelete     Action = "roles.delete"
	ActionPermissionsList Action = "permissions.list"
	ActionAuditList       Action = "audit.list"

	ActionTicketsList    Action = "tickets.list"
	ActionTicketsView    Action = "tickets.view"
	ActionTicketsCreate  Action = "tickets.create"
	ActionTicketsUpdate  Action = "tickets.update"
	ActionTicketsAssign  Action = "tickets.assign"
	ActionTicketsResolve Action = "tickets.resolve"
	ActionTicketsDelete  Action = "tickets.delete"

	ActionNotificationsSubscribe Action = "notifications.subscribe"
)

// Policy maps every protected action to its requirement. Actions missing
// from the policy are denied.
type Policy map[Action]Requirement

// DefaultPolicy is the action table served by the HTTP API.
var DefaultPolicy = Policy{
	ActionProfileView: SignedIn,

	ActionUsersList:     Needs(permission.UsersView),
	ActionUsersView:     Needs(permission.UsersView),
	ActionUsersCreate:   Needs(permission.UsersCreate),
	ActionUsersUpdate:   Needs(permission.UsersEdit),
	ActionUsersSetRoles: Needs(permission.UsersEdit),
	ActionUsersDelete:   Needs(permission.UsersDelete),

	ActionRolesList:       Needs(permission.RolesView),
	ActionRolesView:       Needs(permission.RolesView),
	ActionRolesCreate:     Needs(permission.RolesCreate),
	ActionRolesUpdate:     Needs(permission.RolesEdit),
	ActionRolesGrant:      Needs(permission.RolesEdit),
	ActionRolesRevoke:     Needs(permission.RolesEdit),
	ActionRolesReconcile:  Needs(permission.RolesEdit),
	ActionRolesDelete:     Needs(permission.RolesDelete),
	ActionPermissionsList: Needs(permission.RolesView),
	ActionAuditList:       Needs(permission.RolesView),

	ActionTicketsList:    Needs(permission.TicketsView),
	ActionTicketsView:    Needs(permission.TicketsView),
	ActionTicketsCreate:  Needs(permission.TicketsCreate),
	ActionTicketsUpdate:  Needs(permission.TicketsEdit),
	ActionTicketsAssign:  Needs(permission.TicketsEdit),
	ActionTicketsResolve: Needs(permission.TicketsClose),
	ActionTicketsDelete:  Needs(permission.TicketsDelete),

	ActionNotificationsSubscribe: Needs(permission.NotificationsView),
}

// Lookup returns the requirement of action.
func (p Policy) Lookup(action Action) (Requirement, bool) {
	r, ok := p[action]
	return r, ok
}

// Validate checks that every requirement names a catalogued code.
func (p Policy) Validate(catalog permission.Catalog) error {
	actions := make([]string, 0, len(p))
	for a := range p {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)
	for _, a := range actions {
		req := p[Action(a)]
		if req.AuthenticatedOnly {
			if req.Code != "" {
				return fmt.Errorf("rbac: action %s is signed-in only but names %s", a, req.Code)
			}
			continue
		}
		if !catalog.Contains(string(req.Code)) {
			return fmt.Errorf("rbac: action %s: %w", a, &permission.UnknownError{Code: string(req.Code)})
		}
	}
	return nil
}
