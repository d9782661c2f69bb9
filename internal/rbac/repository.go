package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"

	"helpdesk/internal/permission"
)

// RoleRecord is the persisted shape of a role without its grants.
type RoleRecord struct {
	ID             uuid.UUID
	Name           string
	NormalizedName string
	IsSystem       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GrantDelta is the change a grant mutation wants applied.
type GrantDelta struct {
	Add    []permission.Code
	Remove []permission.Code
}

// Empty reports whether the delta changes nothing.
func (d GrantDelta) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// Repository persists roles and their grants.
//
// UpdateGrants must run fn and apply its delta inside one unit of work that
// excludes any other UpdateGrants, RenameRole or DeleteRole on the same role.
// fn receives the grants as they are at the moment the role is locked.
type Repository interface {
	CreateRole(ctx context.Context, role *RoleRecord) error
	FindRoleByID(ctx context.Context, id uuid.UUID) (*RoleRecord, error)
	FindRoleByName(ctx context.Context, normalized string) (*RoleRecord, error)
	ListRoles(ctx context.Context) ([]RoleRecord, error)
	RenameRole(ctx context.Context, id uuid.UUID, name, normalized string) error
	DeleteRole(ctx context.Context, id uuid.UUID) error

	ListGrants(ctx context.Context, roleID uuid.UUID) ([]permission.Code, error)
	ListAllGrants(ctx context.Context) (map[uuid.UUID][]permission.Code, error)
	UpdateGrants(ctx context.Context, roleID uuid.UUID, fn func(current []permission.Code) (GrantDelta, error)) (*RoleRecord, error)
}

// Account is the identity subsystem's view of a user.
type Account struct {
	ID          uuid.UUID
	Username    string
	Email       string
	DisplayName string
}

// NewAccount carries what is needed to create an account. PasswordHash is
// already hashed.
type NewAccount struct {
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
}

// Accounts is the slice of the identity subsystem the seeder and the
// authentication middleware rely on.
type Accounts interface {
	FindAccountByUsername(ctx context.Context, username string) (*Account, error)
	CreateAccount(ctx context.Context, acct NewAccount) (*Account, error)
	AddAccountToRole(ctx context.Context, accountID, roleID uuid.UUID) error
	ListAccountRoles(ctx context.Context, accountID uuid.UUID) ([]string, error)
}
