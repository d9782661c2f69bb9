package rbac

import (
	"errors"
	"fmt"
	"strings"

	"helpdesk/internal/permission"
)

var (
	// ErrRoleNotFound indicates the role does not exist.
	ErrRoleNotFound = errors.New("role not found")
	// ErrDuplicateRoleName indicates another role already uses the name under the active name policy.
	ErrDuplicateRoleName = errors.New("role name already exists")
	// ErrInvalidRoleName indicates an empty or oversized role name.
	ErrInvalidRoleName = errors.New("invalid role name")
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrForbidden is matched by every gate denial.
	ErrForbidden = errors.New("forbidden")

	// ErrUnknownPermission aliases the catalog error so callers only need this package.
	ErrUnknownPermission = permission.ErrUnknown
)

// ForbiddenError describes a gate denial. It never carries data about the
// protected resource.
type ForbiddenError struct {
	Action Action
	Code   permission.Code
	Roles  []string
}

func (e *ForbiddenError) Error() string {
	var b strings.Builder
	b.WriteString("forbidden")
	if e.Action != "" {
		fmt.Fprintf(&b, ": action %s", e.Action)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": missing permission %s", e.Code)
	}
	if len(e.Roles) > 0 {
		fmt.Fprintf(&b, ": requires role %s", strings.Join(e.Roles, " or "))
	}
	return b.String()
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}
