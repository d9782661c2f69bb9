package rbac

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxRoleNameLength bounds role names; it matches the roles.name column.
const MaxRoleNameLength = 50

// NamePolicy decides how role names are compared for uniqueness and lookup.
type NamePolicy int

const (
	// FoldCase compares names case-insensitively through an upper-cased
	// normalized form, the identity subsystem's convention.
	FoldCase NamePolicy = iota
	// ExactCase compares names byte for byte.
	ExactCase
)

// ParseNamePolicy reads "fold" or "exact".
func ParseNamePolicy(s string) (NamePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fold", "insensitive":
		return FoldCase, nil
	case "exact", "sensitive":
		return ExactCase, nil
	default:
		return FoldCase, fmt.Errorf("rbac: unknown role name policy %q", s)
	}
}

func (p NamePolicy) String() string {
	if p == ExactCase {
		return "exact"
	}
	return "fold"
}

// Normalize returns the comparison key for name.
func (p NamePolicy) Normalize(name string) string {
	name = strings.TrimSpace(name)
	if p == ExactCase {
		return name
	}
	return strings.ToUpper(name)
}

// Equal compares two role names under the policy.
func (p NamePolicy) Equal(a, b string) bool {
	return p.Normalize(a) == p.Normalize(b)
}

func cleanRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name required", ErrInvalidRoleName)
	}
	if utf8.RuneCountInString(name) > MaxRoleNameLength {
		return "", fmt.Errorf("%w: at most %d characters", ErrInvalidRoleName, MaxRoleNameLength)
	}
	return name, nil
}
