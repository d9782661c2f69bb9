package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"helpdesk/internal/permission"
)

// MemoryRepository is an in-process Repository and Accounts used by tests
// and local tooling. A single RWMutex gives UpdateGrants its exclusion.
type MemoryRepository struct {
	mu       sync.RWMutex
	roles    map[uuid.UUID]RoleRecord
	grants   map[uuid.UUID]map[permission.Code]struct{}
	accounts map[uuid.UUID]memoryAccount
	members  map[uuid.UUID]map[uuid.UUID]struct{} // account -> roles
	now      func() time.Time
}

type memoryAccount struct {
	Account
	passwordHash string
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles:    make(map[uuid.UUID]RoleRecord),
		grants:   make(map[uuid.UUID]map[permission.Code]struct{}),
		accounts: make(map[uuid.UUID]memoryAccount),
		members:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		now:      time.Now,
	}
}

func (m *MemoryRepository) CreateRole(_ context.Context, role *RoleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.NormalizedName == role.NormalizedName {
			return ErrDuplicateRoleName
		}
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := m.now()
	role.CreatedAt, role.UpdatedAt = now, now
	m.roles[role.ID] = *role
	m.grants[role.ID] = make(map[permission.Code]struct{})
	return nil
}

func (m *MemoryRepository) FindRoleByID(_ context.Context, id uuid.UUID) (*RoleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) FindRoleByName(_ context.Context, normalized string) (*RoleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if r.NormalizedName == normalized {
			return &r, nil
		}
	}
	return nil, ErrRoleNotFound
}

func (m *MemoryRepository) ListRoles(context.Context) ([]RoleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoleRecord, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) RenameRole(_ context.Context, id uuid.UUID, name, normalized string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return ErrRoleNotFound
	}
	for _, other := range m.roles {
		if other.ID != id && other.NormalizedName == normalized {
			return ErrDuplicateRoleName
		}
	}
	r.Name, r.NormalizedName, r.UpdatedAt = name, normalized, m.now()
	m.roles[id] = r
	return nil
}

func (m *MemoryRepository) DeleteRole(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrRoleNotFound
	}
	delete(m.roles, id)
	delete(m.grants, id)
	for _, roles := range m.members {
		delete(roles, id)
	}
	return nil
}

func (m *MemoryRepository) ListGrants(_ context.Context, roleID uuid.UUID) ([]permission.Code, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, ErrRoleNotFound
	}
	return setToSlice(m.grants[roleID]), nil
}

func (m *MemoryRepository) ListAllGrants(context.Context) (map[uuid.UUID][]permission.Code, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID][]permission.Code, len(m.grants))
	for id, set := range m.grants {
		out[id] = setToSlice(set)
	}
	return out, nil
}

func (m *MemoryRepository) UpdateGrants(_ context.Context, roleID uuid.UUID, fn func([]permission.Code) (GrantDelta, error)) (*RoleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return nil, ErrRoleNotFound
	}
	set := m.grants[roleID]
	delta, err := fn(setToSlice(set))
	if err != nil {
		return nil, err
	}
	for _, c := range delta.Remove {
		delete(set, c)
	}
	for _, c := range delta.Add {
		set[c] = struct{}{}
	}
	if !delta.Empty() {
		r.UpdatedAt = m.now()
		m.roles[roleID] = r
	}
	return &r, nil
}

// PutGrant writes a grant without catalog validation, to simulate rows left
// behind by an older catalog.
func (m *MemoryRepository) PutGrant(roleID uuid.UUID, code permission.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.grants[roleID]; ok {
		set[code] = struct{}{}
	}
}

func (m *MemoryRepository) FindAccountByUsername(_ context.Context, username string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Username, username) {
			acct := a.Account
			return &acct, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryRepository) CreateAccount(_ context.Context, in NewAccount) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := Account{ID: uuid.New(), Username: in.Username, Email: in.Email, DisplayName: in.DisplayName}
	m.accounts[acct.ID] = memoryAccount{Account: acct, passwordHash: in.PasswordHash}
	return &acct, nil
}

func (m *MemoryRepository) AddAccountToRole(_ context.Context, accountID, roleID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return ErrAccountNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	if m.members[accountID] == nil {
		m.members[accountID] = make(map[uuid.UUID]struct{})
	}
	m.members[accountID][roleID] = struct{}{}
	return nil
}

func (m *MemoryRepository) ListAccountRoles(_ context.Context, accountID uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	var names []string
	for id := range m.members[accountID] {
		if r, ok := m.roles[id]; ok {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PasswordHash returns the stored hash of username.
func (m *MemoryRepository) PasswordHash(username string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Username, username) {
			return a.passwordHash, true
		}
	}
	return "", false
}

// SetPasswordHash overwrites the hash of username.
func (m *MemoryRepository) SetPasswordHash(username, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		if strings.EqualFold(a.Username, username) {
			a.passwordHash = hash
			m.accounts[id] = a
		}
	}
}

func setToSlice(set map[permission.Code]struct{}) []permission.Code {
	out := make([]permission.Code, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
