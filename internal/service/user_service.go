package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"helpdesk/internal/auth"
	"helpdesk/internal/model"
	"helpdesk/internal/rbac"
	"helpdesk/internal/repository"
	ws "helpdesk/internal/websocket"
)

// DTOs for Request validation
type CreateUserRequest struct {
	Username    string   `json:"username" binding:"required,min=3,max=50"`
	Email       string   `json:"email" binding:"required,email"`
	DisplayName string   `json:"display_name" binding:"max=255"`
	Password    string   `json:"password" binding:"required,min=8"`
	Roles       []string `json:"roles"` // role names or ids
}

type UpdateUserRequest struct {
	Username    string `json:"username" binding:"omitempty,min=3,max=50"`
	Email       string `json:"email" binding:"omitempty,email"`
	DisplayName string `json:"display_name" binding:"max=255"`
	NewPassword string `json:"new_password" binding:"omitempty,min=8"`
}

type SetUserRolesRequest struct {
	Roles []string `json:"roles"` // role names or ids; empty removes every membership
}

type LoginRequest struct {
	Login    string `json:"login" binding:"required"` // username or email
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

// ProfileResponse is the signed-in user's own view, with what they may do.
type ProfileResponse struct {
	UserResponse
	IsSuperuser bool     `json:"is_superuser"`
	Permissions []string `json:"permissions"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Me(ctx context.Context, p rbac.Principal) (*ProfileResponse, error)
	CreateUser(ctx context.Context, actor rbac.Principal, req CreateUserRequest) (*UserResponse, error)
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int, search string) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, actor rbac.Principal, id string, req UpdateUserRequest) (*UserResponse, error)
	SetRoles(ctx context.Context, actor rbac.Principal, id string, req SetUserRolesRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, actor rbac.Principal, id string) error
}

type userService struct {
	repo     repository.UserRepository
	tx       repository.TransactionManager
	store    *rbac.Store
	gate     *rbac.Gate
	eval     *rbac.Evaluator
	tokens   *auth.TokenIssuer
	audit    AuditService
	notifier Notifier
	hashCost int
}

// NewUserService returns a new instance of UserService
func NewUserService(
	repo repository.UserRepository,
	tx repository.TransactionManager,
	store *rbac.Store,
	gate *rbac.Gate,
	tokens *auth.TokenIssuer,
	audit AuditService,
	notifier Notifier,
) UserService {
	return &userService{
		repo:     repo,
		tx:       tx,
		store:    store,
		gate:     gate,
		eval:     gate.Evaluator(),
		tokens:   tokens,
		audit:    audit,
		notifier: notifier,
		hashCost: bcrypt.DefaultCost,
	}
}

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	roles := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		roles = append(roles, r.Name)
	}
	return &UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Roles:       roles,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   user.UpdatedAt.Format(time.RFC3339),
	}
}

// Login accepts a username or an email. Unknown logins and wrong passwords
// are indistinguishable to the caller.
func (s *userService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.repo.GetByLogin(ctx, req.Login)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("login lookup: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expires, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &LoginResponse{
		Token:     token,
		ExpiresAt: expires.Format(time.RFC3339),
		User:      *mapToResponse(user),
	}, nil
}

func (s *userService) Me(ctx context.Context, p rbac.Principal) (*ProfileResponse, error) {
	user, err := s.repo.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, userErr(err)
	}
	codes, err := s.eval.EffectivePermissions(ctx, p)
	if err != nil {
		return nil, err
	}
	return &ProfileResponse{
		UserResponse: *mapToResponse(user),
		IsSuperuser:  s.eval.IsSuperuser(p),
		Permissions:  codeStrings(codes),
	}, nil
}

func (s *userService) CreateUser(ctx context.Context, actor rbac.Principal, req CreateUserRequest) (*UserResponse, error) {
	roleIDs, err := s.resolveRoles(ctx, req.Roles)
	if err != nil {
		return nil, err
	}
	if err := s.guardSuperuserMembership(ctx, actor, nil, roleIDs); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		display = req.Username
	}
	user := &model.User{
		Username:    strings.TrimSpace(req.Username),
		Email:       strings.TrimSpace(req.Email),
		DisplayName: display,
		Password:    string(hashed),
	}
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, user); err != nil {
			return err
		}
		if len(roleIDs) == 0 {
			return nil
		}
		return s.repo.SetRoles(txCtx, user.ID, roleIDs)
	})
	if err != nil {
		return nil, userErr(err)
	}
	s.audit.Record(ctx, actor.UserID, model.ActionCreateUser, user.ID.String(), user.Username, map[string]any{"roles": req.Roles})

	return s.GetUserByID(ctx, user.ID.String())
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	userID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, userErr(err)
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int, search string) ([]UserResponse, int64, error) {
	users, total, err := s.repo.List(ctx, page, limit, search)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, actor rbac.Principal, id string, req UpdateUserRequest) (*UserResponse, error) {
	userID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, userErr(err)
	}
	if err := s.guardSuperuserAccount(ctx, actor, user); err != nil {
		return nil, err
	}

	changed := map[string]string{}
	if u := strings.TrimSpace(req.Username); u != "" && u != user.Username {
		changed["username"] = u
		user.Username = u
	}
	if e := strings.TrimSpace(req.Email); e != "" && e != user.Email {
		changed["email"] = e
		user.Email = e
	}
	if d := strings.TrimSpace(req.DisplayName); d != "" && d != user.DisplayName {
		changed["display_name"] = d
		user.DisplayName = d
	}
	if req.NewPassword != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.hashCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.Password = string(hashed)
		changed["password"] = "changed"
	}
	if len(changed) == 0 {
		return mapToResponse(user), nil
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, userErr(err)
	}
	s.audit.Record(ctx, actor.UserID, model.ActionUpdateUser, user.ID.String(), user.Username, changed)
	return mapToResponse(user), nil
}

// SetRoles replaces the user's memberships. Only a superuser may grant or
// take away superuser membership, and a superuser cannot drop their own.
func (s *userService) SetRoles(ctx context.Context, actor rbac.Principal, id string, req SetUserRolesRequest) (*UserResponse, error) {
	userID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, userErr(err)
	}
	roleIDs, err := s.resolveRoles(ctx, req.Roles)
	if err != nil {
		return nil, err
	}
	if err := s.guardSuperuserMembership(ctx, actor, user.Roles, roleIDs); err != nil {
		return nil, err
	}

	if userID == actor.UserID && s.eval.IsSuperuser(actor) {
		super, err := s.store.FindRoleByName(ctx, s.eval.SuperuserRole())
		if err != nil {
			return nil, err
		}
		kept := false
		for _, rid := range roleIDs {
			if rid == super.ID {
				kept = true
				break
			}
		}
		if !kept {
			return nil, fmt.Errorf("%w: cannot remove your own %s membership", ErrConflict, super.Name)
		}
	}

	if err := s.repo.SetRoles(ctx, userID, roleIDs); err != nil {
		return nil, userErr(err)
	}
	updated, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor.UserID, model.ActionSetUserRoles, id, updated.Username, updated.Roles)
	s.notifier.Publish(ws.Event{
		Type:       ws.EventUserRolesChanged,
		Data:       map[string]any{"user_id": id, "roles": updated.Roles},
		Recipients: []uuid.UUID{userID},
	})
	return updated, nil
}

func (s *userService) DeleteUser(ctx context.Context, actor rbac.Principal, id string) error {
	userID, err := parseID(id)
	if err != nil {
		return err
	}
	if userID == actor.UserID {
		return fmt.Errorf("%w: cannot delete your own account", ErrConflict)
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return userErr(err)
	}
	if err := s.guardSuperuserAccount(ctx, actor, user); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID); err != nil {
		return userErr(err)
	}
	s.audit.Record(ctx, actor.UserID, model.ActionDeleteUser, id, user.Username, nil)
	return nil
}

// guardSuperuserMembership lets only superusers change whether an account
// belongs to the superuser role. current is nil for a new account.
func (s *userService) guardSuperuserMembership(ctx context.Context, actor rbac.Principal, current []model.Role, desired []uuid.UUID) error {
	super, err := s.store.FindRoleByName(ctx, s.eval.SuperuserRole())
	if errors.Is(err, rbac.ErrRoleNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	had := false
	for _, r := range current {
		if r.ID == super.ID {
			had = true
			break
		}
	}
	wants := false
	for _, id := range desired {
		if id == super.ID {
			wants = true
			break
		}
	}
	if had == wants {
		return nil
	}
	return s.gate.RequireRole(ctx, actor, super.Name)
}

// guardSuperuserAccount keeps non-superusers from editing or deleting a
// superuser's account.
func (s *userService) guardSuperuserAccount(ctx context.Context, actor rbac.Principal, target *model.User) error {
	names := make([]string, 0, len(target.Roles))
	for _, r := range target.Roles {
		names = append(names, r.Name)
	}
	if !s.eval.IsSuperuser(rbac.Principal{UserID: target.ID, Roles: names}) {
		return nil
	}
	return s.gate.RequireRole(ctx, actor, s.eval.SuperuserRole())
}

// resolveRoles maps role names or ids to ids, rejecting unknown roles.
func (s *userService) resolveRoles(ctx context.Context, refs []string) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{}, len(refs))
	ids := make([]uuid.UUID, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		var (
			role rbac.Role
			err  error
		)
		if rid, perr := uuid.Parse(ref); perr == nil {
			role, err = s.store.GetRole(ctx, rid)
		} else {
			role, err = s.store.FindRoleByName(ctx, ref)
		}
		if errors.Is(err, rbac.ErrRoleNotFound) {
			return nil, invalid("roles", "unknown role %q", ref)
		}
		if err != nil {
			return nil, err
		}
		if _, dup := seen[role.ID]; dup {
			continue
		}
		seen[role.ID] = struct{}{}
		ids = append(ids, role.ID)
	}
	return ids, nil
}

func userErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("user %w", ErrNotFound)
	case errors.Is(err, repository.ErrDuplicateKey):
		return fmt.Errorf("%w: username or email already exists", ErrConflict)
	}
	return err
}
