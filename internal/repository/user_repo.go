package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"helpdesk/internal/model"
	"helpdesk/internal/rbac"
)

const tableUsers = "users"

// UserRepository defines the interface for data access of User entities.
// It also serves as the rbac package's view of accounts.
type UserRepository interface {
	rbac.Accounts

	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByLogin(ctx context.Context, login string) (*model.User, error)
	List(ctx context.Context, page, limit int, search string) ([]model.User, int64, error)
	Update(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error
}

type userRepository struct {
	db *gorm.DB
	tx TransactionManager
}

// NewUserRepository returns a new instance of UserRepository
func NewUserRepository(db *gorm.DB, tx TransactionManager) UserRepository {
	return &userRepository{db: db, tx: tx}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return InstrumentVoid(ctx, tableUsers, "create", func() error {
		return translate(GetDB(ctx, r.db).Omit("Roles").Create(user).Error)
	})
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return Instrument(ctx, tableUsers, "get_by_id", func() (*model.User, error) {
		var user model.User
		if err := GetDB(ctx, r.db).Preload("Roles").First(&user, "id = ?", id).Error; err != nil {
			return nil, translate(err)
		}
		return &user, nil
	})
}

// GetByLogin finds a user by username or email, ignoring case.
func (r *userRepository) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	return Instrument(ctx, tableUsers, "get_by_login", func() (*model.User, error) {
		login = strings.ToLower(strings.TrimSpace(login))
		var user model.User
		if err := GetDB(ctx, r.db).Preload("Roles").
			Where("LOWER(username) = ? OR LOWER(email) = ?", login, login).
			First(&user).Error; err != nil {
			return nil, translate(err)
		}
		return &user, nil
	})
}

func (r *userRepository) List(ctx context.Context, page, limit int, search string) ([]model.User, int64, error) {
	var users []model.User
	var total int64
	err := InstrumentVoid(ctx, tableUsers, "list", func() error {
		q := GetDB(ctx, r.db).Model(&model.User{})
		if s := strings.TrimSpace(search); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			q = q.Where("(LOWER(username) LIKE ? OR LOWER(email) LIKE ? OR LOWER(display_name) LIKE ?)", like, like, like)
		}
		if err := q.Count(&total).Error; err != nil {
			return err
		}
		offset := (page - 1) * limit
		return q.Preload("Roles").Order("username asc").Offset(offset).Limit(limit).Find(&users).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	return InstrumentVoid(ctx, tableUsers, "update", func() error {
		return translate(GetDB(ctx, r.db).Omit("Roles").Save(user).Error)
	})
}

func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return InstrumentVoid(ctx, tableUsers, "delete", func() error {
		return r.tx.RunInTx(ctx, func(txCtx context.Context) error {
			db := GetDB(txCtx, r.db)
			if err := db.Where("user_id = ?", id).Delete(&model.UserRole{}).Error; err != nil {
				return err
			}
			res := db.Where("id = ?", id).Delete(&model.User{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
			return nil
		})
	})
}

// SetRoles replaces the user's memberships with roleIDs.
func (r *userRepository) SetRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	return InstrumentVoid(ctx, "user_roles", "set", func() error {
		return r.tx.RunInTx(ctx, func(txCtx context.Context) error {
			db := GetDB(txCtx, r.db)
			q := db.Where("user_id = ?", userID)
			if len(roleIDs) > 0 {
				q = q.Where("role_id NOT IN ?", roleIDs)
			}
			if err := q.Delete(&model.UserRole{}).Error; err != nil {
				return err
			}
			if len(roleIDs) == 0 {
				return nil
			}
			rows := make([]model.UserRole, len(roleIDs))
			for i, id := range roleIDs {
				rows[i] = model.UserRole{UserID: userID, RoleID: id}
			}
			return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		})
	})
}

func (r *userRepository) FindAccountByUsername(ctx context.Context, username string) (*rbac.Account, error) {
	return Instrument(ctx, tableUsers, "find_account", func() (*rbac.Account, error) {
		var user model.User
		err := GetDB(ctx, r.db).Where("LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rbac.ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		return toAccount(user), nil
	})
}

func (r *userRepository) CreateAccount(ctx context.Context, in rbac.NewAccount) (*rbac.Account, error) {
	user := model.User{
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Password:    in.PasswordHash,
	}
	if err := r.Create(ctx, &user); err != nil {
		return nil, err
	}
	return toAccount(user), nil
}

func (r *userRepository) AddAccountToRole(ctx context.Context, accountID, roleID uuid.UUID) error {
	return InstrumentVoid(ctx, "user_roles", "add", func() error {
		row := model.UserRole{UserID: accountID, RoleID: roleID}
		return GetDB(ctx, r.db).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
}

func (r *userRepository) ListAccountRoles(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	return Instrument(ctx, "user_roles", "list", func() ([]string, error) {
		var names []string
		err := GetDB(ctx, r.db).Model(&model.Role{}).
			Joins("JOIN user_roles ON user_roles.role_id = roles.id").
			Where("user_roles.user_id = ?", accountID).
			Order("roles.name asc").
			Pluck("roles.name", &names).Error
		if err != nil {
			return nil, err
		}
		return names, nil
	})
}

func toAccount(u model.User) *rbac.Account {
	return &rbac.Account{ID: u.ID, Username: u.Username, Email: u.Email, DisplayName: u.DisplayName}
}
