package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"helpdesk/internal/model"
	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
)

const (
	tableRoles  = "roles"
	tableGrants = "role_grants"
)

type roleRepository struct {
	db *gorm.DB
	tx TransactionManager
}

// NewRoleRepository returns the gorm implementation of rbac.Repository.
func NewRoleRepository(db *gorm.DB, tx TransactionManager) rbac.Repository {
	return &roleRepository{db: db, tx: tx}
}

func (r *roleRepository) CreateRole(ctx context.Context, rec *rbac.RoleRecord) error {
	return InstrumentVoid(ctx, tableRoles, "create", func() error {
		role := model.Role{
			ID:             rec.ID,
			Name:           rec.Name,
			NormalizedName: rec.NormalizedName,
			IsSystem:       rec.IsSystem,
		}
		if err := GetDB(ctx, r.db).Create(&role).Error; err != nil {
			if IsUniqueViolation(err) {
				return rbac.ErrDuplicateRoleName
			}
			return err
		}
		*rec = toRoleRecord(role)
		return nil
	})
}

func (r *roleRepository) FindRoleByID(ctx context.Context, id uuid.UUID) (*rbac.RoleRecord, error) {
	return Instrument(ctx, tableRoles, "find_by_id", func() (*rbac.RoleRecord, error) {
		var role model.Role
		if err := GetDB(ctx, r.db).First(&role, "id = ?", id).Error; err != nil {
			return nil, roleErr(err)
		}
		rec := toRoleRecord(role)
		return &rec, nil
	})
}

func (r *roleRepository) FindRoleByName(ctx context.Context, normalized string) (*rbac.RoleRecord, error) {
	return Instrument(ctx, tableRoles, "find_by_name", func() (*rbac.RoleRecord, error) {
		var role model.Role
		if err := GetDB(ctx, r.db).Where("normalized_name = ?", normalized).First(&role).Error; err != nil {
			return nil, roleErr(err)
		}
		rec := toRoleRecord(role)
		return &rec, nil
	})
}

func (r *roleRepository) ListRoles(ctx context.Context) ([]rbac.RoleRecord, error) {
	return Instrument(ctx, tableRoles, "list", func() ([]rbac.RoleRecord, error) {
		var roles []model.Role
		if err := GetDB(ctx, r.db).Order("name asc").Find(&roles).Error; err != nil {
			return nil, err
		}
		out := make([]rbac.RoleRecord, 0, len(roles))
		for _, role := range roles {
			out = append(out, toRoleRecord(role))
		}
		return out, nil
	})
}

func (r *roleRepository) RenameRole(ctx context.Context, id uuid.UUID, name, normalized string) error {
	return InstrumentVoid(ctx, tableRoles, "rename", func() error {
		res := GetDB(ctx, r.db).Model(&model.Role{}).Where("id = ?", id).
			Updates(map[string]any{"name": name, "normalized_name": normalized, "updated_at": time.Now()})
		if res.Error != nil {
			if IsUniqueViolation(res.Error) {
				return rbac.ErrDuplicateRoleName
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return rbac.ErrRoleNotFound
		}
		return nil
	})
}

// DeleteRole removes the role together with its grants and memberships.
func (r *roleRepository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	return InstrumentVoid(ctx, tableRoles, "delete", func() error {
		return r.tx.RunInTx(ctx, func(txCtx context.Context) error {
			db := GetDB(txCtx, r.db)
			var role model.Role
			if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&role, "id = ?", id).Error; err != nil {
				return roleErr(err)
			}
			if err := db.Where("role_id = ?", id).Delete(&model.RoleGrant{}).Error; err != nil {
				return fmt.Errorf("delete grants: %w", err)
			}
			if err := db.Where("role_id = ?", id).Delete(&model.UserRole{}).Error; err != nil {
				return fmt.Errorf("delete memberships: %w", err)
			}
			return db.Delete(&role).Error
		})
	})
}

func (r *roleRepository) ListGrants(ctx context.Context, roleID uuid.UUID) ([]permission.Code, error) {
	return Instrument(ctx, tableGrants, "list", func() ([]permission.Code, error) {
		db := GetDB(ctx, r.db)
		var count int64
		if err := db.Model(&model.Role{}).Where("id = ?", roleID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, rbac.ErrRoleNotFound
		}
		return listGrants(db, roleID)
	})
}

func (r *roleRepository) ListAllGrants(ctx context.Context) (map[uuid.UUID][]permission.Code, error) {
	return Instrument(ctx, tableGrants, "list_all", func() (map[uuid.UUID][]permission.Code, error) {
		var rows []model.RoleGrant
		if err := GetDB(ctx, r.db).Order("permission_code asc").Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make(map[uuid.UUID][]permission.Code)
		for _, row := range rows {
			out[row.RoleID] = append(out[row.RoleID], permission.Code(row.PermissionCode))
		}
		return out, nil
	})
}

// UpdateGrants locks the role row, hands the current grants to fn and applies
// the returned delta in the same transaction. Rows that are neither added nor
// removed are never touched.
func (r *roleRepository) UpdateGrants(ctx context.Context, roleID uuid.UUID, fn func([]permission.Code) (rbac.GrantDelta, error)) (*rbac.RoleRecord, error) {
	return Instrument(ctx, tableGrants, "update", func() (*rbac.RoleRecord, error) {
		var out rbac.RoleRecord
		err := r.tx.RunInTx(ctx, func(txCtx context.Context) error {
			db := GetDB(txCtx, r.db)
			var role model.Role
			if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&role, "id = ?", roleID).Error; err != nil {
				return roleErr(err)
			}
			current, err := listGrants(db, roleID)
			if err != nil {
				return err
			}
			delta, err := fn(current)
			if err != nil {
				return err
			}
			if len(delta.Remove) > 0 {
				codes := make([]string, len(delta.Remove))
				for i, c := range delta.Remove {
					codes[i] = string(c)
				}
				if err := db.Where("role_id = ? AND permission_code IN ?", roleID, codes).
					Delete(&model.RoleGrant{}).Error; err != nil {
					return fmt.Errorf("revoke: %w", err)
				}
			}
			if len(delta.Add) > 0 {
				rows := make([]model.RoleGrant, len(delta.Add))
				for i, c := range delta.Add {
					rows[i] = model.RoleGrant{RoleID: roleID, PermissionCode: string(c)}
				}
				if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
					return fmt.Errorf("grant: %w", err)
				}
			}
			if !delta.Empty() {
				role.UpdatedAt = time.Now()
				if err := db.Model(&role).Update("updated_at", role.UpdatedAt).Error; err != nil {
					return err
				}
			}
			out = toRoleRecord(role)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
}

func listGrants(db *gorm.DB, roleID uuid.UUID) ([]permission.Code, error) {
	var codes []string
	if err := db.Model(&model.RoleGrant{}).Where("role_id = ?", roleID).
		Order("permission_code asc").Pluck("permission_code", &codes).Error; err != nil {
		return nil, err
	}
	out := make([]permission.Code, len(codes))
	for i, c := range codes {
		out[i] = permission.Code(c)
	}
	return out, nil
}

func toRoleRecord(role model.Role) rbac.RoleRecord {
	return rbac.RoleRecord{
		ID:             role.ID,
		Name:           role.Name,
		NormalizedName: role.NormalizedName,
		IsSystem:       role.IsSystem,
		CreatedAt:      role.CreatedAt,
		UpdatedAt:      role.UpdatedAt,
	}
}

func roleErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rbac.ErrRoleNotFound
	}
	return err
}
