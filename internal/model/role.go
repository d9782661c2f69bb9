package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is a named set of permission grants. NormalizedName carries the
// comparison key used for uniqueness under the configured name policy.
type Role struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string      `gorm:"type:varchar(50);not null" json:"name"`
	NormalizedName string      `gorm:"type:varchar(50);uniqueIndex;not null" json:"-"`
	IsSystem       bool        `gorm:"default:false" json:"is_system"` // seeded roles cannot be deleted
	Grants         []RoleGrant `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE;" json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (r *Role) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RoleGrant stores one permission code held by a role. Codes are persisted
// verbatim, e.g. "tickets.crear".
type RoleGrant struct {
	RoleID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"role_id"`
	PermissionCode string    `gorm:"type:varchar(100);primaryKey" json:"permission_code"`
	CreatedAt      time.Time `json:"created_at"`
}
