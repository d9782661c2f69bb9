package repository

import (
	"context"

	"gorm.io/gorm"

	"helpdesk/internal/model"
)

type AuditRepository interface {
	Log(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, page, limit int, action string) ([]model.AuditLog, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Log(ctx context.Context, entry *model.AuditLog) error {
	return InstrumentVoid(ctx, "audit_logs", "create", func() error {
		return GetDB(ctx, r.db).Create(entry).Error
	})
}

func (r *auditRepository) List(ctx context.Context, page, limit int, action string) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	err := InstrumentVoid(ctx, "audit_logs", "list", func() error {
		q := GetDB(ctx, r.db).Model(&model.AuditLog{})
		if action != "" {
			q = q.Where("action = ?", action)
		}
		if err := q.Count(&total).Error; err != nil {
			return err
		}
		offset := (page - 1) * limit
		return q.Preload("User").Order("created_at desc").Offset(offset).Limit(limit).Find(&logs).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
