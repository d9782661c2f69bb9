package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"helpdesk/internal/model"
)

const tableTickets = "tickets"

// TicketFilter narrows ticket listings. A nil VisibleTo means no ownership
// restriction.
type TicketFilter struct {
	Status            model.TicketStatus
	Severity          model.TicketSeverity
	VisibleTo         *uuid.UUID // creator or assignee
	IncludeUnassigned bool       // with VisibleTo, also match tickets nobody works on
}

// TicketSummary holds the dashboard counters of a filtered listing.
type TicketSummary struct {
	Ongoing    int64 `json:"ongoing"`
	Resolved   int64 `json:"resolved"`
	Unassigned int64 `json:"unassigned"`
}

type TicketRepository interface {
	Create(ctx context.Context, t *model.Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Ticket, error)
	List(ctx context.Context, f TicketFilter, page, limit int) ([]model.Ticket, int64, error)
	Summary(ctx context.Context, f TicketFilter) (TicketSummary, error)
	Update(ctx context.Context, t *model.Ticket) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type ticketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) scoped(ctx context.Context, f TicketFilter) *gorm.DB {
	q := GetDB(ctx, r.db).Model(&model.Ticket{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.VisibleTo != nil {
		if f.IncludeUnassigned {
			q = q.Where("(created_by_id = ? OR assignee_id = ? OR assignee_id IS NULL)", *f.VisibleTo, *f.VisibleTo)
		} else {
			q = q.Where("(created_by_id = ? OR assignee_id = ?)", *f.VisibleTo, *f.VisibleTo)
		}
	}
	return q
}

func (r *ticketRepository) Create(ctx context.Context, t *model.Ticket) error {
	return InstrumentVoid(ctx, tableTickets, "create", func() error {
		return GetDB(ctx, r.db).Omit("CreatedBy", "Assignee").Create(t).Error
	})
}

func (r *ticketRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Ticket, error) {
	return Instrument(ctx, tableTickets, "get_by_id", func() (*model.Ticket, error) {
		var t model.Ticket
		if err := GetDB(ctx, r.db).Preload("CreatedBy").Preload("Assignee").First(&t, "id = ?", id).Error; err != nil {
			return nil, translate(err)
		}
		return &t, nil
	})
}

func (r *ticketRepository) List(ctx context.Context, f TicketFilter, page, limit int) ([]model.Ticket, int64, error) {
	var tickets []model.Ticket
	var total int64
	err := InstrumentVoid(ctx, tableTickets, "list", func() error {
		if err := r.scoped(ctx, f).Count(&total).Error; err != nil {
			return err
		}
		offset := (page - 1) * limit
		return r.scoped(ctx, f).Preload("CreatedBy").Preload("Assignee").
			Order("created_at desc").Offset(offset).Limit(limit).Find(&tickets).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

func (r *ticketRepository) Summary(ctx context.Context, f TicketFilter) (TicketSummary, error) {
	return Instrument(ctx, tableTickets, "summary", func() (TicketSummary, error) {
		var s TicketSummary
		if err := r.scoped(ctx, f).Where("status IN ?", []model.TicketStatus{model.TicketOpen, model.TicketInProgress}).
			Count(&s.Ongoing).Error; err != nil {
			return s, err
		}
		if err := r.scoped(ctx, f).Where("status = ?", model.TicketResolved).Count(&s.Resolved).Error; err != nil {
			return s, err
		}
		if err := r.scoped(ctx, f).Where("assignee_id IS NULL").Count(&s.Unassigned).Error; err != nil {
			return s, err
		}
		return s, nil
	})
}

func (r *ticketRepository) Update(ctx context.Context, t *model.Ticket) error {
	return InstrumentVoid(ctx, tableTickets, "update", func() error {
		return GetDB(ctx, r.db).Omit("CreatedBy", "Assignee").Save(t).Error
	})
}

func (r *ticketRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return InstrumentVoid(ctx, tableTickets, "delete", func() error {
		res := GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Ticket{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
