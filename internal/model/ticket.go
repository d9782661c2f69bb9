package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TicketStatus string

const (
	TicketOpen       TicketStatus = "Abierto"
	TicketInProgress TicketStatus = "EnProceso"
	TicketResolved   TicketStatus = "Resuelto"
	TicketClosed     TicketStatus = "Cerrado"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved, TicketClosed:
		return true
	}
	return false
}

type TicketSeverity string

const (
	SeverityLow      TicketSeverity = "Baja"
	SeverityMedium   TicketSeverity = "Media"
	SeverityHigh     TicketSeverity = "Alta"
	SeverityCritical TicketSeverity = "Critica"
)

func (s TicketSeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Ticket is a support request raised by a user and worked on by an assignee.
type Ticket struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string         `gorm:"type:varchar(120);not null" json:"title"`
	Description string         `gorm:"type:varchar(2000);not null" json:"description"`
	Status      TicketStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	Severity    TicketSeverity `gorm:"type:varchar(20);not null;index" json:"severity"`
	CreatedByID uuid.UUID      `gorm:"type:uuid;not null;index" json:"created_by_id"`
	CreatedBy   *User          `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	AssigneeID  *uuid.UUID     `gorm:"type:uuid;index" json:"assignee_id"`
	Assignee    *User          `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Notes       string         `gorm:"type:varchar(4000)" json:"notes"`
	ClosedAt    *time.Time     `json:"closed_at"` // set when resolved or closed
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (t *Ticket) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
