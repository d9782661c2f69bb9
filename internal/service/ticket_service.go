package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"helpdesk/internal/model"
	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
	"helpdesk/internal/repository"
	ws "helpdesk/internal/websocket"
)

// --- DTOs ---

type CreateTicketRequest struct {
	Title       string `json:"title" binding:"required,max=120"`
	Description string `json:"description" binding:"required,max=2000"`
	Severity    string `json:"severity" binding:"omitempty,oneof=Baja Media Alta Critica"`
	Notes       string `json:"notes" binding:"max=4000"`
}

type UpdateTicketRequest struct {
	Title       string  `json:"title" binding:"omitempty,max=120"`
	Description string  `json:"description" binding:"omitempty,max=2000"`
	Status      string  `json:"status" binding:"omitempty,oneof=Abierto EnProceso Resuelto Cerrado"`
	Severity    string  `json:"severity" binding:"omitempty,oneof=Baja Media Alta Critica"`
	Notes       *string `json:"notes" binding:"omitempty,max=4000"`
}

type AssignTicketRequest struct {
	// AssigneeID is a user id, or "me" (or empty) for the caller.
	AssigneeID string `json:"assignee_id"`
}

type ResolveTicketRequest struct {
	Notes string `json:"notes" binding:"max=4000"`
}

type TicketListQuery struct {
	Status   string `form:"estado" binding:"omitempty,oneof=Abierto EnProceso Resuelto Cerrado"`
	Severity string `form:"severidad" binding:"omitempty,oneof=Baja Media Alta Critica"`
}

type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type TicketResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Severity    string   `json:"severity"`
	CreatedBy   *UserRef `json:"created_by"`
	Assignee    *UserRef `json:"assignee"`
	Notes       string   `json:"notes"`
	ClosedAt    *string  `json:"closed_at"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type TicketListResponse struct {
	Items   []TicketResponse         `json:"items"`
	Total   int64                    `json:"total"`
	Summary repository.TicketSummary `json:"summary"`
}

// --- Interface ---

type TicketService interface {
	ListTickets(ctx context.Context, p rbac.Principal, q TicketListQuery, page, limit int) (*TicketListResponse, error)
	GetTicket(ctx context.Context, p rbac.Principal, id string) (*TicketResponse, error)
	CreateTicket(ctx context.Context, p rbac.Principal, req CreateTicketRequest) (*TicketResponse, error)
	UpdateTicket(ctx context.Context, p rbac.Principal, id string, req UpdateTicketRequest) (*TicketResponse, error)
	AssignTicket(ctx context.Context, p rbac.Principal, id string, req AssignTicketRequest) (*TicketResponse, error)
	ResolveTicket(ctx context.Context, p rbac.Principal, id string, req ResolveTicketRequest) (*TicketResponse, error)
	DeleteTicket(ctx context.Context, p rbac.Principal, id string) error
}

type ticketService struct {
	repo     repository.TicketRepository
	users    repository.UserRepository
	eval     *rbac.Evaluator
	audit    AuditService
	notifier Notifier
	now      func() time.Time
}

func NewTicketService(
	repo repository.TicketRepository,
	users repository.UserRepository,
	eval *rbac.Evaluator,
	audit AuditService,
	notifier Notifier,
) TicketService {
	return &ticketService{
		repo:     repo,
		users:    users,
		eval:     eval,
		audit:    audit,
		notifier: notifier,
		now:      time.Now,
	}
}

// --- Implementation ---

// scope restricts what p sees. Superusers see everything; whoever may edit
// tickets also sees the unassigned queue.
func (s *ticketService) scope(ctx context.Context, p rbac.Principal) repository.TicketFilter {
	// Visibility only. The route was already authorized by the gate.
	if s.eval.IsSuperuser(p) {
		return repository.TicketFilter{}
	}
	id := p.UserID
	return repository.TicketFilter{
		VisibleTo:         &id,
		IncludeUnassigned: s.eval.HasPermission(ctx, p, string(permission.TicketsEdit)),
	}
}

func (s *ticketService) visible(ctx context.Context, p rbac.Principal, t *model.Ticket) bool {
	f := s.scope(ctx, p)
	if f.VisibleTo == nil {
		return true
	}
	if t.CreatedByID == p.UserID {
		return true
	}
	if t.AssigneeID == nil {
		return f.IncludeUnassigned
	}
	return *t.AssigneeID == p.UserID
}

// load fetches a ticket p may see. Tickets out of scope are reported as
// missing.
func (s *ticketService) load(ctx context.Context, p rbac.Principal, id string) (*model.Ticket, error) {
	ticketID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("ticket %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !s.visible(ctx, p, t) {
		return nil, fmt.Errorf("ticket %w", ErrNotFound)
	}
	return t, nil
}

func (s *ticketService) ListTickets(ctx context.Context, p rbac.Principal, q TicketListQuery, page, limit int) (*TicketListResponse, error) {
	f := s.scope(ctx, p)
	f.Status = model.TicketStatus(q.Status)
	f.Severity = model.TicketSeverity(q.Severity)

	tickets, total, err := s.repo.List(ctx, f, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	summary, err := s.repo.Summary(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize tickets: %w", err)
	}

	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, toTicketResponse(&tickets[i]))
	}
	return &TicketListResponse{Items: items, Total: total, Summary: summary}, nil
}

func (s *ticketService) GetTicket(ctx context.Context, p rbac.Principal, id string) (*TicketResponse, error) {
	t, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	resp := toTicketResponse(t)
	return &resp, nil
}

func (s *ticketService) CreateTicket(ctx context.Context, p rbac.Principal, req CreateTicketRequest) (*TicketResponse, error) {
	severity := model.TicketSeverity(req.Severity)
	if severity == "" {
		severity = model.SeverityMedium
	}
	if !severity.Valid() {
		return nil, invalid("severity", "unknown severity %q", req.Severity)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, invalid("title", "must not be blank")
	}

	t := &model.Ticket{
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Status:      model.TicketOpen,
		Severity:    severity,
		CreatedByID: p.UserID,
		Notes:       req.Notes,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	resp, err := s.reload(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(ws.Event{Type: ws.EventTicketCreated, Data: resp})
	return resp, nil
}

func (s *ticketService) UpdateTicket(ctx context.Context, p rbac.Principal, id string, req UpdateTicketRequest) (*TicketResponse, error) {
	t, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if title := strings.TrimSpace(req.Title); title != "" {
		t.Title = title
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		t.Description = desc
	}
	if req.Severity != "" {
		sev := model.TicketSeverity(req.Severity)
		if !sev.Valid() {
			return nil, invalid("severity", "unknown severity %q", req.Severity)
		}
		t.Severity = sev
	}
	if req.Notes != nil {
		t.Notes = *req.Notes
	}
	if req.Status != "" {
		st := model.TicketStatus(req.Status)
		if !st.Valid() {
			return nil, invalid("status", "unknown status %q", req.Status)
		}
		s.setStatus(t, st)
	}

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	return s.reload(ctx, t.ID)
}

func (s *ticketService) AssignTicket(ctx context.Context, p rbac.Principal, id string, req AssignTicketRequest) (*TicketResponse, error) {
	t, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}

	assigneeID := p.UserID
	if ref := strings.TrimSpace(req.AssigneeID); ref != "" && ref != "me" {
		parsed, err := uuid.Parse(ref)
		if err != nil {
			return nil, invalid("assignee_id", "must be a UUID or \"me\"")
		}
		assigneeID = parsed
	}
	if assigneeID != p.UserID {
		if err := s.checkAssignable(ctx, assigneeID); err != nil {
			return nil, err
		}
	}

	t.AssigneeID = &assigneeID
	t.Assignee = nil
	if t.Status == model.TicketOpen {
		t.Status = model.TicketInProgress
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to assign ticket: %w", err)
	}

	resp, err := s.reload(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(ws.Event{
		Type:       ws.EventTicketAssigned,
		Data:       resp,
		Recipients: recipients(assigneeID, t.CreatedByID),
	})
	return resp, nil
}

// checkAssignable requires the assignee to be able to work tickets.
func (s *ticketService) checkAssignable(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return invalid("assignee_id", "unknown user")
	}
	if err != nil {
		return err
	}
	roles := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		roles = append(roles, r.Name)
	}
	assignee := rbac.Principal{UserID: user.ID, Username: user.Username, Roles: roles}
	if !s.eval.HasPermission(ctx, assignee, string(permission.TicketsEdit)) {
		return invalid("assignee_id", "%s cannot work on tickets", user.Username)
	}
	return nil
}

// ResolveTicket is idempotent on an already resolved ticket.
func (s *ticketService) ResolveTicket(ctx context.Context, p rbac.Principal, id string, req ResolveTicketRequest) (*TicketResponse, error) {
	t, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if t.Status == model.TicketResolved {
		resp := toTicketResponse(t)
		return &resp, nil
	}

	s.setStatus(t, model.TicketResolved)
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		t.Notes = notes
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to resolve ticket: %w", err)
	}

	resp, err := s.reload(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(ws.Event{
		Type:       ws.EventTicketResolved,
		Data:       resp,
		Recipients: recipients(t.CreatedByID),
	})
	return resp, nil
}

func (s *ticketService) DeleteTicket(ctx context.Context, p rbac.Principal, id string) error {
	t, err := s.load(ctx, p, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, t.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("ticket %w", ErrNotFound)
		}
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	s.audit.Record(ctx, p.UserID, model.ActionDeleteTicket, t.ID.String(), t.Title, map[string]string{
		"status":   string(t.Status),
		"severity": string(t.Severity),
	})
	return nil
}

// setStatus keeps ClosedAt in step with the status.
func (s *ticketService) setStatus(t *model.Ticket, st model.TicketStatus) {
	t.Status = st
	switch st {
	case model.TicketResolved, model.TicketClosed:
		if t.ClosedAt == nil {
			now := s.now().UTC()
			t.ClosedAt = &now
		}
	default:
		t.ClosedAt = nil
	}
}

func (s *ticketService) reload(ctx context.Context, id uuid.UUID) (*TicketResponse, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload ticket: %w", err)
	}
	resp := toTicketResponse(t)
	return &resp, nil
}

func recipients(ids ...uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		dup := false
		for _, o := range out {
			if o == id {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}

func userRef(u *model.User) *UserRef {
	if u == nil {
		return nil
	}
	return &UserRef{ID: u.ID.String(), Username: u.Username}
}

func toTicketResponse(t *model.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:          t.ID.String(),
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Severity:    string(t.Severity),
		CreatedBy:   userRef(t.CreatedBy),
		Assignee:    userRef(t.Assignee),
		Notes:       t.Notes,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
	if t.ClosedAt != nil {
		closed := t.ClosedAt.Format(time.RFC3339)
		resp.ClosedAt = &closed
	}
	return resp
}
