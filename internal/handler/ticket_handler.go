package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"helpdesk/internal/middleware"
	"helpdesk/internal/rbac"
	"helpdesk/internal/service"
	"helpdesk/pkg/pagination"
	"helpdesk/pkg/response"
)

type TicketHandler struct {
	ticketService service.TicketService
	gate          *rbac.Gate
	logger        *slog.Logger
}

func NewTicketHandler(ticketService service.TicketService, gate *rbac.Gate, logger *slog.Logger) *TicketHandler {
	return &TicketHandler{ticketService: ticketService, gate: gate, logger: logger}
}

func (h *TicketHandler) RegisterRoutes(router *gin.RouterGroup) {
	tickets := router.Group("/api/tickets")
	{
		tickets.GET("", middleware.RequireAction(h.gate, rbac.ActionTicketsList), h.ListTickets)
		tickets.GET("/:id", middleware.RequireAction(h.gate, rbac.ActionTicketsView), h.GetTicket)
		tickets.POST("", middleware.RequireAction(h.gate, rbac.ActionTicketsCreate), h.CreateTicket)
		tickets.PUT("/:id", middleware.RequireAction(h.gate, rbac.ActionTicketsUpdate), h.UpdateTicket)
		tickets.POST("/:id/assign", middleware.RequireAction(h.gate, rbac.ActionTicketsAssign), h.AssignTicket)
		tickets.POST("/:id/resolve", middleware.RequireAction(h.gate, rbac.ActionTicketsResolve), h.ResolveTicket)
		tickets.DELETE("/:id", middleware.RequireAction(h.gate, rbac.ActionTicketsDelete), h.DeleteTicket)
	}
}

// ListTickets returns the tickets visible to the caller with dashboard counters
// @Summary      List tickets
// @Tags         tickets
// @Security     BearerAuth
// @Produce      json
// @Param        estado     query     string  false  "Abierto, EnProceso, Resuelto or Cerrado"
// @Param        severidad  query     string  false  "Baja, Media, Alta or Critica"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Items per page (default 20)"
// @Success      200        {object}  response.Response{data=service.TicketListResponse}
// @Failure      400        {object}  response.Response
// @Failure      403        {object}  response.Response
// @Router       /api/tickets [get]
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var q service.TicketListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}
	p := pagination.Parse(c)

	res, err := h.ticketService.ListTickets(c.Request.Context(), middleware.Principal(c), q, p.Page, p.Limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// GetTicket returns one ticket
// @Summary      Get ticket
// @Tags         tickets
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Ticket ID"
// @Success      200  {object}  response.Response{data=service.TicketResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/tickets/{id} [get]
func (h *TicketHandler) GetTicket(c *gin.Context) {
	t, err := h.ticketService.GetTicket(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, t))
}

// CreateTicket opens a ticket on behalf of the caller
// @Summary      Create ticket
// @Tags         tickets
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateTicketRequest  true  "Ticket"
// @Success      201      {object}  response.Response{data=service.TicketResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/tickets [post]
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req service.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	t, err := h.ticketService.CreateTicket(c.Request.Context(), middleware.Principal(c), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, t))
}

// UpdateTicket edits a ticket
// @Summary      Update ticket
// @Tags         tickets
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true  "Ticket ID"
// @Param        payload  body      service.UpdateTicketRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=service.TicketResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/tickets/{id} [put]
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	var req service.UpdateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	t, err := h.ticketService.UpdateTicket(c.Request.Context(), middleware.Principal(c), c.Param("id"), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, t))
}

// AssignTicket assigns a technician, or the caller when no user is given
// @Summary      Assign ticket
// @Tags         tickets
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true   "Ticket ID"
// @Param        payload  body      service.AssignTicketRequest  false  "Assignee"
// @Success      200      {object}  response.Response{data=service.TicketResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/tickets/{id}/assign [post]
func (h *TicketHandler) AssignTicket(c *gin.Context) {
	var req service.AssignTicketRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}

	t, err := h.ticketService.AssignTicket(c.Request.Context(), middleware.Principal(c), c.Param("id"), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, t))
}

// ResolveTicket marks a ticket as resolved
// @Summary      Resolve ticket
// @Tags         tickets
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true   "Ticket ID"
// @Param        payload  body      service.ResolveTicketRequest  false  "Resolution notes"
// @Success      200      {object}  response.Response{data=service.TicketResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/tickets/{id}/resolve [post]
func (h *TicketHandler) ResolveTicket(c *gin.Context) {
	var req service.ResolveTicketRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}

	t, err := h.ticketService.ResolveTicket(c.Request.Context(), middleware.Principal(c), c.Param("id"), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, t))
}

// DeleteTicket removes a ticket
// @Summary      Delete ticket
// @Tags         tickets
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Ticket ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/tickets/{id} [delete]
func (h *TicketHandler) DeleteTicket(c *gin.Context) {
	if err := h.ticketService.DeleteTicket(c.Request.Context(), middleware.Principal(c), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Ticket deleted"}))
}
