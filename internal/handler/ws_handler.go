package handler

import (
	"github.com/gin-gonic/gin"

	"helpdesk/internal/middleware"
	"helpdesk/internal/rbac"
	"helpdesk/internal/websocket"
)

type NotificationHandler struct {
	hub  *websocket.Hub
	gate *rbac.Gate
}

func NewNotificationHandler(hub *websocket.Hub, gate *rbac.Gate) *NotificationHandler {
	return &NotificationHandler{hub: hub, gate: gate}
}

func (h *NotificationHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ws", middleware.RequireAction(h.gate, rbac.ActionNotificationsSubscribe), h.Subscribe)
}

// Subscribe upgrades to a websocket receiving ticket and role notifications.
// Browsers pass the token as a cookie or the token query parameter.
// @Summary      Subscribe to notifications
// @Tags         notifications
// @Security     BearerAuth
// @Param        token  query  string  false  "Access token"
// @Success      101
// @Failure      401  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Router       /ws [get]
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	websocket.ServeWs(h.hub, c, middleware.Principal(c).UserID)
}
