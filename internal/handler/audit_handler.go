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

type AuditHandler struct {
	auditService service.AuditService
	gate         *rbac.Gate
	logger       *slog.Logger
}

func NewAuditHandler(auditService service.AuditService, gate *rbac.Gate, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{auditService: auditService, gate: gate, logger: logger}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/api/audit-logs", middleware.RequireAction(h.gate, rbac.ActionAuditList), h.GetAuditLogs)
}

// GetAuditLogs retrieves paginated records of role and user changes
// @Summary      Get audit logs
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Param        action  query     string  false  "Filter by action, e.g. GRANT_PERMISSION"
// @Success      200     {object}  response.Response{data=pagination.Page[service.AuditLogResponse]}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), p.Page, p.Limit, c.Query("action"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(logs, total, p)))
}
