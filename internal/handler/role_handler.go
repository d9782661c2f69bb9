package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"helpdesk/internal/middleware"
	"helpdesk/internal/rbac"
	"helpdesk/internal/service"
	"helpdesk/pkg/response"
)

type RoleHandler struct {
	roleService service.RoleService
	gate        *rbac.Gate
	logger      *slog.Logger
}

func NewRoleHandler(roleService service.RoleService, gate *rbac.Gate, logger *slog.Logger) *RoleHandler {
	return &RoleHandler{roleService: roleService, gate: gate, logger: logger}
}

// RegisterRoutes expects router to be behind Authenticate.
func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	roles := router.Group("/api/roles")
	{
		roles.GET("", middleware.RequireAction(h.gate, rbac.ActionRolesList), h.ListRoles)
		roles.GET("/:id", middleware.RequireAction(h.gate, rbac.ActionRolesView), h.GetRole)
		roles.POST("", middleware.RequireAction(h.gate, rbac.ActionRolesCreate), h.CreateRole)
		roles.PUT("/:id", middleware.RequireAction(h.gate, rbac.ActionRolesUpdate), h.UpdateRole)
		roles.DELETE("/:id", middleware.RequireAction(h.gate, rbac.ActionRolesDelete), h.DeleteRole)

		roles.GET("/:id/permissions", middleware.RequireAction(h.gate, rbac.ActionRolesView), h.GetRolePermissions)
		roles.PUT("/:id/permissions", middleware.RequireAction(h.gate, rbac.ActionRolesReconcile), h.UpdateRolePermissions)
		roles.POST("/:id/permissions/:code", middleware.RequireAction(h.gate, rbac.ActionRolesGrant), h.GrantPermission)
		roles.DELETE("/:id/permissions/:code", middleware.RequireAction(h.gate, rbac.ActionRolesRevoke), h.RevokePermission)
	}

	router.GET("/api/permissions", middleware.RequireAction(h.gate, rbac.ActionPermissionsList), h.ListPermissions)
}

// ListRoles returns all roles with their permissions
// @Summary      List roles
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.RoleResponse}
// @Failure      403  {object}  response.Response
// @Router       /api/roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roleService.ListRoles(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// GetRole returns a single role by ID
// @Summary      Get role
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response{data=service.RoleResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/roles/{id} [get]
func (h *RoleHandler) GetRole(c *gin.Context) {
	role, err := h.roleService.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// CreateRole creates a new custom role, optionally with initial permissions
// @Summary      Create role
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateRoleRequest  true  "Role"
// @Success      201      {object}  response.Response{data=service.RoleResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	role, err := h.roleService.CreateRole(c.Request.Context(), middleware.Principal(c), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, role))
}

// UpdateRole renames a role and/or replaces its permission set
// @Summary      Update role
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Role ID"
// @Param        payload  body      service.UpdateRoleRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=service.RoleResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/roles/{id} [put]
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	var req service.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	role, err := h.roleService.UpdateRole(c.Request.Context(), middleware.Principal(c), c.Param("id"), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// DeleteRole deletes a custom role. System roles are protected.
// @Summary      Delete role
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/roles/{id} [delete]
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	if err := h.roleService.DeleteRole(c.Request.Context(), middleware.Principal(c), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Role deleted"}))
}

// GetRolePermissions returns the catalog with the role's grants checked
// @Summary      Role permission form
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response{data=[]service.PermissionGroupResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/roles/{id}/permissions [get]
func (h *RoleHandler) GetRolePermissions(c *gin.Context) {
	groups, err := h.roleService.PermissionOptions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, groups))
}

// UpdateRolePermissions replaces the role's grants with the submitted set
// @Summary      Replace role permissions
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                                true  "Role ID"
// @Param        payload  body      service.UpdateRolePermissionsRequest  true  "Desired permissions"
// @Success      200      {object}  response.Response{data=service.RoleResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/roles/{id}/permissions [put]
func (h *RoleHandler) UpdateRolePermissions(c *gin.Context) {
	var req service.UpdateRolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	role, err := h.roleService.SetPermissions(c.Request.Context(), middleware.Principal(c), c.Param("id"), req.Permissions)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// GrantPermission adds one permission to a role
// @Summary      Grant permission
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        id    path      string  true  "Role ID"
// @Param        code  path      string  true  "Permission code, e.g. tickets.ver"
// @Success      200   {object}  response.Response{data=service.RoleResponse}
// @Failure      400   {object}  response.Response
// @Failure      404   {object}  response.Response
// @Router       /api/roles/{id}/permissions/{code} [post]
func (h *RoleHandler) GrantPermission(c *gin.Context) {
	role, err := h.roleService.GrantPermission(c.Request.Context(), middleware.Principal(c), c.Param("id"), c.Param("code"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// RevokePermission removes one permission from a role
// @Summary      Revoke permission
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        id    path      string  true  "Role ID"
// @Param        code  path      string  true  "Permission code"
// @Success      200   {object}  response.Response{data=service.RoleResponse}
// @Failure      400   {object}  response.Response
// @Failure      404   {object}  response.Response
// @Router       /api/roles/{id}/permissions/{code} [delete]
func (h *RoleHandler) RevokePermission(c *gin.Context) {
	role, err := h.roleService.RevokePermission(c.Request.Context(), middleware.Principal(c), c.Param("id"), c.Param("code"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// ListPermissions returns the permission catalog grouped by subject
// @Summary      List permissions
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.PermissionGroupResponse}
// @Router       /api/permissions [get]
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(http.StatusOK, h.roleService.ListPermissions(c.Request.Context())))
}
