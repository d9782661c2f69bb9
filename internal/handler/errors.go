package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
	"helpdesk/internal/repository"
	"helpdesk/internal/service"
	"helpdesk/pkg/response"
)

// writeError maps service, rbac and repository errors onto HTTP statuses.
// Unexpected errors are logged and reported without details.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"
	var fields map[string]string

	var ve *service.ValidationError
	var unknown *permission.UnknownError
	switch {
	case errors.Is(err, rbac.ErrForbidden):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "Invalid login or password"
	case errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, service.ErrNotFound),
		errors.Is(err, repository.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.As(err, &ve):
		status, msg = http.StatusBadRequest, "Validation failed"
		fields = map[string]string{ve.Field: ve.Message}
	case errors.As(err, &unknown):
		status, msg = http.StatusBadRequest, err.Error()
		fields = map[string]string{"permissions": unknown.Error()}
	case errors.Is(err, rbac.ErrInvalidRoleName):
		status, msg = http.StatusBadRequest, err.Error()
		fields = map[string]string{"name": err.Error()}
	case errors.Is(err, rbac.ErrDuplicateRoleName),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, repository.ErrDuplicateKey):
		status, msg = http.StatusConflict, err.Error()
	default:
		logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err))
	}

	if fields != nil {
		c.JSON(status, response.Invalid(status, msg, fields))
		return
	}
	c.JSON(status, response.Error(status, msg))
}

// writeBindError reports a rejected request body or query.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		c.JSON(http.StatusBadRequest, response.Invalid(http.StatusBadRequest, "Validation failed", fields))
		return
	}
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}
