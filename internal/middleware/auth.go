package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"helpdesk/internal/auth"
	"helpdesk/internal/model"
	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
	"helpdesk/internal/repository"
	"helpdesk/pkg/response"
)

const (
	// AccessTokenCookie carries the JWT for browser clients.
	AccessTokenCookie = "access_token"

	principalKey = "principal"
)

// UserLookup loads the account behind a token, with its roles.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Authenticator turns a bearer token or cookie into an rbac.Principal.
type Authenticator struct {
	tokens *auth.TokenIssuer
	users  UserLookup
	secure bool
	logger *slog.Logger
}

// NewAuthenticator builds an Authenticator. secure marks cookies Secure and
// SameSite=None for cross-origin production deployments.
func NewAuthenticator(tokens *auth.TokenIssuer, users UserLookup, secure bool, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{tokens: tokens, users: users, secure: secure, logger: logger}
}

// Authenticate rejects requests without a valid token with 401. Roles are
// read from the store on every request so membership changes apply at once.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := tokenFromRequest(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		userID, _, err := a.tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}
		user, err := a.users.GetByID(c.Request.Context(), userID)
		if errors.Is(err, repository.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Account no longer exists"))
			return
		}
		if err != nil {
			a.logger.Error("load principal", slog.String("user_id", userID.String()), slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to verify credentials"))
			return
		}

		p := PrincipalOf(user)
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(rbac.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// PrincipalOf builds the principal of a loaded user.
func PrincipalOf(user *model.User) rbac.Principal {
	roles := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		roles = append(roles, r.Name)
	}
	return rbac.Principal{UserID: user.ID, Username: user.Username, Roles: roles}
}

// Principal returns the principal set by Authenticate, or the zero
// (unauthenticated) principal.
func Principal(c *gin.Context) rbac.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(rbac.Principal); ok {
			return p
		}
	}
	return rbac.Principal{}
}

// RequireAction aborts with 403 unless the policy entry of action is met.
func RequireAction(gate *rbac.Gate, action rbac.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := gate.RequireAction(c.Request.Context(), Principal(c), action); err != nil {
			abortForbidden(c, err)
			return
		}
		c.Next()
	}
}

// RequirePermission aborts with 403 unless the principal holds code.
func RequirePermission(gate *rbac.Gate, code permission.Code) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := gate.Require(c.Request.Context(), Principal(c), code); err != nil {
			abortForbidden(c, err)
			return
		}
		c.Next()
	}
}

// RequireRole aborts with 403 unless the principal is in one of roles. The
// superuser role passes every role check.
func RequireRole(gate *rbac.Gate, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := gate.RequireRole(c.Request.Context(), Principal(c), roles...); err != nil {
			abortForbidden(c, err)
			return
		}
		c.Next()
	}
}

func abortForbidden(c *gin.Context, err error) {
	msg := "Access denied"
	var fe *rbac.ForbiddenError
	if errors.As(err, &fe) && fe.Code != "" {
		msg = "Access denied: missing permission '" + string(fe.Code) + "'"
	}
	c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, msg))
}

// TokenTTL is the lifetime of issued tokens, used as the cookie max age.
func (a *Authenticator) TokenTTL() time.Duration {
	return a.tokens.TTL()
}

// SetTokenCookie stores the access token as an HttpOnly cookie.
func (a *Authenticator) SetTokenCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(a.sameSite())
	c.SetCookie(AccessTokenCookie, token, int(ttl.Seconds()), "/", "", a.secure, true)
}

// ClearTokenCookie removes the access token cookie.
func (a *Authenticator) ClearTokenCookie(c *gin.Context) {
	c.SetSameSite(a.sameSite())
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", a.secure, true)
}

func (a *Authenticator) sameSite() http.SameSite {
	if a.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// tokenFromRequest tries the cookie first, then the Authorization header,
// then the token query parameter used by websocket clients.
func tokenFromRequest(c *gin.Context) (string, bool) {
	if raw, err := c.Cookie(AccessTokenCookie); err == nil && raw != "" {
		return raw, true
	}
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, raw, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && raw != "" {
			return raw, true
		}
		return "", false
	}
	if raw := c.Query("token"); raw != "" {
		return raw, true
	}
	return "", false
}
