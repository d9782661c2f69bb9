package handler

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"helpdesk/internal/middleware"
	"helpdesk/internal/rbac"
	"helpdesk/internal/service"
	"helpdesk/internal/websocket"
)

// RouterConfig carries everything the HTTP surface is built from.
type RouterConfig struct {
	Logger      *slog.Logger
	CORSOrigins []string
	Gate        *rbac.Gate
	Auth        *middleware.Authenticator
	Hub         *websocket.Hub

	Roles   service.RoleService
	Users   service.UserService
	Tickets service.TicketService
	Audit   service.AuditService

	// Health reports readiness; nil always reports OK.
	Health func() error
}

// NewRouter wires every route. Everything except /login, /logout, /health,
// /metrics and /swagger requires a valid token.
func NewRouter(cfg RouterConfig) *gin.Engine {
	useJSONFieldNames()

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(cfg.Logger))

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", middleware.HeaderRequestID}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "UNAVAILABLE", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	public := router.Group("")
	protected := router.Group("", cfg.Auth.Authenticate())

	NewUserHandler(cfg.Users, cfg.Auth, cfg.Gate, cfg.Logger).RegisterRoutes(public, protected)
	NewRoleHandler(cfg.Roles, cfg.Gate, cfg.Logger).RegisterRoutes(protected)
	NewTicketHandler(cfg.Tickets, cfg.Gate, cfg.Logger).RegisterRoutes(protected)
	NewAuditHandler(cfg.Audit, cfg.Gate, cfg.Logger).RegisterRoutes(protected)
	if cfg.Hub != nil {
		NewNotificationHandler(cfg.Hub, cfg.Gate).RegisterRoutes(protected)
	}

	return router
}

// useJSONFieldNames makes validation errors report json/form names.
func useJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
}
