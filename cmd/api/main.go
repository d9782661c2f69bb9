package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	_ "helpdesk/api/swagger" // swagger docs
	"helpdesk/internal/app"
	"helpdesk/internal/auth"
	"helpdesk/internal/config"
	"helpdesk/internal/handler"
	"helpdesk/internal/logger"
	"helpdesk/internal/middleware"
	"helpdesk/internal/repository"
	"helpdesk/internal/service"
	"helpdesk/internal/websocket"
)

// @title           Helpdesk API
// @version         1.0
// @description     Ticket tracker with role and permission based access control.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load("configs/.env")
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := core.Close(); err != nil {
			log.Warn("close connections", slog.Any("error", err))
		}
	}()
	log.Info("connected to PostgreSQL")

	if cfg.SeedOnStartup {
		res, err := core.Seeder(cfg).Seed(ctx)
		if err != nil {
			log.Error("seeding failed, continuing with existing data", slog.Any("error", err))
		} else {
			log.Info("seed complete",
				slog.Any("roles_created", res.RolesCreated),
				slog.Bool("admin_created", res.AdminCreated),
				slog.Int("granted", len(res.Granted)))
		}
	}

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORSOrigins, log)
	go wsHub.Run(ctx)

	// Set up dependencies (Repository -> Service -> Handler)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	auditService := service.NewAuditService(repository.NewAuditRepository(core.DB), log)
	roleService := service.NewRoleService(core.Store, auditService, wsHub)
	userService := service.NewUserService(core.Users, core.Tx, core.Store, core.Gate, tokens, auditService, wsHub)
	ticketService := service.NewTicketService(repository.NewTicketRepository(core.DB), core.Users, core.Evaluator, auditService, wsHub)

	router := handler.NewRouter(handler.RouterConfig{
		Logger:      log,
		CORSOrigins: cfg.CORSOrigins,
		Gate:        core.Gate,
		Auth:        middleware.NewAuthenticator(tokens, core.Users, cfg.IsProduction(), log),
		Hub:         wsHub,
		Roles:       roleService,
		Users:       userService,
		Tickets:     ticketService,
		Audit:       auditService,
		Health: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return core.Ping(pingCtx)
		},
	})

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server listening", slog.String("addr", cfg.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown", slog.Any("error", err))
	}
}
