// Package app assembles the persistence and authorization core shared by the
// API server and the seed command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"helpdesk/internal/config"
	"helpdesk/internal/database"
	"helpdesk/internal/permission"
	"helpdesk/internal/rbac"
	"helpdesk/internal/repository"
)

// Core is the wired authorization core.
type Core struct {
	DB        *gorm.DB
	Redis     *redis.Client // nil when the in-process cache is used
	Tx        repository.TransactionManager
	Users     repository.UserRepository
	RBAC      rbac.Config
	Store     *rbac.Store
	Evaluator *rbac.Evaluator
	Gate      *rbac.Gate
}

// Bootstrap connects to the database (and Redis when configured) and builds
// the rbac components. The action policy is checked against the catalog.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if err := rbac.DefaultPolicy.Validate(permission.Default); err != nil {
		return nil, err
	}

	db, err := database.NewConnection(cfg.DSN(), database.Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	core := &Core{DB: db}
	cache, err := core.newCache(ctx, cfg, logger)
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	core.RBAC = rbac.Config{
		Catalog:       permission.Default,
		NamePolicy:    cfg.NamePolicy(),
		SuperuserRole: cfg.RBACSuperuserRole,
		Cache:         cache,
		Logger:        logger,
	}
	core.Tx = repository.NewTransactionManager(db)
	core.Users = repository.NewUserRepository(db, core.Tx)
	roles := repository.NewRoleRepository(db, core.Tx)
	core.Store = rbac.NewStore(roles, core.RBAC)
	core.Evaluator = rbac.NewEvaluator(roles, core.RBAC)
	core.Gate = rbac.NewGate(core.Evaluator, rbac.DefaultPolicy, logger)
	return core, nil
}

func (c *Core) newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rbac.Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Info("permission cache: in-process", slog.Duration("ttl", cfg.RBACCacheTTL))
		return rbac.NewLocalCache(cfg.RBACCacheTTL), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	c.Redis = client
	logger.Info("permission cache: redis", slog.String("addr", cfg.RedisAddr), slog.Duration("ttl", cfg.RBACCacheTTL))
	return rbac.NewRedisCache(client, cfg.RBACCacheTTL), nil
}

// Seeder returns a seeder whose default account comes from cfg.
func (c *Core) Seeder(cfg *config.Config) *rbac.Seeder {
	seed := rbac.DefaultSeedConfig()
	seed.AdminUsername = cfg.SeedAdminUsername
	seed.AdminPassword = cfg.SeedAdminPassword
	seed.AdminEmail = cfg.SeedAdminEmail
	return rbac.NewSeeder(c.Store, c.Users, c.RBAC, seed)
}

// Ping checks the database and, when used, Redis.
func (c *Core) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases connections.
func (c *Core) Close() error {
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
