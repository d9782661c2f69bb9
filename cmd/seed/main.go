// seed brings the database to its baseline state: the four baseline roles,
// the default superuser account and the full catalog granted to the
// superuser role. It is safe to run repeatedly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"helpdesk/internal/app"
	"helpdesk/internal/config"
	"helpdesk/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile  string
		username string
		password string
		email    string
		asJSON   bool
	)
	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "configs/.env", "dotenv file loaded before the environment")
	flagSet.StringVar(&username, "admin-username", "", "default superuser login (overrides SEED_ADMIN_USERNAME)")
	flagSet.StringVar(&password, "admin-password", "", "default superuser password, only used when the account is created")
	flagSet.StringVar(&email, "admin-email", "", "default superuser email (overrides SEED_ADMIN_EMAIL)")
	flagSet.BoolVar(&asJSON, "json", false, "print the result as JSON")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if username != "" {
		cfg.SeedAdminUsername = username
	}
	if password != "" {
		cfg.SeedAdminPassword = password
	}
	if email != "" {
		cfg.SeedAdminEmail = email
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer core.Close()

	res, err := core.Seeder(cfg).Seed(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Printf("roles created:     %v\n", res.RolesCreated)
	fmt.Printf("admin created:     %t\n", res.AdminCreated)
	fmt.Printf("membership added:  %t\n", res.MembershipAdded)
	fmt.Printf("permissions added: %d\n", len(res.Granted))
	return nil
}
