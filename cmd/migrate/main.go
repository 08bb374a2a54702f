package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/internal/users"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/env"
	"github.com/angelmondragon/library-backend/pkg/logger"
	"github.com/angelmondragon/library-backend/pkg/migrate"
)

const adminPasswordEnv = "BOOTSTRAP_ADMIN_PASSWORD"

func main() {
	ctx := context.Background()
	// bootstrap logger early (then re-init after config load)
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "command: up|down|status|version|create|validate|create-admin")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory; the default reads the embedded copy")

	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	username := flag.String("username", "admin", "username for -cmd=create-admin")
	email := flag.String("email", "", "optional email for -cmd=create-admin")

	flag.Parse()

	// create and validate work on files only
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	if *cmd == "create-admin" {
		createAdmin(ctx, logg, cfg, dbClient, *username, *email)
		return
	}

	if cfg.DB.Driver == config.DriverSQLite {
		exitf("goose migrations target postgres; sqlite schemas are auto-migrated in dev")
	}

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")

	switch *cmd {
	case "up", "down", "status":
		if err := migrate.Run(ctx, sqlDB, *dir, *cmd); err != nil {
			exitf("goose %s failed: %v", *cmd, err)
		}

	case "version":
		if *version == "" {
			exitf("missing -version for version command")
		}
		if err := migrate.MigrateToVersion(ctx, sqlDB, *dir, *version); err != nil {
			exitf("goose version migrate failed: %v", err)
		}

	default:
		exitf("unknown -cmd value: %s", *cmd)
	}
}

// createAdmin seeds the first admin so staff management becomes reachable.
func createAdmin(ctx context.Context, logg *logger.Logger, cfg *config.Config, dbClient *db.Client, username, email string) {
	password := env.Get(adminPasswordEnv, "")
	if password == "" {
		exitf("set LIBRARY_%s to the initial admin password", adminPasswordEnv)
	}

	if cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate {
		requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))
	}

	audit, err := auditlog.NewService(auditlog.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "audit log", err)
	svc, err := users.NewService(users.ServiceParams{
		DB:             dbClient,
		Repo:           users.NewRepository(dbClient.DB()),
		Audit:          audit,
		PasswordConfig: cfg.Password,
	})
	requireResource(ctx, logg, "users service", err)

	input := users.BootstrapAdminInput{Username: username, Password: password}
	if e := strings.TrimSpace(email); e != "" {
		input.Email = &e
	}
	created, err := svc.BootstrapAdmin(ctx, input)
	if err != nil {
		exitf("create admin failed: %v", err)
	}
	logg.Info(logg.WithUserID(ctx, created.ID.String()), "admin account created")
	fmt.Println("created admin:", created.Username)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
