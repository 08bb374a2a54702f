package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/library-backend/api/routes"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/internal/auth"
	"github.com/angelmondragon/library-backend/internal/books"
	"github.com/angelmondragon/library-backend/internal/circulation"
	"github.com/angelmondragon/library-backend/internal/settings"
	"github.com/angelmondragon/library-backend/internal/students"
	"github.com/angelmondragon/library-backend/internal/users"
	"github.com/angelmondragon/library-backend/pkg/auth/session"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/logger"
	"github.com/angelmondragon/library-backend/pkg/metrics"
	"github.com/angelmondragon/library-backend/pkg/migrate"
	"github.com/angelmondragon/library-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	circulationMetrics := metrics.NewCirculationMetrics(registry)

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}

	conn := dbClient.DB()
	auditService, err := auditlog.NewService(auditlog.NewRepository(conn))
	if err != nil {
		return err
	}
	userRepo := users.NewRepository(conn)
	studentRepo := students.NewRepository(conn)

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       userRepo,
		StudentRepo:    studentRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
	})
	if err != nil {
		return err
	}

	bookService, err := books.NewService(books.NewRepository(conn), dbClient, auditService, circulationMetrics)
	if err != nil {
		return err
	}

	studentService, err := students.NewService(students.ServiceParams{
		DB:             dbClient,
		Repo:           studentRepo,
		Audit:          auditService,
		PasswordConfig: cfg.Password,
		Metrics:        circulationMetrics,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceParams{
		DB:             dbClient,
		Repo:           userRepo,
		Audit:          auditService,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return err
	}

	circulationService, err := circulation.NewService(circulation.NewRepository(conn), dbClient, auditService, circulation.Options{
		LoanPeriod:        cfg.Circulation.LoanPeriod(),
		EnforceStockFloor: cfg.Circulation.EnforceStockFloor,
		Codes:             circulation.NewCodeGenerator(cfg.Circulation.SchoolPrefix),
		Metrics:           circulationMetrics,
		Logger:            logg,
	})
	if err != nil {
		return err
	}

	settingsStore, err := settings.NewStore(conn, dbClient, auditService, cfg.Settings, logg)
	if err != nil {
		return err
	}
	if err := settingsStore.Reload(ctx); err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:               dbClient,
			Redis:            redisClient,
			Sessions:         sessionManager,
			RateLimits:       redisClient,
			IdempotencyStore: redisClient,
			Metrics:          registry,
			Auth:             authService,
			Books:            bookService,
			Students:         studentService,
			Circulation:      circulationService,
			Users:            userService,
			AuditLog:         auditService,
			Settings:         settingsStore,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(groupCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
