package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pharmos/compliance/internal/config"
	"github.com/pharmos/compliance/internal/domain/customer"
	"github.com/pharmos/compliance/internal/domain/licence"
	"github.com/pharmos/compliance/internal/domain/reclassification"
	"github.com/pharmos/compliance/internal/domain/substance"
	"github.com/pharmos/compliance/internal/domain/threshold"
	"github.com/pharmos/compliance/internal/domain/transaction"
	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/auth"
	"github.com/pharmos/compliance/internal/platform/db"
	"github.com/pharmos/compliance/internal/platform/middleware"
	"github.com/pharmos/compliance/internal/platform/monitor"
	"github.com/pharmos/compliance/internal/platform/occ"
	"github.com/pharmos/compliance/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "compliance-server",
		Short: "Transaction compliance decision engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the compliance API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Roll back by applying a forward migration that reverses the change.")
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Shared platform pieces: version guard, audit trail, webhook dispatcher.
	guard := occ.NewGuard()
	trail := audit.NewTrail(audit.NewPGRecorder(pool), logger)

	webhookStore := webhook.NewStorePG(pool)
	dispatcher := webhook.NewDispatcher(webhookStore, logger,
		webhook.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.WebhookTimeoutSec) * time.Second}))
	defer dispatcher.Close()
	if err := dispatcher.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to resume pending webhook deliveries")
	}

	// Repositories
	licenceRepo := licence.NewRepoPG(pool)
	substanceRepo := substance.NewRepoPG(pool)
	customerRepo := customer.NewRepoPG(pool)
	thresholdRepo := threshold.NewRepoPG(pool)
	transactionRepo := transaction.NewRepoPG(pool)
	reclassRepo := reclassification.NewRepoPG(pool)

	// Services
	licenceSvc := licence.NewService(licenceRepo, guard, trail)
	substanceSvc := substance.NewService(substanceRepo)
	customerSvc := customer.NewService(customerRepo, guard, trail)
	thresholdSvc := threshold.NewService(thresholdRepo)
	reclassSvc := reclassification.NewService(reclassRepo, licenceRepo, substanceRepo,
		guard, trail, dispatcher, logger)
	loader := transaction.NewSnapshotLoader(customerRepo, licenceRepo, substanceRepo,
		thresholdRepo, reclassSvc, cfg.CompanyHolderID, cfg.EvaluateTimeout())
	transactionSvc := transaction.NewService(transactionRepo, loader, guard, trail,
		dispatcher, cfg.OverrideApproverRoles, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "If-Match"},
	}))
	e.Use(auth.Middleware(auth.Config{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSecret),
		DevMode:    cfg.IsDev(),
	}))

	// API routes
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	licence.NewHandler(licenceSvc).RegisterRoutes(apiV1)
	substance.NewHandler(substanceSvc).RegisterRoutes(apiV1)
	customer.NewHandler(customerSvc).RegisterRoutes(apiV1)
	threshold.NewHandler(thresholdSvc).RegisterRoutes(apiV1)
	transaction.NewHandler(transactionSvc).RegisterRoutes(apiV1)
	reclassification.NewHandler(reclassSvc).RegisterRoutes(apiV1)
	webhook.NewHandler(dispatcher, webhookStore).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Periodic compliance sweep: licence expiry and customer re-verification.
	sweeper := monitor.New(licenceSvc, customerSvc, dispatcher, trail, cfg.MonitorEvery(), logger)
	sweeper.Start(ctx)
	defer sweeper.Close()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
