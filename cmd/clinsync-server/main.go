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

	"github.com/clinsync/clinsync/internal/config"
	"github.com/clinsync/clinsync/internal/domain/registration"
	"github.com/clinsync/clinsync/internal/domain/search"
	"github.com/clinsync/clinsync/internal/platform/auth"
	"github.com/clinsync/clinsync/internal/platform/connectivity"
	"github.com/clinsync/clinsync/internal/platform/middleware"
	"github.com/clinsync/clinsync/internal/platform/remote"
	"github.com/clinsync/clinsync/internal/platform/store"
	outboxsync "github.com/clinsync/clinsync/internal/sync"
)

const remoteCallTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinsync-server",
		Short: "Offline-resilient clinic registration gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(outboxCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registration gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the local durable store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the postgres schema for the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for store init")
			}

			ctx := cmd.Context()
			pool, err := store.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.InitSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Println("store schema ready")
			return nil
		},
	})

	return cmd
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drain queued offline registrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued registrations, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, closeStore, err := newStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := registration.NewOutbox(st).List(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("outbox is empty")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\t%s\t%s\n",
					e.Key, e.QueuedAt.Format(time.RFC3339), e.Payload.Patient.Name, e.Payload.Patient.Phone)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Replay queued registrations against the remote service now",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, closeStore, err := newStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteAPIToken, remoteCallTimeout, logger)
			outbox := registration.NewOutbox(st)
			// An operator-invoked drain assumes the connection is up;
			// a network failure stops it cleanly either way.
			reconciler := outboxsync.NewReconciler(client, connectivity.NewManual(true), outbox, logger)

			synced, err := reconciler.Drain(ctx)
			fmt.Printf("synced %d registration(s)\n", synced)
			return err
		},
	})

	return cmd
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(logLevel(cfg))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	st, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open local store")
	}
	defer closeStore()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("local store ready")

	// Remote service client and connectivity probe
	client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteAPIToken, remoteCallTimeout, logger)
	probe := connectivity.NewProbe(client.HealthURL(), cfg.ProbeInterval(), logger)
	go probe.Start(ctx)

	// Domain services
	outbox := registration.NewOutbox(st)
	coordinator := registration.NewCoordinator(client, probe, outbox, logger)
	cache := search.NewCache(st)
	adapter := search.NewAdapter(client, probe, cache, logger)
	reconciler := outboxsync.NewReconciler(client, probe, outbox, logger)
	cancelSync := reconciler.Start(ctx)
	defer cancelSync()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Health reports this gateway's own liveness, the local store,
	// and the current connectivity hint for the remote service.
	e.GET("/health", func(c echo.Context) error {
		storeStatus := "ok"
		if _, err := st.Get(c.Request().Context(), "health:probe"); err != nil && err != store.ErrNotFound {
			storeStatus = "unavailable"
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"store":         storeStatus,
			"remote_online": probe.Online(),
		})
	})

	apiV1 := e.Group("/api/v1")
	registration.NewHandler(coordinator, outbox, reconciler).RegisterRoutes(apiV1)
	search.NewHandler(adapter).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("gateway listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gateway")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("gateway stopped")
	return nil
}

// logLevel keeps debug output out of production logs.
func logLevel(cfg *config.Config) zerolog.Level {
	if cfg.IsProduction() {
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newStore opens the configured durable backend. The returned func
// releases the underlying connections.
func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "redis":
		st, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case "postgres":
		pool, err := store.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPG(pool), pool.Close, nil
	case "memory":
		logger.Warn().Msg("memory store: queued registrations will not survive a restart")
		return store.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
