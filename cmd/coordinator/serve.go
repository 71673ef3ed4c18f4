package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/remote-session/config"
	"github.com/mossy-p/remote-session/internal/handlers"
	"github.com/mossy-p/remote-session/internal/models"
	"github.com/mossy-p/remote-session/internal/redis"
	"github.com/mossy-p/remote-session/internal/session"
	"github.com/mossy-p/remote-session/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 15 * time.Second

var (
	flagPort  string
	flagStore string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	Long: `Run the coordinator API. Settings come from the environment (see config);
flags override the listen port and the store backend.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if flagPort != "" {
			cfg.Port = flagPort
		}
		if flagStore != "" {
			cfg.StoreBackend = flagStore
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagPort, "port", "p", "", "listen port (overrides PORT)")
	serveCmd.Flags().StringVar(&flagStore, "store", "", "store backend: memory or redis (overrides STORE_BACKEND)")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewDevelopmentConfig()
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func serve(parent context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	switch cfg.StoreBackend {
	case "redis":
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer client.Close()
		log.Info("Redis connection established", zap.String("addr", client.Options().Addr))
		st = store.NewRedis(client, cfg.Redis.Retention)
	default:
		st = store.NewMemory()
	}

	registry := session.NewRegistry(session.Config{
		HeartbeatInterval:      cfg.Session.HeartbeatInterval,
		MissedHeartbeats:       cfg.Session.MissedHeartbeats,
		GracePeriod:            cfg.Session.GracePeriod,
		RoomTTL:                cfg.Session.RoomTTL,
		SweepInterval:          cfg.Session.SweepInterval,
		SignalBufferWindow:     cfg.Session.SignalBufferWindow,
		OutboundQueueSize:      cfg.Session.OutboundQueueSize,
		DefaultMaxParticipants: cfg.Session.DefaultMaxParticipants,
		DefaultHostPolicy:      models.HostPolicy(cfg.Session.DefaultHostPolicy),
	}, st, log)
	go registry.Run(ctx)
	defer registry.Shutdown()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(log))

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	handlers.New(registry, log).Register(router, cfg.JWTSecret)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting coordinator",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreBackend),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
