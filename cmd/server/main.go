package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatcore/sessionhub/api"
	"github.com/chatcore/sessionhub/auth"
	"github.com/chatcore/sessionhub/internal/config"
	"github.com/chatcore/sessionhub/internal/envutil"
	"github.com/chatcore/sessionhub/internal/slogging"
	"github.com/chatcore/sessionhub/internal/telemetry"
	"github.com/chatcore/sessionhub/session"
)

func main() {
	configFile := flag.String("config", envutil.Get("CONFIG_FILE", ""), "path to YAML configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "sessionhub: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	if cfg.Auth.JWT.Secret == "" {
		return errors.New("JWT_SECRET must be configured")
	}

	telemetrySvc, err := telemetry.NewService(&telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	hubMetrics, err := telemetry.NewHubMetrics(telemetrySvc.Tracer(), telemetrySvc.Meter())
	if err != nil {
		return fmt.Errorf("failed to initialize hub metrics: %w", err)
	}

	factory := session.NewSessionManagerFactory(session.FactoryConfig{
		MaxManagersPerUser: cfg.Session.MaxManagersPerUser,
		WriteTimeout:       cfg.WebSocket.WriteTimeout,
		DegradedThreshold:  cfg.Session.DegradedThreshold,
		InactivityTimeout:  cfg.Session.InactivityTimeout,
		Observer:           hubMetrics,
	})

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go factory.StartInactivitySweeper(sweepCtx, cfg.Session.SweepInterval)

	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	authMw := auth.NewMiddleware(cfg.Auth.JWT.Secret)
	wsHandler := api.NewWebSocketHandler(factory, cfg.WebSocket, hubMetrics)
	handlers := api.NewHandlers(factory)
	api.RegisterRoutes(r, handlers, wsHandler, authMw, telemetrySvc.Registry())

	srv := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("Received signal %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopSweeper()
	factory.CleanupAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error: %v", err)
	}
	if err := telemetrySvc.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown error: %v", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
