// Package main is the entry point for the ledgerbridge API server.
// It serves the operator API and, when enabled, runs the queue poller in-process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgerbridge/internal/bootstrap"
	"ledgerbridge/internal/domain/auth"
	v1 "ledgerbridge/internal/infrastructure/http/v1"
	"ledgerbridge/internal/infrastructure/http/v1/handlers"
	"ledgerbridge/pkg/config"
	"ledgerbridge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDev(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting ledgerbridge server", "ledger_driver", cfg.Ledger.Driver)

	rt, err := bootstrap.Build(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalw("failed to build runtime", "error", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Errorw("error closing runtime", "error", err)
		}
	}()

	// --- Auth ---
	jwtConfig := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
	jwtConfig.Issuer = cfg.Auth.Issuer
	jwtConfig.AccessTokenTTL = cfg.Auth.TokenTTL
	jwtService := auth.NewJWTService(jwtConfig)
	authConfig := auth.DefaultServiceConfig()
	authConfig.Username = cfg.Auth.OperatorUser
	authConfig.PasswordHash = cfg.Auth.OperatorPasswordHash
	authService := auth.NewService(jwtService, authConfig)
	if cfg.Auth.OperatorPasswordHash == "" {
		log.Warn("OPERATOR_PASSWORD_HASH not set; operator endpoints are unreachable")
	}

	// --- Router ---
	checks := map[string]handlers.Pinger{"ledger": rt.Repository}
	if rt.Redis != nil {
		checks["redis"] = rt.Redis
	}
	routerCfg := v1.RouterConfig{
		Logger:       log,
		JWTValidator: jwtService,
		AuthService:  authService,
		Posting:      rt.Engine,
		Claims:       rt.Engine.Claims(),
		Breaker:      rt.Engine.Breaker(),
		Flags:        rt.Flags,
		HealthChecks: checks,
		Metrics:      promhttp.Handler(),
	}
	if rt.Audit != nil {
		routerCfg.Audit = rt.Audit
	}
	router := v1.NewRouter(routerCfg)

	// --- Poller ---
	var wg sync.WaitGroup
	if rt.Poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Poller.Run(ctx)
		}()
	}

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.App.Port, "poller", rt.Poller != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Postings already in a ledger transaction run to completion regardless.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	cancel()
	wg.Wait()

	log.Info("server stopped")
}
