package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailpilot/mailpilot/internal/app"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/handler"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/middleware"
	"github.com/mailpilot/mailpilot/internal/router"
)

func main() {
	// Load configuration
	src, err := config.NewSource("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := src.Current()

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting MailPilot server")

	a, err := app.New(context.Background(), cfg, log, app.Options{Redis: true, Source: src})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}
	defer a.Close()

	// Campaign, sender and sheet settings apply to the next request. Server,
	// database, security and generator settings need a restart.
	src.Watch(func(next *config.Config, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("config reload failed, keeping previous settings")
			return
		}
		for _, field := range next.Validate() {
			log.Warn().Str("setting", field).Msg("configuration value missing")
		}
		log.Info().
			Int("batch_size", next.Campaign.BatchSize).
			Int("senders", len(next.Senders)).
			Msg("configuration reloaded")
	})
	log.Info().
		Str("delivery_log", cfg.DeliveryLog.Backend).
		Str("generator", cfg.Generator.Provider).
		Bool("auth", a.Auth.Enabled()).
		Msg("services initialized")

	h := handler.New(a.DB, a.Redis, log, cfg, a.Jobs, a.Recipients, a.Auth)
	mw := middleware.New(a.Redis, log, cfg)
	r := router.New(h, mw, a.Auth, cfg.Server.AllowedOrigins)

	// Preview waits on the generator, so writes get a generous timeout
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// A running job stops at its next recipient boundary
	if err := a.Jobs.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("send job did not stop in time")
	}

	log.Info().Msg("server stopped")
}
