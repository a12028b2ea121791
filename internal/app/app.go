// Package app assembles the send pipeline from configuration. The server and
// the CLI both start from here.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/composer"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/email"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/metrics"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/scheduler"
	"github.com/mailpilot/mailpilot/internal/service"
)

// Options selects the optional infrastructure to connect
type Options struct {
	// Redis enables the status notifier, rate limiting and login lockout.
	// A failed connection is logged and the app runs without it.
	Redis bool
	// Model overrides the configured generator, mostly for tests
	Model composer.Model
	// Transports overrides the SMTP session factory
	Transports email.TransportFactory
	// Source supplies reloadable settings. Without it the config passed to
	// New is used as is.
	Source *config.Source
}

// App is a wired set of services
type App struct {
	Config      *config.Config
	Source      *config.Source
	Logger      *logger.Logger
	DB          *database.Postgres
	Redis       *database.Redis
	DeliveryLog repository.DeliveryLog
	Composer    *composer.Composer
	Scheduler   *scheduler.Scheduler
	Jobs        *service.JobService
	Recipients  *service.RecipientService
	Auth        *service.AuthService
}

// New connects the configured backends and builds every service
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: log, Source: opts.Source}
	if a.Source == nil {
		a.Source = config.Static(cfg)
	}

	for _, field := range cfg.Validate() {
		log.Warn().Str("setting", field).Msg("configuration value missing")
	}

	if strings.EqualFold(cfg.DeliveryLog.Backend, "postgres") {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		log.Info().Msg("connected to PostgreSQL")
	}

	if opts.Redis {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, running without status events and rate limiting")
		} else {
			a.Redis = rdb
			log.Info().Msg("connected to Redis")
		}
	}

	dl, err := repository.NewDeliveryLog(cfg.DeliveryLog, a.DB)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.DeliveryLog = dl

	model := opts.Model
	if model == nil {
		model, err = composer.NewModel(ctx, cfg.Generator)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
	}
	a.Composer = composer.New(model, composer.Identity{
		SenderName:  cfg.SMTP.SenderName,
		CompanyName: cfg.SMTP.CompanyName,
	}, composer.OptionsFromConfig(cfg.Generator), log)

	transports := opts.Transports
	if transports == nil {
		transports = email.NewSessionFactory(email.Options{
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			AllowPlaintext:     cfg.SMTP.AllowPlaintext,
		})
	}
	a.Scheduler = scheduler.New(scheduler.ConfigFromCampaign(cfg.Campaign), a.Composer, dl, transports, metrics.Recorder{}, log)

	var notifier service.Notifier
	if a.Redis != nil {
		notifier = service.NewRedisNotifier(a.Redis, log)
	}
	a.Jobs = service.NewJobService(a.Source, dl, a.Scheduler, a.Composer, notifier, log)
	a.Recipients = service.NewRecipientService(a.Source, log)

	var tokens *auth.TokenService
	if cfg.Security.AuthEnabled() {
		tokens, err = auth.NewTokenService(cfg.Security.TokenSecret, cfg.Security.Issuer, cfg.Security.TokenTTL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize token service: %w", err)
		}
	}
	a.Auth = service.NewAuthService(cfg.Security, tokens, a.Redis, log)

	return a, nil
}

// Close releases the database and Redis connections
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}
