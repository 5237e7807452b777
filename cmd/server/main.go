package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/analysis"
	"github.com/fieldatlas/fieldatlas/internal/api"
	"github.com/fieldatlas/fieldatlas/internal/app"
	"github.com/fieldatlas/fieldatlas/internal/app/maintenance"
	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/auth/providers"
	"github.com/fieldatlas/fieldatlas/internal/database"
	"github.com/fieldatlas/fieldatlas/internal/services"
	"github.com/fieldatlas/fieldatlas/pkg/logger"
	"github.com/fieldatlas/fieldatlas/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fieldatlas-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionSvc, err := iauth.NewSessionService(db, jwtService, iauth.SessionConfig{
		RefreshTokenTTL: cfg.Auth.Session.RefreshTTL,
		RefreshLength:   cfg.Auth.Session.RefreshLength,
	})
	if err != nil {
		return fmt.Errorf("initialise session service: %w", err)
	}

	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}

	authenticator, err := iauth.NewAuthenticator(db, iauth.AuthenticatorConfig{
		Audit: func(ctx context.Context, actorID *string, action, result string) {
			auditSvc.Record(ctx, services.AuditEntry{ActorID: actorID, Action: action, Result: result})
		},
	})
	if err != nil {
		return fmt.Errorf("initialise authenticator: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.Email.SMTP.Enabled,
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		UseTLS:   cfg.Email.SMTP.UseTLS,
		Timeout:  cfg.Email.SMTP.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}

	userSvc, err := services.NewUserService(db, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}
	tokenSvc, err := services.NewTokenService(db, mailer, services.WithTokenBaseURL(cfg.Server.BaseURL))
	if err != nil {
		return fmt.Errorf("initialise token service: %w", err)
	}
	listingSvc, err := services.NewListingService(db, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise listing service: %w", err)
	}
	submissionSvc, err := services.NewSubmissionService(db, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise submission service: %w", err)
	}

	var analysisClient *analysis.Client
	if cfg.Analysis.Enabled {
		analysisClient, err = analysis.NewClient(analysis.Config{
			BaseURL: cfg.Analysis.BaseURL,
			Timeout: cfg.Analysis.Timeout,
		})
		if err != nil {
			return fmt.Errorf("initialise analysis client: %w", err)
		}
	}

	var oidcProvider *providers.OIDCProvider
	if cfg.Auth.OIDC.Enabled {
		oidcProvider, err = providers.NewOIDCProvider(ctx, db, providers.OIDCConfig{
			Enabled:      true,
			Name:         cfg.Auth.OIDC.Name,
			Issuer:       cfg.Auth.OIDC.Issuer,
			ClientID:     cfg.Auth.OIDC.ClientID,
			ClientSecret: cfg.Auth.OIDC.ClientSecret,
			RedirectURL:  cfg.Auth.OIDC.RedirectURL,
			Scopes:       cfg.Auth.OIDC.Scopes,
		})
		if err != nil {
			return fmt.Errorf("initialise oidc provider: %w", err)
		}
	}

	cleaner := maintenance.NewCleaner(sessionSvc, tokenSvc, auditSvc,
		maintenance.WithSchedule(cfg.Maintenance.Schedule),
		maintenance.WithAuditRetention(cfg.Maintenance.AuditRetention),
	)
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		// Stop's context is cancelled once in-flight jobs drain, so it cannot
		// carry the final sweep itself. Wait it out, then sweep on a fresh
		// deadline.
		<-cleaner.Stop().Done()
		sweepCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := cleaner.RunOnce(sweepCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	router, err := api.NewRouter(api.Deps{
		DB:            db,
		Config:        cfg,
		JWT:           jwtService,
		Sessions:      sessionSvc,
		Authenticator: authenticator,
		Users:         userSvc,
		Tokens:        tokenSvc,
		Listings:      listingSvc,
		Submissions:   submissionSvc,
		Audit:         auditSvc,
		Analysis:      analysisClient,
		OIDC:          oidcProvider,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := database.Config{
		Driver:   strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:     strings.TrimSpace(cfg.Database.Path),
		DSN:      strings.TrimSpace(cfg.Database.DSN),
		Host:     strings.TrimSpace(cfg.Database.Host),
		Port:     cfg.Database.Port,
		Name:     strings.TrimSpace(cfg.Database.Name),
		User:     strings.TrimSpace(cfg.Database.User),
		Password: cfg.Database.Password,
	}

	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Bootstrap(db, database.SeedConfig{
		AdminEmail:    cfg.Seed.AdminEmail,
		AdminName:     cfg.Seed.AdminName,
		AdminPassword: cfg.Seed.AdminPassword,
	}); err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database handle unavailable on shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
