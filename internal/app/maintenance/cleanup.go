package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/services"
	"github.com/fieldatlas/fieldatlas/pkg/logger"
)

const (
	defaultSchedule       = "@hourly"
	defaultAuditRetention = 90 * 24 * time.Hour
)

// Cleaner runs the recurring background sweeps: expired and revoked sessions,
// expired single-use tokens, and audit events past retention. Consumed invites
// are never swept; their used_at marker is the audit record.
type Cleaner struct {
	sessions *iauth.SessionService
	tokens   *services.TokenService
	audit    *services.AuditService

	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	schedule  string
	retention time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron expression for all sweeps.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithAuditRetention adjusts how long audit events are retained.
func WithAuditRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the matching sweep.
func NewCleaner(sessions *iauth.SessionService, tokens *services.TokenService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:  sessions,
		tokens:    tokens,
		audit:     audit,
		now:       time.Now,
		schedule:  defaultSchedule,
		retention: defaultAuditRetention,
		log:       logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the sweep with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.sessions == nil && c.tokens == nil && c.audit == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("maintenance sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially. Used by the scheduler,
// by tests, and once more during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if removed, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("sessions swept", zap.Int64("removed", removed))
		}
	}

	if c.tokens != nil {
		if removed, err := c.tokens.SweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("tokens swept", zap.Int64("removed", removed))
		}
	}

	if c.audit != nil && c.retention > 0 {
		cutoff := c.now().Add(-c.retention)
		if removed, err := c.audit.PruneBefore(ctx, cutoff); err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("audit events pruned", zap.Int64("removed", removed))
		}
	}

	return errs
}
