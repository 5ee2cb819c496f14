package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/atriumhq/atrium/internal/metrics"
	"github.com/atriumhq/atrium/pkg/mount"
	"github.com/atriumhq/atrium/pkg/state"
	"github.com/atriumhq/atrium/pkg/tokens"
)

// Config holds scheduler configuration. Schedules are standard five-field
// cron expressions.
type Config struct {
	TokenPurgeSchedule string
	CheckpointSchedule string

	Tokens  *tokens.Manager
	Store   *state.Store
	Mounter *mount.Mounter
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Scheduler runs background upkeep: expired token purges, sqlite WAL
// checkpoints, and mount gauge refreshes.
type Scheduler struct {
	cron    *cron.Cron
	tokens  *tokens.Manager
	store   *state.Store
	mounter *mount.Mounter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewScheduler creates a scheduler with the upkeep jobs registered. Start
// must be called before anything runs.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}

	s := &Scheduler{
		cron:    cron.New(),
		tokens:  cfg.Tokens,
		store:   cfg.Store,
		mounter: cfg.Mounter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "maintenance").Logger(),
	}

	if _, err := s.cron.AddFunc(cfg.TokenPurgeSchedule, s.RunTokenPurge); err != nil {
		return nil, fmt.Errorf("invalid token purge schedule %q: %w", cfg.TokenPurgeSchedule, err)
	}
	if _, err := s.cron.AddFunc(cfg.CheckpointSchedule, s.RunCheckpoint); err != nil {
		return nil, fmt.Errorf("invalid checkpoint schedule %q: %w", cfg.CheckpointSchedule, err)
	}

	return s, nil
}

// Start begins running scheduled jobs and primes the mount gauges.
func (s *Scheduler) Start() {
	s.RefreshGauges()
	s.cron.Start()
	s.logger.Info().Msg("Maintenance scheduler started")
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// RunTokenPurge drops expired plugin tokens.
func (s *Scheduler) RunTokenPurge() {
	purged, err := s.tokens.PurgeExpired()
	if err != nil {
		s.logger.Error().Err(err).Msg("Token purge failed")
		return
	}
	if purged > 0 {
		s.logger.Info().Int("purged", purged).Msg("Purged expired plugin tokens")
	}
}

// RunCheckpoint compacts the state store's WAL.
func (s *Scheduler) RunCheckpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.store.Checkpoint(ctx); err != nil {
		s.logger.Error().Err(err).Msg("State checkpoint failed")
		return
	}
	s.logger.Debug().Msg("State store checkpointed")
	s.RefreshGauges()
}

// RefreshGauges resyncs the mount gauges with the mounter's actual tables.
func (s *Scheduler) RefreshGauges() {
	if s.metrics == nil || s.mounter == nil {
		return
	}
	s.metrics.MountedPlugins.Set(float64(len(s.mounter.MountedPlugins())))
	s.metrics.MountedRoutes.Set(float64(len(s.mounter.AllRoutes())))
}
