package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultCleanupAge prunes sessions untouched for a week.
	DefaultCleanupAge      = 7 * 24 * time.Hour
	defaultCleanupInterval = 24 * time.Hour
)

// Cleanup prunes stale sessions from a store on a timer.
type Cleanup struct {
	store    Store
	maxAge   time.Duration
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	running  bool
}

// NewCleanup builds a cleanup handler over the given store.
func NewCleanup(store Store, maxAge time.Duration, logger zerolog.Logger) *Cleanup {
	if maxAge <= 0 {
		maxAge = DefaultCleanupAge
	}
	return &Cleanup{
		store:    store,
		maxAge:   maxAge,
		interval: defaultCleanupInterval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background pruning loop.
func (c *Cleanup) Start() error {
	if c.running {
		return fmt.Errorf("cleanup is already running")
	}
	c.running = true
	go c.run()

	c.logger.Info().
		Dur("max_age", c.maxAge).
		Msg("Session cleanup started")
	return nil
}

// Stop stops the pruning loop.
func (c *Cleanup) Stop() error {
	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}
	close(c.stopCh)
	c.running = false

	c.logger.Info().Msg("Session cleanup stopped")
	return nil
}

func (c *Cleanup) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if err := c.Prune(context.Background()); err != nil {
		c.logger.Error().Err(err).Msg("Session cleanup failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := c.Prune(context.Background()); err != nil {
				c.logger.Error().Err(err).Msg("Session cleanup failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// Prune deletes every session whose updated_at is older than the
// configured age. Unreadable sessions are skipped, not deleted.
func (c *Cleanup) Prune(ctx context.Context) error {
	ids, err := c.store.List(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-c.maxAge)
	pruned := 0
	for _, id := range ids {
		s, err := c.store.Load(ctx, id)
		if err != nil {
			c.logger.Warn().Err(err).Str("session_id", id).Msg("Skipping unreadable session")
			continue
		}
		if s.Meta.UpdatedAt.After(cutoff) {
			continue
		}
		if err := c.store.Delete(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to prune session")
			continue
		}
		pruned++
	}

	if pruned > 0 {
		c.logger.Info().Int("pruned", pruned).Msg("Stale sessions pruned")
	}
	return nil
}
