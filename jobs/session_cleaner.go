// Package jobs holds periodic maintenance tasks run alongside the API server.
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpiredTokenCleaner deletes refresh tokens past their expiry
type ExpiredTokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// RevocationPruner drops revocation entries that can no longer match a live token
type RevocationPruner interface {
	Prune() int
}

// SessionCleaner periodically removes expired refresh tokens and stale revocations
type SessionCleaner struct {
	tokens   ExpiredTokenCleaner
	pruner   RevocationPruner
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewSessionCleaner creates a cleaner. pruner may be nil when revocations live in Redis.
func NewSessionCleaner(tokens ExpiredTokenCleaner, pruner RevocationPruner, interval time.Duration, logger *zap.Logger) *SessionCleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionCleaner{
		tokens:   tokens,
		pruner:   pruner,
		interval: interval,
		timeout:  time.Minute,
		logger:   logger.Named("session_cleaner"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then once per interval until Stop
func (c *SessionCleaner) Start() {
	c.startOnce.Do(func() {
		c.started = true
		go c.loop()
	})
}

// Stop halts the loop and waits for an in-flight cleanup to finish.
// It must not be called concurrently with Start.
func (c *SessionCleaner) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started {
		<-c.done
	}
}

func (c *SessionCleaner) loop() {
	defer close(c.done)

	c.logger.Info("starting session cleaner", zap.Duration("interval", c.interval))
	c.RunOnce(context.Background())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			c.logger.Info("session cleaner stopped")
			return
		case <-ticker.C:
			c.RunOnce(context.Background())
		}
	}
}

// RunOnce performs a single cleanup pass and reports what it removed
func (c *SessionCleaner) RunOnce(ctx context.Context) (tokens int64, revocations int) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.tokens != nil {
		n, err := c.tokens.CleanupExpired(ctx)
		if err != nil {
			c.logger.Error("failed to clean up expired refresh tokens", zap.Error(err))
		} else {
			tokens = n
		}
	}
	if c.pruner != nil {
		revocations = c.pruner.Prune()
	}

	c.logger.Debug("session cleanup completed",
		zap.Int64("refresh_tokens", tokens),
		zap.Int("revocations", revocations))
	return tokens, revocations
}
