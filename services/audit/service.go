package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/repositories"
)

var (
	// ErrNotRunning is returned when recording on a service that is not started
	ErrNotRunning = errors.New("audit service not running")

	// ErrBufferFull is returned when an event is dropped
	ErrBufferFull = errors.New("audit event buffer full")
)

// Service persists audit logs asynchronously through a worker pool
type Service struct {
	repo        repositories.AuditRepository
	logger      *zap.Logger
	events      chan *models.AuditLog
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	mu          sync.RWMutex
	started     bool
	dropped     atomic.Uint64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int
	WorkerCount int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewService creates a Service. Call Start before recording.
func NewService(repo repositories.AuditRepository, logger *zap.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	return &Service{
		repo:        repo,
		logger:      logger,
		events:      make(chan *models.AuditLog, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
	}
}

// Start launches the workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}
	if s.events == nil {
		return fmt.Errorf("audit service cannot be restarted")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i, s.events)
	}
	s.started = true

	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))
	return nil
}

// Stop stops accepting events and waits for queued events to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.started = false
	pending := len(s.events)
	close(s.events)
	s.events = nil
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues a log without blocking. Full buffers drop the event.
func (s *Service) Record(log *models.AuditLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return ErrNotRunning
	}

	select {
	case s.events <- log:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(log.Action)),
			zap.Int64p("user_id", log.UserID),
			zap.Int64p("outlet_id", log.OutletID))
		return ErrBufferFull
	}
}

// RecordBlocking queues a log, waiting for buffer space until ctx is done
func (s *Service) RecordBlocking(ctx context.Context, log *models.AuditLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return ErrNotRunning
	}

	select {
	case s.events <- log:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListForOutlet returns an outlet's audit trail, newest first
func (s *Service) ListForOutlet(ctx context.Context, outletID int64, limit, offset int) ([]*models.AuditLog, error) {
	limit, offset = normalizePage(limit, offset)
	logs, err := s.repo.GetByOutletID(ctx, outletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list outlet audit logs: %w", err)
	}
	return logs, nil
}

// ListForUser returns a user's audit trail, newest first
func (s *Service) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*models.AuditLog, error) {
	limit, offset = normalizePage(limit, offset)
	logs, err := s.repo.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list user audit logs: %w", err)
	}
	return logs, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) worker(id int, events <-chan *models.AuditLog) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for log := range events {
		if err := s.persist(log); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(log.Action)))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *Service) persist(log *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
	Dropped       uint64
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.events),
		WorkerCount:   s.workerCount,
		Started:       s.started,
		Dropped:       s.dropped.Load(),
	}
}
