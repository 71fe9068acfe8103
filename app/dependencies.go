package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/claims"
	"github.com/laundryhub/laundry-api/config"
	"github.com/laundryhub/laundry-api/handlers"
	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/jobs"
	"github.com/laundryhub/laundry-api/middleware"
	"github.com/laundryhub/laundry-api/repositories"
	"github.com/laundryhub/laundry-api/repositories/postgres"
	"github.com/laundryhub/laundry-api/repositories/redisstore"
	"github.com/laundryhub/laundry-api/services/audit"
	"github.com/laundryhub/laundry-api/services/membership"
	"github.com/laundryhub/laundry-api/services/ratelimit"
	"github.com/laundryhub/laundry-api/services/refreshtoken"
	"github.com/laundryhub/laundry-api/services/session"
	"github.com/laundryhub/laundry-api/tokens"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Redis  *redis.Client
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Session infrastructure
	Revocations   tokens.RevocationStore
	Limiter       ratelimit.Limiter
	Issuer        *tokens.Issuer
	RefreshTokens *refreshtoken.Store
	Audit         *audit.Service

	// Services
	Sessions    *session.Service
	Memberships *membership.Service

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	AuthHandler    *handlers.AuthHandler
	OutletHandler  *handlers.OutletHandler
	HealthHandler  *handlers.HealthHandler

	// Background jobs
	SessionCleaner *jobs.SessionCleaner
}

// NewDependencies opens the database and Redis (when configured) and wires
// every component on top of them.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var client *redis.Client
	if usesRedis(cfg) {
		client, err = redisstore.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
	}

	deps, err := Wire(ctx, cfg, logger, factory, client)
	if err != nil {
		_ = factory.Close()
		if client != nil {
			_ = client.Close()
		}
		return nil, err
	}
	return deps, nil
}

// Wire builds the application over an open repository factory. client may be
// nil when both the revocation and rate limit backends are in memory.
func Wire(ctx context.Context, cfg *config.Config, logger *zap.Logger, factory *postgres.RepositoryFactory, client *redis.Client) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
		Redis:       client,
	}

	if usesRedis(cfg) && client == nil {
		return nil, fmt.Errorf("redis backend configured without a redis client")
	}

	if cfg.Server.InitSchema {
		if err := deps.DB.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	deps.initRepositories()

	if err := deps.initSessionInfrastructure(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize session infrastructure: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHTTP()

	logger.Info("all dependencies initialized successfully",
		zap.String("revocation_backend", cfg.Session.RevocationBackend),
		zap.String("rate_limit_backend", cfg.Session.RateLimitBackend),
		zap.String("jwt_algorithm", cfg.JWT.Algorithm))
	return deps, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

// initSessionInfrastructure sets up revocation, throttling, signing, and auditing
func (d *Dependencies) initSessionInfrastructure(cfg *config.Config) error {
	var pruner jobs.RevocationPruner
	if cfg.Session.RevocationBackend == config.BackendRedis {
		d.Revocations = redisstore.NewRevocationStore(d.Redis)
	} else {
		memory := tokens.NewMemoryRevocationStore()
		d.Revocations = memory
		pruner = memory
	}

	if cfg.Session.RateLimitBackend == config.BackendRedis {
		d.Limiter = ratelimit.NewRedisLimiter(d.Redis)
	} else {
		d.Limiter = ratelimit.NewMemoryLimiter()
	}

	issuerCfg, err := issuerConfig(cfg.JWT)
	if err != nil {
		return err
	}
	d.Issuer, err = tokens.NewIssuer(issuerCfg, d.Revocations, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	d.RefreshTokens = refreshtoken.NewStore(d.Repos.RefreshTokens, d.Logger, refreshtoken.Config{
		TTL:     cfg.Session.RefreshTokenTTL,
		MaxUses: cfg.Session.RefreshTokenMaxUses,
	})

	d.Audit = audit.NewService(d.Repos.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.Workers,
	})
	if err := d.Audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	d.SessionCleaner = jobs.NewSessionCleaner(d.RefreshTokens, pruner, cfg.Session.RefreshCleanupInterval, d.Logger)
	return nil
}

// initServices creates the session and membership services
func (d *Dependencies) initServices(cfg *config.Config) error {
	hasher, err := auth.NewBcryptHasher(cfg.Session.BcryptCost)
	if err != nil {
		return err
	}

	d.Sessions = session.NewService(session.Deps{
		Users:         d.Repos.Users,
		Claims:        claims.NewBuilder(d.Repos.Memberships, d.Logger),
		Issuer:        d.Issuer,
		RefreshTokens: d.RefreshTokens,
		Hasher:        hasher,
		Limiter:       d.Limiter,
		LoginLimit: session.LoginLimit{
			Limit:  cfg.Session.LoginRateLimit,
			Window: cfg.Session.LoginRateWindow,
		},
		Audit:  d.Audit,
		Logger: d.Logger,
	})
	d.Memberships = membership.NewService(d.Repos, d.TxManager, d.Audit, d.Logger)
	return nil
}

// initHTTP creates the middleware and handlers
func (d *Dependencies) initHTTP() {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Issuer, d.Logger, middleware.WithAuditRecorder(d.Audit))
	d.AuthHandler = handlers.NewAuthHandler(d.Sessions, d.Audit, d.Logger)
	d.OutletHandler = handlers.NewOutletHandler(d.Memberships, d.Audit, d.Logger)

	d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Logger)
	if d.Redis != nil {
		client := d.Redis
		d.HealthHandler.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
}

// Start launches background jobs
func (d *Dependencies) Start() {
	if d.SessionCleaner != nil {
		d.SessionCleaner.Start()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.SessionCleaner != nil {
		d.SessionCleaner.Stop()
	}

	// Drain queued audit events before the database goes away
	if d.Audit != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil && !errors.Is(err, audit.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}

func usesRedis(cfg *config.Config) bool {
	return cfg.Session.RevocationBackend == config.BackendRedis ||
		cfg.Session.RateLimitBackend == config.BackendRedis
}

func issuerConfig(cfg config.JWTConfig) (tokens.Config, error) {
	out := tokens.Config{
		Algorithm:    cfg.Algorithm,
		Issuer:       cfg.Issuer,
		AccessTTL:    cfg.TTL,
		RefreshGrace: cfg.RefreshGrace,
	}
	if cfg.Algorithm == tokens.AlgorithmRS256 {
		private, public, err := tokens.LoadRSAKeys(cfg.PrivateKeyFile, cfg.PublicKeyFile)
		if err != nil {
			return out, err
		}
		out.PrivateKey = private
		out.PublicKey = public
		return out, nil
	}
	out.Secret = []byte(cfg.Secret)
	return out, nil
}
