// Package session implements register, login, refresh, and logout on top of
// the claims builder, the access token issuer, and the refresh token store.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/claims"
	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/repositories"
	"github.com/laundryhub/laundry-api/services"
	"github.com/laundryhub/laundry-api/services/audit"
	"github.com/laundryhub/laundry-api/services/ratelimit"
	"github.com/laundryhub/laundry-api/services/refreshtoken"
	"github.com/laundryhub/laundry-api/tokens"
)

const (
	refreshViaRefreshToken = "refresh_token"
	refreshViaAccessToken  = "access_token"
)

// Session is the credential set returned to a client
type Session struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	RefreshToken string       `json:"refresh_token,omitempty"`
}

// RegisterInput describes a new account
type RegisterInput struct {
	Name     string  `json:"name" validate:"required,min=2,max=120"`
	Email    string  `json:"email" validate:"required,email"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
}

// LoginInput holds login credentials
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshInput holds the credentials presented for a refresh. At least one is required.
type RefreshInput struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// LoginLimit bounds login attempts per email and client address
type LoginLimit struct {
	Limit  int
	Window time.Duration
}

// Deps holds the collaborators of a Service
type Deps struct {
	Users         repositories.UserRepository
	Claims        *claims.Builder
	Issuer        *tokens.Issuer
	RefreshTokens *refreshtoken.Store
	Hasher        auth.Hasher
	Limiter       ratelimit.Limiter
	LoginLimit    LoginLimit
	Audit         audit.Recorder
	Logger        *zap.Logger
}

// Service implements the session lifecycle
type Service struct {
	users      repositories.UserRepository
	claims     *claims.Builder
	issuer     *tokens.Issuer
	refresh    *refreshtoken.Store
	hasher     auth.Hasher
	limiter    ratelimit.Limiter
	loginLimit LoginLimit
	audit      audit.Recorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a session service
func NewService(deps Deps) *Service {
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		users:      deps.Users,
		claims:     deps.Claims,
		issuer:     deps.Issuer,
		refresh:    deps.RefreshTokens,
		hasher:     deps.Hasher,
		limiter:    deps.Limiter,
		loginLimit: deps.LoginLimit,
		audit:      deps.Audit,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Register creates an account and signs it in
func (s *Service) Register(ctx context.Context, input RegisterInput, meta audit.RequestMeta) (*Session, error) {
	email := models.NormalizeEmail(input.Email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, services.ErrDuplicateEmail
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.WrapInternal("failed to check email", err)
	}

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return nil, services.WrapInternal("failed to hash password", err)
	}

	user := models.NewUser(input.Name, email, input.Phone, hash)
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, services.ErrDuplicateEmail
		}
		return nil, services.WrapInternal("failed to create user", err)
	}

	sess, err := s.open(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.record(audit.Registered(user.ID, meta))
	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	return sess, nil
}

// Login verifies credentials and opens a session
func (s *Service) Login(ctx context.Context, input LoginInput, meta audit.RequestMeta) (*Session, error) {
	email := models.NormalizeEmail(input.Email)

	if err := s.checkLoginLimit(ctx, email, meta.IPAddress); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, services.WrapInternal("failed to load user", err)
		}
		_ = s.hasher.Compare(ctx, "", input.Password)
		s.record(audit.LoginFailed(nil, email, string(services.CodeInvalidCredentials), meta))
		return nil, services.ErrInvalidCredentials
	}

	if err := s.hasher.Compare(ctx, user.PasswordHash, input.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, services.WrapInternal("failed to verify password", err)
		}
		s.record(audit.LoginFailed(&user.ID, email, string(services.CodeInvalidCredentials), meta))
		return nil, services.ErrInvalidCredentials
	}

	if !user.IsActive {
		s.record(audit.LoginFailed(&user.ID, email, string(services.CodeUserInactive), meta))
		return nil, services.ErrUserInactive
	}

	sess, err := s.open(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.record(audit.LoginSucceeded(user.ID, meta))
	s.logger.Info("user logged in",
		zap.Int64("user_id", user.ID),
		zap.String("device_id", meta.DeviceID))
	return sess, nil
}

// Refresh issues a new access token. A refresh token re-snapshots claims from
// current memberships; otherwise the access token must still be inside its
// refresh grace window. A presented access token is invalidated either way.
func (s *Service) Refresh(ctx context.Context, input RefreshInput, meta audit.RequestMeta) (*Session, error) {
	accessToken := strings.TrimSpace(input.AccessToken)
	refreshToken := strings.TrimSpace(input.RefreshToken)

	switch {
	case refreshToken != "":
		return s.refreshWithToken(ctx, accessToken, refreshToken, meta)
	case accessToken != "":
		return s.refreshWithAccessToken(ctx, accessToken, meta)
	default:
		return nil, services.ErrMissingToken
	}
}

func (s *Service) refreshWithToken(ctx context.Context, accessToken, refreshToken string, meta audit.RequestMeta) (*Session, error) {
	record, err := s.refresh.Validate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.activeUser(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.refresh.IncrementUsage(ctx, record); err != nil {
		return nil, err
	}

	deviceID := meta.DeviceID
	if strings.TrimSpace(deviceID) == "" {
		deviceID = record.DeviceID
	}
	payload, err := s.claims.Build(ctx, user, deviceID)
	if err != nil {
		return nil, services.WrapInternal("failed to build claims", err)
	}
	issued, err := s.issuer.Issue(user, payload)
	if err != nil {
		return nil, services.WrapInternal("failed to issue token", err)
	}

	if accessToken != "" {
		if err := s.issuer.Invalidate(ctx, accessToken); err != nil {
			s.logger.Debug("previous access token not invalidated", zap.Error(err))
		}
	}

	s.record(audit.TokenRefreshed(user.ID, refreshViaRefreshToken, meta))
	return newSession(user, issued, ""), nil
}

func (s *Service) refreshWithAccessToken(ctx context.Context, accessToken string, meta audit.RequestMeta) (*Session, error) {
	c, err := s.issuer.Refreshable(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	userID, err := c.UserID()
	if err != nil {
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	issued, err := s.issuer.Refresh(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	s.record(audit.TokenRefreshed(user.ID, refreshViaAccessToken, meta))
	return newSession(user, issued, ""), nil
}

// Logout invalidates the access token and revokes the refresh token if given
func (s *Service) Logout(ctx context.Context, userID int64, accessToken, refreshToken string, meta audit.RequestMeta) error {
	if err := s.issuer.Invalidate(ctx, accessToken); err != nil {
		return err
	}
	if err := s.refresh.Revoke(ctx, refreshToken); err != nil {
		return err
	}
	s.record(audit.Logout(userID, meta))
	return nil
}

// LogoutAll revokes every refresh token of the user and invalidates the current access token
func (s *Service) LogoutAll(ctx context.Context, userID int64, accessToken string, meta audit.RequestMeta) (int64, error) {
	if err := s.issuer.Invalidate(ctx, accessToken); err != nil {
		return 0, err
	}
	n, err := s.refresh.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.record(audit.Logout(userID, meta))
	return n, nil
}

// Me returns the current profile of the user
func (s *Service) Me(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("failed to load user", err)
	}
	return user, nil
}

// Devices lists the refresh token records of the user
func (s *Service) Devices(ctx context.Context, userID int64) ([]*models.RefreshToken, error) {
	return s.refresh.ListForUser(ctx, userID)
}

func (s *Service) open(ctx context.Context, user *models.User, meta audit.RequestMeta) (*Session, error) {
	payload, err := s.claims.Build(ctx, user, meta.DeviceID)
	if err != nil {
		return nil, services.WrapInternal("failed to build claims", err)
	}
	issued, err := s.issuer.Issue(user, payload)
	if err != nil {
		return nil, services.WrapInternal("failed to issue token", err)
	}
	refreshToken, _, err := s.refresh.Generate(ctx, user.ID, payload.Tenant.SessionContext.DeviceID)
	if err != nil {
		return nil, err
	}
	return newSession(user, issued, refreshToken), nil
}

func (s *Service) activeUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidToken
		}
		return nil, services.WrapInternal("failed to load user", err)
	}
	if !user.IsActive {
		return nil, services.ErrUserInactive
	}
	return user, nil
}

func (s *Service) checkLoginLimit(ctx context.Context, email, ip string) error {
	if s.limiter == nil || s.loginLimit.Limit <= 0 {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, ratelimit.LoginKey(email, ip), s.loginLimit.Limit, s.loginLimit.Window)
	switch {
	case errors.Is(err, ratelimit.ErrCapacityExceeded):
		s.logger.Warn("login rate limiter at capacity", zap.String("ip", ip))
	case err != nil:
		// backend unavailable: fail open
		s.logger.Error("login rate limiter failed", zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		retry := decision.RetryAfter(s.now())
		s.logger.Warn("login rate limit exceeded",
			zap.String("email", email),
			zap.String("ip", ip),
			zap.Duration("retry_after", retry))
		return services.ErrRateLimitExceeded.
			WithDetail("retry_after", int64((retry+time.Second-1)/time.Second)).
			WithDetail("limit", decision.Limit)
	}
	return nil
}

func (s *Service) record(log *models.AuditLog) {
	if err := s.audit.Record(log); err != nil {
		s.logger.Warn("failed to record audit event",
			zap.String("action", string(log.Action)),
			zap.Error(err))
	}
}

func newSession(user *models.User, issued *tokens.IssuedToken, refreshToken string) *Session {
	return &Session{
		User:         user,
		AccessToken:  issued.AccessToken,
		TokenType:    issued.TokenType,
		ExpiresIn:    issued.ExpiresIn,
		RefreshToken: refreshToken,
	}
}
