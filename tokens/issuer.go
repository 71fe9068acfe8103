package tokens

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/claims"
	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/services"
)

// Supported signing algorithms
const (
	AlgorithmHS256 = "HS256"
	AlgorithmHS384 = "HS384"
	AlgorithmHS512 = "HS512"
	AlgorithmRS256 = "RS256"
)

// TokenTypeBearer is reported to clients alongside every issued token
const TokenTypeBearer = "bearer"

const (
	defaultAccessTTL    = 60 * time.Minute
	defaultRefreshGrace = 14 * 24 * time.Hour
)

// Config holds the signing configuration of an Issuer
type Config struct {
	Algorithm    string
	Secret       []byte
	PrivateKey   *rsa.PrivateKey
	PublicKey    *rsa.PublicKey
	Issuer       string
	AccessTTL    time.Duration
	RefreshGrace time.Duration
}

// Claims is the full JWT body: registered claims plus the session payload
type Claims struct {
	jwt.RegisteredClaims
	claims.Payload
}

// UserID parses the subject claim
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// IssuedToken is what clients receive after login or refresh
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	JTI         string    `json:"-"`
}

// Issuer signs and verifies access tokens
type Issuer struct {
	cfg        Config
	method     jwt.SigningMethod
	signKey    interface{}
	verifyKey  interface{}
	revocation RevocationStore
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures an Issuer
type Option func(*Issuer)

// WithClock overrides the issuer's time source
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer. A nil revocation store makes Invalidate an
// acknowledgment only.
func NewIssuer(cfg Config, revocation RevocationStore, logger *zap.Logger, opts ...Option) (*Issuer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshGrace < 0 {
		cfg.RefreshGrace = 0
	} else if cfg.RefreshGrace == 0 {
		cfg.RefreshGrace = defaultRefreshGrace
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmHS256
	}

	i := &Issuer{
		cfg:        cfg,
		revocation: revocation,
		logger:     logger,
		now:        time.Now,
	}

	switch cfg.Algorithm {
	case AlgorithmHS256, AlgorithmHS384, AlgorithmHS512:
		if len(cfg.Secret) == 0 {
			return nil, fmt.Errorf("%s requires a signing secret", cfg.Algorithm)
		}
		i.method = jwt.GetSigningMethod(cfg.Algorithm)
		i.signKey = cfg.Secret
		i.verifyKey = cfg.Secret
	case AlgorithmRS256:
		if cfg.PrivateKey == nil {
			return nil, fmt.Errorf("%s requires a private key", cfg.Algorithm)
		}
		public := cfg.PublicKey
		if public == nil {
			public = &cfg.PrivateKey.PublicKey
		}
		i.method = jwt.SigningMethodRS256
		i.signKey = cfg.PrivateKey
		i.verifyKey = public
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %q", cfg.Algorithm)
	}

	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// AccessTTL returns the lifetime of issued tokens
func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

// RefreshGrace returns how long after expiry a token may still be refreshed
func (i *Issuer) RefreshGrace() time.Duration {
	return i.cfg.RefreshGrace
}

// Issue signs payload for user with fresh iat, jti, and exp.
func (i *Issuer) Issue(user *models.User, payload *claims.Payload) (*IssuedToken, error) {
	if user == nil || payload == nil {
		return nil, errors.New("issue token: user and payload are required")
	}
	if payload.User.ID != user.ID {
		return nil, fmt.Errorf("issue token: payload user %d does not match subject %d", payload.User.ID, user.ID)
	}

	now := i.now()
	expiresAt := now.Add(i.cfg.AccessTTL)
	jti := uuid.NewString()

	body := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		Payload: *payload,
	}
	body.Type = claims.TokenTypeAccess

	signed, err := jwt.NewWithClaims(i.method, body).SignedString(i.signKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	i.logger.Debug("issued access token",
		zap.Int64("user_id", user.ID),
		zap.String("jti", jti),
		zap.Time("expires_at", expiresAt),
	)

	return &IssuedToken{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(i.cfg.AccessTTL / time.Second),
		ExpiresAt:   expiresAt,
		JTI:         jti,
	}, nil
}

// Verify checks signature, expiry, and revocation and returns the decoded claims.
func (i *Issuer) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	c, err := i.parse(tokenString, 0)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrTokenExpired
		}
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	if err := i.checkRevoked(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Refreshable verifies a token allowing the refresh grace window after
// expiry. Tokens past the window are invalid.
func (i *Issuer) Refreshable(ctx context.Context, tokenString string) (*Claims, error) {
	c, err := i.parse(tokenString, i.cfg.RefreshGrace)
	if err != nil {
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	if err := i.checkRevoked(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh re-issues a refreshable token with the same subject and payload.
// The old jti is revoked first; of concurrent refreshes of one token only the
// first succeeds and the rest get ErrTokenRevoked.
func (i *Issuer) Refresh(ctx context.Context, tokenString string) (*IssuedToken, error) {
	c, err := i.Refreshable(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	userID, err := c.UserID()
	if err != nil {
		return nil, services.ErrInvalidToken.Wrap(err)
	}

	payload := c.Payload
	if payload.Tenant != nil {
		tenant := *payload.Tenant
		tenant.SessionContext.LastActivity = i.now().Unix()
		payload.Tenant = &tenant
	}

	if err := i.revokeOnce(ctx, c); err != nil {
		return nil, err
	}
	return i.Issue(&models.User{ID: userID}, &payload)
}

// Invalidate makes a token unusable before its natural expiry. Tokens already
// past the refresh window need no record.
func (i *Issuer) Invalidate(ctx context.Context, tokenString string) error {
	c, err := i.parse(tokenString, i.cfg.RefreshGrace)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil
		}
		return services.ErrInvalidToken.Wrap(err)
	}
	return i.Revoke(ctx, c)
}

// Revoke records the jti of already verified claims until the token can no
// longer be used or refreshed.
func (i *Issuer) Revoke(ctx context.Context, c *Claims) error {
	if i.revocation == nil {
		i.logger.Debug("no revocation store configured, invalidation acknowledged", zap.String("jti", c.ID))
		return nil
	}
	if err := i.revocation.Revoke(ctx, c.ID, i.revokedUntil(c)); err != nil {
		i.logger.Error("failed to revoke token", zap.String("jti", c.ID), zap.Error(err))
		return services.WrapInternal("failed to revoke token", err)
	}
	return nil
}

func (i *Issuer) revokeOnce(ctx context.Context, c *Claims) error {
	if i.revocation == nil {
		return nil
	}
	first, err := i.revocation.RevokeOnce(ctx, c.ID, i.revokedUntil(c))
	if err != nil {
		i.logger.Error("failed to revoke token", zap.String("jti", c.ID), zap.Error(err))
		return services.WrapInternal("failed to revoke token", err)
	}
	if !first {
		i.logger.Warn("token already refreshed", zap.String("jti", c.ID))
		return services.ErrTokenRevoked
	}
	return nil
}

func (i *Issuer) revokedUntil(c *Claims) time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Add(i.cfg.RefreshGrace)
	}
	return i.now().Add(i.cfg.RefreshGrace)
}

func (i *Issuer) parse(tokenString string, leeway time.Duration) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if leeway > 0 {
		opts = append(opts, jwt.WithLeeway(leeway))
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}

	c := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(*jwt.Token) (interface{}, error) {
		return i.verifyKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}

	if c.Type != claims.TokenTypeAccess {
		return nil, fmt.Errorf("unexpected token type %q", c.Type)
	}
	if c.ID == "" {
		return nil, errors.New("token has no jti")
	}
	userID, err := c.UserID()
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	if c.User.ID != userID {
		return nil, errors.New("subject does not match user claim")
	}
	return c, nil
}

func (i *Issuer) checkRevoked(ctx context.Context, c *Claims) error {
	if i.revocation == nil {
		return nil
	}
	revoked, err := i.revocation.IsRevoked(ctx, c.ID)
	if err != nil {
		i.logger.Error("revocation lookup failed", zap.String("jti", c.ID), zap.Error(err))
		return services.WrapInternal("failed to check token revocation", err)
	}
	if revoked {
		return services.ErrTokenRevoked
	}
	return nil
}
