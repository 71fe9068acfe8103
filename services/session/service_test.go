package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

type memoryUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[int64]*models.User{}}
}

func (r *memoryUsers) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return repositories.ErrConflict
		}
	}
	r.nextID++
	u.ID = r.nextID
	r.byID[u.ID] = u
	return nil
}

func (r *memoryUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		return u, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *memoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memoryUsers) Update(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[u.ID] = u
	return nil
}

type memoryRefreshTokens struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.RefreshToken
}

func newMemoryRefreshTokens() *memoryRefreshTokens {
	return &memoryRefreshTokens{records: map[uuid.UUID]*models.RefreshToken{}}
}

func (r *memoryRefreshTokens) Create(_ context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[t.ID] = t
	return nil
}

func (r *memoryRefreshTokens) GetByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.records {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memoryRefreshTokens) IncrementUsage(_ context.Context, id uuid.UUID, usedAt time.Time, maxUses int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.records[id]
	if !ok || t.RevokedAt != nil || (maxUses > 0 && t.UseCount >= maxUses) {
		return repositories.ErrNotFound
	}
	t.UseCount++
	t.LastUsedAt = &usedAt
	return nil
}

func (r *memoryRefreshTokens) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.records[id]
	if !ok {
		return repositories.ErrNotFound
	}
	t.RevokedAt = &at
	return nil
}

func (r *memoryRefreshTokens) RevokeAllForUser(_ context.Context, userID int64, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.records {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *memoryRefreshTokens) ListForUser(_ context.Context, userID int64) ([]*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.RefreshToken{}
	for _, t := range r.records {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRefreshTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type memoryMemberships struct {
	mu     sync.Mutex
	byUser map[int64][]*models.Membership
}

func (l *memoryMemberships) ListActiveByUser(_ context.Context, userID int64) ([]*models.Membership, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byUser == nil {
		return nil, nil
	}
	return l.byUser[userID], nil
}

func (l *memoryMemberships) add(m *models.Membership) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byUser == nil {
		l.byUser = map[int64][]*models.Membership{}
	}
	l.byUser[m.UserID] = append(l.byUser[m.UserID], m)
}

// plainHasher keeps tests fast; it is not a password hash
type plainHasher struct{}

func (plainHasher) Hash(_ context.Context, pw string) (string, error) { return "plain:" + pw, nil }

func (plainHasher) Compare(_ context.Context, hash, pw string) error {
	if hash == "" || hash != "plain:"+pw {
		return auth.ErrPasswordMismatch
	}
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *recordingAudit) Record(log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingAudit) last() models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.logs) == 0 {
		return ""
	}
	return r.logs[len(r.logs)-1].Action
}

type failingLimiter struct{ err error }

func (f failingLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, f.err
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type harness struct {
	service     *Service
	users       *memoryUsers
	memberships *memoryMemberships
	refresh     *memoryRefreshTokens
	issuer      *tokens.Issuer
	audit       *recordingAudit
	clock       *clock
}

func newHarness(t *testing.T, loginLimit int) *harness {
	t.Helper()
	h := &harness{
		users:       newMemoryUsers(),
		memberships: &memoryMemberships{},
		refresh:     newMemoryRefreshTokens(),
		audit:       &recordingAudit{},
		clock:       &clock{t: time.Now().Truncate(time.Second)},
	}

	issuer, err := tokens.NewIssuer(tokens.Config{
		Algorithm:    tokens.AlgorithmHS256,
		Secret:       []byte("session-test-secret-0123456789abcdef"),
		Issuer:       "laundry-api",
		AccessTTL:    time.Hour,
		RefreshGrace: 24 * time.Hour,
	}, tokens.NewMemoryRevocationStore(), zap.NewNop(), tokens.WithClock(h.clock.Now))
	require.NoError(t, err)
	h.issuer = issuer

	h.service = NewService(Deps{
		Users:         h.users,
		Claims:        claims.NewBuilder(h.memberships, zap.NewNop(), claims.WithClock(h.clock.Now)),
		Issuer:        issuer,
		RefreshTokens: refreshtoken.NewStore(h.refresh, zap.NewNop(), refreshtoken.Config{TTL: 30 * 24 * time.Hour}, refreshtoken.WithClock(h.clock.Now)),
		Hasher:        plainHasher{},
		Limiter:       ratelimit.NewMemoryLimiter(ratelimit.WithClock(h.clock.Now)),
		LoginLimit:    LoginLimit{Limit: loginLimit, Window: time.Minute},
		Audit:         h.audit,
		Logger:        zap.NewNop(),
	})
	h.service.now = h.clock.Now
	return h
}

var meta = audit.RequestMeta{RequestID: "req-1", IPAddress: "10.0.0.5", UserAgent: "pos/1.0", DeviceID: "tablet-1"}

func (h *harness) register(t *testing.T, email string) *Session {
	t.Helper()
	sess, err := h.service.Register(context.Background(), RegisterInput{
		Name: "Siti", Email: email, Password: "rahasia123",
	}, meta)
	require.NoError(t, err)
	return sess
}

func TestRegister(t *testing.T) {
	h := newHarness(t, 5)
	sess := h.register(t, " Siti@Example.com ")

	assert.Equal(t, "siti@example.com", sess.User.Email)
	assert.Equal(t, tokens.TokenTypeBearer, sess.TokenType)
	assert.Equal(t, int64(3600), sess.ExpiresIn)
	assert.Len(t, sess.RefreshToken, 64)
	assert.Equal(t, models.AuditActionRegistered, h.audit.last())

	c, err := h.issuer.Verify(context.Background(), sess.AccessToken)
	require.NoError(t, err)
	require.NoError(t, claims.Validate(&c.Payload), "a user without outlets still carries a well-formed tenant")
	assert.Empty(t, c.Tenant.AvailableOutlets)
	assert.Nil(t, c.Tenant.CurrentOutletID)
	assert.Equal(t, "tablet-1", c.Tenant.SessionContext.DeviceID)

	_, err = h.service.Register(context.Background(), RegisterInput{Name: "Dup", Email: "SITI@example.com", Password: "rahasia123"}, meta)
	assert.ErrorIs(t, err, services.ErrDuplicateEmail)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("success snapshots memberships", func(t *testing.T) {
		h := newHarness(t, 5)
		reg := h.register(t, "owner@example.com")
		m, err := models.NewMembership(reg.User.ID, 7, auth.RoleOwner, nil)
		require.NoError(t, err)
		m.ID = 1
		m.Outlet = &models.Outlet{ID: 7, Name: "Pusat", IsActive: true}
		h.memberships.add(m)

		sess, err := h.service.Login(ctx, LoginInput{Email: "OWNER@example.com", Password: "rahasia123"}, meta)
		require.NoError(t, err)
		assert.NotEmpty(t, sess.RefreshToken)
		assert.Equal(t, models.AuditActionLoginSucceeded, h.audit.last())

		c, err := h.issuer.Verify(ctx, sess.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, c.Tenant.AvailableOutlets)
		assert.True(t, claims.HasPermission(&c.Payload, 7, auth.PermManageEmployees))
	})

	t.Run("wrong password", func(t *testing.T) {
		h := newHarness(t, 5)
		h.register(t, "owner@example.com")

		_, err := h.service.Login(ctx, LoginInput{Email: "owner@example.com", Password: "salah"}, meta)
		assert.ErrorIs(t, err, services.ErrInvalidCredentials)
		assert.Equal(t, models.AuditActionLoginFailed, h.audit.last())
	})

	t.Run("unknown email looks like wrong password", func(t *testing.T) {
		h := newHarness(t, 5)
		_, err := h.service.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "x"}, meta)
		assert.ErrorIs(t, err, services.ErrInvalidCredentials)
	})

	t.Run("inactive user", func(t *testing.T) {
		h := newHarness(t, 5)
		reg := h.register(t, "owner@example.com")
		reg.User.IsActive = false

		_, err := h.service.Login(ctx, LoginInput{Email: "owner@example.com", Password: "rahasia123"}, meta)
		assert.ErrorIs(t, err, services.ErrUserInactive)
		assert.True(t, services.IsForbiddenError(err))
	})

	t.Run("rate limited per email and address", func(t *testing.T) {
		h := newHarness(t, 2)
		h.register(t, "owner@example.com")

		for i := 0; i < 2; i++ {
			_, err := h.service.Login(ctx, LoginInput{Email: "owner@example.com", Password: "salah"}, meta)
			require.ErrorIs(t, err, services.ErrInvalidCredentials)
		}
		_, err := h.service.Login(ctx, LoginInput{Email: "owner@example.com", Password: "rahasia123"}, meta)
		require.ErrorIs(t, err, services.ErrRateLimitExceeded)
		assert.Equal(t, int64(60), services.GetErrorDetails(err)["retry_after"])

		other := meta
		other.IPAddress = "10.0.0.6"
		_, err = h.service.Login(ctx, LoginInput{Email: "owner@example.com", Password: "rahasia123"}, other)
		assert.NoError(t, err)
	})

	t.Run("full limiter denies untracked keys", func(t *testing.T) {
		h := newHarness(t, 5)
		h.register(t, "victim@example.com")
		limiter := ratelimit.NewMemoryLimiter(ratelimit.WithMaxKeys(10), ratelimit.WithClock(h.clock.Now))
		h.service.limiter = limiter
		for i := 0; i < 10; i++ {
			_, err := limiter.Allow(ctx, ratelimit.LoginKey(fmt.Sprintf("junk%d@example.com", i), meta.IPAddress), 5, time.Minute)
			require.NoError(t, err)
		}

		for i := 0; i < 20; i++ {
			_, err := h.service.Login(ctx, LoginInput{Email: "victim@example.com", Password: "salah"}, meta)
			require.ErrorIs(t, err, services.ErrRateLimitExceeded)
		}
		assert.NotEqual(t, models.AuditActionLoginFailed, h.audit.last(), "credentials are never checked")
	})

	t.Run("limiter backend failure fails open", func(t *testing.T) {
		h := newHarness(t, 5)
		h.register(t, "owner@example.com")
		h.service.limiter = failingLimiter{err: errors.New("dial tcp 127.0.0.1:6379: connection refused")}

		_, err := h.service.Login(ctx, LoginInput{Email: "owner@example.com", Password: "rahasia123"}, meta)
		assert.NoError(t, err)
	})
}

func TestRefresh_WithRefreshTokenResnapshots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	reg := h.register(t, "staff@example.com")

	m, err := models.NewMembership(reg.User.ID, 9, auth.RoleKasir, nil)
	require.NoError(t, err)
	m.ID = 4
	m.Outlet = &models.Outlet{ID: 9, Name: "Cabang", IsActive: true}
	h.memberships.add(m)

	h.clock.t = h.clock.t.Add(10 * time.Minute)
	sess, err := h.service.Refresh(ctx, RefreshInput{AccessToken: reg.AccessToken, RefreshToken: reg.RefreshToken}, meta)
	require.NoError(t, err)
	assert.Empty(t, sess.RefreshToken, "refresh token is not rotated")
	assert.Equal(t, models.AuditActionTokenRefreshed, h.audit.last())

	c, err := h.issuer.Verify(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, c.Tenant.AvailableOutlets)

	_, err = h.issuer.Verify(ctx, reg.AccessToken)
	assert.ErrorIs(t, err, services.ErrTokenRevoked)

	records, err := h.service.Devices(ctx, reg.User.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].UseCount)
}

func TestRefresh_WithAccessTokenInsideGrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	reg := h.register(t, "staff@example.com")

	h.clock.t = h.clock.t.Add(2 * time.Hour)
	_, err := h.issuer.Verify(ctx, reg.AccessToken)
	require.ErrorIs(t, err, services.ErrTokenExpired)

	sess, err := h.service.Refresh(ctx, RefreshInput{AccessToken: reg.AccessToken}, meta)
	require.NoError(t, err)
	_, err = h.issuer.Verify(ctx, sess.AccessToken)
	assert.NoError(t, err)

	_, err = h.service.Refresh(ctx, RefreshInput{AccessToken: reg.AccessToken}, meta)
	assert.ErrorIs(t, err, services.ErrTokenRevoked, "a refreshed token cannot be refreshed again")
}

func TestRefresh_MaxUsesHoldsUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	h.service.refresh = refreshtoken.NewStore(h.refresh, zap.NewNop(),
		refreshtoken.Config{TTL: 30 * 24 * time.Hour, MaxUses: 1}, refreshtoken.WithClock(h.clock.Now))
	reg := h.register(t, "staff@example.com")

	const attempts = 6
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		okays int
	)
	for n := 0; n < attempts; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.service.Refresh(ctx, RefreshInput{RefreshToken: reg.RefreshToken}, meta)
			if err == nil {
				mu.Lock()
				okays++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, services.ErrRefreshTokenInvalid)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, okays)
	records, err := h.service.Devices(ctx, reg.User.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].UseCount)
}

func TestRefresh_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("access token past grace", func(t *testing.T) {
		h := newHarness(t, 5)
		reg := h.register(t, "staff@example.com")
		h.clock.t = h.clock.t.Add(26 * time.Hour)

		_, err := h.service.Refresh(ctx, RefreshInput{AccessToken: reg.AccessToken}, meta)
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		h := newHarness(t, 5)
		_, err := h.service.Refresh(ctx, RefreshInput{RefreshToken: "not-a-token"}, meta)
		assert.ErrorIs(t, err, services.ErrRefreshTokenInvalid)
	})

	t.Run("nothing presented", func(t *testing.T) {
		h := newHarness(t, 5)
		_, err := h.service.Refresh(ctx, RefreshInput{}, meta)
		assert.ErrorIs(t, err, services.ErrMissingToken)
	})

	t.Run("deactivated user", func(t *testing.T) {
		h := newHarness(t, 5)
		reg := h.register(t, "staff@example.com")
		reg.User.IsActive = false

		_, err := h.service.Refresh(ctx, RefreshInput{RefreshToken: reg.RefreshToken}, meta)
		assert.ErrorIs(t, err, services.ErrUserInactive)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	reg := h.register(t, "staff@example.com")

	require.NoError(t, h.service.Logout(ctx, reg.User.ID, reg.AccessToken, reg.RefreshToken, meta))
	assert.Equal(t, models.AuditActionLogout, h.audit.last())

	_, err := h.issuer.Verify(ctx, reg.AccessToken)
	assert.ErrorIs(t, err, services.ErrTokenRevoked)

	_, err = h.service.Refresh(ctx, RefreshInput{RefreshToken: reg.RefreshToken}, meta)
	assert.ErrorIs(t, err, services.ErrRefreshTokenInvalid)
}

func TestLogoutAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	reg := h.register(t, "staff@example.com")
	_, err := h.service.Login(ctx, LoginInput{Email: "staff@example.com", Password: "rahasia123"}, meta)
	require.NoError(t, err)

	n, err := h.service.LogoutAll(ctx, reg.User.ID, reg.AccessToken, meta)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMe(t *testing.T) {
	h := newHarness(t, 5)
	reg := h.register(t, "staff@example.com")

	user, err := h.service.Me(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "staff@example.com", user.Email)

	_, err = h.service.Me(context.Background(), 999)
	assert.True(t, errors.Is(err, services.ErrUserNotFound))
}
