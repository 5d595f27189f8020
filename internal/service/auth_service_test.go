package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dadyutenga/ShopApI/internal/abuse"
	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/config"
	"github.com/dadyutenga/ShopApI/internal/domain"
	"github.com/dadyutenga/ShopApI/internal/keys"
	"github.com/dadyutenga/ShopApI/internal/otp"
	"github.com/dadyutenga/ShopApI/internal/repository"
	"github.com/dadyutenga/ShopApI/internal/service"
	"github.com/dadyutenga/ShopApI/internal/token"
)

func testConfig() config.Config {
	return config.Config{
		Issuer:             "ShopAPI",
		Audience:           "ShopAPIClient",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    time.Hour,
		RefreshTokenBytes:  32,
		SigningKeyTTL:      24 * time.Hour,
		OTPLength:          6,
		OTPMaxAttempts:     3,
		OTPExpiry:          2 * time.Minute,
		OTPResendGuard:     30 * time.Second,
		OTPRateLimitMax:    5,
		OTPRateLimitWindow: time.Minute,
		LockoutThreshold:   5,
		LockoutWindow:      15 * time.Minute,
	}
}

type fixture struct {
	auth   *service.AuthService
	tokens *token.Service
	users  *memoryUserRepo
	user   domain.User
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	user := domain.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: string(hash),
		Role:         "Customer",
		Provider:     "local",
		IsActive:     true,
	}

	store := cache.NewMemory()
	logger := zap.NewNop()
	keyManager := keys.NewManager(store, cfg.SigningKeyTTL, logger)
	tokens := token.NewService(keyManager, token.NewCacheRefreshStore(store), store, cfg, logger)
	otpManager := otp.NewManager(store, cfg, logger)
	limiter := abuse.NewLimiter(store, logger)
	users := &memoryUserRepo{users: map[string]domain.User{user.Email: user}}

	return &fixture{
		auth:   service.NewAuthService(users, tokens, otpManager, limiter, cfg, logger),
		tokens: tokens,
		users:  users,
		user:   user,
	}
}

func TestLoginIssuesPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	pair, err := f.auth.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)

	principal, err := f.auth.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, f.user.ID, principal.UserID)
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, err := f.auth.Login(ctx, "user@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	for i := 0; i < 5; i++ {
		_, err := f.auth.Login(ctx, "user@example.com", "wrong")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	}

	// Even the correct password is rejected while the lock holds.
	_, err := f.auth.Login(ctx, "user@example.com", "password")
	require.ErrorIs(t, err, domain.ErrLocked)
}

func TestLoginResetsFailureCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	for i := 0; i < 4; i++ {
		_, err := f.auth.Login(ctx, "user@example.com", "wrong")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	}

	_, err := f.auth.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	// The successful login cleared the counter; four more failures do not
	// lock the account again.
	for i := 0; i < 4; i++ {
		_, err := f.auth.Login(ctx, "user@example.com", "wrong")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	}
	_, err = f.auth.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)
}

func TestLoginInactiveUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	inactive := f.user
	inactive.IsActive = false
	f.users.users[inactive.Email] = inactive

	_, err := f.auth.Login(ctx, "user@example.com", "password")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRefreshRotateOnUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	pair, err := f.auth.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	next, err := f.auth.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// Re-submitting the consumed refresh token fails.
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLogoutBlacklistsAccessToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	pair, err := f.auth.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, pair.AccessToken, pair.RefreshToken))

	_, err = f.auth.ValidateAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestOTPLoginFlow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.OTPResendGuard = 10 * time.Millisecond
	f := newFixture(t, cfg)

	issuance, err := f.auth.RequestOTP(ctx, "user@example.com", "customer_auth", "10.0.0.1")
	require.NoError(t, err)
	require.Len(t, issuance.Code, 6)
	require.Equal(t, "user@example.com", issuance.Destination)

	pair, result, err := f.auth.VerifyOTP(ctx, "user@example.com", "customer_auth", issuance.Code)
	require.NoError(t, err)
	require.Equal(t, otp.ResultValid, result)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
}

func TestOTPWrongCodeConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	f := newFixture(t, cfg)

	issuance, err := f.auth.RequestOTP(ctx, "user@example.com", "customer_auth", "10.0.0.1")
	require.NoError(t, err)

	wrong := "000000"
	if wrong == issuance.Code {
		wrong = "000001"
	}

	for i := 0; i < 2; i++ {
		_, result, err := f.auth.VerifyOTP(ctx, "user@example.com", "customer_auth", wrong)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		require.Equal(t, otp.ResultInvalid, result)
	}

	_, result, err := f.auth.VerifyOTP(ctx, "user@example.com", "customer_auth", wrong)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Equal(t, otp.ResultAttemptsExceeded, result)

	// The correct code fails too once attempts are exhausted.
	_, result, err = f.auth.VerifyOTP(ctx, "user@example.com", "customer_auth", issuance.Code)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Equal(t, otp.ResultAttemptsExceeded, result)
}

func TestRequestOTPRateLimitedPerIP(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.OTPResendGuard = time.Nanosecond
	f := newFixture(t, cfg)

	for i := 0; i < 5; i++ {
		_, err := f.auth.RequestOTP(ctx, "user@example.com", "customer_auth", "10.0.0.9")
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	_, err := f.auth.RequestOTP(ctx, "user@example.com", "customer_auth", "10.0.0.9")
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestRequestOTPResendGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, err := f.auth.RequestOTP(ctx, "user@example.com", "customer_auth", "10.0.0.1")
	require.NoError(t, err)

	// Back-to-back request inside the guard window is throttled.
	_, err = f.auth.RequestOTP(ctx, "user@example.com", "customer_auth", "10.0.0.1")
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestResendOTPThrottledByGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, err := f.auth.RequestOTP(ctx, "user@example.com", "customer_auth", "10.0.0.1")
	require.NoError(t, err)

	_, err = f.auth.ResendOTP(ctx, "user@example.com", "customer_auth")
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestResendOTPKeepsSameCode(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.OTPResendGuard = 10 * time.Millisecond
	f := newFixture(t, cfg)

	issuance, err := f.auth.RequestOTP(ctx, "user@example.com", "customer_auth", "10.0.0.1")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	resent, err := f.auth.ResendOTP(ctx, "user@example.com", "customer_auth")
	require.NoError(t, err)
	// An empty code marks a refresh: the original code was kept.
	require.Empty(t, resent.Code)
	require.False(t, resent.ExpiresAt.IsZero())

	_, result, err := f.auth.VerifyOTP(ctx, "user@example.com", "customer_auth", issuance.Code)
	require.NoError(t, err)
	require.Equal(t, otp.ResultValid, result)
}

func TestResendOTPFallsBackToGenerate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	// No live challenge, so the resend generates a fresh code.
	issuance, err := f.auth.ResendOTP(ctx, "user@example.com", "customer_auth")
	require.NoError(t, err)
	require.Len(t, issuance.Code, 6)

	_, result, err := f.auth.VerifyOTP(ctx, "user@example.com", "customer_auth", issuance.Code)
	require.NoError(t, err)
	require.Equal(t, otp.ResultValid, result)
}

func TestExternalLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	pair, err := f.auth.ExternalLogin(ctx, service.ExternalIdentity{Email: "user@example.com", Provider: "google"})
	require.NoError(t, err)

	principal, err := f.auth.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "google", principal.Provider)
}

type memoryUserRepo struct {
	users map[string]domain.User
}

var _ repository.UserRepository = (*memoryUserRepo)(nil)

func (m *memoryUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	user, ok := m.users[email]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (m *memoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}
