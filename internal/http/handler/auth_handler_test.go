package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
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
	"github.com/dadyutenga/ShopApI/internal/service"
	"github.com/dadyutenga/ShopApI/internal/token"

	httpHandler "github.com/dadyutenga/ShopApI/internal/http/handler"
)

func testConfig() config.Config {
	return config.Config{
		Issuer:             "ShopAPI",
		Audience:           "ShopAPIClient",
		AccessTokenTTL:     time.Minute,
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

func newTestHandler(t *testing.T) (*httpHandler.AuthHandler, *keys.Manager) {
	t.Helper()
	cfg := testConfig()
	store := cache.NewMemory()
	logger := zap.NewNop()
	keyManager := keys.NewManager(store, cfg.SigningKeyTTL, logger)
	tokens := token.NewService(keyManager, token.NewCacheRefreshStore(store), store, cfg, logger)
	otpManager := otp.NewManager(store, cfg, logger)
	limiter := abuse.NewLimiter(store, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	users := &singleUserRepo{user: domain.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: string(hash),
		Role:         "Customer",
		Provider:     "local",
		IsActive:     true,
	}}

	auth := service.NewAuthService(users, tokens, otpManager, limiter, cfg, logger)
	return httpHandler.NewAuthHandler(auth, keyManager, cfg, logger), keyManager
}

func TestJWKSHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, keyManager := newTestHandler(t)

	// Force a key so the set is non-empty.
	_, err := keyManager.Rotate(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.JWKS(c)

	res := w.Result()
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "keys")
	require.Contains(t, string(body), "RS256")
}

func TestLoginHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"user@example.com","password":"password"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.Login(c)

	res := w.Result()
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "access_token")
	require.Contains(t, string(body), "refresh_token")
}

func TestLoginHandlerBadCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"user@example.com","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.Login(c)

	require.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
}

func TestOTPResendHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestHandler(t)

	// First resend for the user falls through to a fresh challenge.
	req := httptest.NewRequest(http.MethodPost, "/auth/otp/resend",
		strings.NewReader(`{"email":"user@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.OTPResend(c)

	res := w.Result()
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "OTP resent")
}

func TestOTPResendHandlerThrottled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestHandler(t)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/auth/otp/resend",
			strings.NewReader(`{"email":"user@example.com"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = req

		handler.OTPResend(c)

		res := w.Result()
		require.Equal(t, want, res.StatusCode, "request %d", i)
		if want == http.StatusTooManyRequests {
			require.NotEmpty(t, res.Header.Get("Retry-After"))
		}
		_ = res.Body.Close()
	}
}

type singleUserRepo struct {
	user domain.User
}

func (s *singleUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	if email != s.user.Email {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.user, nil
}

func (s *singleUserRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	if id != s.user.ID {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.user, nil
}
