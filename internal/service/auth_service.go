package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dadyutenga/ShopApI/internal/abuse"
	"github.com/dadyutenga/ShopApI/internal/config"
	"github.com/dadyutenga/ShopApI/internal/domain"
	"github.com/dadyutenga/ShopApI/internal/otp"
	"github.com/dadyutenga/ShopApI/internal/repository"
	"github.com/dadyutenga/ShopApI/internal/token"
)

// OTPIssuance is handed back to the delivery layer after an OTP request.
// Code is empty when an existing challenge was refreshed rather than
// replaced.
type OTPIssuance struct {
	Code        string
	Destination string
	ExpiresAt   time.Time
}

// ExternalIdentity is a provider-validated identity handed to the core by
// the OAuth callback plumbing.
type ExternalIdentity struct {
	Email    string
	Provider string
}

// AuthService orchestrates login, OTP and refresh flows across the token
// service, OTP manager and abuse control.
type AuthService struct {
	users   repository.UserRepository
	tokens  *token.Service
	otp     *otp.Manager
	limiter *abuse.Limiter
	cfg     config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewAuthService wires the orchestration layer.
func NewAuthService(users repository.UserRepository, tokens *token.Service, otpManager *otp.Manager, limiter *abuse.Limiter, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		otp:     otpManager,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("shopapi-auth/service"),
	}
}

// Login performs password authentication. The lockout check runs before
// anything else; wrong passwords feed the failure counter and a successful
// login clears it.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	normalized := normalizeEmail(email)
	failKey := loginFailKey(normalized)

	locked, err := s.limiter.IsLocked(ctx, failKey, s.cfg.LockoutThreshold)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}
	if locked {
		s.logger.Warn("login rejected, account locked", zap.String("email", MaskEmail(normalized)))
		return domain.TokenPair{}, domain.ErrLocked
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.TokenPair{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
		}
		span.RecordError(err)
		return domain.TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return domain.TokenPair{}, fmt.Errorf("%w: account inactive", domain.ErrUnauthorized)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		count, incErr := s.limiter.IncrementFailure(ctx, failKey, s.cfg.LockoutWindow)
		if incErr != nil {
			span.RecordError(incErr)
			return domain.TokenPair{}, incErr
		}
		if count >= int64(s.cfg.LockoutThreshold) {
			s.logger.Warn("account locked", zap.String("email", MaskEmail(normalized)), zap.Int64("failures", count))
		}
		return domain.TokenPair{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}

	if err := s.limiter.Reset(ctx, failKey); err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}
	s.audit("auth.password_login.success", zap.String("user_id", user.ID.String()))
	return pair, nil
}

// Refresh exchanges a refresh token for a fresh pair. The old token is
// revoked atomically before anything is issued; losing that race rejects
// the exchange, which is what makes the token single use.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	userID, err := s.tokens.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return domain.TokenPair{}, fmt.Errorf("%w: invalid refresh token", domain.ErrUnauthorized)
		}
		span.RecordError(err)
		return domain.TokenPair{}, err
	}

	if err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return domain.TokenPair{}, fmt.Errorf("%w: refresh token already used", domain.ErrUnauthorized)
		}
		span.RecordError(err)
		return domain.TokenPair{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.TokenPair{}, fmt.Errorf("%w: user not found", domain.ErrUnauthorized)
		}
		span.RecordError(err)
		return domain.TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return domain.TokenPair{}, fmt.Errorf("%w: account inactive", domain.ErrUnauthorized)
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}
	s.audit("auth.refresh.success", zap.String("user_id", user.ID.String()))
	return pair, nil
}

// Logout blacklists the access token's jti for its remaining lifetime and
// revokes the refresh token. Both sides are best effort against an
// already-invalid credential; a logout never fails because the session was
// half dead.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	if principal, err := s.tokens.ValidateAccessToken(ctx, accessToken); err == nil {
		remaining := time.Until(principal.ExpiresAt)
		if err := s.tokens.BlacklistToken(ctx, principal.TokenID, remaining); err != nil {
			span.RecordError(err)
			return err
		}
		s.audit("auth.logout", zap.String("user_id", principal.UserID.String()))
	}

	if refreshToken != "" {
		if err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil && !errors.Is(err, domain.ErrInvalidToken) {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// RequestOTP issues a fresh challenge for the user. OTP requests are rate
// limited per source IP, and the resend guard rejects back-to-back
// requests for the same user.
func (s *AuthService) RequestOTP(ctx context.Context, email, purpose, sourceIP string) (OTPIssuance, error) {
	ctx, span := s.startSpan(ctx, "AuthService.RequestOTP")
	defer span.End()

	if err := s.limiter.EnforceRate(ctx, otpRateKey(sourceIP), s.cfg.OTPRateLimitWindow, s.cfg.OTPRateLimitMax); err != nil {
		return OTPIssuance{}, err
	}

	normalized := normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return OTPIssuance{}, fmt.Errorf("%w: unknown account", domain.ErrUnauthorized)
		}
		span.RecordError(err)
		return OTPIssuance{}, fmt.Errorf("load user: %w", err)
	}

	ok, err := s.otp.CanResend(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return OTPIssuance{}, err
	}
	if !ok {
		return OTPIssuance{}, fmt.Errorf("%w: resend guard active", domain.ErrRateLimited)
	}

	code, expiresAt, err := s.otp.Generate(ctx, user.ID, user.Email, purpose)
	if err != nil {
		span.RecordError(err)
		return OTPIssuance{}, err
	}

	s.logger.Info("otp generated", zap.String("email", MaskEmail(user.Email)), zap.String("purpose", purpose))
	return OTPIssuance{Code: code, Destination: user.Email, ExpiresAt: expiresAt}, nil
}

// ResendOTP extends the live challenge so the same code stays deliverable,
// falling back to a fresh Generate when none is live. The resend guard
// applies either way.
func (s *AuthService) ResendOTP(ctx context.Context, email, purpose string) (OTPIssuance, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ResendOTP")
	defer span.End()

	normalized := normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return OTPIssuance{}, fmt.Errorf("%w: unknown account", domain.ErrUnauthorized)
		}
		span.RecordError(err)
		return OTPIssuance{}, fmt.Errorf("load user: %w", err)
	}

	ok, err := s.otp.CanResend(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return OTPIssuance{}, err
	}
	if !ok {
		s.logger.Warn("otp resend throttled", zap.String("email", MaskEmail(user.Email)))
		return OTPIssuance{}, fmt.Errorf("%w: resend guard active", domain.ErrRateLimited)
	}

	refreshed, err := s.otp.Refresh(ctx, user.ID, purpose)
	if err != nil {
		span.RecordError(err)
		return OTPIssuance{}, err
	}
	if refreshed {
		s.logger.Info("otp resent", zap.String("email", MaskEmail(user.Email)))
		return OTPIssuance{Destination: user.Email, ExpiresAt: time.Now().Add(s.cfg.OTPExpiry)}, nil
	}

	code, expiresAt, err := s.otp.Generate(ctx, user.ID, user.Email, purpose)
	if err != nil {
		span.RecordError(err)
		return OTPIssuance{}, err
	}
	return OTPIssuance{Code: code, Destination: user.Email, ExpiresAt: expiresAt}, nil
}

// VerifyOTP validates a candidate code and, on success, issues a token
// pair. The discriminated result is returned so the transport can phrase
// failures precisely.
func (s *AuthService) VerifyOTP(ctx context.Context, email, purpose, code string) (domain.TokenPair, otp.Result, error) {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyOTP")
	defer span.End()

	normalized := normalizeEmail(email)

	locked, err := s.limiter.IsLocked(ctx, loginFailKey(normalized), s.cfg.LockoutThreshold)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, otp.ResultInvalid, err
	}
	if locked {
		return domain.TokenPair{}, otp.ResultInvalid, domain.ErrLocked
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.TokenPair{}, otp.ResultInvalid, fmt.Errorf("%w: unknown account", domain.ErrUnauthorized)
		}
		span.RecordError(err)
		return domain.TokenPair{}, otp.ResultInvalid, fmt.Errorf("load user: %w", err)
	}

	result, err := s.otp.Validate(ctx, user.ID, purpose, code)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, result, err
	}
	if result != otp.ResultValid {
		s.logger.Warn("otp validation failed",
			zap.String("email", MaskEmail(user.Email)),
			zap.String("result", result.String()))
		return domain.TokenPair{}, result, fmt.Errorf("%w: otp %s", domain.ErrUnauthorized, result)
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, result, err
	}
	s.audit("auth.otp_login.success", zap.String("user_id", user.ID.String()))
	return pair, result, nil
}

// ExternalLogin issues a pair for an identity that was already validated by
// an external provider. This is the boundary with the OAuth plumbing.
func (s *AuthService) ExternalLogin(ctx context.Context, identity ExternalIdentity) (domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ExternalLogin")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(identity.Email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.TokenPair{}, fmt.Errorf("%w: unknown account", domain.ErrUnauthorized)
		}
		span.RecordError(err)
		return domain.TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return domain.TokenPair{}, fmt.Errorf("%w: account inactive", domain.ErrUnauthorized)
	}

	user.Provider = identity.Provider
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}
	s.audit("auth.external_login.success", zap.String("user_id", user.ID.String()), zap.String("provider", identity.Provider))
	return pair, nil
}

// ValidateAccess verifies a bearer token for the HTTP middleware.
func (s *AuthService) ValidateAccess(ctx context.Context, raw string) (*token.Principal, error) {
	return s.tokens.ValidateAccessToken(ctx, raw)
}

func (s *AuthService) issuePair(ctx context.Context, user domain.User) (domain.TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(ctx, user)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return domain.TokenPair{}, err
	}
	if err := s.tokens.SaveRefreshToken(ctx, user.ID, refresh); err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, fields ...zap.Field) {
	s.logger.Info(event, fields...)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func loginFailKey(email string) string {
	return "loginfail:" + email
}

func otpRateKey(ip string) string {
	return "rate:otp:" + ip
}
