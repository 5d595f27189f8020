// Package token issues and validates signed access tokens, manages opaque
// refresh tokens, and maintains the jti blacklist used for early revocation.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/config"
	"github.com/dadyutenga/ShopApI/internal/domain"
	"github.com/dadyutenga/ShopApI/internal/keys"
)

const blacklistPrefix = "blacklist:"

// RefreshStore persists opaque refresh tokens. The cache-backed store is
// the default; a database-backed implementation satisfies the same
// contract for deployments that want refresh tokens durable.
type RefreshStore interface {
	Save(ctx context.Context, record domain.RefreshToken, ttl time.Duration) error
	Find(ctx context.Context, token string) (domain.RefreshToken, bool, error)
	// Revoke invalidates the token and reports whether this call did the
	// revoking. Exactly one of two racing callers observes true, which is
	// what enforces single use.
	Revoke(ctx context.Context, token string) (bool, error)
}

// AccessClaims are the custom claims carried next to the registered set.
type AccessClaims struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	Provider string `json:"provider"`
}

// Principal is the verified identity extracted from a valid access token.
type Principal struct {
	UserID    uuid.UUID
	Email     string
	Role      string
	Provider  string
	TokenID   string
	ExpiresAt time.Time
}

// Service signs access tokens with the current rotation key and validates
// incoming ones by kid lookup, signature, registered-claims and blacklist
// checks. Every check failing maps to domain.ErrUnauthorized; the store
// being down fails closed.
type Service struct {
	keys    *keys.Manager
	refresh RefreshStore
	store   cache.Store
	cfg     config.Config
	logger  *zap.Logger
}

// NewService wires the token service.
func NewService(keyManager *keys.Manager, refresh RefreshStore, store cache.Store, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{keys: keyManager, refresh: refresh, store: store, cfg: cfg, logger: logger}
}

// IssueAccessToken builds the claim set for user, signs it with the current
// key and embeds the kid in the token header.
func (s *Service) IssueAccessToken(ctx context.Context, user domain.User) (string, error) {
	private, kid, err := s.keys.CurrentSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("current signing key: %w", err)
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       jose.JSONWebKey{Key: private, KeyID: kid},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("build signer: %w", err)
	}

	now := time.Now()
	standard := jwt.Claims{
		Issuer:   s.cfg.Issuer,
		Audience: jwt.Audience{s.cfg.Audience},
		Subject:  user.ID.String(),
		ID:       uuid.NewString(),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
	}
	custom := AccessClaims{Email: user.Email, Role: user.Role, Provider: user.Provider}

	raw, err := jwt.Signed(signer).Claims(standard).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return raw, nil
}

// ValidateAccessToken verifies signature, issuer, audience, expiry and the
// jti blacklist, returning the verified principal only when every check
// passes.
func (s *Service) ValidateAccessToken(ctx context.Context, raw string) (*Principal, error) {
	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("%w: malformed token", domain.ErrUnauthorized)
	}

	kid := headerKid(parsed)
	if kid == "" {
		return nil, fmt.Errorf("%w: token missing kid header", domain.ErrUnauthorized)
	}

	public, err := s.keys.KeyByKid(ctx, kid)
	if err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: unknown signing key %s", domain.ErrUnauthorized, kid)
		}
		return nil, fmt.Errorf("resolve signing key: %w", err)
	}

	var standard jwt.Claims
	var custom AccessClaims
	if err := parsed.Claims(public, &standard, &custom); err != nil {
		return nil, fmt.Errorf("%w: invalid signature", domain.ErrUnauthorized)
	}

	if err := standard.Validate(jwt.Expected{
		Issuer:      s.cfg.Issuer,
		AnyAudience: jwt.Audience{s.cfg.Audience},
		Time:        time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	blacklisted, err := s.IsBlacklisted(ctx, standard.ID)
	if err != nil {
		return nil, fmt.Errorf("blacklist check: %w", err)
	}
	if blacklisted {
		return nil, fmt.Errorf("%w: token revoked", domain.ErrUnauthorized)
	}

	userID, err := uuid.Parse(standard.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subject", domain.ErrUnauthorized)
	}

	return &Principal{
		UserID:    userID,
		Email:     custom.Email,
		Role:      custom.Role,
		Provider:  custom.Provider,
		TokenID:   standard.ID,
		ExpiresAt: standard.Expiry.Time(),
	}, nil
}

// IssueRefreshToken generates an opaque high-entropy token string.
func (s *Service) IssueRefreshToken() (string, error) {
	buf := make([]byte, s.cfg.RefreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SaveRefreshToken records the token for user with the configured lifetime.
func (s *Service) SaveRefreshToken(ctx context.Context, userID uuid.UUID, token string) error {
	now := time.Now()
	record := domain.RefreshToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.refresh.Save(ctx, record, s.cfg.RefreshTokenTTL); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// ValidateRefreshToken resolves the owning user, rejecting absent, expired
// or revoked tokens.
func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (uuid.UUID, error) {
	record, ok, err := s.refresh.Find(ctx, token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find refresh token: %w", err)
	}
	if !ok || record.Revoked || time.Now().After(record.ExpiresAt) {
		return uuid.Nil, domain.ErrInvalidToken
	}
	return record.UserID, nil
}

// RevokeRefreshToken invalidates the token. It returns
// domain.ErrInvalidToken when the token was already consumed, which is how
// a refresh exchange detects it lost the rotate-on-use race.
func (s *Service) RevokeRefreshToken(ctx context.Context, token string) error {
	revoked, err := s.refresh.Revoke(ctx, token)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if !revoked {
		return domain.ErrInvalidToken
	}
	return nil
}

// BlacklistToken records jti so any token bearing it fails validation for
// ttl, the remaining lifetime of the revoked token.
func (s *Service) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.store.Set(ctx, blacklistPrefix+jti, true, ttl); err != nil {
		return fmt.Errorf("blacklist %s: %w", jti, err)
	}
	return nil
}

// IsBlacklisted reports whether jti was revoked.
func (s *Service) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	return s.store.Exists(ctx, blacklistPrefix+jti)
}

func headerKid(parsed *jwt.JSONWebToken) string {
	for _, header := range parsed.Headers {
		if header.KeyID != "" {
			return header.KeyID
		}
	}
	return ""
}
