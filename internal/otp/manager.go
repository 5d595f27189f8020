// Package otp manages one-time-passcode challenges for passwordless login:
// generation, hashed storage, attempt-limited validation and resend
// throttling. Only a salted hash of the code ever touches the store;
// delivering the plaintext to the user is the caller's problem.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/config"
)

// Result is the discriminated outcome of validating a candidate code.
// Callers branch on it to choose differentiated user-facing messages.
type Result int

const (
	ResultValid Result = iota
	ResultInvalid
	ResultExpired
	ResultAttemptsExceeded
)

func (r Result) String() string {
	switch r {
	case ResultValid:
		return "valid"
	case ResultInvalid:
		return "invalid"
	case ResultExpired:
		return "expired"
	case ResultAttemptsExceeded:
		return "attempts_exceeded"
	default:
		return "unknown"
	}
}

type challenge struct {
	Hash        string    `json:"hash"`
	Purpose     string    `json:"purpose"`
	Destination string    `json:"destination"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Manager owns the challenge lifecycle per (user, purpose). At most one
// live challenge exists per pair; issuing a new one supersedes the old.
type Manager struct {
	store  cache.Store
	cfg    config.Config
	logger *zap.Logger
}

// NewManager wires the OTP manager.
func NewManager(store cache.Store, cfg config.Config, logger *zap.Logger) *Manager {
	return &Manager{store: store, cfg: cfg, logger: logger}
}

// Generate creates a fresh numeric code for (userID, purpose), stores its
// salted hash, resets the attempt counter and arms the resend guard. The
// plaintext code is returned to the caller for out-of-band delivery.
func (m *Manager) Generate(ctx context.Context, userID uuid.UUID, destination, purpose string) (string, time.Time, error) {
	code, err := m.secureCode()
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now()
	entry := challenge{
		Hash:        hashCode(userID, code),
		Purpose:     purpose,
		Destination: destination,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.cfg.OTPExpiry),
	}

	if err := m.store.Set(ctx, challengeKey(userID, purpose), entry, m.cfg.OTPExpiry); err != nil {
		return "", time.Time{}, fmt.Errorf("store otp challenge: %w", err)
	}
	// Ordering matters for cancellation safety: the challenge is written
	// first, so an interruption here leaves a stale counter at worst.
	if _, err := m.store.Delete(ctx, attemptsKey(userID, purpose)); err != nil {
		return "", time.Time{}, fmt.Errorf("reset otp attempts: %w", err)
	}
	if err := m.store.Set(ctx, resendKey(userID), now, m.cfg.OTPResendGuard); err != nil {
		return "", time.Time{}, fmt.Errorf("arm resend guard: %w", err)
	}

	return code, entry.ExpiresAt, nil
}

// Validate checks a candidate code. On a match the whole challenge state is
// destroyed, so a second call with the same code reports Expired. Wrong
// candidates consume an attempt; hitting the maximum destroys the hash and
// leaves the counter in place so the exceeded state sticks until the next
// Generate.
func (m *Manager) Validate(ctx context.Context, userID uuid.UUID, purpose, candidate string) (Result, error) {
	var attempts int64
	if ok, err := m.store.Get(ctx, attemptsKey(userID, purpose), &attempts); err != nil {
		return ResultInvalid, fmt.Errorf("load otp attempts: %w", err)
	} else if ok && attempts >= int64(m.cfg.OTPMaxAttempts) {
		return ResultAttemptsExceeded, nil
	}

	var entry challenge
	ok, err := m.store.Get(ctx, challengeKey(userID, purpose), &entry)
	if err != nil {
		return ResultInvalid, fmt.Errorf("load otp challenge: %w", err)
	}
	if !ok || time.Now().After(entry.ExpiresAt) {
		return ResultExpired, nil
	}

	candidateHash := hashCode(userID, candidate)
	if subtle.ConstantTimeCompare([]byte(entry.Hash), []byte(candidateHash)) == 1 {
		if err := m.destroy(ctx, userID, purpose, true); err != nil {
			return ResultInvalid, err
		}
		return ResultValid, nil
	}

	// Atomic increment, not read-then-write: two racing wrong guesses must
	// both count.
	attempts, err = m.store.Increment(ctx, attemptsKey(userID, purpose), m.cfg.OTPExpiry)
	if err != nil {
		return ResultInvalid, fmt.Errorf("count otp attempt: %w", err)
	}
	if attempts >= int64(m.cfg.OTPMaxAttempts) {
		// Drop the hash but keep the counter: the correct code must keep
		// failing until a fresh Generate.
		if err := m.destroy(ctx, userID, purpose, false); err != nil {
			return ResultAttemptsExceeded, err
		}
		m.logger.Warn("otp attempts exceeded", zap.String("user_id", userID.String()), zap.String("purpose", purpose))
		return ResultAttemptsExceeded, nil
	}
	return ResultInvalid, nil
}

// CanResend reports whether the resend guard window has elapsed since the
// last issuance or refresh. A user with no challenge yet may always send.
func (m *Manager) CanResend(ctx context.Context, userID uuid.UUID) (bool, error) {
	guarded, err := m.store.Exists(ctx, resendKey(userID))
	if err != nil {
		return false, fmt.Errorf("check resend guard: %w", err)
	}
	return !guarded, nil
}

// Refresh extends the live challenge's expiry without generating a new
// code. It returns false when no live challenge exists, signalling the
// caller to fall back to Generate.
func (m *Manager) Refresh(ctx context.Context, userID uuid.UUID, purpose string) (bool, error) {
	var entry challenge
	ok, err := m.store.Get(ctx, challengeKey(userID, purpose), &entry)
	if err != nil {
		return false, fmt.Errorf("load otp challenge: %w", err)
	}
	if !ok || time.Now().After(entry.ExpiresAt) {
		return false, nil
	}

	// Replace the stored value wholesale; the store has no partial update.
	entry.ExpiresAt = time.Now().Add(m.cfg.OTPExpiry)
	if err := m.store.Set(ctx, challengeKey(userID, purpose), entry, m.cfg.OTPExpiry); err != nil {
		return false, fmt.Errorf("refresh otp challenge: %w", err)
	}
	if err := m.store.Set(ctx, resendKey(userID), time.Now(), m.cfg.OTPResendGuard); err != nil {
		return false, fmt.Errorf("arm resend guard: %w", err)
	}
	return true, nil
}

func (m *Manager) destroy(ctx context.Context, userID uuid.UUID, purpose string, includeAttempts bool) error {
	if _, err := m.store.Delete(ctx, challengeKey(userID, purpose)); err != nil {
		return fmt.Errorf("clear otp challenge: %w", err)
	}
	if includeAttempts {
		if _, err := m.store.Delete(ctx, attemptsKey(userID, purpose)); err != nil {
			return fmt.Errorf("clear otp attempts: %w", err)
		}
	}
	if _, err := m.store.Delete(ctx, resendKey(userID)); err != nil {
		return fmt.Errorf("clear resend guard: %w", err)
	}
	return nil
}

// secureCode draws a code uniformly from [0, 10^N) and zero-pads to N digits.
func (m *Manager) secureCode() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(m.cfg.OTPLength)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", m.cfg.OTPLength, n), nil
}

// hashCode salts with the user id so equal codes across users never hash
// equal.
func hashCode(userID uuid.UUID, code string) string {
	sum := sha256.Sum256([]byte(userID.String() + ":" + code))
	return hex.EncodeToString(sum[:])
}

func challengeKey(userID uuid.UUID, purpose string) string {
	return fmt.Sprintf("otp:%s:%s", userID, purpose)
}

func attemptsKey(userID uuid.UUID, purpose string) string {
	return fmt.Sprintf("otp:attempts:%s:%s", userID, purpose)
}

func resendKey(userID uuid.UUID) string {
	return fmt.Sprintf("otp:resend:%s", userID)
}
