// Package keys owns the signing-key lifecycle: creation, rotation and
// historical lookup by kid. Key material lives in the TTL store, so every
// process sees the same current key and old keys expire passively.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	currentKidKey  = "jwt:current_kid"
	previousKidKey = "jwt:previous_kid"
	keyPrefix      = "jwt:key:"

	rsaBits = 2048
)

// ErrKeyNotFound means the kid was never issued or its material expired
// from the store. Callers must treat it as "cannot verify, reject token".
var ErrKeyNotFound = errors.New("signing key not found")

// Store is the subset of the TTL store the manager needs.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type keyMaterial struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	CreatedAt  int64  `json:"created_at"`
}

// Manager resolves the current signing key, creating one when none exists,
// and looks up historical keys for verification of older tokens.
type Manager struct {
	store  Store
	keyTTL time.Duration
	logger *zap.Logger
}

// NewManager wires the rotation manager. keyTTL must exceed the combined
// access and refresh token lifetimes so no token outlives its key.
func NewManager(store Store, keyTTL time.Duration, logger *zap.Logger) *Manager {
	return &Manager{store: store, keyTTL: keyTTL, logger: logger}
}

// CurrentSigningKey returns the active private key and its kid. When the
// current pointer is absent, or points at material that expired from the
// store, a fresh key is created and published. Two concurrent creators may
// each publish a key; that race is benign because both stay retrievable by
// kid for verification.
func (m *Manager) CurrentSigningKey(ctx context.Context) (*rsa.PrivateKey, string, error) {
	var kid string
	ok, err := m.store.Get(ctx, currentKidKey, &kid)
	if err != nil {
		return nil, "", fmt.Errorf("load current kid: %w", err)
	}
	if !ok {
		return m.createKey(ctx)
	}

	var material keyMaterial
	ok, err = m.store.Get(ctx, keyPrefix+kid, &material)
	if err != nil {
		return nil, "", fmt.Errorf("load key %s: %w", kid, err)
	}
	if !ok {
		return m.createKey(ctx)
	}

	private, err := parsePrivateKey(material.PrivateKey)
	if err != nil {
		return nil, "", fmt.Errorf("parse key %s: %w", kid, err)
	}
	return private, kid, nil
}

// KeyByKid returns the public portion of a historical key for verifying
// older tokens.
func (m *Manager) KeyByKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	var material keyMaterial
	ok, err := m.store.Get(ctx, keyPrefix+kid, &material)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", kid, err)
	}
	if !ok {
		return nil, ErrKeyNotFound
	}
	return parsePublicKey(material.PublicKey)
}

// Rotate forces creation of a new current key. Old keys remain valid for
// verification until their own TTL lapses, so rotation never invalidates
// outstanding tokens.
func (m *Manager) Rotate(ctx context.Context) (string, error) {
	var previous string
	if ok, err := m.store.Get(ctx, currentKidKey, &previous); err == nil && ok {
		if err := m.store.Set(ctx, previousKidKey, previous, m.keyTTL); err != nil {
			return "", fmt.Errorf("record previous kid: %w", err)
		}
	}

	_, kid, err := m.createKey(ctx)
	if err != nil {
		return "", err
	}
	m.logger.Info("jwt signing keys rotated", zap.String("kid", kid))
	return kid, nil
}

// JWKS returns the public key set for the current key and, when one is
// recorded, the previously rotated key still inside its TTL.
func (m *Manager) JWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	set := &jose.JSONWebKeySet{}

	_, kid, err := m.CurrentSigningKey(ctx)
	if err != nil {
		return nil, err
	}
	kids := []string{kid}

	var previous string
	if ok, err := m.store.Get(ctx, previousKidKey, &previous); err == nil && ok && previous != kid {
		kids = append(kids, previous)
	}

	for _, id := range kids {
		public, err := m.KeyByKid(ctx, id)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       public,
			KeyID:     id,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	}
	return set, nil
}

func (m *Manager) createKey(ctx context.Context) (*rsa.PrivateKey, string, error) {
	private, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, "", fmt.Errorf("generate rsa key: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("marshal public key: %w", err)
	}

	kid := uuid.NewString()
	material := keyMaterial{
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(private)})),
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})),
		CreatedAt:  time.Now().Unix(),
	}

	if err := m.store.Set(ctx, keyPrefix+kid, material, m.keyTTL); err != nil {
		return nil, "", fmt.Errorf("store key %s: %w", kid, err)
	}
	if err := m.store.Set(ctx, currentKidKey, kid, m.keyTTL); err != nil {
		return nil, "", fmt.Errorf("publish current kid: %w", err)
	}

	m.logger.Info("new jwt signing key created", zap.String("kid", kid))
	return private, kid, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("invalid private key pem")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func parsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("invalid public key pem")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	public, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", parsed)
	}
	return public, nil
}
