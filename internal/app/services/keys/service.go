// Package keys issues and verifies API credentials: long-lived API keys
// stored as SHA-256 hashes, and short-lived HS256 JWTs exchanged for them.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lenslab/vision-gateway/internal/app/domain/apikey"
	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

var (
	// ErrEmptyLabel is returned when a key is created without a label.
	ErrEmptyLabel = errors.New("key label is required")
	// ErrInvalidKey is returned for unknown, revoked or expired API keys.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrInvalidToken is returned for JWTs that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSecret is returned when token operations run without a signing
	// secret configured.
	ErrNoSecret = errors.New("jwt signing secret not configured")
)

const (
	keyPrefix       = "vg_"
	keySecretBytes  = 24
	tokenIssuer     = "vision-gateway"
	defaultTokenTTL = time.Hour
)

// Claims is the JWT payload issued for an API key.
type Claims struct {
	KeyID string `json:"key_id"`
	jwt.RegisteredClaims
}

// Service manages API keys and JWT issuance.
type Service struct {
	store    storage.APIKeyStore
	secret   []byte
	tokenTTL time.Duration
	log      *logger.Logger
}

// Option customises the service.
type Option func(*Service)

// WithTokenTTL sets the lifetime of issued JWTs.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// New constructs a key service. An empty secret disables JWT issuance while
// leaving API key verification working.
func New(store storage.APIKeyStore, secret []byte, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("keys")
	}
	s := &Service{
		store:    store,
		secret:   secret,
		tokenTTL: defaultTokenTTL,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateKey mints a new API key. The plaintext is returned exactly once;
// only its SHA-256 hash is stored.
func (s *Service) CreateKey(ctx context.Context, label string, ttl time.Duration) (apikey.Key, string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return apikey.Key{}, "", ErrEmptyLabel
	}

	buf := make([]byte, keySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return apikey.Key{}, "", fmt.Errorf("generate key material: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(buf)

	key := apikey.Key{
		Label: label,
		Hash:  hashKey(plaintext),
	}
	if ttl > 0 {
		expires := time.Now().UTC().Add(ttl)
		key.ExpiresAt = &expires
	}

	stored, err := s.store.CreateAPIKey(ctx, key)
	if err != nil {
		return apikey.Key{}, "", fmt.Errorf("store api key: %w", err)
	}

	s.log.WithField("key_id", stored.ID).WithField("label", stored.Label).Info("api key created")
	return stored, plaintext, nil
}

// VerifyAPIKey checks a plaintext key against the stored hashes and stamps
// its last use. Unknown and expired keys fail identically.
func (s *Service) VerifyAPIKey(ctx context.Context, plaintext string) (apikey.Key, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return apikey.Key{}, ErrInvalidKey
	}

	key, err := s.store.GetAPIKeyByHash(ctx, hashKey(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apikey.Key{}, ErrInvalidKey
		}
		return apikey.Key{}, fmt.Errorf("look up api key: %w", err)
	}
	if key.Expired(time.Now().UTC()) {
		return apikey.Key{}, fmt.Errorf("%w: expired", ErrInvalidKey)
	}

	if err := s.store.UpdateAPIKeyLastUsed(ctx, key.ID, time.Now().UTC()); err != nil {
		s.log.WithError(err).WithField("key_id", key.ID).Warn("failed to stamp key use")
	}
	return key, nil
}

// IssueJWT exchanges a valid API key for a signed short-lived token.
func (s *Service) IssueJWT(ctx context.Context, plaintextKey string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}

	key, err := s.VerifyAPIKey(ctx, plaintextKey)
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now().UTC()
	expires := now.Add(s.tokenTTL)
	claims := Claims{
		KeyID: key.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   key.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	s.log.WithField("key_id", key.ID).Debug("jwt issued")
	return token, expires, nil
}

// VerifyJWT validates a token and returns its claims.
func (s *Service) VerifyJWT(tokenString string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.KeyID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Revoke deletes an API key. Outstanding JWTs stay valid until they expire.
func (s *Service) Revoke(ctx context.Context, id string) error {
	if err := s.store.DeleteAPIKey(ctx, id); err != nil {
		return err
	}
	s.log.WithField("key_id", id).Info("api key revoked")
	return nil
}

// List returns all issued keys. Hashes never serialize.
func (s *Service) List(ctx context.Context) ([]apikey.Key, error) {
	return s.store.ListAPIKeys(ctx)
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
