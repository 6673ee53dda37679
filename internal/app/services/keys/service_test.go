package keys

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lenslab/vision-gateway/internal/app/domain/apikey"
	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/app/storage/memory"
)

func newTestService(opts ...Option) (*Service, *memory.Store) {
	store := memory.New()
	return New(store, []byte("test-secret"), nil, opts...), store
}

func TestCreateKeyHashesSecret(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	key, plaintext, err := svc.CreateKey(ctx, "mobile app", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(plaintext, "vg_") || len(plaintext) != len("vg_")+keySecretBytes*2 {
		t.Fatalf("unexpected plaintext shape: %q", plaintext)
	}
	if key.Hash != hashKey(plaintext) {
		t.Fatal("stored hash does not match plaintext hash")
	}
	if key.Hash == plaintext {
		t.Fatal("plaintext must not be stored")
	}
	if key.Label != "mobile app" || key.ExpiresAt != nil {
		t.Fatalf("unexpected key: %+v", key)
	}

	expiring, _, err := svc.CreateKey(ctx, "short lived", time.Hour)
	if err != nil {
		t.Fatalf("create expiring: %v", err)
	}
	if expiring.ExpiresAt == nil || !expiring.ExpiresAt.After(time.Now()) {
		t.Fatalf("expiry not set: %+v", expiring.ExpiresAt)
	}
}

func TestCreateKeyRequiresLabel(t *testing.T) {
	svc, _ := newTestService()
	if _, _, err := svc.CreateKey(context.Background(), "  ", 0); !errors.Is(err, ErrEmptyLabel) {
		t.Fatalf("expected ErrEmptyLabel, got %v", err)
	}
}

func TestVerifyAPIKey(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	key, plaintext, err := svc.CreateKey(ctx, "mobile app", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	verified, err := svc.VerifyAPIKey(ctx, plaintext)
	if err != nil || verified.ID != key.ID {
		t.Fatalf("verify: %v (%+v)", err, verified)
	}

	stamped, err := store.GetAPIKeyByHash(ctx, key.Hash)
	if err != nil || stamped.LastUsedAt == nil {
		t.Fatalf("last use not stamped: %v (%+v)", err, stamped.LastUsedAt)
	}

	if _, err := svc.VerifyAPIKey(ctx, "vg_deadbeef"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("unknown key: got %v", err)
	}
	if _, err := svc.VerifyAPIKey(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("empty key: got %v", err)
	}
}

func TestVerifyAPIKeyRejectsExpired(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	_, err := store.CreateAPIKey(ctx, apikey.Key{
		Label:     "stale",
		Hash:      hashKey("vg_stale"),
		ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.VerifyAPIKey(ctx, "vg_stale"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for expired key, got %v", err)
	}
}

func TestIssueAndVerifyJWT(t *testing.T) {
	svc, _ := newTestService(WithTokenTTL(30 * time.Minute))
	ctx := context.Background()

	key, plaintext, err := svc.CreateKey(ctx, "mobile app", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	token, expires, err := svc.IssueJWT(ctx, plaintext)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" || !expires.After(time.Now().Add(25*time.Minute)) {
		t.Fatalf("unexpected token/expiry: %q %v", token, expires)
	}

	claims, err := svc.VerifyJWT(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.KeyID != key.ID || claims.Issuer != tokenIssuer {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := svc.VerifyJWT("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: got %v", err)
	}

	other := New(memory.New(), []byte("different-secret"), nil)
	if _, err := other.VerifyJWT(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: got %v", err)
	}
}

func TestIssueJWTRejectsInvalidKey(t *testing.T) {
	svc, _ := newTestService()
	if _, _, err := svc.IssueJWT(context.Background(), "vg_unknown"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestNoSecretDisablesTokens(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	if _, _, err := svc.IssueJWT(context.Background(), "vg_whatever"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("issue without secret: got %v", err)
	}
	if _, err := svc.VerifyJWT("token"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("verify without secret: got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	key, plaintext, err := svc.CreateKey(ctx, "mobile app", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Revoke(ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.VerifyAPIKey(ctx, plaintext); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("revoked key still verifies: %v", err)
	}
	if err := svc.Revoke(ctx, key.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second revoke: got %v", err)
	}
}
