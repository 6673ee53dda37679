package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
)

func TestKeyNormalizesOptions(t *testing.T) {
	a := Key("abc123", analysis.ModeClassic, "EN", []string{"Tags", "description"})
	b := Key("abc123", analysis.ModeClassic, "en", []string{"description", "tags"})
	if a != b {
		t.Fatalf("equivalent options produced different keys: %q vs %q", a, b)
	}

	if a == Key("abc123", analysis.ModeEnhanced, "en", []string{"description", "tags"}) {
		t.Fatal("mode must be part of the key")
	}
	if a == Key("abc123", analysis.ModeClassic, "ja", []string{"description", "tags"}) {
		t.Fatal("language must be part of the key")
	}
	if a == Key("otherdigest", analysis.ModeClassic, "en", []string{"description", "tags"}) {
		t.Fatal("digest must be part of the key")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	cache := NewRedis(addr, "", 0, time.Minute, nil)
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := Key("digest-test", analysis.ModeClassic, "en", nil)
	want := analysis.Result{Caption: "a red bicycle", Confidence: 0.88}

	if _, ok := cache.Get(ctx, key); ok {
		t.Fatal("expected miss before set")
	}
	cache.Set(ctx, key, want)

	got, ok := cache.Get(ctx, key)
	if !ok || got.Caption != want.Caption {
		t.Fatalf("round trip failed: ok=%v got=%+v", ok, got)
	}
}
