package translator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lenslab/vision-gateway/internal/httputil"
)

func TestTranslatePreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api-version"); got != "3.0" {
			t.Errorf("api-version = %q", got)
		}
		if got := r.URL.Query().Get("to"); got != "ja" {
			t.Errorf("to = %q", got)
		}
		if got := r.URL.Query().Get("from"); got != "en" {
			t.Errorf("from = %q", got)
		}
		if got := r.Header.Get("Ocp-Apim-Subscription-Region"); got != "westus" {
			t.Errorf("region header = %q", got)
		}

		var body []map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body) != 2 || body[0]["Text"] != "a dog" {
			t.Errorf("unexpected request body: %v", body)
		}

		w.Write([]byte(`[
			{"translations": [{"text": "犬", "to": "ja"}]},
			{"translations": [{"text": "浜辺", "to": "ja"}]}
		]`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret", "westus", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	out, err := client.Translate(context.Background(), []string{"a dog", "beach"}, "en", "ja")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(out) != 2 || out[0] != "犬" || out[1] != "浜辺" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestTranslateEmptyInputSkipsCall(t *testing.T) {
	client, err := NewClient("", "secret", "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	out, err := client.Translate(context.Background(), nil, "", "ja")
	if err != nil || out != nil {
		t.Fatalf("expected no-op, got out=%v err=%v", out, err)
	}
}

func TestTranslateCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"translations": [{"text": "uno", "to": "es"}]}]`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret", "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Translate(context.Background(), []string{"one", "two"}, "", "es"); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestTranslateThrottledSurfacesTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429001}}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret", "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Translate(context.Background(), []string{"hello"}, "", "fr")
	var upstream *httputil.UpstreamError
	if !errors.As(err, &upstream) || !upstream.Transient() {
		t.Fatalf("expected transient upstream error, got %v", err)
	}
}

func TestNormalizeAndSupportedTargets(t *testing.T) {
	if Normalize("ZH-CN") != "zh-Hans" || Normalize(" ja ") != "ja" {
		t.Fatal("normalize misbehaved")
	}
	for _, code := range []string{"ja", "zh-Hans", "zh-hant", "PT"} {
		if !IsSupportedTarget(code) {
			t.Errorf("expected %q supported", code)
		}
	}
	if IsSupportedTarget("xx") || IsSupportedTarget("") {
		t.Fatal("unknown codes must be rejected")
	}
}
