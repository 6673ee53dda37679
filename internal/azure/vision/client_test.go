package vision

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/httputil"
)

const analyzeBody = `{
	"description": {"captions": [{"text": "a dog on a beach", "confidence": 0.93}]},
	"tags": [{"name": "dog", "confidence": 0.99}, {"name": "beach", "confidence": 0.87}],
	"objects": [{"object": "dog", "confidence": 0.91, "rectangle": {"x": 10, "y": 20, "w": 120, "h": 80}}],
	"metadata": {"width": 800, "height": 600, "format": "Jpeg"}
}`

func TestAnalyzeBinaryImage(t *testing.T) {
	var gotPath, gotKey, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		if r.URL.Query().Get("visualFeatures") == "" {
			t.Errorf("missing visualFeatures query")
		}
		w.Write([]byte(analyzeBody))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.Analyze(context.Background(), AnalyzeRequest{
		Data:        []byte{0xFF, 0xD8, 0xFF},
		ContentType: "image/jpeg",
		Language:    "en",
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if gotPath != "/vision/v3.2/analyze" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotKey != "secret" {
		t.Fatalf("subscription key not sent, got %q", gotKey)
	}
	if gotContentType != "image/jpeg" {
		t.Fatalf("unexpected content type: %s", gotContentType)
	}
	if len(gotBody) != 3 {
		t.Fatalf("image bytes not forwarded, got %d bytes", len(gotBody))
	}

	if result.Caption != "a dog on a beach" || result.Confidence != 0.93 {
		t.Fatalf("unexpected caption: %+v", result)
	}
	if len(result.Tags) != 2 || result.Tags[0].Name != "dog" {
		t.Fatalf("unexpected tags: %+v", result.Tags)
	}
	if len(result.Objects) != 1 || result.Objects[0].Box.W != 120 {
		t.Fatalf("unexpected objects: %+v", result.Objects)
	}
	if result.Metadata.Width != 800 || result.Metadata.Format != "jpeg" {
		t.Fatalf("unexpected metadata: %+v", result.Metadata)
	}
}

func TestAnalyzeByURLSendsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"url":"https://example.com/cat.png"}` {
			t.Errorf("unexpected body: %s", body)
		}
		w.Write([]byte(analyzeBody))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Analyze(context.Background(), AnalyzeRequest{URL: "https://example.com/cat.png"}); err != nil {
		t.Fatalf("analyze: %v", err)
	}
}

func TestAnalyzeWithTextFeatureRunsOCR(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/vision/v3.2/analyze":
			w.Write([]byte(analyzeBody))
		case "/vision/v3.2/ocr":
			w.Write([]byte(`{"regions": [{"lines": [
				{"words": [{"text": "BEACH"}, {"text": "RULES"}]},
				{"words": [{"text": "NO"}, {"text": "DOGS"}]}
			]}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.Analyze(context.Background(), AnalyzeRequest{
		Data:     []byte{1},
		Features: []string{analysis.FeatureDescription, analysis.FeatureText},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if len(paths) != 2 {
		t.Fatalf("expected analyze and ocr calls, got %v", paths)
	}
	if len(result.Text) != 2 || result.Text[0] != "BEACH RULES" || result.Text[1] != "NO DOGS" {
		t.Fatalf("unexpected text lines: %v", result.Text)
	}
}

func TestAnalyzeSurfacesUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"InvalidImageFormat"}}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Analyze(context.Background(), AnalyzeRequest{Data: []byte{1}})
	var upstream *httputil.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusBadRequest || upstream.Transient() {
		t.Fatalf("unexpected classification: %+v", upstream)
	}
}

func TestSupportsLanguage(t *testing.T) {
	client, err := NewClient("https://example.cognitiveservices.azure.com", "secret", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	for _, lang := range []string{"", "en", "ja", "PT"} {
		if !client.SupportsLanguage(lang) {
			t.Errorf("expected %q to be supported", lang)
		}
	}
	for _, lang := range []string{"fr", "de", "ko"} {
		if client.SupportsLanguage(lang) {
			t.Errorf("expected %q to need translation", lang)
		}
	}
}

func TestVisualFeatures(t *testing.T) {
	cases := []struct {
		features []string
		want     string
	}{
		{nil, "Description,Tags,Objects"},
		{[]string{"text"}, "Description,Tags,Objects"},
		{[]string{"description"}, "Description"},
		{[]string{"tags", "objects"}, "Tags,Objects"},
		{[]string{"Description", "text"}, "Description"},
	}
	for _, tc := range cases {
		if got := visualFeatures(tc.features); got != tc.want {
			t.Errorf("visualFeatures(%v) = %q, want %q", tc.features, got, tc.want)
		}
	}
}
