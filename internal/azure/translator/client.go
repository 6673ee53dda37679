// Package translator calls the Azure Translator v3 text translation API.
package translator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lenslab/vision-gateway/internal/httputil"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

// supportedTargets is the set of translation targets the gateway accepts.
// The upstream service knows more, but exposing a fixed list keeps request
// validation deterministic.
var supportedTargets = map[string]bool{
	"ar": true, "bg": true, "cs": true, "da": true, "de": true,
	"el": true, "en": true, "es": true, "fi": true, "fr": true,
	"he": true, "hi": true, "hu": true, "id": true, "it": true,
	"ja": true, "ko": true, "nb": true, "nl": true, "pl": true,
	"pt": true, "ro": true, "ru": true, "sv": true, "th": true,
	"tr": true, "uk": true, "vi": true, "zh-Hans": true, "zh-Hant": true,
}

// IsSupportedTarget reports whether code is an accepted translation target.
func IsSupportedTarget(code string) bool {
	return supportedTargets[Normalize(code)]
}

// Normalize canonicalises a language code: trims, lowercases the base tag and
// keeps the script subtag casing Azure expects ("zh-hans" -> "zh-Hans").
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	switch strings.ToLower(code) {
	case "zh", "zh-cn", "zh-hans":
		return "zh-Hans"
	case "zh-tw", "zh-hant":
		return "zh-Hant"
	}
	return strings.ToLower(code)
}

// Client talks to one Translator resource.
type Client struct {
	http *httputil.Client
	log  *logger.Logger
}

// NewClient constructs a translator client. Region may be empty for global
// resources; regional keys require it.
func NewClient(endpoint, key, region string, log *logger.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "https://api.cognitive.microsofttranslator.com"
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("translator api key required")
	}
	if log == nil {
		log = logger.NewDefault("translator-client")
	}

	headers := map[string]string{"Ocp-Apim-Subscription-Key": strings.TrimSpace(key)}
	if region = strings.TrimSpace(region); region != "" {
		headers["Ocp-Apim-Subscription-Region"] = region
	}

	httpClient, err := httputil.NewClient(httputil.ClientConfig{
		BaseURL: endpoint,
		Headers: headers,
		Timeout: 15 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("translator client: %w", err)
	}

	return &Client{http: httpClient, log: log}, nil
}

// Translate translates texts into the target language, preserving order.
// An empty from lets the service detect the source language.
func (c *Client) Translate(ctx context.Context, texts []string, from, to string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	to = Normalize(to)
	if to == "" {
		return nil, fmt.Errorf("target language required")
	}

	query := url.Values{}
	query.Set("api-version", "3.0")
	query.Set("to", to)
	if from = Normalize(from); from != "" {
		query.Set("from", from)
	}

	body := make([]map[string]string, 0, len(texts))
	for _, text := range texts {
		body = append(body, map[string]string{"Text": text})
	}

	resp, err := c.http.Post(ctx, "/translate?"+query.Encode(), body)
	if err != nil {
		return nil, err
	}

	var payload []struct {
		Translations []struct {
			Text string `json:"text"`
			To   string `json:"to"`
		} `json:"translations"`
	}
	if err := httputil.DecodeResponse(resp, &payload); err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	if len(payload) != len(texts) {
		return nil, fmt.Errorf("translate: expected %d results, got %d", len(texts), len(payload))
	}

	out := make([]string, len(texts))
	for i, item := range payload {
		if len(item.Translations) == 0 {
			return nil, fmt.Errorf("translate: result %d has no translation", i)
		}
		out[i] = item.Translations[0].Text
	}

	c.log.WithFields(map[string]interface{}{
		"count": len(texts),
		"to":    to,
	}).Debug("translation completed")

	return out, nil
}
