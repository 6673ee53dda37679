// Package vision calls the Azure Computer Vision image analysis API and maps
// its responses onto the canonical analysis document.
package vision

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/httputil"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

const apiVersion = "v3.2"

// captionLanguages are the languages the analysis API can caption in. Other
// targets need a translation pass on the English result.
var captionLanguages = map[string]bool{
	"":   true,
	"en": true,
	"es": true,
	"ja": true,
	"pt": true,
	"zh": true,
}

// Client talks to one Computer Vision resource.
type Client struct {
	http *httputil.Client
	log  *logger.Logger
}

// NewClient constructs a vision client for the given resource endpoint,
// e.g. https://myresource.cognitiveservices.azure.com.
func NewClient(endpoint, key string, log *logger.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("vision endpoint required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("vision api key required")
	}
	if log == nil {
		log = logger.NewDefault("vision-client")
	}

	httpClient, err := httputil.NewClient(httputil.ClientConfig{
		BaseURL: endpoint,
		Headers: map[string]string{"Ocp-Apim-Subscription-Key": strings.TrimSpace(key)},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	return &Client{http: httpClient, log: log}, nil
}

// SupportsLanguage reports whether the analysis API can caption directly in
// the given language.
func (c *Client) SupportsLanguage(lang string) bool {
	return captionLanguages[strings.ToLower(strings.TrimSpace(lang))]
}

// AnalyzeRequest describes one image to analyze. Exactly one of Data and URL
// must be set; the caller is expected to have validated that already.
type AnalyzeRequest struct {
	Data        []byte
	ContentType string
	URL         string
	Language    string
	Features    []string
}

// Analyze runs visual feature extraction, plus a separate OCR pass when the
// text feature is requested, and folds both into a single result.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (analysis.Result, error) {
	start := time.Now()

	result, err := c.analyze(ctx, req)
	if err != nil {
		return analysis.Result{}, err
	}

	if hasFeature(req.Features, analysis.FeatureText) {
		lines, err := c.recognizeText(ctx, req)
		if err != nil {
			return analysis.Result{}, err
		}
		result.Text = lines
	}

	c.log.WithFields(map[string]interface{}{
		"language":   req.Language,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("vision analysis completed")

	return result, nil
}

func (c *Client) analyze(ctx context.Context, req AnalyzeRequest) (analysis.Result, error) {
	query := url.Values{}
	query.Set("visualFeatures", visualFeatures(req.Features))
	if lang := strings.TrimSpace(req.Language); lang != "" {
		query.Set("language", lang)
	}
	path := "/vision/" + apiVersion + "/analyze?" + query.Encode()

	resp, err := c.post(ctx, path, req)
	if err != nil {
		return analysis.Result{}, err
	}

	var payload struct {
		Description struct {
			Captions []struct {
				Text       string  `json:"text"`
				Confidence float64 `json:"confidence"`
			} `json:"captions"`
		} `json:"description"`
		Tags []struct {
			Name       string  `json:"name"`
			Confidence float64 `json:"confidence"`
		} `json:"tags"`
		Objects []struct {
			Object     string  `json:"object"`
			Confidence float64 `json:"confidence"`
			Rectangle  struct {
				X int `json:"x"`
				Y int `json:"y"`
				W int `json:"w"`
				H int `json:"h"`
			} `json:"rectangle"`
		} `json:"objects"`
		Metadata struct {
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Format string `json:"format"`
		} `json:"metadata"`
	}
	if err := httputil.DecodeResponse(resp, &payload); err != nil {
		return analysis.Result{}, fmt.Errorf("vision analyze: %w", err)
	}

	result := analysis.Result{
		Metadata: analysis.Metadata{
			Width:  payload.Metadata.Width,
			Height: payload.Metadata.Height,
			Format: strings.ToLower(payload.Metadata.Format),
		},
	}
	if len(payload.Description.Captions) > 0 {
		result.Caption = payload.Description.Captions[0].Text
		result.Confidence = payload.Description.Captions[0].Confidence
	}
	for _, tag := range payload.Tags {
		result.Tags = append(result.Tags, analysis.Tag{Name: tag.Name, Confidence: tag.Confidence})
	}
	for _, obj := range payload.Objects {
		result.Objects = append(result.Objects, analysis.Object{
			Name:       obj.Object,
			Confidence: obj.Confidence,
			Box: analysis.Rect{
				X: obj.Rectangle.X,
				Y: obj.Rectangle.Y,
				W: obj.Rectangle.W,
				H: obj.Rectangle.H,
			},
		})
	}

	return result, nil
}

// recognizeText uses the synchronous OCR endpoint. It handles printed text in
// one round trip, which is enough here; the async Read API would need polling.
func (c *Client) recognizeText(ctx context.Context, req AnalyzeRequest) ([]string, error) {
	query := url.Values{}
	query.Set("detectOrientation", "true")
	if lang := strings.TrimSpace(req.Language); lang != "" {
		query.Set("language", lang)
	}
	path := "/vision/" + apiVersion + "/ocr?" + query.Encode()

	resp, err := c.post(ctx, path, req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Regions []struct {
			Lines []struct {
				Words []struct {
					Text string `json:"text"`
				} `json:"words"`
			} `json:"lines"`
		} `json:"regions"`
	}
	if err := httputil.DecodeResponse(resp, &payload); err != nil {
		return nil, fmt.Errorf("vision ocr: %w", err)
	}

	var lines []string
	for _, region := range payload.Regions {
		for _, line := range region.Lines {
			words := make([]string, 0, len(line.Words))
			for _, word := range line.Words {
				words = append(words, word.Text)
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
	}
	return lines, nil
}

func (c *Client) post(ctx context.Context, path string, req AnalyzeRequest) (*http.Response, error) {
	if len(req.Data) > 0 {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return c.http.DoRaw(ctx, http.MethodPost, path, contentType, req.Data)
	}
	return c.http.Post(ctx, path, map[string]string{"url": req.URL})
}

// visualFeatures maps requested feature names onto the API's visualFeatures
// parameter. Text extraction is a separate endpoint and is not included.
func visualFeatures(features []string) string {
	want := map[string]bool{}
	for _, f := range features {
		want[strings.ToLower(strings.TrimSpace(f))] = true
	}
	if len(want) == 0 || (len(want) == 1 && want[analysis.FeatureText]) {
		want[analysis.FeatureDescription] = true
		want[analysis.FeatureTags] = true
		want[analysis.FeatureObjects] = true
	}

	var parts []string
	if want[analysis.FeatureDescription] {
		parts = append(parts, "Description")
	}
	if want[analysis.FeatureTags] {
		parts = append(parts, "Tags")
	}
	if want[analysis.FeatureObjects] {
		parts = append(parts, "Objects")
	}
	if len(parts) == 0 {
		parts = append(parts, "Description")
	}
	return strings.Join(parts, ",")
}

func hasFeature(features []string, name string) bool {
	for _, f := range features {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}
