// Package analysis orchestrates image analysis across the vision API path
// and the multimodal model path, persisting every request as a record with
// the same canonical result shape.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lenslab/vision-gateway/internal/app/cache"
	domain "github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/app/domain/image"
	"github.com/lenslab/vision-gateway/internal/app/metrics"
	"github.com/lenslab/vision-gateway/internal/app/services/suggestions"
	"github.com/lenslab/vision-gateway/internal/app/services/translate"
	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/azure/openai"
	"github.com/lenslab/vision-gateway/internal/azure/translator"
	"github.com/lenslab/vision-gateway/internal/azure/vision"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

// Provider labels recorded on analysis records.
const (
	ProviderVision         = "azure-computer-vision"
	ProviderOpenAI         = "azure-openai"
	ProviderOpenAIDegraded = "azure-openai-degraded"
)

var (
	// ErrNoSource is returned unless exactly one of image id and url is set.
	ErrNoSource = errors.New("exactly one of image_id and url is required")
	// ErrBadMode is returned for modes other than classic and enhanced.
	ErrBadMode = errors.New("unknown analysis mode")
	// ErrBadFeature is returned for unknown feature selectors.
	ErrBadFeature = errors.New("unknown analysis feature")
	// ErrNotConfigured is returned when the provider the requested mode
	// needs is not attached.
	ErrNotConfigured = errors.New("analysis provider not configured")
)

const (
	defaultListLimit  = 50
	maxListLimit      = 200
	enhancedMaxTokens = 800
)

// enhancedInstruction is the fixed system prompt for the multimodal path. It
// demands the same document shape the vision path produces.
const enhancedInstruction = `You are an image analysis engine. Examine the attached image and respond with a single JSON object and nothing else: no prose, no markdown fences. Fields: "caption" (string), "confidence" (number between 0 and 1), "tags" (array of {"name": string, "confidence": number}), "objects" (array of {"name": string, "confidence": number, "box": {"x": int, "y": int, "w": int, "h": int}} in pixel coordinates), "text" (array of strings holding any readable text). Use empty arrays for fields that do not apply.`

// VisionClient is the classic-path provider surface.
type VisionClient interface {
	Analyze(ctx context.Context, req vision.AnalyzeRequest) (domain.Result, error)
	SupportsLanguage(lang string) bool
}

// ChatCompleter is the enhanced-path provider surface.
type ChatCompleter interface {
	Complete(ctx context.Context, req openai.ChatRequest) (openai.ChatCompletion, error)
}

// TextTranslator translates batches of strings, preserving order.
type TextTranslator interface {
	Translate(ctx context.Context, texts []string, from, to string) ([]string, error)
}

// ImageSource loads stored image bytes, typically the images service.
type ImageSource interface {
	Content(ctx context.Context, id string) (image.Image, []byte, error)
}

// Service runs analyses and manages their records.
type Service struct {
	analyses      storage.AnalysisStore
	conversations storage.ConversationStore
	images        ImageSource
	suggest       *suggestions.Generator

	vision     VisionClient
	completer  ChatCompleter
	translator TextTranslator
	cache      cache.ResultCache

	log *logger.Logger
}

// Option customises the service.
type Option func(*Service)

// WithSuggestions replaces the default suggestion generator.
func WithSuggestions(g *suggestions.Generator) Option {
	return func(s *Service) {
		if g != nil {
			s.suggest = g
		}
	}
}

// New constructs an analysis service. Providers are attached separately so
// the service can run with any subset configured.
func New(analyses storage.AnalysisStore, conversations storage.ConversationStore, images ImageSource, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("analysis")
	}
	s := &Service{
		analyses:      analyses,
		conversations: conversations,
		images:        images,
		suggest:       suggestions.NewGenerator(log),
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachVision wires the classic-path provider.
func (s *Service) AttachVision(client VisionClient) { s.vision = client }

// AttachCompleter wires the enhanced-path provider.
func (s *Service) AttachCompleter(completer ChatCompleter) { s.completer = completer }

// AttachTranslator wires the translation pass for unsupported caption
// languages and for TranslateResult.
func (s *Service) AttachTranslator(tr TextTranslator) { s.translator = tr }

// AttachCache wires the optional result cache.
func (s *Service) AttachCache(c cache.ResultCache) { s.cache = c }

// ClassicConfigured reports whether the vision provider is attached.
func (s *Service) ClassicConfigured() bool { return s.vision != nil }

// EnhancedConfigured reports whether the multimodal provider is attached.
func (s *Service) EnhancedConfigured() bool { return s.completer != nil }

// Request describes one analysis to run.
type Request struct {
	ImageID  string
	URL      string
	Mode     domain.Mode
	Language string
	Features []string
}

// Analyze runs one analysis, persists the record and returns it together
// with chat suggestions for the result.
func (s *Service) Analyze(ctx context.Context, req Request) (domain.Record, []string, error) {
	req.ImageID = strings.TrimSpace(req.ImageID)
	req.URL = strings.TrimSpace(req.URL)
	req.Language = strings.ToLower(strings.TrimSpace(req.Language))

	if (req.ImageID == "") == (req.URL == "") {
		return domain.Record{}, nil, ErrNoSource
	}
	if req.URL != "" {
		parsed, err := url.Parse(req.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return domain.Record{}, nil, fmt.Errorf("%w: url must be http or https", ErrNoSource)
		}
	}
	if req.Mode == "" {
		req.Mode = domain.ModeClassic
	}
	if !req.Mode.Valid() {
		return domain.Record{}, nil, fmt.Errorf("%w: %q", ErrBadMode, req.Mode)
	}
	for _, f := range req.Features {
		if !domain.KnownFeature(strings.ToLower(strings.TrimSpace(f))) {
			return domain.Record{}, nil, fmt.Errorf("%w: %q", ErrBadFeature, f)
		}
	}
	switch req.Mode {
	case domain.ModeClassic:
		if s.vision == nil {
			return domain.Record{}, nil, fmt.Errorf("%w: vision", ErrNotConfigured)
		}
	case domain.ModeEnhanced:
		if s.completer == nil {
			return domain.Record{}, nil, fmt.Errorf("%w: chat model", ErrNotConfigured)
		}
	}

	var (
		img  image.Image
		data []byte
	)
	if req.ImageID != "" {
		var err error
		img, data, err = s.images.Content(ctx, req.ImageID)
		if err != nil {
			return domain.Record{}, nil, err
		}
	}

	digest := img.SHA256
	if req.URL != "" {
		sum := sha256.Sum256([]byte(req.URL))
		digest = hex.EncodeToString(sum[:])
	}
	cacheKey := cache.Key(digest, req.Mode, req.Language, req.Features)

	start := time.Now()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			metrics.RecordCacheLookup(true)
			return s.finish(ctx, req, cached, providerFor(req.Mode, false), req.Language, start)
		}
		metrics.RecordCacheLookup(false)
	}

	var (
		result   domain.Result
		provider string
		language = req.Language
		err      error
	)
	switch req.Mode {
	case domain.ModeClassic:
		result, language, err = s.runClassic(ctx, req, img, data)
		provider = ProviderVision
	case domain.ModeEnhanced:
		var degraded bool
		result, degraded, err = s.runEnhanced(ctx, req, img, data)
		provider = providerFor(req.Mode, degraded)
	}
	if err != nil {
		metrics.RecordAnalysis(string(req.Mode), time.Since(start), false)
		return domain.Record{}, nil, err
	}

	// Degraded results are not cached: a raw-caption fallback or an
	// untranslated result must not shadow a future clean run.
	if s.cache != nil && provider != ProviderOpenAIDegraded && language == req.Language {
		s.cache.Set(ctx, cacheKey, result)
	}

	return s.finish(ctx, req, result, provider, language, start)
}

// finish persists the record, assembles suggestions and records metrics. It
// runs only after a result exists, so failed provider calls never write.
func (s *Service) finish(ctx context.Context, req Request, result domain.Result, provider, language string, start time.Time) (domain.Record, []string, error) {
	rec := domain.Record{
		ImageID:   req.ImageID,
		SourceURL: req.URL,
		Mode:      req.Mode,
		Language:  language,
		Provider:  provider,
		Result:    result,
		LatencyMS: time.Since(start).Milliseconds(),
	}

	stored, err := s.analyses.CreateAnalysis(ctx, rec)
	if err != nil {
		metrics.RecordAnalysis(string(req.Mode), time.Since(start), false)
		return domain.Record{}, nil, fmt.Errorf("persist analysis: %w", err)
	}
	metrics.RecordAnalysis(string(req.Mode), time.Since(start), true)

	s.log.WithField("analysis_id", stored.ID).
		WithField("mode", string(stored.Mode)).
		WithField("provider", provider).
		WithField("latency_ms", stored.LatencyMS).
		Info("analysis completed")

	return stored, s.suggest.ForResult(stored.Result), nil
}

// runClassic calls the vision API, falling back to English plus a
// translation pass when the requested language is not supported for
// captions. It returns the language the result actually carries.
func (s *Service) runClassic(ctx context.Context, req Request, img image.Image, data []byte) (domain.Result, string, error) {
	language := req.Language
	translateAfter := false
	if !s.vision.SupportsLanguage(language) {
		translateAfter = true
		language = "en"
	}

	call := time.Now()
	result, err := s.vision.Analyze(ctx, vision.AnalyzeRequest{
		Data:        data,
		ContentType: img.ContentType,
		URL:         req.URL,
		Language:    language,
		Features:    req.Features,
	})
	metrics.RecordProviderCall(ProviderVision, time.Since(call), err == nil)
	if err != nil {
		return domain.Result{}, "", err
	}

	if translateAfter {
		if s.translator == nil {
			s.log.WithField("language", req.Language).Warn("translator not configured, returning english result")
			return result, "en", nil
		}
		translated, err := s.translateFields(ctx, result, "en", req.Language, false)
		if err != nil {
			s.log.WithError(err).WithField("language", req.Language).Warn("result translation failed, returning english result")
			return result, "en", nil
		}
		return translated, req.Language, nil
	}

	return result, language, nil
}

// runEnhanced routes the image through the chat model and reshapes the reply
// into the canonical result. An unparseable reply degrades to the raw text
// as caption rather than failing the request.
func (s *Service) runEnhanced(ctx context.Context, req Request, img image.Image, data []byte) (domain.Result, bool, error) {
	imageURL := req.URL
	if imageURL == "" {
		imageURL = "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}

	instruction := enhancedInstruction
	if req.Language != "" && req.Language != "en" {
		instruction += fmt.Sprintf(" Write caption, tag names and text in language %q.", req.Language)
	}

	call := time.Now()
	completion, err := s.completer.Complete(ctx, openai.ChatRequest{
		Messages: []openai.Message{
			{Role: "system", Text: instruction},
			{Role: "user", Text: "Analyze this image.", ImageURL: imageURL},
		},
		MaxTokens: enhancedMaxTokens,
		ForceJSON: true,
	})
	metrics.RecordProviderCall(ProviderOpenAI, time.Since(call), err == nil)
	if err != nil {
		return domain.Result{}, false, err
	}

	result, ok := reshapeModelReply(completion.Content)
	if !ok {
		s.log.WithField("finish_reason", completion.FinishReason).Warn("model reply not parseable, storing raw caption")
		return domain.Result{Caption: strings.TrimSpace(completion.Content)}, true, nil
	}
	return result, false, nil
}

// Get returns one stored analysis.
func (s *Service) Get(ctx context.Context, id string) (domain.Record, error) {
	return s.analyses.GetAnalysis(ctx, id)
}

// List returns stored analyses, newest first.
func (s *Service) List(ctx context.Context, filter storage.AnalysisFilter) ([]domain.Record, error) {
	if filter.Mode != "" && !filter.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadMode, filter.Mode)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.analyses.ListAnalyses(ctx, filter)
}

// Delete removes an analysis and its dependent conversations.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.analyses.DeleteAnalysis(ctx, id); err != nil {
		return err
	}
	if err := s.conversations.DeleteConversationsByAnalysis(ctx, id); err != nil {
		return fmt.Errorf("delete dependent conversations: %w", err)
	}
	s.log.WithField("analysis_id", id).Info("analysis deleted")
	return nil
}

// TranslateResult returns a copy of a stored analysis with caption, tag
// names and text lines translated. The stored record is not modified.
func (s *Service) TranslateResult(ctx context.Context, id, target string) (domain.Record, error) {
	rec, err := s.analyses.GetAnalysis(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if s.translator == nil {
		return domain.Record{}, translate.ErrNotConfigured
	}
	if !translator.IsSupportedTarget(target) {
		return domain.Record{}, fmt.Errorf("%w: %q", translate.ErrUnsupportedLanguage, target)
	}

	translated, err := s.translateFields(ctx, rec.Result, rec.Language, target, true)
	if err != nil {
		return domain.Record{}, err
	}
	rec.Result = translated
	rec.Language = strings.ToLower(strings.TrimSpace(target))
	return rec, nil
}

// translateFields translates the text-bearing result fields in one provider
// call, mapping translations back positionally.
func (s *Service) translateFields(ctx context.Context, result domain.Result, from, to string, includeText bool) (domain.Result, error) {
	out := cloneResult(result)

	var texts []string
	var apply []func(string)

	if out.Caption != "" {
		texts = append(texts, out.Caption)
		apply = append(apply, func(v string) { out.Caption = v })
	}
	for i := range out.Tags {
		idx := i
		texts = append(texts, out.Tags[idx].Name)
		apply = append(apply, func(v string) { out.Tags[idx].Name = v })
	}
	if includeText {
		for i := range out.Text {
			idx := i
			texts = append(texts, out.Text[idx])
			apply = append(apply, func(v string) { out.Text[idx] = v })
		}
	}
	if len(texts) == 0 {
		return out, nil
	}

	translated, err := s.translator.Translate(ctx, texts, from, to)
	if err != nil {
		return domain.Result{}, err
	}
	if len(translated) != len(texts) {
		return domain.Result{}, fmt.Errorf("translation returned %d results for %d texts", len(translated), len(texts))
	}
	for i, v := range translated {
		apply[i](v)
	}
	return out, nil
}

func cloneResult(result domain.Result) domain.Result {
	out := result
	if result.Tags != nil {
		out.Tags = make([]domain.Tag, len(result.Tags))
		copy(out.Tags, result.Tags)
	}
	if result.Objects != nil {
		out.Objects = make([]domain.Object, len(result.Objects))
		copy(out.Objects, result.Objects)
	}
	if result.Text != nil {
		out.Text = make([]string, len(result.Text))
		copy(out.Text, result.Text)
	}
	return out
}

func providerFor(mode domain.Mode, degraded bool) string {
	if mode == domain.ModeEnhanced {
		if degraded {
			return ProviderOpenAIDegraded
		}
		return ProviderOpenAI
	}
	return ProviderVision
}
