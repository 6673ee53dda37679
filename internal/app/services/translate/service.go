// Package translate exposes plain text translation on top of the translator
// provider client.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lenslab/vision-gateway/internal/app/metrics"
	"github.com/lenslab/vision-gateway/internal/azure/translator"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

var (
	// ErrNotConfigured is returned when no translator client is attached.
	ErrNotConfigured = errors.New("translation service not configured")
	// ErrEmptyText is returned when there is nothing to translate.
	ErrEmptyText = errors.New("no text to translate")
	// ErrUnsupportedLanguage is returned for target codes outside the
	// accepted allowlist.
	ErrUnsupportedLanguage = errors.New("unsupported target language")
)

// Client is the provider surface the service needs.
type Client interface {
	Translate(ctx context.Context, texts []string, from, to string) ([]string, error)
}

// Service validates translation requests and forwards them upstream.
type Service struct {
	client Client
	log    *logger.Logger
}

// New constructs a translate service with no client attached.
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("translate")
	}
	return &Service{log: log}
}

// AttachClient wires the provider client. Call before serving requests.
func (s *Service) AttachClient(client Client) {
	s.client = client
}

// Configured reports whether a provider client is attached.
func (s *Service) Configured() bool {
	return s.client != nil
}

// Translate translates texts into the target language, preserving order.
func (s *Service) Translate(ctx context.Context, texts []string, from, to string) ([]string, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	hasContent := false
	for _, text := range texts {
		if strings.TrimSpace(text) != "" {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return nil, ErrEmptyText
	}

	if !translator.IsSupportedTarget(to) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, to)
	}

	out, err := s.client.Translate(ctx, texts, from, to)
	metrics.RecordTranslation(err == nil)
	if err != nil {
		return nil, err
	}

	s.log.WithField("count", len(texts)).WithField("to", to).Debug("texts translated")
	return out, nil
}
