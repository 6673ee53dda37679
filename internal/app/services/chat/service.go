// Package chat runs follow-up conversations about stored analyses. Each
// conversation is seeded with a hidden system prompt assembled from the
// analysis result; replies come from the chat-completions deployment.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/lenslab/vision-gateway/internal/app/domain/chat"
	"github.com/lenslab/vision-gateway/internal/app/metrics"
	"github.com/lenslab/vision-gateway/internal/app/services/suggestions"
	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/azure/openai"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

var (
	// ErrEmptyMessage is returned for blank message content.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrTooLong is returned when message content exceeds the limit.
	ErrTooLong = errors.New("message content too long")
	// ErrNotConfigured is returned when no chat model is attached.
	ErrNotConfigured = errors.New("chat model not configured")
)

const (
	defaultHistoryLimit    = 20
	defaultMaxMessageChars = 2000
	defaultMaxTokens       = 600
	defaultTemperature     = 0.7

	providerLabel = "azure-openai"
)

// Completer is the model surface the service talks to.
type Completer interface {
	Complete(ctx context.Context, req openai.ChatRequest) (openai.ChatCompletion, error)
}

// Service manages conversations and relays turns to the model.
type Service struct {
	conversations storage.ConversationStore
	analyses      storage.AnalysisStore
	suggest       *suggestions.Generator

	completer Completer

	historyLimit    int
	maxMessageChars int
	maxTokens       int
	temperature     float64

	log *logger.Logger
}

// Option customises the service.
type Option func(*Service)

// WithHistoryLimit caps how many prior turns are replayed to the model.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithMaxMessageChars caps user message length in runes.
func WithMaxMessageChars(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMessageChars = n
		}
	}
}

// WithMaxTokens caps the model reply length.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature for replies.
func WithTemperature(t float64) Option {
	return func(s *Service) {
		if t > 0 {
			s.temperature = t
		}
	}
}

// WithSuggestions replaces the default suggestion generator.
func WithSuggestions(g *suggestions.Generator) Option {
	return func(s *Service) {
		if g != nil {
			s.suggest = g
		}
	}
}

// New constructs a chat service. The model is attached separately so the
// rest of the API keeps working without one.
func New(conversations storage.ConversationStore, analyses storage.AnalysisStore, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("chat")
	}
	s := &Service{
		conversations:   conversations,
		analyses:        analyses,
		suggest:         suggestions.NewGenerator(log),
		historyLimit:    defaultHistoryLimit,
		maxMessageChars: defaultMaxMessageChars,
		maxTokens:       defaultMaxTokens,
		temperature:     defaultTemperature,
		log:             log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachCompleter wires the chat model.
func (s *Service) AttachCompleter(completer Completer) { s.completer = completer }

// Configured reports whether a chat model is attached.
func (s *Service) Configured() bool { return s.completer != nil }

// Open starts a conversation about an analysis. The system prompt built from
// the analysis result is stored as the first message and never surfaces in
// transcripts.
func (s *Service) Open(ctx context.Context, analysisID string) (domain.Conversation, []string, error) {
	rec, err := s.analyses.GetAnalysis(ctx, analysisID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}

	conv, err := s.conversations.CreateConversation(ctx, domain.Conversation{AnalysisID: rec.ID})
	if err != nil {
		return domain.Conversation{}, nil, fmt.Errorf("create conversation: %w", err)
	}

	system := domain.Message{Role: domain.RoleSystem, Content: BuildSystemPrompt(rec.Result)}
	if _, err := s.conversations.AppendMessages(ctx, conv.ID, []domain.Message{system}); err != nil {
		if derr := s.conversations.DeleteConversation(ctx, conv.ID); derr != nil {
			s.log.WithError(derr).WithField("conversation_id", conv.ID).Warn("failed to remove half-open conversation")
		}
		return domain.Conversation{}, nil, fmt.Errorf("store system prompt: %w", err)
	}

	s.log.WithField("conversation_id", conv.ID).
		WithField("analysis_id", rec.ID).
		Info("conversation opened")

	return conv, s.suggest.ForResult(rec.Result), nil
}

// Send appends a user turn, asks the model for a reply and stores both turns
// as one unit. Nothing is persisted when the model call fails.
func (s *Service) Send(ctx context.Context, conversationID, content string) (domain.Message, []string, domain.Usage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, nil, domain.Usage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > s.maxMessageChars {
		return domain.Message{}, nil, domain.Usage{}, fmt.Errorf("%w: limit is %d characters", ErrTooLong, s.maxMessageChars)
	}
	if s.completer == nil {
		return domain.Message{}, nil, domain.Usage{}, ErrNotConfigured
	}

	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Message{}, nil, domain.Usage{}, err
	}
	history, err := s.conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		return domain.Message{}, nil, domain.Usage{}, fmt.Errorf("load history: %w", err)
	}

	call := time.Now()
	completion, err := s.completer.Complete(ctx, openai.ChatRequest{
		Messages:    s.window(history, content),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	metrics.RecordProviderCall(providerLabel, time.Since(call), err == nil)
	if err != nil {
		metrics.RecordChatCompletion(0, 0, false)
		return domain.Message{}, nil, domain.Usage{}, err
	}
	metrics.RecordChatCompletion(completion.Usage.PromptTokens, completion.Usage.CompletionTokens, true)

	stored, err := s.conversations.AppendMessages(ctx, conv.ID, []domain.Message{
		{Role: domain.RoleUser, Content: content},
		{
			Role:             domain.RoleAssistant,
			Content:          completion.Content,
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		},
	})
	if err != nil {
		return domain.Message{}, nil, domain.Usage{}, fmt.Errorf("store turns: %w", err)
	}

	usage := domain.Usage{
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		TotalTokens:      completion.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	s.log.WithField("conversation_id", conv.ID).
		WithField("total_tokens", usage.TotalTokens).
		Debug("chat turn completed")

	reply := stored[len(stored)-1]
	return reply, s.suggestionsFor(ctx, conv.AnalysisID), usage, nil
}

// window assembles the model request: the stored system prompt, the trailing
// turns up to the history limit, and the new user turn. The system prompt is
// never dropped however long the history grows.
func (s *Service) window(history []domain.Message, content string) []openai.Message {
	var system string
	turns := make([]domain.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == domain.RoleSystem {
			if system == "" {
				system = msg.Content
			}
			continue
		}
		turns = append(turns, msg)
	}

	turns = append(turns, domain.Message{Role: domain.RoleUser, Content: content})
	if len(turns) > s.historyLimit {
		turns = turns[len(turns)-s.historyLimit:]
	}

	out := make([]openai.Message, 0, len(turns)+1)
	if system != "" {
		out = append(out, openai.Message{Role: string(domain.RoleSystem), Text: system})
	}
	for _, msg := range turns {
		out = append(out, openai.Message{Role: string(msg.Role), Text: msg.Content})
	}
	return out
}

// suggestionsFor refreshes suggestions from the conversation's analysis. A
// missing analysis only costs the suggestions, never the reply.
func (s *Service) suggestionsFor(ctx context.Context, analysisID string) []string {
	rec, err := s.analyses.GetAnalysis(ctx, analysisID)
	if err != nil {
		s.log.WithError(err).WithField("analysis_id", analysisID).Warn("suggestions skipped, analysis unavailable")
		return nil
	}
	return s.suggest.ForResult(rec.Result)
}

// Get returns a conversation and its transcript with the system prompt
// stripped.
func (s *Service) Get(ctx context.Context, id string) (domain.Conversation, []domain.Message, error) {
	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	msgs, err := s.conversations.ListMessages(ctx, id)
	if err != nil {
		return domain.Conversation{}, nil, fmt.Errorf("load transcript: %w", err)
	}

	transcript := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == domain.RoleSystem {
			continue
		}
		transcript = append(transcript, msg)
	}
	return conv, transcript, nil
}

// List returns the conversations opened for an analysis.
func (s *Service) List(ctx context.Context, analysisID string) ([]domain.Conversation, error) {
	return s.conversations.ListConversations(ctx, analysisID)
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.conversations.DeleteConversation(ctx, id)
}
