// Package storage declares the persistence interfaces of the gateway.
// Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/app/domain/apikey"
	"github.com/lenslab/vision-gateway/internal/app/domain/chat"
	"github.com/lenslab/vision-gateway/internal/app/domain/image"
)

// ErrNotFound is returned by every store when the requested record does not
// exist. Callers match it with errors.Is.
var ErrNotFound = errors.New("not found")

// ImageStore persists image metadata.
type ImageStore interface {
	CreateImage(ctx context.Context, img image.Image) (image.Image, error)
	GetImage(ctx context.Context, id string) (image.Image, error)
	DeleteImage(ctx context.Context, id string) error
	ListImagesBefore(ctx context.Context, cutoff time.Time) ([]image.Image, error)
}

// AnalysisFilter narrows ListAnalyses. Zero fields match everything.
type AnalysisFilter struct {
	Mode     analysis.Mode
	Language string
	ImageID  string
	Limit    int
}

// AnalysisStore persists analysis records.
type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, rec analysis.Record) (analysis.Record, error)
	GetAnalysis(ctx context.Context, id string) (analysis.Record, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]analysis.Record, error)
	DeleteAnalysis(ctx context.Context, id string) error
	DeleteAnalysesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv chat.Conversation) (chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	ListConversations(ctx context.Context, analysisID string) ([]chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	DeleteConversationsByAnalysis(ctx context.Context, analysisID string) error
	DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// AppendMessages stores the given messages in order as one unit and
	// advances the conversation's UpdatedAt.
	AppendMessages(ctx context.Context, conversationID string, msgs []chat.Message) ([]chat.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// APIKeyStore persists hashed API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key apikey.Key) (apikey.Key, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (apikey.Key, error)
	ListAPIKeys(ctx context.Context) ([]apikey.Key, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error
}
