// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and backs local development and
// tests; production deployments configure Postgres instead.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/app/domain/apikey"
	"github.com/lenslab/vision-gateway/internal/app/domain/chat"
	"github.com/lenslab/vision-gateway/internal/app/domain/image"
	"github.com/lenslab/vision-gateway/internal/app/storage"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu            sync.RWMutex
	images        map[string]image.Image
	analyses      map[string]analysis.Record
	conversations map[string]chat.Conversation
	messages      map[string][]chat.Message
	apiKeys       map[string]apikey.Key
	apiKeysByHash map[string]string
}

var _ storage.ImageStore = (*Store)(nil)
var _ storage.AnalysisStore = (*Store)(nil)
var _ storage.ConversationStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		images:        make(map[string]image.Image),
		analyses:      make(map[string]analysis.Record),
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.Message),
		apiKeys:       make(map[string]apikey.Key),
		apiKeysByHash: make(map[string]string),
	}
}

// ImageStore implementation ---------------------------------------------------

func (s *Store) CreateImage(_ context.Context, img image.Image) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if img.ID == "" {
		img.ID = uuid.NewString()
	} else if _, exists := s.images[img.ID]; exists {
		return image.Image{}, fmt.Errorf("image %s already exists", img.ID)
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}

	s.images[img.ID] = img
	return img, nil
}

func (s *Store) GetImage(_ context.Context, id string) (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, ok := s.images[id]
	if !ok {
		return image.Image{}, fmt.Errorf("image %s: %w", id, storage.ErrNotFound)
	}
	return img, nil
}

func (s *Store) DeleteImage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[id]; !ok {
		return fmt.Errorf("image %s: %w", id, storage.ErrNotFound)
	}
	delete(s.images, id)
	return nil
}

func (s *Store) ListImagesBefore(_ context.Context, cutoff time.Time) ([]image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []image.Image
	for _, img := range s.images {
		if img.CreatedAt.Before(cutoff) {
			result = append(result, img)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// AnalysisStore implementation ------------------------------------------------

func (s *Store) CreateAnalysis(_ context.Context, rec analysis.Record) (analysis.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if _, exists := s.analyses[rec.ID]; exists {
		return analysis.Record{}, fmt.Errorf("analysis %s already exists", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Result = cloneResult(rec.Result)

	s.analyses[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) GetAnalysis(_ context.Context, id string) (analysis.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.analyses[id]
	if !ok {
		return analysis.Record{}, fmt.Errorf("analysis %s: %w", id, storage.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (s *Store) ListAnalyses(_ context.Context, filter storage.AnalysisFilter) ([]analysis.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []analysis.Record
	for _, rec := range s.analyses {
		if filter.Mode != "" && rec.Mode != filter.Mode {
			continue
		}
		if filter.Language != "" && rec.Language != filter.Language {
			continue
		}
		if filter.ImageID != "" && rec.ImageID != filter.ImageID {
			continue
		}
		result = append(result, cloneRecord(rec))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) DeleteAnalysis(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.analyses[id]; !ok {
		return fmt.Errorf("analysis %s: %w", id, storage.ErrNotFound)
	}
	delete(s.analyses, id)
	s.dropConversationsLocked(id)
	return nil
}

func (s *Store) DeleteAnalysesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, rec := range s.analyses {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.analyses, id)
			s.dropConversationsLocked(id)
			removed++
		}
	}
	return removed, nil
}

// dropConversationsLocked mirrors the analysis-to-conversation foreign key
// cascade of the SQL schema.
func (s *Store) dropConversationsLocked(analysisID string) {
	for id, conv := range s.conversations {
		if conv.AnalysisID == analysisID {
			delete(s.conversations, id)
			delete(s.messages, id)
		}
	}
}

// ConversationStore implementation ---------------------------------------------

func (s *Store) CreateConversation(_ context.Context, conv chat.Conversation) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.NewString()
	} else if _, exists := s.conversations[conv.ID]; exists {
		return chat.Conversation{}, fmt.Errorf("conversation %s already exists", conv.ID)
	}

	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt

	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *Store) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	return conv, nil
}

func (s *Store) ListConversations(_ context.Context, analysisID string) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []chat.Conversation
	for _, conv := range s.conversations {
		if analysisID != "" && conv.AnalysisID != analysisID {
			continue
		}
		result = append(result, conv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

func (s *Store) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) DeleteConversationsByAnalysis(_ context.Context, analysisID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropConversationsLocked(analysisID)
	return nil
}

func (s *Store) DeleteConversationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, conv := range s.conversations {
		if conv.UpdatedAt.Before(cutoff) {
			delete(s.conversations, id)
			delete(s.messages, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) AppendMessages(_ context.Context, conversationID string, msgs []chat.Message) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, storage.ErrNotFound)
	}

	now := time.Now().UTC()
	stored := make([]chat.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.ConversationID = conversationID
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		stored = append(stored, msg)
	}

	s.messages[conversationID] = append(s.messages[conversationID], stored...)
	conv.UpdatedAt = now
	s.conversations[conversationID] = conv
	return stored, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, storage.ErrNotFound)
	}
	msgs := s.messages[conversationID]
	return append([]chat.Message(nil), msgs...), nil
}

// APIKeyStore implementation ----------------------------------------------------

func (s *Store) CreateAPIKey(_ context.Context, key apikey.Key) (apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == "" {
		key.ID = uuid.NewString()
	} else if _, exists := s.apiKeys[key.ID]; exists {
		return apikey.Key{}, fmt.Errorf("api key %s already exists", key.ID)
	}
	if _, exists := s.apiKeysByHash[key.Hash]; exists {
		return apikey.Key{}, fmt.Errorf("api key hash collision")
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	s.apiKeys[key.ID] = key
	s.apiKeysByHash[key.Hash] = key.ID
	return key, nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, hash string) (apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.apiKeysByHash[hash]
	if !ok {
		return apikey.Key{}, fmt.Errorf("api key: %w", storage.ErrNotFound)
	}
	return s.apiKeys[id], nil
}

func (s *Store) ListAPIKeys(_ context.Context) ([]apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]apikey.Key, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		result = append(result, key)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return fmt.Errorf("api key %s: %w", id, storage.ErrNotFound)
	}
	delete(s.apiKeys, id)
	delete(s.apiKeysByHash, key.Hash)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return fmt.Errorf("api key %s: %w", id, storage.ErrNotFound)
	}
	at = at.UTC()
	key.LastUsedAt = &at
	s.apiKeys[id] = key
	return nil
}

// Clone helpers ---------------------------------------------------------------

func cloneResult(res analysis.Result) analysis.Result {
	res.Tags = append([]analysis.Tag(nil), res.Tags...)
	res.Objects = append([]analysis.Object(nil), res.Objects...)
	res.Text = append([]string(nil), res.Text...)
	return res
}

func cloneRecord(rec analysis.Record) analysis.Record {
	rec.Result = cloneResult(rec.Result)
	return rec
}
