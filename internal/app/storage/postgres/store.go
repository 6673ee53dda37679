// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/app/domain/apikey"
	"github.com/lenslab/vision-gateway/internal/app/domain/chat"
	"github.com/lenslab/vision-gateway/internal/app/domain/image"
	"github.com/lenslab/vision-gateway/internal/app/storage"
)

// Store implements the storage interfaces on a PostgreSQL database.
type Store struct {
	db *sqlx.DB
}

var _ storage.ImageStore = (*Store)(nil)
var _ storage.AnalysisStore = (*Store)(nil)
var _ storage.ConversationStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres, applies pool settings and verifies the
// connection with a short ping.
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		if id == "" {
			return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
		}
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return err
}

// --- ImageStore ---------------------------------------------------------------

func (s *Store) CreateImage(ctx context.Context, img image.Image) (image.Image, error) {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_images (id, blob_name, content_type, byte_size, sha256, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, img.ID, img.BlobName, img.ContentType, img.ByteSize, img.SHA256, img.CreatedAt)
	if err != nil {
		return image.Image{}, err
	}
	return img, nil
}

func (s *Store) GetImage(ctx context.Context, id string) (image.Image, error) {
	var img image.Image
	err := s.db.GetContext(ctx, &img, `
		SELECT id, blob_name, content_type, byte_size, sha256, created_at
		FROM app_images
		WHERE id = $1
	`, id)
	if err != nil {
		return image.Image{}, notFound(err, "image", id)
	}
	return img, nil
}

func (s *Store) DeleteImage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_images WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("image %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListImagesBefore(ctx context.Context, cutoff time.Time) ([]image.Image, error) {
	var images []image.Image
	err := s.db.SelectContext(ctx, &images, `
		SELECT id, blob_name, content_type, byte_size, sha256, created_at
		FROM app_images
		WHERE created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return images, nil
}

// --- AnalysisStore --------------------------------------------------------------

type analysisRow struct {
	ID        string         `db:"id"`
	ImageID   sql.NullString `db:"image_id"`
	SourceURL string         `db:"source_url"`
	Mode      string         `db:"mode"`
	Language  string         `db:"language"`
	Provider  string         `db:"provider"`
	Result    []byte         `db:"result"`
	LatencyMS int64          `db:"latency_ms"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r analysisRow) toDomain() (analysis.Record, error) {
	rec := analysis.Record{
		ID:        r.ID,
		ImageID:   r.ImageID.String,
		SourceURL: r.SourceURL,
		Mode:      analysis.Mode(r.Mode),
		Language:  r.Language,
		Provider:  r.Provider,
		LatencyMS: r.LatencyMS,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &rec.Result); err != nil {
			return analysis.Record{}, fmt.Errorf("decode analysis result %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

func (s *Store) CreateAnalysis(ctx context.Context, rec analysis.Record) (analysis.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return analysis.Record{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_analyses (id, image_id, source_url, mode, language, provider, result, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, toNullString(rec.ImageID), rec.SourceURL, string(rec.Mode), rec.Language, rec.Provider, resultJSON, rec.LatencyMS, rec.CreatedAt)
	if err != nil {
		return analysis.Record{}, err
	}
	return rec, nil
}

func (s *Store) GetAnalysis(ctx context.Context, id string) (analysis.Record, error) {
	var row analysisRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, image_id, source_url, mode, language, provider, result, latency_ms, created_at
		FROM app_analyses
		WHERE id = $1
	`, id)
	if err != nil {
		return analysis.Record{}, notFound(err, "analysis", id)
	}
	return row.toDomain()
}

func (s *Store) ListAnalyses(ctx context.Context, filter storage.AnalysisFilter) ([]analysis.Record, error) {
	query := `
		SELECT id, image_id, source_url, mode, language, provider, result, latency_ms, created_at
		FROM app_analyses
	`
	var clauses []string
	var args []interface{}

	if filter.Mode != "" {
		args = append(args, string(filter.Mode))
		clauses = append(clauses, fmt.Sprintf("mode = $%d", len(args)))
	}
	if filter.Language != "" {
		args = append(args, filter.Language)
		clauses = append(clauses, fmt.Sprintf("language = $%d", len(args)))
	}
	if filter.ImageID != "" {
		args = append(args, filter.ImageID)
		clauses = append(clauses, fmt.Sprintf("image_id = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []analysisRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]analysis.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) DeleteAnalysis(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_analyses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("analysis %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteAnalysesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_analyses WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// --- ConversationStore ----------------------------------------------------------

func (s *Store) CreateConversation(ctx context.Context, conv chat.Conversation) (chat.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_conversations (id, analysis_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, conv.ID, conv.AnalysisID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var conv chat.Conversation
	err := s.db.GetContext(ctx, &conv, `
		SELECT id, analysis_id, created_at, updated_at
		FROM app_conversations
		WHERE id = $1
	`, id)
	if err != nil {
		return chat.Conversation{}, notFound(err, "conversation", id)
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, analysisID string) ([]chat.Conversation, error) {
	query := `
		SELECT id, analysis_id, created_at, updated_at
		FROM app_conversations
	`
	var args []interface{}
	if analysisID != "" {
		query += " WHERE analysis_id = $1"
		args = append(args, analysisID)
	}
	query += " ORDER BY updated_at DESC"

	var convs []chat.Conversation
	if err := s.db.SelectContext(ctx, &convs, query, args...); err != nil {
		return nil, err
	}
	return convs, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteConversationsByAnalysis(ctx context.Context, analysisID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_conversations WHERE analysis_id = $1`, analysisID)
	return err
}

func (s *Store) DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_conversations WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (s *Store) AppendMessages(ctx context.Context, conversationID string, msgs []chat.Message) ([]chat.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	touched, err := tx.ExecContext(ctx, `
		UPDATE app_conversations SET updated_at = $2 WHERE id = $1
	`, conversationID, now)
	if err != nil {
		return nil, err
	}
	if rows, _ := touched.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, storage.ErrNotFound)
	}

	stored := make([]chat.Message, 0, len(msgs))
	for i, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.ConversationID = conversationID
		if msg.CreatedAt.IsZero() {
			// Skew batch members by a microsecond so ORDER BY created_at
			// preserves append order.
			msg.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO app_messages (id, conversation_id, role, content, prompt_tokens, completion_tokens, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.PromptTokens, msg.CompletionTokens, msg.CreatedAt)
		if err != nil {
			return nil, err
		}
		stored = append(stored, msg)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	var msgs []chat.Message
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT id, conversation_id, role, content, prompt_tokens, completion_tokens, created_at
		FROM app_messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// --- APIKeyStore -----------------------------------------------------------------

func (s *Store) CreateAPIKey(ctx context.Context, key apikey.Key) (apikey.Key, error) {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_api_keys (id, label, hash, expires_at, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, key.ID, key.Label, key.Hash, toNullTime(key.ExpiresAt), toNullTime(key.LastUsedAt), key.CreatedAt)
	if err != nil {
		return apikey.Key{}, err
	}
	return key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (apikey.Key, error) {
	var key apikey.Key
	err := s.db.GetContext(ctx, &key, `
		SELECT id, label, hash, expires_at, last_used_at, created_at
		FROM app_api_keys
		WHERE hash = $1
	`, hash)
	if err != nil {
		return apikey.Key{}, notFound(err, "api key", "")
	}
	return key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]apikey.Key, error) {
	var keys []apikey.Key
	err := s.db.SelectContext(ctx, &keys, `
		SELECT id, label, hash, expires_at, last_used_at, created_at
		FROM app_api_keys
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("api key %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_api_keys SET last_used_at = $2 WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("api key %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- helpers ---------------------------------------------------------------------

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
