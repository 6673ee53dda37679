package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/app/domain/apikey"
	"github.com/lenslab/vision-gateway/internal/app/domain/chat"
	"github.com/lenslab/vision-gateway/internal/app/domain/image"
	"github.com/lenslab/vision-gateway/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db.DB))

	store := New(db)
	ctx := context.Background()

	img, err := store.CreateImage(ctx, image.Image{
		BlobName:    "sample.jpg",
		ContentType: "image/jpeg",
		ByteSize:    3,
		SHA256:      "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	})
	require.NoError(t, err)

	rec, err := store.CreateAnalysis(ctx, analysis.Record{
		ImageID:  img.ID,
		Mode:     analysis.ModeClassic,
		Language: "en",
		Provider: "azure-computer-vision",
		Result: analysis.Result{
			Caption:    "a dog on a beach",
			Confidence: 0.93,
			Tags:       []analysis.Tag{{Name: "dog", Confidence: 0.98}},
		},
	})
	require.NoError(t, err)

	got, err := store.GetAnalysis(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "a dog on a beach", got.Result.Caption)
	assert.Len(t, got.Result.Tags, 1)

	conv, err := store.CreateConversation(ctx, chat.Conversation{AnalysisID: rec.ID})
	require.NoError(t, err)

	_, err = store.AppendMessages(ctx, conv.ID, []chat.Message{
		{Role: chat.RoleSystem, Content: "image context"},
		{Role: chat.RoleUser, Content: "what breed is it?"},
	})
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleSystem, msgs[0].Role)

	key, err := store.CreateAPIKey(ctx, apikey.Key{Label: "test", Hash: "deadbeef"})
	require.NoError(t, err)
	_, err = store.GetAPIKeyByHash(ctx, "deadbeef")
	require.NoError(t, err)
	require.NoError(t, store.DeleteAPIKey(ctx, key.ID))

	// Deleting the analysis must cascade to its conversations and messages.
	require.NoError(t, store.DeleteAnalysis(ctx, rec.ID))
	_, err = store.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "conversation should be gone after cascade")

	require.NoError(t, store.DeleteImage(ctx, img.ID))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestGetImageNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, blob_name").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetImage(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAnalysisNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM app_analyses").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListAnalysesAppliesFilter(t *testing.T) {
	store, mock := newMockStore(t)

	columns := []string{"id", "image_id", "source_url", "mode", "language", "provider", "result", "latency_ms", "created_at"}
	mock.ExpectQuery(`WHERE mode = \$1 AND language = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("enhanced", "ja", 5).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a1", "i1", "", "enhanced", "ja", "azure-openai", []byte(`{"caption":"猫","confidence":0.8,"metadata":{}}`), 120, time.Now().UTC()))

	recs, err := store.ListAnalyses(context.Background(), storage.AnalysisFilter{
		Mode:     analysis.ModeEnhanced,
		Language: "ja",
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "猫", recs[0].Result.Caption)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessagesMissingConversationRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE app_conversations").
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.AppendMessages(context.Background(), "missing", []chat.Message{
		{Role: chat.RoleUser, Content: "hello"},
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessagesCommitsAllRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE app_conversations").
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_messages").
		WithArgs(sqlmock.AnyArg(), "c1", "user", "hi", 0, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_messages").
		WithArgs(sqlmock.AnyArg(), "c1", "assistant", "hello there", 12, 7, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stored, err := store.AppendMessages(context.Background(), "c1", []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "hello there", PromptTokens: 12, CompletionTokens: 7},
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.NotEmpty(t, stored[0].ID)
	assert.Equal(t, "c1", stored[1].ConversationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
