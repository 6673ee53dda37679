package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	domain "github.com/lenslab/vision-gateway/internal/app/domain/chat"
	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/app/storage/memory"
	"github.com/lenslab/vision-gateway/internal/azure/openai"
)

type fakeCompleter struct {
	calls   int
	last    openai.ChatRequest
	content string
	usage   openai.Usage
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, req openai.ChatRequest) (openai.ChatCompletion, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return openai.ChatCompletion{}, f.err
	}
	return openai.ChatCompletion{Content: f.content, FinishReason: "stop", Usage: f.usage}, nil
}

func seedAnalysis(t *testing.T, store *memory.Store) analysis.Record {
	t.Helper()
	rec, err := store.CreateAnalysis(context.Background(), analysis.Record{
		Mode:     analysis.ModeClassic,
		Language: "en",
		Result: analysis.Result{
			Caption:    "a dog on a beach",
			Confidence: 0.93,
			Tags:       []analysis.Tag{{Name: "dog", Confidence: 0.98}},
			Text:       []string{"NO DOGS"},
		},
	})
	if err != nil {
		t.Fatalf("seed analysis: %v", err)
	}
	return rec
}

func newTestService(store *memory.Store, opts ...Option) (*Service, *fakeCompleter) {
	completer := &fakeCompleter{
		content: "A golden retriever, most likely.",
		usage:   openai.Usage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52},
	}
	svc := New(store, store, nil, opts...)
	svc.AttachCompleter(completer)
	return svc, completer
}

func TestOpenSeedsSystemPrompt(t *testing.T) {
	store := memory.New()
	rec := seedAnalysis(t, store)
	svc, _ := newTestService(store)
	ctx := context.Background()

	conv, starters, err := svc.Open(ctx, rec.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if conv.ID == "" || conv.AnalysisID != rec.ID {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if len(starters) == 0 {
		t.Fatal("expected starter suggestions")
	}

	msgs, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != domain.RoleSystem {
		t.Fatalf("expected single system message, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "a dog on a beach") || !strings.Contains(msgs[0].Content, "NO DOGS") {
		t.Fatalf("system prompt missing analysis fields: %q", msgs[0].Content)
	}
}

func TestOpenUnknownAnalysis(t *testing.T) {
	svc, _ := newTestService(memory.New())
	if _, _, err := svc.Open(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSendRoundTrip(t *testing.T) {
	store := memory.New()
	rec := seedAnalysis(t, store)
	svc, completer := newTestService(store)
	ctx := context.Background()

	conv, _, err := svc.Open(ctx, rec.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	reply, suggested, usage, err := svc.Send(ctx, conv.ID, "What breed is the dog?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Role != domain.RoleAssistant || reply.Content != "A golden retriever, most likely." {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.PromptTokens != 40 || reply.CompletionTokens != 12 {
		t.Fatalf("token counts not stored on reply: %+v", reply)
	}
	if usage.TotalTokens != 52 {
		t.Fatalf("usage = %+v", usage)
	}
	if len(suggested) == 0 {
		t.Fatal("expected refreshed suggestions")
	}

	// The model saw the system prompt followed by the user turn.
	if len(completer.last.Messages) != 2 {
		t.Fatalf("model request has %d messages, want 2", len(completer.last.Messages))
	}
	if completer.last.Messages[0].Role != "system" || !strings.Contains(completer.last.Messages[0].Text, "a dog on a beach") {
		t.Fatalf("system prompt not first: %+v", completer.last.Messages[0])
	}
	if completer.last.Messages[1].Role != "user" || completer.last.Messages[1].Text != "What breed is the dog?" {
		t.Fatalf("user turn not last: %+v", completer.last.Messages[1])
	}

	// Both turns persisted; the transcript hides the system prompt.
	_, transcript, err := svc.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(transcript) != 2 || transcript[0].Role != domain.RoleUser || transcript[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}
}

func TestSendValidation(t *testing.T) {
	store := memory.New()
	rec := seedAnalysis(t, store)
	svc, _ := newTestService(store, WithMaxMessageChars(10))
	ctx := context.Background()

	conv, _, err := svc.Open(ctx, rec.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, _, _, err := svc.Send(ctx, conv.ID, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank content: got %v", err)
	}
	if _, _, _, err := svc.Send(ctx, conv.ID, "this is far too long"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("over limit: got %v", err)
	}
	if _, _, _, err := svc.Send(ctx, "missing", "hello"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown conversation: got %v", err)
	}

	unconfigured := New(store, store, nil)
	if _, _, _, err := unconfigured.Send(ctx, conv.ID, "hello"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("no completer: got %v", err)
	}
}

func TestSendModelFailurePersistsNothing(t *testing.T) {
	store := memory.New()
	rec := seedAnalysis(t, store)
	svc, completer := newTestService(store)
	ctx := context.Background()

	conv, _, err := svc.Open(ctx, rec.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	completer.err = errors.New("model offline")
	if _, _, _, err := svc.Send(ctx, conv.ID, "hello"); err == nil {
		t.Fatal("expected model error")
	}

	msgs, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("failed turn must not persist, transcript has %d messages", len(msgs))
	}
}

func TestWindowDropsOldestTurnsKeepsSystem(t *testing.T) {
	store := memory.New()
	rec := seedAnalysis(t, store)
	svc, completer := newTestService(store, WithHistoryLimit(3))
	ctx := context.Background()

	conv, _, err := svc.Open(ctx, rec.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 1; i <= 4; i++ {
		if _, _, _, err := svc.Send(ctx, conv.ID, fmt.Sprintf("question %d", i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	// Before the 4th send the history held 6 turns; the window keeps the
	// trailing 3 (question 3's reply, question 4) under the system prompt.
	got := completer.last.Messages
	if len(got) != 4 {
		t.Fatalf("window size = %d, want 4", len(got))
	}
	if got[0].Role != "system" {
		t.Fatalf("system prompt dropped: %+v", got[0])
	}
	if got[1].Text != "question 3" || got[2].Role != "assistant" || got[3].Text != "question 4" {
		t.Fatalf("unexpected window: %+v", got[1:])
	}
}

func TestListAndDelete(t *testing.T) {
	store := memory.New()
	rec := seedAnalysis(t, store)
	svc, _ := newTestService(store)
	ctx := context.Background()

	first, _, err := svc.Open(ctx, rec.ID)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	if _, _, err := svc.Open(ctx, rec.ID); err != nil {
		t.Fatalf("open second: %v", err)
	}

	convs, err := svc.List(ctx, rec.ID)
	if err != nil || len(convs) != 2 {
		t.Fatalf("list: %v (%d)", err, len(convs))
	}

	if err := svc.Delete(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := svc.Get(ctx, first.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
