// Package testutil provides mock provider implementations shared by tests.
package testutil

import (
	"context"
	"sync"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/azure/openai"
	"github.com/lenslab/vision-gateway/internal/azure/vision"
)

// MockVision is a test implementation of the classic-path provider.
type MockVision struct {
	mu          sync.Mutex
	calls       int
	lastRequest vision.AnalyzeRequest

	Result    analysis.Result
	Err       error
	Languages []string // nil accepts "" and "en"
}

// NewMockVision creates a vision mock returning the given result.
func NewMockVision(result analysis.Result) *MockVision {
	return &MockVision{Result: result}
}

// Analyze records the request and returns the configured result or error.
func (m *MockVision) Analyze(_ context.Context, req vision.AnalyzeRequest) (analysis.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastRequest = req
	if m.Err != nil {
		return analysis.Result{}, m.Err
	}
	return m.Result, nil
}

// SupportsLanguage reports whether lang is in the configured set.
func (m *MockVision) SupportsLanguage(lang string) bool {
	if m.Languages == nil {
		return lang == "" || lang == "en"
	}
	for _, candidate := range m.Languages {
		if candidate == lang {
			return true
		}
	}
	return false
}

// Calls returns how many analyses ran.
func (m *MockVision) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent analyze request.
func (m *MockVision) LastRequest() vision.AnalyzeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// MockCompleter is a test implementation of the chat-completions provider.
type MockCompleter struct {
	mu    sync.Mutex
	calls int
	last  openai.ChatRequest

	Reply string
	Usage openai.Usage
	Err   error
}

// NewMockCompleter creates a completer mock returning the given reply.
func NewMockCompleter(reply string) *MockCompleter {
	return &MockCompleter{Reply: reply}
}

// Complete records the request and returns the configured reply or error.
func (m *MockCompleter) Complete(_ context.Context, req openai.ChatRequest) (openai.ChatCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = req
	if m.Err != nil {
		return openai.ChatCompletion{}, m.Err
	}
	return openai.ChatCompletion{Content: m.Reply, FinishReason: "stop", Usage: m.Usage}, nil
}

// Calls returns how many completions ran.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent completion request.
func (m *MockCompleter) LastRequest() openai.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// MockTranslator is a test implementation of the translation provider. It
// returns each text prefixed with the target code, e.g. "ja:hello".
type MockTranslator struct {
	mu    sync.Mutex
	calls int

	Err error
}

// Translate records the call and prefixes every text with the target code.
func (m *MockTranslator) Translate(_ context.Context, texts []string, _, to string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = to + ":" + text
	}
	return out, nil
}

// Calls returns how many translations ran.
func (m *MockTranslator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
