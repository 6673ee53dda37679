// Package openai calls an Azure OpenAI chat completions deployment. The same
// client serves plain conversation turns and multimodal turns that attach an
// image.
package openai

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lenslab/vision-gateway/internal/httputil"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

const apiVersion = "2024-02-15-preview"

// Message is one chat turn. A non-empty ImageURL turns the content into a
// multimodal part list with the image attached after the text.
type Message struct {
	Role     string
	Text     string
	ImageURL string
}

// ChatRequest is one completion call.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// ForceJSON asks the model for a JSON object response.
	ForceJSON bool
}

// Usage is the token accounting reported by the service.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the assistant turn produced for a request.
type ChatCompletion struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Client talks to one chat completions deployment.
type Client struct {
	http       *httputil.Client
	deployment string
	log        *logger.Logger
}

// NewClient constructs a client for the given resource endpoint and
// deployment name.
func NewClient(endpoint, key, deployment string, log *logger.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("openai endpoint required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	deployment = strings.TrimSpace(deployment)
	if deployment == "" {
		return nil, fmt.Errorf("openai deployment name required")
	}
	if log == nil {
		log = logger.NewDefault("openai-client")
	}

	httpClient, err := httputil.NewClient(httputil.ClientConfig{
		BaseURL: endpoint,
		Headers: map[string]string{"api-key": strings.TrimSpace(key)},
		Timeout: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}

	return &Client{http: httpClient, deployment: deployment, log: log}, nil
}

type wireImage struct {
	URL string `json:"url"`
}

type wirePart struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	ImageURL *wireImage `json:"image_url,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type wireFormat struct {
	Type string `json:"type"`
}

// Complete runs one chat completion and returns the assistant turn.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (ChatCompletion, error) {
	if len(req.Messages) == 0 {
		return ChatCompletion{}, fmt.Errorf("chat request has no messages")
	}

	messages := make([]wireMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := msg.Role
		if role == "" {
			role = "user"
		}
		if msg.ImageURL == "" {
			messages = append(messages, wireMessage{Role: role, Content: msg.Text})
			continue
		}
		messages = append(messages, wireMessage{Role: role, Content: []wirePart{
			{Type: "text", Text: msg.Text},
			{Type: "image_url", ImageURL: &wireImage{URL: msg.ImageURL}},
		}})
	}

	payload := struct {
		Messages       []wireMessage `json:"messages"`
		MaxTokens      int           `json:"max_tokens,omitempty"`
		Temperature    float64       `json:"temperature,omitempty"`
		ResponseFormat *wireFormat   `json:"response_format,omitempty"`
	}{
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.ForceJSON {
		payload.ResponseFormat = &wireFormat{Type: "json_object"}
	}

	path := "/openai/deployments/" + url.PathEscape(c.deployment) +
		"/chat/completions?api-version=" + apiVersion

	start := time.Now()
	resp, err := c.http.Post(ctx, path, payload)
	if err != nil {
		return ChatCompletion{}, err
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := httputil.DecodeResponse(resp, &decoded); err != nil {
		return ChatCompletion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return ChatCompletion{}, fmt.Errorf("chat completion: response has no choices")
	}

	c.log.WithFields(map[string]interface{}{
		"deployment":    c.deployment,
		"finish_reason": decoded.Choices[0].FinishReason,
		"total_tokens":  decoded.Usage.TotalTokens,
		"elapsed_ms":    time.Since(start).Milliseconds(),
	}).Debug("chat completion finished")

	return ChatCompletion{
		Content:      decoded.Choices[0].Message.Content,
		FinishReason: decoded.Choices[0].FinishReason,
		Usage:        decoded.Usage,
	}, nil
}
