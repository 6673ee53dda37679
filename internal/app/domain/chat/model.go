// Package chat defines conversations and messages for the follow-up chat
// feature.
package chat

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation groups messages about one analysis. The first stored message
// is always the system prompt assembled from the analysis fields; it is
// never returned in transcripts.
type Conversation struct {
	ID         string    `json:"id" db:"id"`
	AnalysisID string    `json:"analysis_id" db:"analysis_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Message is a single turn in a conversation. Token counts are recorded on
// assistant messages only.
type Message struct {
	ID               string    `json:"id" db:"id"`
	ConversationID   string    `json:"conversation_id" db:"conversation_id"`
	Role             Role      `json:"role" db:"role"`
	Content          string    `json:"content" db:"content"`
	PromptTokens     int       `json:"prompt_tokens,omitempty" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens,omitempty" db:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Usage summarises token consumption for one model exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
