package agent

import "strings"

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role       string                 `json:"role"` // system, user, assistant, tool
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a request emitted by the agent to invoke one named
// operation with structured arguments.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolSpec describes one tool offered to the agent for a turn.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request contains the parameters for one provider call.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains a provider's reply: text, zero or more tool-call
// requests, and usage accounting.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// AuthProfile holds credentials for one provider account.
type AuthProfile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // anthropic, openai
	APIKey   string `json:"api_key"`
	Priority int    `json:"priority"`
}

// IsRetryableError reports whether an error is transient: network
// resets, rate limits, and server-side failures are retried; everything
// else is surfaced immediately.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"ECONNRESET", "ETIMEDOUT", "connection reset",
		"429", "rate limit",
		"500", "502", "503", "504",
		"deadline exceeded", "timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
