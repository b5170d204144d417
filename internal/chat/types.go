package chat

import "context"

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is the internal request structure
type Request struct {
	Messages       []Message
	Model          string
	Temperature    *float32        // optional temperature
	ResponseFormat *ResponseFormat // optional response format
	MaxTokens      *int            // optional max tokens
}

// ResponseFormat specifies the format of the response
type ResponseFormat struct {
	Type string `json:"type"` // "json_object" or "text"
}

// Result is the internal result structure
type Result struct {
	Message      Message
	Model        string
	FinishReason string
	Usage        Usage
}

// Provider completes a chat request against one backend.
type Provider interface {
	Chat(ctx context.Context, req Request) (Result, error)
}
