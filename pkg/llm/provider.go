// Package llm provides abstractions for LLM provider integration.
//
// The decision engine's model backend talks to a Provider; nothing else in
// the module depends on a model being available.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4"),
//	    openai.WithTemperature(0.3),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	completion, err := provider.Complete(ctx, []llm.Message{
//	    llm.NewSystemMessage("You are a governance analyst."),
//	    llm.NewUserMessage("Summarize UNI-1."),
//	})
package llm

import "context"

// MessageRole is the author of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one chat message sent to or received from a provider.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Usage is the token accounting reported for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is a provider response.
type Completion struct {
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
	Model   string  `json:"model"`
}

// Provider defines the interface for LLM integrations.
//
// Providers handle API communication only. Prompt construction and response
// parsing belong to the caller, which keeps providers reusable and lets
// tests substitute a fake.
type Provider interface {
	// Complete sends messages to the model and returns the full response.
	//
	// Returns an error if the request cannot be sent, the API rejects it,
	// or the context is canceled.
	Complete(ctx context.Context, messages []Message) (*Completion, error)

	// GetModel returns the model name being used.
	GetModel() string

	// GetBaseURL returns the base URL being used for API requests.
	GetBaseURL() string
}
