// Package respond defines the response-generation provider interface.
//
// A Provider turns a recognized user utterance into the assistant's spoken
// reply. The pipeline calls it once per interaction with the session context
// (interaction mode, system prompt, and conversation history up to but not
// including the current input).
package respond

import "context"

// Mode selects the interaction style the provider should use.
type Mode string

const (
	// ModeConversation keeps multi-turn context and a conversational tone.
	ModeConversation Mode = "conversation"
	// ModeCommand treats each input as a standalone instruction.
	ModeCommand Mode = "command"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of prior conversation.
type Message struct {
	Role    Role
	Content string
}

// Session carries per-interaction context for response generation.
type Session struct {
	// Mode selects conversation or command handling.
	Mode Mode
	// SystemPrompt is prepended to every request. Empty means the provider's
	// default prompt.
	SystemPrompt string
	// History holds prior turns, oldest first. The current input is passed
	// separately to Respond.
	History []Message
}

// Provider generates a text response for a user input.
//
// Implementations must honor ctx cancellation and return the context error
// when cancelled mid-request.
type Provider interface {
	// Respond generates the assistant's reply to input given the session
	// context. The returned string is the complete reply text.
	Respond(ctx context.Context, input string, session Session) (string, error)
}
