package domain

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleTool      = "tool"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// orchestrator and LLM integrations. ToolCall is set on an assistant turn that
// requested a tool and on the tool turn that answers it.
type ChatMessage struct {
	Role     string
	Content  string
	ToolCall *ToolInvocation
}

// ToolSpec declares a callable function to providers that support structured
// tool calls.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolInvocation is a request from the model to run a named tool with a JSON
// argument payload.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments string
}

// CompletionRequest is one call to the LLM capability.
type CompletionRequest struct {
	Messages []ChatMessage
	Tools    []ToolSpec
}

// Completion is the discriminated LLM response: plain text when ToolCall is
// nil, a tool invocation otherwise. Text may accompany a tool invocation.
type Completion struct {
	Text     string
	ToolCall *ToolInvocation
}

// IsToolCall reports whether the completion asks for a tool.
func (c Completion) IsToolCall() bool {
	return c.ToolCall != nil
}
