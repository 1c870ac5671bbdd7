package events

const (
	// KindToolCallStarted identifies tool call execution start.
	KindToolCallStarted Kind = "tool_call.started"
	// KindToolCallCompleted identifies successful tool call completion.
	KindToolCallCompleted Kind = "tool_call.completed"
	// KindToolCallFailed identifies tool call failure.
	KindToolCallFailed Kind = "tool_call.failed"
)

// ToolCallStarted marks start of tool execution.
type ToolCallStarted struct {
	Base
	CallID    string
	Name      string
	Arguments string
}

// NewToolCallStarted creates a tool call started event.
func NewToolCallStarted(callID, name, arguments string) ToolCallStarted {
	return ToolCallStarted{Base: NewBase(KindToolCallStarted), CallID: callID, Name: name, Arguments: arguments}
}

// ToolCallCompleted marks successful tool execution.
type ToolCallCompleted struct {
	Base
	CallID   string
	Name     string
	Response string
}

// NewToolCallCompleted creates a tool call completed event.
func NewToolCallCompleted(callID, name, response string) ToolCallCompleted {
	return ToolCallCompleted{Base: NewBase(KindToolCallCompleted), CallID: callID, Name: name, Response: response}
}

// ToolCallFailed marks failed tool execution. The failure is also folded
// into the normalized tool result, so the conversation turn survives it.
type ToolCallFailed struct {
	Base
	CallID string
	Name   string
	Error  string
}

// NewToolCallFailed creates a tool call failed event.
func NewToolCallFailed(callID, name, err string) ToolCallFailed {
	return ToolCallFailed{Base: NewBase(KindToolCallFailed), CallID: callID, Name: name, Error: err}
}
