package domain

// Role defines the sender of a message.
type Role string

const (
	// RoleUser indicates a message from the customer.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model/assistant.
	RoleAssistant Role = "assistant"
	// RoleTool indicates a tool result.
	RoleTool Role = "tool"
	// RoleSystem indicates a system-level message.
	RoleSystem Role = "system"
)

// State is the confirmation state of a thread.
type State string

const (
	// StateIdle means no sensitive tool call is waiting for the user.
	StateIdle State = "idle"
	// StateAwaitingConfirmation means a sensitive tool call is paused until
	// the user answers yes or no.
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// InvocationStatus is the resolution of a single tool call.
type InvocationStatus string

const (
	InvocationPending  InvocationStatus = "pending"
	InvocationExecuted InvocationStatus = "executed"
	InvocationDenied   InvocationStatus = "denied"
)
