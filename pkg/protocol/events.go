package protocol

// WebSocket event names pushed from server to client.
const (
	EventHealth   = "health"
	EventChat     = "chat"
	EventAgent    = "agent"
	EventShutdown = "shutdown"
	EventTick     = "tick"
)

// Agent event subtypes (in payload.type).
const (
	AgentEventRunStarted   = "run.started"
	AgentEventRunCompleted = "run.completed"
	AgentEventRunFailed    = "run.failed"
	AgentEventToolResult   = "tool.result"
	AgentEventBlockReply   = "block.reply"
)
