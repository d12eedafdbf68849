package protocol

// RPC method name constants.
const (
	// System
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	// Outbound messaging (idempotency-keyed)
	MethodSend = "send"
	MethodPoll = "poll"

	// Channels
	MethodChannelsList   = "channels.list"
	MethodChannelsStatus = "channels.status"
	MethodChannelsAction = "channels.action"

	// Sessions (metadata index only; transcripts live with the agent runtime)
	MethodSessionsList   = "sessions.list"
	MethodSessionsDelete = "sessions.delete"

	// Config
	MethodConfigGet = "config.get"
)
