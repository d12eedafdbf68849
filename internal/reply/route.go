package reply

import "context"

// routableChannels are the providers the router can deliver to directly.
var routableChannels = map[string]struct{}{
	"whatsapp": {},
	"telegram": {},
	"discord":  {},
	"slack":    {},
	"signal":   {},
	"imessage": {},
	"msteams":  {},
}

// IsRoutableChannel reports whether replies can be routed to channel.
func IsRoutableChannel(channel string) bool {
	_, ok := routableChannels[channel]
	return ok
}

// RouteRequest asks the router to deliver a payload on a channel other than
// the one the agent is attached to.
type RouteRequest struct {
	Channel   string
	To        string
	AccountID string
	ThreadID  string
	Payload   Payload
}

// Router delivers cross-provider replies.
type Router interface {
	RouteReply(ctx context.Context, req RouteRequest) error
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(ctx context.Context, req RouteRequest) error

func (f RouterFunc) RouteReply(ctx context.Context, req RouteRequest) error {
	return f(ctx, req)
}
