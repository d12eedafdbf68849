package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/reply"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
)

// ExecResolver bridges turns to an external agent CLI. Each turn runs the
// configured command once in the agent's workspace with the prompt on stdin;
// stdout lines stream back as partial reply events and the stream closes
// with an empty final once the process exits.
type ExecResolver struct {
	log *slog.Logger
}

// NewExecResolver returns a resolver backed by the per-agent command from
// config. Agents without a command configured resolve to an error turn.
func NewExecResolver(log *slog.Logger) *ExecResolver {
	if log == nil {
		log = slog.Default()
	}
	return &ExecResolver{log: log}
}

func (r *ExecResolver) Resolve(ctx context.Context, msg reply.MsgContext, cfg *config.Config) (<-chan reply.Event, error) {
	agentID := sessions.ResolveAgentIDFromSessionKey(msg.SessionKey)
	agent := cfg.ResolveAgent(agentID)
	if agent.Command == "" {
		return nil, fmt.Errorf("agent %s has no command configured", agentID)
	}

	argv := strings.Fields(agent.Command)
	timeout := time.Duration(agent.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = config.ExpandHome(agent.Workspace)
	cmd.Env = append(cmd.Environ(),
		"RELAYGATE_AGENT_ID="+agentID,
		"RELAYGATE_SESSION_KEY="+msg.SessionKey,
		"RELAYGATE_PROVIDER="+msg.Provider,
		"RELAYGATE_MODEL="+agent.Model,
	)
	cmd.Stdin = strings.NewReader(buildPrompt(msg))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent %s: stdout pipe: %w", agentID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent %s: stderr pipe: %w", agentID, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("agent %s: start %q: %w", agentID, argv[0], err)
	}

	out := make(chan reply.Event, 8)
	go r.drainStderr(agentID, stderr)
	go func() {
		defer cancel()
		defer close(out)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case out <- reply.Event{Kind: reply.EventPartial, Payload: reply.Payload{Text: line}}:
			case <-runCtx.Done():
			}
		}

		err := cmd.Wait()
		if runCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s", timeout)
		}
		if err != nil {
			r.log.Error("agent command failed", "agent", agentID, "error", err)
			out <- reply.Event{Kind: reply.EventFinal, Payload: reply.Payload{
				Text:    "Agent error: " + err.Error(),
				IsError: true,
			}}
			return
		}
		// Empty final: the coalescer flushes buffered partials, and the
		// dispatcher suppresses the empty closing payload.
		out <- reply.Event{Kind: reply.EventFinal, Payload: reply.Payload{}}
	}()
	return out, nil
}

func (r *ExecResolver) drainStderr(agentID string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			r.log.Debug("agent stderr", "agent", agentID, "line", line)
		}
	}
}

// buildPrompt renders the inbound message as the agent's stdin, listing
// attached media URLs after the text.
func buildPrompt(msg reply.MsgContext) string {
	if len(msg.Media) == 0 {
		return msg.Content
	}
	var b strings.Builder
	b.WriteString(msg.Content)
	for _, u := range msg.Media {
		b.WriteString("\n[media] ")
		b.WriteString(u)
	}
	return b.String()
}
