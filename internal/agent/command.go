package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/tbulle/remote-ai-ide/internal/logging"
)

const scannerBufSize = 1024 * 1024 // 1 MB

// CommandRunner drives an agent CLI subprocess. The process receives one
// request on stdin and streams line-delimited JSON events on stdout:
//
//	{"type":"chunk","text":"..."}
//	{"type":"tool_request","id":"...","tool":"...","input":{...},"description":"..."}
//	{"type":"done","text":"..."}
//	{"type":"error","message":"..."}
//
// Tool requests are answered on stdin with
// {"type":"permission","id":"...","allowed":true|false,"message":"..."};
// the process blocks on that answer before continuing.
type CommandRunner struct {
	command string
	args    []string
}

// NewCommandRunner creates a runner for the given agent command. The
// command is resolved via PATH at Run time.
func NewCommandRunner(command string, args ...string) *CommandRunner {
	return &CommandRunner{command: command, args: args}
}

type wireEvent struct {
	Type        string         `json:"type"`
	Text        string         `json:"text,omitempty"`
	ID          string         `json:"id,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Description string         `json:"description,omitempty"`
	Message     string         `json:"message,omitempty"`
}

type wireRequest struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt,omitempty"`

	// permission response fields
	ID      string `json:"id,omitempty"`
	Allowed bool   `json:"allowed,omitempty"`
	Message string `json:"message,omitempty"`
}

// stdinWriter serializes writes to the subprocess stdin.
type stdinWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (sw *stdinWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("stdin pipe closed")
	}
	_, err = sw.w.Write(append(data, '\n'))
	return err
}

func (sw *stdinWriter) close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.w.Close()
		sw.closed = true
	}
}

// Run starts the subprocess in dir and translates its stdio protocol into
// agent events.
func (r *CommandRunner) Run(ctx context.Context, dir, prompt string) (<-chan Event, error) {
	binaryPath, err := exec.LookPath(r.command)
	if err != nil {
		return nil, fmt.Errorf("agent command %q not found in PATH", r.command)
	}

	cmd := exec.CommandContext(ctx, binaryPath, r.args...)
	cmd.Dir = dir

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdinPipe.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdinPipe.Close()
		return nil, fmt.Errorf("start agent process: %w", err)
	}

	stdin := &stdinWriter{w: stdinPipe}
	events := make(chan Event)

	go r.pump(ctx, cmd, stdin, stdoutPipe, prompt, events)

	return events, nil
}

// pump owns the subprocess lifetime: it sends the prompt, translates
// stdout lines into events, answers tool requests, and emits exactly one
// terminal event before closing the channel.
func (r *CommandRunner) pump(ctx context.Context, cmd *exec.Cmd, stdin *stdinWriter, stdout io.Reader, prompt string, events chan<- Event) {
	defer close(events)

	terminal := func(ev Event) {
		stdin.close()
		if err := cmd.Wait(); err != nil && ev.Type != EventError {
			logging.Warn().Err(err).Msg("agent process exited abnormally after result")
		}
		events <- ev
	}

	if err := stdin.writeJSON(wireRequest{Type: "prompt", Prompt: prompt}); err != nil {
		terminal(Event{Type: EventError, Err: fmt.Errorf("send prompt: %w", err)})
		return
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var we wireEvent
		if err := json.Unmarshal(line, &we); err != nil {
			logging.Warn().Err(err).Msg("agent process emitted undecodable line")
			continue
		}

		switch we.Type {
		case "chunk":
			select {
			case events <- Event{Type: EventChunk, Text: we.Text}:
			case <-ctx.Done():
				terminal(Event{Type: EventError, Err: ctx.Err()})
				return
			}

		case "tool_request":
			call := &ToolCall{
				Name:        we.Tool,
				Input:       we.Input,
				Description: we.Description,
				Reply:       make(chan Decision, 1),
			}
			select {
			case events <- Event{Type: EventToolRequest, Tool: call}:
			case <-ctx.Done():
				terminal(Event{Type: EventError, Err: ctx.Err()})
				return
			}

			// The subprocess blocks on the answer; so do we.
			select {
			case decision := <-call.Reply:
				if err := stdin.writeJSON(wireRequest{
					Type:    "permission",
					ID:      we.ID,
					Allowed: decision.Allowed,
					Message: decision.Message,
				}); err != nil {
					terminal(Event{Type: EventError, Err: fmt.Errorf("send permission: %w", err)})
					return
				}
			case <-ctx.Done():
				terminal(Event{Type: EventError, Err: ctx.Err()})
				return
			}

		case "done":
			terminal(Event{Type: EventDone, Text: we.Text})
			return

		case "error":
			terminal(Event{Type: EventError, Err: fmt.Errorf("%s", we.Message)})
			return
		}
	}

	if err := ctx.Err(); err != nil {
		terminal(Event{Type: EventError, Err: err})
		return
	}
	if err := scanner.Err(); err != nil {
		terminal(Event{Type: EventError, Err: fmt.Errorf("read agent output: %w", err)})
		return
	}
	terminal(Event{Type: EventError, Err: fmt.Errorf("agent process exited without a result")})
}
