// Package session implements the conversation lifecycle engine: the
// per-session state machine, the sequenced message log, the tool
// permission handshake, and the capacity-bounded registry.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbulle/remote-ai-ide/internal/agent"
	"github.com/tbulle/remote-ai-ide/internal/logging"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusReady Status = "ready"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

var (
	// ErrBusy is returned when a turn arrives while one is in flight.
	ErrBusy = errors.New("session is busy")
	// ErrClosed is returned when a turn arrives after the session was
	// deleted or reclaimed.
	ErrClosed = errors.New("session is closed")
)

// PermissionRequest describes a tool invocation awaiting approval.
type PermissionRequest struct {
	RequestID   string
	ToolName    string
	ToolInput   map[string]any
	Description string
}

// Callbacks receive the sequenced output of one turn. All callbacks are
// invoked from the goroutine running SendMessage, in event order.
type Callbacks struct {
	OnChunk             func(content string, seq int)
	OnPermissionRequest func(req PermissionRequest)
	OnComplete          func(content string, seq int)
	OnError             func(message string)
}

// Session owns one conversation with the agent engine.
type Session struct {
	ID      string
	WorkDir string

	runner agent.Runner
	log    *Log
	logger zerolog.Logger

	// notify is called after status transitions; set by the registry.
	notify func(s *Session)

	mu           sync.Mutex
	status       Status
	seq          int
	lastActivity time.Time
	pending      map[string]chan agent.Decision
	cancelRun    context.CancelFunc
	closed       bool
}

// New creates a session in the ready state.
func New(id, workDir string, runner agent.Runner) *Session {
	return &Session{
		ID:           id,
		WorkDir:      workDir,
		runner:       runner,
		log:          NewLog(DefaultLogCapacity),
		logger:       logging.With().Str("session", id).Logger(),
		status:       StatusReady,
		lastActivity: time.Now(),
		pending:      make(map[string]chan agent.Decision),
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MessageCount returns the number of retained log entries.
func (s *Session) MessageCount() int {
	return s.log.Len()
}

// LastActivity returns the time of the most recent inbound or outbound
// event on this session.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// MessagesSince returns the logged turns with seq strictly greater than
// the argument, in log order. Pure read, no side effects.
func (s *Session) MessagesSince(seq int) []Message {
	return s.log.Since(seq)
}

// touch updates lastActivity. Caller holds s.mu.
func (s *Session) touch() {
	s.lastActivity = time.Now()
}

// nextSeq mints a strictly increasing sequence number. Caller holds s.mu.
func (s *Session) nextSeq() int {
	s.seq++
	return s.seq
}

// SendMessage runs one user turn against the agent engine, streaming its
// output through the callbacks. At most one turn may be in flight; a
// second concurrent call fails with ErrBusy without side effects.
// The call returns when the run reaches its terminal outcome.
func (s *Session) SendMessage(ctx context.Context, text string, cb Callbacks) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status == StatusBusy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.status = StatusBusy
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	userSeq := s.nextSeq()
	s.touch()
	s.mu.Unlock()

	s.log.Append(Message{Role: RoleUser, Content: text, Timestamp: time.Now().UnixMilli(), Seq: userSeq})
	s.notifyState()

	defer func() {
		s.mu.Lock()
		s.cancelRun = nil
		s.mu.Unlock()
		cancel()
		s.denyOutstanding()
		s.notifyState()
	}()

	events, err := s.runner.Run(runCtx, s.WorkDir, text)
	if err != nil {
		s.finishError(err, cb)
		return nil
	}

	var accumulated string
	for ev := range events {
		switch ev.Type {
		case agent.EventChunk:
			s.mu.Lock()
			seq := s.nextSeq()
			s.touch()
			s.mu.Unlock()
			accumulated += ev.Text
			if cb.OnChunk != nil {
				cb.OnChunk(ev.Text, seq)
			}

		case agent.EventToolRequest:
			req := s.registerPermission(ev.Tool)
			s.logger.Debug().Str("tool", req.ToolName).Str("request", req.RequestID).Msg("tool permission requested")
			if cb.OnPermissionRequest != nil {
				cb.OnPermissionRequest(req)
			}

		case agent.EventDone:
			final := ev.Text
			if final == "" {
				final = accumulated
			}
			s.mu.Lock()
			seq := s.nextSeq()
			s.status = StatusReady
			s.touch()
			s.mu.Unlock()
			s.log.Append(Message{Role: RoleAssistant, Content: final, Timestamp: time.Now().UnixMilli(), Seq: seq})
			if cb.OnComplete != nil {
				cb.OnComplete(final, seq)
			}

		case agent.EventError:
			s.finishError(ev.Err, cb)
		}
	}

	return nil
}

// finishError moves the session to the error state. The partial
// accumulated content is not logged; a failed turn leaves only its user
// entry.
func (s *Session) finishError(err error, cb Callbacks) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	s.status = StatusError
	s.touch()
	s.mu.Unlock()
	s.logger.Warn().Str("error", msg).Msg("agent run failed")
	if cb.OnError != nil {
		cb.OnError(msg)
	}
}

// registerPermission mints a request id and parks the tool call's reply
// channel until ResolvePermission.
func (s *Session) registerPermission(call *agent.ToolCall) PermissionRequest {
	requestID := uuid.New().String()
	s.mu.Lock()
	s.pending[requestID] = call.Reply
	s.touch()
	s.mu.Unlock()

	description := call.Description
	if description == "" {
		description = "Tool: " + call.Name
	}
	return PermissionRequest{
		RequestID:   requestID,
		ToolName:    call.Name,
		ToolInput:   call.Input,
		Description: description,
	}
}

// ResolvePermission resolves an outstanding tool request. Allowed
// authorizes the call with its originally proposed input; denial carries
// the reason. Resolving an unknown or already-resolved id is a no-op.
func (s *Session) ResolvePermission(requestID string, allowed bool) {
	s.mu.Lock()
	reply, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
		s.touch()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	decision := agent.Decision{Allowed: allowed}
	if !allowed {
		decision.Message = "User denied permission"
	}
	reply <- decision
}

// denyOutstanding resolves any permission requests left over after a run
// terminates so the engine side never blocks forever.
func (s *Session) denyOutstanding() {
	s.mu.Lock()
	leftover := s.pending
	s.pending = make(map[string]chan agent.Decision)
	s.mu.Unlock()

	for _, reply := range leftover {
		reply <- agent.Decision{Allowed: false, Message: "Run terminated"}
	}
}

// Abort signals the in-flight run to stop. Status is unchanged here; the
// run observes the cancellation and unwinds into the error path.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset moves an errored session back to ready. Returns false, with no
// state change, from any other status.
func (s *Session) Reset() bool {
	s.mu.Lock()
	if s.status != StatusError {
		s.mu.Unlock()
		return false
	}
	s.status = StatusReady
	s.touch()
	s.mu.Unlock()
	s.notifyState()
	return true
}

// close marks the session unusable and cancels any in-flight run. Returns
// false if already closed. Used by the registry on delete and reclaim.
func (s *Session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// tryReclaim atomically closes the session if it is idle: not busy, not
// already closed, and untouched since the cutoff. The busy check and the
// close happen under the same lock that SendMessage uses to transition to
// busy, so a session can never be reclaimed mid-transition.
func (s *Session) tryReclaim(cutoff time.Time) bool {
	s.mu.Lock()
	if s.closed || s.status == StatusBusy || s.lastActivity.After(cutoff) {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (s *Session) notifyState() {
	if s.notify != nil {
		s.notify(s)
	}
}
