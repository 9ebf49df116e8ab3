package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbulle/remote-ai-ide/internal/agent"
)

// scriptStep describes one unit a scripted run yields.
type scriptStep struct {
	chunk string
	tool  *scriptTool
	done  string // final text; used when terminal
	fail  error
}

type scriptTool struct {
	name string
	// decisions records what the engine side received.
	decisions chan agent.Decision
}

// scriptedRunner replays a fixed sequence of events. Tool steps suspend
// until resolved, mirroring the engine contract.
type scriptedRunner struct {
	steps  []scriptStep
	runErr error
}

func (r *scriptedRunner) Run(ctx context.Context, dir, prompt string) (<-chan agent.Event, error) {
	if r.runErr != nil {
		return nil, r.runErr
	}
	ch := make(chan agent.Event)
	go func() {
		defer close(ch)
		for _, step := range r.steps {
			switch {
			case step.tool != nil:
				call := &agent.ToolCall{
					Name:  step.tool.name,
					Input: map[string]any{"cmd": "true"},
					Reply: make(chan agent.Decision, 1),
				}
				select {
				case ch <- agent.Event{Type: agent.EventToolRequest, Tool: call}:
				case <-ctx.Done():
					ch <- agent.Event{Type: agent.EventError, Err: ctx.Err()}
					return
				}
				select {
				case d := <-call.Reply:
					step.tool.decisions <- d
				case <-ctx.Done():
					ch <- agent.Event{Type: agent.EventError, Err: ctx.Err()}
					return
				}

			case step.fail != nil:
				ch <- agent.Event{Type: agent.EventError, Err: step.fail}
				return

			case step.chunk != "":
				select {
				case ch <- agent.Event{Type: agent.EventChunk, Text: step.chunk}:
				case <-ctx.Done():
					ch <- agent.Event{Type: agent.EventError, Err: ctx.Err()}
					return
				}

			default:
				ch <- agent.Event{Type: agent.EventDone, Text: step.done}
				return
			}
		}
	}()
	return ch, nil
}

// blockingRunner parks until cancelled or released.
type blockingRunner struct {
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, dir, prompt string) (<-chan agent.Event, error) {
	ch := make(chan agent.Event)
	go func() {
		defer close(ch)
		select {
		case <-ctx.Done():
			ch <- agent.Event{Type: agent.EventError, Err: ctx.Err()}
		case <-r.release:
			ch <- agent.Event{Type: agent.EventDone, Text: "released"}
		}
	}()
	return ch, nil
}

// recorder captures callback invocations in order.
type recorder struct {
	mu          sync.Mutex
	chunks      []string
	chunkSeqs   []int
	permissions []PermissionRequest
	completed   string
	completeSeq int
	errMsg      string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnChunk: func(content string, seq int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.chunks = append(r.chunks, content)
			r.chunkSeqs = append(r.chunkSeqs, seq)
		},
		OnPermissionRequest: func(req PermissionRequest) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.permissions = append(r.permissions, req)
		},
		OnComplete: func(content string, seq int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = content
			r.completeSeq = seq
		},
		OnError: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errMsg = msg
		},
	}
}

func TestSession_SuccessfulTurn(t *testing.T) {
	runner := &scriptedRunner{steps: []scriptStep{
		{chunk: "hi "},
		{chunk: "there"},
		{done: "hi there"},
	}}
	s := New("s1", t.TempDir(), runner)
	rec := &recorder{}

	require.NoError(t, s.SendMessage(context.Background(), "hi", rec.callbacks()))

	assert.Equal(t, StatusReady, s.Status())
	assert.Equal(t, []string{"hi ", "there"}, rec.chunks)
	assert.Equal(t, "hi there", rec.completed)

	// user=1, chunks=2,3, final=4
	assert.Equal(t, []int{2, 3}, rec.chunkSeqs)
	assert.Equal(t, 4, rec.completeSeq)

	log := s.MessagesSince(0)
	require.Len(t, log, 2)
	assert.Equal(t, RoleUser, log[0].Role)
	assert.Equal(t, "hi", log[0].Content)
	assert.Equal(t, RoleAssistant, log[1].Role)
	assert.Equal(t, "hi there", log[1].Content)
}

func TestSession_SeqStrictlyIncreasing(t *testing.T) {
	runner := &scriptedRunner{steps: []scriptStep{
		{chunk: "a"}, {chunk: "b"}, {chunk: "c"}, {done: "abc"},
	}}
	s := New("s1", t.TempDir(), runner)
	rec := &recorder{}

	require.NoError(t, s.SendMessage(context.Background(), "one", rec.callbacks()))
	require.NoError(t, s.SendMessage(context.Background(), "two", rec.callbacks()))

	log := s.MessagesSince(0)
	prev := 0
	for _, msg := range log {
		require.Greater(t, msg.Seq, prev, "seq values must strictly increase")
		prev = msg.Seq
	}
	for _, seq := range rec.chunkSeqs {
		assert.Positive(t, seq)
	}
}

func TestSession_FailedTurnLeavesNoAssistantEntry(t *testing.T) {
	runner := &scriptedRunner{steps: []scriptStep{
		{chunk: "partial "},
		{fail: errors.New("engine exploded")},
	}}
	s := New("s1", t.TempDir(), runner)
	rec := &recorder{}

	require.NoError(t, s.SendMessage(context.Background(), "hi", rec.callbacks()))

	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, "engine exploded", rec.errMsg)
	assert.Empty(t, rec.completed)

	log := s.MessagesSince(0)
	require.Len(t, log, 1, "a failed turn leaves only the user entry")
	assert.Equal(t, RoleUser, log[0].Role)
}

func TestSession_ResetOnlyFromError(t *testing.T) {
	s := New("s1", t.TempDir(), &scriptedRunner{steps: []scriptStep{{fail: errors.New("boom")}}})

	assert.False(t, s.Reset(), "reset from ready must fail")

	require.NoError(t, s.SendMessage(context.Background(), "hi", Callbacks{}))
	require.Equal(t, StatusError, s.Status())

	assert.True(t, s.Reset())
	assert.Equal(t, StatusReady, s.Status())
	assert.False(t, s.Reset(), "second reset must fail")
}

func TestSession_BusyRejectsSecondTurn(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	s := New("s1", t.TempDir(), runner)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.SendMessage(context.Background(), "first", Callbacks{})
	}()

	require.Eventually(t, func() bool { return s.Status() == StatusBusy },
		time.Second, 5*time.Millisecond)

	err := s.SendMessage(context.Background(), "second", Callbacks{})
	assert.ErrorIs(t, err, ErrBusy)

	close(runner.release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, StatusReady, s.Status())
}

func TestSession_AbortMovesToError(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	s := New("s1", t.TempDir(), runner)
	rec := &recorder{}

	done := make(chan error, 1)
	go func() {
		done <- s.SendMessage(context.Background(), "hi", rec.callbacks())
	}()

	require.Eventually(t, func() bool { return s.Status() == StatusBusy },
		time.Second, 5*time.Millisecond)

	s.Abort()
	require.NoError(t, <-done)

	assert.Equal(t, StatusError, s.Status())
	assert.NotEmpty(t, rec.errMsg)
}

func TestSession_PermissionDenied(t *testing.T) {
	tool := &scriptTool{name: "Bash", decisions: make(chan agent.Decision, 1)}
	runner := &scriptedRunner{steps: []scriptStep{
		{chunk: "let me run that"},
		{tool: tool},
		{done: "could not run it"},
	}}
	s := New("s1", t.TempDir(), runner)
	rec := &recorder{}

	done := make(chan error, 1)
	go func() {
		done <- s.SendMessage(context.Background(), "run it", rec.callbacks())
	}()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.permissions) == 1
	}, time.Second, 5*time.Millisecond)

	req := rec.permissions[0]
	assert.Equal(t, "Bash", req.ToolName)
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, "Tool: Bash", req.Description)

	s.ResolvePermission(req.RequestID, false)

	decision := <-tool.decisions
	assert.False(t, decision.Allowed)
	assert.Equal(t, "User denied permission", decision.Message)

	require.NoError(t, <-done)
	assert.Equal(t, StatusReady, s.Status(), "the engine decides how denial ends the run")
}

func TestSession_ResolvePermissionIdempotent(t *testing.T) {
	tool := &scriptTool{name: "Write", decisions: make(chan agent.Decision, 2)}
	runner := &scriptedRunner{steps: []scriptStep{
		{tool: tool},
		{done: "ok"},
	}}
	s := New("s1", t.TempDir(), runner)
	rec := &recorder{}

	done := make(chan error, 1)
	go func() {
		done <- s.SendMessage(context.Background(), "write it", rec.callbacks())
	}()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.permissions) == 1
	}, time.Second, 5*time.Millisecond)

	id := rec.permissions[0].RequestID
	s.ResolvePermission(id, true)
	// Second resolve of the same id, and a never-issued id: both no-ops.
	s.ResolvePermission(id, false)
	s.ResolvePermission("never-issued", true)

	decision := <-tool.decisions
	assert.True(t, decision.Allowed, "first resolution wins")

	require.NoError(t, <-done)
	select {
	case d := <-tool.decisions:
		t.Fatalf("engine received a second decision: %+v", d)
	default:
	}
}

func TestSession_RunnerStartFailure(t *testing.T) {
	s := New("s1", t.TempDir(), &scriptedRunner{runErr: errors.New("no binary")})
	rec := &recorder{}

	require.NoError(t, s.SendMessage(context.Background(), "hi", rec.callbacks()))
	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, "no binary", rec.errMsg)
}

func TestSession_MessagesSinceIsPure(t *testing.T) {
	runner := &scriptedRunner{steps: []scriptStep{{done: "pong"}}}
	s := New("s1", t.TempDir(), runner)
	require.NoError(t, s.SendMessage(context.Background(), "ping", Callbacks{}))

	first := s.MessagesSince(0)
	second := s.MessagesSince(0)
	assert.Equal(t, first, second)
	assert.Len(t, s.MessagesSince(first[len(first)-1].Seq), 0)
}
