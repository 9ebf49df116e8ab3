package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script standing in for the agent
// CLI and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events; got %d so far", len(out))
		}
	}
}

func TestCommandRunner_StreamsChunksAndDone(t *testing.T) {
	script := writeScript(t, `
read prompt
echo '{"type":"chunk","text":"hel"}'
echo '{"type":"chunk","text":"lo"}'
echo '{"type":"done","text":"hello"}'
`)
	r := NewCommandRunner(script)

	events, err := r.Run(context.Background(), t.TempDir(), "say hello")
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, EventChunk, got[0].Type)
	assert.Equal(t, "hel", got[0].Text)
	assert.Equal(t, EventChunk, got[1].Type)
	assert.Equal(t, "lo", got[1].Text)
	assert.Equal(t, EventDone, got[2].Type)
	assert.Equal(t, "hello", got[2].Text)
}

func TestCommandRunner_ErrorEvent(t *testing.T) {
	script := writeScript(t, `
read prompt
echo '{"type":"error","message":"model unavailable"}'
`)
	r := NewCommandRunner(script)

	events, err := r.Run(context.Background(), t.TempDir(), "hi")
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.EqualError(t, got[0].Err, "model unavailable")
}

func TestCommandRunner_ExitWithoutResult(t *testing.T) {
	script := writeScript(t, `
read prompt
exit 0
`)
	r := NewCommandRunner(script)

	events, err := r.Run(context.Background(), t.TempDir(), "hi")
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.Contains(t, got[0].Err.Error(), "exited without a result")
}

func TestCommandRunner_CommandNotFound(t *testing.T) {
	r := NewCommandRunner("definitely-not-installed-agent")

	_, err := r.Run(context.Background(), t.TempDir(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCommandRunner_PermissionRoundTrip(t *testing.T) {
	script := writeScript(t, `
read prompt
echo '{"type":"tool_request","id":"t1","tool":"Bash","input":{"command":"ls"},"description":"Run: ls"}'
read answer
case "$answer" in
  *'"allowed":true'*) echo '{"type":"done","text":"ran it"}' ;;
  *) echo '{"type":"done","text":"denied"}' ;;
esac
`)
	r := NewCommandRunner(script)

	events, err := r.Run(context.Background(), t.TempDir(), "run ls")
	require.NoError(t, err)

	ev := <-events
	require.Equal(t, EventToolRequest, ev.Type)
	require.NotNil(t, ev.Tool)
	assert.Equal(t, "Bash", ev.Tool.Name)
	assert.Equal(t, "ls", ev.Tool.Input["command"])
	assert.Equal(t, "Run: ls", ev.Tool.Description)

	ev.Tool.Reply <- Decision{Allowed: true}

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventDone, got[0].Type)
	assert.Equal(t, "ran it", got[0].Text)
}

func TestCommandRunner_PermissionDenied(t *testing.T) {
	script := writeScript(t, `
read prompt
echo '{"type":"tool_request","id":"t1","tool":"Write","input":{},"description":"Write a file"}'
read answer
echo '{"type":"done","text":"stopped"}'
`)
	r := NewCommandRunner(script)

	events, err := r.Run(context.Background(), t.TempDir(), "write it")
	require.NoError(t, err)

	ev := <-events
	require.Equal(t, EventToolRequest, ev.Type)
	ev.Tool.Reply <- Decision{Allowed: false, Message: "User denied permission"}

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventDone, got[0].Type)
}

func TestCommandRunner_ContextCancel(t *testing.T) {
	script := writeScript(t, `
read prompt
sleep 30
`)
	r := NewCommandRunner(script)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := r.Run(ctx, t.TempDir(), "hi")
	require.NoError(t, err)

	cancel()

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.NotNil(t, got[0].Err)
}

func TestCommandRunner_RunsInWorkDir(t *testing.T) {
	script := writeScript(t, `
read prompt
printf '{"type":"done","text":"%s"}\n' "$PWD"
`)
	r := NewCommandRunner(script)
	dir := t.TempDir()

	events, err := r.Run(context.Background(), dir, "pwd")
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)

	want, _ := filepath.EvalSymlinks(dir)
	have, _ := filepath.EvalSymlinks(got[0].Text)
	assert.Equal(t, want, have)
}
