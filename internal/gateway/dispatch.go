package gateway

import (
	"context"
	"encoding/json"

	"github.com/tbulle/remote-ai-ide/internal/logging"
	"github.com/tbulle/remote-ai-ide/internal/protocol"
	"github.com/tbulle/remote-ai-ide/internal/session"
)

// enqueue serializes an event onto the client's send queue. Blocks until
// the write pump drains or the connection is gone; this preserves event
// ordering for slow clients.
func (c *client) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// handleFrame processes one raw inbound frame: rate check, parse, dispatch.
func (g *Gateway) handleFrame(c *client, raw []byte) {
	if !c.limiter.allow() {
		c.enqueue(protocol.NewErrorResult("", protocol.ErrRateLimited, "Rate limit exceeded. Please slow down."))
		return
	}

	frame, err := protocol.ParseClientFrame(raw)
	if err != nil {
		c.enqueue(protocol.NewErrorResult("", protocol.ErrMalformedFrame, err.Error()))
		return
	}

	sess, err := g.registry.Get(frame.SessionID)
	if err != nil {
		c.enqueue(protocol.NewErrorResult(frame.SessionID, protocol.ErrNotFound, "Session not found"))
		return
	}

	switch frame.Type {
	case protocol.TypeUserMessage:
		g.handleUserMessage(c, sess, frame.Text)
	case protocol.TypePermissionResponse:
		sess.ResolvePermission(frame.RequestID, *frame.Allowed)
	case protocol.TypeInterrupt:
		sess.Abort()
	case protocol.TypeSwitchSession:
		c.enqueue(stateEvent(sess))
	case protocol.TypeResetSession:
		g.handleReset(c, sess)
	}
}

// handleUserMessage starts one turn. The run continues on its own
// goroutine so this connection keeps serving frames for this and other
// sessions; in particular the permission responses the run may wait on.
func (g *Gateway) handleUserMessage(c *client, sess *session.Session, text string) {
	if sess.Status() == session.StatusBusy {
		c.enqueue(protocol.NewErrorResult(sess.ID, protocol.ErrSessionBusy, "Session is busy"))
		return
	}

	c.enqueue(protocol.NewSessionState(sess.ID, string(session.StatusBusy), sess.MessageCount()))

	// The run is independent of this connection's lifetime: a dropped
	// client reconnects and replays.
	go func() {
		err := sess.SendMessage(context.Background(), text, session.Callbacks{
			OnChunk: func(content string, seq int) {
				c.enqueue(protocol.NewAssistantChunk(sess.ID, content, seq))
			},
			OnPermissionRequest: func(req session.PermissionRequest) {
				c.enqueue(protocol.NewPermissionRequest(sess.ID, req.RequestID, req.ToolName, req.ToolInput, req.Description))
			},
			OnComplete: func(content string, seq int) {
				c.enqueue(protocol.NewAssistantMessage(sess.ID, content, seq))
				c.enqueue(protocol.NewSuccessResult(sess.ID, seq))
				c.enqueue(stateEvent(sess))
			},
			OnError: func(message string) {
				c.enqueue(protocol.NewErrorResult(sess.ID, protocol.ErrAgentRunFailure, message))
				c.enqueue(stateEvent(sess))
			},
		})
		if err != nil {
			// Lost the admission race to a concurrent turn.
			logging.Debug().Err(err).Str("session", sess.ID).Msg("turn rejected")
			c.enqueue(protocol.NewErrorResult(sess.ID, protocol.ErrSessionBusy, err.Error()))
		}
	}()
}

func (g *Gateway) handleReset(c *client, sess *session.Session) {
	if !sess.Reset() {
		c.enqueue(protocol.NewErrorResult(sess.ID, protocol.ErrAgentRunFailure, "Session is not in error state"))
	}
	c.enqueue(stateEvent(sess))
}

func stateEvent(sess *session.Session) protocol.SessionState {
	return protocol.NewSessionState(sess.ID, string(sess.Status()), sess.MessageCount())
}
