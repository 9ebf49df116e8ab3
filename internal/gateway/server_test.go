package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbulle/remote-ai-ide/internal/protocol"
	"github.com/tbulle/remote-ai-ide/internal/session"
)

func dialWS(t *testing.T, httpURL, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	if token != "" {
		wsURL += "?token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) protocol.ServerEvent {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	ev, err := protocol.ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("parse server event: %v", err)
	}
	return ev
}

func sendFrame(t *testing.T, ws *websocket.Conn, frame map[string]any) {
	t.Helper()
	data, _ := json.Marshal(frame)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write message failed: %v", err)
	}
}

func TestWS_UnauthorizedClose(t *testing.T) {
	gw, _ := newTestGateway(10, tokenConfig())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ws := dialWS(t, srv.URL, "wrong")
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != closeUnauthorized {
		t.Errorf("expected close code %d, got %d", closeUnauthorized, closeErr.Code)
	}
}

func TestWS_UserMessageFlow(t *testing.T) {
	gw, reg := newTestGateway(10, tokenConfig())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	sess, err := reg.Create(t.TempDir())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ws := dialWS(t, srv.URL, "secret")
	defer ws.Close()

	sendFrame(t, ws, map[string]any{
		"type":      protocol.TypeUserMessage,
		"sessionId": sess.ID,
		"text":      "hello",
	})

	// Busy state precedes any streamed output.
	ev := readEvent(t, ws)
	if ev.State == nil {
		t.Fatalf("expected session_state first, got %+v", ev)
	}
	if ev.State.Status != string(session.StatusBusy) {
		t.Errorf("expected busy status, got %s", ev.State.Status)
	}

	ev = readEvent(t, ws)
	if ev.Chunk == nil {
		t.Fatalf("expected assistant_chunk, got %+v", ev)
	}
	if ev.Chunk.Content != "ok" {
		t.Errorf("expected chunk 'ok', got %s", ev.Chunk.Content)
	}

	ev = readEvent(t, ws)
	if ev.Message == nil {
		t.Fatalf("expected assistant_message, got %+v", ev)
	}
	if ev.Message.Content != "ok" {
		t.Errorf("expected message 'ok', got %s", ev.Message.Content)
	}
	finalSeq := ev.Message.Seq

	ev = readEvent(t, ws)
	if ev.Result == nil {
		t.Fatalf("expected result, got %+v", ev)
	}
	if !ev.Result.Success {
		t.Errorf("expected success result, got %+v", ev.Result)
	}
	if ev.Result.Seq != finalSeq {
		t.Errorf("result seq %d does not match final message seq %d", ev.Result.Seq, finalSeq)
	}

	ev = readEvent(t, ws)
	if ev.State == nil || ev.State.Status != string(session.StatusReady) {
		t.Fatalf("expected ready session_state last, got %+v", ev)
	}
	if ev.State.MessageCount != 2 {
		t.Errorf("expected 2 logged messages, got %d", ev.State.MessageCount)
	}
}

func TestWS_MalformedFrame(t *testing.T) {
	gw, _ := newTestGateway(10, tokenConfig())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ws := dialWS(t, srv.URL, "secret")
	defer ws.Close()

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))

	ev := readEvent(t, ws)
	if ev.Result == nil {
		t.Fatalf("expected result event, got %+v", ev)
	}
	if ev.Result.Code != protocol.ErrMalformedFrame {
		t.Errorf("expected code %s, got %s", protocol.ErrMalformedFrame, ev.Result.Code)
	}
}

func TestWS_UnknownSession(t *testing.T) {
	gw, _ := newTestGateway(10, tokenConfig())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ws := dialWS(t, srv.URL, "secret")
	defer ws.Close()

	sendFrame(t, ws, map[string]any{
		"type":      protocol.TypeInterrupt,
		"sessionId": "nonexistent",
	})

	ev := readEvent(t, ws)
	if ev.Result == nil || ev.Result.Code != protocol.ErrNotFound {
		t.Fatalf("expected NOT_FOUND result, got %+v", ev)
	}
}

func TestWS_RateLimited(t *testing.T) {
	cfg := tokenConfig()
	cfg.RateLimit = 2
	cfg.RateWindow = time.Minute
	gw, reg := newTestGateway(10, cfg)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	sess, _ := reg.Create(t.TempDir())

	ws := dialWS(t, srv.URL, "secret")
	defer ws.Close()

	frame := map[string]any{"type": protocol.TypeSwitchSession, "sessionId": sess.ID}
	for i := 0; i < 3; i++ {
		sendFrame(t, ws, frame)
	}

	// First two frames get session_state, the third is rejected.
	for i := 0; i < 2; i++ {
		ev := readEvent(t, ws)
		if ev.State == nil {
			t.Fatalf("frame %d: expected session_state, got %+v", i+1, ev)
		}
	}
	ev := readEvent(t, ws)
	if ev.Result == nil || ev.Result.Code != protocol.ErrRateLimited {
		t.Fatalf("expected RATE_LIMITED result, got %+v", ev)
	}
}

func TestWS_SwitchSessionPushesState(t *testing.T) {
	gw, reg := newTestGateway(10, tokenConfig())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	sess, _ := reg.Create(t.TempDir())

	ws := dialWS(t, srv.URL, "secret")
	defer ws.Close()

	sendFrame(t, ws, map[string]any{"type": protocol.TypeSwitchSession, "sessionId": sess.ID})

	ev := readEvent(t, ws)
	if ev.State == nil {
		t.Fatalf("expected session_state, got %+v", ev)
	}
	if ev.State.SessionID != sess.ID {
		t.Errorf("expected session %s, got %s", sess.ID, ev.State.SessionID)
	}
	if ev.State.Status != string(session.StatusReady) {
		t.Errorf("expected ready status, got %s", ev.State.Status)
	}
}

func TestWS_ResetWithoutError(t *testing.T) {
	gw, reg := newTestGateway(10, tokenConfig())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	sess, _ := reg.Create(t.TempDir())

	ws := dialWS(t, srv.URL, "secret")
	defer ws.Close()

	sendFrame(t, ws, map[string]any{"type": protocol.TypeResetSession, "sessionId": sess.ID})

	// Reset from ready fails; a result then the current state follow.
	ev := readEvent(t, ws)
	if ev.Result == nil || ev.Result.Success {
		t.Fatalf("expected failed result, got %+v", ev)
	}
	ev = readEvent(t, ws)
	if ev.State == nil || ev.State.Status != string(session.StatusReady) {
		t.Fatalf("expected ready session_state, got %+v", ev)
	}
}
