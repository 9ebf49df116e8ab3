// Package protocol defines the websocket wire format between clients and
// the gateway: a closed set of client frames and server events, each a flat
// JSON object discriminated by its "type" field.
package protocol

import "encoding/json"

// Client → Server frame types.
const (
	TypeUserMessage        = "user_message"
	TypePermissionResponse = "permission_response"
	TypeInterrupt          = "interrupt"
	TypeSwitchSession      = "switch_session"
	TypeResetSession       = "reset_session"
)

// Server → Client event types.
const (
	TypeAssistantChunk    = "assistant_chunk"
	TypeAssistantMessage  = "assistant_message"
	TypePermissionRequest = "permission_request"
	TypeSessionState      = "session_state"
	TypeResult            = "result"
)

// Error codes carried in result events and REST error bodies.
const (
	ErrCapacityExceeded = "CAPACITY_EXCEEDED"
	ErrNotFound         = "NOT_FOUND"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrRateLimited      = "RATE_LIMITED"
	ErrMalformedFrame   = "MALFORMED_FRAME"
	ErrSessionBusy      = "SESSION_BUSY"
	ErrAgentRunFailure  = "AGENT_RUN_FAILURE"
)

// ClientFrame is a decoded client → server frame. One struct covers the
// closed variant set; ParseClientFrame enforces the per-type required
// fields.
type ClientFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`

	// user_message
	Text string `json:"text,omitempty"`
	Seq  int    `json:"seq,omitempty"` // client-local, informational

	// permission_response
	RequestID string `json:"requestId,omitempty"`
	Allowed   *bool  `json:"allowed,omitempty"`
}

// AssistantChunk is a streamed fragment of an in-progress assistant turn.
type AssistantChunk struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Seq       int    `json:"seq"`
}

// AssistantMessage is the authoritative terminal form of an assistant turn.
type AssistantMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Seq       int    `json:"seq"`
}

// PermissionRequest asks the client to approve or deny one tool invocation.
type PermissionRequest struct {
	Type        string         `json:"type"`
	SessionID   string         `json:"sessionId"`
	RequestID   string         `json:"requestId"`
	ToolName    string         `json:"toolName"`
	ToolInput   map[string]any `json:"toolInput"`
	Description string         `json:"description"`
}

// SessionState pushes a session's current status to the client.
type SessionState struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	Status       string `json:"status"`
	MessageCount int    `json:"messageCount"`
}

// Result reports the outcome of a turn or a rejected frame.
type Result struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Seq       int    `json:"seq"`
}

func NewAssistantChunk(sessionID, content string, seq int) AssistantChunk {
	return AssistantChunk{Type: TypeAssistantChunk, SessionID: sessionID, Content: content, Seq: seq}
}

func NewAssistantMessage(sessionID, content string, seq int) AssistantMessage {
	return AssistantMessage{Type: TypeAssistantMessage, SessionID: sessionID, Content: content, Seq: seq}
}

func NewPermissionRequest(sessionID, requestID, toolName string, toolInput map[string]any, description string) PermissionRequest {
	return PermissionRequest{
		Type:        TypePermissionRequest,
		SessionID:   sessionID,
		RequestID:   requestID,
		ToolName:    toolName,
		ToolInput:   toolInput,
		Description: description,
	}
}

func NewSessionState(sessionID, status string, messageCount int) SessionState {
	return SessionState{Type: TypeSessionState, SessionID: sessionID, Status: status, MessageCount: messageCount}
}

func NewSuccessResult(sessionID string, seq int) Result {
	return Result{Type: TypeResult, SessionID: sessionID, Success: true, Seq: seq}
}

func NewErrorResult(sessionID, code, message string) Result {
	return Result{Type: TypeResult, SessionID: sessionID, Success: false, Error: message, Code: code}
}

// ServerEvent is a decoded server → client event, produced by
// ParseServerEvent on the consuming side. Exactly one field is non-nil for
// a known event type.
type ServerEvent struct {
	Chunk      *AssistantChunk
	Message    *AssistantMessage
	Permission *PermissionRequest
	State      *SessionState
	Result     *Result
}

// ParseServerEvent decodes a raw server event by its type tag. Unknown
// types return an empty event so clients tolerate newer servers.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return ServerEvent{}, err
	}

	var ev ServerEvent
	var err error
	switch tag.Type {
	case TypeAssistantChunk:
		ev.Chunk = &AssistantChunk{}
		err = json.Unmarshal(raw, ev.Chunk)
	case TypeAssistantMessage:
		ev.Message = &AssistantMessage{}
		err = json.Unmarshal(raw, ev.Message)
	case TypePermissionRequest:
		ev.Permission = &PermissionRequest{}
		err = json.Unmarshal(raw, ev.Permission)
	case TypeSessionState:
		ev.State = &SessionState{}
		err = json.Unmarshal(raw, ev.State)
	case TypeResult:
		ev.Result = &Result{}
		err = json.Unmarshal(raw, ev.Result)
	}
	if err != nil {
		return ServerEvent{}, err
	}
	return ev, nil
}
