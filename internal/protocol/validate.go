package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server frame types.
var validClientTypes = map[string]bool{
	TypeUserMessage:        true,
	TypePermissionResponse: true,
	TypeInterrupt:          true,
	TypeSwitchSession:      true,
	TypeResetSession:       true,
}

// ParseClientFrame validates a raw JSON frame from a client.
// Returns the parsed frame and any validation error.
func ParseClientFrame(raw []byte) (*ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if frame.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}
	if !validClientTypes[frame.Type] {
		return nil, fmt.Errorf("unknown frame type: %s", frame.Type)
	}
	if frame.SessionID == "" {
		return nil, fmt.Errorf("missing required field 'sessionId' in %s frame", frame.Type)
	}

	switch frame.Type {
	case TypeUserMessage:
		if frame.Text == "" {
			return nil, fmt.Errorf("missing required field 'text' in %s frame", frame.Type)
		}
	case TypePermissionResponse:
		if frame.RequestID == "" {
			return nil, fmt.Errorf("missing required field 'requestId' in %s frame", frame.Type)
		}
		if frame.Allowed == nil {
			return nil, fmt.Errorf("missing required field 'allowed' in %s frame", frame.Type)
		}
	}

	return &frame, nil
}
