package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arielgw/castkit/internal/panel"
)

// MessageType identifies websocket payload variants on the panel channel.
type MessageType string

const (
	TypeScriptStatus   MessageType = "script_status"
	TypeSessionStatus  MessageType = "session_status"
	TypeThreadStatus   MessageType = "thread_status"
	TypeToolInvocation MessageType = "tool_invocation"
	TypePanelReset     MessageType = "panel_reset"
	TypeToolResult     MessageType = "tool_result"
	TypePanelState     MessageType = "panel_state"
	TypeErrorEvent     MessageType = "error_event"
)

// Tool names the widget may invoke through the channel.
const (
	ToolSwitchTheme           = "switch_theme"
	ToolRecordFact            = "record_fact"
	ToolRequestEpisodeContext = "request_episode_context"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ScriptStatus reports vendor custom-element registration from the page.
type ScriptStatus struct {
	Type    MessageType `json:"type"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
}

// SessionStatus reports the outcome of the panel's create-session call.
type SessionStatus struct {
	Type    MessageType `json:"type"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
}

// ThreadStatus signals that a conversation thread exists.
type ThreadStatus struct {
	Type     MessageType `json:"type"`
	ThreadID string      `json:"thread_id"`
}

// ToolInvocation is a named client-tool call from the widget.
type ToolInvocation struct {
	Type         MessageType     `json:"type"`
	InvocationID string          `json:"invocation_id"`
	Tool         string          `json:"tool"`
	Args         json.RawMessage `json:"args,omitempty"`
}

// PanelReset asks the broker to clear error and de-dup state and remount.
type PanelReset struct {
	Type MessageType `json:"type"`
}

// ToolResult answers one ToolInvocation.
type ToolResult struct {
	Type         MessageType `json:"type"`
	InvocationID string      `json:"invocation_id"`
	Tool         string      `json:"tool"`
	OK           bool        `json:"ok"`
	Result       any         `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// PanelState pushes a tracker snapshot to the page.
type PanelState struct {
	Type  MessageType `json:"type"`
	State panel.State `json:"state"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// SwitchThemeArgs and RecordFactArgs carry the tool payloads.
type SwitchThemeArgs struct {
	Scheme string `json:"scheme"`
}

type RecordFactArgs struct {
	FactID string `json:"fact_id"`
	Text   string `json:"text"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeScriptStatus:
		var msg ScriptStatus
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Status != "ready" && msg.Status != "error" {
			return nil, errors.New("invalid script_status")
		}
		return msg, nil
	case TypeSessionStatus:
		var msg SessionStatus
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Status != "ready" && msg.Status != "error" {
			return nil, errors.New("invalid session_status")
		}
		return msg, nil
	case TypeThreadStatus:
		var msg ThreadStatus
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ThreadID == "" {
			return nil, errors.New("invalid thread_status")
		}
		return msg, nil
	case TypeToolInvocation:
		var msg ToolInvocation
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Tool == "" || msg.InvocationID == "" {
			return nil, errors.New("invalid tool_invocation")
		}
		return msg, nil
	case TypePanelReset:
		var msg PanelReset
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
