package event

import (
	"encoding/json"
	"fmt"
)

// Upstream event types recognized by the reducer. Anything else decodes to
// KindUnrecognized and is appended to the log for audit without mutating
// derived state.
const (
	upPermissionRequested = "permission.updated"
	upPermissionReplied   = "permission.replied"
	upSessionStatus       = "session.status"
	upMessageUpdated      = "message.updated"
	upPartUpdated         = "message.part.updated"
	upSessionIdle         = "session.idle"
	upSessionCompacted    = "session.compacted"
	upSessionError        = "session.error"
)

// Envelope is one raw event as received from the upstream runtime's stream.
type Envelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Kind discriminates the decoded variants.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindPermissionRequested
	KindPermissionReplied
	KindSessionStatus
	KindMessageUpdated
	KindPartUpdated
	KindSessionIdle
	KindSessionCompacted
	KindSessionError
)

// Tokens mirrors the per-category token counts an assistant message declares.
type Tokens struct {
	Input      int64
	Output     int64
	Reasoning  int64
	CacheRead  int64
	CacheWrite int64
}

// PermissionRequested carries a new pending approval.
type PermissionRequested struct {
	ID        string
	Title     string
	Kind      string
	CallID    string
	MessageID string
	Metadata  map[string]any
}

// PermissionReplied resolves a pending approval by id.
type PermissionReplied struct {
	PermissionID string
	Response     string
}

// SessionStatus is a coarse status notice from the upstream runtime.
type SessionStatus struct {
	Type    string
	Message string
	Attempt int
}

// MessageUpdated describes a created or revised message.
type MessageUpdated struct {
	ID            string
	Role          string
	Error         string
	Completed     bool
	Tokens        Tokens
	Cost          float64
	ContextWindow int64
}

// PartUpdated describes a message part progressing (tool call, compaction).
type PartUpdated struct {
	PartType  string
	Tool      string
	ToolState string
}

// SessionError is a top-level session failure notice.
type SessionError struct {
	Message string
}

// Decoded is the closed variant produced from one upstream Envelope.
// Exactly one of the pointer fields matching Kind is non-nil.
type Decoded struct {
	Kind      Kind
	SessionID string

	Permission      *PermissionRequested
	PermissionReply *PermissionReplied
	Status          *SessionStatus
	Message         *MessageUpdated
	Part            *PartUpdated
	Error           *SessionError
}

// Decode maps a raw upstream envelope to its variant. A decode error means
// the event type was recognized but its payload had an unexpected shape; the
// caller should still append the envelope verbatim and skip state mutation.
func Decode(env Envelope) (Decoded, error) {
	switch env.Type {
	case upPermissionRequested:
		return decodePermissionRequested(env.Properties)
	case upPermissionReplied:
		return decodePermissionReplied(env.Properties)
	case upSessionStatus:
		return decodeSessionStatus(env.Properties)
	case upMessageUpdated:
		return decodeMessageUpdated(env.Properties)
	case upPartUpdated:
		return decodePartUpdated(env.Properties)
	case upSessionIdle:
		return decodeBare(KindSessionIdle, env.Properties)
	case upSessionCompacted:
		return decodeBare(KindSessionCompacted, env.Properties)
	case upSessionError:
		return decodeSessionError(env.Properties)
	default:
		// Unrecognized types still route to a session when they declare one.
		return Decoded{Kind: KindUnrecognized, SessionID: SniffSessionID(env.Properties)}, nil
	}
}

func decodePermissionRequested(raw json.RawMessage) (Decoded, error) {
	var p struct {
		ID        string         `json:"id"`
		SessionID string         `json:"sessionID"`
		Title     string         `json:"title"`
		Type      string         `json:"type"`
		CallID    string         `json:"callID"`
		MessageID string         `json:"messageID"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Decoded{}, fmt.Errorf("permission requested: %w", err)
	}
	if p.ID == "" {
		return Decoded{}, fmt.Errorf("permission requested: missing id")
	}
	return Decoded{
		Kind:      KindPermissionRequested,
		SessionID: p.SessionID,
		Permission: &PermissionRequested{
			ID:        p.ID,
			Title:     p.Title,
			Kind:      p.Type,
			CallID:    p.CallID,
			MessageID: p.MessageID,
			Metadata:  p.Metadata,
		},
	}, nil
}

func decodePermissionReplied(raw json.RawMessage) (Decoded, error) {
	var p struct {
		SessionID    string `json:"sessionID"`
		PermissionID string `json:"permissionID"`
		Response     string `json:"response"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Decoded{}, fmt.Errorf("permission replied: %w", err)
	}
	if p.PermissionID == "" {
		return Decoded{}, fmt.Errorf("permission replied: missing permissionID")
	}
	return Decoded{
		Kind:            KindPermissionReplied,
		SessionID:       p.SessionID,
		PermissionReply: &PermissionReplied{PermissionID: p.PermissionID, Response: p.Response},
	}, nil
}

func decodeSessionStatus(raw json.RawMessage) (Decoded, error) {
	var p struct {
		SessionID string `json:"sessionID"`
		Status    struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Attempt int    `json:"attempt"`
		} `json:"status"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Decoded{}, fmt.Errorf("session status: %w", err)
	}
	return Decoded{
		Kind:      KindSessionStatus,
		SessionID: p.SessionID,
		Status:    &SessionStatus{Type: p.Status.Type, Message: p.Status.Message, Attempt: p.Status.Attempt},
	}, nil
}

func decodeMessageUpdated(raw json.RawMessage) (Decoded, error) {
	var p struct {
		Info struct {
			ID        string          `json:"id"`
			SessionID string          `json:"sessionID"`
			Role      string          `json:"role"`
			Error     json.RawMessage `json:"error"`
			Time      struct {
				Completed float64 `json:"completed"`
			} `json:"time"`
			Tokens struct {
				Input     int64 `json:"input"`
				Output    int64 `json:"output"`
				Reasoning int64 `json:"reasoning"`
				Cache     struct {
					Read  int64 `json:"read"`
					Write int64 `json:"write"`
				} `json:"cache"`
			} `json:"tokens"`
			Cost          float64 `json:"cost"`
			ContextWindow int64   `json:"contextWindow"`
		} `json:"info"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Decoded{}, fmt.Errorf("message updated: %w", err)
	}
	if p.Info.ID == "" {
		return Decoded{}, fmt.Errorf("message updated: missing info.id")
	}
	return Decoded{
		Kind:      KindMessageUpdated,
		SessionID: p.Info.SessionID,
		Message: &MessageUpdated{
			ID:        p.Info.ID,
			Role:      p.Info.Role,
			Error:     errorMessage(p.Info.Error),
			Completed: p.Info.Time.Completed > 0,
			Tokens: Tokens{
				Input:      p.Info.Tokens.Input,
				Output:     p.Info.Tokens.Output,
				Reasoning:  p.Info.Tokens.Reasoning,
				CacheRead:  p.Info.Tokens.Cache.Read,
				CacheWrite: p.Info.Tokens.Cache.Write,
			},
			Cost:          p.Info.Cost,
			ContextWindow: p.Info.ContextWindow,
		},
	}, nil
}

func decodePartUpdated(raw json.RawMessage) (Decoded, error) {
	var p struct {
		Part struct {
			SessionID string `json:"sessionID"`
			Type      string `json:"type"`
			Tool      string `json:"tool"`
			State     struct {
				Status string `json:"status"`
			} `json:"state"`
		} `json:"part"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Decoded{}, fmt.Errorf("part updated: %w", err)
	}
	return Decoded{
		Kind:      KindPartUpdated,
		SessionID: p.Part.SessionID,
		Part:      &PartUpdated{PartType: p.Part.Type, Tool: p.Part.Tool, ToolState: p.Part.State.Status},
	}, nil
}

func decodeBare(kind Kind, raw json.RawMessage) (Decoded, error) {
	var p struct {
		SessionID string `json:"sessionID"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Decoded{}, fmt.Errorf("session event: %w", err)
	}
	return Decoded{Kind: kind, SessionID: p.SessionID}, nil
}

func decodeSessionError(raw json.RawMessage) (Decoded, error) {
	var p struct {
		SessionID string          `json:"sessionID"`
		Error     json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Decoded{}, fmt.Errorf("session error: %w", err)
	}
	return Decoded{
		Kind:      KindSessionError,
		SessionID: p.SessionID,
		Error:     &SessionError{Message: errorMessage(p.Error)},
	}, nil
}

// errorMessage extracts a human-readable message from the upstream's error
// value, which may be a bare string, {message}, or {name, data:{message}}.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj.Message != "":
			return obj.Message
		case obj.Data.Message != "":
			return obj.Data.Message
		case obj.Name != "":
			return obj.Name
		}
	}
	return string(raw)
}

// SniffSessionID pulls a session id out of an arbitrary payload, checking the
// places upstream events are known to carry one. It is the routing fallback
// for payloads that fail full decoding.
func SniffSessionID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var p struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			SessionID string `json:"sessionID"`
		} `json:"info"`
		Part struct {
			SessionID string `json:"sessionID"`
		} `json:"part"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	if p.SessionID != "" {
		return p.SessionID
	}
	if p.Info.SessionID != "" {
		return p.Info.SessionID
	}
	return p.Part.SessionID
}
