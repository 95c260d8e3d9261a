package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/bytedance/sonic"
)

// Action names a message kind. The values are part of the wire format.
type Action string

const (
	// content -> host
	ActionReady        Action = "ready"
	ActionRetrieveFile Action = "retrieveFile"
	ActionVirtualClick Action = "virtualClick"
	ActionSetTitle     Action = "set_title"
	ActionShowMenu     Action = "showMenu"

	// host -> content
	ActionSendFile       Action = "sendFile"
	ActionSetContext     Action = "setContext"
	ActionScrollToAnchor Action = "scrollToAnchor"
)

// Message is one asynchronous message between host and content.
type Message struct {
	Action   Action          `json:"action"`
	Argument json.RawMessage `json:"argument,omitempty"`
}

// RetrieveFile asks the host for one file.
type RetrieveFile struct {
	Path string `json:"path"`
}

// SendFile answers a RetrieveFile. File is nil when the path is unknown.
type SendFile struct {
	Path  string            `json:"path"`
	Found bool              `json:"found"`
	File  *types.FileRecord `json:"file,omitempty"`
}

// Record returns the carried file with its path restored.
func (s SendFile) Record() (types.FileRecord, bool) {
	if !s.Found || s.File == nil {
		return types.FileRecord{}, false
	}
	rec := *s.File
	rec.Path = s.Path
	return rec, true
}

// VirtualClick asks the host to navigate.
type VirtualClick struct {
	Path          string `json:"path"`
	GetParameters string `json:"getParameters"`
	Anchor        string `json:"anchor"`
}

// Navigation returns the requested navigation state.
func (v VirtualClick) Navigation() types.NavigationState {
	return types.NavigationState{CurrentPath: v.Path, GetParameters: v.GetParameters, Anchor: v.Anchor}
}

// SetTitle reports the page title and favicon reference.
type SetTitle struct {
	Title   string `json:"title"`
	Favicon string `json:"favicon,omitempty"`
}

// SetContext delivers the shared context in response to ready.
type SetContext struct {
	Context types.SharedContext `json:"context"`
}

// NewMessage builds a message, encoding arg when it is not nil.
func NewMessage(action Action, arg any) (Message, error) {
	msg := Message{Action: action}
	if arg == nil {
		return msg, nil
	}
	raw, err := sonic.Marshal(arg)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s argument: %w", action, err)
	}
	msg.Argument = raw
	return msg, nil
}

// Decode unpacks the argument into v.
func (m Message) Decode(v any) error {
	if len(m.Argument) == 0 {
		return fmt.Errorf("%w: %s carries no argument", types.ErrProtocolMismatch, m.Action)
	}
	if err := sonic.Unmarshal(m.Argument, v); err != nil {
		return fmt.Errorf("%w: %s argument: %v", types.ErrProtocolMismatch, m.Action, err)
	}
	return nil
}
