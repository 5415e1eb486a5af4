package conversation

import (
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Metadata keys used across the engine. Metadata is an opaque map on purpose,
// these constants just keep the spelling in one place.
const (
	MetadataTokenEstimate     = "tokenEstimate"
	MetadataEdited            = "edited"
	MetadataOriginalMessageID = "originalMessageId"
	MetadataOriginalContent   = "originalContent"
	MetadataMergedFrom        = "mergedFrom"
	MetadataPersistedAt       = "persistedAt"
)

// Message is a single message in a session. Messages are immutable once
// written: editing produces a new message with a bumped version that points
// back at the original through MetadataOriginalMessageID.
type Message struct {
	ID        MessageID  `json:"id"`
	SessionID SessionID  `json:"sessionId"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Time      time.Time  `json:"time"`
	BranchID  *BranchID  `json:"branchId,omitempty"`
	ParentID  *MessageID `json:"parentId,omitempty"`
	Version   int        `json:"version"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithMessageID(id MessageID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithBranchID(id BranchID) MessageOption {
	return func(m *Message) {
		m.BranchID = &id
	}
}

func WithParentID(id MessageID) MessageOption {
	return func(m *Message) {
		m.ParentID = &id
	}
}

func WithVersion(version int) MessageOption {
	return func(m *Message) {
		m.Version = version
	}
}

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func NewMessage(sessionID SessionID, role Role, content string, options ...MessageOption) *Message {
	ret := &Message{
		ID:        NewMessageID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Time:      time.Now(),
		Version:   1,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// SetMetadata initializes the metadata map lazily.
func (m *Message) SetMetadata(key string, value interface{}) {
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	m.Metadata[key] = value
}

// TokenEstimate returns the stored per-message token estimate, if any.
// JSON round-trips turn ints into float64, so both are accepted.
func (m *Message) TokenEstimate() (int, bool) {
	if m.Metadata == nil {
		return 0, false
	}
	switch v := m.Metadata[MetadataTokenEstimate].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// OriginalMessageID resolves the root message this message supersedes, if it
// is an edited version.
func (m *Message) OriginalMessageID() (MessageID, bool) {
	if m.Metadata == nil {
		return NullMessageID, false
	}
	s, ok := m.Metadata[MetadataOriginalMessageID].(string)
	if !ok {
		return NullMessageID, false
	}
	id, err := ParseMessageID(s)
	if err != nil {
		return NullMessageID, false
	}
	return id, true
}

// Clone returns a deep-enough copy: the metadata map is copied, the content
// string is shared (strings are immutable).
func (m *Message) Clone() *Message {
	ret := *m
	if m.Metadata != nil {
		ret.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			ret.Metadata[k] = v
		}
	}
	if m.BranchID != nil {
		b := *m.BranchID
		ret.BranchID = &b
	}
	if m.ParentID != nil {
		p := *m.ParentID
		ret.ParentID = &p
	}
	return &ret
}

// Conversation is an ordered list of messages.
type Conversation []*Message
