package conversation

import (
	"time"
)

// Session is the logical conversation container. It owns branches and
// messages; no entity may reference a session other than its own.
type Session struct {
	ID             SessionID  `json:"id"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	MessageCount   int        `json:"messageCount"`
	Branches       []BranchID `json:"branches,omitempty"`
	ActiveBranchID *BranchID  `json:"activeBranchId,omitempty"`
	ModelID        string     `json:"modelId,omitempty"`

	ModelConfig map[string]interface{} `json:"modelConfig,omitempty"`
}

type SessionOption func(*Session)

func WithSessionID(id SessionID) SessionOption {
	return func(s *Session) {
		s.ID = id
	}
}

func WithModelID(modelID string) SessionOption {
	return func(s *Session) {
		s.ModelID = modelID
	}
}

func WithModelConfig(config map[string]interface{}) SessionOption {
	return func(s *Session) {
		s.ModelConfig = config
	}
}

func NewSession(options ...SessionOption) *Session {
	now := time.Now()
	ret := &Session{
		ID:             NewSessionID(),
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// Touch refreshes the last-accessed timestamp.
func (s *Session) Touch() {
	s.LastAccessedAt = time.Now()
}

func (s *Session) HasBranch(id BranchID) bool {
	for _, b := range s.Branches {
		if b == id {
			return true
		}
	}
	return false
}

// AddBranch registers a branch id on the session if not already present.
func (s *Session) AddBranch(id BranchID) {
	if !s.HasBranch(id) {
		s.Branches = append(s.Branches, id)
	}
}

// RemoveBranch removes a branch id from the session's branch list and clears
// the active branch if it pointed at the removed branch.
func (s *Session) RemoveBranch(id BranchID) {
	out := s.Branches[:0]
	for _, b := range s.Branches {
		if b != id {
			out = append(out, b)
		}
	}
	s.Branches = out
	if s.ActiveBranchID != nil && *s.ActiveBranchID == id {
		s.ActiveBranchID = nil
	}
}
