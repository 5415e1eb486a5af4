package conversation

import (
	"time"
)

// Branch is a named alternate continuation of a conversation, forked from a
// specific message. The implicit main timeline has no branch record.
type Branch struct {
	ID              BranchID  `json:"id"`
	Name            string    `json:"name"`
	SessionID       SessionID `json:"sessionId"`
	ParentBranchID  *BranchID `json:"parentBranchId,omitempty"`
	OriginMessageID MessageID `json:"originMessageId"`
	CreatedAt       time.Time `json:"createdAt"`
	Depth           int       `json:"depth"`
	IsActive        bool      `json:"isActive"`
	IsArchived      bool      `json:"isArchived"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BranchAction tags entries in the append-only branch history log.
type BranchAction string

const (
	BranchActionCreate  BranchAction = "create"
	BranchActionSwitch  BranchAction = "switch"
	BranchActionMerge   BranchAction = "merge"
	BranchActionArchive BranchAction = "archive"
	BranchActionDelete  BranchAction = "delete"
	BranchActionEdit    BranchAction = "edit"
)

// BranchHistoryEntry records one branch-affecting operation. Entries are
// append-only and never mutated.
type BranchHistoryEntry struct {
	SessionID SessionID    `json:"sessionId"`
	BranchID  BranchID     `json:"branchId"`
	Action    BranchAction `json:"action"`
	Time      time.Time    `json:"time"`
	Details   string       `json:"details,omitempty"`
}
