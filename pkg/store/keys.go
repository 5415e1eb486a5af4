package store

import (
	"fmt"

	"github.com/go-go-golems/memoir/pkg/conversation"
)

// Key layout, one namespace per logical entity. All keys carry the session
// TTL except the lock key, whose shorter TTL bounds maximum lock hold time.

func sessionKey(id conversation.SessionID) string {
	return fmt.Sprintf("session:%s", id)
}

func messageKey(id conversation.MessageID) string {
	return fmt.Sprintf("message:%s", id)
}

// messageIndexKey is the main-timeline order index of a session.
func messageIndexKey(id conversation.SessionID) string {
	return fmt.Sprintf("session:%s:messages", id)
}

// branchIndexKey holds only messages appended directly to the branch;
// ancestor messages are never duplicated into descendant indices.
func branchIndexKey(sessionID conversation.SessionID, branchID conversation.BranchID) string {
	return fmt.Sprintf("session:%s:branch:%s:messages", sessionID, branchID)
}

func branchKey(id conversation.BranchID) string {
	return fmt.Sprintf("branch:%s", id)
}

// versionsKey holds the edit history of a root message (edit ids only, the
// root itself is implicit).
func versionsKey(rootID conversation.MessageID) string {
	return fmt.Sprintf("message:%s:versions", rootID)
}

func historyKey(id conversation.SessionID) string {
	return fmt.Sprintf("session:%s:history", id)
}

func lockKey(id conversation.SessionID) string {
	return fmt.Sprintf("session:%s:lock", id)
}
