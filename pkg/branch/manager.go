package branch

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/store"
)

// Manager drives the branch lifecycle (created -> active <-> inactive ->
// archived -> deleted) on top of the session store. It only derives and
// writes through store operations; every state-changing operation appends
// one BranchHistoryEntry.
type Manager struct {
	store *store.SessionStore
}

func NewManager(store_ *store.SessionStore) *Manager {
	return &Manager{store: store_}
}

type CreateOptions struct {
	Name     string
	Metadata map[string]interface{}
}

// CreateBranch forks a new branch off an existing message. The parent branch
// is resolved from the origin message's own branch at creation time; a nil
// origin branch means the branch forks straight off the main timeline.
func (m *Manager) CreateBranch(ctx context.Context, sessionID conversation.SessionID, originMessageID conversation.MessageID, opts CreateOptions) (*conversation.Branch, error) {
	origin, err := m.store.GetMessage(ctx, originMessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewBranchError("Origin message not found")
		}
		return nil, err
	}
	if origin.SessionID != sessionID {
		return nil, NewBranchError("Origin message does not belong to this session")
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching session")
	}

	now := time.Now()
	branch := &conversation.Branch{
		ID:              conversation.NewBranchID(),
		Name:            opts.Name,
		SessionID:       sessionID,
		ParentBranchID:  origin.BranchID,
		OriginMessageID: originMessageID,
		CreatedAt:       now,
		Depth:           1,
		Metadata:        opts.Metadata,
	}
	if branch.Name == "" {
		branch.Name = fmt.Sprintf("Branch at %s", now.Format(time.RFC3339))
	}
	if origin.BranchID != nil {
		parent, err := m.store.GetBranch(ctx, *origin.BranchID)
		if err == nil {
			branch.Depth = parent.Depth + 1
		}
	}

	if err := m.store.SetBranch(ctx, branch); err != nil {
		return nil, err
	}

	session.AddBranch(branch.ID)
	if err := m.store.SetSession(ctx, session); err != nil {
		return nil, err
	}

	m.appendHistory(ctx, sessionID, branch.ID, conversation.BranchActionCreate,
		fmt.Sprintf("forked from message %s", originMessageID))

	log.Debug().
		Str("session_id", sessionID.String()).
		Str("branch_id", branch.ID.String()).
		Str("origin_message_id", originMessageID.String()).
		Msg("branch created")

	return branch, nil
}

// GetBranch returns the branch, or nil when it does not exist.
func (m *Manager) GetBranch(ctx context.Context, branchID conversation.BranchID) (*conversation.Branch, error) {
	branch, err := m.store.GetBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return branch, nil
}

// GetBranches lists the session's branches, filtering archived ones unless
// requested. A session with no branches yields an empty slice.
func (m *Manager) GetBranches(ctx context.Context, sessionID conversation.SessionID, includeArchived bool) ([]*conversation.Branch, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []*conversation.Branch{}, nil
		}
		return nil, err
	}

	out := make([]*conversation.Branch, 0, len(session.Branches))
	for _, branchID := range session.Branches {
		branch, err := m.store.GetBranch(ctx, branchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn().Str("branch_id", branchID.String()).Msg("branch listed on session but missing from store")
				continue
			}
			return nil, err
		}
		if branch.IsArchived && !includeArchived {
			continue
		}
		out = append(out, branch)
	}
	return out, nil
}

// SwitchBranch activates the target branch and deactivates the session's
// previously active one. At most one branch per session is active at any
// instant.
func (m *Manager) SwitchBranch(ctx context.Context, sessionID conversation.SessionID, branchID conversation.BranchID) (*conversation.Branch, error) {
	branch, err := m.store.GetBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewBranchError("Branch not found")
		}
		return nil, err
	}
	if branch.SessionID != sessionID {
		return nil, NewBranchError("Branch does not belong to this session")
	}
	if branch.IsArchived {
		// Allowed, but worth flagging; policy should discourage working on
		// archived branches.
		log.Warn().Str("branch_id", branchID.String()).Msg("switching to an archived branch")
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching session")
	}

	if session.ActiveBranchID != nil && *session.ActiveBranchID != branchID {
		previous, err := m.store.GetBranch(ctx, *session.ActiveBranchID)
		if err == nil && previous.IsActive {
			previous.IsActive = false
			if err := m.store.SetBranch(ctx, previous); err != nil {
				return nil, err
			}
		}
	}

	branch.IsActive = true
	if err := m.store.SetBranch(ctx, branch); err != nil {
		return nil, err
	}

	session.ActiveBranchID = &branchID
	if err := m.store.SetSession(ctx, session); err != nil {
		return nil, err
	}

	m.appendHistory(ctx, sessionID, branchID, conversation.BranchActionSwitch, "")

	return branch, nil
}

// MergeBranches appends the source branch's message sequence into the target
// branch. Merged messages are copies tagged with metadata.mergedFrom and keep
// their source timestamps, so they interleave stably with any pre-existing
// target messages. The source branch and its index are left untouched; a
// merged branch is deliberately NOT auto-archived, archiving stays a separate
// caller decision.
func (m *Manager) MergeBranches(ctx context.Context, sessionID conversation.SessionID, sourceID conversation.BranchID, targetID conversation.BranchID) (*conversation.Branch, error) {
	if sourceID == targetID {
		return nil, NewBranchError("Cannot merge a branch into itself")
	}

	source, err := m.store.GetBranch(ctx, sourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewBranchError("Branch not found")
		}
		return nil, err
	}
	target, err := m.store.GetBranch(ctx, targetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewBranchError("Branch not found")
		}
		return nil, err
	}
	if source.SessionID != sessionID || target.SessionID != sessionID {
		return nil, NewBranchError("Branch does not belong to this session")
	}

	msgs, err := m.store.GetMessages(ctx, sessionID, &sourceID, store.Page{})
	if err != nil {
		return nil, errors.Wrap(err, "fetching source branch messages")
	}

	for _, msg := range msgs {
		merged := msg.Clone()
		merged.ID = conversation.NewMessageID()
		merged.BranchID = &targetID
		merged.SetMetadata(conversation.MetadataMergedFrom, sourceID.String())

		if err := m.store.AddMessage(ctx, merged); err != nil {
			return nil, errors.Wrapf(err, "merging message %s", msg.ID)
		}
	}

	m.appendHistory(ctx, sessionID, targetID, conversation.BranchActionMerge,
		fmt.Sprintf("merged %d messages from branch %s", len(msgs), sourceID))

	log.Debug().
		Str("session_id", sessionID.String()).
		Str("source_branch_id", sourceID.String()).
		Str("target_branch_id", targetID.String()).
		Int("messages", len(msgs)).
		Msg("branches merged")

	return m.store.GetBranch(ctx, targetID)
}

// ArchiveBranch soft-deletes: the branch remains queryable but is excluded
// from default listings. The active flag is left as-is.
func (m *Manager) ArchiveBranch(ctx context.Context, sessionID conversation.SessionID, branchID conversation.BranchID) (*conversation.Branch, error) {
	branch, err := m.store.GetBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewBranchError("Branch not found")
		}
		return nil, err
	}
	if branch.SessionID != sessionID {
		return nil, NewBranchError("Branch does not belong to this session")
	}

	branch.IsArchived = true
	if err := m.store.SetBranch(ctx, branch); err != nil {
		return nil, err
	}

	m.appendHistory(ctx, sessionID, branchID, conversation.BranchActionArchive, "")
	return branch, nil
}

type DeleteOptions struct {
	// DeleteMessages cascades into the branch's own message index. Messages
	// in ancestor branches are never touched.
	DeleteMessages bool
}

// DeleteBranch is terminal: the branch record is removed from storage and
// from the session's branch list.
func (m *Manager) DeleteBranch(ctx context.Context, sessionID conversation.SessionID, branchID conversation.BranchID, opts DeleteOptions) error {
	branch, err := m.store.GetBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewBranchError("Branch not found")
		}
		return err
	}
	if branch.SessionID != sessionID {
		return NewBranchError("Branch does not belong to this session")
	}

	if err := m.store.DeleteBranchRecord(ctx, sessionID, branchID, opts.DeleteMessages); err != nil {
		return err
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err == nil {
		session.RemoveBranch(branchID)
		if err := m.store.SetSession(ctx, session); err != nil {
			return err
		}
	}

	m.appendHistory(ctx, sessionID, branchID, conversation.BranchActionDelete,
		fmt.Sprintf("deleteMessages=%t", opts.DeleteMessages))

	return nil
}

// GetBranchHistory reads the append-only history log.
func (m *Manager) GetBranchHistory(ctx context.Context, sessionID conversation.SessionID, page store.Page) ([]*conversation.BranchHistoryEntry, error) {
	return m.store.GetHistory(ctx, sessionID, page)
}

func (m *Manager) appendHistory(ctx context.Context, sessionID conversation.SessionID, branchID conversation.BranchID, action conversation.BranchAction, details string) {
	entry := &conversation.BranchHistoryEntry{
		SessionID: sessionID,
		BranchID:  branchID,
		Action:    action,
		Time:      time.Now(),
		Details:   details,
	}
	if err := m.store.AppendHistory(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", string(action)).Msg("failed to append branch history entry")
	}
}
