package branch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/store"
)

// EditMessage supersedes a message with a new version. The original record
// is never mutated or removed; the new message gets its own id, a bumped
// version, and metadata pointing back at the root of the edit chain. The new
// version is persisted body-only, it never re-enters the timeline index.
func (m *Manager) EditMessage(ctx context.Context, messageID conversation.MessageID, newContent string) (*conversation.Message, error) {
	original, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewBranchError("Message not found")
		}
		return nil, err
	}

	// Edits of edits chain back to the same root.
	rootID := original.ID
	if id, ok := original.OriginalMessageID(); ok {
		rootID = id
	}

	edited := original.Clone()
	edited.ID = conversation.NewMessageID()
	edited.Content = newContent
	edited.Version = original.Version + 1
	edited.Time = time.Now()
	edited.SetMetadata(conversation.MetadataEdited, true)
	edited.SetMetadata(conversation.MetadataOriginalMessageID, rootID.String())
	edited.SetMetadata(conversation.MetadataOriginalContent, original.Content)

	if err := m.store.SetMessage(ctx, edited); err != nil {
		return nil, err
	}
	if err := m.store.AppendVersion(ctx, rootID, edited.ID); err != nil {
		return nil, err
	}

	var branchID conversation.BranchID
	if original.BranchID != nil {
		branchID = *original.BranchID
	}
	m.appendHistory(ctx, original.SessionID, branchID, conversation.BranchActionEdit,
		"edited message "+rootID.String())

	log.Debug().
		Str("message_id", messageID.String()).
		Str("root_id", rootID.String()).
		Int("version", edited.Version).
		Msg("message edited")

	return edited, nil
}

// GetMessageVersions returns every version of a message, oldest to newest.
// The root message is the first element; each edit adds exactly one more.
// Passing the id of an edited version resolves back to the same chain.
func (m *Manager) GetMessageVersions(ctx context.Context, messageID conversation.MessageID) (conversation.Conversation, error) {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewBranchError("Message not found")
		}
		return nil, err
	}

	rootID := msg.ID
	if id, ok := msg.OriginalMessageID(); ok {
		rootID = id
	}

	root, err := m.store.GetMessage(ctx, rootID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Root expired but an edit survived; start the chain there.
			root = msg
		} else {
			return nil, err
		}
	}

	versions := conversation.Conversation{root}

	ids, err := m.store.GetVersionIDs(ctx, rootID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		version, err := m.store.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, nil
}
