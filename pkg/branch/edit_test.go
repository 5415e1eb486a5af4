package branch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/store"
)

func TestEditMessageCreatesNewVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	original := f.addMessage(t, conversation.RoleUser, "first draft", nil)

	edited, err := f.manager.EditMessage(ctx, original.ID, "second draft")
	require.NoError(t, err)

	assert.NotEqual(t, original.ID, edited.ID)
	assert.Equal(t, "second draft", edited.Content)
	assert.Equal(t, 2, edited.Version)
	assert.Equal(t, true, edited.Metadata[conversation.MetadataEdited])
	assert.Equal(t, original.ID.String(), edited.Metadata[conversation.MetadataOriginalMessageID])
	assert.Equal(t, "first draft", edited.Metadata[conversation.MetadataOriginalContent])

	// The original record is untouched.
	got, err := f.store.GetMessage(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, "first draft", got.Content)
	assert.Equal(t, 1, got.Version)

	// Edits never re-enter the timeline.
	msgs, err := f.store.GetMessages(ctx, f.session.ID, nil, store.Page{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, original.ID, msgs[0].ID)
}

func TestEditMessageMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.EditMessage(ctx, conversation.NewMessageID(), "whatever")
	require.Error(t, err)
	assert.True(t, IsBranchError(err))
}

func TestGetMessageVersionsGrowsByOnePerEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	original := f.addMessage(t, conversation.RoleUser, "v1", nil)

	versions, err := f.manager.GetMessageVersions(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, original.ID, versions[0].ID)

	for i, content := range []string{"v2", "v3"} {
		_, err := f.manager.EditMessage(ctx, original.ID, content)
		require.NoError(t, err)

		versions, err = f.manager.GetMessageVersions(ctx, original.ID)
		require.NoError(t, err)
		assert.Len(t, versions, i+2)
	}

	assert.Equal(t, "v1", versions[0].Content)
	assert.Equal(t, "v2", versions[1].Content)
	assert.Equal(t, "v3", versions[2].Content)
}

func TestEditOfEditChainsToRoot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	original := f.addMessage(t, conversation.RoleUser, "v1", nil)
	second, err := f.manager.EditMessage(ctx, original.ID, "v2")
	require.NoError(t, err)

	// Editing the edit still points back at the root.
	third, err := f.manager.EditMessage(ctx, second.ID, "v3")
	require.NoError(t, err)
	assert.Equal(t, original.ID.String(), third.Metadata[conversation.MetadataOriginalMessageID])
	assert.Equal(t, 3, third.Version)

	// Version lookup through any id in the chain resolves the same chain.
	fromEdit, err := f.manager.GetMessageVersions(ctx, third.ID)
	require.NoError(t, err)
	fromRoot, err := f.manager.GetMessageVersions(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, fromRoot, 3)
	require.Len(t, fromEdit, 3)
	assert.Equal(t, fromRoot[2].ID, fromEdit[2].ID)
}

func TestEditRecordsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	original := f.addMessage(t, conversation.RoleUser, "v1", nil)
	_, err := f.manager.EditMessage(ctx, original.ID, "v2")
	require.NoError(t, err)

	entries, err := f.manager.GetBranchHistory(ctx, f.session.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, conversation.BranchActionEdit, entries[0].Action)
}
