package branch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/store"
)

type fixture struct {
	store   *store.SessionStore
	manager *Manager
	session *conversation.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewSessionStore(store.NewMemoryKV())
	session := conversation.NewSession()
	require.NoError(t, s.SetSession(context.Background(), session))
	return &fixture{
		store:   s,
		manager: NewManager(s),
		session: session,
	}
}

func (f *fixture) addMessage(t *testing.T, role conversation.Role, content string, branchID *conversation.BranchID) *conversation.Message {
	t.Helper()
	opts := []conversation.MessageOption{}
	if branchID != nil {
		opts = append(opts, conversation.WithBranchID(*branchID))
	}
	msg := conversation.NewMessage(f.session.ID, role, content, opts...)
	require.NoError(t, f.store.AddMessage(context.Background(), msg))
	return msg
}

func TestCreateBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	origin := f.addMessage(t, conversation.RoleUser, "fork here", nil)

	b, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "alternate"})
	require.NoError(t, err)
	assert.Equal(t, "alternate", b.Name)
	assert.Equal(t, f.session.ID, b.SessionID)
	assert.Equal(t, origin.ID, b.OriginMessageID)
	assert.Nil(t, b.ParentBranchID)
	assert.Equal(t, 1, b.Depth)
	assert.False(t, b.IsActive)
	assert.False(t, b.IsArchived)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.True(t, session.HasBranch(b.ID))

	entries, err := f.manager.GetBranchHistory(ctx, f.session.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, conversation.BranchActionCreate, entries[0].Action)
}

func TestCreateBranchGeneratesName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	origin := f.addMessage(t, conversation.RoleUser, "fork here", nil)

	b, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, b.Name)
}

func TestCreateBranchMissingOrigin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.CreateBranch(ctx, f.session.ID, conversation.NewMessageID(), CreateOptions{})
	require.Error(t, err)
	assert.True(t, IsBranchError(err))
}

func TestCreateBranchCrossSessionOrigin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := conversation.NewSession()
	require.NoError(t, f.store.SetSession(ctx, other))
	foreign := conversation.NewMessage(other.ID, conversation.RoleUser, "elsewhere")
	require.NoError(t, f.store.AddMessage(ctx, foreign))

	_, err := f.manager.CreateBranch(ctx, f.session.ID, foreign.ID, CreateOptions{})
	require.Error(t, err)
	assert.True(t, IsBranchError(err))
}

func TestCreateNestedBranchDepth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	origin := f.addMessage(t, conversation.RoleUser, "root", nil)
	first, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "first"})
	require.NoError(t, err)

	onFirst := f.addMessage(t, conversation.RoleAssistant, "on first", &first.ID)

	second, err := f.manager.CreateBranch(ctx, f.session.ID, onFirst.ID, CreateOptions{Name: "second"})
	require.NoError(t, err)
	require.NotNil(t, second.ParentBranchID)
	assert.Equal(t, first.ID, *second.ParentBranchID)
	assert.Equal(t, 2, second.Depth)
}

func TestGetBranchesFiltersArchived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	origin := f.addMessage(t, conversation.RoleUser, "root", nil)
	keep, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "keep"})
	require.NoError(t, err)
	archived, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "archive me"})
	require.NoError(t, err)

	_, err = f.manager.ArchiveBranch(ctx, f.session.ID, archived.ID)
	require.NoError(t, err)

	visible, err := f.manager.GetBranches(ctx, f.session.ID, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, keep.ID, visible[0].ID)

	all, err := f.manager.GetBranches(ctx, f.session.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetBranchesUnknownSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	branches, err := f.manager.GetBranches(ctx, conversation.NewSessionID(), false)
	require.NoError(t, err)
	assert.Empty(t, branches)
}

func TestSwitchBranchExactlyOneActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	origin := f.addMessage(t, conversation.RoleUser, "root", nil)
	first, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "first"})
	require.NoError(t, err)
	second, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "second"})
	require.NoError(t, err)

	_, err = f.manager.SwitchBranch(ctx, f.session.ID, first.ID)
	require.NoError(t, err)
	_, err = f.manager.SwitchBranch(ctx, f.session.ID, second.ID)
	require.NoError(t, err)

	all, err := f.manager.GetBranches(ctx, f.session.ID, true)
	require.NoError(t, err)

	activeCount := 0
	for _, b := range all {
		if b.IsActive {
			activeCount++
			assert.Equal(t, second.ID, b.ID)
		}
	}
	assert.Equal(t, 1, activeCount)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	require.NotNil(t, session.ActiveBranchID)
	assert.Equal(t, second.ID, *session.ActiveBranchID)
}

func TestSwitchBranchValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.SwitchBranch(ctx, f.session.ID, conversation.NewBranchID())
	require.Error(t, err)
	assert.True(t, IsBranchError(err))

	other := conversation.NewSession()
	require.NoError(t, f.store.SetSession(ctx, other))
	foreignOrigin := conversation.NewMessage(other.ID, conversation.RoleUser, "x")
	require.NoError(t, f.store.AddMessage(ctx, foreignOrigin))
	foreign, err := f.manager.CreateBranch(ctx, other.ID, foreignOrigin.ID, CreateOptions{})
	require.NoError(t, err)

	_, err = f.manager.SwitchBranch(ctx, f.session.ID, foreign.ID)
	require.Error(t, err)
	assert.True(t, IsBranchError(err))
}

func TestMergeBranches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	origin := f.addMessage(t, conversation.RoleUser, "root", nil)
	source, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "source"})
	require.NoError(t, err)
	target, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "target"})
	require.NoError(t, err)

	base := time.Now()
	for i, content := range []string{"s1", "s2"} {
		msg := conversation.NewMessage(f.session.ID, conversation.RoleUser, content,
			conversation.WithBranchID(source.ID),
			conversation.WithTime(base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, f.store.AddMessage(ctx, msg))
	}
	existing := conversation.NewMessage(f.session.ID, conversation.RoleUser, "t1",
		conversation.WithBranchID(target.ID),
		conversation.WithTime(base.Add(-time.Second)))
	require.NoError(t, f.store.AddMessage(ctx, existing))

	merged, err := f.manager.MergeBranches(ctx, f.session.ID, source.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, merged.ID)
	// Merging does not archive the source.
	got, err := f.manager.GetBranch(ctx, source.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)

	targetMsgs, err := f.store.GetMessages(ctx, f.session.ID, &target.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, targetMsgs, 3)
	// Source timestamps are preserved, so merged messages interleave.
	assert.Equal(t, "t1", targetMsgs[0].Content)
	assert.Equal(t, "s1", targetMsgs[1].Content)
	assert.Equal(t, "s2", targetMsgs[2].Content)

	for _, msg := range targetMsgs[1:] {
		assert.Equal(t, source.ID.String(), msg.Metadata[conversation.MetadataMergedFrom])
	}

	// Source branch is untouched.
	sourceMsgs, err := f.store.GetMessages(ctx, f.session.ID, &source.ID, store.Page{})
	require.NoError(t, err)
	assert.Len(t, sourceMsgs, 2)
}

func TestMergeBranchIntoItself(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := conversation.NewBranchID()
	_, err := f.manager.MergeBranches(ctx, f.session.ID, id, id)
	require.Error(t, err)
	assert.True(t, IsBranchError(err))
}

func TestDeleteBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	origin := f.addMessage(t, conversation.RoleUser, "root", nil)
	b, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "doomed"})
	require.NoError(t, err)

	msg := f.addMessage(t, conversation.RoleUser, "on branch", &b.ID)

	require.NoError(t, f.manager.DeleteBranch(ctx, f.session.ID, b.ID, DeleteOptions{DeleteMessages: true}))

	got, err := f.manager.GetBranch(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.store.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Messages outside the branch survive.
	_, err = f.store.GetMessage(ctx, origin.ID)
	assert.NoError(t, err)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.False(t, session.HasBranch(b.ID))
}

func TestBranchHistoryRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	origin := f.addMessage(t, conversation.RoleUser, "root", nil)
	b, err := f.manager.CreateBranch(ctx, f.session.ID, origin.ID, CreateOptions{Name: "b"})
	require.NoError(t, err)
	_, err = f.manager.SwitchBranch(ctx, f.session.ID, b.ID)
	require.NoError(t, err)
	_, err = f.manager.ArchiveBranch(ctx, f.session.ID, b.ID)
	require.NoError(t, err)

	entries, err := f.manager.GetBranchHistory(ctx, f.session.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, conversation.BranchActionCreate, entries[0].Action)
	assert.Equal(t, conversation.BranchActionSwitch, entries[1].Action)
	assert.Equal(t, conversation.BranchActionArchive, entries[2].Action)
}
