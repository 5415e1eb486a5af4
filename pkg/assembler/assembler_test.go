package assembler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/store"
)

func newTestStore(t *testing.T) *store.SessionStore {
	t.Helper()
	return store.NewSessionStore(store.NewMemoryKV())
}

func addMessage(t *testing.T, s *store.SessionStore, sessionID conversation.SessionID, role conversation.Role, content string, at time.Time, branchID *conversation.BranchID) *conversation.Message {
	t.Helper()
	opts := []conversation.MessageOption{conversation.WithTime(at)}
	if branchID != nil {
		opts = append(opts, conversation.WithBranchID(*branchID))
	}
	msg := conversation.NewMessage(sessionID, role, content, opts...)
	require.NoError(t, s.AddMessage(context.Background(), msg))
	return msg
}

func TestAssembleContextEmptySession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	window, err := a.AssembleContext(ctx, conversation.NewSessionID(), Options{})
	require.NoError(t, err)
	assert.Empty(t, window.Messages)
	assert.Empty(t, window.SystemPrompt)
	assert.Equal(t, 0, window.TokenCount)
	assert.Equal(t, 0, window.MessageCount)
}

func TestAssembleContextExtractsSystemPrompt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	addMessage(t, s, sessionID, conversation.RoleSystem, "be terse", base, nil)
	addMessage(t, s, sessionID, conversation.RoleUser, "hi", base.Add(time.Second), nil)
	addMessage(t, s, sessionID, conversation.RoleAssistant, "hello", base.Add(2*time.Second), nil)

	window, err := a.AssembleContext(ctx, sessionID, Options{})
	require.NoError(t, err)

	assert.Equal(t, "be terse", window.SystemPrompt)
	require.Len(t, window.Messages, 2)
	assert.Equal(t, "hi", window.Messages[0].Content)
	assert.Equal(t, "hello", window.Messages[1].Content)
}

func TestAssembleContextMostRecentSystemMessageWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	addMessage(t, s, sessionID, conversation.RoleSystem, "old prompt", base, nil)
	addMessage(t, s, sessionID, conversation.RoleUser, "hi", base.Add(time.Second), nil)
	addMessage(t, s, sessionID, conversation.RoleSystem, "new prompt", base.Add(2*time.Second), nil)

	window, err := a.AssembleContext(ctx, sessionID, Options{})
	require.NoError(t, err)
	assert.Equal(t, "new prompt", window.SystemPrompt)
}

func TestAssembleContextMaxMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()
	for i := 0; i < 10; i++ {
		addMessage(t, s, sessionID, conversation.RoleUser, string(rune('a'+i)), base.Add(time.Duration(i)*time.Second), nil)
	}

	window, err := a.AssembleContext(ctx, sessionID, Options{MaxMessages: 3})
	require.NoError(t, err)
	require.Len(t, window.Messages, 3)
	// Most recent, in chronological order.
	assert.Equal(t, "h", window.Messages[0].Content)
	assert.Equal(t, "i", window.Messages[1].Content)
	assert.Equal(t, "j", window.Messages[2].Content)
}

func TestAssembleContextPreferOldest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()
	for i := 0; i < 5; i++ {
		addMessage(t, s, sessionID, conversation.RoleUser, string(rune('a'+i)), base.Add(time.Duration(i)*time.Second), nil)
	}

	preferRecent := false
	window, err := a.AssembleContext(ctx, sessionID, Options{MaxMessages: 2, PreferRecent: &preferRecent})
	require.NoError(t, err)
	require.Len(t, window.Messages, 2)
	assert.Equal(t, "a", window.Messages[0].Content)
	assert.Equal(t, "b", window.Messages[1].Content)
}

func TestAssembleContextTokenBudgetDropsWholeMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	// 40 chars each: 10 tokens under the chars/4 heuristic.
	for i := 0; i < 5; i++ {
		addMessage(t, s, sessionID, conversation.RoleUser, strings.Repeat(string(rune('a'+i)), 40),
			base.Add(time.Duration(i)*time.Second), nil)
	}

	window, err := a.AssembleContext(ctx, sessionID, Options{MaxTokens: 25})
	require.NoError(t, err)

	// Only the two most recent fit; the third would exceed the budget.
	require.Len(t, window.Messages, 2)
	assert.Equal(t, strings.Repeat("d", 40), window.Messages[0].Content)
	assert.Equal(t, strings.Repeat("e", 40), window.Messages[1].Content)
	assert.LessOrEqual(t, window.TokenCount, 25)
}

func TestAssembleContextSystemPromptNeverDropped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	addMessage(t, s, sessionID, conversation.RoleSystem, strings.Repeat("s", 400), base, nil)
	addMessage(t, s, sessionID, conversation.RoleUser, strings.Repeat("u", 400), base.Add(time.Second), nil)

	// Budget smaller than the system prompt alone.
	window, err := a.AssembleContext(ctx, sessionID, Options{MaxTokens: 10})
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("s", 400), window.SystemPrompt)
	assert.Empty(t, window.Messages)
	// The prompt's cost is still reported.
	assert.Equal(t, 100, window.TokenCount)
}

func TestAssembleContextBranchScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	addMessage(t, s, sessionID, conversation.RoleSystem, "sys content", base, nil)
	addMessage(t, s, sessionID, conversation.RoleUser, "u1", base.Add(time.Second), nil)
	addMessage(t, s, sessionID, conversation.RoleAssistant, "a1", base.Add(2*time.Second), nil)
	addMessage(t, s, sessionID, conversation.RoleUser, "u2", base.Add(3*time.Second), nil)

	branchID := conversation.NewBranchID()
	addMessage(t, s, sessionID, conversation.RoleAssistant, "a2", base.Add(4*time.Second), &branchID)

	// The branch index holds only the branch's own message.
	branchMsgs, err := s.GetMessages(ctx, sessionID, &branchID, store.Page{})
	require.NoError(t, err)
	require.Len(t, branchMsgs, 1)
	assert.Equal(t, "a2", branchMsgs[0].Content)

	// The assembled window pairs the branch message with the main timeline's
	// system prompt.
	window, err := a.AssembleContext(ctx, sessionID, Options{BranchID: &branchID})
	require.NoError(t, err)
	require.Len(t, window.Messages, 1)
	assert.Equal(t, "a2", window.Messages[0].Content)
	assert.Equal(t, "sys content", window.SystemPrompt)

	// The main timeline is unaffected by the branch.
	mainWindow, err := a.AssembleContext(ctx, sessionID, Options{})
	require.NoError(t, err)
	require.Len(t, mainWindow.Messages, 3)
	assert.Equal(t, "sys content", mainWindow.SystemPrompt)
}

func TestAssembleContextLongSessionUsesMostRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	// Far more messages than the over-fetch window holds.
	for i := 0; i < 100; i++ {
		addMessage(t, s, sessionID, conversation.RoleUser, fmt.Sprintf("m%03d", i),
			base.Add(time.Duration(i)*time.Second), nil)
	}

	window, err := a.AssembleContext(ctx, sessionID, Options{MaxMessages: 3})
	require.NoError(t, err)
	require.Len(t, window.Messages, 3)
	assert.Equal(t, "m097", window.Messages[0].Content)
	assert.Equal(t, "m098", window.Messages[1].Content)
	assert.Equal(t, "m099", window.Messages[2].Content)
}

func TestAssembleContextLongSessionFindsSystemPromptAtHead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	// System prompt opens the timeline, far outside the tail over-fetch.
	addMessage(t, s, sessionID, conversation.RoleSystem, "opening prompt", base, nil)
	for i := 1; i < 100; i++ {
		addMessage(t, s, sessionID, conversation.RoleUser, fmt.Sprintf("m%03d", i),
			base.Add(time.Duration(i)*time.Second), nil)
	}

	window, err := a.AssembleContext(ctx, sessionID, Options{MaxMessages: 3})
	require.NoError(t, err)
	assert.Equal(t, "opening prompt", window.SystemPrompt)
	require.Len(t, window.Messages, 3)
	assert.Equal(t, "m099", window.Messages[2].Content)
}

func TestAssembleContextBranchOnLongMainTimeline(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	addMessage(t, s, sessionID, conversation.RoleSystem, "sys content", base, nil)
	for i := 1; i < 100; i++ {
		addMessage(t, s, sessionID, conversation.RoleUser, fmt.Sprintf("m%03d", i),
			base.Add(time.Duration(i)*time.Second), nil)
	}

	branchID := conversation.NewBranchID()
	addMessage(t, s, sessionID, conversation.RoleAssistant, "a2",
		base.Add(200*time.Second), &branchID)

	// The branch window still picks up the system prompt buried at the head
	// of the main timeline.
	window, err := a.AssembleContext(ctx, sessionID, Options{BranchID: &branchID})
	require.NoError(t, err)
	require.Len(t, window.Messages, 1)
	assert.Equal(t, "a2", window.Messages[0].Content)
	assert.Equal(t, "sys content", window.SystemPrompt)
}

func TestAssembleContextExcludeSystemPrompt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := NewAssembler(s)

	sessionID := conversation.NewSessionID()
	base := time.Now()

	addMessage(t, s, sessionID, conversation.RoleSystem, "sys", base, nil)
	addMessage(t, s, sessionID, conversation.RoleUser, "hi", base.Add(time.Second), nil)

	include := false
	window, err := a.AssembleContext(ctx, sessionID, Options{IncludeSystemPrompt: &include})
	require.NoError(t, err)

	assert.Empty(t, window.SystemPrompt)
	// The system message stays in the timeline when not extracted.
	require.Len(t, window.Messages, 2)
	assert.Equal(t, conversation.RoleSystem, window.Messages[0].Role)
}
