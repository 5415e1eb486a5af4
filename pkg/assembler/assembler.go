package assembler

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/store"
	"github.com/go-go-golems/memoir/pkg/tokens"
)

// Options bound a context window. Zero values fall back to defaults through
// withDefaults, so callers can set only what they care about.
type Options struct {
	MaxMessages int
	MaxTokens   int
	BranchID    *conversation.BranchID
	// IncludeSystemPrompt extracts the most recent system message into the
	// Context's SystemPrompt field. Defaults to true.
	IncludeSystemPrompt *bool
	// PreferRecent selects the tail of the timeline when the message count
	// exceeds MaxMessages. Defaults to true.
	PreferRecent *bool
}

const (
	DefaultMaxMessages = 50
	DefaultMaxTokens   = 4000

	// minFetch keeps the over-fetch large enough for selection flexibility
	// on small windows.
	minFetch = 32
)

func (o Options) withDefaults() Options {
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.IncludeSystemPrompt == nil {
		t := true
		o.IncludeSystemPrompt = &t
	}
	if o.PreferRecent == nil {
		t := true
		o.PreferRecent = &t
	}
	return o
}

// Context is the bounded, ordered window handed to a model call.
type Context struct {
	Messages     conversation.Conversation `json:"messages"`
	SystemPrompt string                    `json:"systemPrompt,omitempty"`

	SessionID    conversation.SessionID `json:"sessionId"`
	BranchID     *conversation.BranchID `json:"branchId,omitempty"`
	TokenCount   int                    `json:"tokenCount"`
	MessageCount int                    `json:"messageCount"`
}

// Assembler builds context windows from the store. It only reads; the store
// remains the sole writer.
type Assembler struct {
	store     *store.SessionStore
	estimator tokens.Estimator
}

type AssemblerOption func(*Assembler)

func WithEstimator(estimator tokens.Estimator) AssemblerOption {
	return func(a *Assembler) {
		a.estimator = estimator
	}
}

func NewAssembler(store_ *store.SessionStore, options ...AssemblerOption) *Assembler {
	ret := &Assembler{
		store:     store_,
		estimator: tokens.NewHeuristic(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// AssembleContext selects and bounds a message subsequence:
//
//  1. fetch the branch's index (main when no branch), over-fetching for
//     selection flexibility
//  2. extract the most recent system message as the separate system prompt
//  3. select head or tail up to MaxMessages
//  4. walk most-recent backward accumulating estimated token cost, dropping
//     whole messages once the budget would be exceeded (never truncating)
//  5. restore chronological order
//
// An empty session yields an empty context, never an error. The system
// prompt is never dropped by the token budget.
func (a *Assembler) AssembleContext(ctx context.Context, sessionID conversation.SessionID, opts Options) (*Context, error) {
	opts = opts.withDefaults()

	fetch := opts.MaxMessages * 2
	if fetch < minFetch {
		fetch = minFetch
	}

	// Timelines can be much longer than the over-fetch, so the end we read
	// from matters: the tail when recency is preferred, the head otherwise.
	page := store.Page{Limit: fetch}
	if *opts.PreferRecent {
		page.Offset = -fetch
	}

	msgs, err := a.store.GetMessages(ctx, sessionID, opts.BranchID, page)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			msgs = nil
		} else {
			return nil, errors.Wrap(err, "fetching messages")
		}
	}

	result := &Context{
		SessionID: sessionID,
		BranchID:  opts.BranchID,
		Messages:  conversation.Conversation{},
	}

	systemPromptTokens := 0
	if *opts.IncludeSystemPrompt {
		var system *conversation.Message
		system, msgs = extractSystemPrompt(msgs)

		if system == nil {
			system, err = a.lookupSystemPrompt(ctx, sessionID, opts.BranchID, fetch, page.Offset != 0)
			if err != nil {
				return nil, err
			}
		}

		if system != nil {
			result.SystemPrompt = system.Content
			systemPromptTokens = tokens.ForMessage(system, a.estimator)
		}
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Time.Before(msgs[j].Time)
	})

	if len(msgs) > opts.MaxMessages {
		if *opts.PreferRecent {
			msgs = msgs[len(msgs)-opts.MaxMessages:]
		} else {
			msgs = msgs[:opts.MaxMessages]
		}
	}

	// Token budget: walk from most recent backward, drop whole messages once
	// the budget would be exceeded.
	budget := opts.MaxTokens
	selected := make(conversation.Conversation, 0, len(msgs))
	used := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := tokens.ForMessage(msgs[i], a.estimator)
		if used+cost > budget {
			break
		}
		used += cost
		selected = append(selected, msgs[i])
	}

	// Restore chronological order.
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}

	result.Messages = selected
	result.MessageCount = len(selected)
	result.TokenCount = used + systemPromptTokens

	log.Trace().
		Str("session_id", sessionID.String()).
		Int("message_count", result.MessageCount).
		Int("token_count", result.TokenCount).
		Bool("has_system_prompt", result.SystemPrompt != "").
		Msg("context assembled")

	return result, nil
}

// lookupSystemPrompt scans beyond the fetched window when it held no system
// message: the head of the same index when only its tail was fetched (system
// prompts usually open a timeline), then the main timeline for branch
// windows. Branch indices hold only messages appended directly to the
// branch; composing across ancestry is our job, not the store's.
func (a *Assembler) lookupSystemPrompt(ctx context.Context, sessionID conversation.SessionID, branchID *conversation.BranchID, fetch int, tailFetched bool) (*conversation.Message, error) {
	type read struct {
		branchID *conversation.BranchID
		page     store.Page
	}
	reads := []read{}
	if tailFetched {
		reads = append(reads, read{branchID: branchID, page: store.Page{Limit: fetch}})
	}
	if branchID != nil {
		reads = append(reads,
			read{page: store.Page{Offset: -fetch, Limit: fetch}},
			read{page: store.Page{Limit: fetch}},
		)
	}

	for _, r := range reads {
		msgs, err := a.store.GetMessages(ctx, sessionID, r.branchID, r.page)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, errors.Wrap(err, "scanning for system prompt")
		}
		if system, _ := extractSystemPrompt(msgs); system != nil {
			return system, nil
		}
	}
	return nil, nil
}

// extractSystemPrompt pulls the most recent system message out of msgs,
// returning it alongside the remaining messages.
func extractSystemPrompt(msgs conversation.Conversation) (*conversation.Message, conversation.Conversation) {
	var system *conversation.Message
	rest := make(conversation.Conversation, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == conversation.RoleSystem {
			if system == nil || msg.Time.After(system.Time) {
				if system != nil {
					rest = append(rest, system)
				}
				system = msg
				continue
			}
		}
		rest = append(rest, msg)
	}
	if system == nil {
		return nil, msgs
	}
	return system, rest
}
