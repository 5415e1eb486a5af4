package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/archive"
	"github.com/go-go-golems/memoir/pkg/conversation"
)

// Page bounds list reads. A Limit <= 0 means "everything from Offset on".
// A negative Offset counts from the end of the index (redis semantics), so
// Page{Offset: -n, Limit: n} reads the n most recently appended entries.
type Page struct {
	Limit  int
	Offset int
}

// SessionStore is the single shared mutable resource of the engine: sessions,
// messages, ordered per-session and per-branch indices, branch records,
// message version history and the branch history log, all living in a
// TTL-bounded KV.
//
// Appends take a coarse per-session lock so the "store body + update index"
// pair stays atomic without multi-key transactions. This costs a little write
// throughput and buys ordering correctness under concurrent producers.
type SessionStore struct {
	kv         KV
	locker     *SessionLocker
	sessionTTL time.Duration
	archiver   archive.Archiver
}

type StoreOption func(*SessionStore)

func WithSessionTTL(ttl time.Duration) StoreOption {
	return func(s *SessionStore) {
		s.sessionTTL = ttl
	}
}

func WithLocker(locker *SessionLocker) StoreOption {
	return func(s *SessionStore) {
		s.locker = locker
	}
}

// WithArchiver enables best-effort advisory writes of appended messages to an
// external archival database. Archive failures never fail store operations.
func WithArchiver(archiver archive.Archiver) StoreOption {
	return func(s *SessionStore) {
		s.archiver = archiver
	}
}

func NewSessionStore(kv KV, options ...StoreOption) *SessionStore {
	ret := &SessionStore{
		kv:         kv,
		sessionTTL: 24 * time.Hour,
	}
	for _, option := range options {
		option(ret)
	}
	if ret.locker == nil {
		ret.locker = NewSessionLocker(kv)
	}
	return ret
}

// --- sessions ---

func (s *SessionStore) SetSession(ctx context.Context, session *conversation.Session) error {
	if s.kv == nil {
		return ErrNotInitialized
	}
	session.Touch()

	b, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "marshaling session")
	}
	if err := s.kv.Set(ctx, sessionKey(session.ID), b, s.sessionTTL); err != nil {
		return errors.Wrap(err, "storing session")
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id conversation.SessionID) (*conversation.Session, error) {
	if s.kv == nil {
		return nil, ErrNotInitialized
	}
	b, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}

	var session conversation.Session
	if err := json.Unmarshal(b, &session); err != nil {
		return nil, errors.Wrap(err, "unmarshaling session")
	}

	// Every access refreshes the TTL.
	if err := s.kv.Expire(ctx, sessionKey(id), s.sessionTTL); err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("failed to refresh session TTL")
	}

	return &session, nil
}

// DeleteSession removes the session and every derived key: message bodies,
// order indices, branch records and indices, version lists, the history log
// and the lock key.
func (s *SessionStore) DeleteSession(ctx context.Context, id conversation.SessionID) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	keys := []string{
		sessionKey(id),
		messageIndexKey(id),
		historyKey(id),
		lockKey(id),
	}

	ids, err := s.kv.LRange(ctx, messageIndexKey(id), 0, -1)
	if err != nil {
		return errors.Wrap(err, "reading message index")
	}
	for _, raw := range ids {
		mid, err := conversation.ParseMessageID(raw)
		if err != nil {
			continue
		}
		keys = append(keys, messageKey(mid), versionsKey(mid))
	}

	for _, branchID := range session.Branches {
		branchIdx := branchIndexKey(id, branchID)
		branchMsgs, err := s.kv.LRange(ctx, branchIdx, 0, -1)
		if err != nil {
			return errors.Wrap(err, "reading branch index")
		}
		for _, raw := range branchMsgs {
			mid, err := conversation.ParseMessageID(raw)
			if err != nil {
				continue
			}
			keys = append(keys, messageKey(mid), versionsKey(mid))
		}
		keys = append(keys, branchIdx, branchKey(branchID))
	}

	if err := s.kv.Delete(ctx, keys...); err != nil {
		return errors.Wrap(err, "deleting session keys")
	}

	log.Debug().Str("session_id", id.String()).Int("keys", len(keys)).Msg("session deleted")
	return nil
}

// --- messages ---

// AddMessage appends a message under the per-session lock: body first, then
// the order index (main timeline or the message's branch index), then the
// session record's message count. Fails with ErrLockTimeout when the lock
// cannot be acquired within the bounded wait.
func (s *SessionStore) AddMessage(ctx context.Context, msg *conversation.Message) error {
	if s.kv == nil {
		return ErrNotInitialized
	}

	lock, err := s.locker.Acquire(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	if err := s.setMessageBody(ctx, msg); err != nil {
		return err
	}

	indexKey := messageIndexKey(msg.SessionID)
	if msg.BranchID != nil {
		indexKey = branchIndexKey(msg.SessionID, *msg.BranchID)
	}
	if err := s.kv.RPush(ctx, indexKey, msg.ID.String()); err != nil {
		return errors.Wrap(err, "appending to message index")
	}
	if err := s.kv.Expire(ctx, indexKey, s.sessionTTL); err != nil {
		log.Warn().Err(err).Str("key", indexKey).Msg("failed to refresh index TTL")
	}

	session, err := s.GetSession(ctx, msg.SessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if session != nil {
		session.MessageCount++
		// Register the branch on the session record even when no branch
		// record was ever written, so DeleteSession can cascade its index.
		if msg.BranchID != nil {
			session.AddBranch(*msg.BranchID)
		}
		if err := s.SetSession(ctx, session); err != nil {
			return err
		}
	}

	s.archiveBlind(msg)

	log.Trace().
		Str("session_id", msg.SessionID.String()).
		Str("message_id", msg.ID.String()).
		Str("role", string(msg.Role)).
		Msg("message appended")
	return nil
}

// SetMessage persists a message body without touching any order index. Used
// by edit versioning, where new versions never re-enter the timeline.
func (s *SessionStore) SetMessage(ctx context.Context, msg *conversation.Message) error {
	if s.kv == nil {
		return ErrNotInitialized
	}
	if err := s.setMessageBody(ctx, msg); err != nil {
		return err
	}
	s.archiveBlind(msg)
	return nil
}

func (s *SessionStore) setMessageBody(ctx context.Context, msg *conversation.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshaling message")
	}
	if err := s.kv.Set(ctx, messageKey(msg.ID), b, s.sessionTTL); err != nil {
		return errors.Wrap(err, "storing message")
	}
	return nil
}

func (s *SessionStore) GetMessage(ctx context.Context, id conversation.MessageID) (*conversation.Message, error) {
	if s.kv == nil {
		return nil, ErrNotInitialized
	}
	b, err := s.kv.Get(ctx, messageKey(id))
	if err != nil {
		return nil, err
	}
	var msg conversation.Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling message")
	}
	return &msg, nil
}

// GetMessages returns messages in ascending timestamp order. A nil branchID
// reads the main-timeline index; a branch index holds only messages appended
// directly to that branch, composing across ancestry is the assembler's job.
func (s *SessionStore) GetMessages(ctx context.Context, sessionID conversation.SessionID, branchID *conversation.BranchID, page Page) (conversation.Conversation, error) {
	if s.kv == nil {
		return nil, ErrNotInitialized
	}

	indexKey := messageIndexKey(sessionID)
	if branchID != nil {
		indexKey = branchIndexKey(sessionID, *branchID)
	}

	start := int64(page.Offset)
	stop := int64(-1)
	if page.Limit > 0 {
		stop = start + int64(page.Limit) - 1
	}

	ids, err := s.kv.LRange(ctx, indexKey, start, stop)
	if err != nil {
		return nil, errors.Wrap(err, "reading message index")
	}

	msgs := make(conversation.Conversation, 0, len(ids))
	for _, raw := range ids {
		mid, err := conversation.ParseMessageID(raw)
		if err != nil {
			log.Warn().Str("id", raw).Msg("skipping malformed message id in index")
			continue
		}
		msg, err := s.GetMessage(ctx, mid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Body expired out from under the index.
				log.Debug().Str("message_id", raw).Msg("message body missing, skipping")
				continue
			}
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Time.Before(msgs[j].Time)
	})

	return msgs, nil
}

// DeleteMessage removes the message body and its index entry.
func (s *SessionStore) DeleteMessage(ctx context.Context, id conversation.MessageID) error {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	indexKey := messageIndexKey(msg.SessionID)
	if msg.BranchID != nil {
		indexKey = branchIndexKey(msg.SessionID, *msg.BranchID)
	}
	if err := s.kv.LRem(ctx, indexKey, id.String()); err != nil {
		return errors.Wrap(err, "removing from message index")
	}
	if err := s.kv.Delete(ctx, messageKey(id)); err != nil {
		return errors.Wrap(err, "deleting message")
	}

	session, err := s.GetSession(ctx, msg.SessionID)
	if err == nil && session.MessageCount > 0 {
		session.MessageCount--
		_ = s.SetSession(ctx, session)
	}

	return nil
}

// --- branch records ---

func (s *SessionStore) SetBranch(ctx context.Context, branch *conversation.Branch) error {
	if s.kv == nil {
		return ErrNotInitialized
	}
	b, err := json.Marshal(branch)
	if err != nil {
		return errors.Wrap(err, "marshaling branch")
	}
	if err := s.kv.Set(ctx, branchKey(branch.ID), b, s.sessionTTL); err != nil {
		return errors.Wrap(err, "storing branch")
	}
	return nil
}

func (s *SessionStore) GetBranch(ctx context.Context, id conversation.BranchID) (*conversation.Branch, error) {
	if s.kv == nil {
		return nil, ErrNotInitialized
	}
	b, err := s.kv.Get(ctx, branchKey(id))
	if err != nil {
		return nil, err
	}
	var branch conversation.Branch
	if err := json.Unmarshal(b, &branch); err != nil {
		return nil, errors.Wrap(err, "unmarshaling branch")
	}
	return &branch, nil
}

// DeleteBranchRecord removes the branch record and, when deleteMessages is
// set, cascades into the branch's own message index. Messages in ancestor
// branches are never touched.
func (s *SessionStore) DeleteBranchRecord(ctx context.Context, sessionID conversation.SessionID, branchID conversation.BranchID, deleteMessages bool) error {
	keys := []string{branchKey(branchID)}

	indexKey := branchIndexKey(sessionID, branchID)
	if deleteMessages {
		ids, err := s.kv.LRange(ctx, indexKey, 0, -1)
		if err != nil {
			return errors.Wrap(err, "reading branch index")
		}
		for _, raw := range ids {
			mid, err := conversation.ParseMessageID(raw)
			if err != nil {
				continue
			}
			keys = append(keys, messageKey(mid), versionsKey(mid))
		}
	}
	keys = append(keys, indexKey)

	if err := s.kv.Delete(ctx, keys...); err != nil {
		return errors.Wrap(err, "deleting branch keys")
	}
	return nil
}

// --- version history ---

// AppendVersion records an edit of rootID. The versions list holds edit ids
// only; the root message itself is the implicit first version.
func (s *SessionStore) AppendVersion(ctx context.Context, rootID conversation.MessageID, versionID conversation.MessageID) error {
	if s.kv == nil {
		return ErrNotInitialized
	}
	key := versionsKey(rootID)
	if err := s.kv.RPush(ctx, key, versionID.String()); err != nil {
		return errors.Wrap(err, "appending version")
	}
	if err := s.kv.Expire(ctx, key, s.sessionTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to refresh versions TTL")
	}
	return nil
}

func (s *SessionStore) GetVersionIDs(ctx context.Context, rootID conversation.MessageID) ([]conversation.MessageID, error) {
	if s.kv == nil {
		return nil, ErrNotInitialized
	}
	raw, err := s.kv.LRange(ctx, versionsKey(rootID), 0, -1)
	if err != nil {
		return nil, errors.Wrap(err, "reading versions")
	}
	out := make([]conversation.MessageID, 0, len(raw))
	for _, r := range raw {
		id, err := conversation.ParseMessageID(r)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// --- branch history log ---

func (s *SessionStore) AppendHistory(ctx context.Context, entry *conversation.BranchHistoryEntry) error {
	if s.kv == nil {
		return ErrNotInitialized
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshaling history entry")
	}
	key := historyKey(entry.SessionID)
	if err := s.kv.RPush(ctx, key, string(b)); err != nil {
		return errors.Wrap(err, "appending history entry")
	}
	if err := s.kv.Expire(ctx, key, s.sessionTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to refresh history TTL")
	}
	return nil
}

func (s *SessionStore) GetHistory(ctx context.Context, sessionID conversation.SessionID, page Page) ([]*conversation.BranchHistoryEntry, error) {
	if s.kv == nil {
		return nil, ErrNotInitialized
	}

	start := int64(page.Offset)
	stop := int64(-1)
	if page.Limit > 0 {
		stop = start + int64(page.Limit) - 1
	}

	raw, err := s.kv.LRange(ctx, historyKey(sessionID), start, stop)
	if err != nil {
		return nil, errors.Wrap(err, "reading history")
	}

	out := make([]*conversation.BranchHistoryEntry, 0, len(raw))
	for _, r := range raw {
		var entry conversation.BranchHistoryEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			log.Warn().Err(err).Msg("skipping malformed history entry")
			continue
		}
		out = append(out, &entry)
	}
	return out, nil
}

// archiveBlind fires an advisory write to the archival database, if one is
// configured. It never blocks the caller and never fails the operation.
func (s *SessionStore) archiveBlind(msg *conversation.Message) {
	if s.archiver == nil {
		return
	}
	clone := msg.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.archiver.UpsertMessage(ctx, clone); err != nil {
			log.Warn().Err(err).Str("message_id", clone.ID.String()).Msg("failed to archive message")
		}
	}()
}
