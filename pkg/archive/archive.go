package archive

import (
	"context"
	"time"

	"github.com/go-go-golems/memoir/pkg/conversation"
)

// Filter narrows archival queries.
type Filter struct {
	BranchID *conversation.BranchID
	Role     conversation.Role
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Archiver is the optional long-term sink behind the TTL-bounded store.
// Every write through it is advisory: absence or failure of the archival
// database must never break core operations.
type Archiver interface {
	UpsertMessage(ctx context.Context, msg *conversation.Message) error
	QueryMessages(ctx context.Context, sessionID conversation.SessionID, filter Filter) (conversation.Conversation, error)
}

// NullArchiver discards everything. Used when no archival database is
// configured.
type NullArchiver struct{}

var _ Archiver = (*NullArchiver)(nil)

func NewNullArchiver() *NullArchiver {
	return &NullArchiver{}
}

func (n *NullArchiver) UpsertMessage(_ context.Context, _ *conversation.Message) error {
	return nil
}

func (n *NullArchiver) QueryMessages(_ context.Context, _ conversation.SessionID, _ Filter) (conversation.Conversation, error) {
	return nil, nil
}
