package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/go-go-golems/memoir/pkg/conversation"
)

// ArchivedMessage is the relational shape of a message. Metadata is kept as
// a JSON blob, the archive is an overflow sink, not a query model.
type ArchivedMessage struct {
	ID        string    `gorm:"primaryKey"`
	SessionID string    `gorm:"index"`
	BranchID  *string   `gorm:"index"`
	Role      string    `gorm:"index"`
	Content   string    `gorm:"type:text"`
	Time      time.Time `gorm:"index"`
	Version   int
	Metadata  string `gorm:"type:text"`

	ArchivedAt time.Time `gorm:"autoCreateTime"`
}

// GormArchiver persists messages to postgres through gorm. All callers treat
// it as best-effort; it is never on the hot path.
type GormArchiver struct {
	db *gorm.DB
}

var _ Archiver = (*GormArchiver)(nil)

func NewGormArchiver(dsn string) (*GormArchiver, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening archive database")
	}

	if err := db.AutoMigrate(&ArchivedMessage{}); err != nil {
		return nil, errors.Wrap(err, "migrating archive schema")
	}

	return &GormArchiver{db: db}, nil
}

func (g *GormArchiver) UpsertMessage(ctx context.Context, msg *conversation.Message) error {
	row, err := toArchived(msg)
	if err != nil {
		return err
	}

	err = g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(row).Error
	return errors.Wrap(err, "upserting archived message")
}

func (g *GormArchiver) QueryMessages(ctx context.Context, sessionID conversation.SessionID, filter Filter) (conversation.Conversation, error) {
	q := g.db.WithContext(ctx).
		Model(&ArchivedMessage{}).
		Where("session_id = ?", sessionID.String())

	if filter.BranchID != nil {
		q = q.Where("branch_id = ?", filter.BranchID.String())
	}
	if filter.Role != "" {
		q = q.Where("role = ?", string(filter.Role))
	}
	if !filter.Since.IsZero() {
		q = q.Where("time >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("time <= ?", filter.Until)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []ArchivedMessage
	if err := q.Order("time asc").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "querying archived messages")
	}

	out := make(conversation.Conversation, 0, len(rows))
	for i := range rows {
		msg, err := fromArchived(&rows[i])
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func toArchived(msg *conversation.Message) (*ArchivedMessage, error) {
	row := &ArchivedMessage{
		ID:        msg.ID.String(),
		SessionID: msg.SessionID.String(),
		Role:      string(msg.Role),
		Content:   msg.Content,
		Time:      msg.Time,
		Version:   msg.Version,
	}
	if msg.BranchID != nil {
		b := msg.BranchID.String()
		row.BranchID = &b
	}
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling message metadata")
		}
		row.Metadata = string(b)
	}
	return row, nil
}

func fromArchived(row *ArchivedMessage) (*conversation.Message, error) {
	id, err := conversation.ParseMessageID(row.ID)
	if err != nil {
		return nil, err
	}
	sessionID, err := conversation.ParseSessionID(row.SessionID)
	if err != nil {
		return nil, err
	}

	msg := &conversation.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      conversation.Role(row.Role),
		Content:   row.Content,
		Time:      row.Time,
		Version:   row.Version,
	}
	if row.BranchID != nil {
		b, err := conversation.ParseBranchID(*row.BranchID)
		if err == nil {
			msg.BranchID = &b
		}
	}
	if row.Metadata != "" {
		var metadata map[string]interface{}
		if err := json.Unmarshal([]byte(row.Metadata), &metadata); err == nil {
			msg.Metadata = metadata
		}
	}
	return msg, nil
}
