package domain

import (
	"context"
	"time"
)

// Store is the persistence handle. It is constructed once by the process
// entry point and passed to every component that needs it.
type Store interface {
	MessageReader
	ConversationReader
	TeamStore

	// Begin opens a unit of work. The caller must Commit or Rollback it.
	Begin(ctx context.Context) (UnitOfWork, error)

	UpdateMessageStatus(ctx context.Context, platformMessageID, status string) (bool, error)
	SetConversationActive(ctx context.Context, key ConversationKey, active bool) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// UnitOfWork groups the message insert and the conversation update of one
// record call into a single transaction.
type UnitOfWork interface {
	// MessageByPlatformID returns nil, nil when no row carries the id.
	MessageByPlatformID(ctx context.Context, platformMessageID string) (*Message, error)
	// InsertMessage stores m and fills its ID and timestamps. It returns
	// false without writing when m's platform message id already exists.
	InsertMessage(ctx context.Context, m *Message) (bool, error)
	// UpsertConversation creates or advances the aggregate row for key.
	UpsertConversation(ctx context.Context, key ConversationKey, agent string, at time.Time) (*Conversation, error)

	Commit() error
	Rollback() error
}
