// Package conversation owns the per-(recipient, platform) aggregate: the
// Aggregator is its only writer and the Router reads it to pick the agent
// for inbound traffic.
package conversation

import (
	"context"
	"log/slog"
	"time"

	"callcenter/internal/domain"
)

// activeSetter is the slice of the store the Aggregator needs outside a
// unit of work.
type activeSetter interface {
	SetConversationActive(ctx context.Context, key domain.ConversationKey, active bool) (bool, error)
}

// Aggregator advances conversation rows as messages are recorded.
type Aggregator struct {
	store  activeSetter
	logger *slog.Logger
}

func NewAggregator(store activeSetter, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Touch creates or advances the conversation for key inside uow: the count
// goes up by one, the owner becomes agent, last_message_at never moves
// backwards and the thread is reactivated. Callers must hold the key lock.
func (a *Aggregator) Touch(ctx context.Context, uow domain.UnitOfWork, key domain.ConversationKey, agent string, at time.Time) (*domain.Conversation, error) {
	c, err := uow.UpsertConversation(ctx, key, agent, at)
	if err != nil {
		return nil, domain.Storage("touch conversation", err)
	}
	a.logger.Debug("conversation touched",
		"key", key.String(),
		"agent", c.Agent,
		"count", c.MessageCount,
	)
	return c, nil
}

// SetActive marks a thread active or inactive. It returns ErrNotFound when
// no conversation exists for key.
func (a *Aggregator) SetActive(ctx context.Context, key domain.ConversationKey, active bool) error {
	ok, err := a.store.SetConversationActive(ctx, key, active)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	a.logger.Info("conversation activity changed", "key", key.String(), "active", active)
	return nil
}
