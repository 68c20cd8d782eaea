package conversation

import (
	"context"
	"log/slog"

	"callcenter/internal/domain"
	"callcenter/internal/metrics"
)

// conversationGetter is the read the Router performs.
type conversationGetter interface {
	GetConversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error)
}

// Router picks the agent responsible for an inbound message. It never
// writes and takes no locks.
type Router struct {
	store        conversationGetter
	defaultAgent string
	logger       *slog.Logger
}

func NewRouter(store conversationGetter, defaultAgent string, logger *slog.Logger) *Router {
	if defaultAgent == "" {
		defaultAgent = "Agent1"
	}
	return &Router{store: store, defaultAgent: defaultAgent, logger: logger}
}

// DefaultAgent returns the fallback owner for unknown conversations.
func (r *Router) DefaultAgent() string { return r.defaultAgent }

// ResolveIncomingAgent returns the owner of the conversation for key, or the
// default agent when there is none. When the lookup itself fails the default
// is still returned, together with a *domain.RoutingDegradedError.
func (r *Router) ResolveIncomingAgent(ctx context.Context, key domain.ConversationKey) (string, error) {
	c, err := r.store.GetConversation(ctx, key)
	if err != nil {
		metrics.RoutingFallbacks.Inc()
		return r.defaultAgent, &domain.RoutingDegradedError{
			Key:      key,
			Fallback: r.defaultAgent,
			Err:      domain.Storage("resolve agent", err),
		}
	}
	if c == nil || c.Agent == "" {
		return r.defaultAgent, nil
	}
	return c.Agent, nil
}
