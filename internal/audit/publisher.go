package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"heirloom/internal/platform/metrics"
	id "heirloom/pkg/domain"
)

// Publisher captures structured audit events. Losing an audit row is
// recoverable; losing a grant or delivery correctness guarantee is not, so
// Record never fails the calling operation: persistence errors are logged
// and counted instead.
type Publisher struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	inbox   chan Event
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithMetrics sets the metrics collector used to count dropped events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithInbox makes emission asynchronous: Record enqueues and a Worker drains
// the channel into the store. Without an inbox, Record appends directly.
func WithInbox(inbox chan Event) Option {
	return func(p *Publisher) { p.inbox = inbox }
}

func NewPublisher(store Store, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record captures an audit event. It never returns an error and never
// blocks: the substantive state transition has already committed by the time
// this is called.
func (p *Publisher) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if p.inbox != nil {
		select {
		case p.inbox <- event:
		default:
			p.dropped(ctx, event, "audit inbox full")
		}
		return
	}

	if err := p.store.Append(ctx, event); err != nil {
		p.dropped(ctx, event, err.Error())
	}
}

// List returns the audit trail for an owner's entities.
func (p *Publisher) List(ctx context.Context, ownerID id.UserID) ([]Event, error) {
	return p.store.ListByOwner(ctx, ownerID)
}

func (p *Publisher) dropped(ctx context.Context, event Event, reason string) {
	p.logger.ErrorContext(ctx, "audit event dropped",
		"kind", string(event.Kind),
		"entity", event.EntityRef,
		"reason", reason,
	)
	if p.metrics != nil {
		p.metrics.AuditDropped.Inc()
	}
}
