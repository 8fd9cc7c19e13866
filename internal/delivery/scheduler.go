package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"heirloom/internal/audit"
	"heirloom/internal/platform/metrics"
	"heirloom/internal/vault"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/requestcontext"
)

// Scheduler evaluates delivery triggers and fires each at most once. The
// firing itself is the store's conditional MarkDelivered, so overlapping
// evaluation runs never deliver the same item twice.
type Scheduler struct {
	items    vault.Store
	events   EventStore
	notifier Notifier
	audit    *audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewScheduler(items vault.Store, events EventStore, notifier Notifier, publisher *audit.Publisher, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{items: items, events: events, notifier: notifier, audit: publisher, metrics: m, logger: logger}
}

// RecordLifeEvent registers a life event for an owner. Admin only: life
// events unlock event-based deliveries, so they come from a verified
// out-of-band process, never from an arbitrary user.
func (s *Scheduler) RecordLifeEvent(ctx context.Context, ownerID id.UserID, kind string) error {
	if kind == "" {
		return dErrors.New(dErrors.CodeBadRequest, "life event kind is required")
	}
	if !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "recording life events requires the administrative claim")
	}
	now := requestcontext.Now(ctx)
	created, err := s.events.Record(ctx, LifeEvent{OwnerID: ownerID, Kind: kind, RecordedAt: now})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record life event")
	}
	if !created {
		return nil
	}
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindLifeEventRecorded,
		EntityRef:      ownerID.String(),
		OwnerID:        ownerID,
		ActorID:        requestcontext.ActorID(ctx),
		ResultingState: kind,
		OccurredAt:     now,
	})
	return nil
}

// EvaluateDeliveryTriggers walks every pending trigger and delivers the due
// ones. Returns the number of items delivered by this run. Safe to call
// concurrently and repeatedly.
func (s *Scheduler) EvaluateDeliveryTriggers(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(s.metrics.SweepDuration)
	defer timer.ObserveDuration()

	pending, err := s.items.ListPendingTriggers(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending triggers")
	}

	now := requestcontext.Now(ctx)
	delivered := 0
	for _, item := range pending {
		due, err := s.due(ctx, item, now)
		if err != nil {
			s.logger.Error("trigger evaluation failed", "item_id", item.ID.String(), "error", err)
			continue
		}
		if !due {
			continue
		}
		applied, err := s.items.MarkDelivered(ctx, item.ID, now)
		if err != nil {
			s.logger.Error("delivery failed", "item_id", item.ID.String(), "error", err)
			continue
		}
		if !applied {
			// Another run fired it, or the owner tombstoned the item first.
			continue
		}
		delivered++
		if err := s.notifier.NotifyDelivery(ctx, item); err != nil {
			// The firing is committed; the handoff is logged for operators,
			// never unwound.
			s.logger.Error("recipient delivery handoff failed", "item_id", item.ID.String(), "error", err)
		}
		s.metrics.ItemsDelivered.Inc()
		s.audit.Record(ctx, audit.Event{
			Kind:           audit.KindItemDelivered,
			EntityRef:      item.ID.String(),
			OwnerID:        item.OwnerID,
			ResultingState: string(vault.StateDelivered),
			Detail:         string(item.Trigger.Kind),
			OccurredAt:     now,
		})
	}
	return delivered, nil
}

func (s *Scheduler) due(ctx context.Context, item vault.Item, now time.Time) (bool, error) {
	switch item.Trigger.Kind {
	case vault.TriggerOnDate:
		return !now.Before(item.Trigger.At), nil
	case vault.TriggerOnEvent:
		return s.events.Has(ctx, item.OwnerID, item.Trigger.Event)
	default:
		return false, nil
	}
}

// Run evaluates triggers on a fixed tick until the context is canceled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.EvaluateDeliveryTriggers(ctx); err != nil {
				s.logger.Error("delivery evaluation run failed", "error", err)
			}
		}
	}
}
