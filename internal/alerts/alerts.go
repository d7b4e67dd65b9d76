// Package alerts reports range failures and reorgs to an operator-configured
// webhook endpoint. It never resolves either condition (spec.md §7/§9) — it
// only gives visibility into conditions the system already handles on its
// own (repeated fail() cycling, the reorg sentinel).
package alerts

import (
	"context"
	"log"

	"github.com/chainforge/evm-indexer/internal/eventbus"
	"github.com/google/uuid"
)

// Delivery is the subset of the teacher's WebhookDelivery interface this
// package needs: a single application already provisioned out of band, one
// event type dispatched to every endpoint registered under it.
type Delivery interface {
	SendMessage(ctx context.Context, appID, eventType string, payload map[string]interface{}) error
}

// RangeFailedPayload is the JSON body of a range.failed event.
type RangeFailedPayload struct {
	Range     string `json:"range"`
	FailCount int64  `json:"fail_count"`
}

// ReorgDetectedPayload is the JSON body of a reorg.detected event.
type ReorgDetectedPayload struct {
	Range string `json:"range"`
	Error string `json:"error"`
}

// Notifier subscribes to the worker's event bus and turns range.failed
// events (past a configurable threshold) and reorg.detected events into
// webhook deliveries.
type Notifier struct {
	delivery  Delivery
	appID     string
	threshold int64
}

// NewNotifier returns a Notifier that delivers through delivery under
// application appID, alerting on a range.failed event once its cumulative
// fail count first reaches threshold (spec.md §9's second Open Question:
// ALERT_FAILURE_THRESHOLD, default 10).
func NewNotifier(delivery Delivery, appID string, threshold int) *Notifier {
	if threshold <= 0 {
		threshold = 10
	}
	return &Notifier{delivery: delivery, appID: appID, threshold: int64(threshold)}
}

// Run drains range.failed and reorg.detected events from bus until ctx is
// cancelled. Each event type gets its own buffered channel, so a burst of
// one kind does not fill the other's buffer. Deliveries run one at a time
// on this goroutine, so a slow delivery delays events of both kinds.
func (n *Notifier) Run(ctx context.Context, bus *eventbus.Bus) {
	failed := make(chan eventbus.Event, 64)
	reorgs := make(chan eventbus.Event, 64)
	bus.Subscribe("range.failed", failed)
	bus.Subscribe("reorg.detected", reorgs)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-failed:
			n.handleRangeFailed(ctx, evt)
		case evt := <-reorgs:
			n.handleReorgDetected(ctx, evt)
		}
	}
}

func (n *Notifier) handleRangeFailed(ctx context.Context, evt eventbus.Event) {
	payload, ok := evt.Data.(RangeFailedPayload)
	if !ok || payload.FailCount != n.threshold {
		return // only alert once, exactly at the threshold crossing
	}
	body := map[string]interface{}{
		"range":      payload.Range,
		"fail_count": payload.FailCount,
		"event_id":   uuid.NewString(),
	}
	if err := n.delivery.SendMessage(ctx, n.appID, "range.failed", body); err != nil {
		log.Printf("[alerts] failed to deliver range.failed for %s: %v", payload.Range, err)
	}
}

func (n *Notifier) handleReorgDetected(ctx context.Context, evt eventbus.Event) {
	payload, ok := evt.Data.(ReorgDetectedPayload)
	if !ok {
		return
	}
	body := map[string]interface{}{
		"range":    payload.Range,
		"error":    payload.Error,
		"event_id": uuid.NewString(),
	}
	if err := n.delivery.SendMessage(ctx, n.appID, "reorg.detected", body); err != nil {
		log.Printf("[alerts] failed to deliver reorg.detected for %s: %v", payload.Range, err)
	}
}
