package alerts

import (
	"context"
	"fmt"
	"log"
	"net/url"

	svix "github.com/svix/svix-webhooks/go"
	"github.com/svix/svix-webhooks/go/models"

	"github.com/google/uuid"
)

// SvixDelivery implements Delivery over the Svix Go SDK, adapted from the
// teacher's SvixClient down to the one operation this package needs:
// dispatching a message to every endpoint already registered under an
// application.
type SvixDelivery struct {
	client *svix.Svix
}

var _ Delivery = (*SvixDelivery)(nil)

// NewSvixDelivery returns a SvixDelivery using the Svix cloud endpoint, or
// serverURL if non-empty (self-hosted Svix).
func NewSvixDelivery(authToken, serverURL string) (*SvixDelivery, error) {
	var opts *svix.SvixOptions
	if serverURL != "" {
		u, err := url.Parse(serverURL)
		if err != nil {
			return nil, fmt.Errorf("parse svix server url: %w", err)
		}
		opts = &svix.SvixOptions{ServerUrl: u}
	}

	client, err := svix.New(authToken, opts)
	if err != nil {
		return nil, fmt.Errorf("create svix client: %w", err)
	}
	return &SvixDelivery{client: client}, nil
}

// SendMessage dispatches one event through Svix, tagged with a freshly
// generated event id so retried deliveries of the same underlying condition
// (e.g. a range reaching the fail threshold again after a completion reset
// its count) are not
// treated as duplicates of an earlier one with a different id.
func (s *SvixDelivery) SendMessage(ctx context.Context, appID, eventType string, payload map[string]interface{}) error {
	eventID := uuid.NewString()
	msg, err := s.client.Message.Create(ctx, appID, models.MessageIn{
		EventType: eventType,
		EventId:   &eventID,
		Payload:   payload,
	}, nil)
	if err != nil {
		return fmt.Errorf("svix send message: %w", err)
	}
	log.Printf("[alerts/svix] delivered: id=%s app=%s type=%s", msg.Id, appID, eventType)
	return nil
}

// NoopDelivery logs alerts instead of delivering them, used when no webhook
// endpoint is configured.
type NoopDelivery struct{}

var _ Delivery = (*NoopDelivery)(nil)

func (NoopDelivery) SendMessage(_ context.Context, appID, eventType string, payload map[string]interface{}) error {
	log.Printf("[alerts/noop] %s -> app=%s payload=%v", eventType, appID, payload)
	return nil
}
