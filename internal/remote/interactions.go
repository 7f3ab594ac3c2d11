package remote

import (
	"context"
	"net/http"

	"github.com/temcen/shopsense/pkg/models"
)

// InteractionSender posts tracked events to the remote interactions
// collector. Delivery is best effort: one attempt, no retry.
type InteractionSender struct {
	client *Client
}

func NewInteractionSender(client *Client) *InteractionSender {
	return &InteractionSender{client: client}
}

func (s *InteractionSender) Name() string { return "http" }

func (s *InteractionSender) Deliver(ctx context.Context, payload models.InteractionPayload) error {
	_, err := s.client.Do(ctx, http.MethodPost, "/interactions", nil, payload)
	return err
}
