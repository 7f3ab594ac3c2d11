package services

import (
	"context"

	"github.com/temcen/shopsense/pkg/models"
)

// RemoteRecommender is the external recommendation backend.
type RemoteRecommender interface {
	FetchRecommendations(ctx context.Context, req models.RemoteRecommendationRequest) (*models.RemoteRecommendationResponse, error)
}

// EventSink receives every tracked interaction. Implementations make one
// delivery attempt and report failure; they never retry.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, payload models.InteractionPayload) error
}

// Geolocator resolves the visitor's position from the signals the client
// sent. It must honour ctx cancellation.
type Geolocator interface {
	Locate(ctx context.Context, signals Signals) (*models.Coordinates, error)
}

// IdentityVerifier turns an identity-provider token into a user id.
type IdentityVerifier interface {
	Enabled() bool
	VerifyIdentityToken(token string) (string, error)
}
