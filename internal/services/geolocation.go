package services

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/temcen/shopsense/pkg/models"
)

var (
	ErrGeolocationDenied      = errors.New("geolocation permission denied")
	ErrGeolocationUnavailable = errors.New("geolocation unavailable")
)

// SignalGeolocator uses the coordinates the client reported, if it reported
// valid ones.
type SignalGeolocator struct {
	validate *validator.Validate
}

func NewSignalGeolocator(validate *validator.Validate) *SignalGeolocator {
	if validate == nil {
		validate = validator.New()
	}
	return &SignalGeolocator{validate: validate}
}

func (g *SignalGeolocator) Locate(ctx context.Context, signals Signals) (*models.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if signals.GeolocationDenied {
		return nil, ErrGeolocationDenied
	}
	if signals.Coordinates == nil {
		return nil, ErrGeolocationUnavailable
	}
	if err := g.validate.Struct(signals.Coordinates); err != nil {
		return nil, errors.Join(ErrGeolocationUnavailable, err)
	}

	coords := *signals.Coordinates
	return &coords, nil
}
