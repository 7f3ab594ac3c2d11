package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/temcen/shopsense/internal/storage"
)

type fakeBreaker struct {
	name  string
	state string
}

func (f fakeBreaker) Name() string  { return f.name }
func (f fakeBreaker) State() string { return f.state }

func TestHealthService_CheckHealth(t *testing.T) {
	tests := []struct {
		name             string
		store            storage.Store
		breakers         []BreakerReporter
		expectedStatus   string
		expectedCritical []string
		expectedDegraded []string
	}{
		{
			name:           "all healthy",
			store:          storage.NewMemoryStore(0),
			breakers:       []BreakerReporter{fakeBreaker{"recommendations", "closed"}},
			expectedStatus: "healthy",
		},
		{
			name:             "open breaker degrades",
			store:            storage.NewMemoryStore(0),
			breakers:         []BreakerReporter{fakeBreaker{"recommendations", "open"}, fakeBreaker{"interactions", "half-open"}},
			expectedStatus:   "degraded",
			expectedDegraded: []string{"remote_recommendations"},
		},
		{
			name:             "store down is critical",
			store:            failingStore{err: storage.ErrUnavailable},
			expectedStatus:   "unhealthy",
			expectedCritical: []string{"storage"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService(testLogger(), tt.store, tt.breakers...)

			status := hs.CheckHealth(context.Background())

			assert.Equal(t, tt.expectedStatus, status.Status)
			assert.Equal(t, tt.expectedCritical, status.Critical)
			assert.Equal(t, tt.expectedDegraded, status.NonCritical)
		})
	}
}
