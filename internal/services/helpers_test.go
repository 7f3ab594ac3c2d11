package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/shopsense/internal/catalog"
	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/storage"
	"github.com/temcen/shopsense/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load("", validator.New())
	require.NoError(t, err)
	return cat
}

func catalogOf(t *testing.T, products ...models.Product) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(products, validator.New())
	require.NoError(t, err)
	return cat
}

func productIDs(products []models.Product) []string {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids
}

func testRecommendationConfig() config.RecommendationConfig {
	return config.RecommendationConfig{DefaultCount: 4, MaxCount: 50, RemoteCacheTTL: time.Minute}
}

// failingStore fails every operation.
type failingStore struct {
	err error
}

func (f failingStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, f.err }
func (f failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return f.err
}
func (f failingStore) Delete(ctx context.Context, key string) error { return f.err }
func (f failingStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	return nil, f.err
}
func (f failingStore) Ping(ctx context.Context) error { return f.err }
func (f failingStore) Close() error                   { return nil }

var _ storage.Store = failingStore{}

type MockSink struct {
	mock.Mock
	name string
}

func (m *MockSink) Name() string { return m.name }

func (m *MockSink) Deliver(ctx context.Context, payload models.InteractionPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

type MockRemoteRecommender struct {
	mock.Mock
}

func (m *MockRemoteRecommender) FetchRecommendations(ctx context.Context, req models.RemoteRecommendationRequest) (*models.RemoteRecommendationResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*models.RemoteRecommendationResponse)
	return resp, args.Error(1)
}

type MockGeolocator struct {
	mock.Mock
}

func (m *MockGeolocator) Locate(ctx context.Context, signals Signals) (*models.Coordinates, error) {
	args := m.Called(ctx, signals)
	coords, _ := args.Get(0).(*models.Coordinates)
	return coords, args.Error(1)
}

// blockingGeolocator never answers before ctx is done.
type blockingGeolocator struct{}

func (blockingGeolocator) Locate(ctx context.Context, signals Signals) (*models.Coordinates, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
