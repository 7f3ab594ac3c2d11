package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/storage"
	"github.com/temcen/shopsense/internal/validation"
	"github.com/temcen/shopsense/pkg/models"
)

func testSessionConfig() *config.Config {
	return &config.Config{
		Context:        config.ContextConfig{GeolocationTimeout: 50 * time.Millisecond, DefaultTimezone: "UTC"},
		Session:        config.SessionConfig{IdleTTL: 30 * time.Minute},
		Recommendation: testRecommendationConfig(),
	}
}

func newTestSessionManager(t *testing.T, store storage.Store, sinks ...EventSink) *SessionManager {
	t.Helper()
	schemas, err := validation.NewDefaultSchemaValidator()
	require.NoError(t, err)

	cat := testCatalog(t)
	cfg := testSessionConfig()
	engine := NewRecommendationEngine(cat, nil, nil, cfg.Recommendation, testLogger())
	tracker := NewEventTracker(testLogger(), 0, sinks...)

	m := NewSessionManager(store, schemas, NewSignalGeolocator(nil), engine, tracker, cat, cfg, testLogger())
	t.Cleanup(m.Close)
	return m
}

func acceptingSink() *MockSink {
	sink := &MockSink{name: "http"}
	sink.On("Deliver", mock.Anything, mock.Anything).Return(nil)
	return sink
}

func TestSession_TrackingUpdatesProfile(t *testing.T) {
	sink := acceptingSink()
	m := newTestSessionManager(t, storage.NewMemoryStore(0), sink)
	s := m.Get(context.Background(), "visitor-1", &Signals{UserAgent: "iPhone"})

	assert.Equal(t, models.TrackDelivered, s.TrackView(context.Background(), "3", nil).Status)
	s.TrackAddToCart(context.Background(), "5", 1, nil)
	s.TrackAddToCart(context.Background(), "10", 1, nil)
	s.TrackRemoveFromCart(context.Background(), "10", nil)
	s.TrackSearch(context.Background(), "sneakers", 2, nil)
	s.TrackPageView(context.Background(), "/shoes", nil)
	s.TrackPurchase(context.Background(), "order-1", []models.PurchaseItem{{ProductID: "5", Quantity: 1, Price: 89.99}}, 89.99, nil)
	s.TrackClick(context.Background(), "1", nil)

	profile := s.Profile()
	assert.Equal(t, []string{"3"}, profile.ViewedProducts)
	assert.Empty(t, profile.ItemsInCart)
	assert.Equal(t, []string{"5"}, profile.PastPurchases)
	assert.Equal(t, []string{"sneakers"}, profile.SearchQueries)
	assert.Equal(t, []string{"/shoes"}, profile.PagesViewed)

	sink.AssertNumberOfCalls(t, "Deliver", 8)
	sink.AssertCalled(t, "Deliver", mock.Anything, mock.MatchedBy(func(p models.InteractionPayload) bool {
		return p.EventName == "click" && p.ItemID == "10" && p.Metadata["action"] == "remove_from_cart"
	}))
	sink.AssertCalled(t, "Deliver", mock.Anything, mock.MatchedBy(func(p models.InteractionPayload) bool {
		return p.EventName == "view" && p.ItemCategory == "shirts"
	}))
}

func TestSession_ProfileSurvivesNewSession(t *testing.T) {
	store := storage.NewMemoryStore(0)

	first := newTestSessionManager(t, store)
	s := first.Get(context.Background(), "visitor-1", &Signals{})
	s.TrackView(context.Background(), "3", nil)
	userID := s.Context().UserID

	second := newTestSessionManager(t, store)
	again := second.Get(context.Background(), "visitor-1", &Signals{})

	assert.Equal(t, userID, again.Context().UserID)
	assert.False(t, again.Context().IsNewUser)
	assert.Equal(t, []string{"3"}, again.Profile().ViewedProducts)
}

func TestSession_LateVisitorPersistsInFullStore(t *testing.T) {
	const quota = 16 * 1024
	store := storage.NewMemoryStore(quota)
	first := newTestSessionManager(t, store)

	for i := 0; i < 200; i++ {
		s := first.Get(context.Background(), fmt.Sprintf("visitor-%03d", i), &Signals{})
		s.TrackView(context.Background(), "1", nil)
		s.TrackView(context.Background(), "3", nil)
	}
	require.Greater(t, store.Used(), quota)

	late := first.Get(context.Background(), "visitor-late", &Signals{})
	late.TrackView(context.Background(), "5", nil)
	userID := late.Context().UserID

	second := newTestSessionManager(t, store)
	again := second.Get(context.Background(), "visitor-late", &Signals{})

	assert.Equal(t, userID, again.Context().UserID)
	assert.False(t, again.Context().IsNewUser)
	assert.Equal(t, []string{"5"}, again.Profile().ViewedProducts)
}

func TestSession_VisitorsAreIsolated(t *testing.T) {
	m := newTestSessionManager(t, storage.NewMemoryStore(0))

	a := m.Get(context.Background(), "visitor-a", &Signals{})
	b := m.Get(context.Background(), "visitor-b", &Signals{})
	a.TrackView(context.Background(), "1", nil)

	assert.NotEqual(t, a.Context().SessionID, b.Context().SessionID)
	assert.Empty(t, b.Profile().ViewedProducts)
}

func TestSession_Recommendations(t *testing.T) {
	m := newTestSessionManager(t, storage.NewMemoryStore(0))
	s := m.Get(context.Background(), "visitor-1", &Signals{})
	s.TrackView(context.Background(), "5", nil)

	result := s.Recommendations(context.Background(), models.RecommendationOptions{
		MaxRecommendations: 2,
		ExcludeViewed:      true,
	})
	assert.Equal(t, models.SourceLocal, result.Source)
	assert.Equal(t, []string{"10"}, productIDs(result.Products)[:1])
	assert.NotContains(t, productIDs(result.Products), "5")

	similar := s.ProductRecommendations(context.Background(), "5", models.DefaultRecommendationOptions())
	assert.Equal(t, "10", similar.Products[0].ID)
	assert.NotContains(t, productIDs(similar.Products), "5")

	assert.Equal(t, []string{"5"}, productIDs(s.RecentlyViewed(5, "")))
	assert.Len(t, s.Trending(3, ""), 3)
}

func TestSession_LoginWithoutMigration(t *testing.T) {
	sink := acceptingSink()
	m := newTestSessionManager(t, storage.NewMemoryStore(0), sink)
	s := m.Get(context.Background(), "visitor-1", &Signals{})
	s.TrackView(context.Background(), "3", nil)

	uc, result := s.Login(context.Background(), "user-1", "password", false)

	assert.Equal(t, "user-1", uc.UserID)
	assert.True(t, uc.Authenticated)
	assert.Equal(t, models.TrackDelivered, result.Status)
	assert.Empty(t, s.Profile().ViewedProducts)
	sink.AssertCalled(t, "Deliver", mock.Anything, mock.MatchedBy(func(p models.InteractionPayload) bool {
		return p.EventName == "login" && p.UserID == "user-1" && p.Metadata["method"] == "password"
	}))
}

func TestSession_LoginWithMigrationThenLogout(t *testing.T) {
	store := storage.NewMemoryStore(0)
	m := newTestSessionManager(t, store)
	s := m.Get(context.Background(), "visitor-1", &Signals{})
	s.TrackView(context.Background(), "3", nil)

	s.Login(context.Background(), "user-1", "token", true)
	assert.Equal(t, []string{"3"}, s.Profile().ViewedProducts)
	s.TrackAddToCart(context.Background(), "6", 1, nil)

	uc := s.Logout(context.Background())
	assert.False(t, uc.Authenticated)
	assert.True(t, strings.HasPrefix(uc.UserID, anonymousUserPrefix))
	assert.Empty(t, s.Profile().ViewedProducts)
	assert.Empty(t, s.Profile().ItemsInCart)

	// logging back in restores the user's stored profile
	s.Login(context.Background(), "user-1", "token", false)
	assert.Equal(t, []string{"6"}, s.Profile().ItemsInCart)
}

func TestSession_SetPreferences(t *testing.T) {
	m := newTestSessionManager(t, storage.NewMemoryStore(0))
	s := m.Get(context.Background(), "visitor-1", &Signals{})

	profile, err := s.SetPreferences(context.Background(), []string{"shoes"}, &models.PriceRange{Min: 0, Max: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"shoes"}, profile.PreferredCategories)

	result := s.Recommendations(context.Background(), models.DefaultRecommendationOptions())
	assert.Equal(t, []string{"5"}, productIDs(result.Products))

	_, err = s.SetPreferences(context.Background(), nil, &models.PriceRange{Min: 10, Max: 1})
	assert.ErrorIs(t, err, models.ErrInvalidPriceRange)
}

func TestSession_StorageUnavailable(t *testing.T) {
	sink := acceptingSink()
	m := newTestSessionManager(t, failingStore{err: storage.ErrUnavailable}, sink)

	s := m.Get(context.Background(), "visitor-1", &Signals{})
	result := s.TrackView(context.Background(), "1", nil)

	assert.True(t, strings.HasPrefix(s.Context().SessionID, temporaryIDPrefix))
	assert.Equal(t, []string{"1"}, s.Profile().ViewedProducts)
	assert.Equal(t, models.TrackDelivered, result.Status)
}

func TestSessionManager_LookupAndSweep(t *testing.T) {
	m := newTestSessionManager(t, storage.NewMemoryStore(0))

	_, err := m.Lookup("visitor-1")
	assert.ErrorIs(t, err, ErrSessionNotStarted)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale := m.Get(context.Background(), "visitor-1", nil)
	found, err := m.Lookup("visitor-1")
	require.NoError(t, err)
	assert.Same(t, stale, found)

	now = now.Add(20 * time.Minute)
	m.Get(context.Background(), "visitor-2", nil)

	now = now.Add(15 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())

	_, err = m.Lookup("visitor-1")
	assert.ErrorIs(t, err, ErrSessionNotStarted)
	_, err = m.Lookup("visitor-2")
	assert.NoError(t, err)
}

func TestSessionManager_GetReusesSession(t *testing.T) {
	m := newTestSessionManager(t, storage.NewMemoryStore(0))

	first := m.Get(context.Background(), "visitor-1", &Signals{UserAgent: "iPhone"})
	second := m.Get(context.Background(), "visitor-1", nil)

	assert.Same(t, first, second)
	assert.Equal(t, models.DeviceMobile, second.Context().DeviceType)
}
