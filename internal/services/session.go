package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/catalog"
	"github.com/temcen/shopsense/pkg/models"
)

// Session is the personalization service for one visitor. It owns the
// visitor's context and profile and shares the engine, tracker and catalog
// with every other session.
type Session struct {
	visitorKey string
	context    *ContextBuilder
	profiles   *ProfileStore
	engine     *RecommendationEngine
	tracker    *EventTracker
	catalog    *catalog.Catalog
	logger     *logrus.Logger
	now        func() time.Time

	mu          sync.Mutex
	started     bool
	lastSeen    time.Time
	baseCtx     context.Context
	cancel      context.CancelFunc
	watchCancel context.CancelFunc
}

func newSession(visitorKey string, cb *ContextBuilder, ps *ProfileStore, engine *RecommendationEngine, tracker *EventTracker, cat *catalog.Catalog, logger *logrus.Logger) *Session {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Session{
		visitorKey: visitorKey,
		context:    cb,
		profiles:   ps,
		engine:     engine,
		tracker:    tracker,
		catalog:    cat,
		logger:     logger,
		now:        time.Now,
		lastSeen:   time.Now(),
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
}

func (s *Session) VisitorKey() string { return s.visitorKey }

// Start samples the visitor's signals, loads the stored profile for the
// resulting user id and begins following profile writes made elsewhere.
// Calling Start again re-samples the context.
func (s *Session) Start(ctx context.Context, signals Signals) models.UserContext {
	uc := s.context.Initialize(ctx, signals)
	// Profile is keyed by the resolved user id
	s.profiles.Load(ctx, uc.UserID)

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.restartWatch()
	s.touch()
	return uc
}

func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) Context() models.UserContext {
	s.touch()
	return s.context.GetContext()
}

func (s *Session) UpdateContext(update models.ContextUpdate) models.UserContext {
	s.touch()
	return s.context.UpdateContext(update)
}

func (s *Session) Profile() *models.BehavioralProfile {
	s.touch()
	return s.profiles.Snapshot()
}

// SetPreferences stores explicit preferences and persists the profile.
func (s *Session) SetPreferences(ctx context.Context, categories []string, priceRange *models.PriceRange) (*models.BehavioralProfile, error) {
	s.touch()
	if err := s.profiles.SetPreferences(categories, priceRange); err != nil {
		return nil, err
	}
	_ = s.profiles.Persist(ctx)
	return s.profiles.Snapshot(), nil
}

func (s *Session) Recommendations(ctx context.Context, opts models.RecommendationOptions) *models.RecommendationResult {
	return s.recommend(ctx, "", opts)
}

func (s *Session) ProductRecommendations(ctx context.Context, productID string, opts models.RecommendationOptions) *models.RecommendationResult {
	return s.recommend(ctx, productID, opts)
}

func (s *Session) recommend(ctx context.Context, targetID string, opts models.RecommendationOptions) *models.RecommendationResult {
	s.touch()
	return s.engine.Recommend(ctx, &models.RecommendationRequest{
		TargetProductID: targetID,
		Context:         s.context.GetContext(),
		Profile:         s.profiles.Snapshot(),
		Options:         opts,
	})
}

func (s *Session) Trending(limit int, category string) []models.Product {
	s.touch()
	return s.engine.Trending(limit, category)
}

func (s *Session) RecentlyViewed(limit int, excludeID string) []models.Product {
	s.touch()
	return s.engine.RecentlyViewed(s.profiles.Snapshot(), limit, excludeID)
}

// The Track methods update the profile first, persist it, then report the
// interaction. A tracking failure does not undo the profile change.

func (s *Session) TrackView(ctx context.Context, productID string, props map[string]interface{}) models.TrackResult {
	s.profiles.RecordView(productID)
	s.persist(ctx)
	return s.tracker.ViewItem(ctx, s.context.GetContext(), productID, s.categoryOf(productID), props)
}

func (s *Session) TrackClick(ctx context.Context, productID string, props map[string]interface{}) models.TrackResult {
	s.touch()
	return s.tracker.ClickItem(ctx, s.context.GetContext(), productID, s.categoryOf(productID), props)
}

func (s *Session) TrackAddToCart(ctx context.Context, productID string, quantity int, props map[string]interface{}) models.TrackResult {
	s.profiles.RecordCartChange(productID, true)
	s.persist(ctx)
	return s.tracker.AddToCart(ctx, s.context.GetContext(), productID, s.categoryOf(productID), quantity, props)
}

// TrackRemoveFromCart has no event type of its own; it is reported as a
// click with action remove_from_cart.
func (s *Session) TrackRemoveFromCart(ctx context.Context, productID string, props map[string]interface{}) models.TrackResult {
	s.profiles.RecordCartChange(productID, false)
	s.persist(ctx)
	return s.tracker.ClickItem(ctx, s.context.GetContext(), productID, s.categoryOf(productID),
		withProps(props, map[string]interface{}{"action": "remove_from_cart"}))
}

func (s *Session) TrackPurchase(ctx context.Context, orderID string, items []models.PurchaseItem, total float64, props map[string]interface{}) models.TrackResult {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	s.profiles.RecordPurchase(ids)
	s.persist(ctx)
	return s.tracker.Purchase(ctx, s.context.GetContext(), orderID, items, total, props)
}

func (s *Session) TrackSearch(ctx context.Context, query string, resultsCount int, props map[string]interface{}) models.TrackResult {
	s.profiles.RecordSearch(query)
	s.persist(ctx)
	return s.tracker.Search(ctx, s.context.GetContext(), query, resultsCount, props)
}

func (s *Session) TrackPageView(ctx context.Context, path string, props map[string]interface{}) models.TrackResult {
	s.profiles.RecordPageView(path)
	s.persist(ctx)
	return s.tracker.PageView(ctx, s.context.GetContext(), path, props)
}

func (s *Session) TrackSignup(ctx context.Context, method string, props map[string]interface{}) models.TrackResult {
	s.touch()
	return s.tracker.Signup(ctx, s.context.GetContext(), method, props)
}

// Login identifies the visitor as userID and loads that user's profile. The
// anonymous history is carried over only when migrate is set.
func (s *Session) Login(ctx context.Context, userID, method string, migrate bool) (models.UserContext, models.TrackResult) {
	uc := s.context.Identify(ctx, userID)
	s.profiles.SwitchKey(ctx, userID, migrate)
	// Follow the new profile key
	s.restartWatch()
	s.touch()

	s.logger.WithFields(logrus.Fields{
		"visitor":  s.visitorKey,
		"user_id":  userID,
		"migrated": migrate,
	}).Info("Visitor logged in")

	return uc, s.tracker.Login(ctx, uc, method, nil)
}

// Logout keeps the user's stored profile and starts the visitor over with a
// fresh anonymous id and an empty profile.
func (s *Session) Logout(ctx context.Context) models.UserContext {
	// Save the user's profile before switching away
	_ = s.profiles.Persist(ctx)
	uc := s.context.Logout(ctx)
	s.profiles.Reset(uc.UserID)
	_ = s.profiles.Persist(ctx)
	s.restartWatch()
	s.touch()
	return uc
}

// Close stops the profile watch. The session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.watchCancel = nil
}

// LastSeen is the time of the last call made on the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Session) persist(ctx context.Context) {
	s.touch()
	_ = s.profiles.Persist(ctx)
}

func (s *Session) restartWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop the previous watch
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	// closed
	if s.baseCtx.Err() != nil {
		return
	}

	watchCtx, cancel := context.WithCancel(s.baseCtx)
	if err := s.profiles.Watch(watchCtx); err != nil {
		cancel()
		s.logger.WithError(err).WithField("visitor", s.visitorKey).Warn("Profile changes from other holders will not be followed")
		return
	}
	s.watchCancel = cancel
}

func (s *Session) categoryOf(productID string) string {
	if p, ok := s.catalog.Get(productID); ok {
		return p.Category
	}
	return ""
}
