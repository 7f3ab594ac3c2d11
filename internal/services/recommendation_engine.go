package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/catalog"
	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/metrics"
	"github.com/temcen/shopsense/internal/storage"
	"github.com/temcen/shopsense/pkg/models"
)

const remoteCacheKeyPrefix = "recommendations:"

// RecommendationEngine asks the remote recommender first and ranks the local
// catalog when that is not possible. It never returns an error: the Source
// and FallbackReason of the result say which path answered.
type RecommendationEngine struct {
	catalog  *catalog.Catalog
	local    *localRanker
	remote   RemoteRecommender
	cache    storage.Store
	cacheTTL time.Duration
	maxCount int
	logger   *logrus.Logger
	now      func() time.Time
}

// NewRecommendationEngine builds an engine over cat. remote and cache may be
// nil; without remote every result is computed locally.
func NewRecommendationEngine(cat *catalog.Catalog, remote RemoteRecommender, cache storage.Store, cfg config.RecommendationConfig, logger *logrus.Logger) *RecommendationEngine {
	return &RecommendationEngine{
		catalog:  cat,
		local:    &localRanker{catalog: cat},
		remote:   remote,
		cache:    cache,
		cacheTTL: cfg.RemoteCacheTTL,
		maxCount: cfg.MaxCount,
		logger:   logger,
		now:      defaultNow,
	}
}

func (e *RecommendationEngine) Recommend(ctx context.Context, req *models.RecommendationRequest) *models.RecommendationResult {
	opts := e.normalizeOptions(req.Options)

	mode := "personalized"
	if req.TargetProductID != "" {
		mode = "similar"
	}

	result := &models.RecommendationResult{
		RecommendationID: uuid.New(),
		GeneratedAt:      e.now(),
		Products:         []models.Product{},
	}

	if opts.MaxRecommendations == 0 {
		result.Source = models.SourceEmpty
		metrics.RecommendationResults.WithLabelValues(string(result.Source), mode).Inc()
		return result
	}

	// Try the remote recommender first
	var fallbackReason string
	if e.remote != nil {
		products, err := e.fetchRemote(ctx, req, opts)
		if err == nil {
			result.Products = finalize(products, req.TargetProductID, opts.MaxRecommendations)
			if len(result.Products) > 0 {
				result.Source = models.SourceRemote
				metrics.RecommendationResults.WithLabelValues(string(result.Source), mode).Inc()
				return result
			}
			err = fmt.Errorf("remote returned no usable products")
		}

		fallbackReason = err.Error()
		e.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    req.Context.UserID,
			"target":     req.TargetProductID,
			"session_id": req.Context.SessionID,
		}).Warn("Remote recommendations unavailable, using local ranking")
	}

	// Local ranking
	result.Products = e.local.rank(req, opts)
	switch {
	case len(result.Products) == 0:
		result.Source = models.SourceEmpty
	case fallbackReason != "":
		result.Source = models.SourceLocalFallback
	default:
		result.Source = models.SourceLocal
	}
	result.FallbackReason = fallbackReason

	metrics.RecommendationResults.WithLabelValues(string(result.Source), mode).Inc()
	return result
}

// Trending returns the most popular products, optionally within one category.
func (e *RecommendationEngine) Trending(limit int, category string) []models.Product {
	var candidates []models.Product
	if category != "" {
		candidates = e.catalog.ByCategory(category)
	} else {
		candidates = e.catalog.All()
	}

	sortProducts(candidates, models.SortPopularity, nil)
	return finalize(candidates, "", e.clampLimit(limit))
}

// RecentlyViewed returns viewed products, most recent first, each once.
func (e *RecommendationEngine) RecentlyViewed(profile *models.BehavioralProfile, limit int, excludeID string) []models.Product {
	limit = e.clampLimit(limit)
	out := []models.Product{}
	if profile == nil || limit == 0 {
		return out
	}

	seen := make(map[string]bool)
	for i := len(profile.ViewedProducts) - 1; i >= 0 && len(out) < limit; i-- {
		id := profile.ViewedProducts[i]
		if id == excludeID || seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := e.catalog.Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *RecommendationEngine) normalizeOptions(opts models.RecommendationOptions) models.RecommendationOptions {
	opts.MaxRecommendations = e.clampLimit(opts.MaxRecommendations)
	if _, ok := models.ParseSortBy(string(opts.SortBy)); !ok {
		opts.SortBy = models.SortRelevance
	}
	if opts.PriceRange != nil && opts.PriceRange.Validate() != nil {
		opts.PriceRange = nil
	}
	return opts
}

func (e *RecommendationEngine) clampLimit(n int) int {
	if n < 0 {
		return 0
	}
	if e.maxCount > 0 && n > e.maxCount {
		return e.maxCount
	}
	return n
}

func (e *RecommendationEngine) fetchRemote(ctx context.Context, req *models.RecommendationRequest, opts models.RecommendationOptions) ([]models.Product, error) {
	userID := req.Context.UserID
	if userID == "" {
		userID = req.Context.SessionID
	}

	// Check cache first
	cacheKey := e.cacheKey(userID, req.TargetProductID, opts)
	if cached, ok := e.readCache(ctx, cacheKey); ok {
		return cached, nil
	}

	resp, err := e.remote.FetchRecommendations(ctx, models.RemoteRecommendationRequest{
		UserID:          userID,
		Context:         req.Context,
		Limit:           opts.MaxRecommendations,
		TargetProductID: req.TargetProductID,
	})
	if err != nil {
		return nil, err
	}
	if resp.Empty() {
		return nil, fmt.Errorf("remote returned no products")
	}

	// Resolve scored ids against the catalog
	products := append([]models.Product(nil), resp.Products...)
	for _, scored := range resp.Scored {
		if p, ok := e.catalog.Get(scored.ProductID); ok {
			products = append(products, p)
		}
	}

	e.writeCache(ctx, cacheKey, products)
	return products, nil
}

func (e *RecommendationEngine) cacheKey(userID, target string, opts models.RecommendationOptions) string {
	categories := slices.Clone(opts.PreferredCategories)
	slices.Sort(categories)
	fingerprint := fmt.Sprintf("%d|%s|%t|%t|%v|%s",
		opts.MaxRecommendations, opts.SortBy, opts.ExcludeViewed, opts.ExcludePurchased,
		opts.PriceRange, strings.Join(categories, ","))
	sum := sha1.Sum([]byte(fingerprint))
	return fmt.Sprintf("%s%s:%s:%s", remoteCacheKeyPrefix, userID, target, hex.EncodeToString(sum[:8]))
}

func (e *RecommendationEngine) readCache(ctx context.Context, key string) ([]models.Product, bool) {
	if e.cache == nil || e.cacheTTL <= 0 {
		return nil, false
	}
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var products []models.Product
	if err := json.Unmarshal(data, &products); err != nil || len(products) == 0 {
		return nil, false
	}
	return products, true
}

func (e *RecommendationEngine) writeCache(ctx context.Context, key string, products []models.Product) {
	if e.cache == nil || e.cacheTTL <= 0 || len(products) == 0 {
		return
	}
	data, err := json.Marshal(products)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		e.logger.WithError(err).WithField("key", key).Debug("Failed to cache remote recommendations")
	}
}
