package handlers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/services"
	"github.com/temcen/shopsense/pkg/models"
)

type RecommendationHandler struct {
	sessions *services.SessionManager
	cfg      config.RecommendationConfig
	logger   *logrus.Logger
}

func NewRecommendationHandler(sessions *services.SessionManager, cfg config.RecommendationConfig, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

type ProductListResponse struct {
	Products []models.Product `json:"products"`
	Count    int              `json:"count"`
}

// Personalized ranks for the visitor's context and profile.
func (h *RecommendationHandler) Personalized(c *gin.Context) {
	opts, code, err := h.parseOptions(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, code, err.Error())
		return
	}

	result := sessionFor(c, h.sessions).Recommendations(c.Request.Context(), opts)
	c.JSON(http.StatusOK, result)
}

func (h *RecommendationHandler) ForProduct(c *gin.Context) {
	productID := strings.TrimSpace(c.Param("productId"))
	if productID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PRODUCT_ID", "Product id is required")
		return
	}

	opts, code, err := h.parseOptions(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, code, err.Error())
		return
	}

	result := sessionFor(c, h.sessions).ProductRecommendations(c.Request.Context(), productID, opts)
	c.JSON(http.StatusOK, result)
}

func (h *RecommendationHandler) Trending(c *gin.Context) {
	count, err := h.parseCount(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_COUNT", err.Error())
		return
	}

	products := sessionFor(c, h.sessions).Trending(count, c.Query("category"))
	c.JSON(http.StatusOK, ProductListResponse{Products: products, Count: len(products)})
}

func (h *RecommendationHandler) RecentlyViewed(c *gin.Context) {
	count, err := h.parseCount(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_COUNT", err.Error())
		return
	}

	products := sessionFor(c, h.sessions).RecentlyViewed(count, c.Query("exclude"))
	c.JSON(http.StatusOK, ProductListResponse{Products: products, Count: len(products)})
}

func (h *RecommendationHandler) parseCount(c *gin.Context) (int, error) {
	countStr := c.Query("count")
	if countStr == "" {
		return h.cfg.DefaultCount, nil
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 0 {
		return 0, fmt.Errorf("count must be a non-negative integer")
	}
	return count, nil
}

// parseOptions reads count, sort, categories, min_price, max_price,
// exclude_viewed and exclude_purchased.
func (h *RecommendationHandler) parseOptions(c *gin.Context) (models.RecommendationOptions, string, error) {
	opts := models.DefaultRecommendationOptions()

	count, err := h.parseCount(c)
	if err != nil {
		return opts, "INVALID_COUNT", err
	}
	opts.MaxRecommendations = count

	// Parse sort
	if sortStr := c.Query("sort"); sortStr != "" {
		sortBy, ok := models.ParseSortBy(sortStr)
		if !ok {
			return opts, "INVALID_SORT", fmt.Errorf("unknown sort %q", sortStr)
		}
		opts.SortBy = sortBy
	}

	// Parse categories filter
	if categoriesStr := c.Query("categories"); categoriesStr != "" {
		for _, category := range strings.Split(categoriesStr, ",") {
			if category = strings.TrimSpace(category); category != "" {
				opts.PreferredCategories = append(opts.PreferredCategories, category)
			}
		}
	}

	// Parse price range
	minStr, maxStr := c.Query("min_price"), c.Query("max_price")
	if minStr != "" || maxStr != "" {
		priceRange := &models.PriceRange{Min: 0, Max: math.MaxFloat64}
		if minStr != "" {
			if priceRange.Min, err = strconv.ParseFloat(minStr, 64); err != nil {
				return opts, "INVALID_PRICE_RANGE", fmt.Errorf("min_price must be a number")
			}
		}
		if maxStr != "" {
			if priceRange.Max, err = strconv.ParseFloat(maxStr, 64); err != nil {
				return opts, "INVALID_PRICE_RANGE", fmt.Errorf("max_price must be a number")
			}
		}
		if err := priceRange.Validate(); err != nil {
			return opts, "INVALID_PRICE_RANGE", err
		}
		opts.PriceRange = priceRange
	}

	opts.ExcludeViewed = c.Query("exclude_viewed") == "true"
	opts.ExcludePurchased = c.Query("exclude_purchased") == "true"

	return opts, "", nil
}
