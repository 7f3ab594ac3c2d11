package models

import (
	"time"

	"github.com/google/uuid"
)

type SortBy string

const (
	SortRelevance  SortBy = "relevance"
	SortPriceAsc   SortBy = "price_asc"
	SortPriceDesc  SortBy = "price_desc"
	SortPopularity SortBy = "popularity"
	SortRating     SortBy = "rating"
	SortNewest     SortBy = "newest"
)

func ParseSortBy(s string) (SortBy, bool) {
	switch v := SortBy(s); v {
	case SortRelevance, SortPriceAsc, SortPriceDesc, SortPopularity, SortRating, SortNewest:
		return v, true
	}
	return SortRelevance, false
}

const DefaultMaxRecommendations = 4

type RecommendationOptions struct {
	MaxRecommendations  int         `json:"max_recommendations" validate:"gte=0,lte=100"`
	PreferredCategories []string    `json:"preferred_categories,omitempty"`
	ExcludeViewed       bool        `json:"exclude_viewed"`
	ExcludePurchased    bool        `json:"exclude_purchased"`
	PriceRange          *PriceRange `json:"price_range,omitempty"`
	SortBy              SortBy      `json:"sort_by"`
}

func DefaultRecommendationOptions() RecommendationOptions {
	return RecommendationOptions{
		MaxRecommendations: DefaultMaxRecommendations,
		SortBy:             SortRelevance,
	}
}

type RecommendationRequest struct {
	TargetProductID string                `json:"target_product_id,omitempty"`
	Context         UserContext           `json:"context"`
	Profile         *BehavioralProfile    `json:"profile,omitempty"`
	Options         RecommendationOptions `json:"options"`
}

// RecommendationSource says which path produced a result.
type RecommendationSource string

const (
	SourceRemote        RecommendationSource = "remote"
	SourceLocal         RecommendationSource = "local"
	SourceLocalFallback RecommendationSource = "local_fallback"
	SourceEmpty         RecommendationSource = "empty"
)

type RecommendationResult struct {
	RecommendationID uuid.UUID            `json:"recommendation_id"`
	Products         []Product            `json:"products"`
	Source           RecommendationSource `json:"source"`
	FallbackReason   string               `json:"fallback_reason,omitempty"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// ScoredRecommendation is the record shape some remote recommenders return
// instead of full products.
type ScoredRecommendation struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason,omitempty"`
}

// RemoteRecommendationRequest carries what the remote recommender is told
// about the visitor.
type RemoteRecommendationRequest struct {
	UserID          string      `json:"user_id"`
	Context         UserContext `json:"-"`
	Limit           int         `json:"limit"`
	TargetProductID string      `json:"product_id,omitempty"`
}

// RemoteRecommendationResponse holds whichever of the two accepted shapes the
// remote returned.
type RemoteRecommendationResponse struct {
	Products []Product
	Scored   []ScoredRecommendation
}

func (r *RemoteRecommendationResponse) Empty() bool {
	return r == nil || (len(r.Products) == 0 && len(r.Scored) == 0)
}
