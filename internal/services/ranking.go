package services

import (
	"sort"

	"github.com/temcen/shopsense/internal/catalog"
	"github.com/temcen/shopsense/pkg/models"
)

// localRanker is the catalog-only recommendation algorithm used when no
// remote recommender is configured or the remote one fails.
type localRanker struct {
	catalog *catalog.Catalog
}

func (r *localRanker) rank(req *models.RecommendationRequest, opts models.RecommendationOptions) []models.Product {
	profile := req.Profile
	if profile == nil {
		profile = &models.BehavioralProfile{}
	}

	target, hasTarget := r.catalog.Get(req.TargetProductID)
	excluded := exclusionSet(profile, opts)

	candidates := make([]models.Product, 0, r.catalog.Len())
	for _, p := range r.catalog.All() {
		if p.ID == req.TargetProductID || excluded[p.ID] {
			continue
		}
		candidates = append(candidates, p)
	}

	affinity := r.affinity(profile, opts, target, hasTarget)

	// Similar products: same category first
	if req.TargetProductID != "" {
		var similar, rest []models.Product
		for _, p := range candidates {
			if hasTarget && catalog.SameCategory(p.Category, target.Category) {
				similar = append(similar, p)
			} else {
				rest = append(rest, p)
			}
		}

		sortProducts(similar, opts.SortBy, affinity)
		// backfill keeps catalog order
		return finalize(append(similar, rest...), req.TargetProductID, opts.MaxRecommendations)
	}

	// Personalized: preference filters, dropped when nothing passes
	filtered := applyPreferenceFilters(candidates, preferredCategories(profile, opts), preferredPriceRange(profile, opts))
	if len(filtered) == 0 {
		filtered = candidates
	}

	sortProducts(filtered, opts.SortBy, affinity)
	return finalize(filtered, "", opts.MaxRecommendations)
}

// affinity counts, per folded category, how many interest signals point at
// it: preferred categories, categories of viewed, carted and purchased
// products, and the target's category.
func (r *localRanker) affinity(profile *models.BehavioralProfile, opts models.RecommendationOptions, target models.Product, hasTarget bool) map[string]int {
	counts := make(map[string]int)

	for _, c := range preferredCategories(profile, opts) {
		counts[catalog.FoldCategory(c)]++
	}
	for _, ids := range [][]string{profile.ViewedProducts, profile.ItemsInCart, profile.PastPurchases} {
		for _, id := range ids {
			if p, ok := r.catalog.Get(id); ok {
				counts[catalog.FoldCategory(p.Category)]++
			}
		}
	}
	if hasTarget {
		counts[catalog.FoldCategory(target.Category)]++
	}

	return counts
}

func exclusionSet(profile *models.BehavioralProfile, opts models.RecommendationOptions) map[string]bool {
	excluded := make(map[string]bool)
	if opts.ExcludeViewed {
		for _, id := range profile.ViewedProducts {
			excluded[id] = true
		}
	}
	if opts.ExcludePurchased {
		for _, id := range profile.PastPurchases {
			excluded[id] = true
		}
	}
	return excluded
}

// Options override the profile for both preferences.
func preferredCategories(profile *models.BehavioralProfile, opts models.RecommendationOptions) []string {
	if len(opts.PreferredCategories) > 0 {
		return opts.PreferredCategories
	}
	return profile.PreferredCategories
}

func preferredPriceRange(profile *models.BehavioralProfile, opts models.RecommendationOptions) *models.PriceRange {
	if opts.PriceRange != nil {
		return opts.PriceRange
	}
	return profile.PreferredPriceRange
}

func applyPreferenceFilters(products []models.Product, categories []string, priceRange *models.PriceRange) []models.Product {
	allowed := make(map[string]bool, len(categories))
	for _, c := range categories {
		allowed[catalog.FoldCategory(c)] = true
	}

	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if len(allowed) > 0 && !allowed[catalog.FoldCategory(p.Category)] {
			continue
		}
		if priceRange != nil && !priceRange.Contains(p.Price) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// sortProducts orders products in place; ties keep their incoming order.
func sortProducts(products []models.Product, sortBy models.SortBy, affinity map[string]int) {
	var less func(a, b models.Product) bool

	switch sortBy {
	case models.SortPriceAsc:
		less = func(a, b models.Product) bool {
			if a.Price != b.Price {
				return a.Price < b.Price
			}
			return a.Rating > b.Rating
		}
	case models.SortPriceDesc:
		less = func(a, b models.Product) bool {
			if a.Price != b.Price {
				return a.Price > b.Price
			}
			return a.Rating > b.Rating
		}
	case models.SortPopularity:
		less = func(a, b models.Product) bool {
			if a.Popularity != b.Popularity {
				return a.Popularity > b.Popularity
			}
			return a.Rating > b.Rating
		}
	case models.SortRating:
		less = func(a, b models.Product) bool {
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			return a.ReviewCount > b.ReviewCount
		}
	// New products first, catalog order otherwise
	case models.SortNewest:
		less = func(a, b models.Product) bool {
			return a.IsNew && !b.IsNew
		}
	// Relevance: category affinity, then rating, then cheaper
	default:
		less = func(a, b models.Product) bool {
			ca, cb := affinity[catalog.FoldCategory(a.Category)], affinity[catalog.FoldCategory(b.Category)]
			if ca != cb {
				return ca > cb
			}
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			return a.Price < b.Price
		}
	}

	sort.SliceStable(products, func(i, j int) bool {
		return less(products[i], products[j])
	})
}

// finalize drops the target and duplicate ids (first occurrence wins) and
// truncates to limit.
func finalize(products []models.Product, targetID string, limit int) []models.Product {
	if limit <= 0 {
		return []models.Product{}
	}

	seen := make(map[string]bool, len(products))
	out := make([]models.Product, 0, min(limit, len(products)))
	for _, p := range products {
		if len(out) == limit {
			break
		}
		if p.ID == "" || seen[p.ID] || (targetID != "" && p.ID == targetID) {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}
