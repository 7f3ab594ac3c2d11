package models

import (
	"errors"
	"slices"
	"time"
)

var ErrInvalidPriceRange = errors.New("price range minimum exceeds maximum")

// PriceRange is an inclusive price bound.
type PriceRange struct {
	Min float64 `json:"min" validate:"gte=0"`
	Max float64 `json:"max" validate:"gte=0"`
}

func (r PriceRange) Validate() error {
	if r.Min < 0 || r.Max < 0 || r.Min > r.Max {
		return ErrInvalidPriceRange
	}
	return nil
}

// Contains reports whether price lies in [Min, Max].
func (r PriceRange) Contains(price float64) bool {
	return price >= r.Min && price <= r.Max
}

// BehavioralProfile accumulates what a visitor did during and across
// sessions. ItemsInCart and PastPurchases have set semantics and keep
// insertion order; ViewedProducts and SearchQueries keep full history.
type BehavioralProfile struct {
	PagesViewed         []string    `json:"pages_viewed"`
	ViewedProducts      []string    `json:"viewed_products"`
	ItemsInCart         []string    `json:"items_in_cart"`
	PastPurchases       []string    `json:"past_purchases"`
	SearchQueries       []string    `json:"search_queries"`
	PreferredCategories []string    `json:"preferred_categories"`
	PreferredPriceRange *PriceRange `json:"preferred_price_range,omitempty"`
	LastInteraction     time.Time   `json:"last_interaction"`
	SessionStart        time.Time   `json:"session_start"`
}

func NewBehavioralProfile(now time.Time) *BehavioralProfile {
	p := &BehavioralProfile{
		LastInteraction: now,
		SessionStart:    now,
	}
	p.EnsureSlices()
	return p
}

// EnsureSlices replaces nil slices with empty ones so that a profile decoded
// from storage compares equal to the one that was persisted.
func (p *BehavioralProfile) EnsureSlices() {
	if p.PagesViewed == nil {
		p.PagesViewed = []string{}
	}
	if p.ViewedProducts == nil {
		p.ViewedProducts = []string{}
	}
	if p.ItemsInCart == nil {
		p.ItemsInCart = []string{}
	}
	if p.PastPurchases == nil {
		p.PastPurchases = []string{}
	}
	if p.SearchQueries == nil {
		p.SearchQueries = []string{}
	}
	if p.PreferredCategories == nil {
		p.PreferredCategories = []string{}
	}
}

// Clone returns a deep copy.
func (p *BehavioralProfile) Clone() *BehavioralProfile {
	if p == nil {
		return nil
	}
	out := &BehavioralProfile{
		PagesViewed:         append([]string{}, p.PagesViewed...),
		ViewedProducts:      append([]string{}, p.ViewedProducts...),
		ItemsInCart:         append([]string{}, p.ItemsInCart...),
		PastPurchases:       append([]string{}, p.PastPurchases...),
		SearchQueries:       append([]string{}, p.SearchQueries...),
		PreferredCategories: append([]string{}, p.PreferredCategories...),
		LastInteraction:     p.LastInteraction,
		SessionStart:        p.SessionStart,
	}
	if p.PreferredPriceRange != nil {
		pr := *p.PreferredPriceRange
		out.PreferredPriceRange = &pr
	}
	return out
}

func (p *BehavioralProfile) InCart(productID string) bool {
	return slices.Contains(p.ItemsInCart, productID)
}

func (p *BehavioralProfile) HasPurchased(productID string) bool {
	return slices.Contains(p.PastPurchases, productID)
}

func (p *BehavioralProfile) HasViewed(productID string) bool {
	return slices.Contains(p.ViewedProducts, productID)
}
