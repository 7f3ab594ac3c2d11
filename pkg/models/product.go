package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Product is the canonical catalog record. Every product shape seen on the
// wire is folded into this type by NormalizeProduct.
type Product struct {
	ID            string   `json:"id" validate:"required"`
	Name          string   `json:"name" validate:"required,max=255"`
	Price         float64  `json:"price" validate:"gte=0"`
	OriginalPrice *float64 `json:"original_price,omitempty" validate:"omitempty,gte=0"`
	Category      string   `json:"category" validate:"required"`
	Rating        float64  `json:"rating" validate:"gte=0,lte=5"`
	ReviewCount   int      `json:"review_count" validate:"gte=0"`
	ImageURL      string   `json:"image_url"`
	Brand         string   `json:"brand,omitempty"`
	Discount      *float64 `json:"discount,omitempty" validate:"omitempty,gte=0,lte=100"`
	Tags          []string `json:"tags,omitempty"`
	IsNew         bool     `json:"is_new"`
	InStock       bool     `json:"in_stock"`
	Popularity    float64  `json:"popularity"`
}

// PopularityScore is rating × log10(reviewCount + 1).
func PopularityScore(rating float64, reviewCount int) float64 {
	if reviewCount < 0 {
		reviewCount = 0
	}
	return rating * math.Log10(float64(reviewCount)+1)
}

// Field aliases accepted by NormalizeProduct, in lookup order.
var (
	productIDKeys            = []string{"id", "product_id", "productId"}
	productImageKeys         = []string{"image_url", "imageUrl", "image"}
	productReviewCountKeys   = []string{"review_count", "reviewCount", "reviews"}
	productOriginalPriceKeys = []string{"original_price", "originalPrice"}
	productIsNewKeys         = []string{"is_new", "isNew"}
	productInStockKeys       = []string{"in_stock", "inStock"}
)

// NormalizeProduct maps a decoded JSON object onto Product. It accepts the
// snake_case shape served by this service as well as the camelCase shape
// used by storefront front-ends and remote recommenders, with numeric or
// string ids. Popularity is always recomputed.
func NormalizeProduct(raw map[string]interface{}) (Product, error) {
	var p Product

	id, ok := lookupString(raw, productIDKeys...)
	if !ok || id == "" {
		return p, fmt.Errorf("product has no id")
	}
	p.ID = id

	// Descriptive fields
	p.Name, _ = lookupString(raw, "name", "title")
	p.Category, _ = lookupString(raw, "category")
	if p.Category == "" {
		if categories, ok := raw["categories"].([]interface{}); ok && len(categories) > 0 {
			p.Category, _ = categories[0].(string)
		}
	}
	p.ImageURL, _ = lookupString(raw, productImageKeys...)
	if p.ImageURL == "" {
		if images, ok := raw["images"].([]interface{}); ok && len(images) > 0 {
			p.ImageURL, _ = images[0].(string)
		}
	}
	p.Brand, _ = lookupString(raw, "brand")

	// Numeric fields, numbers or numeric strings
	if price, ok := lookupFloat(raw, "price"); ok {
		p.Price = price
	}
	if original, ok := lookupFloat(raw, productOriginalPriceKeys...); ok {
		p.OriginalPrice = &original
	}
	if discount, ok := lookupFloat(raw, "discount"); ok {
		p.Discount = &discount
	}
	if rating, ok := lookupFloat(raw, "rating"); ok {
		p.Rating = rating
	}
	if reviews, ok := lookupFloat(raw, productReviewCountKeys...); ok {
		p.ReviewCount = int(reviews)
	}

	// Flags
	p.IsNew = lookupBool(raw, false, productIsNewKeys...)
	p.InStock = lookupBool(raw, true, productInStockKeys...)

	if tags, ok := raw["tags"].([]interface{}); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok && s != "" {
				p.Tags = append(p.Tags, s)
			}
		}
	}

	p.Popularity = PopularityScore(p.Rating, p.ReviewCount)
	return p, nil
}

func lookupString(raw map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return strings.TrimSpace(val), true
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64), true
		case int:
			return strconv.Itoa(val), true
		case int64:
			return strconv.FormatInt(val, 10), true
		case fmt.Stringer:
			return val.String(), true
		}
	}
	return "", false
}

func lookupFloat(raw map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			return val, true
		case int:
			return float64(val), true
		case int64:
			return float64(val), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func lookupBool(raw map[string]interface{}, fallback bool, keys ...string) bool {
	for _, key := range keys {
		if b, ok := raw[key].(bool); ok {
			return b
		}
	}
	return fallback
}
