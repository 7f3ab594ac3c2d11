package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func TestPopularityScore(t *testing.T) {
	assert.InDelta(t, 4.5*math.Log10(101), PopularityScore(4.5, 100), 1e-9)
	assert.Equal(t, 0.0, PopularityScore(4.5, 0))
	assert.Equal(t, 0.0, PopularityScore(0, 1000))
	assert.Equal(t, 0.0, PopularityScore(3, -4))
}

func TestNormalizeProduct(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]interface{}
		expected Product
		wantErr  bool
	}{
		{
			name: "storefront camelCase shape",
			raw: map[string]interface{}{
				"id":            "7",
				"name":          "Linen Shirt",
				"price":         59.99,
				"originalPrice": 79.99,
				"category":      "shirts",
				"rating":        4.0,
				"reviewCount":   9.0,
				"imageUrl":      "/img/linen.jpg",
				"isNew":         true,
				"inStock":       false,
				"tags":          []interface{}{"summer", 3.0, "linen"},
			},
			expected: Product{
				ID:          "7",
				Name:        "Linen Shirt",
				Price:       59.99,
				Category:    "shirts",
				Rating:      4.0,
				ReviewCount: 9,
				ImageURL:    "/img/linen.jpg",
				IsNew:       true,
				InStock:     false,
				Tags:        []string{"summer", "linen"},
				Popularity:  4.0,
			},
		},
		{
			name: "numeric id with snake_case fields",
			raw: map[string]interface{}{
				"product_id":   42.0,
				"title":        "Trail Shoe",
				"price":        "120.50",
				"category":     "shoes",
				"review_count": 0.0,
				"image":        "/img/trail.jpg",
			},
			expected: Product{
				ID:       "42",
				Name:     "Trail Shoe",
				Price:    120.5,
				Category: "shoes",
				ImageURL: "/img/trail.jpg",
				InStock:  true,
			},
		},
		{
			name:    "missing id",
			raw:     map[string]interface{}{"name": "Nameless"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NormalizeProduct(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			original := p.OriginalPrice
			p.OriginalPrice = nil
			assert.InDelta(t, tt.expected.Popularity, p.Popularity, 1e-9)
			p.Popularity = tt.expected.Popularity
			assert.Equal(t, tt.expected, p)

			if v, ok := tt.raw["originalPrice"]; ok {
				require.NotNil(t, original)
				assert.Equal(t, v, *original)
			}
		})
	}
}

func TestBucketTimeOfDay(t *testing.T) {
	tests := []struct {
		hour     int
		expected TimeOfDay
	}{
		{0, Morning},
		{11, Morning},
		{12, Afternoon},
		{16, Afternoon},
		{17, Evening},
		{20, Evening},
		{21, Night},
		{23, Night},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, BucketTimeOfDay(tt.hour), "hour %d", tt.hour)
	}
}

func TestPriceRange(t *testing.T) {
	assert.NoError(t, PriceRange{Min: 10, Max: 10}.Validate())
	assert.ErrorIs(t, PriceRange{Min: 20, Max: 10}.Validate(), ErrInvalidPriceRange)
	assert.True(t, PriceRange{Min: 10, Max: 20}.Contains(20))
	assert.False(t, PriceRange{Min: 10, Max: 20}.Contains(20.01))
}

func TestBehavioralProfile_CloneIsDeep(t *testing.T) {
	p := NewBehavioralProfile(testTime)
	p.ViewedProducts = append(p.ViewedProducts, "1")
	p.PreferredPriceRange = &PriceRange{Min: 1, Max: 2}

	clone := p.Clone()
	clone.ViewedProducts[0] = "changed"
	clone.PreferredPriceRange.Max = 99

	assert.Equal(t, "1", p.ViewedProducts[0])
	assert.Equal(t, 2.0, p.PreferredPriceRange.Max)
}
