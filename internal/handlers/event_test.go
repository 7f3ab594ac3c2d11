package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/shopsense/pkg/models"
)

func TestEventHandler_TrackUpdatesProfile(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/session", nil)

	events := []TrackEventRequest{
		{Type: models.EventView, ItemID: "5"},
		{Type: models.EventAddToCart, ItemID: "5", Quantity: 1},
		{Type: models.EventAddToCart, ItemID: "9", Quantity: 2},
		{Type: models.EventAddToCart, ItemID: "9", Action: "remove"},
		{Type: models.EventSearch, Query: "sneakers", ResultsCount: 3},
		{Type: models.EventPageView, Path: "/checkout"},
		{
			Type:    models.EventPurchase,
			OrderID: "order-1",
			Items:   []models.PurchaseItem{{ProductID: "5", Quantity: 1, Price: 89.99}},
			Total:   89.99,
		},
	}
	for _, event := range events {
		w := s.do(t, http.MethodPost, "/api/v1/events", event)
		require.Equal(t, http.StatusAccepted, w.Code, "event %s", event.Type)

		var result models.TrackResult
		decode(t, w, &result)
		assert.Equal(t, models.TrackLoggedOnly, result.Status)
	}

	w := s.do(t, http.MethodGet, "/api/v1/session/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile models.BehavioralProfile
	decode(t, w, &profile)

	assert.Equal(t, []string{"5"}, profile.ViewedProducts)
	assert.Equal(t, []string{"5"}, profile.PastPurchases)
	assert.Empty(t, profile.ItemsInCart)
	assert.Equal(t, []string{"sneakers"}, profile.SearchQueries)
}

func TestEventHandler_TrackRejectsIncompleteEvents(t *testing.T) {
	tests := []struct {
		name  string
		event TrackEventRequest
		code  string
	}{
		{name: "view without item", event: TrackEventRequest{Type: models.EventView}, code: "MISSING_ITEM_ID"},
		{name: "cart without item", event: TrackEventRequest{Type: models.EventAddToCart}, code: "MISSING_ITEM_ID"},
		{name: "purchase without items", event: TrackEventRequest{Type: models.EventPurchase, OrderID: "o-1"}, code: "MISSING_ORDER"},
		{name: "login", event: TrackEventRequest{Type: models.EventLogin}, code: "USE_LOGIN_ENDPOINT"},
		{name: "unknown type", event: TrackEventRequest{Type: "wishlist"}, code: "INVALID_EVENT_TYPE"},
		{name: "missing type", event: TrackEventRequest{ItemID: "1"}, code: "VALIDATION_ERROR"},
		{name: "bad action", event: TrackEventRequest{Type: models.EventAddToCart, ItemID: "1", Action: "toggle"}, code: "VALIDATION_ERROR"},
		{
			name: "purchase item without quantity",
			event: TrackEventRequest{
				Type:    models.EventPurchase,
				OrderID: "o-1",
				Items:   []models.PurchaseItem{{ProductID: "1"}},
			},
			code: "VALIDATION_ERROR",
		},
	}

	s := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/events", tt.event)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestEventHandler_TrackRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(`{"type":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Visitor-ID", testVisitor)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST_BODY", errorCode(t, w))
}
