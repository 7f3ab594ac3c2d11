package models

import "time"

// EventType names a storefront interaction.
type EventType string

const (
	EventView      EventType = "view"
	EventClick     EventType = "click"
	EventAddToCart EventType = "add_to_cart"
	EventPurchase  EventType = "purchase"
	EventSearch    EventType = "search"
	EventLogin     EventType = "login"
	EventSignup    EventType = "signup"
	EventPageView  EventType = "page_view"
)

func (t EventType) Valid() bool {
	switch t {
	case EventView, EventClick, EventAddToCart, EventPurchase, EventSearch, EventLogin, EventSignup, EventPageView:
		return true
	}
	return false
}

// DefaultCurrency is attached to purchase events.
const DefaultCurrency = "USD"

// TrackedEvent is one interaction as the storefront reports it. Missing
// identifiers are filled from the session's context.
type TrackedEvent struct {
	EventType    EventType              `json:"event_type" validate:"required"`
	UserID       string                 `json:"user_id,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	ItemID       string                 `json:"item_id,omitempty"`
	ItemCategory string                 `json:"item_category,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

type PurchaseItem struct {
	ProductID string  `json:"product_id" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gte=1"`
	Price     float64 `json:"price" validate:"gte=0"`
}

// InteractionPayload is what every event sink receives. Field names follow
// the external interactions endpoint.
type InteractionPayload struct {
	UserID       string                 `json:"userId"`
	SessionID    string                 `json:"sessionId,omitempty"`
	EventName    string                 `json:"eventName"`
	ItemID       string                 `json:"itemId,omitempty"`
	ItemCategory string                 `json:"itemCategory,omitempty"`
	Value        int                    `json:"value"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// TrackStatus is the overall outcome of tracking one event.
type TrackStatus string

const (
	TrackDelivered  TrackStatus = "delivered"
	TrackFailed     TrackStatus = "failed"
	TrackSkipped    TrackStatus = "skipped"
	TrackLoggedOnly TrackStatus = "logged_only"
)

// TrackResult reports what happened to one tracked event. Sinks maps each
// sink name to "ok" or the error it returned.
type TrackResult struct {
	Status TrackStatus       `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Sinks  map[string]string `json:"sinks,omitempty"`
}
