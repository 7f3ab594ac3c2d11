package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/services"
	"github.com/temcen/shopsense/pkg/models"
)

const actionRemove = "remove"

type EventHandler struct {
	sessions *services.SessionManager
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewEventHandler(sessions *services.SessionManager, validate *validator.Validate, logger *logrus.Logger) *EventHandler {
	return &EventHandler{
		sessions: sessions,
		validate: validate,
		logger:   logger,
	}
}

// TrackEventRequest is one storefront interaction. Which fields matter
// depends on Type: item_id for view, click and add_to_cart (action "remove"
// takes the item out of the cart), order_id and items for purchase, query
// for search, path for page_view, method for signup.
type TrackEventRequest struct {
	Type         models.EventType       `json:"type" validate:"required"`
	ItemID       string                 `json:"item_id" validate:"max=255"`
	Action       string                 `json:"action" validate:"omitempty,oneof=add remove"`
	Quantity     int                    `json:"quantity" validate:"gte=0,lte=1000"`
	OrderID      string                 `json:"order_id" validate:"max=255"`
	Items        []models.PurchaseItem  `json:"items" validate:"dive"`
	Total        float64                `json:"total" validate:"gte=0"`
	Query        string                 `json:"query" validate:"max=500"`
	ResultsCount int                    `json:"results_count" validate:"gte=0"`
	Path         string                 `json:"path" validate:"max=2048"`
	Method       string                 `json:"method" validate:"max=50"`
	Properties   map[string]interface{} `json:"properties"`
}

func (h *EventHandler) Track(c *gin.Context) {
	var req TrackEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, "VALIDATION_ERROR", err)
		return
	}
	// Per-type required fields
	if code, msg := checkEventFields(req); code != "" {
		respondError(c, http.StatusBadRequest, code, msg)
		return
	}

	session := sessionFor(c, h.sessions)
	ctx := c.Request.Context()

	// Dispatch to the session
	var result models.TrackResult
	switch req.Type {
	case models.EventView:
		result = session.TrackView(ctx, req.ItemID, req.Properties)
	case models.EventClick:
		result = session.TrackClick(ctx, req.ItemID, req.Properties)
	case models.EventAddToCart:
		if req.Action == actionRemove {
			result = session.TrackRemoveFromCart(ctx, req.ItemID, req.Properties)
		} else {
			result = session.TrackAddToCart(ctx, req.ItemID, req.Quantity, req.Properties)
		}
	case models.EventPurchase:
		result = session.TrackPurchase(ctx, req.OrderID, req.Items, req.Total, req.Properties)
	case models.EventSearch:
		result = session.TrackSearch(ctx, req.Query, req.ResultsCount, req.Properties)
	case models.EventPageView:
		result = session.TrackPageView(ctx, req.Path, req.Properties)
	case models.EventSignup:
		result = session.TrackSignup(ctx, req.Method, req.Properties)
	}

	c.JSON(http.StatusAccepted, result)
}

func checkEventFields(req TrackEventRequest) (string, string) {
	switch req.Type {
	case models.EventView, models.EventClick, models.EventAddToCart:
		if req.ItemID == "" {
			return "MISSING_ITEM_ID", "item_id is required for " + string(req.Type)
		}
	case models.EventPurchase:
		if req.OrderID == "" || len(req.Items) == 0 {
			return "MISSING_ORDER", "order_id and items are required for purchase"
		}
	case models.EventLogin:
		return "USE_LOGIN_ENDPOINT", "login is recorded by POST /api/v1/session/login"
	case models.EventSearch, models.EventPageView, models.EventSignup:
	default:
		return "INVALID_EVENT_TYPE", "unknown event type " + string(req.Type)
	}
	return "", ""
}
