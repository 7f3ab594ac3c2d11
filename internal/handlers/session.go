package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/middleware"
	"github.com/temcen/shopsense/internal/services"
	"github.com/temcen/shopsense/pkg/models"
)

type SessionHandler struct {
	sessions *services.SessionManager
	auth     services.IdentityVerifier
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewSessionHandler(sessions *services.SessionManager, auth services.IdentityVerifier, validate *validator.Validate, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		auth:     auth,
		validate: validate,
		logger:   logger,
	}
}

type StartSessionRequest struct {
	UserAgent         string              `json:"user_agent"`
	Referrer          string              `json:"referrer"`
	Timezone          string              `json:"timezone"`
	Coordinates       *models.Coordinates `json:"coordinates,omitempty" validate:"omitempty"`
	GeolocationDenied bool                `json:"geolocation_denied"`
}

type SessionResponse struct {
	VisitorKey string                    `json:"visitor_key"`
	Context    models.UserContext        `json:"context"`
	Profile    *models.BehavioralProfile `json:"profile"`
}

// Start (re)initializes the visitor's context. Signals missing from the body
// are taken from the request headers.
func (h *SessionHandler) Start(c *gin.Context) {
	var req StartSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, "VALIDATION_ERROR", err)
		return
	}

	// Body fields override headers
	signals := signalsFromHeaders(c)
	if req.UserAgent != "" {
		signals.UserAgent = req.UserAgent
	}
	if req.Referrer != "" {
		signals.Referrer = req.Referrer
	}
	if req.Timezone != "" {
		signals.Timezone = req.Timezone
	}
	signals.Coordinates = req.Coordinates
	signals.GeolocationDenied = req.GeolocationDenied

	key := middleware.GetVisitorKey(c)
	session := h.sessions.Get(c.Request.Context(), key, &signals)

	c.JSON(http.StatusOK, SessionResponse{
		VisitorKey: key,
		Context:    session.Context(),
		Profile:    session.Profile(),
	})
}

func (h *SessionHandler) GetContext(c *gin.Context) {
	c.JSON(http.StatusOK, sessionFor(c, h.sessions).Context())
}

func (h *SessionHandler) UpdateContext(c *gin.Context) {
	var update models.ContextUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
		return
	}
	if update.DeviceType != nil && !update.DeviceType.Valid() {
		respondError(c, http.StatusBadRequest, "INVALID_DEVICE_TYPE", "device_type must be mobile, tablet or desktop")
		return
	}
	if update.TimeOfDay != nil && !update.TimeOfDay.Valid() {
		respondError(c, http.StatusBadRequest, "INVALID_TIME_OF_DAY", "time_of_day must be morning, afternoon, evening or night")
		return
	}

	c.JSON(http.StatusOK, sessionFor(c, h.sessions).UpdateContext(update))
}

func (h *SessionHandler) GetProfile(c *gin.Context) {
	c.JSON(http.StatusOK, sessionFor(c, h.sessions).Profile())
}

type PreferencesRequest struct {
	Categories []string           `json:"categories" validate:"max=50,dive,max=100"`
	PriceRange *models.PriceRange `json:"price_range,omitempty"`
}

func (h *SessionHandler) UpdatePreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, "VALIDATION_ERROR", err)
		return
	}

	profile, err := sessionFor(c, h.sessions).SetPreferences(c.Request.Context(), req.Categories, req.PriceRange)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPriceRange) {
			respondError(c, http.StatusBadRequest, "INVALID_PRICE_RANGE", err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to update preferences")
		respondError(c, http.StatusInternalServerError, "PREFERENCES_UPDATE_FAILED", "Failed to update preferences")
		return
	}

	c.JSON(http.StatusOK, profile)
}

// LoginRequest carries either an identity-provider token or, when token
// verification is not configured, the user id itself.
type LoginRequest struct {
	Token   string `json:"token"`
	UserID  string `json:"user_id" validate:"omitempty,max=255"`
	Method  string `json:"method" validate:"omitempty,max=50"`
	Migrate bool   `json:"migrate"`
}

type LoginResponse struct {
	Context  models.UserContext `json:"context"`
	Tracking models.TrackResult `json:"tracking"`
}

func (h *SessionHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, "VALIDATION_ERROR", err)
		return
	}

	// Resolve the user id, verifying the token when configured
	userID := strings.TrimSpace(req.UserID)
	if h.auth.Enabled() {
		if req.Token == "" {
			respondError(c, http.StatusBadRequest, "MISSING_TOKEN", "An identity token is required")
			return
		}
		verified, err := h.auth.VerifyIdentityToken(req.Token)
		if err != nil {
			h.logger.WithError(err).WithField("visitor", middleware.GetVisitorKey(c)).Warn("Rejected identity token")
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Identity token is invalid or expired")
			return
		}
		userID = verified
	}
	if userID == "" {
		respondError(c, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	method := req.Method
	if method == "" {
		method = "password"
	}

	uc, result := sessionFor(c, h.sessions).Login(c.Request.Context(), userID, method, req.Migrate)
	c.JSON(http.StatusOK, LoginResponse{Context: uc, Tracking: result})
}

func (h *SessionHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, sessionFor(c, h.sessions).Logout(c.Request.Context()))
}
