package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/pkg/models"
)

func TestSessionHandler_Start(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/session", StartSessionRequest{
		UserAgent:         "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
		Referrer:          "https://search.example.com",
		Timezone:          "UTC",
		GeolocationDenied: true,
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	decode(t, w, &resp)

	assert.Equal(t, testVisitor, resp.VisitorKey)
	assert.Equal(t, models.DeviceMobile, resp.Context.DeviceType)
	assert.Equal(t, "https://search.example.com", resp.Context.Referrer)
	assert.True(t, resp.Context.IsNewUser)
	assert.True(t, strings.HasPrefix(resp.Context.UserID, "anon_"))
	require.NotNil(t, resp.Context.Location)
	assert.Equal(t, models.UnknownLocation("UTC"), resp.Context.Location)
	assert.Equal(t, testVisitor, w.Header().Get("X-Visitor-ID"))
}

func TestSessionHandler_StartWithoutBodyUsesHeaders(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/session", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	decode(t, w, &resp)
	assert.Equal(t, models.DeviceDesktop, resp.Context.DeviceType)
	assert.Equal(t, models.DirectReferrer, resp.Context.Referrer)
}

func TestSessionHandler_StartRejectsBadCoordinates(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/session", StartSessionRequest{
		Coordinates: &models.Coordinates{Latitude: 123, Longitude: 0},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestSessionHandler_IssuesVisitorKey(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/context", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	issued := w.Header().Get("X-Visitor-ID")
	assert.NotEmpty(t, issued)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "shopsense_visitor", cookies[0].Name)
	assert.Equal(t, issued, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSessionHandler_UpdateContext(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/session", nil)

	w := s.do(t, http.MethodPatch, "/api/v1/session/context", map[string]interface{}{
		"device_type": "tablet",
		"referrer":    "https://ads.example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var uc models.UserContext
	decode(t, w, &uc)
	assert.Equal(t, models.DeviceTablet, uc.DeviceType)
	assert.Equal(t, "https://ads.example.com", uc.Referrer)

	w = s.do(t, http.MethodPatch, "/api/v1/session/context", map[string]interface{}{"time_of_day": "brunch"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_TIME_OF_DAY", errorCode(t, w))
}

func TestSessionHandler_Preferences(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/api/v1/session/profile/preferences", PreferencesRequest{
		Categories: []string{"shoes"},
		PriceRange: &models.PriceRange{Min: 50, Max: 150},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/session/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile models.BehavioralProfile
	decode(t, w, &profile)
	assert.Equal(t, []string{"shoes"}, profile.PreferredCategories)
	require.NotNil(t, profile.PreferredPriceRange)
	assert.Equal(t, 150.0, profile.PreferredPriceRange.Max)

	w = s.do(t, http.MethodPut, "/api/v1/session/profile/preferences", PreferencesRequest{
		PriceRange: &models.PriceRange{Min: 100, Max: 10},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PRICE_RANGE", errorCode(t, w))
}

func TestSessionHandler_LoginWithUserID(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/session", nil)

	w := s.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{UserID: "user-7"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp LoginResponse
	decode(t, w, &resp)
	assert.Equal(t, "user-7", resp.Context.UserID)
	assert.True(t, resp.Context.Authenticated)
	assert.Equal(t, models.TrackLoggedOnly, resp.Tracking.Status)

	w = s.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_USER_ID", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/v1/session/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var uc models.UserContext
	decode(t, w, &uc)
	assert.False(t, uc.Authenticated)
	assert.True(t, strings.HasPrefix(uc.UserID, "anon_"))
}

func TestSessionHandler_LoginWithToken(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth = config.AuthConfig{JWTSecret: "handler-secret", Issuer: "idp"}
	})

	token, err := s.services.Auth.IssueToken("user-99", "shopper@example.com")
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{UserID: "spoofed", Token: token})
	require.Equal(t, http.StatusOK, w.Code)
	var resp LoginResponse
	decode(t, w, &resp)
	assert.Equal(t, "user-99", resp.Context.UserID)

	w = s.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{Token: "forged"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_TOKEN", errorCode(t, w))
}
