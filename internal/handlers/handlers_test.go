package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/middleware"
	"github.com/temcen/shopsense/internal/services"
)

const testVisitor = "visitor-0001"

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Driver: "memory"},
		Recommendation: config.RecommendationConfig{
			DefaultCount: 4,
			MaxCount:     50,
		},
		Context: config.ContextConfig{
			GeolocationTimeout: 50 * time.Millisecond,
			DefaultTimezone:    "UTC",
		},
		Session: config.SessionConfig{
			IdleTTL:       30 * time.Minute,
			CookieName:    "shopsense_visitor",
			CookieMaxAge:  time.Hour,
			VisitorHeader: "X-Visitor-ID",
		},
	}
}

type testServer struct {
	router   *gin.Engine
	services *services.Services
	cfg      *config.Config
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	svc, err := services.New(cfg, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	h := New(logger, svc, cfg)

	router := gin.New()
	api := router.Group("/api/v1")
	api.GET("/products", h.Product.List)
	api.GET("/products/:productId", h.Product.Get)

	visitor := api.Group("")
	visitor.Use(middleware.Visitor(cfg.Session))
	visitor.GET("/products/:productId/recommendations", h.Recommendation.ForProduct)
	visitor.POST("/session", h.Session.Start)
	visitor.GET("/session/context", h.Session.GetContext)
	visitor.PATCH("/session/context", h.Session.UpdateContext)
	visitor.GET("/session/profile", h.Session.GetProfile)
	visitor.PUT("/session/profile/preferences", h.Session.UpdatePreferences)
	visitor.POST("/session/login", h.Session.Login)
	visitor.POST("/session/logout", h.Session.Logout)
	visitor.GET("/recommendations", h.Recommendation.Personalized)
	visitor.GET("/recommendations/trending", h.Recommendation.Trending)
	visitor.GET("/recommendations/recently-viewed", h.Recommendation.RecentlyViewed)
	visitor.POST("/events", h.Event.Track)
	router.GET("/health", h.Health.Check)

	return &testServer{router: router, services: svc, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Visitor-ID", testVisitor)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, w, &body)
	return body.Error.Code
}

func TestHealthHandler_Check(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var status services.HealthStatus
	decode(t, w, &status)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Services["storage"])
}
