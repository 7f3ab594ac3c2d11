package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/database"
	"github.com/temcen/shopsense/internal/handlers"
	"github.com/temcen/shopsense/internal/middleware"
	"github.com/temcen/shopsense/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
	cancel   context.CancelFunc
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Initialize services
	services, err := services.New(cfg, app.logger, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = services

	// Initialize handlers
	app.handlers = handlers.New(app.logger, services, cfg)

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start runs background upkeep until Shutdown.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.services.Run(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.services.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing services")
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	// Operational endpoints
	router.GET("/health", a.handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.RequireJSON())
	{
		products := api.Group("/products")
		{
			products.GET("", a.handlers.Product.List)
			products.GET("/:productId", a.handlers.Product.Get)
			products.GET("/:productId/recommendations", middleware.Visitor(a.config.Session), a.handlers.Recommendation.ForProduct)
		}

		// everything below belongs to one visitor
		visitor := api.Group("")
		visitor.Use(middleware.Visitor(a.config.Session))

		session := visitor.Group("/session")
		{
			session.POST("", a.handlers.Session.Start)
			session.GET("/context", a.handlers.Session.GetContext)
			session.PATCH("/context", a.handlers.Session.UpdateContext)
			session.GET("/profile", a.handlers.Session.GetProfile)
			session.PUT("/profile/preferences", a.handlers.Session.UpdatePreferences)
			session.POST("/login", a.handlers.Session.Login)
			session.POST("/logout", a.handlers.Session.Logout)
		}

		recommendations := visitor.Group("/recommendations")
		{
			recommendations.GET("", a.handlers.Recommendation.Personalized)
			recommendations.GET("/trending", a.handlers.Recommendation.Trending)
			recommendations.GET("/recently-viewed", a.handlers.Recommendation.RecentlyViewed)
		}

		visitor.POST("/events", a.handlers.Event.Track)
	}

	a.router = router
}
