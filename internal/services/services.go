package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/catalog"
	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/database"
	"github.com/temcen/shopsense/internal/messaging"
	"github.com/temcen/shopsense/internal/remote"
	"github.com/temcen/shopsense/internal/storage"
	"github.com/temcen/shopsense/internal/validation"
)

type Services struct {
	Store     storage.Store
	Catalog   *catalog.Catalog
	Validate  *validator.Validate
	Auth      *AuthService
	Health    *HealthService
	Engine    *RecommendationEngine
	Tracker   *EventTracker
	Sessions  *SessionManager
	Publisher *messaging.InteractionPublisher

	cfg *config.Config
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database) (*Services, error) {
	validate := validator.New()

	schemas, err := validation.NewDefaultSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	cat, err := catalog.Load(cfg.Catalog.Path, validate)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	logger.WithField("products", cat.Len()).Info("Product catalog loaded")

	// Visitor storage
	store, err := newStore(cfg, logger, db)
	if err != nil {
		return nil, err
	}

	var (
		remoteRecommender RemoteRecommender
		breakers          []BreakerReporter
		sinks             []EventSink
	)

	// Remote collaborators
	if cfg.Remote.Recommendations.Enabled() {
		client := remote.NewClient("recommendations", cfg.Remote.Recommendations, logger)
		remoteRecommender = remote.NewRecommender(client, cfg.Remote.Recommendations.Method, schemas)
		breakers = append(breakers, client)
	}
	if cfg.Remote.Interactions.Enabled() {
		client := remote.NewClient("interactions", cfg.Remote.Interactions, logger)
		sinks = append(sinks, remote.NewInteractionSender(client))
		breakers = append(breakers, client)
	}

	// Event sinks
	var publisher *messaging.InteractionPublisher
	if cfg.Kafka.Enabled {
		publisher = messaging.NewInteractionPublisher(cfg, logger)
		sinks = append(sinks, publisher)
	}
	if db != nil && db.Neo4j != nil {
		sinks = append(sinks, NewGraphSink(db.Neo4j, cfg.Neo4j.Database, logger))
	}

	tracker := NewEventTracker(logger, cfg.Tracking.SinkTimeout, sinks...)
	logger.WithField("sinks", tracker.Sinks()).Info("Event tracker configured")

	engine := NewRecommendationEngine(cat, remoteRecommender, storage.Scope(store, "cache:"), cfg.Recommendation, logger)

	sessions := NewSessionManager(store, schemas, NewSignalGeolocator(validate), engine, tracker, cat, cfg, logger)

	return &Services{
		Store:     store,
		Catalog:   cat,
		Validate:  validate,
		Auth:      NewAuthService(cfg, logger),
		Health:    NewHealthService(logger, store, breakers...),
		Engine:    engine,
		Tracker:   tracker,
		Sessions:  sessions,
		Publisher: publisher,
		cfg:       cfg,
	}, nil
}

func newStore(cfg *config.Config, logger *logrus.Logger, db *database.Database) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return storage.NewMemoryStore(cfg.Storage.QuotaBytes), nil
	case "redis":
		if db == nil || db.Redis == nil {
			return nil, fmt.Errorf("storage driver redis requires a redis connection")
		}
		return storage.NewRedisStore(db.Redis, logger), nil
	case "postgres":
		if db == nil || db.PG == nil {
			return nil, fmt.Errorf("storage driver postgres requires a database connection")
		}
		pgStore := storage.NewPostgresStore(db.PG, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pgStore, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Run drives background upkeep until ctx is done: the memory store's expiry
// sweep and the idle session sweep.
func (s *Services) Run(ctx context.Context) {
	if mem, ok := s.Store.(*storage.MemoryStore); ok {
		go mem.Run(ctx, s.cfg.Storage.SweepInterval)
	}
	s.Sessions.Run(ctx)
}

// Close stops every session and releases sinks and the store.
func (s *Services) Close() error {
	s.Sessions.Close()

	var errs []error
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing services: %v", errs)
	}
	return nil
}
