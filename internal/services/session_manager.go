package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/catalog"
	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/metrics"
	"github.com/temcen/shopsense/internal/storage"
	"github.com/temcen/shopsense/internal/validation"
)

var ErrSessionNotStarted = errors.New("session not started")

// SessionManager holds one Session per visitor key. Every visitor's keys
// live under their own prefix of the shared store.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store      storage.Store
	validator  *validation.SchemaValidator
	geolocator Geolocator
	engine     *RecommendationEngine
	tracker    *EventTracker
	catalog    *catalog.Catalog
	cfg        *config.Config
	logger     *logrus.Logger
	now        func() time.Time
}

func NewSessionManager(store storage.Store, validator *validation.SchemaValidator, geolocator Geolocator, engine *RecommendationEngine, tracker *EventTracker, cat *catalog.Catalog, cfg *config.Config, logger *logrus.Logger) *SessionManager {
	return &SessionManager{
		sessions:   make(map[string]*Session),
		store:      store,
		validator:  validator,
		geolocator: geolocator,
		engine:     engine,
		tracker:    tracker,
		catalog:    cat,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Get returns the visitor's session, creating it when needed. A new session
// is started with signals; when signals is nil it is started with none.
func (m *SessionManager) Get(ctx context.Context, visitorKey string, signals *Signals) *Session {
	m.mu.Lock()
	session, ok := m.sessions[visitorKey]
	if !ok {
		session = m.newSession(visitorKey)
		m.sessions[visitorKey] = session
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	switch {
	case signals != nil:
		session.Start(ctx, *signals)
	case !session.Started():
		session.Start(ctx, Signals{})
	}
	return session
}

// Lookup returns an existing started session without creating one.
func (m *SessionManager) Lookup(visitorKey string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[visitorKey]
	if !ok || !session.Started() {
		return nil, ErrSessionNotStarted
	}
	return session, nil
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the configured TTL and returns
// how many were evicted. Their stored state is kept.
func (m *SessionManager) Sweep() int {
	ttl := m.cfg.Session.IdleTTL
	if ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-ttl)

	// Collect under the lock; closing waits on each session's own lock.
	m.mu.Lock()
	var stale []*Session
	for key, session := range m.sessions {
		if session.LastSeen().Before(cutoff) {
			stale = append(stale, session)
			delete(m.sessions, key)
		}
	}
	remaining := len(m.sessions)
	metrics.ActiveSessions.Set(float64(remaining))
	m.mu.Unlock()

	for _, session := range stale {
		session.Close()
	}

	evicted := len(stale)
	if evicted > 0 {
		m.logger.WithFields(logrus.Fields{
			"evicted":   evicted,
			"remaining": remaining,
		}).Debug("Evicted idle sessions")
	}
	return evicted
}

// Run sweeps idle sessions until ctx is done.
func (m *SessionManager) Run(ctx context.Context) {
	interval := m.cfg.Session.IdleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, session := range m.sessions {
		session.Close()
		delete(m.sessions, key)
	}
	metrics.ActiveSessions.Set(0)
}

func (m *SessionManager) newSession(visitorKey string) *Session {
	scoped := storage.VisitorScope(m.store, visitorKey)
	keyTTL := m.cfg.Storage.KeyTTL

	cb := NewContextBuilder(scoped, m.geolocator, m.cfg.Context, keyTTL, m.logger)
	ps := NewProfileStore(scoped, m.validator, keyTTL, m.logger)

	session := newSession(visitorKey, cb, ps, m.engine, m.tracker, m.catalog, m.logger)
	session.now = m.now
	session.lastSeen = m.now()
	return session
}
