package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/metrics"
	"github.com/temcen/shopsense/internal/storage"
	"github.com/temcen/shopsense/pkg/models"
)

const (
	identitySessionKey  = "sessionId"
	identityUserKey     = "userId"
	anonymousUserPrefix = "anon_"
	temporaryIDPrefix   = "temp_"
)

// The mobile pattern is checked first, so iPads report as mobile.
var (
	mobileUserAgent = regexp.MustCompile(`(?i)mobile|android|iphone|ipad|ipod|blackberry|iemobile|opera mini`)
	tabletUserAgent = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)
)

// Signals is what the client tells us about itself when a session starts.
type Signals struct {
	UserAgent         string              `json:"user_agent"`
	Referrer          string              `json:"referrer"`
	Timezone          string              `json:"timezone"`
	Coordinates       *models.Coordinates `json:"coordinates,omitempty"`
	GeolocationDenied bool                `json:"geolocation_denied"`
}

func DetectDeviceType(userAgent string) models.DeviceType {
	switch {
	case mobileUserAgent.MatchString(userAgent):
		return models.DeviceMobile
	case tabletUserAgent.MatchString(userAgent):
		return models.DeviceTablet
	default:
		return models.DeviceDesktop
	}
}

func normalizeReferrer(referrer string) string {
	if r := strings.TrimSpace(referrer); r != "" {
		return r
	}
	return models.DirectReferrer
}

// resolveTimezone returns the named zone, the fallback zone, or UTC, in that
// order of preference.
func resolveTimezone(name, fallback string) (*time.Location, string) {
	for _, candidate := range []string{name, fallback} {
		if candidate == "" {
			continue
		}
		if loc, err := time.LoadLocation(candidate); err == nil {
			return loc, candidate
		}
	}
	return time.UTC, "UTC"
}

type identity struct {
	sessionID string
	userID    string
	isNew     bool
}

// ContextBuilder owns one visitor's UserContext. Initialize never fails: each
// detection that cannot complete falls back to a default and logs.
type ContextBuilder struct {
	mu              sync.RWMutex
	identity        storage.Store
	geolocator      Geolocator
	geoTimeout      time.Duration
	defaultTimezone string
	keyTTL          time.Duration
	logger          *logrus.Logger
	now             func() time.Time
	current         models.UserContext
}

func NewContextBuilder(identityStore storage.Store, geolocator Geolocator, cfg config.ContextConfig, keyTTL time.Duration, logger *logrus.Logger) *ContextBuilder {
	timeout := cfg.GeolocationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ContextBuilder{
		identity:        identityStore,
		geolocator:      geolocator,
		geoTimeout:      timeout,
		defaultTimezone: cfg.DefaultTimezone,
		keyTTL:          keyTTL,
		logger:          logger,
		now:             defaultNow,
	}
}

// Initialize runs the five detections concurrently and replaces the current
// context with their result.
func (b *ContextBuilder) Initialize(ctx context.Context, signals Signals) models.UserContext {
	loc, tzName := resolveTimezone(signals.Timezone, b.defaultTimezone)
	now := b.now()

	var (
		wg        sync.WaitGroup
		device    models.DeviceType
		timeOfDay models.TimeOfDay
		location  *models.Location
		referrer  string
		ident     identity
	)

	// Run detections in parallel
	wg.Add(5)
	go func() {
		defer wg.Done()
		device = DetectDeviceType(signals.UserAgent)
	}()
	go func() {
		defer wg.Done()
		timeOfDay = models.BucketTimeOfDay(now.In(loc).Hour())
	}()
	go func() {
		defer wg.Done()
		location = b.detectLocation(ctx, signals, tzName)
	}()
	go func() {
		defer wg.Done()
		referrer = normalizeReferrer(signals.Referrer)
	}()
	go func() {
		defer wg.Done()
		ident = b.loadIdentity(ctx)
	}()
	wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Assemble context
	b.current = models.UserContext{
		DeviceType:      device,
		TimeOfDay:       timeOfDay,
		Location:        location,
		Referrer:        referrer,
		IsNewUser:       ident.isNew,
		SessionID:       ident.sessionID,
		UserID:          ident.userID,
		Authenticated:   ident.userID != "" && !isAnonymousID(ident.userID),
		LastInteraction: maxTime(now, b.current.LastInteraction),
	}

	b.logger.WithFields(logrus.Fields{
		"session_id":  b.current.SessionID,
		"user_id":     b.current.UserID,
		"device_type": b.current.DeviceType,
		"is_new_user": b.current.IsNewUser,
	}).Debug("User context initialized")

	return b.current.Clone()
}

// GetContext returns a deep copy of the current context.
func (b *ContextBuilder) GetContext() models.UserContext {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current.Clone()
}

// UpdateContext merges the non-nil fields of update. Unrecognised device
// types and time-of-day values are ignored.
func (b *ContextBuilder) UpdateContext(update models.ContextUpdate) models.UserContext {
	b.mu.Lock()
	defer b.mu.Unlock()

	if update.DeviceType != nil && update.DeviceType.Valid() {
		b.current.DeviceType = *update.DeviceType
	}
	if update.TimeOfDay != nil && update.TimeOfDay.Valid() {
		b.current.TimeOfDay = *update.TimeOfDay
	}
	if update.Location != nil {
		b.current.Location = update.Location.Clone()
	}
	if update.Referrer != nil {
		b.current.Referrer = normalizeReferrer(*update.Referrer)
	}
	if update.IsNewUser != nil {
		b.current.IsNewUser = *update.IsNewUser
	}
	b.touchLocked()

	return b.current.Clone()
}

// Identify switches the context to an authenticated user id and remembers it
// for the visitor.
func (b *ContextBuilder) Identify(ctx context.Context, userID string) models.UserContext {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current.UserID = userID
	b.current.Authenticated = true
	b.current.IsNewUser = false
	b.touchLocked()
	b.store(ctx, identityUserKey, userID)

	return b.current.Clone()
}

// Logout replaces the user id with a fresh anonymous one.
func (b *ContextBuilder) Logout(ctx context.Context) models.UserContext {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current.UserID = newAnonymousID()
	b.current.Authenticated = false
	b.touchLocked()
	b.store(ctx, identityUserKey, b.current.UserID)

	return b.current.Clone()
}

func (b *ContextBuilder) detectLocation(ctx context.Context, signals Signals, timezone string) *models.Location {
	if b.geolocator == nil {
		return models.UnknownLocation(timezone)
	}

	// Bound the lookup
	ctx, cancel := context.WithTimeout(ctx, b.geoTimeout)
	defer cancel()

	type located struct {
		coords *models.Coordinates
		err    error
	}
	result := make(chan located, 1)
	go func() {
		coords, err := b.geolocator.Locate(ctx, signals)
		result <- located{coords, err}
	}()

	select {
	case r := <-result:
		if r.err != nil || r.coords == nil {
			if r.err != nil && !errors.Is(r.err, ErrGeolocationDenied) && !errors.Is(r.err, ErrGeolocationUnavailable) {
				b.logger.WithError(r.err).Warn("Geolocation failed")
			}
			return models.UnknownLocation(timezone)
		}
		location := models.UnknownLocation(timezone)
		location.Coordinates = r.coords
		return location
	case <-ctx.Done():
		b.logger.WithField("timeout", b.geoTimeout).Warn("Geolocation timed out")
		return models.UnknownLocation(timezone)
	}
}

func (b *ContextBuilder) loadIdentity(ctx context.Context) identity {
	var ident identity

	// Session id
	sessionID, err := b.identity.Get(ctx, identitySessionKey)
	switch {
	case err == nil && len(sessionID) > 0:
		ident.sessionID = string(sessionID)
	case err == nil || errors.Is(err, storage.ErrNotFound):
		ident.sessionID = uuid.NewString()
		b.store(ctx, identitySessionKey, ident.sessionID)
	default:
		b.logger.WithError(err).Warn("Failed to read session id, using temporary id")
		metrics.StorageFailures.WithLabelValues("identity_read", "unavailable").Inc()
		ident.sessionID = temporaryIDPrefix + uuid.NewString()
	}

	// User id; a missing one marks the visitor as new
	userID, err := b.identity.Get(ctx, identityUserKey)
	switch {
	case err == nil && len(userID) > 0:
		ident.userID = string(userID)
	case err == nil || errors.Is(err, storage.ErrNotFound):
		ident.userID = newAnonymousID()
		ident.isNew = true
		b.store(ctx, identityUserKey, ident.userID)
	default:
		b.logger.WithError(err).Warn("Failed to read user id, treating visitor as new")
		metrics.StorageFailures.WithLabelValues("identity_read", "unavailable").Inc()
		ident.userID = newAnonymousID()
		ident.isNew = true
	}

	return ident
}

func (b *ContextBuilder) store(ctx context.Context, key, value string) {
	if err := b.identity.Set(ctx, key, []byte(value), b.keyTTL); err != nil {
		b.logger.WithError(err).WithField("key", key).Warn("Failed to persist visitor identity")
		metrics.StorageFailures.WithLabelValues("identity_write", storageFailureReason(err)).Inc()
	}
}

func (b *ContextBuilder) touchLocked() {
	b.current.LastInteraction = maxTime(b.now(), b.current.LastInteraction)
}

func newAnonymousID() string {
	return anonymousUserPrefix + uuid.NewString()
}

func isAnonymousID(id string) bool {
	return strings.HasPrefix(id, anonymousUserPrefix)
}

func storageFailureReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	default:
		return "unavailable"
	}
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// defaultNow drops the monotonic reading and location so timestamps survive
// a JSON round trip unchanged.
func defaultNow() time.Time {
	return time.Now().UTC().Round(0)
}
