package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/shopsense/internal/metrics"
	"github.com/temcen/shopsense/internal/storage"
	"github.com/temcen/shopsense/internal/validation"
	"github.com/temcen/shopsense/pkg/models"
)

const profileKeyPrefix = "profile:"

func ProfileKey(ownerID string) string {
	return profileKeyPrefix + ownerID
}

// ProfileStore holds one visitor's behavioral profile in memory and mirrors
// it to durable storage. Storage problems never surface to callers: reads
// fall back to an empty profile and failed writes are logged.
type ProfileStore struct {
	mu        sync.RWMutex
	store     storage.Store
	validator *validation.SchemaValidator
	keyTTL    time.Duration
	logger    *logrus.Logger
	now       func() time.Time

	key     string
	profile *models.BehavioralProfile
}

func NewProfileStore(store storage.Store, validator *validation.SchemaValidator, keyTTL time.Duration, logger *logrus.Logger) *ProfileStore {
	s := &ProfileStore{
		store:     store,
		validator: validator,
		keyTTL:    keyTTL,
		logger:    logger,
		now:       defaultNow,
	}
	s.profile = models.NewBehavioralProfile(s.now())
	return s
}

// Key returns the storage key of the profile currently held.
func (s *ProfileStore) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Load replaces the in-memory profile with the one stored for ownerID.
func (s *ProfileStore) Load(ctx context.Context, ownerID string) {
	key := ProfileKey(ownerID)
	loaded := s.read(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.profile = loaded
}

func (s *ProfileStore) read(ctx context.Context, key string) *models.BehavioralProfile {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to load behavioral profile, starting empty")
			metrics.StorageFailures.WithLabelValues("profile_read", storageFailureReason(err)).Inc()
		}
		return models.NewBehavioralProfile(s.now())
	}

	profile, err := s.decode(data)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Stored behavioral profile is corrupt, starting empty")
		metrics.StorageFailures.WithLabelValues("profile_read", "corrupt").Inc()
		return models.NewBehavioralProfile(s.now())
	}
	return profile
}

func (s *ProfileStore) decode(data []byte) (*models.BehavioralProfile, error) {
	if s.validator != nil {
		if result := s.validator.ValidateBehavioralProfile(data); !result.Valid {
			return nil, result.Err()
		}
	}

	var profile models.BehavioralProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	profile.EnsureSlices()
	if profile.SessionStart.IsZero() {
		profile.SessionStart = s.now()
	}
	return &profile, nil
}

// Persist writes the current profile. A failure is logged and returned but
// leaves the in-memory profile untouched.
func (s *ProfileStore) Persist(ctx context.Context) error {
	s.mu.RLock()
	key := s.key
	data, err := json.Marshal(s.profile)
	s.mu.RUnlock()

	if key == "" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	if err := s.store.Set(ctx, key, data, s.keyTTL); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to persist behavioral profile")
		metrics.StorageFailures.WithLabelValues("profile_write", storageFailureReason(err)).Inc()
		return fmt.Errorf("failed to persist profile: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current profile.
func (s *ProfileStore) Snapshot() *models.BehavioralProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Clone()
}

func (s *ProfileStore) RecordView(productID string) {
	s.mutate(func(p *models.BehavioralProfile) {
		if productID != "" {
			p.ViewedProducts = append(p.ViewedProducts, productID)
		}
	})
}

// RecordSearch stores the query NFC-normalized and trimmed; blank queries
// only refresh the timestamp.
func (s *ProfileStore) RecordSearch(query string) {
	normalized := strings.TrimSpace(norm.NFC.String(query))
	s.mutate(func(p *models.BehavioralProfile) {
		if normalized != "" {
			p.SearchQueries = append(p.SearchQueries, normalized)
		}
	})
}

// RecordCartChange adds or removes productID from the cart set.
func (s *ProfileStore) RecordCartChange(productID string, added bool) {
	s.mutate(func(p *models.BehavioralProfile) {
		if productID == "" {
			return
		}
		if added {
			p.ItemsInCart = appendUnique(p.ItemsInCart, productID)
			return
		}
		p.ItemsInCart = slices.DeleteFunc(p.ItemsInCart, func(id string) bool { return id == productID })
	})
}

// RecordPurchase adds every id to the purchase set. Purchased items leave the
// cart.
func (s *ProfileStore) RecordPurchase(productIDs []string) {
	s.mutate(func(p *models.BehavioralProfile) {
		for _, id := range productIDs {
			if id == "" {
				continue
			}
			p.PastPurchases = appendUnique(p.PastPurchases, id)
			p.ItemsInCart = slices.DeleteFunc(p.ItemsInCart, func(c string) bool { return c == id })
		}
	})
}

func (s *ProfileStore) RecordPageView(path string) {
	path = strings.TrimSpace(path)
	s.mutate(func(p *models.BehavioralProfile) {
		if path != "" {
			p.PagesViewed = append(p.PagesViewed, path)
		}
	})
}

// SetPreferences replaces the explicit category and price preferences. A nil
// priceRange clears the price preference.
func (s *ProfileStore) SetPreferences(categories []string, priceRange *models.PriceRange) error {
	if priceRange != nil {
		if err := priceRange.Validate(); err != nil {
			return err
		}
	}

	// Trim and dedupe categories
	cleaned := make([]string, 0, len(categories))
	for _, c := range categories {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = appendUnique(cleaned, c)
		}
	}

	s.mutate(func(p *models.BehavioralProfile) {
		p.PreferredCategories = cleaned
		if priceRange != nil {
			pr := *priceRange
			p.PreferredPriceRange = &pr
		} else {
			p.PreferredPriceRange = nil
		}
	})
	return nil
}

// Reset starts an empty profile owned by ownerID without touching what is
// stored under the previous key.
func (s *ProfileStore) Reset(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = ProfileKey(ownerID)
	s.profile = models.NewBehavioralProfile(s.now())
}

// SwitchKey persists the current profile, then loads the one stored for
// ownerID. With migrate set, the previous profile's history is merged into
// the loaded one and the result persisted.
func (s *ProfileStore) SwitchKey(ctx context.Context, ownerID string, migrate bool) {
	_ = s.Persist(ctx)

	previous := s.Snapshot()
	s.Load(ctx, ownerID)

	if !migrate {
		return
	}

	// Merge anonymous history into the loaded profile
	s.mutate(func(p *models.BehavioralProfile) {
		p.PagesViewed = append(p.PagesViewed, previous.PagesViewed...)
		p.ViewedProducts = append(p.ViewedProducts, previous.ViewedProducts...)
		p.SearchQueries = append(p.SearchQueries, previous.SearchQueries...)
		for _, id := range previous.ItemsInCart {
			p.ItemsInCart = appendUnique(p.ItemsInCart, id)
		}
		for _, id := range previous.PastPurchases {
			p.PastPurchases = appendUnique(p.PastPurchases, id)
		}
		for _, c := range previous.PreferredCategories {
			p.PreferredCategories = appendUnique(p.PreferredCategories, c)
		}
		if p.PreferredPriceRange == nil && previous.PreferredPriceRange != nil {
			pr := *previous.PreferredPriceRange
			p.PreferredPriceRange = &pr
		}
	})
	_ = s.Persist(ctx)
}

// Watch follows writes to the current key made by other holders of the same
// visitor and adopts those carrying a later interaction than what is held.
// The watch ends when ctx is done or the key changes.
func (s *ProfileStore) Watch(ctx context.Context) error {
	key := s.Key()
	if key == "" {
		return nil
	}

	changes, err := s.store.Watch(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to watch profile %s: %w", key, err)
	}

	go func() {
		for blob := range changes {
			if !s.adopt(key, blob) {
				continue
			}
			s.logger.WithField("key", key).Debug("Adopted behavioral profile written elsewhere")
		}
	}()

	return nil
}

func (s *ProfileStore) adopt(key string, blob []byte) bool {
	incoming, err := s.decode(blob)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Ignoring corrupt profile change notification")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != key {
		return false
	}
	// Echoes of our own writes are never newer than what is held.
	if !incoming.LastInteraction.After(s.profile.LastInteraction) {
		return false
	}
	// Identical content
	current, err := json.Marshal(s.profile)
	if err == nil && bytes.Equal(current, blob) {
		return false
	}
	s.profile = incoming
	return true
}

func (s *ProfileStore) mutate(fn func(p *models.BehavioralProfile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.profile)
	s.profile.LastInteraction = maxTime(s.now(), s.profile.LastInteraction)
}

func appendUnique(list []string, value string) []string {
	if slices.Contains(list, value) {
		return list
	}
	return append(list, value)
}
