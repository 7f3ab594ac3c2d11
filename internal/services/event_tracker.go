package services

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/metrics"
	"github.com/temcen/shopsense/pkg/models"
)

// EventTracker turns interactions into payloads and hands each one to every
// configured sink exactly once. Nothing is retried or queued, and no failure
// reaches the caller except through TrackResult. Sinks are called in
// parallel, each bounded by sinkTimeout.
type EventTracker struct {
	sinks       []EventSink
	sinkTimeout time.Duration
	logger      *logrus.Logger
	now         func() time.Time
}

const defaultSinkTimeout = 3 * time.Second

func NewEventTracker(logger *logrus.Logger, sinkTimeout time.Duration, sinks ...EventSink) *EventTracker {
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}
	return &EventTracker{
		sinks:       sinks,
		sinkTimeout: sinkTimeout,
		logger:      logger,
		now:         defaultNow,
	}
}

// Sinks returns the names of the configured sinks.
func (t *EventTracker) Sinks() []string {
	names := make([]string, 0, len(t.sinks))
	for _, s := range t.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Track records event. Identifiers missing from the event are taken from
// snapshot; with neither a user nor a session id the event is skipped.
func (t *EventTracker) Track(ctx context.Context, event models.TrackedEvent, snapshot models.UserContext) models.TrackResult {
	userID := firstNonEmpty(event.UserID, snapshot.UserID)
	sessionID := firstNonEmpty(event.SessionID, snapshot.SessionID)

	if userID == "" && sessionID == "" {
		t.logger.WithField("event_type", event.EventType).Warn("Dropping event without user or session id")
		metrics.TrackedEvents.WithLabelValues(string(event.EventType), string(models.TrackSkipped)).Inc()
		return models.TrackResult{Status: models.TrackSkipped, Reason: "missing user and session id"}
	}
	if !event.EventType.Valid() {
		t.logger.WithField("event_type", event.EventType).Warn("Dropping event of unknown type")
		metrics.TrackedEvents.WithLabelValues("unknown", string(models.TrackSkipped)).Inc()
		return models.TrackResult{Status: models.TrackSkipped, Reason: "unknown event type"}
	}

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = t.now()
	}

	// Build payload
	payload := models.InteractionPayload{
		UserID:       userID,
		SessionID:    sessionID,
		EventName:    string(event.EventType),
		ItemID:       event.ItemID,
		ItemCategory: event.ItemCategory,
		Value:        1,
		Metadata:     buildMetadata(event.Properties, timestamp, snapshot),
		Timestamp:    timestamp,
	}

	fields := logrus.Fields{
		"event_type": payload.EventName,
		"user_id":    payload.UserID,
		"item_id":    payload.ItemID,
	}

	// No sinks configured: the log line is the record
	if len(t.sinks) == 0 {
		t.logger.WithFields(fields).Info("Event recorded")
		metrics.TrackedEvents.WithLabelValues(payload.EventName, string(models.TrackLoggedOnly)).Inc()
		return models.TrackResult{Status: models.TrackLoggedOnly}
	}

	// Deliver to every sink
	errs := t.deliver(ctx, payload)

	result := models.TrackResult{Sinks: make(map[string]string, len(t.sinks))}
	delivered := 0
	for i, sink := range t.sinks {
		if err := errs[i]; err != nil {
			t.logger.WithError(err).WithFields(fields).WithField("sink", sink.Name()).Warn("Failed to deliver event")
			metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			result.Sinks[sink.Name()] = err.Error()
			continue
		}
		result.Sinks[sink.Name()] = "ok"
		delivered++
	}

	if delivered == 0 {
		result.Status = models.TrackFailed
	} else {
		result.Status = models.TrackDelivered
	}

	metrics.TrackedEvents.WithLabelValues(payload.EventName, string(result.Status)).Inc()
	return result
}

// deliver hands payload to every sink at once and returns each sink's error
// by position.
func (t *EventTracker) deliver(ctx context.Context, payload models.InteractionPayload) []error {
	errs := make([]error, len(t.sinks))

	var wg sync.WaitGroup
	for i, sink := range t.sinks {
		wg.Add(1)
		go func(i int, sink EventSink) {
			defer wg.Done()

			sinkCtx, cancel := context.WithTimeout(ctx, t.sinkTimeout)
			defer cancel()

			err := sink.Deliver(sinkCtx, payload)
			if err == nil && sinkCtx.Err() != nil {
				err = sinkCtx.Err()
			}
			errs[i] = err
		}(i, sink)
	}
	wg.Wait()

	return errs
}

func (t *EventTracker) ViewItem(ctx context.Context, snapshot models.UserContext, itemID, category string, props map[string]interface{}) models.TrackResult {
	return t.Track(ctx, models.TrackedEvent{
		EventType:    models.EventView,
		ItemID:       itemID,
		ItemCategory: category,
		Properties:   props,
	}, snapshot)
}

func (t *EventTracker) ClickItem(ctx context.Context, snapshot models.UserContext, itemID, category string, props map[string]interface{}) models.TrackResult {
	return t.Track(ctx, models.TrackedEvent{
		EventType:    models.EventClick,
		ItemID:       itemID,
		ItemCategory: category,
		Properties:   props,
	}, snapshot)
}

func (t *EventTracker) AddToCart(ctx context.Context, snapshot models.UserContext, itemID, category string, quantity int, props map[string]interface{}) models.TrackResult {
	if quantity <= 0 {
		quantity = 1
	}
	return t.Track(ctx, models.TrackedEvent{
		EventType:    models.EventAddToCart,
		ItemID:       itemID,
		ItemCategory: category,
		Properties:   withProps(props, map[string]interface{}{"quantity": quantity}),
	}, snapshot)
}

// Purchase reports an order; the order id travels as the item id.
func (t *EventTracker) Purchase(ctx context.Context, snapshot models.UserContext, orderID string, items []models.PurchaseItem, total float64, props map[string]interface{}) models.TrackResult {
	return t.Track(ctx, models.TrackedEvent{
		EventType: models.EventPurchase,
		ItemID:    orderID,
		Properties: withProps(props, map[string]interface{}{
			"order_id": orderID,
			"items":    items,
			"total":    total,
			"currency": models.DefaultCurrency,
		}),
	}, snapshot)
}

func (t *EventTracker) Search(ctx context.Context, snapshot models.UserContext, query string, resultsCount int, props map[string]interface{}) models.TrackResult {
	return t.Track(ctx, models.TrackedEvent{
		EventType: models.EventSearch,
		Properties: withProps(props, map[string]interface{}{
			"query":         query,
			"results_count": resultsCount,
		}),
	}, snapshot)
}

func (t *EventTracker) Login(ctx context.Context, snapshot models.UserContext, method string, props map[string]interface{}) models.TrackResult {
	return t.Track(ctx, models.TrackedEvent{
		EventType:  models.EventLogin,
		Properties: withProps(props, map[string]interface{}{"method": method}),
	}, snapshot)
}

func (t *EventTracker) Signup(ctx context.Context, snapshot models.UserContext, method string, props map[string]interface{}) models.TrackResult {
	return t.Track(ctx, models.TrackedEvent{
		EventType:  models.EventSignup,
		Properties: withProps(props, map[string]interface{}{"method": method}),
	}, snapshot)
}

func (t *EventTracker) PageView(ctx context.Context, snapshot models.UserContext, path string, props map[string]interface{}) models.TrackResult {
	return t.Track(ctx, models.TrackedEvent{
		EventType:  models.EventPageView,
		Properties: withProps(props, map[string]interface{}{"path": path}),
	}, snapshot)
}

func buildMetadata(props map[string]interface{}, timestamp time.Time, snapshot models.UserContext) map[string]interface{} {
	metadata := make(map[string]interface{}, len(props)+2)
	maps.Copy(metadata, props)
	metadata["timestamp"] = timestamp

	ctxMeta := map[string]interface{}{
		"device_type": snapshot.DeviceType,
		"time_of_day": snapshot.TimeOfDay,
		"referrer":    snapshot.Referrer,
		"is_new_user": snapshot.IsNewUser,
	}
	if snapshot.Location != nil {
		ctxMeta["timezone"] = snapshot.Location.Timezone
	}
	metadata["context"] = ctxMeta

	return metadata
}

// withProps returns caller properties with the wrapper's fields on top.
func withProps(props, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props)+len(fields))
	maps.Copy(out, props)
	maps.Copy(out, fields)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
