package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/pkg/models"
)

const UserInteractionsTopic = "user-interactions"

type InteractionMessage struct {
	Interaction models.InteractionPayload `json:"interaction"`
	PublishedAt time.Time                 `json:"published_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// InteractionPublisher streams tracked interactions to Kafka, keyed by user
// so one visitor's events stay ordered within a partition.
type InteractionPublisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
	logger       *logrus.Logger
}

func NewInteractionPublisher(cfg *config.Config, logger *logrus.Logger) *InteractionPublisher {
	topic := cfg.Kafka.Topics.UserInteractions
	if topic == "" {
		topic = UserInteractionsTopic
	}

	return &InteractionPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
		topic:        topic,
		writeTimeout: cfg.Kafka.WriteTimeout,
		logger:       logger,
	}
}

func (p *InteractionPublisher) Name() string { return "kafka" }

func (p *InteractionPublisher) Deliver(ctx context.Context, payload models.InteractionPayload) error {
	// Create message
	message := InteractionMessage{
		Interaction: payload,
		PublishedAt: time.Now(),
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction: %w", err)
	}

	// Partition by user, or by session for anonymous visitors
	key := payload.UserID
	if key == "" {
		key = payload.SessionID
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(key),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "event_name", Value: []byte(payload.EventName)},
			{Key: "timestamp", Value: []byte(payload.Timestamp.Format(time.RFC3339))},
		},
	}

	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}

	// Send to Kafka
	if err := p.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to publish interaction to %s: %w", p.topic, err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_name": payload.EventName,
		"user_id":    payload.UserID,
		"topic":      p.topic,
	}).Debug("Interaction published")

	return nil
}

func (p *InteractionPublisher) Close() error {
	return p.writer.Close()
}
