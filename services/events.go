package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	EventMatchCreated     = "match.created"
	EventMatchJoined      = "match.joined"
	EventMatchExpired     = "match.expired"
	EventMatchInvalidated = "match.invalidated"
)

// MatchEvent is the payload written to the match event stream.
type MatchEvent struct {
	Type       string    `json:"type"`
	MatchID    string    `json:"matchId,omitempty"`
	MatchType  string    `json:"matchType,omitempty"`
	PlayerID   string    `json:"playerId,omitempty"`
	Host       string    `json:"host,omitempty"`
	Port       int       `json:"port,omitempty"`
	Count      int64     `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher delivers match lifecycle events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event MatchEvent) error
	Close() error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	Writer MessageWriter
	Logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
		Logger: logger,
	}
}

// Publish keys messages by match id so one match's events stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, event MatchEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.MatchID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		p.Logger.Warn("failed to publish match event", "type", event.Type, "match_id", event.MatchID, "error", err)
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.Writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, MatchEvent) error { return nil }
func (NopPublisher) Close() error { return nil }

// NewEventPublisher picks Kafka when brokers are configured.
func NewEventPublisher(brokers []string, topic string, logger *slog.Logger) EventPublisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic, logger)
}
