package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"coinrounds/internal/game"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes lifecycle events keyed by game id, so one game's events
// stay ordered within a partition.
type Kafka struct {
	w     messageWriter
	topic string
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			WriteTimeout:           5 * time.Second,
		},
		topic: topic,
	}
}

func (k *Kafka) Publish(ctx context.Context, ev game.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(strconv.FormatInt(ev.GameID, 10)),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", ev.Type, k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

type Nop struct{}

func (Nop) Publish(context.Context, game.Event) error { return nil }

func (Nop) Close() error { return nil }
