// Package notify tells operators that a new intake is waiting. Messages
// carry only non-identifying case facts.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"intakehub/internal/intake/service"
)

// Publisher delivers one message and waits for the broker.
type Publisher interface {
	PublishSync(ctx context.Context, topic string, key, value []byte) error
}

// KafkaNotifier publishes new-intake events keyed by district so one
// district's events stay ordered on a partition.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
}

func NewKafka(publisher Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic}
}

func (n *KafkaNotifier) NotifyNewIntake(ctx context.Context, event service.NewIntakeEvent) error {
	value, err := json.Marshal(envelope{Type: eventNewIntake, Event: event})
	if err != nil {
		return fmt.Errorf("marshal intake event: %w", err)
	}
	if err := n.publisher.PublishSync(ctx, n.topic, []byte(event.DistrictCode), value); err != nil {
		return fmt.Errorf("publish intake event: %w", err)
	}
	return nil
}

const eventNewIntake = "intake.submitted"

type envelope struct {
	Type  string                 `json:"type"`
	Event service.NewIntakeEvent `json:"event"`
}

// LogNotifier writes events to the structured log. Used when no broker is
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyNewIntake(ctx context.Context, event service.NewIntakeEvent) error {
	level := slog.LevelInfo
	if event.SafetyConcern {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "new intake submitted",
		"case_id", event.CaseID,
		"district_code", event.DistrictCode,
		"school_code", event.SchoolCode,
		"opt_in_type", event.OptInType,
		"immediate_safety_concern", event.SafetyConcern,
	)
	return nil
}
