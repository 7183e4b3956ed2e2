package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	eventStreamName    = "TASK_EVENTS"
	eventSubjectPrefix = "task.event."
	eventStreamMaxAge  = 24 * time.Hour
)

// NATSSink forwards task lifecycle events to a JetStream stream so external
// dashboards can consume them without touching the scheduler.
type NATSSink struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSSink creates the sink and ensures the event stream exists
func NewNATSSink(js nats.JetStreamContext, logger *zap.Logger) (*NATSSink, error) {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     eventStreamName,
		Subjects: []string{eventSubjectPrefix + "*"},
		Storage:  nats.FileStorage,
		MaxAge:   eventStreamMaxAge,
		MaxMsgs:  -1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return nil, fmt.Errorf("failed to create event stream: %w", err)
	}

	return &NATSSink{
		logger: logger.Named("nats-sink"),
		js:     js,
	}, nil
}

// Handle publishes one event. It is meant to be attached via Bus.SubscribeAll,
// so publish failures are logged, never surfaced to the scheduler.
func (s *NATSSink) Handle(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("Failed to marshal event",
			zap.String("event_type", string(evt.Type)),
			zap.Error(err))
		return
	}

	subject := eventSubjectPrefix + string(evt.Type)
	if _, err := s.js.Publish(subject, data); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("task_id", evt.Task.ID),
			zap.Error(err))
	}
}
