package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"bloodmatch/pkg/kafka"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"
)

const (
	SourceName    = "bloodmatch"
	SchemaVersion = "1"

	// HeaderSequence carries model.Event.Sequence so consumers can drop
	// events that arrive after a later one for the same request.
	HeaderSequence = "sequence"
)

// MessagePublisher is the part of kafka.Producer the forwarder needs.
type MessagePublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// Forwarder relays engine events to the outbound Kafka topic, keyed by
// request id so each request's events stay ordered within a partition.
type Forwarder struct {
	producer MessagePublisher
	timeout  time.Duration
	log      *logger.Logger
}

func NewForwarder(producer MessagePublisher, timeout time.Duration, log *logger.Logger) *Forwarder {
	return &Forwarder{
		producer: producer,
		timeout:  timeout,
		log:      log,
	}
}

// Handle is an events.Handler.
func (f *Forwarder) Handle(ctx context.Context, event model.Event) error {
	builder := kafka.NewMessage().
		WithKey(event.RequestID).
		WithEventID(event.ID).
		WithEventType(string(event.Type)).
		WithSource(SourceName).
		WithSchemaVersion(SchemaVersion).
		WithTimestamp(event.Timestamp).
		WithHeader(HeaderSequence, strconv.FormatUint(event.Sequence, 10)).
		WithValue(event)
	if err := builder.Err(); err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	if err := f.producer.Publish(ctx, builder.Build()); err != nil {
		return fmt.Errorf("failed to forward event %s: %w", event.ID, err)
	}
	f.log.Debug("Event forwarded",
		"event_id", event.ID,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)
	return nil
}
