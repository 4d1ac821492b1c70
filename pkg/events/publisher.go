// Package events publishes health transition CloudEvents to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	healthTransitionType = "com.mindhaven.vitals.health.transition"
	eventSource          = "vitals/core"
	subjectPrefix        = "events.health."
)

// Publisher publishes CloudEvents to a NATS JetStream stream.
type Publisher struct {
	js     jetstream.JetStream
	stream string
	logger logger.Logger
}

// NewPublisher creates a Publisher for the specified stream.
func NewPublisher(js jetstream.JetStream, streamName string, log logger.Logger) *Publisher {
	return &Publisher{
		js:     js,
		stream: streamName,
		logger: log,
	}
}

// PublishHealthTransition publishes a service state change as a
// CloudEvent. The subject is derived from the service name so stream
// consumers can filter per service.
func (p *Publisher) PublishHealthTransition(ctx context.Context, previous models.HealthStatus, result *models.HealthCheckResult) error {
	event := healthTransitionEvent(previous, result)

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal health transition event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish health transition event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", event.Subject).
		Uint64("sequence", ack.Sequence).
		Msg("Published health transition event")

	return nil
}

func healthTransitionEvent(previous models.HealthStatus, result *models.HealthCheckResult) models.CloudEvent {
	data := models.HealthEventData{
		ServiceName:   result.ServiceName,
		ServiceType:   result.ServiceType,
		PreviousState: previous,
		CurrentState:  result.Status,
		ResponseTime:  result.ResponseTime,
		ErrorMessage:  result.ErrorMessage,
		Timestamp:     result.Timestamp,
	}

	return models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            healthTransitionType,
		DataContentType: "application/json",
		Subject:         subjectPrefix + result.ServiceName,
		Time:            &data.Timestamp,
		Data:            data,
	}
}

// Connect dials NATS, ensures the event stream exists, and returns a
// Publisher bound to it. The caller owns the returned connection.
func Connect(ctx context.Context, natsCfg *models.NATSConfig, eventsCfg *models.EventsConfig, log logger.Logger) (*Publisher, *nats.Conn, error) {
	nc, err := nats.Connect(natsCfg.URL,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS async error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.Stream(ctx, eventsCfg.StreamName); err != nil {
		streamConfig := jetstream.StreamConfig{
			Name:     eventsCfg.StreamName,
			Subjects: eventsCfg.Subjects,
		}

		if _, err := js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create or get stream %s: %w", eventsCfg.StreamName, err)
		}

		log.Info().Str("stream", eventsCfg.StreamName).Msg("Created NATS JetStream stream")
	}

	return NewPublisher(js, eventsCfg.StreamName, log), nc, nil
}
