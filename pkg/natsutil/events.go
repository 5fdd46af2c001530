package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

const (
	healthEventSource = "arnet/orchestrator"
	healthEventType   = "com.carverauto.arnet.device.health"
)

// getSeverityForHealth maps device health to event severity strings.
func getSeverityForHealth(h models.Health) string {
	switch h {
	case models.HealthUnreachable:
		return "error"
	case models.HealthDegraded:
		return "warning"
	case models.HealthUnknown:
		return "notice"
	case models.HealthHealthy:
		return "info"
	default:
		return "info"
	}
}

// HealthEventData is the CloudEvent payload for a device health transition.
type HealthEventData struct {
	models.HealthEvent

	Severity string `json:"severity"`
}

// Publisher is the subset of jetstream.JetStream used for publishing.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher publishes device health transitions as CloudEvents to NATS JetStream.
type EventPublisher struct {
	js      Publisher
	subject string
	logger  logger.Logger
}

// NewEventPublisher creates an EventPublisher that publishes on subject.
func NewEventPublisher(js Publisher, subject string, log logger.Logger) *EventPublisher {
	if subject == "" {
		subject = models.DefaultHealthSubject
	}

	return &EventPublisher{
		js:      js,
		subject: subject,
		logger:  log,
	}
}

// PublishHealthEvent publishes one health transition. The CloudEvent id doubles as the JetStream
// message id so redelivered publishes are deduplicated by the server.
func (p *EventPublisher) PublishHealthEvent(ctx context.Context, ev models.HealthEvent) error {
	ts := ev.Timestamp

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          healthEventSource,
		Type:            healthEventType,
		DataContentType: "application/json",
		Subject:         ev.DeviceID,
		Time:            &ts,
		Data:            HealthEventData{HealthEvent: ev, Severity: getSeverityForHealth(ev.NewHealth)},
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal device health event: %w", err)
	}

	ack, err := p.js.Publish(ctx, p.subject, eventBytes, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish device health event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", p.subject).
		Str("device_id", ev.DeviceID).
		Uint64("seq", ack.Sequence).
		Msg("Published health event")

	return nil
}

// Forward publishes every event from events until ctx is done or events is closed.
// Publish failures are logged and do not stop forwarding.
func (p *EventPublisher) Forward(ctx context.Context, events <-chan models.HealthEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			if err := p.PublishHealthEvent(ctx, ev); err != nil {
				p.logger.Warn().Err(err).Str("device_id", ev.DeviceID).Msg("Dropping health event")
			}
		}
	}
}

// ConnectWithSecurity creates a NATS connection with security configuration.
func ConnectWithSecurity(cfg *models.NATSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{nats.Name("arnet")}

	if cfg.Security != nil && cfg.Security.Mode == models.SecurityModeMTLS {
		tlsConf, err := TLSConfig(cfg.Security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CreateEventPublisher creates a JetStream context on nc (in domain, when set), makes sure the
// events stream captures the health subject and returns a publisher for it.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, domain string, events *models.EventsConfig,
	log logger.Logger) (*EventPublisher, error) {
	var (
		js  jetstream.JetStream
		err error
	)

	if domain != "" {
		js, err = jetstream.NewWithDomain(nc, domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, events.StreamName, ensureSubjectList(events.Subjects, events.HealthSubject), log); err != nil {
		return nil, err
	}

	return NewEventPublisher(js, events.HealthSubject, log), nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name string, subjects []string, log logger.Logger) error {
	stream, err := js.Stream(ctx, name)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", name, err)
		}

		if _, err := js.CreateStream(ctx, jetstream.StreamConfig{Name: name, Subjects: subjects}); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		log.Info().Str("stream", name).Strs("subjects", subjects).Msg("Created NATS JetStream stream")

		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream %s: %w", name, err)
	}

	merged := append([]string(nil), info.Config.Subjects...)
	for _, s := range subjects {
		merged = ensureSubjectList(merged, s)
	}

	if len(merged) == len(info.Config.Subjects) {
		return nil
	}

	cfg := info.Config
	cfg.Subjects = merged

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add subjects to stream %s: %w", name, err)
	}

	log.Info().Str("stream", name).Strs("subjects", merged).Msg("Updated NATS JetStream stream subjects")

	return nil
}

// ensureSubjectList appends subject unless an existing entry already matches it.
func ensureSubjectList(subjects []string, subject string) []string {
	if subject == "" {
		return subjects
	}

	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether the NATS subject pattern (with * and > wildcards) covers subject.
func matchesSubject(pattern, subject string) bool {
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, tok := range pTokens {
		if tok == ">" {
			return i < len(sTokens)
		}

		if i >= len(sTokens) {
			return false
		}

		if tok != "*" && tok != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
