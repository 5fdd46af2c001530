package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

var errTestFixture = errors.New("fixture error")

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  "events.arnet.health",
			want:     []string{"events.arnet.health"},
		},
		{
			name:     "keeps list when wildcard matches",
			subjects: []string{"events.arnet.*"},
			subject:  "events.arnet.health",
			want:     []string{"events.arnet.*"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{"events.>"},
			subject:  "events.arnet.health",
			want:     []string{"events.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"logs.syslog.*"},
			subject:  "events.arnet.health",
			want:     []string{"logs.syslog.*", "events.arnet.health"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)

			if len(result) != len(tc.want) {
				t.Fatalf("expected %d subjects, got %d", len(tc.want), len(result))
			}

			for i := range tc.want {
				if tc.want[i] != result[i] {
					t.Fatalf("result[%d] = %q, want %q", i, result[i], tc.want[i])
				}
			}
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "events.arnet.health", "events.arnet.health", true},
		{"single wildcard", "events.*.health", "events.arnet.health", true},
		{"greater wildcard", "events.>", "events.arnet.health", true},
		{"no match length", "events.*", "events.arnet.health", false},
		{"no match tokens", "logs.syslog.*", "events.arnet.health", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := matchesSubject(tc.pattern, tc.subject); got != tc.expected {
				t.Fatalf("matchesSubject(%q, %q) = %t, want %t", tc.pattern, tc.subject, got, tc.expected)
			}
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isStreamMissingErr(tc.err); got != tc.expected {
				t.Fatalf("isStreamMissingErr(%v) = %t, want %t", tc.err, got, tc.expected)
			}
		})
	}
}

func TestEnsureSubjectListIgnoresEmptySubject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"events.>"}, ensureSubjectList([]string{"events.>"}, ""))
}

type publishedMsg struct {
	subject string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publishedMsg
	err  error
	seq  uint64
}

func (f *fakePublisher) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.seq++
	f.msgs = append(f.msgs, publishedMsg{subject: subject, payload: payload})

	return &jetstream.PubAck{Stream: "events", Sequence: f.seq}, nil
}

func (f *fakePublisher) published() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]publishedMsg(nil), f.msgs...)
}

func TestPublishHealthEvent(t *testing.T) {
	t.Parallel()

	js := &fakePublisher{}
	pub := NewEventPublisher(js, "", logger.NewTestLogger())

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := models.HealthEvent{
		DeviceID:       "SW-0042",
		PreviousHealth: models.HealthHealthy,
		NewHealth:      models.HealthUnreachable,
		Timestamp:      ts,
	}

	require.NoError(t, pub.PublishHealthEvent(context.Background(), ev))

	msgs := js.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.DefaultHealthSubject, msgs[0].subject)

	var decoded struct {
		SpecVersion string          `json:"specversion"`
		ID          string          `json:"id"`
		Type        string          `json:"type"`
		Subject     string          `json:"subject"`
		Time        time.Time       `json:"time"`
		Data        HealthEventData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].payload, &decoded))

	assert.Equal(t, "1.0", decoded.SpecVersion)
	assert.NotEmpty(t, decoded.ID)
	assert.Equal(t, healthEventType, decoded.Type)
	assert.Equal(t, "SW-0042", decoded.Subject)
	assert.True(t, ts.Equal(decoded.Time))
	assert.Equal(t, models.HealthUnreachable, decoded.Data.NewHealth)
	assert.Equal(t, models.HealthHealthy, decoded.Data.PreviousHealth)
	assert.Equal(t, "error", decoded.Data.Severity)
}

func TestPublishHealthEventError(t *testing.T) {
	t.Parallel()

	pub := NewEventPublisher(&fakePublisher{err: errTestFixture}, "custom.health", logger.NewTestLogger())

	err := pub.PublishHealthEvent(context.Background(), models.HealthEvent{DeviceID: "x"})
	require.ErrorIs(t, err, errTestFixture)
}

func TestForward(t *testing.T) {
	t.Parallel()

	js := &fakePublisher{}
	pub := NewEventPublisher(js, "custom.health", logger.NewTestLogger())

	events := make(chan models.HealthEvent, 3)
	events <- models.HealthEvent{DeviceID: "a", NewHealth: models.HealthHealthy}
	events <- models.HealthEvent{DeviceID: "b", NewHealth: models.HealthDegraded}
	close(events)

	require.NoError(t, pub.Forward(context.Background(), events))

	msgs := js.published()
	require.Len(t, msgs, 2)
	assert.Equal(t, "custom.health", msgs[1].subject)
}

func TestForwardStopsOnCancel(t *testing.T) {
	t.Parallel()

	pub := NewEventPublisher(&fakePublisher{err: errTestFixture}, "", logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan models.HealthEvent, 1)
	events <- models.HealthEvent{DeviceID: "a"}

	done := make(chan error, 1)

	go func() { done <- pub.Forward(ctx, events) }()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after cancel")
	}
}

func TestSeverityForHealth(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "error", getSeverityForHealth(models.HealthUnreachable))
	assert.Equal(t, "warning", getSeverityForHealth(models.HealthDegraded))
	assert.Equal(t, "notice", getSeverityForHealth(models.HealthUnknown))
	assert.Equal(t, "info", getSeverityForHealth(models.HealthHealthy))
}

func TestTLSConfigRequiresMTLS(t *testing.T) {
	t.Parallel()

	_, err := TLSConfig(nil)
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.SecurityConfig{Mode: models.SecurityModeNone})
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.SecurityConfig{Mode: models.SecurityModeMTLS, CertDir: t.TempDir(),
		TLS: models.TLSConfig{CertFile: "missing.pem", KeyFile: "missing-key.pem"}})
	require.Error(t, err)
}
