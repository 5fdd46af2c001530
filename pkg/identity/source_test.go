/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}

	return out
}

func TestReaderSource(t *testing.T) {
	input := strings.Join([]string{
		`{"device_id":"SW1","ip":"192.168.1.2"}`,
		``,
		`garbage`,
		`{"device_id":"R1","ip":"10.0.0.1"}`,
	}, "\n")

	enricher := &MapEnricher{Map: DeviceMap{"SW1": {Type: "switch", Model: "Cisco 2960"}}}
	src := NewReaderSource("stdin", strings.NewReader(input), enricher, logger.NewTestLogger())
	assert.Equal(t, "stdin", src.Name())

	out := make(chan Event, 8)
	require.NoError(t, src.Run(context.Background(), out))
	close(out)

	events := collect(out)
	require.Len(t, events, 3)

	assert.NoError(t, events[0].Err)
	assert.Equal(t, models.DeviceKindSwitch, events[0].Identity.Kind)
	assert.Equal(t, "Cisco 2960", events[0].Identity.Model)
	assert.Equal(t, "stdin", events[0].Source)
	assert.False(t, events[0].ReceivedAt.IsZero())

	require.ErrorIs(t, events[1].Err, errMalformedJSON)
	assert.Equal(t, []byte("garbage"), events[1].Raw)

	assert.Equal(t, "R1", events[2].Identity.DeviceID)
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}

func TestReaderSourceStopsOnCancel(t *testing.T) {
	src := NewReaderSource("stdin", blockingReader{}, nil, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- src.Run(ctx, make(chan Event)) }()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reader source did not stop")
	}
}

type fakeSubscriber struct {
	subject string
	ch      chan chan *nats.Msg
	err     error
}

func (f *fakeSubscriber) ChanSubscribe(subj string, ch chan *nats.Msg) (*nats.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.subject = subj
	f.ch <- ch

	return nil, nil
}

func TestNATSSource(t *testing.T) {
	sub := &fakeSubscriber{ch: make(chan chan *nats.Msg, 1)}
	src := NewNATSSource(sub, "", nil, logger.NewTestLogger())
	assert.Equal(t, "nats:"+DefaultSubject, src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Event, 4)
	done := make(chan error, 1)

	go func() { done <- src.Run(ctx, out) }()

	msgs := <-sub.ch
	assert.Equal(t, DefaultSubject, sub.subject)

	msgs <- &nats.Msg{Subject: "arnet.identity.cam1", Data: []byte(`{"device_id":"R1","ip":"10.0.0.1"}`)}
	msgs <- &nats.Msg{Subject: "arnet.identity.cam1", Data: []byte(`{"ip":"10.0.0.1"}`)}

	first := <-out
	require.NoError(t, first.Err)
	assert.Equal(t, "R1", first.Identity.DeviceID)
	assert.Equal(t, "nats:arnet.identity.cam1", first.Source)

	second := <-out
	require.ErrorIs(t, second.Err, errMissingDeviceID)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestNATSSourceSubscribeError(t *testing.T) {
	src := NewNATSSource(&fakeSubscriber{err: nats.ErrConnectionClosed}, "arnet.identity.lab", nil, logger.NewTestLogger())

	err := src.Run(context.Background(), make(chan Event))
	require.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestMerge(t *testing.T) {
	a := NewReaderSource("a", strings.NewReader(`{"device_id":"A","ip":"10.0.0.1"}`), nil, logger.NewTestLogger())
	b := NewReaderSource("b", strings.NewReader(`{"device_id":"B","ip":"10.0.0.2"}`), nil, logger.NewTestLogger())

	out := make(chan Event, 4)
	require.NoError(t, Merge(context.Background(), out, logger.NewTestLogger(), a, b))
	close(out)

	ids := map[string]bool{}
	for _, ev := range collect(out) {
		ids[ev.Identity.DeviceID] = true
	}

	assert.Equal(t, map[string]bool{"A": true, "B": true}, ids)
}

func TestMergeKeepsOtherSourcesRunning(t *testing.T) {
	broken := NewNATSSource(&fakeSubscriber{err: errors.New("no route")}, "x", nil, logger.NewTestLogger())
	healthy := NewReaderSource("healthy", strings.NewReader(`{"device_id":"A","ip":"10.0.0.1"}`), nil, logger.NewTestLogger())

	out := make(chan Event, 4)
	err := Merge(context.Background(), out, logger.NewTestLogger(), broken, healthy)
	close(out)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route")

	events := collect(out)
	require.Len(t, events, 1)
	assert.Equal(t, "A", events[0].Identity.DeviceID)
}

func TestMergeIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stuck := NewReaderSource("stuck", blockingReader{}, nil, logger.NewTestLogger())
	require.NoError(t, Merge(ctx, make(chan Event), logger.NewTestLogger(), stuck))
}

func TestReaderSourceSkipsOversizedLine(t *testing.T) {
	input := strings.Repeat("x", 70*1024) + "\n" +
		`{"device_id":"TL-WR940N","ip":"10.0.0.1"}` + "\n" +
		strings.Repeat("y", 3*maxPayloadBytes)

	src := NewReaderSource("stdin", strings.NewReader(input), nil, logger.NewTestLogger())

	out := make(chan Event, 8)
	require.NoError(t, src.Run(context.Background(), out))
	close(out)

	events := collect(out)
	require.Len(t, events, 3)

	require.ErrorIs(t, events[0].Err, errPayloadTooLarge)
	assert.Len(t, events[0].Raw, rejectedPrefixBytes)

	require.NoError(t, events[1].Err)
	assert.Equal(t, "TL-WR940N", events[1].Identity.DeviceID)
	assert.Equal(t, "10.0.0.1", events[1].Identity.Address)

	require.ErrorIs(t, events[2].Err, errPayloadTooLarge)
}
