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

package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

func point(i int) models.PollPoint {
	return models.PollPoint{Attempt: i, Timestamp: time.Unix(int64(i), 0)}
}

func TestBufferWrapsOldestFirst(t *testing.T) {
	b := NewBuffer(3)
	assert.Nil(t, b.GetLastPoint())
	assert.Empty(t, b.GetPoints())

	for i := 1; i <= 5; i++ {
		b.Add(point(i))
	}

	points := b.GetPoints()
	require.Len(t, points, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{points[0].Attempt, points[1].Attempt, points[2].Attempt})
	assert.Equal(t, 5, b.GetLastPoint().Attempt)
}

func TestBufferPartial(t *testing.T) {
	b := NewBuffer(0)
	b.Add(point(7))

	assert.Len(t, b.GetPoints(), 1)
	assert.Equal(t, 7, b.GetLastPoint().Attempt)
}

func result(p models.Protocol, ts time.Time, ok bool) models.ProbeResult {
	if ok {
		r := models.NewSuccess(p, ts, nil)
		r.Duration = models.Duration(20 * time.Millisecond)

		return r
	}

	return models.NewFailure(p, ts, models.ErrorKindTimeout, "no response")
}

func TestManagerRecordsHistory(t *testing.T) {
	m := NewManager(Config{Retention: 10}, nil, logger.NewTestLogger())
	now := time.Now()

	m.ObserveAttempt("SW-1", result(models.ProtocolSNMP, now, true))
	m.ObserveAttempt("SW-1", result(models.ProtocolSSH, now, false))

	history := m.History("SW-1")
	require.Len(t, history, 2)
	assert.True(t, history[0].Success)
	assert.Equal(t, models.ErrorKindTimeout, history[1].Kind)
	assert.Equal(t, models.ProtocolSSH, history[1].Protocol)
	assert.Equal(t, int64(1), m.ActiveDevices())
	assert.Nil(t, m.History("unknown"))

	m.Remove("SW-1")
	assert.Nil(t, m.History("SW-1"))
	assert.Equal(t, int64(0), m.ActiveDevices())
}

func TestManagerEvictsLeastRecentlyPolled(t *testing.T) {
	m := NewManager(Config{Retention: 2, MaxDevices: 2}, nil, logger.NewTestLogger())
	now := time.Now()

	m.ObserveAttempt("a", result(models.ProtocolSNMP, now, true))
	m.ObserveAttempt("b", result(models.ProtocolSNMP, now, true))
	m.ObserveAttempt("a", result(models.ProtocolSNMP, now, true))
	m.ObserveAttempt("c", result(models.ProtocolSNMP, now, true))

	assert.NotNil(t, m.History("a"))
	assert.Nil(t, m.History("b"))
	assert.NotNil(t, m.History("c"))
	assert.Equal(t, int64(2), m.ActiveDevices())
}

func TestManagerCleanupStale(t *testing.T) {
	m := NewManager(Config{}, nil, logger.NewTestLogger())
	now := time.Now()

	m.ObserveAttempt("old", result(models.ProtocolSNMP, now.Add(-time.Hour), true))
	m.ObserveAttempt("new", result(models.ProtocolSNMP, now, true))

	assert.Equal(t, 1, m.CleanupStale(10*time.Minute, now))
	assert.Nil(t, m.History("old"))
	assert.NotNil(t, m.History("new"))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}

	return out
}

func TestInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	inst, err := NewInstruments(provider.Meter("test"), func() Gauges {
		return Gauges{Sessions: 3, InFlight: 2, Waiting: 1}
	})
	require.NoError(t, err)

	m := NewManager(Config{}, inst, logger.NewTestLogger())
	now := time.Now()

	m.ObserveAttempt("a", result(models.ProtocolSNMP, now, true))
	m.ObserveAttempt("a", result(models.ProtocolSSH, now, false))
	m.ObserveAttempt("b", result(models.ProtocolSSH, now, false))

	data := collect(t, reader)

	attempts, ok := data["arnet.probe.attempts"].(metricdata.Sum[int64])
	require.True(t, ok)

	counts := map[string]int64{}

	for _, dp := range attempts.DataPoints {
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		protocol, _ := dp.Attributes.Value(attribute.Key("protocol"))
		counts[fmt.Sprintf("%s/%s", protocol.AsString(), outcome.AsString())] = dp.Value
	}

	assert.Equal(t, map[string]int64{"snmp/success": 1, "ssh/timeout": 2}, counts)

	for name, want := range map[string]int64{
		"arnet.sessions.active": 3,
		"arnet.polls.in_flight": 2,
		"arnet.polls.waiting":   1,
	} {
		gauge, ok := data[name].(metricdata.Gauge[int64])
		require.True(t, ok, name)
		require.Len(t, gauge.DataPoints, 1)
		assert.Equal(t, want, gauge.DataPoints[0].Value, name)
	}

	_, ok = data["arnet.probe.duration"].(metricdata.Histogram[float64])
	assert.True(t, ok)

	require.NoError(t, inst.Close())
}

func TestNewInstrumentsRequiresMeter(t *testing.T) {
	_, err := NewInstruments(nil, nil)
	require.ErrorIs(t, err, errNoMeter)
}
