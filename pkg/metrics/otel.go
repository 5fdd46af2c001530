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
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/arnet/pkg/models"
)

var errNoMeter = errors.New("meter is required")

// Instruments holds the OpenTelemetry instruments arnet reports.
type Instruments struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
	reg      metric.Registration
}

// NewInstruments creates the instruments on meter. When gauges is non-nil, its values are
// reported as observable gauges on every collection.
func NewInstruments(meter metric.Meter, gauges GaugeSource) (*Instruments, error) {
	if meter == nil {
		return nil, errNoMeter
	}

	attempts, err := meter.Int64Counter("arnet.probe.attempts",
		metric.WithDescription("Poll attempts by protocol and outcome"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create attempts counter: %w", err)
	}

	duration, err := meter.Float64Histogram("arnet.probe.duration",
		metric.WithDescription("Wall time of one poll attempt"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	inst := &Instruments{attempts: attempts, duration: duration}

	if gauges == nil {
		return inst, nil
	}

	sessions, err := meter.Int64ObservableGauge("arnet.sessions.active",
		metric.WithDescription("Devices with a live diagnostic session"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions gauge: %w", err)
	}

	inFlight, err := meter.Int64ObservableGauge("arnet.polls.in_flight",
		metric.WithDescription("Poll attempts holding an admission slot"))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight gauge: %w", err)
	}

	waiting, err := meter.Int64ObservableGauge("arnet.polls.waiting",
		metric.WithDescription("Poll attempts queued for an admission slot"))
	if err != nil {
		return nil, fmt.Errorf("failed to create waiting gauge: %w", err)
	}

	inst.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		g := gauges()
		o.ObserveInt64(sessions, g.Sessions)
		o.ObserveInt64(inFlight, g.InFlight)
		o.ObserveInt64(waiting, g.Waiting)

		return nil
	}, sessions, inFlight, waiting)
	if err != nil {
		return nil, fmt.Errorf("failed to register gauge callback: %w", err)
	}

	return inst, nil
}

// Record reports one poll attempt.
func (i *Instruments) Record(ctx context.Context, result models.ProbeResult) {
	outcome := "success"
	if !result.Success {
		outcome = string(result.FailureKind())
	}

	attrs := metric.WithAttributes(
		attribute.String("protocol", string(result.Protocol)),
		attribute.String("outcome", outcome),
	)

	i.attempts.Add(ctx, 1, attrs)
	i.duration.Record(ctx, time.Duration(result.Duration).Seconds(), attrs)
}

// Close unregisters the gauge callback.
func (i *Instruments) Close() error {
	if i.reg == nil {
		return nil
	}

	return i.reg.Unregister()
}
