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

// Package probe implements the protocol clients used to diagnose a single device.
package probe

//go:generate mockgen -destination=mock_probe.go -package=probe github.com/carverauto/arnet/pkg/probe DiagnosticProbe

import (
	"context"
	"fmt"
	"time"

	"github.com/carverauto/arnet/pkg/models"
)

// DiagnosticProbe is one protocol-specific diagnostic check. Implementations must honor ctx
// themselves (closing the underlying transport on cancellation) and must classify every
// failure into a models.ErrorKind.
type DiagnosticProbe interface {
	Protocol() models.Protocol
	Poll(ctx context.Context, address string, creds models.Credentials, spec models.ProbeSpec) models.ProbeResult
}

// Set is the closed collection of probes available to sessions, keyed by protocol.
type Set map[models.Protocol]DiagnosticProbe

// NewSet builds a Set from the given probes. A later probe replaces an earlier one with
// the same protocol.
func NewSet(probes ...DiagnosticProbe) Set {
	s := make(Set, len(probes))

	for _, p := range probes {
		s[p.Protocol()] = p
	}

	return s
}

// Get returns the probe for protocol p.
func (s Set) Get(p models.Protocol) (DiagnosticProbe, bool) {
	probe, ok := s[p]

	return probe, ok
}

// Run polls through p and converts a panic inside the probe, or a failed result that carries
// no failure, into a protocol error so that a misbehaving client cannot take down the calling
// session.
func Run(ctx context.Context, p DiagnosticProbe, address string, creds models.Credentials,
	spec models.ProbeSpec) (result models.ProbeResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = models.NewFailure(spec.Protocol, time.Now(), models.ErrorKindProtocolError,
				fmt.Sprintf("probe panic: %v", r))
		}

		if !result.Success && result.Failure == nil {
			result.Failure = &models.ProbeFailure{
				Kind:   models.ErrorKindProtocolError,
				Detail: "probe reported failure without a cause",
			}
		}

		if result.Success && result.Metrics == nil {
			result.Metrics = map[string]any{}
		}

		if result.Protocol == "" {
			result.Protocol = spec.Protocol
		}

		if result.Timestamp.IsZero() {
			result.Timestamp = time.Now()
		}

		result.Duration = models.Duration(time.Since(start))
	}()

	return p.Poll(ctx, address, creds, spec)
}

// failure is shorthand used by the probe implementations.
func failure(p models.Protocol, err error) models.ProbeResult {
	return models.NewFailure(p, time.Now(), Classify(err), err.Error())
}
