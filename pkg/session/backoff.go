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

package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/arnet/pkg/models"
)

const backoffMultiplier = 2.0

// newRetryBackOff returns the within-cycle retry schedule for spec: base, 2×base, 4×base...
// capped at the spec's maximum. No jitter is applied so that retry budgets are predictable.
func newRetryBackOff(spec models.ProbeSpec) *backoff.ExponentialBackOff {
	base := time.Duration(spec.BackoffBase)
	if base <= 0 {
		base = models.DefaultBackoffBase
	}

	maxInterval := time.Duration(spec.BackoffMax)
	if maxInterval < base {
		maxInterval = base
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = maxInterval
	bo.Multiplier = backoffMultiplier
	bo.RandomizationFactor = 0
	bo.Reset()

	return bo
}
