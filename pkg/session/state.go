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

// State is the position of one (device, protocol) poll loop in its cycle.
type State int

const (
	// StateIdle waits for the next interval tick or cancellation.
	StateIdle State = iota
	// StatePolling has a probe call in flight.
	StatePolling
	// StateSucceeded published a success for the current cycle.
	StateSucceeded
	// StateFailedRetryable is backing off before another attempt in the same cycle.
	StateFailedRetryable
	// StateFailedFatal gave up on the current cycle and published a failure.
	StateFailedFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateFailedRetryable:
		return "failed_retryable"
	case StateFailedFatal:
		return "failed_fatal"
	default:
		return "unknown"
	}
}
