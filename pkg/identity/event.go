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

// Package identity turns scanned device codes into device identities for the orchestrator.
package identity

import (
	"time"

	"github.com/carverauto/arnet/pkg/models"
)

// Event is one arrival on the identification stream: a device newly visible or re-confirmed.
// Err is set when the raw payload could not be decoded; such events are skipped downstream.
type Event struct {
	Identity   models.DeviceIdentity
	Source     string
	Raw        []byte
	ReceivedAt time.Time
	Err        error
}
