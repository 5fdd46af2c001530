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

package registry

import (
	"github.com/carverauto/arnet/pkg/models"
)

// SnapshotWriter is the subset of the snapshot store the registry drives.
type SnapshotWriter interface {
	Register(identity models.DeviceIdentity, specs []models.ProbeSpec)
	UpdateIdentity(identity models.DeviceIdentity) bool
	Publish(deviceID string, result models.ProbeResult) bool
	Remove(deviceID string)
}

// SpecResolver decides which probes run against a device.
type SpecResolver interface {
	ProbeSpecsFor(identity models.DeviceIdentity) []models.ProbeSpec
}

// SpecResolverFunc adapts a function to SpecResolver.
type SpecResolverFunc func(identity models.DeviceIdentity) []models.ProbeSpec

func (f SpecResolverFunc) ProbeSpecsFor(identity models.DeviceIdentity) []models.ProbeSpec {
	return f(identity)
}
