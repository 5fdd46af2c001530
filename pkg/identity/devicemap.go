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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/carverauto/arnet/pkg/models"
)

var errUnknownDevice = errors.New("device not found in device map")

// DeviceMapEntry is the inventory record for one device.
type DeviceMapEntry struct {
	Type     string            `json:"type"`
	Location string            `json:"location"`
	Model    string            `json:"model"`
	Ports    map[string]string `json:"ports,omitempty"`
}

// DeviceMap is the local inventory keyed by device ID.
type DeviceMap map[string]DeviceMapEntry

// LoadDeviceMap reads a device map file. A missing file yields an empty map.
func LoadDeviceMap(path string) (DeviceMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DeviceMap{}, nil
		}

		return nil, fmt.Errorf("failed to read device map: %w", err)
	}

	var m DeviceMap

	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse device map %s: %w", path, err)
	}

	return m, nil
}

// PortsFor returns the numeric service ports recorded for deviceID. Invalid entries are skipped.
func (m DeviceMap) PortsFor(deviceID string) map[int]string {
	entry, ok := m[deviceID]
	if !ok || len(entry.Ports) == 0 {
		return nil
	}

	out := make(map[int]string, len(entry.Ports))

	for port, service := range entry.Ports {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			continue
		}

		out[n] = service
	}

	return out
}

// Enricher completes identities from external inventory.
type Enricher interface {
	Enrich(id models.DeviceIdentity) (models.DeviceIdentity, error)
}

// MapEnricher fills in model, kind and location from a DeviceMap. Fields already present in the
// scanned payload win. With Strict set, devices missing from the map are rejected.
type MapEnricher struct {
	Map    DeviceMap
	Strict bool
}

// Enrich implements Enricher.
func (e *MapEnricher) Enrich(id models.DeviceIdentity) (models.DeviceIdentity, error) {
	entry, ok := e.Map[id.DeviceID]
	if !ok {
		if e.Strict {
			return id, fmt.Errorf("%w: %s", errUnknownDevice, id.DeviceID)
		}

		return id, nil
	}

	if id.Model == "" {
		id.Model = entry.Model
	}

	if id.Kind == "" && entry.Type != "" {
		id.Kind = models.ParseDeviceKind(entry.Type)
	}

	if id.Location == "" {
		id.Location = entry.Location
	}

	return id, nil
}
