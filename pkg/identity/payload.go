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
	"strings"

	"github.com/carverauto/arnet/pkg/models"
)

var (
	errEmptyPayload    = errors.New("empty identification payload")
	errMalformedJSON   = errors.New("identification payload is not valid JSON")
	errMissingDeviceID = errors.New("identification payload has no device_id")
	errMissingAddress  = errors.New("identification payload has no ip")
	errPayloadTooLarge = errors.New("identification payload too large")
)

// Payload is the JSON document encoded in a device's QR code. Only device_id and ip are
// required; the rest can come from the device map.
type Payload struct {
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
	Address  string `json:"address,omitempty"`
	Model    string `json:"model,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Type     string `json:"type,omitempty"`
	Location string `json:"location,omitempty"`
}

// DecodePayload parses a scanned code into a device identity.
func DecodePayload(raw []byte) (models.DeviceIdentity, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return models.DeviceIdentity{}, errEmptyPayload
	}

	var p Payload

	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("%w: %w", errMalformedJSON, err)
	}

	return p.Identity()
}

// Identity converts the payload, normalizing whitespace and kind names.
func (p *Payload) Identity() (models.DeviceIdentity, error) {
	id := models.DeviceIdentity{
		DeviceID: strings.TrimSpace(p.DeviceID),
		Address:  strings.TrimSpace(p.IP),
		Model:    strings.TrimSpace(p.Model),
		Location: strings.TrimSpace(p.Location),
	}

	if id.Address == "" {
		id.Address = strings.TrimSpace(p.Address)
	}

	if id.DeviceID == "" {
		return models.DeviceIdentity{}, errMissingDeviceID
	}

	if id.Address == "" {
		return models.DeviceIdentity{}, fmt.Errorf("%w (device %s)", errMissingAddress, id.DeviceID)
	}

	switch {
	case p.Kind != "":
		id.Kind = models.ParseDeviceKind(p.Kind)
	case p.Type != "":
		id.Kind = models.ParseDeviceKind(p.Type)
	}

	return id, nil
}
