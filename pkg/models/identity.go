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

package models

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	errDeviceIDRequired = errors.New("device_id is required")
	errAddressRequired  = errors.New("address is required")
	errInvalidAddress   = errors.New("invalid device address")
)

// DeviceKind classifies a physical device for probe selection.
type DeviceKind string

const (
	DeviceKindRouter DeviceKind = "router"
	DeviceKindSwitch DeviceKind = "switch"
	DeviceKindAP     DeviceKind = "ap"
	DeviceKindOther  DeviceKind = "other"
)

// ParseDeviceKind maps free-form type strings (as found in device maps and QR payloads)
// onto a DeviceKind. Anything unrecognized is DeviceKindOther.
func ParseDeviceKind(s string) DeviceKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "router", "rt", "gateway":
		return DeviceKindRouter
	case "switch", "sw":
		return DeviceKindSwitch
	case "ap", "access_point", "access-point", "accesspoint", "wap":
		return DeviceKindAP
	default:
		return DeviceKindOther
	}
}

// DeviceIdentity is the immutable description of one physical device extracted from a scanned code.
// Two identities refer to the same device when their DeviceID matches.
type DeviceIdentity struct {
	DeviceID string     `json:"device_id"`
	Address  string     `json:"address"`
	Model    string     `json:"model,omitempty"`
	Kind     DeviceKind `json:"kind"`
	Location string     `json:"location,omitempty"`
}

// Validate checks the identity has what the orchestrator needs to poll it.
func (d *DeviceIdentity) Validate() error {
	if strings.TrimSpace(d.DeviceID) == "" {
		return errDeviceIDRequired
	}

	if strings.TrimSpace(d.Address) == "" {
		return fmt.Errorf("%w for device %s", errAddressRequired, d.DeviceID)
	}

	if _, err := d.Host(); err != nil {
		return err
	}

	if d.Kind == "" {
		d.Kind = DeviceKindOther
	}

	return nil
}

// Host returns the address without any port component.
func (d *DeviceIdentity) Host() (string, error) {
	addr := strings.TrimSpace(d.Address)

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// bare host or IP
		host = strings.Trim(addr, "[]")
	}

	if host == "" || strings.ContainsAny(host, " /") {
		return "", fmt.Errorf("%w: %q", errInvalidAddress, d.Address)
	}

	return host, nil
}

// Equal reports whether every attribute of both identities matches.
func (d DeviceIdentity) Equal(other DeviceIdentity) bool {
	return d == other
}

// SameTarget reports whether both identities would be polled at the same network address.
func (d DeviceIdentity) SameTarget(other DeviceIdentity) bool {
	return d.DeviceID == other.DeviceID && d.Address == other.Address
}
