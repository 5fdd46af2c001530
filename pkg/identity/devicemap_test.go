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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/arnet/pkg/models"
)

const sampleDeviceMap = `{
  "SW1": {"type": "switch", "location": "Server Room", "model": "Cisco 2960", "ports": {"22": "SSH", "161": "SNMP", "bogus": "x"}},
  "R1":  {"type": "router", "location": "Closet", "model": "TL-WR940N"}
}`

func writeDeviceMap(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "device_map.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDeviceMap(t *testing.T) {
	m, err := LoadDeviceMap(writeDeviceMap(t, sampleDeviceMap))
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "Cisco 2960", m["SW1"].Model)

	assert.Equal(t, map[int]string{22: "SSH", 161: "SNMP"}, m.PortsFor("SW1"))
	assert.Nil(t, m.PortsFor("R1"))
	assert.Nil(t, m.PortsFor("missing"))
}

func TestLoadDeviceMapMissingFile(t *testing.T) {
	m, err := LoadDeviceMap(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLoadDeviceMapInvalid(t *testing.T) {
	_, err := LoadDeviceMap(writeDeviceMap(t, "{not json"))
	require.Error(t, err)
}

func TestMapEnricher(t *testing.T) {
	m, err := LoadDeviceMap(writeDeviceMap(t, sampleDeviceMap))
	require.NoError(t, err)

	e := &MapEnricher{Map: m}

	got, err := e.Enrich(models.DeviceIdentity{DeviceID: "SW1", Address: "192.168.1.2"})
	require.NoError(t, err)
	assert.Equal(t, models.DeviceKindSwitch, got.Kind)
	assert.Equal(t, "Cisco 2960", got.Model)
	assert.Equal(t, "Server Room", got.Location)

	// scanned fields win over inventory
	got, err = e.Enrich(models.DeviceIdentity{DeviceID: "R1", Address: "10.0.0.1", Model: "Archer C7"})
	require.NoError(t, err)
	assert.Equal(t, "Archer C7", got.Model)
	assert.Equal(t, models.DeviceKindRouter, got.Kind)

	got, err = e.Enrich(models.DeviceIdentity{DeviceID: "X9", Address: "10.0.0.9"})
	require.NoError(t, err)
	assert.Empty(t, got.Model)

	e.Strict = true
	_, err = e.Enrich(models.DeviceIdentity{DeviceID: "X9", Address: "10.0.0.9"})
	require.ErrorIs(t, err, errUnknownDevice)
}
