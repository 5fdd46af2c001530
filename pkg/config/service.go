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

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/carverauto/arnet/pkg/credentials"
	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
	"github.com/carverauto/arnet/pkg/orchestrator"
	"github.com/carverauto/arnet/pkg/registry"
	"github.com/carverauto/arnet/pkg/snapshot"
)

var (
	errNoProbes         = errors.New("no probe specs configured")
	errDuplicateProbe   = errors.New("duplicate protocol in probe list")
	errInvalidMultipler = errors.New("staleness_multiplier must be at least 1")
	errInvalidPollCap   = errors.New("max_concurrent_polls must be positive")
	errInvalidWindow    = errors.New("absence_window must be positive")
)

// DefaultProbeKey selects the probe list used for kinds without their own entry.
const DefaultProbeKey = "default"

// DeviceMapConfig points at the local device inventory used to enrich scanned identities.
type DeviceMapConfig struct {
	Path   string `json:"path"`
	Strict bool   `json:"strict"`
}

// SourcesConfig selects where identification events come from.
type SourcesConfig struct {
	// Stdin reads JSON lines (one decoded QR payload per line) from standard input.
	Stdin bool `json:"stdin"`
	// File reads JSON lines from a file or named pipe.
	File string `json:"file,omitempty"`
	// NATSSubject subscribes to identification payloads; requires the nats section.
	NATSSubject string `json:"nats_subject,omitempty"`
}

// MetricsConfig controls the OpenTelemetry meter provider and the in-memory poll history.
// Metrics are exported through the endpoint of logging.otel.
type MetricsConfig struct {
	Enabled        bool            `json:"enabled"`
	ExportInterval models.Duration `json:"export_interval"`
	HistorySize    int             `json:"history_size"`
	MaxDevices     int             `json:"max_devices"`
}

// ICMPConfig selects the socket type used for echo probes.
type ICMPConfig struct {
	// Privileged uses raw sockets (CAP_NET_RAW) instead of unprivileged ICMP datagram sockets.
	Privileged bool `json:"privileged"`
}

// ServiceConfig is the arnet service configuration file.
type ServiceConfig struct {
	// Probes maps a device kind (or "default") to the probes run against devices of that kind.
	Probes map[string][]models.ProbeSpec `json:"probes"`
	// DeviceOverrides replaces the kind-derived probe list for individual device IDs.
	DeviceOverrides map[string][]models.ProbeSpec `json:"device_overrides,omitempty"`

	AbsenceWindow       models.Duration `json:"absence_window"`
	StalenessMultiplier float64         `json:"staleness_multiplier"`
	MaxConcurrentPolls  int             `json:"max_concurrent_polls"`
	SweepInterval       models.Duration `json:"sweep_interval"`

	Credentials credentials.Config  `json:"credentials"`
	DeviceMap   DeviceMapConfig     `json:"device_map"`
	ICMP        ICMPConfig          `json:"icmp"`
	Sources     SourcesConfig       `json:"sources"`
	API         models.APIConfig    `json:"api"`
	NATS        *models.NATSConfig  `json:"nats,omitempty"`
	Events      models.EventsConfig `json:"events"`
	Metrics     MetricsConfig       `json:"metrics"`
	Logging     *logger.Config      `json:"logging,omitempty"`
}

// Validate fills defaults and rejects configurations the orchestrator cannot run with.
func (c *ServiceConfig) Validate() error {
	if len(c.Probes) == 0 && len(c.DeviceOverrides) == 0 {
		return errNoProbes
	}

	for key, specs := range c.Probes {
		if err := validateSpecs("probes."+key, specs); err != nil {
			return err
		}
	}

	for id, specs := range c.DeviceOverrides {
		if err := validateSpecs("device_overrides."+id, specs); err != nil {
			return err
		}
	}

	if err := c.validateTiming(); err != nil {
		return err
	}

	if err := credentials.NewStatic(c.Credentials).Validate(); err != nil {
		return err
	}

	if err := c.API.Validate(); err != nil {
		return err
	}

	if c.NATS != nil {
		if err := c.NATS.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics.ExportInterval <= 0 {
		c.Metrics.ExportInterval = models.Duration(logger.DefaultExportInterval)
	}

	return c.Events.Validate()
}

func (c *ServiceConfig) validateTiming() error {
	if c.AbsenceWindow == 0 {
		c.AbsenceWindow = models.Duration(registry.DefaultAbsenceWindow)
	}

	if c.AbsenceWindow < 0 {
		return errInvalidWindow
	}

	if c.StalenessMultiplier == 0 {
		c.StalenessMultiplier = snapshot.DefaultStalenessMultiplier
	}

	if c.StalenessMultiplier < 1 {
		return fmt.Errorf("%w (got %v)", errInvalidMultipler, c.StalenessMultiplier)
	}

	if c.MaxConcurrentPolls == 0 {
		c.MaxConcurrentPolls = orchestrator.DefaultMaxConcurrentPolls
	}

	if c.MaxConcurrentPolls < 0 {
		return errInvalidPollCap
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = models.Duration(orchestrator.DefaultSweepInterval)
	}

	return nil
}

func validateSpecs(where string, specs []models.ProbeSpec) error {
	seen := make(map[models.Protocol]struct{}, len(specs))

	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}

		if _, dup := seen[specs[i].Protocol]; dup {
			return fmt.Errorf("%s: %w: %s", where, errDuplicateProbe, specs[i].Protocol)
		}

		seen[specs[i].Protocol] = struct{}{}
	}

	return nil
}

// ProbeSpecsFor returns the probes to run against id: a device override wins, then the list for
// the device's kind, then the default list. The returned slice is a copy.
func (c *ServiceConfig) ProbeSpecsFor(id models.DeviceIdentity) []models.ProbeSpec {
	specs, ok := c.DeviceOverrides[id.DeviceID]
	if !ok {
		specs, ok = c.Probes[strings.ToLower(string(id.Kind))]
	}

	if !ok {
		specs = c.Probes[DefaultProbeKey]
	}

	out := make([]models.ProbeSpec, len(specs))
	for i := range specs {
		out[i] = specs[i].Clone()
	}

	return out
}

// PortSource reports the service ports known for a device.
type PortSource interface {
	PortsFor(deviceID string) map[int]string
}

// SpecResolver resolves probe specs from a ServiceConfig and applies per-device service ports:
// an SSH daemon the inventory records on 2222 moves the SSH probe there, and every recorded
// port joins the port probe's check list.
type SpecResolver struct {
	cfg   *ServiceConfig
	ports PortSource
}

// NewSpecResolver builds a SpecResolver. ports may be nil.
func NewSpecResolver(cfg *ServiceConfig, ports PortSource) *SpecResolver {
	return &SpecResolver{cfg: cfg, ports: ports}
}

// ProbeSpecsFor implements registry.SpecResolver.
func (r *SpecResolver) ProbeSpecsFor(id models.DeviceIdentity) []models.ProbeSpec {
	specs := r.cfg.ProbeSpecsFor(id)
	if r.ports == nil {
		return specs
	}

	for port, service := range r.ports.PortsFor(id.DeviceID) {
		for i := range specs {
			switch {
			case specs[i].Protocol == models.ProtocolPort:
				if specs[i].Ports == nil {
					specs[i].Ports = make(map[int]string)
				}

				specs[i].Ports[port] = strings.ToLower(service)
			case strings.EqualFold(service, string(specs[i].Protocol)):
				specs[i].Port = port
			}
		}
	}

	return specs
}
