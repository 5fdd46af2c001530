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

// Package credentials resolves the secrets probes authenticate with.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/carverauto/arnet/pkg/models"
)

var (
	errUnknownRef     = errors.New("unknown credentials reference")
	errUnsetVariable  = errors.New("credential references unset environment variable")
	errPrivateKeyFile = errors.New("failed to read private key file")
)

// Config is the credentials section of the service configuration.
//
// Sets are named credential bundles. Defaults maps a protocol to the set used when a probe spec
// names none; Devices maps a device ID and protocol to a set that overrides everything else.
type Config struct {
	Sets     map[string]Entry             `json:"sets"`
	Defaults map[models.Protocol]string   `json:"defaults"`
	Devices  map[string]map[string]string `json:"devices,omitempty"`
}

// Entry is one credential bundle as written in configuration. String fields may reference
// environment variables as ${NAME}.
type Entry struct {
	models.Credentials

	PrivateKeyFile string `json:"private_key_file,omitempty"`
}

// Static resolves credentials from configuration.
type Static struct {
	cfg    Config
	lookup func(string) (string, bool)
	read   func(string) ([]byte, error)
}

// NewStatic builds a Static source over cfg.
func NewStatic(cfg Config) *Static {
	return &Static{cfg: cfg, lookup: os.LookupEnv, read: os.ReadFile}
}

// Lookup returns the credentials for deviceID's probe of spec.Protocol. Per-device overrides win,
// then the spec's CredentialsRef, then the protocol default. A protocol with nothing configured
// yields empty credentials so the probe itself decides (SNMP falls back to its default community).
func (s *Static) Lookup(deviceID string, spec models.ProbeSpec) (models.Credentials, error) {
	ref := s.refFor(deviceID, spec)
	if ref == "" {
		return models.Credentials{}, nil
	}

	entry, ok := s.cfg.Sets[ref]
	if !ok {
		return models.Credentials{}, fmt.Errorf("%w %q for %s/%s", errUnknownRef, ref, deviceID, spec.Protocol)
	}

	return s.resolve(entry)
}

// Validate checks that every reference points at a defined set.
func (s *Static) Validate() error {
	check := func(ref, where string) error {
		if _, ok := s.cfg.Sets[ref]; !ok {
			return fmt.Errorf("%w %q in %s", errUnknownRef, ref, where)
		}

		return nil
	}

	for p, ref := range s.cfg.Defaults {
		if err := check(ref, "defaults."+string(p)); err != nil {
			return err
		}
	}

	for device, refs := range s.cfg.Devices {
		for p, ref := range refs {
			if err := check(ref, "devices."+device+"."+p); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Static) refFor(deviceID string, spec models.ProbeSpec) string {
	if refs, ok := s.cfg.Devices[deviceID]; ok {
		if ref := refs[string(spec.Protocol)]; ref != "" {
			return ref
		}
	}

	if spec.CredentialsRef != "" {
		return spec.CredentialsRef
	}

	return s.cfg.Defaults[spec.Protocol]
}

func (s *Static) resolve(entry Entry) (models.Credentials, error) {
	c := entry.Credentials

	fields := []*string{
		&c.Username, &c.Password, &c.PrivateKey,
		&c.Version, &c.Community,
		&c.AuthProtocol, &c.AuthPassword, &c.PrivacyProtocol, &c.PrivacyPassword,
	}

	for _, f := range fields {
		expanded, err := s.expand(*f)
		if err != nil {
			return models.Credentials{}, err
		}

		*f = expanded
	}

	if c.PrivateKey == "" && entry.PrivateKeyFile != "" {
		path, err := s.expand(entry.PrivateKeyFile)
		if err != nil {
			return models.Credentials{}, err
		}

		key, err := s.read(path)
		if err != nil {
			return models.Credentials{}, fmt.Errorf("%w %s: %w", errPrivateKeyFile, path, err)
		}

		c.PrivateKey = string(key)
	}

	return c, nil
}

// expand replaces ${NAME} references. Unset variables are an error rather than an empty string.
func (s *Static) expand(v string) (string, error) {
	if !strings.Contains(v, "${") {
		return v, nil
	}

	var (
		b       strings.Builder
		missing string
	)

	b.Grow(len(v))

	rest := v

	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)

			break
		}

		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)

			break
		}

		name := rest[start+2 : start+end]
		b.WriteString(rest[:start])

		val, ok := s.lookup(name)
		if !ok && missing == "" {
			missing = name
		}

		b.WriteString(val)
		rest = rest[start+end+1:]
	}

	if missing != "" {
		return "", fmt.Errorf("%w: %s", errUnsetVariable, missing)
	}

	return b.String(), nil
}

// Empty reports whether no credential sets are configured at all.
func (c *Config) Empty() bool {
	return len(c.Sets) == 0
}
