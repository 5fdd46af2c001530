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
	"time"
)

var (
	errUnknownProtocol    = errors.New("unknown probe protocol")
	errInvalidProbeTiming = errors.New("probe timeout must be shorter than its interval")
)

const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeTimeout  = 2 * time.Second
	DefaultBackoffBase   = 2 * time.Second
	DefaultBackoffMax    = 30 * time.Second
	DefaultSNMPPort      = 161
	DefaultSSHPort       = 22
	DefaultEchoCount     = 2
)

// Protocol names one member of the closed set of diagnostic probes.
type Protocol string

const (
	ProtocolSNMP Protocol = "snmp"
	ProtocolSSH  Protocol = "ssh"
	ProtocolICMP Protocol = "icmp"
	ProtocolPort Protocol = "port"
)

// Valid reports whether p is a supported probe protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSNMP, ProtocolSSH, ProtocolICMP, ProtocolPort:
		return true
	}

	return false
}

// DefaultServicePorts is the service port set checked by the port probe on every device.
func DefaultServicePorts() map[int]string {
	return map[int]string{
		80:  "http",
		443: "https",
	}
}

// ProbeSpec configures one protocol poll loop for a device.
type ProbeSpec struct {
	Protocol       Protocol `json:"protocol"`
	Interval       Duration `json:"interval"`
	Timeout        Duration `json:"timeout"`
	MaxRetries     uint     `json:"max_retries"`
	BackoffBase    Duration `json:"backoff_base,omitempty"`
	BackoffMax     Duration `json:"backoff_max,omitempty"`
	CredentialsRef string   `json:"credentials_ref,omitempty"`
	Port           int      `json:"port,omitempty"`

	// OIDs overrides the default SNMP OID set (name -> OID).
	OIDs map[string]string `json:"oids,omitempty"`
	// Commands overrides the default SSH diagnostic command set.
	Commands []string `json:"commands,omitempty"`
	// Ports maps a TCP port to its service name for the port probe.
	Ports map[int]string `json:"ports,omitempty"`
	// Count is the number of echo requests sent per ICMP poll.
	Count int `json:"count,omitempty"`
}

// Validate fills in defaults and rejects unusable specs.
func (s *ProbeSpec) Validate() error {
	if !s.Protocol.Valid() {
		return fmt.Errorf("%w: %q", errUnknownProtocol, s.Protocol)
	}

	if s.Interval <= 0 {
		s.Interval = Duration(DefaultProbeInterval)
	}

	if s.Timeout <= 0 {
		s.Timeout = Duration(DefaultProbeTimeout)
	}

	if s.Timeout > s.Interval {
		return fmt.Errorf("%w (%s: timeout %s, interval %s)", errInvalidProbeTiming,
			s.Protocol, time.Duration(s.Timeout), time.Duration(s.Interval))
	}

	if s.BackoffBase <= 0 {
		s.BackoffBase = Duration(DefaultBackoffBase)
	}

	if s.BackoffMax <= 0 {
		s.BackoffMax = Duration(DefaultBackoffMax)
	}

	if s.BackoffMax < s.BackoffBase {
		s.BackoffMax = s.BackoffBase
	}

	if s.Port == 0 {
		switch s.Protocol {
		case ProtocolSNMP:
			s.Port = DefaultSNMPPort
		case ProtocolSSH:
			s.Port = DefaultSSHPort
		case ProtocolICMP, ProtocolPort:
		}
	}

	switch s.Protocol {
	case ProtocolPort:
		if len(s.Ports) == 0 {
			s.Ports = DefaultServicePorts()
		}
	case ProtocolICMP:
		if s.Count <= 0 {
			s.Count = DefaultEchoCount
		}
	case ProtocolSNMP, ProtocolSSH:
	}

	return nil
}

// Clone returns a copy of s that shares no maps or slices with it.
func (s ProbeSpec) Clone() ProbeSpec {
	if s.OIDs != nil {
		oids := make(map[string]string, len(s.OIDs))
		for k, v := range s.OIDs {
			oids[k] = v
		}

		s.OIDs = oids
	}

	if s.Commands != nil {
		s.Commands = append([]string(nil), s.Commands...)
	}

	if s.Ports != nil {
		ports := make(map[int]string, len(s.Ports))
		for k, v := range s.Ports {
			ports[k] = v
		}

		s.Ports = ports
	}

	return s
}

// Credentials carries whatever a probe needs to authenticate. Only the fields relevant
// to the probe's protocol are read.
type Credentials struct {
	// SSH
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty" sensitive:"true"`
	PrivateKey string `json:"private_key,omitempty" sensitive:"true"`

	// SNMP
	Version         string `json:"version,omitempty"`
	Community       string `json:"community,omitempty" sensitive:"true"`
	AuthProtocol    string `json:"auth_protocol,omitempty"`
	AuthPassword    string `json:"auth_password,omitempty" sensitive:"true"`
	PrivacyProtocol string `json:"privacy_protocol,omitempty"`
	PrivacyPassword string `json:"privacy_password,omitempty" sensitive:"true"`
}

// ErrorKind classifies a probe failure. Health derivation and retry policy both key off it.
type ErrorKind string

const (
	ErrorKindTimeout              ErrorKind = "timeout"
	ErrorKindConnectionRefused    ErrorKind = "connection_refused"
	ErrorKindUnreachable          ErrorKind = "unreachable"
	ErrorKindAuthenticationFailed ErrorKind = "authentication_failed"
	ErrorKindProtocolError        ErrorKind = "protocol_error"
	ErrorKindCancelled            ErrorKind = "cancelled"
)

// IsReachabilityFailure reports whether the failure means the device could not be reached at all.
func (k ErrorKind) IsReachabilityFailure() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindConnectionRefused, ErrorKindUnreachable:
		return true
	case ErrorKindAuthenticationFailed, ErrorKindProtocolError, ErrorKindCancelled:
		return false
	}

	return false
}

// Retryable reports whether another attempt within the same cycle could succeed.
func (k ErrorKind) Retryable() bool {
	return k != ErrorKindAuthenticationFailed && k != ErrorKindCancelled
}

// ProbeFailure describes why a poll did not succeed.
type ProbeFailure struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// ProbeResult is the outcome of one completed poll cycle for one protocol.
// Exactly one of Metrics (on success) or Failure is meaningful.
type ProbeResult struct {
	Protocol  Protocol       `json:"protocol"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Failure   *ProbeFailure  `json:"failure,omitempty"`
	Attempts  int            `json:"attempts"`
	Duration  Duration       `json:"duration"`
}

// NewSuccess builds a successful result.
func NewSuccess(p Protocol, ts time.Time, metrics map[string]any) ProbeResult {
	if metrics == nil {
		metrics = map[string]any{}
	}

	return ProbeResult{Protocol: p, Timestamp: ts, Success: true, Metrics: metrics, Attempts: 1}
}

// NewFailure builds a failed result.
func NewFailure(p Protocol, ts time.Time, kind ErrorKind, detail string) ProbeResult {
	return ProbeResult{
		Protocol:  p,
		Timestamp: ts,
		Failure:   &ProbeFailure{Kind: kind, Detail: detail},
		Attempts:  1,
	}
}

// FailureKind returns the failure kind, or "" for successes.
func (r ProbeResult) FailureKind() ErrorKind {
	if r.Success || r.Failure == nil {
		return ""
	}

	return r.Failure.Kind
}

// FailureDetail returns the failure detail, or "" when there is none.
func (r ProbeResult) FailureDetail() string {
	if r.Success || r.Failure == nil {
		return ""
	}

	return r.Failure.Detail
}

// Clone returns a copy that shares no mutable state with r.
func (r ProbeResult) Clone() ProbeResult {
	if r.Metrics != nil {
		m := make(map[string]any, len(r.Metrics))
		for k, v := range r.Metrics {
			m[k] = v
		}

		r.Metrics = m
	}

	if r.Failure != nil {
		f := *r.Failure
		r.Failure = &f
	}

	return r
}
