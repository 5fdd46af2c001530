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

package probe

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

const (
	portStatusOpen   = "open"
	portStatusClosed = "closed"

	maxConcurrentPortChecks = 8
)

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// PortProbe checks whether the device accepts TCP connections on its service ports.
type PortProbe struct {
	logger logger.Logger
	dial   dialFunc
}

// NewPortProbe creates a TCP connect probe.
func NewPortProbe(log logger.Logger) *PortProbe {
	var dialer net.Dialer

	return &PortProbe{
		logger: log,
		dial:   dialer.DialContext,
	}
}

// Protocol implements DiagnosticProbe.
func (*PortProbe) Protocol() models.Protocol {
	return models.ProtocolPort
}

type portCheck struct {
	port    int
	service string
	open    bool
	rtt     time.Duration
	err     error
}

// Poll implements DiagnosticProbe. The poll succeeds when at least one port accepts a
// connection; otherwise the error from the lowest closed port decides the failure kind.
func (p *PortProbe) Poll(ctx context.Context, address string, _ models.Credentials,
	spec models.ProbeSpec) models.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(spec.Timeout))
	defer cancel()

	host, err := targetHost(address)
	if err != nil {
		return failure(models.ProtocolPort, err)
	}

	ports := spec.Ports
	if len(ports) == 0 {
		ports = models.DefaultServicePorts()
	}

	checks := make([]portCheck, 0, len(ports))
	for port, service := range ports {
		checks = append(checks, portCheck{port: port, service: service})
	}

	sort.Slice(checks, func(i, j int) bool { return checks[i].port < checks[j].port })

	var g errgroup.Group

	// each goroutine owns checks[i]
	g.SetLimit(maxConcurrentPortChecks)

	for i := range checks {
		g.Go(func() error {
			checks[i].open, checks[i].rtt, checks[i].err = p.checkPort(ctx, host, checks[i].port)

			return nil
		})
	}

	_ = g.Wait()

	return portResult(checks)
}

func (p *PortProbe) checkPort(ctx context.Context, host string, port int) (bool, time.Duration, error) {
	start := time.Now()

	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		if ctx.Err() != nil {
			return false, time.Since(start), ctx.Err()
		}

		return false, time.Since(start), err
	}

	rtt := time.Since(start)

	if err := conn.Close(); err != nil {
		p.logger.Debug().Err(err).Int("port", port).Msg("Failed to close port check connection")
	}

	return true, rtt, nil
}

func portResult(checks []portCheck) models.ProbeResult {
	statuses := make(map[string]any, len(checks))

	var (
		open     int
		firstErr error
	)

	for _, c := range checks {
		status := map[string]any{"service": c.service, "status": portStatusClosed}

		if c.open {
			open++
			status["status"] = portStatusOpen
			status["rtt_ms"] = float64(c.rtt.Microseconds()) / 1000.0
		} else if firstErr == nil {
			firstErr = fmt.Errorf("tcp port %d (%s): %w", c.port, c.service, c.err)
		}

		statuses[strconv.Itoa(c.port)] = status
	}

	if open == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("%w: no ports to check", ErrProtocol)
		}

		return failure(models.ProtocolPort, firstErr)
	}

	return models.NewSuccess(models.ProtocolPort, time.Now(), map[string]any{
		"ports":        statuses,
		"open_ports":   open,
		"closed_ports": len(checks) - open,
	})
}

// targetHost strips any port from an identity address.
func targetHost(address string) (string, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = strings.Trim(address, "[]")
	}

	if host == "" {
		return "", fmt.Errorf("%w: %q", errInvalidAddress, address)
	}

	return host, nil
}
