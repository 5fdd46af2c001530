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
	"net"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

func listenerPort(t *testing.T, ln net.Listener) int {
	t.Helper()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	n, err := strconv.Atoi(port)
	require.NoError(t, err)

	return n
}

func portSpec(ports map[int]string) models.ProbeSpec {
	return models.ProbeSpec{
		Protocol: models.ProtocolPort,
		Interval: models.Duration(5 * time.Second),
		Timeout:  models.Duration(time.Second),
		Ports:    ports,
	}
}

func TestPortProbe_ReportsOpenAndClosedPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer func() { _ = ln.Close() }()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			_ = conn.Close()
		}
	}()

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	closedPort := listenerPort(t, closed)
	require.NoError(t, closed.Close())

	openPort := listenerPort(t, ln)

	p := NewPortProbe(logger.NewTestLogger())
	result := p.Poll(context.Background(), "127.0.0.1", models.Credentials{},
		portSpec(map[int]string{openPort: "http", closedPort: "https"}))

	require.True(t, result.Success, "failure: %+v", result.Failure)
	assert.Equal(t, models.ProtocolPort, result.Protocol)
	assert.Equal(t, 1, result.Metrics["open_ports"])
	assert.Equal(t, 1, result.Metrics["closed_ports"])

	statuses, ok := result.Metrics["ports"].(map[string]any)
	require.True(t, ok)

	open, ok := statuses[strconv.Itoa(openPort)].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "open", open["status"])
	assert.Equal(t, "http", open["service"])
	assert.Contains(t, open, "rtt_ms")

	shut, ok := statuses[strconv.Itoa(closedPort)].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "closed", shut["status"])
	assert.NotContains(t, shut, "rtt_ms")
}

func TestPortProbe_AllPortsRefused(t *testing.T) {
	var dialed []string

	p := NewPortProbe(logger.NewTestLogger())
	p.dial = func(_ context.Context, _, address string) (net.Conn, error) {
		dialed = append(dialed, address)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	}

	result := p.Poll(context.Background(), "10.0.0.1:161", models.Credentials{}, portSpec(map[int]string{80: "http"}))

	require.False(t, result.Success)
	assert.Equal(t, models.ErrorKindConnectionRefused, result.FailureKind())
	assert.Contains(t, result.FailureDetail(), "tcp port 80 (http)")
	assert.Equal(t, []string{"10.0.0.1:80"}, dialed)
}

func TestPortProbe_DefaultPortsAndTimeout(t *testing.T) {
	p := NewPortProbe(logger.NewTestLogger())

	dialed := make(chan string, 2)
	p.dial = func(ctx context.Context, _, address string) (net.Conn, error) {
		dialed <- address
		<-ctx.Done()

		return nil, ctx.Err()
	}

	spec := portSpec(nil)
	spec.Timeout = models.Duration(50 * time.Millisecond)

	result := p.Poll(context.Background(), "192.0.2.7", models.Credentials{}, spec)

	require.False(t, result.Success)
	assert.Equal(t, models.ErrorKindTimeout, result.FailureKind())
	assert.ElementsMatch(t, []string{"192.0.2.7:80", "192.0.2.7:443"}, []string{<-dialed, <-dialed})
}

func TestPortProbe_InvalidAddress(t *testing.T) {
	result := NewPortProbe(logger.NewTestLogger()).Poll(context.Background(), "", models.Credentials{},
		portSpec(nil))

	assert.Equal(t, models.ErrorKindUnreachable, result.FailureKind())
}

func TestTargetHost(t *testing.T) {
	host, err := targetHost("[fe80::1]:22")
	require.NoError(t, err)
	assert.Equal(t, "fe80::1", host)

	host, err = targetHost("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", host)

	_, err = targetHost("[]")
	require.Error(t, err)
}
