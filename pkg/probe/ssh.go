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
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

const (
	maxSSHCommands    = 8
	maxSSHOutputBytes = 4096
)

// DefaultSSHCommands is the bounded diagnostic command set run when a spec does not override it.
func DefaultSSHCommands() []string {
	return []string{
		"cat /proc/uptime",
		"cat /proc/loadavg",
		"free -b",
	}
}

// sshClient is a connected SSH client able to run one command per session.
type sshClient interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
	Close() error
}

type sshDialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (sshClient, error)

// SSHProbe executes a bounded set of read-only commands and parses their output into metrics.
type SSHProbe struct {
	logger          logger.Logger
	hostKeyCallback ssh.HostKeyCallback
	dial            sshDialFunc
}

// SSHOption customizes an SSHProbe.
type SSHOption func(*SSHProbe)

// WithHostKeyCallback sets host key verification. Without it host keys are not verified.
func WithHostKeyCallback(cb ssh.HostKeyCallback) SSHOption {
	return func(p *SSHProbe) {
		p.hostKeyCallback = cb
	}
}

// NewSSHProbe creates an SSH probe backed by golang.org/x/crypto/ssh.
func NewSSHProbe(log logger.Logger, opts ...SSHOption) *SSHProbe {
	p := &SSHProbe{
		logger: log,
		// field devices are addressed by scanned labels, not a managed known_hosts file
		hostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // overridable via WithHostKeyCallback
		dial:            dialSSH,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Protocol implements DiagnosticProbe.
func (*SSHProbe) Protocol() models.Protocol {
	return models.ProtocolSSH
}

// Poll implements DiagnosticProbe.
func (p *SSHProbe) Poll(ctx context.Context, address string, creds models.Credentials,
	spec models.ProbeSpec) models.ProbeResult {
	timeout := time.Duration(spec.Timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host, port, err := splitTarget(address, spec.Port)
	if err != nil {
		return failure(models.ProtocolSSH, err)
	}

	auth, err := sshAuthMethods(creds)
	if err != nil {
		return failure(models.ProtocolSSH, err)
	}

	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: p.hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	start := time.Now()

	client, err := p.dial(ctx, addr, cfg)
	if err != nil {
		return failure(models.ProtocolSSH, fmt.Errorf("ssh dial %s: %w", addr, err))
	}
	defer func() {
		_ = client.Close()
	}()

	metrics := map[string]any{
		"connect_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	}

	commands := spec.Commands
	if len(commands) == 0 {
		commands = DefaultSSHCommands()
	}

	if len(commands) > maxSSHCommands {
		p.logger.Warn().Int("configured", len(commands)).Int("limit", maxSSHCommands).
			Msg("Truncating SSH diagnostic command set")

		commands = commands[:maxSSHCommands]
	}

	for _, cmd := range commands {
		out, err := client.Run(ctx, cmd)
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				err = fmt.Errorf("%w: %q exited with status %d", ErrProtocol, cmd, exitErr.ExitStatus())
			}

			return failure(models.ProtocolSSH, fmt.Errorf("ssh exec %s: %w", addr, err))
		}

		if len(out) > maxSSHOutputBytes {
			out = out[:maxSSHOutputBytes]
		}

		if err := parseCommandOutput(cmd, string(out), metrics); err != nil {
			return failure(models.ProtocolSSH, err)
		}
	}

	return models.NewSuccess(models.ProtocolSSH, time.Now(), metrics)
}

func sshAuthMethods(creds models.Credentials) ([]ssh.AuthMethod, error) {
	if creds.Username == "" {
		return nil, fmt.Errorf("%w: ssh username", ErrMissingCredentials)
	}

	var methods []ssh.AuthMethod

	if creds.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key: %w", ErrMissingCredentials, err)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: ssh password or private key", ErrMissingCredentials)
	}

	return methods, nil
}

// dialSSH connects with a context-aware dialer and bounds the handshake by the context deadline.
func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (sshClient, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()

		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}

		return nil, err
	}

	return &cryptoSSHClient{client: ssh.NewClient(c, chans, reqs)}, nil
}

type cryptoSSHClient struct {
	client *ssh.Client
}

// Run executes cmd in a fresh session. Cancellation closes the session, which unblocks the
// pending read.
func (c *cryptoSSHClient) Run(ctx context.Context, cmd string) ([]byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer func() {
		_ = session.Close()
	}()

	type output struct {
		data []byte
		err  error
	}

	done := make(chan output, 1)

	go func() {
		data, err := session.CombinedOutput(cmd)
		done <- output{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	}
}

func (c *cryptoSSHClient) Close() error {
	return c.client.Close()
}
