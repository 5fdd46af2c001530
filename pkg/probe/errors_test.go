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
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carverauto/arnet/pkg/models"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	dialRefused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	dialUnreachable := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)}

	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"nil", nil, ""},
		{"context canceled", fmt.Errorf("poll: %w", context.Canceled), models.ErrorKindCancelled},
		{"deadline exceeded", fmt.Errorf("snmp get: %w", context.DeadlineExceeded), models.ErrorKindTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, models.ErrorKindTimeout},
		{"connection refused", dialRefused, models.ErrorKindConnectionRefused},
		{"host unreachable", dialUnreachable, models.ErrorKindUnreachable},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "sw1.lab", IsNotFound: true}, models.ErrorKindUnreachable},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "sw1.lab", IsTimeout: true}, models.ErrorKindTimeout},
		{"auth sentinel", fmt.Errorf("%w: bad password", ErrAuthenticationFailed), models.ErrorKindAuthenticationFailed},
		{"missing credentials", fmt.Errorf("%w: ssh username", ErrMissingCredentials), models.ErrorKindAuthenticationFailed},
		{"ssh auth text", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"),
			models.ErrorKindAuthenticationFailed},
		{"snmp v3 wrong digest", errors.New("incoming packet is not authentic: wrong digest"), models.ErrorKindAuthenticationFailed},
		{"gosnmp request timeout", errors.New("request timeout (after 0 retries)"), models.ErrorKindTimeout},
		{"protocol sentinel", fmt.Errorf("%w: garbage", ErrProtocol), models.ErrorKindProtocolError},
		{"unknown", errors.New("something odd"), models.ErrorKindProtocolError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestErrorKindPolicy(t *testing.T) {
	assert.True(t, models.ErrorKindTimeout.IsReachabilityFailure())
	assert.True(t, models.ErrorKindConnectionRefused.IsReachabilityFailure())
	assert.True(t, models.ErrorKindUnreachable.IsReachabilityFailure())
	assert.False(t, models.ErrorKindAuthenticationFailed.IsReachabilityFailure())
	assert.False(t, models.ErrorKindProtocolError.IsReachabilityFailure())

	assert.False(t, models.ErrorKindAuthenticationFailed.Retryable())
	assert.False(t, models.ErrorKindCancelled.Retryable())
	assert.True(t, models.ErrorKindTimeout.Retryable())
}
