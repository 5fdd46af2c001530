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
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/carverauto/arnet/pkg/models"
)

var (
	// ErrAuthenticationFailed marks credential rejections from any protocol.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrProtocol marks malformed or unexpected responses.
	ErrProtocol = errors.New("protocol error")
	// ErrMissingCredentials is returned when a probe has nothing to authenticate with.
	ErrMissingCredentials = errors.New("missing credentials")
	errInvalidAddress     = errors.New("invalid device address")
)

// authFailureMarkers are substrings the underlying libraries use when a device rejects
// credentials without a typed error.
var authFailureMarkers = []string{
	"unable to authenticate",
	"no supported methods remain",
	"wrong digest",
	"unknown username",
	"authentication failure",
	"authorizationerror",
}

// Classify maps a transport or protocol error onto the ErrorKind taxonomy. A nil error has no
// kind and returns "".
func Classify(err error) models.ErrorKind {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return models.ErrorKindCancelled
	case errors.Is(err, ErrAuthenticationFailed):
		return models.ErrorKindAuthenticationFailed
	case errors.Is(err, ErrMissingCredentials):
		return models.ErrorKindAuthenticationFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return models.ErrorKindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return models.ErrorKindConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTDOWN), errors.Is(err, errInvalidAddress):
		return models.ErrorKindUnreachable
	case errors.Is(err, ErrProtocol):
		return models.ErrorKindProtocolError
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return models.ErrorKindTimeout
		}

		return models.ErrorKindUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrorKindTimeout
	}

	return classifyMessage(err.Error())
}

// classifyMessage handles libraries that only report failures as text.
func classifyMessage(msg string) models.ErrorKind {
	lower := strings.ToLower(msg)

	for _, marker := range authFailureMarkers {
		if strings.Contains(lower, marker) {
			return models.ErrorKindAuthenticationFailed
		}
	}

	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return models.ErrorKindTimeout
	case strings.Contains(lower, "connection refused"):
		return models.ErrorKindConnectionRefused
	case strings.Contains(lower, "no route to host"), strings.Contains(lower, "network is unreachable"),
		strings.Contains(lower, "host is down"):
		return models.ErrorKindUnreachable
	default:
		return models.ErrorKindProtocolError
	}
}
