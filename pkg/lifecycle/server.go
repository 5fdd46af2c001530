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

// Package lifecycle runs arnet services with signal handling and graceful shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/arnet/pkg/logger"
)

// DefaultShutdownTimeout bounds how long Stop may take after a shutdown signal.
const DefaultShutdownTimeout = 10 * time.Second

var errNoService = errors.New("lifecycle requires a service")

// Service is a long-running component. Start blocks until ctx is cancelled or the service fails;
// Stop releases resources and must return within its context deadline.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServerOptions configures RunServer.
type ServerOptions struct {
	ServiceName     string
	Service         Service
	ShutdownTimeout time.Duration
	Logger          logger.Logger
	// Signals overrides the shutdown signals (SIGINT, SIGTERM).
	Signals []os.Signal
}

// RunServer starts the service and blocks until it returns or a shutdown signal arrives, then
// stops it within the shutdown timeout.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	if opts == nil || opts.Service == nil {
		return errNoService
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	ctx, stop := signal.NotifyContext(ctx, signals...)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		errCh <- opts.Service.Start(ctx)
	}()

	log.Info().Str("service", opts.ServiceName).Msg("Service started")

	var runErr error

	select {
	case <-ctx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Shutdown requested")
	case runErr = <-errCh:
		errCh = nil

		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			log.Error().Err(runErr).Str("service", opts.ServiceName).Msg("Service failed")
		}
	}

	stop()

	return shutdown(opts, log, runErr, errCh)
}

// shutdown stops the service and, when Start is still running, waits for it to return.
func shutdown(opts *ServerOptions, log logger.Logger, runErr error, started <-chan error) error {
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := opts.Service.Stop(ctx); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to stop %s: %w", opts.ServiceName, err))
	}

	if started != nil {
		select {
		case runErr = <-started:
		case <-ctx.Done():
			return fmt.Errorf("%s did not stop within %s: %w", opts.ServiceName, timeout, ctx.Err())
		}
	}

	log.Info().Str("service", opts.ServiceName).Msg("Service stopped")

	if errors.Is(runErr, context.Canceled) {
		return nil
	}

	return runErr
}
