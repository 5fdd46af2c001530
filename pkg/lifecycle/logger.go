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

package lifecycle

import (
	"context"
	"fmt"

	"github.com/carverauto/arnet/pkg/logger"
)

// InitializeLogger configures the process-wide logger. If config is nil, the default
// configuration (LOG_LEVEL, LOG_OUTPUT, OTEL_* environment) is used.
func InitializeLogger(ctx context.Context, config *logger.Config) error {
	if config == nil {
		config = logger.DefaultConfig()
	}

	if err := logger.Init(ctx, config); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// CreateLogger initializes the process-wide logger and returns an injectable handle to it.
func CreateLogger(ctx context.Context, config *logger.Config) (logger.Logger, error) {
	if err := InitializeLogger(ctx, config); err != nil {
		return nil, err
	}

	return logger.New(logger.GetLogger()), nil
}

// CreateComponentLogger creates a logger for a specific component.
func CreateComponentLogger(ctx context.Context, component string, config *logger.Config) (logger.Logger, error) {
	if err := InitializeLogger(ctx, config); err != nil {
		return nil, err
	}

	return logger.New(logger.WithComponent(component)), nil
}

// ShutdownLogger flushes pending OTLP log records.
func ShutdownLogger() error {
	return logger.Shutdown()
}
