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

// Package logger provides JSON structured logging using zerolog, with optional OTLP export of
// logs, traces and metrics.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//nolint:gochecknoglobals // process-wide logger configured once by Init
var globalLogger zerolog.Logger

// Config is the logging section of the arnet configuration file.
type Config struct {
	Level      string     `json:"level"`
	Debug      bool       `json:"debug"`
	Output     string     `json:"output"`
	TimeFormat string     `json:"time_format"`
	OTel       OTelConfig `json:"otel"`
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init configures the process-wide logger. When OTel export is enabled, every line is written
// to the local output and to the OTLP exporter.
func Init(ctx context.Context, config *Config) error {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := parseLevel(config)
	if err != nil {
		return err
	}

	output, err := buildOutput(ctx, config)
	if err != nil {
		return err
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	globalLogger = zerolog.New(output).Level(level).With().Timestamp().Logger()
	log.Logger = globalLogger

	return nil
}

func buildOutput(ctx context.Context, config *Config) (io.Writer, error) {
	var local io.Writer = os.Stdout
	if config.Output == "stderr" {
		local = os.Stderr
	}

	if !config.OTel.exporting() {
		return local, nil
	}

	otelWriter, err := NewOTELWriter(ctx, config.OTel)
	if err != nil {
		return nil, err
	}

	return zerolog.MultiLevelWriter(local, otelWriter), nil
}

func parseLevel(config *Config) (zerolog.Level, error) {
	if config.Debug {
		return zerolog.DebugLevel, nil
	}

	if config.Level == "" {
		return zerolog.InfoLevel, nil
	}

	return zerolog.ParseLevel(config.Level)
}

// GetLogger returns the process-wide logger.
func GetLogger() zerolog.Logger {
	return globalLogger
}

// WithComponent returns the process-wide logger tagged with component. The OTLP exporter maps
// the component onto the instrumentation scope.
func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}

// Shutdown flushes and stops the OTLP log exporter, if one was started.
func Shutdown() error {
	return ShutdownOTEL()
}
