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

package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ErrOTelLoggingDisabled is returned by NewOTELWriter when export is switched off.
var ErrOTelLoggingDisabled = errors.New("OTel logging is disabled")

const maxAttributeValueLength = 4096

// OTelWriter forwards zerolog JSON lines to an OTLP log exporter. Each arnet component becomes
// its own instrumentation scope.
type OTelWriter struct {
	ctx      context.Context
	provider *sdklog.LoggerProvider
	scope    string

	mu      sync.Mutex
	loggers map[string]otellog.Logger
}

//nolint:gochecknoglobals // the provider is shut down from ShutdownOTEL
var (
	otelProvider   *sdklog.LoggerProvider
	otelProviderMu sync.Mutex
)

// NewOTELWriter starts the log pipeline and installs it as the global LoggerProvider.
func NewOTELWriter(ctx context.Context, config OTelConfig) (*OTelWriter, error) {
	if !config.Enabled {
		return nil, ErrOTelLoggingDisabled
	}

	if config.Endpoint == "" {
		return nil, ErrOTelEndpointRequired
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(config.Endpoint)}

	creds, err := config.transportCredentials()
	if err != nil {
		return nil, err
	}

	switch {
	case config.Insecure:
		opts = append(opts, otlploggrpc.WithInsecure())
	case creds != nil:
		opts = append(opts, otlploggrpc.WithTLSCredentials(creds))
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(config.Headers))
	}

	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := newResource(ctx, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	timeout := time.Duration(config.BatchTimeout)
	if timeout <= 0 {
		timeout = defaultBatchTimeout
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter, sdklog.WithExportTimeout(timeout))),
	)

	otelProviderMu.Lock()
	otelProvider = provider
	otelProviderMu.Unlock()

	global.SetLoggerProvider(provider)

	return newOTelWriter(ctx, provider, config.ServiceName), nil
}

func newOTelWriter(ctx context.Context, provider *sdklog.LoggerProvider, scope string) *OTelWriter {
	if scope == "" {
		scope = defaultServiceName
	}

	return &OTelWriter{
		ctx:      ctx,
		provider: provider,
		scope:    scope,
		loggers:  make(map[string]otellog.Logger),
	}
}

// Write converts one zerolog line into a log record. Lines that are not JSON objects are
// dropped so that a collector problem never blocks local logging.
func (w *OTelWriter) Write(p []byte) (int, error) {
	if w.provider == nil {
		return len(p), nil
	}

	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err != nil {
		return len(p), nil
	}

	record, scope := w.toRecord(entry)
	w.scopedLogger(scope).Emit(w.ctx, record)

	return len(p), nil
}

func (w *OTelWriter) toRecord(entry map[string]any) (otellog.Record, string) {
	var record otellog.Record

	if ts, ok := entry[zerolog.TimestampFieldName].(string); ok {
		if parsed, err := time.Parse(zerolog.TimeFieldFormat, ts); err == nil {
			record.SetTimestamp(parsed)
			delete(entry, zerolog.TimestampFieldName)
		}
	}

	if lvl, ok := entry[zerolog.LevelFieldName].(string); ok {
		record.SetSeverity(severity(lvl))
		record.SetSeverityText(lvl)
		delete(entry, zerolog.LevelFieldName)
	}

	if msg, ok := entry[zerolog.MessageFieldName].(string); ok {
		record.SetBody(otellog.StringValue(msg))
		delete(entry, zerolog.MessageFieldName)
	}

	scope := w.scope
	if component, ok := entry["component"].(string); ok && component != "" {
		scope = component

		delete(entry, "component")
	}

	for key, value := range entry {
		record.AddAttributes(otellog.KeyValue{Key: key, Value: attributeValue(value)})
	}

	return record, scope
}

func (w *OTelWriter) scopedLogger(scope string) otellog.Logger {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.loggers[scope]
	if !ok {
		l = w.provider.Logger(scope)
		w.loggers[scope] = l
	}

	return l
}

// attributeValue keeps JSON scalars typed; device IDs, counts and durations stay queryable.
func attributeValue(value any) otellog.Value {
	switch v := value.(type) {
	case nil:
		return otellog.Value{}
	case string:
		return otellog.StringValue(truncate(v, maxAttributeValueLength))
	case bool:
		return otellog.BoolValue(v)
	case float64:
		if v == float64(int64(v)) {
			return otellog.Int64Value(int64(v))
		}

		return otellog.Float64Value(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return otellog.StringValue(truncate(fmt.Sprint(v), maxAttributeValueLength))
		}

		return otellog.StringValue(truncate(string(raw), maxAttributeValueLength))
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := s[:limit-3]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}

	return cut + "..."
}

func severity(level string) otellog.Severity {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return otellog.SeverityInfo
	}

	switch lvl {
	case zerolog.TraceLevel:
		return otellog.SeverityTrace
	case zerolog.DebugLevel:
		return otellog.SeverityDebug
	case zerolog.WarnLevel:
		return otellog.SeverityWarn
	case zerolog.ErrorLevel:
		return otellog.SeverityError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return otellog.SeverityFatal
	case zerolog.InfoLevel, zerolog.NoLevel, zerolog.Disabled:
		return otellog.SeverityInfo
	}

	return otellog.SeverityInfo
}

// ShutdownOTEL flushes and stops the log pipeline started by NewOTELWriter.
func ShutdownOTEL() error {
	otelProviderMu.Lock()
	provider := otelProvider
	otelProvider = nil
	otelProviderMu.Unlock()

	if provider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return provider.Shutdown(ctx)
}
