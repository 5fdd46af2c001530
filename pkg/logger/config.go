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
	"os"
	"strings"
	"time"

	"github.com/carverauto/arnet/pkg/models"
)

const (
	defaultServiceName  = "arnet"
	defaultBatchTimeout = 5 * time.Second
)

// DefaultConfig reads logging settings from ARNET_LOG_LEVEL, ARNET_LOG_OUTPUT and ARNET_DEBUG,
// and OTLP export settings from the standard OTEL_* variables.
func DefaultConfig() *Config {
	return &Config{
		Level:  envString("ARNET_LOG_LEVEL", "info"),
		Debug:  envBool("ARNET_DEBUG"),
		Output: envString("ARNET_LOG_OUTPUT", "stdout"),
		OTel:   DefaultOTelConfig(),
	}
}

// DefaultOTelConfig builds the exporter settings shared by logs, traces and metrics.
// OTEL_RESOURCE_ATTRIBUTES is the place to tag a deployment, e.g. "arnet.site=lab-2".
func DefaultOTelConfig() OTelConfig {
	endpoint := envString("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := OTelConfig{
		Enabled:            endpoint != "",
		Endpoint:           strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://"),
		Headers:            parseKeyValues(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		ServiceName:        envString("OTEL_SERVICE_NAME", defaultServiceName),
		ResourceAttributes: parseKeyValues(os.Getenv("OTEL_RESOURCE_ATTRIBUTES")),
		BatchTimeout:       models.Duration(defaultBatchTimeout),
		Insecure:           envBool("OTEL_EXPORTER_OTLP_INSECURE") || strings.HasPrefix(endpoint, "http://"),
	}

	if d, err := time.ParseDuration(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); err == nil && d > 0 {
		cfg.BatchTimeout = models.Duration(d)
	}

	return cfg
}

// parseKeyValues reads the comma separated k=v lists used by the OTEL_* variables.
func parseKeyValues(s string) map[string]string {
	out := make(map[string]string)

	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}

		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return out
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
