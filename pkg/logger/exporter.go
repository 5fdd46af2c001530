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
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.31.0"
	"google.golang.org/grpc/credentials"

	"github.com/carverauto/arnet/pkg/models"
)

var (
	// ErrOTelEndpointRequired is returned when export is enabled without an endpoint.
	ErrOTelEndpointRequired = errors.New("OTel endpoint is required when enabled")
	errFailedToParseCACert  = errors.New("failed to parse CA certificate")
)

// OTelConfig is the OTLP/gRPC exporter configuration. arnet sends logs, traces and metrics to the
// same collector, so one section drives all three pipelines.
type OTelConfig struct {
	Enabled        bool              `json:"enabled"`
	Endpoint       string            `json:"endpoint"`
	Headers        map[string]string `json:"headers,omitempty"`
	ServiceName    string            `json:"service_name"`
	ServiceVersion string            `json:"service_version,omitempty"`
	// ResourceAttributes are attached to every exported record, e.g. {"arnet.site": "lab-2"}.
	ResourceAttributes map[string]string `json:"resource_attributes,omitempty"`
	BatchTimeout       models.Duration   `json:"batch_timeout"`
	Insecure           bool              `json:"insecure"`
	TLS                *TLSConfig        `json:"tls,omitempty"`
}

// TLSConfig holds client certificate material for the collector connection.
type TLSConfig struct {
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file,omitempty"`
}

// exporting reports whether records should leave the process at all.
func (c *OTelConfig) exporting() bool {
	return c != nil && c.Enabled && c.Endpoint != ""
}

// transportCredentials returns nil when the connection is plaintext or uses system roots.
func (c *OTelConfig) transportCredentials() (credentials.TransportCredentials, error) {
	if c.Insecure || c.TLS == nil {
		return nil, nil
	}

	tlsConfig, err := loadTLSConfig(c.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to setup TLS configuration: %w", err)
	}

	return credentials.NewTLS(tlsConfig), nil
}

// newResource describes this arnet instance. The host name becomes service.instance.id so that
// several field units reporting to one collector stay apart.
func newResource(ctx context.Context, c *OTelConfig) (*resource.Resource, error) {
	var cfg OTelConfig
	if c != nil {
		cfg = *c
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(name)}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.ServiceInstanceID(host))
	}

	keys := make([]string, 0, len(cfg.ResourceAttributes))
	for k := range cfg.ResourceAttributes {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.ResourceAttributes[k]))
	}

	return resource.New(ctx,
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

func loadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		config.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errFailedToParseCACert
		}

		config.RootCAs = pool
	}

	return config, nil
}
