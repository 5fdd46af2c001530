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

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/arnet/pkg/config"
	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

func testConfig(t *testing.T) *config.ServiceConfig {
	t.Helper()

	dir := t.TempDir()
	source := filepath.Join(dir, "scans.jsonl")
	require.NoError(t, os.WriteFile(source, []byte(`{"device_id":"SW1","ip":"127.0.0.1"}`+"\n"), 0o600))

	cfg := &config.ServiceConfig{
		Probes: map[string][]models.ProbeSpec{
			config.DefaultProbeKey: {{
				Protocol: models.ProtocolSSH,
				Port:     1,
				Interval: models.Duration(time.Minute),
				Timeout:  models.Duration(100 * time.Millisecond),
			}},
		},
		DeviceMap: config.DeviceMapConfig{Path: filepath.Join(dir, "missing.json")},
		Sources:   config.SourcesConfig{File: source},
		API:       models.APIConfig{Enabled: true, ListenAddr: "127.0.0.1:0"},
	}

	require.NoError(t, cfg.Validate())

	return cfg
}

func TestServiceLifecycle(t *testing.T) {
	cfg := testConfig(t)

	svc, err := build(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)
	require.NotNil(t, svc.api)
	require.Len(t, svc.sources, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- svc.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		_, err := svc.orch.Get("SW1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	require.NoError(t, svc.Stop(stopCtx))

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	assert.Zero(t, svc.orch.Stats().Sessions)
}

func TestBuildRejectsMissingSourceFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources.File = filepath.Join(t.TempDir(), "nope.jsonl")

	_, err := build(context.Background(), cfg, logger.NewTestLogger())
	require.Error(t, err)
}
