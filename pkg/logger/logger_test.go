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
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	err := Init(context.Background(), &Config{Level: "warn", Debug: true, Output: "stderr"})
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	require.NoError(t, Init(context.Background(), &Config{Level: "warn"}))
	assert.Equal(t, zerolog.WarnLevel, GetLogger().GetLevel())
	assert.Equal(t, zerolog.WarnLevel, WithComponent("registry").GetLevel())
	require.NoError(t, Shutdown())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(context.Background(), &Config{Level: "chatty"})
	require.Error(t, err)
}

func TestWriterLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer

	l := NewWriterLogger(&buf, zerolog.InfoLevel)
	componentLogger := l.WithComponent("registry")
	componentLogger.Info().Str("device_id", "SW1").Msg("session created")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "registry", entry["component"])
	assert.Equal(t, "SW1", entry["device_id"])
	assert.Equal(t, "session created", entry["message"])
}

func TestWriterLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	l := NewWriterLogger(&buf, zerolog.WarnLevel)
	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	l.SetDebug(true)
	l.Debug().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewTestLoggerDiscards(t *testing.T) {
	l := NewTestLogger()

	assert.NotPanics(t, func() {
		l.Info().Str("k", "v").Msg("nothing")
		fields := l.WithFields(map[string]interface{}{"a": 1})
		fields.Warn().Msg("nothing")
	})
}
