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

package snapshot

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

// LogTransitions writes each health transition to log until ctx ends or events closes.
// Degraded logs at warn and unreachable at error.
func LogTransitions(ctx context.Context, events <-chan models.HealthEvent, log logger.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			transitionEvent(log, ev).
				Str("device_id", ev.DeviceID).
				Str("previous", string(ev.PreviousHealth)).
				Str("health", string(ev.NewHealth)).
				Time("at", ev.Timestamp).
				Msg("Device health changed")
		}
	}
}

func transitionEvent(log logger.Logger, ev models.HealthEvent) *zerolog.Event {
	switch ev.NewHealth {
	case models.HealthUnreachable:
		return log.Error()
	case models.HealthDegraded:
		return log.Warn()
	case models.HealthHealthy, models.HealthUnknown:
		return log.Info()
	default:
		return log.Info()
	}
}
