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

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carverauto/arnet/pkg/identity"
	"github.com/carverauto/arnet/pkg/models"
	"github.com/carverauto/arnet/pkg/orchestrator"
	"github.com/carverauto/arnet/pkg/snapshot"
)

// IdentifyResponse reports how an injected identification was applied.
type IdentifyResponse struct {
	DeviceID string `json:"device_id"`
	Outcome  string `json:"outcome"`
}

// ClearResponse lists the devices retired by a clear or rescan.
type ClearResponse struct {
	Cleared []string `json:"cleared"`
}

// HealthzResponse is the liveness body.
type HealthzResponse struct {
	Status string             `json:"status"`
	Stats  orchestrator.Stats `json:"stats"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthzResponse{Status: "ok", Stats: s.orch.Stats()})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.orch.List()

	if want := r.URL.Query().Get("health"); want != "" {
		filtered := make([]*models.DeviceStatus, 0, len(devices))

		for _, d := range devices {
			if string(d.Health) == want {
				filtered = append(filtered, d)
			}
		}

		devices = filtered
	}

	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := s.orch.Get(id)
	if errors.Is(err, snapshot.ErrDeviceNotFound) {
		writeError(w, "device not found", http.StatusNotFound)
		return
	}

	if err != nil {
		s.logger.Error().Err(err).Str("device_id", id).Msg("Failed to read device snapshot")
		writeError(w, "internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) clearDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.orch.Clear(id) {
		writeError(w, "device not found", http.StatusNotFound)
		return
	}

	if s.history != nil {
		s.history.Remove(id)
	}

	s.logger.Info().Str("device_id", id).Msg("Device cleared via API")

	writeJSON(w, http.StatusOK, ClearResponse{Cleared: []string{id}})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, "poll history not enabled", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]

	points := s.history.History(id)
	if points == nil {
		writeError(w, "no history for device", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, points)
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	id, err := identity.DecodePayload(raw)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.enricher != nil {
		if id, err = s.enricher.Enrich(id); err != nil {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	outcome, err := s.orch.Upsert(id)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusAccepted, IdentifyResponse{DeviceID: id.DeviceID, Outcome: outcome.String()})
}

func (s *Server) rescan(w http.ResponseWriter, _ *http.Request) {
	cleared := s.orch.ClearAll()

	if s.history != nil {
		for _, id := range cleared {
			s.history.Remove(id)
		}
	}

	if cleared == nil {
		cleared = []string{}
	}

	writeJSON(w, http.StatusOK, ClearResponse{Cleared: cleared})
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	if s.config == nil {
		writeError(w, "configuration not exposed", http.StatusNotFound)
		return
	}

	body, err := models.RedactedJSON(s.config)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to redact configuration")
		writeError(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
