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
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/arnet/pkg/models"
)

const (
	streamBuffer    = 64
	streamPingEvery = 30 * time.Second
	streamReadWait  = 2 * streamPingEvery
	streamWriteWait = 5 * time.Second
)

// Stream message types.
const (
	MessageSnapshot = "snapshot"
	MessageHealth   = "health"
	MessagePing     = "ping"
)

// StreamMessage is one frame of the live status stream.
type StreamMessage struct {
	Type      string               `json:"type"`
	Device    *models.DeviceStatus `json:"device,omitempty"`
	Event     *models.HealthEvent  `json:"event,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// handleStatusStream sends every current snapshot, then one message per health transition.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, "status stream not enabled", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			return origin == "" || s.cfg.CORS.Allows(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	defer conn.Close()

	// subscribe first so no transition between snapshot and stream is lost
	events, unsubscribe := s.feed.Subscribe(streamBuffer)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readClient(conn, cancel)

	s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Status stream connected")

	if err := s.streamStatus(ctx, conn, events); err != nil {
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Status stream ended")
	}
}

func (s *Server) streamStatus(ctx context.Context, conn *websocket.Conn, events <-chan models.HealthEvent) error {
	for _, status := range s.orch.List() {
		if err := send(conn, StreamMessage{Type: MessageSnapshot, Device: status, Timestamp: time.Now()}); err != nil {
			return err
		}
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))

			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			msg := StreamMessage{Type: MessageHealth, Event: &ev, Timestamp: ev.Timestamp}

			if status, err := s.orch.Get(ev.DeviceID); err == nil {
				msg.Device = status
			}

			if err := send(conn, msg); err != nil {
				return err
			}
		case <-ping.C:
			if err := send(conn, StreamMessage{Type: MessagePing, Timestamp: time.Now()}); err != nil {
				return err
			}
		}
	}
}

// readClient drains client frames and cancels the stream once the peer goes away.
func (s *Server) readClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamReadWait)); err != nil {
			return
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				s.logger.Debug().Int("close_code", closeErr.Code).Msg("Status stream closed by client")
			}

			return
		}
	}
}

func send(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s message: %w", msg.Type, err)
	}

	return nil
}
