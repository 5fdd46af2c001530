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

package identity

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/arnet/pkg/logger"
)

const (
	maxPayloadBytes     = 64 * 1024
	rejectedPrefixBytes = 256
	natsMessageBuffer   = 64

	// DefaultSubject is where scanners publish decoded QR payloads.
	DefaultSubject = "arnet.identity.>"
)

// Source produces identification events until ctx ends or its input is exhausted.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Event) error
}

// ReaderSource reads one JSON payload per line, the format emitted by the scanner front end.
type ReaderSource struct {
	name    string
	r       io.Reader
	decoder *Decoder
	logger  logger.Logger
}

// NewReaderSource reads payloads from r.
func NewReaderSource(name string, r io.Reader, enricher Enricher, log logger.Logger) *ReaderSource {
	return &ReaderSource{
		name:    name,
		r:       r,
		decoder: &Decoder{Source: name, Enricher: enricher},
		logger:  log,
	}
}

// Name implements Source.
func (s *ReaderSource) Name() string {
	return s.name
}

// Run implements Source. It returns nil at end of input. A line longer than the payload limit
// is discarded and reported as a rejected event; reading resumes at the next line.
func (s *ReaderSource) Run(ctx context.Context, out chan<- Event) error {
	lines := make(chan inputLine)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		readErr <- readLines(ctx, bufio.NewReaderSize(s.r, maxPayloadBytes), lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("%s: read identification stream: %w", s.name, err)
				}

				s.logger.Info().Str("source", s.name).Msg("Identification input exhausted")

				return nil
			}

			var ev Event

			switch {
			case line.truncated:
				ev = s.decoder.Reject(line.data, fmt.Errorf("%w: line exceeds %d bytes", errPayloadTooLarge, maxPayloadBytes))
			case len(bytes.TrimSpace(line.data)) == 0:
				continue
			default:
				ev = s.decoder.Decode(line.data)
			}

			if err := send(ctx, out, ev); err != nil {
				return err
			}
		}
	}
}

type inputLine struct {
	data      []byte
	truncated bool
}

// readLines splits r into lines. Oversized lines are cut to a short prefix and flagged.
func readLines(ctx context.Context, r *bufio.Reader, lines chan<- inputLine) error {
	for {
		data, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		line := inputLine{data: append([]byte(nil), data...)}

		if isPrefix {
			line = inputLine{data: line.data[:min(len(line.data), rejectedPrefixBytes)], truncated: true}

			for isPrefix && err == nil {
				_, isPrefix, err = r.ReadLine()
			}
		}

		select {
		case lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}
	}
}

// Subscriber is the part of a NATS connection NATSSource needs.
type Subscriber interface {
	ChanSubscribe(subj string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// NATSSource receives payloads published by remote scanners.
type NATSSource struct {
	conn    Subscriber
	subject string
	decoder *Decoder
	logger  logger.Logger
}

// NewNATSSource subscribes to subject on conn when run.
func NewNATSSource(conn Subscriber, subject string, enricher Enricher, log logger.Logger) *NATSSource {
	if subject == "" {
		subject = DefaultSubject
	}

	return &NATSSource{
		conn:    conn,
		subject: subject,
		decoder: &Decoder{Source: "nats", Enricher: enricher},
		logger:  log,
	}
}

// Name implements Source.
func (s *NATSSource) Name() string {
	return "nats:" + s.subject
}

// Run implements Source.
func (s *NATSSource) Run(ctx context.Context, out chan<- Event) error {
	msgs := make(chan *nats.Msg, natsMessageBuffer)

	sub, err := s.conn.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	defer func() {
		if sub == nil {
			return
		}

		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug().Err(err).Str("subject", s.subject).Msg("Failed to unsubscribe")
		}
	}()

	s.logger.Info().Str("subject", s.subject).Msg("Listening for identification events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			ev := s.decoder.Decode(msg.Data)
			ev.Source = "nats:" + msg.Subject

			if err := send(ctx, out, ev); err != nil {
				return err
			}
		}
	}
}

// Merge runs every source into out and returns when all of them have stopped. A failing
// source is logged and does not stop the others; Merge returns the joined source errors.
func Merge(ctx context.Context, out chan<- Event, log logger.Logger, sources ...Source) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, src := range sources {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := src.Run(ctx, out)
			if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
				return
			}

			log.Error().Err(err).Str("source", src.Name()).Msg("Identification source failed")

			mu.Lock()
			errs = append(errs, fmt.Errorf("identification source %s: %w", src.Name(), err))
			mu.Unlock()
		}()
	}

	wg.Wait()

	return errors.Join(errs...)
}

func send(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
