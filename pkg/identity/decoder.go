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
	"time"
)

// Decoder turns raw scanned payloads into events, applying optional enrichment.
type Decoder struct {
	Source   string
	Enricher Enricher
	Now      func() time.Time
}

// Decode never fails; decode errors travel on the returned event.
func (d *Decoder) Decode(raw []byte) Event {
	ev := d.event(raw)

	id, err := DecodePayload(raw)
	if err != nil {
		ev.Err = err

		return ev
	}

	if d.Enricher != nil {
		id, err = d.Enricher.Enrich(id)
		if err != nil {
			ev.Err = err

			return ev
		}
	}

	ev.Identity = id

	return ev
}

// Reject builds an event for input that could not be read as a payload at all.
func (d *Decoder) Reject(raw []byte, err error) Event {
	ev := d.event(raw)
	ev.Err = err

	return ev
}

func (d *Decoder) event(raw []byte) Event {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	return Event{
		Source:     d.Source,
		Raw:        append([]byte(nil), raw...),
		ReceivedAt: now(),
	}
}
