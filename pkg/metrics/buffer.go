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

package metrics

import (
	"sync"

	"github.com/carverauto/arnet/pkg/models"
)

// Buffer is a fixed-size ring of poll points. Once full, the oldest point is overwritten.
type Buffer struct {
	mu     sync.RWMutex
	points []models.PollPoint
	next   int
	full   bool
}

var _ MetricStore = (*Buffer)(nil)

// NewBuffer creates a ring holding up to size points. size below 1 is treated as 1.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}

	return &Buffer{points: make([]models.PollPoint, size)}
}

// Add records a point.
func (b *Buffer) Add(point models.PollPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.points[b.next] = point
	b.next = (b.next + 1) % len(b.points)

	if b.next == 0 {
		b.full = true
	}
}

// GetPoints returns the recorded points, oldest first.
func (b *Buffer) GetPoints() []models.PollPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		return append([]models.PollPoint(nil), b.points[:b.next]...)
	}

	out := make([]models.PollPoint, 0, len(b.points))
	out = append(out, b.points[b.next:]...)

	return append(out, b.points[:b.next]...)
}

// GetLastPoint returns the newest point, or nil when empty.
func (b *Buffer) GetLastPoint() *models.PollPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full && b.next == 0 {
		return nil
	}

	idx := (b.next - 1 + len(b.points)) % len(b.points)
	p := b.points[idx]

	return &p
}
