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

package orchestrator

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentPolls caps in-flight probe calls when no limit is configured.
const DefaultMaxConcurrentPolls = 16

// Pool is the global admission control for probe calls. Callers beyond the cap queue in
// arrival order until a slot frees up; nothing is ever dropped.
type Pool struct {
	sem  *semaphore.Weighted
	size int64

	inFlight atomic.Int64
	peak     atomic.Int64
	waiting  atomic.Int64
}

// NewPool creates a pool with size slots.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultMaxConcurrentPolls
	}

	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Acquire blocks until a slot is free or ctx ends.
func (p *Pool) Acquire(ctx context.Context) error {
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)

	if err != nil {
		return err
	}

	n := p.inFlight.Add(1)

	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			return nil
		}
	}
}

// Release returns a slot taken by Acquire.
func (p *Pool) Release() {
	p.inFlight.Add(-1)
	p.sem.Release(1)
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// InFlight returns the number of slots currently held.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Peak returns the highest in-flight count observed.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// Waiting returns the number of callers queued for a slot.
func (p *Pool) Waiting() int {
	return int(p.waiting.Load())
}
