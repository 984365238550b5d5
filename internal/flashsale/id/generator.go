// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package id issues 64-bit globally ordered identifiers without coordination
// between generator instances: the high 32 bits are seconds since a fixed
// epoch origin, the low 32 bits a store-backed counter whose key embeds the
// calendar date, so the counter implicitly resets each day.
//
// For a fixed prefix the ids are strictly increasing over time (the high bits
// advance every second, the low bits only grow within a day), and unique as
// long as fewer than 2^32 ids are issued per prefix per day.
package id

import (
	"context"
	"fmt"
	"time"
)

// Epoch is the fixed origin the timestamp delta is measured from:
// 2024-01-01T00:00:00Z. Changing it after deployment breaks ordering.
const Epoch int64 = 1704067200

// counterBits is the width reserved for the daily sequence number.
const counterBits = 32

// Incrementer is the single store operation the generator needs.
type Incrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Generator composes ids from the shared store's atomic increment.
type Generator struct {
	store Incrementer
	now   func() time.Time
}

// New returns a generator using the wall clock.
func New(store Incrementer) *Generator {
	return NewWithClock(store, time.Now)
}

// NewWithClock injects the clock source, for tests and skew experiments.
func NewWithClock(store Incrementer, now func() time.Time) *Generator {
	return &Generator{store: store, now: now}
}

// CounterKey returns the daily counter key for a prefix and instant,
// e.g. "icr:order:2026-09-01".
func CounterKey(prefix string, at time.Time) string {
	return fmt.Sprintf("icr:%s:%s", prefix, at.UTC().Format("2006-01-02"))
}

// NextID issues the next id for the business prefix.
func (g *Generator) NextID(ctx context.Context, prefix string) (int64, error) {
	now := g.now().UTC()
	delta := now.Unix() - Epoch
	count, err := g.store.Incr(ctx, CounterKey(prefix, now))
	if err != nil {
		return 0, fmt.Errorf("id: next %q: %w", prefix, err)
	}
	return delta<<counterBits | count, nil
}
