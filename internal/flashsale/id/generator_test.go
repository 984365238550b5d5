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

package id

import (
	"context"
	"sync"
	"testing"
	"time"

	"flashsale/internal/flashsale/kv"
)

func TestGenerator_NextID_Composition(t *testing.T) {
	store := kv.NewMemory()
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	g := NewWithClock(store, func() time.Time { return at })

	got, err := g.NextID(context.Background(), "order")
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	wantDelta := at.Unix() - Epoch
	if got>>32 != wantDelta {
		t.Fatalf("timestamp bits = %d, want %d", got>>32, wantDelta)
	}
	if got&0xFFFFFFFF != 1 {
		t.Fatalf("counter bits = %d, want 1", got&0xFFFFFFFF)
	}
}

func TestGenerator_NextID_StrictlyIncreasing(t *testing.T) {
	store := kv.NewMemory()
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	g := NewWithClock(store, func() time.Time { return at })

	var prev int64
	for i := 0; i < 100; i++ {
		if i == 50 {
			at = at.Add(time.Second) // clock advances mid-sequence
		}
		id, err := g.NextID(context.Background(), "order")
		if err != nil {
			t.Fatalf("NextID: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestGenerator_NextID_DailyCounterKeyRollover(t *testing.T) {
	store := kv.NewMemory()
	at := time.Date(2026, 9, 1, 23, 59, 59, 0, time.UTC)
	g := NewWithClock(store, func() time.Time { return at })

	if _, err := g.NextID(context.Background(), "order"); err != nil {
		t.Fatalf("NextID: %v", err)
	}
	at = at.Add(2 * time.Second) // crosses midnight
	id, err := g.NextID(context.Background(), "order")
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	// A fresh day means a fresh counter key, so the sequence restarts at 1.
	if id&0xFFFFFFFF != 1 {
		t.Fatalf("counter after rollover = %d, want 1", id&0xFFFFFFFF)
	}
	if CounterKey("order", at) == CounterKey("order", at.Add(-2*time.Second)) {
		t.Fatal("counter keys should differ across days")
	}
}

func TestGenerator_NextID_ConcurrentDistinct(t *testing.T) {
	store := kv.NewMemory()
	g := New(store)

	const n = 64
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := g.NextID(context.Background(), "order")
			if err != nil {
				t.Errorf("NextID: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}
