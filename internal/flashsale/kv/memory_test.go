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

package kv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func frozenMemory() (*Memory, *time.Time) {
	m := NewMemory()
	clock := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return clock }
	return m, &clock
}

func TestMemory_GetMissingIsErrNil(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, ErrNil) {
		t.Fatalf("want ErrNil, got %v", err)
	}
}

func TestMemory_TTLExpiresLazily(t *testing.T) {
	m, clock := frozenMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, err := m.Get(ctx, "k"); err != nil || v != "v" {
		t.Fatalf("before expiry: %q, %v", v, err)
	}

	*clock = clock.Add(61 * time.Second)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNil) {
		t.Fatalf("after expiry: want ErrNil, got %v", err)
	}
}

func TestMemory_SetNXRespectsLiveKeyOnly(t *testing.T) {
	m, clock := frozenMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", "first", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX: %v, %v", ok, err)
	}
	ok, err = m.SetNX(ctx, "k", "second", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX should lose: %v, %v", ok, err)
	}

	// Once the key expires, SetNX wins again.
	*clock = clock.Add(2 * time.Minute)
	ok, err = m.SetNX(ctx, "k", "third", time.Minute)
	if err != nil || !ok {
		t.Fatalf("post-expiry SetNX: %v, %v", ok, err)
	}
}

func TestMemory_IncrCountsAndKeepsTTL(t *testing.T) {
	m, clock := frozenMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "cnt", "41", time.Minute); err != nil {
		t.Fatal(err)
	}
	n, err := m.Incr(ctx, "cnt")
	if err != nil || n != 42 {
		t.Fatalf("Incr = %d, %v", n, err)
	}

	*clock = clock.Add(2 * time.Minute)
	if _, err := m.Get(ctx, "cnt"); !errors.Is(err, ErrNil) {
		t.Fatalf("TTL should survive Incr, got %v", err)
	}

	// Incr on a missing key starts at 1.
	n, err = m.Incr(ctx, "fresh")
	if err != nil || n != 1 {
		t.Fatalf("fresh Incr = %d, %v", n, err)
	}
}

func TestMemory_ZRevRangeOrdersByScoreDescending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for member, score := range map[string]float64{"a": 1, "b": 3, "c": 2} {
		if err := m.ZAdd(ctx, "z", member, score); err != nil {
			t.Fatal(err)
		}
	}
	got, err := m.ZRevRange(ctx, "z", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("ZRevRange = %v", got)
	}
}

func TestMemory_SInter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, member := range []string{"1", "2", "3"} {
		if err := m.SAdd(ctx, "a", member); err != nil {
			t.Fatal(err)
		}
	}
	for _, member := range []string{"2", "3", "4"} {
		if err := m.SAdd(ctx, "b", member); err != nil {
			t.Fatal(err)
		}
	}
	got, err := m.SInter(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Fatalf("SInter = %v", got)
	}
}

func TestMemory_BitFieldReadsMostSignificantFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// Days 1, 2 and 4 of a month.
	for _, offset := range []int64{0, 1, 3} {
		if err := m.SetBit(ctx, "sign", offset, 1); err != nil {
			t.Fatal(err)
		}
	}
	// u4 at offset 0 reads bits 1101 = 13.
	got, err := m.BitFieldGetUnsigned(ctx, "sign", 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 13 {
		t.Fatalf("bitfield = %d, want 13", got)
	}
}

func TestMemory_StreamGroupDeliveryAndAck(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.XGroupCreate(ctx, "s", "g"); err != nil {
		t.Fatal(err)
	}
	id1, err := m.XAdd(ctx, "s", map[string]interface{}{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.XAdd(ctx, "s", map[string]interface{}{"n": 2}); err != nil {
		t.Fatal(err)
	}

	// ">" delivers new entries and marks them pending.
	msgs, err := m.XReadGroup(ctx, "g", "c", "s", ">", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("delivered %d entries, want 2", len(msgs))
	}
	if got := m.PendingCount("s", "g"); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}

	// "0" redelivers pending entries without advancing the cursor.
	msgs, err = m.XReadGroup(ctx, "g", "c", "s", "0", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != id1 {
		t.Fatalf("redelivery = %v", msgs)
	}

	if err := m.XAck(ctx, "s", "g", id1); err != nil {
		t.Fatal(err)
	}
	if got := m.PendingCount("s", "g"); got != 1 {
		t.Fatalf("pending after ack = %d, want 1", got)
	}

	// Nothing new remains for ">".
	msgs, err = m.XReadGroup(ctx, "g", "c", "s", ">", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("unexpected new entries: %v", msgs)
	}
}

func TestMemory_EvalRequiresHook(t *testing.T) {
	m := NewMemory()
	if _, err := m.Eval(context.Background(), "return 0", nil); err == nil {
		t.Fatal("want error when no EvalFn installed")
	}
}
