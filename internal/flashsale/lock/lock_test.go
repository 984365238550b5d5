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

package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"flashsale/internal/flashsale/kv"
)

// memStore returns a Memory store whose EvalFn reproduces the unlock script's
// compare-and-delete against the same store.
func memStore() *kv.Memory {
	m := kv.NewMemory()
	m.EvalFn = func(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
		current, err := m.Get(ctx, keys[0])
		if err != nil || current != args[0].(string) {
			return int64(0), nil
		}
		if _, err := m.Del(ctx, keys[0]); err != nil {
			return nil, err
		}
		return int64(1), nil
	}
	return m
}

func TestMutex_TryLock_MutualExclusion(t *testing.T) {
	store := memStore()
	a := New(store, "order:1")
	b := New(store, "order:1")

	okA, err := a.TryLock(context.Background(), time.Minute)
	if err != nil || !okA {
		t.Fatalf("first TryLock: ok=%v err=%v", okA, err)
	}
	okB, err := b.TryLock(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}
	if okB {
		t.Fatalf("two mutexes acquired the same lock")
	}
}

func TestMutex_TryLock_ConcurrentSingleWinner(t *testing.T) {
	store := memStore()
	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := New(store, "order:9").TryLock(context.Background(), time.Minute)
			if err != nil {
				t.Errorf("TryLock: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestMutex_Unlock_ReleasesOwnLock(t *testing.T) {
	store := memStore()
	m := New(store, "shop:5")
	if ok, _ := m.TryLock(context.Background(), time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	if err := m.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	// The lock is free again.
	if ok, _ := New(store, "shop:5").TryLock(context.Background(), time.Minute); !ok {
		t.Fatal("lock was not released")
	}
}

// A mutex whose hold expired must not delete the key once another mutex has
// reacquired it. This is the compare-and-delete guarantee from the script.
func TestMutex_Unlock_DoesNotReleaseForeignLock(t *testing.T) {
	store := memStore()
	now := time.Now()
	store.Now = func() time.Time { return now }

	stale := New(store, "order:2")
	if ok, _ := stale.TryLock(context.Background(), time.Second); !ok {
		t.Fatal("acquire failed")
	}
	// TTL passes; another instance takes the lock.
	now = now.Add(2 * time.Second)
	fresh := New(store, "order:2")
	if ok, _ := fresh.TryLock(context.Background(), time.Minute); !ok {
		t.Fatal("reacquire after expiry failed")
	}

	if err := stale.Unlock(context.Background()); err != nil {
		t.Fatalf("stale Unlock: %v", err)
	}
	got, err := store.Get(context.Background(), fresh.Key())
	if err != nil {
		t.Fatalf("lock key vanished: %v", err)
	}
	if got != fresh.Token() {
		t.Fatalf("lock owner changed: got %q want %q", got, fresh.Token())
	}
}

func TestMutex_TryLock_RejectsNonPositiveTTL(t *testing.T) {
	m := New(memStore(), "shop:1")
	if _, err := m.TryLock(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
